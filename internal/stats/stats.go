// Package stats serves queue statistics through a short-lived cache so the
// control surface never hammers Redis under dashboard polling.
package stats

import (
	"context"
	"fmt"
	"sort"
	"time"

	gocache "github.com/patrickmn/go-cache"
	"golang.org/x/sync/singleflight"

	"github.com/Neno73/promidata-sync/internal/queue"
	apperrors "github.com/Neno73/promidata-sync/pkg/errors"
)

const (
	cacheTTL     = 3 * time.Second
	cacheCleanup = time.Minute
)

// Collector caches per-queue stats with request coalescing: concurrent cache
// misses for the same key share one Redis round trip.
type Collector struct {
	queues map[string]*queue.Queue
	cache  *gocache.Cache
	group  singleflight.Group
}

// NewCollector creates a collector over the named queues.
func NewCollector(queues map[string]*queue.Queue) *Collector {
	return &Collector{
		queues: queues,
		cache:  gocache.New(cacheTTL, cacheCleanup),
	}
}

// QueueStats returns the counters for one queue, cached for up to 3s.
func (c *Collector) QueueStats(ctx context.Context, name string) (*queue.Stats, error) {
	q, ok := c.queues[name]
	if !ok {
		return nil, &apperrors.ValidationError{Field: "queue", Reason: "unknown queue " + name}
	}

	if cached, found := c.cache.Get(name); found {
		return cached.(*queue.Stats), nil
	}

	v, err, _ := c.group.Do(name, func() (any, error) {
		stats, err := q.Stats(ctx)
		if err != nil {
			return nil, err
		}
		c.cache.Set(name, stats, cacheTTL)
		return stats, nil
	})
	if err != nil {
		return nil, fmt.Errorf("collect stats for %s: %w", name, err)
	}
	return v.(*queue.Stats), nil
}

// AllStats returns the counters for every queue.
func (c *Collector) AllStats(ctx context.Context) ([]queue.Stats, error) {
	names := make([]string, 0, len(c.queues))
	for name := range c.queues {
		names = append(names, name)
	}
	sort.Strings(names)

	all := make([]queue.Stats, 0, len(names))
	for _, name := range names {
		s, err := c.QueueStats(ctx, name)
		if err != nil {
			return nil, err
		}
		all = append(all, *s)
	}
	return all, nil
}

// Invalidate drops the cached entry for one queue, forcing the next read to
// hit Redis. Used after admin mutations so the dashboard reflects them.
func (c *Collector) Invalidate(name string) {
	c.cache.Delete(name)
}

// Known reports whether name is a managed queue.
func (c *Collector) Known(name string) bool {
	_, ok := c.queues[name]
	return ok
}
