// Package lock implements per-supplier mutual exclusion and cooperative stop
// sentinels on Redis.
package lock

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"

	apperrors "github.com/Neno73/promidata-sync/pkg/errors"
)

const (
	lockKeyPrefix    = "sync:promidata:lock:"
	stopKeyPrefix    = "sync:promidata:stop:"
	pendingKeyPrefix = "sync:promidata:pending:"

	// scanBatch is the COUNT hint per SCAN iteration. Managed Redis
	// variants disable KEYS, so enumeration must stay cursor-based.
	scanBatch = 100
)

// releaseScript deletes the lock only when the caller still holds it,
// avoiding the lost-update race between GET and DEL.
var releaseScript = redis.NewScript(`
if redis.call("GET", KEYS[1]) == ARGV[1] then
	return redis.call("DEL", KEYS[1])
end
return 0
`)

// Store manages supplier sync locks and stop sentinels.
type Store struct {
	client  redis.UniversalClient
	lockTTL time.Duration
	stopTTL time.Duration
}

// NewStore creates a lock store with the given TTLs.
func NewStore(client redis.UniversalClient, lockTTL, stopTTL time.Duration) *Store {
	return &Store{client: client, lockTTL: lockTTL, stopTTL: stopTTL}
}

// Acquire takes the supplier's sync lock. It returns the generated holder id
// on success and ErrLockHeld when another sync is already running.
func (s *Store) Acquire(ctx context.Context, supplierID string) (string, error) {
	holderID := uuid.NewString()
	ok, err := s.client.SetNX(ctx, lockKeyPrefix+supplierID, holderID, s.lockTTL).Result()
	if err != nil {
		return "", fmt.Errorf("acquire sync lock for %s: %w", supplierID, err)
	}
	if !ok {
		return "", apperrors.ErrLockHeld
	}
	return holderID, nil
}

// Release frees the lock if holderID still owns it. Returns false when the
// lock expired or was taken over in the meantime.
func (s *Store) Release(ctx context.Context, supplierID, holderID string) (bool, error) {
	n, err := releaseScript.Run(ctx, s.client, []string{lockKeyPrefix + supplierID}, holderID).Int()
	if err != nil && !errors.Is(err, redis.Nil) {
		return false, fmt.Errorf("release sync lock for %s: %w", supplierID, err)
	}
	return n == 1, nil
}

// ActiveLocks enumerates supplier ids with a held sync lock using cursor
// iteration.
func (s *Store) ActiveLocks(ctx context.Context) ([]string, error) {
	var (
		suppliers []string
		cursor    uint64
	)
	for {
		keys, next, err := s.client.Scan(ctx, cursor, lockKeyPrefix+"*", scanBatch).Result()
		if err != nil {
			return nil, fmt.Errorf("scan sync locks: %w", err)
		}
		for _, key := range keys {
			suppliers = append(suppliers, strings.TrimPrefix(key, lockKeyPrefix))
		}
		cursor = next
		if cursor == 0 {
			break
		}
	}
	return suppliers, nil
}

// MarkPending reserves a supplier between enqueue and lock acquisition, so a
// second start request cannot slip a duplicate job in before a worker picks
// the first one up. Returns false when a sync for the supplier is already
// pending. The marker shares the lock TTL, bounding the damage of a marker
// orphaned by a crash.
func (s *Store) MarkPending(ctx context.Context, supplierID string) (bool, error) {
	ok, err := s.client.SetNX(ctx, pendingKeyPrefix+supplierID, "1", s.lockTTL).Result()
	if err != nil {
		return false, fmt.Errorf("mark pending sync for %s: %w", supplierID, err)
	}
	return ok, nil
}

// ClearPending removes the pending marker, once the worker holds the lock or
// the enqueue failed.
func (s *Store) ClearPending(ctx context.Context, supplierID string) error {
	if err := s.client.Del(ctx, pendingKeyPrefix+supplierID).Err(); err != nil {
		return fmt.Errorf("clear pending sync for %s: %w", supplierID, err)
	}
	return nil
}

// RequestStop sets the stop sentinel for a supplier. It succeeds regardless
// of whether a sync is running.
func (s *Store) RequestStop(ctx context.Context, supplierID string) error {
	if err := s.client.Set(ctx, stopKeyPrefix+supplierID, "1", s.stopTTL).Err(); err != nil {
		return fmt.Errorf("set stop sentinel for %s: %w", supplierID, err)
	}
	return nil
}

// StopRequested reports whether the stop sentinel is set. Workers call this
// at safe points only.
func (s *Store) StopRequested(ctx context.Context, supplierID string) (bool, error) {
	n, err := s.client.Exists(ctx, stopKeyPrefix+supplierID).Result()
	if err != nil {
		return false, fmt.Errorf("check stop sentinel for %s: %w", supplierID, err)
	}
	return n > 0, nil
}

// ClearStop removes the stop sentinel, typically after a cancelled sync has
// wound down.
func (s *Store) ClearStop(ctx context.Context, supplierID string) error {
	if err := s.client.Del(ctx, stopKeyPrefix+supplierID).Err(); err != nil {
		return fmt.Errorf("clear stop sentinel for %s: %w", supplierID, err)
	}
	return nil
}
