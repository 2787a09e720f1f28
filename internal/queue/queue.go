// Package queue implements the durable Redis-backed job pipeline: three
// named queues with waiting/active/completed/failed/delayed states, retries
// with exponential backoff, progress reporting, and the admin operations the
// control surface exposes.
package queue

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strconv"
	"strings"
	"time"

	"github.com/redis/go-redis/v9"

	apperrors "github.com/Neno73/promidata-sync/pkg/errors"
)

const (
	keyPrefix = "promiq:"

	// DefaultMaxAttempts is the per-job retry budget.
	DefaultMaxAttempts = 3

	// retryBaseDelay is the first retry delay; subsequent retries double it.
	retryBaseDelay = 2 * time.Second
)

// searchablePayloadFields is the allow-list of payload fields the job list
// search matches against.
var searchablePayloadFields = []string{"supplier_id", "family_key", "source_url", "sku"}

// Stats are the per-queue counters reported by the control surface.
type Stats struct {
	Queue     string `json:"queue"`
	Waiting   int64  `json:"waiting"`
	Active    int64  `json:"active"`
	Completed int64  `json:"completed"`
	Failed    int64  `json:"failed"`
	Delayed   int64  `json:"delayed"`
	Paused    bool   `json:"paused"`
}

// Queue is one named durable queue.
type Queue struct {
	client redis.UniversalClient
	name   string
}

// New creates a handle on the named queue.
func New(client redis.UniversalClient, name string) *Queue {
	return &Queue{client: client, name: name}
}

// Name returns the queue name.
func (q *Queue) Name() string { return q.name }

func (q *Queue) key(suffix string) string          { return keyPrefix + q.name + ":" + suffix }
func (q *Queue) jobKey(id string) string           { return keyPrefix + q.name + ":job:" + id }
func (q *Queue) waitKey() string                   { return q.key("wait") }
func (q *Queue) activeKey() string                 { return q.key("active") }
func (q *Queue) pausedKey() string                 { return q.key("paused") }
func (q *Queue) stateKey(state string) string      { return q.key(state) }

// Enqueue creates a job and places it on the waiting list. keyField is the
// salient payload field folded into the job id (a supplier id, family key, or
// image filename).
func (q *Queue) Enqueue(ctx context.Context, name string, payload any, keyField string) (*Job, error) {
	data, err := json.Marshal(payload)
	if err != nil {
		return nil, fmt.Errorf("marshal payload for %s job: %w", name, err)
	}

	now := time.Now().UTC()
	job := &Job{
		ID:          newJobID(now, keyField),
		Queue:       q.name,
		Name:        name,
		Payload:     data,
		State:       StateWaiting,
		MaxAttempts: DefaultMaxAttempts,
		CreatedAt:   now,
	}

	if err := q.save(ctx, job); err != nil {
		return nil, err
	}
	if err := q.client.LPush(ctx, q.waitKey(), job.ID).Err(); err != nil {
		return nil, storeErr("enqueue job", err)
	}
	return job, nil
}

// Dequeue blocks up to wait for the next job, moving it atomically from the
// waiting to the active list. It returns nil without error on timeout.
func (q *Queue) Dequeue(ctx context.Context, wait time.Duration) (*Job, error) {
	id, err := q.client.BLMove(ctx, q.waitKey(), q.activeKey(), "RIGHT", "LEFT", wait).Result()
	if err != nil {
		if errors.Is(err, redis.Nil) {
			return nil, nil
		}
		return nil, storeErr("dequeue job", err)
	}

	job, err := q.Get(ctx, id)
	if err != nil {
		if errors.Is(err, apperrors.ErrNotFound) {
			// Deleted while waiting; drop the dangling list entry.
			_ = q.client.LRem(ctx, q.activeKey(), 1, id).Err()
			return nil, nil
		}
		return nil, err
	}

	now := time.Now().UTC()
	job.State = StateActive
	job.Attempts++
	job.StartedAt = &now
	job.Error = ""
	job.Stacktrace = ""
	if err := q.save(ctx, job); err != nil {
		return nil, err
	}
	return job, nil
}

// Complete marks a job finished and records its result.
func (q *Queue) Complete(ctx context.Context, job *Job, result any) error {
	data, err := json.Marshal(result)
	if err != nil {
		return fmt.Errorf("marshal result of job %s: %w", job.ID, err)
	}

	now := time.Now().UTC()
	job.State = StateCompleted
	job.Result = data
	job.FinishedAt = &now
	job.Progress = Progress{Step: "done", Percent: 100}

	if err := q.save(ctx, job); err != nil {
		return err
	}
	pipe := q.client.TxPipeline()
	pipe.LRem(ctx, q.activeKey(), 1, job.ID)
	pipe.ZAdd(ctx, q.stateKey(StateCompleted), redis.Z{Score: float64(now.UnixMilli()), Member: job.ID})
	if _, err := pipe.Exec(ctx); err != nil {
		return storeErr("complete job", err)
	}
	return nil
}

// Fail records a failed attempt. Retryable failures within the attempt budget
// are rescheduled with exponential backoff; the rest land on the failed set.
func (q *Queue) Fail(ctx context.Context, job *Job, jobErr error, stacktrace string, retryable bool) error {
	now := time.Now().UTC()
	job.Error = jobErr.Error()
	job.Stacktrace = stacktrace

	pipe := q.client.TxPipeline()
	pipe.LRem(ctx, q.activeKey(), 1, job.ID)

	if retryable && job.Attempts < job.MaxAttempts {
		delay := retryBaseDelay << (job.Attempts - 1)
		readyAt := now.Add(delay)
		job.State = StateDelayed
		job.DelayUntil = &readyAt
		pipe.ZAdd(ctx, q.stateKey(StateDelayed), redis.Z{Score: float64(readyAt.UnixMilli()), Member: job.ID})
	} else {
		job.State = StateFailed
		job.FinishedAt = &now
		pipe.ZAdd(ctx, q.stateKey(StateFailed), redis.Z{Score: float64(now.UnixMilli()), Member: job.ID})
	}

	if err := q.save(ctx, job); err != nil {
		return err
	}
	if _, err := pipe.Exec(ctx); err != nil {
		return storeErr("fail job", err)
	}
	return nil
}

// PromoteDelayed moves due delayed jobs back to the waiting list. Returns the
// number promoted.
func (q *Queue) PromoteDelayed(ctx context.Context) (int, error) {
	now := time.Now().UTC()
	ids, err := q.client.ZRangeByScore(ctx, q.stateKey(StateDelayed), &redis.ZRangeBy{
		Min: "-inf",
		Max: strconv.FormatInt(now.UnixMilli(), 10),
	}).Result()
	if err != nil {
		return 0, storeErr("list due delayed jobs", err)
	}

	promoted := 0
	for _, id := range ids {
		job, err := q.Get(ctx, id)
		if err != nil {
			if errors.Is(err, apperrors.ErrNotFound) {
				_ = q.client.ZRem(ctx, q.stateKey(StateDelayed), id).Err()
				continue
			}
			return promoted, err
		}
		job.State = StateWaiting
		job.DelayUntil = nil
		if err := q.save(ctx, job); err != nil {
			return promoted, err
		}
		pipe := q.client.TxPipeline()
		pipe.ZRem(ctx, q.stateKey(StateDelayed), id)
		pipe.LPush(ctx, q.waitKey(), id)
		if _, err := pipe.Exec(ctx); err != nil {
			return promoted, storeErr("promote delayed job", err)
		}
		promoted++
	}
	return promoted, nil
}

// UpdateProgress persists a running job's progress.
func (q *Queue) UpdateProgress(ctx context.Context, job *Job, step string, percent int) error {
	job.Progress = Progress{Step: step, Percent: percent}
	return q.save(ctx, job)
}

// Get loads one job by id.
func (q *Queue) Get(ctx context.Context, id string) (*Job, error) {
	data, err := q.client.Get(ctx, q.jobKey(id)).Bytes()
	if err != nil {
		if errors.Is(err, redis.Nil) {
			return nil, apperrors.ErrNotFound
		}
		return nil, storeErr("load job", err)
	}
	var job Job
	if err := json.Unmarshal(data, &job); err != nil {
		return nil, fmt.Errorf("decode job %s: %w", id, err)
	}
	return &job, nil
}

// Stats returns the queue counters.
func (q *Queue) Stats(ctx context.Context) (*Stats, error) {
	pipe := q.client.Pipeline()
	waiting := pipe.LLen(ctx, q.waitKey())
	active := pipe.LLen(ctx, q.activeKey())
	completed := pipe.ZCard(ctx, q.stateKey(StateCompleted))
	failed := pipe.ZCard(ctx, q.stateKey(StateFailed))
	delayed := pipe.ZCard(ctx, q.stateKey(StateDelayed))
	paused := pipe.Exists(ctx, q.pausedKey())
	if _, err := pipe.Exec(ctx); err != nil && !errors.Is(err, redis.Nil) {
		return nil, storeErr("read queue stats", err)
	}

	return &Stats{
		Queue:     q.name,
		Waiting:   waiting.Val(),
		Active:    active.Val(),
		Completed: completed.Val(),
		Failed:    failed.Val(),
		Delayed:   delayed.Val(),
		Paused:    paused.Val() > 0,
	}, nil
}

// List returns jobs in the given state, newest first, filtered by search and
// paginated. page starts at 1.
func (q *Queue) List(ctx context.Context, state string, page, pageSize int, search string) ([]Job, int, error) {
	if !IsValidState(state) {
		return nil, 0, &apperrors.ValidationError{Field: "state", Reason: "unknown job state " + state}
	}
	if page < 1 {
		return nil, 0, &apperrors.ValidationError{Field: "page", Reason: "must be at least 1"}
	}
	if pageSize < 1 || pageSize > 100 {
		return nil, 0, &apperrors.ValidationError{Field: "page_size", Reason: "must be between 1 and 100"}
	}

	ids, err := q.stateIDs(ctx, state)
	if err != nil {
		return nil, 0, err
	}

	var matched []Job
	for _, id := range ids {
		job, err := q.Get(ctx, id)
		if err != nil {
			if errors.Is(err, apperrors.ErrNotFound) {
				continue
			}
			return nil, 0, err
		}
		if search != "" && !jobMatches(job, search) {
			continue
		}
		matched = append(matched, *job)
	}

	total := len(matched)
	start := (page - 1) * pageSize
	if start >= total {
		return []Job{}, total, nil
	}
	end := start + pageSize
	if end > total {
		end = total
	}
	return matched[start:end], total, nil
}

func (q *Queue) stateIDs(ctx context.Context, state string) ([]string, error) {
	var (
		ids []string
		err error
	)
	switch state {
	case StateWaiting:
		ids, err = q.client.LRange(ctx, q.waitKey(), 0, -1).Result()
	case StateActive:
		ids, err = q.client.LRange(ctx, q.activeKey(), 0, -1).Result()
	case StateDelayed:
		ids, err = q.client.ZRange(ctx, q.stateKey(state), 0, -1).Result()
	default:
		// Completed and failed: newest first by finish time.
		ids, err = q.client.ZRevRange(ctx, q.stateKey(state), 0, -1).Result()
	}
	if err != nil {
		return nil, storeErr("list "+state+" jobs", err)
	}
	return ids, nil
}

// jobMatches applies the search term against the job id, name, and the
// payload field allow-list.
func jobMatches(job *Job, search string) bool {
	search = strings.ToLower(search)
	if strings.Contains(strings.ToLower(job.ID), search) || strings.Contains(strings.ToLower(job.Name), search) {
		return true
	}
	var payload map[string]any
	if err := json.Unmarshal(job.Payload, &payload); err != nil {
		return false
	}
	for _, field := range searchablePayloadFields {
		if s, ok := payload[field].(string); ok && strings.Contains(strings.ToLower(s), search) {
			return true
		}
	}
	return false
}

// Retry re-enqueues one failed job with a fresh attempt budget.
func (q *Queue) Retry(ctx context.Context, id string) (*Job, error) {
	job, err := q.Get(ctx, id)
	if err != nil {
		return nil, err
	}
	if job.State != StateFailed {
		return nil, &apperrors.ValidationError{Field: "state", Reason: "only failed jobs can be retried"}
	}

	job.State = StateWaiting
	job.Attempts = 0
	job.Error = ""
	job.Stacktrace = ""
	job.FinishedAt = nil
	job.Progress = Progress{}
	if err := q.save(ctx, job); err != nil {
		return nil, err
	}

	pipe := q.client.TxPipeline()
	pipe.ZRem(ctx, q.stateKey(StateFailed), id)
	pipe.LPush(ctx, q.waitKey(), id)
	if _, err := pipe.Exec(ctx); err != nil {
		return nil, storeErr("retry job", err)
	}
	return job, nil
}

// RetryFailed retries up to limit failed jobs, oldest first. Returns the
// number re-enqueued.
func (q *Queue) RetryFailed(ctx context.Context, limit int) (int, error) {
	if limit < 1 {
		return 0, &apperrors.ValidationError{Field: "limit", Reason: "must be at least 1"}
	}
	ids, err := q.client.ZRange(ctx, q.stateKey(StateFailed), 0, int64(limit)-1).Result()
	if err != nil {
		return 0, storeErr("list failed jobs", err)
	}

	retried := 0
	for _, id := range ids {
		if _, err := q.Retry(ctx, id); err != nil {
			if errors.Is(err, apperrors.ErrNotFound) {
				_ = q.client.ZRem(ctx, q.stateKey(StateFailed), id).Err()
				continue
			}
			return retried, err
		}
		retried++
	}
	return retried, nil
}

// Delete removes a job from every queue structure.
func (q *Queue) Delete(ctx context.Context, id string) error {
	if _, err := q.Get(ctx, id); err != nil {
		return err
	}

	pipe := q.client.TxPipeline()
	pipe.LRem(ctx, q.waitKey(), 0, id)
	pipe.LRem(ctx, q.activeKey(), 0, id)
	pipe.ZRem(ctx, q.stateKey(StateCompleted), id)
	pipe.ZRem(ctx, q.stateKey(StateFailed), id)
	pipe.ZRem(ctx, q.stateKey(StateDelayed), id)
	pipe.Del(ctx, q.jobKey(id))
	if _, err := pipe.Exec(ctx); err != nil {
		return storeErr("delete job", err)
	}
	return nil
}

// Pause gates the queue: jobs keep enqueuing, workers stop picking them up.
func (q *Queue) Pause(ctx context.Context) error {
	if err := q.client.Set(ctx, q.pausedKey(), "1", 0).Err(); err != nil {
		return storeErr("pause queue", err)
	}
	return nil
}

// Resume reopens a paused queue.
func (q *Queue) Resume(ctx context.Context) error {
	if err := q.client.Del(ctx, q.pausedKey()).Err(); err != nil {
		return storeErr("resume queue", err)
	}
	return nil
}

// IsPaused reports the queue gate.
func (q *Queue) IsPaused(ctx context.Context) (bool, error) {
	n, err := q.client.Exists(ctx, q.pausedKey()).Result()
	if err != nil {
		return false, storeErr("check queue gate", err)
	}
	return n > 0, nil
}

// Clean evicts completed or failed jobs that finished before the grace
// window. Returns the number evicted.
func (q *Queue) Clean(ctx context.Context, grace time.Duration, state string) (int, error) {
	if state != StateCompleted && state != StateFailed {
		return 0, &apperrors.ValidationError{Field: "status", Reason: "clean accepts completed or failed"}
	}

	cutoff := time.Now().UTC().Add(-grace).UnixMilli()
	ids, err := q.client.ZRangeByScore(ctx, q.stateKey(state), &redis.ZRangeBy{
		Min: "-inf",
		Max: strconv.FormatInt(cutoff, 10),
	}).Result()
	if err != nil {
		return 0, storeErr("list evictable jobs", err)
	}
	if len(ids) == 0 {
		return 0, nil
	}

	pipe := q.client.TxPipeline()
	members := make([]any, len(ids))
	for i, id := range ids {
		members[i] = id
		pipe.Del(ctx, q.jobKey(id))
	}
	pipe.ZRem(ctx, q.stateKey(state), members...)
	if _, err := pipe.Exec(ctx); err != nil {
		return 0, storeErr("evict jobs", err)
	}
	return len(ids), nil
}

// Drain removes every job and queue structure. Admin only.
func (q *Queue) Drain(ctx context.Context) error {
	var ids []string
	for _, state := range []string{StateWaiting, StateActive, StateCompleted, StateFailed, StateDelayed} {
		stateIDs, err := q.stateIDs(ctx, state)
		if err != nil {
			return err
		}
		ids = append(ids, stateIDs...)
	}

	pipe := q.client.TxPipeline()
	for _, id := range ids {
		pipe.Del(ctx, q.jobKey(id))
	}
	pipe.Del(ctx,
		q.waitKey(), q.activeKey(),
		q.stateKey(StateCompleted), q.stateKey(StateFailed), q.stateKey(StateDelayed),
	)
	if _, err := pipe.Exec(ctx); err != nil {
		return storeErr("drain queue", err)
	}
	return nil
}

// RequeueOrphans returns jobs stranded on the active list by a previous
// process to the waiting list. Called once at startup before workers begin.
func (q *Queue) RequeueOrphans(ctx context.Context) (int, error) {
	ids, err := q.client.LRange(ctx, q.activeKey(), 0, -1).Result()
	if err != nil {
		return 0, storeErr("list orphaned jobs", err)
	}

	requeued := 0
	for _, id := range ids {
		job, err := q.Get(ctx, id)
		if err != nil {
			if errors.Is(err, apperrors.ErrNotFound) {
				_ = q.client.LRem(ctx, q.activeKey(), 1, id).Err()
				continue
			}
			return requeued, err
		}
		job.State = StateWaiting
		job.StartedAt = nil
		if err := q.save(ctx, job); err != nil {
			return requeued, err
		}
		pipe := q.client.TxPipeline()
		pipe.LRem(ctx, q.activeKey(), 1, id)
		pipe.LPush(ctx, q.waitKey(), id)
		if _, err := pipe.Exec(ctx); err != nil {
			return requeued, storeErr("requeue orphaned job", err)
		}
		requeued++
	}
	return requeued, nil
}

func (q *Queue) save(ctx context.Context, job *Job) error {
	data, err := json.Marshal(job)
	if err != nil {
		return fmt.Errorf("encode job %s: %w", job.ID, err)
	}
	if err := q.client.Set(ctx, q.jobKey(job.ID), data, 0).Err(); err != nil {
		return storeErr("save job", err)
	}
	return nil
}

func storeErr(op string, err error) error {
	return &apperrors.TransientStoreError{Op: op, Cause: err}
}
