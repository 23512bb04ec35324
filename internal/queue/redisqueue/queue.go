// Package redisqueue implements the priority job queue (C4) on top of
// Redis sorted sets, for deployments that need the queue to survive a
// process restart. It satisfies the same linkaudit.Queue contract as
// internal/queue/memory.
//
// Three keys carry the queue's state:
//
//	ready:<>    ZSET  score = priority*2^42 + enqueued_at_unix_milli  (waiting, ready to lease)
//	deferred:<> ZSET  score = ready_at_unix_nano                      (backed off, not yet ready)
//	leased:<>   HASH  job_id -> JSON{job, worker_id, leased_at}       (in flight)
//
// encoding the (priority, enqueued_at) ordering into a single sorted
// set score reproduces the in-memory heap's comparison without a
// second round trip.
package redisqueue

import (
	"context"
	"encoding/json"
	"fmt"
	"math"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/domainlink/linkauditor/internal/linkaudit"
)

const priorityShift = 42 // bits reserved for the enqueued_at (unix milliseconds) component of the score

// Config controls queue retention and backoff, mirroring
// internal/queue/memory.Config.
type Config struct {
	MaxAttempts      int
	BackoffBase      time.Duration
	RetainCompleted  int
	RetainDeadLetter int
	KeyPrefix        string
}

// DefaultConfig mirrors the external interface defaults in §6.
func DefaultConfig() Config {
	return Config{
		MaxAttempts:      3,
		BackoffBase:      2 * time.Second,
		RetainCompleted:  100,
		RetainDeadLetter: 50,
		KeyPrefix:        "linkauditor:queue",
	}
}

// Queue is a Redis-backed implementation of linkaudit.Queue.
type Queue struct {
	rdb   *redis.Client
	cfg   Config
	clock linkaudit.Clock
}

// New constructs a Queue bound to an already-connected Redis client.
func New(rdb *redis.Client, cfg Config, clock linkaudit.Clock) *Queue {
	return &Queue{rdb: rdb, cfg: cfg, clock: clock}
}

func (q *Queue) key(suffix string) string {
	return fmt.Sprintf("%s:%s", q.cfg.KeyPrefix, suffix)
}

type leaseEnvelope struct {
	Job      linkaudit.Job `json:"job"`
	WorkerID string        `json:"worker_id"`
	LeasedAt time.Time     `json:"leased_at"`
}

func score(priority int, enqueuedAt time.Time) float64 {
	return float64(priority)*math.Pow(2, priorityShift) + float64(enqueuedAt.UnixMilli())
}

// Enqueue is a no-op if job_id already exists in the ready set, the
// deferred set, or the leased hash.
func (q *Queue) Enqueue(ctx context.Context, job linkaudit.Job) error {
	exists, err := q.memberExists(ctx, job.JobID)
	if err != nil {
		return fmt.Errorf("%w: %v", linkaudit.ErrBackendUnavailable, err)
	}
	if exists {
		return nil
	}
	if job.EnqueuedAt.IsZero() {
		job.EnqueuedAt = q.clock.Now()
	}
	data, err := json.Marshal(job)
	if err != nil {
		return fmt.Errorf("marshal job: %w", err)
	}
	if err := q.rdb.ZAdd(ctx, q.key("ready"), redis.Z{
		Score:  score(job.Priority, job.EnqueuedAt),
		Member: jobMember{id: job.JobID, data: string(data)}.String(),
	}).Err(); err != nil {
		return fmt.Errorf("%w: %v", linkaudit.ErrBackendUnavailable, err)
	}
	return nil
}

func (q *Queue) memberExists(ctx context.Context, jobID string) (bool, error) {
	for _, key := range []string{q.key("ready"), q.key("deferred")} {
		members, err := q.rdb.ZRangeByScore(ctx, key, &redis.ZRangeBy{Min: "-inf", Max: "+inf"}).Result()
		if err != nil {
			return false, err
		}
		for _, m := range members {
			if parseJobMember(m).id == jobID {
				return true, nil
			}
		}
	}
	exists, err := q.rdb.HExists(ctx, q.key("leased"), jobID).Result()
	if err != nil {
		return false, err
	}
	return exists, nil
}

// jobMember packs an id prefix onto the JSON payload so membership
// checks don't require a second lookup structure; Redis sorted sets
// are string-keyed, so the id must live inside the member itself.
type jobMember struct {
	id   string
	data string
}

func (m jobMember) String() string { return m.id + "\x1f" + m.data }

func parseJobMember(raw string) jobMember {
	for i := 0; i < len(raw); i++ {
		if raw[i] == '\x1f' {
			return jobMember{id: raw[:i], data: raw[i+1:]}
		}
	}
	return jobMember{}
}

// Lease promotes any deferred job whose ready_at has elapsed, pops the
// lowest-score ready member with ZPOPMIN, and then records the lease in
// the leased hash with a separate HSET.
func (q *Queue) Lease(ctx context.Context, workerID string, _ time.Duration) (*linkaudit.Job, error) {
	if err := q.promoteReady(ctx); err != nil {
		return nil, fmt.Errorf("%w: %v", linkaudit.ErrBackendUnavailable, err)
	}

	results, err := q.rdb.ZPopMin(ctx, q.key("ready"), 1).Result()
	if err != nil {
		return nil, fmt.Errorf("%w: %v", linkaudit.ErrBackendUnavailable, err)
	}
	if len(results) == 0 {
		return nil, nil
	}
	member := parseJobMember(fmt.Sprint(results[0].Member))
	var job linkaudit.Job
	if err := json.Unmarshal([]byte(member.data), &job); err != nil {
		return nil, fmt.Errorf("unmarshal leased job: %w", err)
	}

	env := leaseEnvelope{Job: job, WorkerID: workerID, LeasedAt: q.clock.Now()}
	envData, err := json.Marshal(env)
	if err != nil {
		return nil, fmt.Errorf("marshal lease envelope: %w", err)
	}
	if err := q.rdb.HSet(ctx, q.key("leased"), job.JobID, envData).Err(); err != nil {
		return nil, fmt.Errorf("%w: %v", linkaudit.ErrBackendUnavailable, err)
	}
	return &job, nil
}

func (q *Queue) promoteReady(ctx context.Context) error {
	now := q.clock.Now()
	members, err := q.rdb.ZRangeByScore(ctx, q.key("deferred"), &redis.ZRangeBy{
		Min: "-inf",
		Max: fmt.Sprintf("%d", now.UnixNano()),
	}).Result()
	if err != nil {
		return err
	}
	for _, m := range members {
		jm := parseJobMember(m)
		var job linkaudit.Job
		if err := json.Unmarshal([]byte(jm.data), &job); err != nil {
			continue
		}
		data, err := json.Marshal(job)
		if err != nil {
			continue
		}
		if err := q.rdb.ZAdd(ctx, q.key("ready"), redis.Z{
			Score:  score(job.Priority, job.EnqueuedAt),
			Member: jobMember{id: job.JobID, data: string(data)}.String(),
		}).Err(); err != nil {
			return err
		}
		if err := q.rdb.ZRem(ctx, q.key("deferred"), m).Err(); err != nil {
			return err
		}
	}
	return nil
}

// Complete drops the lease hash entry; absent entries are a no-op.
func (q *Queue) Complete(ctx context.Context, jobID string) error {
	if err := q.rdb.HDel(ctx, q.key("leased"), jobID).Err(); err != nil {
		return fmt.Errorf("%w: %v", linkaudit.ErrBackendUnavailable, err)
	}
	q.rdb.LPush(ctx, q.key("completed"), jobID)
	q.rdb.LTrim(ctx, q.key("completed"), 0, int64(q.cfg.RetainCompleted-1))
	return nil
}

// Fail retries with backoff or dead-letters, exactly as
// internal/queue/memory.Queue.Fail.
func (q *Queue) Fail(ctx context.Context, jobID string, _ linkaudit.Kind) (linkaudit.FailOutcome, error) {
	raw, err := q.rdb.HGet(ctx, q.key("leased"), jobID).Result()
	if err != nil {
		return "", fmt.Errorf("fail: no lease for job %s: %w", jobID, err)
	}
	var env leaseEnvelope
	if err := json.Unmarshal([]byte(raw), &env); err != nil {
		return "", fmt.Errorf("unmarshal lease envelope: %w", err)
	}
	if err := q.rdb.HDel(ctx, q.key("leased"), jobID).Err(); err != nil {
		return "", fmt.Errorf("%w: %v", linkaudit.ErrBackendUnavailable, err)
	}

	job := env.Job
	job.Attempts++
	if job.Attempts < q.cfg.MaxAttempts {
		delay := backoff(q.cfg.BackoffBase, job.Attempts)
		data, err := json.Marshal(job)
		if err != nil {
			return "", fmt.Errorf("marshal job: %w", err)
		}
		readyAt := q.clock.Now().Add(delay)
		if err := q.rdb.ZAdd(ctx, q.key("deferred"), redis.Z{
			Score:  float64(readyAt.UnixNano()),
			Member: jobMember{id: job.JobID, data: string(data)}.String(),
		}).Err(); err != nil {
			return "", fmt.Errorf("%w: %v", linkaudit.ErrBackendUnavailable, err)
		}
		return linkaudit.FailOutcomeRetried, nil
	}

	data, err := json.Marshal(job)
	if err != nil {
		return "", fmt.Errorf("marshal dead-lettered job: %w", err)
	}
	q.rdb.LPush(ctx, q.key("dead_letter"), data)
	q.rdb.LTrim(ctx, q.key("dead_letter"), 0, int64(q.cfg.RetainDeadLetter-1))
	return linkaudit.FailOutcomeDeadLetter, nil
}

func backoff(base time.Duration, attempts int) time.Duration {
	return time.Duration(float64(base) * math.Pow(2, float64(attempts)))
}

// Stats reports queue introspection counts.
func (q *Queue) Stats(ctx context.Context) (linkaudit.QueueStats, error) {
	ready, err := q.rdb.ZCard(ctx, q.key("ready")).Result()
	if err != nil {
		return linkaudit.QueueStats{}, fmt.Errorf("%w: %v", linkaudit.ErrBackendUnavailable, err)
	}
	deferred, err := q.rdb.ZCard(ctx, q.key("deferred")).Result()
	if err != nil {
		return linkaudit.QueueStats{}, fmt.Errorf("%w: %v", linkaudit.ErrBackendUnavailable, err)
	}
	leased, err := q.rdb.HLen(ctx, q.key("leased")).Result()
	if err != nil {
		return linkaudit.QueueStats{}, fmt.Errorf("%w: %v", linkaudit.ErrBackendUnavailable, err)
	}
	completed, err := q.rdb.LLen(ctx, q.key("completed")).Result()
	if err != nil {
		return linkaudit.QueueStats{}, fmt.Errorf("%w: %v", linkaudit.ErrBackendUnavailable, err)
	}
	deadLetter, err := q.rdb.LLen(ctx, q.key("dead_letter")).Result()
	if err != nil {
		return linkaudit.QueueStats{}, fmt.Errorf("%w: %v", linkaudit.ErrBackendUnavailable, err)
	}
	return linkaudit.QueueStats{
		Waiting:    int(ready + deferred),
		Leased:     int(leased),
		Completed:  int(completed),
		DeadLetter: int(deadLetter),
	}, nil
}

// ListByProject scans the ready, deferred, and leased sets. It is an
// introspection call, not a hot path, so a full scan is acceptable.
func (q *Queue) ListByProject(ctx context.Context, projectID string) ([]linkaudit.Job, error) {
	var out []linkaudit.Job
	for _, key := range []string{q.key("ready"), q.key("deferred")} {
		members, err := q.rdb.ZRangeByScore(ctx, key, &redis.ZRangeBy{Min: "-inf", Max: "+inf"}).Result()
		if err != nil {
			return nil, fmt.Errorf("%w: %v", linkaudit.ErrBackendUnavailable, err)
		}
		for _, m := range members {
			var job linkaudit.Job
			if err := json.Unmarshal([]byte(parseJobMember(m).data), &job); err != nil {
				continue
			}
			if job.ProjectID == projectID {
				out = append(out, job)
			}
		}
	}
	leased, err := q.rdb.HGetAll(ctx, q.key("leased")).Result()
	if err != nil {
		return nil, fmt.Errorf("%w: %v", linkaudit.ErrBackendUnavailable, err)
	}
	for _, raw := range leased {
		var env leaseEnvelope
		if err := json.Unmarshal([]byte(raw), &env); err != nil {
			continue
		}
		if env.Job.ProjectID == projectID {
			out = append(out, env.Job)
		}
	}
	return out, nil
}

// ReapStaleLeases requeues every lease older than leaseTimeout with
// attempts unchanged.
func (q *Queue) ReapStaleLeases(ctx context.Context, leaseTimeout time.Duration) (int, error) {
	leased, err := q.rdb.HGetAll(ctx, q.key("leased")).Result()
	if err != nil {
		return 0, fmt.Errorf("%w: %v", linkaudit.ErrBackendUnavailable, err)
	}
	now := q.clock.Now()
	reaped := 0
	for jobID, raw := range leased {
		var env leaseEnvelope
		if err := json.Unmarshal([]byte(raw), &env); err != nil {
			continue
		}
		if now.Sub(env.LeasedAt) <= leaseTimeout {
			continue
		}
		data, err := json.Marshal(env.Job)
		if err != nil {
			continue
		}
		if err := q.rdb.ZAdd(ctx, q.key("ready"), redis.Z{
			Score:  score(env.Job.Priority, env.Job.EnqueuedAt),
			Member: jobMember{id: env.Job.JobID, data: string(data)}.String(),
		}).Err(); err != nil {
			return reaped, fmt.Errorf("%w: %v", linkaudit.ErrBackendUnavailable, err)
		}
		if err := q.rdb.HDel(ctx, q.key("leased"), jobID).Err(); err != nil {
			return reaped, fmt.Errorf("%w: %v", linkaudit.ErrBackendUnavailable, err)
		}
		reaped++
	}
	return reaped, nil
}
