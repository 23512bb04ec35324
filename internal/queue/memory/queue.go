// Package memory implements the priority job queue (C4) in-process,
// using a binary heap guarded by a mutex. It is the default backend
// for local development and tests; internal/queue/redisqueue provides
// a durable alternative behind the same linkaudit.Queue interface.
package memory

import (
	"container/heap"
	"context"
	"fmt"
	"math"
	"sync"
	"time"

	"github.com/domainlink/linkauditor/internal/linkaudit"
)

// Config controls queue retention and backoff.
type Config struct {
	MaxAttempts      int
	BackoffBase      time.Duration
	RetainCompleted  int
	RetainDeadLetter int
}

// DefaultConfig mirrors the external interface defaults in §6.
func DefaultConfig() Config {
	return Config{
		MaxAttempts:      3,
		BackoffBase:      2 * time.Second,
		RetainCompleted:  100,
		RetainDeadLetter: 50,
	}
}

type leaseRecord struct {
	job      linkaudit.Job
	workerID string
	leasedAt time.Time
}

// Queue is an in-memory implementation of linkaudit.Queue ordered by
// (priority ascending, enqueued_at ascending), with dedup-by-job_id,
// lease/complete/fail/backoff, and dead-lettering.
type Queue struct {
	mu sync.Mutex

	cfg   Config
	clock linkaudit.Clock

	waiting    priorityHeap
	dedup      map[string]struct{} // job ids waiting or leased
	leased     map[string]*leaseRecord
	deferred   []deferredJob // waiting to become ready after backoff
	completed  []string
	deadLetter []linkaudit.Job
}

type deferredJob struct {
	job     linkaudit.Job
	readyAt time.Time
}

// New constructs an empty Queue.
func New(cfg Config, clock linkaudit.Clock) *Queue {
	q := &Queue{
		cfg:    cfg,
		clock:  clock,
		dedup:  make(map[string]struct{}),
		leased: make(map[string]*leaseRecord),
	}
	heap.Init(&q.waiting)
	return q
}

// Enqueue deduplicates on job_id across the entire waiting set: a
// re-enqueue of an id already waiting is a no-op. A re-enqueue of an
// id currently leased, or deferred for retry, is also a no-op: the
// call is dropped and the job is not queued again when the lease ends.
func (q *Queue) Enqueue(_ context.Context, job linkaudit.Job) error {
	q.mu.Lock()
	defer q.mu.Unlock()

	if _, exists := q.dedup[job.JobID]; exists {
		return nil
	}
	if job.EnqueuedAt.IsZero() {
		job.EnqueuedAt = q.clock.Now()
	}
	q.dedup[job.JobID] = struct{}{}
	heap.Push(&q.waiting, job)
	return nil
}

// Lease atomically removes the head of the ready set and records a
// lease. It promotes any deferred (backed-off) jobs whose ready time
// has elapsed before selecting the head.
func (q *Queue) Lease(_ context.Context, workerID string, _ time.Duration) (*linkaudit.Job, error) {
	q.mu.Lock()
	defer q.mu.Unlock()

	q.promoteReadyLocked()

	if q.waiting.Len() == 0 {
		return nil, nil
	}
	job := heap.Pop(&q.waiting).(linkaudit.Job)
	q.leased[job.JobID] = &leaseRecord{job: job, workerID: workerID, leasedAt: q.clock.Now()}
	return &job, nil
}

func (q *Queue) promoteReadyLocked() {
	if len(q.deferred) == 0 {
		return
	}
	now := q.clock.Now()
	remaining := q.deferred[:0]
	for _, d := range q.deferred {
		if !now.Before(d.readyAt) {
			heap.Push(&q.waiting, d.job)
			continue
		}
		remaining = append(remaining, d)
	}
	q.deferred = remaining
}

// Complete drops the lease. It is a no-op if the lease has already
// expired and been reaped (the job is no longer in q.leased, so there
// is nothing to drop).
func (q *Queue) Complete(_ context.Context, jobID string) error {
	q.mu.Lock()
	defer q.mu.Unlock()

	delete(q.leased, jobID)
	delete(q.dedup, jobID)
	q.completed = append(q.completed, jobID)
	if len(q.completed) > q.cfg.RetainCompleted {
		q.completed = q.completed[len(q.completed)-q.cfg.RetainCompleted:]
	}
	return nil
}

// Fail either re-enqueues the job with incremented attempts and
// backoff, or moves it to the dead-letter store.
func (q *Queue) Fail(_ context.Context, jobID string, _ linkaudit.Kind) (linkaudit.FailOutcome, error) {
	q.mu.Lock()
	defer q.mu.Unlock()

	rec, ok := q.leased[jobID]
	if !ok {
		return "", fmt.Errorf("fail: no lease for job %s", jobID)
	}
	delete(q.leased, jobID)

	job := rec.job
	job.Attempts++
	if job.Attempts < q.cfg.MaxAttempts {
		delay := backoff(q.cfg.BackoffBase, job.Attempts)
		q.deferred = append(q.deferred, deferredJob{job: job, readyAt: q.clock.Now().Add(delay)})
		return linkaudit.FailOutcomeRetried, nil
	}

	delete(q.dedup, jobID)
	q.deadLetter = append(q.deadLetter, job)
	if len(q.deadLetter) > q.cfg.RetainDeadLetter {
		q.deadLetter = q.deadLetter[len(q.deadLetter)-q.cfg.RetainDeadLetter:]
	}
	return linkaudit.FailOutcomeDeadLetter, nil
}

// backoff implements base * 2^attempts, per §4.1.
func backoff(base time.Duration, attempts int) time.Duration {
	return time.Duration(float64(base) * math.Pow(2, float64(attempts)))
}

// Stats reports queue introspection counts.
func (q *Queue) Stats(_ context.Context) (linkaudit.QueueStats, error) {
	q.mu.Lock()
	defer q.mu.Unlock()

	return linkaudit.QueueStats{
		Waiting:    q.waiting.Len() + len(q.deferred),
		Leased:     len(q.leased),
		Completed:  len(q.completed),
		DeadLetter: len(q.deadLetter),
	}, nil
}

// ListByProject returns every job (waiting, deferred, or leased)
// belonging to projectID.
func (q *Queue) ListByProject(_ context.Context, projectID string) ([]linkaudit.Job, error) {
	q.mu.Lock()
	defer q.mu.Unlock()

	var out []linkaudit.Job
	for _, j := range q.waiting {
		if j.ProjectID == projectID {
			out = append(out, j)
		}
	}
	for _, d := range q.deferred {
		if d.job.ProjectID == projectID {
			out = append(out, d.job)
		}
	}
	for _, rec := range q.leased {
		if rec.job.ProjectID == projectID {
			out = append(out, rec.job)
		}
	}
	return out, nil
}

// ReapStaleLeases requeues every lease older than leaseTimeout,
// attempts unchanged (a stall is not a failure).
func (q *Queue) ReapStaleLeases(_ context.Context, leaseTimeout time.Duration) (int, error) {
	q.mu.Lock()
	defer q.mu.Unlock()

	now := q.clock.Now()
	var reaped int
	for jobID, rec := range q.leased {
		if now.Sub(rec.leasedAt) <= leaseTimeout {
			continue
		}
		delete(q.leased, jobID)
		heap.Push(&q.waiting, rec.job)
		reaped++
	}
	return reaped, nil
}

// priorityHeap implements container/heap.Interface over
// (priority ascending, enqueued_at ascending).
type priorityHeap []linkaudit.Job

func (h priorityHeap) Len() int { return len(h) }

func (h priorityHeap) Less(i, j int) bool {
	if h[i].Priority != h[j].Priority {
		return h[i].Priority < h[j].Priority
	}
	return h[i].EnqueuedAt.Before(h[j].EnqueuedAt)
}

func (h priorityHeap) Swap(i, j int) { h[i], h[j] = h[j], h[i] }

func (h *priorityHeap) Push(x any) {
	*h = append(*h, x.(linkaudit.Job))
}

func (h *priorityHeap) Pop() any {
	old := *h
	n := len(old)
	item := old[n-1]
	*h = old[:n-1]
	return item
}
