package memory

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/domainlink/linkauditor/internal/linkaudit"
)

type fakeClock struct{ now time.Time }

func (c *fakeClock) Now() time.Time { return c.now }
func (c *fakeClock) Advance(d time.Duration) { c.now = c.now.Add(d) }

func TestQueueLeaseOrdersByPriorityThenFIFO(t *testing.T) {
	t.Parallel()
	ctx := context.Background()
	clock := &fakeClock{now: time.Unix(0, 0)}
	q := New(DefaultConfig(), clock)

	require.NoError(t, q.Enqueue(ctx, linkaudit.Job{JobID: "free", Priority: linkaudit.PriorityFree, EnqueuedAt: clock.Now()}))
	clock.Advance(time.Millisecond)
	require.NoError(t, q.Enqueue(ctx, linkaudit.Job{JobID: "pro", Priority: linkaudit.PriorityPro, EnqueuedAt: clock.Now()}))
	clock.Advance(time.Millisecond)
	require.NoError(t, q.Enqueue(ctx, linkaudit.Job{JobID: "enterprise", Priority: linkaudit.PriorityEnterprise, EnqueuedAt: clock.Now()}))

	first, err := q.Lease(ctx, "w1", time.Minute)
	require.NoError(t, err)
	require.Equal(t, "enterprise", first.JobID)

	second, err := q.Lease(ctx, "w1", time.Minute)
	require.NoError(t, err)
	require.Equal(t, "pro", second.JobID)

	third, err := q.Lease(ctx, "w1", time.Minute)
	require.NoError(t, err)
	require.Equal(t, "free", third.JobID)
}

func TestQueueEnqueueDedupsWaitingJobID(t *testing.T) {
	t.Parallel()
	ctx := context.Background()
	clock := &fakeClock{now: time.Unix(0, 0)}
	q := New(DefaultConfig(), clock)

	job := linkaudit.Job{JobID: "dup", Priority: linkaudit.PriorityFree, EnqueuedAt: clock.Now()}
	require.NoError(t, q.Enqueue(ctx, job))
	require.NoError(t, q.Enqueue(ctx, job))

	stats, err := q.Stats(ctx)
	require.NoError(t, err)
	require.Equal(t, 1, stats.Waiting)
}

func TestQueueFailRetriesThenDeadLetters(t *testing.T) {
	t.Parallel()
	ctx := context.Background()
	clock := &fakeClock{now: time.Unix(0, 0)}
	cfg := DefaultConfig()
	cfg.MaxAttempts = 2
	q := New(cfg, clock)

	require.NoError(t, q.Enqueue(ctx, linkaudit.Job{JobID: "flaky", Priority: linkaudit.PriorityFree, EnqueuedAt: clock.Now()}))

	leased, err := q.Lease(ctx, "w1", time.Minute)
	require.NoError(t, err)
	require.NotNil(t, leased)

	outcome, err := q.Fail(ctx, leased.JobID, linkaudit.KindTransientFetch)
	require.NoError(t, err)
	require.Equal(t, linkaudit.FailOutcomeRetried, outcome)

	// Not yet ready: backoff has not elapsed.
	next, err := q.Lease(ctx, "w1", time.Minute)
	require.NoError(t, err)
	require.Nil(t, next)

	clock.Advance(time.Hour)
	next, err = q.Lease(ctx, "w1", time.Minute)
	require.NoError(t, err)
	require.NotNil(t, next)
	require.Equal(t, 1, next.Attempts)

	outcome, err = q.Fail(ctx, next.JobID, linkaudit.KindTransientFetch)
	require.NoError(t, err)
	require.Equal(t, linkaudit.FailOutcomeDeadLetter, outcome)

	stats, err := q.Stats(ctx)
	require.NoError(t, err)
	require.Equal(t, 1, stats.DeadLetter)
	require.Equal(t, 0, stats.Waiting)
}

func TestQueueReapStaleLeases(t *testing.T) {
	t.Parallel()
	ctx := context.Background()
	clock := &fakeClock{now: time.Unix(0, 0)}
	q := New(DefaultConfig(), clock)

	require.NoError(t, q.Enqueue(ctx, linkaudit.Job{JobID: "stall", Priority: linkaudit.PriorityFree, EnqueuedAt: clock.Now()}))
	_, err := q.Lease(ctx, "w1", time.Minute)
	require.NoError(t, err)

	clock.Advance(time.Minute)
	reaped, err := q.ReapStaleLeases(ctx, 30*time.Second)
	require.NoError(t, err)
	require.Equal(t, 1, reaped)

	job, err := q.Lease(ctx, "w2", time.Minute)
	require.NoError(t, err)
	require.NotNil(t, job)
	require.Equal(t, 0, job.Attempts, "a reaped stall is not a failure")
}

func TestQueueCompleteIsNoOpAfterLeaseExpired(t *testing.T) {
	t.Parallel()
	ctx := context.Background()
	clock := &fakeClock{now: time.Unix(0, 0)}
	q := New(DefaultConfig(), clock)

	require.NoError(t, q.Enqueue(ctx, linkaudit.Job{JobID: "gone", Priority: linkaudit.PriorityFree, EnqueuedAt: clock.Now()}))
	_, err := q.Lease(ctx, "w1", time.Minute)
	require.NoError(t, err)

	clock.Advance(time.Minute)
	_, err = q.ReapStaleLeases(ctx, 30*time.Second)
	require.NoError(t, err)

	require.NoError(t, q.Complete(ctx, "gone"))
}
