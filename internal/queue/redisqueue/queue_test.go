package redisqueue

import (
	"context"
	"os"
	"testing"
	"time"

	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/require"

	"github.com/domainlink/linkauditor/internal/linkaudit"
)

// newTestQueue connects to a Redis instance for integration testing.
// Set LINKAUDITOR_TEST_REDIS_ADDR to point at one; the test is skipped
// otherwise, since no fake-Redis library is part of this module's
// dependency set.
func newTestQueue(t *testing.T) (*Queue, func()) {
	t.Helper()
	addr := os.Getenv("LINKAUDITOR_TEST_REDIS_ADDR")
	if addr == "" {
		t.Skip("LINKAUDITOR_TEST_REDIS_ADDR not set, skipping redis integration test")
	}

	rdb := redis.NewClient(&redis.Options{Addr: addr})
	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()
	if err := rdb.Ping(ctx).Err(); err != nil {
		t.Skipf("redis at %s unreachable: %v", addr, err)
	}

	cfg := DefaultConfig()
	cfg.KeyPrefix = "linkauditor:test:" + t.Name()
	q := New(rdb, cfg, &fakeClock{now: time.Unix(0, 0)})

	cleanup := func() {
		cleanCtx := context.Background()
		iter := rdb.Scan(cleanCtx, 0, cfg.KeyPrefix+"*", 100).Iterator()
		for iter.Next(cleanCtx) {
			rdb.Del(cleanCtx, iter.Val())
		}
		rdb.Close()
	}
	return q, cleanup
}

type fakeClock struct{ now time.Time }

func (c *fakeClock) Now() time.Time { return c.now }

func TestQueueEnqueueLeaseCompleteRoundTrip(t *testing.T) {
	t.Parallel()
	q, cleanup := newTestQueue(t)
	defer cleanup()
	ctx := context.Background()

	job := linkaudit.Job{
		JobID:      "job-1",
		Priority:   linkaudit.PriorityPro,
		EnqueuedAt: time.Unix(0, 0),
	}
	require.NoError(t, q.Enqueue(ctx, job))

	leased, err := q.Lease(ctx, "worker-1", time.Minute)
	require.NoError(t, err)
	require.NotNil(t, leased)
	require.Equal(t, "job-1", leased.JobID)

	require.NoError(t, q.Complete(ctx, "job-1"))

	stats, err := q.Stats(ctx)
	require.NoError(t, err)
	require.Equal(t, 0, stats.Waiting)
	require.Equal(t, 0, stats.Leased)
}

func TestQueueEnqueueDedupsWaitingJobID(t *testing.T) {
	t.Parallel()
	q, cleanup := newTestQueue(t)
	defer cleanup()
	ctx := context.Background()

	job := linkaudit.Job{JobID: "dup", Priority: linkaudit.PriorityFree, EnqueuedAt: time.Unix(0, 0)}
	require.NoError(t, q.Enqueue(ctx, job))
	require.NoError(t, q.Enqueue(ctx, job))

	stats, err := q.Stats(ctx)
	require.NoError(t, err)
	require.Equal(t, 1, stats.Waiting)
}

func TestQueueFailReschedulesUntilMaxAttempts(t *testing.T) {
	t.Parallel()
	q, cleanup := newTestQueue(t)
	defer cleanup()
	ctx := context.Background()

	job := linkaudit.Job{JobID: "retry-me", Priority: linkaudit.PriorityFree, EnqueuedAt: time.Unix(0, 0)}
	require.NoError(t, q.Enqueue(ctx, job))

	_, err := q.Lease(ctx, "worker-1", time.Minute)
	require.NoError(t, err)

	outcome, err := q.Fail(ctx, "retry-me", linkaudit.KindTransientFetch)
	require.NoError(t, err)
	require.Equal(t, linkaudit.FailOutcomeRetried, outcome)
}
