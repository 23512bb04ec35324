// Package dispatcher contains tests for worker coordination.
package dispatcher

import (
	"context"
	"errors"
	"testing"
	"time"

	"go.uber.org/zap"

	"github.com/domainlink/linkauditor/internal/linkaudit"
	"github.com/domainlink/linkauditor/internal/worker"
)

// TestDispatcherRunStartsWorkers ensures workers begin processing and stop on cancel.
func TestDispatcherRunStartsWorkers(t *testing.T) {
	t.Parallel()

	queue := &blockingQueue{leased: make(chan struct{}, 1)}
	w := worker.New(queue, nil, nil, nil, nil, worker.Config{IdleBackoff: time.Millisecond}, zap.NewNop())
	dispatch := New(queue, []*worker.Worker{w})

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan struct{})
	go func() {
		dispatch.Run(ctx)
		close(done)
	}()

	select {
	case <-queue.leased:
	case <-time.After(time.Second):
		t.Fatal("worker did not begin leasing")
	}

	cancel()

	select {
	case <-done:
	case <-time.After(time.Second):
		t.Fatal("dispatcher did not stop after context cancel")
	}
}

// TestDispatcherEnqueueForwardsErrors verifies queue errors are wrapped for callers.
func TestDispatcherEnqueueForwardsErrors(t *testing.T) {
	t.Parallel()

	queue := &errorQueue{err: errors.New("boom")}
	dispatch := New(queue, nil)

	err := dispatch.Enqueue(context.Background(), linkaudit.Job{JobID: "job"})
	if err == nil || err.Error() != "queue enqueue: boom" {
		t.Fatalf("expected wrapped error, got %v", err)
	}
}

// blockingQueue always reports a leased job once, then blocks Lease
// until the context is canceled, mirroring an otherwise-idle queue.
type blockingQueue struct {
	leased chan struct{}
}

func (q *blockingQueue) Enqueue(context.Context, linkaudit.Job) error { return nil }

func (q *blockingQueue) Lease(ctx context.Context, _ string, _ time.Duration) (*linkaudit.Job, error) {
	select {
	case q.leased <- struct{}{}:
	default:
	}
	<-ctx.Done()
	return nil, ctx.Err()
}

func (q *blockingQueue) Complete(context.Context, string) error { return nil }
func (q *blockingQueue) Fail(context.Context, string, linkaudit.Kind) (linkaudit.FailOutcome, error) {
	return linkaudit.FailOutcomeRetried, nil
}
func (q *blockingQueue) Stats(context.Context) (linkaudit.QueueStats, error) {
	return linkaudit.QueueStats{}, nil
}
func (q *blockingQueue) ListByProject(context.Context, string) ([]linkaudit.Job, error) {
	return nil, nil
}
func (q *blockingQueue) ReapStaleLeases(context.Context, time.Duration) (int, error) { return 0, nil }

type errorQueue struct {
	err error
}

func (q *errorQueue) Enqueue(context.Context, linkaudit.Job) error { return q.err }
func (q *errorQueue) Lease(context.Context, string, time.Duration) (*linkaudit.Job, error) {
	return nil, nil
}
func (q *errorQueue) Complete(context.Context, string) error { return nil }
func (q *errorQueue) Fail(context.Context, string, linkaudit.Kind) (linkaudit.FailOutcome, error) {
	return linkaudit.FailOutcomeRetried, nil
}
func (q *errorQueue) Stats(context.Context) (linkaudit.QueueStats, error) {
	return linkaudit.QueueStats{}, nil
}
func (q *errorQueue) ListByProject(context.Context, string) ([]linkaudit.Job, error) {
	return nil, nil
}
func (q *errorQueue) ReapStaleLeases(context.Context, time.Duration) (int, error) { return 0, nil }
