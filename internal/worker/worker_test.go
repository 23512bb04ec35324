package worker

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/domainlink/linkauditor/internal/linkaudit"
)

type fakeClock struct{ now time.Time }

func (c fakeClock) Now() time.Time { return c.now }

type fakeQueue struct {
	mu          sync.Mutex
	jobs        []linkaudit.Job
	completed   []string
	failed      []linkaudit.Kind
	failOutcome linkaudit.FailOutcome
}

func (q *fakeQueue) Enqueue(context.Context, linkaudit.Job) error { return nil }

func (q *fakeQueue) Lease(context.Context, string, time.Duration) (*linkaudit.Job, error) {
	q.mu.Lock()
	defer q.mu.Unlock()
	if len(q.jobs) == 0 {
		return nil, nil
	}
	job := q.jobs[0]
	q.jobs = q.jobs[1:]
	return &job, nil
}

func (q *fakeQueue) Complete(_ context.Context, jobID string) error {
	q.mu.Lock()
	defer q.mu.Unlock()
	q.completed = append(q.completed, jobID)
	return nil
}

func (q *fakeQueue) Fail(_ context.Context, _ string, reason linkaudit.Kind) (linkaudit.FailOutcome, error) {
	q.mu.Lock()
	defer q.mu.Unlock()
	q.failed = append(q.failed, reason)
	outcome := q.failOutcome
	if outcome == "" {
		outcome = linkaudit.FailOutcomeRetried
	}
	return outcome, nil
}

func (q *fakeQueue) Stats(context.Context) (linkaudit.QueueStats, error) {
	return linkaudit.QueueStats{}, nil
}

func (q *fakeQueue) ListByProject(context.Context, string) ([]linkaudit.Job, error) {
	q.mu.Lock()
	defer q.mu.Unlock()
	return append([]linkaudit.Job(nil), q.jobs...), nil
}

func (q *fakeQueue) ReapStaleLeases(context.Context, time.Duration) (int, error) { return 0, nil }

type fakeRepo struct {
	mu        sync.Mutex
	upserted  []linkaudit.Link
	openCount int
	upsertErr error
}

func (r *fakeRepo) GetLink(context.Context, string) (*linkaudit.Link, error) { return nil, nil }

func (r *fakeRepo) UpsertLink(_ context.Context, link linkaudit.Link) error {
	if r.upsertErr != nil {
		return r.upsertErr
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	r.upserted = append(r.upserted, link)
	return nil
}

func (r *fakeRepo) ResetAnalysis(context.Context, string, linkaudit.JobKind) error { return nil }

func (r *fakeRepo) ListByProjectAndKind(context.Context, string, linkaudit.JobKind) ([]linkaudit.Link, error) {
	return nil, nil
}

func (r *fakeRepo) CountOpen(context.Context, string, linkaudit.JobKind) (int, error) {
	return r.openCount, nil
}

func (r *fakeRepo) GetSheet(context.Context, string) (*linkaudit.Sheet, error) { return nil, nil }
func (r *fakeRepo) UpdateSheet(context.Context, linkaudit.Sheet) error         { return nil }
func (r *fakeRepo) ListActiveSheets(context.Context) ([]linkaudit.Sheet, error) {
	return nil, nil
}
func (r *fakeRepo) GetUserPriority(context.Context, string) (int, error) { return 0, nil }

type fakeAnalyser struct {
	verdict linkaudit.Verdict
	err     error
}

func (a *fakeAnalyser) Analyse(context.Context, string, string) (linkaudit.Verdict, error) {
	return a.verdict, a.err
}

type publishedEvent struct {
	projectID string
	kind      linkaudit.NotificationKind
	payload   any
}

type fakeNotifier struct {
	mu     sync.Mutex
	events []publishedEvent
}

func (n *fakeNotifier) Publish(_ context.Context, projectID string, kind linkaudit.NotificationKind, payload any) error {
	n.mu.Lock()
	defer n.mu.Unlock()
	n.events = append(n.events, publishedEvent{projectID: projectID, kind: kind, payload: payload})
	return nil
}

func (n *fakeNotifier) kinds() []linkaudit.NotificationKind {
	n.mu.Lock()
	defer n.mu.Unlock()
	out := make([]linkaudit.NotificationKind, len(n.events))
	for i, e := range n.events {
		out[i] = e.kind
	}
	return out
}

func runOne(t *testing.T, q *fakeQueue, r *fakeRepo, a *fakeAnalyser, n *fakeNotifier) {
	t.Helper()
	w := New(q, r, a, n, fakeClock{now: time.Unix(1000, 0)}, Config{WorkerID: "w1", IdleBackoff: time.Millisecond}, nil)
	ctx, cancel := context.WithTimeout(context.Background(), time.Second)
	defer cancel()
	done := make(chan struct{})
	go func() {
		w.Run(ctx)
		close(done)
	}()

	require.Eventually(t, func() bool {
		q.mu.Lock()
		defer q.mu.Unlock()
		return len(q.jobs) == 0 && (len(q.completed) > 0 || len(q.failed) > 0)
	}, 500*time.Millisecond, time.Millisecond)

	time.Sleep(20 * time.Millisecond)
	cancel()
	<-done
}

func TestWorkerCompletesJobAndPublishesVerdict(t *testing.T) {
	t.Parallel()

	job := linkaudit.Job{JobID: "j1", ProjectID: "p1", LinkID: "l1", Kind: linkaudit.JobKindBatch, SourceURL: "https://a.example"}
	q := &fakeQueue{jobs: []linkaudit.Job{job}}
	r := &fakeRepo{openCount: 0}
	a := &fakeAnalyser{verdict: linkaudit.Verdict{Status: linkaudit.LinkStateOK, LinkClass: linkaudit.LinkClassDofollow, ResponseCode: 200, Indexable: true}}
	n := &fakeNotifier{}

	runOne(t, q, r, a, n)

	require.Len(t, q.completed, 1)
	require.Equal(t, "j1", q.completed[0])
	require.Len(t, r.upserted, 1)
	require.Equal(t, "l1", r.upserted[0].ID)

	kinds := n.kinds()
	require.Contains(t, kinds, linkaudit.EventLinkUpdated)
	require.Contains(t, kinds, linkaudit.EventAnalysisProgress)
	require.Contains(t, kinds, linkaudit.EventAnalysisCompleted)
}

func TestWorkerDoesNotPublishCompletionWhileJobsOpen(t *testing.T) {
	t.Parallel()

	job := linkaudit.Job{JobID: "j1", ProjectID: "p1", LinkID: "l1", Kind: linkaudit.JobKindBatch}
	q := &fakeQueue{jobs: []linkaudit.Job{job}}
	r := &fakeRepo{openCount: 1}
	a := &fakeAnalyser{verdict: linkaudit.Verdict{Status: linkaudit.LinkStateOK}}
	n := &fakeNotifier{}

	runOne(t, q, r, a, n)

	require.NotContains(t, n.kinds(), linkaudit.EventAnalysisCompleted)
}

func TestWorkerUsesSheetEventKindsForSheetJobs(t *testing.T) {
	t.Parallel()

	job := linkaudit.Job{JobID: "j1", ProjectID: "p1", LinkID: "l1", Kind: linkaudit.JobKindSheet}
	q := &fakeQueue{jobs: []linkaudit.Job{job}}
	r := &fakeRepo{openCount: 0}
	a := &fakeAnalyser{verdict: linkaudit.Verdict{Status: linkaudit.LinkStateOK}}
	n := &fakeNotifier{}

	runOne(t, q, r, a, n)

	kinds := n.kinds()
	require.Contains(t, kinds, linkaudit.EventSheetsLinkUpdated)
	require.Contains(t, kinds, linkaudit.EventSheetsAnalysisCompleted)
}

func TestWorkerFailsJobOnAnalyserError(t *testing.T) {
	t.Parallel()

	job := linkaudit.Job{JobID: "j1", ProjectID: "p1", LinkID: "l1", Kind: linkaudit.JobKindBatch}
	q := &fakeQueue{jobs: []linkaudit.Job{job}}
	r := &fakeRepo{}
	a := &fakeAnalyser{err: linkaudit.NewKindError(linkaudit.KindTransientFetch, context.DeadlineExceeded)}
	n := &fakeNotifier{}

	runOne(t, q, r, a, n)

	require.Empty(t, q.completed)
	require.Equal(t, []linkaudit.Kind{linkaudit.KindTransientFetch}, q.failed)
}

func TestWorkerPublishesErrorEventOnDeadLetter(t *testing.T) {
	t.Parallel()

	job := linkaudit.Job{JobID: "j1", ProjectID: "p1", LinkID: "l1", Kind: linkaudit.JobKindBatch}
	q := &fakeQueue{jobs: []linkaudit.Job{job}, failOutcome: linkaudit.FailOutcomeDeadLetter}
	r := &fakeRepo{}
	a := &fakeAnalyser{err: linkaudit.NewKindError(linkaudit.KindHTTPError, nil)}
	n := &fakeNotifier{}

	runOne(t, q, r, a, n)

	require.Contains(t, n.kinds(), linkaudit.EventAnalysisError)
}

func TestWorkerFailsJobWhenRepositoryUpsertErrors(t *testing.T) {
	t.Parallel()

	job := linkaudit.Job{JobID: "j1", ProjectID: "p1", LinkID: "l1", Kind: linkaudit.JobKindBatch}
	q := &fakeQueue{jobs: []linkaudit.Job{job}}
	r := &fakeRepo{upsertErr: linkaudit.ErrBackendUnavailable}
	a := &fakeAnalyser{verdict: linkaudit.Verdict{Status: linkaudit.LinkStateOK}}
	n := &fakeNotifier{}

	runOne(t, q, r, a, n)

	require.Empty(t, q.completed)
	require.Equal(t, []linkaudit.Kind{linkaudit.KindBackendUnavailable}, q.failed)
}
