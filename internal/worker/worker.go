// Package worker implements the pool of executors draining the
// priority queue and running each job through the link analyser.
package worker

import (
	"context"
	"errors"
	"time"

	"go.uber.org/zap"

	"github.com/domainlink/linkauditor/internal/linkaudit"
	"github.com/domainlink/linkauditor/internal/telemetry"
)

// Config controls Worker behavior.
type Config struct {
	WorkerID     string
	LeaseTimeout time.Duration
	IdleBackoff  time.Duration
}

func (c Config) withDefaults() Config {
	if c.LeaseTimeout <= 0 {
		c.LeaseTimeout = 90 * time.Second
	}
	if c.IdleBackoff <= 0 {
		c.IdleBackoff = 250 * time.Millisecond
	}
	return c
}

// Worker leases jobs from the priority queue, runs them through the
// analyser, persists the verdict, and publishes the resulting events.
type Worker struct {
	queue    linkaudit.Queue
	repo     linkaudit.Repository
	analyser linkaudit.Analyser
	notifier linkaudit.Notifier
	clock    linkaudit.Clock
	cfg      Config
	logger   *zap.Logger
}

// New constructs a Worker.
func New(
	queue linkaudit.Queue,
	repo linkaudit.Repository,
	analyser linkaudit.Analyser,
	notifier linkaudit.Notifier,
	clock linkaudit.Clock,
	cfg Config,
	logger *zap.Logger,
) *Worker {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Worker{
		queue:    queue,
		repo:     repo,
		analyser: analyser,
		notifier: notifier,
		clock:    clock,
		cfg:      cfg.withDefaults(),
		logger:   logger,
	}
}

// Run blocks, leasing and processing jobs until ctx is done. A nil
// lease with no error means the queue was empty; the worker backs off
// briefly before leasing again.
func (w *Worker) Run(ctx context.Context) {
	for {
		if ctx.Err() != nil {
			return
		}
		job, err := w.queue.Lease(ctx, w.cfg.WorkerID, w.cfg.LeaseTimeout)
		if err != nil {
			if ctx.Err() != nil {
				return
			}
			w.logger.Error("queue lease failed", zap.Error(err))
			continue
		}
		if job == nil {
			select {
			case <-time.After(w.cfg.IdleBackoff):
			case <-ctx.Done():
				return
			}
			continue
		}
		telemetry.ObserveLease()
		w.processJob(ctx, *job)
	}
}

func (w *Worker) processJob(ctx context.Context, job linkaudit.Job) {
	start := time.Now()
	verdict, err := w.analyser.Analyse(ctx, job.SourceURL, job.TargetDomain)
	if err != nil {
		telemetry.ObserveAnalyserRun("error", time.Since(start))
		w.failJob(ctx, job, err)
		return
	}
	telemetry.ObserveAnalyserRun(string(verdict.Status), time.Since(start))

	link := linkaudit.Link{
		ID:           job.LinkID,
		ProjectID:    job.ProjectID,
		SourceURL:    job.SourceURL,
		TargetDomain: job.TargetDomain,
		Kind:         job.Kind,
		State:        verdict.Status,
		ResponseCode: &verdict.ResponseCode,
		Indexable:    &verdict.Indexable,
		LinkClass:    &verdict.LinkClass,
		LoadTimeMs:   &verdict.LoadTimeMs,
		CheckedAt:    &verdict.CheckedAt,
		UpdatedAt:    w.clock.Now(),
	}
	if verdict.CanonicalURL != "" {
		link.CanonicalURL = &verdict.CanonicalURL
	}
	if verdict.MatchedAnchorHTML != "" {
		link.MatchedAnchorHTML = &verdict.MatchedAnchorHTML
	}
	if verdict.NonIndexableReason != "" {
		link.NonIndexableReason = &verdict.NonIndexableReason
	}

	if err := w.repo.UpsertLink(ctx, link); err != nil {
		w.failJob(ctx, job, linkaudit.NewKindError(linkaudit.KindBackendUnavailable, err))
		return
	}

	if err := w.queue.Complete(ctx, job.JobID); err != nil {
		w.logger.Error("queue complete failed", zap.String("job_id", job.JobID), zap.Error(err))
	}

	w.publishVerdict(ctx, job, verdict)
	w.publishProgress(ctx, job)

	if w.projectKindComplete(ctx, job.ProjectID, job.Kind) {
		w.publishCompletion(ctx, job)
	}
}

func (w *Worker) failJob(ctx context.Context, job linkaudit.Job, cause error) {
	kind, ok := linkaudit.KindOf(cause)
	if !ok {
		kind = w.classifyError(cause)
	}
	outcome, err := w.queue.Fail(ctx, job.JobID, kind)
	if err != nil {
		w.logger.Error("queue fail failed", zap.String("job_id", job.JobID), zap.Error(err))
	}
	w.logger.Warn("job failed",
		zap.String("job_id", job.JobID),
		zap.String("kind", string(kind)),
		zap.String("outcome", string(outcome)),
		zap.Error(cause),
	)
	if outcome == linkaudit.FailOutcomeDeadLetter {
		w.publishError(ctx, job, cause)
	}
}

func (w *Worker) classifyError(err error) linkaudit.Kind {
	if errors.Is(err, context.DeadlineExceeded) || errors.Is(err, context.Canceled) {
		return linkaudit.KindTransientFetch
	}
	return linkaudit.KindTransientFetch
}

func (w *Worker) publishVerdict(ctx context.Context, job linkaudit.Job, verdict linkaudit.Verdict) {
	kind := linkaudit.EventLinkUpdated
	if job.Kind == linkaudit.JobKindSheet {
		kind = linkaudit.EventSheetsLinkUpdated
	}
	payload := linkaudit.VerdictPayload{
		ProjectID:          job.ProjectID,
		LinkID:             job.LinkID,
		Status:             verdict.Status,
		ResponseCode:       verdict.ResponseCode,
		Indexable:          verdict.Indexable,
		LinkClass:          verdict.LinkClass,
		CanonicalURL:       verdict.CanonicalURL,
		LoadTime:           verdict.LoadTimeMs,
		MatchedAnchorHTML:  verdict.MatchedAnchorHTML,
		NonIndexableReason: verdict.NonIndexableReason,
		CheckedAt:          verdict.CheckedAt.UTC().Format(time.RFC3339),
	}
	if err := w.notifier.Publish(ctx, job.ProjectID, kind, payload); err != nil {
		w.logger.Warn("publish verdict failed", zap.String("job_id", job.JobID), zap.Error(err))
	}
}

func (w *Worker) publishProgress(ctx context.Context, job linkaudit.Job) {
	kind := linkaudit.EventAnalysisProgress
	if job.Kind == linkaudit.JobKindSheet {
		kind = linkaudit.EventSheetsAnalysisProgress
	}
	remaining, err := w.repo.CountOpen(ctx, job.ProjectID, job.Kind)
	if err != nil {
		return
	}
	_ = w.notifier.Publish(ctx, job.ProjectID, kind, map[string]int{"remaining": remaining})
}

func (w *Worker) publishCompletion(ctx context.Context, job linkaudit.Job) {
	kind := linkaudit.EventAnalysisCompleted
	if job.Kind == linkaudit.JobKindSheet {
		kind = linkaudit.EventSheetsAnalysisCompleted
	}
	if err := w.notifier.Publish(ctx, job.ProjectID, kind, nil); err != nil {
		w.logger.Warn("publish completion failed", zap.String("project_id", job.ProjectID), zap.Error(err))
	}
}

func (w *Worker) publishError(ctx context.Context, job linkaudit.Job, cause error) {
	kind := linkaudit.EventAnalysisError
	if job.Kind == linkaudit.JobKindSheet {
		kind = linkaudit.EventSheetsAnalysisError
	}
	payload := map[string]string{"job_id": job.JobID, "link_id": job.LinkID, "error": cause.Error()}
	if err := w.notifier.Publish(ctx, job.ProjectID, kind, payload); err != nil {
		w.logger.Warn("publish error event failed", zap.String("project_id", job.ProjectID), zap.Error(err))
	}
}

// projectKindComplete implements the §4.7 batch-completion check: no
// jobs for projectID/kind may remain waiting or leased in the queue,
// nor pending/running in the repository.
func (w *Worker) projectKindComplete(ctx context.Context, projectID string, kind linkaudit.JobKind) bool {
	openInRepo, err := w.repo.CountOpen(ctx, projectID, kind)
	if err != nil {
		w.logger.Warn("count open failed", zap.String("project_id", projectID), zap.Error(err))
		return false
	}
	if openInRepo > 0 {
		return false
	}
	jobs, err := w.queue.ListByProject(ctx, projectID)
	if err != nil {
		w.logger.Warn("list by project failed", zap.String("project_id", projectID), zap.Error(err))
		return false
	}
	for _, j := range jobs {
		if j.Kind == kind {
			return false
		}
	}
	return true
}
