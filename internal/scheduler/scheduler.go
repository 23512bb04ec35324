// Package scheduler implements the single-process Recurring Scheduler
// (C6): one timer per active sheet, firing the read-enqueue-aggregate-
// writeback sequence and rearming on success.
package scheduler

import (
	"context"
	"fmt"
	"sort"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/domainlink/linkauditor/internal/linkaudit"
	"github.com/domainlink/linkauditor/internal/notify"
)

// Config controls the scheduler's arming behavior.
type Config struct {
	// ArmEpsilon is added to "now" when a loaded sheet's next_run has
	// already elapsed, so overdue sheets fire promptly on startup
	// rather than immediately colliding with other bootstrap work.
	ArmEpsilon time.Duration
}

func (c Config) withDefaults() Config {
	if c.ArmEpsilon <= 0 {
		c.ArmEpsilon = time.Second
	}
	return c
}

// Scheduler owns one timer per active ScheduledTask and drives the
// sheet run lifecycle described in the Recurring Scheduler design.
type Scheduler struct {
	repo     linkaudit.Repository
	queue    linkaudit.Queue
	sheets   linkaudit.SheetAdapter
	notifier linkaudit.Notifier
	clock    linkaudit.Clock
	idGen    linkaudit.IDGenerator
	logger   *zap.Logger
	cfg      Config

	mu     sync.Mutex
	timers map[string]*time.Timer
	runs   map[string]*sheetRun // keyed by project id
}

// sheetRun is the in-flight bookkeeping for one fired run, kept until
// the batch-completion event for its project arrives.
type sheetRun struct {
	sheet            linkaudit.Sheet
	sheetName        string
	rowIndexBySource map[string]int
}

// New constructs a Scheduler. Call Start to bootstrap from the
// repository and arm timers.
func New(
	repo linkaudit.Repository,
	queue linkaudit.Queue,
	sheets linkaudit.SheetAdapter,
	notifier linkaudit.Notifier,
	clock linkaudit.Clock,
	idGen linkaudit.IDGenerator,
	cfg Config,
	logger *zap.Logger,
) *Scheduler {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Scheduler{
		repo:     repo,
		queue:    queue,
		sheets:   sheets,
		notifier: notifier,
		clock:    clock,
		idGen:    idGen,
		logger:   logger,
		cfg:      cfg.withDefaults(),
		timers:   make(map[string]*time.Timer),
		runs:     make(map[string]*sheetRun),
	}
}

// Start loads every active sheet from the repository and arms its
// timer to max(next_run, now+epsilon).
func (s *Scheduler) Start(ctx context.Context) error {
	active, err := s.repo.ListActiveSheets(ctx)
	if err != nil {
		return fmt.Errorf("list active sheets: %w", err)
	}
	now := s.clock.Now()
	for _, sheet := range active {
		s.arm(ctx, sheet, s.initialFireAt(sheet, now))
	}
	return nil
}

// Stop cancels every armed timer. It does not affect runs already in
// flight.
func (s *Scheduler) Stop() {
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, t := range s.timers {
		t.Stop()
	}
	s.timers = make(map[string]*time.Timer)
}

func (s *Scheduler) initialFireAt(sheet linkaudit.Sheet, now time.Time) time.Time {
	if sheet.NextRun != nil && sheet.NextRun.After(now) {
		return *sheet.NextRun
	}
	return now.Add(s.cfg.ArmEpsilon)
}

func (s *Scheduler) arm(ctx context.Context, sheet linkaudit.Sheet, at time.Time) {
	if _, ok := scheduleFor(sheet.Interval); !ok {
		return
	}
	d := at.Sub(s.clock.Now())
	if d < 0 {
		d = 0
	}
	timer := time.AfterFunc(d, func() { s.fire(ctx, sheet.ID) })
	s.mu.Lock()
	s.timers[sheet.ID] = timer
	s.mu.Unlock()
}

// fire runs the steps 1-3 (mark analysing, read+enqueue, reset prior
// links) synchronously; step 4 (writeback) happens later in Consume
// once the worker pool reports the batch complete.
func (s *Scheduler) fire(ctx context.Context, sheetID string) {
	sheet, err := s.repo.GetSheet(ctx, sheetID)
	if err != nil {
		s.logger.Error("scheduler: get sheet failed", zap.String("sheet_id", sheetID), zap.Error(err))
		return
	}
	if sheet == nil {
		return
	}
	if err := s.runSheet(ctx, *sheet); err != nil {
		s.failSheet(ctx, *sheet, err)
	}
}

func (s *Scheduler) runSheet(ctx context.Context, sheet linkaudit.Sheet) error {
	sheet.Status = linkaudit.SheetStatusAnalysing
	if err := s.repo.UpdateSheet(ctx, sheet); err != nil {
		return fmt.Errorf("mark analysing: %w", err)
	}

	meta, err := s.sheets.GetMetadata(ctx, sheet.SpreadsheetRef.SpreadsheetID)
	if err != nil {
		return fmt.Errorf("sheet metadata: %w", err)
	}
	sheetName := meta.SheetNames[sheet.SpreadsheetRef.SheetGID]

	result, err := s.sheets.Read(ctx, sheet.SpreadsheetRef, sheetName, sheet.URLColumn, sheet.TargetColumn, sheet.ResultRange, sheet.TargetDomain)
	if err != nil {
		return fmt.Errorf("sheet read: %w", err)
	}

	// The sheet is authoritative for this run: drop any links from a
	// prior run before creating new rows.
	if err := s.repo.ResetAnalysis(ctx, sheet.ProjectID, linkaudit.JobKindSheet); err != nil {
		return fmt.Errorf("reset prior analysis: %w", err)
	}

	priority, err := s.repo.GetUserPriority(ctx, sheet.UserID)
	if err != nil {
		priority = linkaudit.PriorityFree
	}

	now := s.clock.Now()
	rowIndex := make(map[string]int, len(result.URLs))
	for i, sourceURL := range result.URLs {
		target := sheet.TargetDomain
		if i < len(result.Targets) && result.Targets[i] != "" {
			target = result.Targets[i]
		}
		linkID, err := s.idGen.NewID()
		if err != nil {
			return fmt.Errorf("new link id: %w", err)
		}
		jobID, err := s.idGen.NewID()
		if err != nil {
			return fmt.Errorf("new job id: %w", err)
		}
		job := linkaudit.Job{
			JobID:        jobID,
			Kind:         linkaudit.JobKindSheet,
			UserID:       sheet.UserID,
			ProjectID:    sheet.ProjectID,
			LinkID:       linkID,
			SheetID:      sheet.ID,
			SourceURL:    sourceURL,
			TargetDomain: target,
			Priority:     priority,
			EnqueuedAt:   now,
		}
		if err := s.queue.Enqueue(ctx, job); err != nil {
			return fmt.Errorf("enqueue sheet job: %w", err)
		}
		rowIndex[sourceURL] = i
	}

	s.mu.Lock()
	s.runs[sheet.ProjectID] = &sheetRun{sheet: sheet, sheetName: sheetName, rowIndexBySource: rowIndex}
	s.mu.Unlock()

	return s.notifier.Publish(ctx, sheet.ProjectID, linkaudit.EventSheetsAnalysisStarted, nil)
}

func (s *Scheduler) failSheet(ctx context.Context, sheet linkaudit.Sheet, cause error) {
	sheet.Status = linkaudit.SheetStatusError
	if err := s.repo.UpdateSheet(ctx, sheet); err != nil {
		s.logger.Error("scheduler: mark sheet error failed", zap.String("sheet_id", sheet.ID), zap.Error(err))
	}
	if err := s.notifier.Publish(ctx, sheet.ProjectID, linkaudit.EventSheetsAnalysisError,
		map[string]string{"sheet_id": sheet.ID, "error": cause.Error()}); err != nil {
		s.logger.Warn("scheduler: publish error event failed", zap.String("sheet_id", sheet.ID), zap.Error(err))
	}
	s.logger.Warn("scheduler: sheet run failed", zap.String("sheet_id", sheet.ID), zap.Error(cause))
}

// Consume implements notify.Sink: the scheduler listens on the same
// hub as every other sink for sheets_analysis_completed, which is how
// it learns the worker pool has drained this project's sheet batch.
func (s *Scheduler) Consume(ctx context.Context, batch []notify.Event) error {
	for _, evt := range batch {
		if evt.Kind != linkaudit.EventSheetsAnalysisCompleted {
			continue
		}
		s.completeRun(ctx, evt.ProjectID)
	}
	return nil
}

// Close implements notify.Sink; the scheduler holds no external
// resources to release.
func (s *Scheduler) Close(context.Context) error { return nil }

func (s *Scheduler) completeRun(ctx context.Context, projectID string) {
	s.mu.Lock()
	run := s.runs[projectID]
	delete(s.runs, projectID)
	s.mu.Unlock()
	if run == nil {
		return
	}

	if err := s.writeback(ctx, run); err != nil {
		s.failSheet(ctx, run.sheet, err)
		return
	}

	sheet := run.sheet
	now := s.clock.Now()
	sheet.Status = linkaudit.SheetStatusChecked
	sheet.LastRun = &now
	sheet.RunCount++
	if schedule, ok := scheduleFor(sheet.Interval); ok {
		next := schedule.Next(now)
		sheet.NextRun = &next
	}
	if err := s.repo.UpdateSheet(ctx, sheet); err != nil {
		s.logger.Error("scheduler: update sheet after run failed", zap.String("sheet_id", sheet.ID), zap.Error(err))
		return
	}
	at := now
	if sheet.NextRun != nil {
		at = *sheet.NextRun
	}
	s.arm(ctx, sheet, at)
}

func (s *Scheduler) writeback(ctx context.Context, run *sheetRun) error {
	links, err := s.repo.ListByProjectAndKind(ctx, run.sheet.ProjectID, linkaudit.JobKindSheet)
	if err != nil {
		return fmt.Errorf("list sheet links: %w", err)
	}

	rows := make([]linkaudit.SheetRow, 0, len(links))
	for _, link := range links {
		idx, ok := run.rowIndexBySource[link.SourceURL]
		if !ok {
			continue
		}
		row := linkaudit.SheetRow{RowIndex: idx, Status: link.State}
		if link.ResponseCode != nil {
			row.ResponseCode = *link.ResponseCode
		}
		if link.Indexable != nil {
			row.Indexable = *link.Indexable
		}
		if link.NonIndexableReason != nil {
			row.NonIndexableReason = *link.NonIndexableReason
		}
		if link.LinkClass != nil {
			row.LinkFound = *link.LinkClass != linkaudit.LinkClassAbsent
		}
		if link.CheckedAt != nil {
			row.CheckedAt = *link.CheckedAt
		}
		rows = append(rows, row)
	}
	sort.Slice(rows, func(i, j int) bool { return rows[i].RowIndex < rows[j].RowIndex })

	if err := s.sheets.WriteVerdicts(ctx, run.sheet.SpreadsheetRef, run.sheetName, run.sheet.ResultRange, rows); err != nil {
		return fmt.Errorf("write verdicts: %w", err)
	}
	// Formatting is best-effort: failure is logged, not propagated.
	if err := s.sheets.Format(ctx, run.sheet.SpreadsheetRef, run.sheetName, run.sheet.ResultRange, rows); err != nil {
		s.logger.Warn("scheduler: sheet format failed", zap.String("sheet_id", run.sheet.ID), zap.Error(err))
	}
	return nil
}
