package linkaudit

import (
	"context"
	"time"
)

// Clock abstracts time.Now for deterministic tests.
type Clock interface {
	Now() time.Time
}

// IDGenerator mints opaque unique identifiers.
type IDGenerator interface {
	NewID() (string, error)
}

// Repository is the capability interface C1. All mutations are
// idempotent by id.
type Repository interface {
	GetLink(ctx context.Context, id string) (*Link, error)
	UpsertLink(ctx context.Context, link Link) error
	ResetAnalysis(ctx context.Context, projectID string, kind JobKind) error
	ListByProjectAndKind(ctx context.Context, projectID string, kind JobKind) ([]Link, error)
	// CountOpen reports links for projectID/kind still in a
	// non-terminal state (pending or running), used by the batch
	// completion check in §4.7.
	CountOpen(ctx context.Context, projectID string, kind JobKind) (int, error)

	GetSheet(ctx context.Context, id string) (*Sheet, error)
	UpdateSheet(ctx context.Context, sheet Sheet) error
	// ListActiveSheets returns sheets with a non-manual interval,
	// ordered by next_run, for scheduler bootstrap.
	ListActiveSheets(ctx context.Context) ([]Sheet, error)

	GetUserPriority(ctx context.Context, userID string) (int, error)
}

// Notifier is the capability interface C2: a publish/subscribe sink
// keyed by project id.
type Notifier interface {
	Publish(ctx context.Context, projectID string, kind NotificationKind, payload any) error
}

// RenderResult is returned by Renderer.Render: the primary document's
// observable HTTP semantics plus its rendered DOM.
type RenderResult struct {
	PrimaryStatus  int
	FinalURL       string
	PrimaryHeaders map[string][]string
	DOM            string
	LoadTimeMs     int64
}

// Renderer is the capability C3 uses for step 1 (direct render) and
// step 4 (reload-and-scroll retry).
type Renderer interface {
	// Render navigates to url with the given user-agent and an
	// overall timeout, waits for DOM-content-loaded plus a settle
	// duration, and returns the outerHTML of the document.
	Render(ctx context.Context, url, userAgent string, timeout, settle time.Duration) (RenderResult, error)
	// ReloadAndScroll reloads the last-navigated page, scrolls to the
	// bottom, waits, and re-extracts. It must be called against a
	// context produced by a prior Render call on the same Renderer
	// instance.
	ReloadAndScroll(ctx context.Context, settle, postScrollWait time.Duration) (RenderResult, error)
}

// ProxyResult is returned by a RenderingProxy.Fetch call.
type ProxyResult struct {
	Status          int
	HTML            string
	ResponseTimeMs  int64
}

// RenderingProxy is the capability C3 falls back to in step 5.
type RenderingProxy interface {
	Fetch(ctx context.Context, url string, headers map[string]string, render bool, timeout time.Duration) (ProxyResult, error)
	// Enabled reports whether an API token is configured; callers must
	// check this before attempting fallback.
	Enabled() bool
}

// Analyser is the capability interface C3.
type Analyser interface {
	Analyse(ctx context.Context, sourceURL, targetDomain string) (Verdict, error)
}

// Queue is the capability interface C4.
type Queue interface {
	Enqueue(ctx context.Context, job Job) error
	Lease(ctx context.Context, workerID string, timeout time.Duration) (*Job, error)
	Complete(ctx context.Context, jobID string) error
	Fail(ctx context.Context, jobID string, reason Kind) (FailOutcome, error)
	Stats(ctx context.Context) (QueueStats, error)
	ListByProject(ctx context.Context, projectID string) ([]Job, error)
	// ReapStaleLeases requeues any lease older than the lease timeout.
	// No component in this module calls it: neither startup nor a
	// periodic sweep invokes it.
	ReapStaleLeases(ctx context.Context, leaseTimeout time.Duration) (int, error)
}

// FailOutcome reports what Fail did with a failed job.
type FailOutcome string

const (
	FailOutcomeRetried    FailOutcome = "retried"
	FailOutcomeDeadLetter FailOutcome = "dead_letter"
)

// QueueStats is the introspection payload returned by Queue.Stats.
type QueueStats struct {
	Waiting    int
	Leased     int
	Completed  int
	DeadLetter int
}

// SheetReadResult is returned by SheetAdapter.Read.
type SheetReadResult struct {
	URLs           []string
	Targets        []string
	HasExistingData bool
	TotalRows      int
	UniqueURLs     int
}

// SheetAdapter is the capability interface C7.
type SheetAdapter interface {
	GetMetadata(ctx context.Context, spreadsheetID string) (SpreadsheetMetadata, error)
	Read(ctx context.Context, ref SpreadsheetRef, sheetName, urlCol, targetCol, resultRange, defaultTarget string) (SheetReadResult, error)
	WriteVerdicts(ctx context.Context, ref SpreadsheetRef, sheetName, resultRange string, verdicts []SheetRow) error
	Format(ctx context.Context, ref SpreadsheetRef, sheetName, resultRange string, verdicts []SheetRow) error
}

// SpreadsheetMetadata resolves a sheet gid to its sheet name.
type SpreadsheetMetadata struct {
	SheetNames map[int64]string
}

// SheetRow is one row written back to a sheet's five result columns,
// in the order the spec fixes: Status, ResponseCode, Indexable,
// NonIndexableReason, LinkFound.
type SheetRow struct {
	RowIndex           int
	Status             LinkState
	ResponseCode       int
	Indexable          bool
	NonIndexableReason string
	LinkFound          bool
	CheckedAt          time.Time
}
