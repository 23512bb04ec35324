// Package linkaudit defines the core domain types and capability
// interfaces shared across the priority queue, worker pool, analyser,
// scheduler, repository, and notifier subsystems.
package linkaudit

import "time"

// JobKind distinguishes the two producers that share one queue.
type JobKind string

const (
	JobKindBatch JobKind = "batch"
	JobKindSheet JobKind = "sheet"
)

// LinkState is the lifecycle state of a Link row.
type LinkState string

const (
	LinkStatePending LinkState = "pending"
	LinkStateRunning LinkState = "running"
	LinkStateOK      LinkState = "ok"
	LinkStateProblem LinkState = "problem"
)

// LinkClass is the outcome of rel-token classification.
type LinkClass string

const (
	LinkClassDofollow LinkClass = "dofollow"
	LinkClassNofollow LinkClass = "nofollow"
	LinkClassSponsored LinkClass = "sponsored"
	LinkClassUGC      LinkClass = "ugc"
	LinkClassAbsent   LinkClass = "absent"
)

// Link is the row produced by one analysis run of one (source_url,
// target_domain) pair.
type Link struct {
	ID                  string     `json:"id" db:"id"`
	ProjectID           string     `json:"project_id" db:"project_id"`
	SourceURL           string     `json:"source_url" db:"source_url"`
	TargetDomain        string     `json:"target_domain" db:"target_domain"`
	OriginalTargetDomain string    `json:"original_target_domain" db:"original_target_domain"`
	Kind                JobKind    `json:"kind" db:"kind"`
	State               LinkState  `json:"state" db:"state"`
	ResponseCode        *int       `json:"response_code,omitempty" db:"response_code"`
	Indexable           *bool      `json:"indexable,omitempty" db:"indexable"`
	LinkClass           *LinkClass `json:"link_class,omitempty" db:"link_class"`
	CanonicalURL        *string    `json:"canonical_url,omitempty" db:"canonical_url"`
	LoadTimeMs          *int64     `json:"load_time_ms,omitempty" db:"load_time_ms"`
	MatchedAnchorHTML   *string    `json:"matched_anchor_html,omitempty" db:"matched_anchor_html"`
	NonIndexableReason  *string    `json:"non_indexable_reason,omitempty" db:"non_indexable_reason"`
	CheckedAt           *time.Time `json:"checked_at,omitempty" db:"checked_at"`
	UpdatedAt           time.Time  `json:"updated_at" db:"updated_at"`
}

// SheetInterval is the closed set of recurrence intervals a Sheet may
// be scheduled at.
type SheetInterval string

const (
	IntervalManual SheetInterval = "manual"
	Interval5m     SheetInterval = "5m"
	Interval30m    SheetInterval = "30m"
	Interval1h     SheetInterval = "1h"
	Interval4h     SheetInterval = "4h"
	Interval8h     SheetInterval = "8h"
	Interval12h    SheetInterval = "12h"
	Interval1d     SheetInterval = "1d"
	Interval3d     SheetInterval = "3d"
	Interval1w     SheetInterval = "1w"
	Interval1M     SheetInterval = "1M"
)

// SheetStatus is the lifecycle state of a recurring sheet.
type SheetStatus string

const (
	SheetStatusNotStarted SheetStatus = "not_started"
	SheetStatusAnalysing  SheetStatus = "analysing"
	SheetStatusChecked    SheetStatus = "checked"
	SheetStatusInactive   SheetStatus = "inactive"
	SheetStatusError      SheetStatus = "error"
)

// ResultRangeWidth is invariant: a sheet always writes exactly five
// contiguous result columns.
const ResultRangeWidth = 5

// Sheet is a recurring, spreadsheet-driven audit configuration.
type Sheet struct {
	ID             string        `json:"id" db:"id"`
	ProjectID      string        `json:"project_id" db:"project_id"`
	UserID         string        `json:"user_id" db:"user_id"`
	SpreadsheetRef SpreadsheetRef `json:"spreadsheet_ref" db:"spreadsheet_ref"`
	TargetDomain   string        `json:"target_domain" db:"target_domain"`
	URLColumn      string        `json:"url_column" db:"url_column"`
	TargetColumn   string        `json:"target_column" db:"target_column"`
	ResultRange    string        `json:"result_range" db:"result_range"`
	Interval       SheetInterval `json:"interval" db:"interval"`
	Status         SheetStatus   `json:"status" db:"status"`
	LastRun        *time.Time    `json:"last_run,omitempty" db:"last_run"`
	NextRun        *time.Time    `json:"next_run,omitempty" db:"next_run"`
	RunCount       int           `json:"run_count" db:"run_count"`
}

// SpreadsheetRef identifies one sheet within one spreadsheet.
type SpreadsheetRef struct {
	SpreadsheetID string `json:"spreadsheet_id"`
	SheetGID      int64  `json:"sheet_gid"`
}

// Priority levels, lower value is higher importance.
const (
	PriorityEnterprise = 1
	PriorityPro        = 2
	PriorityStarter    = 3
	PriorityFree       = 4
)

// Job is the unit of work handed off through the priority queue.
type Job struct {
	JobID        string    `json:"job_id"`
	Kind         JobKind   `json:"kind"`
	UserID       string    `json:"user_id"`
	ProjectID    string    `json:"project_id"`
	LinkID       string    `json:"link_id,omitempty"`
	SheetID      string    `json:"sheet_id,omitempty"`
	SourceURL    string    `json:"source_url"`
	TargetDomain string    `json:"target_domain"`
	Priority     int       `json:"priority"`
	Attempts     int       `json:"attempts"`
	EnqueuedAt   time.Time `json:"enqueued_at"`
	DedupEpoch   int64     `json:"dedup_epoch,omitempty"`
}

// ScheduledTask is the scheduler's in-memory bookkeeping record for one
// active sheet. TimerHandle is opaque to everything but the scheduler
// that owns it.
type ScheduledTask struct {
	SheetID     string
	Interval    SheetInterval
	NextFireAt  time.Time
	LastFireAt  *time.Time
	FireCount   int
	TimerHandle any
}

// Verdict is the analyser's structured output for one job.
type Verdict struct {
	Status             LinkState
	ResponseCode       int
	Indexable          bool
	LinkClass          LinkClass
	CanonicalURL       string
	LoadTimeMs         int64
	MatchedAnchorHTML  string
	NonIndexableReason string
	CheckedAt          time.Time
}

// NotificationKind is the closed set of event kinds the notifier may
// publish.
type NotificationKind string

const (
	EventLinkUpdated              NotificationKind = "link_updated"
	EventAnalysisStarted          NotificationKind = "analysis_started"
	EventAnalysisProgress         NotificationKind = "analysis_progress"
	EventAnalysisCompleted        NotificationKind = "analysis_completed"
	EventAnalysisError            NotificationKind = "analysis_error"
	EventSheetsLinkUpdated        NotificationKind = "sheets_link_updated"
	EventSheetsAnalysisStarted    NotificationKind = "sheets_analysis_started"
	EventSheetsAnalysisProgress   NotificationKind = "sheets_analysis_progress"
	EventSheetsAnalysisCompleted  NotificationKind = "sheets_analysis_completed"
	EventSheetsAnalysisError      NotificationKind = "sheets_analysis_error"
)

// VerdictPayload is the wire schema published alongside link_updated
// and sheets_link_updated events.
type VerdictPayload struct {
	ProjectID          string    `json:"projectId"`
	LinkID             string    `json:"linkId"`
	Status             LinkState `json:"status"`
	ResponseCode       int       `json:"responseCode"`
	Indexable          bool      `json:"indexable"`
	LinkClass          LinkClass `json:"linkClass"`
	CanonicalURL       string    `json:"canonicalUrl,omitempty"`
	LoadTime           int64     `json:"loadTime"`
	MatchedAnchorHTML  string    `json:"matchedAnchorHtml,omitempty"`
	NonIndexableReason string    `json:"nonIndexableReason,omitempty"`
	CheckedAt          string    `json:"checkedAt"`
}
