// Package postgres implements linkaudit.Repository against a
// relational store via pgx/pgxpool.
package postgres

import (
	"context"
	"fmt"
	"regexp"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/domainlink/linkauditor/internal/linkaudit"
)

var validTableName = regexp.MustCompile(`^[a-zA-Z_][a-zA-Z0-9_]*$`)

// querier is the subset of *pgxpool.Pool the repository depends on,
// narrowed so tests can substitute pgxmock.
type querier interface {
	Exec(context.Context, string, ...any) (pgconn.CommandTag, error)
	Query(context.Context, string, ...any) (pgx.Rows, error)
	QueryRow(context.Context, string, ...any) pgx.Row
	Close()
}

// Config controls the connection pool and table names.
type Config struct {
	DSN             string
	LinksTable      string
	SheetsTable     string
	UserPlansTable  string
	MaxConns        int32
	MinConns        int32
	MaxConnLifetime time.Duration
}

func (c Config) withDefaults() Config {
	if c.LinksTable == "" {
		c.LinksTable = "links"
	}
	if c.SheetsTable == "" {
		c.SheetsTable = "sheets"
	}
	if c.UserPlansTable == "" {
		c.UserPlansTable = "user_plans"
	}
	return c
}

// Repository is a Postgres-backed implementation of
// linkaudit.Repository.
type Repository struct {
	pool querier
	cfg  Config
}

// New connects to Postgres using cfg.DSN and validates table names
// before any query is built with fmt.Sprintf, since table identifiers
// cannot be bound as query parameters.
func New(ctx context.Context, cfg Config) (*Repository, error) {
	if cfg.DSN == "" {
		return nil, fmt.Errorf("database dsn is required")
	}
	cfg = cfg.withDefaults()
	for _, t := range []string{cfg.LinksTable, cfg.SheetsTable, cfg.UserPlansTable} {
		if !validTableName.MatchString(t) {
			return nil, fmt.Errorf("invalid table name %q", t)
		}
	}
	poolCfg, err := pgxpool.ParseConfig(cfg.DSN)
	if err != nil {
		return nil, fmt.Errorf("parse postgres dsn: %w", err)
	}
	if cfg.MaxConns > 0 {
		poolCfg.MaxConns = cfg.MaxConns
	}
	if cfg.MinConns > 0 {
		poolCfg.MinConns = cfg.MinConns
	}
	if cfg.MaxConnLifetime > 0 {
		poolCfg.MaxConnLifetime = cfg.MaxConnLifetime
	}
	pool, err := pgxpool.NewWithConfig(ctx, poolCfg)
	if err != nil {
		return nil, fmt.Errorf("connect postgres: %w", err)
	}
	return &Repository{pool: pool, cfg: cfg}, nil
}

// NewWithQuerier builds a Repository over an existing querier
// (pgxpool.Pool or pgxmock), primarily for tests.
func NewWithQuerier(q querier, cfg Config) (*Repository, error) {
	cfg = cfg.withDefaults()
	return &Repository{pool: q, cfg: cfg}, nil
}

// Close releases pool resources.
func (r *Repository) Close() {
	if r == nil || r.pool == nil {
		return
	}
	r.pool.Close()
}

func (r *Repository) GetLink(ctx context.Context, id string) (*linkaudit.Link, error) {
	query := fmt.Sprintf(`
SELECT id, project_id, source_url, target_domain, original_target_domain, kind, state,
       response_code, indexable, link_class, canonical_url, load_time_ms,
       matched_anchor_html, non_indexable_reason, checked_at, updated_at
FROM %s WHERE id = $1`, r.cfg.LinksTable)

	row := r.pool.QueryRow(ctx, query, id)
	link, err := scanLink(row)
	if err != nil {
		return nil, fmt.Errorf("get link %s: %w", id, err)
	}
	return link, nil
}

// UpsertLink is idempotent by id: a second call with the same id
// replaces the row in place rather than producing a duplicate.
func (r *Repository) UpsertLink(ctx context.Context, link linkaudit.Link) error {
	query := fmt.Sprintf(`
INSERT INTO %s (
	id, project_id, source_url, target_domain, original_target_domain, kind, state,
	response_code, indexable, link_class, canonical_url, load_time_ms,
	matched_anchor_html, non_indexable_reason, checked_at, updated_at
) VALUES ($1,$2,$3,$4,$5,$6,$7,$8,$9,$10,$11,$12,$13,$14,$15,$16)
ON CONFLICT (id) DO UPDATE SET
	state = EXCLUDED.state,
	response_code = EXCLUDED.response_code,
	indexable = EXCLUDED.indexable,
	link_class = EXCLUDED.link_class,
	canonical_url = EXCLUDED.canonical_url,
	load_time_ms = EXCLUDED.load_time_ms,
	matched_anchor_html = EXCLUDED.matched_anchor_html,
	non_indexable_reason = EXCLUDED.non_indexable_reason,
	checked_at = EXCLUDED.checked_at,
	updated_at = EXCLUDED.updated_at`, r.cfg.LinksTable)

	_, err := r.pool.Exec(ctx, query,
		link.ID, link.ProjectID, link.SourceURL, link.TargetDomain, link.OriginalTargetDomain,
		link.Kind, link.State, link.ResponseCode, link.Indexable, link.LinkClass,
		link.CanonicalURL, link.LoadTimeMs, link.MatchedAnchorHTML, link.NonIndexableReason,
		link.CheckedAt, link.UpdatedAt,
	)
	if err != nil {
		return fmt.Errorf("%w: upsert link: %v", linkaudit.ErrBackendUnavailable, err)
	}
	return nil
}

func (r *Repository) ResetAnalysis(ctx context.Context, projectID string, kind linkaudit.JobKind) error {
	query := fmt.Sprintf(`DELETE FROM %s WHERE project_id = $1 AND kind = $2`, r.cfg.LinksTable)
	if _, err := r.pool.Exec(ctx, query, projectID, kind); err != nil {
		return fmt.Errorf("%w: reset analysis: %v", linkaudit.ErrBackendUnavailable, err)
	}
	return nil
}

func (r *Repository) ListByProjectAndKind(ctx context.Context, projectID string, kind linkaudit.JobKind) ([]linkaudit.Link, error) {
	query := fmt.Sprintf(`
SELECT id, project_id, source_url, target_domain, original_target_domain, kind, state,
       response_code, indexable, link_class, canonical_url, load_time_ms,
       matched_anchor_html, non_indexable_reason, checked_at, updated_at
FROM %s WHERE project_id = $1 AND kind = $2 ORDER BY id`, r.cfg.LinksTable)

	rows, err := r.pool.Query(ctx, query, projectID, kind)
	if err != nil {
		return nil, fmt.Errorf("%w: list links: %v", linkaudit.ErrBackendUnavailable, err)
	}
	defer rows.Close()

	var out []linkaudit.Link
	for rows.Next() {
		link, err := scanLink(rows)
		if err != nil {
			return nil, fmt.Errorf("scan link row: %w", err)
		}
		out = append(out, *link)
	}
	return out, rows.Err()
}

func (r *Repository) CountOpen(ctx context.Context, projectID string, kind linkaudit.JobKind) (int, error) {
	query := fmt.Sprintf(`
SELECT count(*) FROM %s
WHERE project_id = $1 AND kind = $2 AND state IN ($3, $4)`, r.cfg.LinksTable)

	var count int
	err := r.pool.QueryRow(ctx, query, projectID, kind, linkaudit.LinkStatePending, linkaudit.LinkStateRunning).Scan(&count)
	if err != nil {
		return 0, fmt.Errorf("%w: count open links: %v", linkaudit.ErrBackendUnavailable, err)
	}
	return count, nil
}

func (r *Repository) GetSheet(ctx context.Context, id string) (*linkaudit.Sheet, error) {
	query := fmt.Sprintf(`
SELECT id, project_id, user_id, spreadsheet_id, sheet_gid, target_domain, url_column,
       target_column, result_range, interval, status, last_run, next_run, run_count
FROM %s WHERE id = $1`, r.cfg.SheetsTable)

	row := r.pool.QueryRow(ctx, query, id)
	sheet, err := scanSheet(row)
	if err != nil {
		return nil, fmt.Errorf("get sheet %s: %w", id, err)
	}
	return sheet, nil
}

func (r *Repository) UpdateSheet(ctx context.Context, sheet linkaudit.Sheet) error {
	query := fmt.Sprintf(`
INSERT INTO %s (
	id, project_id, user_id, spreadsheet_id, sheet_gid, target_domain, url_column,
	target_column, result_range, interval, status, last_run, next_run, run_count
) VALUES ($1,$2,$3,$4,$5,$6,$7,$8,$9,$10,$11,$12,$13,$14)
ON CONFLICT (id) DO UPDATE SET
	target_domain = EXCLUDED.target_domain,
	url_column = EXCLUDED.url_column,
	target_column = EXCLUDED.target_column,
	result_range = EXCLUDED.result_range,
	interval = EXCLUDED.interval,
	status = EXCLUDED.status,
	last_run = EXCLUDED.last_run,
	next_run = EXCLUDED.next_run,
	run_count = EXCLUDED.run_count`, r.cfg.SheetsTable)

	_, err := r.pool.Exec(ctx, query,
		sheet.ID, sheet.ProjectID, sheet.UserID, sheet.SpreadsheetRef.SpreadsheetID, sheet.SpreadsheetRef.SheetGID,
		sheet.TargetDomain, sheet.URLColumn, sheet.TargetColumn, sheet.ResultRange, sheet.Interval,
		sheet.Status, sheet.LastRun, sheet.NextRun, sheet.RunCount,
	)
	if err != nil {
		return fmt.Errorf("%w: update sheet: %v", linkaudit.ErrBackendUnavailable, err)
	}
	return nil
}

// ListActiveSheets supports scheduler bootstrap: every sheet with a
// non-manual interval, ordered by next_run so the caller can arm
// timers in the order they will next fire.
func (r *Repository) ListActiveSheets(ctx context.Context) ([]linkaudit.Sheet, error) {
	query := fmt.Sprintf(`
SELECT id, project_id, user_id, spreadsheet_id, sheet_gid, target_domain, url_column,
       target_column, result_range, interval, status, last_run, next_run, run_count
FROM %s WHERE interval <> $1 AND status <> $2 ORDER BY next_run NULLS LAST`, r.cfg.SheetsTable)

	rows, err := r.pool.Query(ctx, query, linkaudit.IntervalManual, linkaudit.SheetStatusInactive)
	if err != nil {
		return nil, fmt.Errorf("%w: list active sheets: %v", linkaudit.ErrBackendUnavailable, err)
	}
	defer rows.Close()

	var out []linkaudit.Sheet
	for rows.Next() {
		sheet, err := scanSheet(rows)
		if err != nil {
			return nil, fmt.Errorf("scan sheet row: %w", err)
		}
		out = append(out, *sheet)
	}
	return out, rows.Err()
}

func (r *Repository) GetUserPriority(ctx context.Context, userID string) (int, error) {
	query := fmt.Sprintf(`SELECT priority FROM %s WHERE user_id = $1`, r.cfg.UserPlansTable)
	var priority int
	err := r.pool.QueryRow(ctx, query, userID).Scan(&priority)
	if err != nil {
		if err == pgx.ErrNoRows {
			return linkaudit.PriorityFree, nil
		}
		return 0, fmt.Errorf("%w: get user priority: %v", linkaudit.ErrBackendUnavailable, err)
	}
	return priority, nil
}

type scannable interface {
	Scan(dest ...any) error
}

func scanLink(row scannable) (*linkaudit.Link, error) {
	var l linkaudit.Link
	err := row.Scan(
		&l.ID, &l.ProjectID, &l.SourceURL, &l.TargetDomain, &l.OriginalTargetDomain, &l.Kind, &l.State,
		&l.ResponseCode, &l.Indexable, &l.LinkClass, &l.CanonicalURL, &l.LoadTimeMs,
		&l.MatchedAnchorHTML, &l.NonIndexableReason, &l.CheckedAt, &l.UpdatedAt,
	)
	if err != nil {
		return nil, err
	}
	return &l, nil
}

func scanSheet(row scannable) (*linkaudit.Sheet, error) {
	var s linkaudit.Sheet
	err := row.Scan(
		&s.ID, &s.ProjectID, &s.UserID, &s.SpreadsheetRef.SpreadsheetID, &s.SpreadsheetRef.SheetGID,
		&s.TargetDomain, &s.URLColumn, &s.TargetColumn, &s.ResultRange, &s.Interval, &s.Status,
		&s.LastRun, &s.NextRun, &s.RunCount,
	)
	if err != nil {
		return nil, err
	}
	return &s, nil
}
