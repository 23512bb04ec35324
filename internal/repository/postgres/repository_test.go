package postgres

import (
	"context"
	"testing"
	"time"

	"github.com/pashagolub/pgxmock/v4"
	"github.com/stretchr/testify/require"

	"github.com/domainlink/linkauditor/internal/linkaudit"
)

func TestUpsertLinkInsertsRow(t *testing.T) {
	t.Parallel()

	mock, err := pgxmock.NewPool()
	require.NoError(t, err)
	defer mock.Close()

	repo, err := NewWithQuerier(mock, Config{})
	require.NoError(t, err)

	now := time.Unix(1700000000, 0).UTC()
	code := 200
	class := linkaudit.LinkClassDofollow
	indexable := true
	link := linkaudit.Link{
		ID:                   "link-1",
		ProjectID:            "proj-1",
		SourceURL:            "https://src.example/a",
		TargetDomain:         "target.com",
		OriginalTargetDomain: "Target.com",
		Kind:                 linkaudit.JobKindBatch,
		State:                linkaudit.LinkStateOK,
		ResponseCode:         &code,
		Indexable:            &indexable,
		LinkClass:            &class,
		CheckedAt:            &now,
		UpdatedAt:            now,
	}

	mock.ExpectExec("INSERT INTO links").
		WithArgs(
			link.ID, link.ProjectID, link.SourceURL, link.TargetDomain, link.OriginalTargetDomain,
			link.Kind, link.State, link.ResponseCode, link.Indexable, link.LinkClass,
			link.CanonicalURL, link.LoadTimeMs, link.MatchedAnchorHTML, link.NonIndexableReason,
			link.CheckedAt, link.UpdatedAt,
		).
		WillReturnResult(pgxmock.NewResult("INSERT", 1))

	require.NoError(t, repo.UpsertLink(context.Background(), link))
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestCountOpenQueriesPendingAndRunning(t *testing.T) {
	t.Parallel()

	mock, err := pgxmock.NewPool()
	require.NoError(t, err)
	defer mock.Close()

	repo, err := NewWithQuerier(mock, Config{})
	require.NoError(t, err)

	mock.ExpectQuery("SELECT count\\(\\*\\) FROM links").
		WithArgs("proj-1", linkaudit.JobKindSheet, linkaudit.LinkStatePending, linkaudit.LinkStateRunning).
		WillReturnRows(pgxmock.NewRows([]string{"count"}).AddRow(3))

	count, err := repo.CountOpen(context.Background(), "proj-1", linkaudit.JobKindSheet)
	require.NoError(t, err)
	require.Equal(t, 3, count)
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestResetAnalysisDeletesByProjectAndKind(t *testing.T) {
	t.Parallel()

	mock, err := pgxmock.NewPool()
	require.NoError(t, err)
	defer mock.Close()

	repo, err := NewWithQuerier(mock, Config{})
	require.NoError(t, err)

	mock.ExpectExec("DELETE FROM links").
		WithArgs("proj-1", linkaudit.JobKindSheet).
		WillReturnResult(pgxmock.NewResult("DELETE", 5))

	require.NoError(t, repo.ResetAnalysis(context.Background(), "proj-1", linkaudit.JobKindSheet))
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestNewRejectsInvalidTableName(t *testing.T) {
	t.Parallel()
	_, err := New(context.Background(), Config{DSN: "postgres://localhost/db", LinksTable: "links; drop table users"})
	require.Error(t, err)
}
