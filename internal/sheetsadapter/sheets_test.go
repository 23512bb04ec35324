package sheetsadapter

import (
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/domainlink/linkauditor/internal/linkaudit"
)

func TestParseA1TopLeft(t *testing.T) {
	t.Parallel()
	col, row, err := parseA1TopLeft("D2:H1000")
	require.NoError(t, err)
	require.Equal(t, "D", col)
	require.Equal(t, 2, row)
}

func TestParseA1TopLeftNoRow(t *testing.T) {
	t.Parallel()
	col, row, err := parseA1TopLeft("D:H")
	require.NoError(t, err)
	require.Equal(t, "D", col)
	require.Equal(t, 1, row)
}

func TestParseA1TopLeftRejectsInvalid(t *testing.T) {
	t.Parallel()
	_, _, err := parseA1TopLeft("123")
	require.Error(t, err)
}

func TestColumnToIndexRoundTrips(t *testing.T) {
	t.Parallel()
	for _, tc := range []struct {
		col string
		idx int
	}{{"A", 0}, {"B", 1}, {"Z", 25}, {"AA", 26}, {"AB", 27}} {
		idx, err := columnToIndex(tc.col)
		require.NoError(t, err)
		require.Equal(t, tc.idx, idx, tc.col)

		back, err := indexToColumn(tc.idx)
		require.NoError(t, err)
		require.Equal(t, tc.col, back)
	}
}

func TestColorForStatuses(t *testing.T) {
	t.Parallel()
	problem := colorFor(linkaudit.SheetRow{Status: linkaudit.LinkStateProblem})
	canon := colorFor(linkaudit.SheetRow{Status: linkaudit.LinkStateOK, NonIndexableReason: "canonicalised"})
	ok := colorFor(linkaudit.SheetRow{Status: linkaudit.LinkStateOK})

	require.NotEqual(t, *problem, *canon)
	require.NotEqual(t, *canon, *ok)
	require.NotEqual(t, *problem, *ok)
}

func TestCellString(t *testing.T) {
	t.Parallel()
	rows := [][]interface{}{{"header"}, {"https://a.example"}, {}}
	require.Equal(t, "https://a.example", cellString(rows, 1))
	require.Equal(t, "", cellString(rows, 2))
	require.Equal(t, "", cellString(rows, 9))
}
