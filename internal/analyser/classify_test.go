package analyser

import (
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/domainlink/linkauditor/internal/linkaudit"
)

func TestClassifyEmptyIsAbsent(t *testing.T) {
	t.Parallel()
	class, _ := classify(nil)
	require.Equal(t, linkaudit.LinkClassAbsent, class)
}

func TestClassifySponsoredBeatsEverything(t *testing.T) {
	t.Parallel()
	cands := []candidate{
		{URL: "https://t.example/a", RelTokens: []string{"nofollow"}},
		{URL: "https://t.example/b", RelTokens: []string{"sponsored"}},
		{URL: "https://t.example/c", RelTokens: nil},
	}
	class, matched := classify(cands)
	require.Equal(t, linkaudit.LinkClassSponsored, class)
	require.Equal(t, "https://t.example/b", matched.URL)
}

func TestClassifyUGCBeatsNofollow(t *testing.T) {
	t.Parallel()
	cands := []candidate{
		{URL: "https://t.example/a", RelTokens: []string{"nofollow"}},
		{URL: "https://t.example/b", RelTokens: []string{"ugc"}},
	}
	class, _ := classify(cands)
	require.Equal(t, linkaudit.LinkClassUGC, class)
}

func TestClassifyNofollowOnlyWhenNoDofollowSibling(t *testing.T) {
	t.Parallel()
	class, _ := classify([]candidate{{URL: "https://t.example/a", RelTokens: []string{"nofollow"}}})
	require.Equal(t, linkaudit.LinkClassNofollow, class)
}

func TestClassifyDofollowWinsOverLoneNofollowSibling(t *testing.T) {
	t.Parallel()
	cands := []candidate{
		{URL: "https://t.example/a", RelTokens: []string{"nofollow"}},
		{URL: "https://t.example/b", RelTokens: nil},
	}
	class, _ := classify(cands)
	require.Equal(t, linkaudit.LinkClassDofollow, class)
}
