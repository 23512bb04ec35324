// Package analyser implements the Link Analyser: the multi-strategy
// fetch -> extract -> classify -> retry -> proxy -> verdict pipeline.
package analyser

import "github.com/domainlink/linkauditor/internal/linkaudit"

// candidate is one link-carrier match resolved to an absolute URL
// that points at the target domain.
type candidate struct {
	URL       string
	RelTokens []string
	OuterHTML string
}

func relSet(tokens []string) map[string]bool {
	set := make(map[string]bool, len(tokens))
	for _, t := range tokens {
		set[t] = true
	}
	return set
}

// classify inspects the union of rel tokens across matches per the
// precedence rule: sponsored wins over ugc, which wins over nofollow
// when no sibling dofollow candidate exists; an empty set is absent.
func classify(cands []candidate) (linkaudit.LinkClass, candidate) {
	if len(cands) == 0 {
		return linkaudit.LinkClassAbsent, candidate{}
	}
	var sponsoredFirst, ugcFirst, nofollowFirst, dofollowFirst *candidate
	for i := range cands {
		c := &cands[i]
		set := relSet(c.RelTokens)
		switch {
		case set["sponsored"]:
			if sponsoredFirst == nil {
				sponsoredFirst = c
			}
		case set["ugc"]:
			if ugcFirst == nil {
				ugcFirst = c
			}
		case set["nofollow"]:
			if nofollowFirst == nil {
				nofollowFirst = c
			}
		default:
			if dofollowFirst == nil {
				dofollowFirst = c
			}
		}
	}
	switch {
	case sponsoredFirst != nil:
		return linkaudit.LinkClassSponsored, *sponsoredFirst
	case ugcFirst != nil:
		return linkaudit.LinkClassUGC, *ugcFirst
	case nofollowFirst != nil && dofollowFirst == nil:
		return linkaudit.LinkClassNofollow, *nofollowFirst
	case dofollowFirst != nil:
		return linkaudit.LinkClassDofollow, *dofollowFirst
	default:
		return linkaudit.LinkClassDofollow, cands[0]
	}
}
