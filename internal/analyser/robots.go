package analyser

import (
	"net/url"
	"strings"

	"github.com/PuerkitoBio/goquery"
)

// directives is the set of robots directive tokens the pipeline
// recognises in both the X-Robots-Tag header and meta[name=robots].
const (
	directiveNoindex = "noindex"
	directiveNone    = "none"
	directiveNofollow = "nofollow"
)

// computeIndexability ORs the header and meta robots directives:
// noindex/none in either source makes the page non-indexable: the
// directive is returned as the reason. nofollow alone leaves the page
// indexable.
func computeIndexability(headerXRobotsTag, metaRobotsContent string) (indexable bool, reason string) {
	headerTokens := splitTokens(headerXRobotsTag)
	metaTokens := splitTokens(metaRobotsContent)
	all := relSet(append(append([]string(nil), headerTokens...), metaTokens...))

	if all[directiveNone] {
		return false, directiveNone
	}
	if all[directiveNoindex] {
		return false, directiveNoindex
	}
	if all[directiveNofollow] {
		return true, directiveNofollow
	}
	return true, ""
}

// extractMetaRobots reads the content attribute of meta[name=robots]
// from a rendered or fetched document.
func extractMetaRobots(html string) string {
	doc, err := goquery.NewDocumentFromReader(strings.NewReader(html))
	if err != nil {
		return ""
	}
	content, _ := doc.Find(`meta[name="robots"]`).First().Attr("content")
	return content
}

// extractCanonical reads link[rel=canonical], resolving it against
// base when relative.
func extractCanonical(html string, base *url.URL) string {
	doc, err := goquery.NewDocumentFromReader(strings.NewReader(html))
	if err != nil {
		return ""
	}
	href, ok := doc.Find(`link[rel="canonical"]`).First().Attr("href")
	if !ok || href == "" {
		return ""
	}
	parsed, err := url.Parse(href)
	if err != nil {
		return ""
	}
	if base != nil && !parsed.IsAbs() {
		return base.ResolveReference(parsed).String()
	}
	return parsed.String()
}
