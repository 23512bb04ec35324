package analyser

import (
	"net/url"
	"regexp"
	"strings"

	"github.com/PuerkitoBio/goquery"
)

// dataAttrs are the data-* attributes step 2 treats as link carriers.
var dataAttrs = []string{"data-href", "data-url", "data-link"}

// eventHandlerAttrs are inline event handlers scanned for embedded URLs.
var eventHandlerAttrs = []string{"onclick", "onmousedown", "onmouseup"}

var urlLiteralRe = regexp.MustCompile(`https?://[^\s'"<>\\]+`)

// extractDOM enumerates link carriers in the order the pipeline fixes
// (anchors, image maps, SVG links, form actions, data-* attributes,
// inline event handlers, URL literals in inline scripts), resolves
// each against base, and keeps only matches against targetDomain.
func extractDOM(html string, base *url.URL, targetDomain string) ([]candidate, error) {
	doc, err := goquery.NewDocumentFromReader(strings.NewReader(html))
	if err != nil {
		return nil, err
	}

	var out []candidate
	add := func(raw string, rel []string, outerHTML string) {
		resolved, ok := resolveAgainstTarget(raw, base, targetDomain)
		if !ok {
			return
		}
		out = append(out, candidate{URL: resolved, RelTokens: rel, OuterHTML: outerHTML})
	}

	doc.Find("a[href]").Each(func(_ int, sel *goquery.Selection) {
		href, _ := sel.Attr("href")
		rel := splitTokens(sel.AttrOr("rel", ""))
		add(href, rel, outerHTML(sel))
	})
	doc.Find("area[href]").Each(func(_ int, sel *goquery.Selection) {
		href, _ := sel.Attr("href")
		add(href, splitTokens(sel.AttrOr("rel", "")), outerHTML(sel))
	})
	doc.Find("svg a").Each(func(_ int, sel *goquery.Selection) {
		href := sel.AttrOr("href", "")
		if href == "" {
			return
		}
		add(href, splitTokens(sel.AttrOr("rel", "")), outerHTML(sel))
	})
	for _, m := range xlinkHrefRe.FindAllStringSubmatch(html, -1) {
		add(m[1], nil, m[0])
	}
	doc.Find("form[action]").Each(func(_ int, sel *goquery.Selection) {
		action, _ := sel.Attr("action")
		add(action, nil, outerHTML(sel))
	})
	for _, attr := range dataAttrs {
		selector := "[" + attr + "]"
		doc.Find(selector).Each(func(_ int, sel *goquery.Selection) {
			val := sel.AttrOr(attr, "")
			add(val, splitTokens(sel.AttrOr("rel", "")), outerHTML(sel))
		})
	}
	for _, attr := range eventHandlerAttrs {
		selector := "[" + attr + "]"
		doc.Find(selector).Each(func(_ int, sel *goquery.Selection) {
			script := sel.AttrOr(attr, "")
			for _, literal := range urlLiteralRe.FindAllString(script, -1) {
				add(literal, nil, outerHTML(sel))
			}
		})
	}
	doc.Find("script").Each(func(_ int, sel *goquery.Selection) {
		body := sel.Text()
		for _, literal := range urlLiteralRe.FindAllString(body, -1) {
			add(literal, nil, "<script>"+truncate(literal, 200)+"</script>")
		}
	})

	return out, nil
}

// extractProxyHTML is the DOM-free extractor used for proxy-fallback
// HTML: regex anchors, then text-content URLs, then meta tags, then
// data-* attribute JSON blobs, then script/JSON-LD bodies.
func extractProxyHTML(html string, targetDomain string) []candidate {
	var out []candidate
	add := func(raw string, rel []string, outerHTML string) {
		resolved, ok := resolveAgainstTarget(raw, nil, targetDomain)
		if !ok {
			return
		}
		out = append(out, candidate{URL: resolved, RelTokens: rel, OuterHTML: outerHTML})
	}

	for _, m := range anchorTagRe.FindAllStringSubmatch(html, -1) {
		attrs, href := m[1], m[2]
		add(href, splitTokens(extractAttr(attrs, "rel")), m[0])
	}
	for _, literal := range urlLiteralRe.FindAllString(stripTags(html), -1) {
		add(literal, nil, literal)
	}
	for _, m := range metaContentRe.FindAllStringSubmatch(html, -1) {
		add(m[1], nil, m[0])
	}
	for _, attr := range dataAttrs {
		re := regexp.MustCompile(attr + `\s*=\s*"([^"]*)"`)
		for _, m := range re.FindAllStringSubmatch(html, -1) {
			for _, literal := range urlLiteralRe.FindAllString(m[1], -1) {
				add(literal, nil, m[0])
			}
			add(m[1], nil, m[0])
		}
	}
	for _, m := range scriptBodyRe.FindAllStringSubmatch(html, -1) {
		for _, literal := range urlLiteralRe.FindAllString(m[1], -1) {
			add(literal, nil, "<script>"+truncate(literal, 200)+"</script>")
		}
	}

	return out
}

var (
	anchorTagRe   = regexp.MustCompile(`(?is)<a\s+([^>]*href\s*=\s*"([^"]*)"[^>]*)>`)
	metaContentRe = regexp.MustCompile(`(?is)<meta[^>]+content\s*=\s*"(https?://[^"]+)"[^>]*>`)
	scriptBodyRe  = regexp.MustCompile(`(?is)<script[^>]*>(.*?)</script>`)
	relAttrRe     = regexp.MustCompile(`(?i)rel\s*=\s*"([^"]*)"`)
	tagRe         = regexp.MustCompile(`(?is)<[^>]+>`)
	xlinkHrefRe   = regexp.MustCompile(`(?i)xlink:href\s*=\s*"([^"]*)"`)
)

func extractAttr(attrs, name string) string {
	if name == "rel" {
		if m := relAttrRe.FindStringSubmatch(attrs); m != nil {
			return m[1]
		}
	}
	return ""
}

func stripTags(html string) string {
	return tagRe.ReplaceAllString(html, " ")
}

func splitTokens(s string) []string {
	fields := strings.Fields(strings.ToLower(s))
	return fields
}

func truncate(s string, n int) string {
	if len(s) <= n {
		return s
	}
	return s[:n]
}

func outerHTML(sel *goquery.Selection) string {
	html, err := goquery.OuterHtml(sel)
	if err != nil {
		return ""
	}
	return html
}

// resolveAgainstTarget resolves raw against base (when non-nil) and
// keeps it only if its host equals targetDomain or is a subdomain of
// it.
func resolveAgainstTarget(raw string, base *url.URL, targetDomain string) (string, bool) {
	raw = strings.TrimSpace(raw)
	if raw == "" || strings.HasPrefix(raw, "javascript:") || strings.HasPrefix(raw, "mailto:") {
		return "", false
	}
	parsed, err := url.Parse(raw)
	if err != nil {
		return "", false
	}
	resolved := parsed
	if base != nil && !parsed.IsAbs() {
		resolved = base.ResolveReference(parsed)
	}
	if resolved.Host == "" {
		return "", false
	}
	host := strings.ToLower(resolved.Hostname())
	if host != targetDomain && !strings.HasSuffix(host, "."+targetDomain) {
		return "", false
	}
	return resolved.String(), true
}
