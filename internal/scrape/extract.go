package scrape

import (
	"bytes"
	"fmt"
	"strings"

	"github.com/PuerkitoBio/goquery"

	"github.com/JakeFAU/reddit-leadgen/internal/leadgen"
)

var noiseSelectors = "script, style, noscript, svg, iframe, nav, footer, header form, [aria-hidden=true]"

// Extract parses page HTML into a Website. Content is whitespace-collapsed
// visible text, cut at maxContent bytes on a word boundary.
func Extract(page Page, maxContent int) (leadgen.Website, error) {
	doc, err := goquery.NewDocumentFromReader(bytes.NewReader(page.Body))
	if err != nil {
		return leadgen.Website{}, fmt.Errorf("parse html: %w", err)
	}
	site := leadgen.Website{
		URL:      page.URL,
		Title:    collapse(doc.Find("title").First().Text()),
		Rendered: page.Rendered,
	}
	site.Description = firstAttr(doc, "content",
		`meta[name="description"]`,
		`meta[property="og:description"]`,
		`meta[name="twitter:description"]`,
	)
	if site.Title == "" {
		site.Title = firstAttr(doc, "content", `meta[property="og:title"]`)
	}

	body := doc.Find("body")
	body.Find(noiseSelectors).Remove()
	var parts []string
	body.Find("h1, h2, h3, h4, p, li, td, blockquote, a[href]").Each(func(_ int, sel *goquery.Selection) {
		// Text of nested matches is picked up by the outer element.
		if sel.ParentsFiltered("p, li, td, blockquote").Length() > 0 {
			return
		}
		if t := collapse(sel.Text()); t != "" {
			parts = append(parts, t)
		}
	})
	content := strings.Join(dedupe(parts), "\n")
	if content == "" {
		content = collapse(body.Text())
	}
	site.Content = cut(content, maxContent)
	return site, nil
}

func firstAttr(doc *goquery.Document, attr string, selectors ...string) string {
	for _, sel := range selectors {
		if v, ok := doc.Find(sel).First().Attr(attr); ok {
			if v = collapse(v); v != "" {
				return v
			}
		}
	}
	return ""
}

func collapse(s string) string {
	return strings.Join(strings.Fields(s), " ")
}

func dedupe(in []string) []string {
	seen := make(map[string]struct{}, len(in))
	out := in[:0]
	for _, s := range in {
		if _, ok := seen[s]; ok {
			continue
		}
		seen[s] = struct{}{}
		out = append(out, s)
	}
	return out
}

func cut(s string, n int) string {
	if n <= 0 || len(s) <= n {
		return s
	}
	s = s[:n]
	if i := strings.LastIndexAny(s, " \n"); i > n/2 {
		s = s[:i]
	}
	return s
}
