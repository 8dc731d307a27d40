package scrape

import (
	"bytes"
	"net/http"

	"github.com/PuerkitoBio/goquery"
)

const defaultMinVisibleText = 200

// spaMounts are the elements client-side frameworks render into.
const spaMounts = "#__next, #__nuxt, #root, #app, [data-reactroot], [ng-version], [data-server-rendered]"

// Heuristic decides whether a statically fetched page is a JavaScript shell
// that only has content after rendering. Pages with enough visible text are
// never promoted, even when built with a framework, since server-side rendered
// sites already carry their content.
type Heuristic struct {
	MinVisibleText int
}

// NewHeuristic creates a detector. Zero means defaultMinVisibleText characters.
func NewHeuristic(minVisibleText int) *Heuristic {
	if minVisibleText <= 0 {
		minVisibleText = defaultMinVisibleText
	}
	return &Heuristic{MinVisibleText: minVisibleText}
}

// ShouldPromote reports whether page needs a headless render.
func (h *Heuristic) ShouldPromote(page Page) bool {
	if page.Rendered || page.StatusCode != http.StatusOK {
		return false
	}
	if len(bytes.TrimSpace(page.Body)) == 0 {
		return true
	}
	doc, err := goquery.NewDocumentFromReader(bytes.NewReader(page.Body))
	if err != nil {
		return true
	}

	scriptBytes := 0
	doc.Find("script").Each(func(_ int, s *goquery.Selection) {
		if html, err := goquery.OuterHtml(s); err == nil {
			scriptBytes += len(html)
		}
	})
	mounted := doc.Find(spaMounts).Length() > 0

	body := doc.Find("body")
	body.Find("script, style, noscript, template").Remove()
	text := len(collapse(body.Text()))
	if text >= h.MinVisibleText {
		return false
	}
	return text == 0 || mounted || scriptBytes*100/len(page.Body) >= 25
}
