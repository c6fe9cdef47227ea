// Package detector decides when a competitor page should be re-fetched with
// a headless browser.
package detector

import (
	"bytes"
	"net/http"
	"unicode/utf8"

	"github.com/PuerkitoBio/goquery"

	"github.com/JakeFAU/seo-brief/internal/brief"
)

const (
	defaultMinContentRunes = 200
	// scriptSharePercent is the share of the document taken by scripts that
	// marks a client-rendered shell.
	scriptSharePercent = 25
)

// mountPoints match the empty root elements client-side frameworks hydrate.
const mountPoints = `#__next, #root, #app, #__nuxt, [data-reactroot], [ng-version], [data-server-rendered]`

// Heuristic promotes pages whose static HTML carries too little article text.
type Heuristic struct {
	// MinContentRunes is the extracted text length that counts as a real article.
	MinContentRunes int
}

// NewHeuristic creates a new detector.
func NewHeuristic(minContent int) *Heuristic {
	if minContent <= 0 {
		minContent = defaultMinContentRunes
	}
	return &Heuristic{MinContentRunes: minContent}
}

// ShouldRender reports whether a static fetch looks like a JavaScript shell
// whose article text only appears after rendering.
func (h *Heuristic) ShouldRender(resp brief.FetchResponse, page brief.Page) bool {
	if resp.UsedHeadless || resp.StatusCode != http.StatusOK {
		return false
	}
	if utf8.RuneCountInString(page.Content) >= h.MinContentRunes {
		return false
	}
	if len(resp.Body) == 0 || page.Content == "" {
		return true
	}
	doc, err := goquery.NewDocumentFromReader(bytes.NewReader(resp.Body))
	if err != nil {
		return false
	}
	if doc.Find(mountPoints).Length() > 0 {
		return true
	}
	return scriptShare(doc, len(resp.Body)) >= scriptSharePercent
}

// scriptShare returns the percentage of total bytes spent on script tags,
// counting inline source and external src references.
func scriptShare(doc *goquery.Document, total int) int {
	if total == 0 {
		return 0
	}
	scriptBytes := 0
	doc.Find("script").Each(func(_ int, s *goquery.Selection) {
		scriptBytes += len(s.Text())
		if src, ok := s.Attr("src"); ok {
			scriptBytes += len(src)
		}
	})
	return scriptBytes * 100 / total
}
