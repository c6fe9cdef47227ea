// Package extract pulls readable article text out of competitor HTML.
package extract

import (
	"bytes"
	"fmt"
	"strings"

	"github.com/PuerkitoBio/goquery"

	"github.com/JakeFAU/seo-brief/internal/brief"
)

// Limits applied to extracted fields, in runes.
const (
	DefaultMaxContent = 800
	DefaultMaxTitle   = 120
)

var (
	noiseSelector    = "script, style, nav, footer, header"
	contentSelectors = []string{"article", ".post-content", ".entry-content", "main", "body"}
	titleSelectors   = []string{"h1", ".title", ".post-title"}
)

// Extractor implements brief.Extractor with goquery.
type Extractor struct {
	MaxContent int
	MaxTitle   int
}

// New returns an Extractor with the default limits.
func New() *Extractor {
	return &Extractor{MaxContent: DefaultMaxContent, MaxTitle: DefaultMaxTitle}
}

// Extract strips page chrome, then takes the first matching content container
// and heading. fallbackTitle is used when the page has no heading.
func (e *Extractor) Extract(body []byte, fallbackTitle string) (brief.Page, error) {
	doc, err := goquery.NewDocumentFromReader(bytes.NewReader(body))
	if err != nil {
		return brief.Page{}, fmt.Errorf("parse html: %w", err)
	}
	doc.Find(noiseSelector).Remove()

	page := brief.Page{Title: fallbackTitle}
	if sel := firstMatch(doc, contentSelectors); sel != nil {
		page.Content = brief.Truncate(joinedText(sel), e.maxContent())
	}
	if sel := firstMatch(doc, titleSelectors); sel != nil {
		if title := strings.TrimSpace(sel.Text()); title != "" {
			page.Title = brief.Truncate(title, e.maxTitle())
		}
	}
	return page, nil
}

func (e *Extractor) maxContent() int {
	if e.MaxContent > 0 {
		return e.MaxContent
	}
	return DefaultMaxContent
}

func (e *Extractor) maxTitle() int {
	if e.MaxTitle > 0 {
		return e.MaxTitle
	}
	return DefaultMaxTitle
}

func firstMatch(doc *goquery.Document, selectors []string) *goquery.Selection {
	for _, selector := range selectors {
		if sel := doc.Find(selector).First(); sel.Length() > 0 {
			return sel
		}
	}
	return nil
}

// joinedText collects every text node under sel, trimmed, separated by one space.
func joinedText(sel *goquery.Selection) string {
	var parts []string
	var walk func(*goquery.Selection)
	walk = func(s *goquery.Selection) {
		s.Contents().Each(func(_ int, child *goquery.Selection) {
			if goquery.NodeName(child) == "#text" {
				if text := strings.TrimSpace(child.Text()); text != "" {
					parts = append(parts, text)
				}
				return
			}
			walk(child)
		})
	}
	walk(sel)
	return strings.Join(parts, " ")
}
