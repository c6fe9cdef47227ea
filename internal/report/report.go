// Package report renders a finished content brief as a standalone HTML page.
package report

import (
	"bytes"
	"fmt"
	"html/template"
	"strings"

	"github.com/yuin/goldmark"
	"github.com/yuin/goldmark/extension"
	"github.com/yuin/goldmark/renderer/html"

	"github.com/JakeFAU/seo-brief/internal/brief"
)

const maxLinkTitle = 80

// Renderer implements brief.Renderer.
type Renderer struct {
	markdown goldmark.Markdown
	page     *template.Template
}

// New builds a Renderer. Raw HTML inside the model's markdown is dropped.
func New() *Renderer {
	md := goldmark.New(
		goldmark.WithExtensions(extension.GFM, extension.Footnote, extension.DefinitionList),
		goldmark.WithRendererOptions(html.WithHardWraps()),
	)
	return &Renderer{
		markdown: md,
		page:     template.Must(template.New("report").Parse(pageTemplate)),
	}
}

type competitorRow struct {
	Rank  int
	URL   string
	Title string
}

type pageData struct {
	Topic       string
	GeneratedAt string
	Count       int
	Model       string
	Body        template.HTML
	Competitors []competitorRow
}

// Render converts the analysis markdown and wraps it with the competitor table.
// Raw HTML from the model, including whole documents, never reaches the page.
func (r *Renderer) Render(rep brief.Report) (string, error) {
	text := strings.TrimSpace(rep.Analysis.Text)

	var body bytes.Buffer
	if err := r.markdown.Convert([]byte(text), &body); err != nil {
		return "", fmt.Errorf("convert markdown: %w", err)
	}

	data := pageData{
		Topic:       rep.Topic,
		GeneratedAt: rep.GeneratedAt.UTC().Format("2006-01-02 15:04 UTC"),
		Count:       len(rep.Competitors),
		Model:       rep.Analysis.Model,
		// #nosec G203 -- goldmark output with raw HTML disabled.
		Body:        template.HTML(body.String()),
		Competitors: make([]competitorRow, 0, len(rep.Competitors)),
	}
	for _, c := range rep.Competitors {
		data.Competitors = append(data.Competitors, competitorRow{
			Rank:  c.Rank,
			URL:   c.URL,
			Title: brief.Truncate(c.Title, maxLinkTitle),
		})
	}

	var out bytes.Buffer
	if err := r.page.Execute(&out, data); err != nil {
		return "", fmt.Errorf("execute report template: %w", err)
	}
	return out.String(), nil
}

var _ brief.Renderer = (*Renderer)(nil)
