package brief

import (
	"fmt"
	"strings"
)

const promptSections = "Based on this analysis, provide the following sections. " +
	"Use proper Markdown formatting: ## for section headings, ### for sub-headings, " +
	"and - for bullet points.\n\n" +
	"## 1. Search Intent\n" +
	"What are users actually looking for?\n\n" +
	"## 2. Common Topics\n" +
	"What do all top-ranking pages cover?\n\n" +
	"## 3. Content Gaps\n" +
	"What is missing from most articles?\n\n" +
	"## 4. Recommended Structure\n" +
	"List the headings and sections we should include.\n\n" +
	"## 5. Word Count Target\n" +
	"Recommended word count based on competitor analysis.\n\n" +
	"## 6. Unique Angle\n" +
	"How can we stand out from competitors?\n\n" +
	"Be specific and actionable."

// ComposeCompetitorSummary lists every competitor that yielded content,
// tagged with its search rank. Skipped pages are left out.
func ComposeCompetitorSummary(competitors []Competitor) string {
	var b strings.Builder
	b.WriteString("COMPETITOR ANALYSIS:\n\n")
	for _, c := range competitors {
		if c.Content == "" {
			continue
		}
		fmt.Fprintf(&b, "Page %d: %s\n", c.Rank, c.Title)
		fmt.Fprintf(&b, "Content preview: %s...\n\n", c.Content)
	}
	return b.String()
}

// BuildPrompt assembles the fixed-shape instruction sent to the analyzer.
func BuildPrompt(topic string, competitors []Competitor) string {
	var b strings.Builder
	fmt.Fprintf(&b, "You are an expert SEO content strategist. Analyze the following competitor "+
		"content for the keyword \"%s\" and create a detailed content brief.\n\n", topic)
	b.WriteString(ComposeCompetitorSummary(competitors))
	b.WriteString("\n")
	b.WriteString(promptSections)
	return b.String()
}

// Truncate shortens s to at most n runes.
func Truncate(s string, n int) string {
	if n <= 0 {
		return ""
	}
	runes := []rune(s)
	if len(runes) <= n {
		return s
	}
	return string(runes[:n])
}
