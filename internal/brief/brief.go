// Package brief composes the human-readable report and alert texts.
package brief

import (
	"context"
	"fmt"
	"strings"

	"github.com/dustin/go-humanize"

	"github.com/rewired-gh/stockagent/internal/llm"
	"github.com/rewired-gh/stockagent/internal/logger"
	"github.com/rewired-gh/stockagent/internal/models"
	"github.com/rewired-gh/stockagent/internal/prompt"
)

// Message headers.
const (
	AlertHeader = "[ALERT]"
	BriefHeader = "[DAILY BRIEF]"
)

const (
	noSnapshot = "No price snapshot."
	noSummary  = "No price snapshot provided, cannot generate summary."
)

var languageNames = map[string]string{
	"en": "English",
	"zh": "Chinese",
	"jp": "Japanese",
}

// Composer writes briefs with the language model.
type Composer struct {
	llm     llm.Completer
	prompts *prompt.Catalog
}

// NewComposer creates a composer.
func NewComposer(completer llm.Completer, prompts *prompt.Catalog) *Composer {
	return &Composer{llm: completer, prompts: prompts}
}

// Compose returns a report for the rule's tickers. When the model fails or
// answers with nothing, a plain bullet list of the context is returned so a
// brief is always available.
func (c *Composer) Compose(ctx context.Context, rule models.WatchRule, snapshot []models.PriceObservation, news map[string][]models.NewsItem) string {
	lines := ContextLines(rule, snapshot, news)
	data := noSnapshot
	if len(lines) > 0 {
		data = strings.Join(lines, "\n")
	}

	text, err := c.prompts.Construct(prompt.Report, map[string]string{
		"threshold": fmt.Sprintf("%.1f", rule.ThresholdPercent),
		"language":  languageName(rule.ReportLanguage),
		"style":     rule.ReportStyle,
		"context":   data,
	})
	if err != nil {
		logger.Warn("Failed to build report prompt: %v", err)
		return Fallback(lines)
	}

	out, err := c.llm.Complete(ctx, llm.Request{Prompt: text})
	if err != nil {
		logger.Warn("Report generation failed, using fallback: %v", err)
		return Fallback(lines)
	}
	if strings.TrimSpace(out) == "" {
		return Fallback(lines)
	}
	return out
}

// ContextLines renders one line per observation of the rule's tickers,
// followed by its headlines.
func ContextLines(rule models.WatchRule, snapshot []models.PriceObservation, news map[string][]models.NewsItem) []string {
	var lines []string
	for _, obs := range snapshot {
		if !rule.Watches(obs.Ticker) {
			continue
		}
		lines = append(lines, fmt.Sprintf("%s: now=%s, prev_close=%s, change=%+.2f%%",
			obs.Ticker, formatPrice(obs.Price), formatPrice(obs.PreviousClose), obs.ChangePercent))
		for _, n := range news[obs.Ticker] {
			lines = append(lines, fmt.Sprintf("  - %s (%s)", n.Title, n.Link))
		}
	}
	return lines
}

// Fallback formats context lines as bullets.
func Fallback(lines []string) string {
	if len(lines) == 0 {
		return noSnapshot + "\n" + noSummary
	}
	var b strings.Builder
	for _, l := range lines {
		b.WriteString("- ")
		b.WriteString(strings.TrimSpace(l))
		b.WriteString("\n")
	}
	b.WriteString(noSummary)
	return b.String()
}

// AlertText formats the triggered decisions, or "" when none fired.
func AlertText(decisions []models.AlertDecision) string {
	var lines []string
	for _, d := range decisions {
		if d.Triggered {
			lines = append(lines, d.Reason)
		}
	}
	if len(lines) == 0 {
		return ""
	}
	return AlertHeader + "\n" + strings.Join(lines, "\n")
}

// BriefText prefixes a composed brief with its header.
func BriefText(body string) string {
	return BriefHeader + "\n" + body
}

func formatPrice(p float64) string {
	return humanize.FormatFloat("#,###.##", p)
}

func languageName(code string) string {
	if name, ok := languageNames[code]; ok {
		return name
	}
	return languageNames["zh"]
}
