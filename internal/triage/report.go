package triage

import (
	"encoding/json"
	"fmt"
	"strings"
)

// PhaseSummary is the per-phase slice of a [Summary].
type PhaseSummary struct {
	Name     string `json:"name"`
	Lines    int    `json:"lines"`
	Errors   int    `json:"errors"`
	Warnings int    `json:"warnings"`
}

// Passed reports whether the phase observed no critical errors.
func (p PhaseSummary) Passed() bool {
	return p.Errors == 0
}

// PhaseReport holds everything recorded for one phase.
type PhaseReport struct {
	Phase    string `json:"phase"`
	Lines    []Line `json:"lines"`
	Errors   []Line `json:"errors"`
	Warnings []Line `json:"warnings"`
}

// Summary is the aggregated go/no-go signal for a validation run.
type Summary struct {
	TotalLines    int            `json:"totalLines"`
	TotalErrors   int            `json:"totalErrors"`
	TotalWarnings int            `json:"totalWarnings"`
	Phases        []PhaseSummary `json:"phases"`
	FirstError    *Line          `json:"firstError,omitempty"`
	FailedPhases  []string       `json:"failedPhases,omitempty"`
}

// Passed reports whether no phase observed a critical error.
func (s Summary) Passed() bool {
	return len(s.FailedPhases) == 0
}

const maxReportRows = 10

// MarkdownReport renders the current classification state as a Markdown
// document: one section per phase with a status glyph, error tables capped
// at ten rows with an overflow note, and warnings de-duplicated by truncated
// text with occurrence counts.
func (c *Classifier) MarkdownReport() string {
	summary := c.Summary()

	var b strings.Builder
	b.WriteString("# Log triage report\n\n")
	fmt.Fprintf(&b, "Lines: %d, errors: %d, warnings: %d\n\n",
		summary.TotalLines, summary.TotalErrors, summary.TotalWarnings)

	for _, phase := range summary.Phases {
		glyph := "✅"
		if !phase.Passed() {
			glyph = "❌"
		}
		fmt.Fprintf(&b, "## %s %s\n\n", glyph, phase.Name)

		report := c.PhaseReport(phase.Name)

		if len(report.Errors) > 0 {
			b.WriteString("| Stream | Pattern | Line |\n|---|---|---|\n")
			for i, line := range report.Errors {
				if i == maxReportRows {
					fmt.Fprintf(&b, "\n… and %d more errors\n", len(report.Errors)-maxReportRows)
					break
				}
				fmt.Fprintf(&b, "| %s | %s | %s |\n",
					line.Stream, line.Pattern, escapeTableCell(line.Text))
			}
			b.WriteString("\n")
		}

		if len(report.Warnings) > 0 {
			for _, w := range dedupeWarnings(report.Warnings) {
				fmt.Fprintf(&b, "- ⚠️ %s (×%d)\n", escapeTableCell(w.text), w.count)
			}
			b.WriteString("\n")
		}
	}

	return b.String()
}

// JSONReport renders the summary as indented JSON.
func (c *Classifier) JSONReport() ([]byte, error) {
	b, err := json.MarshalIndent(c.Summary(), "", "  ")
	if err != nil {
		return nil, fmt.Errorf("encode triage summary: %w", err)
	}
	return b, nil
}

const warningKeyLen = 60

type dedupedWarning struct {
	text  string
	count int
}

// dedupeWarnings folds repeated warnings together, keyed by their truncated
// text so variable suffixes (counters, timestamps) collapse into one entry.
func dedupeWarnings(warnings []Line) []dedupedWarning {
	var order []string
	counts := map[string]int{}
	for _, w := range warnings {
		key := w.Text
		if len(key) > warningKeyLen {
			key = key[:warningKeyLen]
		}
		if _, ok := counts[key]; !ok {
			order = append(order, key)
		}
		counts[key]++
	}

	res := make([]dedupedWarning, len(order))
	for i, key := range order {
		res[i] = dedupedWarning{text: key, count: counts[key]}
	}
	return res
}

func escapeTableCell(s string) string {
	return strings.ReplaceAll(s, "|", `\|`)
}
