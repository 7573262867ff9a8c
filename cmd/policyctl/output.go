package main

import (
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"strings"
	"text/tabwriter"

	"github.com/charmbracelet/lipgloss"
	"github.com/kirillkom/policy-analyzer/internal/core/domain"
	"gopkg.in/yaml.v3"
)

const (
	formatTable = "table"
	formatJSON  = "json"
	formatYAML  = "yaml"

	summaryWidth = 60
)

var (
	headerStyle = lipgloss.NewStyle().Bold(true).Foreground(lipgloss.Color("86"))
	titleStyle  = lipgloss.NewStyle().Bold(true).Foreground(lipgloss.Color("4"))
	mutedStyle  = lipgloss.NewStyle().Foreground(lipgloss.Color("241"))
	errorStyle  = lipgloss.NewStyle().Foreground(lipgloss.Color("196"))

	severityStyles = map[domain.Severity]lipgloss.Style{
		domain.SeverityHigh:   lipgloss.NewStyle().Bold(true).Foreground(lipgloss.Color("196")),
		domain.SeverityMedium: lipgloss.NewStyle().Foreground(lipgloss.Color("214")),
		domain.SeverityLow:    lipgloss.NewStyle().Foreground(lipgloss.Color("42")),
	}
)

// findingRow is the machine-readable shape of a finding.
type findingRow struct {
	ID             int64   `json:"id" yaml:"id"`
	Category       string  `json:"category" yaml:"category"`
	Severity       string  `json:"severity" yaml:"severity"`
	Summary        string  `json:"summary" yaml:"summary"`
	Recommendation *string `json:"recommendation" yaml:"recommendation"`
	PageNum        int     `json:"page_num" yaml:"page_num"`
	Confidence     int     `json:"confidence_percent" yaml:"confidence_percent"`
}

func toRows(findings []domain.Finding) []findingRow {
	rows := make([]findingRow, 0, len(findings))
	for _, f := range findings {
		rows = append(rows, findingRow{
			ID:             f.ID,
			Category:       string(f.Category),
			Severity:       string(f.Severity),
			Summary:        f.Summary,
			Recommendation: f.Recommendation,
			PageNum:        f.PageNum,
			Confidence:     f.ConfidencePercent(),
		})
	}
	return rows
}

func validFormat(format string) error {
	switch format {
	case formatTable, formatJSON, formatYAML:
		return nil
	default:
		return fmt.Errorf("unsupported output format %q (table, json, yaml)", format)
	}
}

func renderFindings(w io.Writer, format string, findings []domain.Finding) error {
	switch format {
	case formatJSON:
		enc := json.NewEncoder(w)
		enc.SetIndent("", "  ")
		return enc.Encode(toRows(findings))
	case formatYAML:
		enc := yaml.NewEncoder(w)
		enc.SetIndent(2)
		if err := enc.Encode(toRows(findings)); err != nil {
			return err
		}
		return enc.Close()
	default:
		return renderFindingsTable(w, findings)
	}
}

func renderFindingsTable(w io.Writer, findings []domain.Finding) error {
	if len(findings) == 0 {
		printf(w, "%s\n", mutedStyle.Render("No concerns found."))
		return nil
	}

	tw := tabwriter.NewWriter(w, 0, 0, 2, ' ', 0)
	if _, err := fmt.Fprintf(tw, "%s\t%s\t%s\t%s\t%s\t%s\n",
		headerStyle.Render("ID"),
		headerStyle.Render("Severity"),
		headerStyle.Render("Category"),
		headerStyle.Render("Page"),
		headerStyle.Render("Conf"),
		headerStyle.Render("Summary"),
	); err != nil {
		return err
	}
	for _, f := range findings {
		if _, err := fmt.Fprintf(tw, "%d\t%s\t%s\t%d\t%d%%\t%s\n",
			f.ID,
			severityStyle(f.Severity).Render(string(f.Severity)),
			f.Category,
			f.PageNum,
			f.ConfidencePercent(),
			truncate(f.Summary, summaryWidth),
		); err != nil {
			return err
		}
	}
	return tw.Flush()
}

func renderFindingDetail(w io.Writer, f domain.Finding) {
	printf(w, "%s %s\n", titleStyle.Render(fmt.Sprintf("Finding #%d", f.ID)),
		severityStyle(f.Severity).Render(string(f.Severity)))
	printf(w, "  Category:   %s\n", f.Category)
	printf(w, "  Page:       %d\n", f.PageNum)
	printf(w, "  Confidence: %d%%\n", f.ConfidencePercent())
	printf(w, "  Summary:    %s\n", f.Summary)
	if rec := f.RecommendationText(); rec != "" {
		printf(w, "  Advice:     %s\n", rec)
	}
}

func severityStyle(s domain.Severity) lipgloss.Style {
	if style, ok := severityStyles[s]; ok {
		return style
	}
	return mutedStyle
}

func truncate(s string, width int) string {
	s = strings.Join(strings.Fields(s), " ")
	runes := []rune(s)
	if len(runes) <= width {
		return s
	}
	return string(runes[:width-3]) + "..."
}

func warnf(w io.Writer, format string, args ...any) {
	if _, err := fmt.Fprintln(w, errorStyle.Render(fmt.Sprintf(format, args...))); err != nil {
		slog.Warn("failed to write output", "error", err)
	}
}
