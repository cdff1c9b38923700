package output

import (
	"fmt"
	"io"

	"github.com/dsablic/linestat/internal/model"
)

// WriteMarkdown writes the report as GitHub-flavored markdown to w.
func WriteMarkdown(w io.Writer, report model.Report) error {
	fmt.Fprintf(w, "# Language Statistics\n\n")
	fmt.Fprintf(w, "**Period:** %s\n", report.Period)
	if report.AccountID != 0 {
		fmt.Fprintf(w, "**Account:** %d\n", report.AccountID)
	}
	if report.Language != "" {
		fmt.Fprintf(w, "**Language:** %s\n", report.Language)
	}
	fmt.Fprintf(w, "**Generated:** %s\n\n", report.GeneratedAt)

	fmt.Fprintf(w, "## Summary\n\n")
	fmt.Fprintf(w, "| Metric | Value |\n")
	fmt.Fprintf(w, "|--------|-------|\n")
	fmt.Fprintf(w, "| Files | %d |\n", report.Totals.Files)
	fmt.Fprintf(w, "| Lines | %d |\n", report.Totals.Total)
	fmt.Fprintf(w, "| Code | %d |\n", report.Totals.Code)
	fmt.Fprintf(w, "| Comments | %d |\n", report.Totals.Comment)
	fmt.Fprintf(w, "| Empty | %d |\n\n", report.Totals.Empty)

	fmt.Fprintf(w, "## Languages\n\n")
	fmt.Fprintf(w, "| Language | Files | Lines | Code | Comments | Empty | Share |\n")
	fmt.Fprintf(w, "|----------|------:|------:|-----:|---------:|------:|------:|\n")
	for _, lang := range report.ByLanguage {
		fmt.Fprintf(w, "| %s | %d | %d | %d | %d | %d | %s |\n",
			lang.Name, lang.Files, lang.Total, lang.Code, lang.Comment, lang.Empty,
			share(lang.Code, report.Totals.Code))
	}
	fmt.Fprintln(w)

	if len(report.History) > 0 {
		fmt.Fprintf(w, "## History\n\n")
		fmt.Fprintf(w, "| Date | Files | Lines | Code |\n")
		fmt.Fprintf(w, "|------|------:|------:|-----:|\n")
		for _, d := range report.History {
			fmt.Fprintf(w, "| %s | %d | %d | %d |\n", d.Date, d.Files, d.Total, d.Code)
		}
		fmt.Fprintln(w)
	}

	return nil
}

// share formats part as a percentage of whole.
func share(part, whole int64) string {
	if whole == 0 {
		return "0.0%"
	}
	return fmt.Sprintf("%.1f%%", float64(part)*100/float64(whole))
}
