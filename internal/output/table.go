package output

import (
	"fmt"
	"io"
	"strconv"

	"github.com/fatih/color"
	"github.com/olekukonko/tablewriter"
	"github.com/olekukonko/tablewriter/tw"

	"github.com/dsablic/linestat/internal/model"
)

var (
	languageColor = color.New(color.FgCyan, color.Bold)
	totalColor    = color.New(color.FgGreen, color.Bold)
)

// WriteTable renders the per-language breakdown as a terminal table.
// Colour is applied only when colored is true.
func WriteTable(w io.Writer, report model.Report, colored bool) error {
	name, total := languageColor.SprintFunc(), totalColor.SprintFunc()
	if !colored {
		name, total = fmt.Sprint, fmt.Sprint
	}

	table := tablewriter.NewWriter(w)
	table.Header([]string{"Language", "Files", "Lines", "Code", "Comments", "Empty", "Share"})
	table.Configure(func(cfg *tablewriter.Config) {
		cfg.Row.Alignment.Global = tw.AlignRight
	})

	var data [][]string
	for _, lang := range report.ByLanguage {
		data = append(data, []string{
			name(lang.Name),
			strconv.FormatInt(lang.Files, 10),
			strconv.FormatInt(lang.Total, 10),
			strconv.FormatInt(lang.Code, 10),
			strconv.FormatInt(lang.Comment, 10),
			strconv.FormatInt(lang.Empty, 10),
			share(lang.Code, report.Totals.Code),
		})
	}
	t := report.Totals
	data = append(data, []string{
		total("TOTAL"),
		strconv.FormatInt(t.Files, 10),
		strconv.FormatInt(t.Total, 10),
		strconv.FormatInt(t.Code, 10),
		strconv.FormatInt(t.Comment, 10),
		strconv.FormatInt(t.Empty, 10),
		"",
	})

	if err := table.Bulk(data); err != nil {
		return err
	}
	if err := table.Render(); err != nil {
		return err
	}
	_, err := fmt.Fprintf(w, "Period: %s, generated %s\n", report.Period, report.GeneratedAt)
	return err
}
