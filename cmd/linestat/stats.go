package main

import (
	"fmt"
	"io"
	"os"
	"strings"
	"time"

	"github.com/spf13/cobra"

	"github.com/dsablic/linestat/internal/model"
	"github.com/dsablic/linestat/internal/output"
	"github.com/dsablic/linestat/internal/store"
	"github.com/dsablic/linestat/internal/ui"
)

func writeReport(w io.Writer, format output.Format, report model.Report) error {
	switch format {
	case output.JSON:
		return output.WriteJSON(w, report)
	case output.Markdown:
		return output.WriteMarkdown(w, report)
	case output.Table:
		return output.WriteTable(w, report, w == os.Stdout && ui.IsStdoutTTY())
	}
	return fmt.Errorf("format %s is not supported here", format)
}

type reportFlags struct {
	period    string
	accountID int64
	language  string
	format    string
	history   bool
}

func (r *reportFlags) register(cmd *cobra.Command, defaultPeriod, defaultFormat string) {
	f := cmd.Flags()
	f.StringVar(&r.period, "period", defaultPeriod, "Period: "+strings.Join(store.Periods, ", "))
	f.Int64Var(&r.accountID, "account", 0, "Limit to one account id")
	f.StringVar(&r.language, "language", "", "Limit to one language")
	f.StringVar(&r.format, "format", defaultFormat, "Output format: table, json, markdown or parquet")
}

// report queries the latest snapshot of each account in the period,
// with the daily history when asked.
func (a *app) report(cmd *cobra.Command, r reportFlags) (model.Report, error) {
	ctx := cmd.Context()
	now := time.Now()
	since, err := store.PeriodStart(r.period, now)
	if err != nil {
		return model.Report{}, err
	}
	st, err := a.openStore(ctx)
	if err != nil {
		return model.Report{}, err
	}
	language := strings.ToUpper(strings.TrimSpace(r.language))
	totals, err := st.QueryStatistics(ctx, store.StatsQuery{AccountID: r.accountID, Language: language, Since: since})
	if err != nil {
		return model.Report{}, err
	}
	report := model.NewReport(now, r.period, totals)
	report.AccountID = r.accountID
	report.Language = language
	if r.history {
		if report.History, err = st.History(ctx, r.accountID, since); err != nil {
			return model.Report{}, err
		}
	}
	return report, nil
}

func newStatsCmd(a *app) *cobra.Command {
	var r reportFlags
	cmd := &cobra.Command{
		Use:   "stats",
		Short: "Show saved line statistics per language",
		RunE: func(cmd *cobra.Command, _ []string) error {
			format, err := output.ParseFormat(r.format)
			if err != nil {
				return err
			}
			report, err := a.report(cmd, r)
			if err != nil {
				return err
			}
			return writeReport(cmd.OutOrStdout(), format, report)
		},
	}
	r.register(cmd, "today", "table")
	cmd.Flags().BoolVar(&r.history, "history", false, "Include total lines per day")
	return cmd
}

func newExportCmd(a *app) *cobra.Command {
	var (
		r    reportFlags
		dest string
	)
	cmd := &cobra.Command{
		Use:   "export",
		Short: "Export saved snapshots of a period",
		Long: `Export writes every stored snapshot row of the period. json and parquet
write the raw rows; markdown and table write the aggregated report with
its daily history.`,
		RunE: func(cmd *cobra.Command, _ []string) error {
			format, err := output.ParseFormat(r.format)
			if err != nil {
				return err
			}

			w := cmd.OutOrStdout()
			if dest != "" && dest != "-" {
				file, err := os.Create(dest)
				if err != nil {
					return fmt.Errorf("create %s: %w", dest, err)
				}
				defer func() { _ = file.Close() }()
				w = file
			} else if format == output.Parquet && ui.IsStdoutTTY() {
				return fmt.Errorf("refusing to write parquet to a terminal, use --output")
			}

			switch format {
			case output.JSON, output.Parquet:
				ctx := cmd.Context()
				since, err := store.PeriodStart(r.period, time.Now())
				if err != nil {
					return err
				}
				st, err := a.openStore(ctx)
				if err != nil {
					return err
				}
				rows, err := st.ExportSnapshots(ctx, r.accountID, since)
				if err != nil {
					return err
				}
				if r.language != "" {
					rows = filterLanguage(rows, strings.ToUpper(strings.TrimSpace(r.language)))
				}
				a.log.Info("exporting snapshots", "rows", len(rows), "format", format, "since", since)
				if format == output.Parquet {
					return output.WriteParquet(w, rows)
				}
				return output.WriteSnapshotsJSON(w, rows)
			default:
				r.history = true
				report, err := a.report(cmd, r)
				if err != nil {
					return err
				}
				return writeReport(w, format, report)
			}
		},
	}
	r.register(cmd, "month", "json")
	cmd.Flags().StringVarP(&dest, "output", "o", "", "Write to this file instead of stdout")
	return cmd
}

func filterLanguage(rows []model.StatSnapshot, language string) []model.StatSnapshot {
	out := rows[:0]
	for _, row := range rows {
		if row.Language == language {
			out = append(out, row)
		}
	}
	return out
}
