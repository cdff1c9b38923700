package main

import (
	"context"
	"fmt"
	"io"
	"time"

	"github.com/spf13/cobra"

	"github.com/dsablic/linestat/internal/model"
	"github.com/dsablic/linestat/internal/output"
	"github.com/dsablic/linestat/internal/provider"
	"github.com/dsablic/linestat/internal/scan"
	"github.com/dsablic/linestat/internal/ui"
)

func newScanCmd(a *app) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "scan",
		Short: "Scan the repositories of every active account and save today's statistics",
		Long: `Scan walks each repository whose head commit changed since the last scan,
fetching only files whose content changed. Unchanged repositories are
summed from the file cache without any fetch.`,
		RunE: func(cmd *cobra.Command, _ []string) error {
			return a.runScan(cmd)
		},
	}
	f := cmd.Flags()
	f.Int64Slice("account", nil, "Scan only these account ids (repeatable)")
	f.Bool("force", false, "Walk repositories even when their head commit is unchanged")
	f.StringSlice("repos", nil, "Only scan these repositories (name or owner/name)")
	f.StringSlice("exclude", nil, "Skip these repositories")
	f.Bool("include-forks", false, "Include forked repositories")
	f.Bool("include-archived", false, "Include archived repositories")
	f.String("format", "table", "Summary format: table, json or markdown")
	f.Bool("no-tui", false, "Print plain progress lines even on a terminal")
	f.Int64("max-file-size", 10<<20, "Skip files larger than this many bytes")
	f.Bool("exclude-vendored", false, "Skip vendored and generated paths")
	f.Float64("requests-per-second", 0, "Client-side request rate limit (0 = retry on 429 only)")
	return cmd
}

func (a *app) runScan(cmd *cobra.Command) error {
	ctx, cancel := context.WithCancel(cmd.Context())
	defer cancel()

	f := cmd.Flags()
	name, _ := f.GetString("format")
	format, err := output.ParseFormat(name)
	if err != nil {
		return err
	}
	if format == output.Parquet {
		return fmt.Errorf("parquet is only supported by export")
	}
	ids, _ := f.GetInt64Slice("account")
	force, _ := f.GetBool("force")
	noTUI, _ := f.GetBool("no-tui")
	list := provider.ListOpts{}
	list.Repos, _ = f.GetStringSlice("repos")
	list.Exclude, _ = f.GetStringSlice("exclude")
	list.IncludeForks, _ = f.GetBool("include-forks")
	list.IncludeArchived, _ = f.GetBool("include-archived")

	sc, _, err := a.scanner(ctx, list)
	if err != nil {
		return err
	}

	owner := a.cfg.Owner
	tracker := sc.Tracker()
	ch := tracker.Subscribe(owner)
	defer tracker.Unsubscribe(owner, ch)

	type result struct {
		sum scan.Summary
		err error
	}
	done := make(chan result, 1)
	go func() {
		sum, err := sc.Run(ctx, owner, scan.Request{AccountIDs: ids, Force: force})
		done <- result{sum, err}
	}()

	if ui.IsTTY() && !noTUI {
		p := ui.RunTUI()
		go ui.Forward(p, ch)
		if _, err := p.Run(); err != nil {
			a.log.Warn("progress display", "error", err)
		}
		// Quitting the display early stops the scan.
		cancel()
	} else {
		ui.NewPlainProgress(func(line string) {
			fmt.Fprintln(cmd.ErrOrStderr(), line)
		}).Follow(ch)
	}

	res := <-done
	a.log.Info("scan summary", "summary", res.sum)
	reportFailures(cmd.ErrOrStderr(), res.sum)
	if res.err != nil {
		return res.err
	}

	report := model.NewReport(time.Now(), "scan", res.sum.Totals)
	return writeReport(cmd.OutOrStdout(), format, report)
}

// reportFailures lists repositories and accounts that could not be
// scanned.
func reportFailures(w io.Writer, sum scan.Summary) {
	for _, ar := range sum.Accounts {
		if ar.ListErr != nil {
			fmt.Fprintf(w, "%s: could not list repositories: %v\n", ar.Account.Label(), ar.ListErr)
		}
		if ar.SaveErr != nil {
			fmt.Fprintf(w, "%s: could not save statistics: %v\n", ar.Account.Label(), ar.SaveErr)
		}
		for _, r := range ar.Repos {
			if r.Outcome == scan.Failed {
				fmt.Fprintf(w, "%s: %s\n", r.Repo.FullName, r.Reason)
			}
		}
	}
}
