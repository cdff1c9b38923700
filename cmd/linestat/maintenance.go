package main

import (
	"encoding/json"
	"fmt"
	"io"

	"github.com/spf13/cobra"

	"github.com/dsablic/linestat/internal/archive"
	"github.com/dsablic/linestat/internal/output"
	"github.com/dsablic/linestat/internal/store"
)

func writeJSON(w io.Writer, v any) error {
	enc := json.NewEncoder(w)
	enc.SetIndent("", "  ")
	return enc.Encode(v)
}

func newCacheCmd(a *app) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "cache",
		Short: "Inspect or clear the file cache",
		Long: `The file cache keeps the line counts of every file at its last content
fingerprint, so unchanged files are never fetched twice.

Subcommands:
  status - Show row counts of every table and the latest snapshot date
  clear  - Delete cached files and reset repository commits so the next
           scan walks and fetches everything again`,
	}

	status := &cobra.Command{
		Use:   "status",
		Short: "Show database contents",
		RunE: func(cmd *cobra.Command, _ []string) error {
			st, err := a.openStore(cmd.Context())
			if err != nil {
				return err
			}
			s, err := st.Status(cmd.Context())
			if err != nil {
				return err
			}
			return writeJSON(cmd.OutOrStdout(), s)
		},
	}

	clearCmd := &cobra.Command{
		Use:   "clear",
		Short: "Delete cached files and reset repository commits",
		RunE: func(cmd *cobra.Command, _ []string) error {
			st, err := a.openStore(cmd.Context())
			if err != nil {
				return err
			}
			removed, err := st.ClearFileCache(cmd.Context())
			if err != nil {
				return err
			}
			fmt.Fprintf(cmd.ErrOrStderr(), "Removed %d cached files\n", removed)
			return nil
		},
	}

	cmd.AddCommand(status, clearCmd)
	return cmd
}

func newMigrateCmd(a *app) *cobra.Command {
	var target int
	cmd := &cobra.Command{
		Use:   "migrate",
		Short: "Apply or roll back database migrations",
		Long: `Migrate moves the schema of the configured database. Other commands
migrate to the latest version automatically.

  --target -1  latest (default)
  --target 0   roll back every migration
  --target N   move to version N`,
		RunE: func(cmd *cobra.Command, _ []string) error {
			st, err := store.Connect(cmd.Context(), a.cfg.Backend, a.cfg.DBConnect)
			if err != nil {
				return err
			}
			defer func() { _ = st.Close() }()

			res, err := st.Migrate(target)
			if err != nil {
				return err
			}
			if !res.Changed {
				fmt.Fprintf(cmd.ErrOrStderr(), "%s schema already at version %d\n", st.Backend(), res.To)
				return nil
			}
			fmt.Fprintf(cmd.ErrOrStderr(), "%s schema migrated from version %d to %d\n", st.Backend(), res.From, res.To)
			return nil
		},
	}
	cmd.Flags().IntVar(&target, "target", -1, "Target schema version")
	return cmd
}

func newLanguagesCmd(a *app) *cobra.Command {
	return &cobra.Command{
		Use:   "languages",
		Short: "List the language table used to classify files",
		RunE: func(cmd *cobra.Command, _ []string) error {
			t, err := a.languages()
			if err != nil {
				return err
			}
			return output.WriteLanguages(cmd.OutOrStdout(), t.Definitions())
		},
	}
}

func newArchiveCmd(a *app) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "archive",
		Short: "Read snapshots copied to object storage",
	}

	list := &cobra.Command{
		Use:   "list <account-id>",
		Short: "List archived snapshot dates of an account",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			id, err := parseID(args[0])
			if err != nil {
				return err
			}
			arch, err := a.archiver()
			if err != nil {
				return err
			}
			dates, err := arch.Dates(cmd.Context(), id)
			if err != nil {
				return err
			}
			for _, d := range dates {
				fmt.Fprintln(cmd.OutOrStdout(), d)
			}
			return nil
		},
	}

	show := &cobra.Command{
		Use:   "show <account-id> <date>",
		Short: "Print one archived snapshot",
		Args:  cobra.ExactArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			id, err := parseID(args[0])
			if err != nil {
				return err
			}
			arch, err := a.archiver()
			if err != nil {
				return err
			}
			obj, err := arch.Get(cmd.Context(), id, args[1])
			if err != nil {
				return fmt.Errorf("%s: %w", archive.Key(id, args[1]), err)
			}
			return writeJSON(cmd.OutOrStdout(), obj)
		},
	}

	cmd.AddCommand(list, show)
	return cmd
}
