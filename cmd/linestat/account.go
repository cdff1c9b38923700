package main

import (
	"errors"
	"fmt"
	"strconv"
	"strings"

	"github.com/charmbracelet/huh"
	"github.com/spf13/cobra"

	"github.com/dsablic/linestat/internal/auth"
	"github.com/dsablic/linestat/internal/model"
	"github.com/dsablic/linestat/internal/output"
	"github.com/dsablic/linestat/internal/ui"
)

func newAccountCmd(a *app) *cobra.Command {
	cmd := &cobra.Command{
		Use:     "account",
		Aliases: []string{"accounts"},
		Short:   "Manage the platform accounts that are scanned",
	}
	cmd.AddCommand(
		newAccountAddCmd(a),
		newAccountListCmd(a),
		newAccountRemoveCmd(a),
		newAccountToggleCmd(a),
		newAccountLoginCmd(),
		newAccountReposCmd(a),
	)
	return cmd
}

var platformOptions = huh.NewOptions(
	string(model.PlatformGitHub),
	string(model.PlatformGitLab),
	string(model.PlatformGit),
)

func validatePlatform(s string) error {
	if !model.Platform(strings.ToLower(s)).Valid() {
		return fmt.Errorf("unsupported platform %q (use github, gitlab or git)", s)
	}
	return nil
}

func notEmpty(field string) func(string) error {
	return func(s string) error {
		if strings.TrimSpace(s) == "" {
			return fmt.Errorf("%s is required", field)
		}
		return nil
	}
}

func newAccountAddCmd(a *app) *cobra.Command {
	var (
		acc      model.Account
		platform string
		inactive bool
	)
	cmd := &cobra.Command{
		Use:   "add",
		Short: "Add an account",
		Long: `Add stores an account to scan. Missing flags are prompted for on a
terminal. Without --token the token is taken from LINESTAT_<PLATFORM>_TOKEN,
the credentials file written by 'account login', or the gh/glab CLI.

A git account's base URL is either a directory of local repositories or
a single clone URL.`,
		RunE: func(cmd *cobra.Command, _ []string) error {
			if (platform == "" || acc.Username == "") && ui.IsTTY() {
				if err := promptAccount(&platform, &acc); err != nil {
					return err
				}
			}
			if err := validatePlatform(platform); err != nil {
				return err
			}
			acc.Platform = model.Platform(strings.ToLower(platform))
			if acc.Username == "" {
				return errors.New("--username is required")
			}
			if acc.Platform == model.PlatformGit && acc.BaseURL == "" {
				return errors.New("git accounts need --base-url")
			}
			acc.Active = !inactive

			if acc.AccessToken == "" {
				cred, err := auth.NewFileStore(auth.DefaultStorePath()).Resolve(acc.Platform, acc.BaseURL)
				if err != nil {
					return fmt.Errorf("no token for %s: pass --token, set LINESTAT_%s_TOKEN or run 'linestat account login': %w",
						acc.Platform, strings.ToUpper(string(acc.Platform)), err)
				}
				acc.AccessToken = cred.AccessToken
			}

			st, err := a.openStore(cmd.Context())
			if err != nil {
				return err
			}
			id, err := st.AddAccount(cmd.Context(), acc)
			if err != nil {
				return err
			}
			fmt.Fprintf(cmd.ErrOrStderr(), "Added account %d (%s)\n", id, acc.Label())
			return nil
		},
	}
	f := cmd.Flags()
	f.StringVar(&platform, "platform", "", "Platform: github, gitlab or git")
	f.StringVar(&acc.Username, "username", "", "Account username")
	f.StringVar(&acc.AccessToken, "token", "", "Access token")
	f.StringVar(&acc.BaseURL, "base-url", "", "API base URL for self-hosted platforms, or the git location")
	f.BoolVar(&inactive, "inactive", false, "Add the account without including it in scans")
	return cmd
}

func promptAccount(platform *string, acc *model.Account) error {
	if *platform == "" {
		*platform = string(model.PlatformGitHub)
	}
	form := huh.NewForm(
		huh.NewGroup(
			huh.NewSelect[string]().
				Title("Platform").
				Options(platformOptions...).
				Value(platform),
			huh.NewInput().
				Title("Username").
				Value(&acc.Username).
				Validate(notEmpty("username")),
			huh.NewInput().
				Title("Base URL").
				Description("Leave empty for github.com or gitlab.com. Required for git.").
				Value(&acc.BaseURL),
			huh.NewInput().
				Title("Access token").
				Description("Leave empty to look it up from the environment or CLI.").
				EchoMode(huh.EchoModePassword).
				Value(&acc.AccessToken),
		),
	)
	if err := form.Run(); err != nil {
		if errors.Is(err, huh.ErrUserAborted) {
			return errors.New("cancelled")
		}
		return err
	}
	return nil
}

func newAccountListCmd(a *app) *cobra.Command {
	var (
		activeOnly bool
		format     string
	)
	cmd := &cobra.Command{
		Use:   "list",
		Short: "List accounts",
		RunE: func(cmd *cobra.Command, _ []string) error {
			st, err := a.openStore(cmd.Context())
			if err != nil {
				return err
			}
			accounts, err := st.ListAccounts(cmd.Context(), activeOnly)
			if err != nil {
				return err
			}
			if format == "json" {
				if accounts == nil {
					accounts = []model.Account{}
				}
				return writeJSON(cmd.OutOrStdout(), accounts)
			}
			return output.WriteAccounts(cmd.OutOrStdout(), accounts)
		},
	}
	cmd.Flags().BoolVar(&activeOnly, "active", false, "Only accounts included in scans")
	cmd.Flags().StringVar(&format, "format", "table", "Output format: table or json")
	return cmd
}

func parseID(s string) (int64, error) {
	id, err := strconv.ParseInt(s, 10, 64)
	if err != nil || id <= 0 {
		return 0, fmt.Errorf("invalid account id %q", s)
	}
	return id, nil
}

func newAccountRemoveCmd(a *app) *cobra.Command {
	return &cobra.Command{
		Use:   "remove <id>",
		Short: "Remove an account with its repositories, cached files and snapshots",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			id, err := parseID(args[0])
			if err != nil {
				return err
			}
			st, err := a.openStore(cmd.Context())
			if err != nil {
				return err
			}
			if err := st.RemoveAccount(cmd.Context(), id); err != nil {
				return err
			}
			fmt.Fprintf(cmd.ErrOrStderr(), "Removed account %d\n", id)
			return nil
		},
	}
}

func newAccountToggleCmd(a *app) *cobra.Command {
	return &cobra.Command{
		Use:   "toggle <id>",
		Short: "Include or exclude an account from scans",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			id, err := parseID(args[0])
			if err != nil {
				return err
			}
			st, err := a.openStore(cmd.Context())
			if err != nil {
				return err
			}
			acc, err := st.GetAccount(cmd.Context(), id)
			if err != nil {
				return err
			}
			if err := st.SetAccountActive(cmd.Context(), id, !acc.Active); err != nil {
				return err
			}
			state := "active"
			if acc.Active {
				state = "inactive"
			}
			fmt.Fprintf(cmd.ErrOrStderr(), "Account %d (%s) is now %s\n", id, acc.Label(), state)
			return nil
		},
	}
}

func newAccountLoginCmd() *cobra.Command {
	var (
		platform string
		cred     auth.Credentials
	)
	cmd := &cobra.Command{
		Use:   "login",
		Short: "Save a platform token for later 'account add' calls",
		RunE: func(cmd *cobra.Command, _ []string) error {
			if err := validatePlatform(platform); err != nil {
				return err
			}
			if cred.AccessToken == "" {
				if !ui.IsTTY() {
					return errors.New("--token is required when not on a terminal")
				}
				err := huh.NewInput().
					Title("Access token for " + platform).
					EchoMode(huh.EchoModePassword).
					Validate(notEmpty("token")).
					Value(&cred.AccessToken).
					Run()
				if err != nil {
					return err
				}
			}
			p := model.Platform(strings.ToLower(platform))
			if err := auth.NewFileStore(auth.DefaultStorePath()).Save(p, cred); err != nil {
				return err
			}
			fmt.Fprintf(cmd.ErrOrStderr(), "Saved %s token to %s\n", p, auth.DefaultStorePath())
			return nil
		},
	}
	f := cmd.Flags()
	f.StringVar(&platform, "platform", "", "Platform: github, gitlab or git")
	f.StringVar(&cred.AccessToken, "token", "", "Access token (prompted on a terminal when omitted)")
	f.StringVar(&cred.Username, "username", "", "Username the token belongs to")
	f.StringVar(&cred.Host, "host", "", "Host for self-hosted platforms")
	_ = cmd.MarkFlagRequired("platform")
	return cmd
}

func newAccountReposCmd(a *app) *cobra.Command {
	var accountID int64
	cmd := &cobra.Command{
		Use:   "repos",
		Short: "List tracked repositories and their last scan",
		RunE: func(cmd *cobra.Command, _ []string) error {
			st, err := a.openStore(cmd.Context())
			if err != nil {
				return err
			}
			repos, err := st.ListRepositories(cmd.Context(), accountID)
			if err != nil {
				return err
			}
			return output.WriteRepositories(cmd.OutOrStdout(), repos)
		},
	}
	cmd.Flags().Int64Var(&accountID, "account", 0, "Limit to one account id")
	return cmd
}
