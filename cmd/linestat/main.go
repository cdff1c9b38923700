package main

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"
	"github.com/spf13/viper"

	"github.com/dsablic/linestat/internal/archive"
	"github.com/dsablic/linestat/internal/config"
	"github.com/dsablic/linestat/internal/language"
	"github.com/dsablic/linestat/internal/model"
	"github.com/dsablic/linestat/internal/provider"
	"github.com/dsablic/linestat/internal/scan"
	"github.com/dsablic/linestat/internal/store"
)

// Set by the release build.
var version = "dev"

// app carries the resolved configuration and lazily opened resources
// shared by every command.
type app struct {
	v     *viper.Viper
	cfg   config.Config
	log   *slog.Logger
	store *store.Store
}

func main() {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	a := &app{}
	root := newRootCmd(a)
	err := root.ExecuteContext(ctx)
	a.close()
	if err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

func newRootCmd(a *app) *cobra.Command {
	root := &cobra.Command{
		Use:           "linestat",
		Short:         "Count code, comment and empty lines across hosted repositories",
		Version:       version,
		SilenceErrors: true,
		SilenceUsage:  true,
		PersistentPreRunE: func(cmd *cobra.Command, _ []string) error {
			return a.setup(cmd)
		},
	}

	flags := root.PersistentFlags()
	flags.String("config", "", "Config file (default .linestat.yaml in . or $HOME)")
	flags.String("db-backend", "sqlite", "Database backend: sqlite, mysql or postgresql")
	flags.String("db-connect", "", "Database connection string (sqlite: file path)")
	flags.String("languages", "", "Language table JSON file (default: embedded table)")
	flags.String("owner", "default", "Owner name scans and progress are tracked under")
	flags.String("log-level", "info", "Log level: debug, info, warn or error")
	flags.String("log-format", "text", "Log format: text or json")

	root.AddCommand(
		newScanCmd(a),
		newServeCmd(a),
		newAccountCmd(a),
		newStatsCmd(a),
		newExportCmd(a),
		newCacheCmd(a),
		newArchiveCmd(a),
		newMigrateCmd(a),
		newLanguagesCmd(a),
		newMCPCmd(a),
	)
	return root
}

// setup merges defaults, file, environment and the command's flags.
func (a *app) setup(cmd *cobra.Command) error {
	file, _ := cmd.Flags().GetString("config")
	a.v = config.New(file)
	if err := a.v.BindPFlags(cmd.Flags()); err != nil {
		return fmt.Errorf("bind flags: %w", err)
	}
	cfg, err := config.Load(a.v)
	if err != nil {
		return err
	}
	a.cfg = cfg
	a.log = cfg.Logger(os.Stderr)
	slog.SetDefault(a.log)
	return nil
}

// openStore connects and migrates the configured database once.
func (a *app) openStore(ctx context.Context) (*store.Store, error) {
	if a.store != nil {
		return a.store, nil
	}
	s, err := store.Open(ctx, a.cfg.Backend, a.cfg.DBConnect)
	if err != nil {
		return nil, fmt.Errorf("open database: %w", err)
	}
	a.store = s
	return s, nil
}

func (a *app) close() {
	if a.store != nil {
		if err := a.store.Close(); err != nil && a.log != nil {
			a.log.Warn("closing database", "error", err)
		}
	}
}

func (a *app) languages() (*language.Table, error) {
	t, err := language.Load(a.cfg.Languages)
	if err != nil {
		return nil, fmt.Errorf("load language table: %w", err)
	}
	return t, nil
}

func (a *app) archiver() (*archive.Archiver, error) {
	c := a.cfg.Archive
	if !c.Enabled() {
		return nil, errors.New("archive is not configured (set archive.endpoint and archive.bucket)")
	}
	return archive.New(archive.Config{
		Endpoint:  c.Endpoint,
		Region:    c.Region,
		AccessKey: c.AccessKey,
		SecretKey: c.SecretKey,
		Bucket:    c.Bucket,
		UseSSL:    c.UseSSL,
	})
}

// providers returns the factory the scanner opens platforms with. All
// platforms share one rate-limited client.
func (a *app) providers() scan.ProviderFunc {
	client := &http.Client{
		Transport: &provider.RateLimitTransport{ReqPerSec: a.cfg.RequestsPerSecond},
	}
	opts := provider.Options{
		Client:       client,
		MaxFileSize:  a.cfg.MaxFileSize,
		FetchTimeout: a.cfg.FetchTimeout,
	}
	return func(acc model.Account) (provider.Provider, error) {
		return provider.New(acc, opts)
	}
}

// scanner wires a Scanner to the store, the platforms and, when
// configured, the archive. list filters the repositories of each account.
func (a *app) scanner(ctx context.Context, list provider.ListOpts) (*scan.Scanner, *store.Store, error) {
	st, err := a.openStore(ctx)
	if err != nil {
		return nil, nil, err
	}
	langs, err := a.languages()
	if err != nil {
		return nil, nil, err
	}
	cfg := scan.Config{
		Store:     st,
		Languages: langs,
		Providers: a.providers(),
		Logger:    a.log,
		Options: scan.Options{
			MaxFileSize:      a.cfg.MaxFileSize,
			FallbackBranches: a.cfg.FallbackBranches,
			ExcludeVendored:  a.cfg.ExcludeVendored,
			CacheSize:        a.cfg.CacheSize,
			List:             list,
		},
	}
	if a.cfg.Archive.Enabled() {
		arch, err := a.archiver()
		if err != nil {
			return nil, nil, err
		}
		cfg.Archiver = arch
	}
	sc, err := scan.New(cfg)
	if err != nil {
		return nil, nil, err
	}
	return sc, st, nil
}
