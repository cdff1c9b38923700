package main

import (
	"os"
	"time"

	"github.com/spf13/cobra"

	"github.com/dsablic/linestat/internal/mcpserver"
	"github.com/dsablic/linestat/internal/provider"
	"github.com/dsablic/linestat/internal/server"
)

func newServeCmd(a *app) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "serve",
		Short: "Serve the HTTP API and run scheduled scans",
		Long: `Serve exposes scans, progress, statistics, badges and account management
under /api. When scan-interval is positive every active account is
scanned on that schedule.`,
		RunE: func(cmd *cobra.Command, _ []string) error {
			ctx := cmd.Context()
			sc, st, err := a.scanner(ctx, provider.ListOpts{})
			if err != nil {
				return err
			}
			srv := server.New(server.Config{
				Store:   st,
				Scanner: sc,
				Owner:   a.cfg.Owner,
				Logger:  a.log,
			})
			return srv.Run(ctx, a.cfg.Listen, a.cfg.ScanInterval)
		},
	}
	f := cmd.Flags()
	f.String("listen", ":8080", "HTTP listen address")
	f.Duration("scan-interval", 24*time.Hour, "Scan every active account at this interval (0 disables)")
	f.Float64("requests-per-second", 0, "Client-side request rate limit (0 = retry on 429 only)")
	return cmd
}

func newMCPCmd(a *app) *cobra.Command {
	return &cobra.Command{
		Use:   "mcp",
		Short: "Serve statistics and scans as MCP tools over stdio",
		Long: `Launch a Model Context Protocol server on stdin/stdout so AI agents can
query language statistics, read scan progress and start scans.`,
		RunE: func(cmd *cobra.Command, _ []string) error {
			ctx := cmd.Context()
			sc, st, err := a.scanner(ctx, provider.ListOpts{})
			if err != nil {
				return err
			}
			return mcpserver.Serve(ctx, mcpserver.Config{
				Store:   st,
				Scanner: sc,
				Owner:   a.cfg.Owner,
				Logger:  a.log,
			}, os.Stdin, os.Stdout)
		},
	}
}
