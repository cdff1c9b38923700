// Package mcpserver exposes stored statistics and scan progress as Model
// Context Protocol tools.
package mcpserver

import (
	"context"
	"io"
	"log/slog"
	"time"

	"github.com/mark3labs/mcp-go/mcp"
	"github.com/mark3labs/mcp-go/server"

	"github.com/dsablic/linestat/internal/scan"
	"github.com/dsablic/linestat/internal/store"
)

// Version is reported to MCP clients.
const Version = "1.0.0"

// Config wires the tool handlers.
type Config struct {
	Store   *store.Store
	Scanner *scan.Scanner
	Owner   string
	Logger  *slog.Logger
}

// New builds the MCP server without starting it. Background scans started
// through the start_scan tool are bounded by ctx.
func New(ctx context.Context, cfg Config) *server.MCPServer {
	if cfg.Owner == "" {
		cfg.Owner = "default"
	}
	if cfg.Logger == nil {
		cfg.Logger = slog.Default()
	}
	s := server.NewMCPServer("linestat", Version,
		server.WithToolCapabilities(false),
		server.WithLogging(),
	)

	h := &toolHandler{
		ctx:     ctx,
		store:   cfg.Store,
		scanner: cfg.Scanner,
		owner:   cfg.Owner,
		log:     cfg.Logger,
		now:     time.Now,
	}

	s.AddTool(mcp.NewTool("get_language_stats",
		mcp.WithDescription("Line statistics per language from the latest snapshot of each account in a period."),
		mcp.WithNumber("account_id", mcp.Description("Limit to one account. Omit for all accounts.")),
		mcp.WithString("language", mcp.Description("Limit to one language, e.g. GO or PYTHON.")),
		mcp.WithString("period", mcp.Description("Time window. Defaults to 'today'."), mcp.Enum(store.Periods...)),
	), h.handleLanguageStats)

	s.AddTool(mcp.NewTool("get_history",
		mcp.WithDescription("Total lines per day summed over accounts."),
		mcp.WithNumber("account_id", mcp.Description("Limit to one account. Omit for all accounts.")),
		mcp.WithString("period", mcp.Description("Time window. Defaults to 'month'."), mcp.Enum(store.Periods...)),
	), h.handleHistory)

	s.AddTool(mcp.NewTool("list_accounts",
		mcp.WithDescription("Configured platform accounts, without their tokens."),
		mcp.WithBoolean("active_only", mcp.Description("Only accounts included in scans.")),
	), h.handleListAccounts)

	s.AddTool(mcp.NewTool("get_scan_progress",
		mcp.WithDescription("Progress of the current or last scan of an owner."),
		mcp.WithString("owner", mcp.Description("Scan owner. Defaults to the configured owner.")),
	), h.handleProgress)

	s.AddTool(mcp.NewTool("start_scan",
		mcp.WithDescription("Start a background scan of every active account. Poll get_scan_progress for the result."),
		mcp.WithString("owner", mcp.Description("Scan owner. Defaults to the configured owner.")),
		mcp.WithBoolean("force", mcp.Description("Walk repositories even when their commit is unchanged.")),
	), h.handleStartScan)

	return s
}

// Serve runs the MCP server over stdin and stdout until ctx is done, then
// waits for scans it started.
func Serve(ctx context.Context, cfg Config, in io.Reader, out io.Writer) error {
	s := New(ctx, cfg)
	err := server.NewStdioServer(s).Listen(ctx, in, out)
	cfg.Scanner.Wait()
	return err
}
