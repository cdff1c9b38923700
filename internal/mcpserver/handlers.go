package mcpserver

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/mark3labs/mcp-go/mcp"

	"github.com/dsablic/linestat/internal/model"
	"github.com/dsablic/linestat/internal/progress"
	"github.com/dsablic/linestat/internal/scan"
	"github.com/dsablic/linestat/internal/store"
)

// toolHandler holds common dependencies for MCP tool handlers.
type toolHandler struct {
	ctx     context.Context
	store   *store.Store
	scanner *scan.Scanner
	owner   string
	log     *slog.Logger
	now     func() time.Time
}

func jsonResult(v any) (*mcp.CallToolResult, error) {
	data, err := json.MarshalIndent(v, "", "  ")
	if err != nil {
		return nil, err
	}
	return mcp.NewToolResultText(string(data)), nil
}

func (h *toolHandler) ownerOf(request mcp.CallToolRequest) string {
	if o := strings.TrimSpace(request.GetString("owner", "")); o != "" {
		return o
	}
	return h.owner
}

func accountID(request mcp.CallToolRequest) (int64, error) {
	id := request.GetInt("account_id", 0)
	if id < 0 {
		return 0, fmt.Errorf("account_id must not be negative, got %d", id)
	}
	return int64(id), nil
}

func (h *toolHandler) handleLanguageStats(ctx context.Context, request mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	id, err := accountID(request)
	if err != nil {
		return mcp.NewToolResultError(err.Error()), nil
	}
	period := request.GetString("period", "today")
	since, err := store.PeriodStart(period, h.now())
	if err != nil {
		return mcp.NewToolResultError(err.Error()), nil
	}
	language := strings.ToUpper(strings.TrimSpace(request.GetString("language", "")))

	totals, err := h.store.QueryStatistics(ctx, store.StatsQuery{AccountID: id, Language: language, Since: since})
	if err != nil {
		return mcp.NewToolResultError(fmt.Sprintf("query failed: %v", err)), nil
	}
	report := model.NewReport(h.now(), period, totals)
	report.AccountID = id
	report.Language = language
	return jsonResult(report)
}

func (h *toolHandler) handleHistory(ctx context.Context, request mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	id, err := accountID(request)
	if err != nil {
		return mcp.NewToolResultError(err.Error()), nil
	}
	since, err := store.PeriodStart(request.GetString("period", "month"), h.now())
	if err != nil {
		return mcp.NewToolResultError(err.Error()), nil
	}
	history, err := h.store.History(ctx, id, since)
	if err != nil {
		return mcp.NewToolResultError(fmt.Sprintf("query failed: %v", err)), nil
	}
	if history == nil {
		history = []model.DailyTotal{}
	}
	return jsonResult(history)
}

func (h *toolHandler) handleListAccounts(ctx context.Context, request mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	accounts, err := h.store.ListAccounts(ctx, request.GetBool("active_only", false))
	if err != nil {
		return mcp.NewToolResultError(fmt.Sprintf("list accounts: %v", err)), nil
	}
	if accounts == nil {
		accounts = []model.Account{}
	}
	return jsonResult(accounts)
}

func (h *toolHandler) handleProgress(_ context.Context, request mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	owner := h.ownerOf(request)
	snap, ok := h.scanner.Tracker().Read(owner)
	if !ok {
		snap = progress.Idle(owner)
	}
	return jsonResult(snap)
}

func (h *toolHandler) handleStartScan(_ context.Context, request mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	owner := h.ownerOf(request)
	err := h.scanner.Start(h.ctx, owner, scan.Request{Force: request.GetBool("force", false)})
	if errors.Is(err, scan.ErrScanInProgress) {
		return mcp.NewToolResultError(fmt.Sprintf("a scan for %s is already running", owner)), nil
	}
	if err != nil {
		return mcp.NewToolResultError(fmt.Sprintf("start scan: %v", err)), nil
	}
	h.log.Info("scan started over mcp", "owner", owner)
	return jsonResult(map[string]string{"status": "started", "owner": owner})
}
