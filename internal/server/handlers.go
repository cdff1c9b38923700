package server

import (
	"bufio"
	"bytes"
	"encoding/json"
	"fmt"
	"slices"
	"strconv"
	"strings"
	"time"

	"github.com/gofiber/fiber/v3"

	"github.com/dsablic/linestat/internal/model"
	"github.com/dsablic/linestat/internal/output"
	"github.com/dsablic/linestat/internal/progress"
	"github.com/dsablic/linestat/internal/scan"
	"github.com/dsablic/linestat/internal/store"
)

// ScanRequest is the body of POST /api/scan. Every field is optional.
type ScanRequest struct {
	Owner      string  `json:"owner"`
	AccountIDs []int64 `json:"account_ids"`
	Force      bool    `json:"force"`
}

// AccountRequest is the body of POST /api/accounts.
type AccountRequest struct {
	Platform    string `json:"platform"`
	Username    string `json:"username"`
	AccessToken string `json:"access_token"`
	BaseURL     string `json:"base_url"`
	Active      *bool  `json:"is_active"`
}

func (s *Server) ownerOf(c fiber.Ctx) string {
	if o := strings.TrimSpace(c.Query("owner")); o != "" {
		return o
	}
	return s.owner
}

func queryID(c fiber.Ctx, key string) (int64, error) {
	raw := c.Query(key)
	if raw == "" {
		return 0, nil
	}
	id, err := strconv.ParseInt(raw, 10, 64)
	if err != nil || id < 0 {
		return 0, fiber.NewError(fiber.StatusBadRequest, fmt.Sprintf("invalid %s %q", key, raw))
	}
	return id, nil
}

func paramID(c fiber.Ctx) (int64, error) {
	id, err := strconv.ParseInt(c.Params("id"), 10, 64)
	if err != nil {
		return 0, fiber.NewError(fiber.StatusBadRequest, "invalid account id")
	}
	return id, nil
}

func badRequest(err error) error {
	return fiber.NewError(fiber.StatusBadRequest, err.Error())
}

// --- scans and progress ---

func (s *Server) startScan(c fiber.Ctx) error {
	var req ScanRequest
	if len(c.Body()) > 0 {
		if err := c.Bind().JSON(&req); err != nil {
			return fiber.NewError(fiber.StatusBadRequest, "invalid request body")
		}
	}
	owner := req.Owner
	if owner == "" {
		owner = s.ownerOf(c)
	}

	err := s.scanner.Start(s.ctx, owner, scan.Request{AccountIDs: req.AccountIDs, Force: req.Force})
	if err != nil {
		return err
	}
	return c.Status(fiber.StatusAccepted).JSON(fiber.Map{"status": "started", "owner": owner})
}

func (s *Server) snapshot(owner string) progress.Snapshot {
	if snap, ok := s.scanner.Tracker().Read(owner); ok {
		return snap
	}
	return progress.Idle(owner)
}

func (s *Server) getProgress(c fiber.Ctx) error {
	return c.JSON(s.snapshot(s.ownerOf(c)))
}

func (s *Server) resetProgress(c fiber.Ctx) error {
	owner := s.ownerOf(c)
	if !s.scanner.Tracker().Reset(owner) {
		return fiber.NewError(fiber.StatusConflict, "scan in progress for "+owner)
	}
	return c.JSON(fiber.Map{"success": true, "owner": owner})
}

// streamProgress sends Server-Sent Events until the run ends.
func (s *Server) streamProgress(c fiber.Ctx) error {
	owner := s.ownerOf(c)
	tracker := s.scanner.Tracker()

	c.Set("Content-Type", "text/event-stream")
	c.Set("Cache-Control", "no-cache")
	c.Set("Connection", "keep-alive")

	return c.SendStreamWriter(func(w *bufio.Writer) {
		// Subscribe before reading the snapshot so no change is missed.
		ch := tracker.Subscribe(owner)
		defer tracker.Unsubscribe(owner, ch)
		current := s.snapshot(owner)

		writeEvent(w, current)
		if !current.Active {
			return
		}
		timeout := time.After(30 * time.Minute)
		for {
			select {
			case snap, ok := <-ch:
				if !ok {
					return
				}
				if err := writeEvent(w, snap); err != nil || !snap.Active {
					return
				}
			case <-timeout:
				s.log.Warn("progress stream timeout", "owner", owner)
				return
			}
		}
	})
}

func writeEvent(w *bufio.Writer, snap progress.Snapshot) error {
	data, err := json.Marshal(snap)
	if err != nil {
		return err
	}
	event := "progress"
	switch {
	case snap.Failed:
		event = "failed"
	case !snap.Active && snap.Percentage >= 100:
		event = "complete"
	}
	if _, err := fmt.Fprintf(w, "event: %s\ndata: %s\n\n", event, data); err != nil {
		return err
	}
	return w.Flush()
}

// --- statistics ---

func (s *Server) getStats(c fiber.Ctx) error {
	accountID, err := queryID(c, "account_id")
	if err != nil {
		return err
	}
	period := c.Query("period", "today")
	since, err := store.PeriodStart(period, s.now())
	if err != nil {
		return badRequest(err)
	}
	language := strings.ToUpper(strings.TrimSpace(c.Query("language")))

	totals, err := s.store.QueryStatistics(c.Context(), store.StatsQuery{
		AccountID: accountID,
		Language:  language,
		Since:     since,
	})
	if err != nil {
		return err
	}
	report := model.NewReport(s.now(), period, totals)
	report.AccountID = accountID
	report.Language = language
	return c.JSON(report)
}

func (s *Server) getHistory(c fiber.Ctx) error {
	accountID, err := queryID(c, "account_id")
	if err != nil {
		return err
	}
	since, err := store.PeriodStart(c.Query("period", "month"), s.now())
	if err != nil {
		return badRequest(err)
	}
	history, err := s.store.History(c.Context(), accountID, since)
	if err != nil {
		return err
	}
	if history == nil {
		history = []model.DailyTotal{}
	}
	return c.JSON(history)
}

var badgeLabels = map[string]string{
	"total_lines":   "Total Lines",
	"code_lines":    "Code Lines",
	"comment_lines": "Comment Lines",
	"empty_lines":   "Empty Lines",
	"files":         "Files",
}

func (s *Server) getBadge(c fiber.Ctx) error {
	metric := c.Params("metric")
	color := c.Query("color", "#08C")
	c.Set("Content-Type", "image/svg+xml")

	var buf bytes.Buffer
	if !slices.Contains(output.BadgeMetrics, metric) {
		if err := output.WriteBadge(&buf, "Error", "Invalid Type", "#f00"); err != nil {
			return err
		}
		return c.Status(fiber.StatusBadRequest).Send(buf.Bytes())
	}

	accountID, err := queryID(c, "account_id")
	if err != nil {
		return err
	}
	since, _ := store.PeriodStart("today", s.now())
	language := strings.ToUpper(strings.TrimSpace(c.Query("language")))
	totals, err := s.store.QueryStatistics(c.Context(), store.StatsQuery{
		AccountID: accountID,
		Language:  language,
		Since:     since,
	})
	if err != nil {
		return err
	}

	sum := totals.Sum()
	value := map[string]int64{
		"total_lines":   sum.Total,
		"code_lines":    sum.Code,
		"comment_lines": sum.Comment,
		"empty_lines":   sum.Empty,
		"files":         sum.Files,
	}[metric]
	label := badgeLabels[metric]
	if language != "" {
		label = language + " " + label
	}
	if err := output.WriteBadge(&buf, label, output.HumanNumber(value), color); err != nil {
		return err
	}
	return c.Send(buf.Bytes())
}

// --- accounts ---

func (s *Server) listAccounts(c fiber.Ctx) error {
	accounts, err := s.store.ListAccounts(c.Context(), c.Query("active") == "true")
	if err != nil {
		return err
	}
	if accounts == nil {
		accounts = []model.Account{}
	}
	return c.JSON(accounts)
}

func (s *Server) addAccount(c fiber.Ctx) error {
	var req AccountRequest
	if err := c.Bind().JSON(&req); err != nil {
		return fiber.NewError(fiber.StatusBadRequest, "invalid request body")
	}
	a := model.Account{
		Platform:    model.Platform(strings.ToLower(req.Platform)),
		Username:    strings.TrimSpace(req.Username),
		AccessToken: req.AccessToken,
		BaseURL:     strings.TrimSpace(req.BaseURL),
		Active:      req.Active == nil || *req.Active,
	}
	if !a.Platform.Valid() {
		return fiber.NewError(fiber.StatusBadRequest, fmt.Sprintf("unsupported platform %q", req.Platform))
	}
	if a.Platform == model.PlatformGit && a.BaseURL == "" {
		return fiber.NewError(fiber.StatusBadRequest, "git accounts need base_url")
	}

	id, err := s.store.AddAccount(c.Context(), a)
	if err != nil {
		return err
	}
	created, err := s.store.GetAccount(c.Context(), id)
	if err != nil {
		return err
	}
	return c.Status(fiber.StatusCreated).JSON(created)
}

func (s *Server) setAccountActive(c fiber.Ctx) error {
	id, err := paramID(c)
	if err != nil {
		return err
	}
	var body struct {
		Active bool `json:"is_active"`
	}
	if err := c.Bind().JSON(&body); err != nil {
		return fiber.NewError(fiber.StatusBadRequest, "invalid request body")
	}
	if err := s.store.SetAccountActive(c.Context(), id, body.Active); err != nil {
		return err
	}
	a, err := s.store.GetAccount(c.Context(), id)
	if err != nil {
		return err
	}
	return c.JSON(a)
}

func (s *Server) removeAccount(c fiber.Ctx) error {
	id, err := paramID(c)
	if err != nil {
		return err
	}
	if err := s.store.RemoveAccount(c.Context(), id); err != nil {
		return err
	}
	return c.SendStatus(fiber.StatusNoContent)
}

func (s *Server) listRepositories(c fiber.Ctx) error {
	accountID, err := queryID(c, "account_id")
	if err != nil {
		return err
	}
	repos, err := s.store.ListRepositories(c.Context(), accountID)
	if err != nil {
		return err
	}
	if repos == nil {
		repos = []model.RepositoryRecord{}
	}
	return c.JSON(repos)
}

// --- cache ---

func (s *Server) cacheStatus(c fiber.Ctx) error {
	st, err := s.store.Status(c.Context())
	if err != nil {
		return err
	}
	return c.JSON(st)
}

func (s *Server) clearCache(c fiber.Ctx) error {
	if active := s.scanner.Tracker().Active(); len(active) > 0 {
		return fiber.NewError(fiber.StatusConflict, "scan in progress for "+strings.Join(active, ", "))
	}
	removed, err := s.store.ClearFileCache(c.Context())
	if err != nil {
		return err
	}
	s.scanner.PurgeCache()
	return c.JSON(fiber.Map{"removed": removed})
}
