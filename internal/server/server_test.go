package server_test

import (
	"context"
	"encoding/json"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"path/filepath"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/dsablic/linestat/internal/model"
	"github.com/dsablic/linestat/internal/progress"
	"github.com/dsablic/linestat/internal/provider"
	"github.com/dsablic/linestat/internal/scan"
	"github.com/dsablic/linestat/internal/server"
	"github.com/dsablic/linestat/internal/store"
)

const pySource = "import os\nimport sys\n\n# x\ndef main():\n    a = 1\n    b = 2\n\n    print(a + b)\nmain()\n"

// stubProvider serves one repository holding a.py and README.md.
type stubProvider struct{}

func (stubProvider) ListRepos(context.Context, provider.ListOpts) ([]model.Repo, error) {
	return []model.Repo{{ID: "1", Name: "app", FullName: "octo/app", DefaultBranch: "main"}}, nil
}

func (stubProvider) LatestCommit(context.Context, model.Repo, string) (string, error) {
	return "c1", nil
}

func (stubProvider) ListTree(_ context.Context, _ model.Repo, _, dir string) ([]provider.TreeEntry, error) {
	if dir != "" {
		return nil, provider.ErrNotFound
	}
	return []provider.TreeEntry{
		{Path: "README.md", Type: provider.EntryFile, ContentID: "r1", Size: 10},
		{Path: "a.py", Type: provider.EntryFile, ContentID: "a1", Size: int64(len(pySource))},
	}, nil
}

func (stubProvider) FetchFile(_ context.Context, _ model.Repo, _, path string) ([]byte, error) {
	if path == "a.py" {
		return []byte(pySource), nil
	}
	return nil, provider.ErrNotFound
}

type fixture struct {
	srv     *server.Server
	store   *store.Store
	scanner *scan.Scanner
	tracker *progress.Tracker
}

func newFixture(t *testing.T) *fixture {
	t.Helper()
	st, err := store.Open(context.Background(), store.SQLite, filepath.Join(t.TempDir(), "server.db"))
	require.NoError(t, err)
	t.Cleanup(func() { _ = st.Close() })

	tracker := progress.NewTracker()
	log := slog.New(slog.DiscardHandler)
	sc, err := scan.New(scan.Config{
		Store:     st,
		Providers: func(model.Account) (provider.Provider, error) { return stubProvider{}, nil },
		Tracker:   tracker,
		Logger:    log,
	})
	require.NoError(t, err)

	return &fixture{
		srv:     server.New(server.Config{Store: st, Scanner: sc, Owner: "alice", Logger: log}),
		store:   st,
		scanner: sc,
		tracker: tracker,
	}
}

func (f *fixture) do(t *testing.T, method, target, body string) (*http.Response, []byte) {
	t.Helper()
	var r io.Reader
	if body != "" {
		r = strings.NewReader(body)
	}
	req := httptest.NewRequest(method, target, r)
	if body != "" {
		req.Header.Set("Content-Type", "application/json")
	}
	resp, err := f.srv.App().Test(req)
	require.NoError(t, err)
	data, err := io.ReadAll(resp.Body)
	require.NoError(t, err)
	_ = resp.Body.Close()
	return resp, data
}

func (f *fixture) addAccount(t *testing.T) int64 {
	t.Helper()
	resp, body := f.do(t, http.MethodPost, "/api/accounts", `{"platform":"github","username":"octo","access_token":"tok"}`)
	require.Equal(t, http.StatusCreated, resp.StatusCode, string(body))
	var a model.Account
	require.NoError(t, json.Unmarshal(body, &a))
	return a.ID
}

func TestScanThenStats(t *testing.T) {
	f := newFixture(t)
	f.addAccount(t)

	resp, body := f.do(t, http.MethodPost, "/api/scan", "")
	require.Equal(t, http.StatusAccepted, resp.StatusCode, string(body))
	f.scanner.Wait()

	resp, body = f.do(t, http.MethodGet, "/api/progress", "")
	require.Equal(t, http.StatusOK, resp.StatusCode)
	var snap progress.Snapshot
	require.NoError(t, json.Unmarshal(body, &snap))
	assert.Equal(t, "alice", snap.Owner)
	assert.False(t, snap.Active)
	assert.Equal(t, 100.0, snap.Percentage)
	assert.Equal(t, "Analysis completed!", snap.Status)

	resp, body = f.do(t, http.MethodGet, "/api/stats?period=today&language=python", "")
	require.Equal(t, http.StatusOK, resp.StatusCode, string(body))
	var report model.Report
	require.NoError(t, json.Unmarshal(body, &report))
	require.Len(t, report.ByLanguage, 1)
	assert.Equal(t, model.LanguageStats{
		Name: "PYTHON", Files: 1,
		LineCounts: model.LineCounts{Total: 10, Code: 7, Comment: 1, Empty: 2},
	}, report.ByLanguage[0])
	assert.Equal(t, "PYTHON", report.Language)

	resp, body = f.do(t, http.MethodGet, "/api/history?period=week", "")
	require.Equal(t, http.StatusOK, resp.StatusCode)
	var history []model.DailyTotal
	require.NoError(t, json.Unmarshal(body, &history))
	require.Len(t, history, 1)
	assert.Equal(t, int64(10), history[0].Total)

	resp, body = f.do(t, http.MethodGet, "/api/badge/code_lines", "")
	require.Equal(t, http.StatusOK, resp.StatusCode)
	assert.Equal(t, "image/svg+xml", resp.Header.Get("Content-Type"))
	assert.Contains(t, string(body), "Code Lines: 7.0")
}

func TestScanConflict(t *testing.T) {
	f := newFixture(t)
	require.NoError(t, f.tracker.Start("alice"))

	resp, body := f.do(t, http.MethodPost, "/api/scan", "")
	assert.Equal(t, http.StatusConflict, resp.StatusCode, string(body))

	resp, _ = f.do(t, http.MethodPost, "/api/progress/reset", "")
	assert.Equal(t, http.StatusConflict, resp.StatusCode)

	resp, _ = f.do(t, http.MethodDelete, "/api/cache", "")
	assert.Equal(t, http.StatusConflict, resp.StatusCode)

	resp, body = f.do(t, http.MethodPost, "/api/scan", `{"owner":"bob"}`)
	assert.Equal(t, http.StatusAccepted, resp.StatusCode, string(body))
	f.scanner.Wait()

	f.tracker.Finish("alice", "")
	resp, _ = f.do(t, http.MethodPost, "/api/progress/reset", "")
	assert.Equal(t, http.StatusOK, resp.StatusCode)

	_, body = f.do(t, http.MethodGet, "/api/progress?owner=alice", "")
	var snap progress.Snapshot
	require.NoError(t, json.Unmarshal(body, &snap))
	assert.Equal(t, "Ready", snap.Status)
}

func TestProgressForUnknownOwnerIsIdle(t *testing.T) {
	f := newFixture(t)
	resp, body := f.do(t, http.MethodGet, "/api/progress?owner=nobody", "")
	require.Equal(t, http.StatusOK, resp.StatusCode)
	var snap progress.Snapshot
	require.NoError(t, json.Unmarshal(body, &snap))
	assert.Equal(t, progress.Idle("nobody"), snap)
}

func TestBadRequests(t *testing.T) {
	f := newFixture(t)
	tests := []struct {
		method, target, body string
		want                 int
	}{
		{http.MethodGet, "/api/stats?period=decade", "", http.StatusBadRequest},
		{http.MethodGet, "/api/stats?account_id=abc", "", http.StatusBadRequest},
		{http.MethodGet, "/api/history?period=forever", "", http.StatusBadRequest},
		{http.MethodGet, "/api/badge/stars", "", http.StatusBadRequest},
		{http.MethodPost, "/api/accounts", `{"platform":"bitbucket"}`, http.StatusBadRequest},
		{http.MethodPost, "/api/accounts", `{"platform":"git"}`, http.StatusBadRequest},
		{http.MethodPost, "/api/accounts", `{not json`, http.StatusBadRequest},
		{http.MethodDelete, "/api/accounts/x", "", http.StatusBadRequest},
		{http.MethodDelete, "/api/accounts/42", "", http.StatusNotFound},
		{http.MethodPut, "/api/accounts/42/active", `{"is_active":true}`, http.StatusNotFound},
	}
	for _, tt := range tests {
		t.Run(tt.method+" "+tt.target, func(t *testing.T) {
			resp, body := f.do(t, tt.method, tt.target, tt.body)
			assert.Equal(t, tt.want, resp.StatusCode, string(body))
		})
	}
}

func TestAccountLifecycle(t *testing.T) {
	f := newFixture(t)
	id := f.addAccount(t)

	resp, body := f.do(t, http.MethodGet, "/api/accounts", "")
	require.Equal(t, http.StatusOK, resp.StatusCode)
	assert.NotContains(t, string(body), "tok")
	var accounts []model.Account
	require.NoError(t, json.Unmarshal(body, &accounts))
	require.Len(t, accounts, 1)
	assert.True(t, accounts[0].Active)

	resp, body = f.do(t, http.MethodPut, "/api/accounts/"+itoa(id)+"/active", `{"is_active":false}`)
	require.Equal(t, http.StatusOK, resp.StatusCode, string(body))

	_, body = f.do(t, http.MethodGet, "/api/accounts?active=true", "")
	assert.JSONEq(t, `[]`, string(body))

	resp, _ = f.do(t, http.MethodDelete, "/api/accounts/"+itoa(id), "")
	assert.Equal(t, http.StatusNoContent, resp.StatusCode)
	resp, _ = f.do(t, http.MethodDelete, "/api/accounts/"+itoa(id), "")
	assert.Equal(t, http.StatusNotFound, resp.StatusCode)
}

func TestCacheEndpoints(t *testing.T) {
	f := newFixture(t)
	f.addAccount(t)
	_, err := f.scanner.Run(context.Background(), "alice", scan.Request{})
	require.NoError(t, err)

	resp, body := f.do(t, http.MethodGet, "/api/cache", "")
	require.Equal(t, http.StatusOK, resp.StatusCode)
	var st store.Status
	require.NoError(t, json.Unmarshal(body, &st))
	assert.Equal(t, int64(1), st.CachedFiles)
	assert.Equal(t, int64(1), st.Repositories)

	resp, body = f.do(t, http.MethodDelete, "/api/cache", "")
	require.Equal(t, http.StatusOK, resp.StatusCode)
	assert.JSONEq(t, `{"removed":1}`, string(body))

	resp, body = f.do(t, http.MethodGet, "/api/repositories", "")
	require.Equal(t, http.StatusOK, resp.StatusCode)
	var repos []model.RepositoryRecord
	require.NoError(t, json.Unmarshal(body, &repos))
	require.Len(t, repos, 1)
	assert.Empty(t, repos[0].ChangeFingerprint)
}

func TestHealth(t *testing.T) {
	f := newFixture(t)
	resp, body := f.do(t, http.MethodGet, "/api/health", "")
	require.Equal(t, http.StatusOK, resp.StatusCode)
	assert.Contains(t, string(body), `"backend":"sqlite"`)
}

func itoa(id int64) string {
	b, _ := json.Marshal(id)
	return string(b)
}

func TestProgressStreamReleasesSubscription(t *testing.T) {
	f := newFixture(t)

	resp, body := f.do(t, http.MethodGet, "/api/progress/stream", "")
	require.Equal(t, http.StatusOK, resp.StatusCode)
	assert.Contains(t, resp.Header.Get("Content-Type"), "text/event-stream")
	assert.Contains(t, string(body), "event: progress")
	assert.Contains(t, string(body), `"Ready"`)
	assert.Zero(t, f.tracker.Streams())

	f.addAccount(t)
	resp, _ = f.do(t, http.MethodPost, "/api/scan", "")
	require.Equal(t, http.StatusAccepted, resp.StatusCode)
	f.scanner.Wait()

	_, body = f.do(t, http.MethodGet, "/api/progress/stream", "")
	assert.Contains(t, string(body), "event: complete")
	assert.Zero(t, f.tracker.Streams())

	_, body = f.do(t, http.MethodGet, "/api/health", "")
	assert.Contains(t, string(body), `"streams":0`)
}
