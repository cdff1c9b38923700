package scan_test

import (
	"context"
	"log/slog"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/dsablic/linestat/internal/model"
	"github.com/dsablic/linestat/internal/progress"
	"github.com/dsablic/linestat/internal/provider"
	"github.com/dsablic/linestat/internal/scan"
	"github.com/dsablic/linestat/internal/store"
)

const pySource = "import os\nimport sys\n\n# x\ndef main():\n    a = 1\n    b = 2\n\n    print(a + b)\nmain()\n"

var pyStats = model.LanguageStats{
	Name:       "PYTHON",
	Files:      1,
	LineCounts: model.LineCounts{Total: 10, Code: 7, Comment: 1, Empty: 2},
}

func newScanner(t *testing.T, st *store.Store, fp *fakeProvider, mutate ...func(*scan.Config)) *scan.Scanner {
	t.Helper()
	cfg := scan.Config{
		Store:     st,
		Providers: func(model.Account) (provider.Provider, error) { return fp, nil },
		Logger:    slog.New(slog.DiscardHandler),
	}
	for _, m := range mutate {
		m(&cfg)
	}
	s, err := scan.New(cfg)
	require.NoError(t, err)
	return s
}

func TestScanRepositoryCountsClassifiedFiles(t *testing.T) {
	st := openStore(t)
	acct := addAccount(t, st, "octo")
	fp := newFakeProvider()
	repo := fp.addRepo("app", "main")
	fp.commit(repo, "main", "c1", map[string]string{"a.py": pySource, "b.md": "# readme\n"})

	s := newScanner(t, st, fp)
	res := s.ScanRepository(context.Background(), acct, fp, repo, false)

	assert.Equal(t, scan.Walked, res.Outcome)
	assert.Equal(t, "main", res.Branch)
	assert.Equal(t, "c1", res.Fingerprint)
	assert.Equal(t, model.Totals{"PYTHON": pyStats}, res.Totals)
	assert.Equal(t, 1, res.Stats.Fetches)
	assert.Equal(t, 1, res.Stats.Skipped[scan.SkipUnclassified])
	assert.Zero(t, fp.fetchCount("b.md"))

	rec, err := st.GetRepository(context.Background(), res.RecordID)
	require.NoError(t, err)
	assert.Equal(t, "c1", rec.ChangeFingerprint)
}

func TestUnchangedCommitSkipsListingAndFetching(t *testing.T) {
	st := openStore(t)
	acct := addAccount(t, st, "octo")
	fp := newFakeProvider()
	repo := fp.addRepo("app", "main")
	fp.commit(repo, "main", "c1", map[string]string{"a.py": pySource, "src/lib/util.go": "package lib\n"})

	s := newScanner(t, st, fp)
	ctx := context.Background()
	first := s.ScanRepository(ctx, acct, fp, repo, false)
	require.Equal(t, scan.Walked, first.Outcome)

	fetches, listings := fp.totalFetches(), fp.listings
	second := s.ScanRepository(ctx, acct, fp, repo, false)

	assert.Equal(t, scan.Unchanged, second.Outcome)
	assert.Equal(t, first.Totals, second.Totals)
	assert.Equal(t, fetches, fp.totalFetches())
	assert.Equal(t, listings, fp.listings)
}

func TestChangedCommitRefetchesOnlyChangedFiles(t *testing.T) {
	st := openStore(t)
	acct := addAccount(t, st, "octo")
	fp := newFakeProvider()
	repo := fp.addRepo("app", "main")
	fp.commit(repo, "main", "c1", map[string]string{"a.py": pySource, "lib/b.py": "x = 1\n"})

	s := newScanner(t, st, fp)
	ctx := context.Background()
	s.ScanRepository(ctx, acct, fp, repo, false)
	require.Equal(t, 1, fp.fetchCount("a.py"))

	fp.commit(repo, "main", "c2", map[string]string{"a.py": pySource + "# more\n", "lib/b.py": "x = 1\n"})
	res := s.ScanRepository(ctx, acct, fp, repo, false)

	assert.Equal(t, scan.Walked, res.Outcome)
	assert.Equal(t, 2, fp.fetchCount("a.py"))
	assert.Equal(t, 1, fp.fetchCount("lib/b.py"))
	assert.Equal(t, 1, res.Stats.CacheHits)
	assert.Equal(t, model.LanguageStats{
		Name:       "PYTHON",
		Files:      2,
		LineCounts: model.LineCounts{Total: 12, Code: 8, Comment: 2, Empty: 2},
	}, res.Totals["PYTHON"])
}

func TestForcedWalkUsesFileCache(t *testing.T) {
	st := openStore(t)
	acct := addAccount(t, st, "octo")
	fp := newFakeProvider()
	repo := fp.addRepo("app", "main")
	fp.commit(repo, "main", "c1", map[string]string{"a.py": pySource})

	s := newScanner(t, st, fp)
	ctx := context.Background()
	s.ScanRepository(ctx, acct, fp, repo, false)

	res := s.ScanRepository(ctx, acct, fp, repo, true)
	assert.Equal(t, scan.Walked, res.Outcome)
	assert.Equal(t, 1, fp.fetchCount("a.py"))
	assert.Equal(t, model.Totals{"PYTHON": pyStats}, res.Totals)

	s.PurgeCache()
	res = s.ScanRepository(ctx, acct, fp, repo, true)
	assert.Equal(t, 1, fp.fetchCount("a.py"), "persisted cache still serves after purge")
	assert.Equal(t, model.Totals{"PYTHON": pyStats}, res.Totals)
}

func TestDeletedFilesLeaveTotals(t *testing.T) {
	st := openStore(t)
	acct := addAccount(t, st, "octo")
	fp := newFakeProvider()
	repo := fp.addRepo("app", "main")
	fp.commit(repo, "main", "c1", map[string]string{"a.py": pySource, "old.py": "x = 1\n"})

	s := newScanner(t, st, fp)
	ctx := context.Background()
	s.ScanRepository(ctx, acct, fp, repo, false)

	fp.commit(repo, "main", "c2", map[string]string{"a.py": pySource})
	walked := s.ScanRepository(ctx, acct, fp, repo, false)
	assert.Equal(t, model.Totals{"PYTHON": pyStats}, walked.Totals)

	unchanged := s.ScanRepository(ctx, acct, fp, repo, false)
	assert.Equal(t, scan.Unchanged, unchanged.Outcome)
	assert.Equal(t, walked.Totals, unchanged.Totals)
}

func TestBinaryFilesAreExcludedAndNotRefetched(t *testing.T) {
	st := openStore(t)
	acct := addAccount(t, st, "octo")
	fp := newFakeProvider()
	repo := fp.addRepo("app", "main")
	fp.commit(repo, "main", "c1", map[string]string{"a.py": pySource, "blob.py": "ab\x00cd"})

	s := newScanner(t, st, fp)
	ctx := context.Background()
	res := s.ScanRepository(ctx, acct, fp, repo, false)
	assert.Equal(t, model.Totals{"PYTHON": pyStats}, res.Totals)
	assert.Equal(t, 1, res.Stats.Skipped[scan.SkipBinary])

	res = s.ScanRepository(ctx, acct, fp, repo, true)
	assert.Equal(t, model.Totals{"PYTHON": pyStats}, res.Totals)
	assert.Equal(t, 1, fp.fetchCount("blob.py"))

	res = s.ScanRepository(ctx, acct, fp, repo, false)
	assert.Equal(t, scan.Unchanged, res.Outcome)
	assert.Equal(t, model.Totals{"PYTHON": pyStats}, res.Totals)
}

func TestEmptyFileCountsAsFile(t *testing.T) {
	st := openStore(t)
	acct := addAccount(t, st, "octo")
	fp := newFakeProvider()
	repo := fp.addRepo("app", "main")
	fp.commit(repo, "main", "c1", map[string]string{"__init__.py": ""})

	s := newScanner(t, st, fp)
	res := s.ScanRepository(context.Background(), acct, fp, repo, false)
	assert.Equal(t, model.Totals{"PYTHON": {Name: "PYTHON", Files: 1}}, res.Totals)
}

func TestBranchFallback(t *testing.T) {
	st := openStore(t)
	acct := addAccount(t, st, "octo")
	fp := newFakeProvider()
	repo := fp.addRepo("app", "develop")
	fp.commit(repo, "main", "c1", map[string]string{"a.py": pySource})

	s := newScanner(t, st, fp)
	res := s.ScanRepository(context.Background(), acct, fp, repo, false)
	assert.Equal(t, scan.Walked, res.Outcome)
	assert.Equal(t, "main", res.Branch)
	assert.Equal(t, "c1", res.Fingerprint)
	assert.Equal(t, model.Totals{"PYTHON": pyStats}, res.Totals)
}

func TestNoAccessibleBranchFails(t *testing.T) {
	st := openStore(t)
	acct := addAccount(t, st, "octo")
	fp := newFakeProvider()
	repo := fp.addRepo("empty", "trunk")

	s := newScanner(t, st, fp)
	res := s.ScanRepository(context.Background(), acct, fp, repo, false)
	assert.Equal(t, scan.Failed, res.Outcome)
	assert.NotEmpty(t, res.Reason)
	assert.Empty(t, res.Totals)
}

func TestSizeCeilingSkipsWithoutFetching(t *testing.T) {
	st := openStore(t)
	acct := addAccount(t, st, "octo")
	fp := newFakeProvider()
	repo := fp.addRepo("app", "main")
	fp.commit(repo, "main", "c1", map[string]string{"a.py": pySource, "big.py": string(make([]byte, 200))})

	s := newScanner(t, st, fp, func(c *scan.Config) { c.Options.MaxFileSize = 100 })
	res := s.ScanRepository(context.Background(), acct, fp, repo, false)
	assert.Equal(t, model.Totals{"PYTHON": pyStats}, res.Totals)
	assert.Equal(t, 1, res.Stats.Skipped[scan.SkipTooLarge])
	assert.Zero(t, fp.fetchCount("big.py"))
}

func TestVendoredPathsExcluded(t *testing.T) {
	st := openStore(t)
	acct := addAccount(t, st, "octo")
	fp := newFakeProvider()
	repo := fp.addRepo("app", "main")
	fp.commit(repo, "main", "c1", map[string]string{"a.py": pySource, "vendor/lib/x.go": "package x\n"})

	s := newScanner(t, st, fp, func(c *scan.Config) { c.Options.ExcludeVendored = true })
	res := s.ScanRepository(context.Background(), acct, fp, repo, false)
	assert.Equal(t, model.Totals{"PYTHON": pyStats}, res.Totals)
	assert.Equal(t, 1, res.Stats.Skipped[scan.SkipVendored])
}

func TestMissingContentIDsUseContentHash(t *testing.T) {
	st := openStore(t)
	acct := addAccount(t, st, "octo")
	fp := newFakeProvider()
	fp.noIDs = true
	repo := fp.addRepo("app", "main")
	fp.commit(repo, "main", "c1", map[string]string{"a.py": pySource})

	s := newScanner(t, st, fp)
	ctx := context.Background()
	res := s.ScanRepository(ctx, acct, fp, repo, false)
	require.Equal(t, scan.Walked, res.Outcome)

	entry, err := st.LookupFile(ctx, res.RecordID, "a.py")
	require.NoError(t, err)
	assert.Len(t, entry.ContentFingerprint, 64)

	res = s.ScanRepository(ctx, acct, fp, repo, true)
	assert.Equal(t, 2, fp.fetchCount("a.py"))
	assert.Equal(t, model.Totals{"PYTHON": pyStats}, res.Totals)
}

func TestRunSavesSnapshotAndReportsProgress(t *testing.T) {
	st := openStore(t)
	acct := addAccount(t, st, "octo")
	fp := newFakeProvider()
	app := fp.addRepo("app", "main")
	fp.commit(app, "main", "c1", map[string]string{"a.py": pySource, "b.md": "text\n"})
	lib := fp.addRepo("lib", "main")
	fp.commit(lib, "main", "l1", map[string]string{"lib.go": "package lib\n\n// Doc\nfunc F() {}\n"})

	tracker := progress.NewTracker()
	s := newScanner(t, st, fp, func(c *scan.Config) { c.Tracker = tracker })
	ctx := context.Background()

	sum, err := s.Run(ctx, "alice", scan.Request{})
	require.NoError(t, err)
	assert.Equal(t, 2, sum.Walked)
	assert.Equal(t, pyStats, sum.Totals["PYTHON"])
	assert.Equal(t, int64(4), sum.Totals["GO"].Total)

	snap, ok := tracker.Read("alice")
	require.True(t, ok)
	assert.False(t, snap.Active)
	assert.False(t, snap.Failed)
	assert.Equal(t, 100.0, snap.Percentage)
	assert.Equal(t, 2, snap.TotalRepos)

	rows, err := st.Snapshot(ctx, acct.ID, sum.Date)
	require.NoError(t, err)
	require.Len(t, rows, 2)

	sum, err = s.Run(ctx, "alice", scan.Request{})
	require.NoError(t, err)
	assert.Equal(t, 2, sum.Unchanged)
	rows, err = st.Snapshot(ctx, acct.ID, sum.Date)
	require.NoError(t, err)
	assert.Len(t, rows, 2)
}

func TestRunFailsWhenNothingCanBeListed(t *testing.T) {
	st := openStore(t)
	addAccount(t, st, "octo")
	fp := newFakeProvider()
	fp.listErr = errListing

	tracker := progress.NewTracker()
	s := newScanner(t, st, fp, func(c *scan.Config) { c.Tracker = tracker })

	_, err := s.Run(context.Background(), "alice", scan.Request{})
	require.Error(t, err)

	snap, _ := tracker.Read("alice")
	assert.True(t, snap.Failed)
	assert.False(t, snap.Active)

	exported, err := st.ExportSnapshots(context.Background(), 0, "2000-01-01")
	require.NoError(t, err)
	assert.Empty(t, exported)
}

func TestRunWithoutAccountsFinishes(t *testing.T) {
	st := openStore(t)
	tracker := progress.NewTracker()
	s := newScanner(t, st, newFakeProvider(), func(c *scan.Config) { c.Tracker = tracker })

	_, err := s.Run(context.Background(), "alice", scan.Request{})
	require.NoError(t, err)
	snap, _ := tracker.Read("alice")
	assert.Equal(t, 100.0, snap.Percentage)
	assert.False(t, snap.Failed)
}

func TestSecondRunForOwnerIsRejected(t *testing.T) {
	st := openStore(t)
	tracker := progress.NewTracker()
	require.NoError(t, tracker.Start("alice"))

	s := newScanner(t, st, newFakeProvider(), func(c *scan.Config) { c.Tracker = tracker })
	ctx := context.Background()

	assert.ErrorIs(t, s.Start(ctx, "alice", scan.Request{}), scan.ErrScanInProgress)
	_, err := s.Run(ctx, "alice", scan.Request{})
	assert.ErrorIs(t, err, scan.ErrScanInProgress)

	require.NoError(t, s.Start(ctx, "bob", scan.Request{}))
	s.Wait()
	snap, ok := tracker.Read("bob")
	require.True(t, ok)
	assert.False(t, snap.Active)
}

func TestScanAccountSavesSnapshot(t *testing.T) {
	st := openStore(t)
	acct := addAccount(t, st, "octo")
	fp := newFakeProvider()
	repo := fp.addRepo("app", "main")
	fp.commit(repo, "main", "c1", map[string]string{"a.py": pySource})

	s := newScanner(t, st, fp)
	ctx := context.Background()
	ar, err := s.ScanAccount(ctx, acct, false)
	require.NoError(t, err)
	require.Len(t, ar.Repos, 1)
	assert.Equal(t, model.Totals{"PYTHON": pyStats}, ar.Totals)

	exported, err := st.ExportSnapshots(ctx, acct.ID, "2000-01-01")
	require.NoError(t, err)
	require.Len(t, exported, 1)
	assert.Equal(t, int64(10), exported[0].Total)

	fp.listErr = errListing
	_, err = s.ScanAccount(ctx, acct, false)
	assert.ErrorIs(t, err, errListing)
}

func TestFetchFailureSkipsOnlyThatFile(t *testing.T) {
	st := openStore(t)
	acct := addAccount(t, st, "octo")
	fp := newFakeProvider()
	repo := fp.addRepo("app", "main")
	fp.commit(repo, "main", "c1", map[string]string{"a.py": pySource, "b.py": "x = 1\n"})
	fp.fetchErr["b.py"] = errFetch

	s := newScanner(t, st, fp)
	res := s.ScanRepository(context.Background(), acct, fp, repo, false)

	assert.Equal(t, scan.Walked, res.Outcome)
	assert.Equal(t, model.Totals{"PYTHON": pyStats}, res.Totals)
	assert.Equal(t, 1, res.Stats.Skipped[scan.SkipFetch])
	assert.Equal(t, 1, fp.fetchCount("b.py"))
}

func TestUnlistableDirectorySkipsSubtree(t *testing.T) {
	st := openStore(t)
	acct := addAccount(t, st, "octo")
	fp := newFakeProvider()
	repo := fp.addRepo("app", "main")
	fp.commit(repo, "main", "c1", map[string]string{
		"a.py":        pySource,
		"broken/x.py": "x = 1\n",
		"ok/y.py":     "y = 2\n",
	})
	fp.treeErrs["broken"] = errListing

	s := newScanner(t, st, fp)
	res := s.ScanRepository(context.Background(), acct, fp, repo, false)

	assert.Equal(t, scan.Walked, res.Outcome)
	assert.Equal(t, model.LanguageStats{
		Name:       "PYTHON",
		Files:      2,
		LineCounts: model.LineCounts{Total: 11, Code: 8, Comment: 1, Empty: 2},
	}, res.Totals["PYTHON"])
	assert.Zero(t, fp.fetchCount("broken/x.py"))
	assert.Equal(t, 1, fp.fetchCount("ok/y.py"))
}

func TestRunWithSomeFailedRepositoriesCompletes(t *testing.T) {
	st := openStore(t)
	acct := addAccount(t, st, "octo")
	fp := newFakeProvider()
	app := fp.addRepo("app", "main")
	fp.commit(app, "main", "c1", map[string]string{"a.py": pySource})
	fp.addRepo("gone", "main")

	tracker := progress.NewTracker()
	s := newScanner(t, st, fp, func(c *scan.Config) { c.Tracker = tracker })
	ctx := context.Background()

	sum, err := s.Run(ctx, "alice", scan.Request{})
	require.NoError(t, err)
	assert.Equal(t, 1, sum.Walked)
	assert.Equal(t, 1, sum.Failed)

	snap, _ := tracker.Read("alice")
	assert.False(t, snap.Failed)
	assert.Equal(t, 100.0, snap.Percentage)
	assert.Equal(t, "Analysis completed!", snap.Status)

	rows, err := st.Snapshot(ctx, acct.ID, sum.Date)
	require.NoError(t, err)
	require.Len(t, rows, 1)
	assert.Equal(t, int64(10), rows[0].Total)
}

func TestFailedRunKeepsLastKnownTotals(t *testing.T) {
	st := openStore(t)
	acct := addAccount(t, st, "octo")
	fp := newFakeProvider()
	repo := fp.addRepo("app", "main")
	fp.commit(repo, "main", "c1", map[string]string{"a.py": pySource})

	tracker := progress.NewTracker()
	s := newScanner(t, st, fp, func(c *scan.Config) { c.Tracker = tracker })
	ctx := context.Background()

	sum, err := s.Run(ctx, "alice", scan.Request{})
	require.NoError(t, err)
	rows, err := st.Snapshot(ctx, acct.ID, sum.Date)
	require.NoError(t, err)
	require.Len(t, rows, 1)

	fp.drop(repo, "main")
	sum, err = s.Run(ctx, "alice", scan.Request{})
	require.Error(t, err)
	assert.Equal(t, 1, sum.Failed)
	assert.Equal(t, model.Totals{"PYTHON": pyStats}, sum.Totals)

	snap, _ := tracker.Read("alice")
	assert.True(t, snap.Failed)

	rows, err = st.Snapshot(ctx, acct.ID, sum.Date)
	require.NoError(t, err)
	require.Len(t, rows, 1)
	assert.Equal(t, int64(10), rows[0].Total)

	ar, err := s.ScanAccount(ctx, acct, false)
	require.NoError(t, err)
	assert.Equal(t, model.Totals{"PYTHON": pyStats}, ar.Totals)
}

func TestFailedRunWithoutHistoryLeavesStoredSnapshot(t *testing.T) {
	st := openStore(t)
	acct := addAccount(t, st, "octo")
	ctx := context.Background()
	date := time.Now().UTC().Format(store.DateLayout)
	require.NoError(t, st.SaveStatistics(ctx, acct.ID, date, model.Totals{"GO": {Name: "GO", Files: 1}}))

	fp := newFakeProvider()
	fp.addRepo("gone", "main")
	s := newScanner(t, st, fp)

	_, err := s.Run(ctx, "alice", scan.Request{})
	require.Error(t, err)

	rows, err := st.ExportSnapshots(ctx, acct.ID, "2000-01-01")
	require.NoError(t, err)
	require.Len(t, rows, 1)
	assert.Equal(t, "GO", rows[0].Language)
}
