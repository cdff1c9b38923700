package scan

import (
	"github.com/dsablic/linestat/internal/model"
)

// Outcome is how a repository scan ended.
type Outcome int

const (
	// Walked means the tree was listed and every file checked.
	Walked Outcome = iota
	// Unchanged means the commit fingerprint matched and cached rows were reused.
	Unchanged
	// Failed means the repository could not be scanned. Its totals are
	// those of the last completed walk, if any.
	Failed
)

func (o Outcome) String() string {
	switch o {
	case Walked:
		return "walked"
	case Unchanged:
		return "unchanged"
	case Failed:
		return "failed"
	}
	return "unknown"
}

// SkipReason explains why a file did not contribute to totals.
type SkipReason string

const (
	SkipUnclassified SkipReason = "unclassified"
	SkipVendored     SkipReason = "vendored"
	SkipTooLarge     SkipReason = "too-large"
	SkipFetch        SkipReason = "fetch"
	SkipBinary       SkipReason = "binary"
)

// WalkStats counts the work done during one walk.
type WalkStats struct {
	Files     int                `json:"files"`
	CacheHits int                `json:"cache_hits"`
	Fetches   int                `json:"fetches"`
	Listings  int                `json:"listings"`
	Skipped   map[SkipReason]int `json:"skipped,omitempty"`
}

func (w *WalkStats) skip(r SkipReason) {
	if w.Skipped == nil {
		w.Skipped = make(map[SkipReason]int)
	}
	w.Skipped[r]++
}

// RepoResult is the typed result of scanning one repository.
type RepoResult struct {
	Repo        model.Repo
	RecordID    int64
	Outcome     Outcome
	Reason      string
	Branch      string
	Fingerprint string
	Totals      model.Totals
	Stats       WalkStats
}

// AccountResult groups the repository results of one account.
type AccountResult struct {
	Account model.Account
	Repos   []RepoResult
	Totals  model.Totals
	// ListErr is set when the repositories could not be listed.
	ListErr error
	// SaveErr is set when the snapshot could not be persisted.
	SaveErr error
}

func (a AccountResult) counts() (walked, unchanged, failed int) {
	for _, r := range a.Repos {
		switch r.Outcome {
		case Walked:
			walked++
		case Unchanged:
			unchanged++
		case Failed:
			failed++
		}
	}
	return
}

// allFailed reports whether the account had repositories and none of
// them could be scanned.
func (a AccountResult) allFailed() bool {
	_, _, failed := a.counts()
	return failed > 0 && failed == len(a.Repos)
}

// Summary is the result of one run over a set of accounts.
type Summary struct {
	Owner     string
	Date      string
	Accounts  []AccountResult
	Totals    model.Totals
	Walked    int
	Unchanged int
	Failed    int
}

// Repos is the number of repositories attempted.
func (s Summary) Repos() int {
	return s.Walked + s.Unchanged + s.Failed
}
