// internal/model/model.go
package model

import (
	"sort"
	"time"
)

// Platform identifies the hosting service an account belongs to.
type Platform string

const (
	PlatformGitHub Platform = "github"
	PlatformGitLab Platform = "gitlab"
	PlatformGit    Platform = "git"
)

// Valid reports whether p is a supported platform.
func (p Platform) Valid() bool {
	switch p {
	case PlatformGitHub, PlatformGitLab, PlatformGit:
		return true
	}
	return false
}

// Account is a stored credential for one platform identity. Statistics
// are aggregated per account.
type Account struct {
	ID          int64     `json:"id"`
	Platform    Platform  `json:"platform"`
	Username    string    `json:"username"`
	AccessToken string    `json:"-"`
	BaseURL     string    `json:"base_url,omitempty"`
	Active      bool      `json:"is_active"`
	CreatedAt   time.Time `json:"created_at"`
}

// Label is a human readable identifier for log lines and progress details.
func (a Account) Label() string {
	if a.Username == "" {
		return string(a.Platform)
	}
	return string(a.Platform) + ":" + a.Username
}

// Repo represents a repository from a provider.
type Repo struct {
	ID            string
	Name          string
	FullName      string
	URL           string
	CloneURL      string
	Provider      Platform
	DefaultBranch string
	Private       bool
	Archived      bool
	Fork          bool
}

// RepositoryRecord is the persisted state of a repository scanned on
// behalf of one account.
type RepositoryRecord struct {
	ID                int64     `json:"id"`
	AccountID         int64     `json:"account_id"`
	RepoID            string    `json:"repo_id"`
	Name              string    `json:"name"`
	Private           bool      `json:"is_private"`
	ChangeFingerprint string    `json:"change_fingerprint,omitempty"`
	LastScannedAt     time.Time `json:"last_scanned_at"`
}

// LineCounts is the result of counting one file or a group of files.
type LineCounts struct {
	Total   int64 `json:"total_lines"`
	Code    int64 `json:"code_lines"`
	Comment int64 `json:"comment_lines"`
	Empty   int64 `json:"empty_lines"`
}

// Add accumulates other into c.
func (c *LineCounts) Add(other LineCounts) {
	c.Total += other.Total
	c.Code += other.Code
	c.Comment += other.Comment
	c.Empty += other.Empty
}

// FileCacheEntry holds the counts computed for one file at one content
// fingerprint. Binary entries are kept so unchanged binaries are not
// fetched again, but never contribute to totals.
type FileCacheEntry struct {
	RepositoryID       int64
	Path               string
	ContentFingerprint string
	Language           string
	Binary             bool
	Counts             LineCounts
	// SeenAt is the repository fingerprint of the last walk that listed
	// this path.
	SeenAt         string
	LastModifiedAt time.Time
}

// LanguageStats holds code statistics for a single language.
type LanguageStats struct {
	Name  string `json:"name"`
	Files int64  `json:"files"`
	LineCounts
}

// Totals maps an upper-cased language name to its statistics.
type Totals map[string]LanguageStats

// AddFile merges one counted file into the totals.
func (t Totals) AddFile(language string, counts LineCounts) {
	ls := t[language]
	ls.Name = language
	ls.Files++
	ls.LineCounts.Add(counts)
	t[language] = ls
}

// Merge adds every language of other into t.
func (t Totals) Merge(other Totals) {
	for name, o := range other {
		ls := t[name]
		ls.Name = name
		ls.Files += o.Files
		ls.LineCounts.Add(o.LineCounts)
		t[name] = ls
	}
}

// Sorted returns the languages ordered by code lines descending, then name.
func (t Totals) Sorted() []LanguageStats {
	out := make([]LanguageStats, 0, len(t))
	for _, ls := range t {
		out = append(out, ls)
	}
	sort.Slice(out, func(i, j int) bool {
		if out[i].Code != out[j].Code {
			return out[i].Code > out[j].Code
		}
		return out[i].Name < out[j].Name
	})
	return out
}

// Sum collapses all languages into a single Stats value.
func (t Totals) Sum() Stats {
	var s Stats
	for _, ls := range t {
		s.Files += ls.Files
		s.LineCounts.Add(ls.LineCounts)
	}
	return s
}

// Stats holds aggregate code statistics.
type Stats struct {
	Repos int   `json:"repos,omitempty"`
	Files int64 `json:"files"`
	LineCounts
}

// StatSnapshot is one persisted row of an aggregation run.
type StatSnapshot struct {
	AccountID int64  `json:"account_id" parquet:"account_id"`
	Date      string `json:"date" parquet:"date,dict"`
	Language  string `json:"language" parquet:"language,dict"`
	Files     int64  `json:"files" parquet:"files"`
	Total     int64  `json:"total_lines" parquet:"total_lines"`
	Code      int64  `json:"code_lines" parquet:"code_lines"`
	Comment   int64  `json:"comment_lines" parquet:"comment_lines"`
	Empty     int64  `json:"empty_lines" parquet:"empty_lines"`
}

// DailyTotal is the sum of all languages for one account and date.
type DailyTotal struct {
	Date string `json:"date"`
	Stats
}

// Report is the document produced by the stats and export commands.
type Report struct {
	GeneratedAt string          `json:"generated_at"`
	Period      string          `json:"period"`
	AccountID   int64           `json:"account_id,omitempty"`
	Language    string          `json:"language,omitempty"`
	Totals      Stats           `json:"totals"`
	ByLanguage  []LanguageStats `json:"by_language"`
	History     []DailyTotal    `json:"history,omitempty"`
}

// NewReport builds a report from aggregated totals.
func NewReport(generatedAt time.Time, period string, totals Totals) Report {
	return Report{
		GeneratedAt: generatedAt.UTC().Format(time.RFC3339),
		Period:      period,
		Totals:      totals.Sum(),
		ByLanguage:  totals.Sorted(),
	}
}
