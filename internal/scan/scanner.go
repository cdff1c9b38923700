// Package scan walks repositories through a Provider, reusing cached
// per-file counts, and persists daily per-language snapshots.
package scan

import (
	"context"
	"errors"
	"log/slog"
	"sync"
	"time"

	"github.com/dsablic/linestat/internal/language"
	"github.com/dsablic/linestat/internal/model"
	"github.com/dsablic/linestat/internal/progress"
	"github.com/dsablic/linestat/internal/provider"
)

// ErrScanInProgress is returned when the owner already has a running scan.
var ErrScanInProgress = errors.New("scan in progress")

// Store is the persistence the scanner needs.
type Store interface {
	GetAccount(ctx context.Context, id int64) (model.Account, error)
	ListAccounts(ctx context.Context, activeOnly bool) ([]model.Account, error)
	ResolveRepository(ctx context.Context, accountID int64, repo model.Repo) (model.RepositoryRecord, error)
	MarkScanned(ctx context.Context, id int64, fingerprint string, at time.Time) error
	TouchRepository(ctx context.Context, id int64, at time.Time) error
	LookupFile(ctx context.Context, repositoryID int64, path string) (model.FileCacheEntry, error)
	UpsertFile(ctx context.Context, e model.FileCacheEntry) error
	MarkSeen(ctx context.Context, repositoryID int64, path, seenAt string) error
	SeenFiles(ctx context.Context, repositoryID int64, seenAt string) ([]model.FileCacheEntry, error)
	SaveStatistics(ctx context.Context, accountID int64, date string, totals model.Totals) error
}

// Archiver receives each saved snapshot. Failures are logged only.
type Archiver interface {
	Archive(ctx context.Context, accountID int64, date string, totals model.Totals) error
}

// ProviderFunc opens the provider for an account.
type ProviderFunc func(model.Account) (provider.Provider, error)

// Options tunes a Scanner.
type Options struct {
	// MaxFileSize skips files whose listed size exceeds it.
	MaxFileSize int64
	// FallbackBranches are tried after a repository's default branch.
	FallbackBranches []string
	// ExcludeVendored skips paths go-enry recognises as vendored.
	ExcludeVendored bool
	// CacheSize bounds the in-memory file cache.
	CacheSize int
	// List filters the repositories of each account.
	List provider.ListOpts
}

// Config wires a Scanner.
type Config struct {
	Store     Store
	Languages *language.Table
	Providers ProviderFunc
	Tracker   *progress.Tracker
	Archiver  Archiver
	Logger    *slog.Logger
	Options   Options
}

// Scanner runs scans. It is safe for concurrent use by different owners.
type Scanner struct {
	store    Store
	langs    *language.Table
	open     ProviderFunc
	tracker  *progress.Tracker
	archiver Archiver
	cache    *FileCache
	log      *slog.Logger
	opts     Options
	now      func() time.Time
	bg       sync.WaitGroup
}

// New creates a Scanner. Zero-valued fields of cfg get defaults.
func New(cfg Config) (*Scanner, error) {
	if cfg.Store == nil {
		return nil, errors.New("scan: store is required")
	}
	if cfg.Languages == nil {
		cfg.Languages = language.Default()
	}
	if cfg.Providers == nil {
		cfg.Providers = func(a model.Account) (provider.Provider, error) {
			return provider.New(a, provider.Options{MaxFileSize: cfg.Options.MaxFileSize})
		}
	}
	if cfg.Tracker == nil {
		cfg.Tracker = progress.NewTracker()
	}
	if cfg.Logger == nil {
		cfg.Logger = slog.Default()
	}
	if cfg.Options.MaxFileSize <= 0 {
		cfg.Options.MaxFileSize = provider.DefaultMaxFileSize
	}
	if cfg.Options.FallbackBranches == nil {
		cfg.Options.FallbackBranches = []string{"master", "main"}
	}

	cache, err := NewFileCache(cfg.Store, cfg.Options.CacheSize)
	if err != nil {
		return nil, err
	}
	return &Scanner{
		store:    cfg.Store,
		langs:    cfg.Languages,
		open:     cfg.Providers,
		tracker:  cfg.Tracker,
		archiver: cfg.Archiver,
		cache:    cache,
		log:      cfg.Logger,
		opts:     cfg.Options,
		now:      time.Now,
	}, nil
}

// Tracker returns the progress tracker runs report to.
func (s *Scanner) Tracker() *progress.Tracker {
	return s.tracker
}

// PurgeCache drops the in-memory file cache, e.g. after the persisted
// cache was cleared.
func (s *Scanner) PurgeCache() {
	s.cache.Purge()
}

// Wait blocks until every background run started with Start returns.
func (s *Scanner) Wait() {
	s.bg.Wait()
}
