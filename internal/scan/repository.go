package scan

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"errors"
	"slices"

	"github.com/go-enry/go-enry/v2"

	"github.com/dsablic/linestat/internal/counter"
	"github.com/dsablic/linestat/internal/decode"
	"github.com/dsablic/linestat/internal/model"
	"github.com/dsablic/linestat/internal/provider"
	"github.com/dsablic/linestat/internal/store"
)

// candidates returns the branches to try for repo, default branch first.
func (s *Scanner) candidates(repo model.Repo) []string {
	var out []string
	for _, b := range append([]string{repo.DefaultBranch}, s.opts.FallbackBranches...) {
		if b != "" && !slices.Contains(out, b) {
			out = append(out, b)
		}
	}
	return out
}

// fingerprint returns the head commit of the first candidate branch that
// resolves, or "" when none does.
func (s *Scanner) fingerprint(ctx context.Context, p provider.Provider, repo model.Repo) string {
	for _, branch := range s.candidates(repo) {
		id, err := p.LatestCommit(ctx, repo, branch)
		if err == nil && id != "" {
			return id
		}
		if ctx.Err() != nil {
			return ""
		}
	}
	return ""
}

// ScanRepository scans one repository of account. Unless force is set, a
// repository whose head commit equals the stored fingerprint is answered
// from the cached rows of its last walk without listing or fetching.
func (s *Scanner) ScanRepository(ctx context.Context, account model.Account, p provider.Provider, repo model.Repo, force bool) RepoResult {
	res := RepoResult{Repo: repo, Totals: model.Totals{}}
	log := s.log.With("account", account.Label(), "repo", repo.FullName)

	rec, err := s.store.ResolveRepository(ctx, account.ID, repo)
	if err != nil {
		log.Error("resolving repository", "error", err)
		res.Outcome, res.Reason = Failed, err.Error()
		return res
	}
	res.RecordID = rec.ID

	fp := s.fingerprint(ctx, p, repo)
	res.Fingerprint = fp
	if !force && fp != "" && fp == rec.ChangeFingerprint {
		totals, files, err := s.cachedTotals(ctx, rec.ID, fp)
		if err == nil {
			res.Totals = totals
			if err := s.store.TouchRepository(ctx, rec.ID, s.now()); err != nil {
				log.Warn("touching repository", "error", err)
			}
			res.Outcome = Unchanged
			log.Debug("repository unchanged", "fingerprint", fp, "files", files)
			return res
		}
		log.Warn("reading cached files, walking instead", "error", err)
	}

	if err := s.walk(ctx, p, repo, rec, fp, &res); err != nil {
		log.Error("walking repository", "error", err)
		res.Outcome, res.Reason = Failed, err.Error()
		res.Totals = s.lastKnown(ctx, rec)
		return res
	}

	if err := s.store.MarkScanned(ctx, rec.ID, fp, s.now()); err != nil {
		log.Warn("recording fingerprint", "error", err)
	}
	res.Outcome = Walked
	log.Debug("repository walked", "branch", res.Branch, "files", res.Stats.Files,
		"fetches", res.Stats.Fetches, "cache_hits", res.Stats.CacheHits)
	return res
}

// lastKnown returns the totals of the last completed walk of rec, or
// empty totals when it was never walked.
func (s *Scanner) lastKnown(ctx context.Context, rec model.RepositoryRecord) model.Totals {
	if rec.ChangeFingerprint == "" {
		return model.Totals{}
	}
	totals, _, err := s.cachedTotals(ctx, rec.ID, rec.ChangeFingerprint)
	if err != nil {
		s.log.Warn("reading last known totals", "repository", rec.Name, "error", err)
		return model.Totals{}
	}
	return totals
}

// cachedTotals aggregates the cached files seen by the walk at fingerprint.
func (s *Scanner) cachedTotals(ctx context.Context, repositoryID int64, fingerprint string) (model.Totals, int, error) {
	entries, err := s.store.SeenFiles(ctx, repositoryID, fingerprint)
	if err != nil {
		return nil, 0, err
	}
	totals := model.Totals{}
	for _, e := range entries {
		if !e.Binary {
			totals.AddFile(e.Language, e.Counts)
		}
	}
	return totals, len(entries), nil
}

var errNoBranch = errors.New("no accessible branch")

// walk lists the tree depth first and counts every classified file.
func (s *Scanner) walk(ctx context.Context, p provider.Provider, repo model.Repo, rec model.RepositoryRecord, seenAt string, res *RepoResult) error {
	var root []provider.TreeEntry
	for _, branch := range s.candidates(repo) {
		entries, err := p.ListTree(ctx, repo, branch, "")
		res.Stats.Listings++
		if err == nil {
			root, res.Branch = entries, branch
			break
		}
		if ctxErr := ctx.Err(); ctxErr != nil {
			return ctxErr
		}
		s.log.Debug("branch not listable", "repo", repo.FullName, "branch", branch, "error", err)
	}
	if res.Branch == "" {
		return errNoBranch
	}

	stack := reversed(root)
	for len(stack) > 0 {
		if err := ctx.Err(); err != nil {
			return err
		}
		e := stack[len(stack)-1]
		stack = stack[:len(stack)-1]

		if e.Type == provider.EntryDir {
			children, err := p.ListTree(ctx, repo, res.Branch, e.Path)
			res.Stats.Listings++
			if err != nil {
				if ctx.Err() != nil {
					return ctx.Err()
				}
				s.log.Warn("skipping directory", "repo", repo.FullName, "path", e.Path, "error", err)
				continue
			}
			stack = append(stack, reversed(children)...)
			continue
		}
		s.file(ctx, p, repo, rec, e, seenAt, res)
	}
	return nil
}

func (s *Scanner) file(ctx context.Context, p provider.Provider, repo model.Repo, rec model.RepositoryRecord, e provider.TreeEntry, seenAt string, res *RepoResult) {
	skip := func(reason SkipReason, err error) {
		res.Stats.skip(reason)
		attrs := []any{"repo", repo.FullName, "path", e.Path, "reason", string(reason)}
		if err != nil {
			attrs = append(attrs, "error", err)
		}
		switch reason {
		case SkipUnclassified, SkipVendored, SkipBinary:
			s.log.Debug("skipping file", attrs...)
		default:
			s.log.Warn("skipping file", attrs...)
		}
	}

	def, ok := s.langs.Classify(e.Path)
	if !ok {
		skip(SkipUnclassified, nil)
		return
	}
	if s.opts.ExcludeVendored && enry.IsVendor(e.Path) {
		skip(SkipVendored, nil)
		return
	}
	lang := def.Normalized()

	if e.ContentID != "" {
		cached, ok, err := s.cache.Lookup(ctx, rec.ID, e.Path)
		if err != nil && !errors.Is(err, store.ErrNotFound) {
			s.log.Warn("reading file cache", "repo", repo.FullName, "path", e.Path, "error", err)
		}
		if ok && cached.ContentFingerprint == e.ContentID && cached.Language == lang {
			res.Stats.CacheHits++
			if cached.SeenAt != seenAt {
				if err := s.cache.MarkSeen(ctx, cached, seenAt); err != nil {
					s.log.Warn("marking cached file", "repo", repo.FullName, "path", e.Path, "error", err)
				}
			}
			if cached.Binary {
				skip(SkipBinary, nil)
				return
			}
			res.Stats.Files++
			res.Totals.AddFile(lang, cached.Counts)
			return
		}
	}

	if e.Size > s.opts.MaxFileSize {
		skip(SkipTooLarge, nil)
		return
	}

	raw, err := p.FetchFile(ctx, repo, res.Branch, e.Path)
	res.Stats.Fetches++
	if err != nil {
		if errors.Is(err, provider.ErrTooLarge) {
			skip(SkipTooLarge, err)
		} else {
			skip(SkipFetch, err)
		}
		return
	}

	entry := model.FileCacheEntry{
		RepositoryID:       rec.ID,
		Path:               e.Path,
		ContentFingerprint: e.ContentID,
		Language:           lang,
		SeenAt:             seenAt,
		LastModifiedAt:     s.now(),
	}
	if entry.ContentFingerprint == "" {
		sum := sha256.Sum256(raw)
		entry.ContentFingerprint = hex.EncodeToString(sum[:])
	}

	if decode.IsBinary(raw) {
		entry.Binary = true
		s.persist(ctx, repo, entry)
		skip(SkipBinary, nil)
		return
	}

	text, _ := decode.Decode(raw)
	entry.Counts = counter.Count(text, def.Comment)
	s.persist(ctx, repo, entry)

	res.Stats.Files++
	res.Totals.AddFile(lang, entry.Counts)
}

// persist stores entry; a failure only costs a fetch on the next walk.
func (s *Scanner) persist(ctx context.Context, repo model.Repo, entry model.FileCacheEntry) {
	if err := s.cache.Upsert(ctx, entry); err != nil {
		s.log.Warn("caching file counts", "repo", repo.FullName, "path", entry.Path, "error", err)
	}
}

func reversed(entries []provider.TreeEntry) []provider.TreeEntry {
	out := slices.Clone(entries)
	slices.Reverse(out)
	return out
}
