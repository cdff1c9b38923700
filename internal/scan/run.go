package scan

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"math"
	"slices"
	"time"

	"github.com/dsablic/linestat/internal/model"
	"github.com/dsablic/linestat/internal/progress"
	"github.com/dsablic/linestat/internal/provider"
	"github.com/dsablic/linestat/internal/store"
)

// Request selects what a run scans.
type Request struct {
	// AccountIDs limits the run to these accounts. Empty means every
	// active account.
	AccountIDs []int64
	// Force walks every repository even when its commit is unchanged.
	Force bool
}

type plan struct {
	account model.Account
	prov    provider.Provider
	repos   []model.Repo
	err     error
}

// Run scans synchronously on behalf of owner.
func (s *Scanner) Run(ctx context.Context, owner string, req Request) (Summary, error) {
	if err := s.tracker.Start(owner); err != nil {
		if errors.Is(err, progress.ErrActive) {
			return Summary{}, ErrScanInProgress
		}
		return Summary{}, err
	}
	return s.run(ctx, owner, req)
}

// Start begins a run in the background and returns immediately. ctx
// bounds the run itself, so it must outlive the caller's request. Progress
// is observable through the tracker.
func (s *Scanner) Start(ctx context.Context, owner string, req Request) error {
	if err := s.tracker.Start(owner); err != nil {
		if errors.Is(err, progress.ErrActive) {
			return ErrScanInProgress
		}
		return err
	}
	s.bg.Go(func() {
		defer func() {
			if r := recover(); r != nil {
				s.log.Error("scan panicked", "owner", owner, "panic", r)
				s.tracker.Fail(owner, fmt.Sprintf("internal error: %v", r))
			}
		}()
		if _, err := s.run(ctx, owner, req); err != nil {
			s.log.Error("scan failed", "owner", owner, "error", err)
		}
	})
	return nil
}

func (s *Scanner) setProgress(owner string, pct float64, status, details string) {
	s.tracker.Update(owner, func(p *progress.Snapshot) {
		p.Percentage = pct
		p.Status = status
		p.Details = details
	})
}

func (s *Scanner) accounts(ctx context.Context, ids []int64) ([]model.Account, error) {
	if len(ids) == 0 {
		return s.store.ListAccounts(ctx, true)
	}
	out := make([]model.Account, 0, len(ids))
	for _, id := range ids {
		a, err := s.store.GetAccount(ctx, id)
		if err != nil {
			return nil, fmt.Errorf("account %d: %w", id, err)
		}
		out = append(out, a)
	}
	return out, nil
}

func (s *Scanner) plan(ctx context.Context, a model.Account) plan {
	pl := plan{account: a}
	pl.prov, pl.err = s.open(a)
	if pl.err != nil {
		return pl
	}
	pl.repos, pl.err = pl.prov.ListRepos(ctx, s.opts.List)
	return pl
}

func (s *Scanner) run(ctx context.Context, owner string, req Request) (Summary, error) {
	sum := Summary{Owner: owner, Date: s.now().UTC().Format(store.DateLayout), Totals: model.Totals{}}
	log := s.log.With("owner", owner)

	s.setProgress(owner, 5, "Initializing...", "Loading accounts")
	accounts, err := s.accounts(ctx, req.AccountIDs)
	if err != nil {
		s.tracker.Fail(owner, err.Error())
		return sum, err
	}
	if len(accounts) == 0 {
		s.tracker.Finish(owner, "No active accounts")
		return sum, nil
	}

	s.setProgress(owner, 10, "Counting repositories...", fmt.Sprintf("Listing %d accounts", len(accounts)))
	plans := make([]plan, 0, len(accounts))
	totalRepos := 0
	for _, a := range accounts {
		pl := s.plan(ctx, a)
		if pl.err != nil {
			log.Error("listing repositories", "account", a.Label(), "error", pl.err)
		}
		totalRepos += len(pl.repos)
		plans = append(plans, pl)
	}
	s.tracker.Update(owner, func(p *progress.Snapshot) {
		p.Percentage = 15
		p.Status = "Starting repository analysis..."
		p.Details = fmt.Sprintf("%d repositories in %d accounts", totalRepos, len(accounts))
		p.TotalAccounts = len(accounts)
		p.TotalRepos = totalRepos
	})

	share := 80 / float64(len(plans))
	done := 0
	for i, pl := range plans {
		base := 15 + share*float64(i)
		ar := AccountResult{Account: pl.account, Totals: model.Totals{}, ListErr: pl.err}
		s.tracker.Update(owner, func(p *progress.Snapshot) {
			p.Percentage = base
			p.Status = "Analyzing " + pl.account.Label()
			p.CurrentAccount = i + 1
		})

		for j, repo := range pl.repos {
			if err := ctx.Err(); err != nil {
				s.tracker.Fail(owner, "Cancelled")
				return sum, err
			}
			res := s.ScanRepository(ctx, pl.account, pl.prov, repo, req.Force)
			ar.Repos = append(ar.Repos, res)
			ar.Totals.Merge(res.Totals)
			done++
			pct := math.Min(base+share*float64(j+1)/float64(len(pl.repos)), 95)
			s.tracker.Update(owner, func(p *progress.Snapshot) {
				p.Percentage = pct
				p.Details = fmt.Sprintf("%s (%s)", repo.FullName, res.Outcome)
				p.CurrentRepo = done
			})
		}

		if pl.err == nil {
			ar.SaveErr = s.keep(ctx, ar, sum.Date)
		}
		w, u, f := ar.counts()
		sum.Walked += w
		sum.Unchanged += u
		sum.Failed += f
		sum.Totals.Merge(ar.Totals)
		sum.Accounts = append(sum.Accounts, ar)
	}

	if msg, failed := outcome(sum); failed {
		s.tracker.Fail(owner, msg)
		log.Error("scan failed", "details", msg)
		return sum, errors.New(msg)
	}
	details := fmt.Sprintf("Scanned %d repositories (%d walked, %d unchanged, %d failed)",
		sum.Repos(), sum.Walked, sum.Unchanged, sum.Failed)
	s.tracker.Finish(owner, details)
	log.Info("scan finished", "repos", sum.Repos(), "walked", sum.Walked,
		"unchanged", sum.Unchanged, "failed", sum.Failed, "languages", len(sum.Totals))
	return sum, nil
}

// outcome reports a run as failed when nothing at all could be scanned.
func outcome(sum Summary) (string, bool) {
	if sum.Repos() > 0 {
		if sum.Failed == sum.Repos() {
			return fmt.Sprintf("All %d repositories failed", sum.Failed), true
		}
		return "", false
	}
	if slices.ContainsFunc(sum.Accounts, func(a AccountResult) bool { return a.ListErr == nil }) {
		return "", false
	}
	return "Could not list repositories of any account", true
}

// keep saves the account's snapshot for date. An account whose
// repositories all failed with nothing known about them leaves the stored
// snapshot as it is.
func (s *Scanner) keep(ctx context.Context, ar AccountResult, date string) error {
	if ar.allFailed() && len(ar.Totals) == 0 {
		s.log.Warn("keeping stored snapshot, no repository could be scanned",
			"account", ar.Account.Label(), "date", date)
		return nil
	}
	return s.save(ctx, ar.Account, date, ar.Totals)
}

func (s *Scanner) save(ctx context.Context, a model.Account, date string, totals model.Totals) error {
	if err := s.store.SaveStatistics(ctx, a.ID, date, totals); err != nil {
		s.log.Error("saving statistics", "account", a.Label(), "date", date, "error", err)
		return err
	}
	if s.archiver != nil {
		if err := s.archiver.Archive(ctx, a.ID, date, totals); err != nil {
			s.log.Warn("archiving snapshot", "account", a.Label(), "date", date, "error", err)
		}
	}
	return nil
}

// ScanAccount scans every repository of one account without touching the
// tracker, then saves its snapshot for today.
func (s *Scanner) ScanAccount(ctx context.Context, a model.Account, force bool) (AccountResult, error) {
	pl := s.plan(ctx, a)
	ar := AccountResult{Account: a, Totals: model.Totals{}, ListErr: pl.err}
	if pl.err != nil {
		return ar, fmt.Errorf("list repositories of %s: %w", a.Label(), pl.err)
	}
	for _, repo := range pl.repos {
		if err := ctx.Err(); err != nil {
			return ar, err
		}
		res := s.ScanRepository(ctx, a, pl.prov, repo, force)
		ar.Repos = append(ar.Repos, res)
		ar.Totals.Merge(res.Totals)
	}
	ar.SaveErr = s.keep(ctx, ar, s.now().UTC().Format(store.DateLayout))
	return ar, ar.SaveErr
}

// RunPeriodic starts a background run for owner every interval until ctx
// is done. Ticks that find a run in progress are skipped.
func (s *Scanner) RunPeriodic(ctx context.Context, owner string, interval time.Duration, req Request) {
	if interval <= 0 {
		return
	}
	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			err := s.Start(ctx, owner, req)
			switch {
			case errors.Is(err, ErrScanInProgress):
				s.log.Info("scheduled scan skipped, previous run still active", "owner", owner)
			case err != nil:
				s.log.Error("scheduled scan", "owner", owner, "error", err)
			default:
				s.log.Info("scheduled scan started", "owner", owner, "interval", interval)
			}
		}
	}
}

// LogValue lets a Summary be logged as a group.
func (s Summary) LogValue() slog.Value {
	return slog.GroupValue(
		slog.String("date", s.Date),
		slog.Int("repos", s.Repos()),
		slog.Int("walked", s.Walked),
		slog.Int("unchanged", s.Unchanged),
		slog.Int("failed", s.Failed),
	)
}
