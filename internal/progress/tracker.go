// Package progress tracks coarse scan progress per owner for polling
// clients.
package progress

import (
	"errors"
	"sync"
	"time"
)

// ErrActive is returned by Start when the owner already has a running scan.
var ErrActive = errors.New("scan already in progress")

// Snapshot is the observable state of one owner's scan.
type Snapshot struct {
	Owner          string    `json:"owner"`
	Active         bool      `json:"is_active"`
	Failed         bool      `json:"failed"`
	Percentage     float64   `json:"percentage"`
	Status         string    `json:"status"`
	Details        string    `json:"details"`
	TotalAccounts  int       `json:"total_accounts"`
	CurrentAccount int       `json:"current_account"`
	TotalRepos     int       `json:"total_repos"`
	CurrentRepo    int       `json:"current_repo"`
	StartedAt      time.Time `json:"started_at,omitzero"`
	FinishedAt     time.Time `json:"finished_at,omitzero"`
}

// Idle is the state reported for an owner that never scanned.
func Idle(owner string) Snapshot {
	return Snapshot{Owner: owner, Status: "Ready"}
}

// Tracker holds one Snapshot per owner. Readers always receive copies.
type Tracker struct {
	mu     sync.RWMutex
	states map[string]*Snapshot
	subs   map[string][]chan Snapshot
	now    func() time.Time
}

// NewTracker creates an empty tracker.
func NewTracker() *Tracker {
	return &Tracker{
		states: make(map[string]*Snapshot),
		subs:   make(map[string][]chan Snapshot),
		now:    time.Now,
	}
}

// Start begins a new run for owner, replacing any finished run.
func (t *Tracker) Start(owner string) error {
	t.mu.Lock()
	defer t.mu.Unlock()
	if s, ok := t.states[owner]; ok && s.Active {
		return ErrActive
	}
	s := &Snapshot{
		Owner:     owner,
		Active:    true,
		Status:    "Initializing...",
		StartedAt: t.now(),
	}
	t.states[owner] = s
	t.notify(owner, *s)
	return nil
}

// Update applies fn to the owner's state. The percentage is clamped to
// [0,100] and never moves backwards within a run. Updates for owners
// without an active run are ignored.
func (t *Tracker) Update(owner string, fn func(s *Snapshot)) {
	t.mu.Lock()
	defer t.mu.Unlock()
	s, ok := t.states[owner]
	if !ok || !s.Active {
		return
	}
	prev := s.Percentage
	next := *s
	fn(&next)
	next.Owner = owner
	next.Active = true
	next.Percentage = clamp(next.Percentage, prev)
	*s = next
	t.notify(owner, next)
}

// Finish marks the run complete at 100%.
func (t *Tracker) Finish(owner, details string) {
	t.end(owner, false, "Analysis completed!", details)
}

// Fail ends the run without reaching 100%.
func (t *Tracker) Fail(owner, details string) {
	t.end(owner, true, "Analysis failed", details)
}

func (t *Tracker) end(owner string, failed bool, status, details string) {
	t.mu.Lock()
	defer t.mu.Unlock()
	s, ok := t.states[owner]
	if !ok || !s.Active {
		return
	}
	s.Active = false
	s.Failed = failed
	s.Status = status
	s.Details = details
	s.FinishedAt = t.now()
	if !failed {
		s.Percentage = 100
	}
	t.notify(owner, *s)
}

// Reset returns an inactive owner to the idle state.
func (t *Tracker) Reset(owner string) bool {
	t.mu.Lock()
	defer t.mu.Unlock()
	if s, ok := t.states[owner]; ok && s.Active {
		return false
	}
	delete(t.states, owner)
	t.notify(owner, Idle(owner))
	return true
}

// Read returns a copy of the owner's state and whether a run was ever
// started for it.
func (t *Tracker) Read(owner string) (Snapshot, bool) {
	t.mu.RLock()
	defer t.mu.RUnlock()
	s, ok := t.states[owner]
	if !ok {
		return Idle(owner), false
	}
	return *s, true
}

// Active lists owners with a running scan.
func (t *Tracker) Active() []string {
	t.mu.RLock()
	defer t.mu.RUnlock()
	var owners []string
	for owner, s := range t.states {
		if s.Active {
			owners = append(owners, owner)
		}
	}
	return owners
}

// Subscribe returns a channel receiving every state change for owner.
// Slow subscribers miss intermediate updates but always receive the
// snapshot that ends a run.
func (t *Tracker) Subscribe(owner string) chan Snapshot {
	t.mu.Lock()
	defer t.mu.Unlock()
	ch := make(chan Snapshot, 16)
	t.subs[owner] = append(t.subs[owner], ch)
	return ch
}

// Unsubscribe removes and closes a subscription channel.
func (t *Tracker) Unsubscribe(owner string, ch chan Snapshot) {
	t.mu.Lock()
	defer t.mu.Unlock()
	subs := t.subs[owner]
	for i, s := range subs {
		if s == ch {
			t.subs[owner] = append(subs[:i], subs[i+1:]...)
			close(ch)
			break
		}
	}
	if len(t.subs[owner]) == 0 {
		delete(t.subs, owner)
	}
}

// Streams returns the number of open subscriptions over all owners.
func (t *Tracker) Streams() int {
	t.mu.RLock()
	defer t.mu.RUnlock()
	n := 0
	for _, subs := range t.subs {
		n += len(subs)
	}
	return n
}

// notify must be called with t.mu held.
func (t *Tracker) notify(owner string, s Snapshot) {
	for _, ch := range t.subs[owner] {
		select {
		case ch <- s:
			continue
		default:
		}
		if s.Active {
			continue
		}
		select {
		case <-ch:
		default:
		}
		select {
		case ch <- s:
		default:
		}
	}
}

func clamp(p, floor float64) float64 {
	if p < floor {
		p = floor
	}
	if p < 0 {
		return 0
	}
	if p > 100 {
		return 100
	}
	return p
}
