package config

import (
	"sync/atomic"
	"time"
)

// Snapshot is an immutable, versioned view of the guardrail limits. In-flight
// evaluations keep using the snapshot captured at their start; Replace swaps
// the active snapshot atomically so no evaluation ever observes a torn
// update.
type Snapshot struct {
	Version  uint64
	Limits   Limits
	Windows  []SessionWindow
	Location *time.Location
}

// TradingDay returns the counter day key for t under the snapshot timezone.
func (s *Snapshot) TradingDay(t time.Time) string {
	return t.In(s.Location).Format("2006-01-02")
}

// InSession reports whether t falls inside any configured session window.
func (s *Snapshot) InSession(t time.Time) bool {
	local := t.In(s.Location)
	for _, window := range s.Windows {
		if window.Contains(local) {
			return true
		}
	}
	return false
}

// Store holds the active limits snapshot behind an atomic pointer.
type Store struct {
	current atomic.Pointer[Snapshot]
}

// NewStore validates the initial limits and publishes version 1.
func NewStore(limits Limits) (*Store, error) {
	store := new(Store)
	snapshot, err := buildSnapshot(limits, 1)
	if err != nil {
		return nil, err
	}
	store.current.Store(snapshot)
	return store, nil
}

// Snapshot returns the active immutable snapshot.
func (s *Store) Snapshot() *Snapshot {
	return s.current.Load()
}

// Replace validates the new limits and swaps them in as the next version.
func (s *Store) Replace(limits Limits) (*Snapshot, error) {
	prev := s.current.Load()
	snapshot, err := buildSnapshot(limits, prev.Version+1)
	if err != nil {
		return nil, err
	}
	s.current.Store(snapshot)
	return snapshot, nil
}

func buildSnapshot(limits Limits, version uint64) (*Snapshot, error) {
	if err := limits.Validate(); err != nil {
		return nil, err
	}
	windows, err := ParseSessionWindows(limits.SessionWindows)
	if err != nil {
		return nil, err
	}
	loc, err := time.LoadLocation(limits.Timezone)
	if err != nil {
		return nil, err
	}
	limits.SessionWindows = append([]string(nil), limits.SessionWindows...)
	limits.Symbols = append([]string(nil), limits.Symbols...)
	return &Snapshot{
		Version:  version,
		Limits:   limits,
		Windows:  windows,
		Location: loc,
	}, nil
}
