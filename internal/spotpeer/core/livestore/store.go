// Package livestore keeps the most recent push-channel observation per spot.
package livestore

import (
	"sort"
	"sync"
	"time"

	"github.com/autopeer-io/spotpeer/internal/spotpeer/core/model"
)

// Store maps a lot and spot identity to its latest live event. Identities are
// only unique within a lot, so every lot has its own key space. Entries are
// overwritten in place, so the size is bounded by the number of distinct spots
// ever reported rather than by event volume.
//
// The store trusts arrival order: the push channel is a single ordered stream
// per connection, and any staleness across a reconnect gap is repaired by the
// next snapshot fetch.
type Store struct {
	mu    sync.RWMutex
	lots  map[model.LotID]map[string]model.LiveEvent
	count int
	last  time.Time
}

// New returns an empty store. Each view scope owns its own instance.
func New() *Store {
	return &Store{lots: make(map[model.LotID]map[string]model.LiveEvent)}
}

// Apply records e, unconditionally replacing any previous entry with the same
// lot and key.
func (s *Store) Apply(e model.LiveEvent) {
	s.mu.Lock()
	defer s.mu.Unlock()

	entries, ok := s.lots[e.LotID]
	if !ok {
		entries = make(map[string]model.LiveEvent)
		s.lots[e.LotID] = entries
	}
	if _, exists := entries[e.Key()]; !exists {
		s.count++
	}
	entries[e.Key()] = e
	if e.Timestamp.After(s.last) {
		s.last = e.Timestamp
	}
}

// Get returns the entry for an id-addressed spot of lot.
func (s *Store) Get(lot model.LotID, id model.SpotID) (model.LiveEvent, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	e, ok := s.lots[lot][model.IDKey(id)]
	return e, ok
}

// GetByCode returns the entry recorded under code in lot. Code-addressed
// entries win; otherwise the newest id-addressed entry carrying that code is
// returned.
func (s *Store) GetByCode(lot model.LotID, code string) (model.LiveEvent, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	entries := s.lots[lot]
	if e, ok := entries[model.CodeKey(code)]; ok {
		return e, true
	}

	var (
		found model.LiveEvent
		ok    bool
	)
	for _, e := range entries {
		if e.Code != code {
			continue
		}
		if !ok || e.Timestamp.After(found.Timestamp) {
			found, ok = e, true
		}
	}
	return found, ok
}

// All returns every entry ordered by lot, then key.
func (s *Store) All() []model.LiveEvent {
	s.mu.RLock()
	defer s.mu.RUnlock()

	lots := make([]model.LotID, 0, len(s.lots))
	for lot := range s.lots {
		lots = append(lots, lot)
	}
	sort.Slice(lots, func(i, j int) bool { return lots[i] < lots[j] })

	out := make([]model.LiveEvent, 0, s.count)
	for _, lot := range lots {
		entries := s.lots[lot]
		keys := make([]string, 0, len(entries))
		for k := range entries {
			keys = append(keys, k)
		}
		sort.Strings(keys)
		for _, k := range keys {
			out = append(out, entries[k])
		}
	}
	return out
}

// ByLot returns a copy of the entries reported for lot, keyed by identity.
func (s *Store) ByLot(lot model.LotID) map[string]model.LiveEvent {
	s.mu.RLock()
	defer s.mu.RUnlock()

	out := make(map[string]model.LiveEvent, len(s.lots[lot]))
	for k, e := range s.lots[lot] {
		out[k] = e
	}
	return out
}

// Len returns the number of distinct spots held across all lots.
func (s *Store) Len() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.count
}

// LastUpdate returns the newest event timestamp seen, or the zero time.
func (s *Store) LastUpdate() time.Time {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.last
}
