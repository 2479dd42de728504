// Package store holds the most recent frame and statistics per stream.
//
// The Store is the only shared mutable state of an aggregation run. Ingestion
// hands it complete Update values and the store swaps the stream's entry under a
// single mutex, so readers observe either the previous entry or the new one and
// never a mix of the two. Frames handed to the store are owned by it and must not
// be modified afterwards.
package store

import (
	"sort"
	"sync"
	"time"

	"github.com/c360/framesync/frame"
	"github.com/c360/framesync/stats"
)

// Update is the message an ingestion callback sends after processing a frame.
type Update struct {
	Stream   string
	Stats    stats.Stats
	Frame    *frame.Decoded
	Received time.Time
}

// Entry is the latest state of one stream. A stream that never produced a valid
// frame has a nil Stats and Frame.
type Entry struct {
	Frame    *frame.Decoded `json:"-"`
	Stats    *stats.Stats   `json:"stats,omitempty"`
	Received time.Time      `json:"received,omitempty"`
	Frames   uint64         `json:"frames"`
}

// HasData reports whether the stream produced at least one valid frame.
func (e Entry) HasData() bool {
	return e.Stats != nil
}

// Store maps stream names to their latest Entry.
type Store struct {
	mu      sync.RWMutex
	entries map[string]Entry
}

// New creates a store with an empty entry for each named stream.
func New(streams ...string) *Store {
	s := &Store{entries: make(map[string]Entry, len(streams))}
	for _, name := range streams {
		s.entries[name] = Entry{}
	}
	return s
}

// Replace swaps the stream's entry for the one described by u.
func (s *Store) Replace(u Update) {
	st := u.Stats
	s.mu.Lock()
	defer s.mu.Unlock()
	prev := s.entries[u.Stream]
	s.entries[u.Stream] = Entry{
		Frame:    u.Frame,
		Stats:    &st,
		Received: u.Received,
		Frames:   prev.Frames + 1,
	}
}

// Get returns the entry for a stream.
func (s *Store) Get(stream string) (Entry, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	e, ok := s.entries[stream]
	return e, ok
}

// Snapshot returns a copy of all entries.
func (s *Store) Snapshot() map[string]Entry {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := make(map[string]Entry, len(s.entries))
	for name, e := range s.entries {
		out[name] = e
	}
	return out
}

// Streams returns the stream names in sorted order.
func (s *Store) Streams() []string {
	s.mu.RLock()
	names := make([]string, 0, len(s.entries))
	for name := range s.entries {
		names = append(names, name)
	}
	s.mu.RUnlock()
	sort.Strings(names)
	return names
}
