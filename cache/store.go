// Package cache stores versioned generations of response snapshots.
package cache

import (
	"errors"
	"sort"
	"sync"
	"time"
)

// ErrEmptyLabel is returned when opening a generation with an empty label.
var ErrEmptyLabel = errors.New("cache: empty generation label")

// Snapshot is one stored response, keyed by request URI.
type Snapshot struct {
	Key      string
	Bytes    []byte
	StoredAt time.Time
}

// Store keeps cache generations, each identified by a version label.
// Generations are only ever deleted wholesale, never entry by entry.
//
// Implementations must be thread-safe!
type Store interface {
	// Open returns the generation with the given label, creating it
	// if it does not exist yet. Empty generations are still listed
	// by Labels.
	Open(label string) (Generation, error)
	// Labels lists the labels of all generations in the store.
	Labels() ([]string, error)
	// Delete removes a generation and all of its snapshots. Deleting
	// a label that does not exist is not an error.
	Delete(label string) error
	// Close releases the underlying storage.
	Close() error
}

// Generation is one versioned set of snapshots.
type Generation interface {
	// Label returns the version label this generation was opened with.
	Label() string
	// Get returns the snapshot for the given key. The boolean reports
	// whether the key was present.
	Get(key string) (Snapshot, bool, error)
	// AddAll stores all given snapshots in one atomic write. Existing
	// snapshots with the same keys are replaced. Either every snapshot
	// is stored or none is.
	AddAll(snapshots []Snapshot) error
	// Keys lists the keys of all snapshots in this generation.
	Keys() ([]string, error)
}

// MemStore is an in-memory Store, mainly useful for testing.
type MemStore struct {
	mu   *sync.RWMutex
	gens map[string]map[string]Snapshot
}

func NewMemStore() *MemStore {
	return &MemStore{
		mu:   &sync.RWMutex{},
		gens: make(map[string]map[string]Snapshot),
	}
}

func (s *MemStore) Open(label string) (Generation, error) {
	if label == "" {
		return nil, ErrEmptyLabel
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.gens[label]; !ok {
		s.gens[label] = make(map[string]Snapshot)
	}
	return &memGeneration{store: s, label: label}, nil
}

func (s *MemStore) Labels() ([]string, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	labels := make([]string, 0, len(s.gens))
	for label := range s.gens {
		labels = append(labels, label)
	}
	sort.Strings(labels)
	return labels, nil
}

func (s *MemStore) Delete(label string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.gens, label)
	return nil
}

func (s *MemStore) Close() error {
	return nil
}

type memGeneration struct {
	store *MemStore
	label string
}

func (g *memGeneration) Label() string {
	return g.label
}

func (g *memGeneration) Get(key string) (Snapshot, bool, error) {
	g.store.mu.RLock()
	defer g.store.mu.RUnlock()
	snap, ok := g.store.gens[g.label][key]
	return snap, ok, nil
}

func (g *memGeneration) AddAll(snapshots []Snapshot) error {
	g.store.mu.Lock()
	defer g.store.mu.Unlock()
	snaps, ok := g.store.gens[g.label]
	if !ok {
		snaps = make(map[string]Snapshot)
		g.store.gens[g.label] = snaps
	}
	for _, snap := range snapshots {
		snaps[snap.Key] = snap
	}
	return nil
}

func (g *memGeneration) Keys() ([]string, error) {
	g.store.mu.RLock()
	defer g.store.mu.RUnlock()
	keys := make([]string, 0, len(g.store.gens[g.label]))
	for key := range g.store.gens[g.label] {
		keys = append(keys, key)
	}
	sort.Strings(keys)
	return keys, nil
}
