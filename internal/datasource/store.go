package datasource

import (
	"sync"
	"time"

	"github.com/iwvelando/sales-forecast/internal/series"
)

// Store holds the active dataset. Readers receive the current slice, which
// is never mutated; Replace swaps in a new one.
type Store struct {
	mu           sync.RWMutex
	observations []series.Observation
	dimensions   []string
	source       string
	version      uint64
	updated      time.Time
}

// NewStore returns a store tracking the given dimensions.
func NewStore(dimensions []string) *Store {
	if len(dimensions) == 0 {
		dimensions = DefaultDimensions
	}
	return &Store{dimensions: append([]string(nil), dimensions...)}
}

// Replace installs observations as the active dataset.
func (s *Store) Replace(observations []series.Observation, source string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.observations = observations
	s.source = source
	s.version++
	s.updated = time.Now()
}

// Observations returns the active dataset.
func (s *Store) Observations() []series.Observation {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.observations
}

// Dimensions returns the tracked dimension names.
func (s *Store) Dimensions() []string {
	return append([]string(nil), s.dimensions...)
}

// Catalogue lists the filterable values of every tracked dimension.
func (s *Store) Catalogue() map[string][]string {
	return series.DimensionValues(s.Observations(), s.dimensions)
}

// Info describes the active dataset.
type Info struct {
	Source       string    `json:"source"`
	Version      uint64    `json:"version"`
	Observations int       `json:"observations"`
	Updated      time.Time `json:"updated"`
}

// Info returns a description of the active dataset.
func (s *Store) Info() Info {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return Info{
		Source:       s.source,
		Version:      s.version,
		Observations: len(s.observations),
		Updated:      s.updated,
	}
}
