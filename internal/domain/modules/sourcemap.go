package modules

import (
	"sync"

	"github.com/go-sourcemap/sourcemap"
)

// Position is a location in original module source. Line and Column are
// 1-based.
type Position struct {
	Source string
	Name   string
	Line   int
	Column int
}

// SourceMapStore is the side-table of emitted source maps, keyed by module
// specifier. Parsed consumers are cached on first lookup.
type SourceMapStore struct {
	mu     sync.RWMutex
	raw    map[string][]byte
	parsed map[string]*sourcemap.Consumer
}

// NewSourceMapStore creates an empty store
func NewSourceMapStore() *SourceMapStore {
	return &SourceMapStore{
		raw:    make(map[string][]byte),
		parsed: make(map[string]*sourcemap.Consumer),
	}
}

// Put stores the map emitted for specifier, replacing any older one
func (s *SourceMapStore) Put(specifier string, data []byte) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.raw[specifier] = data
	delete(s.parsed, specifier)
}

// Get returns the stored map bytes for specifier
func (s *SourceMapStore) Get(specifier string) ([]byte, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	data, ok := s.raw[specifier]
	return data, ok
}

// Lookup maps a 1-based generated line and column of specifier back to the
// original source position
func (s *SourceMapStore) Lookup(specifier string, line, column int) (Position, bool) {
	consumer := s.consumer(specifier)
	if consumer == nil || line < 1 {
		return Position{}, false
	}

	source, name, origLine, origCol, ok := consumer.Source(line, max(column-1, 0))
	if !ok {
		return Position{}, false
	}
	if source == "" {
		source = specifier
	}
	return Position{Source: source, Name: name, Line: origLine, Column: origCol + 1}, true
}

func (s *SourceMapStore) consumer(specifier string) *sourcemap.Consumer {
	s.mu.RLock()
	c, ok := s.parsed[specifier]
	data, hasRaw := s.raw[specifier]
	s.mu.RUnlock()
	if ok || !hasRaw {
		return c
	}

	c, err := sourcemap.Parse("", data)
	if err != nil {
		c = nil
	}

	s.mu.Lock()
	s.parsed[specifier] = c
	s.mu.Unlock()
	return c
}
