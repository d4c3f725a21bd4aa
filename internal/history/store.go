// Package history keeps a bounded, newest-first list of past successful
// downloads and writes it through to a key-value backend on every change.
package history

import (
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"sync"

	"github.com/M0usa391/video-saver-tik-tok/internal/models"

	log "github.com/sirupsen/logrus"
)

var (
	ErrInvalidName     = errors.New("display name must not be empty")
	ErrIndexOutOfRange = errors.New("history index out of range")
)

// StorageKey is the single key holding the persisted JSON array.
const StorageKey = "download_history"

// DefaultCapacity is the number of entries kept before the oldest is evicted.
const DefaultCapacity = 20

// Backend is the persistence the store writes through to. A missing key
// must be reported with an error matching ErrNotFound passed to NewStore.
type Backend interface {
	Get(key []byte) ([]byte, error)
	Put(key []byte, value []byte) error
	Delete(key []byte) error
}

// Indexer is told about the full list after every successful mutation.
type Indexer interface {
	Reindex(entries []models.HistoryEntry) error
}

// Store is the in-memory history list mirrored to a Backend.
type Store struct {
	backend  Backend
	notFound error
	capacity int
	indexer  Indexer

	mu      sync.Mutex
	entries []models.HistoryEntry
}

// NewStore creates an empty store. notFound is the backend's "missing key"
// sentinel. Call Load to read persisted entries.
func NewStore(backend Backend, notFound error, capacity int) *Store {
	if capacity <= 0 {
		capacity = DefaultCapacity
	}
	return &Store{
		backend:  backend,
		notFound: notFound,
		capacity: capacity,
	}
}

// SetIndexer attaches a search index kept in sync with the list.
func (s *Store) SetIndexer(indexer Indexer) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.indexer = indexer
}

// Load replaces the in-memory list with the persisted one. A corrupt value
// is discarded: the store resets to empty and the key is cleared. A list
// longer than the capacity is truncated and written back. Only backend read
// failures are returned.
func (s *Store) Load() error {
	s.mu.Lock()
	defer s.mu.Unlock()

	raw, err := s.backend.Get([]byte(StorageKey))
	if err != nil {
		if s.notFound != nil && errors.Is(err, s.notFound) {
			s.entries = nil
			return nil
		}
		return fmt.Errorf("error reading history: %w", err)
	}

	var entries []models.HistoryEntry
	if err := json.Unmarshal(raw, &entries); err != nil {
		log.WithError(err).Warn("Persisted history is corrupt, resetting it")
		s.entries = nil
		if delErr := s.backend.Delete([]byte(StorageKey)); delErr != nil {
			log.WithError(delErr).Error("Failed to clear corrupt history, it will be overwritten on the next change")
		}
		return nil
	}

	if len(entries) > s.capacity {
		log.Debugf("Truncating persisted history from %d to %d entries", len(entries), s.capacity)
		entries = entries[:s.capacity]
		if err := s.commit(entries); err != nil {
			log.WithError(err).Warn("Failed to persist truncated history")
			s.entries = entries
		}
		return nil
	}
	s.entries = entries
	log.Debugf("Loaded %d history entries", len(entries))
	return nil
}

// Entries returns a copy of the list, newest first.
func (s *Store) Entries() []models.HistoryEntry {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]models.HistoryEntry(nil), s.entries...)
}

// Len returns the current number of entries.
func (s *Store) Len() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.entries)
}

// Append inserts entry at the head, evicting from the tail past capacity.
func (s *Store) Append(entry models.HistoryEntry) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	next := make([]models.HistoryEntry, 0, len(s.entries)+1)
	next = append(next, entry)
	next = append(next, s.entries...)
	if len(next) > s.capacity {
		log.Debugf("Evicting %d oldest history entries", len(next)-s.capacity)
		next = next[:s.capacity]
	}
	return s.commit(next)
}

// Rename replaces the display name of the entry at index.
func (s *Store) Rename(index int, newName string) error {
	name := strings.TrimSpace(newName)
	if name == "" {
		return ErrInvalidName
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	if index < 0 || index >= len(s.entries) {
		return fmt.Errorf("%w: %d (have %d)", ErrIndexOutOfRange, index, len(s.entries))
	}
	next := append([]models.HistoryEntry(nil), s.entries...)
	next[index].DisplayName = name
	return s.commit(next)
}

// Remove deletes the entry at index. A stale index is ignored.
func (s *Store) Remove(index int) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if index < 0 || index >= len(s.entries) {
		log.Debugf("Ignoring removal of stale history index %d (have %d)", index, len(s.entries))
		return nil
	}
	next := make([]models.HistoryEntry, 0, len(s.entries)-1)
	next = append(next, s.entries[:index]...)
	next = append(next, s.entries[index+1:]...)
	return s.commit(next)
}

// Clear drops every entry.
func (s *Store) Clear() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.commit(nil)
}

// commit persists next and only then swaps it in, so memory never runs
// ahead of the backend. Caller holds s.mu.
func (s *Store) commit(next []models.HistoryEntry) error {
	if next == nil {
		next = []models.HistoryEntry{}
	}
	raw, err := json.Marshal(next)
	if err != nil {
		return fmt.Errorf("error encoding history: %w", err)
	}
	if err := s.backend.Put([]byte(StorageKey), raw); err != nil {
		return fmt.Errorf("error persisting history: %w", err)
	}
	s.entries = next

	if s.indexer != nil {
		if err := s.indexer.Reindex(append([]models.HistoryEntry(nil), next...)); err != nil {
			log.WithError(err).Warn("Failed to update history search index")
		}
	}
	return nil
}
