package notes

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"
)

// Note is one append-only record in the session memory store.
type Note struct {
	ID        string    `json:"id"`
	Timestamp time.Time `json:"timestamp"`
	Category  string    `json:"category"`
	Content   string    `json:"content"`
}

// Store is a durable, append-oriented collection of notes persisted as a
// single JSON document. Every write rewrites the whole document through a
// temp-file rename, so a reader never observes a half-written store. The
// mutex serializes the write path: one agent's sequential records never
// interleave even though they arrive via concurrent tool dispatch.
//
// When several processes share one store location, last writer wins; the
// optional watcher (see Watch) drops the in-memory cache when another
// process rewrites the file.
type Store struct {
	path   string
	logger zerolog.Logger

	mu     sync.Mutex
	cache  []Note
	loaded bool

	watcher *watcher
}

// NewStore creates a store backed by the given file path. The file and its
// directory are created lazily on the first record.
func NewStore(path string, logger zerolog.Logger) (*Store, error) {
	if path == "" {
		return nil, fmt.Errorf("store path is required")
	}

	return &Store{
		path:   path,
		logger: logger,
	}, nil
}

// Path returns the store's file path.
func (s *Store) Path() string {
	return s.path
}

// Record appends a note and persists the full collection atomically.
func (s *Store) Record(content, category string) (Note, error) {
	if content == "" {
		return Note{}, fmt.Errorf("note content cannot be empty")
	}
	if category == "" {
		category = "general"
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	if err := s.loadLocked(); err != nil {
		return Note{}, err
	}

	note := Note{
		ID:        uuid.NewString(),
		Timestamp: time.Now(),
		Category:  category,
		Content:   content,
	}
	updated := append(append([]Note{}, s.cache...), note)

	if err := s.writeLocked(updated); err != nil {
		return Note{}, err
	}
	s.cache = updated

	s.logger.Debug().Str("category", category).Msg("Note recorded")

	return note, nil
}

// Recall returns the notes in insertion order, optionally filtered by
// category. A missing or empty store yields an empty slice, not an error.
func (s *Store) Recall(category string) ([]Note, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if err := s.loadLocked(); err != nil {
		return nil, err
	}

	if category == "" {
		out := make([]Note, len(s.cache))
		copy(out, s.cache)
		return out, nil
	}

	out := []Note{}
	for _, note := range s.cache {
		if note.Category == category {
			out = append(out, note)
		}
	}

	return out, nil
}

// Len returns the number of stored notes.
func (s *Store) Len() (int, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if err := s.loadLocked(); err != nil {
		return 0, err
	}
	return len(s.cache), nil
}

// Invalidate drops the in-memory cache so the next access re-reads the file.
func (s *Store) Invalidate() {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.loaded = false
	s.cache = nil
}

// loadLocked populates the cache from disk if needed. A corrupt document is
// logged and treated as empty rather than wedging the store.
func (s *Store) loadLocked() error {
	if s.loaded {
		return nil
	}

	data, err := os.ReadFile(s.path)
	if err != nil {
		if os.IsNotExist(err) {
			s.cache = nil
			s.loaded = true
			return nil
		}
		return fmt.Errorf("failed to read note store: %w", err)
	}

	if len(data) == 0 {
		s.cache = nil
		s.loaded = true
		return nil
	}

	var notes []Note
	if err := json.Unmarshal(data, &notes); err != nil {
		s.logger.Warn().Err(err).Str("path", s.path).Msg("Note store is corrupt, starting empty")
		notes = nil
	}

	s.cache = notes
	s.loaded = true

	return nil
}

// writeLocked persists the collection via temp-file-then-rename so a crash
// mid-write leaves the previous document intact.
func (s *Store) writeLocked(notes []Note) error {
	data, err := json.MarshalIndent(notes, "", "  ")
	if err != nil {
		return fmt.Errorf("failed to marshal notes: %w", err)
	}

	dir := filepath.Dir(s.path)
	if err := os.MkdirAll(dir, 0755); err != nil {
		return fmt.Errorf("failed to create store directory: %w", err)
	}

	tmp, err := os.CreateTemp(dir, ".notes-*.tmp")
	if err != nil {
		return fmt.Errorf("failed to create temp file: %w", err)
	}
	tmpPath := tmp.Name()

	if _, err := tmp.Write(data); err != nil {
		tmp.Close()
		os.Remove(tmpPath)
		return fmt.Errorf("failed to write temp file: %w", err)
	}
	if err := tmp.Sync(); err != nil {
		tmp.Close()
		os.Remove(tmpPath)
		return fmt.Errorf("failed to sync temp file: %w", err)
	}
	if err := tmp.Close(); err != nil {
		os.Remove(tmpPath)
		return fmt.Errorf("failed to close temp file: %w", err)
	}

	if err := os.Rename(tmpPath, s.path); err != nil {
		os.Remove(tmpPath)
		return fmt.Errorf("failed to replace note store: %w", err)
	}

	return nil
}
