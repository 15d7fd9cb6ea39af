// Package storage persists engine runs as a JSON snapshot file so the
// dashboard and repeat CLI invocations can serve the last result without
// re-running the ledger and market data fetches.
package storage

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/kdufour/optworth/internal/engine"
)

// maxHistory bounds how many past runs are kept in the snapshot file.
const maxHistory = 30

// Snapshot is one saved engine run.
type Snapshot struct {
	ID          string            `json:"id"`
	GeneratedAt time.Time         `json:"generated_at"`
	Results     engine.AllResults `json:"results"`
	Report      string            `json:"report"`
}

// Interface is the snapshot store contract consumed by the dashboard and
// the CLI.
type Interface interface {
	SaveSnapshot(results engine.AllResults, report string) (Snapshot, error)
	Latest() (Snapshot, error)
	History() []Snapshot
}

type storeData struct {
	Latest      *Snapshot  `json:"latest"`
	History     []Snapshot `json:"history"`
	LastUpdated time.Time  `json:"last_updated"`
}

// Store is a file-backed snapshot store. Saves write a temp file and
// rename it into place so readers never observe a partial snapshot.
type Store struct {
	mu   sync.RWMutex
	path string
	data storeData
	now  func() time.Time
}

var _ Interface = (*Store)(nil)

// NewStore opens the snapshot store at path, loading existing data when
// the file exists.
func NewStore(path string) (*Store, error) {
	s := &Store{path: path, now: time.Now}
	if _, err := os.Stat(path); err == nil {
		if err := s.load(); err != nil {
			return nil, fmt.Errorf("loading snapshot store: %w", err)
		}
	}
	return s, nil
}

func (s *Store) load() error {
	s.mu.Lock()
	defer s.mu.Unlock()

	raw, err := os.ReadFile(s.path)
	if err != nil {
		return err
	}
	return json.Unmarshal(raw, &s.data)
}

// SaveSnapshot records one engine run and persists the store.
func (s *Store) SaveSnapshot(results engine.AllResults, report string) (Snapshot, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	snap := Snapshot{
		ID:          uuid.NewString(),
		GeneratedAt: s.now().UTC(),
		Results:     results,
		Report:      report,
	}
	if s.data.Latest != nil {
		s.data.History = append(s.data.History, *s.data.Latest)
		if len(s.data.History) > maxHistory {
			s.data.History = s.data.History[len(s.data.History)-maxHistory:]
		}
	}
	s.data.Latest = &snap
	s.data.LastUpdated = snap.GeneratedAt

	if err := s.persist(); err != nil {
		return Snapshot{}, err
	}
	return snap, nil
}

// persist writes the store to disk. Caller holds the write lock.
func (s *Store) persist() error {
	raw, err := json.MarshalIndent(s.data, "", "  ")
	if err != nil {
		return err
	}
	if dir := filepath.Dir(s.path); dir != "." {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return fmt.Errorf("creating snapshot dir: %w", err)
		}
	}
	tmp := s.path + ".tmp"
	if err := os.WriteFile(tmp, raw, 0o644); err != nil {
		return err
	}
	return os.Rename(tmp, s.path)
}

// Latest returns the most recent snapshot, or ErrNoSnapshot.
func (s *Store) Latest() (Snapshot, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if s.data.Latest == nil {
		return Snapshot{}, ErrNoSnapshot
	}
	return *s.data.Latest, nil
}

// History returns past snapshots, oldest first, excluding the latest.
func (s *Store) History() []Snapshot {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := make([]Snapshot, len(s.data.History))
	copy(out, s.data.History)
	return out
}
