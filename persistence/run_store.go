package persistence

import (
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"sync"

	"github.com/lexcodex/deepresearch/research"
)

// FileRunStore keeps research run snapshots in a single JSON file. Snapshots
// are cached in memory and rewritten on every mutation; run counts are small
// enough that rewriting the whole file is cheaper than managing per-run
// files.
type FileRunStore struct {
	path  string
	mu    sync.RWMutex
	cache map[string]research.RunSnapshot
}

// NewFileRunStore creates a store under the provided directory.
func NewFileRunStore(root string) (*FileRunStore, error) {
	if root == "" {
		return nil, errors.New("run store root required")
	}
	if err := os.MkdirAll(root, 0o755); err != nil {
		return nil, err
	}
	store := &FileRunStore{
		path:  filepath.Join(root, "runs.json"),
		cache: make(map[string]research.RunSnapshot),
	}
	if err := store.load(); err != nil {
		return nil, err
	}
	return store, nil
}

// load hydrates the in-memory cache from disk when the process starts so
// runs survive restarts.
func (s *FileRunStore) load() error {
	data, err := os.ReadFile(s.path)
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return nil
		}
		return err
	}
	var snapshots []research.RunSnapshot
	if err := json.Unmarshal(data, &snapshots); err != nil {
		return err
	}
	for _, snap := range snapshots {
		s.cache[snap.RunID] = snap
	}
	return nil
}

// persist writes the cached snapshots back to disk after any mutation.
func (s *FileRunStore) persist() error {
	snapshots := make([]research.RunSnapshot, 0, len(s.cache))
	for _, snap := range s.cache {
		snapshots = append(snapshots, snap)
	}
	sort.Slice(snapshots, func(i, j int) bool {
		return snapshots[i].UpdatedAt.After(snapshots[j].UpdatedAt)
	})
	data, err := json.MarshalIndent(snapshots, "", "  ")
	if err != nil {
		return err
	}
	return os.WriteFile(s.path, data, 0o644)
}

// Save writes a snapshot to disk.
func (s *FileRunStore) Save(snapshot *research.RunSnapshot) error {
	if snapshot == nil {
		return errors.New("nil snapshot")
	}
	if snapshot.RunID == "" {
		return errors.New("snapshot run id required")
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	s.cache[snapshot.RunID] = *snapshot
	return s.persist()
}

// Load retrieves a snapshot by run ID.
func (s *FileRunStore) Load(runID string) (*research.RunSnapshot, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	snap, ok := s.cache[runID]
	if !ok {
		return nil, fmt.Errorf("run %s not found", runID)
	}
	return &snap, nil
}

// List returns all snapshots, most recently updated first.
func (s *FileRunStore) List() ([]research.RunSnapshot, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	result := make([]research.RunSnapshot, 0, len(s.cache))
	for _, snap := range s.cache {
		result = append(result, snap)
	}
	sort.Slice(result, func(i, j int) bool {
		return result[i].UpdatedAt.After(result[j].UpdatedAt)
	})
	return result, nil
}

// Delete removes a snapshot.
func (s *FileRunStore) Delete(runID string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.cache, runID)
	return s.persist()
}
