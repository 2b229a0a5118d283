package persistence

import (
	"context"
	"encoding/json"
	"errors"
	"os"
	"path/filepath"
	"sync"

	"github.com/lexcodex/deepresearch/framework"
)

// MessageStore persists interaction histories per research run.
type MessageStore interface {
	Append(ctx context.Context, runID string, interactions ...framework.Interaction) error
	History(ctx context.Context, runID string) ([]framework.Interaction, error)
	Clear(ctx context.Context, runID string) error
}

// FileMessageStore keeps messages in one JSON file per run.
type FileMessageStore struct {
	root string
	mu   sync.RWMutex
}

// NewFileMessageStore builds a store in the provided root directory.
func NewFileMessageStore(root string) (*FileMessageStore, error) {
	if root == "" {
		return nil, errors.New("message store root required")
	}
	if err := os.MkdirAll(root, 0o755); err != nil {
		return nil, err
	}
	return &FileMessageStore{root: root}, nil
}

func (s *FileMessageStore) pathFor(id string) string {
	return filepath.Join(s.root, id+".messages.json")
}

// Append stores interactions for a run.
func (s *FileMessageStore) Append(ctx context.Context, runID string, interactions ...framework.Interaction) error {
	select {
	case <-ctx.Done():
		return ctx.Err()
	default:
	}
	if runID == "" {
		return errors.New("run id required")
	}
	if len(interactions) == 0 {
		return nil
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	existing, err := s.read(runID)
	if err != nil {
		return err
	}
	existing = append(existing, interactions...)
	data, err := json.MarshalIndent(existing, "", "  ")
	if err != nil {
		return err
	}
	return os.WriteFile(s.pathFor(runID), data, 0o644)
}

// History returns the conversation for a run.
func (s *FileMessageStore) History(ctx context.Context, runID string) ([]framework.Interaction, error) {
	select {
	case <-ctx.Done():
		return nil, ctx.Err()
	default:
	}
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.read(runID)
}

// Clear removes stored messages.
func (s *FileMessageStore) Clear(ctx context.Context, runID string) error {
	select {
	case <-ctx.Done():
		return ctx.Err()
	default:
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	err := os.Remove(s.pathFor(runID))
	if errors.Is(err, os.ErrNotExist) {
		return nil
	}
	return err
}

func (s *FileMessageStore) read(runID string) ([]framework.Interaction, error) {
	data, err := os.ReadFile(s.pathFor(runID))
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return nil, nil
		}
		return nil, err
	}
	var interactions []framework.Interaction
	if err := json.Unmarshal(data, &interactions); err != nil {
		return nil, err
	}
	return interactions, nil
}
