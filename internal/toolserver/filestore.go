package toolserver

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"sync"
)

// FileTokenStore persists token pairs as a JSON map on disk. The file is
// written with owner-only permissions and replaced atomically.
type FileTokenStore struct {
	path string
	mu   sync.Mutex
}

func NewFileTokenStore(path string) *FileTokenStore {
	return &FileTokenStore{path: path}
}

func (s *FileTokenStore) LoadToken(_ context.Context, serverID string) (*TokenPair, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	tokens, err := s.read()
	if err != nil {
		return nil, err
	}
	pair, ok := tokens[serverID]
	if !ok {
		return nil, nil
	}
	return pair, nil
}

func (s *FileTokenStore) SaveToken(_ context.Context, serverID string, pair *TokenPair) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	tokens, err := s.read()
	if err != nil {
		return err
	}
	copied := *pair
	tokens[serverID] = &copied

	data, err := json.MarshalIndent(tokens, "", "  ")
	if err != nil {
		return err
	}
	if err := os.MkdirAll(filepath.Dir(s.path), 0o700); err != nil {
		return fmt.Errorf("create token dir: %w", err)
	}
	tmp := s.path + ".tmp"
	if err := os.WriteFile(tmp, data, 0o600); err != nil {
		return fmt.Errorf("write tokens: %w", err)
	}
	return os.Rename(tmp, s.path)
}

func (s *FileTokenStore) read() (map[string]*TokenPair, error) {
	data, err := os.ReadFile(s.path)
	if os.IsNotExist(err) {
		return make(map[string]*TokenPair), nil
	}
	if err != nil {
		return nil, fmt.Errorf("read tokens: %w", err)
	}
	tokens := make(map[string]*TokenPair)
	if err := json.Unmarshal(data, &tokens); err != nil {
		return nil, fmt.Errorf("parse token file %s: %w", s.path, err)
	}
	return tokens, nil
}
