package localstore

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sync"
)

// FileStore keeps session values in a single JSON document on disk. It backs the command line
// client, which has no server-side session.
type FileStore struct {
	path string
	mu   sync.Mutex
}

type fileState map[string]map[string]string

// NewFileStore returns a store persisted at path. The file is created on first write.
func NewFileStore(path string) (*FileStore, error) {
	if path == "" {
		return nil, errors.New("localstore: file path is required")
	}
	return &FileStore{path: path}, nil
}

func (s *FileStore) Get(_ context.Context, session, key string) ([]byte, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	state, err := s.load()
	if err != nil {
		return nil, err
	}
	value, ok := state[session][key]
	if !ok {
		return nil, ErrNotFound
	}
	return []byte(value), nil
}

func (s *FileStore) Set(_ context.Context, session, key string, value []byte) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	state, err := s.load()
	if err != nil {
		return err
	}
	if state[session] == nil {
		state[session] = map[string]string{}
	}
	state[session][key] = string(value)
	return s.save(state)
}

func (s *FileStore) Delete(_ context.Context, session, key string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	state, err := s.load()
	if err != nil {
		return err
	}
	if _, ok := state[session][key]; !ok {
		return nil
	}
	delete(state[session], key)
	if len(state[session]) == 0 {
		delete(state, session)
	}
	return s.save(state)
}

func (s *FileStore) Update(_ context.Context, session, key string, fn UpdateFunc) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	state, err := s.load()
	if err != nil {
		return err
	}
	current, found := state[session][key]
	next, err := fn([]byte(current), found)
	if err != nil {
		return err
	}
	if state[session] == nil {
		state[session] = map[string]string{}
	}
	state[session][key] = string(next)
	return s.save(state)
}

func (s *FileStore) load() (fileState, error) {
	data, err := os.ReadFile(s.path)
	if errors.Is(err, os.ErrNotExist) {
		return fileState{}, nil
	}
	if err != nil {
		return nil, fmt.Errorf("localstore: read %s: %w", s.path, err)
	}
	state := fileState{}
	if len(data) == 0 {
		return state, nil
	}
	if err := json.Unmarshal(data, &state); err != nil {
		return nil, fmt.Errorf("localstore: decode %s: %w", s.path, err)
	}
	return state, nil
}

// save writes through a temp file so a crash never leaves a truncated document.
func (s *FileStore) save(state fileState) error {
	data, err := json.MarshalIndent(state, "", "  ")
	if err != nil {
		return fmt.Errorf("localstore: encode state: %w", err)
	}
	dir := filepath.Dir(s.path)
	if err := os.MkdirAll(dir, 0o700); err != nil {
		return fmt.Errorf("localstore: create %s: %w", dir, err)
	}
	tmp, err := os.CreateTemp(dir, ".storefront-*.json")
	if err != nil {
		return fmt.Errorf("localstore: create temp file: %w", err)
	}
	defer os.Remove(tmp.Name())
	if _, err := tmp.Write(data); err != nil {
		tmp.Close()
		return fmt.Errorf("localstore: write temp file: %w", err)
	}
	if err := tmp.Close(); err != nil {
		return fmt.Errorf("localstore: close temp file: %w", err)
	}
	if err := os.Rename(tmp.Name(), s.path); err != nil {
		return fmt.Errorf("localstore: replace %s: %w", s.path, err)
	}
	return nil
}
