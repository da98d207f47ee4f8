// Package arguments persists the flat string map handed to pages by the
// Initialization command. The map lives under one fixed key of a JSON file;
// other keys in the file are preserved.
package arguments

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"sync"
)

const DefaultKey = "arguments"

type Entry struct {
	Key   string `json:"key"`
	Value string `json:"value"`
}

type Store struct {
	mu   sync.Mutex
	path string
	key  string
}

func NewStore(path, key string) *Store {
	if key == "" {
		key = DefaultKey
	}
	return &Store{path: path, key: key}
}

func (s *Store) Path() string {
	return s.path
}

// Load returns the stored map and whether the key exists at all. An existing
// but empty map reports exists=true.
func (s *Store) Load() (map[string]string, bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	doc, err := s.readLocked()
	if err != nil {
		return nil, false, err
	}
	raw, ok := doc[s.key]
	if !ok {
		return nil, false, nil
	}
	args, err := decodeArgs(raw)
	if err != nil {
		return nil, false, fmt.Errorf("read %s[%q]: %w", s.path, s.key, err)
	}
	return args, true, nil
}

func (s *Store) Set(key, value string) error {
	if key == "" {
		return fmt.Errorf("argument key must not be empty")
	}
	return s.update(func(args map[string]string) bool {
		args[key] = value
		return true
	})
}

// Delete removes key and reports whether it was present.
func (s *Store) Delete(key string) (bool, error) {
	found := false
	err := s.update(func(args map[string]string) bool {
		if _, ok := args[key]; ok {
			delete(args, key)
			found = true
		}
		return found
	})
	return found, err
}

// List returns the stored arguments sorted by key.
func (s *Store) List() ([]Entry, error) {
	args, _, err := s.Load()
	if err != nil {
		return nil, err
	}
	out := make([]Entry, 0, len(args))
	for k, v := range args {
		out = append(out, Entry{Key: k, Value: v})
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Key < out[j].Key })
	return out, nil
}

func (s *Store) update(mutate func(args map[string]string) bool) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	doc, err := s.readLocked()
	if err != nil {
		return err
	}
	args := map[string]string{}
	if raw, ok := doc[s.key]; ok {
		if args, err = decodeArgs(raw); err != nil {
			return fmt.Errorf("read %s[%q]: %w", s.path, s.key, err)
		}
	}
	if !mutate(args) {
		return nil
	}

	encoded, err := json.Marshal(args)
	if err != nil {
		return fmt.Errorf("marshal arguments: %w", err)
	}
	doc[s.key] = encoded
	return s.writeLocked(doc)
}

func decodeArgs(raw json.RawMessage) (map[string]string, error) {
	args := map[string]string{}
	if err := json.Unmarshal(raw, &args); err != nil {
		return nil, err
	}
	if args == nil {
		args = map[string]string{}
	}
	return args, nil
}

func (s *Store) readLocked() (map[string]json.RawMessage, error) {
	data, err := os.ReadFile(s.path)
	if err != nil {
		if os.IsNotExist(err) {
			return map[string]json.RawMessage{}, nil
		}
		return nil, fmt.Errorf("read arguments file: %w", err)
	}
	doc := map[string]json.RawMessage{}
	if err := json.Unmarshal(data, &doc); err != nil {
		return nil, fmt.Errorf("parse arguments file: %w", err)
	}
	if doc == nil {
		doc = map[string]json.RawMessage{}
	}
	return doc, nil
}

func (s *Store) writeLocked(doc map[string]json.RawMessage) error {
	if err := os.MkdirAll(filepath.Dir(s.path), 0755); err != nil {
		return fmt.Errorf("mkdir arguments dir: %w", err)
	}
	data, err := json.MarshalIndent(doc, "", "  ")
	if err != nil {
		return fmt.Errorf("marshal arguments file: %w", err)
	}
	tmp := s.path + ".tmp"
	if err := os.WriteFile(tmp, data, 0644); err != nil {
		return fmt.Errorf("write arguments temp: %w", err)
	}
	if err := os.Rename(tmp, s.path); err != nil {
		_ = os.Remove(tmp)
		return fmt.Errorf("replace arguments file: %w", err)
	}
	return nil
}
