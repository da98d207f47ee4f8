// Package photos archives PNG captures returned by the TakePhoto command.
package photos

import (
	"bytes"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"image/png"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/sipeed/halbridge/pkg/utils"
)

type Record struct {
	ID            string    `json:"id"`
	CorrelationID string    `json:"correlation_id,omitempty"`
	Facing        string    `json:"facing"`
	StoredPath    string    `json:"stored_path"`
	MIMEType      string    `json:"mime_type"`
	Width         int       `json:"width,omitempty"`
	Height        int       `json:"height,omitempty"`
	SizeBytes     int64     `json:"size_bytes"`
	SHA256        string    `json:"sha256"`
	CreatedAt     time.Time `json:"created_at"`
}

type stateFile struct {
	Version int      `json:"version"`
	Records []Record `json:"records"`
}

type Store struct {
	mu        sync.RWMutex
	statePath string
	rootPath  string
	records   map[string]Record
}

// NewStore opens the archive under workspace: images in photos/ and the
// index in state/photos.json.
func NewStore(workspace string) *Store {
	root := filepath.Join(workspace, "photos")
	statePath := filepath.Join(workspace, "state", "photos.json")

	_ = os.MkdirAll(filepath.Dir(statePath), 0755)
	_ = os.MkdirAll(root, 0755)

	s := &Store{
		statePath: statePath,
		rootPath:  root,
		records:   map[string]Record{},
	}
	_ = s.load()
	return s
}

func (s *Store) RootPath() string {
	return s.rootPath
}

// Save writes a PNG capture to a day directory and indexes it.
func (s *Store) Save(data []byte, facing, correlationID string) (Record, error) {
	cfg, err := png.DecodeConfig(bytes.NewReader(data))
	if err != nil {
		return Record{}, fmt.Errorf("photo is not a PNG: %w", err)
	}

	now := time.Now().UTC()
	dayPath := filepath.Join(s.rootPath, now.Format("2006"), now.Format("01"), now.Format("02"))
	if err := os.MkdirAll(dayPath, 0755); err != nil {
		return Record{}, fmt.Errorf("mkdir photo day path: %w", err)
	}

	facing = strings.ToLower(strings.TrimSpace(facing))
	if facing == "" {
		facing = "unknown"
	}
	destName := utils.SanitizeFilename(fmt.Sprintf("%s_%s_%s.png", now.Format("150405"), uuid.NewString()[:8], facing))
	destPath := filepath.Join(dayPath, destName)
	if err := os.WriteFile(destPath, data, 0644); err != nil {
		return Record{}, fmt.Errorf("write photo: %w", err)
	}

	sum := sha256.Sum256(data)
	rec := Record{
		ID:            "photo_" + uuid.NewString(),
		CorrelationID: correlationID,
		Facing:        facing,
		StoredPath:    destPath,
		MIMEType:      "image/png",
		Width:         cfg.Width,
		Height:        cfg.Height,
		SizeBytes:     int64(len(data)),
		SHA256:        hex.EncodeToString(sum[:]),
		CreatedAt:     now,
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	s.records[rec.ID] = rec
	if err := s.saveLocked(); err != nil {
		return Record{}, err
	}
	return rec, nil
}

// Archive is Save without the record, for callers that only log failures.
func (s *Store) Archive(data []byte, facing, correlationID string) error {
	_, err := s.Save(data, facing, correlationID)
	return err
}

func (s *Store) GetByID(id string) (Record, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	r, ok := s.records[id]
	return r, ok
}

// List returns records newest first; limit <= 0 returns all.
func (s *Store) List(limit int) []Record {
	s.mu.RLock()
	out := make([]Record, 0, len(s.records))
	for _, r := range s.records {
		out = append(out, r)
	}
	s.mu.RUnlock()

	sort.Slice(out, func(i, j int) bool { return out[i].CreatedAt.After(out[j].CreatedAt) })
	if limit > 0 && len(out) > limit {
		out = out[:limit]
	}
	return out
}

// Remove deletes a photo and its record.
func (s *Store) Remove(id string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	r, ok := s.records[id]
	if !ok {
		return fmt.Errorf("photo not found: %s", id)
	}
	if err := os.Remove(r.StoredPath); err != nil && !os.IsNotExist(err) {
		return fmt.Errorf("remove photo file: %w", err)
	}
	delete(s.records, id)
	return s.saveLocked()
}

func (s *Store) load() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	data, err := os.ReadFile(s.statePath)
	if err != nil {
		if os.IsNotExist(err) {
			return nil
		}
		return err
	}
	var st stateFile
	if err := json.Unmarshal(data, &st); err != nil {
		s.records = map[string]Record{}
		return nil
	}
	out := make(map[string]Record, len(st.Records))
	for _, r := range st.Records {
		out[r.ID] = r
	}
	s.records = out
	return nil
}

func (s *Store) saveLocked() error {
	records := make([]Record, 0, len(s.records))
	for _, r := range s.records {
		records = append(records, r)
	}
	sort.Slice(records, func(i, j int) bool { return records[i].CreatedAt.Before(records[j].CreatedAt) })

	st := stateFile{
		Version: 1,
		Records: records,
	}
	data, err := json.MarshalIndent(st, "", "  ")
	if err != nil {
		return fmt.Errorf("marshal photo index: %w", err)
	}
	tmp := s.statePath + ".tmp"
	if err := os.WriteFile(tmp, data, 0644); err != nil {
		return fmt.Errorf("write photo index temp: %w", err)
	}
	if err := os.Rename(tmp, s.statePath); err != nil {
		_ = os.Remove(tmp)
		return fmt.Errorf("replace photo index: %w", err)
	}
	return nil
}
