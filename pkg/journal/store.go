// Package journal keeps a rolling record of commands seen by the bridge so
// that silently dropped commands can be found after the fact.
package journal

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"time"

	"github.com/sipeed/halbridge/pkg/bridge"
	"github.com/sipeed/halbridge/pkg/logger"
)

const DefaultMaxDays = 30

type Record struct {
	Timestamp     time.Time `json:"timestamp"`
	DayKey        string    `json:"day_key"`
	CorrelationID string    `json:"correlation_id"`
	Command       string    `json:"command"`
	Kind          string    `json:"kind"`
	PayloadShape  string    `json:"payload_shape"`
	HasCallback   bool      `json:"has_callback"`
	Outcome       string    `json:"outcome"`
	Reason        string    `json:"reason,omitempty"`
	Detail        string    `json:"detail,omitempty"`
	DurationMS    int64     `json:"duration_ms"`
}

type Filter struct {
	Command       string
	Outcome       string
	Reason        string
	DayKey        string
	CorrelationID string
	Limit         int
}

type Aggregate struct {
	Commands  int
	Succeeded int
	Failed    int
	Ignored   int
	Rejected  int
	ByReason  map[string]int
}

type Store struct {
	mu      sync.RWMutex
	saveMu  sync.Mutex
	records []Record
	path    string
	maxDays int
}

// NewStore opens the journal at workspace/state/journal.json. An empty
// workspace gives an in-memory journal.
func NewStore(workspace string, maxDays int) *Store {
	if maxDays <= 0 {
		maxDays = DefaultMaxDays
	}
	s := &Store{
		records: make([]Record, 0, 256),
		maxDays: maxDays,
	}
	if workspace == "" {
		return s
	}
	dir := filepath.Join(workspace, "state")
	_ = os.MkdirAll(dir, 0755)
	s.path = filepath.Join(dir, "journal.json")
	s.load()
	return s
}

func (s *Store) DayKey(ts time.Time) string {
	return ts.UTC().Format("2006-01-02")
}

// Append adds a record, drops records older than the retention window and
// persists the journal.
func (s *Store) Append(r Record) error {
	if r.Timestamp.IsZero() {
		r.Timestamp = time.Now().UTC()
	}
	if r.DayKey == "" {
		r.DayKey = s.DayKey(r.Timestamp)
	}

	s.mu.Lock()
	s.records = append(s.records, r)
	s.pruneLocked(time.Now())
	s.mu.Unlock()

	return s.save()
}

// Hook returns a trace hook that journals every terminal trace.
func (s *Store) Hook() bridge.TraceHook {
	return func(t bridge.Trace) {
		if !t.Terminal() {
			return
		}
		if err := s.Append(FromTrace(t)); err != nil {
			logger.WarnCF("journal", "Failed to append journal record", map[string]interface{}{
				"correlation_id": t.CorrelationID,
				"error":          err.Error(),
			})
		}
	}
}

func FromTrace(t bridge.Trace) Record {
	return Record{
		Timestamp:     t.At,
		CorrelationID: t.CorrelationID,
		Command:       t.Command,
		Kind:          t.Kind,
		PayloadShape:  t.PayloadShape,
		HasCallback:   t.HasCallback,
		Outcome:       string(t.Outcome),
		Reason:        string(t.Reason),
		Detail:        t.Detail,
		DurationMS:    t.Duration.Milliseconds(),
	}
}

func (s *Store) Query(f Filter) []Record {
	s.mu.RLock()
	defer s.mu.RUnlock()

	out := make([]Record, 0, len(s.records))
	for _, r := range s.records {
		if f.Command != "" && !strings.EqualFold(r.Command, f.Command) {
			continue
		}
		if f.Outcome != "" && r.Outcome != f.Outcome {
			continue
		}
		if f.Reason != "" && r.Reason != f.Reason {
			continue
		}
		if f.DayKey != "" && r.DayKey != f.DayKey {
			continue
		}
		if f.CorrelationID != "" && r.CorrelationID != f.CorrelationID {
			continue
		}
		out = append(out, r)
	}
	if f.Limit > 0 && len(out) > f.Limit {
		out = out[len(out)-f.Limit:]
	}
	return out
}

func AggregateRecords(records []Record) Aggregate {
	agg := Aggregate{ByReason: map[string]int{}}
	for _, r := range records {
		addToAggregate(&agg, r)
	}
	return agg
}

func CommandBreakdown(records []Record) map[string]Aggregate {
	out := map[string]Aggregate{}
	for _, r := range records {
		name := strings.TrimSpace(r.Command)
		if name == "" {
			name = "unknown"
		}
		agg := out[name]
		if agg.ByReason == nil {
			agg.ByReason = map[string]int{}
		}
		addToAggregate(&agg, r)
		out[name] = agg
	}
	return out
}

func addToAggregate(agg *Aggregate, r Record) {
	agg.Commands++
	switch bridge.Outcome(r.Outcome) {
	case bridge.OutcomeSucceeded:
		agg.Succeeded++
	case bridge.OutcomeFailed:
		agg.Failed++
	case bridge.OutcomeIgnored:
		agg.Ignored++
	case bridge.OutcomeRejected:
		agg.Rejected++
	}
	if r.Reason != "" {
		agg.ByReason[r.Reason]++
	}
}

func (s *Store) pruneLocked(now time.Time) {
	cutoff := now.AddDate(0, 0, -s.maxDays)
	kept := s.records[:0]
	for _, r := range s.records {
		if r.Timestamp.Before(cutoff) {
			continue
		}
		kept = append(kept, r)
	}
	s.records = kept
}

func (s *Store) load() {
	if s.path == "" {
		return
	}
	data, err := os.ReadFile(s.path)
	if err != nil {
		return
	}
	var records []Record
	if err := json.Unmarshal(data, &records); err != nil {
		logger.WarnCF("journal", "Ignoring unreadable journal", map[string]interface{}{
			"path":  s.path,
			"error": err.Error(),
		})
		return
	}
	s.records = records
	s.pruneLocked(time.Now())
}

func (s *Store) save() error {
	if s.path == "" {
		return nil
	}
	s.saveMu.Lock()
	defer s.saveMu.Unlock()

	s.mu.RLock()
	snapshot := make([]Record, len(s.records))
	copy(snapshot, s.records)
	s.mu.RUnlock()

	data, err := json.MarshalIndent(snapshot, "", "  ")
	if err != nil {
		return fmt.Errorf("marshal journal: %w", err)
	}
	tmp := s.path + ".tmp"
	if err := os.WriteFile(tmp, data, 0644); err != nil {
		return fmt.Errorf("write journal temp: %w", err)
	}
	if err := os.Rename(tmp, s.path); err != nil {
		_ = os.Remove(tmp)
		return fmt.Errorf("replace journal: %w", err)
	}
	return nil
}
