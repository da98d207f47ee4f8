package logger

import (
	"bufio"
	"encoding/json"
	"fmt"
	"os"
	"strings"
)

// Query filters entries returned by ReadRecent.
type Query struct {
	Lines         int    // entries to keep after filtering (default 50, max 500)
	MinLevel      string // e.g. "WARN" keeps WARN, ERROR, FATAL
	Component     string
	Keyword       string // matched against message and fields, case-insensitive
	CorrelationID string
}

func levelRank(level string) int {
	switch strings.ToUpper(level) {
	case "FATAL":
		return 5
	case "ERROR":
		return 4
	case "WARN":
		return 3
	case "INFO":
		return 2
	case "DEBUG":
		return 1
	default:
		return 0
	}
}

// ReadRecent parses the JSON-lines log at path and returns the most recent
// entries matching q, oldest first. Lines that are not JSON are skipped.
func ReadRecent(path string, q Query) ([]LogEntry, error) {
	limit := q.Lines
	if limit <= 0 {
		limit = 50
	}
	if limit > 500 {
		limit = 500
	}

	lines, err := readTail(path, limit*4)
	if err != nil {
		return nil, fmt.Errorf("read log file: %w", err)
	}

	minRank := 0
	if q.MinLevel != "" {
		minRank = levelRank(q.MinLevel)
	}
	keyword := strings.ToLower(q.Keyword)

	var out []LogEntry
	for _, line := range lines {
		line = strings.TrimSpace(line)
		if line == "" {
			continue
		}

		var entry LogEntry
		if err := json.Unmarshal([]byte(line), &entry); err != nil {
			continue
		}

		if minRank > 0 && levelRank(entry.Level) < minRank {
			continue
		}
		if q.Component != "" && !strings.EqualFold(entry.Component, q.Component) {
			continue
		}
		if q.CorrelationID != "" {
			if cid, _ := entry.Fields["correlation_id"].(string); cid != q.CorrelationID {
				continue
			}
		}
		if keyword != "" {
			found := strings.Contains(strings.ToLower(entry.Message), keyword)
			if !found {
				fieldsJSON, _ := json.Marshal(entry.Fields)
				found = strings.Contains(strings.ToLower(string(fieldsJSON)), keyword)
			}
			if !found {
				continue
			}
		}

		out = append(out, entry)
	}

	if len(out) > limit {
		out = out[len(out)-limit:]
	}
	return out, nil
}

// FormatEntry renders an entry as a single console line.
func FormatEntry(e LogEntry) string {
	var sb strings.Builder
	sb.WriteString(fmt.Sprintf("[%s] %s", e.Timestamp, e.Level))
	if e.Component != "" {
		sb.WriteString(fmt.Sprintf(" [%s]", e.Component))
	}
	sb.WriteString(" ")
	sb.WriteString(e.Message)

	if len(e.Fields) > 0 {
		trimmed := make(map[string]interface{}, len(e.Fields))
		for k, v := range e.Fields {
			if s, ok := v.(string); ok && len(s) > 200 {
				trimmed[k] = s[:200] + "..."
			} else {
				trimmed[k] = v
			}
		}
		fieldsJSON, _ := json.Marshal(trimmed)
		sb.WriteString(" ")
		sb.Write(fieldsJSON)
	}
	return sb.String()
}

// readTail reads the last n lines from a file.
func readTail(path string, n int) ([]string, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, err
	}
	defer f.Close()

	var all []string
	scanner := bufio.NewScanner(f)
	// long JSON lines (base64 payloads are truncated upstream, fields may still be large)
	scanner.Buffer(make([]byte, 0, 64*1024), 1024*1024)
	for scanner.Scan() {
		all = append(all, scanner.Text())
		if len(all) > 2*n {
			all = append(all[:0], all[len(all)-n:]...)
		}
	}
	if err := scanner.Err(); err != nil {
		return nil, err
	}

	if len(all) > n {
		return all[len(all)-n:], nil
	}
	return all, nil
}
