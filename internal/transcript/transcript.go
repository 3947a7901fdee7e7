// Package transcript reads the agent's append-only JSONL conversation log
// and decides whether it holds a response that has not been delivered yet.
package transcript

import (
	"bufio"
	"bytes"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os"
	"strconv"
	"strings"

	"github.com/asheshgoplani/ccterm/internal/logging"
)

var transcriptLog = logging.ForComponent(logging.CompTranscript)

// Role is the speaker of a transcript entry.
type Role string

const (
	RoleUser      Role = "user"
	RoleAssistant Role = "assistant"
)

// Entry is one user or assistant turn recovered from the log.
type Entry struct {
	// ID is the record's uuid/id, or "line-<n>" when the record has none.
	ID        string
	Role      Role
	Text      string
	Timestamp string
	// Line is the 1-based line number in the log.
	Line int
}

// Result is the outcome of Latest. When New is false Text and Marker are empty.
type Result struct {
	New    bool
	Text   string
	Marker string
}

// record covers both accepted line shapes: the agent's own records
// ({"type","uuid","timestamp","message":{...}}) and flat
// ({"id","role","text","timestamp"}) records.
type record struct {
	Type      string          `json:"type"`
	UUID      string          `json:"uuid"`
	ID        json.RawMessage `json:"id"`
	Role      string          `json:"role"`
	Text      string          `json:"text"`
	Timestamp string          `json:"timestamp"`
	IsMeta    bool            `json:"isMeta"`
	Message   *struct {
		Role    string          `json:"role"`
		Content json.RawMessage `json:"content"`
	} `json:"message"`
}

// ParseFile parses the log at path. A missing file is an empty log.
func ParseFile(path string) ([]Entry, error) {
	f, err := os.Open(path)
	if errors.Is(err, os.ErrNotExist) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to open transcript: %w", err)
	}
	defer f.Close()
	return Parse(f, path)
}

// Parse reads one JSON object per line from r. Malformed lines are logged
// with source and line number and skipped. source is only used in logs.
func Parse(r io.Reader, source string) ([]Entry, error) {
	var entries []Entry
	reader := bufio.NewReaderSize(r, 64*1024)
	lineNo := 0
	for {
		line, readErr := reader.ReadBytes('\n')
		if len(line) > 0 {
			lineNo++
			if entry, ok := parseLine(bytes.TrimSpace(line), lineNo, source); ok {
				if n := len(entries); n > 0 && entries[n-1].ID == entry.ID {
					transcriptLog.Warn("transcript_duplicate_entry_id",
						slog.String("path", source),
						slog.Int("line", lineNo),
						slog.String("id", entry.ID))
				}
				entries = append(entries, entry)
			}
		}
		if readErr == io.EOF {
			return entries, nil
		}
		if readErr != nil {
			return entries, fmt.Errorf("failed to read transcript %s: %w", source, readErr)
		}
	}
}

func parseLine(line []byte, lineNo int, source string) (Entry, bool) {
	if len(line) == 0 {
		return Entry{}, false
	}
	var rec record
	if err := json.Unmarshal(line, &rec); err != nil {
		transcriptLog.Warn("transcript_malformed_line",
			slog.String("path", source),
			slog.Int("line", lineNo),
			slog.String("error", err.Error()))
		return Entry{}, false
	}

	entry := Entry{Timestamp: rec.Timestamp, Line: lineNo}
	switch {
	case rec.Message != nil:
		if rec.IsMeta || (rec.Type != string(RoleUser) && rec.Type != string(RoleAssistant)) {
			return Entry{}, false
		}
		entry.Role = Role(rec.Type)
		entry.Text = contentText(rec.Message.Content)
	case rec.Role == string(RoleUser) || rec.Role == string(RoleAssistant):
		entry.Role = Role(rec.Role)
		entry.Text = rec.Text
	default:
		return Entry{}, false
	}

	entry.Text = strings.TrimSpace(entry.Text)
	if entry.Text == "" {
		return Entry{}, false
	}
	entry.ID = recordID(rec, lineNo)
	return entry, true
}

// contentText flattens message content, which is either a plain string or
// an array of blocks. Only "text" blocks carry deliverable text; tool calls,
// tool results and thinking blocks are dropped.
func contentText(raw json.RawMessage) string {
	if len(raw) == 0 {
		return ""
	}
	var s string
	if err := json.Unmarshal(raw, &s); err == nil {
		return s
	}
	var blocks []struct {
		Type string `json:"type"`
		Text string `json:"text"`
	}
	if err := json.Unmarshal(raw, &blocks); err != nil {
		return ""
	}
	var parts []string
	for _, b := range blocks {
		if b.Type == "text" && strings.TrimSpace(b.Text) != "" {
			parts = append(parts, b.Text)
		}
	}
	return strings.Join(parts, "\n")
}

func recordID(rec record, lineNo int) string {
	if rec.UUID != "" {
		return rec.UUID
	}
	if len(rec.ID) > 0 && string(rec.ID) != "null" {
		var s string
		if err := json.Unmarshal(rec.ID, &s); err == nil {
			if s != "" {
				return s
			}
		} else {
			return string(rec.ID)
		}
	}
	return "line-" + strconv.Itoa(lineNo)
}

// LatestAssistant returns the last assistant entry.
func LatestAssistant(entries []Entry) (Entry, bool) {
	for i := len(entries) - 1; i >= 0; i-- {
		if entries[i].Role == RoleAssistant {
			return entries[i], true
		}
	}
	return Entry{}, false
}

// Latest reports the most recent assistant response in the log at path
// unless its id equals marker (already delivered).
func Latest(path, marker string) (Result, error) {
	entries, err := ParseFile(path)
	if err != nil {
		return Result{}, err
	}
	entry, ok := LatestAssistant(entries)
	if !ok || entry.ID == marker {
		return Result{}, nil
	}
	return Result{New: true, Text: entry.Text, Marker: entry.ID}, nil
}
