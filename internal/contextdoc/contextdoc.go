// Package contextdoc builds the optional background document a new thread
// session starts with: the main timeline's conversation up to the moment
// the thread was opened.
package contextdoc

import (
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"strings"

	"github.com/asheshgoplani/ccterm/internal/logging"
	"github.com/asheshgoplani/ccterm/internal/transcript"
)

var seedLog = logging.ForComponent(logging.CompSession)

// FileName is picked up by the agent from its working directory at startup.
const FileName = "CLAUDE.md"

const header = `# Optional Conversation Context

This file provides background context to help interpret the user's next message.
You do not need to focus on it unless it is useful.

## Prior Messages
`

// Build renders entries timestamped strictly before cutoff (Unix nanoseconds)
// in their original order. It reports false when nothing qualifies. Entries
// without a parseable timestamp never qualify.
func Build(entries []transcript.Entry, cutoff int64) (string, bool) {
	var b strings.Builder
	n := 0
	for _, e := range entries {
		ts, ok := transcript.EpochNanos(e.Timestamp)
		if !ok || ts >= cutoff {
			continue
		}
		var speaker string
		switch e.Role {
		case transcript.RoleUser:
			speaker = "User"
		case transcript.RoleAssistant:
			speaker = "Assistant"
		default:
			continue
		}
		if n == 0 {
			b.WriteString(header)
		}
		b.WriteString("\n")
		b.WriteString(speaker)
		b.WriteString(": ")
		b.WriteString(e.Text)
		b.WriteString("\n")
		n++
	}
	if n == 0 {
		return "", false
	}
	return b.String(), true
}

// Seed builds the document from the transcript at src and writes it into
// destDir. It returns the written path, or "" when there was nothing to seed
// (src unknown, missing, or no entries before cutoff).
func Seed(src string, cutoff int64, destDir string) (string, error) {
	if src == "" {
		return "", nil
	}
	entries, err := transcript.ParseFile(src)
	if err != nil {
		return "", err
	}
	doc, ok := Build(entries, cutoff)
	if !ok {
		seedLog.Debug("context_seed_empty", slog.String("source", src), slog.Int64("cutoff", cutoff))
		return "", nil
	}

	path := filepath.Join(destDir, FileName)
	if err := writeAtomic(path, []byte(doc)); err != nil {
		return "", err
	}
	seedLog.Info("context_seeded",
		slog.String("source", src),
		slog.String("path", path),
		slog.Int("bytes", len(doc)))
	return path, nil
}

// writeAtomic writes via a temp file and rename so the agent never reads a
// partial document.
func writeAtomic(path string, data []byte) error {
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return fmt.Errorf("failed to create context dir: %w", err)
	}
	tmp := path + ".tmp"
	if err := os.WriteFile(tmp, data, 0o644); err != nil {
		return fmt.Errorf("failed to write context document: %w", err)
	}
	if err := os.Rename(tmp, path); err != nil {
		_ = os.Remove(tmp)
		return fmt.Errorf("failed to rename context document: %w", err)
	}
	return nil
}
