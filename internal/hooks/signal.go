// Package hooks connects the agent's lifecycle hooks to the bridge: the
// hook command appends payloads to an events log, and a Follower turns
// appended lines back into Signals.
package hooks

import (
	"encoding/json"
	"errors"
	"fmt"
	"path/filepath"
	"time"
)

// Hook event names the agent emits.
const (
	EventStop             = "Stop"
	EventSubagentStop     = "SubagentStop"
	EventNotification     = "Notification"
	EventUserPromptSubmit = "UserPromptSubmit"
	EventSessionStart     = "SessionStart"
	EventSessionEnd       = "SessionEnd"
)

// ObservedAtField is stamped into every payload by AppendPayload.
const ObservedAtField = "observed_at"

var ErrMissingWorkDir = errors.New("hook payload has no cwd")

// Signal is one hook invocation read back from the events log.
type Signal struct {
	Kind           string
	WorkDir        string
	TranscriptPath string
	AgentSessionID string
	ObservedAt     time.Time
}

// payload holds the hook fields the bridge uses; the rest are ignored.
type payload struct {
	HookEventName       string `json:"hook_event_name"`
	SessionID           string `json:"session_id"`
	Cwd                 string `json:"cwd"`
	TranscriptPath      string `json:"transcript_path"`
	AgentTranscriptPath string `json:"agent_transcript_path"`
	ObservedAt          string `json:"observed_at"`
}

// ParseLine decodes one events log line. Lines without an observed_at
// stamp get the current time.
func ParseLine(line []byte) (Signal, error) {
	var p payload
	if err := json.Unmarshal(line, &p); err != nil {
		return Signal{}, fmt.Errorf("decode hook payload: %w", err)
	}
	if p.HookEventName == "" {
		return Signal{}, errors.New("hook payload has no hook_event_name")
	}
	if p.Cwd == "" {
		return Signal{}, ErrMissingWorkDir
	}

	sig := Signal{
		Kind:           p.HookEventName,
		WorkDir:        filepath.Clean(p.Cwd),
		TranscriptPath: p.TranscriptPath,
		AgentSessionID: p.SessionID,
		ObservedAt:     time.Now(),
	}
	if sig.TranscriptPath == "" {
		sig.TranscriptPath = p.AgentTranscriptPath
	}
	if p.ObservedAt != "" {
		if t, err := time.Parse(time.RFC3339Nano, p.ObservedAt); err == nil {
			sig.ObservedAt = t
		}
	}
	return sig, nil
}
