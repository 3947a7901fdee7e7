// Package session owns the bridge's live agent sessions: which chat
// conversation or thread each one serves, where it runs, and what it has
// already delivered.
package session

import (
	"sync"
	"time"
)

// Kind distinguishes the main timeline session from per-thread sessions.
type Kind int

const (
	KindMain Kind = iota
	KindThread
)

func (k Kind) String() string {
	if k == KindThread {
		return "thread"
	}
	return "main"
}

// State is advisory; delivery never depends on it.
type State int

const (
	StateIdle State = iota
	StateAwaitingCompletion
)

func (s State) String() string {
	if s == StateAwaitingCompletion {
		return "awaiting_completion"
	}
	return "idle"
}

// Session is one long-lived agent process bound to a working directory.
// Identity fields are fixed at creation; the rest is guarded by mu.
type Session struct {
	ID        string
	Kind      Kind
	WorkDir   string
	ThreadID  string
	CreatedAt time.Time

	mu             sync.Mutex
	handle         string
	conversationID string
	transcriptPath string
	marker         string
	state          State
	lastSignalKind string
	lastSignalAt   time.Time
	contextDoc     string
}

// Info is a point-in-time copy of a Session for display and logs.
type Info struct {
	ID             string
	Kind           Kind
	WorkDir        string
	ConversationID string
	ThreadID       string
	Handle         string
	TranscriptPath string
	Marker         string
	State          State
	LastSignalKind string
	LastSignalAt   time.Time
	ContextDoc     string
	CreatedAt      time.Time
}

// Handle returns the terminal handle, empty until the process started.
func (s *Session) Handle() string {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.handle
}

func (s *Session) setHandle(h string) {
	s.mu.Lock()
	s.handle = h
	s.mu.Unlock()
}

// ConversationID is where replies are posted. For the main session it
// follows the most recent main-timeline message.
func (s *Session) ConversationID() string {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.conversationID
}

func (s *Session) setConversationID(id string) {
	s.mu.Lock()
	s.conversationID = id
	s.mu.Unlock()
}

// TranscriptPath is the agent's log as last reported by a signal.
func (s *Session) TranscriptPath() string {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.transcriptPath
}

// SetTranscriptPath records the transcript reported by a signal. Empty
// paths are ignored.
func (s *Session) SetTranscriptPath(path string) {
	if path == "" {
		return
	}
	s.mu.Lock()
	s.transcriptPath = path
	s.mu.Unlock()
}

// Marker is the id of the last delivered transcript entry, "" if none.
func (s *Session) Marker() string {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.marker
}

// CompareAndSwapMarker advances the marker to next only if it still equals
// old. Exactly one of several racing callers with the same old wins.
func (s *Session) CompareAndSwapMarker(old, next string) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.marker != old {
		return false
	}
	s.marker = next
	return true
}

// State returns the advisory state.
func (s *Session) State() State {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.state
}

// SetState updates the advisory state.
func (s *Session) SetState(st State) {
	s.mu.Lock()
	s.state = st
	s.mu.Unlock()
}

// RecordSignal notes the latest hook seen for this session.
func (s *Session) RecordSignal(kind string, at time.Time) {
	s.mu.Lock()
	s.lastSignalKind = kind
	s.lastSignalAt = at
	s.mu.Unlock()
}

// Info returns a snapshot.
func (s *Session) Info() Info {
	s.mu.Lock()
	defer s.mu.Unlock()
	return Info{
		ID:             s.ID,
		Kind:           s.Kind,
		WorkDir:        s.WorkDir,
		ConversationID: s.conversationID,
		ThreadID:       s.ThreadID,
		Handle:         s.handle,
		TranscriptPath: s.transcriptPath,
		Marker:         s.marker,
		State:          s.state,
		LastSignalKind: s.lastSignalKind,
		LastSignalAt:   s.lastSignalAt,
		ContextDoc:     s.contextDoc,
		CreatedAt:      s.CreatedAt,
	}
}
