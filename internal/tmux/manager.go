package tmux

import (
	"errors"
	"fmt"
	"log/slog"
	"path/filepath"
	"sort"
	"sync"
	"time"
)

// ErrUnknownSession is returned for handles this Manager did not start.
var ErrUnknownSession = errors.New("unknown tmux session")

// ManagerOptions configures every session a Manager starts.
type ManagerOptions struct {
	// Prefix starts every tmux session name.
	Prefix string

	// Command is typed into each new session, e.g. "claude".
	Command string

	// Options are tmux set-option pairs applied to each session.
	Options map[string]string
}

// Manager starts and tracks agent sessions, addressed by tmux session name.
type Manager struct {
	opts ManagerOptions

	mu       sync.Mutex
	sessions map[string]*Session
}

// NewManager creates a Manager.
func NewManager(opts ManagerOptions) *Manager {
	if opts.Prefix == "" {
		opts.Prefix = DefaultPrefix
	}
	return &Manager{opts: opts, sessions: make(map[string]*Session)}
}

// Start launches the agent in a new session rooted at workDir and returns
// the session name as its handle.
func (m *Manager) Start(workDir string) (string, error) {
	s := NewSession(m.opts.Prefix, filepath.Base(workDir), workDir)
	s.Options = m.opts.Options
	if err := s.Start(m.opts.Command); err != nil {
		return "", err
	}

	m.mu.Lock()
	m.sessions[s.Name] = s
	m.mu.Unlock()
	return s.Name, nil
}

func (m *Manager) lookup(handle string) (*Session, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	s, ok := m.sessions[handle]
	if !ok {
		return nil, fmt.Errorf("%w: %s", ErrUnknownSession, handle)
	}
	return s, nil
}

// SendText types text into the session and submits it.
func (m *Manager) SendText(handle, text string) error {
	s, err := m.lookup(handle)
	if err != nil {
		return err
	}
	return s.SendText(text)
}

// CheckReady waits up to timeout for the agent's input prompt.
func (m *Manager) CheckReady(handle string, timeout time.Duration) bool {
	s, err := m.lookup(handle)
	if err != nil {
		return false
	}
	return s.WaitForReady(timeout)
}

// Capture returns the session's current pane text.
func (m *Manager) Capture(handle string) (string, error) {
	s, err := m.lookup(handle)
	if err != nil {
		return "", err
	}
	return s.CapturePane()
}

// Alive reports whether the session still exists in tmux.
func (m *Manager) Alive(handle string) bool {
	s, err := m.lookup(handle)
	if err != nil {
		return false
	}
	return s.Exists()
}

// Stop kills the session and forgets it.
func (m *Manager) Stop(handle string) error {
	s, err := m.lookup(handle)
	if err != nil {
		return err
	}
	m.mu.Lock()
	delete(m.sessions, handle)
	m.mu.Unlock()

	if err := s.Kill(); err != nil {
		tmuxLog.Warn("tmux_session_kill_failed", slog.String("session", handle), slog.String("error", err.Error()))
		return err
	}
	tmuxLog.Info("tmux_session_stopped", slog.String("session", handle))
	return nil
}

// Handles lists the sessions this Manager started, sorted.
func (m *Manager) Handles() []string {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := make([]string, 0, len(m.sessions))
	for name := range m.sessions {
		out = append(out, name)
	}
	sort.Strings(out)
	return out
}
