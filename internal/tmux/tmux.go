package tmux

import (
	"context"
	"crypto/rand"
	"encoding/hex"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"os/exec"
	"regexp"
	"sort"
	"strconv"
	"strings"
	"sync"
	"time"

	"golang.org/x/sync/singleflight"

	"github.com/asheshgoplani/ccterm/internal/logging"
)

var tmuxLog = logging.ForComponent(logging.CompTmux)

// ErrCaptureTimeout is returned when capture-pane exceeds its timeout.
var ErrCaptureTimeout = errors.New("capture-pane timed out")

// DefaultPrefix is used when no session prefix is configured.
const DefaultPrefix = "ccterm"

const (
	captureTTL     = 500 * time.Millisecond
	captureTimeout = 3 * time.Second
	chunkSize      = 4096
	chunkDelay     = 50 * time.Millisecond
	enterDelay     = 100 * time.Millisecond
	readyPoll      = 100 * time.Millisecond
)

// IsAvailable returns nil when a working tmux binary is on PATH.
func IsAvailable() error {
	output, err := exec.Command("tmux", "-V").CombinedOutput()
	if err != nil {
		return fmt.Errorf("tmux not found or not working: %w (output: %s)", err, strings.TrimSpace(string(output)))
	}
	return nil
}

// Version returns the "tmux -V" string, e.g. "tmux 3.4".
func Version() (string, error) {
	output, err := exec.Command("tmux", "-V").Output()
	if err != nil {
		return "", err
	}
	return strings.TrimSpace(string(output)), nil
}

// Session is one detached tmux session hosting an agent.
type Session struct {
	Name        string
	DisplayName string
	WorkDir     string
	Command     string
	Created     time.Time

	// Options are applied with set-option after the session is created.
	Options map[string]string

	base string

	cacheMu      sync.RWMutex
	cacheContent string
	cacheTime    time.Time
	captureSf    singleflight.Group
}

// NewSession names a session <prefix>_<name>_<random> so repeated names
// never collide.
func NewSession(prefix, name, workDir string) *Session {
	if prefix == "" {
		prefix = DefaultPrefix
	}
	base := sanitizeName(prefix) + "_" + sanitizeName(name)
	return &Session{
		Name:        base + "_" + shortID(),
		DisplayName: name,
		base:        base,
		WorkDir:     workDir,
	}
}

func shortID() string {
	b := make([]byte, 4)
	if _, err := rand.Read(b); err != nil {
		return strconv.FormatInt(time.Now().UnixNano()%100000, 10)
	}
	return hex.EncodeToString(b)
}

var unsafeName = regexp.MustCompile(`[^a-zA-Z0-9-]+`)

// sanitizeName makes name safe as a tmux target (no dots or colons).
func sanitizeName(name string) string {
	s := strings.Trim(unsafeName.ReplaceAllString(name, "-"), "-")
	if s == "" {
		return "session"
	}
	return s
}

// Start creates the session rooted at WorkDir and types command into it.
func (s *Session) Start(command string) error {
	s.Command = command
	s.Created = time.Now()
	s.invalidateCache()

	if s.Exists() {
		s.Name = s.base + "_" + shortID()
	}

	workDir := s.WorkDir
	if workDir == "" {
		workDir, _ = os.UserHomeDir()
	}
	output, err := exec.Command("tmux", "new-session", "-d", "-s", s.Name, "-c", workDir).CombinedOutput()
	if err != nil {
		return fmt.Errorf("failed to create tmux session: %w (output: %s)", err, strings.TrimSpace(string(output)))
	}

	// One subprocess for all options; sorted for stable ordering.
	if len(s.Options) > 0 {
		keys := make([]string, 0, len(s.Options))
		for k := range s.Options {
			keys = append(keys, k)
		}
		sort.Strings(keys)
		args := make([]string, 0, len(keys)*7)
		for i, k := range keys {
			if i > 0 {
				args = append(args, ";")
			}
			args = append(args, "set-option", "-t", s.Name, "-q", k, s.Options[k])
		}
		if err := exec.Command("tmux", args...).Run(); err != nil {
			tmuxLog.Warn("set_options_failed", slog.String("session", s.Name), slog.String("error", err.Error()))
		}
	}

	if command != "" {
		toSend := command
		// Non-POSIX login shells (fish) need command substitutions wrapped.
		if strings.Contains(command, "$(") {
			toSend = "bash -c '" + strings.ReplaceAll(command, "'", `'"'"'`) + "'"
		}
		if err := s.SendText(toSend); err != nil {
			return fmt.Errorf("failed to send command: %w", err)
		}
	}

	tmuxLog.Info("tmux_session_started",
		slog.String("session", s.Name),
		slog.String("work_dir", workDir),
		slog.String("command", command))
	return nil
}

// Exists reports whether tmux still knows the session.
func (s *Session) Exists() bool {
	return exec.Command("tmux", "has-session", "-t", "="+s.Name).Run() == nil
}

// Kill terminates the session.
func (s *Session) Kill() error {
	s.invalidateCache()
	if err := exec.Command("tmux", "kill-session", "-t", "="+s.Name).Run(); err != nil {
		return fmt.Errorf("failed to kill tmux session %s: %w", s.Name, err)
	}
	return nil
}

func (s *Session) invalidateCache() {
	s.cacheMu.Lock()
	s.cacheContent = ""
	s.cacheTime = time.Time{}
	s.cacheMu.Unlock()
}

func (s *Session) cached() (string, bool) {
	s.cacheMu.RLock()
	defer s.cacheMu.RUnlock()
	if s.cacheContent != "" && time.Since(s.cacheTime) < captureTTL {
		return s.cacheContent, true
	}
	return "", false
}

// CapturePane returns the visible pane text. Results are cached briefly and
// concurrent callers share one tmux invocation.
func (s *Session) CapturePane() (string, error) {
	if content, ok := s.cached(); ok {
		return content, nil
	}

	v, err, _ := s.captureSf.Do("capture", func() (interface{}, error) {
		if content, ok := s.cached(); ok {
			return content, nil
		}

		ctx, cancel := context.WithTimeout(context.Background(), captureTimeout)
		defer cancel()
		output, err := exec.CommandContext(ctx, "tmux", "capture-pane", "-t", s.Name, "-p", "-J").Output()
		if err != nil {
			if errors.Is(ctx.Err(), context.DeadlineExceeded) {
				return "", ErrCaptureTimeout
			}
			return "", fmt.Errorf("failed to capture pane: %w", err)
		}

		content := string(output)
		s.cacheMu.Lock()
		s.cacheContent = content
		s.cacheTime = time.Now()
		s.cacheMu.Unlock()
		return content, nil
	})
	if err != nil {
		return "", err
	}
	return v.(string), nil
}

// SendKeys types keys literally (-l), so words like "Enter" stay text.
func (s *Session) SendKeys(keys string) error {
	s.invalidateCache()
	return exec.Command("tmux", "send-keys", "-l", "-t", s.Name, "--", keys).Run()
}

// SendEnter presses Enter.
func (s *Session) SendEnter() error {
	s.invalidateCache()
	return exec.Command("tmux", "send-keys", "-t", s.Name, "Enter").Run()
}

// SendText types text in chunks and then presses Enter. The pause before
// Enter keeps it from being swallowed by the agent's bracketed-paste
// handling.
func (s *Session) SendText(text string) error {
	chunks := splitIntoChunks(text, chunkSize)
	for i, chunk := range chunks {
		if err := s.SendKeys(chunk); err != nil {
			return fmt.Errorf("failed to send chunk %d/%d: %w", i+1, len(chunks), err)
		}
		if i < len(chunks)-1 {
			time.Sleep(chunkDelay)
		}
	}
	time.Sleep(enterDelay)
	return s.SendEnter()
}

// splitIntoChunks splits content into pieces of at most maxSize bytes,
// cutting after a newline when one is available and never inside a UTF-8
// sequence.
func splitIntoChunks(content string, maxSize int) []string {
	if content == "" {
		return nil
	}
	var chunks []string
	remaining := content
	for len(remaining) > maxSize {
		cut := strings.LastIndex(remaining[:maxSize], "\n") + 1
		if cut <= 0 {
			cut = maxSize
			for cut > 0 && !utf8Start(remaining[cut]) {
				cut--
			}
			if cut == 0 {
				cut = maxSize
			}
		}
		chunks = append(chunks, remaining[:cut])
		remaining = remaining[cut:]
	}
	if remaining != "" {
		chunks = append(chunks, remaining)
	}
	return chunks
}

func utf8Start(b byte) bool {
	return b&0xC0 != 0x80
}

// WaitForReady polls the pane until the agent shows an idle input prompt
// or timeout passes.
func (s *Session) WaitForReady(timeout time.Duration) bool {
	deadline := time.Now().Add(timeout)
	attempts := 0
	for {
		attempts++
		content, err := s.CapturePane()
		if err == nil && PromptReady(content) {
			tmuxLog.Debug("wait_for_ready_detected",
				slog.String("session", s.Name),
				slog.Int("attempts", attempts))
			return true
		}
		if err != nil && attempts%10 == 0 {
			tmuxLog.Debug("wait_for_ready_capture_error",
				slog.String("session", s.Name),
				slog.Int("attempt", attempts),
				slog.String("error", err.Error()))
		}
		if !time.Now().Add(readyPoll).Before(deadline) {
			break
		}
		time.Sleep(readyPoll)
	}
	tmuxLog.Debug("wait_for_ready_timeout", slog.String("session", s.Name), slog.Int("attempts", attempts))
	return false
}
