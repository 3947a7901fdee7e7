package session

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"regexp"
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"
	"golang.org/x/sync/singleflight"

	"github.com/asheshgoplani/ccterm/internal/chat"
	"github.com/asheshgoplani/ccterm/internal/contextdoc"
	"github.com/asheshgoplani/ccterm/internal/hooks"
	"github.com/asheshgoplani/ccterm/internal/logging"
)

var sessionLog = logging.ForComponent(logging.CompSession)

// ErrWorkDirCollision means two thread identities sanitized to the same
// working directory.
var ErrWorkDirCollision = errors.New("working directory already owned by another session")

// Options configures a Registry.
type Options struct {
	// ProjectRoot is the main session's working directory.
	ProjectRoot string

	// ThreadsDir holds one directory per thread session.
	ThreadsDir string

	// SettingsTemplate is copied into each thread session's settings.
	SettingsTemplate string

	// EventsPath is where provisioned hooks append signals.
	EventsPath string

	// Executable is the absolute path provisioned hooks invoke.
	Executable string

	// KeepSessions leaves terminal processes running on Shutdown.
	KeepSessions bool
}

type threadKey struct {
	conversation string
	thread       string
}

// Registry maps chat identities to sessions and owns their creation.
type Registry struct {
	opts     Options
	terminal Terminal

	mu       sync.RWMutex
	main     *Session
	byDir    map[string]*Session
	byThread map[threadKey]*Session
	byID     map[string]*Session

	create singleflight.Group
	now    func() time.Time
}

// NewRegistry creates a Registry. ProjectRoot must exist.
func NewRegistry(terminal Terminal, opts Options) (*Registry, error) {
	root, err := normalizeDir(opts.ProjectRoot)
	if err != nil {
		return nil, fmt.Errorf("project root: %w", err)
	}
	if info, err := os.Stat(root); err != nil || !info.IsDir() {
		return nil, fmt.Errorf("project root %s is not a directory", root)
	}
	opts.ProjectRoot = root
	if opts.ThreadsDir == "" {
		opts.ThreadsDir = filepath.Join(root, ".ccterm", "threads")
	}
	if opts.ThreadsDir, err = normalizeDir(opts.ThreadsDir); err != nil {
		return nil, fmt.Errorf("threads dir: %w", err)
	}

	return &Registry{
		opts:     opts,
		terminal: terminal,
		byDir:    make(map[string]*Session),
		byThread: make(map[threadKey]*Session),
		byID:     make(map[string]*Session),
		now:      time.Now,
	}, nil
}

// ResolveOrCreate returns the session serving msg, creating it on first
// use. Main-timeline messages go to the single main session, which then
// replies into msg's conversation. A thread's session is created exactly
// once no matter how many messages race to create it.
func (r *Registry) ResolveOrCreate(ctx context.Context, msg chat.InboundMessage) (*Session, error) {
	if !msg.InThread() {
		s, err := r.Main(ctx)
		if err != nil {
			return nil, err
		}
		s.setConversationID(msg.ConversationID)
		return s, nil
	}

	key := threadKey{conversation: msg.ConversationID, thread: msg.ThreadID}
	if s := r.lookupThread(key); s != nil {
		return s, nil
	}
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	v, err, _ := r.create.Do("thread\x00"+key.conversation+"\x00"+key.thread, func() (interface{}, error) {
		if s := r.lookupThread(key); s != nil {
			return s, nil
		}
		return r.createThread(msg)
	})
	if err != nil {
		return nil, err
	}
	return v.(*Session), nil
}

// Main returns the main session, starting it on first call.
func (r *Registry) Main(ctx context.Context) (*Session, error) {
	r.mu.RLock()
	s := r.main
	r.mu.RUnlock()
	if s != nil {
		return s, nil
	}
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	v, err, _ := r.create.Do("main", func() (interface{}, error) {
		r.mu.RLock()
		existing := r.main
		r.mu.RUnlock()
		if existing != nil {
			return existing, nil
		}
		return r.createMain()
	})
	if err != nil {
		return nil, err
	}
	return v.(*Session), nil
}

func (r *Registry) lookupThread(key threadKey) *Session {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return r.byThread[key]
}

func (r *Registry) newSession(kind Kind, dir string) *Session {
	return &Session{
		ID:        uuid.NewString(),
		Kind:      kind,
		WorkDir:   dir,
		CreatedAt: r.now(),
	}
}

func (r *Registry) createMain() (*Session, error) {
	s := r.newSession(KindMain, r.opts.ProjectRoot)
	if err := r.register(s, nil); err != nil {
		return nil, err
	}
	if err := r.start(s); err != nil {
		r.unregister(s)
		return nil, err
	}
	r.mu.Lock()
	r.main = s
	r.mu.Unlock()
	return s, nil
}

func (r *Registry) createThread(msg chat.InboundMessage) (*Session, error) {
	dir := filepath.Join(r.opts.ThreadsDir, ThreadDirName(msg.ConversationID, msg.ThreadID))
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil, fmt.Errorf("create thread dir: %w", err)
	}
	dir, err := normalizeDir(dir)
	if err != nil {
		return nil, err
	}

	s := r.newSession(KindThread, dir)
	s.ThreadID = msg.ThreadID
	s.conversationID = msg.ConversationID

	// A missing context document only costs the agent background, so
	// seeding failures do not block the session.
	r.mu.RLock()
	main := r.main
	r.mu.RUnlock()
	if main != nil {
		path, err := contextdoc.Seed(main.TranscriptPath(), msg.ReceivedAt.UnixNano(), dir)
		if err != nil {
			sessionLog.Warn("context_seed_failed",
				slog.String("work_dir", dir),
				slog.String("source", main.TranscriptPath()),
				slog.String("error", err.Error()))
		}
		s.contextDoc = path
	}

	if r.opts.Executable != "" {
		if _, err := hooks.ProvisionSettings(r.opts.SettingsTemplate, dir, r.opts.Executable, r.opts.EventsPath); err != nil {
			return nil, fmt.Errorf("provision settings for %s: %w", dir, err)
		}
	}

	key := threadKey{conversation: msg.ConversationID, thread: msg.ThreadID}
	if err := r.register(s, &key); err != nil {
		return nil, err
	}
	if err := r.start(s); err != nil {
		r.unregister(s)
		return nil, err
	}
	return s, nil
}

func (r *Registry) register(s *Session, key *threadKey) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if other, ok := r.byDir[s.WorkDir]; ok {
		return fmt.Errorf("%w: %s (session %s)", ErrWorkDirCollision, s.WorkDir, other.ID)
	}
	r.byDir[s.WorkDir] = s
	r.byID[s.ID] = s
	if key != nil {
		r.byThread[*key] = s
	}
	return nil
}

func (r *Registry) unregister(s *Session) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.byDir[s.WorkDir] == s {
		delete(r.byDir, s.WorkDir)
	}
	delete(r.byID, s.ID)
	for k, v := range r.byThread {
		if v == s {
			delete(r.byThread, k)
		}
	}
}

func (r *Registry) start(s *Session) error {
	handle, err := r.terminal.Start(s.WorkDir)
	if err != nil {
		sessionLog.Error("session_start_failed",
			slog.String("kind", s.Kind.String()),
			slog.String("work_dir", s.WorkDir),
			slog.String("error", err.Error()))
		return fmt.Errorf("start %s session in %s: %w", s.Kind, s.WorkDir, err)
	}
	s.setHandle(handle)
	sessionLog.Info("session_created",
		slog.String("session_id", s.ID),
		slog.String("kind", s.Kind.String()),
		slog.String("work_dir", s.WorkDir),
		slog.String("thread_id", s.ThreadID),
		slog.String("handle", handle))
	return nil
}

// ResolveByWorkDir finds the session owning dir: an exact match, else the
// session whose directory is the closest ancestor of dir.
func (r *Registry) ResolveByWorkDir(dir string) (*Session, bool) {
	if dir == "" {
		return nil, false
	}
	norm, err := normalizeDir(dir)
	if err != nil {
		return nil, false
	}

	r.mu.RLock()
	defer r.mu.RUnlock()
	for p := norm; ; {
		if s, ok := r.byDir[p]; ok {
			return s, true
		}
		parent := filepath.Dir(p)
		if parent == p {
			return nil, false
		}
		p = parent
	}
}

// Get returns a session by id.
func (r *Registry) Get(id string) (*Session, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	s, ok := r.byID[id]
	return s, ok
}

// UpdateMarker advances session id's marker from old to next. It returns
// false for an unknown id or when old is stale.
func (r *Registry) UpdateMarker(id, old, next string) bool {
	s, ok := r.Get(id)
	if !ok {
		return false
	}
	return s.CompareAndSwapMarker(old, next)
}

// Sessions returns all live sessions, main first, then by creation time.
func (r *Registry) Sessions() []*Session {
	r.mu.RLock()
	out := make([]*Session, 0, len(r.byID))
	for _, s := range r.byID {
		out = append(out, s)
	}
	r.mu.RUnlock()

	sort.Slice(out, func(i, j int) bool {
		if out[i].Kind != out[j].Kind {
			return out[i].Kind == KindMain
		}
		return out[i].CreatedAt.Before(out[j].CreatedAt)
	})
	return out
}

// Shutdown stops every session's terminal process unless KeepSessions is
// set. The registry is empty afterwards.
func (r *Registry) Shutdown() error {
	sessions := r.Sessions()

	r.mu.Lock()
	r.main = nil
	r.byDir = make(map[string]*Session)
	r.byThread = make(map[threadKey]*Session)
	r.byID = make(map[string]*Session)
	r.mu.Unlock()

	if r.opts.KeepSessions {
		for _, s := range sessions {
			sessionLog.Info("session_kept", slog.String("session_id", s.ID), slog.String("handle", s.Handle()))
		}
		return nil
	}

	var errs []error
	for _, s := range sessions {
		h := s.Handle()
		if h == "" {
			continue
		}
		if err := r.terminal.Stop(h); err != nil {
			errs = append(errs, fmt.Errorf("stop %s: %w", h, err))
		}
	}
	return errors.Join(errs...)
}

var unsafeDirChars = regexp.MustCompile(`[^A-Za-z0-9._-]+`)

// ThreadDirName is the directory name for a thread session.
func ThreadDirName(conversationID, threadID string) string {
	return sanitizeSegment(conversationID) + "-" + sanitizeSegment(threadID)
}

func sanitizeSegment(s string) string {
	s = unsafeDirChars.ReplaceAllString(s, "_")
	if s == "" || s == "." || s == ".." {
		return "_"
	}
	return s
}

// normalizeDir returns an absolute, cleaned path with symlinks resolved
// when the path exists.
func normalizeDir(dir string) (string, error) {
	abs, err := filepath.Abs(dir)
	if err != nil {
		return "", err
	}
	if resolved, err := filepath.EvalSymlinks(abs); err == nil {
		return resolved, nil
	}
	return filepath.Clean(abs), nil
}
