package hooks

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os"
	"path/filepath"
	"sync"
	"time"

	"github.com/fsnotify/fsnotify"

	"github.com/asheshgoplani/ccterm/internal/logging"
)

var signalLog = logging.ForComponent(logging.CompSignal)

var ErrAlreadySubscribed = errors.New("events log already subscribed")

const (
	debounceDelay  = 50 * time.Millisecond
	signalChanSize = 64
)

// FollowerOptions configures a Follower.
type FollowerOptions struct {
	// FromEnd skips whatever the log holds when Subscribe is called.
	FromEnd bool

	// PollInterval re-reads the log even without fs events. Zero means 500ms.
	PollInterval time.Duration
}

// Follower tails the events log and emits one Signal per complete line.
// It can be subscribed once.
type Follower struct {
	path string
	opts FollowerOptions

	mu         sync.Mutex
	subscribed bool

	// read state, owned by the follow goroutine
	offset  int64
	partial []byte
	info    os.FileInfo
}

// NewFollower creates a follower for the events log at path. The file does
// not need to exist yet.
func NewFollower(path string, opts FollowerOptions) *Follower {
	if opts.PollInterval <= 0 {
		opts.PollInterval = 500 * time.Millisecond
	}
	return &Follower{path: filepath.Clean(path), opts: opts}
}

// Path returns the followed log.
func (f *Follower) Path() string {
	return f.path
}

// Subscribe starts following and returns the signal stream. The channel is
// closed when ctx is done. A second call returns ErrAlreadySubscribed.
func (f *Follower) Subscribe(ctx context.Context) (<-chan Signal, error) {
	f.mu.Lock()
	if f.subscribed {
		f.mu.Unlock()
		return nil, ErrAlreadySubscribed
	}
	f.subscribed = true
	f.mu.Unlock()

	dir := filepath.Dir(f.path)
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil, fmt.Errorf("create events dir: %w", err)
	}

	if f.opts.FromEnd {
		if info, err := os.Stat(f.path); err == nil {
			f.offset = info.Size()
			f.info = info
		}
	}

	watcher, err := fsnotify.NewWatcher()
	if err == nil {
		if addErr := watcher.Add(dir); addErr != nil {
			_ = watcher.Close()
			watcher, err = nil, addErr
		}
	}
	if err != nil {
		signalLog.Warn("events_watch_unavailable",
			slog.String("dir", dir),
			slog.String("error", err.Error()),
			slog.Duration("poll_interval", f.opts.PollInterval))
	}

	out := make(chan Signal, signalChanSize)
	go f.follow(ctx, watcher, out)

	signalLog.Info("events_follow_started",
		slog.String("path", f.path),
		slog.Int64("offset", f.offset),
		slog.Bool("fsnotify", watcher != nil))
	return out, nil
}

func (f *Follower) follow(ctx context.Context, watcher *fsnotify.Watcher, out chan<- Signal) {
	defer close(out)

	var events <-chan fsnotify.Event
	var errs <-chan error
	if watcher != nil {
		defer watcher.Close()
		events = watcher.Events
		errs = watcher.Errors
	}

	poll := time.NewTicker(f.opts.PollInterval)
	defer poll.Stop()

	debounce := time.NewTimer(time.Hour)
	debounce.Stop()
	defer debounce.Stop()

	// Lines written before the watch was armed.
	if !f.drain(ctx, out) {
		return
	}

	for {
		select {
		case <-ctx.Done():
			return

		case ev, ok := <-events:
			if !ok {
				events = nil
				continue
			}
			if filepath.Clean(ev.Name) != f.path || ev.Op&(fsnotify.Create|fsnotify.Write) == 0 {
				continue
			}
			debounce.Reset(debounceDelay)

		case err, ok := <-errs:
			if !ok {
				errs = nil
				continue
			}
			signalLog.Warn("events_watch_error", slog.String("error", err.Error()))

		case <-debounce.C:
			if !f.drain(ctx, out) {
				return
			}

		case <-poll.C:
			logging.Aggregate(logging.CompSignal, "events_poll")
			if !f.drain(ctx, out) {
				return
			}
		}
	}
}

// drain emits every complete line appended since the last read. It returns
// false when ctx ended while sending.
func (f *Follower) drain(ctx context.Context, out chan<- Signal) bool {
	lines, err := f.readNew()
	if err != nil {
		signalLog.Warn("events_read_failed", slog.String("path", f.path), slog.String("error", err.Error()))
		return true
	}
	for _, line := range lines {
		sig, err := ParseLine(line)
		if err != nil {
			signalLog.Warn("events_line_dropped",
				slog.String("path", f.path),
				slog.String("error", err.Error()),
				slog.Int("bytes", len(line)))
			continue
		}
		select {
		case out <- sig:
		case <-ctx.Done():
			return false
		}
	}
	return true
}

// readNew returns complete lines appended since the previous call. A trailing
// partial line is kept until its newline arrives. A shrunk or replaced file
// is read again from the start.
func (f *Follower) readNew() ([][]byte, error) {
	file, err := os.Open(f.path)
	if errors.Is(err, os.ErrNotExist) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	defer file.Close()

	info, err := file.Stat()
	if err != nil {
		return nil, err
	}
	if f.info != nil && !os.SameFile(f.info, info) {
		signalLog.Info("events_log_replaced", slog.String("path", f.path))
		f.offset, f.partial = 0, nil
	} else if info.Size() < f.offset {
		signalLog.Info("events_log_truncated", slog.String("path", f.path), slog.Int64("offset", f.offset))
		f.offset, f.partial = 0, nil
	}
	f.info = info

	if info.Size() == f.offset {
		return nil, nil
	}
	if _, err := file.Seek(f.offset, io.SeekStart); err != nil {
		return nil, err
	}
	chunk, err := io.ReadAll(io.LimitReader(file, info.Size()-f.offset))
	if err != nil {
		return nil, err
	}
	f.offset += int64(len(chunk))

	buf := append(f.partial, chunk...)
	last := bytes.LastIndexByte(buf, '\n')
	if last < 0 {
		f.partial = buf
		return nil, nil
	}
	f.partial = append([]byte(nil), buf[last+1:]...)

	var lines [][]byte
	for _, line := range bytes.Split(buf[:last], []byte{'\n'}) {
		if line = bytes.TrimSpace(line); len(line) > 0 {
			lines = append(lines, line)
		}
	}
	return lines, nil
}
