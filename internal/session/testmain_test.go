package session

import (
	"errors"
	"fmt"
	"sync"
	"testing"
	"time"

	"go.uber.org/goleak"
)

func TestMain(m *testing.M) {
	goleak.VerifyTestMain(m)
}

// fakeTerminal records calls instead of starting processes.
type fakeTerminal struct {
	mu       sync.Mutex
	started  []string
	stopped  []string
	sent     map[string][]string
	startErr error
	ready    bool
	delay    time.Duration
	n        int
}

func newFakeTerminal() *fakeTerminal {
	return &fakeTerminal{sent: make(map[string][]string), ready: true}
}

func (f *fakeTerminal) Start(workDir string) (string, error) {
	if f.delay > 0 {
		time.Sleep(f.delay)
	}
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.startErr != nil {
		return "", f.startErr
	}
	f.n++
	f.started = append(f.started, workDir)
	return fmt.Sprintf("fake-%d", f.n), nil
}

func (f *fakeTerminal) SendText(handle, text string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.sent[handle] = append(f.sent[handle], text)
	return nil
}

func (f *fakeTerminal) CheckReady(string, time.Duration) bool {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.ready
}

func (f *fakeTerminal) Stop(handle string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.stopped = append(f.stopped, handle)
	if handle == "" {
		return errors.New("empty handle")
	}
	return nil
}

func (f *fakeTerminal) Alive(string) bool { return true }

func (f *fakeTerminal) startedDirs() []string {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]string(nil), f.started...)
}
