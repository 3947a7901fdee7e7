package hooks

import (
	"context"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func appendLine(t *testing.T, path, line string) {
	t.Helper()
	f, err := os.OpenFile(path, os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0o644)
	require.NoError(t, err)
	_, err = f.WriteString(line)
	require.NoError(t, err)
	require.NoError(t, f.Close())
}

func nextSignal(t *testing.T, ch <-chan Signal) Signal {
	t.Helper()
	select {
	case sig, ok := <-ch:
		require.True(t, ok, "signal channel closed")
		return sig
	case <-time.After(3 * time.Second):
		t.Fatal("timed out waiting for signal")
		return Signal{}
	}
}

func assertNoSignal(t *testing.T, ch <-chan Signal, wait time.Duration) {
	t.Helper()
	select {
	case sig := <-ch:
		t.Fatalf("unexpected signal %+v", sig)
	case <-time.After(wait):
	}
}

func TestFollowerFromEndSkipsExisting(t *testing.T) {
	path := filepath.Join(t.TempDir(), "events.jsonl")
	appendLine(t, path, `{"hook_event_name":"Stop","cwd":"/old"}`+"\n")

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	f := NewFollower(path, FollowerOptions{FromEnd: true, PollInterval: 50 * time.Millisecond})
	ch, err := f.Subscribe(ctx)
	require.NoError(t, err)

	appendLine(t, path, `{"hook_event_name":"Stop","cwd":"/new"}`+"\n")
	assert.Equal(t, "/new", nextSignal(t, ch).WorkDir)
}

func TestFollowerFromStartReadsExisting(t *testing.T) {
	path := filepath.Join(t.TempDir(), "events.jsonl")
	appendLine(t, path, `{"hook_event_name":"SessionStart","cwd":"/a"}`+"\n")

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	ch, err := NewFollower(path, FollowerOptions{PollInterval: 50 * time.Millisecond}).Subscribe(ctx)
	require.NoError(t, err)
	assert.Equal(t, EventSessionStart, nextSignal(t, ch).Kind)
}

func TestFollowerWaitsForCompleteLine(t *testing.T) {
	path := filepath.Join(t.TempDir(), "nested", "events.jsonl")

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	ch, err := NewFollower(path, FollowerOptions{FromEnd: true, PollInterval: 50 * time.Millisecond}).Subscribe(ctx)
	require.NoError(t, err)

	appendLine(t, path, `{"hook_event_name":"Stop",`)
	assertNoSignal(t, ch, 300*time.Millisecond)

	appendLine(t, path, `"cwd":"/w"}`+"\n")
	sig := nextSignal(t, ch)
	assert.Equal(t, EventStop, sig.Kind)
	assert.Equal(t, "/w", sig.WorkDir)
}

func TestFollowerSkipsMalformedLines(t *testing.T) {
	path := filepath.Join(t.TempDir(), "events.jsonl")

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	ch, err := NewFollower(path, FollowerOptions{PollInterval: 50 * time.Millisecond}).Subscribe(ctx)
	require.NoError(t, err)

	appendLine(t, path, "garbage\n"+`{"hook_event_name":"Stop"}`+"\n"+`{"hook_event_name":"Stop","cwd":"/ok"}`+"\n")
	assert.Equal(t, "/ok", nextSignal(t, ch).WorkDir)
}

func TestFollowerRestartsAfterTruncation(t *testing.T) {
	path := filepath.Join(t.TempDir(), "events.jsonl")

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	ch, err := NewFollower(path, FollowerOptions{PollInterval: 50 * time.Millisecond}).Subscribe(ctx)
	require.NoError(t, err)

	appendLine(t, path, `{"hook_event_name":"Stop","cwd":"/first/long/path/for/offset"}`+"\n")
	assert.Equal(t, "/first/long/path/for/offset", nextSignal(t, ch).WorkDir)

	require.NoError(t, os.Truncate(path, 0))
	time.Sleep(150 * time.Millisecond)
	appendLine(t, path, `{"hook_event_name":"Stop","cwd":"/b"}`+"\n")
	assert.Equal(t, "/b", nextSignal(t, ch).WorkDir)
}

func TestFollowerSubscribeOnce(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	f := NewFollower(filepath.Join(t.TempDir(), "events.jsonl"), FollowerOptions{})

	ch, err := f.Subscribe(ctx)
	require.NoError(t, err)

	_, err = f.Subscribe(ctx)
	assert.ErrorIs(t, err, ErrAlreadySubscribed)

	cancel()
	select {
	case _, ok := <-ch:
		assert.False(t, ok)
	case <-time.After(3 * time.Second):
		t.Fatal("channel not closed after cancel")
	}
}
