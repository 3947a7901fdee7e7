package hooks

import (
	"bytes"
	"encoding/json"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestParseLine(t *testing.T) {
	sig, err := ParseLine([]byte(`{"hook_event_name":"Stop","session_id":"s1","cwd":"/work/proj/","transcript_path":"/t/s1.jsonl","observed_at":"2025-01-01T00:00:00.5Z"}`))
	require.NoError(t, err)
	assert.Equal(t, EventStop, sig.Kind)
	assert.Equal(t, "/work/proj", sig.WorkDir)
	assert.Equal(t, "/t/s1.jsonl", sig.TranscriptPath)
	assert.Equal(t, "s1", sig.AgentSessionID)
	assert.Equal(t, time.Date(2025, 1, 1, 0, 0, 0, 500_000_000, time.UTC), sig.ObservedAt.UTC())
}

func TestParseLineAgentTranscriptFallback(t *testing.T) {
	before := time.Now()
	sig, err := ParseLine([]byte(`{"hook_event_name":"SubagentStop","cwd":"/w","agent_transcript_path":"/t/agent.jsonl"}`))
	require.NoError(t, err)
	assert.Equal(t, "/t/agent.jsonl", sig.TranscriptPath)
	assert.False(t, sig.ObservedAt.Before(before))
}

func TestParseLineErrors(t *testing.T) {
	_, err := ParseLine([]byte(`{"hook_event_name":`))
	assert.Error(t, err)

	_, err = ParseLine([]byte(`{"cwd":"/w"}`))
	assert.Error(t, err)

	_, err = ParseLine([]byte(`{"hook_event_name":"Stop"}`))
	assert.ErrorIs(t, err, ErrMissingWorkDir)
}

func TestAppendPayloadStampsAndAppends(t *testing.T) {
	out := filepath.Join(t.TempDir(), "hooks", "events.jsonl")

	require.NoError(t, AppendPayload(strings.NewReader("{\n  \"hook_event_name\": \"Stop\",\n  \"cwd\": \"/w\"\n}\n"), out))
	require.NoError(t, AppendPayload(strings.NewReader(`{"hook_event_name":"Notification","cwd":"/w","observed_at":"keep"}`), out))

	data, err := os.ReadFile(out)
	require.NoError(t, err)
	lines := bytes.Split(bytes.TrimSpace(data), []byte{'\n'})
	require.Len(t, lines, 2)

	var first map[string]string
	require.NoError(t, json.Unmarshal(lines[0], &first))
	assert.Equal(t, "Stop", first["hook_event_name"])
	_, err = time.Parse(time.RFC3339Nano, first[ObservedAtField])
	assert.NoError(t, err)

	var second map[string]string
	require.NoError(t, json.Unmarshal(lines[1], &second))
	assert.Equal(t, "keep", second[ObservedAtField])
}

func TestAppendPayloadRejectsGarbage(t *testing.T) {
	out := filepath.Join(t.TempDir(), "events.jsonl")
	assert.Error(t, AppendPayload(strings.NewReader(""), out))
	assert.Error(t, AppendPayload(strings.NewReader("not json"), out))
	assert.Error(t, AppendPayload(strings.NewReader(`["array"]`), out))

	_, err := os.Stat(out)
	assert.True(t, os.IsNotExist(err))
}

func TestAppendPayloadConcurrentWriters(t *testing.T) {
	out := filepath.Join(t.TempDir(), "events.jsonl")

	var wg sync.WaitGroup
	for i := 0; i < 20; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			assert.NoError(t, AppendPayload(strings.NewReader(`{"hook_event_name":"Stop","cwd":"/w"}`), out))
		}()
	}
	wg.Wait()

	data, err := os.ReadFile(out)
	require.NoError(t, err)
	for _, line := range bytes.Split(bytes.TrimSpace(data), []byte{'\n'}) {
		_, err := ParseLine(line)
		assert.NoError(t, err)
	}
	assert.Equal(t, 20, bytes.Count(data, []byte{'\n'}))
}
