package logging

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestBridgeWriterComponents(t *testing.T) {
	Shutdown()
	dir := t.TempDir()
	Init(Config{LogDir: dir})
	defer Shutdown()

	std := NewStdLogger(CompChat)
	std.Print("socketmode: Connected to Slack with Socket Mode.")
	std.Print("[TMUX] pane captured")
	std.Print("[CUSTOM] own prefix")
	std.Print("slack-go: failed to read frame")
	std.Print("plain line")

	records := readRecords(t, dir)
	require.Len(t, records, 5)

	assert.Equal(t, CompChat, records[0]["component"])
	assert.Equal(t, "Connected to Slack with Socket Mode.", records[0]["msg"])
	assert.Equal(t, CompTmux, records[1]["component"])
	assert.Equal(t, "custom", records[2]["component"])
	assert.Equal(t, "WARN", records[3]["level"])
	assert.Equal(t, CompChat, records[4]["component"])
	assert.Equal(t, true, records[4]["bridged"])
}

func TestBridgeWriterSkipsBlank(t *testing.T) {
	bw := NewBridgeWriter(CompChat)
	n, err := bw.Write([]byte("   \n"))
	require.NoError(t, err)
	assert.Equal(t, 4, n)
}

func TestStripLogTimestamp(t *testing.T) {
	assert.Equal(t, "hello", stripLogTimestamp("15:04:05.000000 hello"))
	assert.Equal(t, "hello", stripLogTimestamp("15:04:05 hello"))
	assert.Equal(t, "no timestamp", stripLogTimestamp("no timestamp"))
}
