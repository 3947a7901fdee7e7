package console

import (
	"bytes"
	"context"
	"io"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/asheshgoplani/ccterm/internal/chat"
)

func TestParseLine(t *testing.T) {
	now := time.Unix(1700000000, 0)
	tests := []struct {
		name    string
		line    string
		want    chat.InboundMessage
		wantErr error
	}{
		{
			name: "main timeline",
			line: "  hello there  ",
			want: chat.InboundMessage{ConversationID: "cli", Text: "hello there", ReceivedAt: now},
		},
		{
			name: "thread",
			line: "thread:42 what about now",
			want: chat.InboundMessage{ConversationID: "cli", ThreadID: "42", Text: "what about now", ReceivedAt: now},
		},
		{
			name: "thread with space after prefix",
			line: "thread: abc   hi",
			want: chat.InboundMessage{ConversationID: "cli", ThreadID: "abc", Text: "hi", ReceivedAt: now},
		},
		{name: "empty", line: "   ", wantErr: ErrEmptyInput},
		{name: "missing id", line: "thread:", wantErr: ErrMissingID},
		{name: "missing text", line: "thread:42", wantErr: ErrMissingText},
		{name: "blank text", line: "thread:42    ", wantErr: ErrMissingText},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := ParseLine(tt.line, now)
			if tt.wantErr != nil {
				assert.ErrorIs(t, err, tt.wantErr)
				return
			}
			require.NoError(t, err)
			assert.Equal(t, tt.want, got)
		})
	}
}

func TestRunDeliversParsedLines(t *testing.T) {
	in := strings.NewReader("hello\n\nthread:\nthread:7 inside\n")
	var out bytes.Buffer
	a := New(in, &out, "me")

	done := make(chan error, 1)
	go func() { done <- a.Run(context.Background()) }()

	var got []chat.InboundMessage
	for msg := range a.Messages() {
		got = append(got, msg)
	}
	require.NoError(t, <-done)

	require.Len(t, got, 2)
	assert.Equal(t, "hello", got[0].Text)
	assert.Equal(t, "me", got[0].SenderDisplayName)
	assert.False(t, got[0].InThread())
	assert.Equal(t, "7", got[1].ThreadID)
	assert.Contains(t, out.String(), "thread id is required")
}

func TestRunStopsOnCancel(t *testing.T) {
	r, w := io.Pipe()
	defer w.Close()
	a := New(r, &bytes.Buffer{}, "")

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- a.Run(ctx) }()
	cancel()
	require.NoError(t, <-done)
	_, ok := <-a.Messages()
	assert.False(t, ok)
}

func TestPost(t *testing.T) {
	var out bytes.Buffer
	a := New(strings.NewReader(""), &out, "")

	require.NoError(t, a.Post(context.Background(), chat.OutboundMessage{ConversationID: "cli", Text: "hi"}))
	require.NoError(t, a.Post(context.Background(), chat.OutboundMessage{ConversationID: "cli", ThreadID: "7", Text: "threaded"}))
	assert.Equal(t, "\n← cli\nhi\n\n← cli thread:7\nthreaded\n", out.String())
}
