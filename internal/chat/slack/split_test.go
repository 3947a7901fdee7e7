package slack

import (
	"strings"
	"testing"
	"unicode/utf8"

	"github.com/stretchr/testify/assert"
)

func TestSplitMessage(t *testing.T) {
	tests := []struct {
		name string
		text string
		max  int
		want []string
	}{
		{name: "short", text: "hello", max: 10, want: []string{"hello"}},
		{name: "at newline", text: "line one\nline two", max: 12, want: []string{"line one", "line two"}},
		{name: "no newline", text: "abcdefghij", max: 4, want: []string{"abcd", "efgh", "ij"}},
		{name: "collapses leading newlines", text: "ab\n\n\ncd", max: 4, want: []string{"ab", "cd"}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, SplitMessage(tt.text, tt.max))
		})
	}
}

func TestSplitMessageKeepsRunesWhole(t *testing.T) {
	text := strings.Repeat("é", 10)
	for _, chunk := range SplitMessage(text, 5) {
		assert.LessOrEqual(t, len(chunk), 5)
		assert.True(t, utf8.ValidString(chunk))
	}
	assert.Equal(t, text, strings.Join(SplitMessage(text, 5), ""))
}
