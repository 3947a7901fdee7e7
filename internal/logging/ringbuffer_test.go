package logging

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestRingBufferWrites(t *testing.T) {
	tests := []struct {
		name   string
		size   int
		writes []string
		want   string
	}{
		{"under capacity", 64, []string{"hello"}, "hello"},
		{"exact fill", 8, []string{"AA", "BB", "CC", "DD"}, "AABBCCDD"},
		{"wraps", 10, []string{"abcdefghij", "12345"}, "fghij12345"},
		{"split write", 8, []string{"AABBCC", "DDEE"}, "BBCCDDEE"},
		{"larger than capacity", 5, []string{"0123456789"}, "56789"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			rb := NewRingBuffer(tt.size)
			for _, w := range tt.writes {
				n, err := rb.Write([]byte(w))
				require.NoError(t, err)
				assert.Equal(t, len(w), n)
			}
			assert.Equal(t, tt.want, string(rb.Bytes()))
			assert.Equal(t, len(tt.want), rb.Len())
		})
	}
}

func TestRingBufferDumpToFile(t *testing.T) {
	rb := NewRingBuffer(32)
	_, _ = rb.Write([]byte("dump_test_data"))

	path := filepath.Join(t.TempDir(), "nested", "dump.log")
	require.NoError(t, rb.DumpToFile(path))

	data, err := os.ReadFile(path)
	require.NoError(t, err)
	assert.Equal(t, "dump_test_data", string(data))
}
