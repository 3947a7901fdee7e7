package transcript

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
)

func TestEpochNanos(t *testing.T) {
	base := time.Date(2025, 1, 1, 0, 0, 0, 0, time.UTC)
	tests := []struct {
		in   string
		want int64
		ok   bool
	}{
		{"2025-01-01T00:00:00Z", base.UnixNano(), true},
		{"2025-01-01T00:00:00.5Z", base.Add(500 * time.Millisecond).UnixNano(), true},
		{"2025-01-01T01:00:00+01:00", base.UnixNano(), true},
		{"1700000000.123456", 1700000000123456000, true},
		{"1700000000", 1700000000000000000, true},
		{"1700000000.1234567891", 1700000000123456789, true},
		{"", 0, false},
		{"yesterday", 0, false},
		{"-5.1", 0, false},
	}
	for _, tt := range tests {
		got, ok := EpochNanos(tt.in)
		assert.Equal(t, tt.ok, ok, tt.in)
		assert.Equal(t, tt.want, got, tt.in)
	}
}
