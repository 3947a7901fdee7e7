package logging

import (
	"bytes"
	"log/slog"
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestAggregatorCountsPerEvent(t *testing.T) {
	agg := NewAggregator(nil, 3600)
	agg.Record(CompSignal, "signal_kind")
	agg.Record(CompSignal, "signal_kind")
	agg.Record(CompSignal, "poll_wakeup")

	assert.Equal(t, int64(2), agg.Pending(CompSignal, "signal_kind"))
	assert.Equal(t, int64(1), agg.Pending(CompSignal, "poll_wakeup"))
	assert.Equal(t, int64(0), agg.Pending(CompChat, "signal_kind"))
}

func TestAggregatorStopFlushes(t *testing.T) {
	var buf bytes.Buffer
	logger := slog.New(slog.NewJSONHandler(&buf, nil))

	agg := NewAggregator(logger, 3600)
	agg.Start()
	agg.Record(CompSignal, "signal_kind", slog.String("kind", "Stop"))
	agg.Stop()
	agg.Stop()

	out := buf.String()
	assert.Contains(t, out, `"msg":"event_summary"`)
	assert.Contains(t, out, `"count":1`)
	assert.Contains(t, out, `"kind":"Stop"`)
	assert.Equal(t, int64(0), agg.Pending(CompSignal, "signal_kind"))
}

func TestAggregatorNilLoggerDrops(t *testing.T) {
	agg := NewAggregator(nil, 1)
	agg.Start()
	agg.Record(CompSignal, "x")
	agg.Stop()
	assert.Equal(t, int64(0), agg.Pending(CompSignal, "x"))
}
