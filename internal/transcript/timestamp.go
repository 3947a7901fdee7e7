package transcript

import (
	"strconv"
	"strings"
	"time"
)

// EpochNanos converts a timestamp to Unix nanoseconds. It accepts RFC 3339
// (with or without fractional seconds) and chat-platform "seconds.fraction"
// strings such as "1700000000.123456".
func EpochNanos(ts string) (int64, bool) {
	ts = strings.TrimSpace(ts)
	if ts == "" {
		return 0, false
	}
	if t, err := time.Parse(time.RFC3339Nano, ts); err == nil {
		return t.UnixNano(), true
	}

	secPart, fracPart, _ := strings.Cut(ts, ".")
	sec, err := strconv.ParseInt(secPart, 10, 64)
	if err != nil || sec < 0 {
		return 0, false
	}
	var nanos int64
	if fracPart != "" {
		if len(fracPart) > 9 {
			fracPart = fracPart[:9]
		}
		frac, err := strconv.ParseInt(fracPart+strings.Repeat("0", 9-len(fracPart)), 10, 64)
		if err != nil || frac < 0 {
			return 0, false
		}
		nanos = frac
	}
	return sec*int64(time.Second) + nanos, true
}
