package hooks

import (
	"bytes"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"time"
)

// AppendPayload reads one hook payload from r and appends it to the events
// log at out as a single line, stamped with observed_at. It never rewrites
// existing lines.
func AppendPayload(r io.Reader, out string) error {
	data, err := io.ReadAll(r)
	if err != nil {
		return fmt.Errorf("read hook payload: %w", err)
	}
	data = bytes.TrimSpace(data)
	if len(data) == 0 {
		return errors.New("empty hook payload")
	}

	line, err := stampPayload(data, time.Now())
	if err != nil {
		return err
	}

	if err := os.MkdirAll(filepath.Dir(out), 0o755); err != nil {
		return fmt.Errorf("create events dir: %w", err)
	}
	f, err := os.OpenFile(out, os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0o644)
	if err != nil {
		return fmt.Errorf("open events log: %w", err)
	}
	// One write per line so concurrent hook processes never interleave.
	if _, err := f.Write(append(line, '\n')); err != nil {
		_ = f.Close()
		return fmt.Errorf("append events log: %w", err)
	}
	return f.Close()
}

// stampPayload compacts a JSON object onto one line and adds observed_at
// unless the payload already carries one.
func stampPayload(data []byte, now time.Time) ([]byte, error) {
	var obj map[string]json.RawMessage
	if err := json.Unmarshal(data, &obj); err != nil {
		return nil, fmt.Errorf("hook payload is not a JSON object: %w", err)
	}
	if _, ok := obj[ObservedAtField]; !ok {
		stamp, _ := json.Marshal(now.UTC().Format(time.RFC3339Nano))
		obj[ObservedAtField] = stamp
	}
	line, err := json.Marshal(obj)
	if err != nil {
		return nil, fmt.Errorf("encode hook payload: %w", err)
	}
	return line, nil
}
