package logging

import (
	"bytes"
	"context"
	"log"
	"log/slog"
	"strings"
)

// BridgeWriter is an io.Writer that turns stdlib log output (slack-go and
// its socketmode client log through *log.Logger) into slog records.
// A leading "prefix: " or "[PREFIX] " selects the component.
type BridgeWriter struct {
	component string
}

// NewBridgeWriter creates a writer that logs under defaultComponent unless
// the line names a known prefix.
func NewBridgeWriter(defaultComponent string) *BridgeWriter {
	return &BridgeWriter{component: defaultComponent}
}

// NewStdLogger returns a *log.Logger whose output lands in slog.
func NewStdLogger(component string) *log.Logger {
	return log.New(NewBridgeWriter(component), "", 0)
}

// Write implements io.Writer. Each call is one record.
func (bw *BridgeWriter) Write(p []byte) (int, error) {
	n := len(p)
	msg := stripLogTimestamp(string(bytes.TrimSpace(p)))
	if msg == "" {
		return n, nil
	}

	component := bw.component
	if strings.HasPrefix(msg, "[") {
		if idx := strings.Index(msg, "] "); idx > 0 {
			prefix := strings.ToLower(msg[1:idx])
			if component = canonicalComponent(prefix); component == "" {
				component = prefix
			}
			msg = msg[idx+2:]
		}
	} else if idx := strings.Index(msg, ": "); idx > 0 && !strings.ContainsAny(msg[:idx], " \t") {
		if c := canonicalComponent(strings.ToLower(msg[:idx])); c != "" {
			component = c
			msg = msg[idx+2:]
		}
	}

	level := slog.LevelInfo
	lower := strings.ToLower(msg)
	if strings.Contains(lower, "error") || strings.Contains(lower, "failed") {
		level = slog.LevelWarn
	}
	Logger().Log(context.Background(), level, msg, slog.String("component", component), slog.Bool("bridged", true))
	return n, nil
}

// stripLogTimestamp removes a "15:04:05" or "15:04:05.000000" prefix left by
// log.SetFlags on a foreign logger.
func stripLogTimestamp(s string) string {
	if len(s) > 16 && s[2] == ':' && s[5] == ':' && s[8] == '.' && s[15] == ' ' {
		return s[16:]
	}
	if len(s) > 9 && s[2] == ':' && s[5] == ':' && s[8] == ' ' {
		return s[9:]
	}
	return s
}

// canonicalComponent maps a foreign log prefix to a component name, or ""
// when the prefix is not recognized.
func canonicalComponent(prefix string) string {
	switch prefix {
	case "slack", "slack-go", "socketmode", "slack-socketmode":
		return CompChat
	case "tmux":
		return CompTmux
	case "hook", "hooks", "signal":
		return CompSignal
	case CompCoordinator, CompSession, CompTranscript, CompChat, CompConfig:
		return prefix
	}
	return ""
}
