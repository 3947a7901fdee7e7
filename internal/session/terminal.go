package session

import "time"

// Terminal hosts agent processes. Handles are opaque strings returned by
// Start. internal/tmux.Manager is the production implementation.
type Terminal interface {
	Start(workDir string) (string, error)
	SendText(handle, text string) error
	CheckReady(handle string, timeout time.Duration) bool
	Stop(handle string) error
	Alive(handle string) bool
}
