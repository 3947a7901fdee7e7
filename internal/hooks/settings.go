package hooks

import (
	"encoding/json"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"strings"
)

const (
	// SettingsDir and SettingsFile locate the agent's per-project settings.
	SettingsDir  = ".claude"
	SettingsFile = "settings.json"

	// hookSubcommand identifies bridge hook commands regardless of the path
	// the binary was invoked from.
	hookSubcommand = " hook --out "

	// selfName is the bare command a settings template may use to refer to
	// this binary.
	selfName = "ccterm"
)

type hookEntry struct {
	Type    string `json:"type"`
	Command string `json:"command"`
	Timeout int    `json:"timeout,omitempty"`
}

type hookMatcher struct {
	Matcher string      `json:"matcher,omitempty"`
	Hooks   []hookEntry `json:"hooks"`
}

// bridgeEvents are the hook events the bridge records. Only Stop triggers
// delivery; the rest feed liveness tracking.
var bridgeEvents = []string{
	EventSessionStart,
	EventUserPromptSubmit,
	EventStop,
	EventSubagentStop,
	EventNotification,
	EventSessionEnd,
}

// Executable returns the absolute, symlink-resolved path of the running binary.
func Executable() (string, error) {
	exe, err := os.Executable()
	if err != nil {
		return "", fmt.Errorf("locate executable: %w", err)
	}
	if resolved, err := filepath.EvalSymlinks(exe); err == nil {
		exe = resolved
	}
	return filepath.Abs(exe)
}

// HookCommand is the command line the agent runs for every bridge hook.
func HookCommand(exe, eventsPath string) string {
	return shellQuote(exe) + hookSubcommand + shellQuote(eventsPath)
}

// SettingsPath returns <dir>/.claude/settings.json.
func SettingsPath(dir string) string {
	return filepath.Join(dir, SettingsDir, SettingsFile)
}

func isBridgeCommand(cmd string) bool {
	return strings.Contains(cmd, hookSubcommand)
}

// Install ensures projectDir's settings.json runs command for every bridge
// event. Other settings and user hooks are preserved; stale bridge commands
// are replaced. It reports whether the file changed.
func Install(projectDir, command string) (bool, error) {
	path := SettingsPath(projectDir)
	settings, err := readSettings(path)
	if err != nil {
		return false, err
	}
	hooks := decodeHooks(settings)
	if hooksInstalled(hooks, command) {
		return false, nil
	}
	ensureBridgeHooks(hooks, command)
	if err := writeSettings(path, settings, hooks); err != nil {
		return false, err
	}
	signalLog.Info("bridge_hooks_installed", slog.String("path", path))
	return true, nil
}

// Uninstall removes bridge hook entries from projectDir's settings.json and
// reports whether anything was removed.
func Uninstall(projectDir string) (bool, error) {
	path := SettingsPath(projectDir)
	if _, err := os.Stat(path); os.IsNotExist(err) {
		return false, nil
	}
	settings, err := readSettings(path)
	if err != nil {
		return false, err
	}
	hooks := decodeHooks(settings)

	removed := false
	for event, raw := range hooks {
		cleaned, did := removeBridgeHooks(raw)
		if !did {
			continue
		}
		removed = true
		if cleaned == nil {
			delete(hooks, event)
		} else {
			hooks[event] = cleaned
		}
	}
	if !removed {
		return false, nil
	}
	if err := writeSettings(path, settings, hooks); err != nil {
		return false, err
	}
	signalLog.Info("bridge_hooks_removed", slog.String("path", path))
	return true, nil
}

// Installed reports whether projectDir's settings run command for every
// bridge event. An empty command accepts any bridge command.
func Installed(projectDir, command string) bool {
	settings, err := readSettings(SettingsPath(projectDir))
	if err != nil {
		return false
	}
	return hooksInstalled(decodeHooks(settings), command)
}

// ProvisionSettings writes destDir/.claude/settings.json for a new session:
// a copy of template (missing template means empty settings) in which every
// hook command invoking this binary by bare name is rewritten to exe, with
// the bridge hooks for eventsPath ensured. It returns the written path.
func ProvisionSettings(template, destDir, exe, eventsPath string) (string, error) {
	settings, err := readSettings(template)
	if err != nil {
		return "", err
	}
	hooks := decodeHooks(settings)
	for event, raw := range hooks {
		hooks[event] = rewriteSelfCommands(raw, exe)
	}
	ensureBridgeHooks(hooks, HookCommand(exe, eventsPath))

	path := SettingsPath(destDir)
	if err := writeSettings(path, settings, hooks); err != nil {
		return "", err
	}
	return path, nil
}

func readSettings(path string) (map[string]json.RawMessage, error) {
	settings := make(map[string]json.RawMessage)
	if path == "" {
		return settings, nil
	}
	data, err := os.ReadFile(path)
	if os.IsNotExist(err) {
		return settings, nil
	}
	if err != nil {
		return nil, fmt.Errorf("read %s: %w", path, err)
	}
	if len(strings.TrimSpace(string(data))) == 0 {
		return settings, nil
	}
	if err := json.Unmarshal(data, &settings); err != nil {
		return nil, fmt.Errorf("parse %s: %w", path, err)
	}
	return settings, nil
}

// decodeHooks returns the settings' hooks section keyed by event. A hooks
// value that is not an object is replaced.
func decodeHooks(settings map[string]json.RawMessage) map[string]json.RawMessage {
	hooks := make(map[string]json.RawMessage)
	if raw, ok := settings["hooks"]; ok {
		if err := json.Unmarshal(raw, &hooks); err != nil {
			hooks = make(map[string]json.RawMessage)
		}
	}
	return hooks
}

func writeSettings(path string, settings, hooks map[string]json.RawMessage) error {
	if len(hooks) == 0 {
		delete(settings, "hooks")
	} else {
		raw, err := json.Marshal(hooks)
		if err != nil {
			return fmt.Errorf("marshal hooks: %w", err)
		}
		settings["hooks"] = raw
	}
	data, err := json.MarshalIndent(settings, "", "  ")
	if err != nil {
		return fmt.Errorf("marshal settings: %w", err)
	}

	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return fmt.Errorf("create settings dir: %w", err)
	}
	tmp := path + ".tmp"
	if err := os.WriteFile(tmp, append(data, '\n'), 0o644); err != nil {
		return fmt.Errorf("write %s: %w", tmp, err)
	}
	if err := os.Rename(tmp, path); err != nil {
		_ = os.Remove(tmp)
		return fmt.Errorf("rename %s: %w", path, err)
	}
	return nil
}

func hooksInstalled(hooks map[string]json.RawMessage, command string) bool {
	for _, event := range bridgeEvents {
		raw, ok := hooks[event]
		if !ok || !eventHasCommand(raw, command) {
			return false
		}
	}
	return true
}

func eventHasCommand(raw json.RawMessage, command string) bool {
	var matchers []hookMatcher
	if err := json.Unmarshal(raw, &matchers); err != nil {
		return false
	}
	for _, m := range matchers {
		for _, h := range m.Hooks {
			if (command == "" && isBridgeCommand(h.Command)) || (command != "" && h.Command == command) {
				return true
			}
		}
	}
	return false
}

func ensureBridgeHooks(hooks map[string]json.RawMessage, command string) {
	for _, event := range bridgeEvents {
		hooks[event] = mergeBridgeHook(hooks[event], command)
	}
}

// mergeBridgeHook puts command into the event's matcher-less block,
// replacing an existing bridge command in place.
func mergeBridgeHook(existing json.RawMessage, command string) json.RawMessage {
	var matchers []hookMatcher
	if existing != nil {
		if err := json.Unmarshal(existing, &matchers); err != nil {
			matchers = nil
		}
	}

	entry := hookEntry{Type: "command", Command: command}
	for i := range matchers {
		for j, h := range matchers[i].Hooks {
			if isBridgeCommand(h.Command) {
				matchers[i].Hooks[j] = entry
				result, _ := json.Marshal(matchers)
				return result
			}
		}
	}
	for i := range matchers {
		if matchers[i].Matcher == "" {
			matchers[i].Hooks = append(matchers[i].Hooks, entry)
			result, _ := json.Marshal(matchers)
			return result
		}
	}
	matchers = append(matchers, hookMatcher{Hooks: []hookEntry{entry}})
	result, _ := json.Marshal(matchers)
	return result
}

// removeBridgeHooks drops bridge entries from an event. It returns nil when
// no matcher block is left.
func removeBridgeHooks(raw json.RawMessage) (json.RawMessage, bool) {
	var matchers []hookMatcher
	if err := json.Unmarshal(raw, &matchers); err != nil {
		return raw, false
	}

	removed := false
	var cleaned []hookMatcher
	for _, m := range matchers {
		var kept []hookEntry
		for _, h := range m.Hooks {
			if isBridgeCommand(h.Command) {
				removed = true
				continue
			}
			kept = append(kept, h)
		}
		if len(kept) > 0 {
			m.Hooks = kept
			cleaned = append(cleaned, m)
		}
	}
	if !removed {
		return raw, false
	}
	if len(cleaned) == 0 {
		return nil, true
	}
	result, _ := json.Marshal(cleaned)
	return result, true
}

// rewriteSelfCommands replaces a leading bare "ccterm" in hook commands
// with exe, so sessions started from other directories still find the
// binary.
func rewriteSelfCommands(raw json.RawMessage, exe string) json.RawMessage {
	var matchers []hookMatcher
	if err := json.Unmarshal(raw, &matchers); err != nil {
		return raw
	}
	changed := false
	for i := range matchers {
		for j, h := range matchers[i].Hooks {
			if h.Command == selfName || strings.HasPrefix(h.Command, selfName+" ") {
				matchers[i].Hooks[j].Command = shellQuote(exe) + strings.TrimPrefix(h.Command, selfName)
				changed = true
			}
		}
	}
	if !changed {
		return raw
	}
	result, _ := json.Marshal(matchers)
	return result
}

// shellQuote single-quotes s when it contains anything a shell would split
// or expand.
func shellQuote(s string) string {
	if s != "" && !strings.ContainsAny(s, " \t\n'\"\\$`!*?[]{}()<>|&;#~") {
		return s
	}
	return "'" + strings.ReplaceAll(s, "'", `'\''`) + "'"
}
