// Package config loads the bridge's TOML configuration.
package config

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/BurntSushi/toml"
)

const (
	// DirName is the per-user state directory under $HOME.
	DirName = ".ccterm"

	// FileName is the config file inside DirName.
	FileName = "config.toml"

	ListenMentions = "mentions"
	ListenAll      = "all"
)

// Config is the root of config.toml.
type Config struct {
	Slack       SlackSettings       `toml:"slack"`
	Claude      ClaudeSettings      `toml:"claude"`
	Tmux        TmuxSettings        `toml:"tmux"`
	Hooks       HookSettings        `toml:"hooks"`
	Coordinator CoordinatorSettings `toml:"coordinator"`
	Logs        LogSettings         `toml:"logs"`

	// path is the file this config was decoded from, empty for defaults.
	path string
}

// SlackSettings configures the Slack Socket Mode adapter.
type SlackSettings struct {
	// BotToken is the bot token (xoxb-...). SLACK_BOT_TOKEN overrides it.
	BotToken string `toml:"bot_token"`

	// AppToken is the app-level Socket Mode token (xapp-...). SLACK_APP_TOKEN overrides it.
	AppToken string `toml:"app_token"`

	// ChannelID is used as the conversation id when an event carries none,
	// and restricts "all" listen mode to one channel.
	ChannelID string `toml:"channel_id"`

	// ListenMode is "mentions" (default) or "all".
	ListenMode string `toml:"listen_mode"`

	// PostRatePerSec bounds outbound chat.postMessage calls (default: 1).
	PostRatePerSec float64 `toml:"post_rate_per_sec"`

	// AllowedUserIDs restricts who may talk to the agent. Empty allows everyone.
	AllowedUserIDs []string `toml:"allowed_user_ids"`
}

// ClaudeSettings configures the agent process.
type ClaudeSettings struct {
	// Command is typed into each new tmux session (default: "claude").
	Command string `toml:"command"`

	// Cwd is the project root and the Main session's working directory.
	Cwd string `toml:"cwd"`

	// SettingsTemplate is copied into each thread session's .claude/settings.json.
	// Default: <cwd>/.claude/settings.json
	SettingsTemplate string `toml:"settings_template"`
}

// TmuxSettings configures session naming and options.
type TmuxSettings struct {
	// SessionPrefix prefixes every tmux session name (default: "ccterm").
	SessionPrefix string `toml:"session_prefix"`

	// Options are applied with set-option after each session starts.
	Options map[string]string `toml:"options"`
}

// HookSettings configures the completion signal log.
type HookSettings struct {
	// EventsPath is the JSONL log hooks append to.
	// Default: <cwd>/.claude/hooks/events.jsonl
	EventsPath string `toml:"events_path"`

	// FollowFromEnd skips lines already in the log at startup (default: true).
	FollowFromEnd *bool `toml:"follow_from_end"`

	// PollIntervalMs is the fallback poll period when no fs events arrive (default: 500).
	PollIntervalMs int `toml:"poll_interval_ms"`
}

// CoordinatorSettings tunes message forwarding and reply delivery.
type CoordinatorSettings struct {
	// AuthoritativeEvent is the only signal kind that triggers delivery (default: "Stop").
	AuthoritativeEvent string `toml:"authoritative_event"`

	// PromptCheck waits for the agent's input prompt before forwarding (default: true).
	PromptCheck *bool `toml:"prompt_check"`

	// PromptTimeoutMs bounds the prompt wait (default: 30000).
	PromptTimeoutMs int `toml:"prompt_timeout_ms"`

	// SendOnTimeout forwards anyway when the prompt never shows (default: true).
	// When false the message is dropped and a notice is posted to the chat.
	SendOnTimeout *bool `toml:"send_on_timeout"`

	// SerializeInbound holds a session's next message until its previous one
	// completed (default: false).
	SerializeInbound bool `toml:"serialize_inbound"`

	// ThreadsDir holds one working directory per thread session.
	// Default: <cwd>/.ccterm/threads
	ThreadsDir string `toml:"threads_dir"`

	// KeepSessions leaves tmux sessions running on shutdown.
	KeepSessions bool `toml:"keep_sessions"`
}

// LogSettings configures internal/logging.
type LogSettings struct {
	Dir        string `toml:"dir"`
	Level      string `toml:"level"`
	Format     string `toml:"format"`
	Stderr     bool   `toml:"stderr"`
	MaxSizeMB  int    `toml:"max_size_mb"`
	MaxBackups int    `toml:"max_backups"`
	MaxAgeDays int    `toml:"max_age_days"`
	Compress   *bool  `toml:"compress"`
	PprofAddr  string `toml:"pprof_addr"`
}

// GetFollowFromEnd defaults to true.
func (h *HookSettings) GetFollowFromEnd() bool {
	if h.FollowFromEnd == nil {
		return true
	}
	return *h.FollowFromEnd
}

// PollInterval returns the fallback poll period.
func (h *HookSettings) PollInterval() time.Duration {
	if h.PollIntervalMs <= 0 {
		return 500 * time.Millisecond
	}
	return time.Duration(h.PollIntervalMs) * time.Millisecond
}

// GetPromptCheck defaults to true.
func (c *CoordinatorSettings) GetPromptCheck() bool {
	if c.PromptCheck == nil {
		return true
	}
	return *c.PromptCheck
}

// GetSendOnTimeout defaults to true.
func (c *CoordinatorSettings) GetSendOnTimeout() bool {
	if c.SendOnTimeout == nil {
		return true
	}
	return *c.SendOnTimeout
}

// PromptTimeout returns the readiness wait bound.
func (c *CoordinatorSettings) PromptTimeout() time.Duration {
	if c.PromptTimeoutMs <= 0 {
		return 30 * time.Second
	}
	return time.Duration(c.PromptTimeoutMs) * time.Millisecond
}

// GetCompress defaults to true.
func (l *LogSettings) GetCompress() bool {
	if l.Compress == nil {
		return true
	}
	return *l.Compress
}

// Path returns the file the config was loaded from, or "" for defaults.
func (c *Config) Path() string {
	return c.path
}

// DefaultPath returns ~/.ccterm/config.toml.
func DefaultPath() (string, error) {
	home, err := os.UserHomeDir()
	if err != nil {
		return "", fmt.Errorf("failed to resolve home directory: %w", err)
	}
	return filepath.Join(home, DirName, FileName), nil
}

// Load reads path (DefaultPath when empty). A missing file yields defaults;
// a file that fails to parse is an error. Defaults and environment
// overrides are applied in both cases.
func Load(path string) (*Config, error) {
	explicit := path != ""
	if !explicit {
		p, err := DefaultPath()
		if err != nil {
			return nil, err
		}
		path = p
	}

	cfg := &Config{}
	if _, err := os.Stat(path); err == nil {
		if _, err := toml.DecodeFile(path, cfg); err != nil {
			return nil, fmt.Errorf("config.toml parse error: %w", err)
		}
		cfg.path = path
	} else if !os.IsNotExist(err) || explicit {
		return nil, fmt.Errorf("failed to read config %s: %w", path, err)
	}

	if err := cfg.applyDefaults(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// Default returns a config with every default applied, rooted at the
// current directory.
func Default() (*Config, error) {
	cfg := &Config{}
	if err := cfg.applyDefaults(); err != nil {
		return nil, err
	}
	return cfg, nil
}

func (c *Config) applyDefaults() error {
	if v := os.Getenv("SLACK_BOT_TOKEN"); v != "" {
		c.Slack.BotToken = v
	}
	if v := os.Getenv("SLACK_APP_TOKEN"); v != "" {
		c.Slack.AppToken = v
	}
	if c.Slack.ListenMode == "" {
		c.Slack.ListenMode = ListenMentions
	}
	if c.Slack.PostRatePerSec <= 0 {
		c.Slack.PostRatePerSec = 1
	}

	if c.Claude.Command == "" {
		c.Claude.Command = "claude"
	}
	cwd := c.Claude.Cwd
	if cwd == "" {
		cwd = "."
	}
	root, err := filepath.Abs(expandTilde(cwd))
	if err != nil {
		return fmt.Errorf("failed to resolve claude.cwd: %w", err)
	}
	c.Claude.Cwd = root

	c.Claude.SettingsTemplate = c.resolve(c.Claude.SettingsTemplate, filepath.Join(".claude", "settings.json"))
	c.Hooks.EventsPath = c.resolve(c.Hooks.EventsPath, filepath.Join(".claude", "hooks", "events.jsonl"))
	c.Coordinator.ThreadsDir = c.resolve(c.Coordinator.ThreadsDir, filepath.Join(DirName, "threads"))

	if c.Tmux.SessionPrefix == "" {
		c.Tmux.SessionPrefix = "ccterm"
	}
	if c.Coordinator.AuthoritativeEvent == "" {
		c.Coordinator.AuthoritativeEvent = "Stop"
	}

	if c.Logs.Dir == "" {
		if home, err := os.UserHomeDir(); err == nil {
			c.Logs.Dir = filepath.Join(home, DirName, "logs")
		}
	} else {
		c.Logs.Dir = expandTilde(c.Logs.Dir)
	}
	if c.Logs.Level == "" {
		c.Logs.Level = "info"
	}
	if c.Logs.Format == "" {
		c.Logs.Format = "json"
	}
	return nil
}

// resolve makes p absolute against the project root, using def when empty.
func (c *Config) resolve(p, def string) string {
	if p == "" {
		p = def
	}
	p = expandTilde(p)
	if filepath.IsAbs(p) {
		return filepath.Clean(p)
	}
	return filepath.Join(c.Claude.Cwd, p)
}

// ValidateSlack checks what the Slack adapter needs.
func (c *Config) ValidateSlack() error {
	var errs []error
	if c.Slack.BotToken == "" {
		errs = append(errs, errors.New("slack.bot_token is required (or SLACK_BOT_TOKEN)"))
	} else if !strings.HasPrefix(c.Slack.BotToken, "xoxb-") {
		errs = append(errs, errors.New("slack.bot_token must start with xoxb-"))
	}
	if c.Slack.AppToken == "" {
		errs = append(errs, errors.New("slack.app_token is required (or SLACK_APP_TOKEN)"))
	} else if !strings.HasPrefix(c.Slack.AppToken, "xapp-") {
		errs = append(errs, errors.New("slack.app_token must start with xapp-"))
	}
	switch c.Slack.ListenMode {
	case ListenMentions, ListenAll:
	default:
		errs = append(errs, fmt.Errorf("slack.listen_mode must be %q or %q, got %q", ListenMentions, ListenAll, c.Slack.ListenMode))
	}
	if c.Slack.ListenMode == ListenAll && c.Slack.ChannelID == "" {
		errs = append(errs, errors.New("slack.channel_id is required when listen_mode is \"all\""))
	}
	return errors.Join(errs...)
}

func expandTilde(p string) string {
	if p == "~" || strings.HasPrefix(p, "~/") {
		if home, err := os.UserHomeDir(); err == nil {
			return filepath.Join(home, strings.TrimPrefix(p, "~"))
		}
	}
	return p
}
