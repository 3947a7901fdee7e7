package main

import (
	"fmt"
	"os"
	"strings"

	"github.com/charmbracelet/lipgloss"
	"github.com/muesli/termenv"
	"github.com/spf13/cobra"

	"github.com/asheshgoplani/ccterm/internal/config"
	"github.com/asheshgoplani/ccterm/internal/logging"
)

// Set by release ldflags.
var (
	version = "dev"
	commit  = "none"
)

func main() {
	lipgloss.SetColorProfile(colorProfile(os.Getenv))
	if err := newRootCmd().Execute(); err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
}

type rootOptions struct {
	configPath string
}

func newRootCmd() *cobra.Command {
	opts := &rootOptions{}
	root := &cobra.Command{
		Use:   "ccterm",
		Short: "Bridge Slack conversations to Claude sessions running in tmux",
		Long: `ccterm forwards chat messages into Claude sessions hosted in tmux and
posts each finished response back to the conversation or thread it came from.
Completion is detected through Claude hooks appending to an events log.`,
		SilenceUsage:  true,
		SilenceErrors: true,
	}
	root.PersistentFlags().StringVar(&opts.configPath, "config", "", "Config file (default ~/.ccterm/config.toml)")

	root.AddCommand(
		newServeCmd(opts),
		newHookCmd(),
		newHooksCmd(opts),
		newTryCmd(opts),
		newDoctorCmd(opts),
		newVersionCmd(),
	)
	return root
}

func (o *rootOptions) load() (*config.Config, error) {
	return config.Load(o.configPath)
}

func newVersionCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "version",
		Short: "Print the version",
		Args:  cobra.NoArgs,
		Run: func(cmd *cobra.Command, _ []string) {
			fmt.Fprintf(cmd.OutOrStdout(), "ccterm %s (%s)\n", version, commit)
		},
	}
}

// initLogging wires config.toml's [logs] table into the logging package.
// The returned func flushes and closes the log.
func initLogging(cfg *config.Config, stderr bool) func() {
	logging.Init(logging.Config{
		LogDir:     cfg.Logs.Dir,
		Level:      cfg.Logs.Level,
		Format:     cfg.Logs.Format,
		MaxSizeMB:  cfg.Logs.MaxSizeMB,
		MaxBackups: cfg.Logs.MaxBackups,
		MaxAgeDays: cfg.Logs.MaxAgeDays,
		Compress:   cfg.Logs.GetCompress(),
		Stderr:     stderr,
		PprofAddr:  cfg.Logs.PprofAddr,
	})
	return logging.Shutdown
}

// colorProfile picks the lipgloss color profile. CCTERM_COLOR overrides
// detection: truecolor, 256, 16 or none.
func colorProfile(getenv func(string) string) termenv.Profile {
	switch strings.ToLower(getenv("CCTERM_COLOR")) {
	case "truecolor", "true", "24bit":
		return termenv.TrueColor
	case "256", "ansi256":
		return termenv.ANSI256
	case "16", "ansi", "basic":
		return termenv.ANSI
	case "none", "off", "ascii":
		return termenv.Ascii
	}
	if getenv("NO_COLOR") != "" {
		return termenv.Ascii
	}

	colorTerm := getenv("COLORTERM")
	if colorTerm == "truecolor" || colorTerm == "24bit" {
		return termenv.TrueColor
	}
	term := getenv("TERM")
	for _, t := range []string{"xterm-256color", "screen-256color", "tmux-256color", "xterm-direct", "alacritty", "kitty", "wezterm"} {
		if strings.Contains(term, t) {
			return termenv.TrueColor
		}
	}
	if getenv("ITERM_SESSION_ID") != "" || getenv("WT_SESSION") != "" {
		return termenv.TrueColor
	}
	return termenv.ANSI256
}
