package main

import (
	"fmt"
	"io"
	"os"
	"os/exec"
	"path/filepath"
	"strings"

	"github.com/spf13/cobra"

	"github.com/asheshgoplani/ccterm/internal/config"
	"github.com/asheshgoplani/ccterm/internal/hooks"
	"github.com/asheshgoplani/ccterm/internal/platform"
	"github.com/asheshgoplani/ccterm/internal/tmux"
)

type checkStatus int

const (
	checkOK checkStatus = iota
	checkWarn
	checkFail
)

type check struct {
	name   string
	status checkStatus
	detail string
}

func newDoctorCmd(root *rootOptions) *cobra.Command {
	return &cobra.Command{
		Use:   "doctor",
		Short: "Check tmux, the agent command, hooks and config",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			cfg, err := root.load()
			if err != nil {
				renderChecks(cmd.OutOrStdout(), []check{{name: "config", status: checkFail, detail: err.Error()}})
				return err
			}
			checks := runChecks(cfg)
			renderChecks(cmd.OutOrStdout(), checks)
			for _, c := range checks {
				if c.status == checkFail {
					return fmt.Errorf("%s check failed", c.name)
				}
			}
			return nil
		},
	}
}

func runChecks(cfg *config.Config) []check {
	checks := []check{
		{name: "host", status: checkOK, detail: platform.Detect().String()},
		configCheck(cfg),
		tmuxCheck(),
		agentCheck(cfg),
		slackCheck(cfg),
	}
	if exe, err := hooks.Executable(); err == nil {
		checks = append(checks, hooksCheck(cfg.Claude.Cwd, hooks.HookCommand(exe, cfg.Hooks.EventsPath)))
	}
	return append(checks, eventsCheck(cfg.Hooks.EventsPath))
}

func configCheck(cfg *config.Config) check {
	if cfg.Path() == "" {
		return check{name: "config", status: checkWarn, detail: "no config file, using defaults"}
	}
	return check{name: "config", status: checkOK, detail: cfg.Path()}
}

func tmuxCheck() check {
	if err := tmux.IsAvailable(); err != nil {
		return check{name: "tmux", status: checkFail, detail: err.Error()}
	}
	v, err := tmux.Version()
	if err != nil {
		return check{name: "tmux", status: checkWarn, detail: err.Error()}
	}
	return check{name: "tmux", status: checkOK, detail: v}
}

func agentCheck(cfg *config.Config) check {
	fields := strings.Fields(cfg.Claude.Command)
	if len(fields) == 0 {
		return check{name: "agent", status: checkFail, detail: "claude.command is empty"}
	}
	path, err := exec.LookPath(fields[0])
	if err != nil {
		return check{name: "agent", status: checkFail, detail: fmt.Sprintf("%s not found in PATH", fields[0])}
	}
	return check{name: "agent", status: checkOK, detail: path}
}

func slackCheck(cfg *config.Config) check {
	if err := cfg.ValidateSlack(); err != nil {
		return check{name: "slack", status: checkWarn, detail: strings.ReplaceAll(err.Error(), "\n", "; ") + " (serve --console still works)"}
	}
	return check{name: "slack", status: checkOK, detail: "listen_mode=" + cfg.Slack.ListenMode}
}

func hooksCheck(projectDir, command string) check {
	path := hooks.SettingsPath(projectDir)
	switch {
	case hooks.Installed(projectDir, command):
		return check{name: "hooks", status: checkOK, detail: path}
	case hooks.Installed(projectDir, ""):
		return check{name: "hooks", status: checkWarn, detail: "stale bridge command in " + path}
	default:
		return check{name: "hooks", status: checkWarn, detail: "not installed, serve installs them unless --no-install-hooks"}
	}
}

func eventsCheck(path string) check {
	dir := filepath.Dir(path)
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return check{name: "events", status: checkFail, detail: err.Error()}
	}
	f, err := os.CreateTemp(dir, ".doctor-*")
	if err != nil {
		return check{name: "events", status: checkFail, detail: dir + " is not writable"}
	}
	_ = f.Close()
	_ = os.Remove(f.Name())
	if warning := platform.WatchWarning(path); warning != "" {
		return check{name: "events", status: checkWarn, detail: warning + ", replies arrive at poll speed"}
	}
	return check{name: "events", status: checkOK, detail: path}
}

func renderChecks(w io.Writer, checks []check) {
	for _, c := range checks {
		var mark string
		switch c.status {
		case checkOK:
			mark = okStyle.Render("✓")
		case checkWarn:
			mark = warnStyle.Render("!")
		default:
			mark = failStyle.Render("✗")
		}
		fmt.Fprintf(w, "%s %-7s %s\n", mark, c.name, dimStyle.Render(c.detail))
	}
}
