package main

import (
	"context"
	"errors"
	"fmt"
	"io"
	"path/filepath"
	"strings"
	"time"

	"github.com/spf13/cobra"

	"github.com/asheshgoplani/ccterm/internal/config"
	"github.com/asheshgoplani/ccterm/internal/hooks"
	"github.com/asheshgoplani/ccterm/internal/tmux"
	"github.com/asheshgoplani/ccterm/internal/transcript"
)

type tryOptions struct {
	message string
	dir     string
	timeout time.Duration
	keep    bool
}

// newTryCmd runs one round trip without chat: start a session, type a
// message, wait for its completion hook and print the reply.
func newTryCmd(root *rootOptions) *cobra.Command {
	opts := &tryOptions{}
	cmd := &cobra.Command{
		Use:   "try",
		Short: "Send one message to a fresh session and print the reply",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			cfg, err := root.load()
			if err != nil {
				return err
			}
			return runTry(cmd.Context(), cmd.OutOrStdout(), cfg, opts)
		},
	}
	cmd.Flags().StringVarP(&opts.message, "message", "m", "Reply with the single word: pong", "Message to send")
	cmd.Flags().StringVar(&opts.dir, "dir", "", "Working directory (default claude.cwd)")
	cmd.Flags().DurationVar(&opts.timeout, "timeout", 3*time.Minute, "How long to wait for the reply")
	cmd.Flags().BoolVar(&opts.keep, "keep-session", false, "Leave the tmux session running")
	return cmd
}

func runTry(ctx context.Context, out io.Writer, cfg *config.Config, opts *tryOptions) error {
	if err := tmux.IsAvailable(); err != nil {
		return err
	}
	defer initLogging(cfg, false)()

	dir := cfg.Claude.Cwd
	if opts.dir != "" {
		abs, err := filepath.Abs(opts.dir)
		if err != nil {
			return err
		}
		dir = abs
	}
	exe, err := hooks.Executable()
	if err != nil {
		return err
	}
	if _, err := hooks.Install(dir, hooks.HookCommand(exe, cfg.Hooks.EventsPath)); err != nil {
		return fmt.Errorf("install hooks: %w", err)
	}

	ctx, cancel := context.WithTimeout(ctx, opts.timeout)
	defer cancel()
	follower := hooks.NewFollower(cfg.Hooks.EventsPath, hooks.FollowerOptions{FromEnd: true, PollInterval: cfg.Hooks.PollInterval()})
	signals, err := follower.Subscribe(ctx)
	if err != nil {
		return err
	}

	mgr := tmux.NewManager(tmux.ManagerOptions{
		Prefix:  cfg.Tmux.SessionPrefix,
		Command: cfg.Claude.Command,
		Options: cfg.Tmux.Options,
	})
	handle, err := mgr.Start(dir)
	if err != nil {
		return err
	}
	if opts.keep {
		fmt.Fprintf(out, "session: %s (attach with: tmux attach -t %s)\n", handle, handle)
	} else {
		defer func() { _ = mgr.Stop(handle) }()
	}

	if !mgr.CheckReady(handle, cfg.Coordinator.PromptTimeout()) {
		fmt.Fprintln(out, warnStyle.Render("!")+" prompt not detected, sending anyway")
	}
	if err := mgr.SendText(handle, opts.message); err != nil {
		return err
	}
	fmt.Fprintf(out, "sent: %s\n", opts.message)

	want := resolvedDir(dir)
	for {
		select {
		case <-ctx.Done():
			return fmt.Errorf("no %s signal from %s within %s", cfg.Coordinator.AuthoritativeEvent, dir, opts.timeout)
		case sig, ok := <-signals:
			if !ok {
				return errors.New("events log follower stopped")
			}
			if sig.Kind != cfg.Coordinator.AuthoritativeEvent || !withinDir(resolvedDir(sig.WorkDir), want) {
				continue
			}
			res, err := transcript.Latest(sig.TranscriptPath, "")
			if err != nil {
				return err
			}
			if !res.New {
				return fmt.Errorf("%s signal arrived but %s has no assistant reply", sig.Kind, sig.TranscriptPath)
			}
			fmt.Fprintf(out, "reply (%s):\n%s\n", res.Marker, res.Text)
			return nil
		}
	}
}

func resolvedDir(dir string) string {
	if resolved, err := filepath.EvalSymlinks(dir); err == nil {
		return resolved
	}
	return filepath.Clean(dir)
}

func withinDir(dir, root string) bool {
	return dir == root || strings.HasPrefix(dir, root+string(filepath.Separator))
}
