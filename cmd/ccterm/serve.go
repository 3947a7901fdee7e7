package main

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"path/filepath"
	"syscall"
	"time"

	"github.com/spf13/cobra"
	"golang.org/x/sync/errgroup"

	"github.com/asheshgoplani/ccterm/internal/chat"
	"github.com/asheshgoplani/ccterm/internal/chat/console"
	"github.com/asheshgoplani/ccterm/internal/chat/slack"
	"github.com/asheshgoplani/ccterm/internal/config"
	"github.com/asheshgoplani/ccterm/internal/coordinator"
	"github.com/asheshgoplani/ccterm/internal/hooks"
	"github.com/asheshgoplani/ccterm/internal/logging"
	"github.com/asheshgoplani/ccterm/internal/platform"
	"github.com/asheshgoplani/ccterm/internal/session"
	"github.com/asheshgoplani/ccterm/internal/tmux"
)

var serveLog = logging.ForComponent(logging.CompCoordinator)

type serveOptions struct {
	console        bool
	eagerMain      bool
	noInstallHooks bool
}

func newServeCmd(root *rootOptions) *cobra.Command {
	opts := &serveOptions{}
	cmd := &cobra.Command{
		Use:   "serve",
		Short: "Run the bridge until interrupted",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			cfg, err := root.load()
			if err != nil {
				return err
			}
			return runServe(cmd.Context(), cfg, opts)
		},
	}
	cmd.Flags().BoolVar(&opts.console, "console", false, "Chat over stdin/stdout instead of Slack")
	cmd.Flags().BoolVar(&opts.eagerMain, "eager-main", false, "Start the main session before the first message")
	cmd.Flags().BoolVar(&opts.noInstallHooks, "no-install-hooks", false, "Do not add bridge hooks to the project's .claude/settings.json")
	return cmd
}

func runServe(ctx context.Context, cfg *config.Config, opts *serveOptions) error {
	if !opts.console {
		if err := cfg.ValidateSlack(); err != nil {
			return fmt.Errorf("invalid slack config: %w", err)
		}
	}
	if err := tmux.IsAvailable(); err != nil {
		return err
	}

	defer initLogging(cfg, cfg.Logs.Stderr && !opts.console)()
	serveLog.Info("bridge_starting",
		slog.String("version", version),
		slog.String("config", cfg.Path()),
		slog.String("project_root", cfg.Claude.Cwd),
		slog.String("events", cfg.Hooks.EventsPath),
		slog.Bool("console", opts.console))

	ctx, stop := signal.NotifyContext(ctx, os.Interrupt, syscall.SIGTERM)
	defer stop()
	go dumpOnSignal(ctx, cfg.Logs.Dir)

	exe, err := hooks.Executable()
	if err != nil {
		return err
	}
	if !opts.noInstallHooks {
		if _, err := hooks.Install(cfg.Claude.Cwd, hooks.HookCommand(exe, cfg.Hooks.EventsPath)); err != nil {
			return fmt.Errorf("install hooks: %w", err)
		}
	}

	terminal := tmux.NewManager(tmux.ManagerOptions{
		Prefix:  cfg.Tmux.SessionPrefix,
		Command: cfg.Claude.Command,
		Options: cfg.Tmux.Options,
	})
	registry, err := session.NewRegistry(terminal, session.Options{
		ProjectRoot:      cfg.Claude.Cwd,
		ThreadsDir:       cfg.Coordinator.ThreadsDir,
		SettingsTemplate: cfg.Claude.SettingsTemplate,
		EventsPath:       cfg.Hooks.EventsPath,
		Executable:       exe,
		KeepSessions:     cfg.Coordinator.KeepSessions,
	})
	if err != nil {
		return err
	}
	defer func() {
		if err := registry.Shutdown(); err != nil {
			serveLog.Warn("shutdown_incomplete", slog.String("error", err.Error()))
		}
	}()

	adapter, err := newAdapter(cfg, opts)
	if err != nil {
		return err
	}
	if warning := platform.WatchWarning(cfg.Hooks.EventsPath); warning != "" {
		serveLog.Warn("events_watch_unreliable",
			slog.String("path", cfg.Hooks.EventsPath),
			slog.String("reason", warning),
			slog.Duration("poll_interval", cfg.Hooks.PollInterval()))
	}
	follower := hooks.NewFollower(cfg.Hooks.EventsPath, hooks.FollowerOptions{
		FromEnd:      cfg.Hooks.GetFollowFromEnd(),
		PollInterval: cfg.Hooks.PollInterval(),
	})
	coord := coordinator.New(registry, terminal, adapter, coordinatorOptions(cfg))

	if opts.eagerMain {
		if _, err := registry.Main(ctx); err != nil {
			return fmt.Errorf("start main session: %w", err)
		}
	}

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error { return adapter.Run(gctx) })
	g.Go(func() error { return coord.Run(gctx, adapter, follower) })
	err = g.Wait()
	serveLog.Info("bridge_stopped")
	return err
}

func newAdapter(cfg *config.Config, opts *serveOptions) (chat.Adapter, error) {
	if opts.console {
		return console.New(os.Stdin, os.Stdout, os.Getenv("USER")), nil
	}
	return slack.New(slack.OptionsFromConfig(cfg.Slack))
}

func coordinatorOptions(cfg *config.Config) coordinator.Options {
	return coordinator.Options{
		AuthoritativeKind: cfg.Coordinator.AuthoritativeEvent,
		PromptCheck:       cfg.Coordinator.GetPromptCheck(),
		PromptTimeout:     cfg.Coordinator.PromptTimeout(),
		SendOnTimeout:     cfg.Coordinator.GetSendOnTimeout(),
		SerializeInbound:  cfg.Coordinator.SerializeInbound,
	}
}

// dumpOnSignal writes the in-memory log ring to logDir on SIGUSR1.
func dumpOnSignal(ctx context.Context, logDir string) {
	usr1 := make(chan os.Signal, 1)
	signal.Notify(usr1, syscall.SIGUSR1)
	defer signal.Stop(usr1)
	for {
		select {
		case <-ctx.Done():
			return
		case <-usr1:
			path := filepath.Join(logDir, fmt.Sprintf("crash-dump-%d.jsonl", time.Now().Unix()))
			if err := logging.DumpRingBuffer(path); err != nil {
				serveLog.Error("crash_dump_failed", slog.String("error", err.Error()))
				continue
			}
			serveLog.Info("crash_dump_written", slog.String("path", path))
		}
	}
}
