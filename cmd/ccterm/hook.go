package main

import (
	"errors"
	"fmt"
	"path/filepath"

	"github.com/charmbracelet/lipgloss"
	"github.com/spf13/cobra"

	"github.com/asheshgoplani/ccterm/internal/hooks"
)

// newHookCmd is the command Claude runs for each hook event. It must never
// fail the agent's turn, so errors only go to stderr.
func newHookCmd() *cobra.Command {
	var out string
	cmd := &cobra.Command{
		Use:    "hook",
		Short:  "Append the hook payload on stdin to the events log",
		Args:   cobra.NoArgs,
		Hidden: true,
		RunE: func(cmd *cobra.Command, _ []string) error {
			if out == "" {
				return errors.New("--out is required")
			}
			if err := hooks.AppendPayload(cmd.InOrStdin(), out); err != nil {
				fmt.Fprintf(cmd.ErrOrStderr(), "ccterm hook: %v\n", err)
			}
			return nil
		},
	}
	cmd.Flags().StringVar(&out, "out", "", "Events log to append to")
	return cmd
}

func newHooksCmd(root *rootOptions) *cobra.Command {
	var dir string
	cmd := &cobra.Command{
		Use:   "hooks",
		Short: "Manage the bridge hooks in a project's .claude/settings.json",
	}
	cmd.PersistentFlags().StringVar(&dir, "dir", "", "Project directory (default claude.cwd)")

	target := func() (string, string, error) {
		cfg, err := root.load()
		if err != nil {
			return "", "", err
		}
		exe, err := hooks.Executable()
		if err != nil {
			return "", "", err
		}
		project := cfg.Claude.Cwd
		if dir != "" {
			if project, err = filepath.Abs(dir); err != nil {
				return "", "", err
			}
		}
		return project, hooks.HookCommand(exe, cfg.Hooks.EventsPath), nil
	}

	cmd.AddCommand(&cobra.Command{
		Use:   "install",
		Short: "Add bridge hooks, keeping existing settings",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			project, command, err := target()
			if err != nil {
				return err
			}
			changed, err := hooks.Install(project, command)
			if err != nil {
				return err
			}
			if changed {
				fmt.Fprintf(cmd.OutOrStdout(), "Installed bridge hooks in %s\n", hooks.SettingsPath(project))
			} else {
				fmt.Fprintf(cmd.OutOrStdout(), "Bridge hooks already installed in %s\n", hooks.SettingsPath(project))
			}
			return nil
		},
	})

	cmd.AddCommand(&cobra.Command{
		Use:   "status",
		Short: "Report whether bridge hooks are installed",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			project, command, err := target()
			if err != nil {
				return err
			}
			path := hooks.SettingsPath(project)
			switch {
			case hooks.Installed(project, command):
				fmt.Fprintf(cmd.OutOrStdout(), "%s installed (%s)\n", okStyle.Render("✓"), path)
			case hooks.Installed(project, ""):
				fmt.Fprintf(cmd.OutOrStdout(), "%s installed with a different command, run 'ccterm hooks install' to update (%s)\n", warnStyle.Render("!"), path)
			default:
				fmt.Fprintf(cmd.OutOrStdout(), "%s not installed (%s)\n", failStyle.Render("✗"), path)
			}
			return nil
		},
	})

	cmd.AddCommand(&cobra.Command{
		Use:   "uninstall",
		Short: "Remove bridge hooks, keeping other hooks",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			project, _, err := target()
			if err != nil {
				return err
			}
			removed, err := hooks.Uninstall(project)
			if err != nil {
				return err
			}
			if removed {
				fmt.Fprintf(cmd.OutOrStdout(), "Removed bridge hooks from %s\n", hooks.SettingsPath(project))
			} else {
				fmt.Fprintln(cmd.OutOrStdout(), "No bridge hooks found")
			}
			return nil
		},
	})
	return cmd
}

var (
	okStyle   = lipgloss.NewStyle().Foreground(lipgloss.Color("2")).Bold(true)
	warnStyle = lipgloss.NewStyle().Foreground(lipgloss.Color("3")).Bold(true)
	failStyle = lipgloss.NewStyle().Foreground(lipgloss.Color("1")).Bold(true)
	dimStyle  = lipgloss.NewStyle().Foreground(lipgloss.Color("8"))
)
