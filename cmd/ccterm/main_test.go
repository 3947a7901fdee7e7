package main

import (
	"bytes"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/muesli/termenv"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/asheshgoplani/ccterm/internal/config"
	"github.com/asheshgoplani/ccterm/internal/hooks"
)

func env(vars map[string]string) func(string) string {
	return func(k string) string { return vars[k] }
}

func TestColorProfile(t *testing.T) {
	assert.Equal(t, termenv.Ascii, colorProfile(env(map[string]string{"CCTERM_COLOR": "none", "COLORTERM": "truecolor"})))
	assert.Equal(t, termenv.ANSI, colorProfile(env(map[string]string{"CCTERM_COLOR": "16"})))
	assert.Equal(t, termenv.Ascii, colorProfile(env(map[string]string{"NO_COLOR": "1"})))
	assert.Equal(t, termenv.TrueColor, colorProfile(env(map[string]string{"COLORTERM": "24bit"})))
	assert.Equal(t, termenv.TrueColor, colorProfile(env(map[string]string{"TERM": "tmux-256color"})))
	assert.Equal(t, termenv.ANSI256, colorProfile(env(nil)))
}

func execute(t *testing.T, stdin string, args ...string) (string, error) {
	t.Helper()
	cmd := newRootCmd()
	var out bytes.Buffer
	cmd.SetOut(&out)
	cmd.SetErr(&out)
	cmd.SetIn(strings.NewReader(stdin))
	cmd.SetArgs(args)
	err := cmd.Execute()
	return out.String(), err
}

func TestVersionCommand(t *testing.T) {
	out, err := execute(t, "", "version")
	require.NoError(t, err)
	assert.Equal(t, "ccterm dev (none)\n", out)
}

func TestHookCommandAppendsPayload(t *testing.T) {
	events := filepath.Join(t.TempDir(), "hooks", "events.jsonl")
	_, err := execute(t, `{"hook_event_name":"Stop","cwd":"/w","transcript_path":"/t.jsonl"}`, "hook", "--out", events)
	require.NoError(t, err)

	data, err := os.ReadFile(events)
	require.NoError(t, err)
	sig, err := hooks.ParseLine(bytes.TrimSpace(data))
	require.NoError(t, err)
	assert.Equal(t, hooks.EventStop, sig.Kind)
	assert.Equal(t, "/w", sig.WorkDir)
}

func TestHookCommandNeverFailsTheAgent(t *testing.T) {
	events := filepath.Join(t.TempDir(), "events.jsonl")
	out, err := execute(t, "", "hook", "--out", events)
	require.NoError(t, err)
	assert.Contains(t, out, "empty hook payload")
}

func writeConfig(t *testing.T, body string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "config.toml")
	require.NoError(t, os.WriteFile(path, []byte(body), 0o644))
	return path
}

func TestHooksInstallStatusUninstall(t *testing.T) {
	project := t.TempDir()
	cfgPath := writeConfig(t, "[claude]\ncwd = \""+project+"\"\n")

	out, err := execute(t, "", "--config", cfgPath, "hooks", "status")
	require.NoError(t, err)
	assert.Contains(t, out, "not installed")

	out, err = execute(t, "", "--config", cfgPath, "hooks", "install")
	require.NoError(t, err)
	assert.Contains(t, out, "Installed bridge hooks")
	assert.FileExists(t, hooks.SettingsPath(project))

	out, err = execute(t, "", "--config", cfgPath, "hooks", "install")
	require.NoError(t, err)
	assert.Contains(t, out, "already installed")

	out, err = execute(t, "", "--config", cfgPath, "hooks", "status")
	require.NoError(t, err)
	assert.Contains(t, out, "installed (")

	out, err = execute(t, "", "--config", cfgPath, "hooks", "uninstall")
	require.NoError(t, err)
	assert.Contains(t, out, "Removed bridge hooks")
}

func TestDoctorChecks(t *testing.T) {
	project := t.TempDir()
	cfgPath := writeConfig(t, "[claude]\ncwd = \""+project+"\"\ncommand = \"definitely-not-a-real-agent-binary\"\n")
	cfg, err := config.Load(cfgPath)
	require.NoError(t, err)

	byName := map[string]check{}
	for _, c := range runChecks(cfg) {
		byName[c.name] = c
	}
	assert.Equal(t, checkOK, byName["config"].status)
	assert.Equal(t, checkFail, byName["agent"].status)
	assert.Equal(t, checkWarn, byName["slack"].status)
	assert.Equal(t, checkWarn, byName["hooks"].status)
	assert.Equal(t, checkOK, byName["events"].status)

	var buf bytes.Buffer
	renderChecks(&buf, []check{{name: "tmux", status: checkOK, detail: "3.4"}})
	assert.Contains(t, buf.String(), "tmux")
	assert.Contains(t, buf.String(), "3.4")
}

func TestWithinDir(t *testing.T) {
	assert.True(t, withinDir("/a/b", "/a/b"))
	assert.True(t, withinDir("/a/b/c", "/a/b"))
	assert.False(t, withinDir("/a/bc", "/a/b"))
}

func TestCoordinatorOptionsFromConfig(t *testing.T) {
	cfg, err := config.Load(writeConfig(t, "[coordinator]\nprompt_check = false\nserialize_inbound = true\n"))
	require.NoError(t, err)
	opts := coordinatorOptions(cfg)
	assert.False(t, opts.PromptCheck)
	assert.True(t, opts.SendOnTimeout)
	assert.True(t, opts.SerializeInbound)
	assert.Equal(t, "Stop", opts.AuthoritativeKind)
}
