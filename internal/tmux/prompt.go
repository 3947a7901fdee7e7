package tmux

import "strings"

// promptWindow is how many trailing non-blank pane lines are inspected.
const promptWindow = 20

// spinnerWindow is how many trailing lines may hold an activity spinner.
const spinnerWindow = 10

var busyMarkers = []string{
	"esc to interrupt",
	"ctrl+c to interrupt",
}

// Braille and asterisk spinner frames shown while the agent works. "✻" and
// "·" also appear in finished states and are left out.
var spinnerFrames = []string{
	"⠋", "⠙", "⠹", "⠸", "⠼", "⠴", "⠦", "⠧", "⠇", "⠏",
	"✳", "✽", "✶", "✢",
}

// Selection dialogs render a "❯" cursor too; typing into one would answer it.
var dialogMarkers = []string{
	"❯ Yes",
	"❯ No",
	"❯ 1.",
	"Do you want to proceed",
	"Do you trust the files in this folder?",
	"Press Enter to select",
}

// PromptReady reports whether captured pane content shows the agent
// waiting for input: a line in the last promptWindow lines that starts with
// "❯" or ">" (optionally inside a box border), with no busy marker, spinner
// or selection dialog on screen.
func PromptReady(content string) bool {
	lines := lastNLines(content, promptWindow)
	recent := strings.Join(lines, "\n")
	lower := strings.ToLower(recent)

	for _, m := range busyMarkers {
		if strings.Contains(lower, m) {
			return false
		}
	}
	// Working status lines look like "✢ Brewing… (53s · ↓ 749 tokens)".
	if strings.Contains(lower, "…") && strings.Contains(lower, "tokens") {
		return false
	}
	for _, m := range dialogMarkers {
		if strings.Contains(recent, m) {
			return false
		}
	}
	if hasSpinner(lines) {
		return false
	}

	for _, line := range lines {
		trimmed := strings.TrimSpace(strings.TrimLeft(strings.TrimSpace(line), "│┃|"))
		if strings.HasPrefix(trimmed, "❯") || strings.HasPrefix(trimmed, ">") {
			return true
		}
	}
	return false
}

func hasSpinner(lines []string) bool {
	if len(lines) > spinnerWindow {
		lines = lines[len(lines)-spinnerWindow:]
	}
	for _, line := range lines {
		trimmed := strings.TrimSpace(line)
		if strings.HasPrefix(trimmed, "│") || strings.HasPrefix(trimmed, "╭") || strings.HasPrefix(trimmed, "╰") {
			continue
		}
		for _, frame := range spinnerFrames {
			if strings.Contains(line, frame) {
				return true
			}
		}
	}
	return false
}

func lastNLines(content string, n int) []string {
	lines := strings.Split(content, "\n")
	for len(lines) > 0 && strings.TrimSpace(lines[len(lines)-1]) == "" {
		lines = lines[:len(lines)-1]
	}
	if start := len(lines) - n; start > 0 {
		return lines[start:]
	}
	return lines
}
