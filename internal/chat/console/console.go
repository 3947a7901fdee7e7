// Package console is a chat adapter over stdin and stdout for running the
// bridge without Slack. A line "thread:<id> text" posts into a thread;
// any other line goes to the main timeline.
package console

import (
	"bufio"
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os"
	"strings"
	"sync"
	"time"

	"github.com/charmbracelet/lipgloss"
	"golang.org/x/term"

	"github.com/asheshgoplani/ccterm/internal/chat"
	"github.com/asheshgoplani/ccterm/internal/logging"
)

// ConversationID is the fixed conversation every console message belongs to.
const ConversationID = "cli"

const threadPrefix = "thread:"

var (
	ErrEmptyInput   = errors.New("empty input")
	ErrMissingID    = errors.New("thread id is required after thread:")
	ErrMissingText  = errors.New("message text is required after the thread id")
	chatLog         = logging.ForComponent(logging.CompChat)
	replyHeader     = lipgloss.NewStyle().Bold(true).Foreground(lipgloss.Color("6"))
	diagnosticColor = lipgloss.NewStyle().Foreground(lipgloss.Color("3"))
)

// ParseLine turns one input line into a message.
func ParseLine(line string, now time.Time) (chat.InboundMessage, error) {
	trimmed := strings.TrimSpace(line)
	if trimmed == "" {
		return chat.InboundMessage{}, ErrEmptyInput
	}
	msg := chat.InboundMessage{ConversationID: ConversationID, ReceivedAt: now}

	rest, ok := strings.CutPrefix(trimmed, threadPrefix)
	if !ok {
		msg.Text = trimmed
		return msg, nil
	}
	fields := strings.SplitN(strings.TrimSpace(rest), " ", 2)
	if fields[0] == "" {
		return chat.InboundMessage{}, ErrMissingID
	}
	if len(fields) < 2 || strings.TrimSpace(fields[1]) == "" {
		return chat.InboundMessage{}, ErrMissingText
	}
	msg.ThreadID = fields[0]
	msg.Text = strings.TrimSpace(fields[1])
	return msg, nil
}

// Adapter reads messages from in and prints replies to out.
type Adapter struct {
	in          io.Reader
	out         io.Writer
	interactive bool
	sender      string
	messages    chan chat.InboundMessage
	now         func() time.Time

	mu sync.Mutex
}

// New creates a console adapter. Prompts and styling are enabled when in
// is a terminal.
func New(in io.Reader, out io.Writer, sender string) *Adapter {
	interactive := false
	if f, ok := in.(*os.File); ok {
		interactive = term.IsTerminal(int(f.Fd()))
	}
	return &Adapter{
		in:          in,
		out:         out,
		interactive: interactive,
		sender:      sender,
		messages:    make(chan chat.InboundMessage),
		now:         time.Now,
	}
}

// Messages implements chat.Source.
func (a *Adapter) Messages() <-chan chat.InboundMessage {
	return a.messages
}

// Run reads lines until in is exhausted or ctx is done.
func (a *Adapter) Run(ctx context.Context) error {
	defer close(a.messages)

	lines := make(chan string)
	readErr := make(chan error, 1)
	done := make(chan struct{})
	defer close(done)

	go func() {
		scanner := bufio.NewScanner(a.in)
		scanner.Buffer(make([]byte, 0, 64*1024), 1024*1024)
		for scanner.Scan() {
			select {
			case lines <- scanner.Text():
			case <-done:
				return
			}
		}
		readErr <- scanner.Err()
	}()

	a.prompt()
	for {
		select {
		case <-ctx.Done():
			return nil
		case err := <-readErr:
			if err != nil {
				return fmt.Errorf("read console input: %w", err)
			}
			chatLog.Info("console_input_closed")
			return nil
		case line := <-lines:
			msg, err := ParseLine(line, a.now())
			if err != nil {
				if !errors.Is(err, ErrEmptyInput) {
					a.printf("%s\n", diagnosticColor.Render("error: "+err.Error()))
				}
				a.prompt()
				continue
			}
			msg.SenderDisplayName = a.sender
			select {
			case a.messages <- msg:
			case <-ctx.Done():
				return nil
			}
			a.prompt()
		}
	}
}

// Post implements chat.Sink.
func (a *Adapter) Post(_ context.Context, msg chat.OutboundMessage) error {
	header := "← " + msg.ConversationID
	if msg.ThreadID != "" {
		header += " " + threadPrefix + msg.ThreadID
	}
	if a.interactive {
		header = replyHeader.Render(header)
	}
	_, err := a.printf("\n%s\n%s\n", header, msg.Text)
	if err != nil {
		chatLog.Warn("console_write_failed", slog.String("error", err.Error()))
		return err
	}
	a.prompt()
	return nil
}

func (a *Adapter) prompt() {
	if a.interactive {
		_, _ = a.printf("> ")
	}
}

func (a *Adapter) printf(format string, args ...any) (int, error) {
	a.mu.Lock()
	defer a.mu.Unlock()
	return fmt.Fprintf(a.out, format, args...)
}
