// Package coordinator joins chat messages and agent completion signals:
// messages are typed into the right session, and each completed response
// is posted back exactly where the conversation happened, at most once.
package coordinator

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/mattn/go-runewidth"

	"github.com/asheshgoplani/ccterm/internal/chat"
	"github.com/asheshgoplani/ccterm/internal/hooks"
	"github.com/asheshgoplani/ccterm/internal/logging"
	"github.com/asheshgoplani/ccterm/internal/session"
	"github.com/asheshgoplani/ccterm/internal/transcript"
)

var coordLog = logging.ForComponent(logging.CompCoordinator)

var (
	// ErrNotReady is returned when the agent never showed its prompt and
	// forwarding on timeout is disabled.
	ErrNotReady = errors.New("agent not ready for input")

	// ErrMarkerContention means the marker kept moving under a delivery.
	ErrMarkerContention = errors.New("delivery marker contended")
)

const (
	maxMarkerAttempts = 3
	previewWidth      = 80
	idlePoll          = 100 * time.Millisecond
)

// Sessions is the part of the session registry the coordinator uses.
type Sessions interface {
	ResolveOrCreate(ctx context.Context, msg chat.InboundMessage) (*session.Session, error)
	ResolveByWorkDir(dir string) (*session.Session, bool)
}

// Receiver produces completion signals. Subscribe may be called once.
type Receiver interface {
	Subscribe(ctx context.Context) (<-chan hooks.Signal, error)
}

// Options tunes forwarding and delivery.
type Options struct {
	// AuthoritativeKind is the signal kind that means "response complete".
	AuthoritativeKind string

	// PromptCheck waits for the agent's prompt before typing a message.
	PromptCheck bool

	// PromptTimeout bounds the prompt wait.
	PromptTimeout time.Duration

	// SendOnTimeout types the message anyway when the prompt never shows.
	SendOnTimeout bool

	// SerializeInbound waits for a session's previous message to complete
	// (bounded by PromptTimeout) before forwarding the next one.
	SerializeInbound bool
}

// Coordinator is the bridge's event loop.
type Coordinator struct {
	opts     Options
	sessions Sessions
	terminal session.Terminal
	sink     chat.Sink
	lanes    *dispatcher
}

// New creates a Coordinator.
func New(sessions Sessions, terminal session.Terminal, sink chat.Sink, opts Options) *Coordinator {
	if opts.AuthoritativeKind == "" {
		opts.AuthoritativeKind = hooks.EventStop
	}
	if opts.PromptTimeout <= 0 {
		opts.PromptTimeout = 30 * time.Second
	}
	return &Coordinator{
		opts:     opts,
		sessions: sessions,
		terminal: terminal,
		sink:     sink,
		lanes:    newDispatcher(),
	}
}

// Run consumes messages from source and signals from receiver until ctx is
// done, then waits for in-flight work. It returns an error only when the
// signal stream cannot be opened or ends on its own.
func (c *Coordinator) Run(ctx context.Context, source chat.Source, receiver Receiver) error {
	signals, err := receiver.Subscribe(ctx)
	if err != nil {
		return fmt.Errorf("subscribe to signals: %w", err)
	}
	defer c.lanes.wait()

	messages := source.Messages()
	coordLog.Info("coordinator_started", slog.String("authoritative_kind", c.opts.AuthoritativeKind))
	for {
		select {
		case <-ctx.Done():
			coordLog.Info("coordinator_stopping")
			return nil

		case msg, ok := <-messages:
			if !ok {
				coordLog.Info("chat_source_closed")
				messages = nil
				continue
			}
			c.DispatchInbound(ctx, msg)

		case sig, ok := <-signals:
			if !ok {
				if ctx.Err() != nil {
					return nil
				}
				return errors.New("signal stream ended")
			}
			c.DispatchSignal(ctx, sig)
		}
	}
}

// DispatchInbound queues msg on its session's inbound lane.
func (c *Coordinator) DispatchInbound(ctx context.Context, msg chat.InboundMessage) {
	key := "in:main"
	if msg.InThread() {
		key = "in:thread:" + msg.ConversationID + "/" + msg.ThreadID
	}
	c.lanes.submit(key, func() {
		_ = c.HandleInbound(ctx, msg)
	})
}

// DispatchSignal resolves sig's session and queues it on that session's
// signal lane. Signals for unknown directories are dropped.
func (c *Coordinator) DispatchSignal(ctx context.Context, sig hooks.Signal) {
	logging.Aggregate(logging.CompSignal, "signal_received", slog.String("kind", sig.Kind))

	s, ok := c.sessions.ResolveByWorkDir(sig.WorkDir)
	if !ok {
		coordLog.Debug("signal_dropped_unknown_workdir",
			slog.String("kind", sig.Kind),
			slog.String("work_dir", sig.WorkDir),
			slog.String("transcript", sig.TranscriptPath))
		return
	}
	c.lanes.submit("sig:"+s.ID, func() {
		_ = c.HandleSignal(ctx, s, sig)
	})
}

// HandleInbound forwards one message to its session.
func (c *Coordinator) HandleInbound(ctx context.Context, msg chat.InboundMessage) error {
	s, err := c.sessions.ResolveOrCreate(ctx, msg)
	if err != nil {
		coordLog.Error("session_resolve_failed",
			slog.String("conversation", msg.ConversationID),
			slog.String("thread", msg.ThreadID),
			slog.String("error", err.Error()))
		c.notify(ctx, msg.ConversationID, msg.ThreadID, "Could not start an agent session for this conversation: "+err.Error())
		return err
	}
	log := coordLog.With(slog.String("session_id", s.ID), slog.String("kind", s.Kind.String()))
	handle := s.Handle()

	if c.opts.SerializeInbound {
		c.waitIdle(ctx, s)
	}

	if c.opts.PromptCheck && !c.terminal.CheckReady(handle, c.opts.PromptTimeout) {
		if !c.opts.SendOnTimeout {
			log.Warn("prompt_timeout_message_dropped", slog.Duration("timeout", c.opts.PromptTimeout))
			c.notify(ctx, msg.ConversationID, msg.ThreadID,
				"The agent is still busy and did not accept your message. Please send it again in a moment.")
			return ErrNotReady
		}
		log.Warn("prompt_timeout_sending_anyway", slog.Duration("timeout", c.opts.PromptTimeout))
	}

	if err := c.terminal.SendText(handle, ForwardText(msg)); err != nil {
		log.Error("forward_failed", slog.String("handle", handle), slog.String("error", err.Error()))
		c.notify(ctx, msg.ConversationID, msg.ThreadID, "Could not pass your message to the agent: "+err.Error())
		return err
	}
	s.SetState(session.StateAwaitingCompletion)
	log.Info("message_forwarded",
		slog.String("conversation", msg.ConversationID),
		slog.String("thread", msg.ThreadID),
		slog.String("sender", msg.SenderDisplayName),
		slog.String("preview", preview(msg.Text)))
	return nil
}

// HandleSignal records a signal against s and, for the authoritative kind,
// delivers the newest undelivered response. The marker moves before the
// post, so a response is never posted twice.
func (c *Coordinator) HandleSignal(ctx context.Context, s *session.Session, sig hooks.Signal) error {
	s.RecordSignal(sig.Kind, sig.ObservedAt)
	s.SetTranscriptPath(sig.TranscriptPath)

	log := coordLog.With(slog.String("session_id", s.ID), slog.String("signal", sig.Kind))
	if sig.Kind != c.opts.AuthoritativeKind {
		log.Debug("signal_recorded")
		return nil
	}

	path := s.TranscriptPath()
	if path == "" {
		log.Warn("signal_without_transcript", slog.String("work_dir", sig.WorkDir))
		return nil
	}

	for attempt := 1; attempt <= maxMarkerAttempts; attempt++ {
		marker := s.Marker()
		res, err := transcript.Latest(path, marker)
		if err != nil {
			log.Error("transcript_read_failed", slog.String("path", path), slog.String("error", err.Error()))
			return err
		}
		if !res.New {
			log.Debug("no_new_content", slog.String("path", path), slog.String("marker", marker))
			s.SetState(session.StateIdle)
			return nil
		}
		if !s.CompareAndSwapMarker(marker, res.Marker) {
			log.Debug("marker_race_retry", slog.Int("attempt", attempt))
			continue
		}

		out := chat.OutboundMessage{
			ConversationID: s.ConversationID(),
			ThreadID:       s.ThreadID,
			Text:           res.Text,
		}
		s.SetState(session.StateIdle)
		if err := c.sink.Post(ctx, out); err != nil {
			log.Error("reply_post_failed",
				slog.String("path", path),
				slog.String("entry", res.Marker),
				slog.String("error", err.Error()))
			c.notify(ctx, out.ConversationID, out.ThreadID, "The agent replied, but the reply could not be posted: "+err.Error())
			return err
		}
		log.Info("reply_delivered",
			slog.String("conversation", out.ConversationID),
			slog.String("thread", out.ThreadID),
			slog.String("entry", res.Marker),
			slog.String("preview", preview(res.Text)))
		return nil
	}
	log.Warn("marker_contention", slog.String("path", path))
	return ErrMarkerContention
}

// notify posts a best-effort diagnostic into the conversation.
func (c *Coordinator) notify(ctx context.Context, conversationID, threadID, text string) {
	if conversationID == "" {
		return
	}
	err := c.sink.Post(ctx, chat.OutboundMessage{ConversationID: conversationID, ThreadID: threadID, Text: ":warning: " + text})
	if err != nil {
		coordLog.Warn("diagnostic_post_failed", slog.String("conversation", conversationID), slog.String("error", err.Error()))
	}
}

func (c *Coordinator) waitIdle(ctx context.Context, s *session.Session) {
	deadline := time.Now().Add(c.opts.PromptTimeout)
	for s.State() != session.StateIdle && time.Now().Before(deadline) {
		select {
		case <-ctx.Done():
			return
		case <-time.After(idlePoll):
		}
	}
}

// ForwardText is what gets typed into the agent for msg: the text prefixed
// with the sender's display name when known.
func ForwardText(msg chat.InboundMessage) string {
	text := strings.TrimSpace(msg.Text)
	if msg.SenderDisplayName == "" {
		return text
	}
	return msg.SenderDisplayName + ": " + text
}

func preview(text string) string {
	flat := strings.Join(strings.Fields(text), " ")
	return runewidth.Truncate(flat, previewWidth, "…")
}
