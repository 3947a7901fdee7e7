// Package chat defines the messages exchanged with a chat platform and the
// adapter contract the coordinator consumes.
package chat

import (
	"context"
	"time"
)

// InboundMessage is a user message addressed to the bot.
type InboundMessage struct {
	ConversationID string
	// ThreadID is empty for messages on the main timeline.
	ThreadID          string
	SenderDisplayName string
	Text              string
	ReceivedAt        time.Time
}

// InThread reports whether the message belongs to a reply thread.
func (m InboundMessage) InThread() bool {
	return m.ThreadID != ""
}

// OutboundMessage is a reply posted back to a conversation or thread.
type OutboundMessage struct {
	ConversationID string
	ThreadID       string
	Text           string
}

// Source delivers inbound messages. The channel closes when the source stops.
type Source interface {
	Messages() <-chan InboundMessage
}

// Sink posts outbound messages.
type Sink interface {
	Post(ctx context.Context, msg OutboundMessage) error
}

// Adapter is a complete chat platform binding. Run blocks until ctx is
// done or the connection fails.
type Adapter interface {
	Source
	Sink
	Run(ctx context.Context) error
}
