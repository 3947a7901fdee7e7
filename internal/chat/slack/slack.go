// Package slack binds the bridge to Slack over Socket Mode.
package slack

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"regexp"
	"strings"
	"sync"
	"time"

	goslack "github.com/slack-go/slack"
	"github.com/slack-go/slack/slackevents"
	"github.com/slack-go/slack/socketmode"
	"golang.org/x/sync/errgroup"
	"golang.org/x/time/rate"

	"github.com/asheshgoplani/ccterm/internal/chat"
	"github.com/asheshgoplani/ccterm/internal/config"
	"github.com/asheshgoplani/ccterm/internal/logging"
	"github.com/asheshgoplani/ccterm/internal/transcript"
)

var chatLog = logging.ForComponent(logging.CompChat)

const (
	authAttempts = 3
	inboundQueue = 64
)

var mentionPattern = regexp.MustCompile(`<@([UW][A-Z0-9]+)(?:\|([^>]*))?>`)

// webAPI is the part of the Slack Web API the adapter calls.
type webAPI interface {
	AuthTestContext(ctx context.Context) (*goslack.AuthTestResponse, error)
	GetUserInfoContext(ctx context.Context, user string) (*goslack.User, error)
	PostMessageContext(ctx context.Context, channelID string, options ...goslack.MsgOption) (string, string, error)
}

// Options configures the adapter.
type Options struct {
	BotToken       string
	AppToken       string
	ChannelID      string
	ListenMode     string
	PostRatePerSec float64
	AllowedUserIDs []string
}

// OptionsFromConfig maps the [slack] config table.
func OptionsFromConfig(s config.SlackSettings) Options {
	return Options{
		BotToken:       s.BotToken,
		AppToken:       s.AppToken,
		ChannelID:      s.ChannelID,
		ListenMode:     s.ListenMode,
		PostRatePerSec: s.PostRatePerSec,
		AllowedUserIDs: s.AllowedUserIDs,
	}
}

// Adapter receives mentions and channel messages and posts replies.
type Adapter struct {
	opts     Options
	api      webAPI
	socket   *socketmode.Client
	ack      func(socketmode.Request)
	messages chan chat.InboundMessage
	limiter  *rate.Limiter
	allowed  map[string]bool
	backoff  func(attempt int) time.Duration

	mu        sync.Mutex
	botUserID string
	names     map[string]string
}

// New creates a Socket Mode adapter. Call Run to connect.
func New(opts Options) (*Adapter, error) {
	if opts.BotToken == "" || opts.AppToken == "" {
		return nil, errors.New("slack: bot token and app token are required")
	}
	api := goslack.New(opts.BotToken,
		goslack.OptionAppLevelToken(opts.AppToken),
		goslack.OptionLog(logging.NewStdLogger(logging.CompChat)))
	socket := socketmode.New(api, socketmode.OptionLog(logging.NewStdLogger(logging.CompChat)))

	a := newAdapter(opts, api)
	a.socket = socket
	a.ack = func(req socketmode.Request) { socket.Ack(req) }
	return a, nil
}

func newAdapter(opts Options, api webAPI) *Adapter {
	if opts.ListenMode == "" {
		opts.ListenMode = config.ListenMentions
	}
	if opts.PostRatePerSec <= 0 {
		opts.PostRatePerSec = 1
	}
	allowed := make(map[string]bool, len(opts.AllowedUserIDs))
	for _, id := range opts.AllowedUserIDs {
		allowed[id] = true
	}
	return &Adapter{
		opts:     opts,
		api:      api,
		ack:      func(socketmode.Request) {},
		messages: make(chan chat.InboundMessage, inboundQueue),
		limiter:  rate.NewLimiter(rate.Limit(opts.PostRatePerSec), 1),
		allowed:  allowed,
		backoff:  func(attempt int) time.Duration { return time.Duration(1<<attempt) * time.Second },
		names:    make(map[string]string),
	}
}

// Messages implements chat.Source. The channel closes when Run returns.
func (a *Adapter) Messages() <-chan chat.InboundMessage {
	return a.messages
}

// Run authenticates, then serves Socket Mode events until ctx is done.
func (a *Adapter) Run(ctx context.Context) error {
	defer close(a.messages)

	if err := a.authorize(ctx); err != nil {
		return err
	}
	if a.socket == nil {
		<-ctx.Done()
		return nil
	}

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		err := a.socket.RunContext(gctx)
		if errors.Is(err, context.Canceled) {
			return nil
		}
		return err
	})
	g.Go(func() error {
		for {
			select {
			case <-gctx.Done():
				return nil
			case evt, ok := <-a.socket.Events:
				if !ok {
					return nil
				}
				a.handleSocketEvent(gctx, evt)
			}
		}
	})
	err := g.Wait()
	if ctx.Err() != nil {
		return nil
	}
	return err
}

// authorize resolves the bot's own user id, retrying transient failures.
func (a *Adapter) authorize(ctx context.Context) error {
	var lastErr error
	for attempt := 0; attempt < authAttempts; attempt++ {
		resp, err := a.api.AuthTestContext(ctx)
		if err == nil {
			a.mu.Lock()
			a.botUserID = resp.UserID
			a.mu.Unlock()
			chatLog.Info("slack_authorized",
				slog.String("bot_user", resp.UserID),
				slog.String("team", resp.Team),
				slog.String("listen_mode", a.opts.ListenMode))
			return nil
		}
		lastErr = err
		chatLog.Warn("slack_auth_test_failed", slog.Int("attempt", attempt+1), slog.String("error", err.Error()))
		if attempt == authAttempts-1 {
			break
		}
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-time.After(a.backoff(attempt)):
		}
	}
	return fmt.Errorf("slack auth.test failed after %d attempts: %w", authAttempts, lastErr)
}

func (a *Adapter) handleSocketEvent(ctx context.Context, evt socketmode.Event) {
	switch evt.Type {
	case socketmode.EventTypeConnecting:
		chatLog.Info("slack_connecting")
	case socketmode.EventTypeConnected:
		chatLog.Info("slack_connected")
	case socketmode.EventTypeConnectionError:
		chatLog.Warn("slack_connection_error")
	case socketmode.EventTypeEventsAPI:
		ev, ok := evt.Data.(slackevents.EventsAPIEvent)
		if !ok {
			return
		}
		if evt.Request != nil {
			a.ack(*evt.Request)
		}
		a.handleEventsAPI(ctx, ev)
	}
}

// event is the subset of a message or mention payload the adapter reads.
type event struct {
	user     string
	botID    string
	channel  string
	text     string
	ts       string
	threadTS string
}

func (a *Adapter) handleEventsAPI(ctx context.Context, ev slackevents.EventsAPIEvent) {
	if ev.Type != slackevents.CallbackEvent {
		return
	}
	switch inner := ev.InnerEvent.Data.(type) {
	case *slackevents.AppMentionEvent:
		a.accept(ctx, event{
			user:     inner.User,
			botID:    inner.BotID,
			channel:  inner.Channel,
			text:     inner.Text,
			ts:       inner.TimeStamp,
			threadTS: inner.ThreadTimeStamp,
		})

	case *slackevents.MessageEvent:
		if a.opts.ListenMode != config.ListenAll || inner.SubType != "" {
			return
		}
		if a.opts.ChannelID != "" && inner.Channel != a.opts.ChannelID {
			return
		}
		// Mentions also arrive as app_mention.
		if a.mentionsBot(inner.Text) {
			return
		}
		a.accept(ctx, event{
			user:     inner.User,
			botID:    inner.BotID,
			channel:  inner.Channel,
			text:     inner.Text,
			ts:       inner.TimeStamp,
			threadTS: inner.ThreadTimeStamp,
		})
	}
}

func (a *Adapter) accept(ctx context.Context, ev event) {
	if ev.botID != "" {
		return
	}
	if len(a.allowed) > 0 && !a.allowed[ev.user] {
		chatLog.Warn("slack_unauthorized_user", slog.String("user", ev.user), slog.String("channel", ev.channel))
		return
	}
	msg, ok := a.toInbound(ctx, ev)
	if !ok {
		chatLog.Debug("slack_event_ignored", slog.String("channel", ev.channel), slog.Int("text_len", len(ev.text)))
		return
	}
	select {
	case a.messages <- msg:
	case <-ctx.Done():
	}
}

func (a *Adapter) toInbound(ctx context.Context, ev event) (chat.InboundMessage, bool) {
	conversation := ev.channel
	if conversation == "" {
		conversation = a.opts.ChannelID
	}
	text := a.formatText(ctx, ev.text)
	if conversation == "" || text == "" {
		return chat.InboundMessage{}, false
	}

	received := time.Now()
	if nanos, ok := transcript.EpochNanos(ev.ts); ok {
		received = time.Unix(0, nanos)
	}
	return chat.InboundMessage{
		ConversationID:    conversation,
		ThreadID:          ev.threadTS,
		SenderDisplayName: a.displayName(ctx, ev.user),
		Text:              text,
		ReceivedAt:        received,
	}, true
}

// formatText drops the bot's own mention and rewrites other user mentions
// as @DisplayName.
func (a *Adapter) formatText(ctx context.Context, text string) string {
	bot := a.botID()
	out := mentionPattern.ReplaceAllStringFunc(text, func(token string) string {
		m := mentionPattern.FindStringSubmatch(token)
		if m[1] == bot {
			return ""
		}
		if m[2] != "" {
			return "@" + m[2]
		}
		return "@" + a.displayName(ctx, m[1])
	})
	return strings.TrimSpace(out)
}

func (a *Adapter) mentionsBot(text string) bool {
	bot := a.botID()
	if bot == "" {
		return false
	}
	for _, m := range mentionPattern.FindAllStringSubmatch(text, -1) {
		if m[1] == bot {
			return true
		}
	}
	return false
}

func (a *Adapter) botID() string {
	a.mu.Lock()
	defer a.mu.Unlock()
	return a.botUserID
}

// displayName resolves a user id through users.info. Lookups that fail
// fall back to the raw id and are retried next time.
func (a *Adapter) displayName(ctx context.Context, userID string) string {
	if userID == "" {
		return ""
	}
	a.mu.Lock()
	name, ok := a.names[userID]
	a.mu.Unlock()
	if ok {
		return name
	}

	user, err := a.api.GetUserInfoContext(ctx, userID)
	if err != nil {
		chatLog.Warn("slack_user_lookup_failed", slog.String("user", userID), slog.String("error", err.Error()))
		return userID
	}
	switch {
	case user.Profile.DisplayName != "":
		name = user.Profile.DisplayName
	case user.RealName != "":
		name = user.RealName
	case user.Name != "":
		name = user.Name
	default:
		name = userID
	}
	a.mu.Lock()
	a.names[userID] = name
	a.mu.Unlock()
	return name
}

// Post implements chat.Sink. Long text is split across several messages.
func (a *Adapter) Post(ctx context.Context, msg chat.OutboundMessage) error {
	if strings.TrimSpace(msg.Text) == "" {
		return nil
	}
	chunks := SplitMessage(msg.Text, MaxMessageBytes)
	for i, chunk := range chunks {
		if err := a.limiter.Wait(ctx); err != nil {
			return err
		}
		options := []goslack.MsgOption{goslack.MsgOptionText(chunk, false)}
		if msg.ThreadID != "" {
			options = append(options, goslack.MsgOptionTS(msg.ThreadID))
		}
		if _, _, err := a.api.PostMessageContext(ctx, msg.ConversationID, options...); err != nil {
			return fmt.Errorf("post to %s (part %d/%d): %w", msg.ConversationID, i+1, len(chunks), err)
		}
	}
	chatLog.Debug("slack_posted",
		slog.String("channel", msg.ConversationID),
		slog.String("thread", msg.ThreadID),
		slog.Int("parts", len(chunks)))
	return nil
}
