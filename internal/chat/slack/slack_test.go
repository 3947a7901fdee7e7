package slack

import (
	"context"
	"errors"
	"strings"
	"sync"
	"testing"
	"time"

	goslack "github.com/slack-go/slack"
	"github.com/slack-go/slack/slackevents"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/asheshgoplani/ccterm/internal/chat"
	"github.com/asheshgoplani/ccterm/internal/config"
)

type post struct {
	channel string
	text    string
	thread  string
}

type fakeAPI struct {
	mu        sync.Mutex
	authErrs  int
	authCalls int
	users     map[string]*goslack.User
	lookups   int
	posts     []post
	postErr   error
}

func (f *fakeAPI) AuthTestContext(context.Context) (*goslack.AuthTestResponse, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.authCalls++
	if f.authCalls <= f.authErrs {
		return nil, errors.New("timeout")
	}
	return &goslack.AuthTestResponse{UserID: "UBOT", Team: "acme"}, nil
}

func (f *fakeAPI) GetUserInfoContext(_ context.Context, user string) (*goslack.User, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.lookups++
	u, ok := f.users[user]
	if !ok {
		return nil, errors.New("user_not_found")
	}
	return u, nil
}

func (f *fakeAPI) PostMessageContext(_ context.Context, channel string, options ...goslack.MsgOption) (string, string, error) {
	_, values, err := goslack.UnsafeApplyMsgOptions("", channel, "", options...)
	if err != nil {
		return "", "", err
	}
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.postErr != nil {
		return "", "", f.postErr
	}
	f.posts = append(f.posts, post{channel: channel, text: values.Get("text"), thread: values.Get("thread_ts")})
	return channel, "1.0", nil
}

func newTestAdapter(t *testing.T, opts Options) (*Adapter, *fakeAPI) {
	t.Helper()
	api := &fakeAPI{users: map[string]*goslack.User{
		"UANN": {ID: "UANN", Name: "ann", Profile: goslack.UserProfile{DisplayName: "Ann"}},
		"UBOB": {ID: "UBOB", Name: "bob", RealName: "Bob Stone"},
	}}
	opts.PostRatePerSec = 1000
	a := newAdapter(opts, api)
	a.backoff = func(int) time.Duration { return time.Millisecond }
	require.NoError(t, a.authorize(context.Background()))
	return a, api
}

func callback(data interface{}) slackevents.EventsAPIEvent {
	return slackevents.EventsAPIEvent{
		Type:       slackevents.CallbackEvent,
		InnerEvent: slackevents.EventsAPIInnerEvent{Data: data},
	}
}

func receive(t *testing.T, a *Adapter) chat.InboundMessage {
	t.Helper()
	select {
	case msg := <-a.messages:
		return msg
	default:
		t.Fatal("no inbound message")
		return chat.InboundMessage{}
	}
}

func assertNothing(t *testing.T, a *Adapter) {
	t.Helper()
	select {
	case msg := <-a.messages:
		t.Fatalf("unexpected inbound message %+v", msg)
	default:
	}
}

func TestAppMentionBecomesInbound(t *testing.T) {
	a, _ := newTestAdapter(t, Options{})
	a.handleEventsAPI(context.Background(), callback(&slackevents.AppMentionEvent{
		User:      "UANN",
		Channel:   "C1",
		Text:      "<@UBOT> ask <@UBOB> about <@UCAROL|carol>",
		TimeStamp: "1700000000.000200",
	}))

	msg := receive(t, a)
	assert.Equal(t, "C1", msg.ConversationID)
	assert.Empty(t, msg.ThreadID)
	assert.Equal(t, "Ann", msg.SenderDisplayName)
	assert.Equal(t, "ask @Bob Stone about @carol", msg.Text)
	assert.Equal(t, time.Unix(1700000000, 200000), msg.ReceivedAt)
}

func TestThreadedMention(t *testing.T) {
	a, _ := newTestAdapter(t, Options{})
	a.handleEventsAPI(context.Background(), callback(&slackevents.AppMentionEvent{
		User:            "UANN",
		Channel:         "C1",
		Text:            "<@UBOT> follow up",
		TimeStamp:       "1700000100.000000",
		ThreadTimeStamp: "1700000000.000200",
	}))
	msg := receive(t, a)
	assert.Equal(t, "1700000000.000200", msg.ThreadID)
	assert.True(t, msg.InThread())
}

func TestConversationFallsBackToConfiguredChannel(t *testing.T) {
	a, _ := newTestAdapter(t, Options{ChannelID: "CDEFAULT"})
	a.handleEventsAPI(context.Background(), callback(&slackevents.AppMentionEvent{User: "UANN", Text: "<@UBOT> hi"}))
	assert.Equal(t, "CDEFAULT", receive(t, a).ConversationID)

	a.handleEventsAPI(context.Background(), callback(&slackevents.AppMentionEvent{User: "UANN", Channel: "C7", Text: "<@UBOT> hi"}))
	assert.Equal(t, "C7", receive(t, a).ConversationID)
}

func TestIgnoredEvents(t *testing.T) {
	a, _ := newTestAdapter(t, Options{ListenMode: config.ListenMentions, AllowedUserIDs: []string{"UANN"}})
	ctx := context.Background()

	a.handleEventsAPI(ctx, callback(&slackevents.AppMentionEvent{User: "UANN", Channel: "C1", Text: "<@UBOT>   "}))
	a.handleEventsAPI(ctx, callback(&slackevents.AppMentionEvent{BotID: "B1", Channel: "C1", Text: "<@UBOT> loop"}))
	a.handleEventsAPI(ctx, callback(&slackevents.AppMentionEvent{User: "UBOB", Channel: "C1", Text: "<@UBOT> let me in"}))
	a.handleEventsAPI(ctx, callback(&slackevents.MessageEvent{User: "UANN", Channel: "C1", Text: "plain message"}))
	a.handleEventsAPI(ctx, slackevents.EventsAPIEvent{Type: slackevents.URLVerification})
	assertNothing(t, a)
}

func TestListenAllMode(t *testing.T) {
	a, _ := newTestAdapter(t, Options{ListenMode: config.ListenAll, ChannelID: "C1"})
	ctx := context.Background()

	a.handleEventsAPI(ctx, callback(&slackevents.MessageEvent{User: "UANN", Channel: "C1", Text: "plain message", TimeStamp: "1.5"}))
	msg := receive(t, a)
	assert.Equal(t, "plain message", msg.Text)
	assert.Equal(t, "Ann", msg.SenderDisplayName)

	a.handleEventsAPI(ctx, callback(&slackevents.MessageEvent{User: "UANN", Channel: "C2", Text: "elsewhere"}))
	a.handleEventsAPI(ctx, callback(&slackevents.MessageEvent{User: "UANN", Channel: "C1", Text: "edited", SubType: "message_changed"}))
	a.handleEventsAPI(ctx, callback(&slackevents.MessageEvent{BotID: "B1", Channel: "C1", Text: "from a bot"}))
	a.handleEventsAPI(ctx, callback(&slackevents.MessageEvent{User: "UANN", Channel: "C1", Text: "<@UBOT> mention"}))
	assertNothing(t, a)
}

func TestDisplayNameCachedAndFallsBack(t *testing.T) {
	a, api := newTestAdapter(t, Options{})
	ctx := context.Background()

	assert.Equal(t, "Ann", a.displayName(ctx, "UANN"))
	assert.Equal(t, "Ann", a.displayName(ctx, "UANN"))
	assert.Equal(t, 1, api.lookups)

	assert.Equal(t, "UGHOST", a.displayName(ctx, "UGHOST"))
	assert.Equal(t, "UGHOST", a.displayName(ctx, "UGHOST"))
	assert.Equal(t, 3, api.lookups)
	assert.Empty(t, a.displayName(ctx, ""))
}

func TestAuthorizeRetries(t *testing.T) {
	api := &fakeAPI{authErrs: 2}
	a := newAdapter(Options{}, api)
	a.backoff = func(int) time.Duration { return time.Millisecond }
	require.NoError(t, a.authorize(context.Background()))
	assert.Equal(t, 3, api.authCalls)
	assert.Equal(t, "UBOT", a.botID())

	api = &fakeAPI{authErrs: 5}
	a = newAdapter(Options{}, api)
	a.backoff = func(int) time.Duration { return time.Millisecond }
	err := a.authorize(context.Background())
	assert.ErrorContains(t, err, "after 3 attempts")
	assert.Equal(t, 3, api.authCalls)
}

func TestPost(t *testing.T) {
	a, api := newTestAdapter(t, Options{})
	ctx := context.Background()

	require.NoError(t, a.Post(ctx, chat.OutboundMessage{ConversationID: "C1", Text: "hi"}))
	require.NoError(t, a.Post(ctx, chat.OutboundMessage{ConversationID: "C1", ThreadID: "1700000000.000200", Text: "in thread"}))
	require.NoError(t, a.Post(ctx, chat.OutboundMessage{ConversationID: "C1", Text: "  "}))

	assert.Equal(t, []post{
		{channel: "C1", text: "hi"},
		{channel: "C1", text: "in thread", thread: "1700000000.000200"},
	}, api.posts)

	long := strings.Repeat("a", MaxMessageBytes) + "\n" + "tail"
	require.NoError(t, a.Post(ctx, chat.OutboundMessage{ConversationID: "C1", Text: long}))
	require.Len(t, api.posts, 4)
	assert.Equal(t, "tail", api.posts[3].text)

	api.postErr = errors.New("channel_not_found")
	err := a.Post(ctx, chat.OutboundMessage{ConversationID: "CX", Text: "x"})
	assert.ErrorContains(t, err, "channel_not_found")
}

func TestRunWithoutSocketClosesMessages(t *testing.T) {
	a, _ := newTestAdapter(t, Options{})
	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- a.Run(ctx) }()
	cancel()
	require.NoError(t, <-done)
	_, ok := <-a.Messages()
	assert.False(t, ok)
}

func TestNewRequiresTokens(t *testing.T) {
	_, err := New(Options{BotToken: "xoxb-1"})
	assert.Error(t, err)
}
