package gateway

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/slack-go/slack"
	"github.com/slack-go/slack/slackevents"
	"github.com/slack-go/slack/socketmode"
	"go.uber.org/zap"
)

// SlackAdapter talks to Slack over Socket Mode. Alerts go to a fixed
// channel; direct conversation is answered in thread.
type SlackAdapter struct {
	client       *slack.Client
	socket       *socketmode.Client
	alertChannel string
	handler      MessageHandler
	connected    bool
	connectedAt  time.Time
	lastError    string
	mu           sync.RWMutex
	logger       *zap.Logger
}

// NewSlackAdapter creates a Slack gateway adapter.
// botToken is the Bot User OAuth Token (xoxb-...).
// appToken is the App-Level Token (xapp-...) for Socket Mode.
func NewSlackAdapter(botToken, appToken, alertChannel string, logger *zap.Logger) *SlackAdapter {
	client := slack.New(botToken,
		slack.OptionAppLevelToken(appToken),
	)

	socket := socketmode.New(client,
		socketmode.OptionLog(zap.NewStdLog(logger)),
	)

	return &SlackAdapter{
		client:       client,
		socket:       socket,
		alertChannel: alertChannel,
		logger:       logger,
	}
}

func (a *SlackAdapter) Platform() string { return "slack" }

func (a *SlackAdapter) OnMessage(h MessageHandler) {
	a.mu.Lock()
	defer a.mu.Unlock()
	a.handler = h
}

// Connect checks the token and starts the Socket Mode event loop in the
// background.
func (a *SlackAdapter) Connect(ctx context.Context) error {
	if _, err := a.client.AuthTestContext(ctx); err != nil {
		a.setError(err)
		return fmt.Errorf("slack auth: %w", err)
	}

	go a.handleEvents(ctx)
	go func() {
		if err := a.socket.RunContext(ctx); err != nil && ctx.Err() == nil {
			a.setError(err)
			a.logger.Error("slack socket mode error", zap.Error(err))
		}
	}()

	a.mu.Lock()
	a.connected = true
	a.connectedAt = time.Now()
	a.lastError = ""
	a.mu.Unlock()
	a.logger.Info("slack adapter connected via socket mode")
	return nil
}

func (a *SlackAdapter) setError(err error) {
	a.mu.Lock()
	defer a.mu.Unlock()
	a.connected = false
	a.lastError = err.Error()
}

func (a *SlackAdapter) handleEvents(ctx context.Context) {
	for {
		select {
		case <-ctx.Done():
			return
		case evt, ok := <-a.socket.Events:
			if !ok {
				return
			}
			a.processEvent(ctx, evt)
		}
	}
}

func (a *SlackAdapter) processEvent(ctx context.Context, evt socketmode.Event) {
	if evt.Type != socketmode.EventTypeEventsAPI {
		return
	}
	eventsAPI, ok := evt.Data.(slackevents.EventsAPIEvent)
	if !ok {
		return
	}
	a.socket.Ack(*evt.Request)

	if eventsAPI.Type != slackevents.CallbackEvent {
		return
	}
	if inner, ok := eventsAPI.InnerEvent.Data.(*slackevents.MessageEvent); ok {
		// Bot messages would loop back into the liaison.
		if inner.BotID != "" {
			return
		}
		go a.handleSlackMessage(ctx, inner)
	}
}

func (a *SlackAdapter) handleSlackMessage(ctx context.Context, ev *slackevents.MessageEvent) {
	a.mu.RLock()
	h := a.handler
	a.mu.RUnlock()
	if h == nil {
		return
	}

	threadTS := ev.ThreadTimeStamp
	if threadTS == "" {
		threadTS = ev.TimeStamp
	}
	reply := h(ctx, &InboundMessage{
		Platform:  "slack",
		ChannelID: ev.Channel,
		UserID:    ev.User,
		UserName:  ev.User,
		Content:   ev.Text,
		Timestamp: time.Now(),
		ReplyTo:   threadTS,
	})
	if reply == "" {
		return
	}
	if err := a.Send(ctx, &OutboundMessage{Platform: "slack", ChannelID: ev.Channel, Content: reply, ReplyTo: threadTS}); err != nil {
		a.logger.Warn("slack reply failed", zap.Error(err))
	}
}

// Send posts a message to a Slack channel.
func (a *SlackAdapter) Send(ctx context.Context, msg *OutboundMessage) error {
	opts := []slack.MsgOption{
		slack.MsgOptionText(msg.Content, false),
	}
	if msg.ReplyTo != "" {
		opts = append(opts, slack.MsgOptionTS(msg.ReplyTo))
	}

	_, _, err := a.client.PostMessageContext(ctx, msg.ChannelID, opts...)
	if err != nil {
		a.logger.Error("slack send failed",
			zap.String("channel", msg.ChannelID), zap.Error(err))
		return fmt.Errorf("slack send: %w", err)
	}
	return nil
}

// Broadcast posts alert to the alert channel, or to every channel the bot
// is a member of when none is configured.
func (a *SlackAdapter) Broadcast(ctx context.Context, alert *Alert) error {
	text := slackText(alert)
	if a.alertChannel != "" {
		return a.Send(ctx, &OutboundMessage{Platform: "slack", ChannelID: a.alertChannel, Content: text})
	}

	params := &slack.GetConversationsForUserParameters{
		Types: []string{"public_channel", "private_channel"},
		Limit: 200,
	}
	channels, _, err := a.client.GetConversationsForUserContext(ctx, params)
	if err != nil {
		return fmt.Errorf("slack list channels: %w", err)
	}
	for _, ch := range channels {
		if _, _, err := a.client.PostMessageContext(ctx, ch.ID, slack.MsgOptionText(text, false)); err != nil {
			a.logger.Warn("slack broadcast to channel failed",
				zap.String("channel", ch.ID), zap.Error(err))
		}
	}
	return nil
}

func slackText(alert *Alert) string {
	if alert.Level != "" {
		return fmt.Sprintf("*[%s] %s*\n%s", alert.Level, alert.Category, alert.Content)
	}
	return fmt.Sprintf("*%s*\n%s", alert.Category, alert.Content)
}

// Status reports the Socket Mode connection.
func (a *SlackAdapter) Status() AdapterStatus {
	a.mu.RLock()
	defer a.mu.RUnlock()
	s := AdapterStatus{Platform: "slack", Connected: a.connected, Error: a.lastError, Details: "alert_channel=" + a.alertChannel}
	if a.connected {
		t := a.connectedAt
		s.ConnectedAt = &t
	}
	return s
}

// Close is a no-op; the socket context cancellation handles shutdown.
func (a *SlackAdapter) Close() error {
	return nil
}
