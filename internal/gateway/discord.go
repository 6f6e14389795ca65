package gateway

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/bwmarrin/discordgo"
	"go.uber.org/zap"
)

// DiscordAdapter talks to Discord through the bot gateway.
type DiscordAdapter struct {
	token        string
	alertChannel string
	session      *discordgo.Session
	handler      MessageHandler
	connected    bool
	connectedAt  time.Time
	lastError    string
	mu           sync.RWMutex
	logger       *zap.Logger
}

// NewDiscordAdapter creates a Discord gateway adapter.
func NewDiscordAdapter(token, alertChannel string, logger *zap.Logger) *DiscordAdapter {
	return &DiscordAdapter{
		token:        token,
		alertChannel: alertChannel,
		logger:       logger,
	}
}

func (a *DiscordAdapter) Platform() string { return "discord" }

func (a *DiscordAdapter) OnMessage(h MessageHandler) {
	a.mu.Lock()
	defer a.mu.Unlock()
	a.handler = h
}

// Connect opens the Discord gateway websocket.
func (a *DiscordAdapter) Connect(_ context.Context) error {
	session, err := discordgo.New("Bot " + a.token)
	if err != nil {
		a.setError(fmt.Errorf("session create: %w", err))
		return fmt.Errorf("discord session: %w", err)
	}
	session.Identify.Intents = discordgo.IntentsGuildMessages | discordgo.IntentsDirectMessages
	session.AddHandler(a.onMessageCreate)

	if err := session.Open(); err != nil {
		a.setError(fmt.Errorf("open failed: %w", err))
		return fmt.Errorf("discord open: %w", err)
	}

	a.mu.Lock()
	a.session = session
	a.connected = true
	a.connectedAt = time.Now()
	a.lastError = ""
	a.mu.Unlock()

	guildCount := len(session.State.Guilds)
	if guildCount == 0 {
		a.logger.Warn("discord bot not added to any server, invite it first")
	}
	a.logger.Info("discord adapter connected",
		zap.String("user", session.State.User.Username),
		zap.Int("guilds", guildCount))
	return nil
}

func (a *DiscordAdapter) setError(err error) {
	a.mu.Lock()
	defer a.mu.Unlock()
	a.connected = false
	a.lastError = err.Error()
}

func (a *DiscordAdapter) onMessageCreate(s *discordgo.Session, m *discordgo.MessageCreate) {
	if m.Author == nil || m.Author.ID == s.State.User.ID {
		return
	}
	a.mu.RLock()
	h := a.handler
	a.mu.RUnlock()
	if h == nil {
		return
	}

	ctx := context.Background()
	reply := h(ctx, &InboundMessage{
		Platform:  "discord",
		ChannelID: m.ChannelID,
		UserID:    m.Author.ID,
		UserName:  m.Author.Username,
		Content:   m.Content,
		Timestamp: m.Timestamp,
		ReplyTo:   m.ID,
	})
	if reply == "" {
		return
	}
	if err := a.Send(ctx, &OutboundMessage{Platform: "discord", ChannelID: m.ChannelID, Content: reply}); err != nil {
		a.logger.Warn("discord reply failed", zap.Error(err))
	}
}

// Send posts a message to a Discord channel.
func (a *DiscordAdapter) Send(_ context.Context, msg *OutboundMessage) error {
	a.mu.RLock()
	session := a.session
	a.mu.RUnlock()
	if session == nil {
		return fmt.Errorf("discord send: not connected")
	}
	if _, err := session.ChannelMessageSend(msg.ChannelID, msg.Content); err != nil {
		return fmt.Errorf("discord send: %w", err)
	}
	return nil
}

// Broadcast posts alert to the alert channel, or to the first writable
// text channel of every guild when none is configured.
func (a *DiscordAdapter) Broadcast(ctx context.Context, alert *Alert) error {
	content := discordText(alert)
	if a.alertChannel != "" {
		return a.Send(ctx, &OutboundMessage{Platform: "discord", ChannelID: a.alertChannel, Content: content})
	}

	a.mu.RLock()
	session := a.session
	a.mu.RUnlock()
	if session == nil {
		return fmt.Errorf("discord broadcast: not connected")
	}
	for _, guild := range session.State.Guilds {
		channels, err := session.GuildChannels(guild.ID)
		if err != nil {
			a.logger.Warn("discord list channels failed",
				zap.String("guild", guild.ID), zap.Error(err))
			continue
		}
		for _, ch := range channels {
			if ch.Type == discordgo.ChannelTypeGuildText {
				if _, err := session.ChannelMessageSend(ch.ID, content); err == nil {
					break
				}
			}
		}
	}
	return nil
}

func discordText(alert *Alert) string {
	if alert.Level != "" {
		return fmt.Sprintf("**[%s] %s**\n%s", alert.Level, alert.Category, alert.Content)
	}
	return fmt.Sprintf("**%s**\n%s", alert.Category, alert.Content)
}

// Close shuts down the Discord session.
func (a *DiscordAdapter) Close() error {
	a.mu.Lock()
	defer a.mu.Unlock()
	if a.session != nil {
		a.connected = false
		return a.session.Close()
	}
	return nil
}

func (a *DiscordAdapter) Status() AdapterStatus {
	a.mu.RLock()
	defer a.mu.RUnlock()
	s := AdapterStatus{
		Platform:  "discord",
		Connected: a.connected,
		Error:     a.lastError,
	}
	if a.connected && a.session != nil && a.session.State != nil {
		t := a.connectedAt
		s.ConnectedAt = &t
		s.Details = fmt.Sprintf("bot=%s, guilds=%d, alert_channel=%s",
			a.session.State.User.Username, len(a.session.State.Guilds), a.alertChannel)
	}
	return s
}
