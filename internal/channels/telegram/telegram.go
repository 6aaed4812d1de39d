// Package telegram is the Telegram Bot API channel adapter. It
// long-polls getUpdates for incoming messages, publishes them to the
// bus, and delivers the agent's replies, splitting long ones into
// API-sized chunks.
package telegram

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"

	"github.com/nugget/nova-agent/internal/bus"
	"github.com/nugget/nova-agent/internal/httpkit"
)

// Channel is the bus channel name this adapter claims.
const Channel = "telegram"

// MaxMessageLen is the Bot API limit for a single message.
const MaxMessageLen = 4096

// defaultBaseURL is the production Bot API endpoint.
const defaultBaseURL = "https://api.telegram.org"

// pollTimeout is the getUpdates long-poll window in seconds.
const pollTimeout = 30

// Config configures the adapter.
type Config struct {
	Token string
	// AllowedUsers restricts who may talk to the bot, matched against
	// numeric user ID or @username. Empty allows anyone.
	AllowedUsers []string
	// BaseURL overrides the Bot API endpoint, for tests.
	BaseURL string
}

// Bot runs the inbound poller and the outbound sender.
type Bot struct {
	logger  *slog.Logger
	client  *http.Client
	bus     *bus.Bus
	token   string
	baseURL string
	allowed map[string]bool

	// onCommand handles slash commands outside the agent loop. Keyed
	// by command name without the slash.
	onCommand map[string]func(ctx context.Context, chatID string) string

	offset int64

	cancel context.CancelFunc
	done   chan struct{}
}

// NewBot creates a Telegram adapter.
func NewBot(logger *slog.Logger, cfg Config, b *bus.Bus) *Bot {
	baseURL := cfg.BaseURL
	if baseURL == "" {
		baseURL = defaultBaseURL
	}

	allowed := make(map[string]bool, len(cfg.AllowedUsers))
	for _, u := range cfg.AllowedUsers {
		allowed[strings.TrimPrefix(u, "@")] = true
	}

	bot := &Bot{
		logger:    logger.With("component", "telegram"),
		client:    httpkit.NewClient(httpkit.WithTimeout(time.Duration(pollTimeout+15) * time.Second)),
		bus:       b,
		token:     cfg.Token,
		baseURL:   strings.TrimRight(baseURL, "/"),
		allowed:   allowed,
		onCommand: make(map[string]func(ctx context.Context, chatID string) string),
	}

	bot.OnCommand("start", func(context.Context, string) string {
		return "Hi, I'm Nova. Just talk to me like you would a person. /help lists commands."
	})
	bot.OnCommand("help", func(context.Context, string) string {
		return "Commands:\n/new - archive this conversation and start fresh\n/help - this message\n\nEverything else goes straight to me."
	})

	return bot
}

// OnCommand registers a handler for a slash command ("new", "help").
// The returned string, if non-empty, is sent back directly.
func (b *Bot) OnCommand(name string, handler func(ctx context.Context, chatID string) string) {
	b.onCommand[name] = handler
}

// Wire types, Bot API subset.

type update struct {
	UpdateID int64        `json:"update_id"`
	Message  *userMessage `json:"message"`
}

type userMessage struct {
	From *struct {
		ID       int64  `json:"id"`
		Username string `json:"username"`
	} `json:"from"`
	Chat struct {
		ID int64 `json:"id"`
	} `json:"chat"`
	Text string `json:"text"`
}

type apiResponse struct {
	OK          bool            `json:"ok"`
	Description string          `json:"description"`
	Result      json.RawMessage `json:"result"`
}

// Start launches the poll and send workers.
func (b *Bot) Start(ctx context.Context) {
	ctx, b.cancel = context.WithCancel(ctx)
	b.done = make(chan struct{})

	go func() {
		defer close(b.done)
		b.logger.Info("telegram channel started")
		go b.sendLoop(ctx)
		b.pollLoop(ctx)
	}()
}

// Stop halts both workers.
func (b *Bot) Stop() {
	if b.cancel != nil {
		b.cancel()
		<-b.done
	}
}

func (b *Bot) pollLoop(ctx context.Context) {
	for {
		if ctx.Err() != nil {
			b.logger.Info("telegram poller stopped")
			return
		}

		updates, err := b.getUpdates(ctx)
		if err != nil {
			if ctx.Err() != nil {
				return
			}
			b.logger.Warn("getUpdates failed", "error", err)
			select {
			case <-ctx.Done():
				return
			case <-time.After(5 * time.Second):
			}
			continue
		}

		for _, u := range updates {
			if u.UpdateID >= b.offset {
				b.offset = u.UpdateID + 1
			}
			b.handleUpdate(ctx, u)
		}
	}
}

func (b *Bot) handleUpdate(ctx context.Context, u update) {
	msg := u.Message
	if msg == nil || msg.Text == "" || msg.From == nil {
		return
	}

	if !b.userAllowed(msg.From.ID, msg.From.Username) {
		b.logger.Warn("message from unauthorized user",
			"user_id", msg.From.ID, "username", msg.From.Username)
		return
	}

	chatID := strconv.FormatInt(msg.Chat.ID, 10)

	if strings.HasPrefix(msg.Text, "/") {
		b.handleCommand(ctx, chatID, msg.Text)
		return
	}

	inbound := bus.InboundMessage{
		Channel:  Channel,
		SenderID: strconv.FormatInt(msg.From.ID, 10),
		ChatID:   chatID,
		Content:  msg.Text,
	}
	if err := b.bus.PublishInbound(ctx, inbound); err != nil {
		b.logger.Warn("publish inbound", "error", err)
	}
}

func (b *Bot) handleCommand(ctx context.Context, chatID, text string) {
	name := strings.TrimPrefix(strings.Fields(text)[0], "/")
	if at := strings.Index(name, "@"); at >= 0 {
		name = name[:at]
	}

	handler, ok := b.onCommand[name]
	if !ok {
		b.Send(ctx, chatID, fmt.Sprintf("Unknown command /%s. Try /help.", name))
		return
	}
	if reply := handler(ctx, chatID); reply != "" {
		b.Send(ctx, chatID, reply)
	}
}

func (b *Bot) userAllowed(id int64, username string) bool {
	if len(b.allowed) == 0 {
		return true
	}
	return b.allowed[strconv.FormatInt(id, 10)] || (username != "" && b.allowed[username])
}

// sendLoop delivers outbound bus messages addressed to this channel.
func (b *Bot) sendLoop(ctx context.Context) {
	for {
		out, err := b.bus.ConsumeOutbound(ctx)
		if err != nil {
			b.logger.Info("telegram sender stopped")
			return
		}
		if out.Channel != Channel {
			b.logger.Warn("dropping outbound message for unknown channel", "channel", out.Channel)
			continue
		}
		b.Send(ctx, out.ChatID, out.Content)
	}
}

// Send delivers text to a chat, split into API-sized chunks.
func (b *Bot) Send(ctx context.Context, chatID, text string) {
	for _, chunk := range SplitMessage(text, MaxMessageLen) {
		if err := b.sendMessage(ctx, chatID, chunk); err != nil {
			b.logger.Error("sendMessage failed", "chat_id", chatID, "error", err)
			return
		}
	}
}

func (b *Bot) getUpdates(ctx context.Context) ([]update, error) {
	params := url.Values{
		"timeout": {strconv.Itoa(pollTimeout)},
		"offset":  {strconv.FormatInt(b.offset, 10)},
	}

	var result apiResponse
	if err := b.call(ctx, "getUpdates", params, &result); err != nil {
		return nil, err
	}

	var updates []update
	if err := json.Unmarshal(result.Result, &updates); err != nil {
		return nil, fmt.Errorf("decode updates: %w", err)
	}
	return updates, nil
}

func (b *Bot) sendMessage(ctx context.Context, chatID, text string) error {
	params := url.Values{
		"chat_id": {chatID},
		"text":    {text},
	}
	return b.call(ctx, "sendMessage", params, &apiResponse{})
}

func (b *Bot) call(ctx context.Context, method string, params url.Values, out *apiResponse) error {
	endpoint := fmt.Sprintf("%s/bot%s/%s", b.baseURL, b.token, method)

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, endpoint, strings.NewReader(params.Encode()))
	if err != nil {
		return fmt.Errorf("build request: %w", err)
	}
	req.Header.Set("Content-Type", "application/x-www-form-urlencoded")

	resp, err := b.client.Do(req)
	if err != nil {
		return fmt.Errorf("%s: %w", method, err)
	}
	defer httpkit.DrainAndClose(resp.Body, 4096)

	if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
		return fmt.Errorf("%s: decode response: %w", method, err)
	}
	if !out.OK {
		return fmt.Errorf("%s: api error: %s", method, out.Description)
	}
	return nil
}

// SplitMessage breaks text into chunks of at most limit characters,
// preferring newline boundaries, then spaces, then a hard cut.
func SplitMessage(text string, limit int) []string {
	if text == "" {
		return nil
	}

	var chunks []string
	for len(text) > limit {
		cut := strings.LastIndex(text[:limit], "\n")
		if cut < limit/2 {
			cut = strings.LastIndex(text[:limit], " ")
		}
		if cut < limit/2 {
			cut = limit
		}
		chunks = append(chunks, strings.TrimRight(text[:cut], " \n"))
		text = strings.TrimLeft(text[cut:], " \n")
	}
	if text != "" {
		chunks = append(chunks, text)
	}
	return chunks
}
