// Package bus carries messages between channels (Telegram, the local
// API, heartbeat) and the agent loop. It is an in-process queue:
// producers publish inbound messages, the single agent consumer drains
// them, and replies flow back through the outbound side.
package bus

import (
	"context"
	"fmt"
)

// InboundMessage is something a user (or an internal service) said.
type InboundMessage struct {
	Channel  string         `json:"channel"` // telegram, api, heartbeat, cron
	SenderID string         `json:"sender_id"`
	ChatID   string         `json:"chat_id"`
	Content  string         `json:"content"`
	Metadata map[string]any `json:"metadata,omitempty"`
}

// SessionKey derives the conversation identity for this message.
func (m InboundMessage) SessionKey() string {
	return fmt.Sprintf("%s:%s", m.Channel, m.ChatID)
}

// OutboundMessage is a reply addressed to a channel.
type OutboundMessage struct {
	Channel  string         `json:"channel"`
	ChatID   string         `json:"chat_id"`
	Content  string         `json:"content"`
	Metadata map[string]any `json:"metadata,omitempty"`
}

// Bus is a pair of buffered queues. Methods are safe for concurrent
// use; publishing respects context cancellation instead of blocking
// forever on a full queue.
type Bus struct {
	inbound  chan InboundMessage
	outbound chan OutboundMessage
}

// New creates a Bus with the given per-direction buffer size.
func New(buffer int) *Bus {
	if buffer <= 0 {
		buffer = 64
	}
	return &Bus{
		inbound:  make(chan InboundMessage, buffer),
		outbound: make(chan OutboundMessage, buffer),
	}
}

// PublishInbound enqueues a message for the agent.
func (b *Bus) PublishInbound(ctx context.Context, msg InboundMessage) error {
	select {
	case b.inbound <- msg:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

// ConsumeInbound blocks until a message or cancellation.
func (b *Bus) ConsumeInbound(ctx context.Context) (InboundMessage, error) {
	select {
	case msg := <-b.inbound:
		return msg, nil
	case <-ctx.Done():
		return InboundMessage{}, ctx.Err()
	}
}

// PublishOutbound enqueues a reply for channel delivery.
func (b *Bus) PublishOutbound(ctx context.Context, msg OutboundMessage) error {
	select {
	case b.outbound <- msg:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

// ConsumeOutbound blocks until a reply or cancellation.
func (b *Bus) ConsumeOutbound(ctx context.Context) (OutboundMessage, error) {
	select {
	case msg := <-b.outbound:
		return msg, nil
	case <-ctx.Done():
		return OutboundMessage{}, ctx.Err()
	}
}

// InboundDepth reports how many inbound messages are waiting.
func (b *Bus) InboundDepth() int { return len(b.inbound) }
