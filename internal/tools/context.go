package tools

import "context"

type contextKey string

const conversationKey contextKey = "conversation"

// Conversation identifies where a tool call originated, so tools that
// schedule work or store facts can attribute it correctly.
type Conversation struct {
	Channel string
	ChatID  string
	UserID  string
}

// WithConversation adds the originating conversation to the context.
func WithConversation(ctx context.Context, c Conversation) context.Context {
	return context.WithValue(ctx, conversationKey, c)
}

// ConversationFromContext extracts the originating conversation.
// Fields default to "default" when unset.
func ConversationFromContext(ctx context.Context) Conversation {
	c, _ := ctx.Value(conversationKey).(Conversation)
	if c.Channel == "" {
		c.Channel = "default"
	}
	if c.ChatID == "" {
		c.ChatID = "default"
	}
	if c.UserID == "" {
		c.UserID = "default"
	}
	return c
}
