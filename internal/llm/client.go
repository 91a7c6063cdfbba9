// Package llm provides the model transport used by the orchestration loop.
// The pipeline is agnostic to which inference backend answers; it only needs
// plain chat-style role/content messages and best-effort cancellation.
package llm

import (
	"context"
	"errors"
	"time"
)

// Message roles.
const (
	RoleSystem    = "system"
	RoleUser      = "user"
	RoleAssistant = "assistant"
)

// Message is one turn of a chat conversation.
type Message struct {
	Role    string `json:"role"`
	Content string `json:"content"`
}

// Client is the minimal interface the orchestration loop calls.
type Client interface {
	// Chat sends a conversation and returns the full response text.
	Chat(ctx context.Context, messages []Message) (string, error)

	// ChatStream sends a conversation and invokes fn for each text chunk.
	// The accumulated response is returned on success.
	ChatStream(ctx context.Context, messages []Message, fn func(chunk string) error) (string, error)
}

// IsCanceled reports whether an error stems from explicit cancellation,
// which the loop treats as a terminal outcome rather than a failure.
func IsCanceled(err error) bool {
	return errors.Is(err, context.Canceled)
}

// timeoutClient applies a hard wall-clock timeout around each request,
// independent of any caller-supplied cancellation.
type timeoutClient struct {
	inner   Client
	timeout time.Duration
}

// WithTimeout wraps a client so every call is bounded by d. A zero or
// negative d returns the client unchanged.
func WithTimeout(c Client, d time.Duration) Client {
	if d <= 0 {
		return c
	}
	return &timeoutClient{inner: c, timeout: d}
}

func (t *timeoutClient) Chat(ctx context.Context, messages []Message) (string, error) {
	ctx, cancel := context.WithTimeout(ctx, t.timeout)
	defer cancel()
	return t.inner.Chat(ctx, messages)
}

func (t *timeoutClient) ChatStream(ctx context.Context, messages []Message, fn func(string) error) (string, error) {
	ctx, cancel := context.WithTimeout(ctx, t.timeout)
	defer cancel()
	return t.inner.ChatStream(ctx, messages, fn)
}
