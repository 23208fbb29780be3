// Package chat forwards user messages to a generative-language service and
// keeps the conversation history in the blob store.
package chat

import (
	"context"
	"errors"
)

var (
	// ErrClientNotInitialised is returned when a provider has no API key.
	ErrClientNotInitialised = errors.New("chat client not initialised")
	// ErrEmptyMessage is returned for blank input.
	ErrEmptyMessage = errors.New("message cannot be empty")
)

// noResponse is the reply used when the service answers without text.
const noResponse = "No response"

// Provider answers a single user message.
type Provider interface {
	Reply(ctx context.Context, text string) (string, error)
}

// Roles stored in the history.
const (
	RoleUser = "user"
	RoleBot  = "bot"
)

// Message is one history entry.
type Message struct {
	Role string `json:"role"`
	Text string `json:"text"`
}
