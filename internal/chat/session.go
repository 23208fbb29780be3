package chat

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"sync"

	"github.com/pathakanu/medimate/internal/kv"
	"github.com/sirupsen/logrus"
)

// DefaultMaxHistory bounds the stored conversation.
const DefaultMaxHistory = 200

// Transcriber turns recorded audio into text.
type Transcriber interface {
	Transcribe(ctx context.Context, audio []byte) (string, error)
}

// Session is the conversation with the assistant. History lives under
// kv.KeyChatHistory and is rewritten whole on every change.
type Session struct {
	provider    Provider
	transcriber Transcriber
	blobs       kv.Store
	log         logrus.FieldLogger
	maxHistory  int

	mu sync.Mutex
}

func NewSession(provider Provider, transcriber Transcriber, blobs kv.Store, log logrus.FieldLogger) *Session {
	return &Session{
		provider:    provider,
		transcriber: transcriber,
		blobs:       blobs,
		log:         log,
		maxHistory:  DefaultMaxHistory,
	}
}

// History returns the stored conversation, oldest first. Failures are logged
// and yield an empty history.
func (s *Session) History(ctx context.Context) []Message {
	history, err := s.load(ctx)
	if err != nil {
		s.log.WithError(err).Error("Failed to load chat history")
		return []Message{}
	}
	return history
}

// Send records the user message, asks the provider and records the reply.
// When the provider fails the user message stays in the history without a reply.
func (s *Session) Send(ctx context.Context, text string) (string, error) {
	if strings.TrimSpace(text) == "" {
		return "", ErrEmptyMessage
	}

	if err := s.append(ctx, Message{Role: RoleUser, Text: text}); err != nil {
		s.log.WithError(err).Error("Failed to store chat message")
	}

	reply, err := s.provider.Reply(ctx, text)
	if err != nil {
		s.log.WithError(err).Error("chat provider error")
		return "", err
	}

	if err := s.append(ctx, Message{Role: RoleBot, Text: reply}); err != nil {
		s.log.WithError(err).Error("Failed to store chat reply")
	}
	return reply, nil
}

// SendVoice transcribes audio and sends the transcript as a message.
func (s *Session) SendVoice(ctx context.Context, audio []byte) (string, string, error) {
	if s.transcriber == nil {
		return "", "", errors.New("speech recognition is not configured")
	}
	transcript, err := s.transcriber.Transcribe(ctx, audio)
	if err != nil {
		s.log.WithError(err).Error("Failed to transcribe audio")
		return "", "", err
	}
	reply, err := s.Send(ctx, transcript)
	return transcript, reply, err
}

func (s *Session) load(ctx context.Context) ([]Message, error) {
	raw, err := s.blobs.Get(ctx, kv.KeyChatHistory)
	if errors.Is(err, kv.ErrNotFound) {
		return []Message{}, nil
	}
	if err != nil {
		return nil, err
	}
	var history []Message
	if err := json.Unmarshal([]byte(raw), &history); err != nil {
		return nil, fmt.Errorf("decode chat history: %w", err)
	}
	if history == nil {
		history = []Message{}
	}
	return history, nil
}

func (s *Session) append(ctx context.Context, msg Message) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	history, err := s.load(ctx)
	if err != nil {
		s.log.WithError(err).Warn("chat history unreadable, starting over")
		history = []Message{}
	}
	history = append(history, msg)
	if s.maxHistory > 0 && len(history) > s.maxHistory {
		history = history[len(history)-s.maxHistory:]
	}

	raw, err := json.Marshal(history)
	if err != nil {
		return err
	}
	return s.blobs.Set(ctx, kv.KeyChatHistory, string(raw))
}
