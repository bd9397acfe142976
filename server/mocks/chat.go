package mocks

import (
	"context"
	"sync"
)

// SentMessage records one call to MockSender.Send.
type SentMessage struct {
	ChatID int64
	Text   string
}

// MockSender records outbound chat messages. SendFunc, when set, decides the
// result of each call; the message is recorded either way.
type MockSender struct {
	SendFunc func(ctx context.Context, chatID int64, text string) error

	mu   sync.Mutex
	sent []SentMessage
}

// Send records the message and returns SendFunc's result, or nil.
func (m *MockSender) Send(ctx context.Context, chatID int64, text string) error {
	m.mu.Lock()
	m.sent = append(m.sent, SentMessage{ChatID: chatID, Text: text})
	m.mu.Unlock()

	if m.SendFunc != nil {
		return m.SendFunc(ctx, chatID, text)
	}
	return nil
}

// Sent returns a copy of every recorded message in call order.
func (m *MockSender) Sent() []SentMessage {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := make([]SentMessage, len(m.sent))
	copy(out, m.sent)
	return out
}

// SentTo returns the texts sent to one chat in call order.
func (m *MockSender) SentTo(chatID int64) []string {
	m.mu.Lock()
	defer m.mu.Unlock()
	var out []string
	for _, msg := range m.sent {
		if msg.ChatID == chatID {
			out = append(out, msg.Text)
		}
	}
	return out
}

// MockCompleter is a scripted completion client.
type MockCompleter struct {
	CompleteFunc func(ctx context.Context, system, user string) (string, error)

	mu    sync.Mutex
	calls []string
}

// Complete records the user text and returns CompleteFunc's result.
func (m *MockCompleter) Complete(ctx context.Context, system, user string) (string, error) {
	m.mu.Lock()
	m.calls = append(m.calls, user)
	m.mu.Unlock()

	if m.CompleteFunc != nil {
		return m.CompleteFunc(ctx, system, user)
	}
	return "", nil
}

// Calls returns the user texts Complete was called with.
func (m *MockCompleter) Calls() []string {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := make([]string, len(m.calls))
	copy(out, m.calls)
	return out
}
