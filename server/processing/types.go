// Package processing turns one inbound chat update into replies.
// It holds the update data model, the reply chunker, and the relay pipeline
// that ties the completion service to chat delivery.
package processing

import (
	"context"
	"strings"
)

// Update is an inbound Telegram update. Only the fields the pipeline reads
// are decoded; everything else in the payload is ignored.
type Update struct {
	UpdateID      int64    `json:"update_id"`
	Message       *Message `json:"message,omitempty"`
	EditedMessage *Message `json:"edited_message,omitempty"`
}

// Message is the subset of a Telegram message the relay needs.
type Message struct {
	MessageID int64  `json:"message_id"`
	Chat      *Chat  `json:"chat,omitempty"`
	Text      string `json:"text,omitempty"`
	Caption   string `json:"caption,omitempty"`
}

// Chat identifies the reply destination.
type Chat struct {
	ID   int64  `json:"id"`
	Type string `json:"type,omitempty"` // private|group|supergroup|channel
}

// EffectiveMessage returns Message, or EditedMessage when Message is absent.
// Edited messages are processed exactly like new ones.
func (u *Update) EffectiveMessage() *Message {
	if u == nil {
		return nil
	}
	if u.Message != nil {
		return u.Message
	}
	return u.EditedMessage
}

// ChatID returns the destination chat, or 0 when the message has none.
func (m *Message) ChatID() int64 {
	if m == nil || m.Chat == nil {
		return 0
	}
	return m.Chat.ID
}

// Content returns the text, falling back to the caption of media messages.
func (m *Message) Content() string {
	if m == nil {
		return ""
	}
	if m.Text != "" {
		return m.Text
	}
	return m.Caption
}

// Sender delivers one text message to one chat.
// Implementations must bound their own duration.
type Sender interface {
	Send(ctx context.Context, chatID int64, text string) error
}

// Completer asks the completion service to answer user under the system
// instruction.
type Completer interface {
	Complete(ctx context.Context, system, user string) (string, error)
}

// Outcome names the stage at which a pipeline invocation finished.
type Outcome string

const (
	OutcomeIgnored          Outcome = "ignored"           // nothing addressable in the update
	OutcomeWelcome          Outcome = "welcome"           // trigger matched, welcome sent
	OutcomeEmpty            Outcome = "empty"             // no text to answer
	OutcomeCompletionFailed Outcome = "completion_failed" // failure notice sent instead of an answer
	OutcomeEmptyCompletion  Outcome = "empty_completion"  // model returned nothing
	OutcomeDelivered        Outcome = "delivered"         // every chunk delivered
	OutcomePartial          Outcome = "partial"           // at least one chunk failed
	OutcomePanic            Outcome = "panic"             // recovered from a panic
)

// normalize prepares message text for trigger matching: trimmed, lowercased,
// and with a bot mention removed from commands ("/start@my_bot" -> "/start").
func normalize(text string) string {
	s := strings.ToLower(strings.TrimSpace(text))
	if strings.HasPrefix(s, "/") {
		if i := strings.IndexByte(s, '@'); i > 0 && !strings.ContainsAny(s[:i], " \t\n") {
			s = s[:i] + strings.TrimLeftFunc(s[i:], func(r rune) bool { return r != ' ' })
		}
	}
	return s
}
