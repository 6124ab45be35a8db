package chat

import (
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
)

// Source identifies what produced a message.
type Source string

const (
	SourceUser          Source = "user"
	SourceTranscription Source = "transcription"
	SourceSystem        Source = "system"
)

const (
	TypeText  = "text"
	TypeImage = "image"
)

// Message is the shared wire and persisted chat entity. Identity is ID,
// unique per room. Timestamps are unix milliseconds.
type Message struct {
	ID        string `json:"id"`
	Room      string `json:"room"`
	Username  string `json:"username,omitempty"`
	Text      string `json:"text"`
	Source    Source `json:"source"`
	Timestamp int64  `json:"timestamp"`
	IsFinal   bool   `json:"isFinal"`
	Type      string `json:"type,omitempty"`
	MediaURL  string `json:"mediaUrl,omitempty"`
	Color     string `json:"color,omitempty"`
}

// Persistence is the two-state classification of a message.
type Persistence int

const (
	Durable Persistence = iota
	Volatile
)

// Classify reports whether a message is durable (persisted then broadcast)
// or volatile (broadcast only). In-progress transcription updates are the
// single volatile case; everything else survives into history.
func Classify(m Message) Persistence {
	if m.Source == SourceTranscription && !m.IsFinal {
		return Volatile
	}
	return Durable
}

var (
	ErrNoRoom     = errors.New("message has no room")
	ErrNoUsername = errors.New("message has no username")
	ErrNoContent  = errors.New("message has no content")
)

// Validate checks the fields a sender must supply. Callers drop invalid
// messages silently; validation failure is not a protocol-level error.
func Validate(m Message) error {
	if strings.TrimSpace(m.Room) == "" {
		return ErrNoRoom
	}
	if m.Source != SourceSystem && strings.TrimSpace(m.Username) == "" {
		return ErrNoUsername
	}
	switch m.Type {
	case TypeImage:
		if strings.TrimSpace(m.MediaURL) == "" {
			return fmt.Errorf("%w: image message without mediaUrl", ErrNoContent)
		}
	default:
		if strings.TrimSpace(m.Text) == "" {
			return fmt.Errorf("%w: text message without text", ErrNoContent)
		}
	}
	return nil
}

// NewID mints a fresh message identity: millisecond timestamp plus a random
// suffix, so concurrent senders in the same millisecond cannot collide.
func NewID(now time.Time) string {
	return fmt.Sprintf("%d-%s", now.UnixMilli(), uuid.NewString()[:8])
}
