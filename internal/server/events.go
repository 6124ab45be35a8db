package server

import (
	"encoding/json"
	"strings"

	"github.com/RandomArray/SpectraScribe/internal/chat"
)

// Frame type names carried over the room channel. The inbound/outbound
// split mirrors the protocol: clients join and send, the server replays
// history and fans out received messages.
const (
	FrameJoinRoom       = "join_room"
	FrameSendMessage    = "send_message"
	FrameRoomHistory    = "room_history"
	FrameReceiveMessage = "receive_message"
)

// Frame is the envelope for every websocket message in either direction.
type Frame struct {
	Type string          `json:"type"`
	Data json.RawMessage `json:"data,omitempty"`
}

// JoinPayload is the wire shape for join_room.
type JoinPayload struct {
	Room     string `json:"room"`
	Username string `json:"username"`
}

func (p JoinPayload) valid() bool {
	return strings.TrimSpace(p.Room) != "" && strings.TrimSpace(p.Username) != ""
}

// SendPayload is the wire shape for send_message. Everything beyond room,
// username and the content field for the message's type is optional;
// IsFinal is a pointer so an absent flag can default to true.
type SendPayload struct {
	Room      string      `json:"room"`
	Username  string      `json:"username"`
	Text      string      `json:"text,omitempty"`
	Source    chat.Source `json:"source,omitempty"`
	IsFinal   *bool       `json:"isFinal,omitempty"`
	Timestamp int64       `json:"timestamp,omitempty"`
	ID        string      `json:"id,omitempty"`
	Type      string      `json:"type,omitempty"`
	MediaURL  string      `json:"mediaUrl,omitempty"`
}

// Message resolves the payload's defaults into a routable message:
// source defaults to user, type to text, isFinal to true when absent.
func (p SendPayload) Message() chat.Message {
	msg := chat.Message{
		ID:        p.ID,
		Room:      p.Room,
		Username:  p.Username,
		Text:      p.Text,
		Source:    p.Source,
		Timestamp: p.Timestamp,
		IsFinal:   true,
		Type:      p.Type,
		MediaURL:  p.MediaURL,
	}
	if msg.Source == "" {
		msg.Source = chat.SourceUser
	}
	if msg.Type == "" {
		msg.Type = chat.TypeText
	}
	if p.IsFinal != nil {
		msg.IsFinal = *p.IsFinal
	}
	return msg
}

// NewSendPayload wraps a message for the wire, keeping isFinal explicit so
// the receiving side never misreads a volatile partial as final.
func NewSendPayload(m chat.Message) SendPayload {
	isFinal := m.IsFinal
	return SendPayload{
		Room:      m.Room,
		Username:  m.Username,
		Text:      m.Text,
		Source:    m.Source,
		IsFinal:   &isFinal,
		Timestamp: m.Timestamp,
		ID:        m.ID,
		Type:      m.Type,
		MediaURL:  m.MediaURL,
	}
}

// MarshalFrame envelopes a payload under the given frame type.
func MarshalFrame(frameType string, payload any) ([]byte, error) {
	data, err := json.Marshal(payload)
	if err != nil {
		return nil, err
	}
	return json.Marshal(Frame{Type: frameType, Data: data})
}

func historyFrame(msgs []chat.Message) ([]byte, error) {
	if msgs == nil {
		msgs = []chat.Message{}
	}
	return MarshalFrame(FrameRoomHistory, msgs)
}

func messageFrame(m chat.Message) ([]byte, error) {
	return MarshalFrame(FrameReceiveMessage, m)
}
