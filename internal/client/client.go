// Package client implements the dialing side of the room message channel:
// join a room, send messages, and fold the incoming stream into a local
// timeline by message identity.
package client

import (
	"context"
	"encoding/json"
	"log"
	"net/url"
	"strings"
	"sync"
	"time"

	"github.com/gorilla/websocket"

	"github.com/RandomArray/SpectraScribe/internal/chat"
	"github.com/RandomArray/SpectraScribe/internal/server"
)

const dialTimeout = 10 * time.Second

// Client is one participant's connection to a room. Sends are fire and
// forget; the participant's own messages come back over the channel like
// everyone else's, which keeps replace-by-id consistent without local echo.
type Client struct {
	conn     *websocket.Conn
	room     string
	username string
	timeline *Timeline
	onUpdate func([]chat.Message)

	writeMu   sync.Mutex
	done      chan struct{}
	closeOnce sync.Once
}

// Dial connects to a server's /ws endpoint, joins the room, and starts
// consuming the incoming stream. serverURL accepts http(s) or ws(s)
// schemes. onUpdate, if non-nil, fires with the folded timeline after every
// change.
func Dial(ctx context.Context, serverURL, roomName, username string, onUpdate func([]chat.Message)) (*Client, error) {
	wsURL, err := websocketURL(serverURL)
	if err != nil {
		return nil, err
	}

	dialer := *websocket.DefaultDialer
	dialer.HandshakeTimeout = dialTimeout
	conn, _, err := dialer.DialContext(ctx, wsURL, nil)
	if err != nil {
		return nil, err
	}

	c := &Client{
		conn:     conn,
		room:     roomName,
		username: username,
		timeline: NewTimeline(),
		onUpdate: onUpdate,
		done:     make(chan struct{}),
	}

	if err := c.writeFrame(server.FrameJoinRoom, server.JoinPayload{Room: roomName, Username: username}); err != nil {
		_ = conn.Close()
		return nil, err
	}

	go c.readLoop()
	return c, nil
}

// Send posts a plain text message.
func (c *Client) Send(text string) error {
	return c.send(chat.Message{
		Room:     c.room,
		Username: c.username,
		Text:     text,
		Source:   chat.SourceUser,
		IsFinal:  true,
		Type:     chat.TypeText,
	})
}

// SendImage posts an image message for a mediaUrl previously obtained from
// the upload service.
func (c *Client) SendImage(mediaURL string) error {
	return c.send(chat.Message{
		Room:     c.room,
		Username: c.username,
		Source:   chat.SourceUser,
		IsFinal:  true,
		Type:     chat.TypeImage,
		MediaURL: mediaURL,
	})
}

// SendTranscription posts one emission of the utterance accumulator. The id
// is the utterance identity: partials and the final share it, so receivers
// upgrade in place.
func (c *Client) SendTranscription(id, text string, isFinal bool) error {
	return c.send(chat.Message{
		ID:       id,
		Room:     c.room,
		Username: c.username,
		Text:     text,
		Source:   chat.SourceTranscription,
		IsFinal:  isFinal,
		Type:     chat.TypeText,
	})
}

func (c *Client) send(m chat.Message) error {
	m.Timestamp = time.Now().UnixMilli()
	return c.writeFrame(server.FrameSendMessage, server.NewSendPayload(m))
}

// Messages returns the folded room timeline, oldest first.
func (c *Client) Messages() []chat.Message {
	return c.timeline.Messages()
}

func (c *Client) Room() string { return c.room }

func (c *Client) Username() string { return c.username }

// Done is closed once the connection is gone and the timeline will no
// longer change.
func (c *Client) Done() <-chan struct{} { return c.done }

func (c *Client) Close() error {
	var err error
	c.closeOnce.Do(func() {
		c.writeMu.Lock()
		_ = c.conn.WriteControl(
			websocket.CloseMessage,
			websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""),
			time.Now().Add(time.Second),
		)
		c.writeMu.Unlock()
		err = c.conn.Close()
	})
	return err
}

func (c *Client) readLoop() {
	defer func() {
		_ = c.conn.Close()
		close(c.done)
	}()

	for {
		_, data, err := c.conn.ReadMessage()
		if err != nil {
			return
		}

		var frame server.Frame
		if err := json.Unmarshal(data, &frame); err != nil {
			continue
		}

		switch frame.Type {
		case server.FrameRoomHistory:
			var history []chat.Message
			if err := json.Unmarshal(frame.Data, &history); err != nil {
				log.Printf("client: bad history frame: %v", err)
				continue
			}
			c.timeline.Reset(history)
		case server.FrameReceiveMessage:
			var msg chat.Message
			if err := json.Unmarshal(frame.Data, &msg); err != nil {
				log.Printf("client: bad message frame: %v", err)
				continue
			}
			c.timeline.Fold(msg)
		default:
			continue
		}

		if c.onUpdate != nil {
			c.onUpdate(c.timeline.Messages())
		}
	}
}

func (c *Client) writeFrame(frameType string, payload any) error {
	data, err := server.MarshalFrame(frameType, payload)
	if err != nil {
		return err
	}

	c.writeMu.Lock()
	defer c.writeMu.Unlock()
	_ = c.conn.SetWriteDeadline(time.Now().Add(10 * time.Second))
	return c.conn.WriteMessage(websocket.TextMessage, data)
}

func websocketURL(serverURL string) (string, error) {
	u, err := url.Parse(serverURL)
	if err != nil {
		return "", err
	}
	switch u.Scheme {
	case "http":
		u.Scheme = "ws"
	case "https":
		u.Scheme = "wss"
	}
	if u.Path == "" || u.Path == "/" {
		u.Path = "/ws"
	}
	if !strings.HasSuffix(u.Path, "/ws") {
		u.Path = strings.TrimSuffix(u.Path, "/") + "/ws"
	}
	return u.String(), nil
}
