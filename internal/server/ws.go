package server

import (
	"encoding/json"
	"log"
	"net/http"
	"time"

	"github.com/gorilla/websocket"

	"github.com/RandomArray/SpectraScribe/internal/chat"
	"github.com/RandomArray/SpectraScribe/internal/room"
)

const (
	writeWait      = 10 * time.Second
	pongWait       = 60 * time.Second
	pingPeriod     = (pongWait * 9) / 10
	maxMessageSize = 64 << 10
)

var upgrader = websocket.Upgrader{
	CheckOrigin: func(r *http.Request) bool { return true },
}

// wsClient is one websocket connection's view of the room channel: a read
// pump handling join/send frames, a write pump owning all writes, and at
// most one room subscription at a time.
type wsClient struct {
	conn  *websocket.Conn
	rooms RoomChannel

	send chan []byte
	done chan struct{}

	// read-pump state, never touched elsewhere
	joinedRoom string
	sub        chan chat.Message
}

func registerWSRoute(mux *http.ServeMux, rooms RoomChannel) {
	mux.HandleFunc("GET /ws", func(w http.ResponseWriter, r *http.Request) {
		conn, err := upgrader.Upgrade(w, r, nil)
		if err != nil {
			log.Printf("ws upgrade error: %v", err)
			return
		}

		c := &wsClient{
			conn:  conn,
			rooms: rooms,
			send:  make(chan []byte, room.SubscriberBuffer),
			done:  make(chan struct{}),
		}

		go c.writePump()
		c.readPump()
	})
}

func (c *wsClient) readPump() {
	defer func() {
		c.leaveCurrent()
		close(c.done)
		_ = c.conn.Close()
	}()

	c.conn.SetReadLimit(maxMessageSize)
	_ = c.conn.SetReadDeadline(time.Now().Add(pongWait))
	c.conn.SetPongHandler(func(string) error {
		return c.conn.SetReadDeadline(time.Now().Add(pongWait))
	})

	for {
		_, data, err := c.conn.ReadMessage()
		if err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseNormalClosure) {
				log.Printf("ws read error: %v", err)
			}
			return
		}

		var frame Frame
		if err := json.Unmarshal(data, &frame); err != nil {
			continue
		}

		switch frame.Type {
		case FrameJoinRoom:
			var p JoinPayload
			if err := json.Unmarshal(frame.Data, &p); err != nil || !p.valid() {
				continue
			}
			c.join(p)
		case FrameSendMessage:
			var p SendPayload
			if err := json.Unmarshal(frame.Data, &p); err != nil {
				continue
			}
			// Fire and forget: validation failures drop the message
			// without any protocol-level error back to the sender.
			if err := c.rooms.Route(p.Message()); err != nil {
				log.Printf("ws dropping invalid message from %q: %v", p.Username, err)
			}
		}
	}
}

// join subscribes the connection to a room, replacing any previous
// subscription (the channel is room-scoped: one room per connection). The
// history frame is enqueued before the subscription's forwarder starts, so
// the joiner always sees history ahead of any broadcast, their own join
// notice included.
func (c *wsClient) join(p JoinPayload) {
	c.leaveCurrent()

	sub := make(chan chat.Message, room.SubscriberBuffer)
	history := c.rooms.Join(p.Room, p.Username, sub)
	c.joinedRoom = p.Room
	c.sub = sub

	if payload, err := historyFrame(history); err == nil {
		c.enqueue(payload)
	}

	go c.forward(sub)
}

func (c *wsClient) leaveCurrent() {
	if c.sub == nil {
		return
	}
	c.rooms.Leave(c.joinedRoom, c.sub)
	// Safe to close now: Leave holds the room lock, so no broadcast can
	// still be sending on this channel. The forwarder drains and exits.
	close(c.sub)
	c.sub = nil
	c.joinedRoom = ""
}

func (c *wsClient) forward(sub chan chat.Message) {
	for msg := range sub {
		payload, err := messageFrame(msg)
		if err != nil {
			log.Printf("ws frame marshal error: %v", err)
			continue
		}
		c.enqueue(payload)
	}
}

// enqueue hands a frame to the write pump without blocking. A connection
// that cannot keep up loses frames; delivery is not guaranteed and history
// replay on reconnect is the recovery path.
func (c *wsClient) enqueue(payload []byte) {
	select {
	case c.send <- payload:
	case <-c.done:
	default:
	}
}

func (c *wsClient) writePump() {
	ticker := time.NewTicker(pingPeriod)
	defer ticker.Stop()

	for {
		select {
		case payload := <-c.send:
			_ = c.conn.SetWriteDeadline(time.Now().Add(writeWait))
			if err := c.conn.WriteMessage(websocket.TextMessage, payload); err != nil {
				return
			}
		case <-ticker.C:
			_ = c.conn.SetWriteDeadline(time.Now().Add(writeWait))
			if err := c.conn.WriteMessage(websocket.PingMessage, nil); err != nil {
				return
			}
		case <-c.done:
			return
		}
	}
}
