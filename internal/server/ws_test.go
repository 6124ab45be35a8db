package server

import (
	"encoding/json"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/gorilla/websocket"

	"github.com/RandomArray/SpectraScribe/internal/chat"
	"github.com/RandomArray/SpectraScribe/internal/room"
)

func wsTestServer(t *testing.T) (*httptest.Server, *room.Registry) {
	t.Helper()
	reg := room.NewRegistry(100, nil, nil)
	t.Cleanup(reg.Close)

	h, err := Handler(Options{Rooms: reg, UploadDir: t.TempDir()})
	if err != nil {
		t.Fatalf("Handler failed: %v", err)
	}
	srv := httptest.NewServer(h)
	t.Cleanup(srv.Close)
	return srv, reg
}

func wsDial(t *testing.T, srv *httptest.Server) *websocket.Conn {
	t.Helper()
	url := "ws" + strings.TrimPrefix(srv.URL, "http") + "/ws"
	conn, _, err := websocket.DefaultDialer.Dial(url, nil)
	if err != nil {
		t.Fatalf("ws dial: %v", err)
	}
	t.Cleanup(func() { _ = conn.Close() })
	return conn
}

func wsWriteFrame(t *testing.T, conn *websocket.Conn, frameType string, payload any) {
	t.Helper()
	data, err := MarshalFrame(frameType, payload)
	if err != nil {
		t.Fatalf("marshal %s frame: %v", frameType, err)
	}
	if err := conn.WriteMessage(websocket.TextMessage, data); err != nil {
		t.Fatalf("write %s frame: %v", frameType, err)
	}
}

func wsReadFrame(t *testing.T, conn *websocket.Conn) Frame {
	t.Helper()
	_ = conn.SetReadDeadline(time.Now().Add(2 * time.Second))
	_, data, err := conn.ReadMessage()
	if err != nil {
		t.Fatalf("read frame: %v", err)
	}
	var frame Frame
	if err := json.Unmarshal(data, &frame); err != nil {
		t.Fatalf("unmarshal frame: %v", err)
	}
	return frame
}

func wsReadHistory(t *testing.T, conn *websocket.Conn) []chat.Message {
	t.Helper()
	frame := wsReadFrame(t, conn)
	if frame.Type != FrameRoomHistory {
		t.Fatalf("expected %s frame first, got %s", FrameRoomHistory, frame.Type)
	}
	var msgs []chat.Message
	if err := json.Unmarshal(frame.Data, &msgs); err != nil {
		t.Fatalf("unmarshal history: %v", err)
	}
	return msgs
}

func wsReadMessage(t *testing.T, conn *websocket.Conn) chat.Message {
	t.Helper()
	frame := wsReadFrame(t, conn)
	if frame.Type != FrameReceiveMessage {
		t.Fatalf("expected %s frame, got %s", FrameReceiveMessage, frame.Type)
	}
	var msg chat.Message
	if err := json.Unmarshal(frame.Data, &msg); err != nil {
		t.Fatalf("unmarshal message: %v", err)
	}
	return msg
}

func wsJoin(t *testing.T, conn *websocket.Conn, roomName, username string) []chat.Message {
	t.Helper()
	wsWriteFrame(t, conn, FrameJoinRoom, JoinPayload{Room: roomName, Username: username})
	history := wsReadHistory(t, conn)

	// The joiner's own join notice follows the history snapshot.
	notice := wsReadMessage(t, conn)
	if notice.Source != chat.SourceSystem || !strings.Contains(notice.Text, username+" joined") {
		t.Fatalf("expected join notice after history, got %+v", notice)
	}
	return history
}

func TestWSJoinDeliversHistoryBeforeBroadcasts(t *testing.T) {
	srv, _ := wsTestServer(t)

	conn := wsDial(t, srv)
	history := wsJoin(t, conn, "r1", "alice")
	if len(history) != 0 {
		t.Fatalf("expected empty history for a fresh room, got %+v", history)
	}
}

func TestWSSecondJoinerSeesEarlierMessages(t *testing.T) {
	srv, _ := wsTestServer(t)

	alice := wsDial(t, srv)
	wsJoin(t, alice, "r1", "alice")

	wsWriteFrame(t, alice, FrameSendMessage, SendPayload{Room: "r1", Username: "alice", Text: "hello all"})
	echoed := wsReadMessage(t, alice)
	if echoed.Text != "hello all" || echoed.ID == "" || echoed.Color == "" {
		t.Fatalf("expected echoed message with defaults filled, got %+v", echoed)
	}

	bob := wsDial(t, srv)
	history := wsJoin(t, bob, "r1", "bob")

	// alice's join notice plus her message, in order.
	if len(history) != 2 {
		t.Fatalf("expected 2 history entries, got %+v", history)
	}
	if history[0].Source != chat.SourceSystem || history[1].Text != "hello all" {
		t.Fatalf("unexpected history ordering: %+v", history)
	}
	if history[1].ID != echoed.ID {
		t.Fatalf("history id %q does not match broadcast id %q", history[1].ID, echoed.ID)
	}
}

func TestWSBroadcastReachesAllSubscribers(t *testing.T) {
	srv, _ := wsTestServer(t)

	alice := wsDial(t, srv)
	wsJoin(t, alice, "r1", "alice")
	bob := wsDial(t, srv)
	wsJoin(t, bob, "r1", "bob")

	// alice also sees bob's join notice.
	if notice := wsReadMessage(t, alice); !strings.Contains(notice.Text, "bob joined") {
		t.Fatalf("expected bob's join notice on alice's connection, got %+v", notice)
	}

	wsWriteFrame(t, bob, FrameSendMessage, SendPayload{Room: "r1", Username: "bob", Text: "hi alice"})

	got := wsReadMessage(t, alice)
	if got.Username != "bob" || got.Text != "hi alice" {
		t.Fatalf("unexpected broadcast on alice's connection: %+v", got)
	}
	if own := wsReadMessage(t, bob); own.ID != got.ID {
		t.Fatalf("sender echo id %q differs from broadcast id %q", own.ID, got.ID)
	}
}

func TestWSVolatilePartialsBroadcastButNeverPersist(t *testing.T) {
	srv, reg := wsTestServer(t)

	speaker := wsDial(t, srv)
	wsJoin(t, speaker, "r1", "scribe")
	listener := wsDial(t, srv)
	wsJoin(t, listener, "r1", "alice")
	wsReadMessage(t, speaker) // alice's join notice

	partial := false
	for _, text := range []string{"hel", "hello", "hello wor"} {
		wsWriteFrame(t, speaker, FrameSendMessage, SendPayload{
			Room:     "r1",
			Username: "scribe",
			Text:     text,
			Source:   chat.SourceTranscription,
			IsFinal:  &partial,
			ID:       "scribe-1700000000000",
		})
	}

	var last chat.Message
	for i := 0; i < 3; i++ {
		last = wsReadMessage(t, listener)
		if last.IsFinal {
			t.Fatalf("partial %d arrived marked final: %+v", i+1, last)
		}
		if last.ID != "scribe-1700000000000" {
			t.Fatalf("utterance id was not preserved: %+v", last)
		}
	}
	if last.Text != "hello wor" {
		t.Fatalf("expected cumulative text, got %q", last.Text)
	}

	// The speaker's own partials come back too.
	if own := wsReadMessage(t, speaker); own.IsFinal {
		t.Fatalf("speaker echo marked final: %+v", own)
	}

	final := true
	wsWriteFrame(t, speaker, FrameSendMessage, SendPayload{
		Room:     "r1",
		Username: "scribe",
		Text:     "hello world",
		Source:   chat.SourceTranscription,
		IsFinal:  &final,
		ID:       "scribe-1700000000000",
	})

	upgraded := wsReadMessage(t, listener)
	for !upgraded.IsFinal {
		upgraded = wsReadMessage(t, listener)
	}
	if upgraded.ID != "scribe-1700000000000" || upgraded.Text != "hello world" {
		t.Fatalf("final did not carry the utterance identity: %+v", upgraded)
	}

	history := reg.History("r1")
	var transcriptions int
	for _, m := range history {
		if m.Source == chat.SourceTranscription {
			transcriptions++
			if !m.IsFinal {
				t.Fatalf("volatile partial leaked into history: %+v", m)
			}
		}
	}
	if transcriptions != 1 {
		t.Fatalf("expected exactly one durable transcription, got %d: %+v", transcriptions, history)
	}
}

func TestWSInvalidMessagesAreDropped(t *testing.T) {
	srv, reg := wsTestServer(t)

	conn := wsDial(t, srv)
	wsJoin(t, conn, "r1", "alice")

	// No room: rejected before routing.
	wsWriteFrame(t, conn, FrameSendMessage, SendPayload{Username: "alice", Text: "orphan"})
	// Garbage frame: ignored.
	if err := conn.WriteMessage(websocket.TextMessage, []byte("not json")); err != nil {
		t.Fatalf("write garbage: %v", err)
	}

	wsWriteFrame(t, conn, FrameSendMessage, SendPayload{Room: "r1", Username: "alice", Text: "valid"})
	got := wsReadMessage(t, conn)
	if got.Text != "valid" {
		t.Fatalf("expected the valid message next, got %+v", got)
	}

	history := reg.History("r1")
	for _, m := range history {
		if m.Text == "orphan" {
			t.Fatal("invalid message reached the room log")
		}
	}
}

func TestWSRejoinMovesSubscription(t *testing.T) {
	srv, _ := wsTestServer(t)

	conn := wsDial(t, srv)
	wsJoin(t, conn, "r1", "alice")
	wsJoin(t, conn, "r2", "alice")

	peer := wsDial(t, srv)
	wsJoin(t, peer, "r1", "bob")
	wsWriteFrame(t, peer, FrameSendMessage, SendPayload{Room: "r1", Username: "bob", Text: "r1 only"})

	r2Peer := wsDial(t, srv)
	wsJoin(t, r2Peer, "r2", "carol")

	// conn now subscribes to r2: the next frame it sees must be carol's
	// join notice, not anything from r1.
	got := wsReadMessage(t, conn)
	if got.Room != "r2" || !strings.Contains(got.Text, "carol joined") {
		t.Fatalf("expected carol's r2 join notice, got %+v", got)
	}
}
