package server

import (
	"fmt"
	"net/http"
	"os"
	"strings"

	"github.com/RandomArray/SpectraScribe/internal/chat"
	"github.com/RandomArray/SpectraScribe/internal/room"
)

// RoomChannel is the server-side surface of the room message channel,
// satisfied by room.Registry.
type RoomChannel interface {
	Join(roomName, username string, ch chan chat.Message) []chat.Message
	Leave(roomName string, ch chan chat.Message)
	Route(msg chat.Message) error
	History(roomName string) []chat.Message
	Rooms() []room.RoomInfo
}

// Options wires the HTTP surface together. Digester, DigestCache and
// Warnings are optional; an empty UploadDir disables uploads.
type Options struct {
	Rooms       RoomChannel
	UploadDir   string
	Digester    Digester
	DigestCache DigestCache
	Warnings    func() []string
}

// Handler builds the full HTTP handler: the websocket room channel, the
// room/upload REST API, and a root identity response.
func Handler(opts Options) (http.Handler, error) {
	if opts.Rooms == nil {
		return nil, fmt.Errorf("server: room channel is required")
	}
	if dir := strings.TrimSpace(opts.UploadDir); dir != "" {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return nil, fmt.Errorf("create upload directory: %w", err)
		}
	}

	mux := http.NewServeMux()
	registerWSRoute(mux, opts.Rooms)
	registerAPIRoutes(mux, opts)

	mux.HandleFunc("GET /{$}", func(w http.ResponseWriter, r *http.Request) {
		writeJSON(w, http.StatusOK, map[string]string{"name": "spectrascribe"})
	})

	return mux, nil
}
