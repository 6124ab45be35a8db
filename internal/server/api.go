package server

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"io"
	"log"
	"net/http"
	"os"
	"path/filepath"
	"regexp"
	"strings"

	"github.com/google/uuid"

	"github.com/RandomArray/SpectraScribe/internal/chat"
)

var roomNamePattern = regexp.MustCompile(`^[a-zA-Z0-9_-]+$`)

const maxUploadBytes = 10 << 20

var imageExtensions = map[string]string{
	".png":  "image/png",
	".jpg":  "image/jpeg",
	".jpeg": "image/jpeg",
	".gif":  "image/gif",
	".webp": "image/webp",
}

// Digester produces a digest of a room's conversation transcript.
type Digester interface {
	Digest(ctx context.Context, room, transcript string) (string, error)
}

// DigestCache stores digests keyed by room and transcript hash, so an
// unchanged conversation never triggers a second generation.
type DigestCache interface {
	GetDigest(room, transcriptHash string) (string, bool, error)
	SaveDigest(room, transcriptHash, content string) error
}

func registerAPIRoutes(mux *http.ServeMux, opts Options) {
	mux.HandleFunc("GET /api/rooms", func(w http.ResponseWriter, r *http.Request) {
		writeJSON(w, http.StatusOK, opts.Rooms.Rooms())
	})

	mux.HandleFunc("GET /api/rooms/{name}/history", func(w http.ResponseWriter, r *http.Request) {
		name := r.PathValue("name")
		if !validRoomName(name) {
			writeJSONError(w, http.StatusForbidden, "invalid room name")
			return
		}

		history := opts.Rooms.History(name)
		if history == nil {
			history = []chat.Message{}
		}
		writeJSON(w, http.StatusOK, history)
	})

	mux.HandleFunc("GET /api/rooms/{name}/digest", func(w http.ResponseWriter, r *http.Request) {
		name := r.PathValue("name")
		if !validRoomName(name) {
			writeJSONError(w, http.StatusForbidden, "invalid room name")
			return
		}
		if opts.Digester == nil {
			writeJSONError(w, http.StatusServiceUnavailable, "digest not configured")
			return
		}

		transcript := conversationTranscript(opts.Rooms.History(name))
		if strings.TrimSpace(transcript) == "" {
			writeJSONError(w, http.StatusNotFound, "nothing to digest")
			return
		}

		hash := transcriptHash(transcript)
		if opts.DigestCache != nil {
			if cached, ok, err := opts.DigestCache.GetDigest(name, hash); err != nil {
				log.Printf("warning: digest cache read for room %s: %v", name, err)
			} else if ok {
				writeJSON(w, http.StatusOK, map[string]string{"room": name, "digest": cached})
				return
			}
		}

		content, err := opts.Digester.Digest(r.Context(), name, transcript)
		if err != nil {
			writeJSONError(w, http.StatusBadGateway, fmt.Sprintf("generate digest: %v", err))
			return
		}
		if opts.DigestCache != nil {
			if err := opts.DigestCache.SaveDigest(name, hash, content); err != nil {
				log.Printf("warning: digest cache write for room %s: %v", name, err)
			}
		}

		writeJSON(w, http.StatusOK, map[string]string{"room": name, "digest": content})
	})

	mux.HandleFunc("GET /api/status", func(w http.ResponseWriter, r *http.Request) {
		var warnings []string
		if opts.Warnings != nil {
			warnings = opts.Warnings()
		}
		if warnings == nil {
			warnings = []string{}
		}
		writeJSON(w, http.StatusOK, map[string]any{
			"rooms":    opts.Rooms.Rooms(),
			"warnings": warnings,
		})
	})

	registerUploadRoutes(mux, opts.UploadDir)
}

// registerUploadRoutes implements the image attachment boundary: accept a
// binary, hand back a URL. The chat core never inspects the bytes again.
func registerUploadRoutes(mux *http.ServeMux, dir string) {
	mux.HandleFunc("POST /upload", func(w http.ResponseWriter, r *http.Request) {
		if dir == "" {
			writeJSONError(w, http.StatusServiceUnavailable, "uploads not configured")
			return
		}

		r.Body = http.MaxBytesReader(w, r.Body, maxUploadBytes)
		file, header, err := r.FormFile("image")
		if err != nil {
			writeJSONError(w, http.StatusBadRequest, "missing image field")
			return
		}
		defer func() { _ = file.Close() }()

		ext := strings.ToLower(filepath.Ext(header.Filename))
		if _, ok := imageExtensions[ext]; !ok {
			writeJSONError(w, http.StatusBadRequest, fmt.Sprintf("unsupported image extension %q", ext))
			return
		}

		name := uuid.NewString() + ext
		dst, err := os.Create(filepath.Join(dir, name))
		if err != nil {
			writeJSONError(w, http.StatusInternalServerError, fmt.Sprintf("store upload: %v", err))
			return
		}
		defer func() { _ = dst.Close() }()

		if _, err := io.Copy(dst, file); err != nil {
			writeJSONError(w, http.StatusInternalServerError, fmt.Sprintf("store upload: %v", err))
			return
		}

		writeJSON(w, http.StatusOK, map[string]string{"url": "/uploads/" + name})
	})

	mux.HandleFunc("GET /uploads/{file}", func(w http.ResponseWriter, r *http.Request) {
		name := filepath.Base(r.PathValue("file"))
		ext := strings.ToLower(filepath.Ext(name))
		contentType, ok := imageExtensions[ext]
		if !ok || dir == "" {
			writeJSONError(w, http.StatusNotFound, "not found")
			return
		}

		w.Header().Set("Content-Type", contentType)
		w.Header().Set("Cache-Control", "public, max-age=31536000, immutable")
		http.ServeFile(w, r, filepath.Join(dir, name))
	})
}

// conversationTranscript flattens a room's durable log into plain lines for
// the digester. Images and join notices carry no conversational content.
func conversationTranscript(msgs []chat.Message) string {
	var b strings.Builder
	for _, m := range msgs {
		if m.Source == chat.SourceSystem || m.Type == chat.TypeImage {
			continue
		}
		if strings.TrimSpace(m.Text) == "" {
			continue
		}
		b.WriteString(m.Username)
		b.WriteString(": ")
		b.WriteString(m.Text)
		b.WriteString("\n")
	}
	return b.String()
}

func transcriptHash(transcript string) string {
	sum := sha256.Sum256([]byte(transcript))
	return hex.EncodeToString(sum[:])
}

func validRoomName(name string) bool {
	return roomNamePattern.MatchString(name)
}

func writeJSON(w http.ResponseWriter, status int, payload any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(payload)
}

func writeJSONError(w http.ResponseWriter, status int, msg string) {
	writeJSON(w, status, map[string]string{"error": msg})
}
