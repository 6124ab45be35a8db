package storage

import (
	"database/sql"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	_ "modernc.org/sqlite"

	"github.com/RandomArray/SpectraScribe/internal/chat"
)

// SQLiteStore persists durable room messages and cached digests. The
// in-memory room log stays authoritative for live history; this store
// exists so replay survives a restart.
type SQLiteStore struct {
	db *sql.DB
}

func NewSQLiteStore(dbPath string) (*SQLiteStore, error) {
	if strings.TrimSpace(dbPath) == "" {
		dbPath = filepath.Join("data", "spectrascribe.db")
	}

	if err := os.MkdirAll(filepath.Dir(dbPath), 0o755); err != nil {
		return nil, fmt.Errorf("create db directory: %w", err)
	}

	db, err := sql.Open("sqlite", dbPath)
	if err != nil {
		return nil, fmt.Errorf("open sqlite database: %w", err)
	}

	db.SetMaxOpenConns(1)
	db.SetMaxIdleConns(1)

	store := &SQLiteStore{db: db}
	if err := store.init(); err != nil {
		_ = db.Close()
		return nil, err
	}

	return store, nil
}

func (s *SQLiteStore) init() error {
	pragmas := []string{
		"PRAGMA journal_mode = WAL",
		"PRAGMA busy_timeout = 5000",
	}
	for _, p := range pragmas {
		if _, err := s.db.Exec(p); err != nil {
			return fmt.Errorf("apply pragma %q: %w", p, err)
		}
	}

	// seq records insertion order; an upsert on (room, id) keeps the
	// original row, so replace-by-id preserves position across replays.
	if _, err := s.db.Exec(`
		CREATE TABLE IF NOT EXISTS messages (
			seq INTEGER PRIMARY KEY AUTOINCREMENT,
			room TEXT NOT NULL,
			id TEXT NOT NULL,
			username TEXT NOT NULL DEFAULT '',
			text TEXT NOT NULL DEFAULT '',
			source TEXT NOT NULL,
			timestamp INTEGER NOT NULL,
			is_final INTEGER NOT NULL DEFAULT 1,
			type TEXT NOT NULL DEFAULT 'text',
			media_url TEXT NOT NULL DEFAULT '',
			color TEXT NOT NULL DEFAULT '',
			UNIQUE(room, id)
		);
	`); err != nil {
		return fmt.Errorf("create messages table: %w", err)
	}

	if _, err := s.db.Exec(`
		CREATE TABLE IF NOT EXISTS digests (
			room TEXT NOT NULL,
			transcript_hash TEXT NOT NULL,
			content TEXT NOT NULL,
			created_at TEXT NOT NULL DEFAULT CURRENT_TIMESTAMP,
			UNIQUE(room, transcript_hash)
		);
	`); err != nil {
		return fmt.Errorf("create digests table: %w", err)
	}

	if _, err := s.db.Exec("CREATE INDEX IF NOT EXISTS idx_messages_room_seq ON messages(room, seq)"); err != nil {
		return fmt.Errorf("create messages index: %w", err)
	}

	return nil
}

func (s *SQLiteStore) Close() error {
	if s == nil || s.db == nil {
		return nil
	}
	return s.db.Close()
}

func (s *SQLiteStore) DB() *sql.DB {
	return s.db
}

// UpsertMessage inserts a durable message or, when (room, id) already
// exists, overwrites that row in place.
func (s *SQLiteStore) UpsertMessage(m chat.Message) error {
	if strings.TrimSpace(m.ID) == "" {
		return errors.New("message id is required")
	}

	_, err := s.db.Exec(
		`INSERT INTO messages(room, id, username, text, source, timestamp, is_final, type, media_url, color)
		 VALUES(?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
		 ON CONFLICT(room, id) DO UPDATE SET
			username = excluded.username,
			text = excluded.text,
			source = excluded.source,
			timestamp = excluded.timestamp,
			is_final = excluded.is_final,
			type = excluded.type,
			media_url = excluded.media_url,
			color = excluded.color`,
		m.Room, m.ID, m.Username, m.Text, string(m.Source), m.Timestamp,
		boolToInt(m.IsFinal), m.Type, m.MediaURL, m.Color,
	)
	if err != nil {
		return fmt.Errorf("upsert message %s in room %s: %w", m.ID, m.Room, err)
	}
	return nil
}

// DeleteMessage removes a message evicted from a room's bounded log.
func (s *SQLiteStore) DeleteMessage(room, id string) error {
	_, err := s.db.Exec(`DELETE FROM messages WHERE room = ? AND id = ?`, room, id)
	if err != nil {
		return fmt.Errorf("delete message %s in room %s: %w", id, room, err)
	}
	return nil
}

// RecentMessages returns the newest limit messages of a room in insertion
// order, oldest first, the shape a history replay needs.
func (s *SQLiteStore) RecentMessages(room string, limit int) ([]chat.Message, error) {
	rows, err := s.db.Query(
		`SELECT id, username, text, source, timestamp, is_final, type, media_url, color
		 FROM (
			SELECT * FROM messages WHERE room = ? ORDER BY seq DESC LIMIT ?
		 ) ORDER BY seq ASC`,
		room, limit,
	)
	if err != nil {
		return nil, fmt.Errorf("query messages for room %s: %w", room, err)
	}
	defer func() { _ = rows.Close() }()

	msgs := make([]chat.Message, 0, 32)
	for rows.Next() {
		var m chat.Message
		var source string
		var isFinal int
		if err := rows.Scan(&m.ID, &m.Username, &m.Text, &source, &m.Timestamp, &isFinal, &m.Type, &m.MediaURL, &m.Color); err != nil {
			return nil, fmt.Errorf("scan message for room %s: %w", room, err)
		}
		m.Room = room
		m.Source = chat.Source(source)
		m.IsFinal = isFinal != 0
		msgs = append(msgs, m)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate message rows for room %s: %w", room, err)
	}

	return msgs, nil
}

// Rooms lists every room that has at least one persisted message.
func (s *SQLiteStore) Rooms() ([]string, error) {
	rows, err := s.db.Query(`SELECT DISTINCT room FROM messages ORDER BY room`)
	if err != nil {
		return nil, fmt.Errorf("query rooms: %w", err)
	}
	defer func() { _ = rows.Close() }()

	var rooms []string
	for rows.Next() {
		var name string
		if err := rows.Scan(&name); err != nil {
			return nil, fmt.Errorf("scan room: %w", err)
		}
		rooms = append(rooms, name)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate room rows: %w", err)
	}

	return rooms, nil
}

// GetDigest returns the cached digest for a room's transcript hash.
func (s *SQLiteStore) GetDigest(room, transcriptHash string) (string, bool, error) {
	row := s.db.QueryRow(
		`SELECT content FROM digests WHERE room = ? AND transcript_hash = ?`,
		room, transcriptHash,
	)

	var content string
	if err := row.Scan(&content); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return "", false, nil
		}
		return "", false, fmt.Errorf("query digest for room %s: %w", room, err)
	}
	return content, true, nil
}

// SaveDigest caches a generated digest; regenerating for the same
// transcript overwrites.
func (s *SQLiteStore) SaveDigest(room, transcriptHash, content string) error {
	_, err := s.db.Exec(
		`INSERT INTO digests(room, transcript_hash, content) VALUES(?, ?, ?)
		 ON CONFLICT(room, transcript_hash) DO UPDATE SET content = excluded.content`,
		room, transcriptHash, content,
	)
	if err != nil {
		return fmt.Errorf("save digest for room %s: %w", room, err)
	}
	return nil
}

func boolToInt(b bool) int {
	if b {
		return 1
	}
	return 0
}
