package storage

import (
	"fmt"
	"path/filepath"
	"testing"

	"github.com/RandomArray/SpectraScribe/internal/chat"
)

func newTestStore(t *testing.T) *SQLiteStore {
	t.Helper()
	store, err := NewSQLiteStore(filepath.Join(t.TempDir(), "test.db"))
	if err != nil {
		t.Fatalf("open store: %v", err)
	}
	t.Cleanup(func() { _ = store.Close() })
	return store
}

func storedMsg(room, id, text string) chat.Message {
	return chat.Message{
		ID:        id,
		Room:      room,
		Username:  "alice",
		Text:      text,
		Source:    chat.SourceUser,
		Timestamp: 1700000000000,
		IsFinal:   true,
		Type:      chat.TypeText,
		Color:     "#A1B2C3",
	}
}

func TestSQLiteStore_Pragmas(t *testing.T) {
	store := newTestStore(t)

	var mode string
	if err := store.DB().QueryRow("PRAGMA journal_mode").Scan(&mode); err != nil {
		t.Fatalf("query journal_mode: %v", err)
	}
	if mode != "wal" {
		t.Fatalf("journal_mode = %q, want wal", mode)
	}

	var timeout int
	if err := store.DB().QueryRow("PRAGMA busy_timeout").Scan(&timeout); err != nil {
		t.Fatalf("query busy_timeout: %v", err)
	}
	if timeout <= 0 {
		t.Fatalf("busy_timeout = %d, want positive", timeout)
	}
}

func TestSQLiteStore_RoundTripPreservesOrder(t *testing.T) {
	store := newTestStore(t)

	for i := 1; i <= 3; i++ {
		if err := store.UpsertMessage(storedMsg("r1", fmt.Sprintf("m%d", i), fmt.Sprintf("msg %d", i))); err != nil {
			t.Fatalf("upsert: %v", err)
		}
	}

	got, err := store.RecentMessages("r1", 100)
	if err != nil {
		t.Fatalf("load: %v", err)
	}
	if len(got) != 3 {
		t.Fatalf("loaded %d messages, want 3", len(got))
	}
	for i, m := range got {
		if m.ID != fmt.Sprintf("m%d", i+1) {
			t.Fatalf("position %d holds %s, want m%d", i, m.ID, i+1)
		}
		if m.Room != "r1" || m.Color != "#A1B2C3" || !m.IsFinal {
			t.Fatalf("fields lost in round trip: %+v", m)
		}
	}
}

func TestSQLiteStore_UpsertKeepsOriginalPosition(t *testing.T) {
	store := newTestStore(t)

	_ = store.UpsertMessage(storedMsg("r1", "m1", "first"))
	_ = store.UpsertMessage(storedMsg("r1", "m2", "second"))
	_ = store.UpsertMessage(storedMsg("r1", "m3", "third"))

	replaced := storedMsg("r1", "m2", "second, revised")
	if err := store.UpsertMessage(replaced); err != nil {
		t.Fatalf("upsert replacement: %v", err)
	}

	got, err := store.RecentMessages("r1", 100)
	if err != nil {
		t.Fatalf("load: %v", err)
	}
	if len(got) != 3 {
		t.Fatalf("replacement appended instead of replacing: %d rows", len(got))
	}
	if got[1].ID != "m2" || got[1].Text != "second, revised" {
		t.Fatalf("replacement lost its position: %+v", got)
	}
}

func TestSQLiteStore_RecentMessagesHonorsLimit(t *testing.T) {
	store := newTestStore(t)

	for i := 1; i <= 10; i++ {
		_ = store.UpsertMessage(storedMsg("r1", fmt.Sprintf("m%d", i), "x"))
	}

	got, err := store.RecentMessages("r1", 4)
	if err != nil {
		t.Fatalf("load: %v", err)
	}
	if len(got) != 4 || got[0].ID != "m7" || got[3].ID != "m10" {
		t.Fatalf("expected newest 4 oldest-first, got %+v", got)
	}
}

func TestSQLiteStore_DeleteMessage(t *testing.T) {
	store := newTestStore(t)

	_ = store.UpsertMessage(storedMsg("r1", "m1", "evict me"))
	_ = store.UpsertMessage(storedMsg("r1", "m2", "keep me"))

	if err := store.DeleteMessage("r1", "m1"); err != nil {
		t.Fatalf("delete: %v", err)
	}

	got, _ := store.RecentMessages("r1", 100)
	if len(got) != 1 || got[0].ID != "m2" {
		t.Fatalf("unexpected rows after delete: %+v", got)
	}
}

func TestSQLiteStore_RoomsAreIsolated(t *testing.T) {
	store := newTestStore(t)

	_ = store.UpsertMessage(storedMsg("r1", "m1", "in r1"))
	_ = store.UpsertMessage(storedMsg("r2", "m1", "same id, other room"))

	rooms, err := store.Rooms()
	if err != nil {
		t.Fatalf("rooms: %v", err)
	}
	if len(rooms) != 2 || rooms[0] != "r1" || rooms[1] != "r2" {
		t.Fatalf("rooms = %v", rooms)
	}

	got, _ := store.RecentMessages("r2", 100)
	if len(got) != 1 || got[0].Text != "same id, other room" {
		t.Fatalf("room isolation broken: %+v", got)
	}
}

func TestSQLiteStore_DigestCache(t *testing.T) {
	store := newTestStore(t)

	if _, ok, err := store.GetDigest("r1", "hash1"); err != nil || ok {
		t.Fatalf("expected cache miss, got ok=%v err=%v", ok, err)
	}

	if err := store.SaveDigest("r1", "hash1", "a summary"); err != nil {
		t.Fatalf("save digest: %v", err)
	}

	content, ok, err := store.GetDigest("r1", "hash1")
	if err != nil || !ok || content != "a summary" {
		t.Fatalf("cache hit failed: %q ok=%v err=%v", content, ok, err)
	}

	// Same key overwrites rather than erroring.
	if err := store.SaveDigest("r1", "hash1", "a better summary"); err != nil {
		t.Fatalf("overwrite digest: %v", err)
	}
	content, _, _ = store.GetDigest("r1", "hash1")
	if content != "a better summary" {
		t.Fatalf("overwrite lost: %q", content)
	}
}
