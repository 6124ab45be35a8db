package room

import "github.com/RandomArray/SpectraScribe/internal/chat"

// DefaultHistoryLimit is the bound on a room's durable message log.
const DefaultHistoryLimit = 100

// Log is an ordered, bounded sequence of durable messages keyed by message
// id. Replacing by id keeps the entry's original position; appending past
// the bound evicts the oldest entry.
//
// Log does no locking of its own; Room serializes access.
type Log struct {
	limit   int
	entries []chat.Message
}

func NewLog(limit int) *Log {
	if limit <= 0 {
		limit = DefaultHistoryLimit
	}
	return &Log{limit: limit}
}

// Upsert inserts m, replacing in place if an entry with the same id exists.
// It returns the entry evicted to stay within the bound, if any. A linear
// scan is deliberate: replace-by-id must preserve insertion order, and the
// log never holds more than the limit.
func (l *Log) Upsert(m chat.Message) (evicted chat.Message, didEvict bool) {
	for i := range l.entries {
		if l.entries[i].ID == m.ID {
			l.entries[i] = m
			return chat.Message{}, false
		}
	}

	l.entries = append(l.entries, m)
	if len(l.entries) > l.limit {
		evicted = l.entries[0]
		l.entries = append(l.entries[:0], l.entries[1:]...)
		return evicted, true
	}
	return chat.Message{}, false
}

// Messages returns a copy of the log, oldest first.
func (l *Log) Messages() []chat.Message {
	out := make([]chat.Message, len(l.entries))
	copy(out, l.entries)
	return out
}

func (l *Log) Len() int {
	return len(l.entries)
}

// Replace swaps the log's contents, truncating to the newest entries if the
// snapshot exceeds the bound. Used to seed a room from persistence at boot.
func (l *Log) Replace(msgs []chat.Message) {
	if len(msgs) > l.limit {
		msgs = msgs[len(msgs)-l.limit:]
	}
	l.entries = append(l.entries[:0:0], msgs...)
}
