package client

import (
	"sync"

	"github.com/RandomArray/SpectraScribe/internal/chat"
)

// Timeline is the client-side fold of the incoming message stream: an
// ordered sequence of messages keyed by id. An incoming message whose id is
// already present replaces that entry in place (this is what upgrades a
// volatile partial to its final form without a duplicate entry) and
// anything else is appended.
type Timeline struct {
	mu   sync.RWMutex
	msgs []chat.Message
}

func NewTimeline() *Timeline {
	return &Timeline{}
}

// Fold merges one incoming message by identity.
func (t *Timeline) Fold(m chat.Message) {
	t.mu.Lock()
	defer t.mu.Unlock()

	for i := range t.msgs {
		if t.msgs[i].ID == m.ID {
			t.msgs[i] = m
			return
		}
	}
	t.msgs = append(t.msgs, m)
}

// Reset replaces the timeline with a history replay.
func (t *Timeline) Reset(msgs []chat.Message) {
	t.mu.Lock()
	t.msgs = append(t.msgs[:0:0], msgs...)
	t.mu.Unlock()
}

// Messages returns the current ordered view, oldest first.
func (t *Timeline) Messages() []chat.Message {
	t.mu.RLock()
	defer t.mu.RUnlock()
	out := make([]chat.Message, len(t.msgs))
	copy(out, t.msgs)
	return out
}

func (t *Timeline) Len() int {
	t.mu.RLock()
	defer t.mu.RUnlock()
	return len(t.msgs)
}
