package room

import (
	"fmt"
	"log"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/RandomArray/SpectraScribe/internal/chat"
)

// SubscriberBuffer is the capacity of a subscriber's message channel. A
// subscriber that falls this far behind starts losing broadcasts; delivery
// is not guaranteed and volatile updates self-heal on the next one.
const SubscriberBuffer = 256

const persistQueueSize = 1024

// Store persists durable messages. Writes happen asynchronously relative to
// the in-memory log; the in-memory log is authoritative for history replay.
type Store interface {
	UpsertMessage(m chat.Message) error
	DeleteMessage(room, id string) error
}

// Archiver receives every durable message after it is stored.
type Archiver interface {
	Append(m chat.Message) error
}

// Room is one unit of isolation and concurrency: a bounded durable log plus
// the set of currently subscribed channels. Its mutex serializes join and
// route so a join's history snapshot reflects every send that completed
// before it.
type Room struct {
	name string

	mu   sync.Mutex
	log  *Log
	subs map[chan chat.Message]struct{}
}

func (rm *Room) broadcastLocked(m chat.Message) {
	for ch := range rm.subs {
		select {
		case ch <- m:
		default:
		}
	}
}

// RoomInfo is a point-in-time view of a room for the REST surface.
type RoomInfo struct {
	Name        string `json:"name"`
	Messages    int    `json:"messages"`
	Subscribers int    `json:"subscribers"`
}

type persistOp struct {
	remove bool
	room   string
	id     string
	msg    chat.Message
}

// Registry owns every room in the process. Rooms are created lazily on
// first use and live for the process lifetime.
type Registry struct {
	limit   int
	store   Store
	archive Archiver
	now     func() time.Time

	mu    sync.RWMutex
	rooms map[string]*Room

	ops        chan persistOp
	workerDone chan struct{}
	closeOnce  sync.Once
}

func NewRegistry(limit int, store Store, archive Archiver) *Registry {
	if limit <= 0 {
		limit = DefaultHistoryLimit
	}

	r := &Registry{
		limit:      limit,
		store:      store,
		archive:    archive,
		now:        time.Now,
		rooms:      make(map[string]*Room),
		ops:        make(chan persistOp, persistQueueSize),
		workerDone: make(chan struct{}),
	}
	go r.persistWorker()
	return r
}

func (r *Registry) get(name string) *Room {
	r.mu.RLock()
	rm, ok := r.rooms[name]
	r.mu.RUnlock()
	if ok {
		return rm
	}

	r.mu.Lock()
	defer r.mu.Unlock()
	if rm, ok := r.rooms[name]; ok {
		return rm
	}
	rm = &Room{
		name: name,
		log:  NewLog(r.limit),
		subs: make(map[chan chat.Message]struct{}),
	}
	r.rooms[name] = rm
	return rm
}

// Join subscribes ch to the room and returns the durable history snapshot,
// oldest first. The snapshot is delivered only to the joiner; the "joined
// the chat" system message that follows is routed like any durable message,
// so it lands in the log and reaches every subscriber including the joiner
// (over ch, after the returned history).
func (r *Registry) Join(roomName, username string, ch chan chat.Message) []chat.Message {
	rm := r.get(roomName)
	rm.mu.Lock()
	defer rm.mu.Unlock()

	rm.subs[ch] = struct{}{}
	history := rm.log.Messages()

	r.routeLocked(rm, chat.Message{
		Room:    roomName,
		Text:    fmt.Sprintf("%s joined the chat", username),
		Source:  chat.SourceSystem,
		IsFinal: true,
	})

	return history
}

// Leave removes ch from the room's subscriber set. No compensating action
// is taken for messages the subscriber may have missed; a reconnect joins
// afresh and replays the bounded history.
func (r *Registry) Leave(roomName string, ch chan chat.Message) {
	rm := r.get(roomName)
	rm.mu.Lock()
	delete(rm.subs, ch)
	rm.mu.Unlock()
}

// Route applies the persist-or-ephemeral policy to one outgoing message and
// fans the result out to the room.
//
// Durable messages get defaults filled (id, color, timestamp), are upserted
// into the room log (a reused id overwrites that entry in place, which is
// an idempotent re-send, but also means there is no authorship check on
// replacement), and are broadcast after the log update. Volatile messages
// skip the log entirely and are broadcast as-is, sender included: every
// client, the speaker's own included, upgrades partials by id from the
// round trip rather than a local echo.
func (r *Registry) Route(msg chat.Message) error {
	if err := chat.Validate(msg); err != nil {
		return err
	}
	rm := r.get(msg.Room)
	rm.mu.Lock()
	defer rm.mu.Unlock()
	r.routeLocked(rm, msg)
	return nil
}

func (r *Registry) routeLocked(rm *Room, msg chat.Message) {
	if msg.Timestamp == 0 {
		msg.Timestamp = r.now().UnixMilli()
	}
	if msg.Color == "" {
		msg.Color = chat.ColorOf(msg.Username)
	}

	if chat.Classify(msg) == chat.Volatile {
		// The id is the utterance identity assigned by the producer;
		// never reassign it or receivers lose replace-by-id.
		rm.broadcastLocked(msg)
		return
	}

	if strings.TrimSpace(msg.ID) == "" {
		msg.ID = chat.NewID(time.UnixMilli(msg.Timestamp))
	}

	evicted, didEvict := rm.log.Upsert(msg)
	r.enqueue(persistOp{room: rm.name, id: msg.ID, msg: msg})
	if didEvict {
		r.enqueue(persistOp{remove: true, room: rm.name, id: evicted.ID})
	}

	rm.broadcastLocked(msg)
}

// History returns the room's durable log, oldest first. Rooms are created
// lazily, so asking about an unknown room yields an empty history.
func (r *Registry) History(roomName string) []chat.Message {
	rm := r.get(roomName)
	rm.mu.Lock()
	defer rm.mu.Unlock()
	return rm.log.Messages()
}

// Seed loads a room's log from persistence. Meant for startup, before any
// subscriber exists.
func (r *Registry) Seed(roomName string, msgs []chat.Message) {
	rm := r.get(roomName)
	rm.mu.Lock()
	rm.log.Replace(msgs)
	rm.mu.Unlock()
}

// Rooms lists every known room, sorted by name.
func (r *Registry) Rooms() []RoomInfo {
	r.mu.RLock()
	rooms := make([]*Room, 0, len(r.rooms))
	for _, rm := range r.rooms {
		rooms = append(rooms, rm)
	}
	r.mu.RUnlock()

	infos := make([]RoomInfo, 0, len(rooms))
	for _, rm := range rooms {
		rm.mu.Lock()
		infos = append(infos, RoomInfo{Name: rm.name, Messages: rm.log.Len(), Subscribers: len(rm.subs)})
		rm.mu.Unlock()
	}
	sort.Slice(infos, func(i, j int) bool { return infos[i].Name < infos[j].Name })
	return infos
}

func (r *Registry) enqueue(op persistOp) {
	if r.store == nil && r.archive == nil {
		return
	}
	select {
	case r.ops <- op:
	default:
		log.Printf("warning: persistence queue full, dropping write for room %s id %s", op.room, op.id)
	}
}

// persistWorker applies log mutations to the store in the order they were
// enqueued. A single worker keeps an upsert and the eviction that follows
// it from reordering. Store failures are logged and otherwise ignored: the
// live broadcast already happened, the gap is a durability one.
func (r *Registry) persistWorker() {
	defer close(r.workerDone)
	for op := range r.ops {
		if op.remove {
			if r.store != nil {
				if err := r.store.DeleteMessage(op.room, op.id); err != nil {
					log.Printf("warning: delete evicted message %s in room %s: %v", op.id, op.room, err)
				}
			}
			continue
		}
		if r.store != nil {
			if err := r.store.UpsertMessage(op.msg); err != nil {
				log.Printf("warning: persist message %s in room %s: %v", op.id, op.room, err)
			}
		}
		if r.archive != nil {
			if err := r.archive.Append(op.msg); err != nil {
				log.Printf("warning: archive message %s in room %s: %v", op.id, op.room, err)
			}
		}
	}
}

// Close drains the persistence queue and stops the worker. Route must not
// be called after Close.
func (r *Registry) Close() {
	r.closeOnce.Do(func() {
		close(r.ops)
		<-r.workerDone
	})
}
