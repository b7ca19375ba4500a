package ws

import (
	"log/slog"
	"sync"
)

// roomEmitter is the slice of Conn the tracker needs. Narrow so tests can
// fake the transport.
type roomEmitter interface {
	JoinRoom(conversationID string) bool
	LeaveRoom(conversationID string) bool
}

// RoomTracker guarantees at most one active room subscription. Room
// membership is server-side ephemeral, so the tracker also re-asserts the
// join after every reconnect.
type RoomTracker struct {
	mu     sync.Mutex
	conn   roomEmitter
	active string
}

func NewRoomTracker(conn roomEmitter) *RoomTracker {
	return &RoomTracker{conn: conn}
}

// SetActive switches the active room. The leave for the previous room is
// always emitted before the join for the next one, under one lock, so the
// server never believes the client is in two rooms. An empty id means no
// active room. No-op when the room is already active.
func (t *RoomTracker) SetActive(conversationID string) {
	t.mu.Lock()
	defer t.mu.Unlock()

	if t.active == conversationID {
		return
	}
	if t.active != "" {
		if !t.conn.LeaveRoom(t.active) {
			slog.Warn("[ROOM] Leave not delivered", "conversation", t.active)
		}
	}
	if conversationID != "" {
		if !t.conn.JoinRoom(conversationID) {
			slog.Warn("[ROOM] Join not delivered", "conversation", conversationID)
		}
	}
	t.active = conversationID
}

// Active returns the currently active conversation id, or "".
func (t *RoomTracker) Active() string {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.active
}

// Rejoin re-emits the join for the active room, if any. Wired to the connect
// event so the subscription survives reconnects.
func (t *RoomTracker) Rejoin() {
	t.mu.Lock()
	defer t.mu.Unlock()
	if t.active == "" {
		return
	}
	if !t.conn.JoinRoom(t.active) {
		slog.Warn("[ROOM] Rejoin not delivered", "conversation", t.active)
	}
}
