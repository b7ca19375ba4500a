package chat

import (
	"sort"
	"sync"
	"time"

	"go-chat-client/internal/models"
)

type typingEmitter interface {
	TypingStart(conversationID string) bool
	TypingStop(conversationID string) bool
}

// Typing converts raw local keystrokes into debounced start/stop events and
// inbound typing events from others into an auto-expiring presence set. The
// expiry is a safety net for senders whose explicit stop never arrives.
type Typing struct {
	conn     typingEmitter
	selfID   string
	debounce time.Duration
	expiry   time.Duration
	onChange func(conversationID string)

	mu     sync.Mutex
	local  map[string]*time.Timer         // conversation id -> inactivity timer
	remote map[string]map[string]time.Time // conversation id -> user id -> expiry
	quit   chan struct{}
	once   sync.Once
}

func NewTyping(conn typingEmitter, selfID string, debounce, expiry time.Duration, onChange func(string)) *Typing {
	if debounce <= 0 {
		debounce = time.Second
	}
	if expiry <= 0 {
		expiry = 3 * time.Second
	}
	if onChange == nil {
		onChange = func(string) {}
	}
	t := &Typing{
		conn:     conn,
		selfID:   selfID,
		debounce: debounce,
		expiry:   expiry,
		onChange: onChange,
		local:    make(map[string]*time.Timer),
		remote:   make(map[string]map[string]time.Time),
		quit:     make(chan struct{}),
	}
	go t.sweep()
	return t
}

// InputChanged must be called on every local keystroke. The first keystroke
// after idle emits typing:start; each further keystroke pushes the inactivity
// timer out, and its expiry emits typing:stop.
func (t *Typing) InputChanged(conversationID string) {
	t.mu.Lock()
	defer t.mu.Unlock()

	if timer, ok := t.local[conversationID]; ok {
		timer.Reset(t.debounce)
		return
	}
	t.conn.TypingStart(conversationID)
	t.local[conversationID] = time.AfterFunc(t.debounce, func() {
		t.stopLocal(conversationID)
	})
}

// Submitted forces the local state back to idle and emits typing:stop
// synchronously, without waiting for the inactivity timer.
func (t *Typing) Submitted(conversationID string) {
	t.stopLocal(conversationID)
}

func (t *Typing) stopLocal(conversationID string) {
	t.mu.Lock()
	defer t.mu.Unlock()

	timer, ok := t.local[conversationID]
	if !ok {
		return
	}
	timer.Stop()
	delete(t.local, conversationID)
	t.conn.TypingStop(conversationID)
}

// OnRemoteTyping refreshes a user's presence entry with a fresh expiry.
func (t *Typing) OnRemoteTyping(ev models.Event) {
	var data models.TypingData
	if err := ev.DecodeData(&data); err != nil || data.UserID == "" || data.UserID == t.selfID {
		return
	}

	t.mu.Lock()
	users := t.remote[ev.ConversationID]
	if users == nil {
		users = make(map[string]time.Time)
		t.remote[ev.ConversationID] = users
	}
	users[data.UserID] = time.Now().Add(t.expiry)
	t.mu.Unlock()

	t.onChange(ev.ConversationID)
}

// OnRemoteStopped removes a user's presence entry immediately.
func (t *Typing) OnRemoteStopped(ev models.Event) {
	var data models.TypingData
	if err := ev.DecodeData(&data); err != nil || data.UserID == "" {
		return
	}

	t.mu.Lock()
	if users, ok := t.remote[ev.ConversationID]; ok {
		delete(users, data.UserID)
	}
	t.mu.Unlock()

	t.onChange(ev.ConversationID)
}

// TypingUsers returns the ids currently typing in a conversation, excluding
// the local user and entries whose expiry already elapsed.
func (t *Typing) TypingUsers(conversationID string) []string {
	now := time.Now()

	t.mu.Lock()
	users := t.remote[conversationID]
	out := make([]string, 0, len(users))
	for id, exp := range users {
		if now.Before(exp) {
			out = append(out, id)
		}
	}
	t.mu.Unlock()

	sort.Strings(out)
	return out
}

// sweep drops expired entries even when no explicit stop ever arrives,
// covering dropped connections and crashed senders.
func (t *Typing) sweep() {
	interval := t.expiry / 4
	if interval < 100*time.Millisecond {
		interval = 100 * time.Millisecond
	}
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-t.quit:
			return
		case now := <-ticker.C:
			var changed []string
			t.mu.Lock()
			for convID, users := range t.remote {
				before := len(users)
				for id, exp := range users {
					if !now.Before(exp) {
						delete(users, id)
					}
				}
				if len(users) != before {
					changed = append(changed, convID)
				}
				if len(users) == 0 {
					delete(t.remote, convID)
				}
			}
			t.mu.Unlock()

			for _, convID := range changed {
				t.onChange(convID)
			}
		}
	}
}

// Close stops all timers and the sweeper.
func (t *Typing) Close() {
	t.once.Do(func() { close(t.quit) })

	t.mu.Lock()
	defer t.mu.Unlock()
	for id, timer := range t.local {
		timer.Stop()
		delete(t.local, id)
	}
}
