// Package ws owns the client's single realtime connection: dialing, the
// read/write pumps, the subscriber registry, and the reconnect loop.
package ws

import (
	"context"
	"log/slog"
	"net/http"
	"net/url"
	"sync"
	"time"

	"github.com/cenkalti/backoff/v5"
	"github.com/goccy/go-json"
	"github.com/gorilla/websocket"

	"go-chat-client/internal/auth"
	apperrors "go-chat-client/internal/errors"
	"go-chat-client/internal/models"
)

const (
	// Time allowed to write a message
	writeWait = 10 * time.Second

	// Time allowed to read next pong message
	pongWait = 60 * time.Second

	// Send pings with this period (must be less than pongWait)
	pingPeriod = (pongWait * 9) / 10

	// Max message size
	maxMessageSize = 512 * 1024 // 512 KB

	sendBuffer = 256

	initialReconnectWait = time.Second
)

type State string

const (
	StateDisconnected State = "disconnected"
	StateConnecting   State = "connecting"
	StateConnected    State = "connected"
)

// Handler receives one inbound event. Handlers for the same event type run in
// registration order; all dispatch is serialized on the read loop.
type Handler func(models.Event)

type subscriber struct {
	id int
	fn Handler
}

// Conn manages the lifecycle of the single websocket connection to the chat
// server: handshake with the bearer token, pump goroutines, automatic
// reconnection with capped jittered backoff, and pub/sub event dispatch.
type Conn struct {
	serverURL   string
	token       string
	initialWait time.Duration
	maxWait     time.Duration

	mu       sync.Mutex
	state    State
	conn     *websocket.Conn
	send     chan []byte
	handlers map[string][]subscriber
	nextSub  int
	retrying bool
	closed   bool

	quit chan struct{}
}

func NewConn(serverURL, token string, reconnectMaxWait time.Duration) *Conn {
	if reconnectMaxWait <= 0 {
		reconnectMaxWait = 30 * time.Second
	}
	return &Conn{
		serverURL:   serverURL,
		token:       token,
		initialWait: initialReconnectWait,
		maxWait:     reconnectMaxWait,
		state:       StateDisconnected,
		handlers:    make(map[string][]subscriber),
		quit:        make(chan struct{}),
	}
}

// State returns the current connection state.
func (c *Conn) State() State {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.state
}

// On registers a subscriber for an event type and returns a subscription id
// for Off. Multiple subscribers per event type are invoked in registration
// order.
func (c *Conn) On(eventType string, fn Handler) int {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.nextSub++
	c.handlers[eventType] = append(c.handlers[eventType], subscriber{id: c.nextSub, fn: fn})
	return c.nextSub
}

// Off removes a subscriber previously registered with On.
func (c *Conn) Off(eventType string, id int) {
	c.mu.Lock()
	defer c.mu.Unlock()
	subs := c.handlers[eventType]
	for i, s := range subs {
		if s.id == id {
			c.handlers[eventType] = append(subs[:i], subs[i+1:]...)
			return
		}
	}
}

// Dial establishes the connection with the token attached to the handshake.
// Calling while already connecting or connected is a no-op. An expired or
// rejected credential fails with an AUTH error and is never retried; network
// failures fail with a TRANSPORT error.
func (c *Conn) Dial(ctx context.Context) error {
	c.mu.Lock()
	if c.closed {
		c.mu.Unlock()
		return apperrors.New(apperrors.CodeTransport, "connection closed")
	}
	if c.state != StateDisconnected {
		c.mu.Unlock()
		return nil
	}
	c.state = StateConnecting
	c.mu.Unlock()

	if err := auth.CheckExpiry(c.token, time.Now()); err != nil {
		c.setDisconnected()
		return err
	}

	u, err := url.Parse(c.serverURL)
	if err != nil {
		c.setDisconnected()
		return apperrors.Wrap(apperrors.CodeTransport, err, "invalid server url %q", c.serverURL)
	}
	q := u.Query()
	q.Set("token", c.token)
	u.RawQuery = q.Encode()

	slog.Debug("[CONN] Dialing", "url", u.Host)

	conn, resp, err := websocket.DefaultDialer.DialContext(ctx, u.String(), nil)
	if err != nil {
		c.setDisconnected()
		if resp != nil && (resp.StatusCode == http.StatusUnauthorized || resp.StatusCode == http.StatusForbidden) {
			return apperrors.Wrap(apperrors.CodeAuth, err, "handshake rejected with status %d", resp.StatusCode)
		}
		// An unreachable server is retried in the background, so the first
		// Dial failing does not leave the client disconnected forever.
		c.scheduleReconnect()
		return apperrors.Wrap(apperrors.CodeTransport, err, "dial %s", u.Host)
	}

	send := make(chan []byte, sendBuffer)

	c.mu.Lock()
	if c.closed {
		c.mu.Unlock()
		conn.Close()
		return apperrors.New(apperrors.CodeTransport, "connection closed")
	}
	c.conn = conn
	c.send = send
	c.state = StateConnected
	c.mu.Unlock()

	slog.Info("[CONN] Connected", "server", u.Host)

	go c.writePump(conn, send)
	go c.readPump(conn)
	return nil
}

// Emit sends an outbound event. Returns false when not connected or when the
// send buffer is full, so callers can surface "not connected" instead of
// queueing indefinitely.
func (c *Conn) Emit(eventType, conversationID string, data interface{}) bool {
	ev := models.Event{
		Type:           eventType,
		ConversationID: conversationID,
		Timestamp:      time.Now().Unix(),
	}
	if data != nil {
		raw, err := json.Marshal(data)
		if err != nil {
			slog.Error("[CONN] Failed to marshal event data", "type", eventType, "error", err)
			return false
		}
		ev.Data = raw
	}
	payload, err := json.Marshal(&ev)
	if err != nil {
		slog.Error("[CONN] Failed to marshal event", "type", eventType, "error", err)
		return false
	}

	c.mu.Lock()
	defer c.mu.Unlock()
	if c.state != StateConnected || c.send == nil {
		return false
	}
	select {
	case c.send <- payload:
		return true
	default:
		slog.Warn("[CONN] Send buffer full, dropping event", "type", eventType)
		return false
	}
}

// Typed outbound events.

func (c *Conn) JoinRoom(conversationID string) bool {
	return c.Emit(models.EventRoomJoin, conversationID, nil)
}

func (c *Conn) LeaveRoom(conversationID string) bool {
	return c.Emit(models.EventRoomLeave, conversationID, nil)
}

func (c *Conn) SendMessage(conversationID string, data models.MessageSendData) bool {
	return c.Emit(models.EventMessageSend, conversationID, data)
}

func (c *Conn) TypingStart(conversationID string) bool {
	return c.Emit(models.EventTypingStart, conversationID, nil)
}

func (c *Conn) TypingStop(conversationID string) bool {
	return c.Emit(models.EventTypingStop, conversationID, nil)
}

// Close tears down the transport and clears all subscriber registrations.
// Always succeeds; no listeners survive.
func (c *Conn) Close() {
	c.mu.Lock()
	if c.closed {
		c.mu.Unlock()
		return
	}
	c.closed = true
	c.state = StateDisconnected
	conn := c.conn
	c.handlers = make(map[string][]subscriber)
	c.mu.Unlock()

	close(c.quit)
	if conn != nil {
		conn.Close()
	}
	slog.Info("[CONN] Closed")
}

func (c *Conn) setDisconnected() {
	c.mu.Lock()
	if c.state == StateConnecting {
		c.state = StateDisconnected
	}
	c.mu.Unlock()
}

// readPump pumps inbound frames into the subscriber registry. Dispatch is
// strictly serialized here: no two handlers ever run concurrently. The connect
// pseudo-event shares this path so its handlers cannot overlap a frame that
// arrives right after the handshake.
func (c *Conn) readPump(conn *websocket.Conn) {
	defer c.onDrop(conn)

	conn.SetReadLimit(maxMessageSize)
	conn.SetReadDeadline(time.Now().Add(pongWait))
	conn.SetPongHandler(func(string) error {
		conn.SetReadDeadline(time.Now().Add(pongWait))
		return nil
	})

	c.dispatch(models.Event{Type: models.EventConnect, Timestamp: time.Now().Unix()})

	for {
		_, payload, err := conn.ReadMessage()
		if err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseNormalClosure) {
				slog.Warn("[CONN] Unexpected close", "error", err)
			}
			return
		}

		var ev models.Event
		if err := json.Unmarshal(payload, &ev); err != nil {
			slog.Error("[CONN] Error unmarshaling event", "error", err)
			continue
		}
		if ev.Type == "" {
			slog.Warn("[CONN] Event without type, dropping")
			continue
		}
		c.dispatch(ev)
	}
}

// writePump pumps queued outbound frames to the socket and keeps the
// connection alive with pings.
func (c *Conn) writePump(conn *websocket.Conn, send chan []byte) {
	ticker := time.NewTicker(pingPeriod)
	defer func() {
		ticker.Stop()
		conn.Close()
	}()

	for {
		select {
		case payload, ok := <-send:
			conn.SetWriteDeadline(time.Now().Add(writeWait))
			if !ok {
				conn.WriteMessage(websocket.CloseMessage, []byte{})
				return
			}
			if err := conn.WriteMessage(websocket.TextMessage, payload); err != nil {
				slog.Error("[CONN] Write failed", "error", err)
				return
			}

		case <-ticker.C:
			conn.SetWriteDeadline(time.Now().Add(writeWait))
			if err := conn.WriteMessage(websocket.PingMessage, nil); err != nil {
				slog.Error("[CONN] Ping failed", "error", err)
				return
			}
		}
	}
}

// onDrop runs when the read loop exits. If the drop was not user initiated it
// flips the state back to disconnected, tells subscribers, and starts the
// reconnect loop.
func (c *Conn) onDrop(conn *websocket.Conn) {
	conn.Close()

	c.mu.Lock()
	if c.conn != conn {
		c.mu.Unlock()
		return
	}
	c.conn = nil
	c.state = StateDisconnected
	if c.send != nil {
		close(c.send)
		c.send = nil
	}
	closed := c.closed
	c.mu.Unlock()

	if closed {
		return
	}

	slog.Warn("[CONN] Connection dropped, scheduling reconnect")
	c.dispatch(models.Event{Type: models.EventDisconnect, Timestamp: time.Now().Unix()})
	c.scheduleReconnect()
}

// scheduleReconnect starts the reconnect loop unless one is already running.
func (c *Conn) scheduleReconnect() {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.closed || c.retrying || c.state != StateDisconnected {
		return
	}
	c.retrying = true
	go c.reconnectLoop()
}

// reconnectLoop retries the handshake with jittered exponential backoff,
// capped at the configured maximum. An expired or rejected credential ends the
// loop with a connect:error so the application can force re-login instead of
// crash-looping against the server.
func (c *Conn) reconnectLoop() {
	bo := backoff.NewExponentialBackOff()
	bo.InitialInterval = c.initialWait
	bo.MaxInterval = c.maxWait
	bo.Reset()

	for {
		// The exit decision and the retrying flag flip under one lock
		// acquisition, so a drop landing in between still finds either this
		// loop or a schedulable slot.
		c.mu.Lock()
		if c.closed || c.state != StateDisconnected {
			c.retrying = false
			c.mu.Unlock()
			return
		}
		c.mu.Unlock()

		if err := auth.CheckExpiry(c.token, time.Now()); err != nil {
			c.stopRetrying()
			c.connectError(err)
			return
		}

		wait := bo.NextBackOff()
		slog.Info("[CONN] Reconnecting", "wait", wait)
		select {
		case <-time.After(wait):
		case <-c.quit:
			c.stopRetrying()
			return
		}

		err := c.Dial(context.Background())
		if err == nil {
			continue
		}
		if apperrors.IsCode(err, apperrors.CodeAuth) {
			c.stopRetrying()
			c.connectError(err)
			return
		}
		slog.Warn("[CONN] Reconnect attempt failed", "error", err)
	}
}

func (c *Conn) stopRetrying() {
	c.mu.Lock()
	c.retrying = false
	c.mu.Unlock()
}

func (c *Conn) connectError(err error) {
	slog.Error("[CONN] Connection failed permanently", "error", err)
	raw, _ := json.Marshal(models.ConnectErrorData{Reason: err.Error()})
	c.dispatch(models.Event{
		Type:      models.EventConnectError,
		Timestamp: time.Now().Unix(),
		Data:      raw,
	})
}

func (c *Conn) dispatch(ev models.Event) {
	c.mu.Lock()
	subs := make([]subscriber, len(c.handlers[ev.Type]))
	copy(subs, c.handlers[ev.Type])
	c.mu.Unlock()

	for _, s := range subs {
		s.fn(ev)
	}
}
