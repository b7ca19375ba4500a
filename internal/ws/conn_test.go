package ws

import (
	"context"
	"net"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync/atomic"
	"testing"
	"time"

	"github.com/goccy/go-json"
	"github.com/golang-jwt/jwt/v5"
	"github.com/gorilla/websocket"

	apperrors "go-chat-client/internal/errors"
	"go-chat-client/internal/models"
)

var testUpgrader = websocket.Upgrader{
	CheckOrigin: func(r *http.Request) bool { return true },
}

func testToken(t *testing.T, expiresAt time.Time) string {
	t.Helper()
	claims := jwt.RegisteredClaims{
		Subject:   "me",
		ExpiresAt: jwt.NewNumericDate(expiresAt),
	}
	token, err := jwt.NewWithClaims(jwt.SigningMethodHS256, claims).SignedString([]byte("test-secret"))
	if err != nil {
		t.Fatal(err)
	}
	return token
}

func wsURL(srv *httptest.Server) string {
	return "ws" + strings.TrimPrefix(srv.URL, "http")
}

func TestEmitWhileDisconnectedReturnsFalse(t *testing.T) {
	c := NewConn("ws://localhost:0/ws", testToken(t, time.Now().Add(time.Hour)), 0)
	if c.Emit(models.EventTypingStart, "c1", nil) {
		t.Fatal("emit must report failure while disconnected")
	}
	if c.State() != StateDisconnected {
		t.Fatalf("state = %s", c.State())
	}
}

func TestDialRejectsExpiredTokenWithoutDialing(t *testing.T) {
	c := NewConn("ws://localhost:0/ws", testToken(t, time.Now().Add(-time.Minute)), 0)

	err := c.Dial(context.Background())
	if !apperrors.IsCode(err, apperrors.CodeAuth) {
		t.Fatalf("err = %v, want AUTH", err)
	}
	if c.State() != StateDisconnected {
		t.Fatalf("state = %s, want disconnected", c.State())
	}
}

func TestDialRejectedHandshakeIsAuthError(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		http.Error(w, "invalid token", http.StatusUnauthorized)
	}))
	defer srv.Close()

	c := NewConn(wsURL(srv), testToken(t, time.Now().Add(time.Hour)), 0)
	defer c.Close()

	err := c.Dial(context.Background())
	if !apperrors.IsCode(err, apperrors.CodeAuth) {
		t.Fatalf("err = %v, want AUTH", err)
	}
}

func TestDialUnreachableIsTransportError(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {}))
	url := wsURL(srv)
	srv.Close()

	c := NewConn(url, testToken(t, time.Now().Add(time.Hour)), 0)
	defer c.Close()

	err := c.Dial(context.Background())
	if !apperrors.IsCode(err, apperrors.CodeTransport) {
		t.Fatalf("err = %v, want TRANSPORT", err)
	}
}

func TestDialEmitAndReceive(t *testing.T) {
	received := make(chan models.Event, 1)
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Query().Get("token") == "" {
			http.Error(w, "token required", http.StatusUnauthorized)
			return
		}
		conn, err := testUpgrader.Upgrade(w, r, nil)
		if err != nil {
			return
		}
		defer conn.Close()

		// Push one inbound event, then record what the client sends.
		payload, _ := json.Marshal(map[string]interface{}{
			"type":           models.EventMessageCreated,
			"conversationId": "c1",
			"timestamp":      time.Now().Unix(),
			"data":           map[string]string{"id": "srv-1", "senderId": "other", "content": "hi"},
		})
		conn.WriteMessage(websocket.TextMessage, payload)

		for {
			_, frame, err := conn.ReadMessage()
			if err != nil {
				return
			}
			var ev models.Event
			if err := json.Unmarshal(frame, &ev); err == nil {
				received <- ev
				return
			}
		}
	}))
	defer srv.Close()

	c := NewConn(wsURL(srv), testToken(t, time.Now().Add(time.Hour)), 0)
	defer c.Close()

	inbound := make(chan models.Event, 1)
	c.On(models.EventMessageCreated, func(ev models.Event) { inbound <- ev })

	if err := c.Dial(context.Background()); err != nil {
		t.Fatalf("dial: %v", err)
	}
	if c.State() != StateConnected {
		t.Fatalf("state = %s, want connected", c.State())
	}

	select {
	case ev := <-inbound:
		if ev.ConversationID != "c1" {
			t.Fatalf("conversation = %q", ev.ConversationID)
		}
		var data models.MessageCreatedData
		if err := ev.DecodeData(&data); err != nil || data.ID != "srv-1" {
			t.Fatalf("data = %+v, err = %v", data, err)
		}
	case <-time.After(2 * time.Second):
		t.Fatal("inbound event not dispatched")
	}

	if !c.TypingStart("c1") {
		t.Fatal("emit reported failure while connected")
	}
	select {
	case ev := <-received:
		if ev.Type != models.EventTypingStart || ev.ConversationID != "c1" {
			t.Fatalf("server saw %+v", ev)
		}
	case <-time.After(2 * time.Second):
		t.Fatal("outbound event never reached the server")
	}
}

func TestDialIsIdempotent(t *testing.T) {
	var upgrades atomic.Int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		conn, err := testUpgrader.Upgrade(w, r, nil)
		if err != nil {
			return
		}
		upgrades.Add(1)
		defer conn.Close()
		for {
			if _, _, err := conn.ReadMessage(); err != nil {
				return
			}
		}
	}))
	defer srv.Close()

	c := NewConn(wsURL(srv), testToken(t, time.Now().Add(time.Hour)), 0)
	defer c.Close()

	if err := c.Dial(context.Background()); err != nil {
		t.Fatalf("dial: %v", err)
	}
	if err := c.Dial(context.Background()); err != nil {
		t.Fatalf("second dial: %v", err)
	}

	time.Sleep(100 * time.Millisecond)
	if got := upgrades.Load(); got != 1 {
		t.Fatalf("upgrades = %d, want 1", got)
	}
}

func TestSubscribersRunInRegistrationOrderAndOffRemoves(t *testing.T) {
	c := NewConn("ws://localhost:0/ws", testToken(t, time.Now().Add(time.Hour)), 0)

	var order []string
	c.On("custom", func(models.Event) { order = append(order, "first") })
	second := c.On("custom", func(models.Event) { order = append(order, "second") })
	c.On("custom", func(models.Event) { order = append(order, "third") })

	c.dispatch(models.Event{Type: "custom"})
	if len(order) != 3 || order[0] != "first" || order[1] != "second" || order[2] != "third" {
		t.Fatalf("order = %v", order)
	}

	c.Off("custom", second)
	order = nil
	c.dispatch(models.Event{Type: "custom"})
	if len(order) != 2 || order[0] != "first" || order[1] != "third" {
		t.Fatalf("order after Off = %v", order)
	}
}

func TestDropTriggersReconnectAndConnectEvents(t *testing.T) {
	var conns atomic.Int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		conn, err := testUpgrader.Upgrade(w, r, nil)
		if err != nil {
			return
		}
		n := conns.Add(1)
		if n == 1 {
			// Drop the first connection to force a reconnect.
			conn.Close()
			return
		}
		defer conn.Close()
		for {
			if _, _, err := conn.ReadMessage(); err != nil {
				return
			}
		}
	}))
	defer srv.Close()

	c := NewConn(wsURL(srv), testToken(t, time.Now().Add(time.Hour)), time.Second)
	c.initialWait = 50 * time.Millisecond
	defer c.Close()

	connects := make(chan struct{}, 4)
	disconnects := make(chan struct{}, 4)
	c.On(models.EventConnect, func(models.Event) { connects <- struct{}{} })
	c.On(models.EventDisconnect, func(models.Event) { disconnects <- struct{}{} })

	if err := c.Dial(context.Background()); err != nil {
		t.Fatalf("dial: %v", err)
	}

	<-connects
	select {
	case <-disconnects:
	case <-time.After(3 * time.Second):
		t.Fatal("drop never surfaced as disconnect")
	}
	select {
	case <-connects:
	case <-time.After(3 * time.Second):
		t.Fatal("reconnect never happened")
	}
	if got := conns.Load(); got < 2 {
		t.Fatalf("server saw %d connections, want at least 2", got)
	}
}

func TestFailedInitialDialRetriesUntilServerAppears(t *testing.T) {
	l, err := net.Listen("tcp", "127.0.0.1:0")
	if err != nil {
		t.Fatal(err)
	}
	addr := l.Addr().String()
	l.Close()

	c := NewConn("ws://"+addr+"/ws", testToken(t, time.Now().Add(time.Hour)), time.Second)
	c.initialWait = 50 * time.Millisecond
	defer c.Close()

	connects := make(chan struct{}, 1)
	c.On(models.EventConnect, func(models.Event) { connects <- struct{}{} })

	if err := c.Dial(context.Background()); !apperrors.IsCode(err, apperrors.CodeTransport) {
		t.Fatalf("dial = %v, want TRANSPORT", err)
	}

	// The server comes up on the same address after the first attempt failed;
	// the background retries must find it.
	l2, err := net.Listen("tcp", addr)
	if err != nil {
		t.Fatal(err)
	}
	srv := &http.Server{Handler: http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		conn, err := testUpgrader.Upgrade(w, r, nil)
		if err != nil {
			return
		}
		defer conn.Close()
		for {
			if _, _, err := conn.ReadMessage(); err != nil {
				return
			}
		}
	})}
	go srv.Serve(l2)
	defer srv.Close()

	select {
	case <-connects:
	case <-time.After(5 * time.Second):
		t.Fatal("no connection after the server came up")
	}
	if c.State() != StateConnected {
		t.Fatalf("state = %s, want connected", c.State())
	}
}

func TestConnectDispatchPrecedesFirstFrame(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		conn, err := testUpgrader.Upgrade(w, r, nil)
		if err != nil {
			return
		}
		defer conn.Close()
		// Race a frame against the handshake.
		payload, _ := json.Marshal(map[string]interface{}{
			"type":           models.EventMessageCreated,
			"conversationId": "c1",
			"timestamp":      time.Now().Unix(),
		})
		conn.WriteMessage(websocket.TextMessage, payload)
		for {
			if _, _, err := conn.ReadMessage(); err != nil {
				return
			}
		}
	}))
	defer srv.Close()

	c := NewConn(wsURL(srv), testToken(t, time.Now().Add(time.Hour)), 0)
	defer c.Close()

	order := make(chan string, 2)
	c.On(models.EventConnect, func(models.Event) { order <- "connect" })
	c.On(models.EventMessageCreated, func(models.Event) { order <- "frame" })

	if err := c.Dial(context.Background()); err != nil {
		t.Fatalf("dial: %v", err)
	}

	for _, want := range []string{"connect", "frame"} {
		select {
		case got := <-order:
			if got != want {
				t.Fatalf("dispatch order: got %q, want %q", got, want)
			}
		case <-time.After(2 * time.Second):
			t.Fatalf("%s never dispatched", want)
		}
	}
}

func TestCloseClearsSubscribers(t *testing.T) {
	c := NewConn("ws://localhost:0/ws", testToken(t, time.Now().Add(time.Hour)), 0)

	fired := false
	c.On("custom", func(models.Event) { fired = true })
	c.Close()

	c.dispatch(models.Event{Type: "custom"})
	if fired {
		t.Fatal("subscriber survived Close")
	}
	if err := c.Dial(context.Background()); !apperrors.IsCode(err, apperrors.CodeTransport) {
		t.Fatalf("dial after close = %v, want TRANSPORT", err)
	}
}
