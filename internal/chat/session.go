package chat

import (
	"context"
	"errors"
	"log/slog"

	"go-chat-client/internal/api"
	"go-chat-client/internal/auth"
	"go-chat-client/internal/config"
	"go-chat-client/internal/models"
	"go-chat-client/internal/ws"
)

// UpdateKind names what part of client state changed, so the UI knows what to
// re-render.
type UpdateKind string

const (
	UpdateMessages     UpdateKind = "messages"
	UpdateTyping       UpdateKind = "typing"
	UpdateConversation UpdateKind = "conversation"
	UpdateConnection   UpdateKind = "connection"
)

// Update is one re-render signal delivered to the UI.
type Update struct {
	Kind           UpdateKind
	ConversationID string
	State          ws.State
	Err            error
}

// Session is the explicit per-login context object: it owns the API client,
// the connection, and every synchronization component, and wires inbound
// events to the component that owns that event type. Created on login, closed
// on logout.
type Session struct {
	UserID string

	API       *api.Client
	Conn      *ws.Conn
	Rooms     *ws.RoomTracker
	Stream    *Stream
	Typing    *Typing
	Members   *Members
	Directory *Directory

	notify func(Update)
}

// NewSession builds a session from config. Fails with an AUTH error when the
// token is missing or malformed, so the caller can force a login.
func NewSession(cfg *config.Config, notify func(Update)) (*Session, error) {
	userID, err := auth.UserID(cfg.Token)
	if err != nil {
		return nil, err
	}
	if notify == nil {
		notify = func(Update) {}
	}

	s := &Session{
		UserID: userID,
		API:    api.NewClient(cfg.APIBaseURL, cfg.Token, cfg.RequestTimeout),
		Conn:   ws.NewConn(cfg.ServerURL, cfg.Token, cfg.ReconnectMaxWait),
		notify: notify,
	}
	s.Rooms = ws.NewRoomTracker(s.Conn)
	s.Directory = NewDirectory()
	s.Stream = NewStream(s.API, s.Conn, userID, s.Directory, func(convID string) {
		notify(Update{Kind: UpdateMessages, ConversationID: convID})
	})
	s.Typing = NewTyping(s.Conn, userID, cfg.TypingDebounce, cfg.TypingExpiry, func(convID string) {
		notify(Update{Kind: UpdateTyping, ConversationID: convID})
	})
	s.Members = NewMembers(s.API, s.Directory, userID, func(convID string) {
		notify(Update{Kind: UpdateConversation, ConversationID: convID})
	})

	s.subscribe()
	return s, nil
}

// subscribe routes each inbound event type to the component that owns it.
// Room-scoped events for a conversation the client is no longer joined to are
// dropped here: the server may have emitted them before it processed the
// leave. Membership events mutate the directory, not the room stream, so they
// apply regardless of the active room.
func (s *Session) subscribe() {
	s.Conn.On(models.EventConnect, func(models.Event) {
		s.Rooms.Rejoin()
		s.notify(Update{Kind: UpdateConnection, State: ws.StateConnected})
	})
	s.Conn.On(models.EventDisconnect, func(models.Event) {
		s.notify(Update{Kind: UpdateConnection, State: ws.StateDisconnected})
	})
	s.Conn.On(models.EventConnectError, func(ev models.Event) {
		reason := "connection failed"
		var data models.ConnectErrorData
		if err := ev.DecodeData(&data); err == nil && data.Reason != "" {
			reason = data.Reason
		}
		s.notify(Update{
			Kind:  UpdateConnection,
			State: ws.StateDisconnected,
			Err:   errors.New(reason),
		})
	})

	s.Conn.On(models.EventMessageCreated, s.activeRoomOnly(s.Stream.OnMessageCreated))
	s.Conn.On(models.EventTypingStart, s.activeRoomOnly(s.Typing.OnRemoteTyping))
	s.Conn.On(models.EventTypingStop, s.activeRoomOnly(s.Typing.OnRemoteStopped))

	s.Conn.On(models.EventMemberAdded, s.Members.OnMemberAdded)
	s.Conn.On(models.EventMemberRemoved, s.Members.OnMemberRemoved)
}

func (s *Session) activeRoomOnly(handler func(models.Event)) ws.Handler {
	return func(ev models.Event) {
		if ev.ConversationID != s.Rooms.Active() {
			slog.Debug("[SESSION] Dropping event for inactive room",
				"type", ev.Type, "conversation", ev.ConversationID)
			return
		}
		handler(ev)
	}
}

// Connect loads the conversation directory and establishes the realtime
// connection.
func (s *Session) Connect(ctx context.Context) error {
	if err := s.Directory.Load(ctx, s.API); err != nil {
		return err
	}
	return s.Conn.Dial(ctx)
}

// Open joins a conversation's room and loads its history. The join is issued
// first so realtime events are not missed while the fetch is in flight; the
// reconciler dedupes any overlap.
func (s *Session) Open(ctx context.Context, conversationID string) error {
	s.Rooms.SetActive(conversationID)
	return s.Stream.LoadHistory(ctx, conversationID)
}

// LeaveRoom unsubscribes from the active room, if any.
func (s *Session) LeaveRoom() {
	s.Rooms.SetActive("")
}

// Send forces the typing indicator back to idle, then sends the message
// optimistically.
func (s *Session) Send(conversationID, content string) (models.Message, error) {
	s.Typing.Submitted(conversationID)
	return s.Stream.Send(conversationID, content, "", "")
}

// SendMedia sends a message with a media reference attached.
func (s *Session) SendMedia(conversationID, content, mediaURL, mediaType string) (models.Message, error) {
	s.Typing.Submitted(conversationID)
	return s.Stream.Send(conversationID, content, mediaURL, mediaType)
}

// Close tears down the session: the typing sweeper, then the connection and
// all its subscriptions.
func (s *Session) Close() {
	s.Typing.Close()
	s.Conn.Close()
}
