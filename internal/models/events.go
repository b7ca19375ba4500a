package models

import "github.com/goccy/go-json"

// Event type names used on the wire.
const (
	EventRoomJoin       = "room:join"
	EventRoomLeave      = "room:leave"
	EventMessageSend    = "message:send"
	EventMessageCreated = "message:created"
	EventTypingStart    = "typing:start"
	EventTypingStop     = "typing:stop"
	EventMemberAdded    = "member:added"
	EventMemberRemoved  = "member:removed"

	// Transport-level pseudo events, dispatched through the same subscriber
	// registry as wire events but never serialized.
	EventConnect      = "connect"
	EventDisconnect   = "disconnect"
	EventConnectError = "connect:error"
)

// Event is the wire envelope for every realtime event, inbound and outbound.
type Event struct {
	Type           string          `json:"type"`
	ConversationID string          `json:"conversationId,omitempty"`
	Timestamp      int64           `json:"timestamp"`
	Data           json.RawMessage `json:"data,omitempty"`
}

// Specific event data structures

type MessageSendData struct {
	ClientID  string `json:"clientId"`
	Content   string `json:"content,omitempty"`
	MediaURL  string `json:"mediaUrl,omitempty"`
	MediaType string `json:"mediaType,omitempty"`
}

type MessageCreatedData struct {
	ID        string `json:"id"`
	ClientID  string `json:"clientId,omitempty"`
	SenderID  string `json:"senderId"`
	Content   string `json:"content,omitempty"`
	MediaURL  string `json:"mediaUrl,omitempty"`
	MediaType string `json:"mediaType,omitempty"`
	CreatedAt string `json:"createdAt"`
}

type TypingData struct {
	UserID string `json:"userId"`
}

type MemberChangeData struct {
	UserID string `json:"userId"`
}

type ConnectErrorData struct {
	Reason string `json:"reason"`
}

// DecodeData unmarshals the envelope's raw data into v.
func (e *Event) DecodeData(v interface{}) error {
	if len(e.Data) == 0 {
		return nil
	}
	return json.Unmarshal(e.Data, v)
}
