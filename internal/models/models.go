package models

import "time"

type ConversationType string

const (
	ConversationPrivate ConversationType = "private"
	ConversationGroup   ConversationType = "group"
)

// Conversation is the client-side view of a chat context. Membership and
// admin fields are authoritative only after a server refresh; the LastMessage
// summary is maintained locally as messages arrive.
type Conversation struct {
	ID           string           `json:"id"`
	Type         ConversationType `json:"type"`
	Name         string           `json:"name,omitempty"`
	Participants []string         `json:"participants"`
	Admins       []string         `json:"admins,omitempty"`
	LastMessage  *MessageSummary  `json:"lastMessage,omitempty"`
}

// IsAdmin reports whether userID is in the conversation's admin set.
func (c *Conversation) IsAdmin(userID string) bool {
	for _, id := range c.Admins {
		if id == userID {
			return true
		}
	}
	return false
}

// HasParticipant reports whether userID is a member of the conversation.
func (c *Conversation) HasParticipant(userID string) bool {
	for _, id := range c.Participants {
		if id == userID {
			return true
		}
	}
	return false
}

// MessageSummary is the inbox preview for a conversation.
type MessageSummary struct {
	Content   string    `json:"content"`
	SenderID  string    `json:"senderId"`
	CreatedAt time.Time `json:"createdAt"`
}

type DeliveryState string

const (
	DeliveryPending   DeliveryState = "pending"
	DeliveryConfirmed DeliveryState = "confirmed"
	DeliveryFailed    DeliveryState = "failed"
)

// Message is one entry in a conversation's reconciled sequence. ID holds the
// server id once confirmed; until then it holds the client-generated temp id,
// which is also kept in ClientID as the echo correlation token.
type Message struct {
	ID             string        `json:"id"`
	ClientID       string        `json:"clientId,omitempty"`
	ConversationID string        `json:"conversationId"`
	SenderID       string        `json:"senderId"`
	Content        string        `json:"content,omitempty"`
	MediaURL       string        `json:"mediaUrl,omitempty"`
	MediaType      string        `json:"mediaType,omitempty"`
	CreatedAt      time.Time     `json:"createdAt"`
	State          DeliveryState `json:"state"`
}

// User is the minimal profile shape returned by the directory API.
type User struct {
	ID     string `json:"id"`
	Name   string `json:"name"`
	Email  string `json:"email,omitempty"`
	Avatar string `json:"avatar,omitempty"`
}
