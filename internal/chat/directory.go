// Package chat holds the client's synchronization core: the conversation
// directory, the message stream reconciler, typing presence, membership
// projection, and the session object that composes them.
package chat

import (
	"context"
	"sort"
	"sync"

	apperrors "go-chat-client/internal/errors"
	"go-chat-client/internal/models"
)

type directoryAPI interface {
	ListConversations(ctx context.Context) ([]*models.Conversation, error)
}

// Directory is the local registry of conversations the user belongs to.
// Membership fields are replaced wholesale on authoritative refreshes; the
// last-message summary is maintained as messages arrive. Readers get copies.
type Directory struct {
	mu            sync.RWMutex
	conversations map[string]*models.Conversation
}

func NewDirectory() *Directory {
	return &Directory{conversations: make(map[string]*models.Conversation)}
}

// Load replaces the directory with the server's conversation list.
func (d *Directory) Load(ctx context.Context, api directoryAPI) error {
	convs, err := api.ListConversations(ctx)
	if err != nil {
		if apperrors.GetCode(err) == apperrors.CodeUnknown {
			return apperrors.Wrap(apperrors.CodeLoad, err, "load conversations")
		}
		return err
	}

	next := make(map[string]*models.Conversation, len(convs))
	for _, c := range convs {
		next[c.ID] = c
	}

	d.mu.Lock()
	d.conversations = next
	d.mu.Unlock()
	return nil
}

// Put inserts or replaces one conversation.
func (d *Directory) Put(conv *models.Conversation) {
	d.mu.Lock()
	d.conversations[conv.ID] = conv
	d.mu.Unlock()
}

// Get returns a copy of the conversation, if known.
func (d *Directory) Get(conversationID string) (*models.Conversation, bool) {
	d.mu.RLock()
	defer d.mu.RUnlock()
	conv, ok := d.conversations[conversationID]
	if !ok {
		return nil, false
	}
	return copyConversation(conv), true
}

// List returns conversation copies ordered by most recent activity.
func (d *Directory) List() []*models.Conversation {
	d.mu.RLock()
	out := make([]*models.Conversation, 0, len(d.conversations))
	for _, conv := range d.conversations {
		out = append(out, copyConversation(conv))
	}
	d.mu.RUnlock()

	sort.Slice(out, func(i, j int) bool {
		li, lj := out[i].LastMessage, out[j].LastMessage
		switch {
		case li == nil && lj == nil:
			return out[i].ID < out[j].ID
		case li == nil:
			return false
		case lj == nil:
			return true
		case li.CreatedAt.Equal(lj.CreatedAt):
			return out[i].ID < out[j].ID
		default:
			return li.CreatedAt.After(lj.CreatedAt)
		}
	})
	return out
}

// SetMembers replaces a conversation's participant set with the
// authoritative list from the server.
func (d *Directory) SetMembers(conversationID string, members []*models.User) {
	d.mu.Lock()
	defer d.mu.Unlock()
	conv, ok := d.conversations[conversationID]
	if !ok {
		return
	}
	ids := make([]string, 0, len(members))
	for _, m := range members {
		ids = append(ids, m.ID)
	}
	conv.Participants = ids
}

// AddParticipant applies an inbound member:added event.
func (d *Directory) AddParticipant(conversationID, userID string) {
	d.mu.Lock()
	defer d.mu.Unlock()
	conv, ok := d.conversations[conversationID]
	if !ok || conv.HasParticipant(userID) {
		return
	}
	conv.Participants = append(conv.Participants, userID)
}

// RemoveParticipant applies an inbound member:removed event.
func (d *Directory) RemoveParticipant(conversationID, userID string) {
	d.mu.Lock()
	defer d.mu.Unlock()
	conv, ok := d.conversations[conversationID]
	if !ok {
		return
	}
	for i, id := range conv.Participants {
		if id == userID {
			conv.Participants = append(conv.Participants[:i], conv.Participants[i+1:]...)
			break
		}
	}
}

// SetLastMessage updates the inbox preview for a conversation.
func (d *Directory) SetLastMessage(conversationID string, summary models.MessageSummary) {
	d.mu.Lock()
	defer d.mu.Unlock()
	conv, ok := d.conversations[conversationID]
	if !ok {
		return
	}
	conv.LastMessage = &summary
}

func copyConversation(conv *models.Conversation) *models.Conversation {
	cp := *conv
	cp.Participants = append([]string(nil), conv.Participants...)
	cp.Admins = append([]string(nil), conv.Admins...)
	if conv.LastMessage != nil {
		lm := *conv.LastMessage
		cp.LastMessage = &lm
	}
	return &cp
}
