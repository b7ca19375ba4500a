package chat

import (
	"context"
	"log/slog"

	apperrors "go-chat-client/internal/errors"
	"go-chat-client/internal/models"
)

type membersAPI interface {
	AddMembers(ctx context.Context, conversationID string, userIDs []string) error
	RemoveMember(ctx context.Context, conversationID, userID string) error
	Members(ctx context.Context, conversationID string) ([]*models.User, error)
}

// Members projects membership changes onto local group state. Admin-initiated
// mutations go through the API and refresh the authoritative member list on
// success; nothing is applied optimistically, because a wrong guess here
// corrupts display-name resolution everywhere membership is read.
type Members struct {
	api      membersAPI
	dir      *Directory
	selfID   string
	onChange func(conversationID string)
}

func NewMembers(api membersAPI, dir *Directory, selfID string, onChange func(string)) *Members {
	if onChange == nil {
		onChange = func(string) {}
	}
	return &Members{api: api, dir: dir, selfID: selfID, onChange: onChange}
}

// Add asks the server to add users to a group conversation. Only an admin may
// mutate membership; server rejections are surfaced verbatim with no local
// mutation.
func (m *Members) Add(ctx context.Context, conversationID string, userIDs []string) error {
	if err := m.authorize(conversationID); err != nil {
		return err
	}
	if len(userIDs) == 0 {
		return apperrors.New(apperrors.CodeAuthorization, "no users to add")
	}

	if err := m.api.AddMembers(ctx, conversationID, userIDs); err != nil {
		return err
	}
	return m.refresh(ctx, conversationID)
}

// Remove asks the server to remove one user from a group conversation.
// Self-removal is rejected here; leaving a conversation is a distinct action.
func (m *Members) Remove(ctx context.Context, conversationID, userID string) error {
	if err := m.authorize(conversationID); err != nil {
		return err
	}
	if userID == m.selfID {
		return apperrors.New(apperrors.CodeAuthorization, "cannot remove yourself; leave the conversation instead")
	}

	if err := m.api.RemoveMember(ctx, conversationID, userID); err != nil {
		return err
	}
	return m.refresh(ctx, conversationID)
}

func (m *Members) authorize(conversationID string) error {
	conv, ok := m.dir.Get(conversationID)
	if !ok {
		return apperrors.New(apperrors.CodeLoad, "unknown conversation %s", conversationID)
	}
	if conv.Type != models.ConversationGroup {
		return apperrors.New(apperrors.CodeAuthorization, "membership can only be changed on group conversations")
	}
	if !conv.IsAdmin(m.selfID) {
		return apperrors.New(apperrors.CodeAuthorization, "only group admins can change membership")
	}
	return nil
}

// refresh replaces the local member list with the server's, then notifies
// observers since membership affects name resolution elsewhere.
func (m *Members) refresh(ctx context.Context, conversationID string) error {
	members, err := m.api.Members(ctx, conversationID)
	if err != nil {
		if apperrors.GetCode(err) == apperrors.CodeUnknown {
			return apperrors.Wrap(apperrors.CodeLoad, err, "refresh members for %s", conversationID)
		}
		return err
	}
	m.dir.SetMembers(conversationID, members)
	m.onChange(conversationID)
	return nil
}

// OnMemberAdded applies an inbound member:added event to local state.
func (m *Members) OnMemberAdded(ev models.Event) {
	var data models.MemberChangeData
	if err := ev.DecodeData(&data); err != nil || data.UserID == "" {
		slog.Warn("[MEMBERS] Bad member:added payload", "conversation", ev.ConversationID)
		return
	}
	m.dir.AddParticipant(ev.ConversationID, data.UserID)
	m.onChange(ev.ConversationID)
}

// OnMemberRemoved applies an inbound member:removed event to local state.
func (m *Members) OnMemberRemoved(ev models.Event) {
	var data models.MemberChangeData
	if err := ev.DecodeData(&data); err != nil || data.UserID == "" {
		slog.Warn("[MEMBERS] Bad member:removed payload", "conversation", ev.ConversationID)
		return
	}
	m.dir.RemoveParticipant(ev.ConversationID, data.UserID)
	m.onChange(ev.ConversationID)
}
