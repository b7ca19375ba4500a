package chat

import (
	"context"
	"log/slog"
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"

	apperrors "go-chat-client/internal/errors"
	"go-chat-client/internal/models"
)

type historyAPI interface {
	Messages(ctx context.Context, conversationID string) ([]*models.Message, error)
}

type messageEmitter interface {
	SendMessage(conversationID string, data models.MessageSendData) bool
}

// Stream reconciles the three message sources of a conversation — the history
// fetch, optimistic local sends, and inbound realtime events — into one
// ordered, deduplicated sequence. Confirmed entries keep arrival order and are
// never resorted; pending entries sit at the tail until promoted or failed.
type Stream struct {
	api    historyAPI
	conn   messageEmitter
	selfID string

	mu   sync.Mutex
	seqs map[string][]*models.Message
	seen map[string]map[string]struct{} // conversation id -> confirmed server ids

	dir      *Directory
	onChange func(conversationID string)
}

func NewStream(api historyAPI, conn messageEmitter, selfID string, dir *Directory, onChange func(string)) *Stream {
	if onChange == nil {
		onChange = func(string) {}
	}
	return &Stream{
		api:      api,
		conn:     conn,
		selfID:   selfID,
		seqs:     make(map[string][]*models.Message),
		seen:     make(map[string]map[string]struct{}),
		dir:      dir,
		onChange: onChange,
	}
}

// LoadHistory fetches the historical sequence and rebuilds local state for
// the conversation: fetched entries confirmed and ascending by timestamp,
// with unresolved pending or failed local sends carried over at the tail.
// A local send the server already persisted is absorbed by its client id. Not
// retried automatically; reload is user driven.
func (s *Stream) LoadHistory(ctx context.Context, conversationID string) error {
	msgs, err := s.api.Messages(ctx, conversationID)
	if err != nil {
		if apperrors.GetCode(err) == apperrors.CodeUnknown {
			return apperrors.Wrap(apperrors.CodeLoad, err, "load history for %s", conversationID)
		}
		return err
	}

	sort.SliceStable(msgs, func(i, j int) bool {
		return msgs[i].CreatedAt.Before(msgs[j].CreatedAt)
	})

	seq := make([]*models.Message, 0, len(msgs))
	seen := make(map[string]struct{}, len(msgs))
	for _, m := range msgs {
		if _, dup := seen[m.ID]; dup {
			continue
		}
		cp := *m
		cp.ConversationID = conversationID
		cp.State = models.DeliveryConfirmed
		seq = append(seq, &cp)
		seen[m.ID] = struct{}{}
	}

	s.mu.Lock()
	fetched := make(map[string]struct{}, len(seq))
	for _, m := range seq {
		if m.ClientID != "" {
			fetched[m.ClientID] = struct{}{}
		}
	}
	for _, m := range s.seqs[conversationID] {
		if m.State == models.DeliveryConfirmed {
			continue
		}
		if _, absorbed := fetched[m.ClientID]; absorbed {
			continue
		}
		seq = append(seq, m)
	}
	s.seqs[conversationID] = seq
	s.seen[conversationID] = seen
	s.mu.Unlock()

	s.onChange(conversationID)
	return nil
}

// Send inserts a pending message at the tail immediately and emits the send
// event. When the transport is down the message is marked failed on the spot
// rather than left pending; retry is user driven.
func (s *Stream) Send(conversationID, content, mediaURL, mediaType string) (models.Message, error) {
	temp := uuid.NewString()
	msg := &models.Message{
		ID:             temp,
		ClientID:       temp,
		ConversationID: conversationID,
		SenderID:       s.selfID,
		Content:        content,
		MediaURL:       mediaURL,
		MediaType:      mediaType,
		CreatedAt:      time.Now(),
		State:          models.DeliveryPending,
	}

	s.mu.Lock()
	s.seqs[conversationID] = append(s.seqs[conversationID], msg)
	s.mu.Unlock()

	delivered := s.conn.SendMessage(conversationID, models.MessageSendData{
		ClientID:  temp,
		Content:   content,
		MediaURL:  mediaURL,
		MediaType: mediaType,
	})

	s.mu.Lock()
	if !delivered {
		msg.State = models.DeliveryFailed
	}
	out := *msg
	s.mu.Unlock()

	s.onChange(conversationID)
	if !delivered {
		return out, apperrors.New(apperrors.CodeSendFailure, "not connected")
	}
	return out, nil
}

// Retry re-emits a failed message. The entry keeps its position and client id
// so the eventual echo still reconciles in place.
func (s *Stream) Retry(conversationID, messageID string) error {
	s.mu.Lock()
	var msg *models.Message
	for _, m := range s.seqs[conversationID] {
		if m.ID == messageID {
			msg = m
			break
		}
	}
	if msg == nil {
		s.mu.Unlock()
		return apperrors.New(apperrors.CodeSendFailure, "no such message %s", messageID)
	}
	if msg.State != models.DeliveryFailed {
		s.mu.Unlock()
		return apperrors.New(apperrors.CodeSendFailure, "message %s is not failed", messageID)
	}
	msg.State = models.DeliveryPending
	data := models.MessageSendData{
		ClientID:  msg.ClientID,
		Content:   msg.Content,
		MediaURL:  msg.MediaURL,
		MediaType: msg.MediaType,
	}
	s.mu.Unlock()

	delivered := s.conn.SendMessage(conversationID, data)

	s.mu.Lock()
	if !delivered {
		msg.State = models.DeliveryFailed
	}
	s.mu.Unlock()

	s.onChange(conversationID)
	if !delivered {
		return apperrors.New(apperrors.CodeSendFailure, "not connected")
	}
	return nil
}

// OnMessageCreated applies an inbound message:created event. Replays of an
// already-seen server id are ignored. A self echo promotes the matching
// pending entry in place — by client id when the server carries it through,
// by sender+content otherwise — instead of appending a duplicate.
func (s *Stream) OnMessageCreated(ev models.Event) {
	var data models.MessageCreatedData
	if err := ev.DecodeData(&data); err != nil {
		slog.Error("[STREAM] Bad message:created payload", "conversation", ev.ConversationID, "error", err)
		return
	}
	if data.ID == "" {
		slog.Warn("[STREAM] message:created without id, dropping", "conversation", ev.ConversationID)
		return
	}

	createdAt := parseTimestamp(data.CreatedAt, ev.Timestamp)
	conversationID := ev.ConversationID

	s.mu.Lock()
	seen := s.seen[conversationID]
	if seen == nil {
		seen = make(map[string]struct{})
		s.seen[conversationID] = seen
	}
	if _, dup := seen[data.ID]; dup {
		s.mu.Unlock()
		return
	}
	seen[data.ID] = struct{}{}

	if data.SenderID == s.selfID {
		if msg := s.findPendingLocked(conversationID, data); msg != nil {
			msg.ID = data.ID
			msg.CreatedAt = createdAt
			msg.State = models.DeliveryConfirmed
			s.mu.Unlock()
			s.recordSummary(conversationID, data, createdAt)
			s.onChange(conversationID)
			return
		}
	}

	s.seqs[conversationID] = append(s.seqs[conversationID], &models.Message{
		ID:             data.ID,
		ClientID:       data.ClientID,
		ConversationID: conversationID,
		SenderID:       data.SenderID,
		Content:        data.Content,
		MediaURL:       data.MediaURL,
		MediaType:      data.MediaType,
		CreatedAt:      createdAt,
		State:          models.DeliveryConfirmed,
	})
	s.mu.Unlock()

	s.recordSummary(conversationID, data, createdAt)
	s.onChange(conversationID)
}

// findPendingLocked locates the optimistic entry a self echo confirms. The
// client id is authoritative when echoed back; the sender+content match is the
// fallback and can mis-pick between identical texts sent back to back.
func (s *Stream) findPendingLocked(conversationID string, data models.MessageCreatedData) *models.Message {
	if data.ClientID != "" {
		for _, m := range s.seqs[conversationID] {
			if m.ClientID == data.ClientID && m.State != models.DeliveryConfirmed {
				return m
			}
		}
		return nil
	}
	for _, m := range s.seqs[conversationID] {
		if m.State == models.DeliveryPending && m.Content == data.Content {
			return m
		}
	}
	return nil
}

// Messages returns a snapshot copy of the conversation's sequence.
func (s *Stream) Messages(conversationID string) []models.Message {
	s.mu.Lock()
	defer s.mu.Unlock()
	seq := s.seqs[conversationID]
	out := make([]models.Message, len(seq))
	for i, m := range seq {
		out[i] = *m
	}
	return out
}

func (s *Stream) recordSummary(conversationID string, data models.MessageCreatedData, createdAt time.Time) {
	if s.dir == nil {
		return
	}
	content := data.Content
	if content == "" && data.MediaURL != "" {
		content = "[media]"
	}
	s.dir.SetLastMessage(conversationID, models.MessageSummary{
		Content:   content,
		SenderID:  data.SenderID,
		CreatedAt: createdAt,
	})
}

func parseTimestamp(createdAt string, fallbackUnix int64) time.Time {
	if createdAt != "" {
		if ts, err := time.Parse(time.RFC3339Nano, createdAt); err == nil {
			return ts
		}
		if ts, err := time.Parse(time.RFC3339, createdAt); err == nil {
			return ts
		}
	}
	if fallbackUnix > 0 {
		return time.Unix(fallbackUnix, 0)
	}
	return time.Now()
}
