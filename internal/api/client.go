// Package api is the request/response collaborator: a thin bearer-token HTTP
// client for everything that is not realtime (history, membership, directory).
package api

import (
	"bytes"
	"context"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"time"

	"github.com/goccy/go-json"

	apperrors "go-chat-client/internal/errors"
	"go-chat-client/internal/models"
)

// Client calls the chat REST API with a bearer credential.
type Client struct {
	baseURL string
	token   string
	http    *http.Client
}

func NewClient(baseURL, token string, timeout time.Duration) *Client {
	return &Client{
		baseURL: baseURL,
		token:   token,
		http:    &http.Client{Timeout: timeout},
	}
}

// ListConversations fetches the caller's conversation list.
func (c *Client) ListConversations(ctx context.Context) ([]*models.Conversation, error) {
	var out []*models.Conversation
	if err := c.get(ctx, "/api/conversations", &out); err != nil {
		return nil, err
	}
	return out, nil
}

// GetConversation fetches one conversation with its authoritative membership.
func (c *Client) GetConversation(ctx context.Context, conversationID string) (*models.Conversation, error) {
	var out models.Conversation
	if err := c.get(ctx, "/api/conversations/"+url.PathEscape(conversationID), &out); err != nil {
		return nil, err
	}
	return &out, nil
}

// Messages fetches the historical message sequence for a conversation.
func (c *Client) Messages(ctx context.Context, conversationID string) ([]*models.Message, error) {
	var out []*models.Message
	if err := c.get(ctx, "/api/conversations/"+url.PathEscape(conversationID)+"/messages", &out); err != nil {
		return nil, err
	}
	return out, nil
}

// Members fetches the authoritative member list for a conversation.
func (c *Client) Members(ctx context.Context, conversationID string) ([]*models.User, error) {
	var out []*models.User
	if err := c.get(ctx, "/api/conversations/"+url.PathEscape(conversationID)+"/members", &out); err != nil {
		return nil, err
	}
	return out, nil
}

// AddMembers asks the server to add users to a group conversation.
func (c *Client) AddMembers(ctx context.Context, conversationID string, userIDs []string) error {
	body := map[string][]string{"userIds": userIDs}
	return c.do(ctx, http.MethodPost, "/api/conversations/"+url.PathEscape(conversationID)+"/members", body, nil)
}

// RemoveMember asks the server to remove one user from a group conversation.
func (c *Client) RemoveMember(ctx context.Context, conversationID, userID string) error {
	path := "/api/conversations/" + url.PathEscape(conversationID) + "/members/" + url.PathEscape(userID)
	return c.do(ctx, http.MethodDelete, path, nil, nil)
}

// SearchUsers searches the user directory.
func (c *Client) SearchUsers(ctx context.Context, query string) ([]*models.User, error) {
	var out []*models.User
	if err := c.get(ctx, "/api/users/search?q="+url.QueryEscape(query), &out); err != nil {
		return nil, err
	}
	return out, nil
}

// CreateConversation creates a private or group conversation.
func (c *Client) CreateConversation(ctx context.Context, typ models.ConversationType, name string, participantIDs []string) (*models.Conversation, error) {
	body := map[string]interface{}{
		"type":         typ,
		"name":         name,
		"participants": participantIDs,
	}
	var out models.Conversation
	if err := c.do(ctx, http.MethodPost, "/api/conversations", body, &out); err != nil {
		return nil, err
	}
	return &out, nil
}

func (c *Client) get(ctx context.Context, path string, out interface{}) error {
	return c.do(ctx, http.MethodGet, path, nil, out)
}

func (c *Client) do(ctx context.Context, method, path string, body, out interface{}) error {
	var reader io.Reader
	if body != nil {
		payload, err := json.Marshal(body)
		if err != nil {
			return fmt.Errorf("marshal request body: %w", err)
		}
		reader = bytes.NewReader(payload)
	}

	req, err := http.NewRequestWithContext(ctx, method, c.baseURL+path, reader)
	if err != nil {
		return fmt.Errorf("build request: %w", err)
	}
	req.Header.Set("Authorization", "Bearer "+c.token)
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}

	resp, err := c.http.Do(req)
	if err != nil {
		return apperrors.Wrap(apperrors.CodeTransport, err, "%s %s", method, path)
	}
	defer resp.Body.Close()

	if resp.StatusCode >= 400 {
		return statusError(resp, method, path)
	}

	if out == nil {
		return nil
	}
	if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
		return apperrors.Wrap(apperrors.CodeLoad, err, "decode %s %s response", method, path)
	}
	return nil
}

// statusError maps an HTTP error response onto the client's error taxonomy,
// keeping the server's own message verbatim when it provides one.
func statusError(resp *http.Response, method, path string) error {
	msg := serverMessage(resp.Body)
	if msg == "" {
		msg = http.StatusText(resp.StatusCode)
	}

	switch resp.StatusCode {
	case http.StatusUnauthorized:
		return apperrors.New(apperrors.CodeAuth, "%s", msg)
	case http.StatusForbidden:
		return apperrors.New(apperrors.CodeAuthorization, "%s", msg)
	default:
		return apperrors.New(apperrors.CodeLoad, "%s %s: %d %s", method, path, resp.StatusCode, msg)
	}
}

func serverMessage(body io.Reader) string {
	var payload struct {
		Error   string `json:"error"`
		Message string `json:"message"`
	}
	if err := json.NewDecoder(body).Decode(&payload); err != nil {
		return ""
	}
	if payload.Error != "" {
		return payload.Error
	}
	return payload.Message
}
