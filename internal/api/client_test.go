package api

import (
	"context"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	apperrors "go-chat-client/internal/errors"
)

func newTestClient(handler http.HandlerFunc) (*Client, *httptest.Server) {
	srv := httptest.NewServer(handler)
	return NewClient(srv.URL, "test-token", 5*time.Second), srv
}

func TestRequestsCarryBearerToken(t *testing.T) {
	var got string
	client, srv := newTestClient(func(w http.ResponseWriter, r *http.Request) {
		got = r.Header.Get("Authorization")
		w.Write([]byte("[]"))
	})
	defer srv.Close()

	if _, err := client.ListConversations(context.Background()); err != nil {
		t.Fatalf("list: %v", err)
	}
	if got != "Bearer test-token" {
		t.Fatalf("Authorization = %q", got)
	}
}

func TestMessagesDecodesPayload(t *testing.T) {
	client, srv := newTestClient(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/api/conversations/c1/messages" {
			t.Errorf("path = %s", r.URL.Path)
		}
		w.Write([]byte(`[{"id":"m1","senderId":"alice","content":"hi","createdAt":"2026-08-01T10:00:00Z"}]`))
	})
	defer srv.Close()

	msgs, err := client.Messages(context.Background(), "c1")
	if err != nil {
		t.Fatalf("messages: %v", err)
	}
	if len(msgs) != 1 || msgs[0].ID != "m1" || msgs[0].SenderID != "alice" {
		t.Fatalf("msgs = %+v", msgs)
	}
}

func TestUnauthorizedMapsToAuthError(t *testing.T) {
	client, srv := newTestClient(func(w http.ResponseWriter, r *http.Request) {
		http.Error(w, `{"error":"token expired"}`, http.StatusUnauthorized)
	})
	defer srv.Close()

	_, err := client.Messages(context.Background(), "c1")
	if !apperrors.IsCode(err, apperrors.CodeAuth) {
		t.Fatalf("err = %v, want AUTH", err)
	}
}

func TestForbiddenMapsToAuthorizationErrorVerbatim(t *testing.T) {
	client, srv := newTestClient(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusForbidden)
		w.Write([]byte(`{"error":"only admins can remove members"}`))
	})
	defer srv.Close()

	err := client.RemoveMember(context.Background(), "c1", "bob")
	if !apperrors.IsCode(err, apperrors.CodeAuthorization) {
		t.Fatalf("err = %v, want AUTHORIZATION", err)
	}
	var appErr *apperrors.Error
	if !errors.As(err, &appErr) || appErr.Message != "only admins can remove members" {
		t.Fatalf("message not verbatim: %v", err)
	}
}

func TestServerErrorMapsToLoadError(t *testing.T) {
	client, srv := newTestClient(func(w http.ResponseWriter, r *http.Request) {
		http.Error(w, "boom", http.StatusInternalServerError)
	})
	defer srv.Close()

	_, err := client.Members(context.Background(), "c1")
	if !apperrors.IsCode(err, apperrors.CodeLoad) {
		t.Fatalf("err = %v, want LOAD", err)
	}
}

func TestUnreachableServerIsTransportError(t *testing.T) {
	client, srv := newTestClient(func(w http.ResponseWriter, r *http.Request) {})
	srv.Close()

	_, err := client.ListConversations(context.Background())
	if !apperrors.IsCode(err, apperrors.CodeTransport) {
		t.Fatalf("err = %v, want TRANSPORT", err)
	}
}
