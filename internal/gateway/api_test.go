// ABOUTME: Tests for the HTTP API handlers and their error mapping
// ABOUTME: Covers login, registration, send, history, channels and presence

package gateway

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/strandchat/strand/internal/config"
	"github.com/strandchat/strand/internal/store"
)

func testConfig(t *testing.T) *config.Config {
	t.Helper()
	return &config.Config{
		Server:   config.ServerConfig{HTTPAddr: "127.0.0.1:0"},
		Database: config.DatabaseConfig{Path: filepath.Join(t.TempDir(), "strand.db")},
		Auth: config.AuthConfig{
			JWTSecret:         "test-secret-key-for-jwt-signing",
			TokenTTL:          time.Hour,
			AllowRegistration: true,
		},
		Stream: config.StreamConfig{
			SessionBuffer:     16,
			KeepaliveInterval: time.Minute,
		},
		History: config.HistoryConfig{
			DefaultPageSize: 20,
			MaxPageSize:     200,
		},
	}
}

func newTestGateway(t *testing.T) *Gateway {
	t.Helper()

	logger := slog.New(slog.NewTextHandler(io.Discard, nil))
	gw, err := New(testConfig(t), logger)
	require.NoError(t, err)
	t.Cleanup(func() {
		gw.replays.Close()
		_ = gw.store.Close()
	})
	return gw
}

// seedUser creates a user directly in the store. The password hash is a
// placeholder; login tests seed through /api/register instead.
func seedUser(t *testing.T, gw *Gateway, id string) {
	t.Helper()
	err := gw.store.CreateUser(context.Background(), &store.User{
		ID:           id,
		Email:        id + "@example.com",
		DisplayName:  id,
		PasswordHash: "unused",
		CreatedAt:    time.Now().UTC(),
	})
	require.NoError(t, err)
}

func tokenFor(t *testing.T, gw *Gateway, userID string) string {
	t.Helper()
	token, err := gw.verifier.Generate(userID, time.Hour)
	require.NoError(t, err)
	return token
}

// doJSON performs a request against the gateway mux with an optional auth
// token and JSON body, returning the recorder.
func doJSON(t *testing.T, gw *Gateway, method, path, token string, body any) *httptest.ResponseRecorder {
	t.Helper()

	var reader io.Reader
	if body != nil {
		raw, err := json.Marshal(body)
		require.NoError(t, err)
		reader = bytes.NewReader(raw)
	}

	req := httptest.NewRequest(method, path, reader)
	req.Header.Set("Content-Type", "application/json")
	if token != "" {
		req.Header.Set("Authorization", "Bearer "+token)
	}
	rec := httptest.NewRecorder()
	gw.Handler().ServeHTTP(rec, req)
	return rec
}

func decodeBody[T any](t *testing.T, rec *httptest.ResponseRecorder) T {
	t.Helper()
	var out T
	require.NoError(t, json.NewDecoder(rec.Body).Decode(&out))
	return out
}

func TestHandleRegisterAndLogin(t *testing.T) {
	gw := newTestGateway(t)

	rec := doJSON(t, gw, http.MethodPost, "/api/register", "", RegisterRequest{
		Email:       "alice@example.com",
		DisplayName: "Alice",
		Password:    "hunter22",
	})
	require.Equal(t, http.StatusCreated, rec.Code)
	created := decodeBody[UserResponse](t, rec)
	assert.NotEmpty(t, created.ID)
	assert.Equal(t, "alice@example.com", created.Email)

	// Duplicate email
	rec = doJSON(t, gw, http.MethodPost, "/api/register", "", RegisterRequest{
		Email:       "alice@example.com",
		DisplayName: "Alice Again",
		Password:    "hunter22",
	})
	assert.Equal(t, http.StatusConflict, rec.Code)

	// Login with correct credentials
	rec = doJSON(t, gw, http.MethodPost, "/api/login", "", LoginRequest{
		Email:    "alice@example.com",
		Password: "hunter22",
	})
	require.Equal(t, http.StatusOK, rec.Code)
	login := decodeBody[LoginResponse](t, rec)
	assert.Equal(t, created.ID, login.UserID)
	assert.Equal(t, "Alice", login.DisplayName)

	// The minted token authenticates API requests
	rec = doJSON(t, gw, http.MethodGet, "/api/presence", login.Token, nil)
	assert.Equal(t, http.StatusOK, rec.Code)
}

func TestHandleLogin_BadCredentials(t *testing.T) {
	gw := newTestGateway(t)

	rec := doJSON(t, gw, http.MethodPost, "/api/register", "", RegisterRequest{
		Email:       "bob@example.com",
		DisplayName: "Bob",
		Password:    "correct",
	})
	require.Equal(t, http.StatusCreated, rec.Code)

	rec = doJSON(t, gw, http.MethodPost, "/api/login", "", LoginRequest{
		Email:    "bob@example.com",
		Password: "wrong",
	})
	assert.Equal(t, http.StatusUnauthorized, rec.Code)

	rec = doJSON(t, gw, http.MethodPost, "/api/login", "", LoginRequest{
		Email:    "nobody@example.com",
		Password: "whatever",
	})
	assert.Equal(t, http.StatusUnauthorized, rec.Code)
}

func TestHandleRegister_Disabled(t *testing.T) {
	gw := newTestGateway(t)
	gw.config.Auth.AllowRegistration = false

	rec := doJSON(t, gw, http.MethodPost, "/api/register", "", RegisterRequest{
		Email:       "eve@example.com",
		DisplayName: "Eve",
		Password:    "pw",
	})
	assert.Equal(t, http.StatusForbidden, rec.Code)
}

func TestAPIRequiresAuth(t *testing.T) {
	gw := newTestGateway(t)

	paths := []string{"/api/presence", "/api/channels", "/api/history/direct?peer=x", "/api/stream"}
	for _, path := range paths {
		rec := doJSON(t, gw, http.MethodGet, path, "", nil)
		assert.Equal(t, http.StatusUnauthorized, rec.Code, "path %s", path)
	}

	rec := doJSON(t, gw, http.MethodGet, "/api/presence", "not-a-jwt", nil)
	assert.Equal(t, http.StatusUnauthorized, rec.Code)
}

func TestHandleSendMessage_DirectPersistsToHistory(t *testing.T) {
	gw := newTestGateway(t)
	seedUser(t, gw, "alice")
	seedUser(t, gw, "bob")
	token := tokenFor(t, gw, "alice")

	rec := doJSON(t, gw, http.MethodPost, "/api/messages", token, SendMessageRequest{
		Recipient: "bob",
		Kind:      "text",
		Content:   "hello bob",
	})
	require.Equal(t, http.StatusCreated, rec.Code)

	sent := decodeBody[MessageResponse](t, rec)
	assert.NotEmpty(t, sent.ID)
	assert.Equal(t, "alice", sent.Sender)
	assert.False(t, sent.Timestamp.IsZero())

	// Both participants see the message in the DM history
	for _, viewer := range []string{"alice", "bob"} {
		peer := "bob"
		if viewer == "bob" {
			peer = "alice"
		}
		rec = doJSON(t, gw, http.MethodGet, "/api/history/direct?peer="+peer, tokenFor(t, gw, viewer), nil)
		require.Equal(t, http.StatusOK, rec.Code)

		page := decodeBody[HistoryResponse](t, rec)
		require.Len(t, page.Messages, 1)
		assert.Equal(t, sent.ID, page.Messages[0].ID)
		assert.Equal(t, "hello bob", page.Messages[0].Content)
		assert.False(t, page.HasMore)
		assert.Equal(t, 1, page.TotalCount)
	}
}

func TestHandleSendMessage_IdempotencyKeyReplaysResult(t *testing.T) {
	gw := newTestGateway(t)
	seedUser(t, gw, "alice")
	seedUser(t, gw, "bob")
	token := tokenFor(t, gw, "alice")

	req := SendMessageRequest{
		Recipient:       "bob",
		Kind:            "text",
		Content:         "hello once",
		ClientMessageID: "retry-1",
	}

	rec := doJSON(t, gw, http.MethodPost, "/api/messages", token, req)
	require.Equal(t, http.StatusCreated, rec.Code)
	first := decodeBody[MessageResponse](t, rec)

	// Retrying with the same key returns the original message untouched
	rec = doJSON(t, gw, http.MethodPost, "/api/messages", token, req)
	require.Equal(t, http.StatusCreated, rec.Code)
	replayed := decodeBody[MessageResponse](t, rec)
	assert.Equal(t, first.ID, replayed.ID)
	assert.Equal(t, first.Timestamp, replayed.Timestamp)

	// Only one message was persisted
	rec = doJSON(t, gw, http.MethodGet, "/api/history/direct?peer=alice", tokenFor(t, gw, "bob"), nil)
	require.Equal(t, http.StatusOK, rec.Code)
	page := decodeBody[HistoryResponse](t, rec)
	require.Len(t, page.Messages, 1)
	assert.Equal(t, first.ID, page.Messages[0].ID)

	// A different key from the same sender delivers a new message
	req.ClientMessageID = "retry-2"
	req.Content = "hello twice"
	rec = doJSON(t, gw, http.MethodPost, "/api/messages", token, req)
	require.Equal(t, http.StatusCreated, rec.Code)
	second := decodeBody[MessageResponse](t, rec)
	assert.NotEqual(t, first.ID, second.ID)
}

func TestHandleSendMessage_Validation(t *testing.T) {
	gw := newTestGateway(t)
	seedUser(t, gw, "alice")
	seedUser(t, gw, "bob")
	token := tokenFor(t, gw, "alice")

	tests := []struct {
		name string
		req  SendMessageRequest
		want int
	}{
		{
			name: "no target",
			req:  SendMessageRequest{Kind: "text", Content: "hi"},
			want: http.StatusBadRequest,
		},
		{
			name: "both targets",
			req:  SendMessageRequest{Recipient: "bob", ChannelID: "ch", Kind: "text", Content: "hi"},
			want: http.StatusBadRequest,
		},
		{
			name: "missing kind",
			req:  SendMessageRequest{Recipient: "bob", Content: "hi"},
			want: http.StatusBadRequest,
		},
		{
			name: "text without content",
			req:  SendMessageRequest{Recipient: "bob", Kind: "text"},
			want: http.StatusBadRequest,
		},
		{
			name: "file with content",
			req:  SendMessageRequest{Recipient: "bob", Kind: "file", Content: "hi", AttachmentRef: "ref"},
			want: http.StatusBadRequest,
		},
		{
			name: "unknown recipient",
			req:  SendMessageRequest{Recipient: "ghost", Kind: "text", Content: "hi"},
			want: http.StatusNotFound,
		},
		{
			name: "unknown channel",
			req:  SendMessageRequest{ChannelID: "no-such-channel", Kind: "text", Content: "hi"},
			want: http.StatusNotFound,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			rec := doJSON(t, gw, http.MethodPost, "/api/messages", token, tt.req)
			assert.Equal(t, tt.want, rec.Code)
		})
	}
}

func TestHandleSendMessage_InvalidJSON(t *testing.T) {
	gw := newTestGateway(t)
	seedUser(t, gw, "alice")

	req := httptest.NewRequest(http.MethodPost, "/api/messages", strings.NewReader("not json"))
	req.Header.Set("Authorization", "Bearer "+tokenFor(t, gw, "alice"))
	rec := httptest.NewRecorder()
	gw.Handler().ServeHTTP(rec, req)

	assert.Equal(t, http.StatusBadRequest, rec.Code)
}

func TestChannelLifecycleOverHTTP(t *testing.T) {
	gw := newTestGateway(t)
	seedUser(t, gw, "admin")
	seedUser(t, gw, "member")
	seedUser(t, gw, "joiner")
	adminToken := tokenFor(t, gw, "admin")
	joinerToken := tokenFor(t, gw, "joiner")

	// Create
	rec := doJSON(t, gw, http.MethodPost, "/api/channels", adminToken, CreateChannelRequest{
		Name:    "general",
		Members: []string{"member"},
	})
	require.Equal(t, http.StatusCreated, rec.Code)
	created := decodeBody[ChannelSummary](t, rec)
	assert.Equal(t, "admin", created.AdminID)
	assert.Equal(t, 2, created.MemberCount)

	// Details for a non-member: counts visible, members withheld
	rec = doJSON(t, gw, http.MethodGet, "/api/channels/"+created.ID, joinerToken, nil)
	require.Equal(t, http.StatusOK, rec.Code)
	details := decodeBody[ChannelDetailsResponse](t, rec)
	assert.False(t, details.IsMember)
	assert.Nil(t, details.Members)
	assert.Equal(t, 2, details.MemberCount)

	// Join
	rec = doJSON(t, gw, http.MethodPost, "/api/channels/"+created.ID+"/join", joinerToken, nil)
	require.Equal(t, http.StatusOK, rec.Code)
	joined := decodeBody[ChannelSummary](t, rec)
	assert.Equal(t, 3, joined.MemberCount)

	// Member view includes the member list
	rec = doJSON(t, gw, http.MethodGet, "/api/channels/"+created.ID, joinerToken, nil)
	require.Equal(t, http.StatusOK, rec.Code)
	details = decodeBody[ChannelDetailsResponse](t, rec)
	assert.True(t, details.IsMember)
	assert.Contains(t, details.Members, "joiner")

	// Double join conflicts; so does the admin joining their own channel
	rec = doJSON(t, gw, http.MethodPost, "/api/channels/"+created.ID+"/join", joinerToken, nil)
	assert.Equal(t, http.StatusConflict, rec.Code)
	rec = doJSON(t, gw, http.MethodPost, "/api/channels/"+created.ID+"/join", adminToken, nil)
	assert.Equal(t, http.StatusConflict, rec.Code)

	// Leave
	rec = doJSON(t, gw, http.MethodPost, "/api/channels/"+created.ID+"/leave", joinerToken, nil)
	assert.Equal(t, http.StatusNoContent, rec.Code)
	rec = doJSON(t, gw, http.MethodPost, "/api/channels/"+created.ID+"/leave", joinerToken, nil)
	assert.Equal(t, http.StatusConflict, rec.Code)

	// Admin cannot leave
	rec = doJSON(t, gw, http.MethodPost, "/api/channels/"+created.ID+"/leave", adminToken, nil)
	assert.Equal(t, http.StatusConflict, rec.Code)

	// Unknown channel
	rec = doJSON(t, gw, http.MethodGet, "/api/channels/no-such-id", adminToken, nil)
	assert.Equal(t, http.StatusNotFound, rec.Code)
	rec = doJSON(t, gw, http.MethodPost, "/api/channels/no-such-id/join", adminToken, nil)
	assert.Equal(t, http.StatusNotFound, rec.Code)
}

func TestHandleCreateChannel_UnknownMembers(t *testing.T) {
	gw := newTestGateway(t)
	seedUser(t, gw, "admin")

	rec := doJSON(t, gw, http.MethodPost, "/api/channels", tokenFor(t, gw, "admin"), CreateChannelRequest{
		Name:    "general",
		Members: []string{"ghost"},
	})
	assert.Equal(t, http.StatusBadRequest, rec.Code)
}

func TestHandleListChannels_OrderedByActivity(t *testing.T) {
	gw := newTestGateway(t)
	seedUser(t, gw, "admin")
	seedUser(t, gw, "member")
	token := tokenFor(t, gw, "admin")

	var ids []string
	for _, name := range []string{"first", "second"} {
		rec := doJSON(t, gw, http.MethodPost, "/api/channels", token, CreateChannelRequest{
			Name:    name,
			Members: []string{"member"},
		})
		require.Equal(t, http.StatusCreated, rec.Code)
		ids = append(ids, decodeBody[ChannelSummary](t, rec).ID)
	}

	// A message into the first channel makes it the most recently active
	rec := doJSON(t, gw, http.MethodPost, "/api/messages", token, SendMessageRequest{
		ChannelID: ids[0],
		Kind:      "text",
		Content:   "bump",
	})
	require.Equal(t, http.StatusCreated, rec.Code)

	rec = doJSON(t, gw, http.MethodGet, "/api/channels", token, nil)
	require.Equal(t, http.StatusOK, rec.Code)
	listed := decodeBody[[]ChannelSummary](t, rec)
	require.Len(t, listed, 2)
	assert.Equal(t, ids[0], listed[0].ID)
	assert.Equal(t, "first", listed[0].Name)
}

func TestHandleBrowseChannels_ListsAllNewestFirst(t *testing.T) {
	gw := newTestGateway(t)
	seedUser(t, gw, "admin")
	seedUser(t, gw, "stranger")
	adminToken := tokenFor(t, gw, "admin")

	var ids []string
	for _, name := range []string{"older", "newer"} {
		rec := doJSON(t, gw, http.MethodPost, "/api/channels", adminToken, CreateChannelRequest{
			Name: name,
		})
		require.Equal(t, http.StatusCreated, rec.Code)
		ids = append(ids, decodeBody[ChannelSummary](t, rec).ID)
	}

	// A non-member sees every channel, newest created first
	rec := doJSON(t, gw, http.MethodGet, "/api/channels/browse", tokenFor(t, gw, "stranger"), nil)
	require.Equal(t, http.StatusOK, rec.Code)
	listed := decodeBody[[]ChannelSummary](t, rec)
	require.Len(t, listed, 2)
	assert.Equal(t, ids[1], listed[0].ID)
	assert.Equal(t, "newer", listed[0].Name)
	assert.Equal(t, ids[0], listed[1].ID)
	assert.Equal(t, 1, listed[0].MemberCount)
	assert.Equal(t, "admin", listed[0].AdminID)

	// Browsing requires auth like the rest of the API
	rec = doJSON(t, gw, http.MethodGet, "/api/channels/browse", "", nil)
	assert.Equal(t, http.StatusUnauthorized, rec.Code)
}

func TestChannelHistoryPagination(t *testing.T) {
	gw := newTestGateway(t)
	seedUser(t, gw, "admin")
	seedUser(t, gw, "member")
	token := tokenFor(t, gw, "admin")

	rec := doJSON(t, gw, http.MethodPost, "/api/channels", token, CreateChannelRequest{
		Name:    "general",
		Members: []string{"member"},
	})
	require.Equal(t, http.StatusCreated, rec.Code)
	channelID := decodeBody[ChannelSummary](t, rec).ID

	for i := 0; i < 25; i++ {
		rec = doJSON(t, gw, http.MethodPost, "/api/messages", token, SendMessageRequest{
			ChannelID: channelID,
			Kind:      "text",
			Content:   fmt.Sprintf("msg-%d", i),
		})
		require.Equal(t, http.StatusCreated, rec.Code)
	}

	// Page 1: newest 20, ascending, more behind it
	rec = doJSON(t, gw, http.MethodGet, "/api/history/channel?channel="+channelID+"&page=1&pageSize=20", token, nil)
	require.Equal(t, http.StatusOK, rec.Code)
	page1 := decodeBody[HistoryResponse](t, rec)
	require.Len(t, page1.Messages, 20)
	assert.Equal(t, "msg-5", page1.Messages[0].Content)
	assert.Equal(t, "msg-24", page1.Messages[19].Content)
	assert.True(t, page1.HasMore)
	assert.Equal(t, 25, page1.TotalCount)

	// Page 2: the oldest 5
	rec = doJSON(t, gw, http.MethodGet, "/api/history/channel?channel="+channelID+"&page=2&pageSize=20", token, nil)
	require.Equal(t, http.StatusOK, rec.Code)
	page2 := decodeBody[HistoryResponse](t, rec)
	require.Len(t, page2.Messages, 5)
	assert.Equal(t, "msg-0", page2.Messages[0].Content)
	assert.False(t, page2.HasMore)
}

func TestHistoryParamValidation(t *testing.T) {
	gw := newTestGateway(t)
	seedUser(t, gw, "alice")
	seedUser(t, gw, "bob")
	token := tokenFor(t, gw, "alice")

	tests := []struct {
		name string
		path string
		want int
	}{
		{name: "missing peer", path: "/api/history/direct", want: http.StatusBadRequest},
		{name: "unknown peer", path: "/api/history/direct?peer=ghost", want: http.StatusNotFound},
		{name: "bad page", path: "/api/history/direct?peer=bob&page=zero", want: http.StatusBadRequest},
		{name: "negative pageSize", path: "/api/history/direct?peer=bob&pageSize=-5", want: http.StatusBadRequest},
		{name: "missing channel", path: "/api/history/channel", want: http.StatusBadRequest},
		{name: "unknown channel", path: "/api/history/channel?channel=ghost", want: http.StatusNotFound},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			rec := doJSON(t, gw, http.MethodGet, tt.path, token, nil)
			assert.Equal(t, tt.want, rec.Code)
		})
	}
}

func TestHandlePresence_EmptyWithoutStreams(t *testing.T) {
	gw := newTestGateway(t)
	seedUser(t, gw, "alice")

	rec := doJSON(t, gw, http.MethodGet, "/api/presence", tokenFor(t, gw, "alice"), nil)
	require.Equal(t, http.StatusOK, rec.Code)
	snapshot := decodeBody[PresenceResponse](t, rec)
	assert.Empty(t, snapshot.Online)
}

func TestHealthEndpoints(t *testing.T) {
	gw := newTestGateway(t)

	rec := doJSON(t, gw, http.MethodGet, "/health", "", nil)
	assert.Equal(t, http.StatusOK, rec.Code)

	rec = doJSON(t, gw, http.MethodGet, "/health/ready", "", nil)
	assert.Equal(t, http.StatusOK, rec.Code)
}
