// ABOUTME: HTTP API handlers for messaging, history, channels, presence and login
// ABOUTME: Maps domain errors onto HTTP status codes at the transport boundary

package gateway

import (
	"encoding/json"
	"errors"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/strandchat/strand/internal/auth"
	"github.com/strandchat/strand/internal/channel"
	"github.com/strandchat/strand/internal/history"
	"github.com/strandchat/strand/internal/router"
	"github.com/strandchat/strand/internal/store"
)

// LoginRequest is the JSON request body for POST /api/login.
type LoginRequest struct {
	Email    string `json:"email"`
	Password string `json:"password"`
}

// LoginResponse is the JSON response for POST /api/login.
type LoginResponse struct {
	Token       string `json:"token"`
	UserID      string `json:"userId"`
	DisplayName string `json:"displayName"`
}

// RegisterRequest is the JSON request body for POST /api/register.
type RegisterRequest struct {
	Email       string `json:"email"`
	DisplayName string `json:"displayName"`
	Password    string `json:"password"`
}

// UserResponse is the JSON shape for a user directory entry.
type UserResponse struct {
	ID          string `json:"id"`
	Email       string `json:"email"`
	DisplayName string `json:"displayName"`
}

// SendMessageRequest is the JSON request body for POST /api/messages.
// Exactly one of recipient or channelId selects the target.
type SendMessageRequest struct {
	Recipient     string `json:"recipient,omitempty"`
	ChannelID     string `json:"channelId,omitempty"`
	Kind          string `json:"kind"`
	Content       string `json:"content,omitempty"`
	AttachmentRef string `json:"attachmentRef,omitempty"`

	// ClientMessageID is an optional idempotency key. Retrying a send with
	// the same key returns the original result instead of delivering twice.
	ClientMessageID string `json:"clientMessageId,omitempty"`
}

// HistoryResponse is the JSON response for history endpoints.
type HistoryResponse struct {
	Messages    []MessageResponse `json:"messages"`
	HasMore     bool              `json:"hasMore"`
	CurrentPage int               `json:"currentPage"`
	PageSize    int               `json:"pageSize"`
	TotalCount  int               `json:"totalCount"`
}

// MessageResponse is the JSON shape for a stored message.
type MessageResponse struct {
	ID            string    `json:"id"`
	Sender        string    `json:"sender"`
	Kind          string    `json:"kind"`
	Content       string    `json:"content,omitempty"`
	AttachmentRef string    `json:"attachmentRef,omitempty"`
	Timestamp     time.Time `json:"timestamp"`
}

// CreateChannelRequest is the JSON request body for POST /api/channels.
type CreateChannelRequest struct {
	Name    string   `json:"name"`
	Members []string `json:"members"`
}

// ChannelSummary is the JSON shape for a channel in list responses.
type ChannelSummary struct {
	ID            string    `json:"id"`
	Name          string    `json:"name"`
	AdminID       string    `json:"adminId"`
	MemberCount   int       `json:"memberCount"`
	LastMessageAt time.Time `json:"lastMessageAt"`
}

// ChannelDetailsResponse is the JSON response for GET /api/channels/{id}.
// Members is omitted for non-members.
type ChannelDetailsResponse struct {
	ID            string    `json:"id"`
	Name          string    `json:"name"`
	AdminID       string    `json:"adminId"`
	MemberCount   int       `json:"memberCount"`
	IsMember      bool      `json:"isMember"`
	IsAdmin       bool      `json:"isAdmin"`
	Members       []string  `json:"members,omitempty"`
	CreatedAt     time.Time `json:"createdAt"`
	UpdatedAt     time.Time `json:"updatedAt"`
	LastMessageAt time.Time `json:"lastMessageAt"`
}

// PresenceResponse is the JSON response for GET /api/presence.
type PresenceResponse struct {
	Online []string `json:"online"`
}

// handleLogin handles POST /api/login requests.
// Checks credentials against the user directory and mints a JWT.
func (g *Gateway) handleLogin(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		w.WriteHeader(http.StatusMethodNotAllowed)
		return
	}

	var req LoginRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		g.sendJSONError(w, http.StatusBadRequest, "invalid JSON body")
		return
	}
	if req.Email == "" || req.Password == "" {
		g.sendJSONError(w, http.StatusBadRequest, "email and password are required")
		return
	}

	user, err := g.store.GetUserByEmail(r.Context(), req.Email)
	if errors.Is(err, store.ErrNotFound) {
		g.sendJSONError(w, http.StatusUnauthorized, "invalid credentials")
		return
	}
	if err != nil {
		g.logger.Error("failed to look up user", "error", err)
		g.sendJSONError(w, http.StatusInternalServerError, "internal server error")
		return
	}

	if err := auth.CheckPassword(user.PasswordHash, req.Password); err != nil {
		g.sendJSONError(w, http.StatusUnauthorized, "invalid credentials")
		return
	}

	token, err := g.verifier.Generate(user.ID, g.config.Auth.TokenTTL)
	if err != nil {
		g.logger.Error("failed to generate token", "error", err)
		g.sendJSONError(w, http.StatusInternalServerError, "internal server error")
		return
	}

	g.logger.Info("user logged in", "user_id", user.ID)
	g.sendJSON(w, http.StatusOK, LoginResponse{
		Token:       token,
		UserID:      user.ID,
		DisplayName: user.DisplayName,
	})
}

// handleRegister handles POST /api/register requests.
// Disabled unless auth.allow_registration is set; an external identity
// service owns signup otherwise.
func (g *Gateway) handleRegister(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		w.WriteHeader(http.StatusMethodNotAllowed)
		return
	}
	if !g.config.Auth.AllowRegistration {
		g.sendJSONError(w, http.StatusForbidden, "registration is disabled")
		return
	}

	var req RegisterRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		g.sendJSONError(w, http.StatusBadRequest, "invalid JSON body")
		return
	}
	if req.Email == "" || req.DisplayName == "" || req.Password == "" {
		g.sendJSONError(w, http.StatusBadRequest, "email, displayName and password are required")
		return
	}

	hash, err := auth.HashPassword(req.Password)
	if err != nil {
		g.logger.Error("failed to hash password", "error", err)
		g.sendJSONError(w, http.StatusInternalServerError, "internal server error")
		return
	}

	user := &store.User{
		ID:           uuid.New().String(),
		Email:        req.Email,
		DisplayName:  req.DisplayName,
		PasswordHash: hash,
		CreatedAt:    time.Now().UTC(),
	}
	if err := g.store.CreateUser(r.Context(), user); err != nil {
		if errors.Is(err, store.ErrDuplicateUser) {
			g.sendJSONError(w, http.StatusConflict, "email already registered")
			return
		}
		g.logger.Error("failed to create user", "error", err)
		g.sendJSONError(w, http.StatusInternalServerError, "internal server error")
		return
	}

	g.logger.Info("user registered", "user_id", user.ID)
	g.sendJSON(w, http.StatusCreated, UserResponse{
		ID:          user.ID,
		Email:       user.Email,
		DisplayName: user.DisplayName,
	})
}

// handleSendMessage handles POST /api/messages requests.
// The sender is the authenticated user; exactly one of recipient or
// channelId selects the target. The persisted message is echoed back.
func (g *Gateway) handleSendMessage(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		w.WriteHeader(http.StatusMethodNotAllowed)
		return
	}

	var req SendMessageRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		g.sendJSONError(w, http.StatusBadRequest, "invalid JSON body")
		return
	}

	var target router.Target
	switch {
	case req.Recipient != "" && req.ChannelID != "":
		g.sendJSONError(w, http.StatusBadRequest, "specify recipient or channelId, not both")
		return
	case req.Recipient != "":
		target = router.DirectTarget{Recipient: req.Recipient}
	case req.ChannelID != "":
		target = router.ChannelTarget{Channel: req.ChannelID}
	default:
		g.sendJSONError(w, http.StatusBadRequest, "recipient or channelId is required")
		return
	}

	sender := auth.UserFromContext(r.Context())

	// Replay retried sends instead of persisting and pushing them again.
	replayKey := ""
	if req.ClientMessageID != "" {
		replayKey = sender + ":" + req.ClientMessageID
		if prior, ok := g.replays.Lookup(replayKey); ok {
			g.sendJSON(w, http.StatusCreated, prior)
			return
		}
	}

	delivered, err := g.router.Send(r.Context(), router.Envelope{
		Sender:        sender,
		Kind:          req.Kind,
		Content:       req.Content,
		AttachmentRef: req.AttachmentRef,
		Target:        target,
	})
	if err != nil {
		g.sendRouterError(w, err)
		return
	}

	if replayKey != "" {
		g.replays.Store(replayKey, *delivered)
	}

	g.sendJSON(w, http.StatusCreated, delivered)
}

// sendRouterError maps router errors onto HTTP status codes.
func (g *Gateway) sendRouterError(w http.ResponseWriter, err error) {
	switch {
	case errors.Is(err, router.ErrInvalidPayload):
		g.sendJSONError(w, http.StatusBadRequest, err.Error())
	case errors.Is(err, store.ErrNotFound):
		g.sendJSONError(w, http.StatusNotFound, err.Error())
	case errors.Is(err, router.ErrPersistenceFailed):
		g.logger.Error("message persistence failed", "error", err)
		g.sendJSONError(w, http.StatusInternalServerError, "message persistence failed")
	default:
		g.logger.Error("failed to send message", "error", err)
		g.sendJSONError(w, http.StatusInternalServerError, "internal server error")
	}
}

// handleDirectHistory handles GET /api/history/direct?peer=X&page=N&pageSize=M.
// Returns the DM conversation with the peer, newest page first.
func (g *Gateway) handleDirectHistory(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		w.WriteHeader(http.StatusMethodNotAllowed)
		return
	}

	peer := r.URL.Query().Get("peer")
	if peer == "" {
		g.sendJSONError(w, http.StatusBadRequest, "peer is required")
		return
	}

	missing, err := g.store.MissingUsers(r.Context(), []string{peer})
	if err != nil {
		g.logger.Error("failed to resolve peer", "error", err)
		g.sendJSONError(w, http.StatusInternalServerError, "internal server error")
		return
	}
	if len(missing) > 0 {
		g.sendJSONError(w, http.StatusNotFound, "peer not found")
		return
	}

	viewer := auth.UserFromContext(r.Context())
	conversationID := store.DirectConversationID(viewer, peer)
	g.serveHistoryPage(w, r, conversationID)
}

// handleChannelHistory handles GET /api/history/channel?channel=X&page=N&pageSize=M.
func (g *Gateway) handleChannelHistory(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		w.WriteHeader(http.StatusMethodNotAllowed)
		return
	}

	channelID := r.URL.Query().Get("channel")
	if channelID == "" {
		g.sendJSONError(w, http.StatusBadRequest, "channel is required")
		return
	}

	if _, err := g.store.GetChannel(r.Context(), channelID); err != nil {
		if errors.Is(err, store.ErrNotFound) {
			g.sendJSONError(w, http.StatusNotFound, "channel not found")
			return
		}
		g.logger.Error("failed to get channel", "error", err)
		g.sendJSONError(w, http.StatusInternalServerError, "internal server error")
		return
	}

	g.serveHistoryPage(w, r, store.ChannelConversationID(channelID))
}

// serveHistoryPage parses pagination params and writes a history page.
func (g *Gateway) serveHistoryPage(w http.ResponseWriter, r *http.Request, conversationID string) {
	page, ok := g.parsePositiveInt(w, r, "page", 1)
	if !ok {
		return
	}
	pageSize, ok := g.parsePositiveInt(w, r, "pageSize", 0)
	if !ok {
		return
	}

	result, err := g.history.Page(r.Context(), conversationID, page, pageSize)
	if err != nil {
		g.logger.Error("failed to fetch history page", "error", err)
		g.sendJSONError(w, http.StatusInternalServerError, "internal server error")
		return
	}

	g.sendJSON(w, http.StatusOK, toHistoryResponse(result))
}

// parsePositiveInt reads an optional positive integer query parameter.
// Returns the fallback when absent and reports false after writing a 400
// when the value is present but not a positive integer.
func (g *Gateway) parsePositiveInt(w http.ResponseWriter, r *http.Request, name string, fallback int) (int, bool) {
	raw := r.URL.Query().Get(name)
	if raw == "" {
		return fallback, true
	}
	parsed, err := strconv.Atoi(raw)
	if err != nil || parsed < 1 {
		g.sendJSONError(w, http.StatusBadRequest, name+" must be a positive integer")
		return 0, false
	}
	return parsed, true
}

// toHistoryResponse converts a history page to its wire shape.
func toHistoryResponse(page *history.Page) HistoryResponse {
	messages := make([]MessageResponse, len(page.Messages))
	for i, msg := range page.Messages {
		messages[i] = MessageResponse{
			ID:            msg.ID,
			Sender:        msg.Sender,
			Kind:          msg.Kind,
			Content:       msg.Content,
			AttachmentRef: msg.AttachmentRef,
			Timestamp:     msg.CreatedAt,
		}
	}
	return HistoryResponse{
		Messages:    messages,
		HasMore:     page.HasMore,
		CurrentPage: page.CurrentPage,
		PageSize:    page.PageSize,
		TotalCount:  page.TotalCount,
	}
}

// handleChannels routes /api/channels by HTTP method.
func (g *Gateway) handleChannels(w http.ResponseWriter, r *http.Request) {
	switch r.Method {
	case http.MethodGet:
		g.handleListChannels(w, r)
	case http.MethodPost:
		g.handleCreateChannel(w, r)
	default:
		w.WriteHeader(http.StatusMethodNotAllowed)
	}
}

// handleListChannels handles GET /api/channels.
// Returns the caller's channels ordered by most recent activity.
func (g *Gateway) handleListChannels(w http.ResponseWriter, r *http.Request) {
	channels, err := g.channels.ListFor(r.Context(), auth.UserFromContext(r.Context()))
	if err != nil {
		g.logger.Error("failed to list channels", "error", err)
		g.sendJSONError(w, http.StatusInternalServerError, "internal server error")
		return
	}

	response := make([]ChannelSummary, len(channels))
	for i, ch := range channels {
		response[i] = toChannelSummary(ch)
	}
	g.sendJSON(w, http.StatusOK, response)
}

// handleCreateChannel handles POST /api/channels.
// The caller becomes the channel admin and is excluded from the member set.
func (g *Gateway) handleCreateChannel(w http.ResponseWriter, r *http.Request) {
	var req CreateChannelRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		g.sendJSONError(w, http.StatusBadRequest, "invalid JSON body")
		return
	}
	if req.Name == "" {
		g.sendJSONError(w, http.StatusBadRequest, "name is required")
		return
	}

	created, err := g.channels.Create(r.Context(), auth.UserFromContext(r.Context()), req.Name, req.Members)
	if err != nil {
		switch {
		case errors.Is(err, channel.ErrInvalidAdmin), errors.Is(err, channel.ErrInvalidMembers):
			g.sendJSONError(w, http.StatusBadRequest, err.Error())
		default:
			g.logger.Error("failed to create channel", "error", err)
			g.sendJSONError(w, http.StatusInternalServerError, "internal server error")
		}
		return
	}

	g.sendJSON(w, http.StatusCreated, toChannelSummary(created))
}

// handleChannelRoutes dispatches /api/channels/{id}, /api/channels/{id}/join
// and /api/channels/{id}/leave.
func (g *Gateway) handleChannelRoutes(w http.ResponseWriter, r *http.Request) {
	rest := strings.TrimPrefix(r.URL.Path, "/api/channels/")
	if rest == "" || strings.Count(rest, "/") > 1 {
		g.sendJSONError(w, http.StatusBadRequest, "invalid path")
		return
	}

	if rest == "browse" {
		g.handleBrowseChannels(w, r)
		return
	}

	channelID, action, _ := strings.Cut(rest, "/")
	if channelID == "" {
		g.sendJSONError(w, http.StatusBadRequest, "channel id is required")
		return
	}

	switch action {
	case "":
		g.handleChannelDetails(w, r, channelID)
	case "join":
		g.handleJoinChannel(w, r, channelID)
	case "leave":
		g.handleLeaveChannel(w, r, channelID)
	default:
		g.sendJSONError(w, http.StatusNotFound, "unknown channel action")
	}
}

// handleBrowseChannels handles GET /api/channels/browse.
// Lists every channel, newest created first, for discovering one to join.
// Member lists are not included; those stay behind the details gate.
func (g *Gateway) handleBrowseChannels(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		w.WriteHeader(http.StatusMethodNotAllowed)
		return
	}

	channels, err := g.channels.Browse(r.Context())
	if err != nil {
		g.logger.Error("failed to browse channels", "error", err)
		g.sendJSONError(w, http.StatusInternalServerError, "internal server error")
		return
	}

	response := make([]ChannelSummary, len(channels))
	for i, ch := range channels {
		response[i] = toChannelSummary(ch)
	}
	g.sendJSON(w, http.StatusOK, response)
}

// handleChannelDetails handles GET /api/channels/{id}.
// The member list is withheld from non-members; counts are always visible.
func (g *Gateway) handleChannelDetails(w http.ResponseWriter, r *http.Request, channelID string) {
	if r.Method != http.MethodGet {
		w.WriteHeader(http.StatusMethodNotAllowed)
		return
	}

	details, err := g.channels.DetailsFor(r.Context(), auth.UserFromContext(r.Context()), channelID)
	if err != nil {
		if errors.Is(err, store.ErrNotFound) {
			g.sendJSONError(w, http.StatusNotFound, "channel not found")
			return
		}
		g.logger.Error("failed to get channel details", "error", err)
		g.sendJSONError(w, http.StatusInternalServerError, "internal server error")
		return
	}

	g.sendJSON(w, http.StatusOK, ChannelDetailsResponse{
		ID:            details.ID,
		Name:          details.Name,
		AdminID:       details.AdminID,
		MemberCount:   details.MemberCount,
		IsMember:      details.IsMember,
		IsAdmin:       details.IsAdmin,
		Members:       details.Members,
		CreatedAt:     details.CreatedAt,
		UpdatedAt:     details.UpdatedAt,
		LastMessageAt: details.LastMessageAt,
	})
}

// handleJoinChannel handles POST /api/channels/{id}/join.
func (g *Gateway) handleJoinChannel(w http.ResponseWriter, r *http.Request, channelID string) {
	if r.Method != http.MethodPost {
		w.WriteHeader(http.StatusMethodNotAllowed)
		return
	}

	joined, err := g.channels.Join(r.Context(), channelID, auth.UserFromContext(r.Context()))
	if err != nil {
		switch {
		case errors.Is(err, store.ErrNotFound):
			g.sendJSONError(w, http.StatusNotFound, "channel not found")
		case errors.Is(err, channel.ErrAlreadyMember):
			g.sendJSONError(w, http.StatusConflict, err.Error())
		default:
			g.logger.Error("failed to join channel", "error", err)
			g.sendJSONError(w, http.StatusInternalServerError, "internal server error")
		}
		return
	}

	g.sendJSON(w, http.StatusOK, toChannelSummary(joined))
}

// handleLeaveChannel handles POST /api/channels/{id}/leave.
func (g *Gateway) handleLeaveChannel(w http.ResponseWriter, r *http.Request, channelID string) {
	if r.Method != http.MethodPost {
		w.WriteHeader(http.StatusMethodNotAllowed)
		return
	}

	err := g.channels.Leave(r.Context(), channelID, auth.UserFromContext(r.Context()))
	if err != nil {
		switch {
		case errors.Is(err, store.ErrNotFound):
			g.sendJSONError(w, http.StatusNotFound, "channel not found")
		case errors.Is(err, channel.ErrAdminCannotLeave), errors.Is(err, channel.ErrNotAMember):
			g.sendJSONError(w, http.StatusConflict, err.Error())
		default:
			g.logger.Error("failed to leave channel", "error", err)
			g.sendJSONError(w, http.StatusInternalServerError, "internal server error")
		}
		return
	}

	w.WriteHeader(http.StatusNoContent)
}

// handlePresence handles GET /api/presence.
// Returns the current online snapshot for reconnect reconciliation.
func (g *Gateway) handlePresence(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		w.WriteHeader(http.StatusMethodNotAllowed)
		return
	}

	g.sendJSON(w, http.StatusOK, PresenceResponse{Online: g.presence.OnlineSnapshot()})
}

// toChannelSummary converts a stored channel to its wire shape.
func toChannelSummary(ch *store.Channel) ChannelSummary {
	return ChannelSummary{
		ID:            ch.ID,
		Name:          ch.Name,
		AdminID:       ch.AdminID,
		MemberCount:   ch.MemberCount(),
		LastMessageAt: ch.LastMessageAt,
	}
}

// sendJSON writes a JSON response with the given status.
func (g *Gateway) sendJSON(w http.ResponseWriter, status int, body any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(body); err != nil {
		g.logger.Error("failed to encode response", "error", err)
	}
}

// sendJSONError writes a JSON error response.
func (g *Gateway) sendJSONError(w http.ResponseWriter, status int, message string) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(map[string]string{"error": message})
}
