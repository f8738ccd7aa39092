// ABOUTME: Gateway orchestrator wiring store, sessions, presence, channels and router
// ABOUTME: Owns the HTTP server lifecycle including graceful shutdown

package gateway

import (
	"context"
	"fmt"
	"log/slog"
	"net"
	"net/http"
	"os"
	"time"

	"github.com/strandchat/strand/internal/auth"
	"github.com/strandchat/strand/internal/channel"
	"github.com/strandchat/strand/internal/config"
	"github.com/strandchat/strand/internal/dedupe"
	"github.com/strandchat/strand/internal/history"
	"github.com/strandchat/strand/internal/presence"
	"github.com/strandchat/strand/internal/router"
	"github.com/strandchat/strand/internal/session"
	"github.com/strandchat/strand/internal/store"
)

// Gateway coordinates the strand-server components behind the HTTP surface.
type Gateway struct {
	config     *config.Config
	store      store.Store
	sessions   *session.Manager
	presence   *presence.Registry
	channels   *channel.Registry
	router     *router.Router
	history    *history.Service
	replays    *dedupe.Cache[router.Delivered]
	verifier   *auth.JWTVerifier
	httpServer *http.Server
	logger     *slog.Logger
}

// Replay window for client-supplied idempotency keys on message sends.
const (
	replayTTL       = 5 * time.Minute
	replayCacheSize = 4096
)

// initStore creates a store based on config and environment.
func initStore(cfg *config.Config) (store.Store, error) {
	dbPath := cfg.Database.Path
	if envPath := os.Getenv("STRAND_DB_PATH"); envPath != "" {
		dbPath = envPath
	}

	s, err := store.NewSQLiteStore(dbPath)
	if err != nil {
		return nil, fmt.Errorf("initializing store: %w", err)
	}
	return s, nil
}

// sessionAnnouncer broadcasts presence transitions to every live session
// except the transitioning user's own.
type sessionAnnouncer struct {
	sessions *session.Manager
}

type presenceTransition struct {
	UserID string `json:"userId"`
}

func (a *sessionAnnouncer) UserOnline(userID string) {
	a.sessions.Broadcast(session.Event{
		Name: router.EventUserOnline,
		Data: presenceTransition{UserID: userID},
	}, userID)
}

func (a *sessionAnnouncer) UserOffline(userID string) {
	a.sessions.Broadcast(session.Event{
		Name: router.EventUserOffline,
		Data: presenceTransition{UserID: userID},
	}, userID)
}

// New creates a Gateway with the given configuration.
func New(cfg *config.Config, logger *slog.Logger) (*Gateway, error) {
	s, err := initStore(cfg)
	if err != nil {
		return nil, err
	}

	presenceRegistry := presence.NewRegistry(logger)
	sessionManager := session.NewManager(presenceRegistry, logger)
	presenceRegistry.SetAnnouncer(&sessionAnnouncer{sessions: sessionManager})

	channelRegistry := channel.NewRegistry(s, s, logger)
	messageRouter := router.NewRouter(s, s, channelRegistry, sessionManager, logger)
	historyService := history.NewService(s, cfg.History.DefaultPageSize, cfg.History.MaxPageSize, logger)

	gw := &Gateway{
		config:   cfg,
		store:    s,
		sessions: sessionManager,
		presence: presenceRegistry,
		channels: channelRegistry,
		router:   messageRouter,
		history:  historyService,
		replays:  dedupe.New[router.Delivered](replayTTL, replayCacheSize),
		verifier: auth.NewJWTVerifier([]byte(cfg.Auth.JWTSecret)),
		logger:   logger.With("component", "gateway"),
	}

	mux := http.NewServeMux()
	gw.registerRoutes(mux)

	gw.httpServer = &http.Server{
		Addr:              cfg.Server.HTTPAddr,
		Handler:           mux,
		ReadHeaderTimeout: 10 * time.Second,
	}

	return gw, nil
}

// registerRoutes installs all HTTP routes on the mux. Everything under /api
// except login and register requires a valid token.
func (g *Gateway) registerRoutes(mux *http.ServeMux) {
	// Health endpoints - no auth required
	mux.HandleFunc("/health", g.handleHealth)
	mux.HandleFunc("/health/ready", g.handleReady)

	mux.HandleFunc("/api/login", g.handleLogin)
	mux.HandleFunc("/api/register", g.handleRegister)

	requireAuth := auth.RequireAuth(g.verifier)
	mux.Handle("/api/stream", requireAuth(http.HandlerFunc(g.handleStream)))
	mux.Handle("/api/messages", requireAuth(http.HandlerFunc(g.handleSendMessage)))
	mux.Handle("/api/history/direct", requireAuth(http.HandlerFunc(g.handleDirectHistory)))
	mux.Handle("/api/history/channel", requireAuth(http.HandlerFunc(g.handleChannelHistory)))
	mux.Handle("/api/channels", requireAuth(http.HandlerFunc(g.handleChannels)))
	mux.Handle("/api/channels/", requireAuth(http.HandlerFunc(g.handleChannelRoutes)))
	mux.Handle("/api/presence", requireAuth(http.HandlerFunc(g.handlePresence)))
}

// Handler returns the HTTP handler for testing with httptest.
func (g *Gateway) Handler() http.Handler {
	return g.httpServer.Handler
}

// Run starts the HTTP server and blocks until the context is canceled.
// Returns nil on graceful shutdown, or an error if the server fails.
func (g *Gateway) Run(ctx context.Context) error {
	ln, err := net.Listen("tcp", g.config.Server.HTTPAddr)
	if err != nil {
		return fmt.Errorf("listening on HTTP address: %w", err)
	}

	errCh := make(chan error, 1)
	go func() {
		g.logger.Info("HTTP server listening", "addr", ln.Addr().String())
		if err := g.httpServer.Serve(ln); err != nil && err != http.ErrServerClosed {
			errCh <- fmt.Errorf("HTTP server: %w", err)
		}
	}()

	var serverErr error
	select {
	case <-ctx.Done():
		g.logger.Info("context canceled, initiating shutdown")
	case serverErr = <-errCh:
		g.logger.Error("server error", "error", serverErr)
	}

	shutdownErr := g.gracefulShutdown()

	if serverErr != nil {
		return serverErr
	}
	return shutdownErr
}

// gracefulShutdown performs shutdown with a fresh context and timeout.
// Uses context.Background() intentionally since the original context is already canceled.
func (g *Gateway) gracefulShutdown() error {
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	return g.Shutdown(ctx)
}

// Shutdown gracefully stops the HTTP server and releases resources.
// In-flight SSE streams observe the server shutdown via request context
// cancellation and unregister their sessions on the way out.
func (g *Gateway) Shutdown(ctx context.Context) error {
	g.logger.Info("shutting down gateway")

	var errs []error
	if err := g.httpServer.Shutdown(ctx); err != nil {
		errs = append(errs, fmt.Errorf("HTTP shutdown: %w", err))
	}
	if err := g.store.Close(); err != nil {
		errs = append(errs, fmt.Errorf("store close: %w", err))
	}
	g.replays.Close()

	if len(errs) > 0 {
		return fmt.Errorf("shutdown errors: %v", errs)
	}
	return nil
}

// handleHealth returns 200 OK if the server is alive.
func (g *Gateway) handleHealth(w http.ResponseWriter, r *http.Request) {
	w.WriteHeader(http.StatusOK)
	_, _ = w.Write([]byte("OK"))
}

// handleReady returns 200 OK once the store is reachable.
func (g *Gateway) handleReady(w http.ResponseWriter, r *http.Request) {
	if _, err := g.store.CountMessages(r.Context(), "ch:ready-probe"); err != nil {
		w.WriteHeader(http.StatusServiceUnavailable)
		_, _ = w.Write([]byte("store unavailable"))
		return
	}
	w.WriteHeader(http.StatusOK)
	_, _ = fmt.Fprintf(w, "ready (%d online)", len(g.presence.OnlineSnapshot()))
}
