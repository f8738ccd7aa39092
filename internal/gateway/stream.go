// ABOUTME: SSE live channel handler; one stream is one session
// ABOUTME: Registers the session, streams events, and sends periodic keepalives

package gateway

import (
	"encoding/json"
	"fmt"
	"net/http"
	"time"

	"github.com/strandchat/strand/internal/auth"
	"github.com/strandchat/strand/internal/session"
)

// connectedHello is the payload of the initial "connected" event. Carries
// the presence snapshot so a reconnecting client can reconcile without an
// extra round trip.
type connectedHello struct {
	SessionID string   `json:"sessionId"`
	Online    []string `json:"online"`
}

// handleStream handles GET /api/stream requests.
// It registers a live session for the authenticated user and streams
// events as SSE until the client disconnects or the server shuts down.
func (g *Gateway) handleStream(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		w.WriteHeader(http.StatusMethodNotAllowed)
		return
	}

	// Check streaming support before registering (fail fast)
	flusher, ok := w.(http.Flusher)
	if !ok {
		g.logger.Error("streaming not supported")
		g.sendJSONError(w, http.StatusInternalServerError, "streaming not supported")
		return
	}

	userID := auth.UserFromContext(r.Context())
	sess := session.New(userID, g.config.Stream.SessionBuffer)

	g.sessions.Register(sess)
	defer g.sessions.Unregister(sess)

	// Set SSE headers
	w.Header().Set("Content-Type", "text/event-stream")
	w.Header().Set("Cache-Control", "no-cache")
	w.Header().Set("Connection", "keep-alive")
	w.Header().Set("X-Accel-Buffering", "no")

	g.writeSSEEvent(w, "connected", connectedHello{
		SessionID: sess.ID,
		Online:    g.presence.OnlineSnapshot(),
	})
	flusher.Flush()

	g.streamEvents(r, w, flusher, sess)
}

// streamEvents pumps session events to the client until the stream ends.
// Keepalive comments hold idle connections open through proxies.
func (g *Gateway) streamEvents(r *http.Request, w http.ResponseWriter, flusher http.Flusher, sess *session.Session) {
	keepalive := time.NewTicker(g.config.Stream.KeepaliveInterval)
	defer keepalive.Stop()

	for {
		select {
		case <-r.Context().Done():
			return

		case <-sess.Done():
			return

		case <-keepalive.C:
			fmt.Fprint(w, ": keepalive\n\n")
			flusher.Flush()

		case evt := <-sess.Events():
			g.writeSSEEvent(w, evt.Name, evt.Data)
			flusher.Flush()
		}
	}
}

// writeSSEEvent writes a single SSE event to the response writer.
func (g *Gateway) writeSSEEvent(w http.ResponseWriter, event string, data any) {
	dataJSON, err := json.Marshal(data)
	if err != nil {
		g.logger.Error("failed to marshal SSE data", "error", err)
		return
	}

	fmt.Fprintf(w, "event: %s\n", event)
	fmt.Fprintf(w, "data: %s\n\n", dataJSON)
}
