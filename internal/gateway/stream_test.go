// ABOUTME: Integration tests for the SSE live channel over a real HTTP server
// ABOUTME: Covers the connected hello, message push, and presence transitions

package gateway

import (
	"bufio"
	"bytes"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// sseEvent is one parsed server-sent event.
type sseEvent struct {
	Name string
	Data string
}

// sseStream wraps an open /api/stream response for reading events.
type sseStream struct {
	resp   *http.Response
	reader *bufio.Reader
	events chan sseEvent
}

// newStreamServer starts a real HTTP server for SSE tests. The server's
// close is registered before any stream opens so that cleanup closes every
// stream body first; Close blocks until the SSE handlers return.
func newStreamServer(t *testing.T, gw *Gateway) *httptest.Server {
	t.Helper()
	server := httptest.NewServer(gw.Handler())
	t.Cleanup(server.Close)
	return server
}

// openStream connects a user to /api/stream and waits for the connected
// hello before returning, so presence is established deterministically.
func openStream(t *testing.T, server *httptest.Server, token string) (*sseStream, connectedHello) {
	t.Helper()

	resp, err := http.Get(server.URL + "/api/stream?token=" + token)
	require.NoError(t, err)
	require.Equal(t, http.StatusOK, resp.StatusCode)
	require.Equal(t, "text/event-stream", resp.Header.Get("Content-Type"))

	s := &sseStream{
		resp:   resp,
		reader: bufio.NewReader(resp.Body),
		events: make(chan sseEvent, 16),
	}
	t.Cleanup(func() { _ = resp.Body.Close() })

	go s.pump()

	hello := s.next(t)
	require.Equal(t, "connected", hello.Name)
	var payload connectedHello
	require.NoError(t, json.Unmarshal([]byte(hello.Data), &payload))
	require.NotEmpty(t, payload.SessionID)
	return s, payload
}

// pump parses SSE frames from the response body into the events channel.
// Comment lines (keepalives) are skipped.
func (s *sseStream) pump() {
	defer close(s.events)

	var current sseEvent
	for {
		line, err := s.reader.ReadString('\n')
		if err != nil {
			return
		}
		line = strings.TrimRight(line, "\n")

		switch {
		case strings.HasPrefix(line, "event: "):
			current.Name = strings.TrimPrefix(line, "event: ")
		case strings.HasPrefix(line, "data: "):
			current.Data = strings.TrimPrefix(line, "data: ")
		case line == "" && current.Name != "":
			s.events <- current
			current = sseEvent{}
		}
	}
}

// next returns the next event or fails the test after a timeout.
func (s *sseStream) next(t *testing.T) sseEvent {
	t.Helper()
	select {
	case evt, ok := <-s.events:
		require.True(t, ok, "stream closed before the expected event")
		return evt
	case <-time.After(5 * time.Second):
		t.Fatal("timed out waiting for SSE event")
		return sseEvent{}
	}
}

func postMessage(t *testing.T, server *httptest.Server, token string, req SendMessageRequest) MessageResponse {
	t.Helper()

	raw, err := json.Marshal(req)
	require.NoError(t, err)

	httpReq, err := http.NewRequest(http.MethodPost, server.URL+"/api/messages", bytes.NewReader(raw))
	require.NoError(t, err)
	httpReq.Header.Set("Authorization", "Bearer "+token)
	httpReq.Header.Set("Content-Type", "application/json")

	resp, err := http.DefaultClient.Do(httpReq)
	require.NoError(t, err)
	defer resp.Body.Close()
	require.Equal(t, http.StatusCreated, resp.StatusCode)

	var sent MessageResponse
	require.NoError(t, json.NewDecoder(resp.Body).Decode(&sent))
	return sent
}

func TestStream_ConnectedHelloCarriesPresence(t *testing.T) {
	gw := newTestGateway(t)
	server := newStreamServer(t, gw)

	seedUser(t, gw, "alice")

	_, hello := openStream(t, server, tokenFor(t, gw, "alice"))
	assert.Equal(t, []string{"alice"}, hello.Online)
	assert.True(t, gw.presence.IsOnline("alice"))
}

func TestStream_DirectMessagePushedToRecipient(t *testing.T) {
	gw := newTestGateway(t)
	server := newStreamServer(t, gw)

	seedUser(t, gw, "alice")
	seedUser(t, gw, "bob")

	bobStream, _ := openStream(t, server, tokenFor(t, gw, "bob"))

	sent := postMessage(t, server, tokenFor(t, gw, "alice"), SendMessageRequest{
		Recipient: "bob",
		Kind:      "text",
		Content:   "hi bob",
	})

	evt := bobStream.next(t)
	assert.Equal(t, "receive-direct", evt.Name)

	var pushed MessageResponse
	require.NoError(t, json.Unmarshal([]byte(evt.Data), &pushed))
	assert.Equal(t, sent.ID, pushed.ID)
	assert.Equal(t, "alice", pushed.Sender)
	assert.Equal(t, "hi bob", pushed.Content)
}

func TestStream_ChannelFanOutSkipsSender(t *testing.T) {
	gw := newTestGateway(t)
	server := newStreamServer(t, gw)

	seedUser(t, gw, "admin")
	seedUser(t, gw, "member")
	adminToken := tokenFor(t, gw, "admin")

	rec := doJSON(t, gw, http.MethodPost, "/api/channels", adminToken, CreateChannelRequest{
		Name:    "general",
		Members: []string{"member"},
	})
	require.Equal(t, http.StatusCreated, rec.Code)
	channelID := decodeBody[ChannelSummary](t, rec).ID

	adminStream, _ := openStream(t, server, adminToken)
	memberStream, _ := openStream(t, server, tokenFor(t, gw, "member"))

	// Admin's own stream first sees the member come online
	evt := adminStream.next(t)
	require.Equal(t, "user-online", evt.Name)

	sent := postMessage(t, server, adminToken, SendMessageRequest{
		ChannelID: channelID,
		Kind:      "text",
		Content:   "hello channel",
	})

	evt = memberStream.next(t)
	assert.Equal(t, "receive-channel", evt.Name)
	var pushed MessageResponse
	require.NoError(t, json.Unmarshal([]byte(evt.Data), &pushed))
	assert.Equal(t, sent.ID, pushed.ID)

	// The sender gets no fan-out echo: the next thing the admin sees is a
	// later presence transition, not the channel message.
	memberStream.resp.Body.Close()
	evt = adminStream.next(t)
	assert.Equal(t, "user-offline", evt.Name)
}

func TestStream_PresenceTransitionsBroadcast(t *testing.T) {
	gw := newTestGateway(t)
	server := newStreamServer(t, gw)

	seedUser(t, gw, "alice")
	seedUser(t, gw, "bob")

	aliceStream, _ := openStream(t, server, tokenFor(t, gw, "alice"))

	bobStream, hello := openStream(t, server, tokenFor(t, gw, "bob"))
	assert.ElementsMatch(t, []string{"alice", "bob"}, hello.Online)

	evt := aliceStream.next(t)
	require.Equal(t, "user-online", evt.Name)
	var transition presenceTransition
	require.NoError(t, json.Unmarshal([]byte(evt.Data), &transition))
	assert.Equal(t, "bob", transition.UserID)

	bobStream.resp.Body.Close()

	evt = aliceStream.next(t)
	require.Equal(t, "user-offline", evt.Name)
	require.NoError(t, json.Unmarshal([]byte(evt.Data), &transition))
	assert.Equal(t, "bob", transition.UserID)
}

func TestStream_SecondSessionDoesNotRetransition(t *testing.T) {
	gw := newTestGateway(t)
	server := newStreamServer(t, gw)

	seedUser(t, gw, "alice")
	seedUser(t, gw, "bob")
	bobToken := tokenFor(t, gw, "bob")

	aliceStream, _ := openStream(t, server, tokenFor(t, gw, "alice"))

	first, _ := openStream(t, server, bobToken)
	evt := aliceStream.next(t)
	require.Equal(t, "user-online", evt.Name)

	// A second device for bob: no duplicate online transition
	second, _ := openStream(t, server, bobToken)

	// Closing one of two sessions: still online, no offline transition
	first.resp.Body.Close()
	waitForSessionCount(t, gw, "bob", 1)
	assert.True(t, gw.presence.IsOnline("bob"))

	// Only the last session going away transitions bob offline, and the very
	// next event alice sees is that single transition.
	second.resp.Body.Close()

	evt = aliceStream.next(t)
	assert.Equal(t, "user-offline", evt.Name)
}

// waitForSessionCount polls until the user has the expected number of live
// sessions, failing the test if it never settles.
func waitForSessionCount(t *testing.T, gw *Gateway, userID string, want int) {
	t.Helper()
	deadline := time.Now().Add(2 * time.Second)
	for time.Now().Before(deadline) {
		if len(gw.sessions.SessionsFor(userID)) == want {
			return
		}
		time.Sleep(10 * time.Millisecond)
	}
	t.Fatalf("user %s never reached %d sessions", userID, want)
}
