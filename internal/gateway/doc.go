// Package gateway orchestrates the strand-server components.
//
// # Overview
//
// The gateway package is the central coordinator of the server. It owns
// the HTTP server, the store, the session manager, the presence and
// channel registries, the message router and the history service.
//
// # HTTP API
//
// Handlers live in api.go:
//
//   - POST /api/login - Exchange credentials for a JWT
//   - POST /api/register - Self-service signup (when enabled)
//   - POST /api/messages - Send a direct or channel message
//   - GET /api/history/direct - Page through a DM conversation
//   - GET /api/history/channel - Page through a channel conversation
//   - GET /api/channels - List the caller's channels, newest activity first
//   - GET /api/channels/browse - List every channel, newest created first
//   - POST /api/channels - Create a channel
//   - GET /api/channels/{id} - Channel details (member list is membership-gated)
//   - POST /api/channels/{id}/join, /leave - Membership changes
//   - GET /api/presence - Online snapshot
//   - GET /health, /health/ready - Liveness and readiness checks
//
// # SSE Streaming
//
// GET /api/stream opens the live channel; one stream is one session.
// Events are written as Server-Sent Events:
//
//	event: receive-direct
//	data: {"id": "...", "sender": "...", "content": "..."}
//
// Event types: connected, receive-direct, receive-channel, user-online,
// user-offline. The connected hello carries the session id and an initial
// presence snapshot so a reconnecting client can reconcile immediately.
//
// # Send Idempotency
//
// POST /api/messages accepts an optional clientMessageId. A retry with
// the same key within the replay window returns the original result
// instead of persisting and pushing the message again.
//
// # Lifecycle
//
//	gw, err := gateway.New(cfg, logger)
//	err = gw.Run(ctx) // blocks until ctx is canceled, then shuts down
package gateway
