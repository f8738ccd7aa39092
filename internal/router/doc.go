// Package router implements the unified send path.
//
// Every outbound message is an Envelope with a tagged Target (direct or
// channel). Send validates the envelope, persists it, resolves the target
// to recipient users and pushes to their live sessions concurrently.
// Persistence strictly precedes push: a storage failure aborts the send
// with no deliveries, while a failed push to one session is logged and
// skipped without affecting the rest.
package router
