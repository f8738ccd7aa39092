// ABOUTME: Message router: validate, persist, resolve recipients, push to sessions
// ABOUTME: Persist-before-push is the hard invariant; per-session failures never abort fan-out

package router

import (
	"context"
	"errors"
	"fmt"
	"log/slog"

	"github.com/go-playground/validator/v10"
	"github.com/samber/lo"

	"github.com/strandchat/strand/internal/session"
	"github.com/strandchat/strand/internal/store"
)

// Router errors
var (
	// ErrInvalidPayload means the envelope failed validation; nothing was persisted
	ErrInvalidPayload = errors.New("invalid message payload")

	// ErrPersistenceFailed means the store rejected the append; no push was attempted
	ErrPersistenceFailed = errors.New("message persistence failed")
)

// MessageStore persists outbound messages.
type MessageStore interface {
	AppendMessage(ctx context.Context, msg *store.Message) error
}

// UserResolver checks which user ids are unknown.
type UserResolver interface {
	MissingUsers(ctx context.Context, ids []string) ([]string, error)
}

// ChannelResolver resolves a channel to its recipient users (members plus admin).
type ChannelResolver interface {
	Recipients(ctx context.Context, channelID string) ([]string, error)
}

// SessionSource resolves a user to their live sessions.
type SessionSource interface {
	SessionsFor(userID string) []*session.Session
}

// Router is the stateless send pipeline. One instance serves all
// conversations; each Send is independent.
type Router struct {
	messages MessageStore
	users    UserResolver
	channels ChannelResolver
	sessions SessionSource
	validate *validator.Validate
	logger   *slog.Logger
}

// NewRouter creates a Router over the given collaborators.
func NewRouter(messages MessageStore, users UserResolver, channels ChannelResolver, sessions SessionSource, logger *slog.Logger) *Router {
	if logger == nil {
		logger = slog.Default()
	}
	return &Router{
		messages: messages,
		users:    users,
		channels: channels,
		sessions: sessions,
		validate: validator.New(),
		logger:   logger.With("component", "router"),
	}
}

// Send validates the envelope, persists the message, resolves the live
// recipient sessions and pushes to each. The persisted record is returned
// so the transport can echo it to the sender.
//
// Push failures for individual sessions are logged and skipped: they never
// abort delivery to other sessions and never roll back persistence. A
// message is therefore retrievable from history before it is ever
// observable on the live channel.
func (r *Router) Send(ctx context.Context, env Envelope) (*Delivered, error) {
	if err := r.validateEnvelope(env); err != nil {
		return nil, err
	}

	conversationID, recipients, eventName, err := r.resolveTarget(ctx, env)
	if err != nil {
		return nil, err
	}

	msg := &store.Message{
		ConversationID: conversationID,
		Sender:         env.Sender,
		Kind:           env.Kind,
		Content:        env.Content,
		AttachmentRef:  env.AttachmentRef,
	}
	if err := r.messages.AppendMessage(ctx, msg); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrPersistenceFailed, err)
	}

	delivered := r.toDelivered(msg, env)
	r.push(eventName, delivered, recipients)

	return delivered, nil
}

// validateEnvelope applies structural validation plus the kind-specific
// content rule: text messages carry content, file messages carry an
// attachment reference, never both.
func (r *Router) validateEnvelope(env Envelope) error {
	if err := r.validate.Struct(env); err != nil {
		return fmt.Errorf("%w: %v", ErrInvalidPayload, err)
	}

	switch env.Kind {
	case store.MessageKindText:
		if env.Content == "" || env.AttachmentRef != "" {
			return fmt.Errorf("%w: text message requires content and no attachment", ErrInvalidPayload)
		}
	case store.MessageKindFile:
		if env.AttachmentRef == "" || env.Content != "" {
			return fmt.Errorf("%w: file message requires an attachment reference and no content", ErrInvalidPayload)
		}
	}

	if env.Target == nil {
		return fmt.Errorf("%w: target required", ErrInvalidPayload)
	}
	return nil
}

// resolveTarget maps the envelope target to a conversation bucket, the
// recipient user set and the live-channel event name. Unknown users and
// channels surface as store.ErrNotFound.
func (r *Router) resolveTarget(ctx context.Context, env Envelope) (string, []string, string, error) {
	switch target := env.Target.(type) {
	case DirectTarget:
		missing, err := r.users.MissingUsers(ctx, []string{target.Recipient})
		if err != nil {
			return "", nil, "", fmt.Errorf("resolving recipient: %w", err)
		}
		if len(missing) > 0 {
			return "", nil, "", fmt.Errorf("recipient %s: %w", target.Recipient, store.ErrNotFound)
		}
		conversationID := store.DirectConversationID(env.Sender, target.Recipient)
		return conversationID, []string{target.Recipient}, EventReceiveDirect, nil

	case ChannelTarget:
		recipients, err := r.channels.Recipients(ctx, target.Channel)
		if err != nil {
			if errors.Is(err, store.ErrNotFound) {
				return "", nil, "", fmt.Errorf("channel %s: %w", target.Channel, store.ErrNotFound)
			}
			return "", nil, "", fmt.Errorf("resolving channel: %w", err)
		}
		// The sender's own sessions never receive the fan-out
		recipients = lo.Without(recipients, env.Sender)
		conversationID := store.ChannelConversationID(target.Channel)
		return conversationID, recipients, EventReceiveChannel, nil

	default:
		return "", nil, "", fmt.Errorf("%w: unsupported target", ErrInvalidPayload)
	}
}

// push fans the persisted message out to every live session of every
// recipient. Session sends never block, so one slow or stale session
// cannot delay delivery to the rest.
func (r *Router) push(eventName string, delivered *Delivered, recipients []string) {
	evt := session.Event{Name: eventName, Data: delivered}

	for _, userID := range recipients {
		for _, sess := range r.sessions.SessionsFor(userID) {
			if err := sess.Send(evt); err != nil {
				r.logger.Warn("delivery to session failed",
					"session_id", sess.ID,
					"user_id", userID,
					"message_id", delivered.ID,
					"error", err,
				)
			}
		}
	}
}

// toDelivered builds the wire payload for a persisted message.
func (r *Router) toDelivered(msg *store.Message, env Envelope) *Delivered {
	delivered := &Delivered{
		ID:            msg.ID,
		Sender:        msg.Sender,
		Kind:          msg.Kind,
		Content:       msg.Content,
		AttachmentRef: msg.AttachmentRef,
		Timestamp:     msg.CreatedAt,
	}
	switch target := env.Target.(type) {
	case DirectTarget:
		delivered.Recipient = target.Recipient
	case ChannelTarget:
		delivered.ChannelID = target.Channel
	}
	return delivered
}
