// ABOUTME: Store interface and data types for strand persistence
// ABOUTME: Defines User, Message, Channel structs and the Store interface for database operations

package store

import (
	"context"
	"errors"
	"time"
)

// ErrNotFound is returned when a requested entity does not exist
var ErrNotFound = errors.New("not found")

// ErrDuplicateUser is returned when a user with the same email already exists
var ErrDuplicateUser = errors.New("user already exists")

// ErrDuplicateMember is returned when adding a user already in a channel's member set
var ErrDuplicateMember = errors.New("already a channel member")

// MessageKind constants for message kinds
const (
	MessageKindText = "text" // Plain text content
	MessageKindFile = "file" // Opaque attachment reference
)

// User represents an entry in the user directory. Profile data beyond what
// routing and login need is owned by an external service.
type User struct {
	ID           string
	Email        string
	DisplayName  string
	PasswordHash string
	CreatedAt    time.Time
}

// Message represents a single durable message within a conversation.
// Messages are append-only: never mutated or deleted once stored.
type Message struct {
	ID             string
	ConversationID string
	Sender         string
	Kind           string // "text" or "file"
	Content        string // set for kind "text"
	AttachmentRef  string // set for kind "file"
	CreatedAt      time.Time
}

// Channel represents a named multi-member conversation.
// The admin is never present in Members; the effective member count is
// len(Members) + 1.
type Channel struct {
	ID            string
	Name          string
	AdminID       string
	Members       []string
	CreatedAt     time.Time
	UpdatedAt     time.Time
	LastMessageAt time.Time
}

// MemberCount returns the effective member count including the admin.
func (c *Channel) MemberCount() int {
	return len(c.Members) + 1
}

// Store defines the interface for user, message and channel persistence
type Store interface {
	// Users
	CreateUser(ctx context.Context, user *User) error
	GetUser(ctx context.Context, id string) (*User, error)
	GetUserByEmail(ctx context.Context, email string) (*User, error)
	MissingUsers(ctx context.Context, ids []string) ([]string, error)

	// Messages
	AppendMessage(ctx context.Context, msg *Message) error
	CountMessages(ctx context.Context, conversationID string) (int, error)
	MessagesPage(ctx context.Context, conversationID string, limit, offset int) ([]Message, error)

	// Channels
	CreateChannel(ctx context.Context, channel *Channel) error
	GetChannel(ctx context.Context, id string) (*Channel, error)
	AddChannelMember(ctx context.Context, channelID, userID string) error
	RemoveChannelMember(ctx context.Context, channelID, userID string) error
	ListUserChannels(ctx context.Context, userID string) ([]*Channel, error)
	ListAllChannels(ctx context.Context) ([]*Channel, error)

	Close() error
}
