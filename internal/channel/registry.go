// ABOUTME: Channel registry enforcing membership invariants over the store
// ABOUTME: Admin is never in the member set; effective member count is members+1

package channel

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/samber/lo"

	"github.com/strandchat/strand/internal/store"
)

// Channel invariant errors, reported synchronously with no state change.
var (
	// ErrInvalidAdmin means the admin id does not resolve to a known user
	ErrInvalidAdmin = errors.New("admin is not a known user")

	// ErrInvalidMembers means at least one member id does not resolve to a known user
	ErrInvalidMembers = errors.New("some members are not known users")

	// ErrAlreadyMember means the user is already in the channel (the admin counts as a member)
	ErrAlreadyMember = errors.New("already a member of this channel")

	// ErrNotAMember means the user is not in the channel's member set
	ErrNotAMember = errors.New("not a member of this channel")

	// ErrAdminCannotLeave means the admin tried to leave their own channel
	ErrAdminCannotLeave = errors.New("admin cannot leave the channel")
)

// ChannelStore provides the channel persistence the registry needs.
type ChannelStore interface {
	CreateChannel(ctx context.Context, channel *store.Channel) error
	GetChannel(ctx context.Context, id string) (*store.Channel, error)
	AddChannelMember(ctx context.Context, channelID, userID string) error
	RemoveChannelMember(ctx context.Context, channelID, userID string) error
	ListUserChannels(ctx context.Context, userID string) ([]*store.Channel, error)
	ListAllChannels(ctx context.Context) ([]*store.Channel, error)
}

// UserResolver checks which of a set of user ids are unknown.
type UserResolver interface {
	MissingUsers(ctx context.Context, ids []string) ([]string, error)
}

// Details is the membership-gated view of a channel. Members is nil unless
// the viewer is the admin or a current member; counts and the admin
// identity are always visible.
type Details struct {
	ID            string
	Name          string
	AdminID       string
	MemberCount   int
	IsMember      bool
	IsAdmin       bool
	Members       []string // nil when withheld
	CreatedAt     time.Time
	UpdatedAt     time.Time
	LastMessageAt time.Time
}

// Registry coordinates channel mutations. Join/leave on the same channel
// are serialized through a per-channel mutex so concurrent calls cannot
// lose updates.
type Registry struct {
	channels ChannelStore
	users    UserResolver
	logger   *slog.Logger

	mu    sync.Mutex
	locks map[string]*sync.Mutex
}

// NewRegistry creates a channel registry over the given store.
func NewRegistry(channels ChannelStore, users UserResolver, logger *slog.Logger) *Registry {
	if logger == nil {
		logger = slog.Default()
	}
	return &Registry{
		channels: channels,
		users:    users,
		logger:   logger.With("component", "channels"),
		locks:    make(map[string]*sync.Mutex),
	}
}

// Create makes a new channel owned by adminID. The admin id is excluded
// from the member set even if supplied, and duplicate member ids collapse.
// Fails with ErrInvalidAdmin or ErrInvalidMembers when ids do not resolve.
func (r *Registry) Create(ctx context.Context, adminID, name string, memberIDs []string) (*store.Channel, error) {
	missing, err := r.users.MissingUsers(ctx, []string{adminID})
	if err != nil {
		return nil, fmt.Errorf("resolving admin: %w", err)
	}
	if len(missing) > 0 {
		return nil, ErrInvalidAdmin
	}

	members := lo.Without(lo.Uniq(memberIDs), adminID)
	if len(members) > 0 {
		missing, err = r.users.MissingUsers(ctx, members)
		if err != nil {
			return nil, fmt.Errorf("resolving members: %w", err)
		}
		if len(missing) > 0 {
			return nil, fmt.Errorf("%w: %v", ErrInvalidMembers, missing)
		}
	}

	channel := &store.Channel{
		ID:        uuid.New().String(),
		Name:      name,
		AdminID:   adminID,
		Members:   members,
		CreatedAt: time.Now().UTC(),
	}
	if err := r.channels.CreateChannel(ctx, channel); err != nil {
		return nil, fmt.Errorf("creating channel: %w", err)
	}

	r.logger.Info("channel created",
		"channel_id", channel.ID,
		"admin_id", adminID,
		"member_count", channel.MemberCount(),
	)
	return channel, nil
}

// Join adds userID to the channel's member set.
// Fails with ErrAlreadyMember if the user is in the set or is the admin.
func (r *Registry) Join(ctx context.Context, channelID, userID string) (*store.Channel, error) {
	lock := r.lockChannel(channelID)
	lock.Lock()
	defer lock.Unlock()

	channel, err := r.channels.GetChannel(ctx, channelID)
	if err != nil {
		return nil, err
	}

	if userID == channel.AdminID || lo.Contains(channel.Members, userID) {
		return nil, ErrAlreadyMember
	}

	if err := r.channels.AddChannelMember(ctx, channelID, userID); err != nil {
		if errors.Is(err, store.ErrDuplicateMember) {
			return nil, ErrAlreadyMember
		}
		return nil, fmt.Errorf("adding member: %w", err)
	}

	r.logger.Info("channel joined", "channel_id", channelID, "user_id", userID)
	return r.channels.GetChannel(ctx, channelID)
}

// Leave removes userID from the channel's member set.
// Fails with ErrAdminCannotLeave for the admin and ErrNotAMember for
// non-members.
func (r *Registry) Leave(ctx context.Context, channelID, userID string) error {
	lock := r.lockChannel(channelID)
	lock.Lock()
	defer lock.Unlock()

	channel, err := r.channels.GetChannel(ctx, channelID)
	if err != nil {
		return err
	}

	if userID == channel.AdminID {
		return ErrAdminCannotLeave
	}
	if !lo.Contains(channel.Members, userID) {
		return ErrNotAMember
	}

	if err := r.channels.RemoveChannelMember(ctx, channelID, userID); err != nil {
		if errors.Is(err, store.ErrNotFound) {
			return ErrNotAMember
		}
		return fmt.Errorf("removing member: %w", err)
	}

	r.logger.Info("channel left", "channel_id", channelID, "user_id", userID)
	return nil
}

// DetailsFor returns channel metadata for a viewer. The member list is
// included only for the admin or a current member.
func (r *Registry) DetailsFor(ctx context.Context, viewerID, channelID string) (*Details, error) {
	channel, err := r.channels.GetChannel(ctx, channelID)
	if err != nil {
		return nil, err
	}

	isAdmin := viewerID == channel.AdminID
	isMember := isAdmin || lo.Contains(channel.Members, viewerID)

	details := &Details{
		ID:            channel.ID,
		Name:          channel.Name,
		AdminID:       channel.AdminID,
		MemberCount:   channel.MemberCount(),
		IsMember:      isMember,
		IsAdmin:       isAdmin,
		CreatedAt:     channel.CreatedAt,
		UpdatedAt:     channel.UpdatedAt,
		LastMessageAt: channel.LastMessageAt,
	}
	if isMember {
		details.Members = append([]string{}, channel.Members...)
	}
	return details, nil
}

// Recipients returns every user a channel message fans out to: the member
// set plus the admin. The caller excludes the sender.
func (r *Registry) Recipients(ctx context.Context, channelID string) ([]string, error) {
	channel, err := r.channels.GetChannel(ctx, channelID)
	if err != nil {
		return nil, err
	}
	return append(append([]string{}, channel.Members...), channel.AdminID), nil
}

// ListFor returns the channels the user administers or belongs to, newest
// activity first.
func (r *Registry) ListFor(ctx context.Context, userID string) ([]*store.Channel, error) {
	return r.channels.ListUserChannels(ctx, userID)
}

// Browse returns every channel, newest created first, so users can discover
// channels to join. Counts and admin ids are visible to everyone; member
// lists stay behind DetailsFor's membership gate.
func (r *Registry) Browse(ctx context.Context) ([]*store.Channel, error) {
	return r.channels.ListAllChannels(ctx)
}

// lockChannel returns the mutation mutex for a channel id.
func (r *Registry) lockChannel(channelID string) *sync.Mutex {
	r.mu.Lock()
	defer r.mu.Unlock()

	lock, ok := r.locks[channelID]
	if !ok {
		lock = &sync.Mutex{}
		r.locks[channelID] = lock
	}
	return lock
}
