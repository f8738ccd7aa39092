// ABOUTME: Channel and member-set persistence for the SQLite store
// ABOUTME: Invariant enforcement (admin disjoint from members) lives in internal/channel

package store

import (
	"context"
	"database/sql"
	"fmt"
	"time"
)

// CreateChannel inserts a channel row and its initial member set in one
// transaction. The caller is responsible for excluding the admin from
// channel.Members before calling.
func (s *SQLiteStore) CreateChannel(ctx context.Context, channel *Channel) error {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("beginning transaction: %w", err)
	}
	defer tx.Rollback()

	now := channel.CreatedAt.UTC().Format(timeLayout)
	_, err = tx.ExecContext(ctx, `
		INSERT INTO channels (id, name, admin_id, created_at, updated_at, last_message_at)
		VALUES (?, ?, ?, ?, ?, ?)
	`, channel.ID, channel.Name, channel.AdminID, now, now, now)
	if err != nil {
		return fmt.Errorf("inserting channel: %w", err)
	}

	for _, userID := range channel.Members {
		_, err = tx.ExecContext(ctx, `
			INSERT INTO channel_members (channel_id, user_id, joined_at)
			VALUES (?, ?, ?)
		`, channel.ID, userID, now)
		if err != nil {
			if isConstraintViolation(err) {
				return ErrDuplicateMember
			}
			return fmt.Errorf("inserting member %s: %w", userID, err)
		}
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("committing channel: %w", err)
	}

	s.logger.Debug("created channel", "id", channel.ID, "members", len(channel.Members))
	return nil
}

// GetChannel retrieves a channel with its member list.
// Returns ErrNotFound if the channel doesn't exist.
func (s *SQLiteStore) GetChannel(ctx context.Context, id string) (*Channel, error) {
	query := `
		SELECT id, name, admin_id, created_at, updated_at, last_message_at
		FROM channels
		WHERE id = ?
	`

	channel, err := s.scanChannel(s.db.QueryRowContext(ctx, query, id))
	if err != nil {
		return nil, err
	}

	rows, err := s.db.QueryContext(ctx, `
		SELECT user_id FROM channel_members
		WHERE channel_id = ?
		ORDER BY joined_at ASC, user_id ASC
	`, id)
	if err != nil {
		return nil, fmt.Errorf("querying members: %w", err)
	}
	defer rows.Close()

	for rows.Next() {
		var userID string
		if err := rows.Scan(&userID); err != nil {
			return nil, fmt.Errorf("scanning member: %w", err)
		}
		channel.Members = append(channel.Members, userID)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterating members: %w", err)
	}

	return channel, nil
}

// AddChannelMember adds a user to a channel's member set.
// Returns ErrNotFound if the channel doesn't exist and ErrDuplicateMember
// if the user is already in the set.
func (s *SQLiteStore) AddChannelMember(ctx context.Context, channelID, userID string) error {
	if _, err := s.channelExists(ctx, channelID); err != nil {
		return err
	}

	now := time.Now().UTC().Format(timeLayout)
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO channel_members (channel_id, user_id, joined_at)
		VALUES (?, ?, ?)
	`, channelID, userID, now)
	if err != nil {
		if isConstraintViolation(err) {
			return ErrDuplicateMember
		}
		return fmt.Errorf("inserting member: %w", err)
	}

	_, err = s.db.ExecContext(ctx, `UPDATE channels SET updated_at = ? WHERE id = ?`, now, channelID)
	if err != nil {
		return fmt.Errorf("touching channel: %w", err)
	}

	s.logger.Debug("added channel member", "channel_id", channelID, "user_id", userID)
	return nil
}

// RemoveChannelMember removes a user from a channel's member set.
// Returns ErrNotFound if the channel doesn't exist or the user is not a member.
func (s *SQLiteStore) RemoveChannelMember(ctx context.Context, channelID, userID string) error {
	if _, err := s.channelExists(ctx, channelID); err != nil {
		return err
	}

	result, err := s.db.ExecContext(ctx, `
		DELETE FROM channel_members WHERE channel_id = ? AND user_id = ?
	`, channelID, userID)
	if err != nil {
		return fmt.Errorf("deleting member: %w", err)
	}

	affected, err := result.RowsAffected()
	if err != nil {
		return fmt.Errorf("checking delete result: %w", err)
	}
	if affected == 0 {
		return ErrNotFound
	}

	now := time.Now().UTC().Format(timeLayout)
	_, err = s.db.ExecContext(ctx, `UPDATE channels SET updated_at = ? WHERE id = ?`, now, channelID)
	if err != nil {
		return fmt.Errorf("touching channel: %w", err)
	}

	s.logger.Debug("removed channel member", "channel_id", channelID, "user_id", userID)
	return nil
}

// ListUserChannels returns every channel the user administers or belongs
// to, newest activity first, with member lists populated.
func (s *SQLiteStore) ListUserChannels(ctx context.Context, userID string) ([]*Channel, error) {
	query := `
		SELECT DISTINCT c.id
		FROM channels c
		LEFT JOIN channel_members m ON m.channel_id = c.id
		WHERE c.admin_id = ? OR m.user_id = ?
		ORDER BY c.last_message_at DESC, c.id ASC
	`

	rows, err := s.db.QueryContext(ctx, query, userID, userID)
	if err != nil {
		return nil, fmt.Errorf("querying channels: %w", err)
	}
	defer rows.Close()

	var ids []string
	for rows.Next() {
		var id string
		if err := rows.Scan(&id); err != nil {
			return nil, fmt.Errorf("scanning channel id: %w", err)
		}
		ids = append(ids, id)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterating channels: %w", err)
	}

	channels := make([]*Channel, 0, len(ids))
	for _, id := range ids {
		channel, err := s.GetChannel(ctx, id)
		if err != nil {
			return nil, err
		}
		channels = append(channels, channel)
	}
	return channels, nil
}

// ListAllChannels returns every channel, newest created first, with member
// lists populated. Backs channel discovery for users browsing for one to join.
func (s *SQLiteStore) ListAllChannels(ctx context.Context) ([]*Channel, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT id FROM channels
		ORDER BY created_at DESC, id ASC
	`)
	if err != nil {
		return nil, fmt.Errorf("querying channels: %w", err)
	}
	defer rows.Close()

	var ids []string
	for rows.Next() {
		var id string
		if err := rows.Scan(&id); err != nil {
			return nil, fmt.Errorf("scanning channel id: %w", err)
		}
		ids = append(ids, id)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterating channels: %w", err)
	}

	channels := make([]*Channel, 0, len(ids))
	for _, id := range ids {
		channel, err := s.GetChannel(ctx, id)
		if err != nil {
			return nil, err
		}
		channels = append(channels, channel)
	}
	return channels, nil
}

// channelExists checks for a channel row, mapping absence to ErrNotFound.
func (s *SQLiteStore) channelExists(ctx context.Context, channelID string) (bool, error) {
	var one int
	err := s.db.QueryRowContext(ctx, `SELECT 1 FROM channels WHERE id = ?`, channelID).Scan(&one)
	if err == sql.ErrNoRows {
		return false, ErrNotFound
	}
	if err != nil {
		return false, fmt.Errorf("querying channel: %w", err)
	}
	return true, nil
}

// scanChannel reads a single channel row (without members).
func (s *SQLiteStore) scanChannel(row *sql.Row) (*Channel, error) {
	var channel Channel
	var createdAtStr, updatedAtStr, lastMessageAtStr string

	err := row.Scan(
		&channel.ID,
		&channel.Name,
		&channel.AdminID,
		&createdAtStr,
		&updatedAtStr,
		&lastMessageAtStr,
	)
	if err == sql.ErrNoRows {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("querying channel: %w", err)
	}

	channel.CreatedAt, err = time.Parse(time.RFC3339, createdAtStr)
	if err != nil {
		return nil, fmt.Errorf("parsing created_at: %w", err)
	}
	channel.UpdatedAt, err = time.Parse(time.RFC3339, updatedAtStr)
	if err != nil {
		return nil, fmt.Errorf("parsing updated_at: %w", err)
	}
	channel.LastMessageAt, err = time.Parse(time.RFC3339, lastMessageAtStr)
	if err != nil {
		return nil, fmt.Errorf("parsing last_message_at: %w", err)
	}

	return &channel, nil
}
