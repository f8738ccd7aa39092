// ABOUTME: Append-only message persistence and backward pagination queries
// ABOUTME: Appends are serialized per conversation bucket; reads run freely

package store

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"
)

// AppendMessage persists a new message into its conversation bucket,
// assigning a generated id and server timestamp. The stored record is
// written back into msg. Appends within one conversation are serialized
// and receive strictly increasing timestamps, so pagination order is
// total even when two sends race on the same bucket.
func (s *SQLiteStore) AppendMessage(ctx context.Context, msg *Message) error {
	if msg.ConversationID == "" {
		return fmt.Errorf("append: conversation id required")
	}

	mu := s.lockConversation(msg.ConversationID)
	mu.Lock()
	defer mu.Unlock()

	now := time.Now().UTC()
	s.convMu.Lock()
	if last := s.lastAppend[msg.ConversationID]; !now.After(last) {
		now = last.Add(time.Nanosecond)
	}
	s.lastAppend[msg.ConversationID] = now
	s.convMu.Unlock()

	msg.ID = uuid.New().String()
	msg.CreatedAt = now

	query := `
		INSERT INTO messages (id, conversation_id, sender, kind, content, attachment_ref, created_at_ns)
		VALUES (?, ?, ?, ?, ?, ?, ?)
	`

	_, err := s.db.ExecContext(ctx, query,
		msg.ID,
		msg.ConversationID,
		msg.Sender,
		msg.Kind,
		msg.Content,
		msg.AttachmentRef,
		now.UnixNano(),
	)
	if err != nil {
		return fmt.Errorf("inserting message: %w", err)
	}

	// Touch channel activity for channel buckets. A no-op for DM keys.
	touch := `UPDATE channels SET last_message_at = ?, updated_at = ? WHERE 'ch:' || id = ?`
	nowStr := now.Format(timeLayout)
	if _, err := s.db.ExecContext(ctx, touch, nowStr, nowStr, msg.ConversationID); err != nil {
		return fmt.Errorf("touching channel activity: %w", err)
	}

	s.logger.Debug("appended message",
		"id", msg.ID,
		"conversation_id", msg.ConversationID,
		"kind", msg.Kind,
	)
	return nil
}

// CountMessages returns the total number of messages in a conversation.
func (s *SQLiteStore) CountMessages(ctx context.Context, conversationID string) (int, error) {
	var count int
	query := `SELECT COUNT(*) FROM messages WHERE conversation_id = ?`
	if err := s.db.QueryRowContext(ctx, query, conversationID).Scan(&count); err != nil {
		return 0, fmt.Errorf("counting messages: %w", err)
	}
	return count, nil
}

// MessagesPage returns a block of messages counted backward from the most
// recent (offset 0, limit N is the newest N), re-sorted into ascending
// chronological order for the caller.
func (s *SQLiteStore) MessagesPage(ctx context.Context, conversationID string, limit, offset int) ([]Message, error) {
	query := `
		SELECT id, conversation_id, sender, kind, content, attachment_ref, created_at_ns
		FROM (
			SELECT id, conversation_id, sender, kind, content, attachment_ref, created_at_ns
			FROM messages
			WHERE conversation_id = ?
			ORDER BY created_at_ns DESC, id DESC
			LIMIT ? OFFSET ?
		)
		ORDER BY created_at_ns ASC, id ASC
	`

	rows, err := s.db.QueryContext(ctx, query, conversationID, limit, offset)
	if err != nil {
		return nil, fmt.Errorf("querying messages: %w", err)
	}
	defer rows.Close()

	messages := []Message{}
	for rows.Next() {
		var msg Message
		var createdAtNs int64
		err := rows.Scan(
			&msg.ID,
			&msg.ConversationID,
			&msg.Sender,
			&msg.Kind,
			&msg.Content,
			&msg.AttachmentRef,
			&createdAtNs,
		)
		if err != nil {
			return nil, fmt.Errorf("scanning message: %w", err)
		}
		msg.CreatedAt = time.Unix(0, createdAtNs).UTC()
		messages = append(messages, msg)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterating messages: %w", err)
	}

	return messages, nil
}
