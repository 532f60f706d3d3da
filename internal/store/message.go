package store

import (
	"database/sql"
	"fmt"
	"strings"
	"time"
)

// InsertLocalMessage writes an optimistic message row with a temporary id.
func (db *DB) InsertLocalMessage(m *Message) error {
	now := time.Now().UnixMilli()
	if m.CreatedAt == 0 {
		m.CreatedAt = now
	}
	if m.Attachments == "" {
		m.Attachments = "[]"
	}
	m.Synced = SyncDirty
	_, err := db.Exec(`
		INSERT INTO messages (id, conversation_id, sender_id, body, reply_to_message_id, depth, path, attachments, synced, is_deleted, created_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, 0, 0, ?)`,
		m.ID, m.ConversationID, m.SenderID, m.Body, m.ReplyToMessageID, m.Depth, m.Path, m.Attachments, m.CreatedAt)
	return err
}

// UpsertMessage applies a server-authoritative message row (remote wins).
func (db *DB) UpsertMessage(m *Message) error {
	if m.Attachments == "" {
		m.Attachments = "[]"
	}
	_, err := db.Exec(`
		INSERT INTO messages (id, conversation_id, sender_id, body, reply_to_message_id, depth, path, attachments, synced, is_deleted, created_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, 1, 0, ?)
		ON CONFLICT(id) DO UPDATE SET
			conversation_id = excluded.conversation_id,
			sender_id = excluded.sender_id,
			body = excluded.body,
			reply_to_message_id = excluded.reply_to_message_id,
			depth = excluded.depth,
			path = excluded.path,
			attachments = excluded.attachments,
			synced = 1,
			is_deleted = 0,
			created_at = excluded.created_at`,
		m.ID, m.ConversationID, m.SenderID, m.Body, m.ReplyToMessageID, m.Depth, m.Path, m.Attachments, m.CreatedAt)
	return err
}

// GetMessage returns a single message by id, nil if absent.
func (db *DB) GetMessage(id int64) (*Message, error) {
	var m Message
	err := db.QueryRow(`
		SELECT id, conversation_id, sender_id, body, reply_to_message_id, depth, path, attachments, synced, is_deleted, created_at
		FROM messages WHERE id = ?`, id).
		Scan(&m.ID, &m.ConversationID, &m.SenderID, &m.Body, &m.ReplyToMessageID, &m.Depth, &m.Path,
			&m.Attachments, &m.Synced, &m.IsDeleted, &m.CreatedAt)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	return &m, nil
}

// ListMessages returns messages for a conversation using keyset
// pagination by creation time, newest first.
func (db *DB) ListMessages(conversationID int64, beforeTs int64, limit int) ([]Message, error) {
	if limit <= 0 {
		limit = 50
	}
	if beforeTs <= 0 {
		beforeTs = time.Now().UnixMilli() + 1
	}
	rows, err := db.Query(`
		SELECT id, conversation_id, sender_id, body, reply_to_message_id, depth, path, attachments, synced, is_deleted, created_at
		FROM messages
		WHERE conversation_id = ? AND created_at < ? AND is_deleted = 0
		ORDER BY created_at DESC
		LIMIT ?`, conversationID, beforeTs, limit)
	if err != nil {
		return nil, err
	}
	defer func() { _ = rows.Close() }()
	return scanMessages(rows)
}

// MarkMessageDeleted soft-deletes a message pending a remote delete.
func (db *DB) MarkMessageDeleted(id int64) error {
	_, err := db.Exec(`UPDATE messages SET is_deleted = 1, synced = 0 WHERE id = ?`, id)
	return err
}

// PendingMessages returns messages with unpushed mutations, reply
// targets before their replies.
func (db *DB) PendingMessages() ([]Message, error) {
	rows, err := db.Query(`
		SELECT id, conversation_id, sender_id, body, reply_to_message_id, depth, path, attachments, synced, is_deleted, created_at
		FROM messages
		WHERE synced = 0 OR is_deleted = 1
		ORDER BY depth ASC, created_at ASC`)
	if err != nil {
		return nil, err
	}
	defer func() { _ = rows.Close() }()
	return scanMessages(rows)
}

// DeleteMessageRow removes a message row outright.
func (db *DB) DeleteMessageRow(id int64) error {
	_, err := db.Exec(`DELETE FROM messages WHERE id = ?`, id)
	return err
}

// MarkMessageDead moves a permanently-failing message to the dead-letter state.
func (db *DB) MarkMessageDead(id int64) error {
	_, err := db.Exec(`UPDATE messages SET synced = 2 WHERE id = ?`, id)
	return err
}

// RemapMessage replaces a temp-id message row with the server row in one
// transaction and repoints still-dirty replies at the new id.
func (db *DB) RemapMessage(oldID int64, m *Message) error {
	tx, err := db.Begin()
	if err != nil {
		return fmt.Errorf("begin tx: %w", err)
	}
	defer func() { _ = tx.Rollback() }()

	if _, err := tx.Exec(`DELETE FROM messages WHERE id = ?`, oldID); err != nil {
		return fmt.Errorf("delete temp message: %w", err)
	}
	if m.Attachments == "" {
		m.Attachments = "[]"
	}
	if _, err := tx.Exec(`
		INSERT INTO messages (id, conversation_id, sender_id, body, reply_to_message_id, depth, path, attachments, synced, is_deleted, created_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, 1, 0, ?)`,
		m.ID, m.ConversationID, m.SenderID, m.Body, m.ReplyToMessageID, m.Depth, m.Path, m.Attachments, m.CreatedAt); err != nil {
		return fmt.Errorf("insert canonical message: %w", err)
	}
	if _, err := tx.Exec(`UPDATE messages SET reply_to_message_id = ? WHERE reply_to_message_id = ? AND synced = 0`, m.ID, oldID); err != nil {
		return fmt.Errorf("repoint replies: %w", err)
	}
	if _, err := tx.Exec(`UPDATE reactions SET subject_id = ? WHERE subject_kind = 'message' AND subject_id = ? AND synced = 0`, m.ID, oldID); err != nil {
		return fmt.Errorf("repoint reactions: %w", err)
	}

	return tx.Commit()
}

// ReconcileMessages merges the authoritative remote message set for one
// conversation. Dirty rows survive; clean rows absent remotely are
// removed.
func (db *DB) ReconcileMessages(conversationID int64, remote []Message) error {
	tx, err := db.Begin()
	if err != nil {
		return fmt.Errorf("begin tx: %w", err)
	}
	defer func() { _ = tx.Rollback() }()

	if len(remote) == 0 {
		if _, err := tx.Exec(`DELETE FROM messages WHERE conversation_id = ? AND synced = 1`, conversationID); err != nil {
			return fmt.Errorf("clear synced messages: %w", err)
		}
		return tx.Commit()
	}

	ids := make([]string, 0, len(remote))
	args := []any{conversationID}
	for _, m := range remote {
		ids = append(ids, "?")
		args = append(args, m.ID)
	}
	q := fmt.Sprintf(`DELETE FROM messages WHERE conversation_id = ? AND synced = 1 AND id NOT IN (%s)`, strings.Join(ids, ","))
	if _, err := tx.Exec(q, args...); err != nil {
		return fmt.Errorf("delete vanished messages: %w", err)
	}

	for _, m := range remote {
		if m.Attachments == "" {
			m.Attachments = "[]"
		}
		if _, err := tx.Exec(`
			INSERT INTO messages (id, conversation_id, sender_id, body, reply_to_message_id, depth, path, attachments, synced, is_deleted, created_at)
			VALUES (?, ?, ?, ?, ?, ?, ?, ?, 1, 0, ?)
			ON CONFLICT(id) DO UPDATE SET
				conversation_id = excluded.conversation_id,
				sender_id = excluded.sender_id,
				body = excluded.body,
				reply_to_message_id = excluded.reply_to_message_id,
				depth = excluded.depth,
				path = excluded.path,
				attachments = excluded.attachments,
				synced = 1,
				is_deleted = 0,
				created_at = excluded.created_at
			WHERE messages.synced = 1`,
			m.ID, m.ConversationID, m.SenderID, m.Body, m.ReplyToMessageID, m.Depth, m.Path, m.Attachments, m.CreatedAt); err != nil {
			return fmt.Errorf("upsert message %d: %w", m.ID, err)
		}
	}

	return tx.Commit()
}

func scanMessages(rows *sql.Rows) ([]Message, error) {
	var msgs []Message
	for rows.Next() {
		var m Message
		if err := rows.Scan(&m.ID, &m.ConversationID, &m.SenderID, &m.Body, &m.ReplyToMessageID, &m.Depth, &m.Path,
			&m.Attachments, &m.Synced, &m.IsDeleted, &m.CreatedAt); err != nil {
			return nil, err
		}
		msgs = append(msgs, m)
	}
	return msgs, rows.Err()
}
