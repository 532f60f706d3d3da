package store

import (
	"database/sql"
	"time"
	"unicode/utf8"
)

// UpsertConversation applies a server-authoritative conversation row.
// Unread count is local-only state and is preserved on update.
func (db *DB) UpsertConversation(c *Conversation) error {
	now := time.Now().UnixMilli()
	_, err := db.Exec(`
		INSERT INTO conversations (id, title, is_group, created_by, unread_count, last_message_at, last_message_preview, synced, created_at, updated_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, 1, ?, ?)
		ON CONFLICT(id) DO UPDATE SET
			title = excluded.title,
			is_group = excluded.is_group,
			created_by = excluded.created_by,
			last_message_at = MAX(conversations.last_message_at, excluded.last_message_at),
			last_message_preview = CASE WHEN excluded.last_message_at >= conversations.last_message_at THEN excluded.last_message_preview ELSE conversations.last_message_preview END,
			synced = 1,
			updated_at = excluded.updated_at`,
		c.ID, c.Title, c.IsGroup, c.CreatedBy, c.UnreadCount, c.LastMessageAt, c.LastMessagePreview, c.CreatedAt, now)
	return err
}

// GetConversation returns a single conversation by id, nil if absent.
func (db *DB) GetConversation(id int64) (*Conversation, error) {
	var c Conversation
	err := db.QueryRow(`
		SELECT id, title, is_group, created_by, unread_count, last_message_at, last_message_preview, synced, created_at, updated_at
		FROM conversations WHERE id = ?`, id).
		Scan(&c.ID, &c.Title, &c.IsGroup, &c.CreatedBy, &c.UnreadCount, &c.LastMessageAt,
			&c.LastMessagePreview, &c.Synced, &c.CreatedAt, &c.UpdatedAt)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	return &c, nil
}

// ListConversations returns conversations sorted by last activity.
func (db *DB) ListConversations(limit, offset int) ([]Conversation, error) {
	if limit <= 0 {
		limit = 50
	}
	rows, err := db.Query(`
		SELECT id, title, is_group, created_by, unread_count, last_message_at, last_message_preview, synced, created_at, updated_at
		FROM conversations
		ORDER BY last_message_at DESC
		LIMIT ? OFFSET ?`, limit, offset)
	if err != nil {
		return nil, err
	}
	defer func() { _ = rows.Close() }()

	var convs []Conversation
	for rows.Next() {
		var c Conversation
		if err := rows.Scan(&c.ID, &c.Title, &c.IsGroup, &c.CreatedBy, &c.UnreadCount, &c.LastMessageAt,
			&c.LastMessagePreview, &c.Synced, &c.CreatedAt, &c.UpdatedAt); err != nil {
			return nil, err
		}
		convs = append(convs, c)
	}
	return convs, rows.Err()
}

// TouchConversation bumps last-message metadata and optionally the
// unread counter after a message lands.
// previewBytes caps the stored conversation preview.
const previewBytes = 100

// previewText clips a message body for the conversation list without
// splitting a multi-byte rune.
func previewText(s string) string {
	if len(s) <= previewBytes {
		return s
	}
	cut := previewBytes
	for cut > 0 && !utf8.RuneStart(s[cut]) {
		cut--
	}
	return s[:cut]
}

func (db *DB) TouchConversation(id int64, messageAt int64, preview string, bumpUnread bool) error {
	preview = previewText(preview)
	bump := 0
	if bumpUnread {
		bump = 1
	}
	now := time.Now().UnixMilli()
	_, err := db.Exec(`
		UPDATE conversations SET
			last_message_at = MAX(last_message_at, ?),
			last_message_preview = CASE WHEN ? >= last_message_at THEN ? ELSE last_message_preview END,
			unread_count = unread_count + ?,
			updated_at = ?
		WHERE id = ?`, messageAt, messageAt, preview, bump, now, id)
	return err
}

// ClearUnread resets the unread counter when the conversation view opens.
func (db *DB) ClearUnread(id int64) error {
	_, err := db.Exec(`UPDATE conversations SET unread_count = 0 WHERE id = ?`, id)
	return err
}

// UpsertParticipant applies a server-authoritative membership row.
func (db *DB) UpsertParticipant(p *Participant) error {
	_, err := db.Exec(`
		INSERT INTO participants (id, conversation_id, user_id, role, joined_at, synced)
		VALUES (?, ?, ?, ?, ?, 1)
		ON CONFLICT(conversation_id, user_id) DO UPDATE SET
			id = excluded.id,
			role = excluded.role,
			joined_at = excluded.joined_at,
			synced = 1`,
		p.ID, p.ConversationID, p.UserID, p.Role, p.JoinedAt)
	return err
}

// ListParticipants returns a conversation's membership.
func (db *DB) ListParticipants(conversationID int64) ([]Participant, error) {
	rows, err := db.Query(`
		SELECT id, conversation_id, user_id, role, joined_at, synced
		FROM participants WHERE conversation_id = ? ORDER BY joined_at ASC`, conversationID)
	if err != nil {
		return nil, err
	}
	defer func() { _ = rows.Close() }()

	var parts []Participant
	for rows.Next() {
		var p Participant
		if err := rows.Scan(&p.ID, &p.ConversationID, &p.UserID, &p.Role, &p.JoinedAt, &p.Synced); err != nil {
			return nil, err
		}
		parts = append(parts, p)
	}
	return parts, rows.Err()
}

// RemoveParticipant deletes a membership row (after a confirmed remote
// removal).
func (db *DB) RemoveParticipant(conversationID, userID int64) error {
	_, err := db.Exec(`DELETE FROM participants WHERE conversation_id = ? AND user_id = ?`, conversationID, userID)
	return err
}
