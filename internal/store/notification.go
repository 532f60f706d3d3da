package store

import (
	"database/sql"
	"fmt"
	"strings"
	"time"
)

// UpsertNotification applies a server-originated notification row. A
// local ReadPending flag survives the upsert: the read-state push has
// not been confirmed yet, so the remote value is stale for that row.
func (db *DB) UpsertNotification(n *Notification) error {
	_, err := db.Exec(`
		INSERT INTO notifications (id, recipient_id, actor_id, notification_type, subject_kind, subject_id, body, is_read, created_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT(id) DO UPDATE SET
			recipient_id = excluded.recipient_id,
			actor_id = excluded.actor_id,
			notification_type = excluded.notification_type,
			subject_kind = excluded.subject_kind,
			subject_id = excluded.subject_id,
			body = excluded.body,
			is_read = CASE WHEN notifications.is_read = 2 THEN 2 ELSE excluded.is_read END,
			created_at = excluded.created_at`,
		n.ID, n.RecipientID, n.ActorID, n.Type, n.SubjectKind, n.SubjectID, n.Body, n.IsRead, n.CreatedAt)
	return err
}

// ListNotifications returns a user's notifications newest-first.
func (db *DB) ListNotifications(recipientID int64, limit int) ([]Notification, error) {
	if limit <= 0 {
		limit = 50
	}
	rows, err := db.Query(`
		SELECT id, recipient_id, actor_id, notification_type, subject_kind, subject_id, body, is_read, created_at
		FROM notifications
		WHERE recipient_id = ?
		ORDER BY created_at DESC
		LIMIT ?`, recipientID, limit)
	if err != nil {
		return nil, err
	}
	defer func() { _ = rows.Close() }()

	var notifs []Notification
	for rows.Next() {
		var n Notification
		if err := rows.Scan(&n.ID, &n.RecipientID, &n.ActorID, &n.Type, &n.SubjectKind, &n.SubjectID,
			&n.Body, &n.IsRead, &n.CreatedAt); err != nil {
			return nil, err
		}
		notifs = append(notifs, n)
	}
	return notifs, rows.Err()
}

// UnreadNotificationCount counts notifications still unread for a user.
func (db *DB) UnreadNotificationCount(recipientID int64) (int, error) {
	var n int
	err := db.QueryRow(`SELECT COUNT(*) FROM notifications WHERE recipient_id = ? AND is_read = 0`, recipientID).Scan(&n)
	return n, err
}

// MarkNotificationRead flags a notification read locally, pending the
// outbound read-state push.
func (db *DB) MarkNotificationRead(id int64) error {
	res, err := db.Exec(`UPDATE notifications SET is_read = 2 WHERE id = ? AND is_read = 0`, id)
	if err != nil {
		return err
	}
	n, _ := res.RowsAffected()
	if n == 0 {
		return fmt.Errorf("notification %d not found or already read", id)
	}
	return nil
}

// ConfirmNotificationRead settles a pending read flag once the remote
// store acknowledged it.
func (db *DB) ConfirmNotificationRead(id int64) error {
	_, err := db.Exec(`UPDATE notifications SET is_read = 1 WHERE id = ? AND is_read = 2`, id)
	return err
}

// PendingNotificationReads returns notifications whose read flag has not
// been pushed.
func (db *DB) PendingNotificationReads() ([]Notification, error) {
	rows, err := db.Query(`
		SELECT id, recipient_id, actor_id, notification_type, subject_kind, subject_id, body, is_read, created_at
		FROM notifications WHERE is_read = 2 ORDER BY created_at ASC`)
	if err != nil {
		return nil, err
	}
	defer func() { _ = rows.Close() }()

	var notifs []Notification
	for rows.Next() {
		var n Notification
		if err := rows.Scan(&n.ID, &n.RecipientID, &n.ActorID, &n.Type, &n.SubjectKind, &n.SubjectID,
			&n.Body, &n.IsRead, &n.CreatedAt); err != nil {
			return nil, err
		}
		notifs = append(notifs, n)
	}
	return notifs, rows.Err()
}

// ReconcileNotifications merges the authoritative remote notification
// set for a user. Rows with a pending local read flag are kept even if
// absent remotely, mirroring the dirty-row protection elsewhere.
func (db *DB) ReconcileNotifications(recipientID int64, remote []Notification) error {
	tx, err := db.Begin()
	if err != nil {
		return fmt.Errorf("begin tx: %w", err)
	}
	defer func() { _ = tx.Rollback() }()

	if len(remote) == 0 {
		if _, err := tx.Exec(`DELETE FROM notifications WHERE recipient_id = ? AND is_read != 2`, recipientID); err != nil {
			return fmt.Errorf("clear notifications: %w", err)
		}
		return tx.Commit()
	}

	ids := make([]string, 0, len(remote))
	args := []any{recipientID}
	for _, n := range remote {
		ids = append(ids, "?")
		args = append(args, n.ID)
	}
	q := fmt.Sprintf(`DELETE FROM notifications WHERE recipient_id = ? AND is_read != 2 AND id NOT IN (%s)`, strings.Join(ids, ","))
	if _, err := tx.Exec(q, args...); err != nil {
		return fmt.Errorf("delete vanished notifications: %w", err)
	}

	for _, n := range remote {
		if _, err := tx.Exec(`
			INSERT INTO notifications (id, recipient_id, actor_id, notification_type, subject_kind, subject_id, body, is_read, created_at)
			VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?)
			ON CONFLICT(id) DO UPDATE SET
				recipient_id = excluded.recipient_id,
				actor_id = excluded.actor_id,
				notification_type = excluded.notification_type,
				subject_kind = excluded.subject_kind,
				subject_id = excluded.subject_id,
				body = excluded.body,
				is_read = CASE WHEN notifications.is_read = 2 THEN 2 ELSE excluded.is_read END,
				created_at = excluded.created_at`,
			n.ID, n.RecipientID, n.ActorID, n.Type, n.SubjectKind, n.SubjectID, n.Body, n.IsRead, n.CreatedAt); err != nil {
			return fmt.Errorf("upsert notification %d: %w", n.ID, err)
		}
	}

	return tx.Commit()
}

// SetCheckpoint records a sync checkpoint value (e.g. last successful
// reconcile time for a scope).
func (db *DB) SetCheckpoint(key, value string) error {
	now := time.Now().UnixMilli()
	_, err := db.Exec(`
		INSERT INTO sync_state (key, value, updated_at)
		VALUES (?, ?, ?)
		ON CONFLICT(key) DO UPDATE SET value = excluded.value, updated_at = excluded.updated_at`,
		key, value, now)
	return err
}

// GetCheckpoint retrieves a sync checkpoint value, empty if unset.
func (db *DB) GetCheckpoint(key string) (string, error) {
	var value string
	err := db.QueryRow(`SELECT value FROM sync_state WHERE key = ?`, key).Scan(&value)
	if err == sql.ErrNoRows {
		return "", nil
	}
	if err != nil {
		return "", err
	}
	return value, nil
}
