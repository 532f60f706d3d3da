package store

import (
	"database/sql"
	"fmt"
	"strings"
	"time"
)

// ToggleReaction flips the caller's reaction on a subject. An existing
// live row is soft-deleted, a dead row is revived, and a missing row is
// inserted under the given temp id. The UNIQUE(subject_kind, subject_id,
// user_id) index guarantees at most one live reaction per user per
// subject regardless of how many times this races with sync.
// Returns the resulting row.
func (db *DB) ToggleReaction(subjectKind string, subjectID, userID, tempID int64, emoji string) (*Reaction, error) {
	tx, err := db.Begin()
	if err != nil {
		return nil, fmt.Errorf("begin tx: %w", err)
	}
	defer func() { _ = tx.Rollback() }()

	var r Reaction
	err = tx.QueryRow(`
		SELECT id, subject_kind, subject_id, user_id, emoji, synced, is_deleted, created_at
		FROM reactions WHERE subject_kind = ? AND subject_id = ? AND user_id = ?`,
		subjectKind, subjectID, userID).
		Scan(&r.ID, &r.SubjectKind, &r.SubjectID, &r.UserID, &r.Emoji, &r.Synced, &r.IsDeleted, &r.CreatedAt)

	now := time.Now().UnixMilli()
	switch {
	case err == sql.ErrNoRows:
		r = Reaction{ID: tempID, SubjectKind: subjectKind, SubjectID: subjectID, UserID: userID,
			Emoji: emoji, Synced: SyncDirty, CreatedAt: now}
		if _, err := tx.Exec(`
			INSERT INTO reactions (id, subject_kind, subject_id, user_id, emoji, synced, is_deleted, created_at)
			VALUES (?, ?, ?, ?, ?, 0, 0, ?)`,
			r.ID, r.SubjectKind, r.SubjectID, r.UserID, r.Emoji, r.CreatedAt); err != nil {
			return nil, fmt.Errorf("insert reaction: %w", err)
		}
	case err != nil:
		return nil, err
	default:
		r.IsDeleted = !r.IsDeleted
		r.Emoji = emoji
		r.Synced = SyncDirty
		if _, err := tx.Exec(`UPDATE reactions SET is_deleted = ?, emoji = ?, synced = 0 WHERE id = ?`,
			r.IsDeleted, r.Emoji, r.ID); err != nil {
			return nil, fmt.Errorf("flip reaction: %w", err)
		}
	}

	if err := recountReactionsTx(tx, subjectKind, subjectID); err != nil {
		return nil, err
	}
	if err := tx.Commit(); err != nil {
		return nil, err
	}
	return &r, nil
}

// UpsertReaction applies a server-authoritative reaction row. A conflict
// on the (subject, user) key absorbs any local temp row for the same
// pair rather than creating a duplicate.
func (db *DB) UpsertReaction(r *Reaction) error {
	_, err := db.Exec(`
		INSERT INTO reactions (id, subject_kind, subject_id, user_id, emoji, synced, is_deleted, created_at)
		VALUES (?, ?, ?, ?, ?, 1, ?, ?)
		ON CONFLICT(subject_kind, subject_id, user_id) DO UPDATE SET
			id = excluded.id,
			emoji = excluded.emoji,
			synced = 1,
			is_deleted = excluded.is_deleted,
			created_at = excluded.created_at`,
		r.ID, r.SubjectKind, r.SubjectID, r.UserID, r.Emoji, r.IsDeleted, r.CreatedAt)
	return err
}

// GetReaction returns the reaction row for a (subject, user) pair, nil
// if absent.
func (db *DB) GetReaction(subjectKind string, subjectID, userID int64) (*Reaction, error) {
	var r Reaction
	err := db.QueryRow(`
		SELECT id, subject_kind, subject_id, user_id, emoji, synced, is_deleted, created_at
		FROM reactions WHERE subject_kind = ? AND subject_id = ? AND user_id = ?`,
		subjectKind, subjectID, userID).
		Scan(&r.ID, &r.SubjectKind, &r.SubjectID, &r.UserID, &r.Emoji, &r.Synced, &r.IsDeleted, &r.CreatedAt)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	return &r, nil
}

// CountLiveReactions counts non-deleted reactions on a subject.
func (db *DB) CountLiveReactions(subjectKind string, subjectID int64) (int, error) {
	var n int
	err := db.QueryRow(`SELECT COUNT(*) FROM reactions WHERE subject_kind = ? AND subject_id = ? AND is_deleted = 0`,
		subjectKind, subjectID).Scan(&n)
	return n, err
}

// PendingReactions returns reactions with unpushed mutations, oldest first.
func (db *DB) PendingReactions() ([]Reaction, error) {
	rows, err := db.Query(`
		SELECT id, subject_kind, subject_id, user_id, emoji, synced, is_deleted, created_at
		FROM reactions WHERE synced = 0 ORDER BY created_at ASC`)
	if err != nil {
		return nil, err
	}
	defer func() { _ = rows.Close() }()
	return scanReactions(rows)
}

// DeleteReactionRow removes a reaction row outright.
func (db *DB) DeleteReactionRow(id int64) error {
	_, err := db.Exec(`DELETE FROM reactions WHERE id = ?`, id)
	return err
}

// MarkReactionDead moves a permanently-failing reaction to the dead-letter state.
func (db *DB) MarkReactionDead(id int64) error {
	_, err := db.Exec(`UPDATE reactions SET synced = 2 WHERE id = ?`, id)
	return err
}

// RemapReaction replaces a temp-id reaction row with the server row.
func (db *DB) RemapReaction(oldID int64, r *Reaction) error {
	tx, err := db.Begin()
	if err != nil {
		return fmt.Errorf("begin tx: %w", err)
	}
	defer func() { _ = tx.Rollback() }()

	if _, err := tx.Exec(`DELETE FROM reactions WHERE id = ?`, oldID); err != nil {
		return fmt.Errorf("delete temp reaction: %w", err)
	}
	if _, err := tx.Exec(`
		INSERT INTO reactions (id, subject_kind, subject_id, user_id, emoji, synced, is_deleted, created_at)
		VALUES (?, ?, ?, ?, ?, 1, ?, ?)
		ON CONFLICT(subject_kind, subject_id, user_id) DO UPDATE SET
			id = excluded.id,
			emoji = excluded.emoji,
			synced = 1,
			is_deleted = excluded.is_deleted,
			created_at = excluded.created_at`,
		r.ID, r.SubjectKind, r.SubjectID, r.UserID, r.Emoji, r.IsDeleted, r.CreatedAt); err != nil {
		return fmt.Errorf("insert canonical reaction: %w", err)
	}

	return tx.Commit()
}

// ReconcileReactions merges the authoritative remote reaction set for a
// subject and recomputes the subject's live-reaction count from rows,
// so concurrent reactions from other devices never double-count.
func (db *DB) ReconcileReactions(subjectKind string, subjectID int64, remote []Reaction) error {
	tx, err := db.Begin()
	if err != nil {
		return fmt.Errorf("begin tx: %w", err)
	}
	defer func() { _ = tx.Rollback() }()

	if len(remote) == 0 {
		if _, err := tx.Exec(`DELETE FROM reactions WHERE subject_kind = ? AND subject_id = ? AND synced = 1`,
			subjectKind, subjectID); err != nil {
			return fmt.Errorf("clear synced reactions: %w", err)
		}
	} else {
		ids := make([]string, 0, len(remote))
		args := []any{subjectKind, subjectID}
		for _, r := range remote {
			ids = append(ids, "?")
			args = append(args, r.ID)
		}
		q := fmt.Sprintf(`DELETE FROM reactions WHERE subject_kind = ? AND subject_id = ? AND synced = 1 AND id NOT IN (%s)`,
			strings.Join(ids, ","))
		if _, err := tx.Exec(q, args...); err != nil {
			return fmt.Errorf("delete vanished reactions: %w", err)
		}
		for _, r := range remote {
			if _, err := tx.Exec(`
				INSERT INTO reactions (id, subject_kind, subject_id, user_id, emoji, synced, is_deleted, created_at)
				VALUES (?, ?, ?, ?, ?, 1, ?, ?)
				ON CONFLICT(subject_kind, subject_id, user_id) DO UPDATE SET
					id = excluded.id,
					emoji = excluded.emoji,
					synced = 1,
					is_deleted = excluded.is_deleted,
					created_at = excluded.created_at
				WHERE reactions.synced = 1`,
				r.ID, r.SubjectKind, r.SubjectID, r.UserID, r.Emoji, r.IsDeleted, r.CreatedAt); err != nil {
				return fmt.Errorf("upsert reaction %d: %w", r.ID, err)
			}
		}
	}

	if err := recountReactionsTx(tx, subjectKind, subjectID); err != nil {
		return err
	}
	return tx.Commit()
}

// recountReactionsTx refreshes the denormalized count on the subject row.
func recountReactionsTx(tx *sql.Tx, subjectKind string, subjectID int64) error {
	if subjectKind != "post" {
		return nil
	}
	_, err := tx.Exec(`
		UPDATE posts SET total_reactions = (SELECT COUNT(*) FROM reactions WHERE subject_kind = 'post' AND subject_id = ? AND is_deleted = 0)
		WHERE id = ?`, subjectID, subjectID)
	if err != nil {
		return fmt.Errorf("recount reactions: %w", err)
	}
	return nil
}

func scanReactions(rows *sql.Rows) ([]Reaction, error) {
	var reactions []Reaction
	for rows.Next() {
		var r Reaction
		if err := rows.Scan(&r.ID, &r.SubjectKind, &r.SubjectID, &r.UserID, &r.Emoji, &r.Synced, &r.IsDeleted, &r.CreatedAt); err != nil {
			return nil, err
		}
		reactions = append(reactions, r)
	}
	return reactions, rows.Err()
}
