package store

import (
	"database/sql"
	"fmt"
	"strings"
	"time"
)

// InsertLocalComment writes an optimistic comment row with a temporary
// id. Depth and path come from the thread package and may reference
// temporary ancestor ids; the server's canonical path supersedes them
// at sync time.
func (db *DB) InsertLocalComment(c *Comment) error {
	now := time.Now().UnixMilli()
	if c.CreatedAt == 0 {
		c.CreatedAt = now
	}
	c.UpdatedAt = now
	c.Synced = SyncDirty
	_, err := db.Exec(`
		INSERT INTO comments (id, post_id, parent_comment_id, author_id, body, depth, path, moderation_status, synced, is_deleted, created_at, updated_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, 0, 0, ?, ?)`,
		c.ID, c.PostID, c.ParentCommentID, c.AuthorID, c.Body, c.Depth, c.Path, c.ModerationStatus, c.CreatedAt, c.UpdatedAt)
	return err
}

// UpsertComment applies a server-authoritative comment row (remote wins).
func (db *DB) UpsertComment(c *Comment) error {
	_, err := db.Exec(`
		INSERT INTO comments (id, post_id, parent_comment_id, author_id, body, depth, path, moderation_status, synced, is_deleted, created_at, updated_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, 1, 0, ?, ?)
		ON CONFLICT(id) DO UPDATE SET
			post_id = excluded.post_id,
			parent_comment_id = excluded.parent_comment_id,
			author_id = excluded.author_id,
			body = excluded.body,
			depth = excluded.depth,
			path = excluded.path,
			moderation_status = excluded.moderation_status,
			synced = 1,
			is_deleted = 0,
			created_at = excluded.created_at,
			updated_at = excluded.updated_at`,
		c.ID, c.PostID, c.ParentCommentID, c.AuthorID, c.Body, c.Depth, c.Path, c.ModerationStatus, c.CreatedAt, c.UpdatedAt)
	return err
}

// GetComment returns a single comment by id, nil if absent.
func (db *DB) GetComment(id int64) (*Comment, error) {
	var c Comment
	err := db.QueryRow(`
		SELECT id, post_id, parent_comment_id, author_id, body, depth, path, moderation_status, synced, is_deleted, created_at, updated_at
		FROM comments WHERE id = ?`, id).
		Scan(&c.ID, &c.PostID, &c.ParentCommentID, &c.AuthorID, &c.Body, &c.Depth, &c.Path,
			&c.ModerationStatus, &c.Synced, &c.IsDeleted, &c.CreatedAt, &c.UpdatedAt)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	return &c, nil
}

// ListComments returns a post's comment tree in path order, which places
// every reply directly after its ancestors.
func (db *DB) ListComments(postID int64) ([]Comment, error) {
	rows, err := db.Query(`
		SELECT id, post_id, parent_comment_id, author_id, body, depth, path, moderation_status, synced, is_deleted, created_at, updated_at
		FROM comments
		WHERE post_id = ? AND is_deleted = 0
		ORDER BY path ASC`, postID)
	if err != nil {
		return nil, err
	}
	defer func() { _ = rows.Close() }()
	return scanComments(rows)
}

// EditCommentBody applies a local edit, flagging the row dirty.
func (db *DB) EditCommentBody(id int64, body string) error {
	now := time.Now().UnixMilli()
	res, err := db.Exec(`UPDATE comments SET body = ?, synced = 0, updated_at = ? WHERE id = ? AND is_deleted = 0`, body, now, id)
	if err != nil {
		return err
	}
	n, _ := res.RowsAffected()
	if n == 0 {
		return fmt.Errorf("comment %d not found", id)
	}
	return nil
}

// MarkCommentDeleted soft-deletes a comment pending a remote delete.
func (db *DB) MarkCommentDeleted(id int64) error {
	now := time.Now().UnixMilli()
	_, err := db.Exec(`UPDATE comments SET is_deleted = 1, synced = 0, updated_at = ? WHERE id = ?`, now, id)
	return err
}

// PendingComments returns comments with unpushed mutations, parents
// before children (depth, then age) so a reply is never pushed ahead of
// the comment it answers.
func (db *DB) PendingComments() ([]Comment, error) {
	rows, err := db.Query(`
		SELECT id, post_id, parent_comment_id, author_id, body, depth, path, moderation_status, synced, is_deleted, created_at, updated_at
		FROM comments
		WHERE synced = 0 OR is_deleted = 1
		ORDER BY depth ASC, created_at ASC`)
	if err != nil {
		return nil, err
	}
	defer func() { _ = rows.Close() }()
	return scanComments(rows)
}

// DeleteCommentRow removes a comment row outright.
func (db *DB) DeleteCommentRow(id int64) error {
	_, err := db.Exec(`DELETE FROM comments WHERE id = ?`, id)
	return err
}

// MarkCommentDead moves a permanently-failing comment to the dead-letter state.
func (db *DB) MarkCommentDead(id int64) error {
	_, err := db.Exec(`UPDATE comments SET synced = 2 WHERE id = ?`, id)
	return err
}

// RemapComment replaces a temp-id comment row with the server row in one
// transaction and repoints still-dirty replies and reactions at the new
// id. Stale temp ids inside a dirty reply's own path are not rewritten;
// the server recomputes that reply's path when it syncs.
func (db *DB) RemapComment(oldID int64, c *Comment) error {
	tx, err := db.Begin()
	if err != nil {
		return fmt.Errorf("begin tx: %w", err)
	}
	defer func() { _ = tx.Rollback() }()

	if _, err := tx.Exec(`DELETE FROM comments WHERE id = ?`, oldID); err != nil {
		return fmt.Errorf("delete temp comment: %w", err)
	}
	if _, err := tx.Exec(`
		INSERT INTO comments (id, post_id, parent_comment_id, author_id, body, depth, path, moderation_status, synced, is_deleted, created_at, updated_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, 1, 0, ?, ?)`,
		c.ID, c.PostID, c.ParentCommentID, c.AuthorID, c.Body, c.Depth, c.Path,
		c.ModerationStatus, c.CreatedAt, c.UpdatedAt); err != nil {
		return fmt.Errorf("insert canonical comment: %w", err)
	}
	if _, err := tx.Exec(`UPDATE comments SET parent_comment_id = ? WHERE parent_comment_id = ? AND synced = 0`, c.ID, oldID); err != nil {
		return fmt.Errorf("repoint replies: %w", err)
	}
	if _, err := tx.Exec(`UPDATE reactions SET subject_id = ? WHERE subject_kind = 'comment' AND subject_id = ? AND synced = 0`, c.ID, oldID); err != nil {
		return fmt.Errorf("repoint reactions: %w", err)
	}

	return tx.Commit()
}

// ReconcileComments merges the authoritative remote comment set for one
// post. Clean local rows absent remotely are removed (remote-side
// deletion propagation); dirty rows are never touched, which protects
// in-flight local creations from a reconciliation race.
func (db *DB) ReconcileComments(postID int64, remote []Comment) error {
	tx, err := db.Begin()
	if err != nil {
		return fmt.Errorf("begin tx: %w", err)
	}
	defer func() { _ = tx.Rollback() }()

	if len(remote) == 0 {
		if _, err := tx.Exec(`DELETE FROM comments WHERE post_id = ? AND synced = 1`, postID); err != nil {
			return fmt.Errorf("clear synced comments: %w", err)
		}
		return tx.Commit()
	}

	ids := make([]string, 0, len(remote))
	args := []any{postID}
	for _, c := range remote {
		ids = append(ids, "?")
		args = append(args, c.ID)
	}
	q := fmt.Sprintf(`DELETE FROM comments WHERE post_id = ? AND synced = 1 AND id NOT IN (%s)`, strings.Join(ids, ","))
	if _, err := tx.Exec(q, args...); err != nil {
		return fmt.Errorf("delete vanished comments: %w", err)
	}

	for _, c := range remote {
		if _, err := tx.Exec(`
			INSERT INTO comments (id, post_id, parent_comment_id, author_id, body, depth, path, moderation_status, synced, is_deleted, created_at, updated_at)
			VALUES (?, ?, ?, ?, ?, ?, ?, ?, 1, 0, ?, ?)
			ON CONFLICT(id) DO UPDATE SET
				post_id = excluded.post_id,
				parent_comment_id = excluded.parent_comment_id,
				author_id = excluded.author_id,
				body = excluded.body,
				depth = excluded.depth,
				path = excluded.path,
				moderation_status = excluded.moderation_status,
				synced = 1,
				is_deleted = 0,
				created_at = excluded.created_at,
				updated_at = excluded.updated_at
			WHERE comments.synced = 1`,
			c.ID, c.PostID, c.ParentCommentID, c.AuthorID, c.Body, c.Depth, c.Path,
			c.ModerationStatus, c.CreatedAt, c.UpdatedAt); err != nil {
			return fmt.Errorf("upsert comment %d: %w", c.ID, err)
		}
	}

	if _, err := tx.Exec(`
		UPDATE posts SET total_comments = (SELECT COUNT(*) FROM comments WHERE post_id = ? AND is_deleted = 0)
		WHERE id = ?`, postID, postID); err != nil {
		return fmt.Errorf("recount comments: %w", err)
	}

	return tx.Commit()
}

func scanComments(rows *sql.Rows) ([]Comment, error) {
	var comments []Comment
	for rows.Next() {
		var c Comment
		if err := rows.Scan(&c.ID, &c.PostID, &c.ParentCommentID, &c.AuthorID, &c.Body, &c.Depth, &c.Path,
			&c.ModerationStatus, &c.Synced, &c.IsDeleted, &c.CreatedAt, &c.UpdatedAt); err != nil {
			return nil, err
		}
		comments = append(comments, c)
	}
	return comments, rows.Err()
}
