package store

import (
	"database/sql"
	"fmt"
	"time"
)

// InsertLocalPost writes an optimistic post row created while possibly
// offline. The id is a temporary negative id and synced is left dirty.
func (db *DB) InsertLocalPost(p *Post) error {
	now := time.Now().UnixMilli()
	if p.CreatedAt == 0 {
		p.CreatedAt = now
	}
	p.UpdatedAt = now
	p.Synced = SyncDirty
	_, err := db.Exec(`
		INSERT INTO posts (id, author_id, body, topic, visibility, moderation_status, synced, is_deleted, created_at, updated_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, 0, ?, ?)`,
		p.ID, p.AuthorID, p.Body, p.Topic, p.Visibility, p.ModerationStatus, p.Synced, p.CreatedAt, p.UpdatedAt)
	return err
}

// UpsertPost applies a server-authoritative post row. Remote wins for
// every field; the row is marked clean.
func (db *DB) UpsertPost(p *Post) error {
	_, err := db.Exec(`
		INSERT INTO posts (id, author_id, body, topic, visibility, moderation_status, total_reactions, total_comments, synced, is_deleted, created_at, updated_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, 1, 0, ?, ?)
		ON CONFLICT(id) DO UPDATE SET
			author_id = excluded.author_id,
			body = excluded.body,
			topic = excluded.topic,
			visibility = excluded.visibility,
			moderation_status = excluded.moderation_status,
			total_reactions = excluded.total_reactions,
			total_comments = excluded.total_comments,
			synced = 1,
			is_deleted = 0,
			created_at = excluded.created_at,
			updated_at = excluded.updated_at`,
		p.ID, p.AuthorID, p.Body, p.Topic, p.Visibility, p.ModerationStatus,
		p.TotalReactions, p.TotalComments, p.CreatedAt, p.UpdatedAt)
	return err
}

// GetPost returns a single post by id, nil if absent.
func (db *DB) GetPost(id int64) (*Post, error) {
	var p Post
	err := db.QueryRow(`
		SELECT id, author_id, body, topic, visibility, moderation_status, total_reactions, total_comments, synced, is_deleted, created_at, updated_at
		FROM posts WHERE id = ?`, id).
		Scan(&p.ID, &p.AuthorID, &p.Body, &p.Topic, &p.Visibility, &p.ModerationStatus,
			&p.TotalReactions, &p.TotalComments, &p.Synced, &p.IsDeleted, &p.CreatedAt, &p.UpdatedAt)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	return &p, nil
}

// ListPosts returns non-deleted posts newest-first.
func (db *DB) ListPosts(limit, offset int) ([]Post, error) {
	if limit <= 0 {
		limit = 50
	}
	rows, err := db.Query(`
		SELECT id, author_id, body, topic, visibility, moderation_status, total_reactions, total_comments, synced, is_deleted, created_at, updated_at
		FROM posts
		WHERE is_deleted = 0
		ORDER BY created_at DESC
		LIMIT ? OFFSET ?`, limit, offset)
	if err != nil {
		return nil, err
	}
	defer func() { _ = rows.Close() }()

	var posts []Post
	for rows.Next() {
		var p Post
		if err := rows.Scan(&p.ID, &p.AuthorID, &p.Body, &p.Topic, &p.Visibility, &p.ModerationStatus,
			&p.TotalReactions, &p.TotalComments, &p.Synced, &p.IsDeleted, &p.CreatedAt, &p.UpdatedAt); err != nil {
			return nil, err
		}
		posts = append(posts, p)
	}
	return posts, rows.Err()
}

// EditPostBody applies a local edit, flagging the row dirty for the next
// outbound pass.
func (db *DB) EditPostBody(id int64, body string) error {
	now := time.Now().UnixMilli()
	res, err := db.Exec(`UPDATE posts SET body = ?, synced = 0, updated_at = ? WHERE id = ? AND is_deleted = 0`, body, now, id)
	if err != nil {
		return err
	}
	n, _ := res.RowsAffected()
	if n == 0 {
		return fmt.Errorf("post %d not found", id)
	}
	return nil
}

// MarkPostDeleted soft-deletes a post pending a remote delete.
func (db *DB) MarkPostDeleted(id int64) error {
	now := time.Now().UnixMilli()
	_, err := db.Exec(`UPDATE posts SET is_deleted = 1, synced = 0, updated_at = ? WHERE id = ?`, now, id)
	return err
}

// PendingPosts returns posts with unpushed local mutations, oldest first.
func (db *DB) PendingPosts() ([]Post, error) {
	rows, err := db.Query(`
		SELECT id, author_id, body, topic, visibility, moderation_status, total_reactions, total_comments, synced, is_deleted, created_at, updated_at
		FROM posts
		WHERE synced = 0 OR is_deleted = 1
		ORDER BY created_at ASC`)
	if err != nil {
		return nil, err
	}
	defer func() { _ = rows.Close() }()

	var posts []Post
	for rows.Next() {
		var p Post
		if err := rows.Scan(&p.ID, &p.AuthorID, &p.Body, &p.Topic, &p.Visibility, &p.ModerationStatus,
			&p.TotalReactions, &p.TotalComments, &p.Synced, &p.IsDeleted, &p.CreatedAt, &p.UpdatedAt); err != nil {
			return nil, err
		}
		posts = append(posts, p)
	}
	return posts, rows.Err()
}

// DeletePostRow removes a post row outright (after a confirmed remote
// delete, or as the first half of a remap).
func (db *DB) DeletePostRow(id int64) error {
	_, err := db.Exec(`DELETE FROM posts WHERE id = ?`, id)
	return err
}

// ReconcileFeed folds a page of remote feed posts into the replica.
// The page is a window into the server's feed, not the full post set,
// so posts absent from it are NOT treated as deleted. Dirty rows keep
// their local edits.
func (db *DB) ReconcileFeed(remote []Post) error {
	tx, err := db.Begin()
	if err != nil {
		return fmt.Errorf("begin tx: %w", err)
	}
	defer func() { _ = tx.Rollback() }()

	for _, p := range remote {
		if _, err := tx.Exec(`
			INSERT INTO posts (id, author_id, body, topic, visibility, moderation_status, total_reactions, total_comments, synced, is_deleted, created_at, updated_at)
			VALUES (?, ?, ?, ?, ?, ?, ?, ?, 1, 0, ?, ?)
			ON CONFLICT(id) DO UPDATE SET
				author_id = excluded.author_id,
				body = excluded.body,
				topic = excluded.topic,
				visibility = excluded.visibility,
				moderation_status = excluded.moderation_status,
				total_reactions = excluded.total_reactions,
				total_comments = excluded.total_comments,
				synced = 1,
				is_deleted = 0,
				created_at = excluded.created_at,
				updated_at = excluded.updated_at
			WHERE posts.synced = 1`,
			p.ID, p.AuthorID, p.Body, p.Topic, p.Visibility, p.ModerationStatus,
			p.TotalReactions, p.TotalComments, p.CreatedAt, p.UpdatedAt); err != nil {
			return fmt.Errorf("upsert post %d: %w", p.ID, err)
		}
	}

	return tx.Commit()
}

// MarkPostDead moves a permanently-failing post to the dead-letter state.
func (db *DB) MarkPostDead(id int64) error {
	_, err := db.Exec(`UPDATE posts SET synced = 2 WHERE id = ?`, id)
	return err
}

// RemapPost replaces a temp-id post row with its server-assigned row in
// one transaction, and repoints still-dirty dependent rows (comments,
// reactions) that reference the old id. Synced dependents are left
// alone: the server returns canonical data for those on their own sync.
func (db *DB) RemapPost(oldID int64, p *Post) error {
	tx, err := db.Begin()
	if err != nil {
		return fmt.Errorf("begin tx: %w", err)
	}
	defer func() { _ = tx.Rollback() }()

	if _, err := tx.Exec(`DELETE FROM posts WHERE id = ?`, oldID); err != nil {
		return fmt.Errorf("delete temp post: %w", err)
	}
	if _, err := tx.Exec(`
		INSERT INTO posts (id, author_id, body, topic, visibility, moderation_status, total_reactions, total_comments, synced, is_deleted, created_at, updated_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, 1, 0, ?, ?)`,
		p.ID, p.AuthorID, p.Body, p.Topic, p.Visibility, p.ModerationStatus,
		p.TotalReactions, p.TotalComments, p.CreatedAt, p.UpdatedAt); err != nil {
		return fmt.Errorf("insert canonical post: %w", err)
	}
	if _, err := tx.Exec(`UPDATE comments SET post_id = ? WHERE post_id = ? AND synced = 0`, p.ID, oldID); err != nil {
		return fmt.Errorf("repoint comments: %w", err)
	}
	if _, err := tx.Exec(`UPDATE reactions SET subject_id = ? WHERE subject_kind = 'post' AND subject_id = ? AND synced = 0`, p.ID, oldID); err != nil {
		return fmt.Errorf("repoint reactions: %w", err)
	}

	return tx.Commit()
}
