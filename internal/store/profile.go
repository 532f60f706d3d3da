package store

import (
	"database/sql"
	"time"
)

// UpsertProfile applies a server-authoritative profile row.
func (db *DB) UpsertProfile(p *Profile) error {
	now := time.Now().UnixMilli()
	_, err := db.Exec(`
		INSERT INTO profiles (id, username, display_name, avatar_url, bio, synced, updated_at)
		VALUES (?, ?, ?, ?, ?, 1, ?)
		ON CONFLICT(id) DO UPDATE SET
			username = excluded.username,
			display_name = excluded.display_name,
			avatar_url = excluded.avatar_url,
			bio = excluded.bio,
			synced = 1,
			updated_at = excluded.updated_at`,
		p.ID, p.Username, p.DisplayName, p.AvatarURL, p.Bio, now)
	return err
}

// GetProfile returns a cached profile by id, nil if absent.
func (db *DB) GetProfile(id int64) (*Profile, error) {
	var p Profile
	err := db.QueryRow(`
		SELECT id, username, display_name, avatar_url, bio, synced, updated_at
		FROM profiles WHERE id = ?`, id).
		Scan(&p.ID, &p.Username, &p.DisplayName, &p.AvatarURL, &p.Bio, &p.Synced, &p.UpdatedAt)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	return &p, nil
}
