package store

// DeadLetter is a local mutation the backend permanently rejected. The
// row is parked out of the pending scan so the user can inspect,
// retry or discard it.
type DeadLetter struct {
	Kind      string
	ID        int64
	Body      string
	CreatedAt int64
}

// ListDeadLetters returns all permanently rejected rows across tables.
func (db *DB) ListDeadLetters() ([]DeadLetter, error) {
	rows, err := db.Query(`
		SELECT 'post', id, body, created_at FROM posts WHERE synced = 2
		UNION ALL
		SELECT 'comment', id, body, created_at FROM comments WHERE synced = 2
		UNION ALL
		SELECT 'reaction', id, emoji, created_at FROM reactions WHERE synced = 2
		UNION ALL
		SELECT 'direct_message', id, body, created_at FROM messages WHERE synced = 2
		ORDER BY created_at ASC`)
	if err != nil {
		return nil, err
	}
	defer func() { _ = rows.Close() }()

	var letters []DeadLetter
	for rows.Next() {
		var d DeadLetter
		if err := rows.Scan(&d.Kind, &d.ID, &d.Body, &d.CreatedAt); err != nil {
			return nil, err
		}
		letters = append(letters, d)
	}
	return letters, rows.Err()
}

// RetryDeadLetter moves one parked row back into the pending scan.
func (db *DB) RetryDeadLetter(kind string, id int64) error {
	table, ok := deadLetterTables[kind]
	if !ok {
		return ErrUnknownKind
	}
	_, err := db.Exec(`UPDATE `+table+` SET synced = 0 WHERE id = ? AND synced = 2`, id)
	return err
}

// DiscardDeadLetter drops one parked row for good.
func (db *DB) DiscardDeadLetter(kind string, id int64) error {
	table, ok := deadLetterTables[kind]
	if !ok {
		return ErrUnknownKind
	}
	_, err := db.Exec(`DELETE FROM `+table+` WHERE id = ? AND synced = 2`, id)
	return err
}

var deadLetterTables = map[string]string{
	"post":           "posts",
	"comment":        "comments",
	"reaction":       "reactions",
	"direct_message": "messages",
}
