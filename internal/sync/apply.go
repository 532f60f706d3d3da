package sync

import (
	"encoding/json"
	"errors"
	"fmt"

	"github.com/stampcircle/stampd/internal/store"
)

// ErrNeedsReconcile is returned by ApplyChange when an event cannot be
// folded into the replica row by row; the caller should pull the whole
// scope instead.
var ErrNeedsReconcile = errors.New("event requires a full scope reconcile")

// ApplyChange folds one full-row realtime event into the replica. A row
// the user has dirty locally is left alone; the push engine owns it and
// the server's answer to that push carries the merge. DELETE events
// only remove clean rows for the same reason.
func ApplyChange(db *store.DB, table, changeType string, record json.RawMessage) error {
	if len(record) == 0 || string(record) == "null" {
		// Skinny event without the row payload; can't patch from it.
		return ErrNeedsReconcile
	}

	switch table {
	case "posts":
		p, err := decodePost(record)
		if err != nil {
			return err
		}
		if dirty, err := postDirty(db, p.ID); err != nil || dirty {
			return err
		}
		if changeType == "DELETE" || p.IsDeleted {
			return db.DeletePostRow(p.ID)
		}
		return db.UpsertPost(p)

	case "comments":
		c, err := decodeComment(record)
		if err != nil {
			return err
		}
		existing, err := db.GetComment(c.ID)
		if err != nil {
			return err
		}
		if existing != nil && existing.Synced == store.SyncDirty {
			return nil
		}
		if changeType == "DELETE" || c.IsDeleted {
			return db.DeleteCommentRow(c.ID)
		}
		// A comment whose post we don't hold is out of scope.
		if p, err := db.GetPost(c.PostID); err != nil || p == nil {
			return err
		}
		return db.UpsertComment(c)

	case "reactions":
		r, err := decodeReaction(record)
		if err != nil {
			return err
		}
		existing, err := db.GetReaction(r.SubjectKind, r.SubjectID, r.UserID)
		if err != nil {
			return err
		}
		if existing != nil && existing.Synced == store.SyncDirty {
			return nil
		}
		if changeType == "DELETE" || r.IsDeleted {
			if existing == nil {
				return nil
			}
			return db.DeleteReactionRow(existing.ID)
		}
		return db.UpsertReaction(r)

	case "messages":
		m, err := decodeMessage(record)
		if err != nil {
			return err
		}
		existing, err := db.GetMessage(m.ID)
		if err != nil {
			return err
		}
		if existing != nil && existing.Synced == store.SyncDirty {
			return nil
		}
		if changeType == "DELETE" || m.IsDeleted {
			return db.DeleteMessageRow(m.ID)
		}
		if c, err := db.GetConversation(m.ConversationID); err != nil || c == nil {
			return err
		}
		return db.UpsertMessage(m)

	case "profiles":
		p, err := decodeProfile(record)
		if err != nil {
			return err
		}
		return db.UpsertProfile(p)

	case "notifications":
		n, err := decodeNotification(record)
		if err != nil {
			return err
		}
		return db.UpsertNotification(n)

	default:
		return fmt.Errorf("change event for unknown table %q", table)
	}
}

func postDirty(db *store.DB, id int64) (bool, error) {
	p, err := db.GetPost(id)
	if err != nil {
		return false, err
	}
	return p != nil && p.Synced == store.SyncDirty, nil
}
