package sync

import (
	"encoding/json"
	"fmt"

	"github.com/stampcircle/stampd/internal/ident"
	"github.com/stampcircle/stampd/internal/store"
)

// Kind names a syncable record type. The set is closed: adding a kind
// means adding a row to the table below, nothing else.
type Kind string

const (
	KindPost             Kind = "post"
	KindComment          Kind = "comment"
	KindReaction         Kind = "reaction"
	KindMessage          Kind = "direct_message"
	KindNotification     Kind = "notification"
)

// Kinds lists every syncable kind in dependency-safe push order.
func Kinds() []Kind {
	return []Kind{KindPost, KindComment, KindMessage, KindReaction, KindNotification}
}

// item is one dirty row lifted into kind-agnostic shape so the engine
// can run a single push loop over every table.
type item struct {
	ID        int64
	IsDeleted bool
	Content   string // moderated body; empty for kinds that skip moderation
	BlockedBy int64  // temp id of an unsynced dependency, 0 if none
	Payload   any    // request body for create/update
}

// kindSpec binds a Kind to its endpoint and the store operations the
// engine needs. Moderated kinds run the classifier before every push.
type kindSpec struct {
	Endpoint  string
	Moderated bool
	Pending   func(db *store.DB) ([]item, error)
	// ApplyCreate replaces the temp row with the canonical record the
	// server returned, repointing dirty dependents.
	ApplyCreate func(db *store.DB, oldID int64, raw json.RawMessage) error
	// ApplyUpdate merges the server's view of an existing record.
	ApplyUpdate func(db *store.DB, raw json.RawMessage) error
	DeleteLocal func(db *store.DB, id int64) error
	MarkDead    func(db *store.DB, id int64) error
}

var kindSpecs = map[Kind]kindSpec{
	KindPost: {
		Endpoint:  "/posts",
		Moderated: true,
		Pending: func(db *store.DB) ([]item, error) {
			rows, err := db.PendingPosts()
			if err != nil {
				return nil, err
			}
			items := make([]item, 0, len(rows))
			for _, p := range rows {
				items = append(items, item{
					ID:        p.ID,
					IsDeleted: p.IsDeleted,
					Content:   p.Body,
					Payload: map[string]any{
						"author_id":  p.AuthorID,
						"body":       p.Body,
						"topic":      p.Topic,
						"visibility": p.Visibility,
						"created_at": p.CreatedAt,
					},
				})
			}
			return items, nil
		},
		ApplyCreate: func(db *store.DB, oldID int64, raw json.RawMessage) error {
			p, err := decodePost(raw)
			if err != nil {
				return err
			}
			return db.RemapPost(oldID, p)
		},
		ApplyUpdate: func(db *store.DB, raw json.RawMessage) error {
			p, err := decodePost(raw)
			if err != nil {
				return err
			}
			return db.UpsertPost(p)
		},
		DeleteLocal: func(db *store.DB, id int64) error { return db.DeletePostRow(id) },
		MarkDead:    func(db *store.DB, id int64) error { return db.MarkPostDead(id) },
	},

	KindComment: {
		Endpoint:  "/comments",
		Moderated: true,
		Pending: func(db *store.DB) ([]item, error) {
			rows, err := db.PendingComments()
			if err != nil {
				return nil, err
			}
			items := make([]item, 0, len(rows))
			for _, c := range rows {
				it := item{
					ID:        c.ID,
					IsDeleted: c.IsDeleted,
					Content:   c.Body,
					Payload: map[string]any{
						"post_id":    c.PostID,
						"author_id":  c.AuthorID,
						"body":       c.Body,
						"created_at": c.CreatedAt,
					},
				}
				if ident.ID(c.PostID).Temporary() {
					it.BlockedBy = c.PostID
				}
				if c.ParentCommentID != nil {
					it.Payload.(map[string]any)["parent_comment_id"] = *c.ParentCommentID
					if ident.ID(*c.ParentCommentID).Temporary() {
						it.BlockedBy = *c.ParentCommentID
					}
				}
				items = append(items, it)
			}
			return items, nil
		},
		ApplyCreate: func(db *store.DB, oldID int64, raw json.RawMessage) error {
			c, err := decodeComment(raw)
			if err != nil {
				return err
			}
			return db.RemapComment(oldID, c)
		},
		ApplyUpdate: func(db *store.DB, raw json.RawMessage) error {
			c, err := decodeComment(raw)
			if err != nil {
				return err
			}
			return db.UpsertComment(c)
		},
		DeleteLocal: func(db *store.DB, id int64) error { return db.DeleteCommentRow(id) },
		MarkDead:    func(db *store.DB, id int64) error { return db.MarkCommentDead(id) },
	},

	KindReaction: {
		Endpoint: "/reactions",
		Pending: func(db *store.DB) ([]item, error) {
			rows, err := db.PendingReactions()
			if err != nil {
				return nil, err
			}
			items := make([]item, 0, len(rows))
			for _, r := range rows {
				it := item{
					ID:        r.ID,
					IsDeleted: r.IsDeleted,
					Payload: map[string]any{
						"subject_kind": r.SubjectKind,
						"subject_id":   r.SubjectID,
						"user_id":      r.UserID,
						"emoji":        r.Emoji,
					},
				}
				if ident.ID(r.SubjectID).Temporary() {
					it.BlockedBy = r.SubjectID
				}
				items = append(items, it)
			}
			return items, nil
		},
		ApplyCreate: func(db *store.DB, oldID int64, raw json.RawMessage) error {
			r, err := decodeReaction(raw)
			if err != nil {
				return err
			}
			return db.RemapReaction(oldID, r)
		},
		ApplyUpdate: func(db *store.DB, raw json.RawMessage) error {
			r, err := decodeReaction(raw)
			if err != nil {
				return err
			}
			return db.UpsertReaction(r)
		},
		DeleteLocal: func(db *store.DB, id int64) error { return db.DeleteReactionRow(id) },
		MarkDead:    func(db *store.DB, id int64) error { return db.MarkReactionDead(id) },
	},

	KindMessage: {
		Endpoint:  "/messages",
		Moderated: true,
		Pending: func(db *store.DB) ([]item, error) {
			rows, err := db.PendingMessages()
			if err != nil {
				return nil, err
			}
			items := make([]item, 0, len(rows))
			for _, m := range rows {
				it := item{
					ID:        m.ID,
					IsDeleted: m.IsDeleted,
					Content:   m.Body,
					Payload: map[string]any{
						"conversation_id": m.ConversationID,
						"sender_id":       m.SenderID,
						"body":            m.Body,
						"attachments":     json.RawMessage(attachmentsOrNull(m.Attachments)),
						"created_at":      m.CreatedAt,
					},
				}
				if m.ReplyToMessageID != nil {
					it.Payload.(map[string]any)["reply_to_message_id"] = *m.ReplyToMessageID
					if ident.ID(*m.ReplyToMessageID).Temporary() {
						it.BlockedBy = *m.ReplyToMessageID
					}
				}
				items = append(items, it)
			}
			return items, nil
		},
		ApplyCreate: func(db *store.DB, oldID int64, raw json.RawMessage) error {
			m, err := decodeMessage(raw)
			if err != nil {
				return err
			}
			return db.RemapMessage(oldID, m)
		},
		ApplyUpdate: func(db *store.DB, raw json.RawMessage) error {
			m, err := decodeMessage(raw)
			if err != nil {
				return err
			}
			return db.UpsertMessage(m)
		},
		DeleteLocal: func(db *store.DB, id int64) error { return db.DeleteMessageRow(id) },
		MarkDead:    func(db *store.DB, id int64) error { return db.MarkMessageDead(id) },
	},

	// Notifications only sync the read flag outward; rows are never
	// created or deleted from this side.
	KindNotification: {
		Endpoint: "/notifications",
		Pending: func(db *store.DB) ([]item, error) {
			rows, err := db.PendingNotificationReads()
			if err != nil {
				return nil, err
			}
			items := make([]item, 0, len(rows))
			for _, n := range rows {
				items = append(items, item{
					ID:      n.ID,
					Payload: map[string]any{"is_read": true},
				})
			}
			return items, nil
		},
		ApplyUpdate: func(db *store.DB, raw json.RawMessage) error {
			var rec struct {
				ID int64 `json:"id"`
			}
			if err := json.Unmarshal(raw, &rec); err != nil {
				return err
			}
			return db.ConfirmNotificationRead(rec.ID)
		},
		DeleteLocal: func(db *store.DB, id int64) error { return nil },
		MarkDead: func(db *store.DB, id int64) error {
			// A dead read-marker is just confirmed locally; losing a
			// read receipt is not worth surfacing.
			return db.ConfirmNotificationRead(id)
		},
	},
}

func attachmentsOrNull(s string) string {
	if s == "" {
		return "null"
	}
	return s
}

// Remote record shapes. The backend sends snake_case JSON with
// millisecond timestamps.

type postDTO struct {
	ID               int64  `json:"id"`
	AuthorID         int64  `json:"author_id"`
	Body             string `json:"body"`
	Topic            string `json:"topic"`
	Visibility       string `json:"visibility"`
	IsDeleted        bool   `json:"is_deleted"`
	ModerationStatus string `json:"moderation_status"`
	TotalReactions   int    `json:"total_reactions"`
	TotalComments    int    `json:"total_comments"`
	CreatedAt        int64  `json:"created_at"`
	UpdatedAt        int64  `json:"updated_at"`
}

func decodePost(raw json.RawMessage) (*store.Post, error) {
	var d postDTO
	if err := json.Unmarshal(raw, &d); err != nil {
		return nil, fmt.Errorf("decode post: %w", err)
	}
	return &store.Post{
		ID: d.ID, AuthorID: d.AuthorID, Body: d.Body, Topic: d.Topic,
		Visibility: d.Visibility, IsDeleted: d.IsDeleted,
		ModerationStatus: d.ModerationStatus,
		TotalReactions:   d.TotalReactions, TotalComments: d.TotalComments,
		CreatedAt: d.CreatedAt, UpdatedAt: d.UpdatedAt,
	}, nil
}

type commentDTO struct {
	ID               int64  `json:"id"`
	PostID           int64  `json:"post_id"`
	ParentCommentID  *int64 `json:"parent_comment_id"`
	AuthorID         int64  `json:"author_id"`
	Body             string `json:"body"`
	Depth            int    `json:"depth"`
	Path             string `json:"path"`
	IsDeleted        bool   `json:"is_deleted"`
	ModerationStatus string `json:"moderation_status"`
	CreatedAt        int64  `json:"created_at"`
	UpdatedAt        int64  `json:"updated_at"`
}

func decodeComment(raw json.RawMessage) (*store.Comment, error) {
	var d commentDTO
	if err := json.Unmarshal(raw, &d); err != nil {
		return nil, fmt.Errorf("decode comment: %w", err)
	}
	return &store.Comment{
		ID: d.ID, PostID: d.PostID, ParentCommentID: d.ParentCommentID,
		AuthorID: d.AuthorID, Body: d.Body, Depth: d.Depth, Path: d.Path,
		IsDeleted: d.IsDeleted, ModerationStatus: d.ModerationStatus,
		CreatedAt: d.CreatedAt, UpdatedAt: d.UpdatedAt,
	}, nil
}

type reactionDTO struct {
	ID          int64  `json:"id"`
	SubjectKind string `json:"subject_kind"`
	SubjectID   int64  `json:"subject_id"`
	UserID      int64  `json:"user_id"`
	Emoji       string `json:"emoji"`
	IsDeleted   bool   `json:"is_deleted"`
	CreatedAt   int64  `json:"created_at"`
}

func decodeReaction(raw json.RawMessage) (*store.Reaction, error) {
	var d reactionDTO
	if err := json.Unmarshal(raw, &d); err != nil {
		return nil, fmt.Errorf("decode reaction: %w", err)
	}
	return &store.Reaction{
		ID: d.ID, SubjectKind: d.SubjectKind, SubjectID: d.SubjectID,
		UserID: d.UserID, Emoji: d.Emoji, IsDeleted: d.IsDeleted,
		CreatedAt: d.CreatedAt,
	}, nil
}

type messageDTO struct {
	ID               int64           `json:"id"`
	ConversationID   int64           `json:"conversation_id"`
	SenderID         int64           `json:"sender_id"`
	Body             string          `json:"body"`
	ReplyToMessageID *int64          `json:"reply_to_message_id"`
	Depth            int             `json:"depth"`
	Path             string          `json:"path"`
	Attachments      json.RawMessage `json:"attachments"`
	IsDeleted        bool            `json:"is_deleted"`
	CreatedAt        int64           `json:"created_at"`
}

func decodeMessage(raw json.RawMessage) (*store.Message, error) {
	var d messageDTO
	if err := json.Unmarshal(raw, &d); err != nil {
		return nil, fmt.Errorf("decode message: %w", err)
	}
	attachments := ""
	if len(d.Attachments) > 0 && string(d.Attachments) != "null" {
		attachments = string(d.Attachments)
	}
	return &store.Message{
		ID: d.ID, ConversationID: d.ConversationID, SenderID: d.SenderID,
		Body: d.Body, ReplyToMessageID: d.ReplyToMessageID,
		Depth: d.Depth, Path: d.Path, Attachments: attachments,
		IsDeleted: d.IsDeleted, CreatedAt: d.CreatedAt,
	}, nil
}

type notificationDTO struct {
	ID          int64  `json:"id"`
	RecipientID int64  `json:"recipient_id"`
	ActorID     int64  `json:"actor_id"`
	Type        string `json:"notification_type"`
	SubjectKind string `json:"subject_kind"`
	SubjectID   int64  `json:"subject_id"`
	Body        string `json:"body"`
	IsRead      bool   `json:"is_read"`
	CreatedAt   int64  `json:"created_at"`
}

type profileDTO struct {
	ID          int64  `json:"id"`
	Username    string `json:"username"`
	DisplayName string `json:"display_name"`
	AvatarURL   string `json:"avatar_url"`
	Bio         string `json:"bio"`
}

func decodeProfile(raw json.RawMessage) (*store.Profile, error) {
	var d profileDTO
	if err := json.Unmarshal(raw, &d); err != nil {
		return nil, fmt.Errorf("decode profile: %w", err)
	}
	return &store.Profile{
		ID: d.ID, Username: d.Username, DisplayName: d.DisplayName,
		AvatarURL: d.AvatarURL, Bio: d.Bio,
	}, nil
}

func decodeNotification(raw json.RawMessage) (*store.Notification, error) {
	var d notificationDTO
	if err := json.Unmarshal(raw, &d); err != nil {
		return nil, fmt.Errorf("decode notification: %w", err)
	}
	isRead := store.ReadNo
	if d.IsRead {
		isRead = store.ReadSynced
	}
	return &store.Notification{
		ID: d.ID, RecipientID: d.RecipientID, ActorID: d.ActorID,
		Type: d.Type, SubjectKind: d.SubjectKind, SubjectID: d.SubjectID,
		Body: d.Body, IsRead: isRead, CreatedAt: d.CreatedAt,
	}, nil
}
