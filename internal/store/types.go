package store

import "errors"

// ErrUnknownKind is returned for record kinds with no backing table.
var ErrUnknownKind = errors.New("unknown record kind")

// Sync-state values carried by every replicated row.
//
// SyncDirty rows hold local mutations not yet pushed; SyncClean rows are
// confirmed to match the remote store; SyncDead rows failed permanently
// (authorization, validation) and are excluded from retry until the user
// intervenes.
const (
	SyncDirty = 0
	SyncClean = 1
	SyncDead  = 2
)

// is_read values for notifications. ReadPending mirrors the SyncDirty
// pattern: read locally, push not yet confirmed.
const (
	ReadNo      = 0
	ReadSynced  = 1
	ReadPending = 2
)

// Notification type vocabulary.
const (
	NotifyMention            = "mention"
	NotifyNewComment         = "new_comment"
	NotifyReply              = "reply"
	NotifyReaction           = "reaction"
	NotifyShare              = "share"
	NotifyConnectionRequest  = "connection_request"
	NotifyConnectionAccepted = "connection_accepted"
	NotifyNewDirectMessage   = "new_direct_message"
	NotifyNewGroupMessage    = "new_group_message"
)

// Profile mirrors a user profile row.
type Profile struct {
	ID          int64
	Username    string
	DisplayName string
	AvatarURL   string
	Bio         string
	Synced      int
	UpdatedAt   int64
}

// Post mirrors a feed post. IsDeleted marks a soft delete pending sync.
type Post struct {
	ID               int64
	AuthorID         int64
	Body             string
	Topic            string
	Visibility       string
	ModerationStatus string
	TotalReactions   int
	TotalComments    int
	Synced           int
	IsDeleted        bool
	CreatedAt        int64
	UpdatedAt        int64
}

// Comment is a threaded comment under a post. Path is the slash-joined
// id sequence from root to self; Depth is len(path)-1.
type Comment struct {
	ID               int64
	PostID           int64
	ParentCommentID  *int64
	AuthorID         int64
	Body             string
	Depth            int
	Path             string
	ModerationStatus string
	Synced           int
	IsDeleted        bool
	CreatedAt        int64
	UpdatedAt        int64
}

// Reaction is keyed by (subject kind, subject id, user id); at most one
// live (non-deleted) reaction may exist per key.
type Reaction struct {
	ID          int64
	SubjectKind string
	SubjectID   int64
	UserID      int64
	Emoji       string
	Synced      int
	IsDeleted   bool
	CreatedAt   int64
}

// Conversation is a direct or group message thread.
type Conversation struct {
	ID                 int64
	Title              string
	IsGroup            bool
	CreatedBy          int64
	UnreadCount        int
	LastMessageAt      int64
	LastMessagePreview string
	Synced             int
	CreatedAt          int64
	UpdatedAt          int64
}

// Participant is a conversation membership row.
type Participant struct {
	ID             int64
	ConversationID int64
	UserID         int64
	Role           string
	JoinedAt       int64
	Synced         int
}

// Message is one conversation message. Attachments is a JSON array of
// attachment descriptors (transient local upload results until synced).
type Message struct {
	ID               int64
	ConversationID   int64
	SenderID         int64
	Body             string
	ReplyToMessageID *int64
	Depth            int
	Path             string
	Attachments      string
	Synced           int
	IsDeleted        bool
	CreatedAt        int64
}

// Notification is a server-originated notification row. Creation never
// happens locally; only the read flag syncs outward.
type Notification struct {
	ID          int64
	RecipientID int64
	ActorID     int64
	Type        string
	SubjectKind string
	SubjectID   int64
	Body        string
	IsRead      int
	CreatedAt   int64
}
