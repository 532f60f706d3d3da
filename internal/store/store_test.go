package store

import (
	"path/filepath"
	"strings"
	"testing"
	"unicode/utf8"
)

func testDB(t *testing.T) *DB {
	t.Helper()
	path := filepath.Join(t.TempDir(), "test.db")
	db, err := Open(path)
	if err != nil {
		t.Fatal(err)
	}
	if _, err := db.Migrate(); err != nil {
		t.Fatal(err)
	}
	t.Cleanup(func() { _ = db.Close() })
	return db
}

func TestMigrateAppliesOnFreshDB(t *testing.T) {
	db := testDB(t)

	// testDB already ran Migrate; run it again to check idempotency.
	result, err := db.Migrate()
	if err != nil {
		t.Fatal(err)
	}
	if result.Changed {
		t.Error("second Migrate() should report Changed=false")
	}
	if result.Version != 2 {
		t.Errorf("version = %d, want 2 (init + indexes)", result.Version)
	}
}

func TestMigrateSchemaHasRequiredColumns(t *testing.T) {
	db := testDB(t)

	requiredOps := []struct {
		desc  string
		query string
		args  []any
	}{
		{"insert post", "INSERT INTO posts (id, author_id, body, synced, is_deleted) VALUES (?, ?, ?, ?, ?)", []any{1, 7, "hi", 0, 0}},
		{"insert comment", "INSERT INTO comments (id, post_id, author_id, body, depth, path, synced) VALUES (?, ?, ?, ?, ?, ?, ?)", []any{2, 1, 7, "reply", 0, "2", 0}},
		{"insert reaction", "INSERT INTO reactions (id, subject_kind, subject_id, user_id, emoji) VALUES (?, ?, ?, ?, ?)", []any{3, "post", 1, 7, "like"}},
		{"insert conversation", "INSERT INTO conversations (id, title, is_group) VALUES (?, ?, ?)", []any{4, "Swap meet", true}},
		{"insert participant", "INSERT INTO participants (id, conversation_id, user_id, role) VALUES (?, ?, ?, ?)", []any{5, 4, 7, "member"}},
		{"insert message", "INSERT INTO messages (id, conversation_id, sender_id, body, depth, path) VALUES (?, ?, ?, ?, ?, ?)", []any{6, 4, 7, "hello", 0, "6"}},
		{"insert notification", "INSERT INTO notifications (id, recipient_id, notification_type, is_read) VALUES (?, ?, ?, ?)", []any{8, 7, NotifyReply, 0}},
		{"set sync state", "INSERT INTO sync_state (key, value) VALUES (?, ?)", []any{"k", "v"}},
	}

	for _, op := range requiredOps {
		t.Run(op.desc, func(t *testing.T) {
			if _, err := db.Exec(op.query, op.args...); err != nil {
				t.Fatalf("%s failed: %v", op.desc, err)
			}
		})
	}
}

func TestPostOptimisticLifecycle(t *testing.T) {
	db := testDB(t)

	p := &Post{ID: -100, AuthorID: 7, Body: "Penny Black arrived today", Topic: "classic-gb"}
	if err := db.InsertLocalPost(p); err != nil {
		t.Fatal(err)
	}

	pending, err := db.PendingPosts()
	if err != nil {
		t.Fatal(err)
	}
	if len(pending) != 1 || pending[0].ID != -100 || pending[0].Synced != SyncDirty {
		t.Fatalf("pending = %+v, want one dirty row id=-100", pending)
	}

	// Soft delete keeps the row pending.
	if err := db.MarkPostDeleted(-100); err != nil {
		t.Fatal(err)
	}
	pending, _ = db.PendingPosts()
	if len(pending) != 1 || !pending[0].IsDeleted {
		t.Fatalf("pending after delete = %+v, want one soft-deleted row", pending)
	}
	// Deleted posts drop out of listings.
	posts, _ := db.ListPosts(10, 0)
	if len(posts) != 0 {
		t.Errorf("ListPosts returned %d rows after soft delete, want 0", len(posts))
	}
}

// TestRemapPostAtomicity covers the temp-id replacement contract: after
// remap the old id resolves to nothing, the new id to exactly one clean
// row, and dirty dependents point at the new id.
func TestRemapPostAtomicity(t *testing.T) {
	db := testDB(t)

	if err := db.InsertLocalPost(&Post{ID: -100, AuthorID: 7, Body: "draft"}); err != nil {
		t.Fatal(err)
	}
	// A dirty comment and reaction reference the temp post id.
	if err := db.InsertLocalComment(&Comment{ID: -101, PostID: -100, AuthorID: 7, Body: "note", Depth: 0, Path: "-101"}); err != nil {
		t.Fatal(err)
	}
	if _, err := db.ToggleReaction("post", -100, 7, -102, "like"); err != nil {
		t.Fatal(err)
	}

	canonical := &Post{ID: 42, AuthorID: 7, Body: "draft", ModerationStatus: "approved", CreatedAt: 1000, UpdatedAt: 1000}
	if err := db.RemapPost(-100, canonical); err != nil {
		t.Fatal(err)
	}

	old, err := db.GetPost(-100)
	if err != nil {
		t.Fatal(err)
	}
	if old != nil {
		t.Error("temp-id row still present after remap")
	}
	got, err := db.GetPost(42)
	if err != nil {
		t.Fatal(err)
	}
	if got == nil || got.Synced != SyncClean {
		t.Fatalf("canonical row = %+v, want synced row id=42", got)
	}

	c, _ := db.GetComment(-101)
	if c == nil || c.PostID != 42 {
		t.Errorf("dirty comment post_id = %v, want 42", c)
	}
	r, _ := db.GetReaction("post", 42, 7)
	if r == nil || r.ID != -102 {
		t.Errorf("dirty reaction not repointed: %+v", r)
	}
}

func TestRemapCommentRepointsReplies(t *testing.T) {
	db := testDB(t)

	if err := db.UpsertPost(&Post{ID: 1, AuthorID: 7}); err != nil {
		t.Fatal(err)
	}
	if err := db.InsertLocalComment(&Comment{ID: -5, PostID: 1, AuthorID: 7, Body: "root", Depth: 0, Path: "-5"}); err != nil {
		t.Fatal(err)
	}
	parent := int64(-5)
	if err := db.InsertLocalComment(&Comment{ID: -6, PostID: 1, ParentCommentID: &parent, AuthorID: 7, Body: "child", Depth: 1, Path: "-5/-6"}); err != nil {
		t.Fatal(err)
	}

	canonical := &Comment{ID: 99, PostID: 1, AuthorID: 7, Body: "root", Depth: 0, Path: "99", ModerationStatus: "approved"}
	if err := db.RemapComment(-5, canonical); err != nil {
		t.Fatal(err)
	}

	child, _ := db.GetComment(-6)
	if child == nil || child.ParentCommentID == nil || *child.ParentCommentID != 99 {
		t.Fatalf("child parent = %+v, want 99", child)
	}
	// The child's own path is still the optimistic one; the server
	// recomputes it when the child syncs.
	if child.Path != "-5/-6" {
		t.Errorf("child path = %q, want untouched -5/-6", child.Path)
	}
}

// TestReconcileCommentsPreservesDirtyRows covers deletion propagation:
// a clean comment absent remotely is removed, a dirty comment with the
// same parent survives the same pass.
func TestReconcileCommentsPreservesDirtyRows(t *testing.T) {
	db := testDB(t)

	if err := db.UpsertPost(&Post{ID: 1, AuthorID: 7}); err != nil {
		t.Fatal(err)
	}
	if err := db.UpsertComment(&Comment{ID: 10, PostID: 1, AuthorID: 8, Body: "gone soon", Depth: 0, Path: "10"}); err != nil {
		t.Fatal(err)
	}
	if err := db.UpsertComment(&Comment{ID: 11, PostID: 1, AuthorID: 8, Body: "stays", Depth: 0, Path: "11"}); err != nil {
		t.Fatal(err)
	}
	if err := db.InsertLocalComment(&Comment{ID: -12, PostID: 1, AuthorID: 7, Body: "mine, in flight", Depth: 0, Path: "-12"}); err != nil {
		t.Fatal(err)
	}

	// Remote now only knows comment 11.
	remote := []Comment{{ID: 11, PostID: 1, AuthorID: 8, Body: "stays (edited)", Depth: 0, Path: "11"}}
	if err := db.ReconcileComments(1, remote); err != nil {
		t.Fatal(err)
	}

	if c, _ := db.GetComment(10); c != nil {
		t.Error("clean comment 10 should have been deleted")
	}
	c11, _ := db.GetComment(11)
	if c11 == nil || c11.Body != "stays (edited)" {
		t.Errorf("comment 11 = %+v, want remote-wins edit", c11)
	}
	if c, _ := db.GetComment(-12); c == nil {
		t.Error("dirty comment -12 must survive reconciliation")
	}
}

func TestReconcileDoesNotResurrectPendingDelete(t *testing.T) {
	db := testDB(t)
	if err := db.UpsertPost(&Post{ID: 42, AuthorID: 7, Body: "doomed"}); err != nil {
		t.Fatal(err)
	}
	if err := db.MarkPostDeleted(42); err != nil {
		t.Fatal(err)
	}

	// The server hasn't heard about the delete yet and still lists the post.
	if err := db.ReconcileFeed([]Post{{ID: 42, AuthorID: 7, Body: "doomed"}}); err != nil {
		t.Fatal(err)
	}

	p, _ := db.GetPost(42)
	if p == nil || !p.IsDeleted || p.Synced != SyncDirty {
		t.Fatalf("post = %+v, want delete still pending after feed pull", p)
	}
	pending, err := db.PendingPosts()
	if err != nil {
		t.Fatal(err)
	}
	if len(pending) != 1 || pending[0].ID != 42 {
		t.Errorf("pending = %+v, want the deleted post still queued", pending)
	}
}

func TestReconcileCommentDeleteSurvivesScopePull(t *testing.T) {
	db := testDB(t)
	if err := db.UpsertPost(&Post{ID: 1, AuthorID: 7}); err != nil {
		t.Fatal(err)
	}
	if err := db.UpsertComment(&Comment{ID: 30, PostID: 1, AuthorID: 7, Body: "x", Path: "30"}); err != nil {
		t.Fatal(err)
	}
	if err := db.MarkCommentDeleted(30); err != nil {
		t.Fatal(err)
	}

	remote := []Comment{{ID: 30, PostID: 1, AuthorID: 7, Body: "x", Path: "30"}}
	if err := db.ReconcileComments(1, remote); err != nil {
		t.Fatal(err)
	}

	c, _ := db.GetComment(30)
	if c == nil || !c.IsDeleted || c.Synced != SyncDirty {
		t.Fatalf("comment = %+v, want delete still pending after reconcile", c)
	}
}

func TestReconcileKeepsLocalEditOfSyncedComment(t *testing.T) {
	db := testDB(t)
	if err := db.UpsertPost(&Post{ID: 1, AuthorID: 7}); err != nil {
		t.Fatal(err)
	}
	if err := db.UpsertComment(&Comment{ID: 20, PostID: 1, AuthorID: 7, Body: "original", Path: "20"}); err != nil {
		t.Fatal(err)
	}
	// Edited locally, push still pending.
	if err := db.EditCommentBody(20, "edited offline"); err != nil {
		t.Fatal(err)
	}

	remote := []Comment{{ID: 20, PostID: 1, AuthorID: 7, Body: "server copy", Path: "20"}}
	if err := db.ReconcileComments(1, remote); err != nil {
		t.Fatal(err)
	}

	c, _ := db.GetComment(20)
	if c == nil || c.Body != "edited offline" || c.Synced != SyncDirty {
		t.Errorf("comment = %+v, want pending local edit preserved", c)
	}
}

func TestReconcileIdempotent(t *testing.T) {
	db := testDB(t)
	if err := db.UpsertPost(&Post{ID: 1, AuthorID: 7}); err != nil {
		t.Fatal(err)
	}
	remote := []Comment{{ID: 11, PostID: 1, AuthorID: 8, Body: "x", Depth: 0, Path: "11"}}
	for i := 0; i < 3; i++ {
		if err := db.ReconcileComments(1, remote); err != nil {
			t.Fatal(err)
		}
	}
	comments, _ := db.ListComments(1)
	if len(comments) != 1 {
		t.Errorf("got %d comments after repeated reconcile, want 1", len(comments))
	}
}

// TestToggleReactionAtMostOneLive exercises the at-most-one-live-reaction
// property through a toggle sequence.
func TestToggleReactionAtMostOneLive(t *testing.T) {
	db := testDB(t)
	if err := db.UpsertPost(&Post{ID: 1, AuthorID: 8}); err != nil {
		t.Fatal(err)
	}

	r1, err := db.ToggleReaction("post", 1, 7, -200, "like")
	if err != nil {
		t.Fatal(err)
	}
	if r1.IsDeleted {
		t.Error("first toggle should create a live reaction")
	}
	// Toggle off, then on again; id never changes, no second row.
	r2, _ := db.ToggleReaction("post", 1, 7, -201, "like")
	if !r2.IsDeleted || r2.ID != r1.ID {
		t.Errorf("second toggle = %+v, want same row dead", r2)
	}
	r3, _ := db.ToggleReaction("post", 1, 7, -202, "like")
	if r3.IsDeleted || r3.ID != r1.ID {
		t.Errorf("third toggle = %+v, want same row live", r3)
	}

	n, _ := db.CountLiveReactions("post", 1)
	if n != 1 {
		t.Errorf("live reactions = %d, want 1", n)
	}
	var rows int
	if err := db.QueryRow(`SELECT COUNT(*) FROM reactions WHERE subject_kind='post' AND subject_id=1 AND user_id=7`).Scan(&rows); err != nil {
		t.Fatal(err)
	}
	if rows != 1 {
		t.Errorf("reaction rows = %d, want 1", rows)
	}
}

// TestReconcileReactionsMergesConcurrentDevices covers two devices
// reacting concurrently: after reconciliation both rows exist, no third
// appears, and the denormalized count matches the live rows.
func TestReconcileReactionsMergesConcurrentDevices(t *testing.T) {
	db := testDB(t)
	if err := db.UpsertPost(&Post{ID: 1, AuthorID: 8}); err != nil {
		t.Fatal(err)
	}
	// This device already synced its reaction.
	if err := db.UpsertReaction(&Reaction{ID: 50, SubjectKind: "post", SubjectID: 1, UserID: 7, Emoji: "like"}); err != nil {
		t.Fatal(err)
	}

	remote := []Reaction{
		{ID: 50, SubjectKind: "post", SubjectID: 1, UserID: 7, Emoji: "like"},
		{ID: 51, SubjectKind: "post", SubjectID: 1, UserID: 9, Emoji: "like"},
	}
	if err := db.ReconcileReactions("post", 1, remote); err != nil {
		t.Fatal(err)
	}

	n, _ := db.CountLiveReactions("post", 1)
	if n != 2 {
		t.Errorf("live reactions = %d, want 2", n)
	}
	p, _ := db.GetPost(1)
	if p.TotalReactions != 2 {
		t.Errorf("total_reactions = %d, want 2 (no double count)", p.TotalReactions)
	}
}

func TestUpsertReactionAbsorbsTempRow(t *testing.T) {
	db := testDB(t)
	if err := db.UpsertPost(&Post{ID: 1, AuthorID: 8}); err != nil {
		t.Fatal(err)
	}
	if _, err := db.ToggleReaction("post", 1, 7, -300, "like"); err != nil {
		t.Fatal(err)
	}
	// The same user's reaction arrives from the server (synced by
	// another path); it must merge into the existing key, not duplicate.
	if err := db.UpsertReaction(&Reaction{ID: 60, SubjectKind: "post", SubjectID: 1, UserID: 7, Emoji: "like"}); err != nil {
		t.Fatal(err)
	}
	r, _ := db.GetReaction("post", 1, 7)
	if r == nil || r.ID != 60 || r.Synced != SyncClean {
		t.Fatalf("reaction = %+v, want absorbed server row id=60", r)
	}
}

func TestNotificationReadLifecycle(t *testing.T) {
	db := testDB(t)

	n := &Notification{ID: 5, RecipientID: 7, ActorID: 9, Type: NotifyReply, SubjectKind: "comment", SubjectID: 3}
	if err := db.UpsertNotification(n); err != nil {
		t.Fatal(err)
	}
	count, _ := db.UnreadNotificationCount(7)
	if count != 1 {
		t.Fatalf("unread = %d, want 1", count)
	}

	if err := db.MarkNotificationRead(5); err != nil {
		t.Fatal(err)
	}
	pending, _ := db.PendingNotificationReads()
	if len(pending) != 1 || pending[0].ID != 5 {
		t.Fatalf("pending reads = %+v, want notification 5", pending)
	}

	// A remote upsert claiming unread must not clobber the pending flag.
	if err := db.UpsertNotification(n); err != nil {
		t.Fatal(err)
	}
	notifs, _ := db.ListNotifications(7, 10)
	if notifs[0].IsRead != ReadPending {
		t.Errorf("is_read = %d, want pending (%d)", notifs[0].IsRead, ReadPending)
	}

	if err := db.ConfirmNotificationRead(5); err != nil {
		t.Fatal(err)
	}
	notifs, _ = db.ListNotifications(7, 10)
	if notifs[0].IsRead != ReadSynced {
		t.Errorf("is_read = %d, want synced (%d)", notifs[0].IsRead, ReadSynced)
	}
}

func TestReconcileNotificationsKeepsPendingReads(t *testing.T) {
	db := testDB(t)
	if err := db.UpsertNotification(&Notification{ID: 5, RecipientID: 7, Type: NotifyReaction}); err != nil {
		t.Fatal(err)
	}
	if err := db.UpsertNotification(&Notification{ID: 6, RecipientID: 7, Type: NotifyShare}); err != nil {
		t.Fatal(err)
	}
	if err := db.MarkNotificationRead(5); err != nil {
		t.Fatal(err)
	}

	// Remote forgot both; only the pending-read row survives.
	if err := db.ReconcileNotifications(7, nil); err != nil {
		t.Fatal(err)
	}
	notifs, _ := db.ListNotifications(7, 10)
	if len(notifs) != 1 || notifs[0].ID != 5 {
		t.Fatalf("notifications = %+v, want only pending-read 5", notifs)
	}
}

func TestMessageKeysetPagination(t *testing.T) {
	db := testDB(t)
	if err := db.UpsertConversation(&Conversation{ID: 1, Title: "dm"}); err != nil {
		t.Fatal(err)
	}
	for i := int64(1); i <= 5; i++ {
		if err := db.UpsertMessage(&Message{ID: i, ConversationID: 1, SenderID: 7, Body: "m", Depth: 0, Path: "1", CreatedAt: i * 1000}); err != nil {
			t.Fatal(err)
		}
	}

	page1, err := db.ListMessages(1, 0, 2)
	if err != nil {
		t.Fatal(err)
	}
	if len(page1) != 2 || page1[0].ID != 5 {
		t.Fatalf("page1 = %+v, want newest two", page1)
	}
	page2, _ := db.ListMessages(1, page1[1].CreatedAt, 2)
	if len(page2) != 2 || page2[0].ID != 3 {
		t.Fatalf("page2 = %+v, want ids 3,2", page2)
	}
}

func TestConversationUnreadCounter(t *testing.T) {
	db := testDB(t)
	if err := db.UpsertConversation(&Conversation{ID: 1, Title: "club"}); err != nil {
		t.Fatal(err)
	}
	if err := db.TouchConversation(1, 1000, "hello", true); err != nil {
		t.Fatal(err)
	}
	if err := db.TouchConversation(1, 2000, "again", true); err != nil {
		t.Fatal(err)
	}
	c, _ := db.GetConversation(1)
	if c.UnreadCount != 2 || c.LastMessagePreview != "again" {
		t.Errorf("conversation = %+v, want unread 2, preview 'again'", c)
	}
	if err := db.ClearUnread(1); err != nil {
		t.Fatal(err)
	}
	c, _ = db.GetConversation(1)
	if c.UnreadCount != 0 {
		t.Errorf("unread = %d after clear, want 0", c.UnreadCount)
	}
}

func TestConversationPreviewClipsOnRuneBoundary(t *testing.T) {
	db := testDB(t)
	if err := db.UpsertConversation(&Conversation{ID: 1, Title: "club"}); err != nil {
		t.Fatal(err)
	}
	// 3-byte runes: 100 bytes lands mid-rune, the clip must back off.
	body := strings.Repeat("日", 50)
	if err := db.TouchConversation(1, 1000, body, true); err != nil {
		t.Fatal(err)
	}
	c, _ := db.GetConversation(1)
	if !utf8.ValidString(c.LastMessagePreview) {
		t.Errorf("preview %q is not valid UTF-8", c.LastMessagePreview)
	}
	if got := len(c.LastMessagePreview); got != 99 {
		t.Errorf("preview length = %d bytes, want 99", got)
	}
}

func TestCheckpoints(t *testing.T) {
	db := testDB(t)
	if v, err := db.GetCheckpoint("missing"); err != nil || v != "" {
		t.Errorf("GetCheckpoint(missing) = %q, %v", v, err)
	}
	if err := db.SetCheckpoint("reconcile:comments:1", "1700000000"); err != nil {
		t.Fatal(err)
	}
	if err := db.SetCheckpoint("reconcile:comments:1", "1700000999"); err != nil {
		t.Fatal(err)
	}
	v, err := db.GetCheckpoint("reconcile:comments:1")
	if err != nil {
		t.Fatal(err)
	}
	if v != "1700000999" {
		t.Errorf("checkpoint = %q, want 1700000999", v)
	}
}
