package sync

import (
	"context"
	"encoding/json"
	"testing"
	"time"

	"go.uber.org/zap"

	"github.com/stampcircle/stampd/internal/bus"
	"github.com/stampcircle/stampd/internal/store"
)

// listCaller serves canned list responses keyed by endpoint.
type listCaller struct {
	fakeCaller
	lists map[string][]json.RawMessage
}

func (f *listCaller) List(ctx context.Context, endpoint string, filter map[string]string) ([]json.RawMessage, error) {
	return f.lists[endpoint], nil
}

func testReconciler(t *testing.T, db *store.DB, caller *listCaller) (*Reconciler, *bus.Bus) {
	t.Helper()
	b := bus.New()
	machine := onlineMachine(t, b)
	return NewReconciler(db, caller, b, machine, time.Minute, zap.NewNop()), b
}

func rawRecords(t *testing.T, records ...any) []json.RawMessage {
	t.Helper()
	out := make([]json.RawMessage, 0, len(records))
	for _, r := range records {
		raw, err := json.Marshal(r)
		if err != nil {
			t.Fatal(err)
		}
		out = append(out, raw)
	}
	return out
}

func TestReconcileCommentsScopePullsRemoteTruth(t *testing.T) {
	db := testDB(t)
	if err := db.UpsertPost(&store.Post{ID: 1, AuthorID: 8}); err != nil {
		t.Fatal(err)
	}
	// Stale clean row the server no longer has, plus a dirty local one.
	if err := db.UpsertComment(&store.Comment{ID: 10, PostID: 1, AuthorID: 8, Body: "stale", Path: "10"}); err != nil {
		t.Fatal(err)
	}
	if err := db.InsertLocalComment(&store.Comment{ID: -9, PostID: 1, AuthorID: 7, Body: "mine", Path: "-9"}); err != nil {
		t.Fatal(err)
	}

	caller := &listCaller{lists: map[string][]json.RawMessage{
		"/comments": rawRecords(t,
			commentDTO{ID: 11, PostID: 1, AuthorID: 8, Body: "fresh", Path: "11"},
		),
	}}
	r, _ := testReconciler(t, db, caller)

	if err := r.Reconcile(context.Background(), PostComments(1)); err != nil {
		t.Fatal(err)
	}

	if c, _ := db.GetComment(10); c != nil {
		t.Error("stale comment survived reconcile")
	}
	if c, _ := db.GetComment(11); c == nil {
		t.Error("fresh remote comment missing")
	}
	if c, _ := db.GetComment(-9); c == nil {
		t.Error("dirty local comment must not be touched")
	}
}

func TestReconcileFeedPageKeepsLocalDrafts(t *testing.T) {
	db := testDB(t)
	// A clean post the page no longer carries and an unsynced local draft.
	if err := db.UpsertPost(&store.Post{ID: 1, AuthorID: 8, Body: "old"}); err != nil {
		t.Fatal(err)
	}
	if err := db.InsertLocalPost(&store.Post{ID: -2, AuthorID: 7, Body: "draft"}); err != nil {
		t.Fatal(err)
	}

	caller := &listCaller{lists: map[string][]json.RawMessage{
		"/posts": rawRecords(t,
			postDTO{ID: 3, AuthorID: 9, Body: "new on server"},
		),
	}}
	r, _ := testReconciler(t, db, caller)

	if err := r.Reconcile(context.Background(), Feed(7)); err != nil {
		t.Fatal(err)
	}

	if p, _ := db.GetPost(3); p == nil || p.Synced != store.SyncClean {
		t.Errorf("remote post = %+v, want clean upsert", p)
	}
	// A feed page is a window, not the whole feed: posts outside it stay.
	if p, _ := db.GetPost(1); p == nil {
		t.Error("post outside the fetched page must survive")
	}
	if p, _ := db.GetPost(-2); p == nil || p.Synced != store.SyncDirty {
		t.Error("local draft must stay dirty through a feed pull")
	}
}

func TestReconcileStoresCheckpoint(t *testing.T) {
	db := testDB(t)
	if err := db.UpsertPost(&store.Post{ID: 1, AuthorID: 8}); err != nil {
		t.Fatal(err)
	}
	caller := &listCaller{lists: map[string][]json.RawMessage{}}
	r, _ := testReconciler(t, db, caller)

	scope := PostComments(1)
	if err := r.Reconcile(context.Background(), scope); err != nil {
		t.Fatal(err)
	}
	v, err := db.GetCheckpoint("reconcile:" + scope.key())
	if err != nil {
		t.Fatal(err)
	}
	if v == "" {
		t.Error("no checkpoint recorded after successful reconcile")
	}
}

func TestOpenScopeReconcilesImmediately(t *testing.T) {
	db := testDB(t)
	if err := db.UpsertPost(&store.Post{ID: 1, AuthorID: 8}); err != nil {
		t.Fatal(err)
	}
	caller := &listCaller{lists: map[string][]json.RawMessage{
		"/comments": rawRecords(t,
			commentDTO{ID: 20, PostID: 1, AuthorID: 8, Body: "hello", Path: "20"},
		),
	}}
	r, b := testReconciler(t, db, caller)

	ch, unsub := b.Subscribe("sync.reconciled", 4)
	defer unsub()

	r.Open(context.Background(), PostComments(1))
	select {
	case <-ch:
	case <-time.After(2 * time.Second):
		t.Fatal("no reconcile after Open")
	}
	if c, _ := db.GetComment(20); c == nil {
		t.Error("opened scope did not pull remote comments")
	}

	r.Close(PostComments(1))
	if len(r.OpenScopes()) != 0 {
		t.Error("scope still registered after Close")
	}
}

func TestReconcileNotificationScope(t *testing.T) {
	db := testDB(t)
	caller := &listCaller{lists: map[string][]json.RawMessage{
		"/notifications": rawRecords(t,
			notificationDTO{ID: 1, RecipientID: 7, ActorID: 9, Type: store.NotifyMention, Body: "you were mentioned"},
			notificationDTO{ID: 2, RecipientID: 7, ActorID: 9, Type: store.NotifyReaction, IsRead: true},
		),
	}}
	r, _ := testReconciler(t, db, caller)

	if err := r.Reconcile(context.Background(), UserNotifications(7)); err != nil {
		t.Fatal(err)
	}
	count, err := db.UnreadNotificationCount(7)
	if err != nil {
		t.Fatal(err)
	}
	if count != 1 {
		t.Errorf("unread = %d, want 1 (server-read row counts as read)", count)
	}
}
