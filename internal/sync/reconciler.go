package sync

import (
	"context"
	"encoding/json"
	"fmt"
	"strconv"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/stampcircle/stampd/internal/bus"
	"github.com/stampcircle/stampd/internal/remote"
	"github.com/stampcircle/stampd/internal/status"
	"github.com/stampcircle/stampd/internal/store"
)

// Scope names one remote collection worth pulling: a feed page, a
// post's comments, a post's reactions, a conversation's messages, or a
// user's notification feed. The UI opens scopes for what it is showing
// and closes them when the view goes away.
type Scope struct {
	Kind   Kind
	Filter string
	Value  int64
}

func Feed(userID int64) Scope {
	return Scope{Kind: KindPost, Filter: "feed_for", Value: userID}
}

func PostComments(postID int64) Scope {
	return Scope{Kind: KindComment, Filter: "post_id", Value: postID}
}

func PostReactions(postID int64) Scope {
	return Scope{Kind: KindReaction, Filter: "subject_id", Value: postID}
}

func ConversationMessages(conversationID int64) Scope {
	return Scope{Kind: KindMessage, Filter: "conversation_id", Value: conversationID}
}

func UserNotifications(userID int64) Scope {
	return Scope{Kind: KindNotification, Filter: "recipient_id", Value: userID}
}

func (s Scope) key() string {
	return string(s.Kind) + ":" + s.Filter + ":" + strconv.FormatInt(s.Value, 10)
}

// Reconciler periodically pulls every open scope and folds the remote
// truth into the replica. Clean rows follow the server; dirty rows are
// the push engine's business and are left alone.
type Reconciler struct {
	db      *store.DB
	remote  remote.Caller
	bus     *bus.Bus
	machine *status.Machine
	logger  *zap.Logger

	mu     sync.Mutex
	open   map[string]Scope
	cancel context.CancelFunc

	interval time.Duration
}

func NewReconciler(db *store.DB, caller remote.Caller, b *bus.Bus, machine *status.Machine, interval time.Duration, logger *zap.Logger) *Reconciler {
	return &Reconciler{
		db:       db,
		remote:   caller,
		bus:      b,
		machine:  machine,
		logger:   logger,
		open:     make(map[string]Scope),
		interval: interval,
	}
}

// Open registers a scope and reconciles it immediately so a freshly
// opened view does not wait for the next tick.
func (r *Reconciler) Open(ctx context.Context, s Scope) {
	r.mu.Lock()
	r.open[s.key()] = s
	r.mu.Unlock()

	go func() {
		if err := r.Reconcile(ctx, s); err != nil {
			r.logger.Error("initial reconcile failed", zap.String("scope", s.key()), zap.Error(err))
		}
	}()
}

func (r *Reconciler) Close(s Scope) {
	r.mu.Lock()
	delete(r.open, s.key())
	r.mu.Unlock()
}

// OpenScopes returns the currently registered scopes.
func (r *Reconciler) OpenScopes() []Scope {
	r.mu.Lock()
	defer r.mu.Unlock()
	scopes := make([]Scope, 0, len(r.open))
	for _, s := range r.open {
		scopes = append(scopes, s)
	}
	return scopes
}

// Start runs the interval pull loop over open scopes. A reconnect
// triggers an immediate pull of everything, since realtime events were
// missed while the socket was down.
func (r *Reconciler) Start(ctx context.Context) {
	ctx, r.cancel = context.WithCancel(ctx)
	ch, unsub := r.bus.Subscribe("realtime.connected", 16)

	go func() {
		defer unsub()
		ticker := time.NewTicker(r.interval)
		defer ticker.Stop()
		for {
			select {
			case <-ticker.C:
				r.reconcileAll(ctx)
			case <-ch:
				r.reconcileAll(ctx)
			case <-ctx.Done():
				return
			}
		}
	}()
}

func (r *Reconciler) Stop() {
	if r.cancel != nil {
		r.cancel()
	}
}

func (r *Reconciler) reconcileAll(ctx context.Context) {
	if !r.machine.Connected() {
		return
	}
	for _, s := range r.OpenScopes() {
		if err := r.Reconcile(ctx, s); err != nil {
			r.logger.Error("reconcile failed", zap.String("scope", s.key()), zap.Error(err))
		}
	}
}

// Reconcile pulls one scope and replaces the replica's clean rows with
// the server's truth. The whole remote collection is fetched; scopes
// are view-sized, not account-sized.
func (r *Reconciler) Reconcile(ctx context.Context, s Scope) error {
	spec, ok := kindSpecs[s.Kind]
	if !ok {
		return fmt.Errorf("unknown scope kind %q", s.Kind)
	}

	filter := map[string]string{s.Filter: strconv.FormatInt(s.Value, 10)}
	if s.Kind == KindReaction {
		filter["subject_kind"] = "post"
	}
	records, err := r.remote.List(ctx, spec.Endpoint, filter)
	if err != nil {
		return fmt.Errorf("list %s: %w", s.key(), err)
	}

	if err := r.apply(s, records); err != nil {
		return err
	}

	stamp := strconv.FormatInt(time.Now().UnixMilli(), 10)
	if err := r.db.SetCheckpoint("reconcile:"+s.key(), stamp); err != nil {
		r.logger.Warn("failed to store checkpoint", zap.String("scope", s.key()), zap.Error(err))
	}
	r.bus.Publish("sync.reconciled", map[string]any{"scope": s.key(), "count": len(records)})
	return nil
}

func (r *Reconciler) apply(s Scope, records []json.RawMessage) error {
	switch s.Kind {
	case KindPost:
		posts := make([]store.Post, 0, len(records))
		for _, raw := range records {
			p, err := decodePost(raw)
			if err != nil {
				return err
			}
			posts = append(posts, *p)
		}
		return r.db.ReconcileFeed(posts)

	case KindComment:
		comments := make([]store.Comment, 0, len(records))
		for _, raw := range records {
			c, err := decodeComment(raw)
			if err != nil {
				return err
			}
			comments = append(comments, *c)
		}
		return r.db.ReconcileComments(s.Value, comments)

	case KindReaction:
		reactions := make([]store.Reaction, 0, len(records))
		for _, raw := range records {
			rec, err := decodeReaction(raw)
			if err != nil {
				return err
			}
			reactions = append(reactions, *rec)
		}
		return r.db.ReconcileReactions("post", s.Value, reactions)

	case KindMessage:
		messages := make([]store.Message, 0, len(records))
		for _, raw := range records {
			m, err := decodeMessage(raw)
			if err != nil {
				return err
			}
			messages = append(messages, *m)
		}
		return r.db.ReconcileMessages(s.Value, messages)

	case KindNotification:
		notifications := make([]store.Notification, 0, len(records))
		for _, raw := range records {
			n, err := decodeNotification(raw)
			if err != nil {
				return err
			}
			notifications = append(notifications, *n)
		}
		return r.db.ReconcileNotifications(s.Value, notifications)

	default:
		return fmt.Errorf("scope kind %q has no reconcile path", s.Kind)
	}
}
