package realtime

import (
	"context"
	"encoding/json"
	"errors"
	gosync "sync"
	"time"

	"go.uber.org/zap"

	"github.com/stampcircle/stampd/internal/bus"
	"github.com/stampcircle/stampd/internal/status"
	"github.com/stampcircle/stampd/internal/store"
	"github.com/stampcircle/stampd/internal/sync"
)

// Refresher is the slice of the reconciler the router escalates to when
// an event cannot be applied row by row.
type Refresher interface {
	Reconcile(ctx context.Context, s sync.Scope) error
	OpenScopes() []sync.Scope
}

// Router owns the realtime connection lifecycle: dial, read, dispatch,
// reconnect with backoff. Full-row change events are patched straight
// into the replica; anything it cannot patch escalates to a scope
// reconcile.
type Router struct {
	db        *store.DB
	conn      Conn
	bus       *bus.Bus
	machine   *status.Machine
	refresher Refresher
	logger    *zap.Logger

	mu       gosync.Mutex
	userID   int64
	presence map[int64]string
	typing   map[int64]map[int64]bool // conversation -> user -> typing

	cancel context.CancelFunc
}

func NewRouter(db *store.DB, conn Conn, b *bus.Bus, machine *status.Machine, refresher Refresher, userID int64, logger *zap.Logger) *Router {
	return &Router{
		db:        db,
		conn:      conn,
		bus:       b,
		machine:   machine,
		refresher: refresher,
		logger:    logger,
		userID:    userID,
		presence:  make(map[int64]string),
		typing:    make(map[int64]map[int64]bool),
	}
}

// SetIdentity switches the stream to a different user and resubscribes.
func (r *Router) SetIdentity(ctx context.Context, userID int64) error {
	r.mu.Lock()
	r.userID = userID
	r.mu.Unlock()
	return r.conn.Send(ctx, "subscribe", subscribeCmd{UserID: userID})
}

func (r *Router) currentUser() int64 {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.userID
}

// Presence returns a snapshot of known presence states. Presence is
// ephemeral: it is never written to the replica and resets on
// reconnect.
func (r *Router) Presence() map[int64]string {
	r.mu.Lock()
	defer r.mu.Unlock()
	out := make(map[int64]string, len(r.presence))
	for k, v := range r.presence {
		out[k] = v
	}
	return out
}

// TypingIn returns the user ids currently typing in a conversation.
func (r *Router) TypingIn(conversationID int64) []int64 {
	r.mu.Lock()
	defer r.mu.Unlock()
	var users []int64
	for uid, on := range r.typing[conversationID] {
		if on {
			users = append(users, uid)
		}
	}
	return users
}

// Start runs the connection loop until the context is cancelled.
func (r *Router) Start(ctx context.Context) {
	ctx, r.cancel = context.WithCancel(ctx)
	go r.run(ctx)
}

func (r *Router) Stop() {
	if r.cancel != nil {
		r.cancel()
	}
	_ = r.conn.Close()
}

func (r *Router) run(ctx context.Context) {
	attempt := 0
	for {
		if ctx.Err() != nil {
			return
		}
		if err := r.machine.Transition(status.Connecting); err != nil {
			r.logger.Debug("state transition skipped", zap.Error(err))
		}

		if err := r.conn.Dial(ctx); err != nil {
			r.logger.Warn("realtime dial failed", zap.Int("attempt", attempt), zap.Error(err))
			_ = r.machine.Transition(status.Reconnecting)
			select {
			case <-time.After(backoff(attempt)):
				attempt++
				continue
			case <-ctx.Done():
				return
			}
		}
		attempt = 0

		if err := r.conn.Send(ctx, "subscribe", subscribeCmd{UserID: r.currentUser()}); err != nil {
			r.logger.Warn("subscribe failed", zap.Error(err))
			_ = r.conn.Close()
			_ = r.machine.Transition(status.Reconnecting)
			continue
		}

		_ = r.machine.Transition(status.Syncing)
		// Missed events while disconnected; the engine and reconciler
		// both listen for this and run a full pass.
		r.bus.Publish("realtime.connected", nil)
		_ = r.machine.Transition(status.Online)

		r.readLoop(ctx)

		r.mu.Lock()
		r.presence = make(map[int64]string)
		r.typing = make(map[int64]map[int64]bool)
		r.mu.Unlock()

		if ctx.Err() != nil {
			return
		}
		r.bus.Publish("realtime.disconnected", nil)
		_ = r.machine.Transition(status.Reconnecting)
	}
}

func (r *Router) readLoop(ctx context.Context) {
	for {
		env, err := r.conn.Read(ctx)
		if err != nil {
			if ctx.Err() == nil {
				r.logger.Warn("realtime read failed", zap.Error(err))
			}
			_ = r.conn.Close()
			return
		}
		r.Dispatch(ctx, env)
	}
}

// Dispatch routes one event. Exposed for tests; the read loop is the
// production caller.
func (r *Router) Dispatch(ctx context.Context, env Envelope) {
	switch env.Type {
	case "change":
		r.handleChange(ctx, env.Payload)
	case "notification":
		r.handleNotification(env.Payload)
	case "presence":
		r.handlePresence(env.Payload)
	case "typing":
		r.handleTyping(env.Payload)
	case "broadcast":
		var b BroadcastEvent
		if err := json.Unmarshal(env.Payload, &b); err != nil {
			r.logger.Warn("bad broadcast payload", zap.Error(err))
			return
		}
		r.bus.Publish("realtime.broadcast", b)
	default:
		r.logger.Debug("ignoring unknown realtime event", zap.String("type", env.Type))
	}
}

func (r *Router) handleChange(ctx context.Context, payload json.RawMessage) {
	var ev ChangeEvent
	if err := json.Unmarshal(payload, &ev); err != nil {
		r.logger.Warn("bad change payload", zap.Error(err))
		return
	}

	err := sync.ApplyChange(r.db, ev.Table, ev.Type, ev.Record)
	if errors.Is(err, sync.ErrNeedsReconcile) {
		r.escalate(ctx, ev.Table)
		return
	}
	if err != nil {
		r.logger.Error("failed to apply change event",
			zap.String("table", ev.Table), zap.String("type", ev.Type), zap.Error(err))
		r.escalate(ctx, ev.Table)
		return
	}

	if ev.Table == "messages" && ev.Type == "INSERT" {
		r.bumpConversation(ev.Record)
	}
	r.bus.Publish("realtime.change", ev)
}

// bumpConversation updates the conversation list row for an incoming
// message: preview, ordering timestamp, and the unread counter when the
// message is someone else's.
func (r *Router) bumpConversation(record json.RawMessage) {
	var m struct {
		ConversationID int64  `json:"conversation_id"`
		SenderID       int64  `json:"sender_id"`
		Body           string `json:"body"`
		CreatedAt      int64  `json:"created_at"`
	}
	if err := json.Unmarshal(record, &m); err != nil || m.ConversationID == 0 {
		return
	}
	fromOther := m.SenderID != r.currentUser()
	if err := r.db.TouchConversation(m.ConversationID, m.CreatedAt, m.Body, fromOther); err != nil {
		r.logger.Error("failed to bump conversation", zap.Int64("conversation_id", m.ConversationID), zap.Error(err))
	}
}

func (r *Router) handleNotification(payload json.RawMessage) {
	var probe struct {
		RecipientID int64 `json:"recipient_id"`
	}
	if err := json.Unmarshal(payload, &probe); err != nil {
		r.logger.Warn("bad notification payload", zap.Error(err))
		return
	}
	// The stream can be multiplexed; only this profile's notifications
	// land in its replica.
	if probe.RecipientID != r.currentUser() {
		return
	}
	if err := sync.ApplyChange(r.db, "notifications", "INSERT", payload); err != nil {
		r.logger.Error("failed to store notification", zap.Error(err))
		return
	}
	// With the notification view open the user is looking right at it;
	// mark it read so the badge doesn't flash.
	if r.notificationScopeOpen() {
		var id struct {
			ID int64 `json:"id"`
		}
		if json.Unmarshal(payload, &id) == nil && id.ID != 0 {
			if err := r.db.MarkNotificationRead(id.ID); err != nil {
				r.logger.Warn("failed to auto-read notification", zap.Int64("id", id.ID), zap.Error(err))
			}
		}
	}
	count, err := r.db.UnreadNotificationCount(probe.RecipientID)
	if err != nil {
		r.logger.Error("failed to count unread", zap.Error(err))
		return
	}
	r.bus.Publish("realtime.notification", map[string]any{"unread": count})
}

func (r *Router) handlePresence(payload json.RawMessage) {
	var p PresenceEvent
	if err := json.Unmarshal(payload, &p); err != nil {
		r.logger.Warn("bad presence payload", zap.Error(err))
		return
	}
	r.mu.Lock()
	if p.Status == "offline" {
		delete(r.presence, p.UserID)
	} else {
		r.presence[p.UserID] = p.Status
	}
	r.mu.Unlock()
	r.bus.Publish("realtime.presence", p)
}

func (r *Router) handleTyping(payload json.RawMessage) {
	var t TypingEvent
	if err := json.Unmarshal(payload, &t); err != nil {
		r.logger.Warn("bad typing payload", zap.Error(err))
		return
	}
	r.mu.Lock()
	if r.typing[t.ConversationID] == nil {
		r.typing[t.ConversationID] = make(map[int64]bool)
	}
	r.typing[t.ConversationID][t.UserID] = t.Typing
	r.mu.Unlock()
	r.bus.Publish("realtime.typing", t)
}

// escalate reconciles every open scope whose kind the table maps to.
func (r *Router) notificationScopeOpen() bool {
	for _, s := range r.refresher.OpenScopes() {
		if s.Kind == sync.KindNotification {
			return true
		}
	}
	return false
}

func (r *Router) escalate(ctx context.Context, table string) {
	var kind sync.Kind
	switch table {
	case "posts":
		kind = sync.KindPost
	case "comments":
		kind = sync.KindComment
	case "reactions":
		kind = sync.KindReaction
	case "messages":
		kind = sync.KindMessage
	case "notifications":
		kind = sync.KindNotification
	default:
		return
	}
	for _, s := range r.refresher.OpenScopes() {
		if s.Kind != kind {
			continue
		}
		if err := r.refresher.Reconcile(ctx, s); err != nil {
			r.logger.Error("escalated reconcile failed", zap.String("table", table), zap.Error(err))
		}
	}
}
