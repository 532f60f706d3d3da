// Package api is the daemon's local control surface: JSON over the
// profile's Unix domain socket, consumed by stampctl and by app UIs.
package api

import (
	"context"
	"encoding/json"
	"net/http"
	"strconv"
	"time"

	"github.com/gorilla/mux"
	"go.uber.org/zap"

	"github.com/stampcircle/stampd/internal/bus"
	"github.com/stampcircle/stampd/internal/ident"
	"github.com/stampcircle/stampd/internal/realtime"
	"github.com/stampcircle/stampd/internal/remote"
	"github.com/stampcircle/stampd/internal/status"
	"github.com/stampcircle/stampd/internal/store"
	"github.com/stampcircle/stampd/internal/sync"
)

// Handler wires all daemon operations onto a mux router.
type Handler struct {
	db         *store.DB
	alloc      *ident.Allocator
	engine     *sync.Engine
	reconciler *sync.Reconciler
	router     *realtime.Router
	remote     remote.Caller
	machine    *status.Machine
	bus        *bus.Bus
	userID     int64
	profile    string
	logger     *zap.Logger
}

func NewHandler(
	db *store.DB,
	alloc *ident.Allocator,
	engine *sync.Engine,
	reconciler *sync.Reconciler,
	router *realtime.Router,
	caller remote.Caller,
	machine *status.Machine,
	b *bus.Bus,
	userID int64,
	profile string,
	logger *zap.Logger,
) *Handler {
	return &Handler{
		db:         db,
		alloc:      alloc,
		engine:     engine,
		reconciler: reconciler,
		router:     router,
		remote:     caller,
		machine:    machine,
		bus:        b,
		userID:     userID,
		profile:    profile,
		logger:     logger,
	}
}

// Routes returns the daemon's HTTP router.
func (h *Handler) Routes() http.Handler {
	r := mux.NewRouter()
	v1 := r.PathPrefix("/v1").Subrouter()

	v1.HandleFunc("/status", h.getStatus).Methods(http.MethodGet)
	v1.HandleFunc("/sync", h.triggerSyncAll).Methods(http.MethodPost)
	v1.HandleFunc("/sync/{kind}", h.triggerSync).Methods(http.MethodPost)

	v1.HandleFunc("/posts", h.createPost).Methods(http.MethodPost)
	v1.HandleFunc("/posts", h.listPosts).Methods(http.MethodGet)
	v1.HandleFunc("/posts/{id}", h.getPost).Methods(http.MethodGet)
	v1.HandleFunc("/posts/{id}", h.editPost).Methods(http.MethodPatch)
	v1.HandleFunc("/posts/{id}", h.deletePost).Methods(http.MethodDelete)
	v1.HandleFunc("/posts/{id}/comments", h.createComment).Methods(http.MethodPost)
	v1.HandleFunc("/posts/{id}/comments", h.listComments).Methods(http.MethodGet)

	v1.HandleFunc("/comments/{id}", h.editComment).Methods(http.MethodPatch)
	v1.HandleFunc("/comments/{id}", h.deleteComment).Methods(http.MethodDelete)

	v1.HandleFunc("/reactions/toggle", h.toggleReaction).Methods(http.MethodPost)

	v1.HandleFunc("/conversations", h.listConversations).Methods(http.MethodGet)
	v1.HandleFunc("/conversations", h.createConversation).Methods(http.MethodPost)
	v1.HandleFunc("/conversations/{id}/messages", h.listMessages).Methods(http.MethodGet)
	v1.HandleFunc("/conversations/{id}/messages", h.sendMessage).Methods(http.MethodPost)
	v1.HandleFunc("/conversations/{id}/read", h.markConversationRead).Methods(http.MethodPost)
	v1.HandleFunc("/conversations/{id}/typing", h.getTyping).Methods(http.MethodGet)
	v1.HandleFunc("/conversations/{id}/participants", h.addParticipant).Methods(http.MethodPost)
	v1.HandleFunc("/conversations/{id}/participants/{userID}", h.removeParticipant).Methods(http.MethodDelete)

	v1.HandleFunc("/notifications", h.listNotifications).Methods(http.MethodGet)
	v1.HandleFunc("/notifications/{id}/read", h.markNotificationRead).Methods(http.MethodPost)

	v1.HandleFunc("/profiles/{id}", h.getProfile).Methods(http.MethodGet)

	v1.HandleFunc("/presence", h.getPresence).Methods(http.MethodGet)
	v1.HandleFunc("/scopes/open", h.openScope).Methods(http.MethodPost)
	v1.HandleFunc("/scopes/close", h.closeScope).Methods(http.MethodPost)

	v1.HandleFunc("/deadletter", h.listDeadLetters).Methods(http.MethodGet)
	v1.HandleFunc("/deadletter/retry", h.retryDeadLetter).Methods(http.MethodPost)
	v1.HandleFunc("/deadletter/discard", h.discardDeadLetter).Methods(http.MethodPost)

	v1.HandleFunc("/reports", h.reportContent).Methods(http.MethodPost)

	return r
}

func (h *Handler) getStatus(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]any{
		"profile":   h.profile,
		"user_id":   h.userID,
		"state":     h.machine.Current(),
		"connected": h.machine.Connected(),
	})
}

func (h *Handler) triggerSyncAll(w http.ResponseWriter, r *http.Request) {
	h.engine.SyncAll(context.WithoutCancel(r.Context()))
	writeJSON(w, http.StatusAccepted, map[string]string{"status": "sync started"})
}

func (h *Handler) triggerSync(w http.ResponseWriter, r *http.Request) {
	kind := sync.Kind(mux.Vars(r)["kind"])
	go func() {
		if err := h.engine.Sync(context.Background(), kind); err != nil {
			h.logger.Error("triggered sync failed", zap.String("kind", string(kind)), zap.Error(err))
		}
	}()
	writeJSON(w, http.StatusAccepted, map[string]string{"status": "sync started", "kind": string(kind)})
}

// kick schedules a push pass after a local mutation.
func (h *Handler) kick(kind sync.Kind) {
	go func() {
		if err := h.engine.Sync(context.Background(), kind); err != nil {
			h.logger.Error("post-mutation sync failed", zap.String("kind", string(kind)), zap.Error(err))
		}
	}()
}

func writeJSON(w http.ResponseWriter, code int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(code)
	_ = json.NewEncoder(w).Encode(v)
}

func writeError(w http.ResponseWriter, code int, msg string) {
	writeJSON(w, code, map[string]string{"error": msg})
}

func pathID(r *http.Request, name string) (int64, bool) {
	id, err := strconv.ParseInt(mux.Vars(r)[name], 10, 64)
	return id, err == nil
}

func pathInt64Query(r *http.Request, name string) (int64, bool) {
	v, err := strconv.ParseInt(r.URL.Query().Get(name), 10, 64)
	return v, err == nil
}

func queryInt(r *http.Request, name string, fallback int) int {
	v, err := strconv.Atoi(r.URL.Query().Get(name))
	if err != nil {
		return fallback
	}
	return v
}

func nowMilli() int64 { return time.Now().UnixMilli() }
