package api

import (
	"encoding/json"
	"net/http"

	"github.com/stampcircle/stampd/internal/sync"
)

func (h *Handler) listNotifications(w http.ResponseWriter, r *http.Request) {
	notifications, err := h.db.ListNotifications(h.userID, queryInt(r, "limit", 50))
	if err != nil {
		writeError(w, http.StatusInternalServerError, err.Error())
		return
	}
	unread, err := h.db.UnreadNotificationCount(h.userID)
	if err != nil {
		writeError(w, http.StatusInternalServerError, err.Error())
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{
		"notifications": notifications,
		"unread":        unread,
	})
}

func (h *Handler) markNotificationRead(w http.ResponseWriter, r *http.Request) {
	id, ok := pathID(r, "id")
	if !ok {
		writeError(w, http.StatusBadRequest, "invalid id")
		return
	}
	if err := h.db.MarkNotificationRead(id); err != nil {
		writeError(w, http.StatusInternalServerError, err.Error())
		return
	}
	h.kick(sync.KindNotification)
	writeJSON(w, http.StatusOK, map[string]string{"status": "read"})
}

func (h *Handler) getPresence(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]any{"presence": h.router.Presence()})
}

type scopeRequest struct {
	Type string `json:"type"` // feed, post_comments, post_reactions, conversation_messages, notifications
	ID   int64  `json:"id"`
}

func (req scopeRequest) resolve(userID int64) (sync.Scope, bool) {
	switch req.Type {
	case "feed":
		return sync.Feed(userID), true
	case "post_comments":
		return sync.PostComments(req.ID), true
	case "post_reactions":
		return sync.PostReactions(req.ID), true
	case "conversation_messages":
		return sync.ConversationMessages(req.ID), true
	case "notifications":
		return sync.UserNotifications(userID), true
	}
	return sync.Scope{}, false
}

func (h *Handler) openScope(w http.ResponseWriter, r *http.Request) {
	var req scopeRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid body")
		return
	}
	scope, ok := req.resolve(h.userID)
	if !ok {
		writeError(w, http.StatusBadRequest, "unknown scope type")
		return
	}
	h.reconciler.Open(r.Context(), scope)
	writeJSON(w, http.StatusOK, map[string]string{"status": "open"})
}

func (h *Handler) closeScope(w http.ResponseWriter, r *http.Request) {
	var req scopeRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid body")
		return
	}
	scope, ok := req.resolve(h.userID)
	if !ok {
		writeError(w, http.StatusBadRequest, "unknown scope type")
		return
	}
	h.reconciler.Close(scope)
	writeJSON(w, http.StatusOK, map[string]string{"status": "closed"})
}

func (h *Handler) listDeadLetters(w http.ResponseWriter, r *http.Request) {
	letters, err := h.db.ListDeadLetters()
	if err != nil {
		writeError(w, http.StatusInternalServerError, err.Error())
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"dead_letters": letters})
}

type deadLetterRequest struct {
	Kind string `json:"kind"`
	ID   int64  `json:"id"`
}

func (h *Handler) retryDeadLetter(w http.ResponseWriter, r *http.Request) {
	var req deadLetterRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid body")
		return
	}
	if err := h.db.RetryDeadLetter(req.Kind, req.ID); err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}
	h.kick(sync.Kind(req.Kind))
	writeJSON(w, http.StatusOK, map[string]string{"status": "queued"})
}

func (h *Handler) discardDeadLetter(w http.ResponseWriter, r *http.Request) {
	var req deadLetterRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid body")
		return
	}
	if err := h.db.DiscardDeadLetter(req.Kind, req.ID); err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{"status": "discarded"})
}

type reportRequest struct {
	SubjectKind string `json:"subject_kind"`
	SubjectID   int64  `json:"subject_id"`
	Reason      string `json:"reason"`
}

// getProfile serves a profile from the local cache, fetching through to
// the remote store when the profile is unknown and we're online.
func (h *Handler) getProfile(w http.ResponseWriter, r *http.Request) {
	id, ok := pathID(r, "id")
	if !ok {
		writeError(w, http.StatusBadRequest, "invalid profile id")
		return
	}
	profile, err := h.db.GetProfile(id)
	if err != nil {
		writeError(w, http.StatusInternalServerError, err.Error())
		return
	}
	if profile == nil && h.machine.Connected() {
		raw, err := h.remote.Call(r.Context(), "get_profile", map[string]any{"id": id})
		if err != nil {
			writeError(w, http.StatusBadGateway, err.Error())
			return
		}
		if err := sync.ApplyChange(h.db, "profiles", "UPDATE", raw); err != nil {
			writeError(w, http.StatusBadGateway, err.Error())
			return
		}
		if profile, err = h.db.GetProfile(id); err != nil {
			writeError(w, http.StatusInternalServerError, err.Error())
			return
		}
	}
	if profile == nil {
		writeError(w, http.StatusNotFound, "profile not cached")
		return
	}
	writeJSON(w, http.StatusOK, profile)
}

// reportContent forwards a content report; reports are never stored
// locally.
func (h *Handler) reportContent(w http.ResponseWriter, r *http.Request) {
	var req reportRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil || req.Reason == "" {
		writeError(w, http.StatusBadRequest, "reason is required")
		return
	}
	if !h.machine.Connected() {
		writeError(w, http.StatusServiceUnavailable, "reporting requires a connection")
		return
	}
	if _, err := h.remote.Call(r.Context(), "report_content", map[string]any{
		"reporter_id":  h.userID,
		"subject_kind": req.SubjectKind,
		"subject_id":   req.SubjectID,
		"reason":       req.Reason,
	}); err != nil {
		writeError(w, http.StatusBadGateway, err.Error())
		return
	}
	writeJSON(w, http.StatusAccepted, map[string]string{"status": "reported"})
}
