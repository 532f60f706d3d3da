package api

import (
	"encoding/json"
	"net/http"

	"go.uber.org/zap"

	"github.com/stampcircle/stampd/internal/store"
	"github.com/stampcircle/stampd/internal/sync"
	"github.com/stampcircle/stampd/internal/thread"
)

func (h *Handler) listConversations(w http.ResponseWriter, r *http.Request) {
	conversations, err := h.db.ListConversations(queryInt(r, "limit", 50), queryInt(r, "offset", 0))
	if err != nil {
		writeError(w, http.StatusInternalServerError, err.Error())
		return
	}
	writeJSON(w, http.StatusOK, conversations)
}

type createConversationRequest struct {
	Title          string  `json:"title"`
	ParticipantIDs []int64 `json:"participant_ids"`
	IsGroup        bool    `json:"is_group"`
}

// createConversation is online-only: the server assigns membership, so
// there is no optimistic local row to create.
func (h *Handler) createConversation(w http.ResponseWriter, r *http.Request) {
	var req createConversationRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid body")
		return
	}
	if len(req.ParticipantIDs) == 0 {
		writeError(w, http.StatusBadRequest, "participant_ids is required")
		return
	}
	if !h.machine.Connected() {
		writeError(w, http.StatusServiceUnavailable, "creating a conversation requires a connection")
		return
	}

	raw, err := h.remote.Call(r.Context(), "create_conversation", map[string]any{
		"title":           req.Title,
		"participant_ids": req.ParticipantIDs,
		"is_group":        req.IsGroup,
		"created_by":      h.userID,
	})
	if err != nil {
		writeError(w, http.StatusBadGateway, err.Error())
		return
	}

	var c conversationDTO
	if err := json.Unmarshal(raw, &c); err != nil {
		writeError(w, http.StatusBadGateway, "bad conversation response: "+err.Error())
		return
	}
	conv := c.toStore()
	if err := h.db.UpsertConversation(conv); err != nil {
		writeError(w, http.StatusInternalServerError, err.Error())
		return
	}
	for _, p := range c.Participants {
		if err := h.db.UpsertParticipant(&store.Participant{
			ID:             p.ID,
			ConversationID: conv.ID,
			UserID:         p.UserID,
			Role:           p.Role,
			JoinedAt:       p.JoinedAt,
		}); err != nil {
			writeError(w, http.StatusInternalServerError, err.Error())
			return
		}
	}
	writeJSON(w, http.StatusCreated, conv)
}

type conversationDTO struct {
	ID           int64  `json:"id"`
	Title        string `json:"title"`
	IsGroup      bool   `json:"is_group"`
	CreatedBy    int64  `json:"created_by"`
	CreatedAt    int64  `json:"created_at"`
	Participants []struct {
		ID       int64  `json:"id"`
		UserID   int64  `json:"user_id"`
		Role     string `json:"role"`
		JoinedAt int64  `json:"joined_at"`
	} `json:"participants"`
}

func (d conversationDTO) toStore() *store.Conversation {
	return &store.Conversation{
		ID:        d.ID,
		Title:     d.Title,
		IsGroup:   d.IsGroup,
		CreatedBy: d.CreatedBy,
		CreatedAt: d.CreatedAt,
		UpdatedAt: d.CreatedAt,
	}
}

func (h *Handler) listMessages(w http.ResponseWriter, r *http.Request) {
	conversationID, ok := pathID(r, "id")
	if !ok {
		writeError(w, http.StatusBadRequest, "invalid conversation id")
		return
	}
	before, _ := pathInt64Query(r, "before")
	messages, err := h.db.ListMessages(conversationID, before, queryInt(r, "limit", 50))
	if err != nil {
		writeError(w, http.StatusInternalServerError, err.Error())
		return
	}
	writeJSON(w, http.StatusOK, messages)
}

type sendMessageRequest struct {
	Body             string          `json:"body"`
	ReplyToMessageID *int64          `json:"reply_to_message_id"`
	Attachments      json.RawMessage `json:"attachments"`
}

func (h *Handler) sendMessage(w http.ResponseWriter, r *http.Request) {
	conversationID, ok := pathID(r, "id")
	if !ok {
		writeError(w, http.StatusBadRequest, "invalid conversation id")
		return
	}
	var req sendMessageRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil || req.Body == "" {
		writeError(w, http.StatusBadRequest, "body is required")
		return
	}
	conversation, err := h.db.GetConversation(conversationID)
	if err != nil {
		writeError(w, http.StatusInternalServerError, err.Error())
		return
	}
	if conversation == nil {
		writeError(w, http.StatusNotFound, "conversation not found")
		return
	}

	id := h.alloc.Next()
	var depth int
	var path string
	if req.ReplyToMessageID == nil {
		depth, path = thread.Root(id)
	} else {
		parent, err := h.db.GetMessage(*req.ReplyToMessageID)
		if err != nil {
			writeError(w, http.StatusInternalServerError, err.Error())
			return
		}
		if parent == nil || parent.ConversationID != conversationID {
			writeError(w, http.StatusBadRequest, "replied-to message not in this conversation")
			return
		}
		depth, path = thread.Child(parent.Depth, parent.Path, id)
	}

	now := nowMilli()
	m := &store.Message{
		ID:               id.Int64(),
		ConversationID:   conversationID,
		SenderID:         h.userID,
		Body:             req.Body,
		ReplyToMessageID: req.ReplyToMessageID,
		Depth:            depth,
		Path:             path,
		Attachments:      string(req.Attachments),
		CreatedAt:        now,
	}
	if err := h.db.InsertLocalMessage(m); err != nil {
		writeError(w, http.StatusInternalServerError, err.Error())
		return
	}
	if err := h.db.TouchConversation(conversationID, now, req.Body, false); err != nil {
		h.logger.Error("failed to touch conversation", zap.Error(err))
	}

	h.bus.Publish("store.message_created", map[string]int64{"id": m.ID, "conversation_id": conversationID})
	h.kick(sync.KindMessage)
	writeJSON(w, http.StatusCreated, m)
}

func (h *Handler) markConversationRead(w http.ResponseWriter, r *http.Request) {
	conversationID, ok := pathID(r, "id")
	if !ok {
		writeError(w, http.StatusBadRequest, "invalid conversation id")
		return
	}
	if err := h.db.ClearUnread(conversationID); err != nil {
		writeError(w, http.StatusInternalServerError, err.Error())
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{"status": "read"})
}

func (h *Handler) getTyping(w http.ResponseWriter, r *http.Request) {
	conversationID, ok := pathID(r, "id")
	if !ok {
		writeError(w, http.StatusBadRequest, "invalid conversation id")
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"typing": h.router.TypingIn(conversationID)})
}

type addParticipantRequest struct {
	UserID int64 `json:"user_id"`
}

// Participant changes are online-only server procedures, mirrored into
// the replica from the response.
func (h *Handler) addParticipant(w http.ResponseWriter, r *http.Request) {
	conversationID, ok := pathID(r, "id")
	if !ok {
		writeError(w, http.StatusBadRequest, "invalid conversation id")
		return
	}
	var req addParticipantRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil || req.UserID == 0 {
		writeError(w, http.StatusBadRequest, "user_id is required")
		return
	}
	if !h.machine.Connected() {
		writeError(w, http.StatusServiceUnavailable, "managing participants requires a connection")
		return
	}

	raw, err := h.remote.Call(r.Context(), "add_participant", map[string]any{
		"conversation_id": conversationID,
		"user_id":         req.UserID,
	})
	if err != nil {
		writeError(w, http.StatusBadGateway, err.Error())
		return
	}
	var p struct {
		ID       int64  `json:"id"`
		UserID   int64  `json:"user_id"`
		Role     string `json:"role"`
		JoinedAt int64  `json:"joined_at"`
	}
	if err := json.Unmarshal(raw, &p); err != nil {
		writeError(w, http.StatusBadGateway, "bad participant response: "+err.Error())
		return
	}
	if err := h.db.UpsertParticipant(&store.Participant{
		ID:             p.ID,
		ConversationID: conversationID,
		UserID:         p.UserID,
		Role:           p.Role,
		JoinedAt:       p.JoinedAt,
	}); err != nil {
		writeError(w, http.StatusInternalServerError, err.Error())
		return
	}
	writeJSON(w, http.StatusCreated, p)
}

func (h *Handler) removeParticipant(w http.ResponseWriter, r *http.Request) {
	conversationID, ok := pathID(r, "id")
	if !ok {
		writeError(w, http.StatusBadRequest, "invalid conversation id")
		return
	}
	userID, ok := pathID(r, "userID")
	if !ok {
		writeError(w, http.StatusBadRequest, "invalid user id")
		return
	}
	if !h.machine.Connected() {
		writeError(w, http.StatusServiceUnavailable, "managing participants requires a connection")
		return
	}

	if _, err := h.remote.Call(r.Context(), "remove_participant", map[string]any{
		"conversation_id": conversationID,
		"user_id":         userID,
	}); err != nil {
		writeError(w, http.StatusBadGateway, err.Error())
		return
	}
	if err := h.db.RemoveParticipant(conversationID, userID); err != nil {
		writeError(w, http.StatusInternalServerError, err.Error())
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{"status": "removed"})
}
