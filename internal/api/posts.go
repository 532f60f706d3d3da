package api

import (
	"encoding/json"
	"net/http"

	"github.com/stampcircle/stampd/internal/store"
	"github.com/stampcircle/stampd/internal/sync"
	"github.com/stampcircle/stampd/internal/thread"
)

type createPostRequest struct {
	Body       string `json:"body"`
	Topic      string `json:"topic"`
	Visibility string `json:"visibility"`
}

func (h *Handler) createPost(w http.ResponseWriter, r *http.Request) {
	var req createPostRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid body")
		return
	}
	if req.Body == "" {
		writeError(w, http.StatusBadRequest, "body is required")
		return
	}
	if req.Visibility == "" {
		req.Visibility = "public"
	}

	now := nowMilli()
	p := &store.Post{
		ID:         h.alloc.Next().Int64(),
		AuthorID:   h.userID,
		Body:       req.Body,
		Topic:      req.Topic,
		Visibility: req.Visibility,
		CreatedAt:  now,
		UpdatedAt:  now,
	}
	if err := h.db.InsertLocalPost(p); err != nil {
		writeError(w, http.StatusInternalServerError, err.Error())
		return
	}
	h.bus.Publish("store.post_created", map[string]int64{"id": p.ID})
	h.kick(sync.KindPost)
	writeJSON(w, http.StatusCreated, p)
}

func (h *Handler) listPosts(w http.ResponseWriter, r *http.Request) {
	posts, err := h.db.ListPosts(queryInt(r, "limit", 50), queryInt(r, "offset", 0))
	if err != nil {
		writeError(w, http.StatusInternalServerError, err.Error())
		return
	}
	writeJSON(w, http.StatusOK, posts)
}

func (h *Handler) getPost(w http.ResponseWriter, r *http.Request) {
	id, ok := pathID(r, "id")
	if !ok {
		writeError(w, http.StatusBadRequest, "invalid id")
		return
	}
	p, err := h.db.GetPost(id)
	if err != nil {
		writeError(w, http.StatusInternalServerError, err.Error())
		return
	}
	if p == nil {
		writeError(w, http.StatusNotFound, "post not found")
		return
	}
	writeJSON(w, http.StatusOK, p)
}

func (h *Handler) editPost(w http.ResponseWriter, r *http.Request) {
	id, ok := pathID(r, "id")
	if !ok {
		writeError(w, http.StatusBadRequest, "invalid id")
		return
	}
	var req struct {
		Body string `json:"body"`
	}
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil || req.Body == "" {
		writeError(w, http.StatusBadRequest, "body is required")
		return
	}
	if err := h.db.EditPostBody(id, req.Body); err != nil {
		writeError(w, http.StatusInternalServerError, err.Error())
		return
	}
	h.kick(sync.KindPost)
	writeJSON(w, http.StatusOK, map[string]string{"status": "updated"})
}

func (h *Handler) deletePost(w http.ResponseWriter, r *http.Request) {
	id, ok := pathID(r, "id")
	if !ok {
		writeError(w, http.StatusBadRequest, "invalid id")
		return
	}
	if err := h.db.MarkPostDeleted(id); err != nil {
		writeError(w, http.StatusInternalServerError, err.Error())
		return
	}
	h.kick(sync.KindPost)
	writeJSON(w, http.StatusOK, map[string]string{"status": "deleted"})
}

type createCommentRequest struct {
	Body            string `json:"body"`
	ParentCommentID *int64 `json:"parent_comment_id"`
}

func (h *Handler) createComment(w http.ResponseWriter, r *http.Request) {
	postID, ok := pathID(r, "id")
	if !ok {
		writeError(w, http.StatusBadRequest, "invalid post id")
		return
	}
	var req createCommentRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil || req.Body == "" {
		writeError(w, http.StatusBadRequest, "body is required")
		return
	}

	id := h.alloc.Next()
	var depth int
	var path string
	if req.ParentCommentID == nil {
		depth, path = thread.Root(id)
	} else {
		parent, err := h.db.GetComment(*req.ParentCommentID)
		if err != nil {
			writeError(w, http.StatusInternalServerError, err.Error())
			return
		}
		if parent == nil || parent.PostID != postID {
			writeError(w, http.StatusBadRequest, "parent comment not found on this post")
			return
		}
		depth, path = thread.Child(parent.Depth, parent.Path, id)
	}

	now := nowMilli()
	c := &store.Comment{
		ID:              id.Int64(),
		PostID:          postID,
		ParentCommentID: req.ParentCommentID,
		AuthorID:        h.userID,
		Body:            req.Body,
		Depth:           depth,
		Path:            path,
		CreatedAt:       now,
		UpdatedAt:       now,
	}
	if err := h.db.InsertLocalComment(c); err != nil {
		writeError(w, http.StatusInternalServerError, err.Error())
		return
	}
	h.bus.Publish("store.comment_created", map[string]int64{"id": c.ID, "post_id": postID})
	h.kick(sync.KindComment)
	writeJSON(w, http.StatusCreated, c)
}

func (h *Handler) listComments(w http.ResponseWriter, r *http.Request) {
	postID, ok := pathID(r, "id")
	if !ok {
		writeError(w, http.StatusBadRequest, "invalid post id")
		return
	}
	comments, err := h.db.ListComments(postID)
	if err != nil {
		writeError(w, http.StatusInternalServerError, err.Error())
		return
	}
	writeJSON(w, http.StatusOK, comments)
}

func (h *Handler) editComment(w http.ResponseWriter, r *http.Request) {
	id, ok := pathID(r, "id")
	if !ok {
		writeError(w, http.StatusBadRequest, "invalid id")
		return
	}
	var req struct {
		Body string `json:"body"`
	}
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil || req.Body == "" {
		writeError(w, http.StatusBadRequest, "body is required")
		return
	}
	if err := h.db.EditCommentBody(id, req.Body); err != nil {
		writeError(w, http.StatusInternalServerError, err.Error())
		return
	}
	h.kick(sync.KindComment)
	writeJSON(w, http.StatusOK, map[string]string{"status": "updated"})
}

func (h *Handler) deleteComment(w http.ResponseWriter, r *http.Request) {
	id, ok := pathID(r, "id")
	if !ok {
		writeError(w, http.StatusBadRequest, "invalid id")
		return
	}
	if err := h.db.MarkCommentDeleted(id); err != nil {
		writeError(w, http.StatusInternalServerError, err.Error())
		return
	}
	h.kick(sync.KindComment)
	writeJSON(w, http.StatusOK, map[string]string{"status": "deleted"})
}

type toggleReactionRequest struct {
	SubjectKind string `json:"subject_kind"`
	SubjectID   int64  `json:"subject_id"`
	Emoji       string `json:"emoji"`
}

func (h *Handler) toggleReaction(w http.ResponseWriter, r *http.Request) {
	var req toggleReactionRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid body")
		return
	}
	if req.SubjectKind != "post" && req.SubjectKind != "comment" {
		writeError(w, http.StatusBadRequest, "subject_kind must be post or comment")
		return
	}
	if req.Emoji == "" {
		req.Emoji = "like"
	}

	reaction, err := h.db.ToggleReaction(req.SubjectKind, req.SubjectID, h.userID, h.alloc.Next().Int64(), req.Emoji)
	if err != nil {
		writeError(w, http.StatusInternalServerError, err.Error())
		return
	}
	h.bus.Publish("store.reaction_toggled", map[string]any{
		"subject_kind": req.SubjectKind, "subject_id": req.SubjectID, "live": !reaction.IsDeleted,
	})
	h.kick(sync.KindReaction)
	writeJSON(w, http.StatusOK, reaction)
}
