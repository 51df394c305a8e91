package handlers

import (
	"encoding/json"
	"net/http"
	"strconv"
	"strings"

	"github.com/go-chi/chi/v5"

	"github.com/eldtechnologies/rtchat/internal/chat"
)

// MessagesResponse is the body of every successful chat request.
type MessagesResponse struct {
	OK       bool                   `json:"ok"`
	Messages []chat.RenderedMessage `json:"messages"`
	Cursor   chat.Cursor            `json:"cursor"`
}

// PostMessageRequest is the body of POST /chat/messages.
type PostMessageRequest struct {
	RecipientID uint64 `json:"recipient_id"`
	Body        string `json:"body"`
}

// UpdateMessageRequest is the body of PUT /chat/messages/{id}.
type UpdateMessageRequest struct {
	Body string `json:"body"`
}

func (h *Handler) respond(w http.ResponseWriter, status int, res *chat.Result) {
	h.JSON(w, status, MessagesResponse{OK: true, Messages: res.Messages, Cursor: res.Cursor})
}

// ListRecent handles GET /chat/messages?loaded=1,2,3.
func (h *Handler) ListRecent(w http.ResponseWriter, r *http.Request) {
	loaded, err := parseIDList(r.URL.Query().Get("loaded"))
	if err != nil {
		h.Error(w, http.StatusBadRequest, "invalid loaded ids")
		return
	}

	res, err := h.chat.ReadRecent(r.Context(), loaded)
	if err != nil {
		h.ChatError(w, r, err)
		return
	}
	h.respond(w, http.StatusOK, res)
}

// ListHistory handles GET /chat/messages/history?before={id}.
func (h *Handler) ListHistory(w http.ResponseWriter, r *http.Request) {
	before, err := strconv.ParseUint(r.URL.Query().Get("before"), 10, 64)
	if err != nil || before == 0 {
		h.Error(w, http.StatusBadRequest, "invalid before id")
		return
	}

	res, err := h.chat.ReadBefore(r.Context(), before)
	if err != nil {
		h.ChatError(w, r, err)
		return
	}
	h.respond(w, http.StatusOK, res)
}

// PostMessage handles POST /chat/messages.
func (h *Handler) PostMessage(w http.ResponseWriter, r *http.Request) {
	var req PostMessageRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		h.Error(w, http.StatusBadRequest, "invalid JSON body")
		return
	}

	res, err := h.chat.Create(r.Context(), chat.CreateRequest{
		RecipientID: req.RecipientID,
		Body:        req.Body,
	})
	if err != nil {
		h.ChatError(w, r, err)
		return
	}

	status := http.StatusCreated
	if len(res.Messages) == 1 && res.Messages[0].Ephemeral {
		status = http.StatusOK
	}
	h.respond(w, status, res)
}

// UpdateMessage handles PUT /chat/messages/{id}.
func (h *Handler) UpdateMessage(w http.ResponseWriter, r *http.Request) {
	id, ok := h.messageID(w, r)
	if !ok {
		return
	}

	var req UpdateMessageRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		h.Error(w, http.StatusBadRequest, "invalid JSON body")
		return
	}

	res, err := h.chat.Update(r.Context(), id, req.Body)
	if err != nil {
		h.ChatError(w, r, err)
		return
	}
	h.respond(w, http.StatusOK, res)
}

// DeleteMessage handles DELETE /chat/messages/{id}.
func (h *Handler) DeleteMessage(w http.ResponseWriter, r *http.Request) {
	id, ok := h.messageID(w, r)
	if !ok {
		return
	}

	if err := h.chat.Delete(r.Context(), id); err != nil {
		h.ChatError(w, r, err)
		return
	}
	h.respond(w, http.StatusOK, &chat.Result{Messages: []chat.RenderedMessage{}})
}

func (h *Handler) messageID(w http.ResponseWriter, r *http.Request) (uint64, bool) {
	id, err := strconv.ParseUint(chi.URLParam(r, "id"), 10, 64)
	if err != nil || id == 0 {
		h.Error(w, http.StatusBadRequest, "invalid message id")
		return 0, false
	}
	return id, true
}

// parseIDList parses a comma-separated id list. Empty input is no ids.
func parseIDList(raw string) ([]uint64, error) {
	if raw == "" {
		return nil, nil
	}
	parts := strings.Split(raw, ",")
	ids := make([]uint64, 0, len(parts))
	for _, p := range parts {
		p = strings.TrimSpace(p)
		if p == "" {
			continue
		}
		id, err := strconv.ParseUint(p, 10, 64)
		if err != nil {
			return nil, err
		}
		ids = append(ids, id)
	}
	return ids, nil
}
