package handlers

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"

	"github.com/rs/zerolog"

	"github.com/eldtechnologies/rtchat/internal/chat"
)

// Pinger is a dependency the health check can probe.
type Pinger interface {
	Ping(ctx context.Context) error
}

// Handler contains shared dependencies for all HTTP handlers.
type Handler struct {
	chat   *chat.Service
	db     Pinger
	dbName string
	redis  Pinger
	logger zerolog.Logger
}

// NewHandler creates a new Handler. dbName labels the database in health
// reports ("postgres" or "sqlite").
func NewHandler(svc *chat.Service, db Pinger, dbName string, redis Pinger, logger zerolog.Logger) *Handler {
	return &Handler{chat: svc, db: db, dbName: dbName, redis: redis, logger: logger}
}

// JSON sends a JSON response with the given status code.
func (h *Handler) JSON(w http.ResponseWriter, status int, data interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(data)
}

// Error sends a JSON error response with the given status code.
func (h *Handler) Error(w http.ResponseWriter, status int, message string) {
	h.JSON(w, status, ErrorResponse{OK: false, Error: message})
}

// ErrorResponse is the body of every failed chat request.
type ErrorResponse struct {
	OK    bool   `json:"ok"`
	Error string `json:"error"`
	Code  string `json:"code,omitempty"`
}

// ChatError writes err using the status its kind maps to. Storage
// failures are logged; their cause never reaches the client.
func (h *Handler) ChatError(w http.ResponseWriter, r *http.Request, err error) {
	chatErr := chat.AsError(err)
	status := statusFor(chatErr)
	if chatErr.Kind == chat.KindStorage {
		h.logger.Error().
			Err(chatErr.Err).
			Str("path", r.URL.Path).
			Msg("chat request failed")
	}
	h.JSON(w, status, ErrorResponse{OK: false, Error: chatErr.Message, Code: string(chatErr.Code)})
}

func statusFor(err *chat.Error) int {
	switch {
	// Empty polls are answers, not failures.
	case errors.Is(err, chat.ErrNoNewMessages), errors.Is(err, chat.ErrNoMessagesFound):
		return http.StatusOK
	case errors.Is(err, chat.ErrNotLoggedIn):
		return http.StatusUnauthorized
	}

	switch err.Kind {
	case chat.KindValidation:
		return http.StatusBadRequest
	case chat.KindAuthorization:
		return http.StatusForbidden
	case chat.KindNotFound:
		return http.StatusNotFound
	case chat.KindModeration:
		return http.StatusUnprocessableEntity
	default:
		return http.StatusServiceUnavailable
	}
}
