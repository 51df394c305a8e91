package middleware

import (
	"context"
	"encoding/json"
	"net/http"
	"strings"

	"github.com/rs/zerolog"

	"github.com/eldtechnologies/rtchat/internal/chat"
	"github.com/eldtechnologies/rtchat/internal/models"
	"github.com/eldtechnologies/rtchat/internal/session"
)

type contextKey string

const UserContextKey contextKey = "user"

// SessionCookie is the cookie the forum stores its session token in.
const SessionCookie = "rtchat_session"

// SessionAuth resolves the forum session of each request.
type SessionAuth struct {
	sessions *session.Store
	users    chat.UserDirectory
	logger   zerolog.Logger
}

// NewSessionAuth creates the session middleware.
func NewSessionAuth(sessions *session.Store, users chat.UserDirectory, logger zerolog.Logger) *SessionAuth {
	return &SessionAuth{sessions: sessions, users: users, logger: logger}
}

// Middleware attaches the session user to the request context. Requests
// without a valid session continue as guests; the chat decides what
// guests may do.
func (m *SessionAuth) Middleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		token := sessionToken(r)
		if token == "" {
			next.ServeHTTP(w, r)
			return
		}

		userID, found, err := m.sessions.Resolve(r.Context(), token)
		if err != nil {
			m.logger.Error().Err(err).Msg("resolve session")
			jsonError(w, http.StatusServiceUnavailable, "session lookup failed")
			return
		}
		if !found {
			next.ServeHTTP(w, r)
			return
		}

		user, err := m.users.GetUserByID(r.Context(), userID)
		if err != nil {
			m.logger.Error().Err(err).Uint64("user_id", userID).Msg("load session user")
			jsonError(w, http.StatusServiceUnavailable, "session lookup failed")
			return
		}
		if user == nil {
			next.ServeHTTP(w, r)
			return
		}

		ctx := context.WithValue(r.Context(), UserContextKey, user)
		next.ServeHTTP(w, r.WithContext(ctx))
	})
}

func sessionToken(r *http.Request) string {
	if auth := r.Header.Get("Authorization"); strings.HasPrefix(auth, "Bearer ") {
		return strings.TrimSpace(strings.TrimPrefix(auth, "Bearer "))
	}
	if c, err := r.Cookie(SessionCookie); err == nil {
		return c.Value
	}
	return ""
}

func jsonError(w http.ResponseWriter, status int, message string) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(map[string]any{"ok": false, "error": message})
}

// GetUserFromContext retrieves the session user from the request context.
func GetUserFromContext(ctx context.Context) *models.User {
	user, ok := ctx.Value(UserContextKey).(*models.User)
	if !ok {
		return nil
	}
	return user
}

// ContextAuthenticator implements chat.Authenticator on top of the
// session middleware.
type ContextAuthenticator struct{}

func (ContextAuthenticator) Current(ctx context.Context) (chat.Identity, error) {
	return chat.IdentityOf(GetUserFromContext(ctx)), nil
}
