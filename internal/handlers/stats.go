package handlers

import (
	"net/http"
	"strconv"
	"time"

	"github.com/eldtechnologies/rtchat/internal/models"
)

// StatsResponse represents the response from the statistics endpoint.
type StatsResponse struct {
	OK           bool               `json:"ok"`
	TopPosters   []models.TopPoster `json:"top_posters"`
	LastActivity string             `json:"last_activity"`
}

// Statistics handles GET /chat/statistics.
func (h *Handler) Statistics(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()

	posters, err := h.chat.TopPosters(ctx)
	if err != nil {
		h.ChatError(w, r, err)
		return
	}

	lastActivity := "no activity yet"
	age, ok, err := h.chat.LastActivity(ctx)
	if err != nil {
		h.ChatError(w, r, err)
		return
	}
	if ok {
		lastActivity = formatTimeAgo(age)
	}

	h.JSON(w, http.StatusOK, StatsResponse{
		OK:           true,
		TopPosters:   posters,
		LastActivity: lastActivity,
	})
}

// formatTimeAgo formats an age as a human-readable "X ago" string.
func formatTimeAgo(diff time.Duration) string {
	switch {
	case diff < time.Minute:
		return "just now"
	case diff < time.Hour:
		return plural(int(diff.Minutes()), "minute") + " ago"
	case diff < 24*time.Hour:
		return plural(int(diff.Hours()), "hour") + " ago"
	default:
		return plural(int(diff.Hours()/24), "day") + " ago"
	}
}

func plural(n int, unit string) string {
	if n == 1 {
		return "1 " + unit
	}
	return strconv.Itoa(n) + " " + unit + "s"
}
