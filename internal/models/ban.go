package models

import "time"

// Ban represents an active chat ban. There is at most one row per user.
type Ban struct {
	UserID    uint64    `json:"uid"`
	Reason    string    `json:"reason"`
	BannedAt  time.Time `json:"dateline"`
	ExpiresAt time.Time `json:"expires"`
}

// Active reports whether the ban still applies at now.
func (b Ban) Active(now time.Time) bool {
	return b.ExpiresAt.After(now)
}
