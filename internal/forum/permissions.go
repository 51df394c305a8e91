// Package forum evaluates chat permissions from forum user groups.
package forum

import (
	"slices"

	"github.com/eldtechnologies/rtchat/internal/chat"
	"github.com/eldtechnologies/rtchat/internal/config"
)

// AllGroups in a group list allows every group, guests included.
const AllGroups = -1

// GuestGroup is the group of callers without a session.
const GuestGroup = 1

// Permissions implements chat.PermissionChecker with per-capability group
// lists.
type Permissions struct {
	View     []int
	History  []int
	Moderate []int
	Whisper  []int

	WhisperEnabled bool
	MinPostCount   int
}

// NewPermissions builds the permission model from the chat settings.
func NewPermissions(cfg config.Chat) *Permissions {
	return &Permissions{
		View:           cfg.ViewGroups,
		History:        cfg.HistoryGroups,
		Moderate:       cfg.ModerateGroups,
		Whisper:        cfg.WhisperGroups,
		WhisperEnabled: cfg.WhisperEnabled,
		MinPostCount:   cfg.MinPosts,
	}
}

func (p *Permissions) CanView(id chat.Identity) bool {
	return allowed(p.View, id)
}

func (p *Permissions) CanViewHistory(id chat.Identity) bool {
	return allowed(p.History, id)
}

// CanModerate never grants guests, even with AllGroups configured.
func (p *Permissions) CanModerate(id chat.Identity) bool {
	return id.LoggedIn() && allowed(p.Moderate, id)
}

func (p *Permissions) CanWhisper(id chat.Identity) bool {
	return p.WhisperEnabled && id.LoggedIn() && allowed(p.Whisper, id)
}

func (p *Permissions) CanPost(id chat.Identity) bool {
	return id.PostCount >= p.MinPostCount
}

func (p *Permissions) MinPosts() int {
	return p.MinPostCount
}

func allowed(groups []int, id chat.Identity) bool {
	if slices.Contains(groups, AllGroups) {
		return true
	}
	group := id.Group
	if !id.LoggedIn() {
		group = GuestGroup
	}
	return slices.Contains(groups, group)
}
