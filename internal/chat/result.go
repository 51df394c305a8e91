package chat

import "github.com/eldtechnologies/rtchat/internal/models"

// RenderedMessage is a message prepared for one particular viewer.
type RenderedMessage struct {
	ID            uint64 `json:"id"`
	AuthorID      uint64 `json:"uid"`
	AuthorName    string `json:"username"`
	AuthorAvatar  string `json:"avatar,omitempty"`
	RecipientID   uint64 `json:"touid,omitempty"`
	RecipientName string `json:"to_username,omitempty"`
	Body          string `json:"original_message"`
	Markup        string `json:"message"`
	Timestamp     int64  `json:"dateline"`
	CanEdit       bool   `json:"can_edit"`
	CanDelete     bool   `json:"can_delete"`
	CanWhisper    bool   `json:"can_whisper"`
	Ephemeral     bool   `json:"ephemeral,omitempty"`
}

// Cursor tells the client where the returned messages sit in the log.
// First and Last are the smallest and largest ids returned; Loaded lists
// every visible id the client now holds.
type Cursor struct {
	First  uint64   `json:"first,omitempty"`
	Last   uint64   `json:"last,omitempty"`
	Loaded []uint64 `json:"loaded,omitempty"`
}

func (c *Cursor) track(id uint64) {
	if c.First == 0 || id < c.First {
		c.First = id
	}
	if id > c.Last {
		c.Last = id
	}
	c.Loaded = append(c.Loaded, id)
}

// Result is what every successful read or write returns.
type Result struct {
	Messages []RenderedMessage `json:"messages"`
	Cursor   Cursor            `json:"cursor"`
}

func (s *Service) render(viewer Identity, m models.Message) RenderedMessage {
	own := viewer.LoggedIn() && m.AuthorID == viewer.UserID
	moderator := viewer.LoggedIn() && s.perms.CanModerate(viewer)

	return RenderedMessage{
		ID:            m.ID,
		AuthorID:      m.AuthorID,
		AuthorName:    m.AuthorName,
		AuthorAvatar:  m.AuthorAvatar,
		RecipientID:   m.RecipientID,
		RecipientName: m.RecipientName,
		Body:          m.Body,
		Markup:        s.renderer.Render(m.Body),
		Timestamp:     m.CreatedAt.Unix(),
		CanEdit:       own || moderator,
		CanDelete:     own || moderator,
		CanWhisper:    s.canWhisperTo(viewer, m, own, moderator),
	}
}

// canWhisperTo reports whether viewer gets the whisper action on m. It
// mirrors the checks Create applies to a whisper.
func (s *Service) canWhisperTo(viewer Identity, m models.Message, own, moderator bool) bool {
	if !viewer.LoggedIn() || own || m.AuthorID == s.opts.BotUserID {
		return false
	}
	if !moderator && !s.perms.CanPost(viewer) {
		return false
	}
	return s.perms.CanWhisper(viewer)
}
