package models

// User is the forum account as seen by the chat. The forum owns these rows.
type User struct {
	ID        uint64 `json:"uid"`
	Username  string `json:"username"`
	Avatar    string `json:"avatar,omitempty"`
	Group     int    `json:"usergroup"`
	PostCount int    `json:"postnum"`
}

// TopPoster is one row of the chat statistics page.
type TopPoster struct {
	UserID        uint64 `json:"uid"`
	Username      string `json:"username"`
	TotalMessages int64  `json:"total_messages"`
}
