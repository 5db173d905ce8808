package models

import "time"

// Session is one browser conversation as archived between requests: the thread it continues and the
// acknowledged messages it showed.
type Session struct {
	ID        string    `json:"id"`
	ThreadID  string    `json:"threadId"`
	Messages  []Message `json:"messages"`
	UpdatedAt time.Time `json:"updatedAt"`
}
