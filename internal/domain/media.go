package domain

import "time"

// Media is an image stored in the object store. Filename is the unique
// business key derived from the source URL; at most one row exists per
// filename.
type Media struct {
	ID        string    `json:"id"`
	Filename  string    `json:"filename"`
	URL       string    `json:"url"`
	Size      int64     `json:"size,omitempty"`
	Hash      string    `json:"hash,omitempty"`
	CreatedAt time.Time `json:"created_at"`
}
