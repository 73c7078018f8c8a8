package models

import (
	"time"
)

// Folder groups documents and other folders. The parent graph is a tree:
// a folder can never become its own descendant's child.
type Folder struct {
	ID        string    `json:"id" db:"id"`
	Name      string    `json:"name" db:"name"`
	ParentID  *string   `json:"parent_id" db:"parent_id"` // NULL = root level
	OrderKey  string    `json:"order_key" db:"order_key"`
	UpdatedAt time.Time `json:"updated_at" db:"updated_at"`
}

// Clone returns a copy safe to hand outside the hierarchy store.
func (f *Folder) Clone() Folder {
	out := *f
	if f.ParentID != nil {
		id := *f.ParentID
		out.ParentID = &id
	}
	return out
}
