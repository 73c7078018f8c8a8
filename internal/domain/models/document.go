package models

import (
	"encoding/json"
	"time"
)

// Document is a note. Content is the editor's serialized tree; the sync
// engine treats it as an opaque value and never inspects it.
type Document struct {
	ID        string          `json:"id" db:"id"`
	Title     string          `json:"title" db:"title"`
	Content   json.RawMessage `json:"content,omitempty" db:"content"`
	FolderID  *string         `json:"folder_id" db:"folder_id"` // NULL = root level
	OrderKey  string          `json:"order_key" db:"order_key"`
	UpdatedAt time.Time       `json:"updated_at" db:"updated_at"`
}

// Clone returns a deep copy safe to hand outside the hierarchy store.
func (d *Document) Clone() Document {
	out := *d
	if d.FolderID != nil {
		id := *d.FolderID
		out.FolderID = &id
	}
	if d.Content != nil {
		out.Content = append(json.RawMessage(nil), d.Content...)
	}
	return out
}
