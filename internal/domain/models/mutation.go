package models

import (
	"encoding/json"
	"time"
)

// TargetType identifies which entity a mutation touches.
type TargetType string

const (
	TargetDocument TargetType = "document"
	TargetFolder   TargetType = "folder"
)

// Operation identifies what a mutation does to its target.
type Operation string

const (
	// OpCreate inserts a new document or folder. Creation must be queued
	// like any other mutation so that a later move/reorder referencing the
	// node drains after the node exists remotely.
	OpCreate        Operation = "create"
	OpUpsertContent Operation = "upsertContent"
	OpRename        Operation = "rename"
	OpMove          Operation = "move"
	OpReorder       Operation = "reorder"
	OpDelete        Operation = "delete"
)

// PendingMutation is a queued change not yet confirmed by the remote store.
// Created the instant a local mutation is applied; removed only after the
// remote store acknowledges it; retried with backoff on failure; never
// silently dropped.
type PendingMutation struct {
	ID         int64           `json:"id"` // monotonic local sequence number
	TargetType TargetType      `json:"target_type"`
	TargetID   string          `json:"target_id"`
	Operation  Operation       `json:"operation"`
	Payload    json.RawMessage `json:"payload,omitempty"`
	CreatedAt  time.Time       `json:"created_at"`
	Attempts   int             `json:"attempts"`
	LastError  *string         `json:"last_error,omitempty"`
}

// Payload shapes, marshaled into PendingMutation.Payload. Each carries the
// full post-mutation value of the fields it changes so a replay against the
// remote store is last-writer-wins per field.

// CreateFolderPayload accompanies OpCreate on a folder.
type CreateFolderPayload struct {
	Name     string  `json:"name"`
	ParentID *string `json:"parent_id"`
	OrderKey string  `json:"order_key"`
}

// CreateDocumentPayload accompanies OpCreate on a document.
type CreateDocumentPayload struct {
	Title    string  `json:"title"`
	FolderID *string `json:"folder_id"`
	OrderKey string  `json:"order_key"`
}

// UpsertContentPayload accompanies OpUpsertContent.
type UpsertContentPayload struct {
	Content json.RawMessage `json:"content"`
}

// RenamePayload accompanies OpRename on either target type.
type RenamePayload struct {
	Name string `json:"name"`
}

// MovePayload accompanies OpMove: a reparent plus the order key assigned in
// the destination sibling list.
type MovePayload struct {
	ParentID *string `json:"parent_id"`
	OrderKey string  `json:"order_key"`
}

// ReorderPayload accompanies OpReorder.
type ReorderPayload struct {
	OrderKey string `json:"order_key"`
}

// DeletePayload accompanies OpDelete on a folder.
type DeletePayload struct {
	Cascade bool `json:"cascade,omitempty"`
}

// MarshalPayload encodes a payload value, panicking on programmer error
// (all payload types above are trivially marshalable).
func MarshalPayload(v any) json.RawMessage {
	data, err := json.Marshal(v)
	if err != nil {
		panic("models: unmarshalable mutation payload: " + err.Error())
	}
	return data
}
