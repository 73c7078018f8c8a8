package handler

import (
	"encoding/json"
	"regexp"

	validation "github.com/go-ozzo/ozzo-validation/v4"

	"inkwell/internal/httputil"
)

// MaxNameLength bounds folder names and document titles.
const MaxNameLength = 255

var noSlashes = regexp.MustCompile(`^[^/]+$`)

// CreateFolderRequest is the body for POST /api/folders.
type CreateFolderRequest struct {
	Name     string  `json:"name"`
	ParentID *string `json:"parent_id"`
}

func (r *CreateFolderRequest) Validate() error {
	return validation.ValidateStruct(r,
		validation.Field(&r.Name,
			validation.Required,
			validation.Length(1, MaxNameLength),
			validation.Match(noSlashes).Error("folder name cannot contain slashes"),
		),
	)
}

// UpdateFolderRequest is the body for PATCH /api/folders/{id}. Rename, move,
// and reorder are each optional; at least one must be present. ParentID uses
// merge-patch semantics: absent means keep, null means move to root.
type UpdateFolderRequest struct {
	Name     *string                 `json:"name"`
	ParentID httputil.OptionalString `json:"parent_id"`
	Index    *int                    `json:"index"`
}

func (r *UpdateFolderRequest) Validate() error {
	rules := []*validation.FieldRules{}
	if r.Name != nil {
		rules = append(rules, validation.Field(&r.Name,
			validation.Length(1, MaxNameLength),
			validation.Match(noSlashes).Error("folder name cannot contain slashes"),
		))
	}
	if r.Index != nil {
		rules = append(rules, validation.Field(&r.Index, validation.Min(0)))
	}
	return validation.ValidateStruct(r, rules...)
}

func (r *UpdateFolderRequest) empty() bool {
	return r.Name == nil && !r.ParentID.Present && r.Index == nil
}

// CreateDocumentRequest is the body for POST /api/documents.
type CreateDocumentRequest struct {
	Title    string  `json:"title"`
	FolderID *string `json:"folder_id"`
}

func (r *CreateDocumentRequest) Validate() error {
	return validation.ValidateStruct(r,
		validation.Field(&r.Title,
			validation.Required,
			validation.Length(1, MaxNameLength),
		),
	)
}

// UpdateDocumentRequest is the body for PATCH /api/documents/{id}.
type UpdateDocumentRequest struct {
	Title    *string                 `json:"title"`
	FolderID httputil.OptionalString `json:"folder_id"`
	Index    *int                    `json:"index"`
}

func (r *UpdateDocumentRequest) Validate() error {
	rules := []*validation.FieldRules{}
	if r.Title != nil {
		rules = append(rules, validation.Field(&r.Title, validation.Length(1, MaxNameLength)))
	}
	if r.Index != nil {
		rules = append(rules, validation.Field(&r.Index, validation.Min(0)))
	}
	return validation.ValidateStruct(r, rules...)
}

func (r *UpdateDocumentRequest) empty() bool {
	return r.Title == nil && !r.FolderID.Present && r.Index == nil
}

// ContentRequest is the body for PUT /api/documents/{id}/content. Content
// is the full post-edit rich-text value; the server never diffs.
type ContentRequest struct {
	Content json.RawMessage `json:"content"`
}

func (r *ContentRequest) Validate() error {
	return validation.ValidateStruct(r,
		validation.Field(&r.Content, validation.Required),
	)
}

// DropRequest is the body for POST /api/drop: a drag-and-drop intent.
type DropRequest struct {
	SourceID string `json:"source_id"`
	TargetID string `json:"target_id"`
	Position string `json:"position"` // above | below | inside
}

func (r *DropRequest) Validate() error {
	return validation.ValidateStruct(r,
		validation.Field(&r.SourceID, validation.Required),
		validation.Field(&r.TargetID, validation.Required),
		validation.Field(&r.Position,
			validation.Required,
			validation.In("above", "below", "inside"),
		),
	)
}

// ConnectivityRequest is the body for PUT /api/sync/connectivity.
type ConnectivityRequest struct {
	Online *bool `json:"online"`
}

func (r *ConnectivityRequest) Validate() error {
	return validation.ValidateStruct(r,
		validation.Field(&r.Online, validation.NotNil),
	)
}
