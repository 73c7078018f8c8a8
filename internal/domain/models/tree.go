package models

import "time"

// TreeNode represents the root of the folder/document tree.
type TreeNode struct {
	Folders   []*FolderTreeNode  `json:"folders"`
	Documents []DocumentTreeNode `json:"documents"`
}

// FolderTreeNode represents a folder in the tree with nested children.
// Children are sorted by order key ascending.
type FolderTreeNode struct {
	ID        string             `json:"id"`
	Name      string             `json:"name"`
	ParentID  *string            `json:"parent_id"`
	OrderKey  string             `json:"order_key"`
	UpdatedAt time.Time          `json:"updated_at"`
	Folders   []*FolderTreeNode  `json:"folders"` // Pointers for proper nesting
	Documents []DocumentTreeNode `json:"documents"`
}

// DocumentTreeNode represents a document in the tree (metadata only, no content).
type DocumentTreeNode struct {
	ID        string    `json:"id"`
	Title     string    `json:"title"`
	FolderID  *string   `json:"folder_id"`
	OrderKey  string    `json:"order_key"`
	UpdatedAt time.Time `json:"updated_at"`
}
