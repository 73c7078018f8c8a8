package hierarchy

import (
	"inkwell/internal/domain"
	"inkwell/internal/domain/models"
)

// DropPosition is the already-resolved intent of a drag-and-drop gesture.
// Pixel geometry stays in the presentation layer; the store only ever sees
// one of these relative to a target node.
type DropPosition string

const (
	DropAbove  DropPosition = "above"
	DropBelow  DropPosition = "below"
	DropInside DropPosition = "inside"
)

// DropRequest moves SourceID relative to TargetID.
type DropRequest struct {
	SourceID string       `json:"source_id"`
	TargetID string       `json:"target_id"`
	Position DropPosition `json:"position"`
}

// Drop applies a drag-and-drop move. `inside` on a folder reparents the
// source and appends it; `above`/`below` on a sibling repositions the
// source immediately before/after that sibling, reparenting first when the
// drop crosses parents. Either the whole move commits or the tree is left
// exactly as it was.
func (s *Store) Drop(req DropRequest) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if req.SourceID == req.TargetID {
		return &domain.ValidationError{Message: "cannot drop a node onto itself"}
	}

	switch req.Position {
	case DropInside:
		if _, ok := s.folders[req.TargetID]; !ok {
			if _, isDoc := s.documents[req.TargetID]; isDoc {
				return &domain.ValidationError{Message: "cannot drop inside a document"}
			}
			return &domain.NotFoundError{Kind: "folder", ID: req.TargetID}
		}
		target := req.TargetID
		if _, ok := s.documents[req.SourceID]; ok {
			return s.moveDocumentLocked(req.SourceID, &target)
		}
		if _, ok := s.folders[req.SourceID]; ok {
			return s.moveFolderLocked(req.SourceID, &target)
		}
		return &domain.NotFoundError{Kind: "document", ID: req.SourceID}

	case DropAbove, DropBelow:
		if _, ok := s.documents[req.SourceID]; ok {
			return s.dropDocumentBesideLocked(req.SourceID, req.TargetID, req.Position)
		}
		if _, ok := s.folders[req.SourceID]; ok {
			return s.dropFolderBesideLocked(req.SourceID, req.TargetID, req.Position)
		}
		return &domain.NotFoundError{Kind: "document", ID: req.SourceID}

	default:
		return &domain.ValidationError{Message: "drop position must be above, below, or inside"}
	}
}

func (s *Store) dropDocumentBesideLocked(sourceID, targetID string, pos DropPosition) error {
	target, ok := s.documents[targetID]
	if !ok {
		if _, isFolder := s.folders[targetID]; isFolder {
			return &domain.ValidationError{Message: "cannot order a document relative to a folder"}
		}
		return &domain.NotFoundError{Kind: "document", ID: targetID}
	}
	source := s.documents[sourceID]

	destParent := cloneID(target.FolderID)
	if !sameParent(source.FolderID, destParent) {
		if err := s.moveDocumentLocked(sourceID, destParent); err != nil {
			return err
		}
	}

	siblings := s.documentsInLocked(destParent)
	index := besideIndex(documentIndex(siblings, targetID), documentIndex(siblings, sourceID), pos)
	return s.reorderDocumentLocked(sourceID, index)
}

func (s *Store) dropFolderBesideLocked(sourceID, targetID string, pos DropPosition) error {
	target, ok := s.folders[targetID]
	if !ok {
		if _, isDoc := s.documents[targetID]; isDoc {
			return &domain.ValidationError{Message: "cannot order a folder relative to a document"}
		}
		return &domain.NotFoundError{Kind: "folder", ID: targetID}
	}
	source := s.folders[sourceID]

	destParent := cloneID(target.ParentID)
	if !sameParent(source.ParentID, destParent) {
		if err := s.moveFolderLocked(sourceID, destParent); err != nil {
			return err
		}
	}

	siblings := s.childFoldersLocked(destParent)
	index := besideIndex(folderIndex(siblings, targetID), folderIndex(siblings, sourceID), pos)
	return s.reorderFolderLocked(sourceID, index)
}

// besideIndex converts (target index, source index, above|below) in the
// full sibling list into the source's final index in the list with the
// source removed. When the source currently sits before the insertion
// point, pulling it out shifts everything after it down by one.
func besideIndex(targetIdx, sourceIdx int, pos DropPosition) int {
	index := targetIdx
	if pos == DropBelow {
		index = targetIdx + 1
	}
	if sourceIdx >= 0 && sourceIdx < index {
		index--
	}
	return index
}

func documentIndex(siblings []*models.Document, id string) int {
	for i, d := range siblings {
		if d.ID == id {
			return i
		}
	}
	return -1
}

func folderIndex(siblings []*models.Folder, id string) int {
	for i, f := range siblings {
		if f.ID == id {
			return i
		}
	}
	return -1
}
