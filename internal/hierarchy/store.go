package hierarchy

import (
	"encoding/json"
	"fmt"
	"log/slog"
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"

	"inkwell/internal/domain"
	"inkwell/internal/domain/models"
)

// MutationSink receives one record per committed local mutation, in commit
// order. The offline queue implements this; the store never talks to the
// remote side itself.
type MutationSink interface {
	RecordMutation(target models.TargetType, targetID string, op models.Operation, payload json.RawMessage)
}

// Store is the ordered hierarchy store: the single owner of Document and
// Folder entities for a session. Every operation is one atomic transition
// of the in-memory tree; operations that commit emit exactly one mutation
// per changed entity. All operations are synchronous with respect to
// in-memory state and never wait on the network.
type Store struct {
	mu        sync.RWMutex
	folders   map[string]*models.Folder
	documents map[string]*models.Document
	sink      MutationSink
	logger    *slog.Logger

	now   func() time.Time
	newID func() string
}

// NewStore creates an empty hierarchy store emitting mutations to sink.
func NewStore(sink MutationSink, logger *slog.Logger) *Store {
	return &Store{
		folders:   make(map[string]*models.Folder),
		documents: make(map[string]*models.Document),
		sink:      sink,
		logger:    logger,
		now:       time.Now,
		newID:     uuid.NewString,
	}
}

// Hydrate replaces the in-memory tree with persisted state. No mutations
// are emitted; the pending queue already carries whatever was unsynced.
func (s *Store) Hydrate(folders []models.Folder, documents []models.Document) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.folders = make(map[string]*models.Folder, len(folders))
	for i := range folders {
		f := folders[i].Clone()
		s.folders[f.ID] = &f
	}
	s.documents = make(map[string]*models.Document, len(documents))
	for i := range documents {
		d := documents[i].Clone()
		s.documents[d.ID] = &d
	}
}

// Snapshot returns copies of all entities for persistence.
func (s *Store) Snapshot() ([]models.Folder, []models.Document) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	folders := make([]models.Folder, 0, len(s.folders))
	for _, f := range s.folders {
		folders = append(folders, f.Clone())
	}
	documents := make([]models.Document, 0, len(s.documents))
	for _, d := range s.documents {
		documents = append(documents, d.Clone())
	}
	sort.Slice(folders, func(i, j int) bool { return folders[i].ID < folders[j].ID })
	sort.Slice(documents, func(i, j int) bool { return documents[i].ID < documents[j].ID })
	return folders, documents
}

// CreateFolder creates a folder as the last sibling under parentID
// (nil = root).
func (s *Store) CreateFolder(parentID *string, name string) (models.Folder, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if name == "" {
		return models.Folder{}, &domain.ValidationError{Message: "folder name is required"}
	}
	if parentID != nil {
		if _, ok := s.folders[*parentID]; !ok {
			return models.Folder{}, &domain.NotFoundError{Kind: "folder", ID: *parentID}
		}
	}
	siblings := s.childFoldersLocked(parentID)
	for _, sib := range siblings {
		if sib.Name == name {
			return models.Folder{}, &domain.ConflictError{
				Message:      fmt.Sprintf("a folder named %q already exists in this location", name),
				ResourceType: "folder",
				ResourceID:   sib.ID,
			}
		}
	}

	key, err := appendKey(folderKeys(siblings))
	if err != nil {
		return models.Folder{}, err
	}
	folder := &models.Folder{
		ID:        s.newID(),
		Name:      name,
		ParentID:  cloneID(parentID),
		OrderKey:  key,
		UpdatedAt: s.now(),
	}
	s.folders[folder.ID] = folder

	s.emit(models.TargetFolder, folder.ID, models.OpCreate, models.CreateFolderPayload{
		Name:     folder.Name,
		ParentID: cloneID(folder.ParentID),
		OrderKey: folder.OrderKey,
	})
	s.logger.Debug("folder created", "id", folder.ID, "name", name)
	return folder.Clone(), nil
}

// CreateDocument creates a document as the last sibling in folderID
// (nil = root).
func (s *Store) CreateDocument(folderID *string, title string) (models.Document, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if title == "" {
		return models.Document{}, &domain.ValidationError{Message: "document title is required"}
	}
	if folderID != nil {
		if _, ok := s.folders[*folderID]; !ok {
			return models.Document{}, &domain.NotFoundError{Kind: "folder", ID: *folderID}
		}
	}
	siblings := s.documentsInLocked(folderID)
	for _, sib := range siblings {
		if sib.Title == title {
			return models.Document{}, &domain.ConflictError{
				Message:      fmt.Sprintf("a document titled %q already exists in this location", title),
				ResourceType: "document",
				ResourceID:   sib.ID,
			}
		}
	}

	key, err := appendKey(documentKeys(siblings))
	if err != nil {
		return models.Document{}, err
	}
	doc := &models.Document{
		ID:        s.newID(),
		Title:     title,
		FolderID:  cloneID(folderID),
		OrderKey:  key,
		UpdatedAt: s.now(),
	}
	s.documents[doc.ID] = doc

	s.emit(models.TargetDocument, doc.ID, models.OpCreate, models.CreateDocumentPayload{
		Title:    doc.Title,
		FolderID: cloneID(doc.FolderID),
		OrderKey: doc.OrderKey,
	})
	s.logger.Debug("document created", "id", doc.ID, "title", title)
	return doc.Clone(), nil
}

// RenameFolder changes a folder's name.
func (s *Store) RenameFolder(id, name string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	folder, ok := s.folders[id]
	if !ok {
		return &domain.NotFoundError{Kind: "folder", ID: id}
	}
	if name == "" {
		return &domain.ValidationError{Message: "folder name is required"}
	}
	for _, sib := range s.childFoldersLocked(folder.ParentID) {
		if sib.ID != id && sib.Name == name {
			return &domain.ConflictError{
				Message:      fmt.Sprintf("a folder named %q already exists in this location", name),
				ResourceType: "folder",
				ResourceID:   sib.ID,
			}
		}
	}
	folder.Name = name
	folder.UpdatedAt = s.now()
	s.emit(models.TargetFolder, id, models.OpRename, models.RenamePayload{Name: name})
	return nil
}

// UpdateTitle changes a document's title.
func (s *Store) UpdateTitle(documentID, title string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	doc, ok := s.documents[documentID]
	if !ok {
		return &domain.NotFoundError{Kind: "document", ID: documentID}
	}
	if title == "" {
		return &domain.ValidationError{Message: "document title is required"}
	}
	for _, sib := range s.documentsInLocked(doc.FolderID) {
		if sib.ID != documentID && sib.Title == title {
			return &domain.ConflictError{
				Message:      fmt.Sprintf("a document titled %q already exists in this location", title),
				ResourceType: "document",
				ResourceID:   sib.ID,
			}
		}
	}
	doc.Title = title
	doc.UpdatedAt = s.now()
	s.emit(models.TargetDocument, documentID, models.OpRename, models.RenamePayload{Name: title})
	return nil
}

// UpsertContent replaces a document's content. This is the commit target of
// the write coalescer.
func (s *Store) UpsertContent(documentID string, content json.RawMessage) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	doc, ok := s.documents[documentID]
	if !ok {
		return &domain.NotFoundError{Kind: "document", ID: documentID}
	}
	doc.Content = append(json.RawMessage(nil), content...)
	doc.UpdatedAt = s.now()
	s.emit(models.TargetDocument, documentID, models.OpUpsertContent, models.UpsertContentPayload{
		Content: doc.Content,
	})
	return nil
}

// MoveDocumentToFolder reparents a document, placing it last among the
// destination's documents.
func (s *Store) MoveDocumentToFolder(documentID string, folderID *string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.moveDocumentLocked(documentID, folderID)
}

func (s *Store) moveDocumentLocked(documentID string, folderID *string) error {
	doc, ok := s.documents[documentID]
	if !ok {
		return &domain.NotFoundError{Kind: "document", ID: documentID}
	}
	if folderID != nil {
		if _, ok := s.folders[*folderID]; !ok {
			return &domain.NotFoundError{Kind: "folder", ID: *folderID}
		}
	}

	siblings := s.documentsInLocked(folderID)
	siblings = excludeDocument(siblings, documentID)
	key, err := appendKey(documentKeys(siblings))
	if err != nil {
		return err
	}
	doc.FolderID = cloneID(folderID)
	doc.OrderKey = key
	doc.UpdatedAt = s.now()
	s.emit(models.TargetDocument, documentID, models.OpMove, models.MovePayload{
		ParentID: cloneID(folderID),
		OrderKey: key,
	})
	return nil
}

// MoveFolderTo reparents a folder, placing it last among the destination's
// folders. Fails with a CycleError if newParentID is the folder itself or
// one of its descendants.
func (s *Store) MoveFolderTo(folderID string, newParentID *string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.moveFolderLocked(folderID, newParentID)
}

func (s *Store) moveFolderLocked(folderID string, newParentID *string) error {
	folder, ok := s.folders[folderID]
	if !ok {
		return &domain.NotFoundError{Kind: "folder", ID: folderID}
	}
	if newParentID != nil {
		if _, ok := s.folders[*newParentID]; !ok {
			return &domain.NotFoundError{Kind: "folder", ID: *newParentID}
		}
		if err := s.checkCycleLocked(folderID, *newParentID); err != nil {
			return err
		}
	}

	siblings := s.childFoldersLocked(newParentID)
	siblings = excludeFolder(siblings, folderID)
	key, err := appendKey(folderKeys(siblings))
	if err != nil {
		return err
	}
	folder.ParentID = cloneID(newParentID)
	folder.OrderKey = key
	folder.UpdatedAt = s.now()
	s.emit(models.TargetFolder, folderID, models.OpMove, models.MovePayload{
		ParentID: cloneID(newParentID),
		OrderKey: key,
	})
	return nil
}

// checkCycleLocked walks the ancestor chain of candidateParent up to root
// and fails if it passes through folderID.
func (s *Store) checkCycleLocked(folderID, candidateParent string) error {
	current := &candidateParent
	for current != nil {
		if *current == folderID {
			return &domain.CycleError{FolderID: folderID, NewParentID: candidateParent}
		}
		parent, ok := s.folders[*current]
		if !ok {
			return &domain.NotFoundError{Kind: "folder", ID: *current}
		}
		current = parent.ParentID
	}
	return nil
}

// ReorderDocument repositions a document at targetIndex within its current
// sibling list. targetIndex is the document's final zero-based index after
// it has been removed from its old slot.
func (s *Store) ReorderDocument(documentID string, targetIndex int) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.reorderDocumentLocked(documentID, targetIndex)
}

func (s *Store) reorderDocumentLocked(documentID string, targetIndex int) error {
	doc, ok := s.documents[documentID]
	if !ok {
		return &domain.NotFoundError{Kind: "document", ID: documentID}
	}
	siblings := excludeDocument(s.documentsInLocked(doc.FolderID), documentID)
	targetIndex = clampIndex(targetIndex, len(siblings))

	key, err := keyAt(documentKeys(siblings), targetIndex)
	if err == nil && len(key) <= renumberKeyLen {
		doc.OrderKey = key
		doc.UpdatedAt = s.now()
		s.emit(models.TargetDocument, documentID, models.OpReorder, models.ReorderPayload{OrderKey: key})
		return nil
	}

	// No usable midpoint (or keys have grown too long): renumber the whole
	// sibling list once.
	final := make([]*models.Document, 0, len(siblings)+1)
	final = append(final, siblings[:targetIndex]...)
	final = append(final, doc)
	final = append(final, siblings[targetIndex:]...)
	for i, k := range RankSpread(len(final)) {
		if final[i].OrderKey == k {
			continue
		}
		final[i].OrderKey = k
		final[i].UpdatedAt = s.now()
		s.emit(models.TargetDocument, final[i].ID, models.OpReorder, models.ReorderPayload{OrderKey: k})
	}
	return nil
}

// ReorderFolder repositions a folder at targetIndex within its current
// sibling list.
func (s *Store) ReorderFolder(folderID string, targetIndex int) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.reorderFolderLocked(folderID, targetIndex)
}

func (s *Store) reorderFolderLocked(folderID string, targetIndex int) error {
	folder, ok := s.folders[folderID]
	if !ok {
		return &domain.NotFoundError{Kind: "folder", ID: folderID}
	}
	siblings := excludeFolder(s.childFoldersLocked(folder.ParentID), folderID)
	targetIndex = clampIndex(targetIndex, len(siblings))

	key, err := keyAt(folderKeys(siblings), targetIndex)
	if err == nil && len(key) <= renumberKeyLen {
		folder.OrderKey = key
		folder.UpdatedAt = s.now()
		s.emit(models.TargetFolder, folderID, models.OpReorder, models.ReorderPayload{OrderKey: key})
		return nil
	}

	final := make([]*models.Folder, 0, len(siblings)+1)
	final = append(final, siblings[:targetIndex]...)
	final = append(final, folder)
	final = append(final, siblings[targetIndex:]...)
	for i, k := range RankSpread(len(final)) {
		if final[i].OrderKey == k {
			continue
		}
		final[i].OrderKey = k
		final[i].UpdatedAt = s.now()
		s.emit(models.TargetFolder, final[i].ID, models.OpReorder, models.ReorderPayload{OrderKey: k})
	}
	return nil
}

// DeleteFolder removes a folder. With cascade it recursively removes all
// descendant folders and documents; without, it fails if the folder has
// any children.
func (s *Store) DeleteFolder(id string, cascade bool) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if _, ok := s.folders[id]; !ok {
		return &domain.NotFoundError{Kind: "folder", ID: id}
	}
	hasChildren := len(s.childFoldersLocked(&id)) > 0 || len(s.documentsInLocked(&id)) > 0
	if hasChildren && !cascade {
		return &domain.NotEmptyError{FolderID: id}
	}
	s.deleteSubtreeLocked(id)

	// One mutation covers the subtree; the remote store cascades.
	s.emit(models.TargetFolder, id, models.OpDelete, models.DeletePayload{Cascade: cascade})
	return nil
}

func (s *Store) deleteSubtreeLocked(folderID string) {
	for _, child := range s.childFoldersLocked(&folderID) {
		s.deleteSubtreeLocked(child.ID)
	}
	for _, doc := range s.documentsInLocked(&folderID) {
		delete(s.documents, doc.ID)
	}
	delete(s.folders, folderID)
}

// DeleteDocument removes a document.
func (s *Store) DeleteDocument(id string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if _, ok := s.documents[id]; !ok {
		return &domain.NotFoundError{Kind: "document", ID: id}
	}
	delete(s.documents, id)
	s.emit(models.TargetDocument, id, models.OpDelete, nil)
	return nil
}

// GetDocument returns a copy of a document.
func (s *Store) GetDocument(id string) (models.Document, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	doc, ok := s.documents[id]
	if !ok {
		return models.Document{}, &domain.NotFoundError{Kind: "document", ID: id}
	}
	return doc.Clone(), nil
}

// GetFolder returns a copy of a folder.
func (s *Store) GetFolder(id string) (models.Folder, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	folder, ok := s.folders[id]
	if !ok {
		return models.Folder{}, &domain.NotFoundError{Kind: "folder", ID: id}
	}
	return folder.Clone(), nil
}

// ChildFolders returns the folders under parentID (nil = root), sorted by
// order key ascending.
func (s *Store) ChildFolders(parentID *string) []models.Folder {
	s.mu.RLock()
	defer s.mu.RUnlock()
	children := s.childFoldersLocked(parentID)
	out := make([]models.Folder, len(children))
	for i, f := range children {
		out[i] = f.Clone()
	}
	return out
}

// DocumentsIn returns the documents in folderID (nil = root), sorted by
// order key ascending.
func (s *Store) DocumentsIn(folderID *string) []models.Document {
	s.mu.RLock()
	defer s.mu.RUnlock()
	docs := s.documentsInLocked(folderID)
	out := make([]models.Document, len(docs))
	for i, d := range docs {
		out[i] = d.Clone()
	}
	return out
}

// Tree builds the nested folder/document tree, children sorted by order key.
func (s *Store) Tree() *models.TreeNode {
	s.mu.RLock()
	defer s.mu.RUnlock()

	nodes := make(map[string]*models.FolderTreeNode, len(s.folders))
	for _, f := range s.folders {
		nodes[f.ID] = &models.FolderTreeNode{
			ID:        f.ID,
			Name:      f.Name,
			ParentID:  cloneID(f.ParentID),
			OrderKey:  f.OrderKey,
			UpdatedAt: f.UpdatedAt,
			Folders:   []*models.FolderTreeNode{},
			Documents: []models.DocumentTreeNode{},
		}
	}

	root := &models.TreeNode{
		Folders:   []*models.FolderTreeNode{},
		Documents: []models.DocumentTreeNode{},
	}
	for _, f := range s.folders {
		node := nodes[f.ID]
		if f.ParentID == nil {
			root.Folders = append(root.Folders, node)
		} else if parent, ok := nodes[*f.ParentID]; ok {
			parent.Folders = append(parent.Folders, node)
		}
	}
	for _, d := range s.documents {
		docNode := models.DocumentTreeNode{
			ID:        d.ID,
			Title:     d.Title,
			FolderID:  cloneID(d.FolderID),
			OrderKey:  d.OrderKey,
			UpdatedAt: d.UpdatedAt,
		}
		if d.FolderID == nil {
			root.Documents = append(root.Documents, docNode)
		} else if parent, ok := nodes[*d.FolderID]; ok {
			parent.Documents = append(parent.Documents, docNode)
		}
	}

	sortFolderNodes(root.Folders)
	sortDocumentNodes(root.Documents)
	for _, node := range nodes {
		sortFolderNodes(node.Folders)
		sortDocumentNodes(node.Documents)
	}
	return root
}

func sortFolderNodes(nodes []*models.FolderTreeNode) {
	sort.Slice(nodes, func(i, j int) bool { return nodes[i].OrderKey < nodes[j].OrderKey })
}

func sortDocumentNodes(nodes []models.DocumentTreeNode) {
	sort.Slice(nodes, func(i, j int) bool { return nodes[i].OrderKey < nodes[j].OrderKey })
}

func (s *Store) childFoldersLocked(parentID *string) []*models.Folder {
	var out []*models.Folder
	for _, f := range s.folders {
		if sameParent(f.ParentID, parentID) {
			out = append(out, f)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].OrderKey < out[j].OrderKey })
	return out
}

func (s *Store) documentsInLocked(folderID *string) []*models.Document {
	var out []*models.Document
	for _, d := range s.documents {
		if sameParent(d.FolderID, folderID) {
			out = append(out, d)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].OrderKey < out[j].OrderKey })
	return out
}

func (s *Store) emit(target models.TargetType, targetID string, op models.Operation, payload any) {
	var raw json.RawMessage
	if payload != nil {
		raw = models.MarshalPayload(payload)
	}
	s.sink.RecordMutation(target, targetID, op, raw)
}

func sameParent(a, b *string) bool {
	if a == nil || b == nil {
		return a == nil && b == nil
	}
	return *a == *b
}

func cloneID(id *string) *string {
	if id == nil {
		return nil
	}
	v := *id
	return &v
}

func clampIndex(idx, max int) int {
	if idx < 0 {
		return 0
	}
	if idx > max {
		return max
	}
	return idx
}

// appendKey returns an order key sorting after all keys in the (sorted)
// sibling key list.
func appendKey(keys []string) (string, error) {
	if len(keys) == 0 {
		return RankInitial(), nil
	}
	return RankAfter(keys[len(keys)-1])
}

// keyAt returns an order key that sorts between the siblings on either
// side of insertion index idx in a sorted key list.
func keyAt(keys []string, idx int) (string, error) {
	lo, hi := "", ""
	if idx > 0 {
		lo = keys[idx-1]
	}
	if idx < len(keys) {
		hi = keys[idx]
	}
	return RankBetween(lo, hi)
}

func folderKeys(siblings []*models.Folder) []string {
	keys := make([]string, len(siblings))
	for i, f := range siblings {
		keys[i] = f.OrderKey
	}
	return keys
}

func documentKeys(siblings []*models.Document) []string {
	keys := make([]string, len(siblings))
	for i, d := range siblings {
		keys[i] = d.OrderKey
	}
	return keys
}

func excludeFolder(siblings []*models.Folder, id string) []*models.Folder {
	out := siblings[:0]
	for _, f := range siblings {
		if f.ID != id {
			out = append(out, f)
		}
	}
	return out
}

func excludeDocument(siblings []*models.Document, id string) []*models.Document {
	out := siblings[:0]
	for _, d := range siblings {
		if d.ID != id {
			out = append(out, d)
		}
	}
	return out
}
