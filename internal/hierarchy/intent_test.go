package hierarchy

import (
	"errors"
	"testing"

	"inkwell/internal/domain"
)

func TestBesideIndex(t *testing.T) {
	tests := []struct {
		name      string
		targetIdx int
		sourceIdx int
		pos       DropPosition
		want      int
	}{
		{name: "above target, source after", targetIdx: 1, sourceIdx: 3, pos: DropAbove, want: 1},
		{name: "above target, source before", targetIdx: 2, sourceIdx: 0, pos: DropAbove, want: 1},
		{name: "below target, source after", targetIdx: 1, sourceIdx: 3, pos: DropBelow, want: 2},
		{name: "below target, source before", targetIdx: 2, sourceIdx: 0, pos: DropBelow, want: 2},
		{name: "below own previous position", targetIdx: 0, sourceIdx: 1, pos: DropBelow, want: 1},
		{name: "source from another parent", targetIdx: 1, sourceIdx: -1, pos: DropAbove, want: 1},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := besideIndex(tt.targetIdx, tt.sourceIdx, tt.pos); got != tt.want {
				t.Errorf("besideIndex(%d, %d, %s) = %d, want %d",
					tt.targetIdx, tt.sourceIdx, tt.pos, got, tt.want)
			}
		})
	}
}

func TestDropAboveBelowSameParent(t *testing.T) {
	s, _ := newTestStore(t)

	a, _ := s.CreateDocument(nil, "A")
	s.CreateDocument(nil, "B")
	c, _ := s.CreateDocument(nil, "C")

	// Drop C above A: [C A B].
	if err := s.Drop(DropRequest{SourceID: c.ID, TargetID: a.ID, Position: DropAbove}); err != nil {
		t.Fatalf("Drop: %v", err)
	}
	if got := documentTitles(s.DocumentsIn(nil)); got[0] != "C" || got[1] != "A" || got[2] != "B" {
		t.Fatalf("after drop above, order = %v, want [C A B]", got)
	}

	// Drop C below A: [A C B].
	if err := s.Drop(DropRequest{SourceID: c.ID, TargetID: a.ID, Position: DropBelow}); err != nil {
		t.Fatalf("Drop: %v", err)
	}
	if got := documentTitles(s.DocumentsIn(nil)); got[0] != "A" || got[1] != "C" || got[2] != "B" {
		t.Fatalf("after drop below, order = %v, want [A C B]", got)
	}
}

func TestDropInsideFolder(t *testing.T) {
	s, _ := newTestStore(t)

	f, _ := s.CreateFolder(nil, "F")
	s.CreateDocument(&f.ID, "existing")
	doc, _ := s.CreateDocument(nil, "moved")

	if err := s.Drop(DropRequest{SourceID: doc.ID, TargetID: f.ID, Position: DropInside}); err != nil {
		t.Fatalf("Drop inside: %v", err)
	}

	got := documentTitles(s.DocumentsIn(&f.ID))
	if len(got) != 2 || got[1] != "moved" {
		t.Errorf("dropped document should land last in folder, got %v", got)
	}

	// Folders can be dropped inside folders too.
	sub, _ := s.CreateFolder(nil, "Sub")
	if err := s.Drop(DropRequest{SourceID: sub.ID, TargetID: f.ID, Position: DropInside}); err != nil {
		t.Fatalf("Drop folder inside: %v", err)
	}
	gotSub, _ := s.GetFolder(sub.ID)
	if gotSub.ParentID == nil || *gotSub.ParentID != f.ID {
		t.Errorf("folder not reparented by inside drop")
	}
}

// A cross-parent above/below drop reparents first, then positions: the
// source must land exactly beside the target in the destination list.
func TestDropBesideAcrossParents(t *testing.T) {
	s, _ := newTestStore(t)

	f, _ := s.CreateFolder(nil, "F")
	s.CreateDocument(&f.ID, "one")
	two, _ := s.CreateDocument(&f.ID, "two")
	outside, _ := s.CreateDocument(nil, "outside")

	if err := s.Drop(DropRequest{SourceID: outside.ID, TargetID: two.ID, Position: DropAbove}); err != nil {
		t.Fatalf("Drop: %v", err)
	}

	got := documentTitles(s.DocumentsIn(&f.ID))
	if len(got) != 3 || got[0] != "one" || got[1] != "outside" || got[2] != "two" {
		t.Fatalf("after cross-parent drop, order = %v, want [one outside two]", got)
	}
	if len(s.DocumentsIn(nil)) != 0 {
		t.Errorf("source still present at root")
	}
}

func TestDropRejections(t *testing.T) {
	s, _ := newTestStore(t)

	f, _ := s.CreateFolder(nil, "F")
	doc, _ := s.CreateDocument(nil, "D")
	sub, _ := s.CreateFolder(&f.ID, "Sub")

	tests := []struct {
		name string
		req  DropRequest
		want error
	}{
		{
			name: "onto itself",
			req:  DropRequest{SourceID: doc.ID, TargetID: doc.ID, Position: DropInside},
			want: domain.ErrValidation,
		},
		{
			name: "inside a document",
			req:  DropRequest{SourceID: f.ID, TargetID: doc.ID, Position: DropInside},
			want: domain.ErrValidation,
		},
		{
			name: "document beside a folder",
			req:  DropRequest{SourceID: doc.ID, TargetID: f.ID, Position: DropAbove},
			want: domain.ErrValidation,
		},
		{
			name: "folder beside a document",
			req:  DropRequest{SourceID: f.ID, TargetID: doc.ID, Position: DropBelow},
			want: domain.ErrValidation,
		},
		{
			name: "folder inside own descendant",
			req:  DropRequest{SourceID: f.ID, TargetID: sub.ID, Position: DropInside},
			want: domain.ErrCycle,
		},
		{
			name: "unknown position",
			req:  DropRequest{SourceID: doc.ID, TargetID: f.ID, Position: "beside"},
			want: domain.ErrValidation,
		},
		{
			name: "missing source",
			req:  DropRequest{SourceID: "ghost", TargetID: f.ID, Position: DropInside},
			want: domain.ErrNotFound,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if err := s.Drop(tt.req); !errors.Is(err, tt.want) {
				t.Errorf("Drop(%+v) = %v, want %v", tt.req, err, tt.want)
			}
		})
	}
}
