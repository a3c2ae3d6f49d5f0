package board

import (
	"fmt"
	"slices"

	"github.com/starford/pinboard/internal/apperr"
	"github.com/starford/pinboard/internal/models"
	"github.com/starford/pinboard/internal/ordering"
)

// ReplaceLists installs a snapshot of the list collection. Incoming lists
// carry no notes; notes already mirrored for a surviving list are kept.
type ReplaceLists struct {
	Lists []models.List
}

func (a ReplaceLists) apply(b Board) (Board, error) {
	lists := make([]models.List, len(a.Lists))
	for i, l := range a.Lists {
		if prev, ok := b.List(l.ID); ok {
			l.Notes = prev.Notes
		} else {
			l.Notes = nil
		}
		lists[i] = l
	}
	SortLists(lists)
	return Board{Lists: lists}, nil
}

// ReplaceNotes installs a snapshot of one list's notes. An empty snapshot
// clears the list.
type ReplaceNotes struct {
	ListID string
	Notes  []models.Note
}

func (a ReplaceNotes) apply(b Board) (Board, error) {
	i, l, err := b.mustList(a.ListID)
	if err != nil {
		return b, err
	}
	l.Notes = slices.Clone(a.Notes)
	SortNotes(l.Notes)
	return b.withList(i, l), nil
}

// AddList inserts a new list in key order.
type AddList struct {
	List models.List
}

func (a AddList) apply(b Board) (Board, error) {
	if b.ListIndex(a.List.ID) >= 0 {
		return b, fmt.Errorf("board: list %s: %w", a.List.ID, apperr.ErrAlreadyExists)
	}
	lists := append(slices.Clone(b.Lists), a.List)
	SortLists(lists)
	return Board{Lists: lists}, nil
}

// RemoveList drops a list and its notes.
type RemoveList struct {
	ListID string
}

func (a RemoveList) apply(b Board) (Board, error) {
	i, _, err := b.mustList(a.ListID)
	if err != nil {
		return b, err
	}
	return Board{Lists: slices.Delete(slices.Clone(b.Lists), i, i+1)}, nil
}

// UpdateList patches a list's name and/or editing flag. Nil fields are left alone.
type UpdateList struct {
	ListID     string
	Name       *string
	IsEditable *bool
}

func (a UpdateList) apply(b Board) (Board, error) {
	i, l, err := b.mustList(a.ListID)
	if err != nil {
		return b, err
	}
	if a.Name != nil {
		l.Name = *a.Name
	}
	if a.IsEditable != nil {
		l.IsEditable = *a.IsEditable
	}
	return b.withList(i, l), nil
}

// AddNote inserts a note into a list in key order.
type AddNote struct {
	ListID string
	Note   models.Note
}

func (a AddNote) apply(b Board) (Board, error) {
	i, l, err := b.mustList(a.ListID)
	if err != nil {
		return b, err
	}
	if b.NoteIndex(i, a.Note.ID) >= 0 {
		return b, fmt.Errorf("board: note %s: %w", a.Note.ID, apperr.ErrAlreadyExists)
	}
	l.Notes = append(slices.Clone(l.Notes), a.Note)
	SortNotes(l.Notes)
	return b.withList(i, l), nil
}

// RemoveNote drops a note from a list.
type RemoveNote struct {
	ListID string
	NoteID string
}

func (a RemoveNote) apply(b Board) (Board, error) {
	li, ni, err := b.mustNote(a.ListID, a.NoteID)
	if err != nil {
		return b, err
	}
	l := b.Lists[li]
	l.Notes = slices.Delete(slices.Clone(l.Notes), ni, ni+1)
	return b.withList(li, l), nil
}

// UpdateNote patches a note's content and/or editing flag.
type UpdateNote struct {
	ListID     string
	NoteID     string
	Content    *string
	IsEditable *bool
}

func (a UpdateNote) apply(b Board) (Board, error) {
	li, ni, err := b.mustNote(a.ListID, a.NoteID)
	if err != nil {
		return b, err
	}
	l := b.Lists[li]
	l.Notes = slices.Clone(l.Notes)
	n := l.Notes[ni]
	if a.Content != nil {
		n.Content = *a.Content
	}
	if a.IsEditable != nil {
		n.IsEditable = *a.IsEditable
	}
	l.Notes[ni] = n
	return b.withList(li, l), nil
}

// ReorderNotes moves a note inside one list, re-keying only that note.
type ReorderNotes struct {
	ListID string
	From   int
	To     int
}

func (a ReorderNotes) apply(b Board) (Board, error) {
	i, l, err := b.mustList(a.ListID)
	if err != nil {
		return b, err
	}
	notes, _, _, err := ordering.Reorder(l.Notes, a.From, a.To)
	if err != nil {
		return b, err
	}
	l.Notes = notes
	return b.withList(i, l), nil
}

// MoveNote relocates a note to another list. The relocated note takes
// NewID, the identifier the store assigned to its new record.
type MoveNote struct {
	FromListID string
	FromIndex  int
	ToListID   string
	ToIndex    int
	NewID      string
}

func (a MoveNote) apply(b Board) (Board, error) {
	si, src, err := b.mustList(a.FromListID)
	if err != nil {
		return b, err
	}
	di, dst, err := b.mustList(a.ToListID)
	if err != nil {
		return b, err
	}
	if si == di {
		return b, fmt.Errorf("%w: move within list %s", apperr.ErrInvalidMove, a.FromListID)
	}
	newSrc, newDst, _, err := ordering.Move(src.Notes, dst.Notes, a.FromIndex, a.ToIndex)
	if err != nil {
		return b, err
	}
	if a.NewID != "" {
		newDst[a.ToIndex].ID = a.NewID
	}
	src.Notes = newSrc
	dst.Notes = newDst

	lists := slices.Clone(b.Lists)
	lists[si] = src
	lists[di] = dst
	return Board{Lists: lists}, nil
}

// ReorderLists moves a list to another position, re-keying only that list.
type ReorderLists struct {
	From int
	To   int
}

func (a ReorderLists) apply(b Board) (Board, error) {
	lists, _, _, err := ordering.Reorder(b.Lists, a.From, a.To)
	if err != nil {
		return b, err
	}
	return Board{Lists: lists}, nil
}

// RebalanceNotes renumbers a list's note keys to 0..n-1.
type RebalanceNotes struct {
	ListID string
}

func (a RebalanceNotes) apply(b Board) (Board, error) {
	i, l, err := b.mustList(a.ListID)
	if err != nil {
		return b, err
	}
	l.Notes, _ = ordering.Rebalance(l.Notes)
	return b.withList(i, l), nil
}

// RebalanceLists renumbers list keys to 0..n-1.
type RebalanceLists struct{}

func (RebalanceLists) apply(b Board) (Board, error) {
	lists, _ := ordering.Rebalance(b.Lists)
	return Board{Lists: lists}, nil
}
