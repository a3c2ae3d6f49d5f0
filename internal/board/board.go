// Package board holds the immutable in-memory board and the pure
// transitions applied to it.
//
// Every Action produces a new Board; the input is never modified, so a
// published *Board can be read concurrently without locking.
package board

import (
	"cmp"
	"fmt"
	"slices"

	"github.com/starford/pinboard/internal/apperr"
	"github.com/starford/pinboard/internal/models"
)

// Board is the ordered set of a user's lists.
type Board struct {
	Lists []models.List `json:"lists"`
}

// Action is a single state transition.
type Action interface {
	apply(b Board) (Board, error)
}

// Apply returns the board produced by a, or the error that prevented it.
// On error the returned board is b unchanged.
func Apply(b Board, a Action) (Board, error) {
	next, err := a.apply(b)
	if err != nil {
		return b, err
	}
	return next, nil
}

// ListIndex returns the position of the list with id, or -1.
func (b Board) ListIndex(id string) int {
	return slices.IndexFunc(b.Lists, func(l models.List) bool { return l.ID == id })
}

// List returns the list with id.
func (b Board) List(id string) (models.List, bool) {
	i := b.ListIndex(id)
	if i < 0 {
		return models.List{}, false
	}
	return b.Lists[i], true
}

// NoteIndex returns the position of a note inside the list at position li, or -1.
func (b Board) NoteIndex(li int, noteID string) int {
	if li < 0 || li >= len(b.Lists) {
		return -1
	}
	return slices.IndexFunc(b.Lists[li].Notes, func(n models.Note) bool { return n.ID == noteID })
}

// Clone returns a deep copy.
func (b Board) Clone() Board {
	out := Board{Lists: make([]models.List, len(b.Lists))}
	for i, l := range b.Lists {
		l.Notes = slices.Clone(l.Notes)
		out.Lists[i] = l
	}
	return out
}

// SortNotes orders notes ascending by key, ties broken by id.
func SortNotes(notes []models.Note) {
	slices.SortStableFunc(notes, func(a, b models.Note) int {
		if c := cmp.Compare(a.Index, b.Index); c != 0 {
			return c
		}
		return cmp.Compare(a.ID, b.ID)
	})
}

// SortLists orders lists ascending by key, ties broken by id.
func SortLists(lists []models.List) {
	slices.SortStableFunc(lists, func(a, b models.List) int {
		if c := cmp.Compare(a.Index, b.Index); c != 0 {
			return c
		}
		return cmp.Compare(a.ID, b.ID)
	})
}

// withList returns a shallow copy of b whose list at i is replaced by l.
func (b Board) withList(i int, l models.List) Board {
	lists := slices.Clone(b.Lists)
	lists[i] = l
	return Board{Lists: lists}
}

func (b Board) mustList(id string) (int, models.List, error) {
	i := b.ListIndex(id)
	if i < 0 {
		return -1, models.List{}, fmt.Errorf("board: list %s: %w", id, apperr.ErrNotFound)
	}
	return i, b.Lists[i], nil
}

func (b Board) mustNote(listID, noteID string) (int, int, error) {
	li, _, err := b.mustList(listID)
	if err != nil {
		return -1, -1, err
	}
	ni := b.NoteIndex(li, noteID)
	if ni < 0 {
		return -1, -1, fmt.Errorf("board: note %s/%s: %w", listID, noteID, apperr.ErrNotFound)
	}
	return li, ni, nil
}

// Locate translates an id-addressed note move into a drag result. A
// negative toIndex appends to the destination list.
func (b Board) Locate(noteID, fromListID, toListID string, toIndex int) (models.DragResult, error) {
	si, ni, err := b.mustNote(fromListID, noteID)
	if err != nil {
		return models.DragResult{}, err
	}
	di, dst, err := b.mustList(toListID)
	if err != nil {
		return models.DragResult{}, err
	}
	limit := len(dst.Notes)
	if si == di {
		limit--
	}
	if toIndex < 0 || toIndex > limit {
		toIndex = limit
	}
	return models.DragResult{
		Kind:        models.DragNote,
		Source:      models.Location{List: si, Index: ni},
		Destination: &models.Location{List: di, Index: toIndex},
	}, nil
}
