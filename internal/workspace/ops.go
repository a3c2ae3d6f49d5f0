package workspace

import (
	"context"
	"errors"
	"fmt"
	"log/slog"

	"github.com/starford/pinboard/internal/apperr"
	"github.com/starford/pinboard/internal/board"
	"github.com/starford/pinboard/internal/docstore"
	"github.com/starford/pinboard/internal/models"
	"github.com/starford/pinboard/internal/ordering"
	"github.com/starford/pinboard/internal/sse"
)

// ListPatch changes a list. Nil fields are left alone.
type ListPatch struct {
	Name       *string
	IsEditable *bool
}

// NotePatch changes a note. Nil fields are left alone.
type NotePatch struct {
	Content    *string
	IsEditable *bool
}

// DragOutcome reports what a drag completion changed.
type DragOutcome struct {
	Kind   string  `json:"kind"`
	Moved  bool    `json:"moved"`
	ListID string  `json:"listId,omitempty"`
	ID     string  `json:"id,omitempty"`
	PrevID string  `json:"prevId,omitempty"`
	Index  float64 `json:"index"`
}

// AddList appends a list. An empty name becomes "Untitled N".
func (w *Workspace) AddList(ctx context.Context, name string) (models.List, error) {
	var out models.List
	err := w.do(ctx, func() error {
		b := w.state.Load()
		if name == "" {
			name = fmt.Sprintf("Untitled %d", len(b.Lists)+1)
		}
		l := models.List{Name: name, Index: ordering.AppendKey(b.Lists)}

		res, err := w.commit(ctx, docstore.CreateOp(listsPath(w.user), listFields(l)))
		if err != nil {
			return w.fail("Failed to create list", fmt.Errorf("workspace: add list: %w", err))
		}
		id := res.IDs[0]
		l.ID = id
		if err := w.apply(board.AddList{List: l}); err != nil {
			return err
		}
		w.watchNotes(id)

		w.publish(sse.ListCreated, l)
		w.notify.Toast(w.user, "Note list created")
		out = l
		return nil
	})
	return out, err
}

// UpdateList renames a list and/or sets its editing flag.
func (w *Workspace) UpdateList(ctx context.Context, listID string, patch ListPatch) (models.List, error) {
	var out models.List
	err := w.do(ctx, func() error {
		l, ok := w.state.Load().List(listID)
		if !ok {
			return fmt.Errorf("workspace: list %s: %w", listID, apperr.ErrNotFound)
		}
		fields := docstore.Fields{}
		if patch.Name != nil {
			fields[fieldName] = *patch.Name
		}
		if patch.IsEditable != nil {
			fields[fieldIsEditable] = *patch.IsEditable
		}
		if len(fields) == 0 {
			out = l
			return nil
		}

		if _, err := w.commit(ctx, docstore.UpdateOp(listPath(w.user, listID), fields)); err != nil {
			return w.fail("Failed to update list", fmt.Errorf("workspace: update list %s: %w", listID, err))
		}
		if err := w.apply(board.UpdateList{ListID: listID, Name: patch.Name, IsEditable: patch.IsEditable}); err != nil {
			return err
		}
		out, _ = w.state.Load().List(listID)
		w.publish(sse.ListUpdated, withoutNotes(out))
		return nil
	})
	return out, err
}

// DeleteList removes a list together with its notes.
func (w *Workspace) DeleteList(ctx context.Context, listID string) error {
	return w.do(ctx, func() error {
		l, ok := w.state.Load().List(listID)
		if !ok {
			return fmt.Errorf("workspace: list %s: %w", listID, apperr.ErrNotFound)
		}

		ops := make([]docstore.Op, 0, len(l.Notes)+1)
		for _, n := range l.Notes {
			ops = append(ops, docstore.DeleteOp(notePath(w.user, listID, n.ID)))
		}
		ops = append(ops, docstore.DeleteOp(listPath(w.user, listID)))

		_, err := w.commit(ctx, ops...)
		if errors.Is(err, apperr.ErrNotFound) {
			// Some record vanished under us; remove what is left one by one.
			err = w.deleteEach(ctx, ops)
		}
		if err != nil {
			return w.fail("Failed to delete list", fmt.Errorf("workspace: delete list %s: %w", listID, err))
		}

		w.unwatch(listID)
		w.mirror(board.RemoveList{ListID: listID})
		w.publish(sse.ListDeleted, map[string]string{"id": listID})
		return nil
	})
}

func (w *Workspace) deleteEach(ctx context.Context, ops []docstore.Op) error {
	for _, op := range ops {
		if _, err := w.commit(ctx, op); err != nil && !errors.Is(err, apperr.ErrNotFound) {
			return err
		}
	}
	return nil
}

// AddNote appends a note to a list. Empty content becomes the configured default.
func (w *Workspace) AddNote(ctx context.Context, listID, content string) (models.Note, error) {
	var out models.Note
	err := w.do(ctx, func() error {
		l, ok := w.state.Load().List(listID)
		if !ok {
			return fmt.Errorf("workspace: list %s: %w", listID, apperr.ErrNotFound)
		}
		if content == "" {
			content = w.opts.DefaultNoteContent
		}
		n := models.Note{Content: content, Index: ordering.AppendKey(l.Notes)}

		res, err := w.commit(ctx, docstore.CreateOp(notesPath(w.user, listID), noteFields(n)))
		if err != nil {
			return w.fail("Failed to add note", fmt.Errorf("workspace: add note: %w", err))
		}
		n.ID = res.IDs[0]
		if err := w.apply(board.AddNote{ListID: listID, Note: n}); err != nil {
			return err
		}
		w.publish(sse.NoteCreated, noteEvent{ListID: listID, Note: n})
		out = n
		return nil
	})
	return out, err
}

// UpdateNote edits a note's content and/or editing flag.
func (w *Workspace) UpdateNote(ctx context.Context, listID, noteID string, patch NotePatch) (models.Note, error) {
	var out models.Note
	err := w.do(ctx, func() error {
		b := w.state.Load()
		li := b.ListIndex(listID)
		ni := b.NoteIndex(li, noteID)
		if ni < 0 {
			return fmt.Errorf("workspace: note %s/%s: %w", listID, noteID, apperr.ErrNotFound)
		}
		fields := docstore.Fields{}
		if patch.Content != nil {
			fields[fieldContent] = *patch.Content
		}
		if patch.IsEditable != nil {
			fields[fieldIsEditable] = *patch.IsEditable
		}
		if len(fields) == 0 {
			out = b.Lists[li].Notes[ni]
			return nil
		}

		if _, err := w.commit(ctx, docstore.UpdateOp(notePath(w.user, listID, noteID), fields)); err != nil {
			return w.fail("Failed to update note", fmt.Errorf("workspace: update note %s: %w", noteID, err))
		}
		if err := w.apply(board.UpdateNote{ListID: listID, NoteID: noteID, Content: patch.Content, IsEditable: patch.IsEditable}); err != nil {
			return err
		}
		b = w.state.Load()
		li = b.ListIndex(listID)
		out = b.Lists[li].Notes[b.NoteIndex(li, noteID)]
		w.publish(sse.NoteUpdated, noteEvent{ListID: listID, Note: out})
		return nil
	})
	return out, err
}

// DeleteNote removes a note. A note already gone from the store is not an error.
func (w *Workspace) DeleteNote(ctx context.Context, listID, noteID string) error {
	return w.do(ctx, func() error {
		_, err := w.commit(ctx, docstore.DeleteOp(notePath(w.user, listID, noteID)))
		if errors.Is(err, apperr.ErrNotFound) {
			w.logger.Debug("workspace: note already deleted",
				slog.String("list", listID),
				slog.String("note", noteID))
			err = nil
		}
		if err != nil {
			return w.fail("Failed to delete note", fmt.Errorf("workspace: delete note %s: %w", noteID, err))
		}
		w.mirror(board.RemoveNote{ListID: listID, NoteID: noteID})
		w.publish(sse.NoteDeleted, map[string]string{"listId": listID, "id": noteID})
		return nil
	})
}

// Drag applies a completed drag gesture. A drop outside any list is a no-op.
func (w *Workspace) Drag(ctx context.Context, r models.DragResult) (DragOutcome, error) {
	kind := r.Kind
	if kind == "" {
		kind = models.DragNote
	}
	out := DragOutcome{Kind: kind}
	if r.Destination == nil {
		return out, nil
	}

	err := w.do(ctx, func() error {
		var err error
		out, err = w.dispatch(ctx, kind, r.Source, *r.Destination)
		return err
	})
	return out, err
}

// MoveNote moves a note addressed by ids. Ids resolve to positions in the
// same loop turn that applies the move. A negative toIndex appends.
func (w *Workspace) MoveNote(ctx context.Context, noteID, fromListID, toListID string, toIndex int) (DragOutcome, error) {
	out := DragOutcome{Kind: models.DragNote}
	err := w.do(ctx, func() error {
		r, err := w.state.Load().Locate(noteID, fromListID, toListID, toIndex)
		if err != nil {
			return err
		}
		out, err = w.dispatch(ctx, models.DragNote, r.Source, *r.Destination)
		return err
	})
	return out, err
}

func (w *Workspace) dispatch(ctx context.Context, kind string, src, dst models.Location) (DragOutcome, error) {
	switch {
	case kind == models.DragList:
		return w.dragList(ctx, src.Index, dst.Index)
	case kind != models.DragNote:
		return DragOutcome{Kind: kind}, fmt.Errorf("%w: unknown drag kind %q", apperr.ErrInvalidMove, kind)
	case src.List == dst.List:
		return w.reorderNote(ctx, src.List, src.Index, dst.Index)
	default:
		return w.moveNote(ctx, src, dst)
	}
}

func (w *Workspace) dragList(ctx context.Context, from, to int) (DragOutcome, error) {
	out := DragOutcome{Kind: models.DragList}
	lists, moved, changed, err := ordering.Reorder(w.state.Load().Lists, from, to)
	if err != nil {
		return out, w.fail("Failed to move list", err)
	}
	if !changed {
		return out, nil
	}

	if _, err := w.commit(ctx, docstore.UpdateOp(listPath(w.user, moved.ID), docstore.Fields{fieldIndex: moved.Index})); err != nil {
		return out, w.fail("Failed to move list", fmt.Errorf("workspace: move list %s: %w", moved.ID, err))
	}
	if err := w.apply(board.ReorderLists{From: from, To: to}); err != nil {
		return out, err
	}
	w.rebalanceLists(ctx, lists)

	out.Moved = true
	out.ID = moved.ID
	out.Index = moved.Index
	w.publish(sse.ListUpdated, withoutNotes(moved))
	return out, nil
}

func (w *Workspace) reorderNote(ctx context.Context, listPos, from, to int) (DragOutcome, error) {
	out := DragOutcome{Kind: models.DragNote}
	b := w.state.Load()
	if listPos < 0 || listPos >= len(b.Lists) {
		return out, w.fail("Failed to move note", fmt.Errorf("%w: list position %d", apperr.ErrInvalidMove, listPos))
	}
	l := b.Lists[listPos]
	notes, moved, changed, err := ordering.Reorder(l.Notes, from, to)
	if err != nil {
		return out, w.fail("Failed to move note", err)
	}
	if !changed {
		return out, nil
	}

	if _, err := w.commit(ctx, docstore.UpdateOp(notePath(w.user, l.ID, moved.ID), docstore.Fields{fieldIndex: moved.Index})); err != nil {
		return out, w.fail("Failed to move note", fmt.Errorf("workspace: reorder note %s: %w", moved.ID, err))
	}
	if err := w.apply(board.ReorderNotes{ListID: l.ID, From: from, To: to}); err != nil {
		return out, err
	}
	w.rebalanceNotes(ctx, l.ID, notes)

	out.Moved = true
	out.ListID = l.ID
	out.ID = moved.ID
	out.Index = moved.Index
	w.publish(sse.NoteMoved, moveEvent{FromList: l.ID, ToList: l.ID, From: moved.ID, To: moved.ID, Index: moved.Index})
	return out, nil
}

// moveNote relocates a note across lists as one atomic delete+create. The
// board changes only once the store confirms the new record.
func (w *Workspace) moveNote(ctx context.Context, src, dst models.Location) (DragOutcome, error) {
	out := DragOutcome{Kind: models.DragNote}
	b := w.state.Load()
	if src.List < 0 || src.List >= len(b.Lists) || dst.List < 0 || dst.List >= len(b.Lists) {
		return out, w.fail("Failed to move note", fmt.Errorf("%w: list position %d -> %d", apperr.ErrInvalidMove, src.List, dst.List))
	}
	from, to := b.Lists[src.List], b.Lists[dst.List]
	_, notes, moved, err := ordering.Move(from.Notes, to.Notes, src.Index, dst.Index)
	if err != nil {
		return out, w.fail("Failed to move note", err)
	}

	res, err := w.commit(ctx,
		docstore.CreateOp(notesPath(w.user, to.ID), noteFields(moved)),
		docstore.DeleteOp(notePath(w.user, from.ID, moved.ID)),
	)
	if err != nil {
		return out, w.fail("Failed to move note", fmt.Errorf("workspace: move note %s: %w", moved.ID, err))
	}
	newID := res.IDs[0]

	if err := w.apply(board.MoveNote{
		FromListID: from.ID,
		FromIndex:  src.Index,
		ToListID:   to.ID,
		ToIndex:    dst.Index,
		NewID:      newID,
	}); err != nil {
		return out, err
	}
	notes[dst.Index].ID = newID
	w.rebalanceNotes(ctx, to.ID, notes)

	out.Moved = true
	out.ListID = to.ID
	out.ID = newID
	out.PrevID = moved.ID
	out.Index = moved.Index
	w.publish(sse.NoteMoved, moveEvent{FromList: from.ID, ToList: to.ID, From: moved.ID, To: newID, Index: moved.Index})
	w.notify.Toast(w.user, "Note moved successfully")
	return out, nil
}

// rebalanceNotes renumbers a list's notes when their keys have grown too
// close, persisting every changed key in one batch.
func (w *Workspace) rebalanceNotes(ctx context.Context, listID string, notes []models.Note) {
	if !ordering.NeedsRebalance(notes, w.opts.MinGap) {
		return
	}
	renumbered, changed := ordering.Rebalance(notes)
	if len(changed) == 0 {
		return
	}
	ops := make([]docstore.Op, len(changed))
	for i, pos := range changed {
		n := renumbered[pos]
		ops[i] = docstore.UpdateOp(notePath(w.user, listID, n.ID), docstore.Fields{fieldIndex: n.Index})
	}
	if _, err := w.commit(ctx, ops...); err != nil {
		_ = w.fail("Failed to rebalance notes", fmt.Errorf("workspace: rebalance %s: %w", listID, err))
		return
	}
	w.mirror(board.RebalanceNotes{ListID: listID})
	w.logger.Info("workspace: rebalanced notes",
		slog.String("list", listID),
		slog.Int("changed", len(changed)))
}

func (w *Workspace) rebalanceLists(ctx context.Context, lists []models.List) {
	if !ordering.NeedsRebalance(lists, w.opts.MinGap) {
		return
	}
	renumbered, changed := ordering.Rebalance(lists)
	if len(changed) == 0 {
		return
	}
	ops := make([]docstore.Op, len(changed))
	for i, pos := range changed {
		l := renumbered[pos]
		ops[i] = docstore.UpdateOp(listPath(w.user, l.ID), docstore.Fields{fieldIndex: l.Index})
	}
	if _, err := w.commit(ctx, ops...); err != nil {
		_ = w.fail("Failed to rebalance lists", fmt.Errorf("workspace: rebalance lists: %w", err))
		return
	}
	w.mirror(board.RebalanceLists{})
	w.logger.Info("workspace: rebalanced lists", slog.Int("changed", len(changed)))
}

type noteEvent struct {
	ListID string      `json:"listId"`
	Note   models.Note `json:"note"`
}

type moveEvent struct {
	FromList string  `json:"fromList"`
	ToList   string  `json:"toList"`
	From     string  `json:"from"`
	To       string  `json:"to"`
	Index    float64 `json:"index"`
}

func withoutNotes(l models.List) models.List {
	l.Notes = nil
	return l
}
