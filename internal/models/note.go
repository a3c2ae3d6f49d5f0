// Package models defines the domain types for Pinboard.
package models

// Note is a single free-text card inside a List.
type Note struct {
	ID         string  `json:"id" yaml:"id"`
	Content    string  `json:"content" yaml:"content"`
	IsEditable bool    `json:"isEditable" yaml:"-"`
	Index      float64 `json:"index" yaml:"index"`
}

// SortKey returns the note's ordering key.
func (n Note) SortKey() float64 { return n.Index }

// WithSortKey returns a copy of the note carrying key k.
func (n Note) WithSortKey(k float64) Note {
	n.Index = k
	return n
}

// List is a named, ordered container of notes.
type List struct {
	ID         string  `json:"id" yaml:"id"`
	Name       string  `json:"name" yaml:"name"`
	IsEditable bool    `json:"isEditable" yaml:"-"`
	Index      float64 `json:"index" yaml:"index"`
	Notes      []Note  `json:"notes" yaml:"notes"`
}

// SortKey returns the list's ordering key.
func (l List) SortKey() float64 { return l.Index }

// WithSortKey returns a copy of the list carrying key k.
func (l List) WithSortKey(k float64) List {
	l.Index = k
	return l
}

// Location addresses a slot on the board: a list position and an item
// position inside it.
type Location struct {
	List  int `json:"list"`
	Index int `json:"index"`
}

// Drag kinds.
const (
	DragNote = "note"
	DragList = "list"
)

// DragResult describes a completed drag gesture. Destination is nil when
// the item was dropped outside any list.
type DragResult struct {
	Kind        string    `json:"kind,omitempty"`
	Source      Location  `json:"source"`
	Destination *Location `json:"destination,omitempty"`
}
