package api

import (
	validation "github.com/go-ozzo/ozzo-validation/v4"

	"github.com/starford/pinboard/internal/models"
	"github.com/starford/pinboard/internal/workspace"
)

const (
	maxNameLen    = 200
	maxContentLen = 10000
)

// CreateListRequest is the request body for adding a list. An empty name
// becomes "Untitled N".
type CreateListRequest struct {
	Name string `json:"name" example:"Groceries"`
}

// Validate implements validation.Validatable.
func (r *CreateListRequest) Validate() error {
	return validation.ValidateStruct(r,
		validation.Field(&r.Name, validation.Length(0, maxNameLen)),
	)
}

// UpdateListRequest is the request body for patching a list.
type UpdateListRequest struct {
	Name       *string `json:"name,omitempty" example:"Done"`
	IsEditable *bool   `json:"isEditable,omitempty"`
}

// Validate implements validation.Validatable.
func (r *UpdateListRequest) Validate() error {
	return validation.ValidateStruct(r,
		validation.Field(&r.Name, validation.NilOrNotEmpty, validation.Length(1, maxNameLen)),
	)
}

func (r *UpdateListRequest) patch() workspace.ListPatch {
	return workspace.ListPatch{Name: r.Name, IsEditable: r.IsEditable}
}

// CreateNoteRequest is the request body for adding a note. Empty content
// becomes the configured default.
type CreateNoteRequest struct {
	Content string `json:"content" example:"Buy milk"`
}

// Validate implements validation.Validatable.
func (r *CreateNoteRequest) Validate() error {
	return validation.ValidateStruct(r,
		validation.Field(&r.Content, validation.Length(0, maxContentLen)),
	)
}

// UpdateNoteRequest is the request body for patching a note.
type UpdateNoteRequest struct {
	Content    *string `json:"content,omitempty" example:"Buy oat milk"`
	IsEditable *bool   `json:"isEditable,omitempty"`
}

// Validate implements validation.Validatable.
func (r *UpdateNoteRequest) Validate() error {
	return validation.ValidateStruct(r,
		validation.Field(&r.Content, validation.Length(0, maxContentLen)),
	)
}

func (r *UpdateNoteRequest) patch() workspace.NotePatch {
	return workspace.NotePatch{Content: r.Content, IsEditable: r.IsEditable}
}

// LocationDTO addresses a drop slot.
type LocationDTO struct {
	List  int `json:"list"`
	Index int `json:"index"`
}

// Validate implements validation.Validatable.
func (l LocationDTO) Validate() error {
	return validation.ValidateStruct(&l,
		validation.Field(&l.List, validation.Min(0)),
		validation.Field(&l.Index, validation.Min(0)),
	)
}

// DragRequest is a completed drag gesture. A missing destination means the
// item was dropped outside any list.
type DragRequest struct {
	Kind        string       `json:"kind,omitempty" example:"note"`
	Source      LocationDTO  `json:"source"`
	Destination *LocationDTO `json:"destination,omitempty"`
}

// Validate implements validation.Validatable.
func (r *DragRequest) Validate() error {
	return validation.ValidateStruct(r,
		validation.Field(&r.Kind, validation.In(models.DragNote, models.DragList)),
		validation.Field(&r.Source),
		validation.Field(&r.Destination),
	)
}

func (r *DragRequest) result() models.DragResult {
	out := models.DragResult{
		Kind:   r.Kind,
		Source: models.Location{List: r.Source.List, Index: r.Source.Index},
	}
	if r.Destination != nil {
		out.Destination = &models.Location{List: r.Destination.List, Index: r.Destination.Index}
	}
	return out
}

// SaveExportRequest names the saved export file. An empty path uses a
// timestamped default.
type SaveExportRequest struct {
	Path string `json:"path,omitempty" example:"u1/board.yaml"`
}

// Validate implements validation.Validatable.
func (r *SaveExportRequest) Validate() error {
	return validation.ValidateStruct(r,
		validation.Field(&r.Path, validation.Length(0, 255)),
	)
}
