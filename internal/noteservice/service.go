// Package noteservice exposes board operations scoped by user for the
// HTTP and MCP surfaces.
package noteservice

import (
	"context"
	"errors"
	"fmt"
	"io/fs"
	"path"
	"time"

	"github.com/starford/pinboard/internal/apperr"
	"github.com/starford/pinboard/internal/board"
	"github.com/starford/pinboard/internal/export"
	"github.com/starford/pinboard/internal/models"
	"github.com/starford/pinboard/internal/storage"
	"github.com/starford/pinboard/internal/workspace"
)

var errExportsDisabled = fmt.Errorf("noteservice: export directory not configured: %w", apperr.ErrUnavailable)

// ExportResult describes a saved export.
type ExportResult struct {
	Path     string `json:"path"`
	Checksum string `json:"checksum"`
}

// Service coordinates user workspaces and exports.
type Service struct {
	spaces  *workspace.Manager
	exports storage.Provider
	now     func() time.Time
}

// NewService creates a new board service. exports may be nil when saving
// exports to disk is not configured.
func NewService(spaces *workspace.Manager, exports storage.Provider) *Service {
	return &Service{spaces: spaces, exports: exports, now: time.Now}
}

// Board returns user's board, lists and notes sorted by key.
func (s *Service) Board(ctx context.Context, user string) (board.Board, error) {
	w, err := s.spaces.Open(ctx, user)
	if err != nil {
		return board.Board{}, err
	}
	return w.Board(), nil
}

// AddList appends a list.
func (s *Service) AddList(ctx context.Context, user, name string) (models.List, error) {
	w, err := s.spaces.Open(ctx, user)
	if err != nil {
		return models.List{}, err
	}
	return w.AddList(ctx, name)
}

// UpdateList patches a list.
func (s *Service) UpdateList(ctx context.Context, user, listID string, patch workspace.ListPatch) (models.List, error) {
	w, err := s.spaces.Open(ctx, user)
	if err != nil {
		return models.List{}, err
	}
	return w.UpdateList(ctx, listID, patch)
}

// DeleteList removes a list and its notes.
func (s *Service) DeleteList(ctx context.Context, user, listID string) error {
	w, err := s.spaces.Open(ctx, user)
	if err != nil {
		return err
	}
	return w.DeleteList(ctx, listID)
}

// AddNote appends a note to a list.
func (s *Service) AddNote(ctx context.Context, user, listID, content string) (models.Note, error) {
	w, err := s.spaces.Open(ctx, user)
	if err != nil {
		return models.Note{}, err
	}
	return w.AddNote(ctx, listID, content)
}

// UpdateNote patches a note.
func (s *Service) UpdateNote(ctx context.Context, user, listID, noteID string, patch workspace.NotePatch) (models.Note, error) {
	w, err := s.spaces.Open(ctx, user)
	if err != nil {
		return models.Note{}, err
	}
	return w.UpdateNote(ctx, listID, noteID, patch)
}

// DeleteNote removes a note.
func (s *Service) DeleteNote(ctx context.Context, user, listID, noteID string) error {
	w, err := s.spaces.Open(ctx, user)
	if err != nil {
		return err
	}
	return w.DeleteNote(ctx, listID, noteID)
}

// Drag applies a drag completion.
func (s *Service) Drag(ctx context.Context, user string, r models.DragResult) (workspace.DragOutcome, error) {
	w, err := s.spaces.Open(ctx, user)
	if err != nil {
		return workspace.DragOutcome{}, err
	}
	return w.Drag(ctx, r)
}

// MoveNote moves a note addressed by ids rather than positions.
func (s *Service) MoveNote(ctx context.Context, user, noteID, fromListID, toListID string, toIndex int) (workspace.DragOutcome, error) {
	w, err := s.spaces.Open(ctx, user)
	if err != nil {
		return workspace.DragOutcome{}, err
	}
	return w.MoveNote(ctx, noteID, fromListID, toListID, toIndex)
}

// Export renders user's board as YAML and returns it with its checksum.
func (s *Service) Export(ctx context.Context, user string) ([]byte, string, error) {
	b, err := s.Board(ctx, user)
	if err != nil {
		return nil, "", err
	}
	data, err := export.Marshal(export.FromBoard(user, b, s.now()))
	if err != nil {
		return nil, "", err
	}
	return data, export.Checksum(data), nil
}

// SaveExport writes user's board under the user's folder of the export
// directory. An empty name uses a timestamped default.
func (s *Service) SaveExport(ctx context.Context, user, name string) (ExportResult, error) {
	if s.exports == nil {
		return ExportResult{}, errExportsDisabled
	}
	data, sum, err := s.Export(ctx, user)
	if err != nil {
		return ExportResult{}, err
	}
	if name == "" {
		name = export.FileName(s.now())
	}
	rel, err := exportPath(user, name)
	if err != nil {
		return ExportResult{}, err
	}
	if err := s.exports.Write(rel, data); err != nil {
		return ExportResult{}, err
	}
	return ExportResult{Path: rel, Checksum: sum}, nil
}

// SavedExport reads back one of user's saved exports with its checksum.
// Files that do not decode as an export of user's board are not found.
func (s *Service) SavedExport(user, name string) ([]byte, string, error) {
	if s.exports == nil {
		return nil, "", errExportsDisabled
	}
	rel, err := exportPath(user, name)
	if err != nil {
		return nil, "", err
	}
	data, err := s.exports.Read(rel)
	if errors.Is(err, fs.ErrNotExist) {
		return nil, "", fmt.Errorf("noteservice: export %s: %w", rel, apperr.ErrNotFound)
	}
	if err != nil {
		return nil, "", err
	}
	doc, err := export.Unmarshal(data)
	if err != nil || doc.User != user {
		return nil, "", fmt.Errorf("noteservice: %s is not a board export of %s: %w", rel, user, apperr.ErrNotFound)
	}
	return data, export.Checksum(data), nil
}

// exportPath places name inside user's folder of the export directory.
func exportPath(user, name string) (string, error) {
	if err := workspace.ValidateUser(user); err != nil {
		return "", err
	}
	name = path.Clean("/" + name)[1:]
	if name == "" {
		return "", fmt.Errorf("noteservice: empty export name: %w", apperr.ErrInvalidArgument)
	}
	return path.Join(user, name), nil
}

// Release drops user's live workspace (sign-out).
func (s *Service) Release(user string) {
	s.spaces.Release(user)
}
