package api

import (
	"log/slog"
	"net/http"

	"github.com/go-chi/chi/v5"

	"github.com/starford/pinboard/internal/noteservice"
)

// Streamer serves a user's push event stream.
type Streamer interface {
	ServeUser(w http.ResponseWriter, r *http.Request, user string)
}

// Handler holds API route handlers.
type Handler struct {
	svc    *noteservice.Service
	events Streamer
}

// NewHandler creates a new Handler. events may be nil.
func NewHandler(svc *noteservice.Service, events Streamer) *Handler {
	return &Handler{svc: svc, events: events}
}

// GetBoard handles GET /api/board.
//
//	@Summary		Get the caller's board
//	@Tags			board
//	@Produce		json
//	@Success		200	{object}	board.Board
//	@Security		BearerAuth
//	@Router			/board [get]
func (h *Handler) GetBoard(w http.ResponseWriter, r *http.Request) {
	b, err := h.svc.Board(r.Context(), UserFrom(r.Context()))
	if err != nil {
		writeError(w, "get board", err)
		return
	}
	writeJSON(w, http.StatusOK, b)
}

// ExportBoard handles GET /api/board/export.
//
//	@Summary		Export the caller's board as YAML
//	@Tags			board
//	@Produce		application/yaml
//	@Success		200
//	@Security		BearerAuth
//	@Router			/board/export [get]
func (h *Handler) ExportBoard(w http.ResponseWriter, r *http.Request) {
	data, sum, err := h.svc.Export(r.Context(), UserFrom(r.Context()))
	if err != nil {
		writeError(w, "export board", err)
		return
	}
	w.Header().Set("Content-Type", "application/yaml; charset=utf-8")
	w.Header().Set("ETag", `"`+sum+`"`)
	w.WriteHeader(http.StatusOK)
	_, _ = w.Write(data)
}

// SaveExport handles POST /api/board/export.
//
//	@Summary		Save a YAML export to the export directory
//	@Tags			board
//	@Accept			json
//	@Produce		json
//	@Param			body	body		SaveExportRequest	false	"Target file"
//	@Success		201		{object}	noteservice.ExportResult
//	@Failure		503		{object}	errResponse
//	@Security		BearerAuth
//	@Router			/board/export [post]
func (h *Handler) SaveExport(w http.ResponseWriter, r *http.Request) {
	var req SaveExportRequest
	if !decodeBody(w, r, &req) {
		return
	}
	res, err := h.svc.SaveExport(r.Context(), UserFrom(r.Context()), req.Path)
	if err != nil {
		writeError(w, "save export", err)
		return
	}
	writeJSON(w, http.StatusCreated, res)
}

// SavedExport handles GET /api/board/exports/{name}.
//
//	@Summary		Read back a saved YAML export
//	@Tags			board
//	@Produce		application/yaml
//	@Param			name	path	string	true	"File name inside the caller's export folder"
//	@Success		200
//	@Failure		404		{object}	errResponse
//	@Security		BearerAuth
//	@Router			/board/exports/{name} [get]
func (h *Handler) SavedExport(w http.ResponseWriter, r *http.Request) {
	data, sum, err := h.svc.SavedExport(UserFrom(r.Context()), chi.URLParam(r, "name"))
	if err != nil {
		writeError(w, "read export", err)
		return
	}
	w.Header().Set("Content-Type", "application/yaml; charset=utf-8")
	w.Header().Set("ETag", `"`+sum+`"`)
	w.WriteHeader(http.StatusOK)
	_, _ = w.Write(data)
}

// CreateList handles POST /api/lists.
//
//	@Summary		Add a list
//	@Tags			lists
//	@Accept			json
//	@Produce		json
//	@Param			body	body		CreateListRequest	false	"List to create"
//	@Success		201		{object}	models.List
//	@Failure		400		{object}	errResponse
//	@Security		BearerAuth
//	@Router			/lists [post]
func (h *Handler) CreateList(w http.ResponseWriter, r *http.Request) {
	var req CreateListRequest
	if !decodeBody(w, r, &req) {
		return
	}
	l, err := h.svc.AddList(r.Context(), UserFrom(r.Context()), req.Name)
	if err != nil {
		writeError(w, "create list", err)
		return
	}
	writeJSON(w, http.StatusCreated, l)
}

// UpdateList handles PATCH /api/lists/{listID}.
//
//	@Summary		Rename a list or toggle editing
//	@Tags			lists
//	@Accept			json
//	@Produce		json
//	@Param			listID	path		string				true	"List id"
//	@Param			body	body		UpdateListRequest	true	"Changes"
//	@Success		200		{object}	models.List
//	@Failure		404		{object}	errResponse
//	@Security		BearerAuth
//	@Router			/lists/{listID} [patch]
func (h *Handler) UpdateList(w http.ResponseWriter, r *http.Request) {
	var req UpdateListRequest
	if !decodeBody(w, r, &req) {
		return
	}
	l, err := h.svc.UpdateList(r.Context(), UserFrom(r.Context()), chi.URLParam(r, "listID"), req.patch())
	if err != nil {
		writeError(w, "update list", err)
		return
	}
	writeJSON(w, http.StatusOK, l)
}

// DeleteList handles DELETE /api/lists/{listID}.
//
//	@Summary		Delete a list and its notes
//	@Tags			lists
//	@Param			listID	path	string	true	"List id"
//	@Success		204		"List deleted"
//	@Failure		404		{object}	errResponse
//	@Security		BearerAuth
//	@Router			/lists/{listID} [delete]
func (h *Handler) DeleteList(w http.ResponseWriter, r *http.Request) {
	if err := h.svc.DeleteList(r.Context(), UserFrom(r.Context()), chi.URLParam(r, "listID")); err != nil {
		writeError(w, "delete list", err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

// CreateNote handles POST /api/lists/{listID}/notes.
//
//	@Summary		Add a note to a list
//	@Tags			notes
//	@Accept			json
//	@Produce		json
//	@Param			listID	path		string				true	"List id"
//	@Param			body	body		CreateNoteRequest	false	"Note to create"
//	@Success		201		{object}	models.Note
//	@Failure		404		{object}	errResponse
//	@Security		BearerAuth
//	@Router			/lists/{listID}/notes [post]
func (h *Handler) CreateNote(w http.ResponseWriter, r *http.Request) {
	var req CreateNoteRequest
	if !decodeBody(w, r, &req) {
		return
	}
	n, err := h.svc.AddNote(r.Context(), UserFrom(r.Context()), chi.URLParam(r, "listID"), req.Content)
	if err != nil {
		writeError(w, "create note", err)
		return
	}
	writeJSON(w, http.StatusCreated, n)
}

// UpdateNote handles PATCH /api/lists/{listID}/notes/{noteID}.
//
//	@Summary		Edit a note
//	@Tags			notes
//	@Accept			json
//	@Produce		json
//	@Param			listID	path		string				true	"List id"
//	@Param			noteID	path		string				true	"Note id"
//	@Param			body	body		UpdateNoteRequest	true	"Changes"
//	@Success		200		{object}	models.Note
//	@Failure		404		{object}	errResponse
//	@Security		BearerAuth
//	@Router			/lists/{listID}/notes/{noteID} [patch]
func (h *Handler) UpdateNote(w http.ResponseWriter, r *http.Request) {
	var req UpdateNoteRequest
	if !decodeBody(w, r, &req) {
		return
	}
	n, err := h.svc.UpdateNote(r.Context(), UserFrom(r.Context()),
		chi.URLParam(r, "listID"), chi.URLParam(r, "noteID"), req.patch())
	if err != nil {
		writeError(w, "update note", err)
		return
	}
	writeJSON(w, http.StatusOK, n)
}

// DeleteNote handles DELETE /api/lists/{listID}/notes/{noteID}.
// Deleting a note that is already gone succeeds.
//
//	@Summary		Delete a note
//	@Tags			notes
//	@Param			listID	path	string	true	"List id"
//	@Param			noteID	path	string	true	"Note id"
//	@Success		204		"Note deleted"
//	@Security		BearerAuth
//	@Router			/lists/{listID}/notes/{noteID} [delete]
func (h *Handler) DeleteNote(w http.ResponseWriter, r *http.Request) {
	err := h.svc.DeleteNote(r.Context(), UserFrom(r.Context()),
		chi.URLParam(r, "listID"), chi.URLParam(r, "noteID"))
	if err != nil {
		writeError(w, "delete note", err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

// Drag handles POST /api/drag.
//
//	@Summary		Apply a completed drag gesture
//	@Tags			board
//	@Accept			json
//	@Produce		json
//	@Param			body	body		DragRequest	true	"Drag result"
//	@Success		200		{object}	workspace.DragOutcome
//	@Failure		422		{object}	errResponse
//	@Security		BearerAuth
//	@Router			/drag [post]
func (h *Handler) Drag(w http.ResponseWriter, r *http.Request) {
	var req DragRequest
	if !decodeBody(w, r, &req) {
		return
	}
	out, err := h.svc.Drag(r.Context(), UserFrom(r.Context()), req.result())
	if err != nil {
		writeError(w, "drag", err)
		return
	}
	writeJSON(w, http.StatusOK, out)
}

// EndSession handles DELETE /api/session. The caller's live workspace and
// its store subscriptions are released.
//
//	@Summary		Sign out
//	@Tags			session
//	@Success		204
//	@Security		BearerAuth
//	@Router			/session [delete]
func (h *Handler) EndSession(w http.ResponseWriter, r *http.Request) {
	user := UserFrom(r.Context())
	h.svc.Release(user)
	slog.Info("api: session ended", slog.String("user", user))
	w.WriteHeader(http.StatusNoContent)
}

// Events handles GET /api/events.
func (h *Handler) Events(w http.ResponseWriter, r *http.Request) {
	h.events.ServeUser(w, r, UserFrom(r.Context()))
}
