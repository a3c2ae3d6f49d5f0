package api

import (
	"github.com/go-chi/chi/v5"

	"github.com/starford/pinboard/internal/noteservice"
)

// NewRouter creates a chi router with all API routes mounted behind auth.
// events, if non-nil, is mounted at GET /events.
func NewRouter(svc *noteservice.Service, auth *Authenticator, events Streamer) chi.Router {
	h := NewHandler(svc, events)

	r := chi.NewRouter()
	r.Use(AuthMiddleware(auth))

	// Board.
	r.Get("/board", h.GetBoard)
	r.Get("/board/export", h.ExportBoard)
	r.Post("/board/export", h.SaveExport)
	r.Get("/board/exports/{name}", h.SavedExport)
	r.Post("/drag", h.Drag)

	// Lists.
	r.Post("/lists", h.CreateList)
	r.Patch("/lists/{listID}", h.UpdateList)
	r.Delete("/lists/{listID}", h.DeleteList)

	// Notes.
	r.Post("/lists/{listID}/notes", h.CreateNote)
	r.Patch("/lists/{listID}/notes/{noteID}", h.UpdateNote)
	r.Delete("/lists/{listID}/notes/{noteID}", h.DeleteNote)

	r.Delete("/session", h.EndSession)

	if events != nil {
		r.Get("/events", h.Events)
	}

	return r
}
