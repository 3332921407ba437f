package sse

import (
	"github.com/go-chi/chi/v5"
)

// RegisterRoutes mounts GET /events/stream. The handler authenticates the
// request itself because EventSource cannot set headers; the token may come
// from the token query parameter.
func RegisterRoutes(r chi.Router, handler *Handler) {
	r.Route("/events", func(r chi.Router) {
		r.Get("/stream", handler.HandleStream)
	})
}
