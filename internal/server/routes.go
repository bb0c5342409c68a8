package server

import (
	"github.com/go-chi/chi/v5"
)

// setupRoutes configures all API routes.
func (s *Server) setupRoutes() {
	r := s.router

	r.Route("/session", func(r chi.Router) {
		r.Get("/", s.listSessions)
		r.Post("/", s.createSession) // Streaming response

		r.Route("/{sessionID}", func(r chi.Router) {
			r.Get("/", s.getSession)
			r.Delete("/", s.deleteSession)

			r.Post("/message", s.sendMessage) // Streaming response
			r.Post("/note", s.addNote)
			r.Get("/history", s.getHistory)
			r.Get("/diff", s.getDiff)
		})
	})

	r.Route("/permission", func(r chi.Router) {
		r.Get("/", s.listPermissions)
		r.Post("/{promptID}", s.replyPermission)
	})

	// Event streaming (SSE)
	r.Get("/event", s.events)
}
