package api

import (
	"net/http"

	"github.com/go-chi/chi/v5"
)

// routes wires the endpoint table. Every operational endpoint is reachable
// under both the /api and the legacy /json namespace.
func (s *Server) routes() http.Handler {
	r := chi.NewRouter()
	r.Use(s.recoveryMiddleware)
	r.Use(s.loggingMiddleware)
	r.Use(corsMiddleware)
	r.Use(bodyLimitMiddleware)

	// Registered before the subrouters so they inherit the JSON form.
	r.NotFound(func(w http.ResponseWriter, r *http.Request) {
		writeError(w, http.StatusNotFound, errNotFound, "")
	})

	r.Get("/", s.handleIndex)
	r.Get("/index.html", s.handleIndex)

	r.Route("/api", func(r chi.Router) {
		r.Get("/config", s.handleGetConfig)
		r.Post("/config", s.handlePostConfig)
		r.Get("/report", s.handleReport)
		r.Get("/node-config", s.handleGetNodeConfig)
		r.Post("/node-config", s.handlePostNodeConfig)
		r.Get("/nodes", s.handleNodes)
		r.Get("/messages", s.handleMessages)
		r.Post("/send", s.handleSend)
		r.Get("/events", s.handleWebsocket)
	})

	r.Route("/json", func(r chi.Router) {
		r.Get("/report", s.handleReport)
		r.Get("/config/node", s.handleGetNodeConfig)
		r.Post("/config/node", s.handlePostNodeConfig)
		r.Get("/nodes", s.handleNodes)
		r.Get("/chat/messages", s.handleMessages)
		r.Post("/chat/send", s.handleSend)
	})

	return r
}
