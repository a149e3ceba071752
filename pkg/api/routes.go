package api

import (
	"net/http"
)

func (s *Server) RegisterRoutes(mux *http.ServeMux) {
	// API routes with method-specific routing
	mux.HandleFunc("GET /api/queries", s.HandleListQueries)
	mux.HandleFunc("GET /api/queries/{qid}", s.HandleQueryResults)
	mux.HandleFunc("PUT /api/results/{id}/rank", s.HandleSetRank)
	mux.HandleFunc("GET /api/experiments", s.HandleListExperiments)
	mux.HandleFunc("POST /api/admin/clear", s.HandleAdminClear)
	mux.HandleFunc("GET /api/stats", s.HandleStats)
	mux.HandleFunc("GET /api/events/ws", s.HandleEventsWS)
	mux.HandleFunc("GET /health", s.HandleHealth)
}
