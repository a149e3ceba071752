// Package api implements the JSON API for the annotation service: query and
// result access, annotation updates, the experiments admin surface and the
// websocket event stream.
package api

import (
	"encoding/json"
	"net/http"

	"github.com/yonasBSD/stract/pkg/log"
	"github.com/yonasBSD/stract/pkg/realtime"
	"github.com/yonasBSD/stract/pkg/results"
	"github.com/yonasBSD/stract/pkg/storage"
)

type Server struct {
	store  *storage.Store
	loader *results.Service
	hub    *realtime.Hub
	logger *log.Logger
}

func NewServer(store *storage.Store, loader *results.Service, hub *realtime.Hub) *Server {
	return &Server{
		store:  store,
		loader: loader,
		hub:    hub,
		logger: log.ForComponent("api"),
	}
}

func (s *Server) writeJSON(w http.ResponseWriter, status int, data interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)

	if err := json.NewEncoder(w).Encode(data); err != nil {
		s.logger.Errorf("encoding JSON response: %v", err)
	}
}

func (s *Server) writeError(w http.ResponseWriter, status int, error, message string) {
	response := ErrorResponse{
		Error:   error,
		Message: message,
	}
	s.writeJSON(w, status, response)
}

func CorsMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Access-Control-Allow-Origin", "*")
		w.Header().Set("Access-Control-Allow-Methods", "GET, POST, PUT, DELETE, OPTIONS")
		w.Header().Set("Access-Control-Allow-Headers", "Content-Type, Authorization")

		if r.Method == "OPTIONS" {
			w.WriteHeader(http.StatusOK)
			return
		}

		next.ServeHTTP(w, r)
	})
}
