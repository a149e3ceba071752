package api

import (
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"time"

	"github.com/google/uuid"

	"github.com/yonasBSD/stract/pkg/core"
	"github.com/yonasBSD/stract/pkg/realtime"
	"github.com/yonasBSD/stract/pkg/results"
	"github.com/yonasBSD/stract/pkg/version"
)

func (s *Server) HandleListQueries(w http.ResponseWriter, r *http.Request) {
	queries, err := s.store.ListQueries()
	if err != nil {
		s.writeError(w, http.StatusInternalServerError, "Failed to list queries", err.Error())
		return
	}
	if queries == nil {
		queries = []core.Query{}
	}

	response := ListQueriesResponse{
		Queries: queries,
		Count:   len(queries),
	}

	s.writeJSON(w, http.StatusOK, response)
}

// HandleQueryResults returns the full annotation payload for a query:
// the query itself, its sorted results and the prev/next chain links.
// Unknown qids get a 404 here; only the HTML route redirects.
func (s *Server) HandleQueryResults(w http.ResponseWriter, r *http.Request) {
	qid := r.PathValue("qid")
	if qid == "" {
		s.writeError(w, http.StatusBadRequest, "Invalid path", "Query id is required")
		return
	}

	page, err := s.loader.Load(r.Context(), qid)
	if err != nil {
		if errors.Is(err, results.ErrQueryNotFound) {
			s.writeError(w, http.StatusNotFound, "Query not found", fmt.Sprintf("Query '%s' does not exist", qid))
			return
		}
		s.writeError(w, http.StatusInternalServerError, "Failed to load results", err.Error())
		return
	}

	s.writeJSON(w, http.StatusOK, page)
}

func (s *Server) HandleSetRank(w http.ResponseWriter, r *http.Request) {
	id := r.PathValue("id")
	if id == "" {
		s.writeError(w, http.StatusBadRequest, "Invalid path", "Result id is required")
		return
	}

	var req SetRankRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		s.writeError(w, http.StatusBadRequest, "Invalid body", err.Error())
		return
	}

	result, err := s.store.GetSearchResult(id)
	if err != nil {
		s.writeError(w, http.StatusInternalServerError, "Failed to look up result", err.Error())
		return
	}
	if result == nil {
		s.writeError(w, http.StatusNotFound, "Result not found", fmt.Sprintf("Search result '%s' does not exist", id))
		return
	}

	if err := s.store.SetAnnotatedRank(id, req.Rank); err != nil {
		s.writeError(w, http.StatusInternalServerError, "Failed to update rank", err.Error())
		return
	}

	now := time.Now().UTC()
	experiment := core.Experiment{
		ID:        uuid.New().String(),
		Name:      "annotate",
		ResultID:  id,
		Rank:      req.Rank,
		CreatedAt: now,
	}
	if err := s.store.SaveExperiment(experiment); err != nil {
		s.logger.Warnf("failed to record experiment for %s: %v", id, err)
	}

	if s.hub != nil {
		s.hub.BroadcastAnnotation(realtime.AnnotationEvent{
			ResultID: id,
			QID:      result.QID,
			Rank:     req.Rank,
			At:       now,
		})
	}

	result.AnnotatedRank = req.Rank
	s.writeJSON(w, http.StatusOK, result)
}

func (s *Server) HandleListExperiments(w http.ResponseWriter, r *http.Request) {
	experiments, err := s.store.ListExperiments()
	if err != nil {
		s.writeError(w, http.StatusInternalServerError, "Failed to list experiments", err.Error())
		return
	}
	if experiments == nil {
		experiments = []core.Experiment{}
	}

	response := ListExperimentsResponse{
		Experiments: experiments,
		Count:       len(experiments),
	}

	s.writeJSON(w, http.StatusOK, response)
}

// HandleAdminClear wipes the experiments store and acknowledges with a plain
// "OK" body.
func (s *Server) HandleAdminClear(w http.ResponseWriter, r *http.Request) {
	if err := s.store.ClearExperiments(); err != nil {
		s.writeError(w, http.StatusInternalServerError, "Failed to clear experiments", err.Error())
		return
	}

	s.logger.Infof("experiments store cleared")

	w.Header().Set("Content-Type", "text/plain")
	w.WriteHeader(http.StatusOK)
	if _, err := w.Write([]byte("OK")); err != nil {
		s.logger.Errorf("writing clear response: %v", err)
	}
}

func (s *Server) HandleStats(w http.ResponseWriter, r *http.Request) {
	stats, err := s.store.Stats()
	if err != nil {
		s.writeError(w, http.StatusInternalServerError, "Failed to get stats", err.Error())
		return
	}

	s.writeJSON(w, http.StatusOK, stats)
}

func (s *Server) HandleHealth(w http.ResponseWriter, r *http.Request) {
	health := HealthResponse{
		Status:    "ok",
		Timestamp: time.Now().UTC(),
		Version:   version.APIVersion(),
	}

	s.writeJSON(w, http.StatusOK, health)
}
