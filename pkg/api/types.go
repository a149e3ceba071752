package api

import (
	"time"

	"github.com/yonasBSD/stract/pkg/core"
)

type ErrorResponse struct {
	Error   string `json:"error"`
	Message string `json:"message"`
}

type ListQueriesResponse struct {
	Queries []core.Query `json:"queries"`
	Count   int          `json:"count"`
}

type ListExperimentsResponse struct {
	Experiments []core.Experiment `json:"experiments"`
	Count       int               `json:"count"`
}

// SetRankRequest carries an annotation update. A null (absent) rank clears
// the annotation.
type SetRankRequest struct {
	Rank *int `json:"rank"`
}

type HealthResponse struct {
	Status    string    `json:"status"`
	Timestamp time.Time `json:"timestamp"`
	Version   string    `json:"version"`
}
