// Package results implements the result loader: given a query identifier it
// resolves the query, serves cached search results or fetches them from the
// remote search API exactly once, and returns a page-ready payload in
// annotation order.
package results

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"time"

	"golang.org/x/sync/singleflight"

	"github.com/yonasBSD/stract/pkg/core"
	"github.com/yonasBSD/stract/pkg/log"
	"github.com/yonasBSD/stract/pkg/realtime"
)

// ErrQueryNotFound is returned by Load when the qid does not address a
// stored query. The HTML layer turns it into a redirect, the API layer into
// a 404.
var ErrQueryNotFound = errors.New("query not found")

// Store is the persistence surface the loader needs.
type Store interface {
	GetQuery(qid string) (*core.Query, error)
	GetPreviousQuery(qid string) (*core.Query, error)
	GetNextQuery(qid string) (*core.Query, error)
	GetSearchResults(qid string) ([]core.SearchResult, error)
	SaveSearchResults(qid string, results []core.SearchResult) error
}

// Searcher fetches webpages for a query text from the remote search API.
type Searcher interface {
	Search(ctx context.Context, query string) ([]core.Webpage, error)
}

// Page is the render payload for one query's annotation view.
type Page struct {
	Query         core.Query          `json:"query"`
	SearchResults []core.SearchResult `json:"searchResults"`
	PreviousQuery *core.Query         `json:"previousQuery"`
	NextQuery     *core.Query         `json:"nextQuery"`
}

// Service loads annotation pages. Concurrent first views of the same query
// are coalesced so the remote API is called at most once per cache fill.
type Service struct {
	store    Store
	searcher Searcher
	hub      *realtime.Hub
	group    singleflight.Group
	logger   *log.Logger
}

// NewService creates a loader over the given store and searcher. The hub may
// be nil when no event stream is wanted.
func NewService(store Store, searcher Searcher, hub *realtime.Hub) *Service {
	return &Service{
		store:    store,
		searcher: searcher,
		hub:      hub,
		logger:   log.ForComponent("loader"),
	}
}

// Load resolves qid into a page payload.
//
// On a cache hit no remote call and no write happens. On a cache miss the
// query text is sent to the remote API, the returned webpages are normalized
// into SearchResults with dense origRank and nil annotatedRank, and the set
// is persisted before being returned. Either way the results come back in
// annotation order (see SortResults).
func (s *Service) Load(ctx context.Context, qid string) (*Page, error) {
	query, err := s.store.GetQuery(qid)
	if err != nil {
		return nil, fmt.Errorf("looking up query %s: %w", qid, err)
	}
	if query == nil {
		return nil, fmt.Errorf("%w: %s", ErrQueryNotFound, qid)
	}

	previous, err := s.store.GetPreviousQuery(qid)
	if err != nil {
		return nil, fmt.Errorf("looking up previous query of %s: %w", qid, err)
	}
	next, err := s.store.GetNextQuery(qid)
	if err != nil {
		return nil, fmt.Errorf("looking up next query of %s: %w", qid, err)
	}

	searchResults, err := s.store.GetSearchResults(qid)
	if err != nil {
		return nil, fmt.Errorf("loading cached results for %s: %w", qid, err)
	}

	if len(searchResults) == 0 {
		searchResults, err = s.fetchAndCache(ctx, *query)
		if err != nil {
			return nil, err
		}
	}

	SortResults(searchResults)

	return &Page{
		Query:         *query,
		SearchResults: searchResults,
		PreviousQuery: previous,
		NextQuery:     next,
	}, nil
}

// fetchAndCache fills the cache for a query. Concurrent callers for the same
// qid share one flight: a single remote call and a single write.
func (s *Service) fetchAndCache(ctx context.Context, query core.Query) ([]core.SearchResult, error) {
	v, err, _ := s.group.Do(query.QID, func() (any, error) {
		// The flight serves every coalesced caller, not just the one that
		// started it; detach from that caller's cancellation so its
		// disconnect doesn't fail the rest. The HTTP client's timeout still
		// bounds the remote call.
		ctx := context.WithoutCancel(ctx)

		// A finished earlier flight may have filled the cache between our
		// miss and this call.
		cached, err := s.store.GetSearchResults(query.QID)
		if err != nil {
			return nil, fmt.Errorf("re-checking cached results for %s: %w", query.QID, err)
		}
		if len(cached) > 0 {
			return cached, nil
		}

		webpages, err := s.searcher.Search(ctx, query.Text)
		if err != nil {
			return nil, fmt.Errorf("fetching results for %s: %w", query.QID, err)
		}

		searchResults := make([]core.SearchResult, len(webpages))
		for i, webpage := range webpages {
			searchResults[i] = core.SearchResult{
				ID:       core.ResultID(query.QID, webpage.URL),
				QID:      query.QID,
				OrigRank: i,
				Webpage:  webpage,
			}
		}

		if err := s.store.SaveSearchResults(query.QID, searchResults); err != nil {
			return nil, fmt.Errorf("caching results for %s: %w", query.QID, err)
		}

		s.logger.Infof("fetched and cached %d results for query %s", len(searchResults), query.QID)
		if s.hub != nil {
			s.hub.BroadcastFetch(realtime.FetchEvent{
				QID:     query.QID,
				Results: len(searchResults),
				At:      time.Now().UTC(),
			})
		}

		return searchResults, nil
	})
	if err != nil {
		return nil, err
	}

	// Coalesced callers all receive the flight's return value. Hand each one
	// its own slice so the in-place sort in Load stays private.
	shared := v.([]core.SearchResult)
	out := make([]core.SearchResult, len(shared))
	copy(out, shared)
	return out, nil
}

// SortResults orders results for annotation review: annotated results first
// in ascending annotatedRank order, unannotated results after them in
// ascending origRank order. The sort is stable, so ties keep their input
// order.
func SortResults(results []core.SearchResult) {
	sort.SliceStable(results, func(i, j int) bool {
		a, b := results[i], results[j]
		switch {
		case a.AnnotatedRank == nil && b.AnnotatedRank == nil:
			return a.OrigRank < b.OrigRank
		case a.AnnotatedRank == nil:
			return false
		case b.AnnotatedRank == nil:
			return true
		default:
			return *a.AnnotatedRank < *b.AnnotatedRank
		}
	})
}
