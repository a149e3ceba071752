package results

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/yonasBSD/stract/pkg/core"
)

type mockStore struct {
	mu      sync.Mutex
	queries map[string]core.Query
	chain   []string // qids in chain order
	results map[string][]core.SearchResult
	saves   int
}

func newMockStore() *mockStore {
	return &mockStore{
		queries: make(map[string]core.Query),
		results: make(map[string][]core.SearchResult),
	}
}

func (m *mockStore) addQuery(qid, text string) {
	m.queries[qid] = core.Query{QID: qid, Text: text}
	m.chain = append(m.chain, qid)
}

func (m *mockStore) GetQuery(qid string) (*core.Query, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if q, ok := m.queries[qid]; ok {
		return &q, nil
	}
	return nil, nil
}

func (m *mockStore) neighbor(qid string, offset int) (*core.Query, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	for i, id := range m.chain {
		if id == qid {
			j := i + offset
			if j < 0 || j >= len(m.chain) {
				return nil, nil
			}
			q := m.queries[m.chain[j]]
			return &q, nil
		}
	}
	return nil, nil
}

func (m *mockStore) GetPreviousQuery(qid string) (*core.Query, error) {
	return m.neighbor(qid, -1)
}

func (m *mockStore) GetNextQuery(qid string) (*core.Query, error) {
	return m.neighbor(qid, 1)
}

func (m *mockStore) GetSearchResults(qid string) ([]core.SearchResult, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	cached := m.results[qid]
	out := make([]core.SearchResult, len(cached))
	copy(out, cached)
	return out, nil
}

func (m *mockStore) SaveSearchResults(qid string, results []core.SearchResult) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.saves++
	stored := make([]core.SearchResult, len(results))
	copy(stored, results)
	m.results[qid] = stored
	return nil
}

type mockSearcher struct {
	calls    atomic.Int64
	delay    time.Duration
	webpages []core.Webpage
	err      error
}

func (m *mockSearcher) Search(ctx context.Context, query string) ([]core.Webpage, error) {
	m.calls.Add(1)
	if m.delay > 0 {
		time.Sleep(m.delay)
	}
	if m.err != nil {
		return nil, m.err
	}
	return m.webpages, nil
}

func webpagesFor(n int) []core.Webpage {
	webpages := make([]core.Webpage, n)
	for i := range webpages {
		webpages[i] = core.Webpage{
			URL:   fmt.Sprintf("https://example.com/%d", i),
			Title: fmt.Sprintf("Page %d", i),
		}
	}
	return webpages
}

func intPtr(v int) *int { return &v }

func TestSortResultsAllUnannotated(t *testing.T) {
	results := []core.SearchResult{
		{OrigRank: 2},
		{OrigRank: 0},
		{OrigRank: 1},
	}

	SortResults(results)

	for i, r := range results {
		if r.OrigRank != i {
			t.Errorf("position %d: origRank = %d", i, r.OrigRank)
		}
	}
}

func TestSortResultsAllAnnotated(t *testing.T) {
	results := []core.SearchResult{
		{OrigRank: 0, AnnotatedRank: intPtr(5)},
		{OrigRank: 1, AnnotatedRank: intPtr(1)},
		{OrigRank: 2, AnnotatedRank: intPtr(3)},
	}

	SortResults(results)

	want := []int{1, 3, 5}
	for i, r := range results {
		if *r.AnnotatedRank != want[i] {
			t.Errorf("position %d: annotatedRank = %d, want %d", i, *r.AnnotatedRank, want[i])
		}
	}
}

func TestSortResultsAnnotatedPrecedeUnannotated(t *testing.T) {
	results := []core.SearchResult{
		{OrigRank: 0},
		{OrigRank: 1, AnnotatedRank: intPtr(9)},
		{OrigRank: 2},
		{OrigRank: 3, AnnotatedRank: intPtr(1)},
	}

	SortResults(results)

	seenUnannotated := false
	for i, r := range results {
		if r.AnnotatedRank == nil {
			seenUnannotated = true
		} else if seenUnannotated {
			t.Fatalf("annotated result at position %d after unannotated one", i)
		}
	}
	if *results[0].AnnotatedRank != 1 || *results[1].AnnotatedRank != 9 {
		t.Errorf("annotated results out of order: %+v", results[:2])
	}
}

func TestSortResultsWorkedExample(t *testing.T) {
	results := []core.SearchResult{
		{OrigRank: 2},
		{OrigRank: 0, AnnotatedRank: intPtr(1)},
		{OrigRank: 1},
	}

	SortResults(results)

	if results[0].AnnotatedRank == nil || *results[0].AnnotatedRank != 1 {
		t.Fatalf("expected annotated result first, got %+v", results[0])
	}
	if results[1].OrigRank != 1 || results[1].AnnotatedRank != nil {
		t.Fatalf("expected origRank 1 second, got %+v", results[1])
	}
	if results[2].OrigRank != 2 || results[2].AnnotatedRank != nil {
		t.Fatalf("expected origRank 2 last, got %+v", results[2])
	}
}

func TestLoadUnknownQuery(t *testing.T) {
	store := newMockStore()
	searcher := &mockSearcher{webpages: webpagesFor(3)}
	service := NewService(store, searcher, nil)

	_, err := service.Load(context.Background(), "missing")
	if !errors.Is(err, ErrQueryNotFound) {
		t.Fatalf("expected ErrQueryNotFound, got %v", err)
	}
	if searcher.calls.Load() != 0 {
		t.Errorf("expected no remote calls, got %d", searcher.calls.Load())
	}
	if store.saves != 0 {
		t.Errorf("expected no writes, got %d", store.saves)
	}
}

func TestLoadCacheMissFetchesAndPersists(t *testing.T) {
	store := newMockStore()
	store.addQuery("q1", "golang sqlite")
	searcher := &mockSearcher{webpages: webpagesFor(3)}
	service := NewService(store, searcher, nil)

	page, err := service.Load(context.Background(), "q1")
	if err != nil {
		t.Fatalf("Load: %v", err)
	}

	if got := searcher.calls.Load(); got != 1 {
		t.Errorf("expected exactly one remote call, got %d", got)
	}
	if store.saves != 1 {
		t.Errorf("expected one persistence write, got %d", store.saves)
	}

	if len(page.SearchResults) != 3 {
		t.Fatalf("expected 3 results, got %d", len(page.SearchResults))
	}
	for i, r := range page.SearchResults {
		if r.OrigRank != i {
			t.Errorf("result %d: origRank = %d, want %d", i, r.OrigRank, i)
		}
		if r.AnnotatedRank != nil {
			t.Errorf("result %d: expected nil annotatedRank", i)
		}
		wantID := core.ResultID("q1", fmt.Sprintf("https://example.com/%d", i))
		if r.ID != wantID {
			t.Errorf("result %d: id = %q, want %q", i, r.ID, wantID)
		}
	}

	// Persisted before being returned.
	cached, err := store.GetSearchResults("q1")
	if err != nil {
		t.Fatalf("GetSearchResults: %v", err)
	}
	if len(cached) != 3 {
		t.Fatalf("expected persisted results, got %d", len(cached))
	}
}

func TestLoadCacheHitSkipsRemote(t *testing.T) {
	store := newMockStore()
	store.addQuery("q1", "golang sqlite")
	store.results["q1"] = []core.SearchResult{
		{ID: "q1-a", QID: "q1", OrigRank: 1, Webpage: core.Webpage{URL: "a"}},
		{ID: "q1-b", QID: "q1", OrigRank: 0, AnnotatedRank: intPtr(0), Webpage: core.Webpage{URL: "b"}},
	}
	searcher := &mockSearcher{webpages: webpagesFor(3)}
	service := NewService(store, searcher, nil)

	page, err := service.Load(context.Background(), "q1")
	if err != nil {
		t.Fatalf("Load: %v", err)
	}

	if searcher.calls.Load() != 0 {
		t.Errorf("expected no remote call on cache hit, got %d", searcher.calls.Load())
	}
	if store.saves != 0 {
		t.Errorf("expected no write on cache hit, got %d", store.saves)
	}

	// Cached set is returned post-sort: annotated result first.
	if len(page.SearchResults) != 2 {
		t.Fatalf("expected 2 results, got %d", len(page.SearchResults))
	}
	if page.SearchResults[0].ID != "q1-b" {
		t.Errorf("expected annotated result first, got %s", page.SearchResults[0].ID)
	}
}

func TestLoadResolvesNeighbors(t *testing.T) {
	store := newMockStore()
	store.addQuery("q1", "first")
	store.addQuery("q2", "second")
	store.addQuery("q3", "third")
	store.results["q2"] = []core.SearchResult{
		{ID: "q2-a", QID: "q2", OrigRank: 0, Webpage: core.Webpage{URL: "a"}},
	}
	service := NewService(store, &mockSearcher{}, nil)

	page, err := service.Load(context.Background(), "q2")
	if err != nil {
		t.Fatalf("Load: %v", err)
	}

	if page.PreviousQuery == nil || page.PreviousQuery.QID != "q1" {
		t.Errorf("unexpected previous query: %+v", page.PreviousQuery)
	}
	if page.NextQuery == nil || page.NextQuery.QID != "q3" {
		t.Errorf("unexpected next query: %+v", page.NextQuery)
	}
	if page.Query.QID != "q2" {
		t.Errorf("unexpected query: %+v", page.Query)
	}
}

func TestLoadFirstAndLastQueryHaveNilNeighbors(t *testing.T) {
	store := newMockStore()
	store.addQuery("q1", "only")
	store.results["q1"] = []core.SearchResult{
		{ID: "q1-a", QID: "q1", OrigRank: 0, Webpage: core.Webpage{URL: "a"}},
	}
	service := NewService(store, &mockSearcher{}, nil)

	page, err := service.Load(context.Background(), "q1")
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if page.PreviousQuery != nil || page.NextQuery != nil {
		t.Errorf("expected nil neighbors, got prev=%+v next=%+v", page.PreviousQuery, page.NextQuery)
	}
}

func TestLoadUpstreamFailurePropagates(t *testing.T) {
	store := newMockStore()
	store.addQuery("q1", "failing query")
	searcher := &mockSearcher{err: errors.New("upstream down")}
	service := NewService(store, searcher, nil)

	_, err := service.Load(context.Background(), "q1")
	if err == nil {
		t.Fatal("expected error from upstream failure")
	}
	if store.saves != 0 {
		t.Errorf("expected no write after failed fetch, got %d", store.saves)
	}
}

func TestLoadCoalescesConcurrentFirstViews(t *testing.T) {
	store := newMockStore()
	store.addQuery("q1", "popular query")
	searcher := &mockSearcher{webpages: webpagesFor(5), delay: 50 * time.Millisecond}
	service := NewService(store, searcher, nil)

	const loaders = 8
	var wg sync.WaitGroup
	errs := make([]error, loaders)

	for i := 0; i < loaders; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			_, errs[i] = service.Load(context.Background(), "q1")
		}(i)
	}
	wg.Wait()

	for i, err := range errs {
		if err != nil {
			t.Fatalf("loader %d: %v", i, err)
		}
	}

	if got := searcher.calls.Load(); got != 1 {
		t.Errorf("expected a single coalesced remote call, got %d", got)
	}
	if store.saves != 1 {
		t.Errorf("expected a single persistence write, got %d", store.saves)
	}
}

// refillRaceStore misses the first outer cache check of every concurrent
// caller, holding them at a barrier so they reach the shared flight together,
// then serves the same backing slice (annotated, out of order) to every
// in-flight re-check. Callers must not sort that shared memory in place.
type refillRaceStore struct {
	*mockStore
	callers  int
	shared   []core.SearchResult
	barrier  sync.Mutex
	misses   int
	released chan struct{}
}

func newRefillRaceStore(callers int, shared []core.SearchResult) *refillRaceStore {
	return &refillRaceStore{
		mockStore: newMockStore(),
		callers:   callers,
		shared:    shared,
		released:  make(chan struct{}),
	}
}

func (s *refillRaceStore) GetSearchResults(qid string) ([]core.SearchResult, error) {
	s.barrier.Lock()
	if s.misses < s.callers {
		s.misses++
		if s.misses == s.callers {
			close(s.released)
		}
		s.barrier.Unlock()
		<-s.released
		return nil, nil
	}
	s.barrier.Unlock()
	return s.shared, nil
}

func TestLoadConcurrentRefillsSortPrivately(t *testing.T) {
	shared := []core.SearchResult{
		{ID: "r2", OrigRank: 2},
		{ID: "r0", OrigRank: 0, AnnotatedRank: intPtr(1)},
		{ID: "r1", OrigRank: 1, AnnotatedRank: intPtr(0)},
	}
	wantOrder := []string{"r1", "r0", "r2"}

	const loaders = 8
	store := newRefillRaceStore(loaders, shared)
	store.addQuery("q1", "popular query")
	searcher := &mockSearcher{webpages: webpagesFor(3)}
	service := NewService(store, searcher, nil)

	var wg sync.WaitGroup
	pages := make([]*Page, loaders)
	errs := make([]error, loaders)

	for i := 0; i < loaders; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			pages[i], errs[i] = service.Load(context.Background(), "q1")
		}(i)
	}
	wg.Wait()

	for i, err := range errs {
		if err != nil {
			t.Fatalf("loader %d: %v", i, err)
		}
	}

	// Every re-check hit the cache, so nothing was fetched or written.
	if got := searcher.calls.Load(); got != 0 {
		t.Errorf("expected no remote calls, got %d", got)
	}
	if store.saves != 0 {
		t.Errorf("expected no persistence writes, got %d", store.saves)
	}

	for i, page := range pages {
		if len(page.SearchResults) != len(wantOrder) {
			t.Fatalf("loader %d: expected %d results, got %d", i, len(wantOrder), len(page.SearchResults))
		}
		for j, want := range wantOrder {
			if page.SearchResults[j].ID != want {
				t.Errorf("loader %d: position %d: expected %s, got %s", i, j, want, page.SearchResults[j].ID)
			}
		}
	}

	// The store's slice keeps its own order; callers sorted copies.
	for i, want := range []string{"r2", "r0", "r1"} {
		if shared[i].ID != want {
			t.Errorf("shared slice position %d: expected %s, got %s", i, want, shared[i].ID)
		}
	}
}

// cancelAwareSearcher fails when its context is already cancelled, the way a
// real HTTP client would.
type cancelAwareSearcher struct {
	calls    atomic.Int64
	webpages []core.Webpage
}

func (m *cancelAwareSearcher) Search(ctx context.Context, query string) ([]core.Webpage, error) {
	m.calls.Add(1)
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	return m.webpages, nil
}

func TestLoadFetchSurvivesCallerCancellation(t *testing.T) {
	store := newMockStore()
	store.addQuery("q1", "golang generics")
	searcher := &cancelAwareSearcher{webpages: webpagesFor(3)}
	service := NewService(store, searcher, nil)

	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	page, err := service.Load(ctx, "q1")
	if err != nil {
		t.Fatalf("expected the shared fetch to outlive the caller's cancellation, got %v", err)
	}
	if len(page.SearchResults) != 3 {
		t.Fatalf("expected 3 results, got %d", len(page.SearchResults))
	}
	if store.saves != 1 {
		t.Errorf("expected the fetched results to be cached, got %d writes", store.saves)
	}
}
