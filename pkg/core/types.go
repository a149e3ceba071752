// Package core defines the domain model shared by the storage layer, the
// result loader and the HTTP surfaces: queries, normalized webpages, search
// results and experiment records.
package core

import (
	"time"
)

// Query is a single stored search query, addressed by its qid. Queries form
// a doubly linked chain in chronological order; the links are resolved
// through the storage layer.
type Query struct {
	QID       string    `json:"qid"`
	Text      string    `json:"text"`
	CreatedAt time.Time `json:"createdAt"`
}

// Webpage is the normalized shape of a page returned by the remote search
// API. Only display metadata survives normalization; the raw API record is
// not stored.
type Webpage struct {
	URL            string             `json:"url"`
	Title          string             `json:"title"`
	Site           string             `json:"site,omitempty"`
	Snippet        string             `json:"snippet,omitempty"`
	RankingSignals map[string]float64 `json:"rankingSignals,omitempty"`
}

// SearchResult is one result of a query, keyed "<qid>-<url>".
//
// OrigRank is the zero-based position in the order the remote API returned
// the page; it is assigned once at fetch time and never changes. It is dense
// and unique per query at creation time.
//
// AnnotatedRank is an externally assigned relevance annotation. It is nil
// until someone annotates the result, and unlike OrigRank it is neither
// required to be dense nor unique.
type SearchResult struct {
	ID            string  `json:"id"`
	QID           string  `json:"qid"`
	OrigRank      int     `json:"origRank"`
	AnnotatedRank *int    `json:"annotatedRank"`
	Webpage       Webpage `json:"webpage"`
}

// ResultID builds the composite search result key.
func ResultID(qid, url string) string {
	return qid + "-" + url
}

// Experiment records a single annotation action: which result was ranked and
// the rank that was assigned (nil when the annotation was cleared).
type Experiment struct {
	ID        string    `json:"id"`
	Name      string    `json:"name"`
	ResultID  string    `json:"resultId,omitempty"`
	Rank      *int      `json:"rank,omitempty"`
	CreatedAt time.Time `json:"createdAt"`
}
