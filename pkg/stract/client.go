// Package stract implements the client for the remote Stract search API.
package stract

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"strings"
	"time"

	"github.com/yonasBSD/stract/pkg/core"
)

// DefaultBaseURL is the public Stract endpoint.
const DefaultBaseURL = "https://trystract.com"

const searchPath = "/beta/api/search"

// Client talks to the Stract search API. A zero NumResults requests 100
// results, matching the annotation UI's page size.
type Client struct {
	BaseURL    string
	NumResults int
	HTTPClient *http.Client
}

// NewClient creates a client for the given base URL. An empty baseURL
// selects the public endpoint.
func NewClient(baseURL string, numResults int, timeout time.Duration) *Client {
	if baseURL == "" {
		baseURL = DefaultBaseURL
	}
	if numResults <= 0 {
		numResults = 100
	}
	return &Client{
		BaseURL:    strings.TrimRight(baseURL, "/"),
		NumResults: numResults,
		HTTPClient: &http.Client{Timeout: timeout},
	}
}

type searchRequest struct {
	Query                string `json:"query"`
	NumResults           int    `json:"numResults"`
	ReturnRankingSignals bool   `json:"returnRankingSignals"`
}

type searchResponse struct {
	Webpages []webpageRecord `json:"webpages"`
}

type webpageRecord struct {
	URL            string                  `json:"url"`
	Title          string                  `json:"title"`
	Site           string                  `json:"site"`
	Snippet        snippetRecord           `json:"snippet"`
	RankingSignals map[string]signalRecord `json:"rankingSignals"`
}

type snippetRecord struct {
	Text fragmentList `json:"text"`
}

type fragmentList struct {
	Fragments []fragment `json:"fragments"`
}

type fragment struct {
	Text string `json:"text"`
}

type signalRecord struct {
	Value       float64 `json:"value"`
	Coefficient float64 `json:"coefficient"`
}

// Search posts the query to the search endpoint and returns the webpages in
// API order, normalized to the simplified shape. Failures are returned
// unretried; the caller decides what an upstream error means.
func (c *Client) Search(ctx context.Context, query string) ([]core.Webpage, error) {
	body, err := json.Marshal(searchRequest{
		Query:                query,
		NumResults:           c.NumResults,
		ReturnRankingSignals: true,
	})
	if err != nil {
		return nil, fmt.Errorf("marshaling search request: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.BaseURL+searchPath, bytes.NewReader(body))
	if err != nil {
		return nil, fmt.Errorf("creating request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("accept", "application/json")

	client := c.HTTPClient
	if client == nil {
		client = http.DefaultClient
	}

	resp, err := client.Do(req)
	if err != nil {
		return nil, fmt.Errorf("search API request: %w", err)
	}
	defer func() {
		_ = resp.Body.Close()
	}()

	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("search API returned HTTP %d", resp.StatusCode)
	}

	var sr searchResponse
	if err := json.NewDecoder(resp.Body).Decode(&sr); err != nil {
		return nil, fmt.Errorf("parsing search response: %w", err)
	}

	if sr.Webpages == nil {
		return nil, fmt.Errorf("search response has no webpages field")
	}

	webpages := make([]core.Webpage, len(sr.Webpages))
	for i, record := range sr.Webpages {
		webpages[i] = normalizeWebpage(record)
	}
	return webpages, nil
}

// normalizeWebpage flattens an API webpage record into the stored shape.
func normalizeWebpage(record webpageRecord) core.Webpage {
	w := core.Webpage{
		URL:     record.URL,
		Title:   record.Title,
		Site:    record.Site,
		Snippet: joinFragments(record.Snippet.Text.Fragments),
	}

	if len(record.RankingSignals) > 0 {
		w.RankingSignals = make(map[string]float64, len(record.RankingSignals))
		for name, signal := range record.RankingSignals {
			w.RankingSignals[name] = signal.Value
		}
	}

	return w
}

func joinFragments(fragments []fragment) string {
	if len(fragments) == 0 {
		return ""
	}
	parts := make([]string, len(fragments))
	for i, f := range fragments {
		parts[i] = f.Text
	}
	return strings.Join(parts, "")
}
