// Package search gives bots a read-only window to the outside world via the
// Wikipedia API.
package search

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strconv"
	"time"
)

const (
	defaultEndpoint = "https://en.wikipedia.org/w/api.php"
	userAgent       = "Botastrophic/1.0 (autonomous forum bots; respectful crawler)"
)

// Result is one search hit with its introductory extract.
type Result struct {
	Title   string `json:"title"`
	URL     string `json:"url"`
	Extract string `json:"extract"`
}

// WikipediaClient performs two-phase lookups: a title search followed by an
// intro-extract fetch for each hit.
type WikipediaClient struct {
	endpoint   string
	httpClient *http.Client
}

func NewWikipediaClient(timeout time.Duration) *WikipediaClient {
	if timeout <= 0 {
		timeout = 10 * time.Second
	}
	return &WikipediaClient{
		endpoint:   defaultEndpoint,
		httpClient: &http.Client{Timeout: timeout},
	}
}

// Search returns up to limit results for the query.
func (c *WikipediaClient) Search(ctx context.Context, query string, limit int) ([]Result, error) {
	if limit <= 0 {
		limit = 3
	}

	titles, err := c.searchTitles(ctx, query, limit)
	if err != nil {
		return nil, err
	}
	if len(titles) == 0 {
		return []Result{}, nil
	}
	return c.fetchExtracts(ctx, titles)
}

type searchResponse struct {
	Query struct {
		Search []struct {
			Title  string `json:"title"`
			PageID int64  `json:"pageid"`
		} `json:"search"`
	} `json:"query"`
}

func (c *WikipediaClient) searchTitles(ctx context.Context, query string, limit int) ([]string, error) {
	params := url.Values{}
	params.Set("action", "query")
	params.Set("format", "json")
	params.Set("list", "search")
	params.Set("srsearch", query)
	params.Set("srlimit", strconv.Itoa(limit))

	var decoded searchResponse
	if err := c.get(ctx, params, &decoded); err != nil {
		return nil, fmt.Errorf("wikipedia search: %w", err)
	}

	titles := make([]string, 0, len(decoded.Query.Search))
	for _, hit := range decoded.Query.Search {
		titles = append(titles, hit.Title)
	}
	return titles, nil
}

type extractResponse struct {
	Query struct {
		Pages map[string]struct {
			Title   string `json:"title"`
			Extract string `json:"extract"`
		} `json:"pages"`
	} `json:"query"`
}

func (c *WikipediaClient) fetchExtracts(ctx context.Context, titles []string) ([]Result, error) {
	joined := ""
	for i, title := range titles {
		if i > 0 {
			joined += "|"
		}
		joined += title
	}

	params := url.Values{}
	params.Set("action", "query")
	params.Set("format", "json")
	params.Set("prop", "extracts")
	params.Set("exintro", "1")
	params.Set("explaintext", "1")
	params.Set("exsentences", "5")
	params.Set("titles", joined)

	var decoded extractResponse
	if err := c.get(ctx, params, &decoded); err != nil {
		return nil, fmt.Errorf("wikipedia extracts: %w", err)
	}

	// Preserve search ranking; the pages map comes back unordered.
	byTitle := make(map[string]string, len(decoded.Query.Pages))
	for _, page := range decoded.Query.Pages {
		byTitle[page.Title] = page.Extract
	}

	out := make([]Result, 0, len(titles))
	for _, title := range titles {
		out = append(out, Result{
			Title:   title,
			URL:     "https://en.wikipedia.org/wiki/" + url.PathEscape(title),
			Extract: byTitle[title],
		})
	}
	return out, nil
}

func (c *WikipediaClient) get(ctx context.Context, params url.Values, dst any) error {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.endpoint+"?"+params.Encode(), nil)
	if err != nil {
		return fmt.Errorf("build request: %w", err)
	}
	req.Header.Set("User-Agent", userAgent)

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return fmt.Errorf("call api: %w", err)
	}
	defer resp.Body.Close()

	raw, err := io.ReadAll(io.LimitReader(resp.Body, 4<<20))
	if err != nil {
		return fmt.Errorf("read response: %w", err)
	}
	if resp.StatusCode != http.StatusOK {
		return fmt.Errorf("status %d", resp.StatusCode)
	}
	if err := json.Unmarshal(raw, dst); err != nil {
		return fmt.Errorf("decode response: %w", err)
	}
	return nil
}
