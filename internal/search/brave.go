package search

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/url"
	"strconv"
	"time"

	"github.com/nugget/nova-agent/internal/httpkit"
)

const braveEndpoint = "https://api.search.brave.com/res/v1/web/search"

// Brave is the Brave Search API provider.
type Brave struct {
	apiKey   string
	endpoint string
	client   *http.Client
}

// NewBrave creates a Brave provider using the given subscription token.
func NewBrave(apiKey string) *Brave {
	return &Brave{
		apiKey:   apiKey,
		endpoint: braveEndpoint,
		client:   httpkit.NewClient(httpkit.WithTimeout(15 * time.Second)),
	}
}

func (b *Brave) Name() string { return "brave" }

// Search queries Brave's web search endpoint.
func (b *Brave) Search(ctx context.Context, query string, opts Options) ([]Result, error) {
	count := opts.Count
	if count <= 0 {
		count = 5
	}

	params := url.Values{
		"q":     {query},
		"count": {strconv.Itoa(count)},
	}
	if opts.Language != "" {
		params.Set("search_lang", opts.Language)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, b.endpoint+"?"+params.Encode(), nil)
	if err != nil {
		return nil, fmt.Errorf("brave: build request: %w", err)
	}
	req.Header.Set("Accept", "application/json")
	req.Header.Set("X-Subscription-Token", b.apiKey)

	resp, err := b.client.Do(req)
	if err != nil {
		return nil, fmt.Errorf("brave: request failed: %w", err)
	}
	defer httpkit.DrainAndClose(resp.Body, 4096)

	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("brave: HTTP %d: %s", resp.StatusCode, httpkit.ReadErrorBody(resp.Body, 512))
	}

	// Brave nests web results one level down; other verticals (news,
	// videos) are ignored.
	var payload struct {
		Web struct {
			Results []struct {
				Title       string `json:"title"`
				URL         string `json:"url"`
				Description string `json:"description"`
			} `json:"results"`
		} `json:"web"`
	}
	if err := json.NewDecoder(resp.Body).Decode(&payload); err != nil {
		return nil, fmt.Errorf("brave: decode response: %w", err)
	}

	results := make([]Result, 0, len(payload.Web.Results))
	for _, r := range payload.Web.Results {
		results = append(results, Result{
			Title:   r.Title,
			URL:     r.URL,
			Snippet: r.Description,
		})
	}
	return results, nil
}
