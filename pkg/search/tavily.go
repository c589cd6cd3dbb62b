package search

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"time"
)

const tavilyBaseURL = "https://api.tavily.com"

// TavilyProvider queries the Tavily search API.
type TavilyProvider struct {
	httpClient *http.Client
	apiKey     string
	baseURL    string
}

// NewTavilyProvider creates a Tavily provider.
func NewTavilyProvider(apiKey string) *TavilyProvider {
	return &TavilyProvider{
		apiKey:  apiKey,
		baseURL: tavilyBaseURL,
		httpClient: &http.Client{
			Timeout: 30 * time.Second,
		},
	}
}

// WithBaseURL points the provider at another endpoint.
func (p *TavilyProvider) WithBaseURL(u string) *TavilyProvider {
	p.baseURL = u
	return p
}

func (p *TavilyProvider) Name() string {
	return "tavily"
}

type tavilyRequest struct {
	APIKey            string `json:"api_key"`
	Query             string `json:"query"`
	SearchDepth       string `json:"search_depth"`
	MaxResults        int    `json:"max_results"`
	IncludeAnswer     bool   `json:"include_answer"`
	IncludeRawContent bool   `json:"include_raw_content"`
}

type tavilyResult struct {
	Title      string  `json:"title"`
	URL        string  `json:"url"`
	Content    string  `json:"content"`
	RawContent string  `json:"raw_content"`
	Score      float64 `json:"score"`
}

type tavilyResponse struct {
	Query   string         `json:"query"`
	Answer  string         `json:"answer"`
	Results []tavilyResult `json:"results"`
	Detail  *struct {
		Error string `json:"error"`
	} `json:"detail"`
}

// Search performs an advanced-depth search with a synthesized answer.
func (p *TavilyProvider) Search(ctx context.Context, query string, maxResults int) (*Response, error) {
	if p.apiKey == "" {
		return nil, ErrUnavailable
	}
	if maxResults <= 0 {
		maxResults = 5
	}

	body, err := json.Marshal(tavilyRequest{
		APIKey:            p.apiKey,
		Query:             query,
		SearchDepth:       "advanced",
		MaxResults:        maxResults,
		IncludeAnswer:     true,
		IncludeRawContent: true,
	})
	if err != nil {
		return nil, fmt.Errorf("failed to marshal request: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, p.baseURL+"/search", bytes.NewReader(body))
	if err != nil {
		return nil, fmt.Errorf("failed to create request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := p.httpClient.Do(req)
	if err != nil {
		return nil, fmt.Errorf("request failed: %w", err)
	}
	defer func() { _ = resp.Body.Close() }()

	data, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, fmt.Errorf("failed to read response: %w", err)
	}

	var tr tavilyResponse
	if resp.StatusCode != http.StatusOK {
		if json.Unmarshal(data, &tr) == nil && tr.Detail != nil && tr.Detail.Error != "" {
			return nil, fmt.Errorf("API error %d: %s", resp.StatusCode, tr.Detail.Error)
		}
		return nil, fmt.Errorf("API error %d: %s", resp.StatusCode, bytes.TrimSpace(data))
	}
	if err := json.Unmarshal(data, &tr); err != nil {
		return nil, fmt.Errorf("failed to parse response: %w", err)
	}

	out := &Response{Provider: p.Name(), Query: query, Answer: tr.Answer, Results: make([]Result, 0, len(tr.Results))}
	for i := range tr.Results {
		r := &tr.Results[i]
		out.Results = append(out.Results, Result{Title: r.Title, URL: r.URL, Content: r.Content, Score: r.Score})
		if r.RawContent != "" {
			out.Extracted = append(out.Extracted, r.RawContent)
		}
	}
	if out.Empty() {
		return nil, ErrNoResults
	}
	return out, nil
}
