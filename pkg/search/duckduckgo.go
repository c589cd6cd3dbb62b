package search

import (
	"context"
	"fmt"
	"strings"

	"github.com/tmc/langchaingo/tools/duckduckgo"
)

const defaultUserAgent = "lessonforge/1.0"

// caller is the langchaingo tool surface the provider needs.
type caller interface {
	Call(ctx context.Context, input string) (string, error)
}

// DuckDuckGoProvider searches DuckDuckGo through the langchaingo tool. It
// needs no API key and serves as the fallback provider.
type DuckDuckGoProvider struct {
	tool       caller
	maxResults int
}

// NewDuckDuckGoProvider creates the provider.
func NewDuckDuckGoProvider(maxResults int, userAgent string) (*DuckDuckGoProvider, error) {
	if maxResults <= 0 {
		maxResults = 5
	}
	if userAgent == "" {
		userAgent = defaultUserAgent
	}
	tool, err := duckduckgo.New(maxResults, userAgent)
	if err != nil {
		return nil, err
	}
	return &DuckDuckGoProvider{tool: tool, maxResults: maxResults}, nil
}

func (p *DuckDuckGoProvider) Name() string {
	return "duckduckgo"
}

// Search runs the query. The tool result count is fixed at construction, so
// maxResults only trims the parsed output.
func (p *DuckDuckGoProvider) Search(ctx context.Context, query string, maxResults int) (*Response, error) {
	raw, err := p.tool.Call(ctx, query)
	if err != nil {
		return nil, fmt.Errorf("duckduckgo: %w", err)
	}
	// The tool reports an empty result set as text rather than an error.
	if strings.HasPrefix(raw, "No good DuckDuckGo") {
		return nil, ErrNoResults
	}
	results := parseToolOutput(raw)
	if maxResults > 0 && len(results) > maxResults {
		results = results[:maxResults]
	}
	if len(results) == 0 {
		return nil, ErrNoResults
	}
	return &Response{Provider: p.Name(), Query: query, Results: results}, nil
}

// parseToolOutput splits the tool's "Title: / Description: / URL:" blocks.
func parseToolOutput(raw string) []Result {
	var out []Result
	var cur Result
	flush := func() {
		if cur.Title != "" || cur.Content != "" {
			out = append(out, cur)
		}
		cur = Result{}
	}
	for _, line := range strings.Split(raw, "\n") {
		line = strings.TrimSpace(line)
		switch {
		case line == "":
			flush()
		case strings.HasPrefix(line, "Title:"):
			if cur.Title != "" {
				flush()
			}
			cur.Title = strings.TrimSpace(strings.TrimPrefix(line, "Title:"))
		case strings.HasPrefix(line, "Description:"):
			cur.Content = strings.TrimSpace(strings.TrimPrefix(line, "Description:"))
		case strings.HasPrefix(line, "URL:"):
			cur.URL = strings.TrimSpace(strings.TrimPrefix(line, "URL:"))
		case strings.HasPrefix(line, "Link:"):
			cur.URL = strings.TrimSpace(strings.TrimPrefix(line, "Link:"))
		default:
			if cur.Content != "" {
				cur.Content += " "
			}
			cur.Content += line
		}
	}
	flush()
	return out
}
