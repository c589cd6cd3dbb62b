// Package search provides the web search collaborator used by error repair
// and knowledge retrieval.
package search

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"lessonforge/pkg/config"
	"lessonforge/pkg/logx"
	"lessonforge/pkg/utils"
)

// ErrNoResults is returned when a provider answered but found nothing useful.
var ErrNoResults = errors.New("no search results")

// ErrUnavailable is returned by providers that are not configured.
var ErrUnavailable = errors.New("search provider unavailable")

// Result is a single search hit.
type Result struct {
	Title   string  `json:"title"`
	URL     string  `json:"url"`
	Content string  `json:"content"`
	Score   float64 `json:"score,omitempty"`
}

// Response is the outcome of one search.
type Response struct {
	Provider string   `json:"provider"`
	Query    string   `json:"query"`
	Answer   string   `json:"answer,omitempty"`
	Results  []Result `json:"results"`

	// Extracted holds longer page extracts when the provider returns them.
	Extracted []string `json:"extracted,omitempty"`
}

// Empty reports whether the response carries nothing usable.
func (r *Response) Empty() bool {
	return r == nil || (r.Answer == "" && len(r.Results) == 0 && len(r.Extracted) == 0)
}

// Provider is a web search backend.
type Provider interface {
	Name() string
	Search(ctx context.Context, query string, maxResults int) (*Response, error)
}

// Chain tries providers in order and returns the first non-empty response.
type Chain struct {
	providers []Provider
	logger    *logx.Logger
}

// NewChain builds a fallback chain.
func NewChain(providers ...Provider) *Chain {
	return &Chain{providers: providers, logger: logx.NewLogger("search")}
}

// Name returns the provider names joined by "+".
func (c *Chain) Name() string {
	names := make([]string, 0, len(c.providers))
	for _, p := range c.providers {
		names = append(names, p.Name())
	}
	return strings.Join(names, "+")
}

// Search implements Provider.
func (c *Chain) Search(ctx context.Context, query string, maxResults int) (*Response, error) {
	if len(c.providers) == 0 {
		return nil, ErrUnavailable
	}
	var errs []error
	for _, p := range c.providers {
		resp, err := p.Search(ctx, query, maxResults)
		if err == nil && !resp.Empty() {
			return resp, nil
		}
		if err == nil {
			err = ErrNoResults
		}
		c.logger.Warn("%s search failed for %q: %v", p.Name(), utils.TruncateRunes(query, 80), err)
		errs = append(errs, fmt.Errorf("%s: %w", p.Name(), err))
		if ctx.Err() != nil {
			break
		}
	}
	return nil, errors.Join(errs...)
}

// New builds the configured provider chain. Tavily is used when selected and
// an API key is available, with DuckDuckGo as the fallback. It returns nil when
// search is disabled.
func New(cfg config.SearchConfig) (Provider, error) {
	logger := logx.NewLogger("search")
	var providers []Provider

	switch cfg.Provider {
	case config.SearchNone, "":
		return nil, nil
	case config.SearchTavily:
		key, err := config.GetSecret(config.SecretTavilyKey)
		if err != nil || key == "" {
			logger.Warn("tavily selected but %s is not set; falling back to duckduckgo", config.SecretTavilyKey)
		} else {
			providers = append(providers, NewTavilyProvider(key))
		}
	case config.SearchDuckDuckGo:
	default:
		return nil, fmt.Errorf("unknown search provider %q", cfg.Provider)
	}

	ddg, err := NewDuckDuckGoProvider(cfg.MaxResults, cfg.UserAgent)
	if err != nil {
		if len(providers) == 0 {
			return nil, fmt.Errorf("failed to create duckduckgo provider: %w", err)
		}
		logger.Warn("duckduckgo fallback unavailable: %v", err)
	} else {
		providers = append(providers, ddg)
	}

	if len(providers) == 1 {
		return providers[0], nil
	}
	return NewChain(providers...), nil
}

// Format renders a response as prompt context: the direct answer, the top
// three results cut to 300 characters, and two page extracts cut to 500.
func Format(resp *Response) string {
	if resp.Empty() {
		return ""
	}
	var b strings.Builder
	if resp.Query != "" {
		fmt.Fprintf(&b, "Search Query: %s\n\n", resp.Query)
	}
	if resp.Answer != "" {
		fmt.Fprintf(&b, "AI Answer: %s\n\n", resp.Answer)
	}
	if len(resp.Results) > 0 {
		b.WriteString("Relevant Sources:\n")
		for i, r := range resp.Results {
			if i == 3 {
				break
			}
			fmt.Fprintf(&b, "%d. %s\n", i+1, r.Title)
			if r.URL != "" {
				fmt.Fprintf(&b, "   URL: %s\n", r.URL)
			}
			if r.Content != "" {
				fmt.Fprintf(&b, "   Content: %s\n", ellipsize(r.Content, 300))
			}
			b.WriteString("\n")
		}
	}
	for i, content := range resp.Extracted {
		if i == 2 {
			break
		}
		fmt.Fprintf(&b, "Detailed Content %d:\n%s\n\n", i+1, ellipsize(content, 500))
	}
	return strings.TrimSpace(b.String())
}

func ellipsize(s string, n int) string {
	cut := utils.TruncateRunes(s, n)
	if len(cut) < len(s) {
		return cut + "..."
	}
	return s
}
