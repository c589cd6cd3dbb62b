// Package knowledge supplies supplementary context for code generation and
// error repair prompts: a per-scene cache of generated lookup queries, a
// full-text documentation corpus, and web search for error fixes.
//
// Every source fails independently. Retrieve returns whatever subset of
// sources succeeded, possibly nothing, and never returns an error.
package knowledge

import (
	"context"
	"encoding/json"
	"errors"
	"regexp"
	"strings"
	"sync"

	"golang.org/x/sync/errgroup"

	"lessonforge/pkg/agent/llm"
	"lessonforge/pkg/logx"
	"lessonforge/pkg/search"
	"lessonforge/pkg/templates"
	"lessonforge/pkg/utils"
)

// Mode selects what the retrieved context is for.
type Mode string

const (
	ModeCodeGeneration Mode = "code_generation"
	ModeErrorFix       Mode = "error_fix"
)

const (
	defaultMaxSnippets = 5
	docsPerQuery       = 2
	maxQueries         = 5
	webResults         = 5
)

// QueryStore caches generated queries.
type QueryStore interface {
	Get(ctx context.Context, topic string, sceneIndex int, mode Mode) ([]string, error)
	Put(ctx context.Context, topic string, sceneIndex int, mode Mode, queries []string) error
}

// Searcher is the documentation corpus.
type Searcher interface {
	Search(ctx context.Context, text string, limit int) ([]Document, error)
}

// Options wires the retriever's sources. Nil sources are skipped.
type Options struct {
	Cache       QueryStore
	Corpus      Searcher
	Helper      llm.LLMClient
	Web         search.Provider
	Templates   *templates.Renderer
	MaxSnippets int
}

// Retriever implements the knowledge lookup used by synthesis and repair.
type Retriever struct {
	cache       QueryStore
	corpus      Searcher
	helper      llm.LLMClient
	web         search.Provider
	templates   *templates.Renderer
	maxSnippets int
	logger      *logx.Logger
}

// NewRetriever creates a retriever.
func NewRetriever(opts Options) *Retriever {
	if opts.MaxSnippets <= 0 {
		opts.MaxSnippets = defaultMaxSnippets
	}
	if opts.Templates == nil {
		opts.Templates = templates.MustNewRenderer()
	}
	return &Retriever{
		cache:       opts.Cache,
		corpus:      opts.Corpus,
		helper:      opts.Helper,
		web:         opts.Web,
		templates:   opts.Templates,
		maxSnippets: opts.MaxSnippets,
		logger:      logx.NewLogger("knowledge"),
	}
}

// Retrieve returns context snippets for contextText: the implementation plan
// in code generation mode, or the diagnostic and code in error fix mode.
func (r *Retriever) Retrieve(ctx context.Context, contextText, topic string, sceneIndex int, mode Mode) []string {
	if r == nil {
		return []string{}
	}
	ctx = llm.WithStage(ctx, "query")
	queries := r.queries(ctx, contextText, topic, sceneIndex, mode)

	var (
		mu      sync.Mutex
		docs    []string
		webHits []string
	)

	// Sources never return errors so one failure does not cancel the others.
	eg, egCtx := errgroup.WithContext(ctx)

	if r.corpus != nil {
		eg.Go(func() error {
			found := r.searchCorpus(egCtx, queries)
			mu.Lock()
			docs = found
			mu.Unlock()
			return nil
		})
	}

	if mode == ModeErrorFix && r.web != nil {
		eg.Go(func() error {
			found := r.searchWeb(egCtx, queries, contextText)
			mu.Lock()
			webHits = found
			mu.Unlock()
			return nil
		})
	}

	_ = eg.Wait()

	out := make([]string, 0, len(docs)+len(webHits))
	out = append(out, docs...)
	out = append(out, webHits...)
	if len(out) > r.maxSnippets {
		out = out[:r.maxSnippets]
	}
	logx.Debug(ctx, "knowledge", "retrieved %d snippets for %s scene %d (%s)", len(out), topic, sceneIndex, mode)
	return out
}

// queries returns cached queries, or formulates new ones with the helper
// model and caches them. Without a usable helper it falls back to the key
// terms of contextText, which are not cached.
func (r *Retriever) queries(ctx context.Context, contextText, topic string, sceneIndex int, mode Mode) []string {
	if r.cache != nil {
		cached, err := r.cache.Get(ctx, topic, sceneIndex, mode)
		if err == nil && len(cached) > 0 {
			logx.Debug(ctx, "knowledge", "using cached queries for %s scene %d (%s)", topic, sceneIndex, mode)
			return cached
		}
		if err != nil && !errors.Is(err, ErrNoCachedQueries) {
			r.logger.Warn("query cache read failed: %v", err)
		}
	}

	fallback := []string{strings.Join(ExtractKeyTerms(contextText, 8), " ")}
	if r.helper == nil {
		return fallback
	}

	tpl := templates.KnowledgeQueriesCodeTemplate
	data := &templates.TemplateData{Topic: topic, Plan: contextText}
	if mode == ModeErrorFix {
		tpl = templates.KnowledgeQueriesFixTemplate
		data = &templates.TemplateData{Topic: topic, Error: contextText}
	}
	prompt, err := r.templates.Render(tpl, data)
	if err != nil {
		r.logger.Warn("failed to render query prompt: %v", err)
		return fallback
	}

	response, err := llm.Prompt(ctx, r.helper, prompt, llm.TemperatureDeterministic)
	if err != nil {
		r.logger.Warn("query formulation failed: %v", err)
		return fallback
	}
	queries := ParseQueries(response)
	if len(queries) == 0 {
		r.logger.Warn("could not parse queries from helper response")
		return fallback
	}

	if r.cache != nil {
		if err := r.cache.Put(ctx, topic, sceneIndex, mode, queries); err != nil {
			r.logger.Warn("query cache write failed: %v", err)
		}
	}
	return queries
}

func (r *Retriever) searchCorpus(ctx context.Context, queries []string) []string {
	seen := map[string]bool{}
	var out []string
	for _, q := range queries {
		docs, err := r.corpus.Search(ctx, q, docsPerQuery)
		if err != nil {
			r.logger.Warn("corpus search failed: %v", err)
			return out
		}
		for i := range docs {
			key := docs[i].Source + "/" + docs[i].Title
			if seen[key] {
				continue
			}
			seen[key] = true
			out = append(out, "## "+docs[i].Title+"\n"+strings.TrimSpace(docs[i].Body))
		}
	}
	return out
}

func (r *Retriever) searchWeb(ctx context.Context, queries []string, contextText string) []string {
	query := utils.TruncateRunes(strings.TrimSpace(contextText), 200)
	if len(queries) > 0 && strings.TrimSpace(queries[0]) != "" {
		query = queries[0]
	}
	if query == "" {
		return nil
	}
	resp, err := r.web.Search(ctx, query, webResults)
	if err != nil {
		r.logger.Warn("web search failed: %v", err)
		return nil
	}
	if formatted := search.Format(resp); formatted != "" {
		return []string{formatted}
	}
	return nil
}

var jsonFence = regexp.MustCompile("(?s)```(?:json)?\\s*(.*?)```")

// ParseQueries extracts a list of queries from a model answer. It accepts a
// JSON array of strings or of {"query": ...} objects, fenced or bare.
func ParseQueries(response string) []string {
	body := strings.TrimSpace(response)
	if m := jsonFence.FindStringSubmatch(body); m != nil {
		body = strings.TrimSpace(m[1])
	}

	var raw []json.RawMessage
	if err := json.Unmarshal([]byte(body), &raw); err != nil {
		return nil
	}

	out := make([]string, 0, len(raw))
	for _, item := range raw {
		var s string
		if json.Unmarshal(item, &s) == nil {
			if s = strings.TrimSpace(s); s != "" {
				out = append(out, s)
			}
			continue
		}
		var obj struct {
			Query string `json:"query"`
		}
		if json.Unmarshal(item, &obj) == nil && strings.TrimSpace(obj.Query) != "" {
			out = append(out, strings.TrimSpace(obj.Query))
		}
	}
	if len(out) > maxQueries {
		out = out[:maxQueries]
	}
	return out
}
