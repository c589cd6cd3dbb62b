package search

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/google/go-cmp/cmp"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"lessonforge/pkg/config"
)

type fakeProvider struct {
	name  string
	resp  *Response
	err   error
	calls int
}

func (f *fakeProvider) Name() string { return f.name }

func (f *fakeProvider) Search(_ context.Context, _ string, _ int) (*Response, error) {
	f.calls++
	return f.resp, f.err
}

type fakeCaller struct {
	out string
	err error
}

func (f fakeCaller) Call(context.Context, string) (string, error) { return f.out, f.err }

func TestTavilySearch(t *testing.T) {
	var got tavilyRequest
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/search", r.URL.Path)
		assert.NoError(t, json.NewDecoder(r.Body).Decode(&got))
		_, _ = w.Write([]byte(`{"query":"q","answer":"use Circle","results":[
			{"title":"Manim docs","url":"https://docs.manim.community","content":"Circle()","raw_content":"long page","score":0.9}]}`))
	}))
	defer srv.Close()

	p := NewTavilyProvider("key").WithBaseURL(srv.URL)
	resp, err := p.Search(context.Background(), "manim circle NameError", 3)
	require.NoError(t, err)

	assert.Equal(t, "key", got.APIKey)
	assert.Equal(t, 3, got.MaxResults)
	assert.True(t, got.IncludeAnswer)
	assert.Equal(t, "use Circle", resp.Answer)
	want := []Result{{Title: "Manim docs", URL: "https://docs.manim.community", Content: "Circle()", Score: 0.9}}
	if diff := cmp.Diff(want, resp.Results); diff != "" {
		t.Errorf("results mismatch (-want +got):\n%s", diff)
	}
	assert.Equal(t, []string{"long page"}, resp.Extracted)
}

func TestTavilyErrors(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusUnauthorized)
		_, _ = w.Write([]byte(`{"detail":{"error":"invalid key"}}`))
	}))
	defer srv.Close()

	_, err := NewTavilyProvider("bad").WithBaseURL(srv.URL).Search(context.Background(), "q", 0)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "invalid key")

	_, err = NewTavilyProvider("").Search(context.Background(), "q", 0)
	assert.ErrorIs(t, err, ErrUnavailable)
}

func TestDuckDuckGoParsesToolOutput(t *testing.T) {
	p := &DuckDuckGoProvider{tool: fakeCaller{out: "Title: Circle\nDescription: A circle mobject\nURL: https://a\n\n" +
		"Title: Square\nDescription: A square\nURL: https://b\n\nTitle: Dot\nDescription: A dot\n"}}

	resp, err := p.Search(context.Background(), "q", 2)
	require.NoError(t, err)
	want := []Result{
		{Title: "Circle", URL: "https://a", Content: "A circle mobject"},
		{Title: "Square", URL: "https://b", Content: "A square"},
	}
	if diff := cmp.Diff(want, resp.Results); diff != "" {
		t.Errorf("results mismatch (-want +got):\n%s", diff)
	}

	p.tool = fakeCaller{out: "No good DuckDuckGo Search Results was found"}
	_, err = p.Search(context.Background(), "q", 2)
	assert.ErrorIs(t, err, ErrNoResults)

	p.tool = fakeCaller{out: "\n\n"}
	_, err = p.Search(context.Background(), "q", 2)
	assert.ErrorIs(t, err, ErrNoResults)

	p.tool = fakeCaller{err: errors.New("blocked")}
	_, err = p.Search(context.Background(), "q", 2)
	assert.ErrorContains(t, err, "blocked")
}

func TestChainFallsBack(t *testing.T) {
	first := &fakeProvider{name: "a", err: errors.New("down")}
	second := &fakeProvider{name: "b", resp: &Response{}}
	third := &fakeProvider{name: "c", resp: &Response{Answer: "ok"}}

	c := NewChain(first, second, third)
	assert.Equal(t, "a+b+c", c.Name())
	resp, err := c.Search(context.Background(), "q", 3)
	require.NoError(t, err)
	assert.Equal(t, "ok", resp.Answer)
	assert.Equal(t, 1, first.calls)
	assert.Equal(t, 1, second.calls)

	_, err = NewChain(first, second).Search(context.Background(), "q", 3)
	require.Error(t, err)
	assert.ErrorIs(t, err, ErrNoResults)
	assert.Contains(t, err.Error(), "down")

	_, err = NewChain().Search(context.Background(), "q", 3)
	assert.ErrorIs(t, err, ErrUnavailable)
}

func TestNewDisabled(t *testing.T) {
	p, err := New(config.SearchConfig{Provider: config.SearchNone})
	require.NoError(t, err)
	assert.Nil(t, p)

	_, err = New(config.SearchConfig{Provider: "bing"})
	assert.Error(t, err)
}

func TestFormat(t *testing.T) {
	assert.Empty(t, Format(nil))

	resp := &Response{
		Query:  "q",
		Answer: "a",
		Results: []Result{
			{Title: "1", Content: strings.Repeat("x", 400)},
			{Title: "2"}, {Title: "3"}, {Title: "4"},
		},
		Extracted: []string{"e1", "e2", "e3"},
	}
	out := Format(resp)
	assert.Contains(t, out, "Search Query: q")
	assert.Contains(t, out, "AI Answer: a")
	assert.Contains(t, out, strings.Repeat("x", 300)+"...")
	assert.Contains(t, out, "3. 3")
	assert.NotContains(t, out, "4. 4")
	assert.Contains(t, out, "Detailed Content 2")
	assert.NotContains(t, out, "e3")
}
