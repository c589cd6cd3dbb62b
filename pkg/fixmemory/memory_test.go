package fixmemory

import (
	"context"
	"path/filepath"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"lessonforge/pkg/persistence"
)

func newTestMemory(t *testing.T) (*Memory, *persistence.DB) {
	t.Helper()
	db, err := persistence.Open(filepath.Join(t.TempDir(), "memory.db"))
	require.NoError(t, err)
	t.Cleanup(func() { _ = db.Close() })
	return New(db, true), db
}

func TestSignature(t *testing.T) {
	assert.Equal(t, "bf3fd033", Signature("NameError: name 'circel' is not defined", "from manim import *"))

	a := Signature(`File "scene.py", line 12, in construct: x1 undefined`, "code")
	b := Signature(`File "scene.py", line 40, in construct: x7 undefined`, "code")
	assert.Equal(t, "0d349bba", a)
	assert.Equal(t, a, b, "numeric tokens must be masked")

	assert.NotEqual(t, a, Signature(`File "scene.py", line 12, in construct: x1 undefined`, "other code"))
	assert.Len(t, Signature("", ""), 8)
}

func TestSignatureUsesCodePrefixOnly(t *testing.T) {
	prefix := strings.Repeat("a", 200)
	assert.Equal(t, Signature("err", prefix+"tail one"), Signature("err", prefix+"tail two"))
}

func TestErrorKind(t *testing.T) {
	assert.Equal(t, "NameError", ErrorKind("NameError: name 'circel' is not defined"))
	assert.Equal(t, "TypeError", ErrorKind("Traceback...\nValueError: bad\nduring handling: TypeError: x"))
	assert.Empty(t, ErrorKind("segfault"))
}

func TestDisabledMemoryIsNoop(t *testing.T) {
	ctx := context.Background()
	for _, m := range []*Memory{nil, New(nil, true)} {
		assert.False(t, m.Enabled())
		assert.Empty(t, m.FindSimilar(ctx, Query{ErrorMessage: "NameError"}))
		assert.NotNil(t, m.FindSimilar(ctx, Query{ErrorMessage: "NameError"}))
		assert.False(t, m.Commit(ctx, Record{ErrorMessage: "x"}))
		assert.Empty(t, m.PreventiveExamples(ctx, "t", "general", 3))
		assert.False(t, m.RecordGeneration(ctx, "d", "c", "t", "general"))
		assert.False(t, m.Stats(ctx).Enabled)
	}
}

func TestCommitIsIdempotentBySignature(t *testing.T) {
	m, db := newTestMemory(t)
	ctx := context.Background()

	rec := Record{
		ErrorMessage:  "NameError: name 'circel' is not defined",
		OriginalCode:  "c = circel()",
		FixedCode:     "c = Circle()",
		Topic:         "geometry",
		SceneCategory: "geometry",
		Method:        MethodMemory,
	}
	require.True(t, m.Commit(ctx, rec))
	rec.FixedCode = "c = Circle(radius=1)"
	rec.Method = MethodWebSearch
	require.True(t, m.Commit(ctx, rec))

	var rows, count int
	var fixed, method string
	require.NoError(t, db.QueryRow(`SELECT COUNT(*) FROM fix_memory`).Scan(&rows))
	require.NoError(t, db.QueryRow(`SELECT success_count, fixed_code, method FROM fix_memory`).Scan(&count, &fixed, &method))
	assert.Equal(t, 1, rows)
	assert.Equal(t, 2, count)
	assert.Equal(t, "c = Circle(radius=1)", fixed)
	assert.Equal(t, MethodWebSearch, method)
}

func TestCommitFailureReturnsFalse(t *testing.T) {
	m, db := newTestMemory(t)
	require.NoError(t, db.Close())
	assert.False(t, m.Commit(context.Background(), Record{ErrorMessage: "x", FixedCode: "y"}))
	assert.Empty(t, m.FindSimilar(context.Background(), Query{ErrorMessage: "x"}))
}

func TestFindSimilar(t *testing.T) {
	m, _ := newTestMemory(t)
	ctx := context.Background()

	exactErr := "NameError: name 'circel' is not defined"
	require.True(t, m.Commit(ctx, Record{ErrorMessage: exactErr, OriginalCode: "circel()", FixedCode: "Circle()",
		Topic: "geometry", SceneCategory: "geometry", Method: MethodMemory}))
	require.True(t, m.Commit(ctx, Record{ErrorMessage: "NameError: name 'sqaure' is not defined", OriginalCode: "sqaure()",
		FixedCode: "Square()", Topic: "geometry", SceneCategory: "geometry", Method: MethodMemory}))
	require.True(t, m.Commit(ctx, Record{ErrorMessage: "NameError: name 'Axis' is not defined", OriginalCode: "Axis()",
		FixedCode: "Axes()", Topic: "calculus", SceneCategory: "graph", Method: MethodMemory}))
	require.True(t, m.Commit(ctx, Record{ErrorMessage: "TypeError: bad operand", OriginalCode: "a + b",
		FixedCode: "a.add(b)", Topic: "geometry", SceneCategory: "geometry", Method: MethodMemory}))

	got := m.FindSimilar(ctx, Query{ErrorMessage: exactErr, Code: "circel()", Topic: "geometry", SceneCategory: "geometry"})
	require.Len(t, got, 2)
	assert.Equal(t, "Circle()", got[0].FixedCode, "exact signature comes first")
	assert.Equal(t, "Square()", got[1].FixedCode)
	assert.False(t, got[0].UpdatedAt.IsZero())

	got = m.FindSimilar(ctx, Query{ErrorMessage: exactErr, Code: "circel()", Topic: "geometry", SceneCategory: "geometry", Limit: 1})
	assert.Len(t, got, 1)

	got = m.FindSimilar(ctx, Query{ErrorMessage: "segfault", Code: "x"})
	assert.Empty(t, got)
}

func TestPreventiveExamplesTruncated(t *testing.T) {
	m, _ := newTestMemory(t)
	ctx := context.Background()

	long := strings.Repeat("x", 400)
	for i, kind := range []string{"NameError", "TypeError", "ValueError", "KeyError"} {
		require.True(t, m.Commit(ctx, Record{ErrorMessage: kind + ": boom", OriginalCode: string(rune('a' + i)),
			FixedCode: long, Topic: "algebra", SceneCategory: "formula", Method: MethodMemory}))
	}

	got := m.PreventiveExamples(ctx, "algebra", "formula", 0)
	require.Len(t, got, PreventiveLimit)
	assert.Equal(t, strings.Repeat("x", SnippetLength)+"...", got[0].Solution)
	assert.Empty(t, m.PreventiveExamples(ctx, "algebra", "graph", 3))
}

func TestRecordGenerationAndStats(t *testing.T) {
	m, db := newTestMemory(t)
	ctx := context.Background()

	require.True(t, m.RecordGeneration(ctx, strings.Repeat("d", 250), strings.Repeat("c", 600), "algebra", "formula"))
	var desc, code string
	require.NoError(t, db.QueryRow(`SELECT description, code FROM generations`).Scan(&desc, &code))
	assert.Equal(t, 203, len(desc))
	assert.Equal(t, 503, len(code))

	rec := Record{ErrorMessage: "NameError: x", OriginalCode: "x", FixedCode: "y", Method: MethodMemory}
	require.True(t, m.Commit(ctx, rec))
	require.True(t, m.Commit(ctx, rec))
	require.True(t, m.Commit(ctx, Record{ErrorMessage: "TypeError: y", OriginalCode: "y", FixedCode: "z"}))

	st := m.Stats(ctx)
	assert.True(t, st.Enabled)
	assert.Equal(t, 2, st.ErrorFixes)
	assert.Equal(t, 1, st.Generations)
	assert.Equal(t, 3, st.TotalCommits)
	require.Len(t, st.TopSignatures, 1)
	assert.Equal(t, "NameError", st.TopSignatures[0].ErrorKind)
	assert.Equal(t, 2, st.TopSignatures[0].SuccessCount)
}
