// Package fixmemory stores error-to-fix pairs that were proven by a successful
// render, and successful generation examples used to steer future synthesis.
//
// Every read is best-effort: lookups return an empty slice when the store is
// disabled or the database fails, and writes report false instead of failing.
package fixmemory

import (
	"context"
	"crypto/md5" //nolint:gosec // signature bucket, not a security boundary
	"encoding/hex"
	"regexp"
	"strings"
	"time"

	"lessonforge/pkg/logx"
	"lessonforge/pkg/persistence"
	"lessonforge/pkg/utils"
)

// Snippet and record size bounds.
const (
	SnippetLength        = 300
	signatureCodePrefix  = 200
	generationDescLength = 200
	generationCodeLength = 500
	DefaultLimit         = 5
	PreventiveLimit      = 3
)

// Fix methods recorded with each committed fix.
const (
	MethodWebSearch = "web_search"
	MethodMemory    = "memory"
	MethodVisual    = "visual"
)

var (
	variableToken = regexp.MustCompile(`\b\w*\d+\w*\b`)
	lineNumber    = regexp.MustCompile(`line \d+`)
	errorKind     = regexp.MustCompile(`\b([A-Za-z_]\w*(?:Error|Exception))\b`)
)

// Signature buckets an error: the lowercased message with numeric and
// variable-like tokens masked, joined with the first 200 characters of the
// failing code, hashed to 8 hex characters.
func Signature(errorMessage, code string) string {
	normalized := strings.ToLower(errorMessage)
	normalized = variableToken.ReplaceAllString(normalized, "<VAR>")
	normalized = lineNumber.ReplaceAllString(normalized, "line <NUM>")
	sum := md5.Sum([]byte(normalized + ":" + utils.TruncateRunes(code, signatureCodePrefix))) //nolint:gosec
	return hex.EncodeToString(sum[:])[:8]
}

// ErrorKind extracts the exception class name from a diagnostic, e.g. "NameError".
func ErrorKind(errorMessage string) string {
	m := errorKind.FindAllStringSubmatch(errorMessage, -1)
	if len(m) == 0 {
		return ""
	}
	// Tracebacks end with the raised exception.
	return m[len(m)-1][1]
}

// Record is one committed error-to-fix pair.
type Record struct {
	Signature     string    `json:"signature"`
	ErrorMessage  string    `json:"error_message"`
	OriginalCode  string    `json:"original_code"`
	FixedCode     string    `json:"fixed_code"`
	Topic         string    `json:"topic"`
	SceneCategory string    `json:"scene_category"`
	Method        string    `json:"method"`
	SuccessCount  int       `json:"success_count"`
	UpdatedAt     time.Time `json:"updated_at"`
}

// Query describes a similarity lookup.
type Query struct {
	ErrorMessage  string
	Code          string
	Topic         string
	SceneCategory string
	Limit         int
}

// Example is a preventive (problem, solution) pair injected into synthesis prompts.
type Example struct {
	Problem  string `json:"problem"`
	Solution string `json:"solution"`
}

// SignatureCount reports how often a signature was re-committed.
type SignatureCount struct {
	Signature    string `json:"signature"`
	ErrorKind    string `json:"error_kind"`
	SuccessCount int    `json:"success_count"`
}

// Stats summarizes the store.
type Stats struct {
	Enabled       bool             `json:"enabled"`
	ErrorFixes    int              `json:"error_fixes"`
	Generations   int              `json:"generations"`
	TotalCommits  int              `json:"total_commits"`
	TopSignatures []SignatureCount `json:"top_signatures"`
	Error         string           `json:"error,omitempty"`
}

// Memory is the SQLite-backed fix memory. A nil *Memory behaves as disabled.
type Memory struct {
	db      *persistence.DB
	enabled bool
	logger  *logx.Logger
}

// New returns a Memory over db. With enabled false, or a nil db, every
// operation is a no-op.
func New(db *persistence.DB, enabled bool) *Memory {
	return &Memory{db: db, enabled: enabled && db != nil, logger: logx.NewLogger("fixmemory")}
}

// Enabled reports whether lookups and commits reach the database.
func (m *Memory) Enabled() bool {
	return m != nil && m.enabled
}

const recordColumns = `signature, error_message, original_code, fixed_code, topic, scene_category, method, success_count, updated_at`

// FindSimilar returns prior fixes for the query: the exact signature first,
// then fixes for the same error kind within the topic and scene category,
// most reused first. It never fails.
func (m *Memory) FindSimilar(ctx context.Context, q Query) []Record {
	if !m.Enabled() {
		return []Record{}
	}
	limit := q.Limit
	if limit <= 0 {
		limit = DefaultLimit
	}

	sig := Signature(q.ErrorMessage, q.Code)
	out := make([]Record, 0, limit)
	seen := map[string]bool{}

	exact, err := m.query(ctx, `SELECT `+recordColumns+` FROM fix_memory WHERE signature = ?`, sig)
	if err != nil {
		m.logger.Warn("fix lookup failed: %v", err)
		return []Record{}
	}
	for i := range exact {
		seen[exact[i].Signature] = true
		out = append(out, exact[i])
	}

	kind := ErrorKind(q.ErrorMessage)
	if len(out) < limit && kind != "" {
		clauses := []string{`error_message LIKE ?`}
		args := []any{"%" + kind + "%"}
		if q.Topic != "" {
			clauses = append(clauses, `topic = ?`)
			args = append(args, q.Topic)
		}
		if q.SceneCategory != "" {
			clauses = append(clauses, `scene_category = ?`)
			args = append(args, q.SceneCategory)
		}
		args = append(args, limit+1)
		similar, err := m.query(ctx, `SELECT `+recordColumns+` FROM fix_memory WHERE `+
			strings.Join(clauses, " AND ")+` ORDER BY success_count DESC, updated_at DESC LIMIT ?`, args...)
		if err != nil {
			m.logger.Warn("similar fix lookup failed: %v", err)
		}
		for i := range similar {
			if len(out) >= limit {
				break
			}
			if seen[similar[i].Signature] {
				continue
			}
			out = append(out, similar[i])
		}
	}

	logx.Debug(ctx, "fixmemory", "found %d similar fixes for %s (%s)", len(out), sig, kind)
	return out
}

func (m *Memory) query(ctx context.Context, stmt string, args ...any) ([]Record, error) {
	rows, err := m.db.QueryContext(ctx, stmt, args...)
	if err != nil {
		return nil, err
	}
	defer func() { _ = rows.Close() }()

	var out []Record
	for rows.Next() {
		var r Record
		var updated any
		if err := rows.Scan(&r.Signature, &r.ErrorMessage, &r.OriginalCode, &r.FixedCode,
			&r.Topic, &r.SceneCategory, &r.Method, &r.SuccessCount, &updated); err != nil {
			return nil, err
		}
		r.UpdatedAt = persistence.ParseTime(updated)
		out = append(out, r)
	}
	return out, rows.Err()
}

// Commit persists a proven fix. A repeated signature increments its success
// count and keeps the newest fixed code. It reports false when disabled or
// when the write fails.
func (m *Memory) Commit(ctx context.Context, r Record) bool {
	if !m.Enabled() {
		return false
	}
	if r.Signature == "" {
		r.Signature = Signature(r.ErrorMessage, r.OriginalCode)
	}
	if r.SceneCategory == "" {
		r.SceneCategory = "general"
	}
	_, err := m.db.ExecContext(ctx, `
		INSERT INTO fix_memory (signature, error_message, original_code, fixed_code, topic, scene_category, method)
		VALUES (?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT(signature) DO UPDATE SET
			success_count = success_count + 1,
			fixed_code = excluded.fixed_code,
			method = excluded.method,
			updated_at = strftime('%Y-%m-%dT%H:%M:%fZ','now')`,
		r.Signature, r.ErrorMessage, r.OriginalCode, r.FixedCode, r.Topic, r.SceneCategory, r.Method)
	if err != nil {
		m.logger.Warn("failed to store fix %s: %v", r.Signature, err)
		return false
	}
	m.logger.Info("stored fix pattern %s for topic %q via %s", r.Signature, r.Topic, r.Method)
	return true
}

// PreventiveExamples returns up to limit prior fixes for the topic and
// category, each solution cut to SnippetLength characters.
func (m *Memory) PreventiveExamples(ctx context.Context, topic, sceneCategory string, limit int) []Example {
	if !m.Enabled() {
		return []Example{}
	}
	if limit <= 0 {
		limit = PreventiveLimit
	}
	records, err := m.query(ctx, `SELECT `+recordColumns+` FROM fix_memory
		WHERE topic = ? AND scene_category = ?
		ORDER BY success_count DESC, updated_at DESC LIMIT ?`, topic, sceneCategory, limit)
	if err != nil {
		m.logger.Warn("preventive example lookup failed: %v", err)
		return []Example{}
	}
	out := make([]Example, 0, len(records))
	for i := range records {
		out = append(out, Example{
			Problem:  Snippet(records[i].ErrorMessage),
			Solution: Snippet(records[i].FixedCode),
		})
	}
	return out
}

// RecordGeneration stores a successful synthesis as a reference example.
func (m *Memory) RecordGeneration(ctx context.Context, description, code, topic, sceneCategory string) bool {
	if !m.Enabled() {
		return false
	}
	_, err := m.db.ExecContext(ctx,
		`INSERT INTO generations (description, code, topic, scene_category) VALUES (?, ?, ?, ?)`,
		ellipsize(description, generationDescLength), ellipsize(code, generationCodeLength), topic, sceneCategory)
	if err != nil {
		m.logger.Warn("failed to store generation: %v", err)
		return false
	}
	return true
}

// Stats reports counts and the most reused signatures.
func (m *Memory) Stats(ctx context.Context) Stats {
	if !m.Enabled() {
		return Stats{Enabled: false, TopSignatures: []SignatureCount{}}
	}
	st := Stats{Enabled: true, TopSignatures: []SignatureCount{}}
	err := m.db.QueryRowContext(ctx,
		`SELECT COUNT(*), COALESCE(SUM(success_count), 0) FROM fix_memory`).Scan(&st.ErrorFixes, &st.TotalCommits)
	if err == nil {
		err = m.db.QueryRowContext(ctx, `SELECT COUNT(*) FROM generations`).Scan(&st.Generations)
	}
	if err != nil {
		st.Error = err.Error()
		return st
	}

	records, err := m.query(ctx, `SELECT `+recordColumns+` FROM fix_memory
		WHERE success_count > 1 ORDER BY success_count DESC, signature LIMIT 5`)
	if err != nil {
		st.Error = err.Error()
		return st
	}
	for i := range records {
		st.TopSignatures = append(st.TopSignatures, SignatureCount{
			Signature:    records[i].Signature,
			ErrorKind:    ErrorKind(records[i].ErrorMessage),
			SuccessCount: records[i].SuccessCount,
		})
	}
	return st
}

// Snippet cuts s to SnippetLength characters, marking the cut with "...".
func Snippet(s string) string {
	return ellipsize(s, SnippetLength)
}

func ellipsize(s string, n int) string {
	cut := utils.TruncateRunes(s, n)
	if len(cut) < len(s) {
		return cut + "..."
	}
	return s
}
