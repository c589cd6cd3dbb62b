// Package repair turns a failed render into new scene code.
//
// Strategies are tried in order by the scene loop and the first one that
// produces code different from the failing code wins. Every collaborator
// failure inside a strategy is logged and reported as "no result", never as
// an error, so the loop can fall through to the next strategy.
package repair

import (
	"context"
	"encoding/json"
	"regexp"
	"strings"

	"lessonforge/pkg/utils"
)

// MaxQueryLength caps generated web search queries.
const MaxQueryLength = 200

// Token bounds for text placed into repair prompts.
const (
	MaxDiagnosticTokens    = 2000
	MaxSearchResultsTokens = 4000
)

// promptDiagnostic bounds a diagnostic for a prompt, keeping the end of the
// traceback.
func promptDiagnostic(diagnostic string) string {
	return utils.TruncateTailTokens(diagnostic, MaxDiagnosticTokens)
}

// Request is the failing state of a scene.
type Request struct {
	Topic       string
	SceneNumber int
	Plan        string
	Category    string
	Code        string
	Diagnostic  string
}

// Strategy produces repaired code.
type Strategy interface {
	// Name is the fix method recorded with a committed fix.
	Name() string
	// Attempt returns new code and true, or false when the strategy has
	// nothing to offer.
	Attempt(ctx context.Context, req Request) (string, bool)
}

// CodeExtractor pulls fenced code out of a model answer, re-prompting for
// the right format when needed.
type CodeExtractor interface {
	ExtractWithRetries(ctx context.Context, response string) (string, error)
}

const codeObjectHint = `# Hint for Manim Code object line access:
# Lines of a Manim 'Code' object are often accessed as sub-mobjects.
# If 'code_block' is a Manim 'Code' object, try accessing lines like:
#   ` + "`specific_lines = code_block.code[start_index:end_index]`" + ` (for a VGroup of lines)
#   ` + "`single_line = code_block.code[index]`" + `
# Or, if code_block has a specific method or attribute for lines, ensure it's used correctly.
# The error 'getter() takes 1 positional argument but X were given' often means
# a method was called with multiple arguments obj.method(a,b) instead of obj.method(slice(a,b))
# or obj.method([a,b]), or it's an attribute being incorrectly called as a method.
# Ensure get_code_lines is a method and is called with the correct argument type (e.g., a slice or a list).`

// CannedHint returns a fixed hint for diagnostics known to confuse models,
// or "" when none applies.
func CannedHint(diagnostic, code string) string {
	if strings.Contains(diagnostic, "TypeError") &&
		strings.Contains(diagnostic, "Mobject.__getattr__") &&
		strings.Contains(code, "get_code_lines") {
		return codeObjectHint
	}
	return ""
}

var (
	fencedQuery = regexp.MustCompile("(?s)```json\\s*\\{[^}]*\"query\":\\s*\"([^\"]+)\"[^}]*\\}\\s*```")

	//nolint:gochecknoglobals // ordered fallbacks
	queryPatterns = []*regexp.Regexp{
		regexp.MustCompile(`"([^"]+)"`),
		regexp.MustCompile(`'([^']+)'`),
		regexp.MustCompile(`(?i)Query:\s*(.+?)(?:\n|$)`),
		regexp.MustCompile(`(?i)Search:\s*(.+?)(?:\n|$)`),
	}
)

// ExtractSearchQuery pulls a search query out of a model answer. It tries a
// fenced JSON object, a bare JSON object, the first quoted string or
// Query:/Search: line longer than 10 characters, then the first line longer
// than 10 characters that is not a comment. The result is capped at
// MaxQueryLength runes; "" means nothing usable was found.
func ExtractSearchQuery(response string) string {
	if m := fencedQuery.FindStringSubmatch(response); m != nil {
		return capQuery(m[1])
	}

	var obj struct {
		Query string `json:"query"`
	}
	if json.Unmarshal([]byte(strings.TrimSpace(response)), &obj) == nil && strings.TrimSpace(obj.Query) != "" {
		return capQuery(obj.Query)
	}

	for _, p := range queryPatterns {
		if m := p.FindStringSubmatch(response); m != nil {
			if q := strings.TrimSpace(m[1]); len(q) > 10 {
				return capQuery(q)
			}
		}
	}

	for _, line := range strings.Split(response, "\n") {
		line = strings.TrimSpace(line)
		if len(line) > 10 && !strings.HasPrefix(line, "#") {
			return capQuery(line)
		}
	}
	return ""
}

func capQuery(q string) string {
	return utils.TruncateRunes(strings.TrimSpace(q), MaxQueryLength)
}
