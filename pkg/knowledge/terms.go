package knowledge

import (
	"regexp"
	"sort"
	"strings"
)

var tokenPattern = regexp.MustCompile(`[a-zA-Z0-9_]+`)

//nolint:gochecknoglobals // lookup table
var stopWords = map[string]bool{
	"the": true, "a": true, "an": true, "and": true, "or": true,
	"but": true, "in": true, "on": true, "at": true, "to": true,
	"for": true, "of": true, "with": true, "by": true, "from": true,
	"as": true, "is": true, "are": true, "was": true, "were": true,
	"be": true, "been": true, "being": true, "have": true, "has": true,
	"had": true, "do": true, "does": true, "did": true, "will": true,
	"would": true, "should": true, "could": true, "may": true, "might": true,
	"must": true, "can": true, "this": true, "that": true, "these": true,
	"those": true, "i": true, "you": true, "he": true, "she": true,
	"it": true, "we": true, "they": true, "what": true, "which": true,
	"who": true, "when": true, "where": true, "why": true, "how": true,
	"self": true, "def": true, "import": true, "none": true, "true": true,
	"false": true, "not": true, "then": true, "scene": true, "line": true,
}

// ExtractKeyTerms returns the most frequent non-stop-word identifiers in
// text, most frequent first, ties broken by first appearance.
func ExtractKeyTerms(text string, maxTerms int) []string {
	tokens := tokenPattern.FindAllString(text, -1)

	freq := make(map[string]int)
	first := make(map[string]int)
	for i, token := range tokens {
		lower := strings.ToLower(token)
		if len(lower) < 3 || stopWords[lower] {
			continue
		}
		if _, seen := first[token]; !seen {
			first[token] = i
		}
		freq[token]++ // keep original case
	}

	terms := make([]string, 0, len(freq))
	for term := range freq {
		terms = append(terms, term)
	}
	sort.Slice(terms, func(i, j int) bool {
		if freq[terms[i]] != freq[terms[j]] {
			return freq[terms[i]] > freq[terms[j]]
		}
		return first[terms[i]] < first[terms[j]]
	})

	if maxTerms > 0 && len(terms) > maxTerms {
		terms = terms[:maxTerms]
	}
	return terms
}

// ftsQuery turns free text into an FTS5 OR query of quoted terms, so user
// text can never inject FTS5 syntax.
func ftsQuery(text string) string {
	terms := ExtractKeyTerms(text, 12)
	quoted := make([]string, 0, len(terms))
	for _, t := range terms {
		quoted = append(quoted, `"`+t+`"`)
	}
	return strings.Join(quoted, " OR ")
}
