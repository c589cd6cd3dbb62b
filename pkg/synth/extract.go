package synth

import (
	"context"
	"errors"
	"fmt"
	"regexp"
	"strings"

	sitter "github.com/smacker/go-tree-sitter"
	"github.com/smacker/go-tree-sitter/python"
)

// CodePattern is the fence a model answer must use. It is greedy so a stray
// inner fence stays inside the match and is stripped afterwards.
const CodePattern = "```python(.*)```"

var codeFence = regexp.MustCompile("(?s)" + CodePattern)

// ErrEmptyCode is returned for a fence with nothing in it.
var ErrEmptyCode = errors.New("empty code block")

// ExtractCode returns the fenced Python block of response, with stray
// "```" or "```python" lines removed, provided it parses.
func ExtractCode(response string) (string, error) {
	m := codeFence.FindStringSubmatch(response)
	if m == nil {
		return "", fmt.Errorf("no %s block found", CodePattern)
	}

	lines := strings.Split(strings.TrimSpace(m[1]), "\n")
	kept := lines[:0]
	for _, line := range lines {
		t := strings.TrimSpace(line)
		if t == "```" || t == "```python" {
			continue
		}
		kept = append(kept, line)
	}
	code := strings.Join(kept, "\n")

	if err := CheckSyntax(code); err != nil {
		return "", err
	}
	return code, nil
}

// CheckSyntax parses code as Python and reports the first syntax error.
func CheckSyntax(code string) error {
	if strings.TrimSpace(code) == "" {
		return ErrEmptyCode
	}

	// Parsers are not safe for concurrent use; scenes synthesize in parallel.
	parser := sitter.NewParser()
	defer parser.Close()
	parser.SetLanguage(python.GetLanguage())

	tree, err := parser.ParseCtx(context.Background(), nil, []byte(code))
	if err != nil {
		return fmt.Errorf("parse failed: %w", err)
	}
	defer tree.Close()

	root := tree.RootNode()
	if !root.HasError() {
		return nil
	}
	if n := firstError(root); n != nil {
		return fmt.Errorf("syntax error at line %d, column %d", n.StartPoint().Row+1, n.StartPoint().Column+1)
	}
	return errors.New("syntax error")
}

func firstError(n *sitter.Node) *sitter.Node {
	if n.Type() == "ERROR" || n.IsMissing() {
		return n
	}
	for i := 0; i < int(n.ChildCount()); i++ {
		child := n.Child(i)
		if child == nil || (!child.HasError() && !child.IsMissing()) {
			continue
		}
		if found := firstError(child); found != nil {
			return found
		}
	}
	return nil
}
