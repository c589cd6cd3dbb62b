package synth

import "strings"

// Scene categories used to bucket Fix-Memory records.
const (
	CategoryGraph     = "graph"
	CategoryFormula   = "formula"
	CategoryAnimation = "animation"
	CategoryText      = "text"
	CategoryGeometry  = "geometry"
	Category3D        = "3d"
	CategoryGeneral   = "general"
)

//nolint:gochecknoglobals // ordered lookup table
var categoryKeywords = []struct {
	category string
	words    []string
}{
	{CategoryGraph, []string{"graph", "plot", "chart", "axis", "coordinate"}},
	{CategoryFormula, []string{"formula", "equation", "math", "expression"}},
	{CategoryAnimation, []string{"animate", "move", "transform", "transition"}},
	{CategoryText, []string{"text", "title", "label", "write"}},
	{CategoryGeometry, []string{"shape", "circle", "square", "rectangle"}},
	{Category3D, []string{"3d", "three", "dimensional", "cube", "sphere"}},
}

// InferSceneCategory buckets a plan by keyword. Buckets are checked in a
// fixed order and the first with a matching substring wins.
func InferSceneCategory(plan string) string {
	text := strings.ToLower(plan)
	for _, bucket := range categoryKeywords {
		for _, w := range bucket.words {
			if strings.Contains(text, w) {
				return bucket.category
			}
		}
	}
	return CategoryGeneral
}
