package pipeline

import (
	"fmt"
	"regexp"
	"sort"
	"strconv"
	"strings"
)

var (
	outlineBlock = regexp.MustCompile(`(?s)<SCENE_OUTLINE>(.*?)</SCENE_OUTLINE>`)
	sceneBlock   = regexp.MustCompile(`(?s)<SCENE_(\d+)>(.*?)</SCENE_(\d+)>`)
)

// InvalidOutlineError is returned when an outline has no usable scene
// sections. The job fails rather than proceeding with zero scenes.
type InvalidOutlineError struct {
	Path   string
	Reason string
}

func (e *InvalidOutlineError) Error() string {
	if e.Path == "" {
		return "invalid scene outline: " + e.Reason
	}
	return fmt.Sprintf("invalid scene outline %s: %s", e.Path, e.Reason)
}

// Outline is a parsed scene outline.
type Outline struct {
	// Raw is the full text as produced by the planner.
	Raw string
	// Scenes maps a 1-based scene number to the text of its section.
	Scenes map[int]string
}

// Count returns the number of scenes.
func (o *Outline) Count() int { return len(o.Scenes) }

// Numbers returns the scene numbers in ascending order.
func (o *Outline) Numbers() []int {
	out := make([]int, 0, len(o.Scenes))
	for n := range o.Scenes {
		out = append(out, n)
	}
	sort.Ints(out)
	return out
}

// Body returns the text inside <SCENE_OUTLINE>, which is what scene plans
// are given as the full outline.
func (o *Outline) Body() string {
	if m := outlineBlock.FindStringSubmatch(o.Raw); m != nil {
		return strings.TrimSpace(m[1])
	}
	return strings.TrimSpace(o.Raw)
}

// ParseOutline extracts the scene sections of an outline. At least one
// non-empty <SCENE_n> section inside <SCENE_OUTLINE> is required.
func ParseOutline(text string) (*Outline, error) {
	m := outlineBlock.FindStringSubmatch(text)
	if m == nil {
		return nil, &InvalidOutlineError{Reason: "no <SCENE_OUTLINE> block"}
	}

	scenes := make(map[int]string)
	for _, sm := range sceneBlock.FindAllStringSubmatch(m[1], -1) {
		if sm[1] != sm[3] {
			continue
		}
		n, err := strconv.Atoi(sm[1])
		if err != nil || n <= 0 {
			continue
		}
		body := strings.TrimSpace(sm[2])
		if body == "" {
			continue
		}
		if _, dup := scenes[n]; !dup {
			scenes[n] = body
		}
	}
	if len(scenes) == 0 {
		return nil, &InvalidOutlineError{Reason: "no non-empty <SCENE_n> sections"}
	}
	return &Outline{Raw: text, Scenes: scenes}, nil
}
