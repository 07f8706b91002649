package rulefile

import (
	"fmt"
	"sort"

	"github.com/vk/quern/internal/fsutil"
)

// expander resolves input patterns against the workspace. Glob patterns
// match files on disk and the outputs declared by earlier rules, so a
// rule can consume generated files that do not exist yet.
type expander struct {
	root    string
	pending map[string]bool
}

// expand resolves patterns in order. Literal paths are kept in place;
// each glob expands to its sorted matches, excluding the paths in self.
func (e *expander) expand(patterns []string, self map[string]bool) ([]string, error) {
	var out []string
	seen := make(map[string]bool)
	add := func(p string) {
		if !seen[p] && !self[p] {
			seen[p] = true
			out = append(out, p)
		}
	}

	for _, pattern := range patterns {
		if !fsutil.HasMeta(pattern) {
			rel, err := fsutil.CleanRel(pattern)
			if err != nil {
				return nil, err
			}
			add(rel)
			continue
		}

		matches, err := fsutil.Glob(e.root, pattern)
		if err != nil {
			return nil, fmt.Errorf("expand %q: %w", pattern, err)
		}
		for p := range e.pending {
			ok, err := fsutil.MatchGlob(pattern, p)
			if err != nil {
				return nil, fmt.Errorf("expand %q: %w", pattern, err)
			}
			if ok {
				matches = append(matches, p)
			}
		}
		sort.Strings(matches)
		for _, m := range matches {
			add(m)
		}
	}
	return out, nil
}
