package fsutil

import (
	"fmt"
	"io/fs"
	"path"
	"path/filepath"
	"strings"
)

// HasMeta reports whether pattern contains glob metacharacters.
func HasMeta(pattern string) bool {
	return strings.ContainsAny(pattern, "*?[")
}

// CleanRel normalizes p to a clean workspace-relative slash path and
// rejects anything that would escape the workspace.
func CleanRel(p string) (string, error) {
	cleaned := path.Clean(filepath.ToSlash(p))
	if cleaned == "." || cleaned == ".." || path.IsAbs(cleaned) || strings.HasPrefix(cleaned, "../") {
		return "", fmt.Errorf("path %q escapes the workspace", p)
	}
	return cleaned, nil
}

// MatchGlob matches a slash-separated path against a pattern. Pattern
// segments follow path.Match, except that a segment consisting of "**"
// matches any number of segments, including none.
func MatchGlob(pattern, name string) (bool, error) {
	return matchSegments(
		strings.Split(path.Clean(pattern), "/"),
		strings.Split(path.Clean(name), "/"))
}

func matchSegments(pat, name []string) (bool, error) {
	if len(pat) == 0 {
		return len(name) == 0, nil
	}
	if pat[0] == "**" {
		for skip := 0; skip <= len(name); skip++ {
			ok, err := matchSegments(pat[1:], name[skip:])
			if ok || err != nil {
				return ok, err
			}
		}
		return false, nil
	}
	if len(name) == 0 {
		return false, nil
	}
	ok, err := path.Match(pat[0], name[0])
	if err != nil || !ok {
		return false, err
	}
	return matchSegments(pat[1:], name[1:])
}

// Glob returns the workspace-relative slash paths of the files under root
// matching pattern, lexically ordered. Hidden directories are not
// descended into.
func Glob(root, pattern string) ([]string, error) {
	pattern = path.Clean(filepath.ToSlash(pattern))
	if err := validatePattern(pattern); err != nil {
		return nil, err
	}

	var out []string
	err := filepath.WalkDir(root, func(p string, d fs.DirEntry, err error) error {
		if err != nil {
			return err
		}
		rel, relErr := filepath.Rel(root, p)
		if relErr != nil {
			return relErr
		}
		rel = filepath.ToSlash(rel)
		if d.IsDir() {
			if rel != "." && strings.HasPrefix(d.Name(), ".") {
				return filepath.SkipDir
			}
			return nil
		}
		ok, matchErr := MatchGlob(pattern, rel)
		if matchErr != nil {
			return matchErr
		}
		if ok {
			out = append(out, rel)
		}
		return nil
	})
	if err != nil {
		return nil, err
	}
	return out, nil
}

func validatePattern(pattern string) error {
	for _, seg := range strings.Split(pattern, "/") {
		if seg == "**" {
			continue
		}
		if _, err := path.Match(seg, "x"); err != nil {
			return fmt.Errorf("glob %q: %w", pattern, err)
		}
	}
	return nil
}
