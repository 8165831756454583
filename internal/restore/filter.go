package restore

import (
	"path"
	"strings"
	"time"

	"github.com/bmatcuk/doublestar/v4"
)

// Window is a time range over history directory modification times. A zero
// Start or End leaves that side unbounded; each bound has its own inclusivity.
type Window struct {
	Start          time.Time
	End            time.Time
	StartInclusive bool
	EndInclusive   bool
}

// Contains reports whether t falls inside the window.
func (w Window) Contains(t time.Time) bool {
	if !w.Start.IsZero() {
		if w.StartInclusive && t.Before(w.Start) {
			return false
		}
		if !w.StartInclusive && !t.After(w.Start) {
			return false
		}
	}
	if !w.End.IsZero() {
		if w.EndInclusive && t.After(w.End) {
			return false
		}
		if !w.EndInclusive && !t.Before(w.End) {
			return false
		}
	}
	return true
}

// Filter decides which decoded paths are restored.
type Filter struct {
	Window Window
	// Keywords must all appear in the decoded path, case-insensitively.
	Keywords []string
	// AnyKeywords, when set, requires at least one to appear.
	AnyKeywords []string
	// Extensions, when set, whitelists the decoded file's extension.
	Extensions []string
	// ExcludePatterns are doublestar globs matched against the slash-form path.
	ExcludePatterns []string
}

// MatchPath reports whether the slash-form decoded path passes the keyword,
// extension and exclude predicates.
func (f Filter) MatchPath(p string) bool {
	lower := strings.ToLower(p)
	for _, kw := range f.Keywords {
		if !strings.Contains(lower, strings.ToLower(kw)) {
			return false
		}
	}
	if len(f.AnyKeywords) > 0 && !containsAny(lower, f.AnyKeywords) {
		return false
	}
	if len(f.Extensions) > 0 && !hasExtension(lower, f.Extensions) {
		return false
	}
	return !f.isExcluded(p)
}

func containsAny(s string, keywords []string) bool {
	for _, kw := range keywords {
		if strings.Contains(s, strings.ToLower(kw)) {
			return true
		}
	}
	return false
}

func hasExtension(lowerPath string, exts []string) bool {
	ext := path.Ext(lowerPath)
	if ext == "" {
		return false
	}
	for _, e := range exts {
		e = strings.ToLower(e)
		if !strings.HasPrefix(e, ".") {
			e = "." + e
		}
		if ext == e {
			return true
		}
	}
	return false
}

// isExcluded matches each pattern against the whole path and against every
// suffix of it, so "**/node_modules/**" also catches drive-letter paths.
func (f Filter) isExcluded(p string) bool {
	if len(f.ExcludePatterns) == 0 {
		return false
	}
	parts := strings.Split(p, "/")
	for _, pattern := range f.ExcludePatterns {
		for i := range parts {
			matched, err := doublestar.Match(pattern, strings.Join(parts[i:], "/"))
			if err != nil {
				break
			}
			if matched {
				return true
			}
		}
	}
	return false
}
