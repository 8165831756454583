package restore

import (
	"errors"
	"os"
	"path"
	"path/filepath"
	"strings"

	"github.com/unok/history-restore/internal/history"
)

// Fallback controls where files go when their decoded path is not under the
// source root.
type Fallback struct {
	// Anchor is a path segment (e.g. "src"); the part of the decoded path
	// from its first occurrence onward is kept under the project root.
	Anchor string
	// Routes pick a subfolder for filename-only placement by keyword. The
	// first route with a keyword in the decoded path wins.
	Routes []Route
	// Dir is the project subfolder used for filename-only placement when no
	// route matches.
	Dir string
	// RequireExisting skips fallback destinations that do not exist yet.
	RequireExisting bool
}

// Route sends fallback files whose decoded path contains any of AnyKeywords
// (case-insensitive) to Dir.
type Route struct {
	AnyKeywords []string
	Dir         string
}

var errUnresolvable = errors.New("destination path unresolvable")

// resolveDest maps a slash-form decoded path onto the project root.
// fallback reports whether the destination came from a fallback rule.
func resolveDest(projectRoot, sourceRoot, decoded string, fb Fallback) (dest string, fallback bool, err error) {
	if rel, ok := relativeTo(sourceRoot, decoded); ok {
		return filepath.Join(projectRoot, filepath.FromSlash(rel)), false, nil
	}

	if rel, ok := anchoredSuffix(decoded, fb.Anchor); ok {
		dest = filepath.Join(projectRoot, filepath.FromSlash(rel))
	} else {
		name := path.Base(decoded)
		if name == "" || name == "." || name == "/" {
			return "", true, errUnresolvable
		}
		dest = filepath.Join(projectRoot, filepath.FromSlash(fb.routeDir(decoded)), name)
	}

	if fb.RequireExisting {
		if _, err := os.Stat(dest); err != nil {
			return "", true, errUnresolvable
		}
	}
	return dest, true, nil
}

func (fb Fallback) routeDir(decoded string) string {
	lower := strings.ToLower(decoded)
	for _, r := range fb.Routes {
		if containsAny(lower, r.AnyKeywords) {
			return r.Dir
		}
	}
	return fb.Dir
}

// relativeTo returns p relative to root. Drive-letter roots compare
// case-insensitively. Paths that would escape root are rejected.
func relativeTo(root, p string) (string, bool) {
	if root == "" {
		return "", false
	}
	r := strings.TrimSuffix(strings.ReplaceAll(root, `\`, "/"), "/")
	s := strings.ReplaceAll(p, `\`, "/")
	if len(s) <= len(r)+1 || s[len(r)] != '/' {
		return "", false
	}
	prefix := s[:len(r)]
	if history.IsDrivePath(r + "/") {
		if !strings.EqualFold(prefix, r) {
			return "", false
		}
	} else if prefix != r {
		return "", false
	}
	return cleanRelative(s[len(r)+1:])
}

// anchoredSuffix returns the portion of p starting at the first segment equal
// to anchor, e.g. "D:/old/src/pages/a.tsx" with anchor "src" -> "src/pages/a.tsx".
func anchoredSuffix(p, anchor string) (string, bool) {
	if anchor == "" {
		return "", false
	}
	parts := strings.Split(strings.ReplaceAll(p, `\`, "/"), "/")
	for i := 0; i < len(parts)-1; i++ {
		if strings.EqualFold(parts[i], anchor) {
			return cleanRelative(strings.Join(parts[i:], "/"))
		}
	}
	return "", false
}

func cleanRelative(rel string) (string, bool) {
	c := path.Clean(rel)
	if c == "." || c == ".." || strings.HasPrefix(c, "../") || strings.HasPrefix(c, "/") {
		return "", false
	}
	return c, true
}
