package history

import (
	"net/url"
	"strings"
)

const fileScheme = "file://"

// DecodeURI converts a stored resource URI into a slash-separated absolute
// path. Drive-letter URIs such as file:///c%3A/proj/a.ts decode to
// "c:/proj/a.ts"; POSIX URIs decode to "/home/...". The second return value
// is false for any other scheme or an undecodable path.
func DecodeURI(uri string) (string, bool) {
	if !strings.HasPrefix(uri, fileScheme) {
		return "", false
	}
	rest := uri[len(fileScheme):]
	// Only local files: file:///path, never file://host/path.
	if !strings.HasPrefix(rest, "/") {
		return "", false
	}
	p, err := url.PathUnescape(rest)
	if err != nil {
		return "", false
	}
	p = strings.ReplaceAll(p, `\`, "/")
	if isDrivePath(p[1:]) {
		return p[1:], true
	}
	// "/C:" or "/C:file" is a broken drive path, not a POSIX one.
	if len(p) >= 3 && isLetter(p[1]) && p[2] == ':' {
		return "", false
	}
	if len(p) < 2 {
		return "", false
	}
	return p, true
}

// isDrivePath reports whether p starts with a drive letter followed by a colon
// and a separator, e.g. "C:/".
func isDrivePath(p string) bool {
	if len(p) < 3 {
		return false
	}
	return isLetter(p[0]) && p[1] == ':' && p[2] == '/'
}

func isLetter(c byte) bool {
	return (c >= 'a' && c <= 'z') || (c >= 'A' && c <= 'Z')
}

// IsDrivePath reports whether a slash-form path is a drive-letter path.
func IsDrivePath(p string) bool {
	return isDrivePath(strings.ReplaceAll(p, `\`, "/"))
}
