package helpers

import (
	"mime"
	"strings"
)

// SplitAndTrim splits s by sep and trims empty parts.
func SplitAndTrim(s, sep string) []string {
	parts := strings.Split(s, sep)
	out := make([]string, 0, len(parts))
	for _, p := range parts {
		if t := strings.TrimSpace(p); t != "" {
			out = append(out, t)
		}
	}
	return out
}

// NormalizeMediaType lower-cases a declared content type and drops its
// parameters. Unparsable values are returned trimmed and lower-cased.
func NormalizeMediaType(declared string) string {
	declared = strings.TrimSpace(declared)
	if declared == "" {
		return ""
	}
	if mt, _, err := mime.ParseMediaType(declared); err == nil {
		return mt
	}
	if i := strings.IndexByte(declared, ';'); i >= 0 {
		declared = declared[:i]
	}
	return strings.ToLower(strings.TrimSpace(declared))
}
