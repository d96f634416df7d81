package committees

import (
	"regexp"
	"strings"
)

var (
	associationSuffix = regexp.MustCompile(`(?i)\|\|\s*salve mundi`)
	nonAlphanumeric   = regexp.MustCompile(`[^a-z0-9]`)
)

// NormalizeName turns a display name such as "ICT || Salve Mundi" into its token ("ict").
func NormalizeName(name string) string {
	if name == "" {
		return ""
	}
	s := associationSuffix.ReplaceAllString(name, "")
	return nonAlphanumeric.ReplaceAllString(strings.ToLower(s), "")
}

// canonicalToken prefers the stored token and falls back to the normalized name.
func canonicalToken(token *string, name string) string {
	if token != nil {
		if t := strings.ToLower(strings.TrimSpace(*token)); t != "" {
			return t
		}
	}
	return NormalizeName(name)
}
