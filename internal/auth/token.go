package auth

import (
	"strings"

	"github.com/tidwall/gjson"
)

const tokenQuotes = `"'“”`

// SanitizeToken cleans a pasted access token: a JSON credential object is
// reduced to its access_token, a "Bearer " prefix is dropped and surrounding
// quotes (straight or curly) are stripped.
func SanitizeToken(raw string) string {
	t := strings.TrimSpace(raw)
	if t == "" {
		return ""
	}

	if strings.HasPrefix(t, "{") && strings.HasSuffix(t, "}") && gjson.Valid(t) {
		if at := gjson.Get(t, "access_token"); at.Exists() && at.String() != "" {
			return at.String()
		}
	}

	t = strings.TrimSpace(strings.Trim(t, tokenQuotes))
	if len(t) >= 7 && strings.EqualFold(t[:7], "bearer ") {
		t = strings.TrimSpace(t[7:])
	}

	return strings.Trim(t, tokenQuotes)
}
