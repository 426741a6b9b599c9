package sanitizer

import (
	"net/url"
	"regexp"
	"strings"
	"unicode/utf8"
)

const (
	Redacted  = "[REDACTED]"
	MaxLength = 500
	ellipsis  = "…"
)

// Query parameter names whose values never leave the process.
var sensitiveParams = map[string]bool{
	"api_key":      true,
	"token":        true,
	"auth":         true,
	"secret":       true,
	"password":     true,
	"access_token": true,
	"bearer":       true,
}

var (
	authHeaderRe = regexp.MustCompile(`(?i)\b(Authorization:\s*(?:Bearer|Basic)\s+)[^\s,;"']+`)
	authSchemeRe = regexp.MustCompile(`(?i)\b(Bearer|Basic)\s+([A-Za-z0-9\-._~+/=]+)`)
	urlRe        = regexp.MustCompile(`(?i)\bhttps?://[^\s"'<>]+`)
	queryPairRe  = regexp.MustCompile(`(?i)([?&](?:api_key|token|auth|secret|password|access_token|bearer)=)[^&#\s"'<>]*`)
)

// Sanitize redacts credentials from free text and truncates it to MaxLength runes.
func Sanitize(text string) string {
	if text == "" {
		return text
	}
	out := authHeaderRe.ReplaceAllString(text, "${1}"+Redacted)
	out = authSchemeRe.ReplaceAllStringFunc(out, redactCredential)
	out = urlRe.ReplaceAllStringFunc(out, redactURL)
	return Truncate(out, MaxLength)
}

// minTokenLength is the shortest bare value after an auth scheme that is
// treated as a credential.
const minTokenLength = 6

// redactCredential redacts the value after a bare auth scheme only when it
// looks like a token, so prose such as "Basic plan" survives.
func redactCredential(match string) string {
	m := authSchemeRe.FindStringSubmatch(match)
	if len(m) < 3 || !tokenShaped(m[2]) {
		return match
	}
	return m[1] + " " + Redacted
}

// tokenShaped reports whether s is long enough and carries a digit or a
// token punctuation character.
func tokenShaped(s string) bool {
	if len(s) < minTokenLength {
		return false
	}
	return strings.ContainsAny(s, "0123456789-._~+/=")
}

// redactURL rewrites sensitive query values while keeping every other
// parameter and its position intact. Unparseable URLs fall back to a
// pattern replacement over the raw text.
func redactURL(raw string) string {
	u, err := url.Parse(raw)
	if err != nil || u.RawQuery == "" {
		return queryPairRe.ReplaceAllString(raw, "${1}"+Redacted)
	}

	pairs := strings.Split(u.RawQuery, "&")
	for i, pair := range pairs {
		name, _, _ := strings.Cut(pair, "=")
		key, err := url.QueryUnescape(name)
		if err != nil {
			key = name
		}
		if sensitiveParams[strings.ToLower(key)] {
			pairs[i] = name + "=" + Redacted
		}
	}
	u.RawQuery = strings.Join(pairs, "&")
	return u.String()
}

// Truncate shortens text to at most max runes, ending with an ellipsis when cut.
func Truncate(text string, max int) string {
	if max <= 0 || utf8.RuneCountInString(text) <= max {
		return text
	}
	runes := []rune(text)
	return string(runes[:max-1]) + ellipsis
}
