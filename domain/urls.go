package domain

import (
	"net/url"
	"path"
	"regexp"
	"strings"
)

var (
	digitsRe       = regexp.MustCompile(`\d+`)
	trailingIDRe   = regexp.MustCompile(`[-_]\d+$`)
	onlyDigitsRe   = regexp.MustCompile(`^\d+$`)
	slugSanitizeRe = regexp.MustCompile(`[^a-z0-9-]+`)
)

// NormalizeURL lowercases scheme and host, drops the fragment, default ports
// and a trailing slash. Unparseable input is returned trimmed.
func NormalizeURL(raw string) string {
	raw = strings.TrimSpace(raw)
	u, err := url.Parse(raw)
	if err != nil || u.Host == "" {
		return strings.TrimSuffix(raw, "/")
	}
	u.Scheme = strings.ToLower(u.Scheme)
	host := strings.ToLower(u.Host)
	host = strings.TrimSuffix(host, ":80")
	host = strings.TrimSuffix(host, ":443")
	u.Host = host
	u.Fragment = ""
	u.RawFragment = ""
	if u.Path != "/" {
		u.Path = strings.TrimSuffix(u.Path, "/")
		u.RawPath = ""
	} else if u.RawQuery == "" {
		u.Path = ""
	}
	return u.String()
}

// NumericIDFromURL returns the last run of at least two digits in the URL
// path, or "" when there is none.
func NumericIDFromURL(raw string) string {
	p := urlPath(raw)
	matches := digitsRe.FindAllString(p, -1)
	for i := len(matches) - 1; i >= 0; i-- {
		if len(matches[i]) >= 2 {
			return matches[i]
		}
	}
	return ""
}

// SlugFromURL returns the last path segment that is not purely numeric, with
// any trailing numeric id and file extension removed.
func SlugFromURL(raw string) string {
	segments := strings.Split(strings.Trim(urlPath(raw), "/"), "/")
	for i := len(segments) - 1; i >= 0; i-- {
		seg := strings.ToLower(segments[i])
		seg = strings.TrimSuffix(seg, path.Ext(seg))
		if seg == "" || onlyDigitsRe.MatchString(seg) {
			continue
		}
		seg = trailingIDRe.ReplaceAllString(seg, "")
		seg = slugSanitizeRe.ReplaceAllString(seg, "-")
		seg = strings.Trim(seg, "-")
		if seg != "" {
			return seg
		}
	}
	return ""
}

func urlPath(raw string) string {
	u, err := url.Parse(strings.TrimSpace(raw))
	if err != nil {
		return raw
	}
	return u.Path
}
