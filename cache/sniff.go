package cache

import (
	"bytes"
	"encoding/json"
	"strings"

	"golang.org/x/net/html"
)

const sniffTokenLimit = 64

var htmlTags = map[string]bool{
	"html": true, "head": true, "body": true, "title": true, "meta": true,
	"div": true, "main": true, "section": true, "article": true, "header": true,
	"nav": true, "ul": true, "li": true, "a": true, "p": true, "script": true,
	"link": true, "span": true, "table": true, "form": true,
}

// LooksLikeHTML reports whether payload reads as an HTML document: a doctype
// or a known HTML element must appear before any non-blank text.
func LooksLikeHTML(payload string) bool {
	trimmed := strings.TrimSpace(payload)
	if trimmed == "" || trimmed[0] != '<' {
		return false
	}

	z := html.NewTokenizer(strings.NewReader(trimmed))
	for i := 0; i < sniffTokenLimit; i++ {
		switch z.Next() {
		case html.ErrorToken:
			return false
		case html.DoctypeToken:
			return strings.HasPrefix(strings.ToLower(strings.TrimSpace(string(z.Text()))), "html")
		case html.StartTagToken, html.SelfClosingTagToken:
			name, _ := z.TagName()
			return htmlTags[strings.ToLower(string(name))]
		case html.TextToken:
			if len(bytes.TrimSpace(z.Text())) > 0 {
				return false
			}
		}
	}
	return false
}

// LooksLikeJSON reports whether payload is a syntactically valid JSON object
// or array.
func LooksLikeJSON(payload string) bool {
	trimmed := strings.TrimSpace(payload)
	if trimmed == "" || (trimmed[0] != '{' && trimmed[0] != '[') {
		return false
	}
	return json.Valid([]byte(trimmed))
}

// extensionFor picks the on-disk extension for a payload.
func extensionFor(payload string) string {
	switch {
	case LooksLikeJSON(payload):
		return "json"
	case LooksLikeHTML(payload):
		return "html"
	default:
		return "txt"
	}
}

// Extensions lists every extension a store may have written, in lookup order.
var Extensions = []string{"json", "html", "txt"}
