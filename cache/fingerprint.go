package cache

import (
	"bytes"
	"crypto/sha1"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"strings"
)

const fingerprintLength = 16

// Request identifies one external call. It is only ever fingerprinted.
type Request struct {
	Method string `json:"method"`
	URL    string `json:"url"`
	Body   any    `json:"body,omitempty"`
}

// Fingerprint hashes a canonical serialization of req: method upper-cased and
// every object key sorted, at any depth.
func Fingerprint(req Request) (string, error) {
	canonical, err := canonicalJSON(Request{
		Method: strings.ToUpper(strings.TrimSpace(req.Method)),
		URL:    strings.TrimSpace(req.URL),
		Body:   req.Body,
	})
	if err != nil {
		return "", fmt.Errorf("failed to serialize request: %w", err)
	}
	sum := sha1.Sum(canonical)
	return hex.EncodeToString(sum[:])[:fingerprintLength], nil
}

// canonicalJSON round-trips v through a generic value so structs, maps and
// raw JSON bodies with the same content all serialize identically.
func canonicalJSON(v any) ([]byte, error) {
	data, err := json.Marshal(v)
	if err != nil {
		return nil, err
	}
	dec := json.NewDecoder(bytes.NewReader(data))
	dec.UseNumber()
	var generic any
	if err := dec.Decode(&generic); err != nil {
		return nil, err
	}
	// encoding/json writes map keys in sorted order.
	return json.Marshal(generic)
}
