package domain

import (
	"fmt"
	"time"
)

// FetchRequest is one outbound HTTP call made on behalf of a source.
type FetchRequest struct {
	Method  string
	URL     string
	Headers map[string]string
	Body    []byte
	Timeout time.Duration
}

type FetchResponse struct {
	Status      int
	ContentType string
	Body        []byte
	FinalURL    string
}

// HTTPStatusError is returned for any non-2xx response.
type HTTPStatusError struct {
	Status  int
	URL     string
	Snippet string
}

func (e *HTTPStatusError) Error() string {
	return fmt.Sprintf("unexpected status %d from %s: %s", e.Status, e.URL, e.Snippet)
}
