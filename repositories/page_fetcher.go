package repositories

import (
	"bytes"
	"context"
	"fmt"
	"io"
	"net/http"
	"time"

	"discovery-worker/domain"
)

const (
	DefaultUserAgent = "Mozilla/5.0 (X11; Linux x86_64) AppleWebKit/537.36 (KHTML, like Gecko) Chrome/120.0 Safari/537.36"
	maxBodyBytes     = 8 << 20
	snippetBytes     = 200
)

type PageFetcher interface {
	Do(ctx context.Context, req domain.FetchRequest) (*domain.FetchResponse, error)
}

type HTTPPageFetcher struct {
	client    *http.Client
	userAgent string
	timeout   time.Duration
}

func NewPageFetcher(userAgent string, timeout time.Duration) *HTTPPageFetcher {
	if userAgent == "" {
		userAgent = DefaultUserAgent
	}
	return &HTTPPageFetcher{client: &http.Client{}, userAgent: userAgent, timeout: timeout}
}

// Do sends req with browser-like headers. Non-2xx responses come back as
// *domain.HTTPStatusError.
func (pf *HTTPPageFetcher) Do(ctx context.Context, req domain.FetchRequest) (*domain.FetchResponse, error) {
	timeout := req.Timeout
	if timeout == 0 {
		timeout = pf.timeout
	}
	if timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, timeout)
		defer cancel()
	}

	method := req.Method
	if method == "" {
		method = http.MethodGet
	}
	var body io.Reader
	if len(req.Body) > 0 {
		body = bytes.NewReader(req.Body)
	}
	httpReq, err := http.NewRequestWithContext(ctx, method, req.URL, body)
	if err != nil {
		return nil, fmt.Errorf("failed to build request for %s: %w", req.URL, err)
	}
	httpReq.Header.Set("User-Agent", pf.userAgent)
	httpReq.Header.Set("Accept", "*/*")
	httpReq.Header.Set("Accept-Language", "fr-FR,fr;q=0.9,en;q=0.8")
	for k, v := range req.Headers {
		httpReq.Header.Set(k, v)
	}

	resp, err := pf.client.Do(httpReq)
	if err != nil {
		return nil, fmt.Errorf("failed to fetch URL %s: %w", req.URL, err)
	}
	defer resp.Body.Close()

	payload, err := io.ReadAll(io.LimitReader(resp.Body, maxBodyBytes))
	if err != nil {
		return nil, fmt.Errorf("failed to read body of %s: %w", req.URL, err)
	}
	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		snippet := payload
		if len(snippet) > snippetBytes {
			snippet = snippet[:snippetBytes]
		}
		return nil, &domain.HTTPStatusError{Status: resp.StatusCode, URL: req.URL, Snippet: string(bytes.TrimSpace(snippet))}
	}

	return &domain.FetchResponse{
		Status:      resp.StatusCode,
		ContentType: resp.Header.Get("Content-Type"),
		Body:        payload,
		FinalURL:    resp.Request.URL.String(),
	}, nil
}
