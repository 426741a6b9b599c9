package cache

import (
	"context"
	"errors"
	"fmt"
	"sync"

	"github.com/rs/zerolog/log"
)

// ErrShapeMismatch is returned when a freshly fetched payload does not have
// the shape the caller asked for. Such payloads are never cached.
var ErrShapeMismatch = errors.New("payload shape mismatch")

// Artifact is one raw response body together with the request that produced it.
type Artifact struct {
	Type    string
	Request Request
	Payload string
}

// StoredArtifact is an artifact resolved to its storage coordinates.
type StoredArtifact struct {
	Bucket      string
	Fingerprint string
	Extension   string
	Payload     string
}

// Store is the durable layer behind the cache.
type Store interface {
	Read(ctx context.Context, bucket, fingerprint string) (string, bool, error)
	Write(ctx context.Context, artifacts []StoredArtifact) ([]string, error)
}

// ShapeValidator checks a JSON payload beyond syntactic validity.
type ShapeValidator interface {
	Validate(payload []byte) error
}

// Observer receives cache events; metrics implement it.
type Observer interface {
	CacheHit(artifactType string)
	CacheMiss(artifactType string)
	CacheRefetch(artifactType string)
}

// FetchFunc performs the real request on a cache miss.
type FetchFunc func(ctx context.Context) (string, error)

type entryKey struct {
	artifactType string
	fingerprint  string
}

// Cache is a read-through layer over a Store. Fresh payloads go to an
// in-memory overlay and a pending buffer that Flush persists once.
type Cache struct {
	store    Store
	observer Observer

	mu      sync.Mutex
	overlay map[entryKey]string
	pending map[entryKey]Artifact
	order   []entryKey
}

type Option func(*Cache)

func WithObserver(o Observer) Option {
	return func(c *Cache) { c.observer = o }
}

func New(store Store, opts ...Option) *Cache {
	c := &Cache{
		store:    store,
		observer: nopObserver{},
		overlay:  make(map[entryKey]string),
		pending:  make(map[entryKey]Artifact),
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

// Read returns the cached payload for (artifactType, req). It has no side
// effects and may be repeated freely.
func (c *Cache) Read(ctx context.Context, artifactType string, req Request) (string, bool, error) {
	fp, err := Fingerprint(req)
	if err != nil {
		return "", false, err
	}
	key := entryKey{artifactType: artifactType, fingerprint: fp}

	c.mu.Lock()
	payload, ok := c.overlay[key]
	c.mu.Unlock()
	if ok {
		return payload, true, nil
	}

	if c.store == nil {
		return "", false, nil
	}
	return c.store.Read(ctx, BucketFor(artifactType), fp)
}

// Write persists artifacts straight to the store, bypassing the pending buffer.
func (c *Cache) Write(ctx context.Context, artifacts []Artifact) ([]string, error) {
	if c.store == nil || len(artifacts) == 0 {
		return nil, nil
	}
	stored := make([]StoredArtifact, 0, len(artifacts))
	for _, a := range artifacts {
		fp, err := Fingerprint(a.Request)
		if err != nil {
			return nil, err
		}
		stored = append(stored, StoredArtifact{
			Bucket:      BucketFor(a.Type),
			Fingerprint: fp,
			Extension:   extensionFor(a.Payload),
			Payload:     a.Payload,
		})
	}
	return c.store.Write(ctx, stored)
}

// GetHTML returns an HTML payload, refetching when the cached copy does not
// look like HTML.
func (c *Cache) GetHTML(ctx context.Context, artifactType string, req Request, fetch FetchFunc) (string, error) {
	return c.get(ctx, artifactType, req, fetch, func(payload string) bool {
		return LooksLikeHTML(payload)
	})
}

// GetJSON returns a JSON payload, refetching when the cached copy is not JSON
// or fails the optional shape check.
func (c *Cache) GetJSON(ctx context.Context, artifactType string, req Request, fetch FetchFunc, shape ShapeValidator) (string, error) {
	return c.get(ctx, artifactType, req, fetch, func(payload string) bool {
		if !LooksLikeJSON(payload) {
			return false
		}
		return shape == nil || shape.Validate([]byte(payload)) == nil
	})
}

func (c *Cache) get(ctx context.Context, artifactType string, req Request, fetch FetchFunc, valid func(string) bool) (string, error) {
	cached, ok, err := c.Read(ctx, artifactType, req)
	if err != nil {
		// A broken cache entry never blocks the pipeline; fall through to a fetch.
		log.Warn().Err(err).Str("artifact_type", artifactType).Msg("cache.read.failed")
		ok = false
	}
	switch {
	case ok && valid(cached):
		c.observer.CacheHit(artifactType)
		return cached, nil
	case ok:
		c.observer.CacheRefetch(artifactType)
		log.Debug().Str("artifact_type", artifactType).Msg("cache.entry.invalid_shape")
	default:
		c.observer.CacheMiss(artifactType)
	}

	if err := ctx.Err(); err != nil {
		return "", err
	}
	payload, err := fetch(ctx)
	if err != nil {
		return "", err
	}
	if !valid(payload) {
		return "", fmt.Errorf("%w: %s response for %s", ErrShapeMismatch, artifactType, req.URL)
	}
	c.Stage(Artifact{Type: artifactType, Request: req, Payload: payload})
	return payload, nil
}

// Stage records a freshly fetched artifact in the overlay and the pending
// buffer. A repeat for the same (type, fingerprint) replaces the earlier one.
func (c *Cache) Stage(a Artifact) {
	fp, err := Fingerprint(a.Request)
	if err != nil {
		log.Warn().Err(err).Str("artifact_type", a.Type).Msg("cache.stage.fingerprint_failed")
		return
	}
	key := entryKey{artifactType: a.Type, fingerprint: fp}

	c.mu.Lock()
	defer c.mu.Unlock()
	if _, exists := c.pending[key]; !exists {
		c.order = append(c.order, key)
	}
	c.pending[key] = a
	c.overlay[key] = a.Payload
}

// Pending returns how many artifacts wait for Flush.
func (c *Cache) Pending() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return len(c.pending)
}

// Flush writes the pending buffer to the store and empties it. The overlay
// is kept so reads stay consistent for the rest of the run.
func (c *Cache) Flush(ctx context.Context) ([]string, error) {
	c.mu.Lock()
	batch := make([]Artifact, 0, len(c.order))
	for _, key := range c.order {
		batch = append(batch, c.pending[key])
	}
	c.pending = make(map[entryKey]Artifact)
	c.order = nil
	c.mu.Unlock()

	if len(batch) == 0 {
		return nil, nil
	}
	paths, err := c.Write(ctx, batch)
	if err != nil {
		c.requeue(batch)
		return nil, fmt.Errorf("failed to flush %d artifacts: %w", len(batch), err)
	}
	log.Info().Int("artifacts", len(paths)).Msg("cache.flush.completed")
	return paths, nil
}

// requeue puts a failed flush batch back, unless a newer artifact was staged
// for the same key in the meantime.
func (c *Cache) requeue(batch []Artifact) {
	c.mu.Lock()
	defer c.mu.Unlock()
	for _, a := range batch {
		fp, err := Fingerprint(a.Request)
		if err != nil {
			continue
		}
		key := entryKey{artifactType: a.Type, fingerprint: fp}
		if _, exists := c.pending[key]; exists {
			continue
		}
		c.pending[key] = a
		c.order = append(c.order, key)
	}
}

type nopObserver struct{}

func (nopObserver) CacheHit(string)     {}
func (nopObserver) CacheMiss(string)    {}
func (nopObserver) CacheRefetch(string) {}
