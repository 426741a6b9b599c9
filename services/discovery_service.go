package services

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog/log"
	"golang.org/x/sync/errgroup"

	"discovery-worker/domain"
	"discovery-worker/merge"
	"discovery-worker/models"
	"discovery-worker/repositories"
	"discovery-worker/sanitizer"
	"discovery-worker/scheduler"
	"discovery-worker/sources"
)

// Consumer-side interfaces
type ArtifactCache interface {
	Flush(ctx context.Context) ([]string, error)
}

type TaskRunner interface {
	Run(ctx context.Context, tasks []domain.ProfileTask) scheduler.Result
}

type Geocoder interface {
	Resolve(ctx context.Context, text string) (domain.GeoPoint, error)
}

type RunTracker interface {
	UpdateRunStatus(ctx context.Context, runID string, status string) error
	CompleteRun(ctx context.Context, runID string, status string, counts repositories.RunCounts, completedAt string) error
}

type RecordStore interface {
	SaveRun(ctx context.Context, run models.DiscoveryRun) error
	SaveRecords(ctx context.Context, runID string, records []domain.NormalizedRecord) error
	LoadPrior(ctx context.Context, providers []string, limit int) ([]domain.NormalizedRecord, error)
}

type RecordIndexer interface {
	IndexRecords(ctx context.Context, runID string, records []domain.NormalizedRecord) error
}

type Publisher interface {
	SendMessage(ctx context.Context, queueURL string, msg interface{}) error
}

type EnvelopeUploader interface {
	UploadEnvelope(ctx context.Context, runID string, data []byte) (string, error)
}

type RunObserver interface {
	ListingsDiscovered(provider string, n int)
	PipelineError(provider string, code domain.ErrorCode)
	RecordsPublished(kind string, n int)
	RunFinished(status string, elapsed time.Duration)
}

const DefaultPriorLimit = 500

type RunResult struct {
	RunID       string
	Status      string
	Envelope    *domain.Envelope
	EnvelopeURI string
	Errors      []*domain.PipelineError
}

type DiscoveryService struct {
	adapters        []sources.Adapter
	cache           ArtifactCache
	runner          TaskRunner
	geocoder        Geocoder
	tracker         RunTracker
	records         RecordStore
	indexer         RecordIndexer
	publisher       Publisher
	uploader        EnvelopeUploader
	observer        RunObserver
	listOptions     sources.ListOptions
	scoringQueueURL string
	priorLimit      int
	now             func() time.Time
}

// Functional Options Pattern
type DiscoveryOption func(*DiscoveryService)

func WithAdapters(adapters ...sources.Adapter) DiscoveryOption {
	return func(s *DiscoveryService) { s.adapters = append(s.adapters, adapters...) }
}

func WithArtifactCache(c ArtifactCache) DiscoveryOption {
	return func(s *DiscoveryService) { s.cache = c }
}

func WithTaskRunner(r TaskRunner) DiscoveryOption {
	return func(s *DiscoveryService) { s.runner = r }
}

func WithGeocoder(g Geocoder) DiscoveryOption {
	return func(s *DiscoveryService) { s.geocoder = g }
}

func WithRunTracker(t RunTracker) DiscoveryOption {
	return func(s *DiscoveryService) { s.tracker = t }
}

func WithRecordStore(r RecordStore, priorLimit int) DiscoveryOption {
	return func(s *DiscoveryService) {
		s.records = r
		s.priorLimit = priorLimit
	}
}

func WithIndexer(i RecordIndexer) DiscoveryOption {
	return func(s *DiscoveryService) { s.indexer = i }
}

func WithPublisher(p Publisher, scoringQueueURL string) DiscoveryOption {
	return func(s *DiscoveryService) {
		s.publisher = p
		s.scoringQueueURL = scoringQueueURL
	}
}

func WithEnvelopeUploader(u EnvelopeUploader) DiscoveryOption {
	return func(s *DiscoveryService) { s.uploader = u }
}

func WithObserver(o RunObserver) DiscoveryOption {
	return func(s *DiscoveryService) { s.observer = o }
}

func WithListOptions(opts sources.ListOptions) DiscoveryOption {
	return func(s *DiscoveryService) { s.listOptions = opts }
}

func WithClock(now func() time.Time) DiscoveryOption {
	return func(s *DiscoveryService) { s.now = now }
}

func NewDiscoveryService(opts ...DiscoveryOption) *DiscoveryService {
	s := &DiscoveryService{now: func() time.Time { return time.Now().UTC() }}
	for _, opt := range opts {
		opt(s)
	}
	if s.runner == nil {
		s.runner = scheduler.New()
	}
	if s.priorLimit <= 0 {
		s.priorLimit = DefaultPriorLimit
	}
	return s
}

type sourceListing struct {
	provider string
	result   *sources.ListResult
	err      error
}

// Run executes one discovery run: list every source, run the profile tasks,
// merge, publish, then persist. A source failing to list never stops the
// others; zero records at the end yields domain.ErrNoData.
func (s *DiscoveryService) Run(ctx context.Context, req domain.DiscoveryRequest) (*RunResult, error) {
	started := s.now()
	result := &RunResult{RunID: req.RunID}
	if result.RunID == "" {
		result.RunID = uuid.NewString()
	}
	logger := log.With().Str("run_id", result.RunID).Logger()
	logger.Info().Str("query", req.Search.Query).Msg("discovery.run.started")

	s.updateStatus(ctx, result.RunID, domain.StatusRunning)

	adapters, err := s.selectAdapters(req.Sources)
	if err != nil {
		return s.fail(ctx, result, started, err)
	}

	search := s.resolveLocation(ctx, req.Search)
	listings, err := s.listAll(ctx, adapters, s.listOptionsFor(req), search)
	if err != nil {
		s.flushCache(ctx)
		return s.fail(ctx, result, started, err)
	}

	var tasks []domain.ProfileTask
	summaries := make([]domain.SourceSummary, 0, len(listings))
	for _, l := range listings {
		summary := domain.SourceSummary{Provider: l.provider}
		if l.err != nil {
			summary.Failed = true
			result.Errors = append(result.Errors, asPipelineError(l.provider, l.err))
		}
		if l.result != nil {
			summary.ListingCount = l.result.ListingCount
			tasks = append(tasks, l.result.Tasks...)
			result.Errors = append(result.Errors, l.result.Errors...)
			s.observeListings(l.provider, l.result.ListingCount)
		}
		summaries = append(summaries, summary)
	}

	outcome := s.runner.Run(ctx, tasks)
	result.Errors = append(result.Errors, outcome.Errors...)
	s.flushCache(ctx)
	if ctx.Err() != nil || outcome.Cancelled > 0 {
		return s.fail(ctx, result, started, fmt.Errorf("%w: %d tasks not run", domain.ErrCancelled, outcome.Cancelled))
	}

	current := outcome.Records
	for i := range summaries {
		for _, rec := range current {
			if rec.Provider == summaries[i].Provider {
				summaries[i].RecordCount++
			}
		}
	}

	merged := merge.Dedupe(current, s.loadPrior(ctx, req, adapters))
	for _, perr := range result.Errors {
		s.observeError(perr)
	}

	if len(merged) == 0 {
		result.Status = domain.StatusNoData
		s.complete(ctx, result, started, countListings(summaries), 0)
		logger.Warn().Int("errors", len(result.Errors)).Msg("discovery.run.no_data")
		return result, domain.ErrNoData
	}

	raws := make([]json.RawMessage, len(merged))
	for i, rec := range merged {
		raws[i] = rec.Raw
	}
	envelope, err := domain.NewEnvelope(envelopeSource(adapters), merged, raws, domain.EnvelopeRaw{
		RunID:   result.RunID,
		Search:  search,
		Errors:  result.Errors,
		Sources: summaries,
	}, s.now())
	if err != nil {
		return s.fail(ctx, result, started, err)
	}
	result.Envelope = envelope

	if err := s.publish(ctx, result); err != nil {
		return s.fail(ctx, result, started, err)
	}

	s.persist(ctx, result, started, search.Query, current)

	result.Status = domain.StatusCompleted
	s.complete(ctx, result, started, countListings(summaries), len(merged))
	logger.Info().
		Int("records", len(merged)).
		Int("errors", len(result.Errors)).
		Int("tasks", len(tasks)).
		Dur("elapsed", s.now().Sub(started)).
		Msg("discovery.run.completed")
	return result, nil
}

func (s *DiscoveryService) selectAdapters(names []string) ([]sources.Adapter, error) {
	if len(names) == 0 {
		if len(s.adapters) == 0 {
			return nil, errors.New("no sources configured")
		}
		return s.adapters, nil
	}
	byName := make(map[string]sources.Adapter, len(s.adapters))
	for _, a := range s.adapters {
		byName[a.Name()] = a
	}
	selected := make([]sources.Adapter, 0, len(names))
	for _, name := range names {
		a, ok := byName[name]
		if !ok {
			return nil, fmt.Errorf("unknown source %q", name)
		}
		selected = append(selected, a)
	}
	return selected, nil
}

func (s *DiscoveryService) listOptionsFor(req domain.DiscoveryRequest) sources.ListOptions {
	opts := s.listOptions
	if req.MaxPages > 0 {
		opts.MaxPages = req.MaxPages
	}
	if req.MaxItems > 0 {
		opts.MaxItems = req.MaxItems
	}
	return opts
}

// resolveLocation geocodes the free-text location once per run. A failure
// leaves the search without coordinates so distances stay unknown.
func (s *DiscoveryService) resolveLocation(ctx context.Context, search domain.SearchContext) domain.SearchContext {
	if s.geocoder == nil || search.Coordinates != nil || search.LocationText == "" {
		return search
	}
	point, err := s.geocoder.Resolve(ctx, search.LocationText)
	if err != nil {
		log.Warn().Str("location", search.LocationText).Str("error", sanitizer.Sanitize(err.Error())).Msg("discovery.geocode.failed")
		return search
	}
	search.Coordinates = &point
	return search
}

// listAll lists every source concurrently. Pagination inside one source stays
// sequential. Only cancellation aborts the whole step.
func (s *DiscoveryService) listAll(ctx context.Context, adapters []sources.Adapter, opts sources.ListOptions, search domain.SearchContext) ([]sourceListing, error) {
	listings := make([]sourceListing, len(adapters))
	var (
		g  errgroup.Group
		mu sync.Mutex
	)
	for i, adapter := range adapters {
		i, adapter := i, adapter
		g.Go(func() error {
			res, err := adapter.List(ctx, opts, search)
			if err != nil && domain.IsCancellation(err) {
				return fmt.Errorf("%w: listing %s", domain.ErrCancelled, adapter.Name())
			}
			if err != nil {
				log.Error().Str("provider", adapter.Name()).Str("error", sanitizer.Sanitize(err.Error())).Msg("discovery.source.failed")
			}
			mu.Lock()
			listings[i] = sourceListing{provider: adapter.Name(), result: res, err: err}
			mu.Unlock()
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return nil, err
	}
	return listings, nil
}

func (s *DiscoveryService) flushCache(ctx context.Context) {
	if s.cache == nil {
		return
	}
	paths, err := s.cache.Flush(context.WithoutCancel(ctx))
	if err != nil {
		log.Error().Err(err).Msg("discovery.cache.flush_failed")
		return
	}
	log.Debug().Int("artifacts", len(paths)).Msg("discovery.cache.flushed")
}

func (s *DiscoveryService) loadPrior(ctx context.Context, req domain.DiscoveryRequest, adapters []sources.Adapter) []domain.NormalizedRecord {
	if !req.IncludePrior || s.records == nil {
		return nil
	}
	providers := make([]string, 0, len(adapters))
	for _, a := range adapters {
		providers = append(providers, a.Name())
	}
	prior, err := s.records.LoadPrior(ctx, providers, s.priorLimit)
	if err != nil {
		log.Error().Err(err).Msg("discovery.prior.load_failed")
		return nil
	}
	return prior
}

// publish hands the envelope to the scoring stage. When an uploader is set
// the message carries the object URI instead of the envelope itself.
func (s *DiscoveryService) publish(ctx context.Context, result *RunResult) error {
	if s.uploader != nil {
		data, err := json.Marshal(result.Envelope)
		if err != nil {
			return fmt.Errorf("failed to marshal envelope: %w", err)
		}
		uri, err := s.uploader.UploadEnvelope(ctx, result.RunID, data)
		if err != nil {
			return err
		}
		result.EnvelopeURI = uri
	}
	if s.publisher == nil || s.scoringQueueURL == "" {
		return nil
	}

	msg := domain.ScoringMessage{RunID: result.RunID, Status: domain.StatusCompleted, EnvelopeURI: result.EnvelopeURI}
	if msg.EnvelopeURI == "" {
		msg.Envelope = result.Envelope
	}
	if err := s.publisher.SendMessage(ctx, s.scoringQueueURL, msg); err != nil {
		return err
	}

	if s.observer != nil {
		counts := make(map[string]int)
		for _, r := range result.Envelope.Results {
			counts[r.Kind]++
		}
		for kind, n := range counts {
			s.observer.RecordsPublished(kind, n)
		}
	}
	return nil
}

// persist stores and indexes the records this run produced. Failures are
// logged; the scoring stage already has the envelope.
func (s *DiscoveryService) persist(ctx context.Context, result *RunResult, started time.Time, query string, current []domain.NormalizedRecord) {
	if s.records != nil {
		completed := s.now()
		run := models.DiscoveryRun{
			ID:           result.RunID,
			Status:       domain.StatusCompleted,
			Query:        query,
			RecordsCount: len(current),
			ErrorsCount:  len(result.Errors),
			StartedAt:    started,
			CompletedAt:  &completed,
		}
		if err := s.records.SaveRun(ctx, run); err != nil {
			log.Error().Err(err).Str("run_id", result.RunID).Msg("discovery.persist.run_failed")
		} else if err := s.records.SaveRecords(ctx, result.RunID, current); err != nil {
			log.Error().Err(err).Str("run_id", result.RunID).Msg("discovery.persist.records_failed")
		}
	}
	if s.indexer != nil {
		if err := s.indexer.IndexRecords(ctx, result.RunID, current); err != nil {
			log.Error().Err(err).Str("run_id", result.RunID).Msg("discovery.index.failed")
		}
	}
}

func (s *DiscoveryService) updateStatus(ctx context.Context, runID, status string) {
	if s.tracker == nil {
		return
	}
	if err := s.tracker.UpdateRunStatus(ctx, runID, status); err != nil {
		log.Error().Err(err).Str("run_id", runID).Str("status", status).Msg("discovery.status.update_failed")
	}
}

func (s *DiscoveryService) complete(ctx context.Context, result *RunResult, started time.Time, listings, records int) {
	if s.tracker != nil {
		counts := repositories.RunCounts{Listings: listings, Records: records, Errors: len(result.Errors)}
		err := s.tracker.CompleteRun(context.WithoutCancel(ctx), result.RunID, result.Status, counts, s.now().Format(time.RFC3339))
		if err != nil {
			log.Error().Err(err).Str("run_id", result.RunID).Msg("discovery.status.complete_failed")
		}
	}
	if s.observer != nil {
		s.observer.RunFinished(result.Status, s.now().Sub(started))
	}
}

func (s *DiscoveryService) fail(ctx context.Context, result *RunResult, started time.Time, err error) (*RunResult, error) {
	result.Status = domain.StatusFailed
	s.complete(ctx, result, started, 0, 0)
	log.Error().Str("run_id", result.RunID).Str("error", sanitizer.Sanitize(err.Error())).Msg("discovery.run.failed")
	return result, err
}

func (s *DiscoveryService) observeListings(provider string, n int) {
	if s.observer != nil {
		s.observer.ListingsDiscovered(provider, n)
	}
}

func (s *DiscoveryService) observeError(perr *domain.PipelineError) {
	if s.observer != nil {
		s.observer.PipelineError(perr.Provider, perr.Code)
	}
}

func asPipelineError(provider string, err error) *domain.PipelineError {
	var perr *domain.PipelineError
	if errors.As(err, &perr) {
		return perr
	}
	return domain.NewPipelineError(domain.CodeListingFetchFailed, provider, domain.StepListingFetch, "", err)
}

func envelopeSource(adapters []sources.Adapter) string {
	if len(adapters) == 1 {
		return adapters[0].Name()
	}
	return domain.EnvelopeSourceMixed
}

func countListings(summaries []domain.SourceSummary) int {
	n := 0
	for _, s := range summaries {
		n += s.ListingCount
	}
	return n
}
