package cmd

import (
	"context"
	"fmt"

	"github.com/aws/aws-sdk-go-v2/aws"
	awsconfig "github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/credentials"
	"github.com/aws/aws-sdk-go-v2/service/dynamodb"
	"github.com/aws/aws-sdk-go-v2/service/sqs"
	"github.com/rs/zerolog/log"
	"gorm.io/driver/postgres"
	"gorm.io/gorm"

	"discovery-worker/cache"
	"discovery-worker/config"
	"discovery-worker/metrics"
	"discovery-worker/models"
	"discovery-worker/repositories"
	"discovery-worker/scheduler"
	"discovery-worker/services"
	"discovery-worker/sources"
)

// factory holds everything one process needs to run discoveries.
type factory struct {
	cfg     *config.Config
	metrics *metrics.PrometheusMetrics
	sqs     *repositories.AWSSQSClient
	service *services.DiscoveryService
}

func newFactory(ctx context.Context, cfg *config.Config) (*factory, error) {
	f := &factory{cfg: cfg}
	if cfg.MetricsAddr != "" {
		f.metrics = metrics.NewMetrics()
		go metrics.StartNewMetricsServer(cfg.MetricsAddr)
	}

	var awsCfg *aws.Config
	loadAWS := func() (aws.Config, error) {
		if awsCfg == nil {
			c, err := newAWSConfig(ctx, cfg)
			if err != nil {
				return aws.Config{}, err
			}
			awsCfg = &c
		}
		return *awsCfg, nil
	}

	opts := []services.DiscoveryOption{
		services.WithListOptions(sources.ListOptions{
			MaxPages:        cfg.MaxPages,
			PageDelay:       cfg.PageDelay,
			StagnationPages: cfg.StagnationPages,
			MaxItems:        cfg.MaxItems,
		}),
	}

	// Artifact cache
	var store cache.Store = repositories.NewFileArtifactStore(cfg.CacheDir)
	if cfg.ArtifactBackend == config.BackendS3 {
		c, err := loadAWS()
		if err != nil {
			return nil, err
		}
		s3Store := repositories.NewS3ArtifactStore(repositories.NewS3Client(c), cfg.ArtifactBucket, cfg.ArtifactPrefix)
		store = s3Store
		opts = append(opts, services.WithEnvelopeUploader(s3Store))
	}
	var cacheOpts []cache.Option
	if f.metrics != nil {
		cacheOpts = append(cacheOpts, cache.WithObserver(f.metrics))
	}
	artifacts := cache.New(store, cacheOpts...)
	opts = append(opts, services.WithArtifactCache(artifacts))

	// Sources
	fetcher := repositories.NewPageFetcher(cfg.UserAgent, cfg.HTTPTimeout)
	deps := sources.Deps{Cache: artifacts, Transport: fetcher}
	if cfg.EventHubBaseURL != "" {
		opts = append(opts, services.WithAdapters(sources.NewEventHub(cfg.EventHubBaseURL, deps)))
	}
	if cfg.DJDirectoryBaseURL != "" {
		opts = append(opts, services.WithAdapters(sources.NewDJDirectory(cfg.DJDirectoryBaseURL, deps)))
	}
	if cfg.GeocoderURL != "" {
		opts = append(opts, services.WithGeocoder(repositories.NewGeocoder(fetcher, cfg.GeocoderURL)))
	}

	// Scheduler
	var limiter scheduler.RateLimiter = scheduler.NewIntervalLimiter(cfg.RateLimit, cfg.RateLimits)
	if cfg.RedisRateLimit {
		limiter = repositories.NewRedisRateLimiter(repositories.NewRedisClient(cfg.RedisHost, cfg.RedisPort), cfg.RateLimit, cfg.RateLimits)
	}
	schedOpts := []scheduler.Option{
		scheduler.WithConcurrency(cfg.Concurrency),
		scheduler.WithRateLimiter(limiter),
		scheduler.WithProgress(logProgress),
	}
	if f.metrics != nil {
		schedOpts = append(schedOpts, scheduler.WithObserver(f.metrics))
		opts = append(opts, services.WithObserver(f.metrics))
	}
	opts = append(opts, services.WithTaskRunner(scheduler.New(schedOpts...)))

	// Queues and run status
	if cfg.InputQueueURL != "" || cfg.ScoringQueueURL != "" {
		c, err := loadAWS()
		if err != nil {
			return nil, err
		}
		f.sqs = repositories.NewSQSClient(sqs.NewFromConfig(c))
		opts = append(opts, services.WithPublisher(f.sqs, cfg.ScoringQueueURL))
	}
	if cfg.DynamoDBTable != "" {
		c, err := loadAWS()
		if err != nil {
			return nil, err
		}
		opts = append(opts, services.WithRunTracker(repositories.NewDynamoDBClient(dynamodb.NewFromConfig(c), cfg.DynamoDBTable)))
	}

	// Record store and search index
	if cfg.DatabaseURL != "" {
		db, err := gorm.Open(postgres.Open(cfg.DatabaseURL), &gorm.Config{})
		if err != nil {
			return nil, fmt.Errorf("failed to connect to db: %w", err)
		}
		if err := db.AutoMigrate(&models.DiscoveryRun{}, &models.ProviderRecord{}); err != nil {
			return nil, fmt.Errorf("failed to migrate db: %w", err)
		}
		opts = append(opts, services.WithRecordStore(repositories.NewRecordRepository(db, cfg.DBBatchSize), 0))
	}
	if cfg.OpenSearchURL != "" {
		client, err := repositories.NewOpenSearchClient(cfg.OpenSearchURL)
		if err != nil {
			return nil, fmt.Errorf("error creating OpenSearch client: %w", err)
		}
		opts = append(opts, services.WithIndexer(repositories.NewOpenSearchRepository(client, "")))
	}

	f.service = services.NewDiscoveryService(opts...)
	return f, nil
}

func newAWSConfig(ctx context.Context, cfg *config.Config) (aws.Config, error) {
	loadOpts := []func(*awsconfig.LoadOptions) error{awsconfig.WithRegion(cfg.AWSRegion)}
	if cfg.AWSEndpointURL != "" {
		resolver := aws.EndpointResolverWithOptionsFunc(func(service, region string, options ...interface{}) (aws.Endpoint, error) {
			return aws.Endpoint{
				URL:               cfg.AWSEndpointURL,
				SigningRegion:     cfg.AWSRegion,
				HostnameImmutable: true,
			}, nil
		})
		loadOpts = append(loadOpts, awsconfig.WithEndpointResolverWithOptions(resolver))
	}
	if cfg.AWSAccessKeyID != "" && cfg.AWSSecretKey != "" {
		loadOpts = append(loadOpts, awsconfig.WithCredentialsProvider(
			credentials.NewStaticCredentialsProvider(cfg.AWSAccessKeyID, cfg.AWSSecretKey, ""),
		))
	}

	awsCfg, err := awsconfig.LoadDefaultConfig(ctx, loadOpts...)
	if err != nil {
		return aws.Config{}, fmt.Errorf("unable to load SDK config: %w", err)
	}
	return awsCfg, nil
}

func logProgress(ev scheduler.Event) {
	log.Debug().
		Int("slot", ev.Slot).
		Str("provider", ev.Provider).
		Str("target", ev.Target).
		Str("state", string(ev.State)).
		Msg("scheduler.task.progress")
}
