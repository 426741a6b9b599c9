package config

import (
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"
)

const (
	BackendFS = "fs"
	BackendS3 = "s3"

	rateLimitPrefix = "RATE_LIMIT_"
)

type Config struct {
	// Artifact cache
	CacheDir        string
	ArtifactBackend string
	ArtifactBucket  string
	ArtifactPrefix  string

	// Pipeline
	Concurrency     int
	MaxPages        int
	PageDelay       time.Duration
	StagnationPages int
	MaxItems        int
	RateLimit       time.Duration
	RateLimits      map[string]time.Duration
	HTTPTimeout     time.Duration
	UserAgent       string

	// Sources
	EventHubBaseURL    string
	DJDirectoryBaseURL string
	GeocoderURL        string

	// Infrastructure
	RedisHost       string
	RedisPort       string
	RedisRateLimit  bool
	InputQueueURL   string
	ScoringQueueURL string
	DynamoDBTable   string
	DatabaseURL     string
	DBBatchSize     int
	OpenSearchURL   string
	MetricsAddr     string
	AWSEndpointURL  string
	AWSRegion       string
	AWSAccessKeyID  string
	AWSSecretKey    string
}

func Load() (*Config, error) {
	cfg := &Config{
		CacheDir:        getEnv("CACHE_DIR", ".cache/discovery"),
		ArtifactBackend: getEnv("ARTIFACT_BACKEND", BackendFS),
		ArtifactBucket:  os.Getenv("ARTIFACT_BUCKET"),
		ArtifactPrefix:  getEnv("ARTIFACT_PREFIX", "discovery"),

		UserAgent: os.Getenv("USER_AGENT"),

		EventHubBaseURL:    os.Getenv("EVENTHUB_BASE_URL"),
		DJDirectoryBaseURL: os.Getenv("DJDIRECTORY_BASE_URL"),
		GeocoderURL:        getEnv("GEOCODER_URL", "https://nominatim.openstreetmap.org"),

		RedisHost:       getEnv("REDIS_HOST", "localhost"),
		RedisPort:       getEnv("REDIS_PORT", "6379"),
		InputQueueURL:   os.Getenv("INPUT_QUEUE_URL"),
		ScoringQueueURL: os.Getenv("SCORING_QUEUE_URL"),
		DynamoDBTable:   os.Getenv("DYNAMODB_TABLE"),
		DatabaseURL:     os.Getenv("DATABASE_URL"),
		OpenSearchURL:   os.Getenv("OPENSEARCH_URL"),
		MetricsAddr:     os.Getenv("METRICS_ADDR"),
		AWSEndpointURL:  os.Getenv("AWS_ENDPOINT_URL"),
		AWSRegion:       getEnv("AWS_REGION", "us-east-1"),
		AWSAccessKeyID:  os.Getenv("AWS_ACCESS_KEY_ID"),
		AWSSecretKey:    os.Getenv("AWS_SECRET_ACCESS_KEY"),
	}

	var err error
	ints := []struct {
		key  string
		def  int
		dest *int
	}{
		{"CONCURRENCY", 4, &cfg.Concurrency},
		{"MAX_PAGES", 10, &cfg.MaxPages},
		{"STAGNATION_PAGES", 2, &cfg.StagnationPages},
		{"MAX_ITEMS", 0, &cfg.MaxItems},
		{"DB_BATCH_SIZE", 100, &cfg.DBBatchSize},
	}
	for _, v := range ints {
		if *v.dest, err = getEnvInt(v.key, v.def); err != nil {
			return nil, err
		}
	}

	durations := []struct {
		key  string
		def  time.Duration
		dest *time.Duration
	}{
		{"PAGE_DELAY", 500 * time.Millisecond, &cfg.PageDelay},
		{"RATE_LIMIT_DEFAULT", time.Second, &cfg.RateLimit},
		{"HTTP_TIMEOUT", 20 * time.Second, &cfg.HTTPTimeout},
	}
	for _, v := range durations {
		if *v.dest, err = getEnvDuration(v.key, v.def); err != nil {
			return nil, err
		}
	}

	if cfg.RedisRateLimit, err = getEnvBool("REDIS_RATE_LIMIT", false); err != nil {
		return nil, err
	}
	if cfg.RateLimits, err = providerRateLimits(os.Environ()); err != nil {
		return nil, err
	}

	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

func (c *Config) Validate() error {
	if c.EventHubBaseURL == "" && c.DJDirectoryBaseURL == "" {
		return fmt.Errorf("EVENTHUB_BASE_URL or DJDIRECTORY_BASE_URL is required")
	}
	switch c.ArtifactBackend {
	case BackendFS:
		if c.CacheDir == "" {
			return fmt.Errorf("CACHE_DIR is required for the fs artifact backend")
		}
	case BackendS3:
		if c.ArtifactBucket == "" {
			return fmt.Errorf("ARTIFACT_BUCKET is required for the s3 artifact backend")
		}
	default:
		return fmt.Errorf("ARTIFACT_BACKEND must be %q or %q, got %q", BackendFS, BackendS3, c.ArtifactBackend)
	}
	if c.Concurrency < 1 {
		return fmt.Errorf("CONCURRENCY must be at least 1")
	}
	if c.MaxPages < 1 {
		return fmt.Errorf("MAX_PAGES must be at least 1")
	}
	if c.StagnationPages < 1 {
		return fmt.Errorf("STAGNATION_PAGES must be at least 1")
	}
	return nil
}

// providerRateLimits reads RATE_LIMIT_<PROVIDER> entries; the provider name
// is the lower-cased suffix.
func providerRateLimits(environ []string) (map[string]time.Duration, error) {
	limits := make(map[string]time.Duration)
	for _, kv := range environ {
		key, value, ok := strings.Cut(kv, "=")
		if !ok || !strings.HasPrefix(key, rateLimitPrefix) || key == rateLimitPrefix+"DEFAULT" {
			continue
		}
		provider := strings.ToLower(strings.TrimPrefix(key, rateLimitPrefix))
		if provider == "" {
			continue
		}
		d, err := time.ParseDuration(value)
		if err != nil {
			return nil, fmt.Errorf("%s must be a duration: %w", key, err)
		}
		limits[provider] = d
	}
	return limits, nil
}

func getEnv(key, def string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return def
}

func getEnvInt(key string, def int) (int, error) {
	v := os.Getenv(key)
	if v == "" {
		return def, nil
	}
	n, err := strconv.Atoi(v)
	if err != nil {
		return 0, fmt.Errorf("%s must be an integer: %w", key, err)
	}
	return n, nil
}

func getEnvDuration(key string, def time.Duration) (time.Duration, error) {
	v := os.Getenv(key)
	if v == "" {
		return def, nil
	}
	d, err := time.ParseDuration(v)
	if err != nil {
		return 0, fmt.Errorf("%s must be a duration: %w", key, err)
	}
	return d, nil
}

func getEnvBool(key string, def bool) (bool, error) {
	v := os.Getenv(key)
	if v == "" {
		return def, nil
	}
	b, err := strconv.ParseBool(v)
	if err != nil {
		return false, fmt.Errorf("%s must be a boolean: %w", key, err)
	}
	return b, nil
}
