package config

import "time"

// Config holds all daemon configuration loaded from environment variables,
// parsed with github.com/caarlos0/env struct tags.
type Config struct {
	// Server configuration
	HTTPPort    int    `env:"HTTP_PORT" envDefault:"8320"`
	MetricsPort int    `env:"METRICS_PORT" envDefault:"8321"`
	LogLevel    string `env:"LOG_LEVEL" envDefault:"info"`
	LogFormat   string `env:"LOG_FORMAT" envDefault:"text"`

	// Bungie API configuration (the API key is a static external secret)
	BungieAPIKey      string        `env:"BUNGIE_API_KEY,required"`
	BungieBaseURL     string        `env:"BUNGIE_BASE_URL" envDefault:"https://www.bungie.net/Platform"`
	BungieUserAgent   string        `env:"BUNGIE_USER_AGENT" envDefault:"sherpa"`
	BungieTimeout     time.Duration `env:"BUNGIE_TIMEOUT" envDefault:"30s"`
	RequestsPerSecond float64       `env:"BUNGIE_REQUESTS_PER_SECOND" envDefault:"20"`
	RequestBurst      int           `env:"BUNGIE_REQUEST_BURST" envDefault:"10"`
	MaxRetries        uint64        `env:"BUNGIE_MAX_RETRIES" envDefault:"3"`

	// Cache configuration
	CacheBackend  string `env:"CACHE_BACKEND" envDefault:"file"`
	CachePath     string `env:"CACHE_PATH"`
	RedisHost     string `env:"REDIS_HOST" envDefault:"localhost"`
	RedisPort     string `env:"REDIS_PORT" envDefault:"6379"`
	RedisPassword string `env:"REDIS_PASSWORD"`

	// Fetch pipeline tuning
	FetchConcurrency   int           `env:"FETCH_CONCURRENCY" envDefault:"30"`
	FetchWorkers       int           `env:"FETCH_WORKERS" envDefault:"10"`
	FetchMaxPages      int           `env:"FETCH_MAX_PAGES" envDefault:"1250"`
	PGCRConcurrency    int           `env:"PGCR_CONCURRENCY" envDefault:"75"`
	HistoryPageSize    int           `env:"HISTORY_PAGE_SIZE" envDefault:"7"`
	RefreshWindowPages int           `env:"REFRESH_WINDOW_PAGES" envDefault:"5"`
	CacheStaleAge      time.Duration `env:"CACHE_STALE_AGE" envDefault:"5m"`

	// Poller cadence
	PollInterval         time.Duration `env:"POLL_INTERVAL" envDefault:"5s"`
	HistoryCheckInterval int           `env:"HISTORY_CHECK_INTERVAL" envDefault:"5"`

	// Initial profile selection; may also be set later through the HTTP
	// surface.
	ProfilePlatform  int    `env:"PROFILE_PLATFORM" envDefault:"0"`
	ProfileAccountID string `env:"PROFILE_ACCOUNT_ID"`
}
