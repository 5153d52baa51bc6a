// Package app wires the daemon together and manages its lifecycle.
package app

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/cenkalti/backoff/v4"
	"github.com/go-redis/redis/v8"
	"github.com/sirupsen/logrus"

	"github.com/d2sherpa/sherpa/internal/config"
	"github.com/d2sherpa/sherpa/internal/server"
	"github.com/d2sherpa/sherpa/pkg/activity"
	"github.com/d2sherpa/sherpa/pkg/bungie"
	"github.com/d2sherpa/sherpa/pkg/cache"
	"github.com/d2sherpa/sherpa/pkg/fetch"
	"github.com/d2sherpa/sherpa/pkg/poller"
)

// App holds all application dependencies and manages the application
// lifecycle.
type App struct {
	cfg *config.Config

	redisClient *redis.Client
	store       cache.Store
	manager     *cache.Manager
	client      *bungie.Client
	broadcaster *poller.Broadcaster
	poller      *poller.Poller

	httpServer    *server.HTTPServer
	metricsServer *server.MetricsServer

	mu       sync.Mutex
	selected *bungie.Profile
}

// New creates and initializes a new application instance. Components come
// up in dependency order: cache store, cache, API client, pipelines,
// poller, servers.
func New(ctx context.Context, cfg *config.Config) (*App, error) {
	logrus.Info("initializing application...")

	a := &App{cfg: cfg}

	if err := a.initStore(ctx); err != nil {
		return nil, fmt.Errorf("failed to init cache store: %w", err)
	}

	manager, err := a.store.Load(ctx)
	if err != nil {
		// The cache is an optimization: a broken store degrades to a cold
		// start, not a startup failure.
		logrus.Warnf("failed to load cache, starting cold: %v", err)
		manager = cache.NewManager()
	}
	a.manager = manager

	a.client = bungie.NewClient(bungie.Config{
		APIKey:            cfg.BungieAPIKey,
		BaseURL:           cfg.BungieBaseURL,
		UserAgent:         cfg.BungieUserAgent,
		PageSize:          cfg.HistoryPageSize,
		RequestsPerSecond: cfg.RequestsPerSecond,
		RequestBurst:      cfg.RequestBurst,
		Timeout:           cfg.BungieTimeout,
		MaxRetries:        cfg.MaxRetries,
	})

	filter, err := activity.DefaultFilter()
	if err != nil {
		return nil, fmt.Errorf("failed to build activity filter: %w", err)
	}

	fetcher := fetch.New(a.client, filter, a.manager, a.store, fetch.Tuning{
		FetchConcurrency:    cfg.FetchConcurrency,
		WorkersPerCharacter: cfg.FetchWorkers,
		MaxPages:            cfg.FetchMaxPages,
		PGCRConcurrency:     cfg.PGCRConcurrency,
		RefreshWindowPages:  cfg.RefreshWindowPages,
		CacheStaleAge:       cfg.CacheStaleAge,
	})

	a.broadcaster = poller.NewBroadcaster()
	a.poller = poller.New(&poller.APIBackend{
		Client:      a.client,
		Profiles:    bungie.NewProfileInfoSource(a.client),
		Definitions: bungie.NewDefinitionSource(a.client),
		Fetcher:     fetcher,
	}, a.broadcaster, poller.Options{
		Interval:     cfg.PollInterval,
		HistoryEvery: cfg.HistoryCheckInterval,
	})

	a.httpServer = server.NewHTTPServer(cfg.HTTPPort, server.Deps{
		Poller:      a.poller,
		Broadcaster: a.broadcaster,
		Searcher:    a.client,
		Profiles:    a,
		Cache:       a.manager,
		CacheStore:  a.store,
	})
	a.metricsServer = server.NewMetricsServer(cfg.MetricsPort, "/metrics")

	return a, nil
}

// initStore selects the cache backend: the JSON file store by default, or
// Redis when configured.
func (a *App) initStore(ctx context.Context) error {
	if a.cfg.CacheBackend != "redis" {
		store, err := cache.NewFileStore(a.cfg.CachePath)
		if err != nil {
			return err
		}
		logrus.Infof("using file cache at %s", store.Path())
		a.store = store
		return nil
	}

	client := redis.NewClient(&redis.Options{
		Addr:         a.cfg.RedisHost + ":" + a.cfg.RedisPort,
		Password:     a.cfg.RedisPassword,
		DB:           0, // use default DB
		MaxRetries:   3,
		DialTimeout:  5 * time.Second,
		ReadTimeout:  3 * time.Second,
		WriteTimeout: 3 * time.Second,
	})

	b := backoff.NewExponentialBackOff()
	err := backoff.Retry(
		func() error {
			if _, err := client.Ping(ctx).Result(); err != nil {
				logrus.Warnf("Redis connection failed: %v, retrying...", err)
				return err
			}
			return nil
		},
		backoff.WithMaxRetries(b, 5),
	)
	if err != nil {
		return err
	}

	a.redisClient = client
	a.store = cache.NewRedisStore(client, cache.RedisStoreConfig{})
	logrus.Info("using redis cache backend")
	return nil
}

// Select replaces the selected profile and resets the poller against it.
// Implements server.ProfileSelector.
func (a *App) Select(p *bungie.Profile) {
	a.mu.Lock()
	a.selected = p
	a.mu.Unlock()
	a.poller.Reset(p)
}

// Selected returns the currently selected profile, or nil.
func (a *App) Selected() *bungie.Profile {
	a.mu.Lock()
	defer a.mu.Unlock()
	if a.selected == nil {
		return nil
	}
	p := *a.selected
	return &p
}
