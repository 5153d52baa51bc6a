// Package fetch implements the activity-history pipelines: the concurrent
// full-history walk for cold caches, the bounded incremental refresh for
// warm ones, and the idempotent carnage-report enrichment pass.
package fetch

import (
	"context"
	"time"

	"github.com/sirupsen/logrus"

	"github.com/d2sherpa/sherpa/pkg/activity"
	"github.com/d2sherpa/sherpa/pkg/bungie"
	"github.com/d2sherpa/sherpa/pkg/cache"
)

// HistorySource is the slice of the API client the pipelines consume.
type HistorySource interface {
	GetActivityHistory(ctx context.Context, p bungie.Profile, characterID string, page int) ([]activity.Completed, error)
	GetPostGameCarnageReport(ctx context.Context, instanceID string) (bungie.PGCR, error)
}

// Tuning bounds the pipelines. Fetch and PGCR concurrency are independent
// domains: PGCR requests are cheaper, so that bound sits wider.
type Tuning struct {
	// FetchConcurrency caps in-flight history requests across all
	// characters and workers.
	FetchConcurrency int
	// WorkersPerCharacter is the page-claiming pool width per character.
	WorkersPerCharacter int
	// MaxPages is the hard page-index ceiling per character.
	MaxPages int
	// PGCRConcurrency caps in-flight carnage-report requests.
	PGCRConcurrency int
	// RefreshWindowPages is the bounded re-fetch window of the incremental
	// path.
	RefreshWindowPages int
	// CacheStaleAge is the warm-cache staleness gate.
	CacheStaleAge time.Duration
	// FailureLogLimit caps per-batch enrichment failure logging.
	FailureLogLimit int
}

// DefaultTuning returns the production bounds.
func DefaultTuning() Tuning {
	return Tuning{
		FetchConcurrency:    30,
		WorkersPerCharacter: 10,
		MaxPages:            1250,
		PGCRConcurrency:     75,
		RefreshWindowPages:  5,
		CacheStaleAge:       5 * time.Minute,
		FailureLogLimit:     10,
	}
}

// Fetcher runs the history pipelines against a source, writing through the
// cache manager and triggering asynchronous persistence.
type Fetcher struct {
	source  HistorySource
	filter  activity.Filter
	manager *cache.Manager
	store   cache.Store
	tuning  Tuning
	log     *logrus.Entry

	fetchSem chan struct{}
	pgcrSem  chan struct{}
}

// New creates a fetcher. Zero tuning fields fall back to defaults.
func New(source HistorySource, filter activity.Filter, manager *cache.Manager, store cache.Store, tuning Tuning) *Fetcher {
	def := DefaultTuning()
	if tuning.FetchConcurrency <= 0 {
		tuning.FetchConcurrency = def.FetchConcurrency
	}
	if tuning.WorkersPerCharacter <= 0 {
		tuning.WorkersPerCharacter = def.WorkersPerCharacter
	}
	if tuning.MaxPages <= 0 {
		tuning.MaxPages = def.MaxPages
	}
	if tuning.PGCRConcurrency <= 0 {
		tuning.PGCRConcurrency = def.PGCRConcurrency
	}
	if tuning.RefreshWindowPages <= 0 {
		tuning.RefreshWindowPages = def.RefreshWindowPages
	}
	if tuning.CacheStaleAge <= 0 {
		tuning.CacheStaleAge = def.CacheStaleAge
	}
	if tuning.FailureLogLimit <= 0 {
		tuning.FailureLogLimit = def.FailureLogLimit
	}

	return &Fetcher{
		source:   source,
		filter:   filter,
		manager:  manager,
		store:    store,
		tuning:   tuning,
		log:      logrus.WithField("component", "fetch"),
		fetchSem: make(chan struct{}, tuning.FetchConcurrency),
		pgcrSem:  make(chan struct{}, tuning.PGCRConcurrency),
	}
}

// RefreshHistory brings the caller's history view up to date for a profile:
// the incremental path when a cache entry exists, the full concurrent walk
// otherwise. Returns the new filtered history and whether it is newer than
// the caller's known set; unchanged results keep the caller's set.
func (f *Fetcher) RefreshHistory(ctx context.Context, profile bungie.Profile, info bungie.ProfileInfo, known []activity.Completed) ([]activity.Completed, bool, error) {
	profileID := profile.ID()
	weeklyReset := activity.WeeklyReset(time.Now())

	if _, ok := f.manager.Get(profileID); ok {
		return f.refreshFromCache(ctx, profile, info, profileID, weeklyReset, known)
	}

	f.log.Infof("no cache for profile %s, performing full activity fetch", profileID)

	all, err := f.fetchAll(ctx, profile, info.CharacterIDs, weeklyReset)
	if err != nil {
		return known, false, err
	}

	f.EnrichPGCRs(ctx, all)

	f.manager.Update(profileID, all)
	f.manager.SaveInBackground(f.store)

	return resolveNewer(known, all)
}

// resolveNewer compares a freshly derived set against the caller's known
// set: if the caller's newest is not older, nothing changed and the known
// set is kept; otherwise the result replaces it, sorted newest first.
func resolveNewer(known, result []activity.Completed) ([]activity.Completed, bool, error) {
	if knownNewest, ok := activity.Newest(known); ok {
		if resultNewest, ok := activity.Newest(result); ok {
			if !resultNewest.Newer(knownNewest) {
				return known, false, nil
			}
		}
	}

	activity.SortNewestFirst(result)
	return result, true, nil
}
