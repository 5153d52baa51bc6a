package fetch

import (
	"context"
	"time"

	"github.com/d2sherpa/sherpa/pkg/activity"
	"github.com/d2sherpa/sherpa/pkg/bungie"
)

// refreshFromCache is the warm-cache path. Below the staleness gate it
// re-filters the cached set without touching the network. Past it, one
// first-page probe per character decides whether anything new exists; only
// then does a small bounded window get re-fetched, enriched, and merged.
func (f *Fetcher) refreshFromCache(ctx context.Context, profile bungie.Profile, info bungie.ProfileInfo, profileID string, weeklyReset time.Time, known []activity.Completed) ([]activity.Completed, bool, error) {
	if f.manager.ShouldRefresh(profileID, f.tuning.CacheStaleAge) {
		if err := f.checkForUpdates(ctx, profile, info, profileID); err != nil {
			return known, false, err
		}
	} else {
		f.log.Debugf("cache for profile %s is fresh, skipping remote check", profileID)
	}

	entry, ok := f.manager.Get(profileID)
	if !ok {
		// Cannot happen in practice: the entry existed when the caller
		// routed here and nothing removes entries concurrently.
		return known, false, nil
	}

	surfaced := f.filter.Apply(entry.Activities, weeklyReset)

	f.manager.SaveInBackground(f.store)

	return resolveNewer(known, surfaced)
}

// checkForUpdates probes the first page per character and, when new records
// are detected, re-fetches the bounded window and merges it into the cache.
func (f *Fetcher) checkForUpdates(ctx context.Context, profile bungie.Profile, info bungie.ProfileInfo, profileID string) error {
	f.log.Debugf("checking for new activities for profile %s", profileID)

	var recent []activity.Completed
	for _, characterID := range info.CharacterIDs {
		page, err := f.source.GetActivityHistory(ctx, profile, characterID, 0)
		if err != nil {
			return err
		}
		recent = append(recent, page...)
	}

	if !f.manager.HasNewActivities(profileID, recent) {
		f.log.Debugf("no new activities for profile %s", profileID)
		return nil
	}

	f.log.Infof("new activities detected for profile %s, fetching updates", profileID)

	var fresh []activity.Completed
	for _, characterID := range info.CharacterIDs {
		pages := 0
		for page := 0; page < f.tuning.RefreshWindowPages; page++ {
			batch, err := f.source.GetActivityHistory(ctx, profile, characterID, page)
			if err != nil {
				return err
			}
			if len(batch) == 0 {
				break
			}
			fresh = append(fresh, batch...)
			pages++
		}
		if pages == f.tuning.RefreshWindowPages {
			// A full window means more history may have appeared than the
			// window covers; those records stay missing until the cache is
			// rebuilt.
			f.log.Warnf("refresh window exhausted for character %s; some new activities may be missed", characterID)
		}
	}

	f.EnrichPGCRs(ctx, fresh)
	f.manager.Merge(profileID, fresh)
	return nil
}
