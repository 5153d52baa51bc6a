package cache

import (
	"context"
	"sync"
	"time"

	"github.com/sirupsen/logrus"

	"github.com/d2sherpa/sherpa/pkg/activity"
	"github.com/d2sherpa/sherpa/pkg/metrics"
)

// SchemaVersion invalidates persisted data wholesale or per-profile on
// format change. Bump it whenever the document shape changes.
const SchemaVersion = 2

// ActivityCache is one profile's cached activity set, newest first.
type ActivityCache struct {
	Activities   []activity.Completed `json:"activities"`
	LastUpdated  time.Time            `json:"lastUpdated"`
	ProfileID    string               `json:"profileId"`
	CacheVersion int                  `json:"cacheVersion"`
}

// document is the serialized shape of the whole store.
type document struct {
	Profiles map[string]*ActivityCache `json:"profiles"`
	Version  int                       `json:"version"`
}

// Manager is the in-memory cache of activity sets per profile. The mutex is
// held only across synchronous mutations, never across network or disk I/O;
// persistence runs through SaveInBackground.
type Manager struct {
	mu       sync.Mutex
	profiles map[string]*ActivityCache
	version  int

	// saveMu serializes background saves with respect to each other.
	saveMu sync.Mutex

	log *logrus.Entry
}

// NewManager creates an empty manager stamped with the current schema
// version.
func NewManager() *Manager {
	return &Manager{
		profiles: make(map[string]*ActivityCache),
		version:  SchemaVersion,
		log:      logrus.WithField("component", "cache"),
	}
}

// newManagerFromDocument validates a loaded document. A top-level version
// mismatch discards everything; a per-profile mismatch discards only that
// profile.
func newManagerFromDocument(doc document) *Manager {
	m := NewManager()
	if doc.Version != SchemaVersion {
		m.log.Infof("invalidating cache (version %d -> %d)", doc.Version, SchemaVersion)
		return m
	}
	for id, pc := range doc.Profiles {
		if pc == nil {
			continue
		}
		if pc.CacheVersion != SchemaVersion {
			m.log.Infof("dropping outdated cache for profile %s (version %d -> %d)",
				id, pc.CacheVersion, SchemaVersion)
			continue
		}
		m.profiles[id] = pc
	}
	return m
}

// snapshot deep-copies the store for serialization.
func (m *Manager) snapshot() document {
	m.mu.Lock()
	defer m.mu.Unlock()

	doc := document{
		Profiles: make(map[string]*ActivityCache, len(m.profiles)),
		Version:  m.version,
	}
	for id, pc := range m.profiles {
		cp := *pc
		cp.Activities = append([]activity.Completed(nil), pc.Activities...)
		doc.Profiles[id] = &cp
	}
	return doc
}

// Get returns a copy of the profile's cached set.
func (m *Manager) Get(profileID string) (ActivityCache, bool) {
	m.mu.Lock()
	defer m.mu.Unlock()

	pc, ok := m.profiles[profileID]
	if !ok {
		return ActivityCache{}, false
	}
	cp := *pc
	cp.Activities = append([]activity.Completed(nil), pc.Activities...)
	return cp, true
}

// Update replaces the profile's activity set wholesale, stamping
// lastUpdated and the schema version.
func (m *Manager) Update(profileID string, activities []activity.Completed) {
	m.mu.Lock()
	defer m.mu.Unlock()

	m.profiles[profileID] = &ActivityCache{
		Activities:   append([]activity.Completed(nil), activities...),
		LastUpdated:  time.Now().UTC(),
		ProfileID:    profileID,
		CacheVersion: SchemaVersion,
	}
	m.version = SchemaVersion

	metrics.CachedActivities.WithLabelValues(profileID).Set(float64(len(activities)))
}

// Merge appends activities not already present by (instanceId, period)
// identity, re-sorts newest first, and re-stamps the entry. Behaves like
// Update when the profile has no existing entry.
func (m *Manager) Merge(profileID string, newActivities []activity.Completed) {
	m.mu.Lock()

	existing, ok := m.profiles[profileID]
	if !ok {
		m.profiles[profileID] = &ActivityCache{
			Activities:   append([]activity.Completed(nil), newActivities...),
			LastUpdated:  time.Now().UTC(),
			ProfileID:    profileID,
			CacheVersion: SchemaVersion,
		}
		m.version = SchemaVersion
		m.mu.Unlock()

		metrics.CachedActivities.WithLabelValues(profileID).Set(float64(len(newActivities)))
		return
	}

	all := append([]activity.Completed(nil), existing.Activities...)
	for _, candidate := range newActivities {
		present := false
		for _, have := range all {
			if have.SameIdentity(candidate) {
				present = true
				break
			}
		}
		if !present {
			all = append(all, candidate)
		}
	}
	activity.SortNewestFirst(all)

	existing.Activities = all
	existing.LastUpdated = time.Now().UTC()
	existing.CacheVersion = SchemaVersion
	m.version = SchemaVersion

	m.mu.Unlock()

	metrics.CachedActivities.WithLabelValues(profileID).Set(float64(len(all)))
}

// HasNewActivities compares a freshly fetched first page against the cached
// newest record. True when the cache is empty and recent is not, or when a
// candidate is strictly newer by period, or ties on period with a different
// instanceId.
func (m *Manager) HasNewActivities(profileID string, recent []activity.Completed) bool {
	m.mu.Lock()
	defer m.mu.Unlock()

	pc, ok := m.profiles[profileID]
	if !ok || len(pc.Activities) == 0 {
		return len(recent) > 0
	}
	if len(recent) == 0 {
		return false
	}

	newest := pc.Activities[0]
	for _, candidate := range recent {
		if candidate.Period.After(newest.Period) {
			return true
		}
		if candidate.Period.Equal(newest.Period) && candidate.InstanceID != newest.InstanceID {
			return true
		}
	}
	return false
}

// ShouldRefresh reports whether the profile's cache entry is at least
// maxAge old. A missing entry always needs a refresh.
func (m *Manager) ShouldRefresh(profileID string, maxAge time.Duration) bool {
	m.mu.Lock()
	defer m.mu.Unlock()

	pc, ok := m.profiles[profileID]
	if !ok {
		return true
	}
	return time.Since(pc.LastUpdated) >= maxAge
}

// MostRecentPeriod returns the period of the profile's newest cached record.
func (m *Manager) MostRecentPeriod(profileID string) (time.Time, bool) {
	m.mu.Lock()
	defer m.mu.Unlock()

	pc, ok := m.profiles[profileID]
	if !ok || len(pc.Activities) == 0 {
		return time.Time{}, false
	}
	return pc.Activities[0].Period, true
}

// RemoveProfile drops a single profile's cache entry.
func (m *Manager) RemoveProfile(profileID string) {
	m.mu.Lock()
	defer m.mu.Unlock()
	delete(m.profiles, profileID)
}

// Clear drops every profile's cache entry.
func (m *Manager) Clear() {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.profiles = make(map[string]*ActivityCache)
}

// Stats returns per-profile entry counts and last-updated timestamps.
func (m *Manager) Stats() map[string]struct {
	Activities  int
	LastUpdated time.Time
} {
	m.mu.Lock()
	defer m.mu.Unlock()

	out := make(map[string]struct {
		Activities  int
		LastUpdated time.Time
	}, len(m.profiles))
	for id, pc := range m.profiles {
		out[id] = struct {
			Activities  int
			LastUpdated time.Time
		}{len(pc.Activities), pc.LastUpdated}
	}
	return out
}

// SaveInBackground persists the store without blocking the caller. Errors
// are logged, not propagated; the in-memory store stays authoritative.
// Saves serialize against each other, last writer wins on the artifact.
func (m *Manager) SaveInBackground(store Store) {
	go func() {
		m.saveMu.Lock()
		defer m.saveMu.Unlock()

		ctx, cancel := context.WithTimeout(context.Background(), 15*time.Second)
		defer cancel()

		if err := store.Save(ctx, m); err != nil {
			m.log.Errorf("background save failed: %v", err)
		}
	}()
}
