package activity

import (
	_ "embed"
	"fmt"
	"time"

	"gopkg.in/yaml.v3"
)

// DailyResetHour is the hour of day (UTC) at which Destiny's daily reset
// occurs. The weekly reset falls on the Tuesday occurrence.
const DailyResetHour = 17

//go:embed known_hashes.yaml
var knownHashesYAML []byte

// Filter decides which completed activities are surfaced to observers.
// Raids and dungeons are always kept; strikes and lost sectors only count
// within the current reset week; everything else is dropped. The hash sets
// are injected so tests can substitute fixtures.
type Filter struct {
	raids    map[uint32]struct{}
	dungeons map[uint32]struct{}
}

// NewFilter builds a filter from explicit raid and dungeon hash allow-lists.
func NewFilter(raids, dungeons []uint32) Filter {
	f := Filter{
		raids:    make(map[uint32]struct{}, len(raids)),
		dungeons: make(map[uint32]struct{}, len(dungeons)),
	}
	for _, h := range raids {
		f.raids[h] = struct{}{}
	}
	for _, h := range dungeons {
		f.dungeons[h] = struct{}{}
	}
	return f
}

// DefaultFilter builds a filter from the embedded allow-list document.
func DefaultFilter() (Filter, error) {
	var doc struct {
		Raids    []uint32 `yaml:"raids"`
		Dungeons []uint32 `yaml:"dungeons"`
	}
	if err := yaml.Unmarshal(knownHashesYAML, &doc); err != nil {
		return Filter{}, fmt.Errorf("failed to parse known hashes: %w", err)
	}
	return NewFilter(doc.Raids, doc.Dungeons), nil
}

// IsKnownRaid reports whether the hash is on the raid allow-list.
func (f Filter) IsKnownRaid(hash uint32) bool {
	_, ok := f.raids[hash]
	return ok
}

// IsKnownDungeon reports whether the hash is on the dungeon allow-list.
func (f Filter) IsKnownDungeon(hash uint32) bool {
	_, ok := f.dungeons[hash]
	return ok
}

// Keep reports whether the record should be surfaced, given the weekly
// reset boundary in effect. Pure and order-independent.
func (f Filter) Keep(a Completed, weeklyReset time.Time) bool {
	isRaidOrDungeon := a.HasMode(ModeRaid) || a.HasMode(ModeDungeon) ||
		f.IsKnownRaid(a.ActivityHash) || f.IsKnownDungeon(a.ActivityHash)
	if isRaidOrDungeon {
		return true
	}

	if !a.HasMode(ModeStrike) && !a.HasMode(ModeLostSector) {
		return false
	}
	return !a.Period.Before(weeklyReset)
}

// Apply returns the subset of list retained by Keep, preserving input order.
func (f Filter) Apply(list []Completed, weeklyReset time.Time) []Completed {
	kept := make([]Completed, 0, len(list))
	for _, a := range list {
		if f.Keep(a, weeklyReset) {
			kept = append(kept, a)
		}
	}
	return kept
}

// WeeklyReset computes the start of the current reset week for the given
// instant: today's reset at DailyResetHour UTC (or yesterday's if now
// precedes it), rolled back to the most recent Tuesday.
func WeeklyReset(now time.Time) time.Time {
	now = now.UTC()
	reset := time.Date(now.Year(), now.Month(), now.Day(), DailyResetHour, 0, 0, 0, time.UTC)
	if now.Before(reset) {
		reset = reset.AddDate(0, 0, -1)
	}

	daysSinceTuesday := (int(reset.Weekday()) + 5) % 7
	return reset.AddDate(0, 0, -daysSinceTuesday)
}
