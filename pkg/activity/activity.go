// Package activity holds the domain model for completed Destiny 2
// activities: the record type itself, identity and ordering rules, and the
// raid/dungeon keep filter applied to everything surfaced to observers.
package activity

import (
	"sort"
	"time"
)

// Bungie activity mode tags relevant to the filter.
const (
	ModeRaid       = 4
	ModeStrike     = 18
	ModeDungeon    = 82
	ModeLostSector = 87
)

// Completed is one completed play session from the paged activity history.
// StartingPhaseIndex and WasStartedFromBeginning come from the per-instance
// carnage report and stay nil until the enrichment pass has run.
type Completed struct {
	InstanceID   string    `json:"instanceId"`
	Period       time.Time `json:"period"`
	ActivityHash uint32    `json:"activityHash"`
	Modes        []int     `json:"modes"`

	StartingPhaseIndex      *int  `json:"startingPhaseIndex,omitempty"`
	WasStartedFromBeginning *bool `json:"activityWasStartedFromBeginning,omitempty"`
}

// SameIdentity reports whether two records refer to the same remote
// activity instance. Identity is the (instanceId, period) pair.
func (a Completed) SameIdentity(b Completed) bool {
	return a.InstanceID == b.InstanceID && a.Period.Equal(b.Period)
}

// Newer reports whether a sorts strictly before b in newest-first order.
// Period decides; equal periods fall back to instanceId so the order is
// stable across re-sorts.
func (a Completed) Newer(b Completed) bool {
	if !a.Period.Equal(b.Period) {
		return a.Period.After(b.Period)
	}
	return a.InstanceID > b.InstanceID
}

// Enriched reports whether the carnage-report fields have been filled in.
func (a Completed) Enriched() bool {
	return a.WasStartedFromBeginning != nil
}

// HasMode reports whether the record carries the given mode tag.
func (a Completed) HasMode(mode int) bool {
	for _, m := range a.Modes {
		if m == mode {
			return true
		}
	}
	return false
}

// SortNewestFirst orders records by period descending, ties broken by
// instanceId descending.
func SortNewestFirst(list []Completed) {
	sort.Slice(list, func(i, j int) bool {
		return list[i].Newer(list[j])
	})
}

// Newest returns the record that sorts first in newest-first order, without
// assuming the input is sorted. ok is false for an empty list.
func Newest(list []Completed) (newest Completed, ok bool) {
	for i, a := range list {
		if i == 0 || a.Newer(newest) {
			newest = a
		}
	}
	return newest, len(list) > 0
}
