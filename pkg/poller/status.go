// Package poller runs the live per-profile refresh loop and publishes
// consolidated player-data snapshots to observers.
package poller

import (
	"time"

	"github.com/d2sherpa/sherpa/pkg/activity"
	"github.com/d2sherpa/sherpa/pkg/bungie"
)

// CurrentActivity is the live activity state shown to observers.
type CurrentActivity struct {
	StartDate    time.Time            `json:"startDate"`
	ActivityHash uint32               `json:"activityHash"`
	ActivityInfo *bungie.ActivityInfo `json:"activityInfo,omitempty"`
}

// PlayerData is one consolidated snapshot: live activity, filtered history,
// profile info.
type PlayerData struct {
	CurrentActivity CurrentActivity      `json:"currentActivity"`
	ActivityHistory []activity.Completed `json:"activityHistory"`
	ProfileInfo     bungie.ProfileInfo   `json:"profileInfo"`
}

// Status is the value published to observers. A failed cycle only updates
// Error; it never clears a previously good LastUpdate.
type Status struct {
	LastUpdate *PlayerData `json:"lastUpdate,omitempty"`
	Error      string      `json:"error,omitempty"`
}

// clone deep-copies the snapshot so published values never alias the
// poller's working state.
func (s Status) clone() Status {
	if s.LastUpdate == nil {
		return s
	}
	data := *s.LastUpdate
	data.ActivityHistory = append([]activity.Completed(nil), data.ActivityHistory...)
	data.ProfileInfo.CharacterIDs = append([]string(nil), data.ProfileInfo.CharacterIDs...)
	if data.CurrentActivity.ActivityInfo != nil {
		info := *data.CurrentActivity.ActivityInfo
		data.CurrentActivity.ActivityInfo = &info
	}
	return Status{LastUpdate: &data, Error: s.Error}
}
