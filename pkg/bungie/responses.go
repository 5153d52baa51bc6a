package bungie

import (
	"encoding/json"
	"fmt"
	"time"

	"github.com/d2sherpa/sherpa/pkg/activity"
)

// envelope is the outer shape of every platform response. ErrorCode 1 means
// success; anything else is an application error.
type envelope struct {
	ErrorCode       int             `json:"ErrorCode"`
	Message         string          `json:"Message"`
	ThrottleSeconds int             `json:"ThrottleSeconds"`
	Response        json.RawMessage `json:"Response"`
}

const errorCodeSuccess = 1

// Profile identifies a remote account: platform (membership type) plus
// account (membership) id. Selected by the collaborator UI and immutable
// for the duration of a poll cycle.
type Profile struct {
	MembershipType int    `json:"membershipType"`
	MembershipID   string `json:"membershipId"`
	DisplayName    string `json:"displayName,omitempty"`
}

// ID returns the composite profile identifier used as the cache key.
func (p Profile) ID() string {
	return fmt.Sprintf("%d_%s", p.MembershipType, p.MembershipID)
}

// PlayerSearchResult is one match from a player-by-name search.
type PlayerSearchResult struct {
	MembershipType  int    `json:"membershipType"`
	MembershipID    string `json:"membershipId"`
	DisplayName     string `json:"bungieGlobalDisplayName"`
	DisplayNameCode int    `json:"bungieGlobalDisplayNameCode"`
}

// ProfileInfo is the memoized per-profile data the poller works from.
type ProfileInfo struct {
	DisplayName  string   `json:"displayName"`
	CharacterIDs []string `json:"characterIds"`
}

// CharacterActivity is one character's live activity state.
type CharacterActivity struct {
	DateActivityStarted time.Time `json:"dateActivityStarted"`
	CurrentActivityHash uint32    `json:"currentActivityHash"`
}

// ActivityInfo is the static definition data shown for a current activity.
type ActivityInfo struct {
	Name        string `json:"name"`
	Description string `json:"description,omitempty"`
}

// Profile component masks for GetProfile requests.
const (
	componentProfiles            = 100
	componentCharacterActivities = 204
)

// profilePayload is the subset of the GetProfile response we consume.
type profilePayload struct {
	Profile struct {
		Data *struct {
			UserInfo struct {
				DisplayName string `json:"displayName"`
			} `json:"userInfo"`
			CharacterIDs []string `json:"characterIds"`
		} `json:"data"`
	} `json:"profile"`
	CharacterActivities struct {
		Data map[string]CharacterActivity `json:"data"`
	} `json:"characterActivities"`
}

// historyPayload is the paged activity-history response. A nil or empty
// Activities list signals history exhaustion; there is no total count.
type historyPayload struct {
	Activities []historyEntry `json:"activities"`
}

type historyEntry struct {
	Period          time.Time `json:"period"`
	ActivityDetails struct {
		InstanceID           string `json:"instanceId"`
		DirectorActivityHash uint32 `json:"directorActivityHash"`
		Modes                []int  `json:"modes"`
	} `json:"activityDetails"`
}

func (p historyPayload) completed() []activity.Completed {
	out := make([]activity.Completed, 0, len(p.Activities))
	for _, e := range p.Activities {
		out = append(out, activity.Completed{
			InstanceID:   e.ActivityDetails.InstanceID,
			Period:       e.Period,
			ActivityHash: e.ActivityDetails.DirectorActivityHash,
			Modes:        e.ActivityDetails.Modes,
		})
	}
	return out
}

// PGCR is the enrichment payload for one activity instance.
type PGCR struct {
	StartingPhaseIndex      *int  `json:"startingPhaseIndex"`
	WasStartedFromBeginning *bool `json:"activityWasStartedFromBeginning"`
}

// definitionPayload is the subset of an activity definition we consume.
type definitionPayload struct {
	DisplayProperties struct {
		Name        string `json:"name"`
		Description string `json:"description"`
	} `json:"displayProperties"`
}
