package poller

import (
	"context"

	"github.com/d2sherpa/sherpa/pkg/activity"
	"github.com/d2sherpa/sherpa/pkg/bungie"
	"github.com/d2sherpa/sherpa/pkg/fetch"
)

// Backend is everything the poll loop needs from the outside world,
// narrowed to an interface so tests can drive the state machine without a
// remote.
type Backend interface {
	ProfileInfo(ctx context.Context, p bungie.Profile) (bungie.ProfileInfo, error)
	SetCharacters(p bungie.Profile, characterIDs []string)
	CurrentActivities(ctx context.Context, p bungie.Profile) (map[string]bungie.CharacterActivity, error)
	ActivityInfo(ctx context.Context, hash uint32) (bungie.ActivityInfo, error)
	RefreshHistory(ctx context.Context, p bungie.Profile, info bungie.ProfileInfo, known []activity.Completed) ([]activity.Completed, bool, error)
}

// APIBackend composes the platform client, the memoized sources, and the
// fetch pipelines into the production Backend.
type APIBackend struct {
	Client      *bungie.Client
	Profiles    *bungie.ProfileInfoSource
	Definitions *bungie.DefinitionSource
	Fetcher     *fetch.Fetcher
}

func (b *APIBackend) ProfileInfo(ctx context.Context, p bungie.Profile) (bungie.ProfileInfo, error) {
	return b.Profiles.Get(ctx, p)
}

func (b *APIBackend) SetCharacters(p bungie.Profile, characterIDs []string) {
	b.Profiles.SetCharacters(p, characterIDs)
}

func (b *APIBackend) CurrentActivities(ctx context.Context, p bungie.Profile) (map[string]bungie.CharacterActivity, error) {
	return b.Client.GetCharacterActivities(ctx, p)
}

func (b *APIBackend) ActivityInfo(ctx context.Context, hash uint32) (bungie.ActivityInfo, error) {
	return b.Definitions.Get(ctx, hash)
}

func (b *APIBackend) RefreshHistory(ctx context.Context, p bungie.Profile, info bungie.ProfileInfo, known []activity.Completed) ([]activity.Completed, bool, error) {
	return b.Fetcher.RefreshHistory(ctx, p, info, known)
}
