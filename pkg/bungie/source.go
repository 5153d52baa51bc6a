package bungie

import (
	"context"
	"sync"
)

// ProfileInfoSource memoizes per-profile info for the process lifetime.
// The poller refreshes the character set from the cheap live-activity call
// via SetCharacters, so the expensive profile fetch happens once.
type ProfileInfoSource struct {
	mu     sync.Mutex
	client *Client
	infos  map[string]ProfileInfo
}

// NewProfileInfoSource creates a profile-info source backed by client.
func NewProfileInfoSource(client *Client) *ProfileInfoSource {
	return &ProfileInfoSource{
		client: client,
		infos:  make(map[string]ProfileInfo),
	}
}

// Get returns the cached info for p, fetching it on first use.
func (s *ProfileInfoSource) Get(ctx context.Context, p Profile) (ProfileInfo, error) {
	s.mu.Lock()
	if info, ok := s.infos[p.ID()]; ok {
		s.mu.Unlock()
		return info, nil
	}
	s.mu.Unlock()

	info, err := s.client.GetProfileInfo(ctx, p)
	if err != nil {
		return ProfileInfo{}, err
	}

	s.mu.Lock()
	s.infos[p.ID()] = info
	s.mu.Unlock()
	return info, nil
}

// SetCharacters replaces the cached character set for p. No-op when p has
// never been fetched.
func (s *ProfileInfoSource) SetCharacters(p Profile, characterIDs []string) {
	s.mu.Lock()
	defer s.mu.Unlock()

	info, ok := s.infos[p.ID()]
	if !ok {
		return
	}
	info.CharacterIDs = characterIDs
	s.infos[p.ID()] = info
}

// Forget drops the cached info for p so the next Get refetches it.
func (s *ProfileInfoSource) Forget(p Profile) {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.infos, p.ID())
}

// DefinitionSource memoizes activity definitions by type hash. Definitions
// are static for the lifetime of a game version, so entries never expire.
type DefinitionSource struct {
	mu     sync.Mutex
	client *Client
	defs   map[uint32]ActivityInfo
}

// NewDefinitionSource creates a definition source backed by client.
func NewDefinitionSource(client *Client) *DefinitionSource {
	return &DefinitionSource{
		client: client,
		defs:   make(map[uint32]ActivityInfo),
	}
}

// Get returns the definition for hash, fetching it on first use.
// ErrResponseMissing passes through so callers can map it to "no current
// activity".
func (s *DefinitionSource) Get(ctx context.Context, hash uint32) (ActivityInfo, error) {
	s.mu.Lock()
	if info, ok := s.defs[hash]; ok {
		s.mu.Unlock()
		return info, nil
	}
	s.mu.Unlock()

	info, err := s.client.GetActivityDefinition(ctx, hash)
	if err != nil {
		return ActivityInfo{}, err
	}

	s.mu.Lock()
	s.defs[hash] = info
	s.mu.Unlock()
	return info, nil
}
