package poller

import (
	"context"
	"errors"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/d2sherpa/sherpa/pkg/activity"
	"github.com/d2sherpa/sherpa/pkg/bungie"
)

var testProfile = bungie.Profile{
	MembershipType: 3,
	MembershipID:   "4611686018467260757",
	DisplayName:    "Guardian#1234",
}

// fakeBackend drives the poll loop without a remote.
type fakeBackend struct {
	mu sync.Mutex

	info       bungie.ProfileInfo
	infoErr    error
	activities map[string]bungie.CharacterActivity
	currentErr error
	defs       map[uint32]bungie.ActivityInfo
	history    []activity.Completed
	historyErr error

	setCharacters [][]string
}

func (b *fakeBackend) ProfileInfo(context.Context, bungie.Profile) (bungie.ProfileInfo, error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.info, b.infoErr
}

func (b *fakeBackend) SetCharacters(_ bungie.Profile, characterIDs []string) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.setCharacters = append(b.setCharacters, characterIDs)
}

func (b *fakeBackend) CurrentActivities(context.Context, bungie.Profile) (map[string]bungie.CharacterActivity, error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.currentErr != nil {
		return nil, b.currentErr
	}
	out := make(map[string]bungie.CharacterActivity, len(b.activities))
	for id, ca := range b.activities {
		out[id] = ca
	}
	return out, nil
}

func (b *fakeBackend) ActivityInfo(_ context.Context, hash uint32) (bungie.ActivityInfo, error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	info, ok := b.defs[hash]
	if !ok {
		return bungie.ActivityInfo{}, bungie.ErrResponseMissing
	}
	return info, nil
}

func (b *fakeBackend) RefreshHistory(_ context.Context, _ bungie.Profile, _ bungie.ProfileInfo, known []activity.Completed) ([]activity.Completed, bool, error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.historyErr != nil {
		return known, false, b.historyErr
	}
	return append([]activity.Completed(nil), b.history...), true, nil
}

func defaultFakeBackend() *fakeBackend {
	started := time.Date(2026, 8, 30, 20, 0, 0, 0, time.UTC)
	return &fakeBackend{
		info: bungie.ProfileInfo{DisplayName: "Guardian#1234", CharacterIDs: []string{"char-1"}},
		activities: map[string]bungie.CharacterActivity{
			"char-1": {DateActivityStarted: started, CurrentActivityHash: 100},
		},
		defs: map[uint32]bungie.ActivityInfo{
			100: {Name: "The Last Wish", Description: "Raid"},
		},
		history: []activity.Completed{
			{InstanceID: "1", Period: started.Add(-time.Hour), Modes: []int{activity.ModeRaid}},
		},
	}
}

// waitForStatus reads sub until a status satisfies pred or the timeout hits.
func waitForStatus(t *testing.T, sub chan Status, pred func(Status) bool) Status {
	t.Helper()
	deadline := time.After(3 * time.Second)
	for {
		select {
		case s := <-sub:
			if pred(s) {
				return s
			}
		case <-deadline:
			t.Fatal("timed out waiting for a matching status")
			return Status{}
		}
	}
}

func TestUpdateCurrent(t *testing.T) {
	started := time.Date(2026, 8, 30, 20, 0, 0, 0, time.UTC)
	info100 := bungie.ActivityInfo{Name: "The Last Wish"}
	info200 := bungie.ActivityInfo{Name: "Duality"}

	tests := []struct {
		name        string
		current     CurrentActivity
		latest      bungie.CharacterActivity
		defs        map[uint32]bungie.ActivityInfo
		wantChanged bool
		wantInfo    *bungie.ActivityInfo
	}{
		{
			name:        "newer start replaces and resolves the definition",
			current:     CurrentActivity{},
			latest:      bungie.CharacterActivity{DateActivityStarted: started, CurrentActivityHash: 100},
			defs:        map[uint32]bungie.ActivityInfo{100: info100},
			wantChanged: true,
			wantInfo:    &info100,
		},
		{
			name: "equal start with the same hash is a no-op",
			current: CurrentActivity{
				StartDate: started, ActivityHash: 100, ActivityInfo: &info100,
			},
			latest:      bungie.CharacterActivity{DateActivityStarted: started, CurrentActivityHash: 100},
			defs:        map[uint32]bungie.ActivityInfo{100: info100},
			wantChanged: false,
			wantInfo:    &info100,
		},
		{
			name:        "equal start with no resolved info stays quiet",
			current:     CurrentActivity{StartDate: started},
			latest:      bungie.CharacterActivity{DateActivityStarted: started, CurrentActivityHash: 100},
			defs:        map[uint32]bungie.ActivityInfo{100: info100},
			wantChanged: false,
			wantInfo:    nil,
		},
		{
			name: "equal start with a different hash re-resolves",
			current: CurrentActivity{
				StartDate: started, ActivityHash: 100, ActivityInfo: &info100,
			},
			latest:      bungie.CharacterActivity{DateActivityStarted: started, CurrentActivityHash: 200},
			defs:        map[uint32]bungie.ActivityInfo{200: info200},
			wantChanged: true,
			wantInfo:    &info200,
		},
		{
			name: "older start is ignored",
			current: CurrentActivity{
				StartDate: started, ActivityHash: 100, ActivityInfo: &info100,
			},
			latest:      bungie.CharacterActivity{DateActivityStarted: started.Add(-time.Hour), CurrentActivityHash: 200},
			defs:        map[uint32]bungie.ActivityInfo{200: info200},
			wantChanged: false,
			wantInfo:    &info100,
		},
		{
			name:        "zero hash means orbit, info cleared",
			current:     CurrentActivity{},
			latest:      bungie.CharacterActivity{DateActivityStarted: started, CurrentActivityHash: 0},
			wantChanged: true,
			wantInfo:    nil,
		},
		{
			name:        "missing definition shows no current activity",
			current:     CurrentActivity{},
			latest:      bungie.CharacterActivity{DateActivityStarted: started, CurrentActivityHash: 999},
			wantChanged: true,
			wantInfo:    nil,
		},
		{
			name:        "nameless definition shows no current activity",
			current:     CurrentActivity{},
			latest:      bungie.CharacterActivity{DateActivityStarted: started, CurrentActivityHash: 100},
			defs:        map[uint32]bungie.ActivityInfo{100: {}},
			wantChanged: true,
			wantInfo:    nil,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			backend := &fakeBackend{
				activities: map[string]bungie.CharacterActivity{"char-1": tt.latest},
				defs:       tt.defs,
			}
			p := New(backend, NewBroadcaster(), Options{})

			current := tt.current
			changed, err := p.updateCurrent(context.Background(), &current, testProfile)
			if err != nil {
				t.Fatalf("updateCurrent() failed: %v", err)
			}
			if changed != tt.wantChanged {
				t.Errorf("changed = %v, expected %v", changed, tt.wantChanged)
			}

			switch {
			case tt.wantInfo == nil && current.ActivityInfo != nil:
				t.Errorf("ActivityInfo = %+v, expected nil", current.ActivityInfo)
			case tt.wantInfo != nil && current.ActivityInfo == nil:
				t.Errorf("ActivityInfo = nil, expected %q", tt.wantInfo.Name)
			case tt.wantInfo != nil && current.ActivityInfo.Name != tt.wantInfo.Name:
				t.Errorf("ActivityInfo.Name = %q, expected %q", current.ActivityInfo.Name, tt.wantInfo.Name)
			}

			if tt.wantChanged && len(backend.setCharacters) == 0 {
				t.Error("a changed activity must record the character set")
			}
		})
	}
}

func TestUpdateCurrentMultipleCharactersPicksLatest(t *testing.T) {
	started := time.Date(2026, 8, 30, 20, 0, 0, 0, time.UTC)
	backend := &fakeBackend{
		activities: map[string]bungie.CharacterActivity{
			"char-1": {DateActivityStarted: started.Add(-time.Hour), CurrentActivityHash: 100},
			"char-2": {DateActivityStarted: started, CurrentActivityHash: 200},
			"char-3": {DateActivityStarted: started.Add(-2 * time.Hour), CurrentActivityHash: 300},
		},
		defs: map[uint32]bungie.ActivityInfo{200: {Name: "Duality"}},
	}
	p := New(backend, NewBroadcaster(), Options{})

	current := CurrentActivity{}
	changed, err := p.updateCurrent(context.Background(), &current, testProfile)
	if err != nil {
		t.Fatalf("updateCurrent() failed: %v", err)
	}
	if !changed || current.ActivityHash != 200 {
		t.Errorf("resolved hash %d, expected the most recently started character's 200", current.ActivityHash)
	}
}

func TestUpdateCurrentNoCharacters(t *testing.T) {
	backend := &fakeBackend{activities: map[string]bungie.CharacterActivity{}}
	p := New(backend, NewBroadcaster(), Options{})

	current := CurrentActivity{}
	if _, err := p.updateCurrent(context.Background(), &current, testProfile); err == nil {
		t.Error("expected an error for a profile with no character data")
	}
}

func TestResetBootstrapsAndPublishes(t *testing.T) {
	backend := defaultFakeBackend()
	broadcaster := NewBroadcaster()
	p := New(backend, broadcaster, Options{Interval: 10 * time.Millisecond, HistoryEvery: 2})
	defer p.Stop()

	sub := broadcaster.Subscribe()
	defer broadcaster.Unsubscribe(sub)

	p.Reset(&testProfile)

	s := waitForStatus(t, sub, func(s Status) bool { return s.LastUpdate != nil })
	data := s.LastUpdate
	if data.ProfileInfo.DisplayName != "Guardian#1234" {
		t.Errorf("DisplayName = %q, expected Guardian#1234", data.ProfileInfo.DisplayName)
	}
	if len(data.ActivityHistory) != 1 {
		t.Errorf("bootstrap published %d history records, expected 1", len(data.ActivityHistory))
	}
	if data.CurrentActivity.ActivityInfo == nil || data.CurrentActivity.ActivityInfo.Name != "The Last Wish" {
		t.Errorf("CurrentActivity = %+v, expected The Last Wish", data.CurrentActivity)
	}
}

func TestResetNilProfileGoesIdle(t *testing.T) {
	broadcaster := NewBroadcaster()
	p := New(defaultFakeBackend(), broadcaster, Options{})

	sub := broadcaster.Subscribe()
	defer broadcaster.Unsubscribe(sub)

	p.Reset(nil)

	s := waitForStatus(t, sub, func(s Status) bool { return s.Error != "" })
	if s.Error != "no profile set" {
		t.Errorf("Error = %q, expected %q", s.Error, "no profile set")
	}

	status, ok := p.Status()
	if !ok || status.Error != "no profile set" {
		t.Errorf("Status() = %+v (ok=%v), expected the idle error", status, ok)
	}
}

func TestResetBootstrapErrorSurfaces(t *testing.T) {
	backend := defaultFakeBackend()
	backend.infoErr = errors.New("account not found")
	broadcaster := NewBroadcaster()
	p := New(backend, broadcaster, Options{})
	defer p.Stop()

	sub := broadcaster.Subscribe()
	defer broadcaster.Unsubscribe(sub)

	p.Reset(&testProfile)

	s := waitForStatus(t, sub, func(s Status) bool { return s.Error != "" })
	if !strings.Contains(s.Error, "failed to get profile info") {
		t.Errorf("Error = %q, expected a profile info failure", s.Error)
	}
}

func TestTickErrorKeepsLastUpdate(t *testing.T) {
	backend := defaultFakeBackend()
	broadcaster := NewBroadcaster()
	p := New(backend, broadcaster, Options{Interval: 10 * time.Millisecond, HistoryEvery: 100})
	defer p.Stop()

	sub := broadcaster.Subscribe()
	defer broadcaster.Unsubscribe(sub)

	p.Reset(&testProfile)
	waitForStatus(t, sub, func(s Status) bool { return s.LastUpdate != nil })

	backend.mu.Lock()
	backend.currentErr = errors.New("boom")
	backend.mu.Unlock()

	s := waitForStatus(t, sub, func(s Status) bool { return s.Error != "" })
	if s.LastUpdate == nil {
		t.Error("a failed tick must keep the previous good snapshot")
	}

	// Recovery clears the error on the next successful change.
	backend.mu.Lock()
	backend.currentErr = nil
	backend.activities["char-1"] = bungie.CharacterActivity{
		DateActivityStarted: time.Now().UTC(),
		CurrentActivityHash: 100,
	}
	backend.mu.Unlock()

	waitForStatus(t, sub, func(s Status) bool { return s.Error == "" && s.LastUpdate != nil })
}

func TestResetAbortsPreviousRun(t *testing.T) {
	backend := defaultFakeBackend()
	broadcaster := NewBroadcaster()
	p := New(backend, broadcaster, Options{Interval: 10 * time.Millisecond, HistoryEvery: 2})
	defer p.Stop()

	sub := broadcaster.Subscribe()
	defer broadcaster.Unsubscribe(sub)

	p.Reset(&testProfile)
	waitForStatus(t, sub, func(s Status) bool { return s.LastUpdate != nil })

	// The second reset clears the published status before re-bootstrapping.
	p.Reset(&testProfile)
	waitForStatus(t, sub, func(s Status) bool { return s.LastUpdate == nil && s.Error == "" })
	waitForStatus(t, sub, func(s Status) bool { return s.LastUpdate != nil })
}

func TestStopIsIdempotent(t *testing.T) {
	p := New(defaultFakeBackend(), NewBroadcaster(), Options{Interval: 10 * time.Millisecond})
	p.Reset(&testProfile)
	p.Stop()
	p.Stop()
}

func TestBroadcaster(t *testing.T) {
	b := NewBroadcaster()

	sub1 := b.Subscribe()
	sub2 := b.Subscribe()
	if b.Count() != 2 {
		t.Fatalf("Count() = %d, expected 2", b.Count())
	}

	b.Publish(Status{Error: "hello"})
	for i, sub := range []chan Status{sub1, sub2} {
		select {
		case s := <-sub:
			if s.Error != "hello" {
				t.Errorf("subscriber %d received %+v", i, s)
			}
		default:
			t.Errorf("subscriber %d received nothing", i)
		}
	}

	// A full subscriber drops updates instead of blocking the publisher.
	for i := 0; i < subscriberBuffer+5; i++ {
		b.Publish(Status{})
	}

	b.Unsubscribe(sub1)
	if _, open := <-sub1; open {
		// Buffered messages drain first; the channel must end up closed.
		for range sub1 {
		}
	}
	if b.Count() != 1 {
		t.Errorf("Count() = %d after unsubscribe, expected 1", b.Count())
	}

	// Unsubscribing twice must not panic on the closed channel.
	b.Unsubscribe(sub1)
	b.Unsubscribe(sub2)
}
