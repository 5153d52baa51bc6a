package poller

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/sirupsen/logrus"

	"github.com/d2sherpa/sherpa/pkg/bungie"
	"github.com/d2sherpa/sherpa/pkg/metrics"
)

// Options tunes the poll loop.
type Options struct {
	// Interval between steady-state ticks.
	Interval time.Duration
	// HistoryEvery makes every Nth tick a history refresh; the others only
	// refresh the live activity.
	HistoryEvery int
}

// DefaultOptions returns the production cadence.
func DefaultOptions() Options {
	return Options{
		Interval:     5 * time.Second,
		HistoryEvery: 5,
	}
}

// Poller is the live refresh loop for the selected profile. Idle until
// Reset selects a profile; Reset cancels any in-flight cycle outright and
// starts a fresh one, which is safe because the pipelines re-derive state
// from cache plus remote.
type Poller struct {
	backend     Backend
	broadcaster *Broadcaster
	opts        Options
	log         *logrus.Entry

	mu     sync.Mutex
	status Status
	cancel context.CancelFunc
	done   chan struct{}
}

// New creates an idle poller. Zero option fields fall back to defaults.
func New(backend Backend, broadcaster *Broadcaster, opts Options) *Poller {
	def := DefaultOptions()
	if opts.Interval <= 0 {
		opts.Interval = def.Interval
	}
	if opts.HistoryEvery <= 0 {
		opts.HistoryEvery = def.HistoryEvery
	}
	return &Poller{
		backend:     backend,
		broadcaster: broadcaster,
		opts:        opts,
		log:         logrus.WithField("component", "poller"),
	}
}

// Reset aborts the in-flight cycle, clears the published status, and starts
// polling the given profile. A nil profile returns the poller to idle with
// a "no profile set" status.
func (p *Poller) Reset(profile *bungie.Profile) {
	p.abort()

	p.mu.Lock()
	p.status = Status{}
	p.mu.Unlock()
	p.broadcaster.Publish(Status{})

	if profile == nil {
		p.setError("no profile set")
		return
	}

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan struct{})
	p.mu.Lock()
	p.cancel = cancel
	p.done = done
	p.mu.Unlock()

	go func() {
		defer close(done)
		p.run(ctx, *profile)
	}()
}

// Stop aborts the in-flight cycle and leaves the poller idle.
func (p *Poller) Stop() {
	p.abort()
}

func (p *Poller) abort() {
	p.mu.Lock()
	cancel, done := p.cancel, p.done
	p.cancel, p.done = nil, nil
	p.mu.Unlock()

	if cancel != nil {
		cancel()
		<-done
	}
}

// Status returns the current snapshot without blocking: ok is false when
// the status is concurrently being updated.
func (p *Poller) Status() (Status, bool) {
	if !p.mu.TryLock() {
		return Status{}, false
	}
	defer p.mu.Unlock()
	return p.status.clone(), true
}

func (p *Poller) setError(msg string) {
	p.mu.Lock()
	p.status.Error = msg
	published := p.status.clone()
	p.mu.Unlock()
	p.broadcaster.Publish(published)
}

func (p *Poller) setData(data PlayerData) {
	p.mu.Lock()
	p.status.LastUpdate = &data
	p.status.Error = ""
	published := p.status.clone()
	p.mu.Unlock()
	p.broadcaster.Publish(published)
}

func (p *Poller) lastData() (PlayerData, bool) {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.status.LastUpdate == nil {
		return PlayerData{}, false
	}
	cloned := p.status.clone()
	return *cloned.LastUpdate, true
}

// run is the poll cycle: a bootstrap pass (profile info, live activity,
// full history), then fixed-interval ticks alternating cheap live-activity
// refreshes with periodic history refreshes. Tick failures surface on the
// status and the next tick retries; only cancellation ends the loop.
func (p *Poller) run(ctx context.Context, profile bungie.Profile) {
	info, err := p.backend.ProfileInfo(ctx, profile)
	if err != nil {
		if ctx.Err() != nil {
			return
		}
		p.setError(fmt.Sprintf("failed to get profile info: %v", err))
		return
	}

	current := CurrentActivity{}
	data := PlayerData{ProfileInfo: info}

	_, err = p.updateCurrent(ctx, &current, profile)
	if err == nil {
		data.ActivityHistory, _, err = p.backend.RefreshHistory(ctx, profile, info, nil)
	}
	if err != nil {
		if ctx.Err() != nil {
			return
		}
		metrics.PollCycles.WithLabelValues("bootstrap", "error").Inc()
		p.setError(err.Error())
		return
	}
	data.CurrentActivity = current

	metrics.PollCycles.WithLabelValues("bootstrap", "success").Inc()
	p.setData(data)
	p.log.Infof("poller bootstrapped for profile %s (%d activities)", profile.ID(), len(data.ActivityHistory))

	ticker := time.NewTicker(p.opts.Interval)
	defer ticker.Stop()

	count := 0
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
		}

		last, ok := p.lastData()
		if !ok {
			continue
		}

		kind := "current"
		var changed bool
		if count < p.opts.HistoryEvery {
			changed, err = p.updateCurrent(ctx, &last.CurrentActivity, profile)
		} else {
			kind = "history"
			count = 0
			changed, err = p.updateHistory(ctx, &last, profile)
		}

		switch {
		case err != nil:
			if ctx.Err() != nil {
				return
			}
			metrics.PollCycles.WithLabelValues(kind, "error").Inc()
			p.setError(err.Error())
		case changed:
			metrics.PollCycles.WithLabelValues(kind, "success").Inc()
			p.setData(last)
		default:
			metrics.PollCycles.WithLabelValues(kind, "unchanged").Inc()
		}

		count++
	}
}

// updateCurrent refreshes the live activity. A strictly newer start time
// replaces the known one and triggers a definition lookup; an equal start
// with the same hash is a no-op; an older start means the remote clock
// moved backward and is ignored.
func (p *Poller) updateCurrent(ctx context.Context, current *CurrentActivity, profile bungie.Profile) (bool, error) {
	characterActivities, err := p.backend.CurrentActivities(ctx, profile)
	if err != nil {
		return false, err
	}
	if len(characterActivities) == 0 {
		return false, errors.New("no character data for profile")
	}

	characterIDs := make([]string, 0, len(characterActivities))
	var latest bungie.CharacterActivity
	for id, ca := range characterActivities {
		characterIDs = append(characterIDs, id)
		if ca.DateActivityStarted.After(latest.DateActivityStarted) {
			latest = ca
		}
	}

	switch {
	case current.StartDate.Before(latest.DateActivityStarted):
		current.StartDate = latest.DateActivityStarted
	case current.StartDate.Equal(latest.DateActivityStarted):
		if current.ActivityInfo == nil {
			return false, nil
		}
		if current.ActivityHash == latest.CurrentActivityHash {
			return false, nil
		}
	default:
		return false, nil
	}

	p.backend.SetCharacters(profile, characterIDs)

	if latest.CurrentActivityHash == 0 {
		current.ActivityInfo = nil
		return true, nil
	}

	info, err := p.backend.ActivityInfo(ctx, latest.CurrentActivityHash)
	if errors.Is(err, bungie.ErrResponseMissing) {
		// No definition for this hash: show "no current activity" rather
		// than an error.
		current.ActivityInfo = nil
		return true, nil
	}
	if err != nil {
		return false, err
	}
	if info.Name == "" {
		current.ActivityInfo = nil
		return true, nil
	}

	current.ActivityHash = latest.CurrentActivityHash
	current.ActivityInfo = &info
	return true, nil
}

// updateHistory refreshes the activity history through the fetch pipelines,
// re-reading profile info from the memoized source first so new characters
// are picked up.
func (p *Poller) updateHistory(ctx context.Context, data *PlayerData, profile bungie.Profile) (bool, error) {
	info, err := p.backend.ProfileInfo(ctx, profile)
	if err != nil {
		return false, err
	}

	history, changed, err := p.backend.RefreshHistory(ctx, profile, info, data.ActivityHistory)
	if err != nil {
		return false, err
	}
	if changed {
		data.ActivityHistory = history
		data.ProfileInfo = info
	}
	return changed, nil
}
