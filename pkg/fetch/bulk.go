package fetch

import (
	"context"
	"sync"
	"sync/atomic"
	"time"

	"github.com/d2sherpa/sherpa/pkg/activity"
	"github.com/d2sherpa/sherpa/pkg/bungie"
)

// fetchAll walks every character's full paged history concurrently. Each
// character gets a fixed worker pool sharing an atomic page cursor and a
// stop flag; the first worker to observe an empty page, an error, or the
// page ceiling stops the whole pool. Workers race ahead of each other, so
// pages land out of request order; the caller re-sorts by period.
//
// Worker errors stop only that character's pool: partial results from
// sibling characters are kept.
func (f *Fetcher) fetchAll(ctx context.Context, profile bungie.Profile, characterIDs []string, weeklyReset time.Time) ([]activity.Completed, error) {
	var (
		mu  sync.Mutex
		all []activity.Completed
	)

	f.log.Infof("starting concurrent fetch across %d characters (%d workers each, %d in-flight cap)",
		len(characterIDs), f.tuning.WorkersPerCharacter, f.tuning.FetchConcurrency)

	var characters sync.WaitGroup
	for _, characterID := range characterIDs {
		characterID := characterID
		characters.Add(1)

		go func() {
			defer characters.Done()

			var (
				workers  sync.WaitGroup
				nextPage atomic.Int64
				stopped  atomic.Bool
			)

			for i := 0; i < f.tuning.WorkersPerCharacter; i++ {
				workers.Add(1)
				go func() {
					defer workers.Done()

					for {
						if stopped.Load() || ctx.Err() != nil {
							return
						}

						page := int(nextPage.Add(1)) - 1
						if page >= f.tuning.MaxPages {
							return
						}

						select {
						case f.fetchSem <- struct{}{}:
						case <-ctx.Done():
							return
						}
						history, err := f.source.GetActivityHistory(ctx, profile, characterID, page)
						<-f.fetchSem

						if err != nil {
							f.log.Warnf("history fetch failed for character %s page %d: %v", characterID, page, err)
							stopped.Store(true)
							return
						}
						if len(history) == 0 {
							// End of history: pages run until exhaustion
							// with no total count.
							stopped.Store(true)
							return
						}

						kept := f.filter.Apply(history, weeklyReset)
						if len(kept) > 0 {
							mu.Lock()
							all = append(all, kept...)
							mu.Unlock()
						}
					}
				}()
			}

			workers.Wait()
			f.log.Debugf("character %s fetch complete (%d pages claimed)", characterID, nextPage.Load())
		}()
	}

	characters.Wait()

	if err := ctx.Err(); err != nil {
		return nil, err
	}

	f.log.Infof("full fetch complete: %d activities collected", len(all))
	return all, nil
}
