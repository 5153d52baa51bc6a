package fetch

import (
	"context"
	"sync"
	"sync/atomic"
	"time"

	"github.com/d2sherpa/sherpa/pkg/activity"
	"github.com/d2sherpa/sherpa/pkg/metrics"
)

// EnrichPGCRs patches carnage-report fields into every record that lacks
// them, with bounded concurrency. Already-enriched records are skipped, so
// repeated calls on the same data make zero requests. Failures leave the
// record unenriched for a later pass; the batch always runs to completion.
func (f *Fetcher) EnrichPGCRs(ctx context.Context, activities []activity.Completed) {
	var pending []int
	for i := range activities {
		if !activities[i].Enriched() {
			pending = append(pending, i)
		}
	}
	if len(pending) == 0 {
		return
	}

	f.log.Infof("fetching carnage reports for %d activities (%d already enriched)",
		len(pending), len(activities)-len(pending))
	start := time.Now()

	var (
		wg      sync.WaitGroup
		fetched atomic.Int64
		failed  atomic.Int64
	)

	for _, idx := range pending {
		idx := idx
		wg.Add(1)

		go func() {
			defer wg.Done()

			select {
			case f.pgcrSem <- struct{}{}:
			case <-ctx.Done():
				return
			}
			defer func() { <-f.pgcrSem }()

			slot := &activities[idx]
			pgcr, err := f.source.GetPostGameCarnageReport(ctx, slot.InstanceID)
			if err != nil {
				n := failed.Add(1)
				metrics.PGCRFetches.WithLabelValues("error").Inc()
				if n <= int64(f.tuning.FailureLogLimit) {
					f.log.Warnf("failed to fetch carnage report for activity %s: %v", slot.InstanceID, err)
				} else if n == int64(f.tuning.FailureLogLimit)+1 {
					f.log.Warnf("suppressing further carnage report errors")
				}
				return
			}

			// Each task owns a distinct index, so these writes never race.
			slot.StartingPhaseIndex = pgcr.StartingPhaseIndex
			slot.WasStartedFromBeginning = pgcr.WasStartedFromBeginning

			fetched.Add(1)
			metrics.PGCRFetches.WithLabelValues("success").Inc()
		}()
	}

	wg.Wait()

	f.log.Infof("carnage report pass done in %s: %d fetched, %d failed",
		time.Since(start).Round(time.Millisecond), fetched.Load(), failed.Load())
}
