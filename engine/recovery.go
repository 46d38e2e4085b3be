// ABOUTME: Startup recovery scan: claims non-terminal tasks and resumes them from their last snapshot.
// ABOUTME: Claims held by dead owners are taken over with a compare-and-set, so scans never double-process.

package engine

import (
	"context"
	"log"
)

// Recover scans the store for non-terminal tasks and resumes each one it
// can claim, re-entering the graph at the phase after the last snapshot.
// Returns the number of tasks resumed.
func (e *Engine) Recover(ctx context.Context) (int, error) {
	recs, err := e.store.List(ctx, true)
	if err != nil {
		return 0, err
	}

	resumed := 0
	for _, rec := range recs {
		var ok bool
		var claimErr error
		switch rec.ClaimedBy {
		case "", e.owner:
			ok, claimErr = e.store.Claim(ctx, rec.ID, e.owner)
		default:
			// A claim from a previous process; take it over from the owner
			// we observed so concurrent scans have exactly one winner.
			ok, claimErr = e.store.TakeOver(ctx, rec.ID, rec.ClaimedBy, e.owner)
		}
		if claimErr != nil {
			log.Printf("component=engine action=recover_claim task=%s error=%v", rec.ID, claimErr)
			continue
		}
		if !ok {
			continue
		}
		rec.ClaimedBy = e.owner

		log.Printf("component=engine action=recover task=%s phase=%s refinements=%d",
			rec.ID, rec.State.Phase, rec.State.Refinements)
		rec := rec
		e.wg.Add(1)
		go func() {
			defer e.wg.Done()
			e.run(context.Background(), rec)
		}()
		resumed++
	}
	return resumed, nil
}
