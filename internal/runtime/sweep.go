package runtime

import (
	"time"

	"github.com/moonbotd/moonbotd/pkg/moonmodels"
)

// StartCleanup launches the periodic sweep (spec §4.5: "removes invocations
// with endTime older than INVOCATION_TTL_MS and status != awaiting_approval",
// default interval 5 minutes). Call Stop to end it.
func (r *Runtime) StartCleanup() {
	go func() {
		ticker := time.NewTicker(r.cfg.CleanupInterval)
		defer ticker.Stop()
		for {
			select {
			case <-ticker.C:
				r.sweep()
			case <-r.stopSweep:
				return
			}
		}
	}()
}

// Stop ends the cleanup goroutine started by StartCleanup. Safe to call more
// than once.
func (r *Runtime) Stop() {
	r.sweepOnce.Do(func() { close(r.stopSweep) })
}

func (r *Runtime) sweep() int {
	cutoff := time.Now().Add(-r.cfg.InvocationTTL)

	r.mu.Lock()
	defer r.mu.Unlock()

	removed := 0
	for id, inv := range r.invocations {
		if inv.Status == moonmodels.InvocationAwaitingApproval {
			continue
		}
		if inv.EndTime.IsZero() || inv.EndTime.After(cutoff) {
			continue
		}
		delete(r.invocations, id)
		removed++
	}
	return removed
}
