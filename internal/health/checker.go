package health

import (
	"fmt"
	"sync"
	"time"

	"github.com/dpetryk/lh-bulk-audit/internal/metrics"
	"github.com/dpetryk/lh-bulk-audit/internal/scheduler"
)

const defaultStaleAfter = 30 * time.Minute

// Checker evaluates readiness conditions for the auditor.
type Checker struct {
	metrics    *metrics.Store
	staleAfter time.Duration

	mu          sync.RWMutex
	lastAttempt time.Time
	status      func() scheduler.Status
}

// NewChecker constructs a readiness checker bound to the provided metrics
// store. staleAfter bounds how long Processing may go without a finished
// attempt before the auditor reports not ready; suspensions don't count.
func NewChecker(store *metrics.Store, staleAfter time.Duration) *Checker {
	if staleAfter <= 0 {
		staleAfter = defaultStaleAfter
	}
	return &Checker{
		metrics:    store,
		staleAfter: staleAfter,
	}
}

// SetStatusSource wires the scheduler's status into readiness decisions.
func (c *Checker) SetStatusSource(status func() scheduler.Status) {
	c.mu.Lock()
	c.status = status
	c.mu.Unlock()
}

// ObserveAttempt records that an audit attempt finished at ts.
func (c *Checker) ObserveAttempt(ts time.Time) {
	c.mu.Lock()
	if ts.After(c.lastAttempt) {
		c.lastAttempt = ts
	}
	c.mu.Unlock()
}

// Ready evaluates all readiness conditions and returns the overall status
// and reasons for failure.
func (c *Checker) Ready(now time.Time) (bool, []string) {
	c.mu.RLock()
	lastAttempt := c.lastAttempt
	status := c.status
	staleAfter := c.staleAfter
	c.mu.RUnlock()

	var st scheduler.Status
	if status != nil {
		st = status()
	}

	reasons := make([]string, 0, 2)
	switch st.State {
	case scheduler.StateDone, scheduler.StateSuspended:
		// Done and window-closed are both healthy quiescent states.
	case scheduler.StateProcessing:
		if !lastAttempt.IsZero() && now.Sub(lastAttempt) > staleAfter {
			reasons = append(reasons, fmt.Sprintf("no attempt finished for %s", now.Sub(lastAttempt).Round(time.Second)))
		}
	default:
		reasons = append(reasons, "scheduler not started")
	}

	if c.metrics != nil {
		snap := c.metrics.Snapshot()
		if snap.RecordFailures > 0 && snap.RecordsWritten == 0 {
			reasons = append(reasons, "every sink write has failed")
		}
	}

	if len(reasons) > 0 {
		return false, reasons
	}
	return true, nil
}
