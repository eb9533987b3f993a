package occupancy

import (
	"context"
	"time"

	"github.com/raum-tracker/occupancy/internal/monitoring"
)

// Worker drives the periodic evaluation cycle. Designed to tick every minute
// during opening hours; each run is stateless and re-reads all facts.
type Worker struct {
	Estimator *Estimator
	Interval  time.Duration
	StopChan  chan struct{}

	// lastResetDay tracks the local day of the last tally reset,
	// formatted as yyyy-mm-dd.
	lastResetDay string
}

// NewWorker creates a worker around the estimator using the configured cycle
// interval.
func NewWorker(est *Estimator) *Worker {
	return &Worker{
		Estimator: est,
		Interval:  est.Cfg.CycleInterval,
		StopChan:  make(chan struct{}),
	}
}

// Start runs the periodic worker loop in a goroutine.
func (w *Worker) Start() {
	go func() {
		ticker := time.NewTicker(w.Interval)
		defer ticker.Stop()
		for {
			select {
			case <-ticker.C:
				if err := w.RunOnce(context.Background()); err != nil {
					monitoring.Logf("evaluation cycle error: %v", err)
				}
			case <-w.StopChan:
				return
			}
		}
	}()
}

// Stop requests the worker to stop.
func (w *Worker) Stop() {
	close(w.StopChan)
}

// RunOnce performs one cycle: reset daily tallies on day rollover, then
// evaluate all spaces if the current time is inside the active window.
func (w *Worker) RunOnce(ctx context.Context) error {
	now := w.Estimator.Clock.Now().In(w.Estimator.Cfg.Location())

	if day := now.Format("2006-01-02"); day != w.lastResetDay {
		// Skip the reset on the very first run after startup; the process
		// may have restarted mid-day and the tallies are still valid.
		if w.lastResetDay != "" {
			if err := w.Estimator.DB.ResetDailyTallies(now); err != nil {
				monitoring.Logf("daily tally reset failed: %v", err)
			} else {
				monitoring.Logf("daily tallies reset for %s", day)
			}
		}
		w.lastResetDay = day
	}

	if !w.inActiveWindow(now) {
		return nil
	}
	return w.Estimator.RunCycle(ctx)
}

// inActiveWindow reports whether now (already in local time) falls inside
// the configured evaluation window. The end bound is exclusive.
func (w *Worker) inActiveWindow(now time.Time) bool {
	start, end := w.Estimator.Cfg.ActiveWindowMinutes()
	minutes := now.Hour()*60 + now.Minute()
	return minutes >= start && minutes < end
}
