// Package monitoring watches reconciliation run history and dependency
// breakers and raises webhook alerts when they look unhealthy.
package monitoring

import (
	"context"
	"sort"
	"time"

	"github.com/rotisserie/eris"

	"github.com/sells-group/leadsync/internal/model"
	"github.com/sells-group/leadsync/internal/resilience"
	"github.com/sells-group/leadsync/internal/store"
)

// maxRuns bounds how many recent runs one collection inspects.
const maxRuns = 1000

// Snapshot holds a point-in-time view of system health.
type Snapshot struct {
	// Reconciliation runs created within the lookback window.
	RunsTotal     int     `json:"runs_total"`
	RunsComplete  int     `json:"runs_complete"`
	RunsFailed    int     `json:"runs_failed"`
	RunsRunning   int     `json:"runs_running"`
	FailRate      float64 `json:"fail_rate"`
	ManualUploads int     `json:"manual_uploads"`
	Conversions   int     `json:"conversions"`
	TotalValue    float64 `json:"total_value"`
	LastError     string  `json:"last_error,omitempty"`

	// OpenBreakers lists dependencies whose circuit is not closed.
	OpenBreakers []string `json:"open_breakers,omitempty"`

	LookbackHours int       `json:"lookback_hours"`
	CollectedAt   time.Time `json:"collected_at"`
}

// RunLister is the slice of store.Store the collector reads.
type RunLister interface {
	ListRuns(ctx context.Context, filter store.RunFilter) ([]model.Run, error)
}

// BreakerStates reports the state of each named circuit breaker.
type BreakerStates func() map[string]resilience.State

// Collector gathers run and breaker health.
type Collector struct {
	runs     RunLister
	breakers BreakerStates
	now      func() time.Time
}

// NewCollector creates a collector. breakers may be nil.
func NewCollector(runs RunLister, breakers BreakerStates) *Collector {
	return &Collector{runs: runs, breakers: breakers, now: time.Now}
}

// Collect gathers a snapshot over the given lookback window.
func (c *Collector) Collect(ctx context.Context, lookbackHours int) (*Snapshot, error) {
	now := c.now().UTC()
	snap := &Snapshot{
		LookbackHours: lookbackHours,
		CollectedAt:   now,
	}
	cutoff := now.Add(-time.Duration(lookbackHours) * time.Hour)

	runs, err := c.runs.ListRuns(ctx, store.RunFilter{Limit: maxRuns})
	if err != nil {
		return nil, eris.Wrap(err, "monitoring: list runs")
	}

	// Runs arrive newest first.
	for _, r := range runs {
		if r.CreatedAt.Before(cutoff) {
			continue
		}
		if r.DryRun {
			continue
		}
		snap.RunsTotal++
		switch r.Status {
		case model.RunStatusComplete:
			snap.RunsComplete++
		case model.RunStatusFailed:
			snap.RunsFailed++
			if snap.LastError == "" {
				snap.LastError = r.Error
			}
		default:
			snap.RunsRunning++
		}
		if r.Result != nil {
			// A split batch still left conversions for a manual upload.
			if r.Result.Mode == model.UploadModeManualUpload || r.Result.Mode == model.UploadModeMixed {
				snap.ManualUploads++
			}
			snap.Conversions += len(r.Result.Conversions)
			snap.TotalValue += r.Result.TotalValue
		}
	}

	if finished := snap.RunsComplete + snap.RunsFailed; finished > 0 {
		snap.FailRate = float64(snap.RunsFailed) / float64(finished)
	}

	if c.breakers != nil {
		for name, st := range c.breakers() {
			if st != resilience.Closed {
				snap.OpenBreakers = append(snap.OpenBreakers, name)
			}
		}
		sort.Strings(snap.OpenBreakers)
	}

	return snap, nil
}
