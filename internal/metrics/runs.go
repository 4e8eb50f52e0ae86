package metrics

import (
	"context"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"go.uber.org/zap"

	"github.com/sells-group/leadsync/internal/model"
)

var (
	lastRunDesc = prometheus.NewDesc(
		namespace+"_last_run_timestamp_seconds",
		"Start time of the most recent reconciliation run by status.",
		[]string{"status"},
		nil,
	)
	lastRunValueDesc = prometheus.NewDesc(
		namespace+"_last_run_conversion_value",
		"Total conversion value of the most recent completed run.",
		[]string{"mode"},
		nil,
	)
)

// RunLister is the slice of the run store the collector reads.
type RunLister interface {
	ListRuns(ctx context.Context, limit int) ([]model.Run, error)
}

// RunCollector reads recent run history from the store on each scrape.
type RunCollector struct {
	runs    RunLister
	timeout time.Duration
}

// NewRunCollector creates a collector over runs.
func NewRunCollector(runs RunLister) *RunCollector {
	return &RunCollector{runs: runs, timeout: 5 * time.Second}
}

// Describe implements prometheus.Collector.
func (c *RunCollector) Describe(ch chan<- *prometheus.Desc) {
	ch <- lastRunDesc
	ch <- lastRunValueDesc
}

// Collect implements prometheus.Collector.
func (c *RunCollector) Collect(ch chan<- prometheus.Metric) {
	ctx, cancel := context.WithTimeout(context.Background(), c.timeout)
	defer cancel()

	runs, err := c.runs.ListRuns(ctx, 20)
	if err != nil {
		zap.L().Error("metrics: list runs", zap.Error(err))
		return
	}

	seen := make(map[model.RunStatus]bool)
	valueDone := false
	// Runs are listed newest first.
	for _, r := range runs {
		if !seen[r.Status] {
			seen[r.Status] = true
			ch <- prometheus.MustNewConstMetric(lastRunDesc, prometheus.GaugeValue,
				float64(r.CreatedAt.Unix()), string(r.Status))
		}
		if !valueDone && r.Status == model.RunStatusComplete && r.Result != nil {
			valueDone = true
			ch <- prometheus.MustNewConstMetric(lastRunValueDesc, prometheus.GaugeValue,
				r.Result.TotalValue, string(r.Result.Mode))
		}
	}
}
