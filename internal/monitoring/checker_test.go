package monitoring

import (
	"context"
	"net/http"
	"net/http/httptest"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"go.uber.org/zap"

	"github.com/sells-group/leadsync/internal/config"
	"github.com/sells-group/leadsync/internal/resilience"
)

func TestChecker_RunStopsOnCancel(t *testing.T) {
	cfg := config.MonitoringConfig{CheckIntervalSecs: 1, LookbackWindowHours: 24}
	checker := NewChecker(NewCollector(&fakeRuns{}, nil), NewAlerter(cfg), cfg)

	ctx, cancel := context.WithCancel(context.Background())

	done := make(chan struct{})
	go func() {
		checker.Run(ctx)
		close(done)
	}()

	time.Sleep(100 * time.Millisecond)
	cancel()

	select {
	case <-done:
	case <-time.After(5 * time.Second):
		t.Fatal("Checker.Run did not stop after context cancellation")
	}
}

func TestChecker_DefaultInterval(t *testing.T) {
	checker := NewChecker(NewCollector(&fakeRuns{}, nil), NewAlerter(config.MonitoringConfig{}), config.MonitoringConfig{})

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	checker.Run(ctx)
}

func TestChecker_SendsOncePerEpisode(t *testing.T) {
	var received atomic.Int32
	ts := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		received.Add(1)
		w.WriteHeader(http.StatusOK)
	}))
	defer ts.Close()

	state := resilience.Open
	breakers := func() map[string]resilience.State {
		return map[string]resilience.State{"crm": state}
	}

	cfg := config.MonitoringConfig{WebhookURL: ts.URL, LookbackWindowHours: 24}
	checker := NewChecker(newTestCollector(&fakeRuns{}, breakers), NewAlerter(cfg), cfg)
	log := zap.NewNop()
	ctx := context.Background()

	assert.Equal(t, 1, checker.check(ctx, log))
	assert.Equal(t, 0, checker.check(ctx, log), "still open, already alerted")

	state = resilience.Closed
	assert.Equal(t, 0, checker.check(ctx, log))

	state = resilience.Open
	assert.Equal(t, 1, checker.check(ctx, log), "re-opened")
	assert.Equal(t, int32(2), received.Load())
}

func TestChecker_CollectError(t *testing.T) {
	cfg := config.MonitoringConfig{WebhookURL: "http://127.0.0.1:1"}
	checker := NewChecker(newTestCollector(&fakeRuns{err: assert.AnError}, nil), NewAlerter(cfg), cfg)

	assert.Equal(t, 0, checker.check(context.Background(), zap.NewNop()))
}
