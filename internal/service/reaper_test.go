package service

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"
	"github.com/target/netops-go/config"
	"github.com/target/netops-go/internal/core"
)

// mockReaperRepo is a simple stateful mock. Each delete method returns the
// configured batch counts call by call, then 0 to simulate batch exhaustion.
type mockReaperRepo struct {
	deleteExecutionsCalled  int
	deleteExecutionsBatches []int64
	deleteExecutionsError   error
	lastExecutionsParams    core.DeleteOldExecutionsParams

	deleteOpticalCalled  int
	deleteOpticalBatches []int64
	deleteOpticalError   error
	lastOpticalParams    core.DeleteOldOpticalReadingsParams
}

func (m *mockReaperRepo) DeleteOldExecutions(
	_ context.Context,
	p core.DeleteOldExecutionsParams,
) (int64, error) {
	m.deleteExecutionsCalled++
	m.lastExecutionsParams = p
	if m.deleteExecutionsError != nil {
		return 0, m.deleteExecutionsError
	}
	if m.deleteExecutionsCalled <= len(m.deleteExecutionsBatches) {
		return m.deleteExecutionsBatches[m.deleteExecutionsCalled-1], nil
	}
	return 0, nil
}

func (m *mockReaperRepo) DeleteOldOpticalReadings(
	_ context.Context,
	p core.DeleteOldOpticalReadingsParams,
) (int64, error) {
	m.deleteOpticalCalled++
	m.lastOpticalParams = p
	if m.deleteOpticalError != nil {
		return 0, m.deleteOpticalError
	}
	if m.deleteOpticalCalled <= len(m.deleteOpticalBatches) {
		return m.deleteOpticalBatches[m.deleteOpticalCalled-1], nil
	}
	return 0, nil
}

// captureSink records emitted metrics for assertions.
type captureSink struct {
	mu      sync.Mutex
	counts  []capturedCount
	gauges  map[string]float64
	timings map[string]time.Duration
}

type capturedCount struct {
	name  string
	value int64
	tags  map[string]string
}

func newCaptureSink() *captureSink {
	return &captureSink{
		gauges:  make(map[string]float64),
		timings: make(map[string]time.Duration),
	}
}

func (c *captureSink) Count(name string, value int64, tags map[string]string) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.counts = append(c.counts, capturedCount{name: name, value: value, tags: tags})
}

func (c *captureSink) Gauge(name string, value float64, _ map[string]string) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.gauges[name] = value
}

func (c *captureSink) Timing(name string, value time.Duration, _ map[string]string) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.timings[name] = value
}

// countWithTag sums values of counts matching the name and one tag pair.
func (c *captureSink) countWithTag(name, tagKey, tagValue string) int64 {
	c.mu.Lock()
	defer c.mu.Unlock()
	var total int64
	for _, m := range c.counts {
		if m.name == name && m.tags[tagKey] == tagValue {
			total += m.value
		}
	}
	return total
}

func (c *captureSink) countTotal(name string) int64 {
	c.mu.Lock()
	defer c.mu.Unlock()
	var total int64
	for _, m := range c.counts {
		if m.name == name {
			total += m.value
		}
	}
	return total
}

func (c *captureSink) hasGauge(name string) bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	_, ok := c.gauges[name]
	return ok
}

func testReaperConfig() config.ReaperConfig {
	return config.ReaperConfig{
		Interval:         5 * time.Minute,
		ExecutionsMaxAge: 30 * 24 * time.Hour,
		OpticalMaxAge:    90 * 24 * time.Hour,
		GroupsMaxAge:     24 * time.Hour,
		BatchSize:        500,
	}
}

func TestNewReaperService(t *testing.T) {
	t.Run("creates service with valid options", func(t *testing.T) {
		svc, err := NewReaperService(ReaperServiceOptions{
			Repo:   &mockReaperRepo{},
			Config: testReaperConfig(),
		})

		require.NoError(t, err)
		assert.NotNil(t, svc)
	})

	t.Run("returns error when repo is nil", func(t *testing.T) {
		_, err := NewReaperService(ReaperServiceOptions{
			Config: testReaperConfig(),
		})

		require.Error(t, err)
		assert.Contains(t, err.Error(), "reaper repository is required")
	})
}

func TestReaperService_runSweep(t *testing.T) {
	t.Run("runs all retention steps successfully", func(t *testing.T) {
		repo := &mockReaperRepo{
			deleteExecutionsBatches: []int64{10},
			deleteOpticalBatches:    []int64{4},
		}
		broker := &mockTaskBroker{}
		broker.On("PruneGroups", mock.Anything, mock.Anything).Return(3, nil)
		sink := newCaptureSink()

		svc, err := NewReaperService(ReaperServiceOptions{
			Repo:    repo,
			Broker:  broker,
			Config:  testReaperConfig(),
			Metrics: sink,
		})
		require.NoError(t, err)

		require.NoError(t, svc.runSweep(context.Background()))

		// Each delete loops once past the counted batch to see exhaustion.
		assert.Equal(t, 2, repo.deleteExecutionsCalled)
		assert.Equal(t, 2, repo.deleteOpticalCalled)
		broker.AssertExpectations(t)

		assert.Equal(t, 500, repo.lastExecutionsParams.Limit)
		assert.WithinDuration(t,
			time.Now().Add(-30*24*time.Hour), repo.lastExecutionsParams.Before, time.Minute)
		assert.WithinDuration(t,
			time.Now().Add(-90*24*time.Hour), repo.lastOpticalParams.Before, time.Minute)

		assert.Equal(t, int64(10), sink.countWithTag("reaper.deleted", "step", "delete_executions"))
		assert.Equal(t, int64(4), sink.countWithTag("reaper.deleted", "step", "delete_optical_readings"))
		assert.Equal(t, int64(3), sink.countWithTag("reaper.deleted", "step", "prune_groups"))
		assert.Equal(t, int64(1), sink.countWithTag("reaper.cleanup", "result", "success"))
		assert.True(t, sink.hasGauge("reaper.last_success_epoch"))
	})

	t.Run("continues past a failing step", func(t *testing.T) {
		repo := &mockReaperRepo{
			deleteExecutionsError: errors.New("deadlock detected"),
			deleteOpticalBatches:  []int64{7},
		}
		broker := &mockTaskBroker{}
		broker.On("PruneGroups", mock.Anything, mock.Anything).Return(0, nil)
		sink := newCaptureSink()

		svc, err := NewReaperService(ReaperServiceOptions{
			Repo:    repo,
			Broker:  broker,
			Config:  testReaperConfig(),
			Metrics: sink,
		})
		require.NoError(t, err)

		sweepErr := svc.runSweep(context.Background())

		require.Error(t, sweepErr)
		assert.Contains(t, sweepErr.Error(), "delete old executions")
		assert.Contains(t, sweepErr.Error(), "deadlock detected")

		// Later steps still ran.
		assert.Equal(t, 2, repo.deleteOpticalCalled)
		broker.AssertExpectations(t)

		assert.Equal(t, int64(1), sink.countWithTag("reaper.cleanup", "result", "error"))
		assert.False(t, sink.hasGauge("reaper.last_success_epoch"))
	})

	t.Run("skips group pruning without a broker", func(t *testing.T) {
		repo := &mockReaperRepo{}
		sink := newCaptureSink()

		svc, err := NewReaperService(ReaperServiceOptions{
			Repo:    repo,
			Config:  testReaperConfig(),
			Metrics: sink,
		})
		require.NoError(t, err)

		require.NoError(t, svc.runSweep(context.Background()))
		assert.Equal(t, int64(1), sink.countWithTag("reaper.cleanup", "result", "noop"))
	})
}

func TestReaperService_deleteOldExecutions(t *testing.T) {
	t.Run("accumulates across batches", func(t *testing.T) {
		repo := &mockReaperRepo{
			deleteExecutionsBatches: []int64{500, 120},
		}

		svc, err := NewReaperService(ReaperServiceOptions{
			Repo:   repo,
			Config: testReaperConfig(),
		})
		require.NoError(t, err)

		count, err := svc.deleteOldExecutions(context.Background())

		require.NoError(t, err)
		assert.Equal(t, int64(620), count)
		// Two counted batches plus the exhaustion probe.
		assert.Equal(t, 3, repo.deleteExecutionsCalled)
	})

	t.Run("returns partial count on error", func(t *testing.T) {
		repo := &mockReaperRepo{}
		repo.deleteExecutionsError = errors.New("connection reset")

		svc, err := NewReaperService(ReaperServiceOptions{
			Repo:   repo,
			Config: testReaperConfig(),
		})
		require.NoError(t, err)

		_, err = svc.deleteOldExecutions(context.Background())
		require.Error(t, err)
		assert.Equal(t, 1, repo.deleteExecutionsCalled)
	})
}

func TestReaperService_pruneBrokerGroups(t *testing.T) {
	t.Run("prunes with the configured cutoff", func(t *testing.T) {
		broker := &mockTaskBroker{}
		var gotCutoff time.Time
		broker.On("PruneGroups", mock.Anything, mock.Anything).
			Run(func(args mock.Arguments) {
				gotCutoff = args.Get(1).(time.Time)
			}).
			Return(2, nil)

		svc, err := NewReaperService(ReaperServiceOptions{
			Repo:   &mockReaperRepo{},
			Broker: broker,
			Config: testReaperConfig(),
		})
		require.NoError(t, err)

		count, err := svc.pruneBrokerGroups(context.Background())

		require.NoError(t, err)
		assert.Equal(t, int64(2), count)
		assert.WithinDuration(t, time.Now().Add(-24*time.Hour), gotCutoff, time.Minute)
	})

	t.Run("is a no-op without a broker", func(t *testing.T) {
		svc, err := NewReaperService(ReaperServiceOptions{
			Repo:   &mockReaperRepo{},
			Config: testReaperConfig(),
		})
		require.NoError(t, err)

		count, err := svc.pruneBrokerGroups(context.Background())

		require.NoError(t, err)
		assert.Zero(t, count)
	})
}

func TestReaperService_Run(t *testing.T) {
	t.Run("stops on context cancellation", func(t *testing.T) {
		repo := &mockReaperRepo{}
		cfg := testReaperConfig()
		cfg.Interval = 100 * time.Millisecond

		svc, err := NewReaperService(ReaperServiceOptions{
			Repo:   repo,
			Config: cfg,
		})
		require.NoError(t, err)

		ctx, cancel := context.WithCancel(context.Background())
		done := make(chan error, 1)
		go func() {
			done <- svc.Run(ctx)
		}()

		// Wait long enough for jitter plus the initial sweep.
		time.Sleep(150 * time.Millisecond)
		cancel()

		select {
		case runErr := <-done:
			require.NoError(t, runErr)
		case <-time.After(time.Second):
			t.Fatal("Run did not stop after context cancellation")
		}

		assert.GreaterOrEqual(t, repo.deleteExecutionsCalled, 1)
	})

	t.Run("continues running despite sweep errors", func(t *testing.T) {
		repo := &mockReaperRepo{
			deleteExecutionsError: errors.New("test error"),
		}
		cfg := testReaperConfig()
		cfg.Interval = 50 * time.Millisecond

		svc, err := NewReaperService(ReaperServiceOptions{
			Repo:   repo,
			Config: cfg,
		})
		require.NoError(t, err)

		ctx, cancel := context.WithTimeout(context.Background(), 200*time.Millisecond)
		defer cancel()

		runErr := svc.Run(ctx)

		// Deadline expiry is a failure mode, unlike plain cancellation.
		require.Error(t, runErr)
		require.ErrorIs(t, runErr, context.DeadlineExceeded)
		assert.GreaterOrEqual(t, repo.deleteExecutionsCalled, 2)
	})
}
