package notifications_test

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/jonboulle/clockwork"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/climaguard/alerts/internal/apperr"
	"github.com/climaguard/alerts/internal/geo"
	"github.com/climaguard/alerts/internal/notifications"
	"github.com/climaguard/alerts/internal/observability"
)

var (
	kolkata = geo.Point{Lat: 22.57, Lng: 88.36}
	puri    = geo.Point{Lat: 19.81, Lng: 85.83}
)

type staticLocations struct {
	points []geo.Point
	err    error
	limit  int
}

func (s *staticLocations) DistinctLocations(_ context.Context, limit int) ([]geo.Point, error) {
	s.limit = limit
	return s.points, s.err
}

// scriptedProcessor returns a canned result per location and records order.
type scriptedProcessor struct {
	mu      sync.Mutex
	seen    []geo.Point
	ctxErrs []error
	fn      func(ctx context.Context, p geo.Point) (notifications.LocationResult, error)
}

func (s *scriptedProcessor) ProcessLocation(ctx context.Context, p geo.Point) (notifications.LocationResult, error) {
	s.mu.Lock()
	s.seen = append(s.seen, p)
	s.mu.Unlock()
	if s.fn != nil {
		res, err := s.fn(ctx, p)
		s.mu.Lock()
		s.ctxErrs = append(s.ctxErrs, ctx.Err())
		s.mu.Unlock()
		return res, err
	}
	return notifications.LocationResult{Location: p}, nil
}

func (s *scriptedProcessor) visited() []geo.Point {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]geo.Point(nil), s.seen...)
}

func newScheduler(locs notifications.LocationSource, proc notifications.LocationProcessor, cfg notifications.SchedulerConfig, clock clockwork.Clock, m *observability.Metrics) *notifications.Scheduler {
	return notifications.NewScheduler(locs, proc, cfg, clock, m, observability.DiscardLogger())
}

func TestTick_ProviderErrorDoesNotStopPass(t *testing.T) {
	metrics := observability.NewMetricsForTesting()
	locs := &staticLocations{points: []geo.Point{digha, kolkata, puri}}
	proc := &scriptedProcessor{fn: func(_ context.Context, p geo.Point) (notifications.LocationResult, error) {
		if p == digha {
			return notifications.LocationResult{}, apperr.NewProvider("weather API returned 503")
		}
		if p == kolkata {
			return notifications.LocationResult{Candidates: 1, Dispatches: []notifications.DispatchResult{{Total: 2, Successful: 2}}}, nil
		}
		return notifications.LocationResult{}, nil
	}}

	s := newScheduler(locs, proc, notifications.SchedulerConfig{MaxLocations: 50}, clockwork.NewFakeClock(), metrics)
	res, err := s.Tick(context.Background())
	require.NoError(t, err)

	assert.Equal(t, []geo.Point{digha, kolkata, puri}, proc.visited())
	assert.Equal(t, 3, res.Locations)
	assert.Equal(t, 2, res.Succeeded)
	assert.Equal(t, 1, res.Failed)
	assert.Equal(t, 1, res.Candidates)
	assert.Equal(t, 1, res.Alerts)
	assert.Equal(t, 2, res.Notified)
	assert.False(t, res.Interrupted)
	assert.Equal(t, 50, locs.limit)

	assert.Equal(t, 1.0, testutil.ToFloat64(metrics.LocationsEvaluated.WithLabelValues("provider_error")))
	assert.Equal(t, 2.0, testutil.ToFloat64(metrics.LocationsEvaluated.WithLabelValues("ok")))
	assert.Equal(t, 1.0, testutil.ToFloat64(metrics.SchedulerTicks))
}

func TestTick_PanicInLocationIsContained(t *testing.T) {
	proc := &scriptedProcessor{fn: func(_ context.Context, p geo.Point) (notifications.LocationResult, error) {
		if p == digha {
			panic("unexpected nil reading")
		}
		return notifications.LocationResult{}, nil
	}}
	s := newScheduler(&staticLocations{points: []geo.Point{digha, kolkata}}, proc, notifications.SchedulerConfig{}, clockwork.NewFakeClock(), nil)

	res, err := s.Tick(context.Background())
	require.NoError(t, err)
	assert.Equal(t, 1, res.Failed)
	assert.Equal(t, 1, res.Succeeded)
}

func TestTick_ListFailure(t *testing.T) {
	s := newScheduler(&staticLocations{err: apperr.Storage("distinct locations", errors.New("conn refused"))},
		&scriptedProcessor{}, notifications.SchedulerConfig{}, clockwork.NewFakeClock(), nil)

	_, err := s.Tick(context.Background())
	require.Error(t, err)
	assert.True(t, apperr.IsStorage(err))
}

func TestTick_WaitsBetweenLocations(t *testing.T) {
	clock := clockwork.NewFakeClock()
	proc := &scriptedProcessor{}
	s := newScheduler(&staticLocations{points: []geo.Point{digha, kolkata}}, proc,
		notifications.SchedulerConfig{LocationDelay: time.Second}, clock, nil)

	done := make(chan notifications.TickResult, 1)
	go func() {
		res, _ := s.Tick(context.Background())
		done <- res
	}()

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	require.NoError(t, clock.BlockUntilContext(ctx, 1))
	assert.Equal(t, []geo.Point{digha}, proc.visited(), "second location waits for the delay")

	clock.Advance(time.Second)
	select {
	case res := <-done:
		assert.Equal(t, 2, res.Succeeded)
	case <-ctx.Done():
		t.Fatal("tick did not finish after the delay elapsed")
	}
}

func TestTick_ShutdownLetsLocationFinish(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	proc := &scriptedProcessor{fn: func(locCtx context.Context, p geo.Point) (notifications.LocationResult, error) {
		if p == digha {
			cancel()
		}
		return notifications.LocationResult{}, nil
	}}
	s := newScheduler(&staticLocations{points: []geo.Point{digha, kolkata}}, proc,
		notifications.SchedulerConfig{}, clockwork.NewFakeClock(), nil)

	res, err := s.Tick(ctx)
	require.NoError(t, err)

	assert.True(t, res.Interrupted)
	assert.Equal(t, 1, res.Succeeded)
	assert.Equal(t, []geo.Point{digha}, proc.visited())
	assert.Equal(t, []error{nil}, proc.ctxErrs, "in-flight location is not cancelled with the tick")
}

func TestTick_RejectsOverlap(t *testing.T) {
	release := make(chan struct{})
	entered := make(chan struct{})
	proc := &scriptedProcessor{fn: func(context.Context, geo.Point) (notifications.LocationResult, error) {
		close(entered)
		<-release
		return notifications.LocationResult{}, nil
	}}
	s := newScheduler(&staticLocations{points: []geo.Point{digha}}, proc,
		notifications.SchedulerConfig{}, clockwork.NewFakeClock(), nil)

	go func() { _, _ = s.Tick(context.Background()) }()
	<-entered

	_, err := s.Tick(context.Background())
	assert.ErrorIs(t, err, notifications.ErrTickInProgress)
	close(release)
}

func TestStart_RunsOnStartAndStops(t *testing.T) {
	clock := clockwork.NewFakeClock()
	ticked := make(chan struct{}, 4)
	proc := &scriptedProcessor{fn: func(context.Context, geo.Point) (notifications.LocationResult, error) {
		ticked <- struct{}{}
		return notifications.LocationResult{}, nil
	}}
	metrics := observability.NewMetricsForTesting()
	s := newScheduler(&staticLocations{points: []geo.Point{digha}}, proc,
		notifications.SchedulerConfig{Interval: 30 * time.Minute, RunOnStart: true}, clock, metrics)

	h := s.Start(context.Background())
	waitTick(t, ticked)

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	require.NoError(t, clock.BlockUntilContext(ctx, 1))
	clock.Advance(30 * time.Minute)
	waitTick(t, ticked)

	require.NoError(t, h.Stop(ctx))
	select {
	case <-h.Done():
	default:
		t.Fatal("Done not closed after Stop")
	}
	assert.Equal(t, 0.0, testutil.ToFloat64(metrics.SchedulerRunning))
}

func waitTick(t *testing.T, ticked <-chan struct{}) {
	t.Helper()
	select {
	case <-ticked:
	case <-time.After(5 * time.Second):
		t.Fatal("scheduler did not tick")
	}
}
