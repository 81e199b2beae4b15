package scheduler

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/benbjohnson/clock"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	apperrors "github.com/trydex/claude-code-viewer/internal/common/errors"
	"github.com/trydex/claude-code-viewer/internal/events"
	eventbus "github.com/trydex/claude-code-viewer/internal/events/bus"
	"github.com/trydex/claude-code-viewer/internal/session/lifecycle"
	v1 "github.com/trydex/claude-code-viewer/pkg/api/v1"
)

type fakeStarter struct {
	mu       sync.Mutex
	requests []lifecycle.StartRequest
	err      error
}

func (f *fakeStarter) Start(_ context.Context, req lifecycle.StartRequest) (*v1.SessionProcess, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.err != nil {
		return nil, f.err
	}
	f.requests = append(f.requests, req)
	return &v1.SessionProcess{ID: "sp-1", State: v1.StateStarting}, nil
}

func (f *fakeStarter) count() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return len(f.requests)
}

func intervalJob(id string, seconds int) *Job {
	return &Job{
		ID:              id,
		Name:            "nightly sweep",
		ScheduleType:    ScheduleInterval,
		IntervalSeconds: seconds,
		ProjectID:       "proj-1",
		CWD:             "/tmp/proj",
		Prompt:          "run the sweep",
		Enabled:         true,
	}
}

func reservedJob(id string, at time.Time) *Job {
	return &Job{
		ID:           id,
		Name:         "one shot",
		ScheduleType: ScheduleReserved,
		At:           &at,
		ProjectID:    "proj-1",
		CWD:          "/tmp/proj",
		Prompt:       "do it once",
		Enabled:      true,
	}
}

func waitForCount(t *testing.T, starter *fakeStarter, want int) {
	t.Helper()
	deadline := time.After(3 * time.Second)
	for starter.count() < want {
		select {
		case <-deadline:
			t.Fatalf("timed out waiting for %d starts, have %d", want, starter.count())
		case <-time.After(5 * time.Millisecond):
		}
	}
}

func newTestScheduler(t *testing.T, store Store, starter Starter, clk clock.Clock) (*Scheduler, eventbus.EventBus) {
	t.Helper()
	b := eventbus.NewMemoryEventBus(nil)
	t.Cleanup(func() { _ = b.Close() })
	s := New(Config{CheckInterval: time.Second}, store, starter, b, clk, nil)
	return s, b
}

func TestReservedJobFiresExactlyOnce(t *testing.T) {
	mock := clock.NewMock()
	store := NewMemoryStore()
	starter := &fakeStarter{}
	s, _ := newTestScheduler(t, store, starter, mock)

	job := reservedJob("job-1", mock.Now().Add(2*time.Second))
	require.NoError(t, store.Create(context.Background(), job))

	s.Run()
	defer s.Stop()

	// Before the reserved time: nothing fires.
	mock.Add(time.Second)
	assert.Equal(t, 0, starter.count())

	// Past the reserved time: fires once.
	mock.Add(2 * time.Second)
	waitForCount(t, starter, 1)

	// Many more ticks: still exactly one run.
	for i := 0; i < 5; i++ {
		mock.Add(time.Second)
	}
	time.Sleep(50 * time.Millisecond)
	assert.Equal(t, 1, starter.count())

	stored, err := store.Get(context.Background(), "job-1")
	require.NoError(t, err)
	require.NotNil(t, stored.LastRunStatus)
	assert.Equal(t, RunStatusSuccess, *stored.LastRunStatus)
}

func TestIntervalJobRepeats(t *testing.T) {
	mock := clock.NewMock()
	store := NewMemoryStore()
	starter := &fakeStarter{}
	s, _ := newTestScheduler(t, store, starter, mock)

	require.NoError(t, store.Create(context.Background(), intervalJob("job-1", 10)))

	s.Run()
	defer s.Stop()

	// First tick: never ran, due immediately.
	mock.Add(time.Second)
	waitForCount(t, starter, 1)

	// Interval not yet elapsed.
	mock.Add(5 * time.Second)
	time.Sleep(50 * time.Millisecond)
	assert.Equal(t, 1, starter.count())

	// Interval elapsed.
	mock.Add(6 * time.Second)
	waitForCount(t, starter, 2)
}

func TestDisabledJobNeverFires(t *testing.T) {
	mock := clock.NewMock()
	store := NewMemoryStore()
	starter := &fakeStarter{}
	s, _ := newTestScheduler(t, store, starter, mock)

	job := intervalJob("job-1", 1)
	job.Enabled = false
	require.NoError(t, store.Create(context.Background(), job))

	s.Run()
	defer s.Stop()

	mock.Add(5 * time.Second)
	time.Sleep(50 * time.Millisecond)
	assert.Equal(t, 0, starter.count())
}

func TestFailedStartRecordsFailure(t *testing.T) {
	mock := clock.NewMock()
	store := NewMemoryStore()
	starter := &fakeStarter{err: apperrors.UpstreamUnavailable("engine down", nil)}
	s, b := newTestScheduler(t, store, starter, mock)

	finished := make(chan events.SchedulerJobFinished, 1)
	_, err := b.Subscribe(events.KindSchedulerJobFinished, func(_ context.Context, env *events.Envelope) error {
		finished <- env.Payload.(events.SchedulerJobFinished)
		return nil
	})
	require.NoError(t, err)

	require.NoError(t, store.Create(context.Background(), reservedJob("job-1", mock.Now())))

	s.Run()
	defer s.Stop()

	mock.Add(time.Second)

	select {
	case ev := <-finished:
		assert.Equal(t, "job-1", ev.JobID)
		assert.Equal(t, RunStatusFailed, ev.Status)
	case <-time.After(3 * time.Second):
		t.Fatal("timed out waiting for scheduler.job.finished event")
	}

	stored, err := store.Get(context.Background(), "job-1")
	require.NoError(t, err)
	require.NotNil(t, stored.LastRunStatus)
	assert.Equal(t, RunStatusFailed, *stored.LastRunStatus)
}

func TestJobFiresWithSessionResume(t *testing.T) {
	mock := clock.NewMock()
	store := NewMemoryStore()
	starter := &fakeStarter{}
	s, _ := newTestScheduler(t, store, starter, mock)

	job := reservedJob("job-1", mock.Now())
	job.SessionID = "sess-9"
	require.NoError(t, store.Create(context.Background(), job))

	s.Run()
	defer s.Stop()

	mock.Add(time.Second)
	waitForCount(t, starter, 1)

	starter.mu.Lock()
	defer starter.mu.Unlock()
	assert.Equal(t, "sess-9", starter.requests[0].BaseSessionID)
	assert.Equal(t, "do it once", starter.requests[0].Input)
}

func TestCreateJobValidates(t *testing.T) {
	s, _ := newTestScheduler(t, NewMemoryStore(), &fakeStarter{}, clock.NewMock())

	_, err := s.CreateJob(context.Background(), &Job{Name: "bad"})
	require.Error(t, err)
	assert.Equal(t, apperrors.ErrCodeInvalidInput, apperrors.Code(err))

	job := intervalJob("", 60)
	created, err := s.CreateJob(context.Background(), job)
	require.NoError(t, err)
	assert.NotEmpty(t, created.ID)
}

func TestSetJobEnabled(t *testing.T) {
	store := NewMemoryStore()
	s, _ := newTestScheduler(t, store, &fakeStarter{}, clock.NewMock())

	require.NoError(t, store.Create(context.Background(), intervalJob("job-1", 60)))

	updated, err := s.SetJobEnabled(context.Background(), "job-1", false)
	require.NoError(t, err)
	assert.False(t, updated.Enabled)

	_, err = s.SetJobEnabled(context.Background(), "missing", true)
	assert.True(t, apperrors.IsNotFound(err))
}

func TestJobDue(t *testing.T) {
	now := time.Date(2026, 5, 1, 12, 0, 0, 0, time.UTC)

	at := now.Add(-time.Minute)
	reserved := reservedJob("r", at)
	assert.True(t, reserved.Due(now))

	status := RunStatusSuccess
	reserved.LastRunStatus = &status
	assert.False(t, reserved.Due(now), "a reserved job with a recorded run is never due again")

	interval := intervalJob("i", 60)
	assert.True(t, interval.Due(now), "interval job that never ran is due")

	last := now.Add(-30 * time.Second)
	interval.LastRunAt = &last
	assert.False(t, interval.Due(now))

	last = now.Add(-61 * time.Second)
	interval.LastRunAt = &last
	assert.True(t, interval.Due(now))
}
