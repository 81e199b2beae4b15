package scheduler

import (
	"context"
	"sync"
	"time"

	"github.com/benbjohnson/clock"
	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/trydex/claude-code-viewer/internal/common/logger"
	"github.com/trydex/claude-code-viewer/internal/events"
	"github.com/trydex/claude-code-viewer/internal/events/bus"
	"github.com/trydex/claude-code-viewer/internal/session/lifecycle"
	v1 "github.com/trydex/claude-code-viewer/pkg/api/v1"
)

// Starter starts session processes for fired jobs. Implemented by the
// lifecycle service.
type Starter interface {
	Start(ctx context.Context, req lifecycle.StartRequest) (*v1.SessionProcess, error)
}

// Config holds scheduler settings.
type Config struct {
	// CheckInterval is how often due jobs are evaluated.
	CheckInterval time.Duration
}

// Scheduler evaluates persisted jobs on a fixed interval and fires the due
// ones. A fired job records success or failure of the start; "success" means
// the session process was accepted, not that the turn completed.
type Scheduler struct {
	cfg     Config
	store   Store
	starter Starter
	bus     bus.EventBus
	clock   clock.Clock
	logger  *logger.Logger

	mu       sync.Mutex
	inFlight map[string]bool

	stopCh  chan struct{}
	stopped sync.Once
	wg      sync.WaitGroup
}

// New creates a scheduler. A nil clk uses the wall clock.
func New(cfg Config, store Store, starter Starter, eventBus bus.EventBus, clk clock.Clock, log *logger.Logger) *Scheduler {
	if log == nil {
		log = logger.Default()
	}
	if clk == nil {
		clk = clock.New()
	}
	if cfg.CheckInterval <= 0 {
		cfg.CheckInterval = 30 * time.Second
	}
	return &Scheduler{
		cfg:      cfg,
		store:    store,
		starter:  starter,
		bus:      eventBus,
		clock:    clk,
		logger:   log.WithFields(zap.String("component", "scheduler")),
		inFlight: make(map[string]bool),
		stopCh:   make(chan struct{}),
	}
}

// Run starts the tick loop. The ticker is registered with the clock before
// Run returns, so a caller advancing a mock clock immediately afterwards
// cannot lose the first tick.
func (s *Scheduler) Run() {
	ticker := s.clock.Ticker(s.cfg.CheckInterval)
	s.wg.Add(1)
	go s.loop(ticker)
}

// Stop halts the tick loop and waits for in-flight job runs to finish.
func (s *Scheduler) Stop() {
	s.stopped.Do(func() { close(s.stopCh) })
	s.wg.Wait()
}

func (s *Scheduler) loop(ticker *clock.Ticker) {
	defer s.wg.Done()
	defer ticker.Stop()

	for {
		select {
		case <-s.stopCh:
			return
		case <-ticker.C:
			s.checkDue()
		}
	}
}

func (s *Scheduler) checkDue() {
	ctx := context.Background()
	jobs, err := s.store.List(ctx)
	if err != nil {
		s.logger.Error("failed to list scheduler jobs", zap.Error(err))
		return
	}

	now := s.clock.Now()
	for _, job := range jobs {
		if !job.Due(now) {
			continue
		}
		if !s.claim(job.ID) {
			continue
		}
		s.wg.Add(1)
		go s.fire(job)
	}
}

// claim marks a job as in flight so overlapping ticks cannot fire it twice.
func (s *Scheduler) claim(id string) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.inFlight[id] {
		return false
	}
	s.inFlight[id] = true
	return true
}

func (s *Scheduler) release(id string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.inFlight, id)
}

func (s *Scheduler) fire(job *Job) {
	defer s.wg.Done()
	defer s.release(job.ID)

	ctx := context.Background()
	s.logger.Info("firing scheduler job",
		zap.String("job_id", job.ID),
		zap.String("job_name", job.Name))

	status := RunStatusSuccess
	var processID string
	proc, err := s.starter.Start(ctx, lifecycle.StartRequest{
		ProjectID:     job.ProjectID,
		CWD:           job.CWD,
		Input:         job.Prompt,
		BaseSessionID: job.SessionID,
	})
	if err != nil {
		status = RunStatusFailed
		s.logger.Warn("scheduler job failed to start process",
			zap.String("job_id", job.ID),
			zap.Error(err))
	} else {
		processID = proc.ID
	}

	// The run is recorded whatever the outcome; for a reserved job this is
	// the transition that makes it never fire again.
	if err := s.store.RecordRun(ctx, job.ID, status, s.clock.Now()); err != nil {
		s.logger.Error("failed to record scheduler run",
			zap.String("job_id", job.ID),
			zap.Error(err))
	}

	if s.bus != nil {
		env := events.NewEnvelope(events.SchedulerJobFinished{
			JobID:            job.ID,
			SessionProcessID: processID,
			Status:           status,
		})
		if err := s.bus.Publish(ctx, env); err != nil {
			s.logger.Warn("failed to publish scheduler event", zap.Error(err))
		}
	}
}

// CreateJob validates and persists a new job.
func (s *Scheduler) CreateJob(ctx context.Context, job *Job) (*v1.SchedulerJob, error) {
	if err := job.Validate(); err != nil {
		return nil, err
	}
	if job.ID == "" {
		job.ID = uuid.New().String()
	}
	job.CreatedAt = s.clock.Now().UTC()
	if err := s.store.Create(ctx, job); err != nil {
		return nil, err
	}
	return job.Public(), nil
}

// GetJob returns one job.
func (s *Scheduler) GetJob(ctx context.Context, id string) (*v1.SchedulerJob, error) {
	job, err := s.store.Get(ctx, id)
	if err != nil {
		return nil, err
	}
	return job.Public(), nil
}

// ListJobs returns all jobs.
func (s *Scheduler) ListJobs(ctx context.Context) ([]*v1.SchedulerJob, error) {
	jobs, err := s.store.List(ctx)
	if err != nil {
		return nil, err
	}
	out := make([]*v1.SchedulerJob, 0, len(jobs))
	for _, job := range jobs {
		out = append(out, job.Public())
	}
	return out, nil
}

// SetJobEnabled flips a job's enabled flag.
func (s *Scheduler) SetJobEnabled(ctx context.Context, id string, enabled bool) (*v1.SchedulerJob, error) {
	job, err := s.store.Get(ctx, id)
	if err != nil {
		return nil, err
	}
	job.Enabled = enabled
	if err := s.store.Update(ctx, job); err != nil {
		return nil, err
	}
	return job.Public(), nil
}

// DeleteJob removes a job.
func (s *Scheduler) DeleteJob(ctx context.Context, id string) error {
	return s.store.Delete(ctx, id)
}
