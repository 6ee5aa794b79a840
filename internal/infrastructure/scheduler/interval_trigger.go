package scheduler

import (
	"context"
	"sync"
	"time"

	"github.com/billing/backend/internal/infrastructure/config"
	"go.uber.org/zap"
)

// TriggerSpec binds a job type to its firing interval and batch limit
type TriggerSpec struct {
	Type       JobType
	Interval   time.Duration
	BatchLimit int
}

// IntervalTrigger submits billing jobs to the scheduler on fixed
// intervals. Each job type runs on its own ticker; a missed or failed
// run is picked up by the next one because the passes are idempotent.
type IntervalTrigger struct {
	specs     []TriggerSpec
	scheduler *Scheduler
	logger    *zap.Logger

	cancel    context.CancelFunc
	wg        sync.WaitGroup
	mu        sync.Mutex
	isRunning bool
}

// NewIntervalTrigger creates a trigger with explicit specs
func NewIntervalTrigger(specs []TriggerSpec, scheduler *Scheduler, logger *zap.Logger) *IntervalTrigger {
	return &IntervalTrigger{
		specs:     specs,
		scheduler: scheduler,
		logger:    logger,
	}
}

// NewIntervalTriggerFromConfig builds the standard billing trigger set
// from scheduler configuration
func NewIntervalTriggerFromConfig(cfg config.SchedulerConfig, scheduler *Scheduler, logger *zap.Logger) *IntervalTrigger {
	specs := []TriggerSpec{
		{Type: JobTypeOverdueSweep, Interval: cfg.OverdueSweepInterval, BatchLimit: cfg.SweepBatchLimit},
		{Type: JobTypeReminderSweep, Interval: cfg.ReminderSweepInterval, BatchLimit: cfg.SweepBatchLimit},
		{Type: JobTypeRecurringGeneration, Interval: cfg.RecurringGenInterval, BatchLimit: cfg.RecurringBatchLimit},
	}
	return NewIntervalTrigger(specs, scheduler, logger)
}

// Start starts the trigger loops. Every job type fires once at startup
// so a restart does not delay overdue transitions by a full interval.
func (t *IntervalTrigger) Start(ctx context.Context) error {
	for _, spec := range t.specs {
		if spec.Interval <= 0 {
			return ErrInvalidConfig
		}
	}

	t.mu.Lock()
	if t.isRunning {
		t.mu.Unlock()
		return nil
	}
	t.isRunning = true
	t.mu.Unlock()

	ctx, cancel := context.WithCancel(ctx)
	t.cancel = cancel

	for _, spec := range t.specs {
		t.wg.Add(1)
		go t.runLoop(ctx, spec)
	}

	t.logger.Info("Interval trigger started",
		zap.Int("job_types", len(t.specs)),
	)

	return nil
}

// Stop stops the trigger
func (t *IntervalTrigger) Stop(ctx context.Context) error {
	t.mu.Lock()
	if !t.isRunning {
		t.mu.Unlock()
		return nil
	}
	t.isRunning = false
	t.mu.Unlock()

	if t.cancel != nil {
		t.cancel()
	}

	done := make(chan struct{})
	go func() {
		t.wg.Wait()
		close(done)
	}()

	select {
	case <-done:
		t.logger.Info("Interval trigger stopped")
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

// TriggerNow submits a job immediately, outside the regular interval
func (t *IntervalTrigger) TriggerNow(jobType JobType, batchLimit int) error {
	return t.scheduler.ScheduleJob(jobType, batchLimit)
}

// runLoop fires one job type on its interval
func (t *IntervalTrigger) runLoop(ctx context.Context, spec TriggerSpec) {
	defer t.wg.Done()

	t.fire(spec)

	ticker := time.NewTicker(spec.Interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			t.fire(spec)
		}
	}
}

func (t *IntervalTrigger) fire(spec TriggerSpec) {
	if err := t.scheduler.ScheduleJob(spec.Type, spec.BatchLimit); err != nil {
		t.logger.Error("Failed to schedule job",
			zap.String("job_type", string(spec.Type)),
			zap.Error(err),
		)
	}
}
