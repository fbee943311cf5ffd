// Package scheduler runs periodic background jobs.
package scheduler

import (
	"context"

	"github.com/go-co-op/gocron/v2"
	"go.uber.org/zap"
)

// Job is a unit of periodic work.
type Job interface {
	Name() string
	Schedule() gocron.JobDefinition
	Run(ctx context.Context)
}

type Manager struct {
	scheduler gocron.Scheduler
	log       *zap.Logger
	ctx       context.Context
	cancel    context.CancelFunc
}

func NewManager(log *zap.Logger, opts ...gocron.SchedulerOption) (*Manager, error) {
	if log == nil {
		log = zap.NewNop()
	}
	s, err := gocron.NewScheduler(opts...)
	if err != nil {
		return nil, err
	}
	ctx, cancel := context.WithCancel(context.Background())
	return &Manager{scheduler: s, log: log.Named("scheduler"), ctx: ctx, cancel: cancel}, nil
}

// Register adds a job. A run that overlaps the previous one is skipped.
func (m *Manager) Register(job Job) error {
	_, err := m.scheduler.NewJob(
		job.Schedule(),
		gocron.NewTask(func() { job.Run(m.ctx) }),
		gocron.WithName(job.Name()),
		gocron.WithSingletonMode(gocron.LimitModeReschedule),
	)
	if err != nil {
		m.log.Error("register job failed", zap.String("job", job.Name()), zap.Error(err))
		return err
	}
	return nil
}

func (m *Manager) Start() {
	m.scheduler.Start()
	m.log.Info("scheduler started", zap.Int("jobs", len(m.scheduler.Jobs())))
}

func (m *Manager) Stop() {
	m.cancel()
	if err := m.scheduler.Shutdown(); err != nil {
		m.log.Warn("scheduler shutdown", zap.Error(err))
	}
	m.log.Info("scheduler stopped")
}
