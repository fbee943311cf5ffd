package scheduler

import (
	"context"
	"time"

	"github.com/go-co-op/gocron/v2"
	"go.uber.org/zap"
)

// Sweeper retries notification deliveries whose backoff has elapsed.
type Sweeper interface {
	DeliverDue(ctx context.Context) (int, error)
}

type DeliverySweepJob struct {
	sweeper  Sweeper
	interval time.Duration
	log      *zap.Logger
}

func NewDeliverySweepJob(sweeper Sweeper, interval time.Duration, log *zap.Logger) *DeliverySweepJob {
	if interval <= 0 {
		interval = 30 * time.Second
	}
	if log == nil {
		log = zap.NewNop()
	}
	return &DeliverySweepJob{sweeper: sweeper, interval: interval, log: log}
}

func (j *DeliverySweepJob) Name() string {
	return "notification_delivery_sweep"
}

func (j *DeliverySweepJob) Schedule() gocron.JobDefinition {
	return gocron.DurationJob(j.interval)
}

func (j *DeliverySweepJob) Run(ctx context.Context) {
	n, err := j.sweeper.DeliverDue(ctx)
	if err != nil {
		j.log.Error("delivery sweep failed", zap.Error(err))
		return
	}
	if n > 0 {
		j.log.Info("delivery sweep", zap.Int("attempted", n))
	}
}
