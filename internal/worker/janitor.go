package worker

import (
	"context"
	"time"

	"github.com/jmehdipour/cvpay/internal/metrics"
	"github.com/jmehdipour/cvpay/internal/repository"
	"go.uber.org/zap"
)

// Janitor deletes retry queue rows older than Days on its own schedule.
type Janitor struct {
	Queue    repository.RetryQueue
	Log      *zap.Logger
	Days     int
	Interval time.Duration
}

func NewJanitor(queue repository.RetryQueue, log *zap.Logger, days int, interval time.Duration) *Janitor {
	if log == nil {
		log = zap.NewNop()
	}
	if days <= 0 {
		days = 30
	}
	if interval <= 0 {
		interval = 24 * time.Hour
	}
	return &Janitor{Queue: queue, Log: log, Days: days, Interval: interval}
}

func (j *Janitor) RunOnce(ctx context.Context) (int64, error) {
	n, err := j.Queue.Cleanup(ctx, j.Days)
	if err != nil {
		return 0, err
	}
	metrics.CleanupDeleted.Add(float64(n))
	j.Log.Info("retry queue cleanup", zap.Int64("deleted", n), zap.Int("days_old", j.Days))
	return n, nil
}

// Run cleans once at start and then every Interval until ctx is cancelled.
func (j *Janitor) Run(ctx context.Context) error {
	t := time.NewTicker(j.Interval)
	defer t.Stop()
	for {
		if _, err := j.RunOnce(ctx); err != nil && ctx.Err() == nil {
			j.Log.Error("retry queue cleanup failed", zap.Error(err))
		}
		select {
		case <-ctx.Done():
			return nil
		case <-t.C:
		}
	}
}
