package worker

import (
	"context"
	"errors"
	"math/rand/v2"
	"time"

	"github.com/jmehdipour/cvpay/internal/claim"
	"github.com/jmehdipour/cvpay/internal/metrics"
	"github.com/jmehdipour/cvpay/internal/model"
	"github.com/jmehdipour/cvpay/internal/notify"
	"github.com/jmehdipour/cvpay/internal/repository"
	"github.com/jmehdipour/cvpay/internal/service/webhook"
	"go.uber.org/zap"
)

// ItemProcessor replays one queue item; *webhook.Processor implements it.
type ItemProcessor interface {
	Process(ctx context.Context, item model.QueueItem) (webhook.Outcome, error)
}

const (
	DetailSuccess = "success"
	DetailFailed  = "failed"
	DetailSkipped = "skipped"
)

// Detail is the per-item record of a run.
type Detail struct {
	ID          string            `json:"id"`
	Status      string            `json:"status"`
	Outcome     webhook.Outcome   `json:"outcome,omitempty"`
	QueueStatus model.RetryStatus `json:"queue_status,omitempty"`
	Error       string            `json:"error,omitempty"`
}

// Result summarizes one RunOnce pass.
type Result struct {
	Processed int      `json:"processed"`
	Succeeded int      `json:"succeeded"`
	Failed    int      `json:"failed"`
	Skipped   int      `json:"skipped"`
	Cleaned   int64    `json:"cleaned,omitempty"`
	Details   []Detail `json:"details"`
}

// Retrier pulls due queue items and replays them one by one.
type Retrier struct {
	// Dependencies
	Queue     repository.RetryQueue
	Processor ItemProcessor
	Claimer   claim.Claimer
	Notifier  notify.DeadLetterNotifier
	Log       *zap.Logger

	// Behavior
	BatchSize     int           // items per pass
	ClaimTTL      time.Duration // lease per item
	Interval      time.Duration // Run tick
	CleanupDays   int           // retention window for piggyback cleanup
	CleanupChance float64       // probability of cleanup per non-empty pass
	Rand          func() float64
	Trigger       string // metrics label
}

// NewRetrier builds a retrier with sane defaults and no lease or notifier.
func NewRetrier(queue repository.RetryQueue, proc ItemProcessor, log *zap.Logger) *Retrier {
	return &Retrier{
		Queue:         queue,
		Processor:     proc,
		Claimer:       claim.Nop{},
		Notifier:      notify.Nop{},
		Log:           log,
		BatchSize:     10,
		ClaimTTL:      2 * time.Minute,
		Interval:      time.Minute,
		CleanupDays:   30,
		CleanupChance: 0.01,
		Rand:          rand.Float64,
		Trigger:       "worker",
	}
}

func (w *Retrier) defaults() {
	if w.Log == nil {
		w.Log = zap.NewNop()
	}
	if w.Claimer == nil {
		w.Claimer = claim.Nop{}
	}
	if w.Notifier == nil {
		w.Notifier = notify.Nop{}
	}
	if w.BatchSize <= 0 {
		w.BatchSize = 10
	}
	if w.ClaimTTL <= 0 {
		w.ClaimTTL = 2 * time.Minute
	}
	if w.Interval <= 0 {
		w.Interval = time.Minute
	}
	if w.CleanupDays <= 0 {
		w.CleanupDays = 30
	}
	if w.Rand == nil {
		w.Rand = rand.Float64
	}
	if w.Trigger == "" {
		w.Trigger = "worker"
	}
}

// RunOnce processes at most BatchSize due items. Only a failure to fetch the
// batch is returned as an error; per-item failures land in the result.
func (w *Retrier) RunOnce(ctx context.Context) (Result, error) {
	w.defaults()
	res := Result{Details: []Detail{}}

	items, err := w.Queue.GetPending(ctx, w.BatchSize)
	if err != nil {
		return res, err
	}
	metrics.RetryRuns.WithLabelValues(w.Trigger).Inc()
	if len(items) == 0 {
		return res, nil
	}

	for _, it := range items {
		if ctx.Err() != nil {
			break
		}
		d := w.handle(ctx, it)
		res.Details = append(res.Details, d)
		switch d.Status {
		case DetailSuccess:
			res.Processed++
			res.Succeeded++
		case DetailFailed:
			res.Processed++
			res.Failed++
		case DetailSkipped:
			res.Skipped++
		}
	}

	if w.CleanupChance > 0 && w.Rand() < w.CleanupChance {
		n, err := w.Queue.Cleanup(ctx, w.CleanupDays)
		if err != nil {
			w.Log.Warn("retry queue cleanup failed", zap.Error(err))
		} else {
			res.Cleaned = n
			metrics.CleanupDeleted.Add(float64(n))
			w.Log.Info("retry queue cleanup", zap.Int64("deleted", n), zap.Int("days_old", w.CleanupDays))
		}
	}

	w.Log.Info("retry pass finished",
		zap.Int("processed", res.Processed),
		zap.Int("succeeded", res.Succeeded),
		zap.Int("failed", res.Failed),
		zap.Int("skipped", res.Skipped),
	)
	return res, nil
}

func (w *Retrier) handle(ctx context.Context, it model.QueueItem) Detail {
	provider := "unknown"
	if it.WebhookType.Valid() {
		provider = it.WebhookType.String()
	}
	log := w.Log.With(zap.String("queue_item_id", it.ID), zap.String("provider", provider))

	ok, err := w.Claimer.Claim(ctx, it.ID, w.ClaimTTL)
	switch {
	case err != nil:
		log.Warn("claim unavailable, processing without lease", zap.Error(err))
	case !ok:
		metrics.RetryOutcomes.WithLabelValues(provider, DetailSkipped).Inc()
		return Detail{ID: it.ID, Status: DetailSkipped}
	default:
		defer func() {
			if err := w.Claimer.Release(context.WithoutCancel(ctx), it.ID); err != nil {
				log.Warn("claim release failed", zap.Error(err))
			}
		}()
	}

	outcome, perr := w.Processor.Process(ctx, it)
	if perr == nil {
		d := Detail{ID: it.ID, Status: DetailSuccess, Outcome: outcome, QueueStatus: model.RetryCompleted}
		if err := w.Queue.Complete(ctx, it.ID); err != nil {
			log.Error("complete retry failed", zap.Error(err))
			d.QueueStatus = it.Status
			d.Error = "complete: " + err.Error()
		}
		metrics.RetryOutcomes.WithLabelValues(provider, outcome.String()).Inc()
		return d
	}

	msg := perr.Error()
	d := Detail{ID: it.ID, Status: DetailFailed, Error: msg}
	status, moved, err := w.Queue.Fail(ctx, it.ID, msg)
	if err != nil {
		log.Error("fail retry failed", zap.Error(err), zap.NamedError("cause", perr))
		d.QueueStatus = it.Status
		metrics.RetryOutcomes.WithLabelValues(provider, DetailFailed).Inc()
		return d
	}
	d.QueueStatus = status

	if !moved {
		// another run already settled this item and owns its dead letter
		log.Info("retry item no longer pending", zap.String("status", status.String()), zap.Error(perr))
		metrics.RetryOutcomes.WithLabelValues(provider, DetailFailed).Inc()
		return d
	}

	if status != model.RetryPermanentlyFailed {
		log.Warn("retry attempt failed",
			zap.String("kind", webhook.Kind(perr)),
			zap.Int("attempt", it.AttemptCount+1),
			zap.Error(perr),
		)
		metrics.RetryOutcomes.WithLabelValues(provider, DetailFailed).Inc()
		return d
	}

	log.Error("retry permanently failed", zap.Int("attempts", it.AttemptCount+1), zap.Error(perr))
	metrics.RetryOutcomes.WithLabelValues(provider, string(model.RetryPermanentlyFailed)).Inc()
	if err := w.Notifier.PermanentlyFailed(ctx, it, msg); err != nil {
		metrics.DeadLetters.WithLabelValues("error").Inc()
		log.Error("dead-letter publish failed", zap.Error(err))
	} else {
		metrics.DeadLetters.WithLabelValues("published").Inc()
	}
	return d
}

// Run calls RunOnce every Interval until ctx is cancelled.
func (w *Retrier) Run(ctx context.Context) error {
	w.defaults()
	if w.Queue == nil || w.Processor == nil {
		return errors.New("retrier: queue and processor are required")
	}

	t := time.NewTicker(w.Interval)
	defer t.Stop()
	for {
		if _, err := w.RunOnce(ctx); err != nil && ctx.Err() == nil {
			w.Log.Error("retry pass failed", zap.Error(err))
		}
		select {
		case <-ctx.Done():
			return nil
		case <-t.C:
		}
	}
}
