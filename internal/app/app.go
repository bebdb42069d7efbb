// Package app wires configuration into the stores, leases and notifiers the
// commands share.
package app

import (
	"context"
	"errors"
	"fmt"
	"os"
	"time"

	"github.com/jmehdipour/cvpay/internal/claim"
	"github.com/jmehdipour/cvpay/internal/config"
	"github.com/jmehdipour/cvpay/internal/db"
	"github.com/jmehdipour/cvpay/internal/kafka"
	"github.com/jmehdipour/cvpay/internal/model"
	"github.com/jmehdipour/cvpay/internal/notify"
	"github.com/jmehdipour/cvpay/internal/repository"
	"github.com/jmehdipour/cvpay/internal/service/webhook"
	"github.com/jmehdipour/cvpay/internal/util"
	"github.com/jmehdipour/cvpay/internal/worker"
	"github.com/jmoiron/sqlx"
	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"
)

// DemoPlans are the plans seeded by the seed command and accepted by the
// in-memory store.
var DemoPlans = []model.Plan{
	{Code: "basic_monthly", Name: "Basic (monthly)", AnalysesPerPeriod: 10, Active: true},
	{Code: "pro_monthly", Name: "Pro (monthly)", AnalysesPerPeriod: 50, Active: true},
	{Code: "pro_yearly", Name: "Pro (yearly)", AnalysesPerPeriod: 600, Active: true},
}

// App holds the opened backends. Optional ones are nil when disabled.
type App struct {
	Cfg config.Config
	Log *zap.Logger

	MySQL      *sqlx.DB
	ClickHouse *sqlx.DB
	Redis      *redis.Client

	Queue    repository.RetryQueue
	Ledger   repository.Ledger
	Reports  repository.CHPaymentEventsRepository
	Claimer  claim.Claimer
	Notifier notify.DeadLetterNotifier

	producer *kafka.Producer
}

// New opens every backend the config enables.
func New(cfg config.Config, log *zap.Logger) (*App, error) {
	if log == nil {
		log = zap.NewNop()
	}
	a := &App{Cfg: cfg, Log: log, Claimer: claim.Nop{}, Notifier: notify.Nop{}}

	switch cfg.Storage.Driver {
	case "memory":
		codes := make([]string, 0, len(DemoPlans))
		for _, p := range DemoPlans {
			codes = append(codes, p.Code)
		}
		mem := repository.NewMemoryStore(codes...)
		a.Queue, a.Ledger = mem, mem
		log.Warn("using in-memory storage, state is lost on exit")
	case "mysql", "":
		my, err := db.OpenMySQL(cfg.MySQL)
		if err != nil {
			return nil, fmt.Errorf("mysql connect: %w", err)
		}
		a.MySQL = my
		a.Queue = repository.NewRetryQueueRepository(my)
		a.Ledger = repository.NewLedgerRepository(my)
	default:
		return nil, fmt.Errorf("unknown storage driver %q", cfg.Storage.Driver)
	}

	if cfg.ClickHouse.Enabled {
		ch, err := db.OpenClickHouse(cfg.ClickHouse)
		if err != nil {
			_ = a.Close()
			return nil, fmt.Errorf("clickhouse connect: %w", err)
		}
		a.ClickHouse = ch
		a.Reports = repository.NewCHPaymentEventsRepository(ch)
	}

	if cfg.Redis.Enabled {
		rdb, err := db.OpenRedis(cfg.Redis)
		if err != nil {
			_ = a.Close()
			return nil, fmt.Errorf("redis connect: %w", err)
		}
		a.Redis = rdb
		a.Claimer = claim.NewGuarded(
			claim.NewRedisClaimer(rdb, "", claimToken()),
			claim.NewBreaker(3, 30*time.Second),
		)
	}

	if cfg.Kafka.Enabled {
		if len(cfg.Kafka.Brokers) == 0 || cfg.Kafka.DeadLetterTopic == "" {
			_ = a.Close()
			return nil, errors.New("kafka enabled without brokers or dead_letter_topic")
		}
		a.producer = kafka.NewProducerFromConfig(kafka.Config{
			Brokers:      cfg.Kafka.Brokers,
			Topic:        cfg.Kafka.DeadLetterTopic,
			WriteTimeout: cfg.Kafka.WriteTimeout,
		})
		a.Notifier = notify.NewKafkaNotifier(a.producer)
	}
	return a, nil
}

// claimToken identifies this process as a lease holder.
func claimToken() string {
	host, _ := os.Hostname()
	return fmt.Sprintf("%s:%d:%s", host, os.Getpid(), util.New())
}

// Processor builds the webhook processor over the ledger.
func (a *App) Processor() *webhook.Processor {
	return webhook.New(a.Ledger, a.Log.Named("webhook"), a.Cfg.Credits.OneTimeAnalyses)
}

// Retrier builds a retry runner labelled with trigger for metrics.
func (a *App) Retrier(trigger string) *worker.Retrier {
	r := worker.NewRetrier(a.Queue, a.Processor(), a.Log.Named("retrier"))
	r.Claimer = a.Claimer
	r.Notifier = a.Notifier
	r.BatchSize = a.Cfg.Retry.BatchSize
	r.ClaimTTL = a.Cfg.Retry.ClaimTTL
	r.Interval = a.Cfg.Retry.Interval
	r.CleanupDays = a.Cfg.Retry.CleanupDays
	r.CleanupChance = a.Cfg.Retry.CleanupChance
	r.Trigger = trigger
	return r
}

// Janitor builds the scheduled cleanup worker.
func (a *App) Janitor() *worker.Janitor {
	return worker.NewJanitor(a.Queue, a.Log.Named("janitor"), a.Cfg.Retry.CleanupDays, a.Cfg.Retry.CleanupInterval)
}

// Ping checks the backends that are open.
func (a *App) Ping(ctx context.Context) error {
	var errs []error
	if a.MySQL != nil {
		errs = append(errs, a.MySQL.PingContext(ctx))
	}
	if a.Redis != nil {
		errs = append(errs, a.Redis.Ping(ctx).Err())
	}
	return errors.Join(errs...)
}

func (a *App) Close() error {
	var errs []error
	if a.producer != nil {
		errs = append(errs, a.producer.Close())
	}
	if a.Redis != nil {
		errs = append(errs, a.Redis.Close())
	}
	if a.ClickHouse != nil {
		errs = append(errs, a.ClickHouse.Close())
	}
	if a.MySQL != nil {
		errs = append(errs, a.MySQL.Close())
	}
	return errors.Join(errs...)
}
