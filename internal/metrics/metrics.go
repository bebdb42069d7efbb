package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
)

var (
	RetryOutcomes = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "cvpay_webhook_retries_total",
			Help: "Webhook retry attempts by provider and result",
		},
		[]string{"provider", "result"}, // applied|not_yet_successful|already_processed|failed|permanently_failed|skipped
	)

	RetryRuns = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "cvpay_webhook_retry_runs_total",
			Help: "Retry runner passes by trigger",
		},
		[]string{"trigger"}, // http|worker|cli
	)

	CleanupDeleted = prometheus.NewCounter(
		prometheus.CounterOpts{
			Name: "cvpay_webhook_retry_cleanup_deleted_total",
			Help: "Retry queue rows removed by age-based cleanup",
		},
	)

	DeadLetters = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "cvpay_webhook_dead_letters_total",
			Help: "Permanently failed items handed to the dead-letter notifier",
		},
		[]string{"result"}, // published|error
	)
)

func MustRegister(r prometheus.Registerer) {
	r.MustRegister(
		RetryOutcomes,
		RetryRuns,
		CleanupDeleted,
		DeadLetters,
	)
}
