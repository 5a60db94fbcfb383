package worker

import (
	"context"
	"fmt"
	"log"
	"os"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/push"
)

const metricsJobName = "thumbforge_worker"

var (
	// Локальный реестр, чтобы не смешиваться с DefaultRegistry
	registry = prometheus.NewRegistry()

	jobsClaimed = promauto.With(registry).NewCounter(
		prometheus.CounterOpts{
			Name: "thumbforge_worker_jobs_claimed_total",
			Help: "Total number of generation jobs this worker won the claim for.",
		},
	)
	claimConflicts = promauto.With(registry).NewCounter(
		prometheus.CounterOpts{
			Name: "thumbforge_worker_claim_conflicts_total",
			Help: "Total number of compare-and-swap claims lost to another worker.",
		},
	)
	jobsSucceeded = promauto.With(registry).NewCounter(
		prometheus.CounterOpts{
			Name: "thumbforge_worker_jobs_succeeded_total",
			Help: "Total number of generation jobs completed successfully.",
		},
	)
	jobsFailed = promauto.With(registry).NewCounterVec(
		prometheus.CounterOpts{
			Name: "thumbforge_worker_jobs_failed_total",
			Help: "Total number of generation jobs failed, partitioned by reason.",
		},
		[]string{"reason"},
	)
	jobDuration = promauto.With(registry).NewHistogram(
		prometheus.HistogramOpts{
			Name:    "thumbforge_worker_job_duration_seconds",
			Help:    "Duration of generation job processing from claim to terminal state.",
			Buckets: prometheus.ExponentialBuckets(1, 2, 10), // 1s .. ~17m
		},
	)
	imagesGenerated = promauto.With(registry).NewCounter(
		prometheus.CounterOpts{
			Name: "thumbforge_worker_images_generated_total",
			Help: "Total number of images produced across all jobs.",
		},
	)

	pusher *push.Pusher
)

// InitMetricsPusher инициализирует клиент Pushgateway. Пустой URL отключает
// отправку метрик (локальная разработка и тесты).
func InitMetricsPusher(pushgatewayURL string) error {
	if pushgatewayURL == "" {
		return nil
	}

	hostname, err := os.Hostname()
	if err != nil {
		hostname = "unknown"
	}
	instanceID := fmt.Sprintf("%s-%d", hostname, os.Getpid())

	pusher = push.New(pushgatewayURL, metricsJobName).Gatherer(registry).Grouping("instance", instanceID)

	// Пробный push с нулевыми значениями проверяет доступность Pushgateway
	if err := pusher.Push(); err != nil {
		return fmt.Errorf("could not push initial metrics to Pushgateway: %w", err)
	}
	return nil
}

// StartMetricsPusher запускает периодическую отправку метрик до отмены
// контекста.
func StartMetricsPusher(ctx context.Context, interval time.Duration) {
	if pusher == nil {
		return
	}
	ticker := time.NewTicker(interval)
	go func() {
		defer ticker.Stop()
		for {
			select {
			case <-ticker.C:
				pushMetrics()
			case <-ctx.Done():
				return
			}
		}
	}()
}

// CleanupMetrics удаляет метрики этого инстанса из Pushgateway.
// Вызывается через defer в main.
func CleanupMetrics() {
	if pusher == nil {
		return
	}
	if err := pusher.Delete(); err != nil {
		log.Printf("[Metrics] Error deleting metrics from Pushgateway: %v", err)
	}
}

func pushMetrics() {
	if pusher == nil {
		return
	}
	if err := pusher.Push(); err != nil {
		log.Printf("[Metrics] Error pushing metrics to Pushgateway: %v", err)
	}
}

func metricsJobClaimed() {
	jobsClaimed.Inc()
}

func metricsClaimConflict() {
	claimConflicts.Inc()
}

func metricsJobSucceeded(duration time.Duration, imageCount int) {
	jobsSucceeded.Inc()
	jobDuration.Observe(duration.Seconds())
	imagesGenerated.Add(float64(imageCount))
	pushMetrics()
}

func metricsJobFailed(reason string, duration time.Duration) {
	jobsFailed.WithLabelValues(reason).Inc()
	jobDuration.Observe(duration.Seconds())
	pushMetrics()
}
