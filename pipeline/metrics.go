package pipeline

import (
	"context"
	"errors"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promauto"

	"storyboard-server/models"
	"storyboard-server/poller"
)

const (
	kindScenes  = "scenes"
	kindPreview = "scene_preview"
	kindImage   = "character_image"
	kindFinal   = "final_video"
)

var (
	// Registry 本服务的指标，/metrics 暴露
	Registry = prometheus.NewRegistry()

	jobsStarted = promauto.With(Registry).NewCounterVec(
		prometheus.CounterOpts{
			Name: "storyboard_jobs_started_total",
			Help: "Generation jobs started, by kind.",
		},
		[]string{"kind"},
	)
	jobsSucceeded = promauto.With(Registry).NewCounterVec(
		prometheus.CounterOpts{
			Name: "storyboard_jobs_succeeded_total",
			Help: "Generation jobs completed successfully, by kind.",
		},
		[]string{"kind"},
	)
	jobsFailed = promauto.With(Registry).NewCounterVec(
		prometheus.CounterOpts{
			Name: "storyboard_jobs_failed_total",
			Help: "Generation jobs failed, by kind and reason.",
		},
		[]string{"kind", "reason"},
	)
	jobDuration = promauto.With(Registry).NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "storyboard_job_duration_seconds",
			Help:    "Wall-clock duration of generation jobs.",
			Buckets: []float64{1, 5, 15, 30, 60, 120, 300, 600},
		},
		[]string{"kind"},
	)
	pollAttempts = promauto.With(Registry).NewCounterVec(
		prometheus.CounterOpts{
			Name: "storyboard_poll_attempts_total",
			Help: "Operation re-queries issued by the poller.",
		},
		[]string{"kind"},
	)
)

func init() {
	Registry.MustRegister(collectors.NewGoCollector(), collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}))
}

func observeSuccess(kind string, start time.Time) {
	jobsSucceeded.WithLabelValues(kind).Inc()
	jobDuration.WithLabelValues(kind).Observe(time.Since(start).Seconds())
}

func observeFailure(kind string, err error, start time.Time) {
	jobsFailed.WithLabelValues(kind, failureReason(err)).Inc()
	jobDuration.WithLabelValues(kind).Observe(time.Since(start).Seconds())
}

func failureReason(err error) string {
	var (
		jobErr  *poller.JobFailedError
		provErr *models.ProviderError
	)
	switch {
	case errors.As(err, &jobErr):
		return "job_failed"
	case errors.Is(err, poller.ErrResultMissing):
		return "result_missing"
	case errors.Is(err, poller.ErrTimedOut):
		return "timed_out"
	case errors.Is(err, context.Canceled), errors.Is(err, context.DeadlineExceeded):
		return "canceled"
	case errors.As(err, &provErr):
		return "provider"
	default:
		return "other"
	}
}
