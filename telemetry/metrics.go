// Package telemetry provides Prometheus metrics and correlation-id aware logging helpers.
package telemetry

import (
	"context"
	"log/slog"
	"sync"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	once sync.Once

	// Counters
	CommentsReceived    *prometheus.CounterVec // label: source
	CommentsPresented   prometheus.Counter
	CommentsDeduped     prometheus.Counter
	BoardFetchErrors    *prometheus.CounterVec // label: class
	TranslationOutcomes *prometheus.CounterVec // label: outcome
	SchedulerPanics     *prometheus.CounterVec // label: scheduler

	// Histograms (seconds)
	ReactionDuration   prometheus.Observer
	BoardFetchDuration prometheus.Observer

	// Gauges
	PresentationQueueDepth prometheus.Gauge
	TranslationQueueDepth  prometheus.Gauge
	BoardConsecutiveErrors prometheus.Gauge
	BroadcastListeners     prometheus.Gauge
	SessionRunning         prometheus.Gauge // 1=running,0=stopped
)

// Init registers metrics (idempotent).
func Init() {
	once.Do(func() {
		CommentsReceived = promauto.NewCounterVec(prometheus.CounterOpts{Name: "commentcast_comments_received_total", Help: "Comments received from source adapters"}, []string{"source"})
		CommentsPresented = promauto.NewCounter(prometheus.CounterOpts{Name: "commentcast_comments_presented_total", Help: "Comments rendered to the broadcast and overlay sinks"})
		CommentsDeduped = promauto.NewCounter(prometheus.CounterOpts{Name: "commentcast_comments_deduped_total", Help: "BBS responses dropped because their number was already queued"})
		BoardFetchErrors = promauto.NewCounterVec(prometheus.CounterOpts{Name: "commentcast_board_fetch_errors_total", Help: "Failed thread fetches by error class"}, []string{"class"})
		TranslationOutcomes = promauto.NewCounterVec(prometheus.CounterOpts{Name: "commentcast_translations_total", Help: "Translation attempts by outcome (translated, skipped, error)"}, []string{"outcome"})
		SchedulerPanics = promauto.NewCounterVec(prometheus.CounterOpts{Name: "commentcast_scheduler_panics_total", Help: "Recovered panics per scheduler"}, []string{"scheduler"})
		ReactionDuration = promauto.NewHistogram(prometheus.HistogramOpts{Name: "commentcast_reaction_duration_seconds", Help: "Sound, speech and display hold duration per presentation", Buckets: prometheus.DefBuckets})
		BoardFetchDuration = promauto.NewHistogram(prometheus.HistogramOpts{Name: "commentcast_board_fetch_duration_seconds", Help: "Thread fetch duration seconds", Buckets: prometheus.DefBuckets})
		PresentationQueueDepth = promauto.NewGauge(prometheus.GaugeOpts{Name: "commentcast_presentation_queue_depth", Help: "Comments waiting for presentation"})
		TranslationQueueDepth = promauto.NewGauge(prometheus.GaugeOpts{Name: "commentcast_translation_queue_depth", Help: "Comments waiting for translation"})
		BoardConsecutiveErrors = promauto.NewGauge(prometheus.GaugeOpts{Name: "commentcast_board_consecutive_errors", Help: "Consecutive failed thread fetches"})
		BroadcastListeners = promauto.NewGauge(prometheus.GaugeOpts{Name: "commentcast_broadcast_listeners", Help: "Attached websocket and SSE listeners"})
		SessionRunning = promauto.NewGauge(prometheus.GaugeOpts{Name: "commentcast_session_running", Help: "Session running=1 stopped=0"})
	})
}

// IncReceived counts one comment from source.
func IncReceived(source string) {
	if CommentsReceived != nil {
		CommentsReceived.WithLabelValues(source).Inc()
	}
}

// AddPresented counts presented comments.
func AddPresented(n int) {
	if CommentsPresented != nil {
		CommentsPresented.Add(float64(n))
	}
}

// IncDeduped counts a dropped duplicate.
func IncDeduped() {
	if CommentsDeduped != nil {
		CommentsDeduped.Inc()
	}
}

// IncFetchError counts a failed thread fetch.
func IncFetchError(class string) {
	if BoardFetchErrors != nil {
		BoardFetchErrors.WithLabelValues(class).Inc()
	}
}

// IncTranslation counts one translation outcome.
func IncTranslation(outcome string) {
	if TranslationOutcomes != nil {
		TranslationOutcomes.WithLabelValues(outcome).Inc()
	}
}

// IncPanic counts a recovered scheduler panic.
func IncPanic(scheduler string) {
	if SchedulerPanics != nil {
		SchedulerPanics.WithLabelValues(scheduler).Inc()
	}
}

// SetQueueDepths records pending presentation and translation counts.
func SetQueueDepths(presentation, translation int) {
	if PresentationQueueDepth != nil {
		PresentationQueueDepth.Set(float64(presentation))
	}
	if TranslationQueueDepth != nil {
		TranslationQueueDepth.Set(float64(translation))
	}
}

// SetConsecutiveErrors records the poller's failure streak.
func SetConsecutiveErrors(n int) {
	if BoardConsecutiveErrors != nil {
		BoardConsecutiveErrors.Set(float64(n))
	}
}

// AddListeners adjusts the attached listener gauge by delta.
func AddListeners(delta int) {
	if BroadcastListeners != nil {
		BroadcastListeners.Add(float64(delta))
	}
}

// UpdateSessionGauge sets gauge to 1 if running else 0.
func UpdateSessionGauge(running bool) {
	if SessionRunning != nil {
		if running {
			SessionRunning.Set(1)
		} else {
			SessionRunning.Set(0)
		}
	}
}

// TimeFunc measures the duration of fn and records in observer if non-nil.
func TimeFunc(obs prometheus.Observer, fn func()) time.Duration {
	start := time.Now()
	fn()
	d := time.Since(start)
	if obs != nil {
		obs.Observe(d.Seconds())
	}
	return d
}

// Correlation ID helpers ----------------------------------------------------
type corrKeyType struct{}

var corrKey corrKeyType

// WithCorrelation returns a new context embedding the correlation id.
func WithCorrelation(ctx context.Context, id string) context.Context {
	return context.WithValue(ctx, corrKey, id)
}

// GetCorrelation returns correlation id or empty string.
func GetCorrelation(ctx context.Context) string {
	v := ctx.Value(corrKey)
	if s, ok := v.(string); ok {
		return s
	}
	return ""
}

// LoggerWithCorr returns a logger with corr attribute if present.
func LoggerWithCorr(ctx context.Context) *slog.Logger {
	if id := GetCorrelation(ctx); id != "" {
		return slog.Default().With(slog.String("corr", id))
	}
	return slog.Default()
}
