package telemetry

import (
	"context"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	promtestutil "github.com/prometheus/client_golang/prometheus/testutil"
	dto "github.com/prometheus/client_model/go"
)

func TestMetricsInitialized(t *testing.T) {
	Init()

	if ReactionDuration == nil {
		t.Error("ReactionDuration histogram not initialized")
	}
	if BoardFetchDuration == nil {
		t.Error("BoardFetchDuration histogram not initialized")
	}
	if PresentationQueueDepth == nil || TranslationQueueDepth == nil {
		t.Error("queue depth gauges not initialized")
	}
}

func TestCounterHelpers(t *testing.T) {
	Init()

	before := promtestutil.ToFloat64(CommentsReceived.WithLabelValues("twitch"))
	IncReceived("twitch")
	IncReceived("twitch")
	if got := promtestutil.ToFloat64(CommentsReceived.WithLabelValues("twitch")); got != before+2 {
		t.Errorf("received counter = %v, want %v", got, before+2)
	}

	before = promtestutil.ToFloat64(TranslationOutcomes.WithLabelValues("skipped"))
	IncTranslation("skipped")
	if got := promtestutil.ToFloat64(TranslationOutcomes.WithLabelValues("skipped")); got != before+1 {
		t.Errorf("translation counter = %v, want %v", got, before+1)
	}
}

func TestGaugeHelpers(t *testing.T) {
	Init()

	SetQueueDepths(4, 2)
	if got := promtestutil.ToFloat64(PresentationQueueDepth); got != 4 {
		t.Errorf("presentation depth = %v", got)
	}
	if got := promtestutil.ToFloat64(TranslationQueueDepth); got != 2 {
		t.Errorf("translation depth = %v", got)
	}

	SetConsecutiveErrors(3)
	if got := promtestutil.ToFloat64(BoardConsecutiveErrors); got != 3 {
		t.Errorf("consecutive errors = %v", got)
	}

	UpdateSessionGauge(true)
	if got := promtestutil.ToFloat64(SessionRunning); got != 1 {
		t.Errorf("session gauge = %v", got)
	}
	UpdateSessionGauge(false)
	if got := promtestutil.ToFloat64(SessionRunning); got != 0 {
		t.Errorf("session gauge = %v", got)
	}
}

func TestTimeFuncRecordsObservation(t *testing.T) {
	Init()

	testHistogram := prometheus.NewHistogram(prometheus.HistogramOpts{
		Name:    "test_duration_seconds",
		Help:    "Test duration",
		Buckets: prometheus.DefBuckets,
	})
	prometheus.MustRegister(testHistogram)
	defer prometheus.Unregister(testHistogram)

	executed := false
	duration := TimeFunc(testHistogram, func() {
		time.Sleep(10 * time.Millisecond)
		executed = true
	})

	if !executed {
		t.Error("TimeFunc did not execute provided function")
	}
	if duration < 10*time.Millisecond {
		t.Errorf("TimeFunc duration = %v, want >= 10ms", duration)
	}

	metric := &dto.Metric{}
	if err := testHistogram.Write(metric); err != nil {
		t.Fatalf("Failed to write metric: %v", err)
	}
	if metric.Histogram == nil || metric.Histogram.GetSampleCount() == 0 {
		t.Error("TimeFunc did not record observation in histogram")
	}
}

func TestCorrelation(t *testing.T) {
	ctx := context.Background()
	if GetCorrelation(ctx) != "" {
		t.Error("expected empty correlation on bare context")
	}
	ctx = WithCorrelation(ctx, "abc")
	if got := GetCorrelation(ctx); got != "abc" {
		t.Errorf("GetCorrelation = %q", got)
	}
	if LoggerWithCorr(ctx) == nil {
		t.Error("LoggerWithCorr returned nil")
	}
}
