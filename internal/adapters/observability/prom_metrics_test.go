package observability

import (
	"bytes"
	"errors"
	"log/slog"
	"strings"
	"testing"

	"github.com/ghalamif/beamflow/internal/ports"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
)

func TestPromObsMetrics(t *testing.T) {
	reg := prometheus.NewRegistry()
	obs := NewPromObs(reg, slog.New(slog.NewTextHandler(&bytes.Buffer{}, nil)))

	obs.IncCounter(ports.MetricItemsWritten, 5)
	if got := testutil.ToFloat64(obs.counters[ports.MetricItemsWritten]); got != 5 {
		t.Fatalf("expected written counter 5, got %f", got)
	}

	obs.IncCounter(ports.MetricAssemblerDropped, 2)
	if got := testutil.ToFloat64(obs.counters[ports.MetricAssemblerDropped]); got != 2 {
		t.Fatalf("expected assembler drop counter 2, got %f", got)
	}

	obs.SetGauge(ports.MetricQueueLength, "beam-core", 42)
	obs.SetGauge(ports.MetricQueueLength, "beam-solo", 3)
	if got := testutil.ToFloat64(obs.gauges[ports.MetricQueueLength].WithLabelValues("beam-core")); got != 42 {
		t.Fatalf("expected beam-core queue gauge 42, got %f", got)
	}
	if got := testutil.ToFloat64(obs.gauges[ports.MetricQueueLength].WithLabelValues("beam-solo")); got != 3 {
		t.Fatalf("expected beam-solo queue gauge kept apart at 3, got %f", got)
	}

	obs.ObserveLatency(ports.MetricSinkLatency, 0.5)
	hCollector := obs.histos[ports.MetricSinkLatency].(prometheus.Collector)
	if samples := testutil.CollectAndCount(hCollector); samples != 1 {
		t.Fatalf("expected latency histogram to record 1 sample, got %d", samples)
	}

	obs.RecordDrop("beam-0", 7, "queue full")
	if got := testutil.ToFloat64(obs.counters[ports.MetricQueueDropped]); got != 1 {
		t.Fatalf("expected queue drop counter 1, got %f", got)
	}

	obs.IncCounter("unknown_metric", 1)
	// 6 counters, one queue gauge per stream, the histogram; no pool gauge set yet
	if n, err := testutil.GatherAndCount(reg); err != nil || n != 9 {
		t.Fatalf("expected 9 gathered series, got %d (%v)", n, err)
	}
}

func TestPromObsLogsThroughSlog(t *testing.T) {
	var buf bytes.Buffer
	obs := NewPromObs(prometheus.NewRegistry(), slog.New(slog.NewTextHandler(&buf, nil)))

	obs.LogWarn("dropped 3 integration periods for subband 5", ports.Field{Key: "subband", Value: 5})
	obs.LogCritical("transport failed", errors.New("boom"))

	out := buf.String()
	for _, want := range []string{"subband=5", "level=WARN", "err=boom", "critical=true"} {
		if !strings.Contains(out, want) {
			t.Fatalf("expected %q in log output, got:\n%s", want, out)
		}
	}
}

func TestRecorderCapturesEverything(t *testing.T) {
	r := NewRecorder()
	r.LogInfo("hello")
	r.LogError("write", errors.New("disk full"))
	r.RecordDrop("beam", 1, "full")
	r.IncCounter(ports.MetricItemsWritten, 2)

	if !r.Contains("hello") || len(r.Messages("error")) != 1 {
		t.Fatalf("unexpected log capture: %+v", r.Entries())
	}
	if len(r.Drops()) != 1 || r.Counter(ports.MetricQueueDropped) != 1 {
		t.Fatalf("expected one recorded drop")
	}
	if r.Counter(ports.MetricItemsWritten) != 2 {
		t.Fatalf("expected written counter 2")
	}
	if err := r.Err(); err == nil || !strings.Contains(err.Error(), "disk full") {
		t.Fatalf("expected joined error, got %v", err)
	}
}
