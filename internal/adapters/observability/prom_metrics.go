package observability

import (
	"log/slog"

	"github.com/ghalamif/beamflow/internal/ports"
	"github.com/prometheus/client_golang/prometheus"
)

type PromObs struct {
	logger   *slog.Logger
	counters map[string]prometheus.Counter
	gauges   map[string]*prometheus.GaugeVec
	histos   map[string]prometheus.Observer
}

// NewPromObs registers the beamflow metrics on reg. A nil logger falls back
// to slog.Default().
func NewPromObs(reg prometheus.Registerer, logger *slog.Logger) *PromObs {
	if logger == nil {
		logger = slog.Default()
	}
	counter := func(name, help string) prometheus.Counter {
		return prometheus.NewCounter(prometheus.CounterOpts{Name: name, Help: help})
	}
	gauge := func(name, help string) *prometheus.GaugeVec {
		return prometheus.NewGaugeVec(prometheus.GaugeOpts{Name: name, Help: help}, []string{"stream"})
	}

	blocks := counter(ports.MetricBlocksReceived, "Integration blocks fully received from all stations.")
	excluded := counter(ports.MetricStationsExcluded, "Station contributions excluded for exceeding the flag threshold.")
	asmDrops := counter(ports.MetricAssemblerDropped, "Integration periods discarded by the assembler for lack of a free buffer.")
	queueDrops := counter(ports.MetricQueueDropped, "Items dropped by the best-effort output queues.")
	written := counter(ports.MetricItemsWritten, "Items committed to the storage sink.")
	failures := counter(ports.MetricSinkFailures, "Failed sink batch writes.")
	queueLen := gauge(ports.MetricQueueLength, "Items currently buffered in a stream's output queue.")
	poolAvail := gauge(ports.MetricPoolAvailable, "Free buffers in a subband's assembler pool.")
	latency := prometheus.NewHistogram(prometheus.HistogramOpts{
		Name:    ports.MetricSinkLatency,
		Help:    "Latency of one sink batch write.",
		Buckets: prometheus.ExponentialBuckets(0.001, 2, 12),
	})

	reg.MustRegister(blocks, excluded, asmDrops, queueDrops, written, failures, queueLen, poolAvail, latency)

	return &PromObs{
		logger: logger,
		counters: map[string]prometheus.Counter{
			ports.MetricBlocksReceived:   blocks,
			ports.MetricStationsExcluded: excluded,
			ports.MetricAssemblerDropped: asmDrops,
			ports.MetricQueueDropped:     queueDrops,
			ports.MetricItemsWritten:     written,
			ports.MetricSinkFailures:     failures,
		},
		gauges: map[string]*prometheus.GaugeVec{
			ports.MetricQueueLength:   queueLen,
			ports.MetricPoolAvailable: poolAvail,
		},
		histos: map[string]prometheus.Observer{
			ports.MetricSinkLatency: latency,
		},
	}
}

func attrs(fields []ports.Field) []any {
	out := make([]any, 0, len(fields))
	for _, f := range fields {
		out = append(out, slog.Any(f.Key, f.Value))
	}
	return out
}

func (p *PromObs) LogInfo(msg string, fields ...ports.Field) {
	p.logger.Info(msg, attrs(fields)...)
}

func (p *PromObs) LogWarn(msg string, fields ...ports.Field) {
	p.logger.Warn(msg, attrs(fields)...)
}

func (p *PromObs) LogError(msg string, err error, fields ...ports.Field) {
	p.logger.Error(msg, append(attrs(fields), slog.Any("err", err))...)
}

func (p *PromObs) LogCritical(msg string, err error, fields ...ports.Field) {
	p.logger.Error(msg, append(attrs(fields), slog.Any("err", err), slog.Bool("critical", true))...)
}

func (p *PromObs) IncCounter(name string, v float64) {
	if c, ok := p.counters[name]; ok {
		c.Add(v)
	}
}

func (p *PromObs) ObserveLatency(name string, seconds float64) {
	if h, ok := p.histos[name]; ok {
		h.Observe(seconds)
	}
}

func (p *PromObs) SetGauge(name, stream string, v float64) {
	if g, ok := p.gauges[name]; ok {
		g.WithLabelValues(stream).Set(v)
	}
}

func (p *PromObs) RecordDrop(stream string, seq uint64, reason string) {
	p.IncCounter(ports.MetricQueueDropped, 1)
	p.logger.Debug("item dropped", "stream", stream, "seq", seq, "reason", reason)
}

var _ ports.Observability = (*PromObs)(nil)
