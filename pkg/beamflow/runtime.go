package beamflow

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net"
	"net/http"
	"os"
	"time"

	"github.com/google/uuid"
	_ "github.com/lib/pq"
	"github.com/prometheus/client_golang/prometheus"
	"golang.org/x/sync/errgroup"

	"github.com/ghalamif/beamflow/internal/adapters/observability"
	"github.com/ghalamif/beamflow/internal/adapters/sink"
	"github.com/ghalamif/beamflow/internal/adapters/transport"
	"github.com/ghalamif/beamflow/internal/app/delivery"
	"github.com/ghalamif/beamflow/internal/app/env"
	"github.com/ghalamif/beamflow/internal/app/pipeline"
	"github.com/ghalamif/beamflow/internal/ports"
)

// MetricsOff as metrics.addr keeps the runtime from listening.
const MetricsOff = "off"

// RuntimeOption customizes the dependencies used by Runtime.
type RuntimeOption func(*runtimeOverrides)

type runtimeOverrides struct {
	transport     Transport
	sink          Sink
	channelizer   Channelizer
	coreReader    CoreReader
	observability Observability
	logger        *slog.Logger
	registry      *prometheus.Registry
}

// WithTransport injects an interconnect, for example an in-process one
// shared with simulated stations.
func WithTransport(t Transport) RuntimeOption {
	return func(o *runtimeOverrides) {
		o.transport = t
	}
}

// WithSink injects a custom sink so items can be sent to any store or API.
func WithSink(s Sink) RuntimeOption {
	return func(o *runtimeOverrides) {
		o.sink = s
	}
}

// WithChannelizer overrides the pass-through channelizer.
func WithChannelizer(c Channelizer) RuntimeOption {
	return func(o *runtimeOverrides) {
		o.channelizer = c
	}
}

// WithCoreReader overrides the reader the assembler pulls partials from.
func WithCoreReader(r CoreReader) RuntimeOption {
	return func(o *runtimeOverrides) {
		o.coreReader = r
	}
}

// WithObservability plugs in a custom observability backend.
func WithObservability(obs Observability) RuntimeOption {
	return func(o *runtimeOverrides) {
		o.observability = obs
	}
}

func WithLogger(l *slog.Logger) RuntimeOption {
	return func(o *runtimeOverrides) {
		o.logger = l
	}
}

// WithRegistry registers the runtime's metrics on reg instead of a private
// registry.
func WithRegistry(reg *prometheus.Registry) RuntimeOption {
	return func(o *runtimeOverrides) {
		o.registry = reg
	}
}

// Runtime wires receiver, beam pipeline, assembler, delivery queues and sink
// together and exposes lifecycle hooks for embedding beamflow in any Go
// service.
type Runtime struct {
	cfg       *Config
	runID     string
	logger    *slog.Logger
	registry  *prometheus.Registry
	obs       ports.Observability
	env       *env.Env
	transport ports.Transport
	sink      ports.Sink
	db        *sql.DB
	timescale *sink.TimescaleSink
	owned     []io.Closer

	beams     *pipeline.BeamPipeline
	assembler *pipeline.AssemblerLoop

	metricsSrv *http.Server
	metricsLn  net.Listener
}

// NewRuntime bootstraps the default adapters (NATS or in-process transport,
// record-file or Timescale sink, Prometheus observability). RuntimeOption
// values override any of them.
func NewRuntime(cfg *Config, opts ...RuntimeOption) (rt *Runtime, err error) {
	if cfg == nil {
		return nil, fmt.Errorf("config is required")
	}

	var overrides runtimeOverrides
	for _, opt := range opts {
		if opt != nil {
			opt(&overrides)
		}
	}

	runID := uuid.NewString()
	logger := overrides.logger
	if logger == nil {
		logger = slog.New(slog.NewTextHandler(os.Stderr, nil))
	}
	logger = logger.With("run_id", runID)

	reg := overrides.registry
	if reg == nil {
		reg = prometheus.NewRegistry()
	}
	obs := overrides.observability
	if obs == nil {
		obs = observability.NewPromObs(reg, logger)
	}

	e, err := env.New(cfg.Observation.Stations, obs)
	if err != nil {
		return nil, err
	}

	r := &Runtime{
		cfg:      cfg,
		runID:    runID,
		logger:   logger,
		registry: reg,
		obs:      obs,
		env:      e,
	}
	defer func() {
		if err != nil {
			r.closeOwned()
		}
	}()

	if err := r.openTransport(overrides.transport); err != nil {
		return nil, err
	}
	if err := r.openSink(overrides.sink); err != nil {
		return nil, err
	}

	bc, err := cfg.BeamPipeline()
	if err != nil {
		return nil, err
	}
	r.beams, err = pipeline.NewBeamPipeline(e, r.transport, overrides.channelizer, r.sink, bc)
	if err != nil {
		return nil, fmt.Errorf("beam pipeline: %w", err)
	}

	if cfg.Assembler.Enabled() {
		reader := overrides.coreReader
		if reader == nil {
			reader = transport.NewCoreReader(r.transport, cfg.Assembler.SamplesPerResult, cfg.Assembler.FlagSize)
		}
		r.assembler, err = pipeline.NewAssemblerLoop(e, reader, r.sink, cfg.AssemblerLoop())
		if err != nil {
			return nil, fmt.Errorf("assembler: %w", err)
		}
	}
	return r, nil
}

func (r *Runtime) openTransport(t ports.Transport) error {
	if t != nil {
		r.transport = t
		return nil
	}
	switch r.cfg.Transport.Kind {
	case "memory":
		mt := transport.NewMemTransport()
		r.transport = mt
		r.owned = append(r.owned, mt)
	case "nats":
		nt, err := transport.DialNATS(r.cfg.Transport.NATS, func(err error) {
			r.obs.LogError("nats_error", err)
		})
		if err != nil {
			return err
		}
		r.transport = nt
		r.owned = append(r.owned, nt)
	default:
		return fmt.Errorf("unknown transport kind %q", r.cfg.Transport.Kind)
	}
	return nil
}

func (r *Runtime) openSink(s ports.Sink) error {
	if s != nil {
		r.sink = s
		return nil
	}
	switch r.cfg.Sink.Kind {
	case "file":
		codec, err := sink.ParseCodec(r.cfg.Sink.Codec)
		if err != nil {
			return err
		}
		fs, err := sink.NewFileSink(r.cfg.Sink.Dir, r.runID, codec, r.cfg.Sink.Fsync)
		if err != nil {
			return err
		}
		r.sink = fs
		r.owned = append(r.owned, fs)
	case "timescale":
		db, err := sql.Open("postgres", r.cfg.Timescale.ConnString)
		if err != nil {
			return err
		}
		r.db = db
		r.timescale = sink.NewTimescaleSink(db, r.cfg.Timescale.Table, r.runID)
		r.sink = r.timescale
	default:
		return fmt.Errorf("unknown sink kind %q", r.cfg.Sink.Kind)
	}
	return nil
}

func (r *Runtime) RunID() string { return r.runID }

// Transport is the interconnect the runtime receives on.
func (r *Runtime) Transport() Transport { return r.transport }

func (r *Runtime) Sink() Sink { return r.sink }

func (r *Runtime) Registry() *prometheus.Registry { return r.registry }

func (r *Runtime) Counters() Counters { return r.env.Counters.Snapshot() }

// Streams lists every output stream: beams first, then assembler subbands.
func (r *Runtime) Streams() []string {
	out := r.beams.Streams()
	if r.assembler != nil {
		out = append(out, r.assembler.Streams()...)
	}
	return out
}

func (r *Runtime) queue(stream string) *delivery.Queue {
	if q := r.beams.Queue(stream); q != nil {
		return q
	}
	if r.assembler != nil {
		return r.assembler.Queue(stream)
	}
	return nil
}

// MetricsAddr is the address the metrics server listens on, or "" when it
// is not running.
func (r *Runtime) MetricsAddr() string {
	if r.metricsLn == nil {
		return ""
	}
	return r.metricsLn.Addr().String()
}

// Start prepares the sink and launches the metrics server. Run calls it.
func (r *Runtime) Start(ctx context.Context) error {
	if r.timescale != nil {
		if err := r.timescale.EnsureSchema(ctx); err != nil {
			return fmt.Errorf("timescale schema: %w", err)
		}
	}
	if err := r.startMetrics(); err != nil {
		return err
	}
	r.obs.LogInfo("runtime_started",
		ports.Field{Key: "streams", Value: r.Streams()},
		ports.Field{Key: "sink", Value: r.sink.Name()},
		ports.Field{Key: "real_time", Value: r.cfg.Policy.RealTime})
	return nil
}

// Run starts the runtime and blocks until every pipeline has finished its
// configured blocks, ctx is cancelled or a stage fails. It always shuts the
// runtime down before returning.
func (r *Runtime) Run(ctx context.Context) error {
	if err := r.Start(ctx); err != nil {
		return errors.Join(err, r.shutdownWithTimeout())
	}

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error { return r.beams.Run(gctx) })
	if r.assembler != nil {
		g.Go(func() error { return r.assembler.Run(gctx) })
	}
	err := g.Wait()

	snap := r.Counters()
	r.obs.LogInfo("runtime_stopped",
		ports.Field{Key: "blocks_received", Value: snap.BlocksReceived},
		ports.Field{Key: "items_written", Value: snap.ItemsWritten},
		ports.Field{Key: "queue_drops", Value: snap.QueueDrops},
		ports.Field{Key: "assembler_drops", Value: snap.AssemblerDrops})
	return errors.Join(err, r.shutdownWithTimeout())
}

func (r *Runtime) shutdownWithTimeout() error {
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	return r.Shutdown(ctx)
}

// Shutdown stops the metrics server and closes every adapter the runtime
// opened itself.
func (r *Runtime) Shutdown(ctx context.Context) error {
	var errs []error

	if r.metricsSrv != nil {
		if err := r.metricsSrv.Shutdown(ctx); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errs = append(errs, err)
		}
		r.metricsSrv = nil
		r.metricsLn = nil
	}
	errs = append(errs, r.closeOwned())
	return errors.Join(errs...)
}

func (r *Runtime) closeOwned() error {
	var errs []error
	for _, c := range r.owned {
		if err := c.Close(); err != nil {
			errs = append(errs, err)
		}
	}
	r.owned = nil
	if r.db != nil {
		if err := r.db.Close(); err != nil {
			errs = append(errs, err)
		}
		r.db = nil
	}
	return errors.Join(errs...)
}

func (r *Runtime) startMetrics() error {
	if r.cfg.Metrics.Addr == MetricsOff || r.metricsSrv != nil {
		return nil
	}
	ln, err := net.Listen("tcp", r.cfg.Metrics.Addr)
	if err != nil {
		return fmt.Errorf("metrics listen %s: %w", r.cfg.Metrics.Addr, err)
	}
	r.metricsLn = ln
	r.metricsSrv = &http.Server{
		Handler:           r.Handler(),
		ReadHeaderTimeout: 5 * time.Second,
	}

	srv := r.metricsSrv
	go func() {
		if err := srv.Serve(ln); err != nil && !errors.Is(err, http.ErrServerClosed) {
			r.obs.LogError("metrics_server_exited", err)
		}
	}()
	return nil
}
