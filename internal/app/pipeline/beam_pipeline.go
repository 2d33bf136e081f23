// Package pipeline wires the receive, compute and delivery stages together
// under one supervising errgroup.
package pipeline

import (
	"context"
	"errors"
	"fmt"

	"github.com/ghalamif/beamflow/internal/app/arena"
	"github.com/ghalamif/beamflow/internal/app/beamform"
	"github.com/ghalamif/beamflow/internal/app/delivery"
	"github.com/ghalamif/beamflow/internal/app/env"
	"github.com/ghalamif/beamflow/internal/app/stokes"
	"github.com/ghalamif/beamflow/internal/app/transpose"
	"github.com/ghalamif/beamflow/internal/domain"
	"github.com/ghalamif/beamflow/internal/ports"
	"golang.org/x/sync/errgroup"
)

// IncoherentStream names the output of incoherent-mode pipelines.
const IncoherentStream = "incoherent"

type BeamConfig struct {
	Receiver transpose.ReceiverConfig
	// FirstBlock is the sample index of block 0; block k starts at
	// FirstBlock + k*BlockSize.
	FirstBlock int64
	// Blocks to process; 0 runs until the context is done.
	Blocks   int
	Combiner beamform.Config
	Stokes   stokes.Config
	Policy   ports.Policy
}

// BeamStream is the output stream name of a coherent beam group.
func BeamStream(group string) string { return "beam-" + group }

func (c BeamConfig) streams() []string {
	if c.Stokes.Mode == stokes.Incoherent {
		return []string{IncoherentStream}
	}
	out := make([]string, len(c.Combiner.Groups))
	for i, g := range c.Combiner.Groups {
		out[i] = BeamStream(g.Name)
	}
	return out
}

type job struct {
	k     uint64
	lease *arena.Lease[*domain.TransposeBatch]
}

// BeamPipeline receives station blocks on one network path, computes beams
// and Stokes parameters on Policy.Workers goroutines and delivers them in
// block order.
type BeamPipeline struct {
	env         *env.Env
	cfg         BeamConfig
	receiver    *transpose.Receiver
	channelizer ports.Channelizer
	batches     *arena.Pool[*domain.TransposeBatch]
	gate        *delivery.Gate
	out         *outputs
	stokesPools map[string]*arena.Pool[*domain.StokesData]
}

func NewBeamPipeline(e *env.Env, t ports.Transport, ch ports.Channelizer, sink ports.Sink, cfg BeamConfig) (*BeamPipeline, error) {
	if ch == nil {
		ch = PassThrough{}
	}
	if cfg.Policy.Workers <= 0 {
		cfg.Policy.Workers = 1
	}
	if cfg.Stokes.Mode == stokes.Coherent && len(cfg.Combiner.Groups) == 0 {
		return nil, errors.New("coherent mode needs at least one beam group")
	}
	if cfg.Receiver.BlockSize%cfg.Stokes.IntegrationSteps != 0 {
		return nil, fmt.Errorf("block size %d not divisible by %d integration steps", cfg.Receiver.BlockSize, cfg.Stokes.IntegrationSteps)
	}
	stationSet := make(map[int]bool, len(cfg.Receiver.Stations))
	for _, st := range cfg.Receiver.Stations {
		stationSet[st] = true
	}
	for _, g := range cfg.Combiner.Groups {
		for _, st := range g.Stations {
			if !stationSet[st] {
				return nil, fmt.Errorf("group %q uses station %d which is not received", g.Name, st)
			}
		}
	}

	r, err := transpose.NewReceiver(e, t, cfg.Receiver)
	if err != nil {
		return nil, err
	}
	p := &BeamPipeline{
		env:         e,
		cfg:         cfg,
		receiver:    r,
		channelizer: ch,
		gate:        delivery.NewGate(0),
		out:         newOutputs(e, cfg.streams(), sink, cfg.Policy),
		stokesPools: make(map[string]*arena.Pool[*domain.StokesData]),
	}
	p.batches = arena.New(max(cfg.Policy.PoolSize, cfg.Policy.Workers+1), func(arena.Handle) *domain.TransposeBatch {
		return r.NewBatch()
	})

	nrBuffers := stokesBuffers(cfg.Policy, len(cfg.Receiver.Beamlets))
	nrStokes := cfg.Stokes.NrStokes()
	outTimes := cfg.Receiver.BlockSize / cfg.Stokes.IntegrationSteps
	for _, name := range cfg.streams() {
		p.stokesPools[name] = arena.New(nrBuffers, func(arena.Handle) *domain.StokesData {
			return domain.NewStokesData(nrStokes, ch.Channels(), outTimes, cfg.Stokes.Precision)
		})
	}
	return p, nil
}

// stokesBuffers sizes one stream's Stokes pool. A worker holds one buffer
// per beamlet until its block passes the gate, so every worker may hold a
// whole block while the queue is full, the writer stages two batches and
// writes one more popped item.
func stokesBuffers(pol ports.Policy, nrBeamlets int) int {
	batch := max(pol.MaxBatchSize, 1)
	return max(pol.QueueDepth, 1) + 2*batch + 1 + max(pol.Workers, 1)*nrBeamlets
}

// Streams lists the pipeline's output streams.
func (p *BeamPipeline) Streams() []string { return p.cfg.streams() }

// Queue exposes a stream's delivery queue.
func (p *BeamPipeline) Queue(stream string) *delivery.Queue { return p.out.queue(stream) }

// Run processes blocks until cfg.Blocks are done, ctx ends or a stage fails.
// Protocol and transport errors are fatal and returned. The output queues
// are closed and drained before Run returns.
func (p *BeamPipeline) Run(ctx context.Context) error {
	workers := make([]*worker, p.cfg.Policy.Workers)
	for i := range workers {
		w, err := p.newWorker()
		if err != nil {
			return err
		}
		workers[i] = w
	}

	var writers errgroup.Group
	p.out.start(&writers)

	g, gctx := errgroup.WithContext(ctx)
	jobs := make(chan job, p.cfg.Policy.Workers)

	g.Go(func() error {
		defer close(jobs)
		return p.receive(gctx, jobs)
	})
	for _, w := range workers {
		g.Go(func() error { return w.run(gctx, jobs) })
	}

	err := g.Wait()
	p.out.close()
	werr := writers.Wait()
	if errors.Is(err, context.Canceled) && ctx.Err() != nil {
		err = nil
	}
	return errors.Join(err, werr)
}

func (p *BeamPipeline) receive(ctx context.Context, jobs chan<- job) error {
	bs := int64(p.cfg.Receiver.BlockSize)
	for k := uint64(0); p.cfg.Blocks <= 0 || k < uint64(p.cfg.Blocks); k++ {
		lease, err := p.batches.Acquire(ctx)
		if err != nil {
			return err
		}
		from := p.cfg.FirstBlock + int64(k)*bs
		if err := p.receiver.Receive(ctx, from, lease.Value()); err != nil {
			lease.Release()
			p.env.Obs.LogCritical("receive_failed", err, ports.Field{Key: "block", Value: from})
			return err
		}
		p.env.Obs.IncCounter(ports.MetricBlocksReceived, 1)

		select {
		case jobs <- job{k: k, lease: lease}:
		case <-ctx.Done():
			lease.Release()
			return ctx.Err()
		}
	}
	return nil
}

// worker owns its scratch buffers, combiner and reducer.
type worker struct {
	p        *BeamPipeline
	combiner *beamform.Combiner
	reducer  *stokes.Reducer
	data     []*domain.StationData
	inputs   []*domain.StationData
}

func (p *BeamPipeline) newWorker() (*worker, error) {
	c, err := beamform.NewCombiner(p.env, p.cfg.Combiner)
	if err != nil {
		return nil, err
	}
	r, err := stokes.NewReducer(p.env, p.cfg.Stokes)
	if err != nil {
		return nil, err
	}
	maxStation := 0
	for _, st := range p.cfg.Receiver.Stations {
		maxStation = max(maxStation, st)
	}
	w := &worker{p: p, combiner: c, reducer: r, data: make([]*domain.StationData, maxStation+1)}
	for _, st := range p.cfg.Receiver.Stations {
		w.data[st] = &domain.StationData{
			Station: st,
			Cube:    domain.NewCube(p.channelizer.Channels(), p.cfg.Receiver.BlockSize, p.cfg.Receiver.Pols),
			Flags:   domain.NewFlagSet(p.cfg.Receiver.BlockSize),
		}
	}
	return w, nil
}

func (w *worker) run(ctx context.Context, jobs <-chan job) error {
	for j := range jobs {
		items, err := w.process(ctx, j)
		j.lease.Release()
		w.combiner.ReportExclusions()
		w.reducer.ReportExclusions()
		if err != nil {
			releaseAll(items)
			return err
		}
		if err := w.deliver(ctx, j.k, items); err != nil {
			return err
		}
	}
	return nil
}

// process computes one item per stream per beamlet, in beamlet order.
func (w *worker) process(ctx context.Context, j job) ([]*domain.DeliveryItem, error) {
	p := w.p
	batch := j.lease.Value()
	nrBeamlets := len(p.cfg.Receiver.Beamlets)
	streams := p.cfg.streams()
	items := make([]*domain.DeliveryItem, 0, nrBeamlets*len(streams))

	for bi := 0; bi < nrBeamlets; bi++ {
		for si, st := range p.cfg.Receiver.Stations {
			if err := p.channelizer.Channelize(batch.Block(si, bi), w.data[st]); err != nil {
				return items, fmt.Errorf("channelize station %d beamlet %d: %w", st, p.cfg.Receiver.Beamlets[bi], err)
			}
		}

		seq := j.k*uint64(nrBeamlets) + uint64(bi)
		if p.cfg.Stokes.Mode == stokes.Incoherent {
			w.inputs = w.inputs[:0]
			for _, st := range p.cfg.Receiver.Stations {
				w.inputs = append(w.inputs, w.data[st])
			}
			item, err := w.reduce(ctx, IncoherentStream, seq)
			if err != nil {
				return items, err
			}
			if item != nil {
				items = append(items, item)
			}
			continue
		}

		results, err := w.combiner.CombineAll(w.data)
		if err != nil {
			return items, err
		}
		for _, res := range results {
			w.inputs = append(w.inputs[:0], w.data[res.Primary])
			item, err := w.reduce(ctx, BeamStream(res.Group), seq)
			if err != nil {
				return items, err
			}
			if item != nil {
				items = append(items, item)
			}
		}
	}
	return items, nil
}

// reduce runs the Stokes reducer into a pooled buffer. In real-time mode an
// exhausted pool drops the item instead of waiting; nil means dropped.
func (w *worker) reduce(ctx context.Context, stream string, seq uint64) (*domain.DeliveryItem, error) {
	pool := w.p.stokesPools[stream]
	var lease *arena.Lease[*domain.StokesData]
	if w.p.cfg.Policy.RealTime {
		l, ok := pool.TryAcquire()
		if !ok {
			w.p.env.Counters.QueueDrops.Add(1)
			w.p.env.Obs.RecordDrop(stream, seq, "no free output buffer")
			return nil, nil
		}
		lease = l
	} else {
		l, err := pool.Acquire(ctx)
		if err != nil {
			return nil, err
		}
		lease = l
	}

	if _, err := w.reducer.Reduce(w.inputs, lease.Value()); err != nil {
		lease.Release()
		return nil, fmt.Errorf("stokes %s seq %d: %w", stream, seq, err)
	}
	return domain.NewDeliveryItem(stream, seq, nil, lease.Value(), lease.Release), nil
}

// deliver pushes the block's items once every earlier block has pushed.
func (w *worker) deliver(ctx context.Context, k uint64, items []*domain.DeliveryItem) error {
	if d := w.p.cfg.Policy.GateTimeout; d > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, d)
		defer cancel()
	}
	pushed := 0
	err := w.p.gate.Do(ctx, k, func() error {
		for _, item := range items {
			// a failed Push releases the item itself
			pushed++
			if err := w.p.out.queue(item.Stream).Push(item); err != nil {
				return err
			}
		}
		return nil
	})
	if err != nil {
		releaseAll(items[pushed:])
		return fmt.Errorf("deliver block %d: %w", k, err)
	}
	return nil
}

func releaseAll(items []*domain.DeliveryItem) {
	for _, item := range items {
		item.Release()
	}
}
