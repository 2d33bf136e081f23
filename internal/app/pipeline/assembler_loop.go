package pipeline

import (
	"context"
	"errors"
	"fmt"

	"github.com/ghalamif/beamflow/internal/app/assembler"
	"github.com/ghalamif/beamflow/internal/app/delivery"
	"github.com/ghalamif/beamflow/internal/app/env"
	"github.com/ghalamif/beamflow/internal/domain"
	"github.com/ghalamif/beamflow/internal/ports"
	"golang.org/x/sync/errgroup"
)

type AssemblerConfig struct {
	Assembler assembler.Config
	// Blocks to assemble; 0 runs until the context is done.
	Blocks int
	Policy ports.Policy
}

// AssemblerLoop drives one OutputAssembler and delivers every subband to
// its own queue and writer.
type AssemblerLoop struct {
	env       *env.Env
	cfg       AssemblerConfig
	assembler *assembler.Assembler
	out       *outputs
	streams   map[int]string
}

func NewAssemblerLoop(e *env.Env, reader ports.CoreReader, sink ports.Sink, cfg AssemblerConfig) (*AssemblerLoop, error) {
	cfg.Assembler.RealTime = cfg.Policy.RealTime
	if cfg.Assembler.PoolSize <= 0 {
		cfg.Assembler.PoolSize = cfg.Policy.PoolSize
	}
	l := &AssemblerLoop{env: e, cfg: cfg}

	a, err := assembler.New(e, reader, assembler.OutputFunc(l.push), cfg.Assembler)
	if err != nil {
		return nil, err
	}
	l.assembler = a
	l.streams = a.Streams()

	l.out = newOutputs(e, l.Streams(), sink, cfg.Policy)
	return l, nil
}

func (l *AssemblerLoop) push(subband int, item *domain.DeliveryItem) error {
	q := l.out.queue(l.streams[subband])
	if q == nil {
		item.Release()
		return fmt.Errorf("no output stream for subband %d", subband)
	}
	return q.Push(item)
}

func (l *AssemblerLoop) Assembler() *assembler.Assembler { return l.assembler }

// Streams lists the output streams in subband order.
func (l *AssemblerLoop) Streams() []string {
	out := make([]string, 0, len(l.streams))
	for _, sb := range l.cfg.Assembler.Subbands {
		out = append(out, l.streams[sb])
	}
	return out
}

func (l *AssemblerLoop) Queue(stream string) *delivery.Queue { return l.out.queue(stream) }

// Run assembles until cfg.Blocks are delivered, ctx ends or a read fails,
// then closes and drains the output queues.
func (l *AssemblerLoop) Run(ctx context.Context) error {
	var writers errgroup.Group
	l.out.start(&writers)

	err := l.assembler.Run(ctx, l.cfg.Blocks)
	if err != nil && !errors.Is(err, context.Canceled) {
		l.env.Obs.LogCritical("assembler_failed", err, ports.Field{Key: "seq", Value: l.assembler.Seq()})
	}
	l.out.close()
	werr := writers.Wait()
	if errors.Is(err, context.Canceled) && ctx.Err() != nil {
		err = nil
	}
	return errors.Join(err, werr)
}
