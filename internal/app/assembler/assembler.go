// Package assembler integrates per-subband partial results read from the
// compute cores and hands one result per subband per block to delivery.
package assembler

import (
	"context"
	"fmt"

	"github.com/ghalamif/beamflow/internal/app/arena"
	"github.com/ghalamif/beamflow/internal/app/env"
	"github.com/ghalamif/beamflow/internal/domain"
	"github.com/ghalamif/beamflow/internal/ports"
)

// Output receives completed results. The item owns a pooled buffer and must
// be released once written or dropped.
type Output interface {
	Push(subband int, item *domain.DeliveryItem) error
}

// OutputFunc adapts a function to Output.
type OutputFunc func(subband int, item *domain.DeliveryItem) error

func (f OutputFunc) Push(subband int, item *domain.DeliveryItem) error { return f(subband, item) }

type Config struct {
	// Subbands handled by this assembler, in slot order.
	Subbands []int
	// SlotsPerRound is the number of core slots one round spans. Slots past
	// len(Subbands) are unused but still advance the core rotation.
	SlotsPerRound int
	Cores         []int
	// IntegrationSteps is the number of sub-steps summed into one result.
	IntegrationSteps int
	SamplesPerResult int
	FlagSize         int
	PoolSize         int
	RealTime         bool
	// StreamPrefix names the output streams, one per subband.
	StreamPrefix string
}

func (c *Config) applyDefaults() {
	if c.SlotsPerRound < len(c.Subbands) {
		c.SlotsPerRound = len(c.Subbands)
	}
	if c.IntegrationSteps <= 0 {
		c.IntegrationSteps = 1
	}
	if c.PoolSize <= 0 {
		c.PoolSize = 2
	}
	if c.StreamPrefix == "" {
		c.StreamPrefix = "subband"
	}
}

func (c Config) validate() error {
	switch {
	case len(c.Subbands) == 0:
		return fmt.Errorf("assembler needs at least one subband")
	case len(c.Cores) == 0:
		return fmt.Errorf("assembler needs at least one core")
	case c.SamplesPerResult <= 0:
		return fmt.Errorf("samples per result must be positive")
	case c.FlagSize < 0:
		return fmt.Errorf("flag size must not be negative")
	}
	seen := make(map[int]bool, len(c.Subbands))
	for _, sb := range c.Subbands {
		if seen[sb] {
			return fmt.Errorf("subband %d listed twice", sb)
		}
		seen[sb] = true
	}
	return nil
}

// SlotState tracks one subband's integration slot.
type SlotState uint8

const (
	SlotEmpty SlotState = iota
	SlotAccumulating
	SlotComplete
)

func (s SlotState) String() string {
	switch s {
	case SlotAccumulating:
		return "accumulating"
	case SlotComplete:
		return "complete"
	default:
		return "empty"
	}
}

type slot struct {
	subband int
	stream  string
	state   SlotState
	acc     *domain.IntegratedResult
	pool    *arena.Pool[*domain.IntegratedResult]
	// pending counts drops not yet reported; total never resets.
	pending uint64
	total   uint64
}

// Assembler owns every slot and buffer pool it serves; it is driven by a
// single goroutine.
type Assembler struct {
	env     *env.Env
	reader  ports.CoreReader
	out     Output
	cfg     Config
	slots   []*slot
	scratch *domain.IntegratedResult
	rot     int
	step    int
	seq     uint64
}

func New(e *env.Env, reader ports.CoreReader, out Output, cfg Config) (*Assembler, error) {
	cfg.applyDefaults()
	if err := cfg.validate(); err != nil {
		return nil, err
	}
	a := &Assembler{
		env:     e,
		reader:  reader,
		out:     out,
		cfg:     cfg,
		scratch: domain.NewIntegratedResult(cfg.SamplesPerResult, cfg.FlagSize),
	}
	for _, sb := range cfg.Subbands {
		a.slots = append(a.slots, &slot{
			subband: sb,
			stream:  fmt.Sprintf("%s-%03d", cfg.StreamPrefix, sb),
			acc:     domain.NewIntegratedResult(cfg.SamplesPerResult, cfg.FlagSize),
			pool: arena.New(cfg.PoolSize, func(arena.Handle) *domain.IntegratedResult {
				return domain.NewIntegratedResult(cfg.SamplesPerResult, cfg.FlagSize)
			}),
		})
	}
	return a, nil
}

// Seq is the sequence number the next completed round will carry.
func (a *Assembler) Seq() uint64 { return a.seq }

// Dropped is the number of integration periods discarded for subband.
func (a *Assembler) Dropped(subband int) uint64 {
	for _, s := range a.slots {
		if s.subband == subband {
			return s.total
		}
	}
	return 0
}

func (a *Assembler) State(subband int) SlotState {
	for _, s := range a.slots {
		if s.subband == subband {
			return s.state
		}
	}
	return SlotEmpty
}

// Streams maps every subband to its output stream name.
func (a *Assembler) Streams() map[int]string {
	out := make(map[int]string, len(a.slots))
	for _, s := range a.slots {
		out[s.subband] = s.stream
	}
	return out
}

// Available reports the free buffers left in subband's pool.
func (a *Assembler) Available(subband int) int {
	for _, s := range a.slots {
		if s.subband == subband {
			return s.pool.Available()
		}
	}
	return 0
}

// Step processes one integration sub-step for every subband, reading each
// from the next core in the rotation. Read and hand-off errors are fatal.
func (a *Assembler) Step(ctx context.Context) error {
	first := a.step == 0
	last := a.step == a.cfg.IntegrationSteps-1

	for _, s := range a.slots {
		core := a.cfg.Cores[a.rot]
		a.rot = (a.rot + 1) % len(a.cfg.Cores)

		if first {
			// the first contribution lands in the slot directly
			if err := a.reader.ReadPartial(ctx, core, s.subband, s.acc); err != nil {
				return fmt.Errorf("subband %d core %d seq %d: %w", s.subband, core, a.seq, err)
			}
			s.state = SlotAccumulating
		} else {
			if err := a.reader.ReadPartial(ctx, core, s.subband, a.scratch); err != nil {
				return fmt.Errorf("subband %d core %d seq %d: %w", s.subband, core, a.seq, err)
			}
			if err := s.acc.Add(a.scratch); err != nil {
				return err
			}
		}
		if last {
			s.state = SlotComplete
			if err := a.handOff(ctx, s); err != nil {
				return err
			}
			s.state = SlotEmpty
		}
	}
	a.rot = (a.rot + a.cfg.SlotsPerRound - len(a.slots)) % len(a.cfg.Cores)

	if last {
		a.seq++
		a.step = 0
	} else {
		a.step++
	}
	return nil
}

// handOff moves the completed accumulator into a pooled buffer slot and
// takes that slot's previous buffer as the next accumulator.
func (a *Assembler) handOff(ctx context.Context, s *slot) error {
	var lease *arena.Lease[*domain.IntegratedResult]
	if a.cfg.RealTime {
		l, ok := s.pool.TryAcquire()
		if !ok {
			s.pending++
			s.total++
			a.env.Counters.AssemblerDrops.Add(1)
			a.env.Obs.IncCounter(ports.MetricAssemblerDropped, 1)
			return nil
		}
		lease = l
	} else {
		l, err := s.pool.Acquire(ctx)
		if err != nil {
			return err
		}
		lease = l
	}

	s.acc.Subband = s.subband
	s.acc.Seq = a.seq
	s.acc = lease.Swap(s.acc)
	s.acc.Reset()

	if s.pending > 0 {
		a.env.Obs.LogWarn(fmt.Sprintf("dropped %d integration periods for subband %d", s.pending, s.subband),
			ports.Field{Key: "subband", Value: s.subband},
			ports.Field{Key: "dropped", Value: s.pending},
		)
		s.pending = 0
	}
	a.env.Obs.SetGauge(ports.MetricPoolAvailable, s.stream, float64(s.pool.Available()))

	item := domain.NewDeliveryItem(s.stream, a.seq, lease.Value(), nil, lease.Release)
	if err := a.out.Push(s.subband, item); err != nil {
		item.Release()
		return fmt.Errorf("subband %d seq %d: %w", s.subband, a.seq, err)
	}
	return nil
}

// Run steps through blocks full integration periods, or until ctx is done
// when blocks is not positive.
func (a *Assembler) Run(ctx context.Context, blocks int) error {
	for n := 0; blocks <= 0 || n < blocks*a.cfg.IntegrationSteps; n++ {
		if err := ctx.Err(); err != nil {
			return err
		}
		if err := a.Step(ctx); err != nil {
			return err
		}
	}
	return nil
}
