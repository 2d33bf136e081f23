package domain

import (
	"fmt"
	"sync"
)

// IntegratedResult accumulates partial contributions for one subband. Seq
// is its position in the subband's output stream.
type IntegratedResult struct {
	Subband int
	Seq     uint64
	Samples []complex64
	Flags   *FlagSet
}

func NewIntegratedResult(nrSamples, flagSize int) *IntegratedResult {
	return &IntegratedResult{
		Samples: make([]complex64, nrSamples),
		Flags:   NewFlagSet(flagSize),
	}
}

// Add sums o into r and ORs its flags.
func (r *IntegratedResult) Add(o *IntegratedResult) error {
	if len(o.Samples) != len(r.Samples) {
		return fmt.Errorf("integrate subband %d: %d samples into %d", r.Subband, len(o.Samples), len(r.Samples))
	}
	for i, v := range o.Samples {
		r.Samples[i] += v
	}
	r.Flags.Union(o.Flags)
	return nil
}

func (r *IntegratedResult) Reset() {
	clear(r.Samples)
	r.Flags.Reset()
	r.Seq = 0
}

func (r *IntegratedResult) CopyFrom(o *IntegratedResult) {
	r.Subband = o.Subband
	r.Seq = o.Seq
	copy(r.Samples, o.Samples)
	r.Flags.CopyFrom(o.Flags)
}

// Precision selects the storage width of emitted values. Accumulation is
// always float64.
type Precision uint8

const (
	Float32 Precision = iota
	Float64
)

func (p Precision) String() string {
	if p == Float64 {
		return "float64"
	}
	return "float32"
}

func ParsePrecision(s string) (Precision, error) {
	switch s {
	case "", "float32":
		return Float32, nil
	case "float64":
		return Float64, nil
	default:
		return Float32, fmt.Errorf("unknown precision %q", s)
	}
}

func (p Precision) Round(v float64) float64 {
	if p == Float32 {
		return float64(float32(v))
	}
	return v
}

// StokesData holds Stokes parameters laid out stokes-major, then channel,
// then output time.
type StokesData struct {
	NrStokes  int
	Channels  int
	Times     int
	Precision Precision
	Values    []float64
	Flags     *FlagSet
}

func NewStokesData(nrStokes, channels, times int, precision Precision) *StokesData {
	return &StokesData{
		NrStokes:  nrStokes,
		Channels:  channels,
		Times:     times,
		Precision: precision,
		Values:    make([]float64, nrStokes*channels*times),
		Flags:     NewFlagSet(times),
	}
}

func (s *StokesData) Index(stokes, ch, t int) int {
	return (stokes*s.Channels+ch)*s.Times + t
}

func (s *StokesData) At(stokes, ch, t int) float64 {
	return s.Values[s.Index(stokes, ch, t)]
}

// DeliveryItem is a fully formed result owned by the delivery stage until it
// is written or dropped. Exactly one of Result and Stokes is set.
type DeliveryItem struct {
	Stream string
	Seq    uint64
	Result *IntegratedResult
	Stokes *StokesData

	releaseOnce sync.Once
	release     func()
}

// NewDeliveryItem wraps a result; release, if non-nil, runs once when the
// item is written or dropped.
func NewDeliveryItem(stream string, seq uint64, result *IntegratedResult, stokes *StokesData, release func()) *DeliveryItem {
	return &DeliveryItem{
		Stream:  stream,
		Seq:     seq,
		Result:  result,
		Stokes:  stokes,
		release: release,
	}
}

func (d *DeliveryItem) Release() {
	if d == nil {
		return
	}
	d.releaseOnce.Do(func() {
		if d.release != nil {
			d.release()
		}
	})
}

func (d *DeliveryItem) Flags() *FlagSet {
	switch {
	case d.Result != nil:
		return d.Result.Flags
	case d.Stokes != nil:
		return d.Stokes.Flags
	default:
		return nil
	}
}
