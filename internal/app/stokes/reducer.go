// Package stokes turns dual-polarization samples into integrated Stokes
// parameters.
package stokes

import (
	"fmt"

	"github.com/ghalamif/beamflow/internal/app/env"
	"github.com/ghalamif/beamflow/internal/domain"
	"github.com/ghalamif/beamflow/internal/ports"
)

// Mode selects how inputs are combined.
type Mode uint8

const (
	// Coherent reduces one beam; its own flags apply and the divisor is 1.
	Coherent Mode = iota
	// Incoherent sums the power of several stations, leaving out those
	// above the flag threshold and dividing by the number included.
	Incoherent
)

func (m Mode) String() string {
	if m == Incoherent {
		return "incoherent"
	}
	return "coherent"
}

func ParseMode(s string) (Mode, error) {
	switch s {
	case "", "coherent":
		return Coherent, nil
	case "incoherent":
		return Incoherent, nil
	default:
		return Coherent, fmt.Errorf("unknown stokes mode %q", s)
	}
}

const (
	StokesI = iota
	StokesQ
	StokesU
	StokesV
)

type Config struct {
	Mode             Mode
	IntegrationSteps int
	FullStokes       bool
	Threshold        float64
	Precision        domain.Precision
}

func (c Config) NrStokes() int {
	if c.FullStokes {
		return 4
	}
	return 1
}

type Result struct {
	Included []int
	Excluded []int
	// Fallback is set when no input was usable and the output is the
	// all-zero, all-flagged period.
	Fallback bool
}

// Reducer is not safe for concurrent use; give each worker its own.
type Reducer struct {
	env   *env.Env
	cfg   Config
	use   []*domain.StationData
	flags *domain.FlagSet

	// pending counts exclusions not yet reported
	pending uint64
}

func NewReducer(e *env.Env, cfg Config) (*Reducer, error) {
	if cfg.IntegrationSteps <= 0 {
		return nil, fmt.Errorf("integration steps must be positive, got %d", cfg.IntegrationSteps)
	}
	if cfg.Threshold < 0 || cfg.Threshold > 1 {
		return nil, fmt.Errorf("flag threshold %.3f outside [0,1]", cfg.Threshold)
	}
	return &Reducer{env: e, cfg: cfg}, nil
}

func (r *Reducer) Config() Config { return r.cfg }

// NewOutput allocates a StokesData for inputs of the given shape.
func (r *Reducer) NewOutput(channels, times int) *domain.StokesData {
	return domain.NewStokesData(r.cfg.NrStokes(), channels, times/r.cfg.IntegrationSteps, r.cfg.Precision)
}

// Reduce overwrites out with the Stokes parameters of in. Coherent mode
// takes exactly one input.
func (r *Reducer) Reduce(in []*domain.StationData, out *domain.StokesData) (Result, error) {
	var res Result
	if len(in) == 0 {
		return res, fmt.Errorf("stokes: no input")
	}
	if r.cfg.Mode == Coherent && len(in) != 1 {
		return res, fmt.Errorf("stokes: coherent mode takes one beam, got %d", len(in))
	}
	shape := in[0].Cube
	k := r.cfg.IntegrationSteps
	if shape.Times%k != 0 {
		return res, fmt.Errorf("stokes: %d time steps not divisible by %d", shape.Times, k)
	}
	if out.NrStokes != r.cfg.NrStokes() || out.Channels != shape.Channels || out.Times != shape.Times/k {
		return res, fmt.Errorf("stokes: output %dx%dx%d does not fit input %dx%d/%d",
			out.NrStokes, out.Channels, out.Times, shape.Channels, shape.Times, k)
	}

	r.use = r.use[:0]
	for _, sd := range in {
		if !sd.SameShape(shape) || sd.Flags.Size() != sd.Times {
			return res, fmt.Errorf("stokes: station %d shape differs", sd.Station)
		}
		if r.cfg.Mode == Incoherent && sd.Flags.Fraction() > r.cfg.Threshold {
			res.Excluded = append(res.Excluded, sd.Station)
			continue
		}
		res.Included = append(res.Included, sd.Station)
		r.use = append(r.use, sd)
	}
	if n := len(res.Excluded); n > 0 {
		r.pending += uint64(n)
		r.env.Counters.StationsExcluded.Add(uint64(n))
		r.env.Obs.IncCounter(ports.MetricStationsExcluded, float64(n))
	}

	out.Precision = r.cfg.Precision
	clear(out.Values)
	if len(r.use) == 0 {
		res.Fallback = true
		out.Flags.Reset()
		out.Flags.IncludeRange(0, out.Times)
		return res, nil
	}

	if r.flags == nil || r.flags.Size() != shape.Times {
		r.flags = domain.NewFlagSet(shape.Times)
	} else {
		r.flags.Reset()
	}
	for _, sd := range r.use {
		r.flags.Union(sd.Flags)
		r.accumulate(sd, out)
	}
	r.emit(out, float64(len(r.use)))
	out.Flags.CopyFrom(r.flags.Scale(k))
	return res, nil
}

// ReportExclusions logs a warning when stations were left out of the
// incoherent sum since the last report.
func (r *Reducer) ReportExclusions() {
	if r.pending == 0 {
		return
	}
	r.env.Obs.LogWarn(fmt.Sprintf("excluded %d station-periods from the incoherent beam", r.pending),
		ports.Field{Key: "excluded", Value: r.pending},
	)
	r.pending = 0
}

// accumulate adds one input's unflagged power into out. U and V hold the
// undoubled cross term until emit.
func (r *Reducer) accumulate(sd *domain.StationData, out *domain.StokesData) {
	k := r.cfg.IntegrationSteps
	full := r.cfg.FullStokes
	for ch := 0; ch < sd.Channels; ch++ {
		for t := 0; t < sd.Times; t++ {
			if sd.Flags.Test(t) {
				continue
			}
			x := complex128(sd.At(ch, t, 0))
			var y complex128
			if sd.Pols > 1 {
				y = complex128(sd.At(ch, t, 1))
			}
			xx := real(x)*real(x) + imag(x)*imag(x)
			yy := real(y)*real(y) + imag(y)*imag(y)

			ot := t / k
			out.Values[out.Index(StokesI, ch, ot)] += xx + yy
			if full {
				cross := x * complex(real(y), -imag(y))
				out.Values[out.Index(StokesQ, ch, ot)] += xx - yy
				out.Values[out.Index(StokesU, ch, ot)] += real(cross)
				out.Values[out.Index(StokesV, ch, ot)] += imag(cross)
			}
		}
	}
}

func (r *Reducer) emit(out *domain.StokesData, divisor float64) {
	if divisor < 1 {
		divisor = 1
	}
	per := out.Channels * out.Times
	for s := 0; s < out.NrStokes; s++ {
		scale := 1 / divisor
		if s == StokesU || s == StokesV {
			scale *= 2
		}
		vals := out.Values[s*per : (s+1)*per]
		for i, v := range vals {
			vals[i] = out.Precision.Round(v * scale)
		}
	}
}
