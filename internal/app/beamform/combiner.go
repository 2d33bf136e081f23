// Package beamform sums station groups into synthesized beams.
package beamform

import (
	"fmt"

	"github.com/ghalamif/beamflow/internal/app/env"
	"github.com/ghalamif/beamflow/internal/domain"
	"github.com/ghalamif/beamflow/internal/ports"
)

// Group is a named set of stations forming one beam. Stations[0] is the
// primary: its buffer receives the combined beam.
type Group struct {
	Name     string `yaml:"name"`
	Stations []int  `yaml:"stations"`
}

type Config struct {
	// Threshold is the flagged fraction above which a station is left out
	// of the period's sum.
	Threshold float64
	Groups    []Group
}

func (c Config) validate(nrStations int) error {
	if c.Threshold < 0 || c.Threshold > 1 {
		return fmt.Errorf("flag threshold %.3f outside [0,1]", c.Threshold)
	}
	for _, g := range c.Groups {
		if len(g.Stations) == 0 {
			return fmt.Errorf("group %q has no stations", g.Name)
		}
		seen := make(map[int]bool, len(g.Stations))
		for _, st := range g.Stations {
			if st < 0 || (nrStations > 0 && st >= nrStations) {
				return fmt.Errorf("group %q: station %d out of range", g.Name, st)
			}
			if seen[st] {
				return fmt.Errorf("group %q lists station %d twice", g.Name, st)
			}
			seen[st] = true
		}
	}
	return nil
}

// Result reports which stations contributed to a combined period.
type Result struct {
	Group    string
	Primary  int
	Included []int
	Excluded []int
}

// Combiner is not safe for concurrent use; give each worker its own.
type Combiner struct {
	env      *env.Env
	cfg      Config
	included []*domain.StationData
	sum      []complex128
	flags    *domain.FlagSet

	// pending counts exclusions per group not yet reported
	pending map[string]uint64
}

func NewCombiner(e *env.Env, cfg Config) (*Combiner, error) {
	if err := cfg.validate(e.Stations.Len()); err != nil {
		return nil, err
	}
	return &Combiner{env: e, cfg: cfg, pending: make(map[string]uint64, len(cfg.Groups))}, nil
}

func (c *Combiner) Groups() []Group { return c.cfg.Groups }

// CombineAll runs every configured group over data, indexed by station.
func (c *Combiner) CombineAll(data []*domain.StationData) ([]Result, error) {
	out := make([]Result, 0, len(c.cfg.Groups))
	for _, g := range c.cfg.Groups {
		res, err := c.Combine(g, data)
		if err != nil {
			return out, err
		}
		out = append(out, res)
	}
	return out, nil
}

// Combine sums the group's stations into the primary's buffer. data is
// indexed by station. The primary's flags become the union of the included
// stations' flags, and every flagged sample is zeroed.
func (c *Combiner) Combine(g Group, data []*domain.StationData) (Result, error) {
	primaryIdx := g.Stations[0]
	res := Result{Group: g.Name, Primary: primaryIdx}
	if primaryIdx >= len(data) || data[primaryIdx] == nil {
		return res, fmt.Errorf("group %q: no data for primary station %d", g.Name, primaryIdx)
	}
	primary := data[primaryIdx]

	if len(g.Stations) == 1 {
		res.Included = []int{primaryIdx}
		return res, nil
	}

	c.included = c.included[:0]
	for _, st := range g.Stations {
		if st >= len(data) || data[st] == nil {
			return res, fmt.Errorf("group %q: no data for station %d", g.Name, st)
		}
		sd := data[st]
		if !sd.SameShape(primary.Cube) || sd.Flags.Size() != sd.Times {
			return res, fmt.Errorf("group %q: station %d shape differs from primary %d", g.Name, st, primaryIdx)
		}
		if sd.Flags.Fraction() > c.cfg.Threshold {
			res.Excluded = append(res.Excluded, st)
			continue
		}
		res.Included = append(res.Included, st)
		c.included = append(c.included, sd)
	}
	if n := len(res.Excluded); n > 0 {
		c.pending[g.Name] += uint64(n)
		c.env.Counters.StationsExcluded.Add(uint64(n))
		c.env.Obs.IncCounter(ports.MetricStationsExcluded, float64(n))
	}

	if c.flags == nil || c.flags.Size() != primary.Flags.Size() {
		c.flags = domain.NewFlagSet(primary.Flags.Size())
	} else {
		c.flags.Reset()
	}
	for _, sd := range c.included {
		c.flags.Union(sd.Flags)
	}
	if len(c.included) == 0 {
		c.flags.IncludeRange(0, c.flags.Size())
	}

	c.sumInto(primary)
	primary.Flags.CopyFrom(c.flags)
	return res, nil
}

// ReportExclusions logs one warning per group that left stations out since
// the last report. Callers report once per block.
func (c *Combiner) ReportExclusions() {
	for _, g := range c.cfg.Groups {
		n := c.pending[g.Name]
		if n == 0 {
			continue
		}
		c.env.Obs.LogWarn(fmt.Sprintf("excluded %d station-periods in group %s", n, g.Name),
			ports.Field{Key: "group", Value: g.Name},
			ports.Field{Key: "excluded", Value: n},
		)
		c.pending[g.Name] = 0
	}
}

func (c *Combiner) sumInto(primary *domain.StationData) {
	cube := primary.Cube
	perChannel := cube.Times * cube.Pols
	if cap(c.sum) < perChannel {
		c.sum = make([]complex128, perChannel)
	}
	sum := c.sum[:perChannel]

	divisor := float64(len(c.included))
	if divisor < 1 {
		divisor = 1
	}
	scale := complex(1/divisor, 0)

	// channel 0 is the channelizer's DC guard band when there is more than one
	first := 0
	if cube.Channels > 1 {
		first = 1
	}
	for ch := first; ch < cube.Channels; ch++ {
		clear(sum)
		base := cube.Index(ch, 0, 0)
		for _, sd := range c.included {
			for i, v := range sd.Data[base : base+perChannel] {
				sum[i] += complex128(v)
			}
		}
		for i := range sum {
			cube.Data[base+i] = complex64(sum[i] * scale)
		}
	}

	for _, r := range c.flags.Runs() {
		for ch := 0; ch < cube.Channels; ch++ {
			clear(cube.Data[cube.Index(ch, r.Begin, 0):cube.Index(ch, r.End-1, cube.Pols-1)+1])
		}
	}
}
