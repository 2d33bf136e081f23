package config

import (
	"fmt"
	"os"

	"gopkg.in/yaml.v3"

	"github.com/ghalamif/beamflow/internal/adapters/sink"
	"github.com/ghalamif/beamflow/internal/adapters/transport"
	"github.com/ghalamif/beamflow/internal/app/assembler"
	"github.com/ghalamif/beamflow/internal/app/beamform"
	"github.com/ghalamif/beamflow/internal/app/pipeline"
	"github.com/ghalamif/beamflow/internal/app/stokes"
	"github.com/ghalamif/beamflow/internal/app/transpose"
	"github.com/ghalamif/beamflow/internal/domain"
	"github.com/ghalamif/beamflow/internal/ports"
)

type Config struct {
	Observation ObservationConfig `yaml:"observation"`
	Beamforming BeamformingConfig `yaml:"beamforming"`
	Stokes      StokesConfig      `yaml:"stokes"`
	Assembler   AssemblerConfig   `yaml:"assembler"`
	Policy      ports.Policy      `yaml:"policy"`
	Transport   TransportConfig   `yaml:"transport"`
	Sink        SinkConfig        `yaml:"sink"`
	Timescale   TimescaleConfig   `yaml:"timescale"`
	Metrics     MetricsConfig     `yaml:"metrics"`
}

// ObservationConfig describes the station blocks arriving over the
// interconnect. Station order defines the station indices.
type ObservationConfig struct {
	Stations     []string `yaml:"stations"`
	Beamlets     []int    `yaml:"beamlets"`
	BlockSize    int      `yaml:"block_size"`
	Pols         int      `yaml:"pols"`
	MetadataSize int      `yaml:"metadata_size"`
	FirstBlock   int64    `yaml:"first_block"`
	Blocks       int      `yaml:"blocks"`
}

type BeamformingConfig struct {
	Threshold float64       `yaml:"threshold"`
	Groups    []GroupConfig `yaml:"groups"`
}

// GroupConfig names the stations of one coherent beam; the first station
// carries the group's result.
type GroupConfig struct {
	Name     string   `yaml:"name"`
	Stations []string `yaml:"stations"`
}

type StokesConfig struct {
	Mode             string  `yaml:"mode"`
	IntegrationSteps int     `yaml:"integration_steps"`
	FullStokes       bool    `yaml:"full_stokes"`
	Threshold        float64 `yaml:"threshold"`
	Precision        string  `yaml:"precision"`
}

// AssemblerConfig enables the correlator output path when Subbands is set.
type AssemblerConfig struct {
	Subbands         []int `yaml:"subbands"`
	Cores            []int `yaml:"cores"`
	SlotsPerRound    int   `yaml:"slots_per_round"`
	IntegrationSteps int   `yaml:"integration_steps"`
	SamplesPerResult int   `yaml:"samples_per_result"`
	FlagSize         int   `yaml:"flag_size"`
	Blocks           int   `yaml:"blocks"`
}

func (a AssemblerConfig) Enabled() bool { return len(a.Subbands) > 0 }

type TransportConfig struct {
	Kind string               `yaml:"kind"`
	NATS transport.NATSConfig `yaml:"nats"`
}

type SinkConfig struct {
	Kind  string `yaml:"kind"`
	Dir   string `yaml:"dir"`
	Codec string `yaml:"codec"`
	Fsync bool   `yaml:"fsync"`
}

type TimescaleConfig struct {
	ConnString string `yaml:"conn_string"`
	Table      string `yaml:"table"`
}

type MetricsConfig struct {
	Addr string `yaml:"addr"`
}

func Load(path string) (*Config, error) {
	raw, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}
	return Parse(raw)
}

// Parse decodes YAML, fills defaults and validates the result.
func Parse(raw []byte) (*Config, error) {
	var cfg Config
	if err := yaml.Unmarshal(raw, &cfg); err != nil {
		return nil, err
	}

	cfg.ApplyDefaults()
	if err := cfg.Validate(); err != nil {
		return nil, err
	}

	return &cfg, nil
}

func (c *Config) ApplyDefaults() {
	if c.Observation.BlockSize == 0 {
		c.Observation.BlockSize = 3072
	}
	if c.Observation.Pols == 0 {
		c.Observation.Pols = 2
	}
	if c.Stokes.Mode == "" {
		c.Stokes.Mode = stokes.Coherent.String()
		if len(c.Beamforming.Groups) == 0 {
			c.Stokes.Mode = stokes.Incoherent.String()
		}
	}
	if c.Stokes.IntegrationSteps == 0 {
		c.Stokes.IntegrationSteps = 1
	}
	if c.Stokes.Precision == "" {
		c.Stokes.Precision = domain.Float32.String()
	}
	if c.Assembler.IntegrationSteps == 0 {
		c.Assembler.IntegrationSteps = 1
	}
	if c.Policy.QueueDepth == 0 {
		c.Policy.QueueDepth = 64
	}
	if c.Policy.PoolSize == 0 {
		c.Policy.PoolSize = 4
	}
	if c.Policy.MaxBatchSize == 0 {
		c.Policy.MaxBatchSize = 16
	}
	if c.Policy.Workers == 0 {
		c.Policy.Workers = 2
	}
	if c.Transport.Kind == "" {
		c.Transport.Kind = "nats"
	}
	if c.Transport.Kind == "nats" {
		c.Transport.NATS.ApplyDefaults()
	}
	if c.Sink.Kind == "" {
		c.Sink.Kind = "file"
	}
	if c.Sink.Dir == "" {
		c.Sink.Dir = "./data/beams"
	}
	if c.Sink.Codec == "" {
		c.Sink.Codec = sink.CodecZstd.String()
	}
	if c.Timescale.Table == "" {
		c.Timescale.Table = "beams"
	}
	if c.Metrics.Addr == "" {
		c.Metrics.Addr = ":9100"
	}
}

func (c *Config) Validate() error {
	obs := c.Observation
	switch {
	case len(obs.Stations) == 0:
		return fmt.Errorf("observation.stations is required")
	case len(obs.Beamlets) == 0:
		return fmt.Errorf("observation.beamlets is required")
	case obs.BlockSize <= 0 || obs.Pols <= 0:
		return fmt.Errorf("observation.block_size and observation.pols must be > 0")
	case obs.MetadataSize < 0 || obs.Blocks < 0:
		return fmt.Errorf("observation.metadata_size and observation.blocks must be >= 0")
	}
	if _, err := c.stationIndex(); err != nil {
		return err
	}

	mode, err := stokes.ParseMode(c.Stokes.Mode)
	if err != nil {
		return fmt.Errorf("stokes.mode: %w", err)
	}
	if _, err := domain.ParsePrecision(c.Stokes.Precision); err != nil {
		return fmt.Errorf("stokes.precision: %w", err)
	}
	if c.Stokes.IntegrationSteps <= 0 || obs.BlockSize%c.Stokes.IntegrationSteps != 0 {
		return fmt.Errorf("stokes.integration_steps %d must divide block_size %d", c.Stokes.IntegrationSteps, obs.BlockSize)
	}
	if mode == stokes.Coherent && len(c.Beamforming.Groups) == 0 {
		return fmt.Errorf("coherent mode needs at least one beamforming group")
	}
	if _, err := c.groups(); err != nil {
		return err
	}

	if c.Assembler.Enabled() {
		a := c.Assembler
		switch {
		case len(a.Cores) == 0:
			return fmt.Errorf("assembler.cores is required")
		case a.SamplesPerResult <= 0:
			return fmt.Errorf("assembler.samples_per_result must be > 0")
		case a.FlagSize < 0 || a.Blocks < 0:
			return fmt.Errorf("assembler.flag_size and assembler.blocks must be >= 0")
		case a.SlotsPerRound != 0 && a.SlotsPerRound < len(a.Subbands):
			return fmt.Errorf("assembler.slots_per_round %d below %d subbands", a.SlotsPerRound, len(a.Subbands))
		}
	}

	if c.Policy.QueueDepth <= 0 || c.Policy.MaxBatchSize <= 0 || c.Policy.Workers <= 0 {
		return fmt.Errorf("policy.queue_depth, policy.max_batch_size and policy.workers must be > 0")
	}

	switch c.Transport.Kind {
	case "memory":
	case "nats":
		if err := c.Transport.NATS.Validate(); err != nil {
			return fmt.Errorf("transport.nats: %w", err)
		}
	default:
		return fmt.Errorf("unknown transport.kind %q", c.Transport.Kind)
	}

	if _, err := sink.ParseCodec(c.Sink.Codec); err != nil {
		return fmt.Errorf("sink.codec: %w", err)
	}
	switch c.Sink.Kind {
	case "file":
		if c.Sink.Dir == "" {
			return fmt.Errorf("sink.dir is required")
		}
	case "timescale":
		if c.Timescale.ConnString == "" {
			return fmt.Errorf("timescale.conn_string is required")
		}
	default:
		return fmt.Errorf("unknown sink.kind %q", c.Sink.Kind)
	}
	if c.Metrics.Addr == "" {
		return fmt.Errorf("metrics.addr is required")
	}
	return nil
}

func (c *Config) stationIndex() (map[string]int, error) {
	idx := make(map[string]int, len(c.Observation.Stations))
	for i, name := range c.Observation.Stations {
		if _, dup := idx[name]; dup {
			return nil, fmt.Errorf("observation.stations lists %q twice", name)
		}
		idx[name] = i
	}
	return idx, nil
}

func (c *Config) groups() ([]beamform.Group, error) {
	idx, err := c.stationIndex()
	if err != nil {
		return nil, err
	}
	out := make([]beamform.Group, 0, len(c.Beamforming.Groups))
	for _, g := range c.Beamforming.Groups {
		if g.Name == "" {
			return nil, fmt.Errorf("beamforming group without a name")
		}
		grp := beamform.Group{Name: g.Name}
		for _, name := range g.Stations {
			i, ok := idx[name]
			if !ok {
				return nil, fmt.Errorf("beamforming group %q: unknown station %q", g.Name, name)
			}
			grp.Stations = append(grp.Stations, i)
		}
		out = append(out, grp)
	}
	return out, nil
}

// BeamPipeline resolves the station names of a validated config into the
// beam pipeline's configuration.
func (c *Config) BeamPipeline() (pipeline.BeamConfig, error) {
	groups, err := c.groups()
	if err != nil {
		return pipeline.BeamConfig{}, err
	}
	mode, err := stokes.ParseMode(c.Stokes.Mode)
	if err != nil {
		return pipeline.BeamConfig{}, err
	}
	prec, err := domain.ParsePrecision(c.Stokes.Precision)
	if err != nil {
		return pipeline.BeamConfig{}, err
	}

	stations := make([]int, len(c.Observation.Stations))
	for i := range stations {
		stations[i] = i
	}
	return pipeline.BeamConfig{
		Receiver: transpose.ReceiverConfig{
			Stations:     stations,
			Beamlets:     append([]int(nil), c.Observation.Beamlets...),
			BlockSize:    c.Observation.BlockSize,
			Pols:         c.Observation.Pols,
			MetadataSize: c.Observation.MetadataSize,
		},
		FirstBlock: c.Observation.FirstBlock,
		Blocks:     c.Observation.Blocks,
		Combiner:   beamform.Config{Threshold: c.Beamforming.Threshold, Groups: groups},
		Stokes: stokes.Config{
			Mode:             mode,
			IntegrationSteps: c.Stokes.IntegrationSteps,
			FullStokes:       c.Stokes.FullStokes,
			Threshold:        c.Stokes.Threshold,
			Precision:        prec,
		},
		Policy: c.Policy,
	}, nil
}

func (c *Config) AssemblerLoop() pipeline.AssemblerConfig {
	a := c.Assembler
	return pipeline.AssemblerConfig{
		Assembler: assembler.Config{
			Subbands:         append([]int(nil), a.Subbands...),
			SlotsPerRound:    a.SlotsPerRound,
			Cores:            append([]int(nil), a.Cores...),
			IntegrationSteps: a.IntegrationSteps,
			SamplesPerResult: a.SamplesPerResult,
			FlagSize:         a.FlagSize,
		},
		Blocks: a.Blocks,
		Policy: c.Policy,
	}
}
