package beamflow

import (
	"github.com/ghalamif/beamflow/internal/adapters/transport"
	"github.com/ghalamif/beamflow/internal/app/config"
	"github.com/ghalamif/beamflow/internal/ports"
)

// Config re-exports the root configuration struct so downstream projects can
// construct or modify it programmatically.
type Config = config.Config

type (
	// Policy controls queue depths, pool sizes and real-time dropping.
	Policy = ports.Policy
	// ObservationConfig describes the station blocks to receive.
	ObservationConfig = config.ObservationConfig
	// BeamformingConfig holds the flag threshold and beam groups.
	BeamformingConfig = config.BeamformingConfig
	GroupConfig       = config.GroupConfig
	StokesConfig      = config.StokesConfig
	// AssemblerConfig enables the correlator output path.
	AssemblerConfig = config.AssemblerConfig
	TransportConfig = config.TransportConfig
	NATSConfig      = transport.NATSConfig
	SinkConfig      = config.SinkConfig
	TimescaleConfig = config.TimescaleConfig
	// MetricsConfig configures the metrics HTTP server.
	MetricsConfig = config.MetricsConfig
)

// LoadConfig loads YAML from disk using the internal config reader.
func LoadConfig(path string) (*Config, error) {
	return config.Load(path)
}

// ParseConfig reads YAML from memory, applying defaults and validation.
func ParseConfig(raw []byte) (*Config, error) {
	return config.Parse(raw)
}
