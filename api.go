package beamflow

import (
	base "github.com/ghalamif/beamflow/pkg/beamflow"
)

// Re-exported errors for convenience.
var (
	ErrChannelSinkClosed = base.ErrChannelSinkClosed
)

// MetricsOff disables the metrics server when used as metrics.addr.
const MetricsOff = base.MetricsOff

// Type aliases so consumers can import github.com/ghalamif/beamflow directly.
type (
	Config            = base.Config
	Policy            = base.Policy
	ObservationConfig = base.ObservationConfig
	BeamformingConfig = base.BeamformingConfig
	GroupConfig       = base.GroupConfig
	StokesConfig      = base.StokesConfig
	AssemblerConfig   = base.AssemblerConfig
	TransportConfig   = base.TransportConfig
	NATSConfig        = base.NATSConfig
	SinkConfig        = base.SinkConfig
	TimescaleConfig   = base.TimescaleConfig
	MetricsConfig     = base.MetricsConfig
	Flow              = base.Flow
	FlowOption        = base.FlowOption
	StreamInOption    = base.StreamInOption
	StreamOutOption   = base.StreamOutOption
	Runtime           = base.Runtime
	RuntimeOption     = base.RuntimeOption
	Item              = base.Item
	ItemBatchSink     = base.ItemBatchSink
	DeliveryItem      = base.DeliveryItem
	IntegratedResult  = base.IntegratedResult
	StokesData        = base.StokesData
	FlagRun           = base.FlagRun
	Sink              = base.Sink
	Transport         = base.Transport
	CoreReader        = base.CoreReader
	Channelizer       = base.Channelizer
	Observability     = base.Observability
	Field             = base.Field
	Counters          = base.Counters
	StreamStats       = base.StreamStats
)

// Config helpers.
func LoadConfig(path string) (*Config, error) {
	return base.LoadConfig(path)
}

func ParseConfig(raw []byte) (*Config, error) {
	return base.ParseConfig(raw)
}

// Flow builder helpers.
func Conf(path string, opts ...FlowOption) (*Flow, error) {
	return base.Conf(path, opts...)
}

func ConfFromConfig(cfg *Config, opts ...FlowOption) (*Flow, error) {
	return base.ConfFromConfig(cfg, opts...)
}

func WithFlowOptions(opts ...RuntimeOption) FlowOption {
	return base.WithFlowOptions(opts...)
}

func StreamInTransport(t Transport) StreamInOption {
	return base.StreamInTransport(t)
}

func StreamInChannelizer(c Channelizer) StreamInOption {
	return base.StreamInChannelizer(c)
}

func StreamInCoreReader(r CoreReader) StreamInOption {
	return base.StreamInCoreReader(r)
}

func StreamOutSink(s Sink) StreamOutOption {
	return base.StreamOutSink(s)
}

func StreamOutObservability(obs Observability) StreamOutOption {
	return base.StreamOutObservability(obs)
}

func StreamOutCallback(name string, fn ItemBatchSink) StreamOutOption {
	return base.StreamOutCallback(name, fn)
}

// Runtime and options.
func NewRuntime(cfg *Config, opts ...RuntimeOption) (*Runtime, error) {
	return base.NewRuntime(cfg, opts...)
}

func WithTransport(t Transport) RuntimeOption {
	return base.WithTransport(t)
}

func WithSink(s Sink) RuntimeOption {
	return base.WithSink(s)
}

func WithChannelizer(c Channelizer) RuntimeOption {
	return base.WithChannelizer(c)
}

func WithCoreReader(r CoreReader) RuntimeOption {
	return base.WithCoreReader(r)
}

func WithObservability(obs Observability) RuntimeOption {
	return base.WithObservability(obs)
}

// Sink adapters.
func NewCallbackSink(name string, fn ItemBatchSink) Sink {
	return base.NewCallbackSink(name, fn)
}

func NewChannelSink(name string, buffer int) (Sink, <-chan []Item, func()) {
	return base.NewChannelSink(name, buffer)
}

// ReadRecords replays a record file written by the file sink.
func ReadRecords(path string, from uint64, fn func(Item) error) error {
	return base.ReadRecords(path, from, fn)
}
