package beamflow

import (
	"github.com/ghalamif/beamflow/internal/app/env"
	"github.com/ghalamif/beamflow/internal/domain"
	"github.com/ghalamif/beamflow/internal/ports"
)

// DeliveryItem is what the output queues hand to a Sink. Items are released
// back to their pools once WriteBatch returns, so sinks must copy what they
// keep.
type DeliveryItem = domain.DeliveryItem

type (
	IntegratedResult = domain.IntegratedResult
	StokesData       = domain.StokesData
	FlagSet          = domain.FlagSet
	FlagRun          = domain.FlagRun
	Precision        = domain.Precision
)

// Sink persists batches of delivery items.
type Sink = ports.Sink

// Transport is the tagged interconnect station blocks and core partials
// arrive on.
type Transport = ports.Transport

// CoreReader reads compute-core partials for the assembler.
type CoreReader = ports.CoreReader

// Channelizer turns received blocks into channelised station data.
type Channelizer = ports.Channelizer

// Observability emits metrics and logs about throughput, drops and failures.
type Observability = ports.Observability

// Field is a structured log field used by Observability implementations.
type Field = ports.Field

// Counters is a point-in-time copy of the runtime's drop and throughput
// counters.
type Counters = env.Snapshot
