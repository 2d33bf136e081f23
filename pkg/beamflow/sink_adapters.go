package beamflow

import (
	"errors"
	"fmt"
	"sync"

	"github.com/ghalamif/beamflow/internal/adapters/sink"
	"github.com/ghalamif/beamflow/internal/domain"
)

// ErrChannelSinkClosed is returned when a channel sink is written to after being closed.
var ErrChannelSinkClosed = errors.New("beamflow: channel sink closed")

// Item is a caller-owned copy of a delivered result. Correlator results fill
// Subband and Samples; Stokes results fill the shape fields and Values,
// laid out stokes-major, then channel, then time.
type Item struct {
	Stream string
	Seq    uint64

	Subband int
	Samples []complex64

	NrStokes  int
	Channels  int
	Times     int
	Precision Precision
	Values    []float64

	Flagged []FlagRun
}

// ItemBatchSink is invoked with ordered batches of one stream.
type ItemBatchSink func([]Item) error

func itemFromDomain(d *domain.DeliveryItem) Item {
	it := Item{Stream: d.Stream, Seq: d.Seq}
	if d.Result != nil {
		it.Subband = d.Result.Subband
		it.Samples = append([]complex64(nil), d.Result.Samples...)
	}
	if s := d.Stokes; s != nil {
		it.NrStokes, it.Channels, it.Times, it.Precision = s.NrStokes, s.Channels, s.Times, s.Precision
		it.Values = append([]float64(nil), s.Values...)
	}
	if f := d.Flags(); f != nil {
		it.Flagged = f.Runs()
	}
	return it
}

func convertDomainBatch(items []*domain.DeliveryItem) []Item {
	if len(items) == 0 {
		return nil
	}
	out := make([]Item, len(items))
	for i, item := range items {
		out[i] = itemFromDomain(item)
	}
	return out
}

// NewCallbackSink adapts an ItemBatchSink into a full Sink so callers can
// plug arbitrary functions without defining structs.
func NewCallbackSink(name string, fn ItemBatchSink) Sink {
	if name == "" {
		name = "callback"
	}
	return &callbackSink{name: name, fn: fn}
}

// NewChannelSink exposes batches via a channel; it returns the sink, the read-only channel,
// and a close function that the caller should invoke during shutdown.
func NewChannelSink(name string, buffer int) (Sink, <-chan []Item, func()) {
	if name == "" {
		name = "channel"
	}
	if buffer < 0 {
		buffer = 0
	}
	ch := make(chan []Item, buffer)
	s := &channelSink{
		name:   name,
		ch:     ch,
		closed: make(chan struct{}),
	}
	return s, ch, func() { s.close() }
}

type callbackSink struct {
	name string
	fn   ItemBatchSink
}

func (s *callbackSink) WriteBatch(items []*domain.DeliveryItem) error {
	if s.fn == nil {
		return fmt.Errorf("callback sink %q: nil handler", s.name)
	}
	if len(items) == 0 {
		return nil
	}
	return s.fn(convertDomainBatch(items))
}

func (s *callbackSink) Name() string { return s.name }

type channelSink struct {
	name   string
	ch     chan []Item
	closed chan struct{}
	mu     sync.RWMutex
	once   sync.Once
}

func (s *channelSink) WriteBatch(items []*domain.DeliveryItem) error {
	// several writers share one sink; hold the read lock so close cannot
	// close the channel under a pending send
	s.mu.RLock()
	defer s.mu.RUnlock()

	select {
	case <-s.closed:
		return ErrChannelSinkClosed
	default:
	}

	if len(items) == 0 {
		return nil
	}

	batch := convertDomainBatch(items)

	select {
	case <-s.closed:
		return ErrChannelSinkClosed
	case s.ch <- batch:
		return nil
	}
}

func (s *channelSink) Name() string { return s.name }

func (s *channelSink) close() {
	s.once.Do(func() {
		close(s.closed)
		s.mu.Lock()
		close(s.ch)
		s.mu.Unlock()
	})
}

// ReadRecords replays a record file written by the file sink, calling fn for
// every record from the given 1-based position on.
func ReadRecords(path string, from uint64, fn func(Item) error) error {
	return sink.ReadFile(path, sink.RecordID(from), func(_ sink.RecordID, d *domain.DeliveryItem) error {
		return fn(itemFromDomain(d))
	})
}
