// Package env carries the state every pipeline component is constructed
// with: the immutable station mapping, the shared drop/throughput counters
// and the observability backend.
package env

import (
	"fmt"
	"sync/atomic"

	"github.com/ghalamif/beamflow/internal/ports"
)

type Env struct {
	Stations StationMap
	Counters *Counters
	Obs      ports.Observability
}

func New(stations []string, obs ports.Observability) (*Env, error) {
	m, err := NewStationMap(stations)
	if err != nil {
		return nil, err
	}
	if obs == nil {
		return nil, fmt.Errorf("observability is required")
	}
	return &Env{Stations: m, Counters: &Counters{}, Obs: obs}, nil
}

// StationMap maps station indices to names. It never changes after
// construction.
type StationMap struct {
	names []string
	index map[string]int
}

func NewStationMap(names []string) (StationMap, error) {
	m := StationMap{
		names: append([]string(nil), names...),
		index: make(map[string]int, len(names)),
	}
	for i, n := range names {
		if n == "" {
			return StationMap{}, fmt.Errorf("station %d has no name", i)
		}
		if _, dup := m.index[n]; dup {
			return StationMap{}, fmt.Errorf("station %q listed twice", n)
		}
		m.index[n] = i
	}
	return m, nil
}

func (m StationMap) Len() int { return len(m.names) }

func (m StationMap) Name(i int) string {
	if i < 0 || i >= len(m.names) {
		return fmt.Sprintf("station-%d", i)
	}
	return m.names[i]
}

func (m StationMap) Index(name string) (int, bool) {
	i, ok := m.index[name]
	return i, ok
}

// Counters are the only state mutated from several goroutines.
type Counters struct {
	BlocksReceived   atomic.Uint64
	StationsExcluded atomic.Uint64
	AssemblerDrops   atomic.Uint64
	QueueDrops       atomic.Uint64
	ItemsWritten     atomic.Uint64
	WriteFailures    atomic.Uint64
}

type Snapshot struct {
	BlocksReceived   uint64 `json:"blocks_received"`
	StationsExcluded uint64 `json:"stations_excluded"`
	AssemblerDrops   uint64 `json:"assembler_drops"`
	QueueDrops       uint64 `json:"queue_drops"`
	ItemsWritten     uint64 `json:"items_written"`
	WriteFailures    uint64 `json:"write_failures"`
}

func (c *Counters) Snapshot() Snapshot {
	return Snapshot{
		BlocksReceived:   c.BlocksReceived.Load(),
		StationsExcluded: c.StationsExcluded.Load(),
		AssemblerDrops:   c.AssemblerDrops.Load(),
		QueueDrops:       c.QueueDrops.Load(),
		ItemsWritten:     c.ItemsWritten.Load(),
		WriteFailures:    c.WriteFailures.Load(),
	}
}
