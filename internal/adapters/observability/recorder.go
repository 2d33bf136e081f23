package observability

import (
	"errors"
	"fmt"
	"strings"
	"sync"

	"github.com/ghalamif/beamflow/internal/ports"
)

// Entry is one log line captured by a Recorder.
type Entry struct {
	Level  string
	Msg    string
	Err    error
	Fields []ports.Field
}

// Drop is one RecordDrop call captured by a Recorder.
type Drop struct {
	Stream string
	Seq    uint64
	Reason string
}

// Recorder keeps everything in memory. It backs embedded runtimes that have
// no metrics endpoint and is what the package tests assert against.
type Recorder struct {
	mu       sync.Mutex
	entries  []Entry
	drops    []Drop
	counters map[string]float64
	gauges   map[string]float64
	latency  map[string]int
}

func NewRecorder() *Recorder {
	return &Recorder{
		counters: make(map[string]float64),
		gauges:   make(map[string]float64),
		latency:  make(map[string]int),
	}
}

func (r *Recorder) log(level, msg string, err error, fields []ports.Field) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.entries = append(r.entries, Entry{Level: level, Msg: msg, Err: err, Fields: append([]ports.Field(nil), fields...)})
}

func (r *Recorder) LogInfo(msg string, fields ...ports.Field) { r.log("info", msg, nil, fields) }
func (r *Recorder) LogWarn(msg string, fields ...ports.Field) { r.log("warn", msg, nil, fields) }

func (r *Recorder) LogError(msg string, err error, fields ...ports.Field) {
	r.log("error", msg, err, fields)
}

func (r *Recorder) LogCritical(msg string, err error, fields ...ports.Field) {
	r.log("critical", msg, err, fields)
}

func (r *Recorder) IncCounter(name string, v float64) {
	r.mu.Lock()
	r.counters[name] += v
	r.mu.Unlock()
}

func (r *Recorder) ObserveLatency(name string, _ float64) {
	r.mu.Lock()
	r.latency[name]++
	r.mu.Unlock()
}

func (r *Recorder) SetGauge(name, stream string, v float64) {
	r.mu.Lock()
	r.gauges[name+"/"+stream] = v
	r.mu.Unlock()
}

func (r *Recorder) RecordDrop(stream string, seq uint64, reason string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.drops = append(r.drops, Drop{Stream: stream, Seq: seq, Reason: reason})
	r.counters[ports.MetricQueueDropped]++
}

func (r *Recorder) Entries() []Entry {
	r.mu.Lock()
	defer r.mu.Unlock()
	return append([]Entry(nil), r.entries...)
}

// Messages returns the logged messages, optionally filtered by level.
func (r *Recorder) Messages(level string) []string {
	var out []string
	for _, e := range r.Entries() {
		if level == "" || e.Level == level {
			out = append(out, e.Msg)
		}
	}
	return out
}

// Contains reports whether any logged message contains substr.
func (r *Recorder) Contains(substr string) bool {
	for _, m := range r.Messages("") {
		if strings.Contains(m, substr) {
			return true
		}
	}
	return false
}

func (r *Recorder) Drops() []Drop {
	r.mu.Lock()
	defer r.mu.Unlock()
	return append([]Drop(nil), r.drops...)
}

func (r *Recorder) Counter(name string) float64 {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.counters[name]
}

func (r *Recorder) Gauge(name, stream string) float64 {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.gauges[name+"/"+stream]
}

func (r *Recorder) Observations(name string) int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.latency[name]
}

// Err joins every logged error, in order.
func (r *Recorder) Err() error {
	var errs []error
	for _, e := range r.Entries() {
		if e.Err != nil {
			errs = append(errs, fmt.Errorf("%s: %w", e.Msg, e.Err))
		}
	}
	return errors.Join(errs...)
}

var _ ports.Observability = (*Recorder)(nil)
