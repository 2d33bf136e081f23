package delivery

import (
	"fmt"
	"time"

	"github.com/ghalamif/beamflow/internal/app/env"
	"github.com/ghalamif/beamflow/internal/domain"
	"github.com/ghalamif/beamflow/internal/ports"
)

// Writer is the single consumer of one Queue. It stages popped items in a
// bounded FIFO, writes them to the sink in batches and keeps a failed batch
// staged for the next attempt as far as the stage has room.
type Writer struct {
	env      *env.Env
	queue    *Queue
	sink     ports.Sink
	stage    ports.ItemQueue
	maxBatch int
}

func NewWriter(e *env.Env, q *Queue, sink ports.Sink, stage ports.ItemQueue, maxBatch int) *Writer {
	if maxBatch <= 0 {
		maxBatch = 1
	}
	return &Writer{env: e, queue: q, sink: sink, stage: stage, maxBatch: maxBatch}
}

// Run drains the queue until its sentinel, then flushes what is staged.
func (w *Writer) Run() error {
	for {
		item, ok := w.queue.Pop()
		if !ok {
			w.flush()
			w.queue.ReportDrops()
			return nil
		}
		w.stageItem(item)
		for w.stage.Len() < w.maxBatch {
			next, ok := w.queue.TryPop()
			if !ok {
				break
			}
			w.stageItem(next)
		}
		w.env.Obs.SetGauge(ports.MetricQueueLength, w.queue.Name(), float64(w.queue.Len()))
		// a failure is logged and counted inside; the batch stays staged for
		// the next round
		_ = w.writeBatch()
		w.queue.ReportDrops()
	}
}

func (w *Writer) stageItem(item *domain.DeliveryItem) {
	for !w.stage.Enqueue(item) {
		if err := w.writeBatch(); err != nil {
			w.discard(item, "sink unavailable")
			return
		}
	}
}

func (w *Writer) writeBatch() error {
	batch := w.stage.DequeueBatch(w.maxBatch)
	if len(batch) == 0 {
		return nil
	}

	start := time.Now()
	if err := w.sink.WriteBatch(batch); err != nil {
		w.env.Counters.WriteFailures.Add(1)
		w.env.Obs.IncCounter(ports.MetricSinkFailures, 1)
		w.env.Obs.LogError("sink_write_failed", err,
			ports.Field{Key: "sink", Value: w.sink.Name()},
			ports.Field{Key: "stream", Value: w.queue.Name()},
			ports.Field{Key: "first_seq", Value: batch[0].Seq},
		)
		// the failed batch goes back ahead of anything staged after it
		for _, item := range append(batch, w.stage.DequeueBatch(0)...) {
			if !w.stage.Enqueue(item) {
				w.discard(item, "retry buffer full")
			}
		}
		return fmt.Errorf("write %d items to %s: %w", len(batch), w.sink.Name(), err)
	}
	w.env.Obs.ObserveLatency(ports.MetricSinkLatency, time.Since(start).Seconds())
	w.env.Obs.IncCounter(ports.MetricItemsWritten, float64(len(batch)))
	w.env.Counters.ItemsWritten.Add(uint64(len(batch)))
	for _, item := range batch {
		item.Release()
	}
	return nil
}

// flush writes the stage empty. Items still staged after a failed write
// are discarded since nothing will retry them.
func (w *Writer) flush() {
	for w.stage.Len() > 0 {
		if err := w.writeBatch(); err != nil {
			for _, item := range w.stage.DequeueBatch(0) {
				w.discard(item, "sink unavailable at shutdown")
			}
			return
		}
	}
}

func (w *Writer) discard(item *domain.DeliveryItem, reason string) {
	item.Release()
	w.env.Counters.QueueDrops.Add(1)
	w.env.Obs.RecordDrop(item.Stream, item.Seq, reason)
}
