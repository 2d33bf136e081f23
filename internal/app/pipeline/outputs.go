package pipeline

import (
	"github.com/ghalamif/beamflow/internal/adapters/queue"
	"github.com/ghalamif/beamflow/internal/app/delivery"
	"github.com/ghalamif/beamflow/internal/app/env"
	"github.com/ghalamif/beamflow/internal/ports"
	"golang.org/x/sync/errgroup"
)

// outputs is the delivery side shared by both pipelines: one bounded queue
// and one writer per stream, all writing to the same sink.
type outputs struct {
	queues  map[string]*delivery.Queue
	writers []*delivery.Writer
}

func newOutputs(e *env.Env, streams []string, sink ports.Sink, pol ports.Policy) *outputs {
	o := &outputs{queues: make(map[string]*delivery.Queue, len(streams))}
	batch := max(pol.MaxBatchSize, 1)
	for _, name := range streams {
		q := delivery.NewQueue(e, name, pol.QueueDepth, delivery.WithDropLogging(pol.LogQueueDrops))
		o.queues[name] = q
		// room for one batch in flight plus one held back for retry
		o.writers = append(o.writers, delivery.NewWriter(e, q, sink, queue.NewMemQueue(2*batch), batch))
	}
	return o
}

func (o *outputs) start(g *errgroup.Group) {
	for _, w := range o.writers {
		g.Go(w.Run)
	}
}

// close pushes the sentinel on every queue.
func (o *outputs) close() {
	for _, q := range o.queues {
		q.Close()
	}
}

func (o *outputs) queue(stream string) *delivery.Queue { return o.queues[stream] }
