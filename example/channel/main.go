package main

import (
	"context"
	"fmt"
	"log"
	"os/signal"
	"sync"
	"syscall"
	"time"

	"github.com/ghalamif/beamflow"
)

func main() {
	flow, err := beamflow.Conf("../../data/config.yaml")
	if err != nil {
		log.Fatalf("load config: %v", err)
	}

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	sink, batches, closeBatches := beamflow.NewChannelSink("fanout", 32)

	var wg sync.WaitGroup
	wg.Add(1)
	go func() {
		defer wg.Done()
		fanoutWorker("beams", batches)
	}()

	err = flow.Run(ctx, beamflow.StreamOutSink(sink))
	closeBatches()
	wg.Wait()
	if err != nil {
		log.Fatalf("runtime error: %v", err)
	}
}

func fanoutWorker(name string, batches <-chan []beamflow.Item) {
	for batch := range batches {
		fmt.Printf("[%s] %d items of %s up to seq %d at %s\n",
			name, len(batch), batch[0].Stream, batch[len(batch)-1].Seq, time.Now().Format(time.RFC3339))
	}
}
