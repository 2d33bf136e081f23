package main

import (
	"context"
	"fmt"
	"log"
	"os/signal"
	"syscall"

	"github.com/ghalamif/beamflow/pkg/beamflow"
)

func main() {
	flow, err := beamflow.Conf("../../data/config.yaml")
	if err != nil {
		log.Fatalf("load config: %v", err)
	}

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	callback := func(batch []beamflow.Item) error {
		for _, item := range batch {
			if item.Values != nil {
				fmt.Printf("%s seq=%d stokes=%d channels=%d times=%d I[0]=%.3f flagged=%v\n",
					item.Stream, item.Seq, item.NrStokes, item.Channels, item.Times, item.Values[0], item.Flagged)
				continue
			}
			fmt.Printf("%s seq=%d subband=%d samples=%d flagged=%v\n",
				item.Stream, item.Seq, item.Subband, len(item.Samples), item.Flagged)
		}
		return nil
	}

	if err := flow.Run(ctx, beamflow.StreamOutCallback("stdout", callback)); err != nil {
		log.Fatalf("runtime error: %v", err)
	}
}
