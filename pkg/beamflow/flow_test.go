package beamflow

import (
	"context"
	"testing"

	"github.com/ghalamif/beamflow/internal/adapters/transport"
)

func TestConfFromConfigAndStreamBuilder(t *testing.T) {
	cfg, err := ParseConfig([]byte(testConfig))
	if err != nil {
		t.Fatalf("config: %v", err)
	}

	flow, err := ConfFromConfig(cfg, WithFlowOptions(WithLogger(quietLogger())))
	if err != nil {
		t.Fatalf("ConfFromConfig returned error: %v", err)
	}
	if flow.Config() != cfg {
		t.Fatalf("expected flow to keep the config")
	}

	tr := transport.NewMemTransport()
	sink := NewCallbackSink("stub", func([]Item) error { return nil })

	rt, err := flow.
		StreamIN(StreamInTransport(tr)).
		StreamOUT(StreamOutSink(sink))
	if err != nil {
		t.Fatalf("StreamOUT returned error: %v", err)
	}
	if rt.transport != tr {
		t.Fatalf("expected custom transport to be wired")
	}
	if rt.sink != sink {
		t.Fatalf("expected custom sink to be wired")
	}
	if len(rt.owned) != 0 || rt.db != nil {
		t.Fatalf("runtime must not own injected adapters")
	}
}

func TestFlowRunStopsOnCancel(t *testing.T) {
	cfg, err := ParseConfig([]byte(testConfig))
	if err != nil {
		t.Fatalf("config: %v", err)
	}
	cfg.Observation.Blocks = 0

	flow, err := ConfFromConfig(cfg, WithFlowOptions(WithLogger(quietLogger())))
	if err != nil {
		t.Fatalf("ConfFromConfig returned error: %v", err)
	}

	ctx, cancel := context.WithCancel(context.Background())
	// no station ever sends, so only cancellation ends the run
	cancel()
	if err := flow.Run(ctx, StreamOutCallback("cb", func([]Item) error { return nil })); err != nil {
		t.Fatalf("Run returned unexpected error: %v", err)
	}
}
