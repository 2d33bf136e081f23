package main

import (
	"context"
	"encoding/json"
	"errors"
	"flag"
	"fmt"
	"log"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/ghalamif/beamflow"
	"github.com/ghalamif/beamflow/internal/adapters/transport"
	"github.com/ghalamif/beamflow/internal/app/transpose"
	"github.com/ghalamif/beamflow/internal/domain"
)

func main() {
	if len(os.Args) < 2 {
		printUsage()
		os.Exit(1)
	}

	cmd := os.Args[1]
	var err error

	switch cmd {
	case "run":
		err = runCommand(os.Args[2:])
	case "validate":
		err = validateCommand(os.Args[2:])
	case "simulate":
		err = simulateCommand(os.Args[2:])
	case "stats":
		err = statsCommand(os.Args[2:])
	case "help", "-h", "--help":
		printUsage()
		return
	default:
		printUsage()
		err = fmt.Errorf("unknown command %q", cmd)
	}

	if err != nil {
		log.Fatalf("beamflow-output %s: %v", cmd, err)
	}
}

func runCommand(args []string) error {
	fs := flag.NewFlagSet("run", flag.ExitOnError)
	cfgPath := fs.String("config", "./data/config.yaml", "Path to output stage configuration file")
	blocks := fs.Int("blocks", -1, "Override observation.blocks (0 runs until interrupted)")
	if err := fs.Parse(args); err != nil {
		return err
	}

	flow, err := beamflow.Conf(*cfgPath)
	if err != nil {
		return fmt.Errorf("load config: %w", err)
	}
	if *blocks >= 0 {
		flow.Config().Observation.Blocks = *blocks
	}

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	return flow.Run(ctx)
}

func validateCommand(args []string) error {
	fs := flag.NewFlagSet("validate", flag.ExitOnError)
	cfgPath := fs.String("config", "./data/config.yaml", "Path to configuration file to validate")
	if err := fs.Parse(args); err != nil {
		return err
	}

	cfg, err := beamflow.LoadConfig(*cfgPath)
	if err != nil {
		return err
	}
	if _, err := cfg.BeamPipeline(); err != nil {
		return err
	}
	fmt.Printf("config %s looks good: %d stations, %d beamlets, stokes %s\n",
		*cfgPath, len(cfg.Observation.Stations), len(cfg.Observation.Beamlets), cfg.Stokes.Mode)
	return nil
}

// simulateCommand plays every configured station, and the compute cores when
// the assembler is enabled, over NATS towards a running output stage.
func simulateCommand(args []string) error {
	fs := flag.NewFlagSet("simulate", flag.ExitOnError)
	cfgPath := fs.String("config", "./data/config.yaml", "Configuration of the output stage to feed")
	blocks := fs.Int("blocks", 10, "Number of blocks to send per station")
	flagRate := fs.Float64("flag-rate", 0.1, "Probability that a block carries a flagged run")
	seed := fs.Uint64("seed", 1, "Random seed for flagged runs")
	interval := fs.Duration("interval", 100*time.Millisecond, "Pause between blocks")
	if err := fs.Parse(args); err != nil {
		return err
	}

	cfg, err := beamflow.LoadConfig(*cfgPath)
	if err != nil {
		return fmt.Errorf("load config: %w", err)
	}
	if cfg.Transport.Kind != "nats" {
		return fmt.Errorf("simulate needs transport.kind nats, got %q", cfg.Transport.Kind)
	}

	// the stations' remote is the output stage's local prefix
	link := cfg.Transport.NATS
	link.Local, link.Remote = "", cfg.Transport.NATS.Local
	link.Name = "beamflow-simulator"
	t, err := transport.DialNATS(link, func(err error) { log.Printf("nats: %v", err) })
	if err != nil {
		return err
	}
	defer t.Close()

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	obs := cfg.Observation
	sim := transpose.NewSimulator(obs.BlockSize, obs.Pols, obs.MetadataSize, *flagRate, *seed)
	senders := make([]*transpose.Sender, len(obs.Stations))
	for st := range senders {
		senders[st] = transpose.NewSender(t, st, obs.Beamlets, obs.BlockSize, obs.Pols)
	}
	buf := make([]*domain.Block, len(obs.Beamlets))
	for i := range buf {
		buf[i] = domain.NewBlock(obs.BlockSize, obs.Pols, obs.MetadataSize)
	}
	cores := newCoreSim(cfg.Assembler)

	ticker := time.NewTicker(*interval)
	defer ticker.Stop()

	for k := 0; k < *blocks; k++ {
		from := obs.FirstBlock + int64(k*obs.BlockSize)
		for st, s := range senders {
			for i, b := range obs.Beamlets {
				sim.Fill(buf[i], st, b, from)
			}
			if err := s.Send(from, buf); err != nil {
				return fmt.Errorf("station %s block %d: %w", obs.Stations[st], k, err)
			}
		}
		if err := cores.sendBlock(t, k); err != nil {
			return err
		}
		if err := t.Flush(); err != nil {
			return err
		}
		fmt.Printf("sent block %d (from=%d) for %d stations\n", k, from, len(senders))

		select {
		case <-ctx.Done():
			return nil
		case <-ticker.C:
		}
	}
	return nil
}

// coreSim replays the assembler's core rotation so every partial lands on
// the (core, subband) pair the assembler reads next.
type coreSim struct {
	cfg beamflow.AssemblerConfig
	rot int
	res *domain.IntegratedResult
}

func newCoreSim(cfg beamflow.AssemblerConfig) *coreSim {
	if !cfg.Enabled() {
		return nil
	}
	return &coreSim{cfg: cfg, res: domain.NewIntegratedResult(cfg.SamplesPerResult, cfg.FlagSize)}
}

func (c *coreSim) sendBlock(t *transport.NATSTransport, k int) error {
	if c == nil {
		return nil
	}
	slots := max(c.cfg.SlotsPerRound, len(c.cfg.Subbands))
	for step := 0; step < c.cfg.IntegrationSteps; step++ {
		for i, sb := range c.cfg.Subbands {
			core := c.cfg.Cores[c.rot]
			c.rot = (c.rot + 1) % len(c.cfg.Cores)
			for j := range c.res.Samples {
				c.res.Samples[j] = complex(float32(k+1), float32(i))
			}
			if err := transport.SendPartial(t, core, sb, c.res); err != nil {
				return fmt.Errorf("core %d subband %d: %w", core, sb, err)
			}
		}
		c.rot = (c.rot + slots - len(c.cfg.Subbands)) % len(c.cfg.Cores)
	}
	return nil
}

func statsCommand(args []string) error {
	fs := flag.NewFlagSet("stats", flag.ExitOnError)
	url := fs.String("url", "http://localhost:9100", "Base URL of the output stage's metrics server")
	interval := fs.Duration("interval", 2*time.Second, "Refresh interval")
	if err := fs.Parse(args); err != nil {
		return err
	}

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	ticker := time.NewTicker(*interval)
	defer ticker.Stop()

	fmt.Printf("Streaming counters from %s (Ctrl+C to stop)\n", *url)
	for {
		select {
		case <-ctx.Done():
			return nil
		case <-ticker.C:
			if err := printCounters(ctx, *url); err != nil && !errors.Is(err, context.Canceled) {
				fmt.Fprintf(os.Stderr, "stats error: %v\n", err)
			}
		}
	}
}

func printCounters(ctx context.Context, base string) error {
	var c beamflow.Counters
	if err := getJSON(ctx, base+"/counters", &c); err != nil {
		return err
	}
	var streams []beamflow.StreamStats
	if err := getJSON(ctx, base+"/streams", &streams); err != nil {
		return err
	}

	fmt.Printf("[%s] blocks=%d excluded=%d written=%d write_failures=%d queue_drops=%d assembler_drops=%d\n",
		time.Now().Format(time.RFC3339),
		c.BlocksReceived, c.StationsExcluded, c.ItemsWritten, c.WriteFailures, c.QueueDrops, c.AssemblerDrops)
	for _, s := range streams {
		fmt.Printf("    %-20s %d/%d queued, %d dropped\n", s.Stream, s.Len, s.Cap, s.Dropped)
	}
	return nil
}

func getJSON(ctx context.Context, url string, v any) error {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return err
	}
	resp, err := http.DefaultClient.Do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		return fmt.Errorf("%s: unexpected status %s", url, resp.Status)
	}
	return json.NewDecoder(resp.Body).Decode(v)
}

func printUsage() {
	fmt.Printf(`beamflow output stage

Usage:
  beamflow-output <command> [flags]

Commands:
  run        Receive station blocks and deliver beams and subbands until done or interrupted
  validate   Load and validate a config file without starting the runtime
  simulate   Send synthetic station blocks (and core partials) over NATS
  stats      Poll the counters endpoint and print live drop and write counts

Examples:
  beamflow-output run -config ./data/config.yaml
  beamflow-output validate -config ./data/config.yaml
  beamflow-output simulate -config ./data/config.yaml -blocks 100 -interval 50ms
  beamflow-output stats -url http://localhost:9100 -interval 1s
`)
}
