package config

import (
	"os"
	"path/filepath"
	"reflect"
	"strings"
	"testing"

	"github.com/ghalamif/beamflow/internal/app/stokes"
	"github.com/ghalamif/beamflow/internal/domain"
)

func TestLoadAppliesDefaults(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "config.yaml")

	data := `
observation:
  stations: [CS001, CS002, RS106]
  beamlets: [0, 1, 2, 3]
beamforming:
  threshold: 0.5
  groups:
    - name: core
      stations: [CS002, CS001]
transport:
  nats:
    local: beamflow.in
`
	if err := os.WriteFile(path, []byte(data), 0o600); err != nil {
		t.Fatalf("write config: %v", err)
	}

	cfg, err := Load(path)
	if err != nil {
		t.Fatalf("load config: %v", err)
	}

	if cfg.Observation.BlockSize != 3072 || cfg.Observation.Pols != 2 {
		t.Fatalf("expected block defaults 3072x2, got %dx%d", cfg.Observation.BlockSize, cfg.Observation.Pols)
	}
	if cfg.Stokes.Mode != "coherent" {
		t.Fatalf("expected coherent mode when groups are set, got %s", cfg.Stokes.Mode)
	}
	if cfg.Policy.MaxBatchSize != 16 || cfg.Policy.Workers != 2 {
		t.Fatalf("expected policy defaults, got %+v", cfg.Policy)
	}
	if cfg.Metrics.Addr != ":9100" {
		t.Fatalf("expected default metrics addr :9100, got %s", cfg.Metrics.Addr)
	}
	if cfg.Sink.Kind != "file" || cfg.Sink.Codec != "zstd" || cfg.Sink.Dir != "./data/beams" {
		t.Fatalf("expected file sink defaults, got %+v", cfg.Sink)
	}
	if cfg.Transport.Kind != "nats" || cfg.Transport.NATS.URL == "" {
		t.Fatalf("expected nats transport defaults, got %+v", cfg.Transport)
	}
	if cfg.Assembler.Enabled() {
		t.Fatalf("assembler must stay disabled without subbands")
	}
}

func TestBeamPipelineResolvesStationNames(t *testing.T) {
	cfg, err := Parse([]byte(`
observation:
  stations: [CS001, CS002, RS106]
  beamlets: [7]
  block_size: 64
  first_block: 128
stokes:
  integration_steps: 4
  full_stokes: true
  precision: float64
beamforming:
  groups:
    - name: core
      stations: [CS002, CS001]
transport:
  kind: memory
`))
	if err != nil {
		t.Fatalf("parse: %v", err)
	}

	bc, err := cfg.BeamPipeline()
	if err != nil {
		t.Fatalf("beam pipeline config: %v", err)
	}
	if !reflect.DeepEqual(bc.Receiver.Stations, []int{0, 1, 2}) {
		t.Fatalf("expected all stations received, got %v", bc.Receiver.Stations)
	}
	if got := bc.Combiner.Groups[0].Stations; !reflect.DeepEqual(got, []int{1, 0}) {
		t.Fatalf("expected group stations [1 0], got %v", got)
	}
	if bc.Stokes.Mode != stokes.Coherent || bc.Stokes.Precision != domain.Float64 || bc.Stokes.NrStokes() != 4 {
		t.Fatalf("unexpected stokes config %+v", bc.Stokes)
	}
	if bc.FirstBlock != 128 || bc.Receiver.BlockSize != 64 {
		t.Fatalf("unexpected block layout %+v", bc)
	}
}

func TestAssemblerLoopConfig(t *testing.T) {
	cfg, err := Parse([]byte(`
observation:
  stations: [CS001]
  beamlets: [0]
assembler:
  subbands: [4, 5]
  cores: [10, 11, 12]
  integration_steps: 2
  samples_per_result: 32
  flag_size: 8
transport:
  kind: memory
`))
	if err != nil {
		t.Fatalf("parse: %v", err)
	}
	if cfg.Stokes.Mode != "incoherent" {
		t.Fatalf("expected incoherent mode without groups, got %s", cfg.Stokes.Mode)
	}
	ac := cfg.AssemblerLoop()
	if !reflect.DeepEqual(ac.Assembler.Subbands, []int{4, 5}) || ac.Assembler.IntegrationSteps != 2 {
		t.Fatalf("unexpected assembler config %+v", ac.Assembler)
	}
	if ac.Policy.QueueDepth != 64 {
		t.Fatalf("expected policy carried over, got %+v", ac.Policy)
	}
}

func TestValidateRejects(t *testing.T) {
	base := `
observation:
  stations: [CS001, CS002]
  beamlets: [0]
  block_size: 16
transport:
  kind: memory
`
	cases := map[string]string{
		"duplicate station":   "observation:\n  stations: [A, A]\n  beamlets: [0]\ntransport:\n  kind: memory\n",
		"no beamlets":         "observation:\n  stations: [A]\ntransport:\n  kind: memory\n",
		"steps":               base + "stokes:\n  integration_steps: 5\n",
		"mode":                base + "stokes:\n  mode: sideways\n",
		"coherent w/o groups": base + "stokes:\n  mode: coherent\n",
		"unknown station":     base + "beamforming:\n  groups:\n    - name: x\n      stations: [RS999]\n",
		"sink kind":           base + "sink:\n  kind: tape\n",
		"codec":               base + "sink:\n  codec: snappy\n",
		"timescale dsn":       base + "sink:\n  kind: timescale\n",
		"nats prefix":         strings.Replace(base, "kind: memory", "kind: nats", 1),
		"assembler cores":     base + "assembler:\n  subbands: [1]\n  samples_per_result: 4\n",
	}
	for name, data := range cases {
		if _, err := Parse([]byte(data)); err == nil {
			t.Fatalf("%s: expected validation error", name)
		}
	}
}
