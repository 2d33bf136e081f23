package stokes

import (
	"fmt"
	"math"
	"testing"

	"github.com/ghalamif/beamflow/internal/adapters/observability"
	"github.com/ghalamif/beamflow/internal/app/env"
	"github.com/ghalamif/beamflow/internal/domain"
)

func newEnv(t *testing.T, n int) *env.Env {
	t.Helper()
	names := make([]string, n)
	for i := range names {
		names[i] = fmt.Sprintf("RS%03d", i)
	}
	e, err := env.New(names, observability.NewRecorder())
	if err != nil {
		t.Fatalf("env: %v", err)
	}
	return e
}

func dualPol(st, channels, times int, x, y complex64) *domain.StationData {
	sd := &domain.StationData{Station: st, Cube: domain.NewCube(channels, times, 2), Flags: domain.NewFlagSet(times)}
	for ch := 0; ch < channels; ch++ {
		for t := 0; t < times; t++ {
			sd.Set(ch, t, 0, x)
			sd.Set(ch, t, 1, y)
		}
	}
	return sd
}

func TestCoherentIntegratesPower(t *testing.T) {
	r, err := NewReducer(newEnv(t, 1), Config{Mode: Coherent, IntegrationSteps: 4})
	if err != nil {
		t.Fatalf("new reducer: %v", err)
	}
	in := dualPol(0, 1, 4, 1, 1i)
	out := r.NewOutput(1, 4)

	if _, err := r.Reduce([]*domain.StationData{in}, out); err != nil {
		t.Fatalf("reduce: %v", err)
	}
	if out.Times != 1 || out.NrStokes != 1 {
		t.Fatalf("expected one output step of Stokes I, got %dx%d", out.NrStokes, out.Times)
	}
	if got := out.At(StokesI, 0, 0); got != 8 {
		t.Fatalf("expected I=8, got %f", got)
	}
}

func TestFullStokes(t *testing.T) {
	r, _ := NewReducer(newEnv(t, 1), Config{Mode: Coherent, IntegrationSteps: 4, FullStokes: true, Precision: domain.Float64})

	out := r.NewOutput(1, 4)
	if _, err := r.Reduce([]*domain.StationData{dualPol(0, 1, 4, 1, 1i)}, out); err != nil {
		t.Fatalf("reduce: %v", err)
	}
	want := map[int]float64{StokesI: 8, StokesQ: 0, StokesU: 0, StokesV: -8}
	for s, v := range want {
		if got := out.At(s, 0, 0); got != v {
			t.Fatalf("stokes %d: expected %f, got %f", s, v, got)
		}
	}

	if _, err := r.Reduce([]*domain.StationData{dualPol(0, 1, 4, 2, 1)}, out); err != nil {
		t.Fatalf("reduce: %v", err)
	}
	want = map[int]float64{StokesI: 20, StokesQ: 12, StokesU: 16, StokesV: 0}
	for s, v := range want {
		if got := out.At(s, 0, 0); got != v {
			t.Fatalf("stokes %d: expected %f, got %f", s, v, got)
		}
	}
}

func TestOutputPrecisionRoundsToFloat32(t *testing.T) {
	r, _ := NewReducer(newEnv(t, 1), Config{Mode: Coherent, IntegrationSteps: 1, Precision: domain.Float32})
	x := complex64(complex(float32(0.1), 0))
	out := r.NewOutput(1, 1)
	if _, err := r.Reduce([]*domain.StationData{dualPol(0, 1, 1, x, 0)}, out); err != nil {
		t.Fatalf("reduce: %v", err)
	}
	got := out.At(StokesI, 0, 0)
	if float64(float32(got)) != got {
		t.Fatalf("expected a float32-representable value, got %v", got)
	}
	if math.Abs(got-0.01) > 1e-6 {
		t.Fatalf("expected about 0.01, got %v", got)
	}
}

func TestFlagsAreScaledByIntegration(t *testing.T) {
	const k = 4
	r, _ := NewReducer(newEnv(t, 1), Config{Mode: Coherent, IntegrationSteps: k})
	in := dualPol(0, 2, 16, 1, 0)
	in.Flags.IncludeRange(2*k, 3*k)
	in.Flags.Include(13)

	out := r.NewOutput(2, 16)
	if _, err := r.Reduce([]*domain.StationData{in}, out); err != nil {
		t.Fatalf("reduce: %v", err)
	}
	if out.Flags.Size() != 4 {
		t.Fatalf("expected output flag size 4, got %d", out.Flags.Size())
	}
	for i := 0; i < 4; i++ {
		if out.Flags.Test(i) != (i == 2 || i == 3) {
			t.Fatalf("output index %d: unexpected flag state, runs %v", i, out.Flags.Runs())
		}
	}
	// flagged inputs are left out of the sum
	if got := out.At(StokesI, 1, 2); got != 0 {
		t.Fatalf("fully flagged output step must be 0, got %f", got)
	}
	if got := out.At(StokesI, 1, 3); got != 3 {
		t.Fatalf("expected 3 unflagged inputs in step 3, got %f", got)
	}
}

func TestIncoherentExcludesFlaggedStations(t *testing.T) {
	e := newEnv(t, 3)
	r, _ := NewReducer(e, Config{Mode: Incoherent, IntegrationSteps: 2, Threshold: 0.5})
	in := []*domain.StationData{
		dualPol(0, 1, 4, 1, 0),
		dualPol(1, 1, 4, 3, 0),
		dualPol(2, 1, 4, 100, 0),
	}
	in[1].Flags.Include(3)
	in[2].Flags.IncludeRange(0, 4)

	out := r.NewOutput(1, 4)
	res, err := r.Reduce(in, out)
	if err != nil {
		t.Fatalf("reduce: %v", err)
	}
	if fmt.Sprint(res.Included) != "[0 1]" || fmt.Sprint(res.Excluded) != "[2]" {
		t.Fatalf("unexpected membership %+v", res)
	}
	// (1+9)*2 / 2 stations
	if got := out.At(StokesI, 0, 0); got != 10 {
		t.Fatalf("expected I=10, got %f", got)
	}
	// station 1 flagged at input 3, only station 0 contributes twice there
	if got := out.At(StokesI, 0, 1); got != (1+1+9)/2.0 {
		t.Fatalf("expected I=5.5, got %f", got)
	}
	if !out.Flags.Test(1) || out.Flags.Test(0) {
		t.Fatalf("expected only output 1 flagged, got %v", out.Flags.Runs())
	}
	if e.Counters.StationsExcluded.Load() != 1 {
		t.Fatalf("expected one exclusion counted")
	}
}

func TestIncoherentAllExcludedFallback(t *testing.T) {
	r, _ := NewReducer(newEnv(t, 2), Config{Mode: Incoherent, IntegrationSteps: 2, Threshold: 0.1, FullStokes: true})
	in := []*domain.StationData{dualPol(0, 2, 4, 5, 5), dualPol(1, 2, 4, 5, 5)}
	in[0].Flags.IncludeRange(0, 2)
	in[1].Flags.IncludeRange(1, 4)

	out := r.NewOutput(2, 4)
	out.Values[0] = 42
	res, err := r.Reduce(in, out)
	if err != nil {
		t.Fatalf("reduce: %v", err)
	}
	if !res.Fallback {
		t.Fatalf("expected the no-valid-station fallback")
	}
	if !out.Flags.All() {
		t.Fatalf("expected every output index flagged")
	}
	for i, v := range out.Values {
		if v != 0 {
			t.Fatalf("value %d: expected 0, got %f", i, v)
		}
	}
}

func TestReduceRejectsBadShapes(t *testing.T) {
	r, _ := NewReducer(newEnv(t, 2), Config{Mode: Coherent, IntegrationSteps: 3})
	if _, err := r.Reduce([]*domain.StationData{dualPol(0, 1, 4, 1, 1)}, r.NewOutput(1, 4)); err == nil {
		t.Fatalf("expected error for indivisible time axis")
	}
	in := []*domain.StationData{dualPol(0, 1, 3, 1, 1), dualPol(1, 1, 3, 1, 1)}
	if _, err := r.Reduce(in, r.NewOutput(1, 3)); err == nil {
		t.Fatalf("expected coherent mode to reject several inputs")
	}
	if _, err := NewReducer(newEnv(t, 1), Config{}); err == nil {
		t.Fatalf("expected error for zero integration steps")
	}
}

func TestParseMode(t *testing.T) {
	if m, err := ParseMode("incoherent"); err != nil || m != Incoherent {
		t.Fatalf("expected incoherent, got %v %v", m, err)
	}
	if _, err := ParseMode("bogus"); err == nil {
		t.Fatalf("expected error for unknown mode")
	}
}

func TestIncoherentReportsExclusions(t *testing.T) {
	e := newEnv(t, 2)
	rec := e.Obs.(*observability.Recorder)
	r, _ := NewReducer(e, Config{Mode: Incoherent, IntegrationSteps: 2, Threshold: 0.5})
	out := r.NewOutput(1, 4)

	for period := 0; period < 2; period++ {
		in := []*domain.StationData{dualPol(0, 1, 4, 1, 0), dualPol(1, 1, 4, 1, 0)}
		in[1].Flags.IncludeRange(0, 4)
		if _, err := r.Reduce(in, out); err != nil {
			t.Fatalf("reduce: %v", err)
		}
	}
	r.ReportExclusions()
	r.ReportExclusions()

	warns := rec.Messages("warn")
	if len(warns) != 1 || warns[0] != "excluded 2 station-periods from the incoherent beam" {
		t.Fatalf("expected one exclusion summary, got %v", warns)
	}
}
