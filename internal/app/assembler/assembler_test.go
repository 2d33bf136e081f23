package assembler

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"testing"

	"github.com/ghalamif/beamflow/internal/adapters/observability"
	"github.com/ghalamif/beamflow/internal/app/env"
	"github.com/ghalamif/beamflow/internal/domain"
)

type read struct {
	core, subband int
}

// fakeReader hands out partials whose every sample equals the read count
// and flags the read count's index modulo the flag size.
type fakeReader struct {
	mu    sync.Mutex
	reads []read
	fail  error
}

func (f *fakeReader) ReadPartial(_ context.Context, core, subband int, dst *domain.IntegratedResult) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.fail != nil {
		return f.fail
	}
	f.reads = append(f.reads, read{core: core, subband: subband})
	n := len(f.reads)
	for i := range dst.Samples {
		dst.Samples[i] = complex(float32(n), 0)
	}
	dst.Flags.Reset()
	if size := dst.Flags.Size(); size > 0 {
		dst.Flags.Include(n % size)
	}
	return nil
}

type collector struct {
	mu    sync.Mutex
	items map[int][]*domain.DeliveryItem
}

func (c *collector) Push(subband int, item *domain.DeliveryItem) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.items == nil {
		c.items = make(map[int][]*domain.DeliveryItem)
	}
	c.items[subband] = append(c.items[subband], item)
	return nil
}

func newEnv(t *testing.T) (*env.Env, *observability.Recorder) {
	t.Helper()
	rec := observability.NewRecorder()
	e, err := env.New([]string{"CS001"}, rec)
	if err != nil {
		t.Fatalf("env: %v", err)
	}
	return e, rec
}

func TestAssemblerIntegratesSubSteps(t *testing.T) {
	e, _ := newEnv(t)
	r := &fakeReader{}
	out := &collector{}
	a, err := New(e, r, out, Config{
		Subbands:         []int{4, 5},
		Cores:            []int{0, 1},
		IntegrationSteps: 3,
		SamplesPerResult: 2,
		FlagSize:         8,
		PoolSize:         4,
	})
	if err != nil {
		t.Fatalf("new: %v", err)
	}

	ctx := context.Background()
	if err := a.Step(ctx); err != nil {
		t.Fatalf("step: %v", err)
	}
	if a.State(4) != SlotAccumulating || len(out.items) != 0 {
		t.Fatalf("expected accumulating slots and nothing delivered")
	}
	for i := 0; i < 2; i++ {
		if err := a.Step(ctx); err != nil {
			t.Fatalf("step: %v", err)
		}
	}
	if a.Seq() != 1 || a.State(4) != SlotEmpty {
		t.Fatalf("expected seq 1 and an empty slot, got %d %s", a.Seq(), a.State(4))
	}
	if len(out.items[4]) != 1 || len(out.items[5]) != 1 {
		t.Fatalf("expected one item per subband, got %d and %d", len(out.items[4]), len(out.items[5]))
	}
	if a.Available(4) != 3 {
		t.Fatalf("expected one pooled buffer in use, %d free", a.Available(4))
	}
}

func TestAssemblerDeliversSumsInSequence(t *testing.T) {
	e, _ := newEnv(t)
	r := &fakeReader{}
	out := &collector{}
	a, _ := New(e, r, out, Config{
		Subbands:         []int{4, 5},
		Cores:            []int{0, 1},
		IntegrationSteps: 3,
		SamplesPerResult: 2,
		FlagSize:         8,
		PoolSize:         4,
	})

	if err := a.Run(context.Background(), 2); err != nil {
		t.Fatalf("run: %v", err)
	}
	if a.Seq() != 2 {
		t.Fatalf("expected seq 2, got %d", a.Seq())
	}

	// reads for subband 4 are 1,3,5 then 7,9,11; subband 5 gets 2,4,6 then 8,10,12
	want := map[int][]float32{4: {9, 27}, 5: {12, 30}}
	for sb, sums := range want {
		items := out.items[sb]
		if len(items) != 2 {
			t.Fatalf("subband %d: expected 2 items, got %d", sb, len(items))
		}
		for i, item := range items {
			if item.Seq != uint64(i) || item.Result.Seq != uint64(i) || item.Result.Subband != sb {
				t.Fatalf("subband %d item %d: seq %d subband %d", sb, i, item.Seq, item.Result.Subband)
			}
			if got := real(item.Result.Samples[1]); got != sums[i] {
				t.Fatalf("subband %d item %d: expected sum %v, got %v", sb, i, sums[i], got)
			}
			if item.Result.Flags.Count() != 3 {
				t.Fatalf("subband %d item %d: expected union of 3 flags, got %v", sb, i, item.Result.Flags.Runs())
			}
		}
		if items[0].Stream != fmt.Sprintf("subband-%03d", sb) {
			t.Fatalf("unexpected stream name %q", items[0].Stream)
		}
	}
}

func TestAssemblerRotationAdvancesForUnusedSlots(t *testing.T) {
	e, _ := newEnv(t)
	r := &fakeReader{}
	a, _ := New(e, r, &collector{}, Config{
		Subbands:         []int{0, 1},
		SlotsPerRound:    3,
		Cores:            []int{10, 11, 12, 13},
		SamplesPerResult: 1,
		PoolSize:         8,
	})
	if err := a.Run(context.Background(), 3); err != nil {
		t.Fatalf("run: %v", err)
	}

	want := []int{10, 11, 13, 10, 12, 13}
	for i, rd := range r.reads {
		if rd.core != want[i] {
			t.Fatalf("read %d: expected core %d, got %d (reads %v)", i, want[i], rd.core, r.reads)
		}
	}
}

func TestAssemblerRealTimeDropsAndReports(t *testing.T) {
	e, rec := newEnv(t)
	r := &fakeReader{}
	out := &collector{}
	a, _ := New(e, r, out, Config{
		Subbands:         []int{7},
		Cores:            []int{0},
		SamplesPerResult: 1,
		PoolSize:         1,
		RealTime:         true,
	})

	ctx := context.Background()
	if err := a.Run(ctx, 4); err != nil {
		t.Fatalf("run: %v", err)
	}
	// the only buffer is held by the first undelivered item
	if len(out.items[7]) != 1 || a.Dropped(7) != 3 {
		t.Fatalf("expected 1 delivered and 3 dropped, got %d and %d", len(out.items[7]), a.Dropped(7))
	}
	if len(r.reads) != 4 {
		t.Fatalf("dropped periods must still be read, got %d reads", len(r.reads))
	}
	if a.Seq() != 4 {
		t.Fatalf("sequence must advance through drops, got %d", a.Seq())
	}
	if rec.Contains("dropped") {
		t.Fatalf("drop summary must wait for the next delivery")
	}

	out.items[7][0].Release()
	if err := a.Step(ctx); err != nil {
		t.Fatalf("step: %v", err)
	}
	if !rec.Contains("dropped 3 integration periods for subband 7") {
		t.Fatalf("expected drop summary, got %v", rec.Messages(""))
	}
	if got := out.items[7][1].Seq; got != 4 {
		t.Fatalf("expected delivered seq 4, got %d", got)
	}
	if e.Counters.AssemblerDrops.Load() != 3 || rec.Counter("beamflow_assembler_dropped_total") != 3 {
		t.Fatalf("expected drop counters at 3")
	}
}

func TestAssemblerBlockingWaitsForBuffer(t *testing.T) {
	e, _ := newEnv(t)
	out := &collector{}
	a, _ := New(e, &fakeReader{}, out, Config{
		Subbands:         []int{0},
		Cores:            []int{0},
		SamplesPerResult: 1,
		PoolSize:         1,
	})

	ctx := context.Background()
	if err := a.Step(ctx); err != nil {
		t.Fatalf("step: %v", err)
	}

	done := make(chan error, 1)
	go func() { done <- a.Step(ctx) }()
	select {
	case err := <-done:
		t.Fatalf("step must block while the pool is empty, returned %v", err)
	default:
	}

	out.mu.Lock()
	first := out.items[0][0]
	out.mu.Unlock()
	first.Release()
	if err := <-done; err != nil {
		t.Fatalf("blocked step: %v", err)
	}
	if a.Dropped(0) != 0 {
		t.Fatalf("blocking mode must never drop")
	}
}

func TestAssemblerBlockingHonoursContext(t *testing.T) {
	e, _ := newEnv(t)
	a, _ := New(e, &fakeReader{}, &collector{}, Config{
		Subbands:         []int{0},
		Cores:            []int{0},
		SamplesPerResult: 1,
		PoolSize:         1,
	})
	ctx, cancel := context.WithCancel(context.Background())
	if err := a.Step(ctx); err != nil {
		t.Fatalf("step: %v", err)
	}
	cancel()
	if err := a.Step(ctx); !errors.Is(err, context.Canceled) {
		t.Fatalf("expected cancellation, got %v", err)
	}
}

func TestAssemblerReadFailureIsFatal(t *testing.T) {
	e, _ := newEnv(t)
	boom := &domain.TransportError{Key: domain.MessageKey{Class: domain.ClassPartial}, Err: errors.New("link down")}
	a, _ := New(e, &fakeReader{fail: boom}, &collector{}, Config{
		Subbands:         []int{3},
		Cores:            []int{0},
		SamplesPerResult: 1,
	})
	err := a.Step(context.Background())
	if !errors.Is(err, domain.ErrTransport) {
		t.Fatalf("expected transport error, got %v", err)
	}
}

func TestAssemblerReleasesItemWhenOutputFails(t *testing.T) {
	e, _ := newEnv(t)
	a, _ := New(e, &fakeReader{}, OutputFunc(func(int, *domain.DeliveryItem) error { return domain.ErrClosed }), Config{
		Subbands:         []int{0},
		Cores:            []int{0},
		SamplesPerResult: 1,
		PoolSize:         1,
	})
	if err := a.Step(context.Background()); !errors.Is(err, domain.ErrClosed) {
		t.Fatalf("expected closed output error, got %v", err)
	}
	if a.Available(0) != 1 {
		t.Fatalf("expected buffer returned to the pool")
	}
}

func TestNewValidates(t *testing.T) {
	e, _ := newEnv(t)
	bad := []Config{
		{Cores: []int{0}, SamplesPerResult: 1},
		{Subbands: []int{0}, SamplesPerResult: 1},
		{Subbands: []int{0}, Cores: []int{0}},
		{Subbands: []int{1, 1}, Cores: []int{0}, SamplesPerResult: 1},
	}
	for i, cfg := range bad {
		if _, err := New(e, &fakeReader{}, &collector{}, cfg); err == nil {
			t.Fatalf("config %d: expected validation error", i)
		}
	}
}
