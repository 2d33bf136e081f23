package sink

import (
	"os"
	"path/filepath"
	"reflect"
	"testing"

	"github.com/ghalamif/beamflow/internal/domain"
)

func TestEncodeItemKeepsStokesPrecision(t *testing.T) {
	s := domain.NewStokesData(4, 1, 2, domain.Float64)
	s.Values = []float64{1.0 / 3, 2, 3, 4, 5, 6, 7, 8}
	s.Flags.Include(0)

	raw, err := EncodeItem(domain.NewDeliveryItem("beam-a", 9, nil, s, nil))
	if err != nil {
		t.Fatalf("encode: %v", err)
	}
	got, err := DecodeItem(raw)
	if err != nil {
		t.Fatalf("decode: %v", err)
	}
	if got.Stream != "beam-a" || got.Seq != 9 || got.Stokes == nil {
		t.Fatalf("unexpected item %+v", got)
	}
	if !reflect.DeepEqual(got.Stokes.Values, s.Values) {
		t.Fatalf("float64 values must survive exactly, got %v", got.Stokes.Values)
	}
	if !got.Stokes.Flags.Test(0) || got.Stokes.Flags.Size() != 2 {
		t.Fatalf("unexpected flags %v", got.Stokes.Flags.Runs())
	}

	if _, err := DecodeItem(raw[:len(raw)-9]); err == nil {
		t.Fatalf("expected error for truncated item")
	}
	if _, err := EncodeItem(domain.NewDeliveryItem("empty", 1, nil, nil, nil)); err == nil {
		t.Fatalf("expected error for an item without data")
	}
}

func TestEncodeItemIntegratedResult(t *testing.T) {
	res := domain.NewIntegratedResult(3, 8)
	res.Subband = 12
	res.Samples = []complex64{1 + 2i, -3, 4i}
	res.Flags.IncludeRange(2, 5)

	raw, err := EncodeItem(domain.NewDeliveryItem("subband-012", 4, res, nil, nil))
	if err != nil {
		t.Fatalf("encode: %v", err)
	}
	got, err := DecodeItem(raw)
	if err != nil {
		t.Fatalf("decode: %v", err)
	}
	if got.Result.Subband != 12 || got.Result.Seq != 4 || !reflect.DeepEqual(got.Result.Samples, res.Samples) {
		t.Fatalf("unexpected result %+v", got.Result)
	}
	if !reflect.DeepEqual(got.Result.Flags.Runs(), res.Flags.Runs()) {
		t.Fatalf("expected flags %v, got %v", res.Flags.Runs(), got.Result.Flags.Runs())
	}
}

func TestFileSinkAppendIterateAndReopen(t *testing.T) {
	for _, codec := range []Codec{CodecNone, CodecZstd, CodecLZ4} {
		t.Run(codec.String(), func(t *testing.T) {
			dir := t.TempDir()
			s, err := NewFileSink(dir, "run", codec, true)
			if err != nil {
				t.Fatalf("new sink: %v", err)
			}

			batch := []*domain.DeliveryItem{stokesItem("beam-a", 0), stokesItem("beam-a", 1), stokesItem("beam-b", 0)}
			if err := s.WriteBatch(batch); err != nil {
				t.Fatalf("write: %v", err)
			}

			var seen []string
			err = s.Iterate(2, func(id RecordID, item *domain.DeliveryItem) error {
				seen = append(seen, item.Stream)
				if item.Stokes.At(0, 1, 3) != 7.5 {
					t.Fatalf("record %d: unexpected value %f", id, item.Stokes.At(0, 1, 3))
				}
				return nil
			})
			if err != nil {
				t.Fatalf("iterate: %v", err)
			}
			if !reflect.DeepEqual(seen, []string{"beam-a", "beam-b"}) {
				t.Fatalf("expected records 2 and 3, got %v", seen)
			}
			if err := s.Close(); err != nil {
				t.Fatalf("close: %v", err)
			}

			s2, err := NewFileSink(dir, "run", codec, false)
			if err != nil {
				t.Fatalf("reopen: %v", err)
			}
			defer s2.Close()
			if st := s2.Stats(); st.Records != 3 || st.LastID != 3 {
				t.Fatalf("expected 3 records after reopen, got %+v", st)
			}
			if err := s2.WriteBatch([]*domain.DeliveryItem{stokesItem("beam-a", 2)}); err != nil {
				t.Fatalf("append after reopen: %v", err)
			}
			if st := s2.Stats(); st.LastID != 4 {
				t.Fatalf("expected ids to continue at 4, got %d", st.LastID)
			}
		})
	}
}

func TestFileSinkTruncatesTornTail(t *testing.T) {
	dir := t.TempDir()
	s, err := NewFileSink(dir, "run", CodecZstd, false)
	if err != nil {
		t.Fatalf("new sink: %v", err)
	}
	if err := s.WriteBatch([]*domain.DeliveryItem{stokesItem("beam-a", 0), stokesItem("beam-a", 1)}); err != nil {
		t.Fatalf("write: %v", err)
	}
	good := s.Stats().SizeBytes
	if err := s.Close(); err != nil {
		t.Fatalf("close: %v", err)
	}

	path := filepath.Join(dir, "run.rec")
	f, err := os.OpenFile(path, os.O_APPEND|os.O_WRONLY, 0o644)
	if err != nil {
		t.Fatalf("open: %v", err)
	}
	// a partial record header left by a crash
	if _, err := f.Write([]byte{0, 0, 0, 0, 0, 0, 0, 3, 0, 0, 1, 0, 1, 2, 3}); err != nil {
		t.Fatalf("append garbage: %v", err)
	}
	f.Close()

	s2, err := NewFileSink(dir, "run", CodecZstd, false)
	if err != nil {
		t.Fatalf("reopen: %v", err)
	}
	defer s2.Close()
	if st := s2.Stats(); st.Records != 2 || st.SizeBytes != good {
		t.Fatalf("expected the torn tail cut back to %d bytes, got %+v", good, st)
	}
	info, err := os.Stat(path)
	if err != nil || info.Size() != good {
		t.Fatalf("expected file size %d, got %v (%v)", good, info.Size(), err)
	}
}

func TestFileSinkDetectsCorruptPayload(t *testing.T) {
	dir := t.TempDir()
	s, err := NewFileSink(dir, "run", CodecNone, false)
	if err != nil {
		t.Fatalf("new sink: %v", err)
	}
	if err := s.WriteBatch([]*domain.DeliveryItem{stokesItem("beam-a", 0), stokesItem("beam-a", 1)}); err != nil {
		t.Fatalf("write: %v", err)
	}
	first := s.Stats().SizeBytes / 2
	s.Close()

	path := filepath.Join(dir, "run.rec")
	data, _ := os.ReadFile(path)
	data[len(data)-1] ^= 0xff
	if err := os.WriteFile(path, data, 0o644); err != nil {
		t.Fatalf("rewrite: %v", err)
	}

	s2, err := NewFileSink(dir, "run", CodecNone, false)
	if err != nil {
		t.Fatalf("reopen: %v", err)
	}
	defer s2.Close()
	if st := s2.Stats(); st.Records != 1 || st.SizeBytes != first {
		t.Fatalf("expected only the intact first record kept, got %+v", st)
	}
}

func TestParseCodec(t *testing.T) {
	for _, name := range []string{"none", "zstd", "lz4"} {
		c, err := ParseCodec(name)
		if err != nil || c.String() != name {
			t.Fatalf("parse %q: %v %v", name, c, err)
		}
	}
	if _, err := ParseCodec("snappy"); err == nil {
		t.Fatalf("expected error for unknown codec")
	}
}
