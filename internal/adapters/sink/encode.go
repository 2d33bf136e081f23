package sink

import (
	"encoding/binary"
	"errors"
	"fmt"
	"math"

	"github.com/ghalamif/beamflow/internal/domain"
)

const (
	kindResult byte = 1
	kindStokes byte = 2
)

var errShortItem = errors.New("item payload truncated")

// EncodeItem serializes a delivery item little-endian: kind, stream, seq,
// then either the integrated samples or the Stokes values at the item's
// output precision, then the flag runs.
func EncodeItem(item *domain.DeliveryItem) ([]byte, error) {
	if len(item.Stream) > math.MaxUint16 {
		return nil, fmt.Errorf("stream name of %d bytes too long", len(item.Stream))
	}
	var kind byte
	switch {
	case item.Result != nil:
		kind = kindResult
	case item.Stokes != nil:
		kind = kindStokes
	default:
		return nil, fmt.Errorf("item %s/%d carries no data", item.Stream, item.Seq)
	}

	buf := make([]byte, 0, 64)
	buf = append(buf, kind)
	buf = binary.LittleEndian.AppendUint16(buf, uint16(len(item.Stream)))
	buf = append(buf, item.Stream...)
	buf = binary.LittleEndian.AppendUint64(buf, item.Seq)

	if kind == kindResult {
		r := item.Result
		buf = binary.LittleEndian.AppendUint32(buf, uint32(r.Subband))
		buf = binary.LittleEndian.AppendUint32(buf, uint32(len(r.Samples)))
		start := len(buf)
		buf = append(buf, make([]byte, len(r.Samples)*domain.SampleBytes)...)
		domain.EncodeComplex64(buf[start:], r.Samples)
		buf = binary.LittleEndian.AppendUint32(buf, uint32(r.Flags.Size()))
		return r.Flags.AppendBinary(buf), nil
	}

	s := item.Stokes
	buf = append(buf, byte(s.Precision))
	buf = binary.LittleEndian.AppendUint32(buf, uint32(s.NrStokes))
	buf = binary.LittleEndian.AppendUint32(buf, uint32(s.Channels))
	buf = binary.LittleEndian.AppendUint32(buf, uint32(s.Times))
	for _, v := range s.Values {
		if s.Precision == domain.Float64 {
			buf = binary.LittleEndian.AppendUint64(buf, math.Float64bits(v))
		} else {
			buf = binary.LittleEndian.AppendUint32(buf, math.Float32bits(float32(v)))
		}
	}
	buf = binary.LittleEndian.AppendUint32(buf, uint32(s.Flags.Size()))
	return s.Flags.AppendBinary(buf), nil
}

type reader struct {
	data []byte
	err  error
}

func (r *reader) take(n int) []byte {
	if r.err != nil {
		return nil
	}
	if len(r.data) < n {
		r.err = errShortItem
		return nil
	}
	out := r.data[:n]
	r.data = r.data[n:]
	return out
}

func (r *reader) u8() byte {
	if b := r.take(1); b != nil {
		return b[0]
	}
	return 0
}

func (r *reader) u16() uint16 {
	if b := r.take(2); b != nil {
		return binary.LittleEndian.Uint16(b)
	}
	return 0
}

func (r *reader) u32() uint32 {
	if b := r.take(4); b != nil {
		return binary.LittleEndian.Uint32(b)
	}
	return 0
}

func (r *reader) u64() uint64 {
	if b := r.take(8); b != nil {
		return binary.LittleEndian.Uint64(b)
	}
	return 0
}

// DecodeItem is the inverse of EncodeItem. The returned item owns fresh
// buffers and has no release hook.
func DecodeItem(data []byte) (*domain.DeliveryItem, error) {
	r := &reader{data: data}
	kind := r.u8()
	stream := string(r.take(int(r.u16())))
	seq := r.u64()
	if r.err != nil {
		return nil, r.err
	}

	switch kind {
	case kindResult:
		subband := int(r.u32())
		n := int(r.u32())
		if r.err == nil && n > len(r.data)/domain.SampleBytes {
			return nil, errShortItem
		}
		raw := r.take(n * domain.SampleBytes)
		flagSize := int(r.u32())
		if r.err != nil {
			return nil, r.err
		}
		res := domain.NewIntegratedResult(n, flagSize)
		domain.DecodeComplex64(res.Samples, raw)
		if err := res.Flags.UnmarshalBinary(r.data); err != nil {
			return nil, err
		}
		res.Subband, res.Seq = subband, seq
		return domain.NewDeliveryItem(stream, seq, res, nil, nil), nil

	case kindStokes:
		prec := domain.Precision(r.u8())
		nrStokes, channels, times := int(r.u32()), int(r.u32()), int(r.u32())
		if r.err != nil {
			return nil, r.err
		}
		if prec > domain.Float64 {
			return nil, fmt.Errorf("unknown precision %d", prec)
		}
		width := 4
		if prec == domain.Float64 {
			width = 8
		}
		count := nrStokes * channels * times
		if nrStokes < 0 || channels < 0 || times < 0 || count > len(r.data)/width {
			return nil, errShortItem
		}
		s := domain.NewStokesData(nrStokes, channels, times, prec)
		for i := range s.Values {
			if prec == domain.Float64 {
				s.Values[i] = math.Float64frombits(r.u64())
			} else {
				s.Values[i] = float64(math.Float32frombits(r.u32()))
			}
		}
		flagSize := int(r.u32())
		if r.err != nil {
			return nil, r.err
		}
		s.Flags = domain.NewFlagSet(flagSize)
		if err := s.Flags.UnmarshalBinary(r.data); err != nil {
			return nil, err
		}
		return domain.NewDeliveryItem(stream, seq, nil, s, nil), nil

	default:
		return nil, fmt.Errorf("unknown item kind %d", kind)
	}
}
