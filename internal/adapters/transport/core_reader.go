package transport

import (
	"context"
	"encoding/binary"
	"fmt"
	"sync"

	"github.com/ghalamif/beamflow/internal/domain"
	"github.com/ghalamif/beamflow/internal/ports"
)

// CoreReader receives compute-core partial results as Partial messages
// keyed by (core, subband).
type CoreReader struct {
	t   ports.Transport
	mu  sync.Mutex
	buf []byte
}

func NewCoreReader(t ports.Transport, nrSamples, flagSize int) *CoreReader {
	return &CoreReader{
		t:   t,
		buf: make([]byte, PartialSize(nrSamples, flagSize)),
	}
}

// ReadPartial blocks until the partial arrives. There is no mid-transfer
// cancellation; closing the transport fails a pending read.
func (r *CoreReader) ReadPartial(ctx context.Context, core, subband int, dst *domain.IntegratedResult) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	r.mu.Lock()
	defer r.mu.Unlock()

	key := domain.MessageKey{Class: domain.ClassPartial, Station: core, Beamlet: subband}
	req, err := r.t.Irecv(key, r.buf)
	if err != nil {
		return &domain.TransportError{Key: key, Err: err}
	}
	n, err := req.Wait()
	if err != nil {
		return &domain.TransportError{Key: key, Err: err}
	}
	if err := DecodePartial(r.buf[:n], dst); err != nil {
		return &domain.ProtocolError{Station: core, Beamlet: subband, Reason: err.Error()}
	}
	dst.Subband = subband
	return nil
}

// SendPartial is the compute-core side of ReadPartial.
func SendPartial(t ports.Transport, core, subband int, res *domain.IntegratedResult) error {
	key := domain.MessageKey{Class: domain.ClassPartial, Station: core, Beamlet: subband}
	req, err := t.Isend(key, EncodePartial(res))
	if err != nil {
		return err
	}
	_, err = req.Wait()
	return err
}

func PartialSize(nrSamples, flagSize int) int {
	return 4 + nrSamples*domain.SampleBytes + domain.MaxEncodedSize(flagSize)
}

// EncodePartial lays out a little-endian sample count, the samples and the
// flag runs.
func EncodePartial(res *domain.IntegratedResult) []byte {
	buf := make([]byte, 4+len(res.Samples)*domain.SampleBytes, 4+len(res.Samples)*domain.SampleBytes+res.Flags.EncodedSize())
	binary.LittleEndian.PutUint32(buf, uint32(len(res.Samples)))
	domain.EncodeComplex64(buf[4:], res.Samples)
	return res.Flags.AppendBinary(buf)
}

func DecodePartial(data []byte, dst *domain.IntegratedResult) error {
	if len(data) < 4 {
		return fmt.Errorf("partial too short: %d bytes", len(data))
	}
	n := int(binary.LittleEndian.Uint32(data))
	if n != len(dst.Samples) {
		return fmt.Errorf("partial carries %d samples, want %d", n, len(dst.Samples))
	}
	end := 4 + n*domain.SampleBytes
	if len(data) < end {
		return fmt.Errorf("partial holds %d bytes, want at least %d", len(data), end)
	}
	domain.DecodeComplex64(dst.Samples, data[4:end])
	return dst.Flags.UnmarshalBinary(data[end:])
}

var _ ports.CoreReader = (*CoreReader)(nil)
