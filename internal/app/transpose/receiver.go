// Package transpose gathers per-station block streams into per-beamlet
// batches over the tagged interconnect.
package transpose

import (
	"context"
	"fmt"

	"github.com/ghalamif/beamflow/internal/app/env"
	"github.com/ghalamif/beamflow/internal/domain"
	"github.com/ghalamif/beamflow/internal/ports"
)

type ReceiverConfig struct {
	Stations     []int
	Beamlets     []int
	BlockSize    int
	Pols         int
	MetadataSize int
}

func (c ReceiverConfig) validate() error {
	switch {
	case len(c.Stations) == 0:
		return fmt.Errorf("receiver needs at least one station")
	case len(c.Beamlets) == 0:
		return fmt.Errorf("receiver needs at least one beamlet")
	case c.BlockSize <= 0 || c.Pols <= 0:
		return fmt.Errorf("block size and polarizations must be positive")
	case c.MetadataSize < 0:
		return fmt.Errorf("metadata size must not be negative")
	}
	for _, st := range c.Stations {
		if st < 0 || st > domain.MaxStation {
			return fmt.Errorf("station %d outside [0,%d]", st, domain.MaxStation)
		}
	}
	for _, bl := range c.Beamlets {
		if bl < 0 || bl > domain.MaxBeamlet {
			return fmt.Errorf("beamlet %d outside [0,%d]", bl, domain.MaxBeamlet)
		}
	}
	return nil
}

// Receiver collects one Block per (station, beamlet) per integration period.
// It is not safe for concurrent use; one Receiver is one network path.
type Receiver struct {
	env       *env.Env
	transport ports.Transport
	cfg       ReceiverConfig
	headers   [][]byte
}

func NewReceiver(e *env.Env, t ports.Transport, cfg ReceiverConfig) (*Receiver, error) {
	if err := cfg.validate(); err != nil {
		return nil, err
	}
	r := &Receiver{
		env:       e,
		transport: t,
		cfg:       cfg,
		headers:   make([][]byte, len(cfg.Stations)),
	}
	for i := range r.headers {
		r.headers[i] = make([]byte, domain.HeaderSize(len(cfg.Beamlets)))
	}
	return r, nil
}

// NewBatch allocates a batch shaped for this receiver.
func (r *Receiver) NewBatch() *domain.TransposeBatch {
	return domain.NewTransposeBatch(r.cfg.Stations, r.cfg.Beamlets, r.cfg.BlockSize, r.cfg.Pols, r.cfg.MetadataSize)
}

type headerDone struct {
	idx int
	n   int
	err error
}

type transfer struct {
	key  domain.MessageKey
	req  ports.Request
	want int
}

// Receive fills batch with the block starting at from. Protocol mismatches
// and transport failures are fatal and returned as *domain.ProtocolError or
// *domain.TransportError.
func (r *Receiver) Receive(ctx context.Context, from int64, batch *domain.TransposeBatch) error {
	if len(batch.Blocks) != len(r.cfg.Stations) {
		return fmt.Errorf("batch shaped for %d stations, receiver has %d", len(batch.Blocks), len(r.cfg.Stations))
	}

	done := make(chan headerDone, len(r.cfg.Stations))
	for i, st := range r.cfg.Stations {
		key := domain.MessageKey{Class: domain.ClassHeader, Station: st}
		req, err := r.transport.Irecv(key, r.headers[i])
		if err != nil {
			return &domain.TransportError{Key: key, Block: from, Err: err}
		}
		go func(i int, req ports.Request) {
			n, err := req.Wait()
			done <- headerDone{idx: i, n: n, err: err}
		}(i, req)
	}

	var pending []transfer
	for range r.cfg.Stations {
		var d headerDone
		select {
		case d = <-done:
		case <-ctx.Done():
			return ctx.Err()
		}

		st := r.cfg.Stations[d.idx]
		if d.err != nil {
			return &domain.TransportError{Key: domain.MessageKey{Class: domain.ClassHeader, Station: st}, Block: from, Err: d.err}
		}
		var hdr domain.Header
		if err := hdr.UnmarshalBinary(r.headers[d.idx][:d.n]); err != nil {
			return &domain.ProtocolError{Station: st, Beamlet: -1, Block: from, Reason: err.Error()}
		}
		if err := r.validateHeader(st, from, &hdr); err != nil {
			return err
		}

		posted, err := r.postPayloads(d.idx, from, &hdr, batch)
		if err != nil {
			return err
		}
		pending = append(pending, posted...)
	}

	// single join over every data, flag and metadata transfer
	for _, tr := range pending {
		n, err := tr.req.Wait()
		if err != nil {
			return &domain.TransportError{Key: tr.key, Block: from, Err: err}
		}
		if n != tr.want {
			return &domain.ProtocolError{Station: tr.key.Station, Beamlet: tr.key.Beamlet, Block: from,
				Reason: fmt.Sprintf("%s transfer delivered %d bytes, header announced %d", tr.key.Class, n, tr.want)}
		}
	}

	for i := range batch.Blocks {
		for j, blk := range batch.Blocks[i] {
			if err := blk.DecodeSamples(); err != nil {
				return err
			}
			if err := blk.Flags.UnmarshalBinary(blk.FlagPayload); err != nil {
				return &domain.ProtocolError{Station: r.cfg.Stations[i], Beamlet: r.cfg.Beamlets[j], Block: from, Reason: err.Error()}
			}
			blk.From = from
		}
	}
	batch.From = from
	r.env.Counters.BlocksReceived.Add(1)
	return nil
}

func (r *Receiver) validateHeader(st int, from int64, hdr *domain.Header) error {
	fail := func(format string, args ...any) error {
		return &domain.ProtocolError{Station: st, Beamlet: -1, Block: from, Reason: fmt.Sprintf(format, args...)}
	}
	if hdr.From != from {
		return fail("header starts at %d, expected %d", hdr.From, from)
	}
	if hdr.To-hdr.From != int64(r.cfg.BlockSize) {
		return fail("header spans %d samples, block size is %d", hdr.To-hdr.From, r.cfg.BlockSize)
	}
	if len(hdr.Beamlets) != len(r.cfg.Beamlets) {
		return fail("header lists %d beamlets, expected %d", len(hdr.Beamlets), len(r.cfg.Beamlets))
	}
	for i, bl := range hdr.Beamlets {
		if int(bl) != r.cfg.Beamlets[i] {
			return fail("header beamlet %d is %d, expected %d", i, bl, r.cfg.Beamlets[i])
		}
		if int(hdr.WrapOffsets[i]) > r.cfg.BlockSize {
			return fail("beamlet %d wrap offset %d beyond block size %d", bl, hdr.WrapOffsets[i], r.cfg.BlockSize)
		}
		if int(hdr.FlagBytes[i]) > domain.MaxEncodedSize(r.cfg.BlockSize) {
			return fail("beamlet %d flag payload of %d bytes exceeds %d", bl, hdr.FlagBytes[i], domain.MaxEncodedSize(r.cfg.BlockSize))
		}
	}
	if int(hdr.MetadataSize) != r.cfg.MetadataSize {
		return fail("header metadata size %d, expected %d", hdr.MetadataSize, r.cfg.MetadataSize)
	}
	return nil
}

func (r *Receiver) postPayloads(stIdx int, from int64, hdr *domain.Header, batch *domain.TransposeBatch) ([]transfer, error) {
	st := r.cfg.Stations[stIdx]
	var out []transfer
	post := func(key domain.MessageKey, buf []byte) error {
		req, err := r.transport.Irecv(key, buf)
		if err != nil {
			return &domain.TransportError{Key: key, Block: from, Err: err}
		}
		out = append(out, transfer{key: key, req: req, want: len(buf)})
		return nil
	}

	for j, bl := range r.cfg.Beamlets {
		blk := batch.Block(stIdx, j)
		wrap := int(hdr.WrapOffsets[j])
		blk.WrapOffset = wrap

		key := domain.MessageKey{Class: domain.ClassSamples, Station: st, Beamlet: bl}
		if wrap == 0 || wrap == r.cfg.BlockSize {
			if err := post(key, blk.Raw); err != nil {
				return nil, err
			}
		} else {
			if err := post(key, blk.TimeSlice(0, wrap, r.cfg.Pols)); err != nil {
				return nil, err
			}
			key.Half = 1
			if err := post(key, blk.TimeSlice(wrap, r.cfg.BlockSize, r.cfg.Pols)); err != nil {
				return nil, err
			}
		}

		flagKey := domain.MessageKey{Class: domain.ClassFlags, Station: st, Beamlet: bl}
		// the staging slice keeps its full capacity, so it can be resliced per block
		blk.FlagPayload = blk.FlagPayload[:hdr.FlagBytes[j]]
		if err := post(flagKey, blk.FlagPayload); err != nil {
			return nil, err
		}

		if r.cfg.MetadataSize > 0 {
			metaKey := domain.MessageKey{Class: domain.ClassMetadata, Station: st, Beamlet: bl}
			if err := post(metaKey, blk.Metadata[:r.cfg.MetadataSize]); err != nil {
				return nil, err
			}
		}
	}
	return out, nil
}
