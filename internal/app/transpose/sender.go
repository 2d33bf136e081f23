package transpose

import (
	"fmt"

	"github.com/ghalamif/beamflow/internal/domain"
	"github.com/ghalamif/beamflow/internal/ports"
)

// Sender is the station side of the transpose: one header on the control
// channel followed by the sample, flag and metadata payloads per beamlet.
type Sender struct {
	transport ports.Transport
	station   int
	beamlets  []int
	blockSize int
	pols      int
}

func NewSender(t ports.Transport, station int, beamlets []int, blockSize, pols int) *Sender {
	return &Sender{
		transport: t,
		station:   station,
		beamlets:  append([]int(nil), beamlets...),
		blockSize: blockSize,
		pols:      pols,
	}
}

// Send transmits blocks (one per beamlet, in beamlet order) for the period
// starting at from and waits for every send to complete.
func (s *Sender) Send(from int64, blocks []*domain.Block) error {
	if len(blocks) != len(s.beamlets) {
		return fmt.Errorf("station %d: %d blocks for %d beamlets", s.station, len(blocks), len(s.beamlets))
	}

	hdr := domain.Header{
		From:        from,
		To:          from + int64(s.blockSize),
		Beamlets:    make([]uint16, len(s.beamlets)),
		WrapOffsets: make([]uint32, len(s.beamlets)),
		FlagBytes:   make([]uint32, len(s.beamlets)),
	}
	flags := make([][]byte, len(blocks))
	for i, blk := range blocks {
		if len(blk.Samples) != s.blockSize*s.pols {
			return fmt.Errorf("station %d beamlet %d: %d samples, want %d", s.station, s.beamlets[i], len(blk.Samples), s.blockSize*s.pols)
		}
		raw, err := blk.Flags.MarshalBinary()
		if err != nil {
			return err
		}
		flags[i] = raw
		hdr.Beamlets[i] = uint16(s.beamlets[i])
		hdr.WrapOffsets[i] = uint32(blk.WrapOffset)
		hdr.FlagBytes[i] = uint32(len(raw))
		hdr.MetadataSize = uint32(len(blk.Metadata))
	}
	rawHdr, err := hdr.MarshalBinary()
	if err != nil {
		return err
	}

	var reqs []ports.Request
	send := func(key domain.MessageKey, payload []byte) error {
		req, err := s.transport.Isend(key, payload)
		if err != nil {
			return &domain.TransportError{Key: key, Block: from, Err: err}
		}
		reqs = append(reqs, req)
		return nil
	}

	if err := send(domain.MessageKey{Class: domain.ClassHeader, Station: s.station}, rawHdr); err != nil {
		return err
	}
	for i, blk := range blocks {
		bl := s.beamlets[i]
		blk.EncodeSamples()

		key := domain.MessageKey{Class: domain.ClassSamples, Station: s.station, Beamlet: bl}
		wrap := blk.WrapOffset
		if wrap == 0 || wrap == s.blockSize {
			if err := send(key, blk.Raw); err != nil {
				return err
			}
		} else {
			if err := send(key, blk.TimeSlice(0, wrap, s.pols)); err != nil {
				return err
			}
			key.Half = 1
			if err := send(key, blk.TimeSlice(wrap, s.blockSize, s.pols)); err != nil {
				return err
			}
		}
		if err := send(domain.MessageKey{Class: domain.ClassFlags, Station: s.station, Beamlet: bl}, flags[i]); err != nil {
			return err
		}
		if len(blk.Metadata) > 0 {
			if err := send(domain.MessageKey{Class: domain.ClassMetadata, Station: s.station, Beamlet: bl}, blk.Metadata); err != nil {
				return err
			}
		}
	}

	for _, req := range reqs {
		if _, err := req.Wait(); err != nil {
			return fmt.Errorf("station %d block %d: %w", s.station, from, err)
		}
	}
	return nil
}
