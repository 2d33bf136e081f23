package domain

import (
	"encoding/binary"
	"fmt"
)

const (
	headerFixedLen   = 24 // from, to, nrBeamlets, metadataSize
	headerPerBeamlet = 12 // id (padded), wrap offset, flag bytes
)

// Header precedes a station's payloads for one block and announces what
// follows on the data channels.
type Header struct {
	From         int64
	To           int64
	Beamlets     []uint16
	WrapOffsets  []uint32
	FlagBytes    []uint32
	MetadataSize uint32
}

func HeaderSize(nrBeamlets int) int {
	return headerFixedLen + headerPerBeamlet*nrBeamlets
}

func (h *Header) MarshalBinary() ([]byte, error) {
	n := len(h.Beamlets)
	if len(h.WrapOffsets) != n || len(h.FlagBytes) != n {
		return nil, fmt.Errorf("header lists disagree: %d beamlets, %d wrap offsets, %d flag sizes",
			n, len(h.WrapOffsets), len(h.FlagBytes))
	}
	buf := make([]byte, 0, HeaderSize(n))
	buf = binary.LittleEndian.AppendUint64(buf, uint64(h.From))
	buf = binary.LittleEndian.AppendUint64(buf, uint64(h.To))
	buf = binary.LittleEndian.AppendUint32(buf, uint32(n))
	buf = binary.LittleEndian.AppendUint32(buf, h.MetadataSize)
	for i := 0; i < n; i++ {
		buf = binary.LittleEndian.AppendUint32(buf, uint32(h.Beamlets[i]))
		buf = binary.LittleEndian.AppendUint32(buf, h.WrapOffsets[i])
		buf = binary.LittleEndian.AppendUint32(buf, h.FlagBytes[i])
	}
	return buf, nil
}

func (h *Header) UnmarshalBinary(data []byte) error {
	if len(data) < headerFixedLen {
		return fmt.Errorf("header too short: %d bytes", len(data))
	}
	n := int(binary.LittleEndian.Uint32(data[16:]))
	if len(data) != HeaderSize(n) {
		return fmt.Errorf("header holds %d bytes, want %d for %d beamlets", len(data), HeaderSize(n), n)
	}
	h.From = int64(binary.LittleEndian.Uint64(data[0:]))
	h.To = int64(binary.LittleEndian.Uint64(data[8:]))
	h.MetadataSize = binary.LittleEndian.Uint32(data[20:])
	h.Beamlets = make([]uint16, n)
	h.WrapOffsets = make([]uint32, n)
	h.FlagBytes = make([]uint32, n)
	for i := 0; i < n; i++ {
		off := headerFixedLen + headerPerBeamlet*i
		id := binary.LittleEndian.Uint32(data[off:])
		if id > MaxBeamlet {
			return fmt.Errorf("header beamlet %d out of range", id)
		}
		h.Beamlets[i] = uint16(id)
		h.WrapOffsets[i] = binary.LittleEndian.Uint32(data[off+4:])
		h.FlagBytes[i] = binary.LittleEndian.Uint32(data[off+8:])
	}
	return nil
}
