package domain

import (
	"encoding/binary"
	"fmt"
	"math"
)

// SampleBytes is the wire size of one complex64 sample: little-endian
// float32 real part followed by the imaginary part.
const SampleBytes = 8

// Block is one integration period of one beamlet from one station. Samples
// are ordered by time, then polarization. Raw and FlagPayload are staging
// buffers the transport fills before decoding.
type Block struct {
	Station    int
	Beamlet    int
	From       int64
	Samples    []complex64
	Flags      *FlagSet
	WrapOffset int
	Metadata   []byte

	Raw         []byte
	FlagPayload []byte
}

func NewBlock(blockSize, pols, metadataSize int) *Block {
	n := blockSize * pols
	return &Block{
		Samples:     make([]complex64, n),
		Flags:       NewFlagSet(blockSize),
		Metadata:    make([]byte, metadataSize),
		Raw:         make([]byte, n*SampleBytes),
		FlagPayload: make([]byte, MaxEncodedSize(blockSize)),
	}
}

// TimeSlice returns the staging bytes holding time indices [begin, end).
func (b *Block) TimeSlice(begin, end, pols int) []byte {
	return b.Raw[begin*pols*SampleBytes : end*pols*SampleBytes]
}

// DecodeSamples converts the staged wire bytes into Samples.
func (b *Block) DecodeSamples() error {
	if len(b.Raw) != len(b.Samples)*SampleBytes {
		return fmt.Errorf("block staging holds %d bytes, want %d", len(b.Raw), len(b.Samples)*SampleBytes)
	}
	DecodeComplex64(b.Samples, b.Raw)
	return nil
}

// EncodeSamples is the inverse of DecodeSamples.
func (b *Block) EncodeSamples() {
	EncodeComplex64(b.Raw, b.Samples)
}

func DecodeComplex64(dst []complex64, src []byte) {
	for i := range dst {
		off := i * SampleBytes
		re := math.Float32frombits(binary.LittleEndian.Uint32(src[off:]))
		im := math.Float32frombits(binary.LittleEndian.Uint32(src[off+4:]))
		dst[i] = complex(re, im)
	}
}

func EncodeComplex64(dst []byte, src []complex64) {
	for i, v := range src {
		off := i * SampleBytes
		binary.LittleEndian.PutUint32(dst[off:], math.Float32bits(real(v)))
		binary.LittleEndian.PutUint32(dst[off+4:], math.Float32bits(imag(v)))
	}
}

// TransposeBatch holds every (station, beamlet) Block of one integration
// period, indexed station-major.
type TransposeBatch struct {
	From     int64
	Stations []int
	Beamlets []int
	Blocks   [][]*Block
}

func NewTransposeBatch(stations, beamlets []int, blockSize, pols, metadataSize int) *TransposeBatch {
	b := &TransposeBatch{
		Stations: append([]int(nil), stations...),
		Beamlets: append([]int(nil), beamlets...),
		Blocks:   make([][]*Block, len(stations)),
	}
	for i, st := range stations {
		b.Blocks[i] = make([]*Block, len(beamlets))
		for j, bl := range beamlets {
			blk := NewBlock(blockSize, pols, metadataSize)
			blk.Station = st
			blk.Beamlet = bl
			b.Blocks[i][j] = blk
		}
	}
	return b
}

func (b *TransposeBatch) Block(stationIdx, beamletIdx int) *Block {
	return b.Blocks[stationIdx][beamletIdx]
}
