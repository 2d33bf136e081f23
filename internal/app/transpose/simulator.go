package transpose

import (
	"math"
	"math/rand/v2"

	"github.com/ghalamif/beamflow/internal/domain"
)

// Simulator produces synthetic station blocks: a tone per beamlet with a
// per-station amplitude and randomly flagged runs.
type Simulator struct {
	BlockSize    int
	Pols         int
	MetadataSize int
	FlagRate     float64 // probability that a block carries a flagged run
	rng          *rand.Rand
}

func NewSimulator(blockSize, pols, metadataSize int, flagRate float64, seed uint64) *Simulator {
	return &Simulator{
		BlockSize:    blockSize,
		Pols:         pols,
		MetadataSize: metadataSize,
		FlagRate:     flagRate,
		rng:          rand.New(rand.NewPCG(seed, seed^0x9e3779b97f4a7c15)),
	}
}

// Fill writes the block for (station, beamlet) starting at from into blk.
func (s *Simulator) Fill(blk *domain.Block, station, beamlet int, from int64) {
	amp := float32(1 + station)
	for t := 0; t < s.BlockSize; t++ {
		phase := 2 * math.Pi * float64(beamlet+1) * float64(from+int64(t)) / 64
		x := complex(amp*float32(math.Cos(phase)), amp*float32(math.Sin(phase)))
		for p := 0; p < s.Pols; p++ {
			blk.Samples[t*s.Pols+p] = x
		}
	}

	blk.Flags.Reset()
	if s.rng.Float64() < s.FlagRate {
		begin := s.rng.IntN(s.BlockSize)
		blk.Flags.IncludeRange(begin, begin+1+s.rng.IntN(s.BlockSize-begin))
	}
	blk.WrapOffset = int(from % int64(s.BlockSize))
	for i := range blk.Metadata {
		blk.Metadata[i] = byte(station + i)
	}
	blk.Station, blk.Beamlet, blk.From = station, beamlet, from
}
