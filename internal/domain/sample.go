package domain

import "fmt"

// Cube is the canonical sample buffer for one station (or beam) and one
// subband over one integration period. Samples are laid out channel-major,
// then time, then polarization.
type Cube struct {
	Channels int
	Times    int
	Pols     int
	Data     []complex64
}

func NewCube(channels, times, pols int) Cube {
	return Cube{
		Channels: channels,
		Times:    times,
		Pols:     pols,
		Data:     make([]complex64, channels*times*pols),
	}
}

func (c Cube) Index(ch, t, pol int) int {
	return (ch*c.Times+t)*c.Pols + pol
}

func (c Cube) At(ch, t, pol int) complex64 {
	return c.Data[c.Index(ch, t, pol)]
}

func (c Cube) Set(ch, t, pol int, v complex64) {
	c.Data[c.Index(ch, t, pol)] = v
}

// SameShape reports whether both cubes have identical dimensions.
func (c Cube) SameShape(o Cube) bool {
	return c.Channels == o.Channels && c.Times == o.Times && c.Pols == o.Pols
}

func (c Cube) Validate() error {
	if c.Channels <= 0 || c.Times <= 0 || c.Pols <= 0 {
		return fmt.Errorf("cube dimensions must be positive, got %dx%dx%d", c.Channels, c.Times, c.Pols)
	}
	if len(c.Data) != c.Channels*c.Times*c.Pols {
		return fmt.Errorf("cube holds %d samples, want %d", len(c.Data), c.Channels*c.Times*c.Pols)
	}
	return nil
}

// StationData is one station's (or one beam's) channelised samples for an
// integration period together with the flags marking invalid time indices.
type StationData struct {
	Station int
	Cube
	Flags *FlagSet
}
