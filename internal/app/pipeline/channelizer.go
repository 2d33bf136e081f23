package pipeline

import (
	"fmt"

	"github.com/ghalamif/beamflow/internal/domain"
	"github.com/ghalamif/beamflow/internal/ports"
)

// PassThrough presents a received block as single-channel station data.
type PassThrough struct{}

func (PassThrough) Channels() int { return 1 }

func (PassThrough) Channelize(in *domain.Block, out *domain.StationData) error {
	if out.Channels != 1 || len(out.Data) != len(in.Samples) {
		return fmt.Errorf("pass-through needs a 1-channel cube of %d samples, got %d channels and %d samples",
			len(in.Samples), out.Channels, len(out.Data))
	}
	copy(out.Data, in.Samples)
	out.Station = in.Station
	out.Flags.CopyFrom(in.Flags)
	return nil
}

var _ ports.Channelizer = PassThrough{}
