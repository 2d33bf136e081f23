package ports

import "github.com/ghalamif/beamflow/internal/domain"

// Channelizer turns a received block into channelised station data. The
// filter bank itself lives outside this module.
type Channelizer interface {
	Channelize(in *domain.Block, out *domain.StationData) error
	Channels() int
}
