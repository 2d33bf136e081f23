package domain

import "fmt"

// MessageClass distinguishes the kinds of transfers on the interconnect.
type MessageClass uint8

const (
	ClassHeader MessageClass = iota + 1
	ClassSamples
	ClassFlags
	ClassMetadata
	ClassPartial
)

func (c MessageClass) String() string {
	switch c {
	case ClassHeader:
		return "header"
	case ClassSamples:
		return "samples"
	case ClassFlags:
		return "flags"
	case ClassMetadata:
		return "metadata"
	case ClassPartial:
		return "partial"
	default:
		return fmt.Sprintf("class(%d)", uint8(c))
	}
}

func (c MessageClass) valid() bool {
	return c >= ClassHeader && c <= ClassPartial
}

// Tag layout: class in bits 28-31, station in 16-27, beamlet in 1-15, half in 0.
const (
	MaxStation = 1<<12 - 1
	MaxBeamlet = 1<<15 - 1

	classShift   = 28
	stationShift = 16
	beamletShift = 1
)

// MessageKey identifies one asynchronous transfer. Two transfers with
// different keys can never be matched against each other.
type MessageKey struct {
	Class   MessageClass
	Station int
	Beamlet int
	Half    int
}

func (k MessageKey) String() string {
	return fmt.Sprintf("%s/st%d/bl%d/h%d", k.Class, k.Station, k.Beamlet, k.Half)
}

func (k MessageKey) Encode() (uint32, error) {
	switch {
	case !k.Class.valid():
		return 0, fmt.Errorf("message key %s: unknown class", k)
	case k.Station < 0 || k.Station > MaxStation:
		return 0, fmt.Errorf("message key %s: station outside [0,%d]", k, MaxStation)
	case k.Beamlet < 0 || k.Beamlet > MaxBeamlet:
		return 0, fmt.Errorf("message key %s: beamlet outside [0,%d]", k, MaxBeamlet)
	case k.Half != 0 && k.Half != 1:
		return 0, fmt.Errorf("message key %s: half must be 0 or 1", k)
	}
	return uint32(k.Class)<<classShift |
		uint32(k.Station)<<stationShift |
		uint32(k.Beamlet)<<beamletShift |
		uint32(k.Half), nil
}

// MustEncode is Encode for keys built from validated configuration.
func (k MessageKey) MustEncode() uint32 {
	tag, err := k.Encode()
	if err != nil {
		panic(err)
	}
	return tag
}

func DecodeKey(tag uint32) (MessageKey, error) {
	k := MessageKey{
		Class:   MessageClass(tag >> classShift),
		Station: int(tag>>stationShift) & MaxStation,
		Beamlet: int(tag>>beamletShift) & MaxBeamlet,
		Half:    int(tag & 1),
	}
	if !k.Class.valid() {
		return MessageKey{}, fmt.Errorf("tag %#08x: unknown message class %d", tag, k.Class)
	}
	return k, nil
}
