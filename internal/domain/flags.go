package domain

import (
	"encoding/binary"
	"fmt"
	"sort"
)

// FlagRun is a half-open range [Begin, End) of flagged time indices.
type FlagRun struct {
	Begin int
	End   int
}

// FlagSet is a run-length encoded set of flagged time indices in [0, Size).
// Runs are kept sorted, non-empty and non-adjacent.
type FlagSet struct {
	size int
	runs []FlagRun
}

func NewFlagSet(size int) *FlagSet {
	if size < 0 {
		size = 0
	}
	return &FlagSet{size: size}
}

func (f *FlagSet) Size() int { return f.size }

// Runs returns a copy of the flagged runs in ascending order.
func (f *FlagSet) Runs() []FlagRun {
	out := make([]FlagRun, len(f.runs))
	copy(out, f.runs)
	return out
}

func (f *FlagSet) Reset() {
	f.runs = f.runs[:0]
}

func (f *FlagSet) Clone() *FlagSet {
	return &FlagSet{size: f.size, runs: f.Runs()}
}

// CopyFrom makes f an exact copy of o, including its size.
func (f *FlagSet) CopyFrom(o *FlagSet) {
	f.size = o.size
	f.runs = append(f.runs[:0], o.runs...)
}

func (f *FlagSet) Include(i int) {
	f.IncludeRange(i, i+1)
}

// IncludeRange flags [begin, end), clipped to the set's bounds.
func (f *FlagSet) IncludeRange(begin, end int) {
	if begin < 0 {
		begin = 0
	}
	if end > f.size {
		end = f.size
	}
	if begin >= end {
		return
	}

	// first run that ends at or after begin
	lo := sort.Search(len(f.runs), func(i int) bool { return f.runs[i].End >= begin })
	// first run that starts after end
	hi := sort.Search(len(f.runs), func(i int) bool { return f.runs[i].Begin > end })

	if lo < hi {
		if f.runs[lo].Begin < begin {
			begin = f.runs[lo].Begin
		}
		if f.runs[hi-1].End > end {
			end = f.runs[hi-1].End
		}
	}

	merged := FlagRun{Begin: begin, End: end}
	switch {
	case lo == hi:
		f.runs = append(f.runs, FlagRun{})
		copy(f.runs[lo+1:], f.runs[lo:])
		f.runs[lo] = merged
	default:
		f.runs[lo] = merged
		f.runs = append(f.runs[:lo+1], f.runs[hi:]...)
	}
}

func (f *FlagSet) Test(i int) bool {
	k := sort.Search(len(f.runs), func(j int) bool { return f.runs[j].End > i })
	return k < len(f.runs) && f.runs[k].Begin <= i
}

func (f *FlagSet) Count() int {
	n := 0
	for _, r := range f.runs {
		n += r.End - r.Begin
	}
	return n
}

// Fraction is the flagged share of the set's index space.
func (f *FlagSet) Fraction() float64 {
	if f.size == 0 {
		return 0
	}
	return float64(f.Count()) / float64(f.size)
}

func (f *FlagSet) All() bool {
	return f.size > 0 && len(f.runs) == 1 && f.runs[0].Begin == 0 && f.runs[0].End == f.size
}

// Union ORs o into f. Runs of o beyond f's size are clipped.
func (f *FlagSet) Union(o *FlagSet) {
	if o == nil {
		return
	}
	for _, r := range o.runs {
		f.IncludeRange(r.Begin, r.End)
	}
}

// Scale returns the set mapped onto a time axis shrunk by factor k: index i
// becomes i/k.
func (f *FlagSet) Scale(k int) *FlagSet {
	if k <= 1 {
		return f.Clone()
	}
	out := NewFlagSet((f.size + k - 1) / k)
	for _, r := range f.runs {
		out.IncludeRange(r.Begin/k, (r.End-1)/k+1)
	}
	return out
}

// MarshalBinary encodes the runs as a little-endian uint32 count followed by
// begin/end pairs.
func (f *FlagSet) MarshalBinary() ([]byte, error) {
	return f.AppendBinary(make([]byte, 0, f.EncodedSize())), nil
}

func (f *FlagSet) AppendBinary(dst []byte) []byte {
	dst = binary.LittleEndian.AppendUint32(dst, uint32(len(f.runs)))
	for _, r := range f.runs {
		dst = binary.LittleEndian.AppendUint32(dst, uint32(r.Begin))
		dst = binary.LittleEndian.AppendUint32(dst, uint32(r.End))
	}
	return dst
}

func (f *FlagSet) EncodedSize() int {
	return 4 + 8*len(f.runs)
}

// MaxEncodedSize bounds the payload of a set of the given size: at most one
// run per two indices survives merging.
func MaxEncodedSize(size int) int {
	return 4 + 8*((size+1)/2)
}

// UnmarshalBinary replaces the runs with the encoded ones. The size is kept;
// runs outside it are rejected.
func (f *FlagSet) UnmarshalBinary(data []byte) error {
	if len(data) < 4 {
		return fmt.Errorf("flag payload too short: %d bytes", len(data))
	}
	n := int(binary.LittleEndian.Uint32(data))
	if len(data) != 4+8*n {
		return fmt.Errorf("flag payload holds %d bytes, want %d for %d runs", len(data), 4+8*n, n)
	}
	f.Reset()
	for i := 0; i < n; i++ {
		off := 4 + 8*i
		begin := int(binary.LittleEndian.Uint32(data[off:]))
		end := int(binary.LittleEndian.Uint32(data[off+4:]))
		if begin > end || end > f.size {
			return fmt.Errorf("flag run [%d,%d) outside [0,%d)", begin, end, f.size)
		}
		f.IncludeRange(begin, end)
	}
	return nil
}
