package bmff

import (
	"io"

	"github.com/jumbfio/jumbfio"
)

// UpdateSegment overwrites dest's first segment of kind kind in place,
// zero-padding any unused capacity. Unlike PNG's CRC or JFIF/BMFF box
// sizes elsewhere, the uuid box's own size field never needs repair:
// the plan guarantees the new bytes fit within the already-allocated
// capacity, so the box's total length is unchanged.
func (Driver) UpdateSegment(dest *jumbfio.Structure, w io.WriteSeeker, kind jumbfio.SegmentKind, newBytes []byte) (int64, error) {
	var target *jumbfio.Segment
	for i := range dest.Segments {
		if dest.Segments[i].Kind == kind {
			target = &dest.Segments[i]
			break
		}
	}
	if target == nil {
		return 0, jumbfio.NoSuchSegment(kind)
	}

	r := target.Ranges[0]
	capacity := r.Size
	if uint64(len(newBytes)) > capacity {
		return 0, jumbfio.OversizeReplacement(len(newBytes), int(capacity))
	}

	padded := make([]byte, capacity)
	copy(padded, newBytes)

	if _, err := w.Seek(int64(r.Offset), io.SeekStart); err != nil {
		return 0, jumbfio.IOErr(err)
	}
	if _, err := w.Write(padded); err != nil {
		return 0, jumbfio.IOErr(err)
	}
	return int64(capacity), nil
}
