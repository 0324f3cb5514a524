package jfif

import (
	"io"

	"github.com/jumbfio/jumbfio"
)

// UpdateSegment overwrites the body bytes of dest's first segment of kind
// kind in place. The physical layout (ranges, sizes, surrounding framing)
// is never touched — only already-allocated capacity is overwritten, with
// any unused tail zero-padded — which is why this never has to repair a
// JFIF marker-length field: it already describes the original, unchanged,
// total capacity.
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

	capacity := target.TotalSize()
	if uint64(len(newBytes)) > capacity {
		return 0, jumbfio.OversizeReplacement(len(newBytes), int(capacity))
	}

	off := 0
	for _, r := range target.Ranges {
		n := int(r.Size)
		chunk := make([]byte, n)
		if off < len(newBytes) {
			take := n
			if len(newBytes)-off < take {
				take = len(newBytes) - off
			}
			copy(chunk, newBytes[off:off+take])
			off += take
		}
		if _, err := w.Seek(int64(r.Offset), io.SeekStart); err != nil {
			return 0, jumbfio.IOErr(err)
		}
		if _, err := w.Write(chunk); err != nil {
			return 0, jumbfio.IOErr(err)
		}
	}
	return int64(capacity), nil
}
