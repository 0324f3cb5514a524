package png

import (
	"io"

	"github.com/jumbfio/jumbfio"
)

// UpdateSegment overwrites dest's first segment of kind kind in place,
// zero-padding any unused capacity, then repairs the chunk's CRC — the
// only framing field whose value depends on content, since capacity
// itself (and therefore the length field) never changes. For XMP,
// chunk_data is the full iTXt payload including the keyword/flags/
// language prefix the rewriter wrote, so that prefix is reconstructed
// identically here before the CRC is computed.
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

	var ctype string
	var chunkData []byte
	if kind == jumbfio.KindXmp {
		ctype = chunkITXT
		chunkData = iTXTXmpBody(padded)
	} else {
		ctype = chunkCaBX
		chunkData = padded
	}

	crc := crc32ChecksumFor(ctype, chunkData)
	crcOffset := int64(r.Offset) + int64(capacity)
	if _, err := w.Seek(crcOffset, io.SeekStart); err != nil {
		return 0, jumbfio.IOErr(err)
	}
	if _, err := w.Write(be32(crc)); err != nil {
		return 0, jumbfio.IOErr(err)
	}
	return int64(capacity), nil
}
