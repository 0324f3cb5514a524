package jfif

import (
	"io"

	"github.com/jumbfio/jumbfio"
)

// maxReassembledSize bounds how large a logical XMP/JUMBF byte sequence
// ReadXMP/ReadJUMBF will allocate, guarding against a maliciously large
// declared total_size/chunk layout turning a small file into a huge
// allocation.
const maxReassembledSize = 100 << 20 // 100 MiB

// ReadXMP reassembles the logical XMP byte sequence. For a split Extended-
// XMP packet this is the concatenation of the extension parts at their
// declared chunk offsets (the small main-segment stub is a pointer, not
// content, and is not part of the result). Returns nil, nil if the
// structure has no XMP segment.
func (Driver) ReadXMP(structure *jumbfio.Structure, src io.ReadSeeker) ([]byte, error) {
	seg, ok := structure.XmpSegment()
	if !ok {
		return nil, nil
	}
	if seg.Meta != nil && seg.Meta.ExtendedXmp != nil {
		ext := seg.Meta.ExtendedXmp
		if uint64(ext.TotalSize) > maxReassembledSize {
			return nil, jumbfio.InvalidSegment(seg.Ranges[0].Offset, "extended XMP total size exceeds reassembly limit")
		}
		out := make([]byte, ext.TotalSize)
		for i := 1; i < len(seg.Ranges); i++ {
			r := seg.Ranges[i]
			chunkOff := ext.ChunkOffsets[i-1]
			if uint64(chunkOff)+r.Size > uint64(len(out)) {
				return nil, jumbfio.InvalidSegment(r.Offset, "extended XMP chunk runs past declared total size")
			}
			b, err := readRange(src, r)
			if err != nil {
				return nil, err
			}
			copy(out[chunkOff:], b)
		}
		return out, nil
	}
	// No Extended-XMP metadata: one range is the whole packet; several
	// ranges (malformed input) are concatenated as-is.
	var total uint64
	for _, r := range seg.Ranges {
		total += r.Size
	}
	if total > maxReassembledSize {
		return nil, jumbfio.InvalidSegment(seg.Ranges[0].Offset, "xmp packet exceeds reassembly limit")
	}
	out := make([]byte, 0, total)
	for _, r := range seg.Ranges {
		b, err := readRange(src, r)
		if err != nil {
			return nil, err
		}
		out = append(out, b...)
	}
	return out, nil
}

// ReadJUMBF reassembles the logical JUMBF byte sequence by concatenating,
// for each JUMBF segment in order, each APP11 part's stored body in
// order. The first part's body opens with the superbox's own LBox/TBox
// (the parser strips only the JPEG-XT fields there), so the result is a
// complete superbox. Returns nil, nil if the structure has no JUMBF
// segment.
func (Driver) ReadJUMBF(structure *jumbfio.Structure, src io.ReadSeeker) ([]byte, error) {
	if len(structure.JumbfIndices) == 0 {
		return nil, nil
	}
	var total uint64
	for _, idx := range structure.JumbfIndices {
		total += structure.Segments[idx].TotalSize()
	}
	if total > maxReassembledSize {
		first := structure.Segments[structure.JumbfIndices[0]]
		return nil, jumbfio.InvalidSegment(first.Ranges[0].Offset, "jumbf total size exceeds reassembly limit")
	}
	out := make([]byte, 0, total)
	for _, idx := range structure.JumbfIndices {
		for _, r := range structure.Segments[idx].Ranges {
			b, err := readRange(src, r)
			if err != nil {
				return nil, err
			}
			out = append(out, b...)
		}
	}
	return out, nil
}
