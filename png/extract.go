package png

import (
	"io"

	"github.com/jumbfio/jumbfio"
)

// maxReassembledSize bounds how large a logical XMP/JUMBF byte sequence
// ReadXMP/ReadJUMBF will allocate, guarding against a maliciously large
// declared chunk length turning a small file into a huge allocation.
const maxReassembledSize = 100 << 20 // 100 MiB

// ReadXMP returns the XMP packet stored in the iTXt chunk's text field.
// PNG never splits XMP across chunks, so this is a single range read.
// Returns nil, nil if the structure has no XMP segment.
func (Driver) ReadXMP(structure *jumbfio.Structure, src io.ReadSeeker) ([]byte, error) {
	seg, ok := structure.XmpSegment()
	if !ok {
		return nil, nil
	}
	r := seg.Ranges[0]
	if r.Size > maxReassembledSize {
		return nil, jumbfio.InvalidSegment(r.Offset, "xmp packet exceeds reassembly limit")
	}
	return readRange(src, r)
}

// ReadJUMBF concatenates every caBX chunk's payload in order. A single
// chunk holding the whole superbox is the common case, but a writer may
// split a large payload across several caBX chunks. Returns nil, nil if
// the structure has no JUMBF segment.
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
		return nil, jumbfio.InvalidSegment(first.Ranges[0].Offset, "jumbf payload exceeds reassembly limit")
	}
	out := make([]byte, 0, total)
	for _, idx := range structure.JumbfIndices {
		b, err := readRange(src, structure.Segments[idx].Ranges[0])
		if err != nil {
			return nil, err
		}
		out = append(out, b...)
	}
	return out, nil
}
