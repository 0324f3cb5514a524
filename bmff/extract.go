package bmff

import (
	"io"

	"github.com/jumbfio/jumbfio"
)

// maxReassembledSize bounds how large a logical XMP/JUMBF byte sequence
// ReadXMP/ReadJUMBF will allocate, guarding against a maliciously large
// declared box size turning a small file into a huge allocation.
const maxReassembledSize = 100 << 20 // 100 MiB

// ReadXMP returns the XMP UUID box's body directly; BMFF never splits
// XMP across boxes. Returns nil, nil if the structure has no XMP
// segment.
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

// ReadJUMBF returns the C2PA UUID box's JUMBF payload. The parser's
// stored range already starts past the purpose string and merkle
// offset (§4.E), so this is a direct single-range read.
func (Driver) ReadJUMBF(structure *jumbfio.Structure, src io.ReadSeeker) ([]byte, error) {
	seg, ok := structure.JumbfSegment()
	if !ok {
		return nil, nil
	}
	r := seg.Ranges[0]
	if r.Size > maxReassembledSize {
		return nil, jumbfio.InvalidSegment(r.Offset, "jumbf payload exceeds reassembly limit")
	}
	return readRange(src, r)
}
