package bmff

import (
	"encoding/binary"
	"io"

	"github.com/jumbfio/jumbfio"
)

// exifSegment walks a HEIF meta box's iinf/iloc children to locate the
// Exif-typed item and its byte location. Only single-extent items are
// handled (the common case for an embedded EXIF blob); an item with
// multiple extents is skipped rather than partially reconstructed.
func exifSegment(src io.ReadSeeker, arena []box, metaIdx int) (jumbfio.Segment, bool) {
	meta := arena[metaIdx]
	var iinfIdx, ilocIdx = -1, -1
	for _, idx := range meta.children {
		switch arena[idx].fourcc {
		case "iinf":
			iinfIdx = idx
		case "iloc":
			ilocIdx = idx
		}
	}
	if iinfIdx < 0 || ilocIdx < 0 {
		return jumbfio.Segment{}, false
	}

	exifItemID, ok := findExifItemID(src, arena[iinfIdx])
	if !ok {
		return jumbfio.Segment{}, false
	}
	off, size, ok := findItemLocation(src, arena[ilocIdx], exifItemID)
	if !ok {
		return jumbfio.Segment{}, false
	}
	return jumbfio.NewSegment(off, size, jumbfio.KindExif, "meta/Exif"), true
}

// findExifItemID scans an iinf box's infe children for the first item
// whose item_type is "Exif", returning its item_ID.
func findExifItemID(src io.ReadSeeker, iinf box) (uint32, bool) {
	// iinf is not in containerBoxTypes, so buildTree never recurses into
	// it; its infe entries are parsed here by a direct linear scan of the
	// box's payload instead of via the arena tree.
	if _, err := src.Seek(int64(iinf.dataOffset()), io.SeekStart); err != nil {
		return 0, false
	}
	hdrExt := make([]byte, 4)
	if _, err := io.ReadFull(src, hdrExt); err != nil {
		return 0, false
	}
	version := hdrExt[0]

	var count uint32
	if version == 0 {
		b := make([]byte, 2)
		if _, err := io.ReadFull(src, b); err != nil {
			return 0, false
		}
		count = uint32(binary.BigEndian.Uint16(b))
	} else {
		b := make([]byte, 4)
		if _, err := io.ReadFull(src, b); err != nil {
			return 0, false
		}
		count = binary.BigEndian.Uint32(b)
	}

	end := iinf.offset + iinf.size
	for i := uint32(0); i < count; i++ {
		pos, err := src.Seek(0, io.SeekCurrent)
		if err != nil || uint64(pos) >= end {
			return 0, false
		}
		itemID, itemType, next, ok := readInfeEntry(src, uint64(pos))
		if !ok {
			return 0, false
		}
		if itemType == "Exif" {
			return itemID, true
		}
		if _, err := src.Seek(int64(next), io.SeekStart); err != nil {
			return 0, false
		}
	}
	return 0, false
}

// readInfeEntry parses one infe full box (HEIF uses version 2 or 3),
// returning its item_ID, item_type, and the absolute offset of the next
// sibling box.
func readInfeEntry(src io.ReadSeeker, start uint64) (uint32, string, uint64, bool) {
	hdr := make([]byte, headerSize)
	if _, err := io.ReadFull(src, hdr); err != nil {
		return 0, "", 0, false
	}
	size := uint64(binary.BigEndian.Uint32(hdr[0:4]))
	if size < headerSize {
		return 0, "", 0, false
	}
	next := start + size

	ext := make([]byte, 4)
	if _, err := io.ReadFull(src, ext); err != nil {
		return 0, "", 0, false
	}
	version := ext[0]

	var itemID uint32
	var itemType string
	switch {
	case version == 2:
		b := make([]byte, 2+2+4)
		if _, err := io.ReadFull(src, b); err != nil {
			return 0, "", 0, false
		}
		itemID = uint32(binary.BigEndian.Uint16(b[0:2]))
		itemType = string(b[4:8])
	case version >= 3:
		b := make([]byte, 4+2+4)
		if _, err := io.ReadFull(src, b); err != nil {
			return 0, "", 0, false
		}
		itemID = binary.BigEndian.Uint32(b[0:4])
		itemType = string(b[6:10])
	default:
		// version 0/1 entries predate item_type and aren't used for EXIF.
		return 0, "", next, true
	}
	return itemID, itemType, next, true
}

// findItemLocation parses an iloc full box looking for item_ID, reading
// only its first extent (offset, length).
func findItemLocation(src io.ReadSeeker, iloc box, wantID uint32) (uint64, uint64, bool) {
	if _, err := src.Seek(int64(iloc.dataOffset()), io.SeekStart); err != nil {
		return 0, 0, false
	}
	ext := make([]byte, 4)
	if _, err := io.ReadFull(src, ext); err != nil {
		return 0, 0, false
	}
	version := ext[0]

	sizes := make([]byte, 2)
	if _, err := io.ReadFull(src, sizes); err != nil {
		return 0, 0, false
	}
	offsetSize := sizes[0] >> 4
	lengthSize := sizes[0] & 0x0F
	baseOffsetSize := sizes[1] >> 4
	indexSize := byte(0)
	if version == 1 || version == 2 {
		indexSize = sizes[1] & 0x0F
	}

	var itemCount uint32
	if version < 2 {
		b := make([]byte, 2)
		if _, err := io.ReadFull(src, b); err != nil {
			return 0, 0, false
		}
		itemCount = uint32(binary.BigEndian.Uint16(b))
	} else {
		b := make([]byte, 4)
		if _, err := io.ReadFull(src, b); err != nil {
			return 0, 0, false
		}
		itemCount = binary.BigEndian.Uint32(b)
	}

	for i := uint32(0); i < itemCount; i++ {
		var itemID uint32
		if version < 2 {
			b := make([]byte, 2)
			if _, err := io.ReadFull(src, b); err != nil {
				return 0, 0, false
			}
			itemID = uint32(binary.BigEndian.Uint16(b))
		} else {
			b := make([]byte, 4)
			if _, err := io.ReadFull(src, b); err != nil {
				return 0, 0, false
			}
			itemID = binary.BigEndian.Uint32(b)
		}
		if version == 1 || version == 2 {
			if _, err := src.Seek(2, io.SeekCurrent); err != nil { // construction_method
				return 0, 0, false
			}
		}
		if _, err := src.Seek(2, io.SeekCurrent); err != nil { // data_reference_index
			return 0, 0, false
		}
		baseOffset, ok := readUintN(src, baseOffsetSize)
		if !ok {
			return 0, 0, false
		}
		extB := make([]byte, 2)
		if _, err := io.ReadFull(src, extB); err != nil {
			return 0, 0, false
		}
		extentCount := binary.BigEndian.Uint16(extB)

		var firstOff, firstLen uint64
		for e := uint16(0); e < extentCount; e++ {
			if indexSize > 0 {
				if _, ok := readUintN(src, indexSize); !ok {
					return 0, 0, false
				}
			}
			off, ok := readUintN(src, offsetSize)
			if !ok {
				return 0, 0, false
			}
			ln, ok := readUintN(src, lengthSize)
			if !ok {
				return 0, 0, false
			}
			if e == 0 {
				firstOff, firstLen = off, ln
			}
		}
		if itemID == wantID {
			if extentCount != 1 {
				return 0, 0, false
			}
			return baseOffset + firstOff, firstLen, true
		}
	}
	return 0, 0, false
}

// readUintN reads an n-byte (0, 4, or 8) big-endian unsigned integer, the
// variable-width field sizes iloc uses throughout.
func readUintN(src io.ReadSeeker, n byte) (uint64, bool) {
	if n == 0 {
		return 0, true
	}
	buf := make([]byte, n)
	if _, err := io.ReadFull(src, buf); err != nil {
		return 0, false
	}
	var v uint64
	for _, b := range buf {
		v = v<<8 | uint64(b)
	}
	return v, true
}
