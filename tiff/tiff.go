// Package tiff implements the minimal, defensive TIFF/IFD reader the EXIF
// segment handler needs: locating an IFD1 JPEG thumbnail and a short
// whitelist of IFD0/EXIF-subIFD tags. It never tries to be a general TIFF
// decoder: anything outside the whitelist is ignored, and anything
// malformed yields a nil result instead of an error.
package tiff

import "encoding/binary"

// Tag IDs for the whitelisted fields. Unexported IDs used only internally
// (ExifIFDPointer, the two thumbnail fields) are not part of Tags.
const (
	tagMake             = 0x010F
	tagModel            = 0x0110
	tagOrientation      = 0x0112
	tagSoftware         = 0x0131
	tagDateTime         = 0x0132
	tagArtist           = 0x013B
	tagCopyright        = 0x8298
	tagExifIFDPointer   = 0x8769
	tagDateTimeOriginal = 0x9003
	tagThumbOffset      = 0x0201
	tagThumbLength      = 0x0202
)

const maxTagsPerIFD = 1000

// Tags holds the IFD0/EXIF-subIFD whitelist, each field empty/zero if the
// source tag was absent or malformed.
type Tags struct {
	Make             string
	Model            string
	Orientation      uint16
	HasOrientation   bool
	Software         string
	DateTime         string
	Artist           string
	Copyright        string
	DateTimeOriginal string
}

// Thumbnail locates an IFD1 JPEG thumbnail within the same buffer.
type Thumbnail struct {
	Offset uint64
	Size   uint64
}

// Parse reads buf as a TIFF stream (the bytes immediately following the
// "Exif\0\0" marker). It returns nil, nil if buf is not a well-formed TIFF
// header; either return value is independently nil if that half of the
// structure (tags, thumbnail) was not found or was malformed.
func Parse(buf []byte) (*Tags, *Thumbnail) {
	order, ok := byteOrder(buf)
	if !ok {
		return nil, nil
	}
	if len(buf) < 8 {
		return nil, nil
	}
	ifd0Off := order.Uint32(buf[4:8])

	tags := &Tags{}
	entries, next, ok := readIFD(buf, order, ifd0Off)
	if !ok {
		return nil, nil
	}

	var exifIFDOff uint32
	var haveExifIFD bool

	for _, e := range entries {
		switch e.id {
		case tagMake:
			tags.Make = asciiVal(buf, order, e)
		case tagModel:
			tags.Model = asciiVal(buf, order, e)
		case tagSoftware:
			tags.Software = asciiVal(buf, order, e)
		case tagDateTime:
			tags.DateTime = asciiVal(buf, order, e)
		case tagArtist:
			tags.Artist = asciiVal(buf, order, e)
		case tagCopyright:
			tags.Copyright = asciiVal(buf, order, e)
		case tagOrientation:
			if v, ok := shortVal(order, e); ok {
				tags.Orientation = v
				tags.HasOrientation = true
			}
		case tagExifIFDPointer:
			if v, ok := longVal(order, e); ok {
				exifIFDOff = v
				haveExifIFD = true
			}
		}
	}

	if haveExifIFD {
		if subEntries, _, ok := readIFD(buf, order, exifIFDOff); ok {
			for _, e := range subEntries {
				if e.id == tagDateTimeOriginal {
					tags.DateTimeOriginal = asciiVal(buf, order, e)
				}
			}
		}
	}

	var thumb *Thumbnail
	if next != 0 {
		if ifd1Entries, _, ok := readIFD(buf, order, next); ok {
			var off, size uint64
			var haveOff, haveSize bool
			for _, e := range ifd1Entries {
				switch e.id {
				case tagThumbOffset:
					if v, ok := longVal(order, e); ok {
						off, haveOff = uint64(v), true
					}
				case tagThumbLength:
					if v, ok := longVal(order, e); ok {
						size, haveSize = uint64(v), true
					}
				}
			}
			if haveOff && haveSize && size > 0 && off < uint64(len(buf)) && off+size <= uint64(len(buf)) {
				thumb = &Thumbnail{Offset: off, Size: size}
			}
		}
	}

	return tags, thumb
}

func byteOrder(buf []byte) (binary.ByteOrder, bool) {
	if len(buf) < 8 {
		return nil, false
	}
	switch {
	case buf[0] == 'I' && buf[1] == 'I':
		if binary.LittleEndian.Uint16(buf[2:4]) != 42 {
			return nil, false
		}
		return binary.LittleEndian, true
	case buf[0] == 'M' && buf[1] == 'M':
		if binary.BigEndian.Uint16(buf[2:4]) != 42 {
			return nil, false
		}
		return binary.BigEndian, true
	default:
		return nil, false
	}
}

type entry struct {
	id    uint16
	typ   uint16
	count uint32
	raw   [4]byte // the value/offset field, verbatim
}

// readIFD reads the IFD at off: entry count, up to maxTagsPerIFD entries,
// then the next-IFD offset. It refuses any offset at or beyond len(buf).
func readIFD(buf []byte, order binary.ByteOrder, off uint32) ([]entry, uint32, bool) {
	if uint64(off)+2 > uint64(len(buf)) {
		return nil, 0, false
	}
	count := order.Uint16(buf[off : off+2])
	if int(count) > maxTagsPerIFD {
		return nil, 0, false
	}
	entriesStart := uint64(off) + 2
	entriesEnd := entriesStart + uint64(count)*12
	if entriesEnd+4 > uint64(len(buf)) {
		return nil, 0, false
	}

	out := make([]entry, 0, count)
	for i := uint16(0); i < count; i++ {
		base := entriesStart + uint64(i)*12
		e := entry{
			id:    order.Uint16(buf[base : base+2]),
			typ:   order.Uint16(buf[base+2 : base+4]),
			count: order.Uint32(buf[base+4 : base+8]),
		}
		copy(e.raw[:], buf[base+8:base+12])
		out = append(out, e)
	}
	next := order.Uint32(buf[entriesEnd : entriesEnd+4])
	return out, next, true
}

func typeSize(t uint16) uint64 {
	switch t {
	case 1, 2, 6, 7: // BYTE, ASCII, SBYTE, UNDEFINED
		return 1
	case 3, 8: // SHORT, SSHORT
		return 2
	case 4, 9, 11: // LONG, SLONG, FLOAT
		return 4
	case 5, 10, 12: // RATIONAL, SRATIONAL, DOUBLE
		return 8
	default:
		return 0
	}
}

// entryBytes resolves an entry's data, inline in raw or pointed to by it,
// bounds-checked against buf. Returns false on anything malformed.
func entryBytes(buf []byte, order binary.ByteOrder, e entry) ([]byte, bool) {
	sz := typeSize(e.typ)
	if sz == 0 || e.count == 0 {
		return nil, false
	}
	total := sz * uint64(e.count)
	if total > uint64(len(buf)) {
		return nil, false
	}
	if total <= 4 {
		return e.raw[:total], true
	}
	offset := order.Uint32(e.raw[:4])
	if uint64(offset) >= uint64(len(buf)) || uint64(offset)+total > uint64(len(buf)) {
		return nil, false
	}
	return buf[offset : uint64(offset)+total], true
}

func asciiVal(buf []byte, order binary.ByteOrder, e entry) string {
	if e.typ != 2 { // DTAscii
		return ""
	}
	b, ok := entryBytes(buf, order, e)
	if !ok {
		return ""
	}
	for len(b) > 0 && b[len(b)-1] == 0 {
		b = b[:len(b)-1]
	}
	return string(b)
}

func shortVal(order binary.ByteOrder, e entry) (uint16, bool) {
	if e.typ != 3 || e.count != 1 { // DTShort
		return 0, false
	}
	return order.Uint16(e.raw[:2]), true
}

func longVal(order binary.ByteOrder, e entry) (uint32, bool) {
	switch e.typ {
	case 3: // SHORT stored where LONG is expected is common in the wild
		if e.count != 1 {
			return 0, false
		}
		return uint32(order.Uint16(e.raw[:2])), true
	case 4: // LONG
		if e.count != 1 {
			return 0, false
		}
		return order.Uint32(e.raw[:4]), true
	default:
		return 0, false
	}
}
