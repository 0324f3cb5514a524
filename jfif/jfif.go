// Package jfif implements the JFIF (JPEG marker-stream) container driver:
// parsing, destination-layout calculation, streaming rewrite, in-place
// segment update, and XMP/JUMBF extraction.
package jfif

import (
	"bytes"
	"crypto/md5"
	"encoding/binary"
	"encoding/hex"
	"fmt"
	"io"

	"github.com/jumbfio/jumbfio"
	"github.com/jumbfio/jumbfio/tiff"
)

func init() {
	jumbfio.RegisterContainer(jumbfio.Driver{
		Kind:   jumbfio.ContainerJfif,
		Detect: func(header []byte) bool { return len(header) >= 3 && header[0] == 0xFF && header[1] == 0xD8 && header[2] == 0xFF },
		New:    func() jumbfio.Container { return &Driver{} },
	})
}

// Driver implements jumbfio.Container for JFIF/JPEG files.
type Driver struct{}

func (Driver) Kind() jumbfio.ContainerKind { return jumbfio.ContainerJfif }

const (
	markerSOI  = 0xD8
	markerEOI  = 0xD9
	markerSOS  = 0xDA
	markerAPP1 = 0xE1
	markerAPP11 = 0xEB
)

func isRST(m byte) bool { return m >= 0xD0 && m <= 0xD7 }

const xmpMainSig = "http://ns.adobe.com/xap/1.0/\x00"
const xmpExtSig = "http://ns.adobe.com/xmp/extension/\x00"

// Parse scans src front-to-back as a JFIF marker stream.
func (Driver) Parse(src io.ReadSeeker) (*jumbfio.Structure, error) {
	buf, err := io.ReadAll(src)
	if err != nil {
		return nil, jumbfio.IOErr(err)
	}
	return parseBytes(buf)
}

func parseBytes(buf []byte) (*jumbfio.Structure, error) {
	if len(buf) < 2 || buf[0] != 0xFF || buf[1] != markerSOI {
		return nil, jumbfio.InvalidFormat(0, "missing SOI marker")
	}
	st := jumbfio.NewStructure(jumbfio.ContainerJfif, jumbfio.MediaJpeg)
	st.AddSegment(jumbfio.NewSegment(0, 2, jumbfio.KindHeader, "SOI"))

	pos := uint64(2)
	sawEOI := false

	for pos < uint64(len(buf)) {
		// padding 0xFF bytes between markers are consumed silently
		for pos < uint64(len(buf)) && buf[pos] == 0xFF && pos+1 < uint64(len(buf)) && buf[pos+1] == 0xFF {
			pos++
		}
		if pos >= uint64(len(buf)) || buf[pos] != 0xFF {
			return nil, jumbfio.InvalidFormat(pos, "expected marker prefix 0xFF")
		}
		if pos+1 >= uint64(len(buf)) {
			return nil, jumbfio.InvalidFormat(pos, "truncated marker")
		}
		m := buf[pos+1]
		start := pos

		switch {
		case m == markerEOI:
			st.AddSegment(jumbfio.NewSegment(start, 2, jumbfio.KindOther, "EOI"))
			pos += 2
			sawEOI = true

		case m == markerSOS:
			eoiOff, ok := findEOI(buf, start)
			if !ok {
				return nil, jumbfio.InvalidFormat(start, "SOS with no following EOI")
			}
			st.AddSegment(jumbfio.NewSegment(start, eoiOff-start, jumbfio.KindImageData, "SOS"))
			st.AddSegment(jumbfio.NewSegment(eoiOff, 2, jumbfio.KindOther, "EOI"))
			pos = eoiOff + 2
			sawEOI = true

		case isRST(m):
			st.AddSegment(jumbfio.NewSegment(start, 2, jumbfio.KindOther, fmt.Sprintf("RST%d", m-0xD0)))
			pos += 2

		case m == markerAPP1:
			size, payload, next, err := readLengthPrefixed(buf, start)
			if err != nil {
				return nil, err
			}
			seg, err := classifyAPP1(buf, start, size, payload, st)
			if err != nil {
				return nil, err
			}
			if seg != nil {
				st.AddSegment(*seg)
			}
			pos = next

		case m == markerAPP11:
			_, payload, next, err := readLengthPrefixed(buf, start)
			if err != nil {
				return nil, err
			}
			classifyAPP11(start, payload, st)
			pos = next

		default:
			size, _, next, err := readLengthPrefixed(buf, start)
			if err != nil {
				return nil, err
			}
			st.AddSegment(jumbfio.NewSegment(start, 2+uint64(size), jumbfio.KindOther, fmt.Sprintf("APP/%02X", m)))
			pos = next
		}

		if sawEOI {
			break
		}
	}

	if !sawEOI {
		return nil, jumbfio.InvalidFormat(pos, "no EOI marker found")
	}
	return st, nil
}

// readLengthPrefixed reads the big-endian u16 length following the marker
// at buf[start:start+2] and returns the length field value, the payload
// slice (length-2 bytes), and the offset just past the segment.
func readLengthPrefixed(buf []byte, start uint64) (uint16, []byte, uint64, error) {
	if start+4 > uint64(len(buf)) {
		return 0, nil, 0, jumbfio.InvalidFormat(start, "truncated marker length")
	}
	size := binary.BigEndian.Uint16(buf[start+2 : start+4])
	if size < 2 {
		return 0, nil, 0, jumbfio.InvalidSegment(start, "marker length field < 2")
	}
	end := start + 2 + uint64(size)
	if end > uint64(len(buf)) {
		return 0, nil, 0, jumbfio.InvalidFormat(start, "marker payload runs past end of file")
	}
	payload := buf[start+4 : end]
	return size, payload, end, nil
}

func findEOI(buf []byte, from uint64) (uint64, bool) {
	i := from
	for i+1 < uint64(len(buf)) {
		if buf[i] == 0xFF {
			switch buf[i+1] {
			case 0x00: // stuffed byte, part of entropy data
				i += 2
				continue
			case 0xFF: // padding run
				i++
				continue
			case markerEOI:
				return i, true
			default:
				if isRST(buf[i+1]) {
					i += 2
					continue
				}
				i += 2
				continue
			}
		}
		i++
	}
	return 0, false
}

func classifyAPP1(buf []byte, start uint64, size uint16, payload []byte, st *jumbfio.Structure) (*jumbfio.Segment, error) {
	bodyStart := start + 4

	if bytes.HasPrefix(payload, []byte(xmpMainSig)) {
		body := payload[len(xmpMainSig):]
		off := bodyStart + uint64(len(xmpMainSig))
		seg := jumbfio.NewSegment(off, uint64(len(body)), jumbfio.KindXmp, "APP1[xmp]")
		return &seg, nil
	}

	if bytes.HasPrefix(payload, []byte(xmpExtSig)) {
		rest := payload[len(xmpExtSig):]
		if len(rest) < 40 {
			return &jumbfio.Segment{Kind: jumbfio.KindOther, Path: "APP1[xmp-ext?]", Ranges: []jumbfio.ByteRange{{Offset: start, Size: 2 + uint64(size)}}}, nil
		}
		guid := string(rest[:32])
		totalSize := binary.BigEndian.Uint32(rest[32:36])
		chunkOffset := binary.BigEndian.Uint32(rest[36:40])
		body := rest[40:]
		off := bodyStart + uint64(len(xmpExtSig)) + 40

		idx := -1
		for i := len(st.Segments) - 1; i >= 0; i-- {
			if st.Segments[i].Kind == jumbfio.KindXmp {
				idx = i
				break
			}
		}
		if idx < 0 {
			return &jumbfio.Segment{Kind: jumbfio.KindOther, Path: "APP1[xmp-ext-orphan]", Ranges: []jumbfio.ByteRange{{Offset: start, Size: 2 + uint64(size)}}}, nil
		}
		xmpSeg := &st.Segments[idx]
		if xmpSeg.Meta != nil && xmpSeg.Meta.ExtendedXmp != nil {
			ext := xmpSeg.Meta.ExtendedXmp
			if ext.GUID != guid || ext.TotalSize != totalSize {
				// contradicts existing metadata; skip silently
				return nil, nil
			}
		} else {
			if xmpSeg.Meta == nil {
				xmpSeg.Meta = &jumbfio.SegmentMetadata{}
			}
			xmpSeg.Meta.ExtendedXmp = &jumbfio.JpegExtendedXmp{GUID: guid, TotalSize: totalSize}
		}
		xmpSeg.Ranges = append(xmpSeg.Ranges, jumbfio.ByteRange{Offset: off, Size: uint64(len(body))})
		xmpSeg.Meta.ExtendedXmp.ChunkOffsets = append(xmpSeg.Meta.ExtendedXmp.ChunkOffsets, chunkOffset)
		return nil, nil
	}

	if bytes.HasPrefix(payload, []byte("Exif\x00\x00")) {
		// Unlike Xmp, the Exif segment's range covers the whole APP1
		// marker (framing included), matching the generic Other APP1
		// case: only the thumbnail hint's offset needs the body start.
		body := payload[6:]
		bodyOff := bodyStart + 6
		seg := jumbfio.NewSegment(start, 2+uint64(size), jumbfio.KindExif, "APP1[exif]")
		if _, thumb := tiff.Parse(body); thumb != nil {
			seg.Meta = &jumbfio.SegmentMetadata{Thumbnail: &jumbfio.ThumbnailHint{
				Offset: bodyOff + thumb.Offset,
				Size:   thumb.Size,
				Format: "jpeg",
			}}
		}
		return &seg, nil
	}

	seg := jumbfio.NewSegment(start, 2+uint64(size), jumbfio.KindOther, "APP1")
	return &seg, nil
}

func classifyAPP11(start uint64, payload []byte, st *jumbfio.Structure) {
	if len(payload) < 32 {
		seg := jumbfio.NewSegment(start, 4+uint64(len(payload)), jumbfio.KindOther, "APP11")
		st.AddSegment(seg)
		return
	}
	isJumbf := payload[0] == 'J' && payload[1] == 'P' &&
		(bytes.Equal(payload[12:16], []byte("jumb")) || bytes.Equal(payload[28:32], []byte("c2pa")))
	if !isJumbf {
		seg := jumbfio.NewSegment(start, 4+uint64(len(payload)), jumbfio.KindOther, "APP11")
		st.AddSegment(seg)
		return
	}
	z := binary.BigEndian.Uint32(payload[4:8])

	if z <= 1 {
		// First (or only) part: strip just the 8 JPEG-XT fields. The
		// LBox/TBox at payload[8:16] is the superbox's own header and
		// belongs to the logical JUMBF content.
		seg := jumbfio.NewSegment(start+4+8, uint64(len(payload))-8, jumbfio.KindJumbf, "APP11[jumbf]")
		st.AddSegment(seg)
		return
	}
	// Continuation part: the JPEG-XT fields are followed by a repeated
	// copy of the superbox's LBox/TBox; both are framing here.
	bodyOff := start + 4 + 16
	bodySize := uint64(len(payload)) - 16
	if n := len(st.Segments); n > 0 && st.Segments[n-1].Kind == jumbfio.KindJumbf {
		last := &st.Segments[n-1]
		last.Ranges = append(last.Ranges, jumbfio.ByteRange{Offset: bodyOff, Size: bodySize})
		return
	}
	seg := jumbfio.NewSegment(bodyOff, bodySize, jumbfio.KindOther, "APP11[jumbf-orphan]")
	st.AddSegment(seg)
}

// md5Hex is used by the calculator to derive the Extended-XMP GUID.
func md5Hex(b []byte) string {
	sum := md5.Sum(b)
	return hex.EncodeToString(sum[:])
}
