// Package jumbfio reads, hashes, and rewrites embedded metadata (C2PA/JUMBF
// manifests and XMP packets) inside JFIF, PNG, and ISO-BMFF media files
// without decoding pixel, audio, or video payload.
package jumbfio

import "fmt"

// ByteRange is a contiguous span of bytes within a container.
type ByteRange struct {
	Offset uint64
	Size   uint64
}

// End returns Offset + Size.
func (r ByteRange) End() uint64 { return r.Offset + r.Size }

// SegmentKind classifies one logical region of a container.
type SegmentKind int

const (
	KindHeader SegmentKind = iota
	KindImageData
	KindXmp
	KindJumbf
	KindExif
	KindOther
)

func (k SegmentKind) String() string {
	switch k {
	case KindHeader:
		return "Header"
	case KindImageData:
		return "ImageData"
	case KindXmp:
		return "Xmp"
	case KindJumbf:
		return "Jumbf"
	case KindExif:
		return "Exif"
	case KindOther:
		return "Other"
	default:
		return fmt.Sprintf("SegmentKind(%d)", int(k))
	}
}

// JpegExtendedXmp records how a JPEG Extended-XMP packet was split across
// the main APP1 segment and one or more Extended-XMP APP1 parts.
type JpegExtendedXmp struct {
	GUID          string // 32-byte ASCII hex digest
	ChunkOffsets  []uint32
	TotalSize     uint32
}

// ThumbnailHint locates an embedded thumbnail without decoding it.
type ThumbnailHint struct {
	Offset uint64
	Size   uint64
	Format string
	Width  int // 0 if unknown
	Height int // 0 if unknown
}

// SegmentMetadata carries kind-specific side information. At most one of
// ExtendedXmp / Thumbnail is set, matching the source's tagged-union shape.
type SegmentMetadata struct {
	ExtendedXmp *JpegExtendedXmp
	Thumbnail   *ThumbnailHint
}

// Segment is one logical region of a container.
type Segment struct {
	Kind   SegmentKind
	Path   string // human readable tag, e.g. "iTXt[xmp]", "uuid/c2pa/manifest"
	Ranges []ByteRange
	Meta   *SegmentMetadata
}

// NewSegment builds a single-range segment.
func NewSegment(offset, size uint64, kind SegmentKind, path string) Segment {
	return Segment{Kind: kind, Path: path, Ranges: []ByteRange{{Offset: offset, Size: size}}}
}

// NewSegmentRanges builds a multi-range (or empty-range) segment.
func NewSegmentRanges(ranges []ByteRange, kind SegmentKind, path string) Segment {
	return Segment{Kind: kind, Path: path, Ranges: ranges}
}

// Location returns the first range, the convenience accessor for
// single-range segments.
func (s Segment) Location() ByteRange {
	if len(s.Ranges) == 0 {
		return ByteRange{}
	}
	return s.Ranges[0]
}

func (s Segment) IsXmp() bool       { return s.Kind == KindXmp }
func (s Segment) IsJumbf() bool     { return s.Kind == KindJumbf }
func (s Segment) IsImageData() bool { return s.Kind == KindImageData }
func (s Segment) IsExif() bool      { return s.Kind == KindExif }
func (s Segment) IsHeader() bool    { return s.Kind == KindHeader }

// TotalSize sums the sizes of every range in the segment.
func (s Segment) TotalSize() uint64 {
	var n uint64
	for _, r := range s.Ranges {
		n += r.Size
	}
	return n
}
