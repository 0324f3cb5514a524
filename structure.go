package jumbfio

import (
	"sort"
	"strings"
)

// ContainerKind is the tagged sum of framing families this system
// understands.
type ContainerKind int

const (
	ContainerJfif ContainerKind = iota
	ContainerPng
	ContainerBmff
)

func (c ContainerKind) String() string {
	switch c {
	case ContainerJfif:
		return "Jfif"
	case ContainerPng:
		return "Png"
	case ContainerBmff:
		return "Bmff"
	default:
		return "Unknown"
	}
}

// MediaType is the specific media format within a container family.
type MediaType int

const (
	MediaJpeg MediaType = iota
	MediaPng
	MediaHeic
	MediaHeif
	MediaAvif
	MediaMp4Video
	MediaMp4Audio
	MediaQuickTime
)

func (m MediaType) String() string {
	switch m {
	case MediaJpeg:
		return "Jpeg"
	case MediaPng:
		return "Png"
	case MediaHeic:
		return "Heic"
	case MediaHeif:
		return "Heif"
	case MediaAvif:
		return "Avif"
	case MediaMp4Video:
		return "Mp4Video"
	case MediaMp4Audio:
		return "Mp4Audio"
	case MediaQuickTime:
		return "QuickTime"
	default:
		return "Unknown"
	}
}

// Structure is the parsed (or calculated-destination) form of one asset.
// Once built it is read-only; a destination Structure is a fresh value
// with its own offsets, produced by a container's Calculate.
type Structure struct {
	Container ContainerKind
	MediaType MediaType
	Segments  []Segment
	TotalSize uint64

	XmpIndex      int // -1 if none
	JumbfIndices  []int
	C2paJumbfIdx  int // -1 if none; first of JumbfIndices
}

// NewStructure returns an empty Structure for the given container/media
// type, ready for AddSegment.
func NewStructure(container ContainerKind, media MediaType) *Structure {
	return &Structure{
		Container: container,
		MediaType: media,
		XmpIndex:  -1,
		C2paJumbfIdx: -1,
	}
}

// AddSegment appends a segment and updates the fast indices. XmpIndex is
// set on the first XMP-kind segment added; JumbfIndices grows on every
// JUMBF-kind addition.
func (s *Structure) AddSegment(seg Segment) {
	idx := len(s.Segments)
	s.Segments = append(s.Segments, seg)
	for _, r := range seg.Ranges {
		if end := r.End(); end > s.TotalSize {
			s.TotalSize = end
		}
	}
	switch seg.Kind {
	case KindXmp:
		if s.XmpIndex < 0 {
			s.XmpIndex = idx
		}
	case KindJumbf:
		s.JumbfIndices = append(s.JumbfIndices, idx)
		if s.C2paJumbfIdx < 0 {
			s.C2paJumbfIdx = idx
		}
	}
}

// XmpSegment returns the first XMP segment, if any.
func (s *Structure) XmpSegment() (*Segment, bool) {
	if s.XmpIndex < 0 {
		return nil, false
	}
	return &s.Segments[s.XmpIndex], true
}

// JumbfSegment returns the first (C2PA) JUMBF segment, if any.
func (s *Structure) JumbfSegment() (*Segment, bool) {
	if s.C2paJumbfIdx < 0 {
		return nil, false
	}
	return &s.Segments[s.C2paJumbfIdx], true
}

// SegmentsByPath returns the index of every segment whose Path contains
// substr.
func (s *Structure) SegmentsByPath(substr string) []int {
	var out []int
	for i, seg := range s.Segments {
		if strings.Contains(seg.Path, substr) {
			out = append(out, i)
		}
	}
	return out
}

// SegmentsExcluding returns the index of every segment whose Path does
// NOT contain any of the given substrings.
func (s *Structure) SegmentsExcluding(substrings []string) []int {
	var out []int
	for i, seg := range s.Segments {
		excluded := false
		for _, sub := range substrings {
			if strings.Contains(seg.Path, sub) {
				excluded = true
				break
			}
		}
		if !excluded {
			out = append(out, i)
		}
	}
	return out
}

// HashableRanges computes the complement of the excluded segments'
// ranges within [0, TotalSize), merged and sorted — the byte ranges a
// caller should feed to a hash function when hashing "everything except
// these paths".
func (s *Structure) HashableRanges(excludePathSubstrings []string) []ByteRange {
	var excluded []ByteRange
	for _, seg := range s.Segments {
		for _, sub := range excludePathSubstrings {
			if strings.Contains(seg.Path, sub) {
				excluded = append(excluded, seg.Ranges...)
				break
			}
		}
	}
	return MergedComplement(excluded, s.TotalSize)
}

// MergedComplement merges the given (possibly overlapping, unordered)
// excluded ranges and returns their complement within [0, total), sorted.
// Container drivers use it to turn per-segment exclusion spans into the
// byte ranges a processor callback should still see.
func MergedComplement(excluded []ByteRange, total uint64) []ByteRange {
	sorted := append([]ByteRange(nil), excluded...)
	sort.Slice(sorted, func(i, j int) bool { return sorted[i].Offset < sorted[j].Offset })

	var merged []ByteRange
	for _, r := range sorted {
		if len(merged) > 0 && r.Offset <= merged[len(merged)-1].End() {
			last := &merged[len(merged)-1]
			if end := r.End(); end > last.End() {
				last.Size = end - last.Offset
			}
			continue
		}
		merged = append(merged, r)
	}

	var out []ByteRange
	var cursor uint64
	for _, r := range merged {
		if r.Offset > cursor {
			out = append(out, ByteRange{Offset: cursor, Size: r.Offset - cursor})
		}
		if r.End() > cursor {
			cursor = r.End()
		}
	}
	if cursor < total {
		out = append(out, ByteRange{Offset: cursor, Size: total - cursor})
	}
	return out
}
