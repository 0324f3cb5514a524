package jfif

import "github.com/jumbfio/jumbfio"

// Framing sizes, matching the per-container overhead table: marker (2) +
// length field (2) plus the signature/header bytes specific to each kind.
const (
	xmpMainOverhead   = 2 + 2 + 29              // marker+length+29-byte Adobe signature
	xmpPartOverhead   = 2 + 2 + 35 + 32 + 4 + 4  // marker+length+ext-sig+guid+total+offset
	jumbfMainOverhead = 2 + 2 + 8                // marker+length+JPEG-XT fields
	jumbfPartOverhead = 2 + 2 + 8 + 8            // continuation: + repeated LBox/TBox

	maxXmpSingleBody = 65533 - 29 - 2 // 65502
	maxXmpPartBody   = 65456          // 65533-35-32-4-4-2
	maxJumbfPartBody = 65515          // 65533-16-2
)

// xmpStub returns the small main-APP1 body written when a large XMP set
// forces a split: a minimal XMP packet whose xmpNote:HasExtendedXMP
// attribute carries the GUID that ties the Extended-XMP parts together.
func xmpStub(guid string) []byte {
	return []byte("<?xpacket begin=\"\xEF\xBB\xBF\" id=\"W5M0MpCehiHzreSzNTczkc9d\"?>" +
		"<x:xmpmeta xmlns:x=\"adobe:ns:meta/\">" +
		"<rdf:RDF xmlns:rdf=\"http://www.w3.org/1999/02/22-rdf-syntax-ns#\">" +
		"<rdf:Description rdf:about=\"\" xmlns:xmpNote=\"http://ns.adobe.com/xmp/note/\" xmpNote:HasExtendedXMP=\"" + guid + "\"/>" +
		"</rdf:RDF></x:xmpmeta><?xpacket end=\"w\"?>")
}

// workItem is one logical destination segment before final offsets are
// assigned. seg.Ranges are relative to the item's own physical start (its
// first marker byte is conceptual offset 0) rather than absolute file
// offsets; shiftedSeg converts to absolute once the item's file position
// is known. physical is the item's total footprint, framing included.
type workItem struct {
	seg      jumbfio.Segment
	physical uint64
}

// layoutRanges lays sizes out sequentially, each preceded by its own
// framing overhead (firstOverhead for sizes[0], restOverhead for every
// later entry), and returns the resulting ranges (offsets relative to the
// item's physical start) plus the total physical footprint.
func layoutRanges(sizes []uint64, firstOverhead, restOverhead uint64) ([]jumbfio.ByteRange, uint64) {
	ranges := make([]jumbfio.ByteRange, len(sizes))
	var rel uint64
	for i, sz := range sizes {
		overhead := restOverhead
		if i == 0 {
			overhead = firstOverhead
		}
		rel += overhead
		ranges[i] = jumbfio.ByteRange{Offset: rel, Size: sz}
		rel += sz
	}
	return ranges, rel
}

// Calculate computes the destination Structure for source under plan.
// Existing Xmp/Jumbf segments are handled in place positionally
// (original_source/jpeg_io.rs handles Segment::Xmp/Segment::Jumbf in its
// own match arm, at the segment's original sequential position, rather
// than relocating it): Keep re-lays every one of them where it stands,
// Remove drops every one, and Set replaces the first and drops any later
// same-kind duplicate. A Set with no existing counterpart is inserted
// just before the first Other-APP1/APP11 (the original's
// `Segment::Other { label == "APP1" }` match arm — Exif does not count),
// else before ImageData, else at the end; when both brand-new items land
// on the same anchor, XMP is emitted first, matching the ImageData arm's
// check order in the original.
func (Driver) Calculate(source *jumbfio.Structure, plan *jumbfio.UpdatePlan) (*jumbfio.Structure, error) {
	if plan == nil {
		plan = jumbfio.NewUpdatePlan()
	}

	newXmp := plan.Xmp.Op == jumbfio.MetaSet && source.XmpIndex < 0
	newJumbf := plan.Jumbf.Op == jumbfio.MetaSet && source.C2paJumbfIdx < 0

	xmpInsertAt, jumbfInsertAt := len(source.Segments), len(source.Segments)
	if newXmp || newJumbf {
		firstOtherAPP1, firstOtherAPP11, firstImageData := -1, -1, -1
		for i, seg := range source.Segments {
			if seg.Kind == jumbfio.KindOther && seg.Path == "APP1" && firstOtherAPP1 < 0 {
				firstOtherAPP1 = i
			}
			if seg.Kind == jumbfio.KindOther && len(seg.Path) >= 5 && seg.Path[:5] == "APP11" && firstOtherAPP11 < 0 {
				firstOtherAPP11 = i
			}
			if seg.Kind == jumbfio.KindImageData && firstImageData < 0 {
				firstImageData = i
			}
		}
		if firstOtherAPP1 >= 0 {
			xmpInsertAt = firstOtherAPP1
		} else if firstImageData >= 0 {
			xmpInsertAt = firstImageData
		}
		if firstOtherAPP11 >= 0 {
			jumbfInsertAt = firstOtherAPP11
		} else if firstImageData >= 0 {
			jumbfInsertAt = firstImageData
		}
	}

	var final []workItem
	xmpSeen, jumbfSeen := false, false
	for i := 0; i <= len(source.Segments); i++ {
		if newXmp && i == xmpInsertAt {
			items, err := buildXmpSet(plan.Xmp.Bytes)
			if err != nil {
				return nil, err
			}
			final = append(final, items...)
		}
		if newJumbf && i == jumbfInsertAt {
			items, err := buildJumbfSet(plan.Jumbf.Bytes)
			if err != nil {
				return nil, err
			}
			final = append(final, items...)
		}
		if i == len(source.Segments) {
			break
		}
		seg := source.Segments[i]
		switch seg.Kind {
		case jumbfio.KindXmp:
			first := !xmpSeen
			xmpSeen = true
			switch plan.Xmp.Op {
			case jumbfio.MetaRemove:
			case jumbfio.MetaKeep:
				final = append(final, keepXmpItem(seg))
			case jumbfio.MetaSet:
				if first {
					items, err := buildXmpSet(plan.Xmp.Bytes)
					if err != nil {
						return nil, err
					}
					final = append(final, items...)
				}
			}
		case jumbfio.KindJumbf:
			first := !jumbfSeen
			jumbfSeen = true
			switch plan.Jumbf.Op {
			case jumbfio.MetaRemove:
			case jumbfio.MetaKeep:
				final = append(final, keepJumbfItem(seg))
			case jumbfio.MetaSet:
				if first {
					items, err := buildJumbfSet(plan.Jumbf.Bytes)
					if err != nil {
						return nil, err
					}
					final = append(final, items...)
				}
			}
		default:
			final = append(final, workItem{seg: normalizeSeg(seg), physical: seg.TotalSize()})
		}
	}

	dest := jumbfio.NewStructure(jumbfio.ContainerJfif, jumbfio.MediaJpeg)
	var cursor uint64
	for _, item := range final {
		dest.AddSegment(shiftedSeg(item.seg, cursor))
		cursor += item.physical
	}
	return dest, nil
}

// keepXmpItem re-lays an existing Xmp segment at its own position: same
// part sizes, same metadata, framing re-derived from the canonical
// overhead constants.
func keepXmpItem(src jumbfio.Segment) workItem {
	sizes := make([]uint64, len(src.Ranges))
	for i, r := range src.Ranges {
		sizes[i] = r.Size
	}
	ranges, phys := layoutRanges(sizes, xmpMainOverhead, xmpPartOverhead)
	seg := src
	seg.Ranges = ranges
	return workItem{seg: seg, physical: phys}
}

func keepJumbfItem(src jumbfio.Segment) workItem {
	sizes := make([]uint64, len(src.Ranges))
	for i, r := range src.Ranges {
		sizes[i] = r.Size
	}
	ranges, phys := layoutRanges(sizes, jumbfMainOverhead, jumbfPartOverhead)
	seg := src
	seg.Ranges = ranges
	return workItem{seg: seg, physical: phys}
}

// normalizeSeg rewrites seg's ranges so the first one starts at relative
// offset 0, preserving the gaps to any later range. Ordinary (non-Xmp/
// Jumbf) segments always have a single range whose size equals their full
// physical footprint, so this is a no-op beyond the relabeling; it exists
// so shiftedSeg can apply one uniform rule to every workItem.
func normalizeSeg(seg jumbfio.Segment) jumbfio.Segment {
	out := seg
	if len(seg.Ranges) == 0 {
		return out
	}
	first := seg.Ranges[0].Offset
	ranges := make([]jumbfio.ByteRange, len(seg.Ranges))
	for i, r := range seg.Ranges {
		ranges[i] = jumbfio.ByteRange{Offset: r.Offset - first, Size: r.Size}
	}
	out.Ranges = ranges
	return out
}

// shiftedSeg returns a copy of seg (whose Ranges are relative to its own
// physical start) with each range repositioned to start at base. Pure:
// allocates a fresh Ranges slice rather than mutating the one seg shares
// with the source Structure.
func shiftedSeg(seg jumbfio.Segment, base uint64) jumbfio.Segment {
	out := seg
	if len(seg.Ranges) == 0 {
		return out
	}
	ranges := make([]jumbfio.ByteRange, len(seg.Ranges))
	for i, r := range seg.Ranges {
		ranges[i] = jumbfio.ByteRange{Offset: base + r.Offset, Size: r.Size}
	}
	out.Ranges = ranges
	return out
}

func buildXmpSet(xmp []byte) ([]workItem, error) {
	if len(xmp) <= maxXmpSingleBody {
		ranges, phys := layoutRanges([]uint64{uint64(len(xmp))}, xmpMainOverhead, xmpMainOverhead)
		seg := jumbfio.NewSegmentRanges(ranges, jumbfio.KindXmp, "APP1[xmp]")
		return []workItem{{seg: seg, physical: phys}}, nil
	}

	guid := md5Hex(xmp)
	stub := xmpStub(guid)

	sizes := []uint64{uint64(len(stub))}
	var chunkOffsets []uint32

	off := 0
	for off < len(xmp) {
		n := len(xmp) - off
		if n > maxXmpPartBody {
			n = maxXmpPartBody
		}
		sizes = append(sizes, uint64(n))
		chunkOffsets = append(chunkOffsets, uint32(off))
		off += n
	}

	ranges, phys := layoutRanges(sizes, xmpMainOverhead, xmpPartOverhead)

	seg := jumbfio.Segment{
		Kind:   jumbfio.KindXmp,
		Path:   "APP1[xmp]",
		Ranges: ranges,
		Meta: &jumbfio.SegmentMetadata{ExtendedXmp: &jumbfio.JpegExtendedXmp{
			GUID:         guid,
			ChunkOffsets: chunkOffsets,
			TotalSize:    uint32(len(xmp)),
		}},
	}
	return []workItem{{seg: seg, physical: phys}}, nil
}

func buildJumbfSet(data []byte) ([]workItem, error) {
	var sizes []uint64
	if len(data) <= maxJumbfPartBody {
		sizes = []uint64{uint64(len(data))}
	} else {
		off := 0
		for off < len(data) {
			n := len(data) - off
			if n > maxJumbfPartBody {
				n = maxJumbfPartBody
			}
			sizes = append(sizes, uint64(n))
			off += n
		}
	}

	ranges, phys := layoutRanges(sizes, jumbfMainOverhead, jumbfPartOverhead)
	seg := jumbfio.NewSegmentRanges(ranges, jumbfio.KindJumbf, "APP11[jumbf]")
	return []workItem{{seg: seg, physical: phys}}, nil
}
