package png

import "github.com/jumbfio/jumbfio"

// Chunk framing around a stored body range: every chunk has an 8-byte
// length+type prefix and a 4-byte trailing CRC; the XMP iTXt body
// additionally sits past the keyword, compression flag/method, and the
// two null-terminated tag fields.
const (
	chunkPrefix   = 8
	chunkCRCSize  = 4
	xmpBodyPrefix = chunkPrefix + xmpKeywordLen + 1 + 1 + 1 + 1 // 30

	xmpOverhead   = xmpBodyPrefix + chunkCRCSize // 34
	jumbfOverhead = chunkPrefix + chunkCRCSize   // 12
)

// workItem is one logical destination segment before final offsets are
// assigned, mirroring jfif's calculator shape. seg.Ranges are relative to
// the item's own physical start (its length field is conceptual offset 0).
type workItem struct {
	seg      jumbfio.Segment
	physical uint64
}

// bodyPrefixFor returns how many framing bytes precede a segment's stored
// body range within its chunk, and whether the stored range is body-only
// (followed by a CRC the range does not cover). Header and Other segments
// store their full physical footprint.
func bodyPrefixFor(seg jumbfio.Segment) (uint64, bool) {
	switch seg.Kind {
	case jumbfio.KindXmp:
		return xmpBodyPrefix, true
	case jumbfio.KindJumbf, jumbfio.KindExif, jumbfio.KindImageData:
		return chunkPrefix, true
	default:
		return 0, false
	}
}

// itemFor turns a source segment into a workItem at its own position,
// accounting for the framing its stored range does not cover.
func itemFor(seg jumbfio.Segment) workItem {
	prefix, bodyOnly := bodyPrefixFor(seg)
	size := seg.Location().Size
	out := seg
	out.Ranges = []jumbfio.ByteRange{{Offset: prefix, Size: size}}
	phys := prefix + size
	if bodyOnly {
		phys += chunkCRCSize
	}
	return workItem{seg: out, physical: phys}
}

// metaItem builds a fresh single-chunk workItem for a Set operation.
func metaItem(kind jumbfio.SegmentKind, path string, prefix, size uint64) workItem {
	return workItem{
		seg:      jumbfio.NewSegment(prefix, size, kind, path),
		physical: prefix + size + chunkCRCSize,
	}
}

// Calculate computes the destination Structure for source under plan.
// Existing Xmp/Jumbf chunks are handled in place positionally: Keep
// re-lays every one where it stands, Remove drops every one, Set replaces
// the first and drops any later same-kind duplicate. A Set with no
// existing counterpart is inserted just before IEND — PNG's only
// canonical metadata anchor.
func (Driver) Calculate(source *jumbfio.Structure, plan *jumbfio.UpdatePlan) (*jumbfio.Structure, error) {
	if plan == nil {
		plan = jumbfio.NewUpdatePlan()
	}

	newXmp := plan.Xmp.Op == jumbfio.MetaSet && source.XmpIndex < 0
	newJumbf := plan.Jumbf.Op == jumbfio.MetaSet && source.C2paJumbfIdx < 0

	insertAt := len(source.Segments)
	for i, seg := range source.Segments {
		if seg.Kind == jumbfio.KindOther && seg.Path == chunkIEND {
			insertAt = i
			break
		}
	}

	var final []workItem
	xmpSeen, jumbfSeen := false, false
	for i := 0; i <= len(source.Segments); i++ {
		if i == insertAt {
			if newXmp {
				final = append(final, metaItem(jumbfio.KindXmp, "iTXt[xmp]", xmpBodyPrefix, uint64(len(plan.Xmp.Bytes))))
			}
			if newJumbf {
				final = append(final, metaItem(jumbfio.KindJumbf, "caBX", chunkPrefix, uint64(len(plan.Jumbf.Bytes))))
			}
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
				final = append(final, itemFor(seg))
			case jumbfio.MetaSet:
				if first {
					final = append(final, metaItem(jumbfio.KindXmp, "iTXt[xmp]", xmpBodyPrefix, uint64(len(plan.Xmp.Bytes))))
				}
			}
		case jumbfio.KindJumbf:
			first := !jumbfSeen
			jumbfSeen = true
			switch plan.Jumbf.Op {
			case jumbfio.MetaRemove:
			case jumbfio.MetaKeep:
				final = append(final, itemFor(seg))
			case jumbfio.MetaSet:
				if first {
					final = append(final, metaItem(jumbfio.KindJumbf, "caBX", chunkPrefix, uint64(len(plan.Jumbf.Bytes))))
				}
			}
		default:
			final = append(final, itemFor(seg))
		}
	}

	dest := jumbfio.NewStructure(jumbfio.ContainerPng, jumbfio.MediaPng)
	var cursor uint64
	for _, item := range final {
		dest.AddSegment(shiftedSeg(item.seg, cursor))
		cursor += item.physical
	}
	return dest, nil
}

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
