package bmff

import (
	"strings"

	"github.com/jumbfio/jumbfio"
)

// workItem is one logical destination segment before final offsets are
// assigned, the same shape jfif's and png's calculators use. seg.Ranges
// are relative to the item's own physical start.
type workItem struct {
	seg      jumbfio.Segment
	physical uint64
	srcOff   uint64 // first-range source offset for passthrough boxes
	isBase   bool
}

// boxHeaderLen returns the header length a box with the given content
// length (everything past size+type) will be written with: 8 normally,
// 16 when the total forces the large-size form.
func boxHeaderLen(content uint64) uint64 {
	if headerSize+content > 0xFFFFFFFF {
		return headerSizeLarge
	}
	return headerSize
}

// xmpItem lays out a fresh XMP uuid box: header, 16-byte uuid, body.
func xmpItem(size uint64) workItem {
	content := 16 + size
	h := boxHeaderLen(content)
	return workItem{
		seg:      jumbfio.NewSegment(h+16, size, jumbfio.KindXmp, "uuid/xmp"),
		physical: h + content,
	}
}

// jumbfItem lays out a fresh C2PA uuid box: header, 16-byte uuid,
// version/flags, null-terminated purpose, merkle offset, JUMBF body.
func jumbfItem(purpose string, size uint64) workItem {
	meta := uint64(16 + 4 + len(purpose) + 1 + 8)
	content := meta + size
	h := boxHeaderLen(content)
	return workItem{
		seg:      jumbfio.NewSegment(h+meta, size, jumbfio.KindJumbf, "uuid/c2pa/"+purpose),
		physical: h + content,
	}
}

func purposeFor(seg jumbfio.Segment) string {
	if p := strings.TrimPrefix(seg.Path, "uuid/c2pa/"); p != seg.Path {
		return p
	}
	return defaultPurpose
}

// isExifOverlay reports whether a segment is the HEIF Exif item overlay:
// its range lies inside a top-level box (meta or mdat) that already has
// its own passthrough segment, so it contributes no bytes of its own to
// the destination layout.
func isExifOverlay(seg jumbfio.Segment) bool {
	return seg.Kind == jumbfio.KindExif && strings.HasPrefix(seg.Path, "meta/")
}

// Calculate computes the destination Structure for source under plan.
// Existing Xmp/Jumbf uuid boxes are handled in place positionally: Keep
// re-lays every one where it stands, Remove drops every one, Set replaces
// the first and drops any later same-kind duplicate. A Set with no
// existing counterpart is inserted immediately after ftyp, before any
// other top-level box. The HEIF Exif item overlay, when present, is
// re-anchored by however far its containing top-level box moved.
func (Driver) Calculate(source *jumbfio.Structure, plan *jumbfio.UpdatePlan) (*jumbfio.Structure, error) {
	if plan == nil {
		plan = jumbfio.NewUpdatePlan()
	}

	newXmp := plan.Xmp.Op == jumbfio.MetaSet && source.XmpIndex < 0
	newJumbf := plan.Jumbf.Op == jumbfio.MetaSet && source.C2paJumbfIdx < 0

	insertAt := -1
	for i, seg := range source.Segments {
		if seg.Kind == jumbfio.KindHeader && seg.Path == "ftyp" {
			insertAt = i + 1
			break
		}
	}
	if insertAt < 0 {
		return nil, jumbfio.InvalidFormat(0, "source structure has no ftyp segment")
	}

	var final []workItem
	var overlays []jumbfio.Segment
	xmpSeen, jumbfSeen := false, false
	for i := 0; i <= len(source.Segments); i++ {
		if i == insertAt {
			if newXmp {
				final = append(final, xmpItem(uint64(len(plan.Xmp.Bytes))))
			}
			if newJumbf {
				final = append(final, jumbfItem(defaultPurpose, uint64(len(plan.Jumbf.Bytes))))
			}
		}
		if i == len(source.Segments) {
			break
		}
		seg := source.Segments[i]
		switch {
		case isExifOverlay(seg):
			overlays = append(overlays, seg)

		case seg.Kind == jumbfio.KindXmp:
			first := !xmpSeen
			xmpSeen = true
			switch plan.Xmp.Op {
			case jumbfio.MetaRemove:
			case jumbfio.MetaKeep:
				final = append(final, xmpItem(seg.Location().Size))
			case jumbfio.MetaSet:
				if first {
					final = append(final, xmpItem(uint64(len(plan.Xmp.Bytes))))
				}
			}

		case seg.Kind == jumbfio.KindJumbf:
			first := !jumbfSeen
			jumbfSeen = true
			switch plan.Jumbf.Op {
			case jumbfio.MetaRemove:
			case jumbfio.MetaKeep:
				final = append(final, jumbfItem(purposeFor(seg), seg.Location().Size))
			case jumbfio.MetaSet:
				// Set writes fresh framing, default purpose included, even
				// when the replaced box carried a different purpose string.
				if first {
					final = append(final, jumbfItem(defaultPurpose, uint64(len(plan.Jumbf.Bytes))))
				}
			}

		default:
			final = append(final, workItem{
				seg:      normalizeSeg(seg),
				physical: seg.TotalSize(),
				srcOff:   seg.Location().Offset,
				isBase:   true,
			})
		}
	}

	dest := jumbfio.NewStructure(jumbfio.ContainerBmff, source.MediaType)
	type shift struct{ srcOff, srcEnd, destOff uint64 }
	var shifts []shift
	var cursor uint64
	for _, item := range final {
		dest.AddSegment(shiftedSeg(item.seg, cursor))
		if item.isBase {
			shifts = append(shifts, shift{item.srcOff, item.srcOff + item.physical, cursor})
		}
		cursor += item.physical
	}

	for _, o := range overlays {
		loc := o.Location()
		for _, s := range shifts {
			if loc.Offset >= s.srcOff && loc.End() <= s.srcEnd {
				moved := o
				moved.Ranges = []jumbfio.ByteRange{{Offset: loc.Offset - s.srcOff + s.destOff, Size: loc.Size}}
				dest.AddSegment(moved)
				break
			}
		}
	}
	return dest, nil
}

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
