package jfif

import (
	"encoding/binary"
	"io"

	"github.com/jumbfio/jumbfio"
)

// Rewrite performs the streaming rewrite with no processor callback.
func (Driver) Rewrite(source, dest *jumbfio.Structure, src io.ReadSeeker, w io.Writer, plan *jumbfio.UpdatePlan) error {
	return rewrite(source, dest, src, w, plan, nil)
}

// RewriteWithProcessing performs the streaming rewrite, invoking processor
// on every output byte not excluded by plan.
func (Driver) RewriteWithProcessing(source, dest *jumbfio.Structure, src io.ReadSeeker, w io.Writer, plan *jumbfio.UpdatePlan, processor func([]byte)) error {
	return rewrite(source, dest, src, w, plan, processor)
}

// rewrite walks dest.Segments in order, writing each one to w. Header/
// ImageData/Exif/Other segments are streamed verbatim from the
// corresponding source segment, in the same relative order (Calculate
// never reorders them). Xmp and Jumbf destination segments are
// synthesized fresh, either from plan.Xmp.Bytes/plan.Jumbf.Bytes
// (MetaSet) or from the positionally corresponding same-kind source
// segment's own body bytes re-read through src (MetaKeep).
func rewrite(source, dest *jumbfio.Structure, src io.ReadSeeker, w io.Writer, plan *jumbfio.UpdatePlan, processor func([]byte)) error {
	if plan == nil {
		plan = jumbfio.NewUpdatePlan()
	}
	pw := jumbfio.NewProcessingWriter(w, processor)

	var sourceBase, sourceXmp, sourceJumbf []jumbfio.Segment
	for _, seg := range source.Segments {
		switch seg.Kind {
		case jumbfio.KindXmp:
			sourceXmp = append(sourceXmp, seg)
		case jumbfio.KindJumbf:
			sourceJumbf = append(sourceJumbf, seg)
		default:
			sourceBase = append(sourceBase, seg)
		}
	}

	baseCursor, xmpCursor, jumbfCursor := 0, 0, 0
	for _, dseg := range dest.Segments {
		switch dseg.Kind {
		case jumbfio.KindXmp:
			var srcSeg *jumbfio.Segment
			if plan.Xmp.Op == jumbfio.MetaKeep {
				if xmpCursor >= len(sourceXmp) {
					return jumbfio.InvalidFormat(0, "destination structure has more kept Xmp segments than source")
				}
				srcSeg = &sourceXmp[xmpCursor]
				xmpCursor++
			}
			if err := writeXmpSegment(dseg, srcSeg, src, pw, plan); err != nil {
				return err
			}
		case jumbfio.KindJumbf:
			var srcSeg *jumbfio.Segment
			if plan.Jumbf.Op == jumbfio.MetaKeep {
				if jumbfCursor >= len(sourceJumbf) {
					return jumbfio.InvalidFormat(0, "destination structure has more kept Jumbf segments than source")
				}
				srcSeg = &sourceJumbf[jumbfCursor]
				jumbfCursor++
			}
			if err := writeJumbfSegment(dseg, srcSeg, src, pw, plan); err != nil {
				return err
			}
		default:
			if baseCursor >= len(sourceBase) {
				return jumbfio.InvalidFormat(0, "destination structure has more passthrough segments than source")
			}
			if err := copyBaseSegment(sourceBase[baseCursor], src, pw, plan); err != nil {
				return err
			}
			baseCursor++
		}
	}
	return nil
}

// ReadWithProcessing streams source's existing bytes, in file order, to
// processor, honoring plan's exclude_kinds/exclusion_mode, without
// writing anywhere. The parser strips framing bytes out of Xmp/Jumbf
// ranges, so the exclusion spans are rebuilt here from the canonical
// per-part overheads: DataOnly excludes only the stored body ranges,
// EntireSegment widens each by its marker/length/signature prefix.
func (Driver) ReadWithProcessing(source *jumbfio.Structure, src io.ReadSeeker, plan *jumbfio.UpdatePlan, processor func([]byte)) error {
	if plan == nil {
		plan = jumbfio.NewUpdatePlan()
	}
	var excluded []jumbfio.ByteRange
	for _, seg := range source.Segments {
		if !plan.Excludes(seg.Kind) {
			continue
		}
		entire := plan.ExclusionMode == jumbfio.EntireSegment
		for i, r := range seg.Ranges {
			if entire {
				r = widenByFraming(seg, i, r)
			}
			excluded = append(excluded, r)
		}
	}
	visible := jumbfio.MergedComplement(excluded, source.TotalSize)
	return jumbfio.StreamRanges(src, visible, plan.ChunkSize, processor)
}

// widenByFraming grows a stored body range to cover the marker, length
// field, and signature bytes in front of it. Non-metadata segments store
// their full physical footprint already and pass through unchanged.
func widenByFraming(seg jumbfio.Segment, part int, r jumbfio.ByteRange) jumbfio.ByteRange {
	var prefix uint64
	switch seg.Kind {
	case jumbfio.KindXmp:
		if part == 0 {
			prefix = xmpMainOverhead
		} else {
			prefix = xmpPartOverhead
		}
	case jumbfio.KindJumbf:
		if part == 0 {
			prefix = jumbfMainOverhead
		} else {
			prefix = jumbfPartOverhead
		}
	default:
		return r
	}
	if prefix > r.Offset {
		prefix = r.Offset
	}
	return jumbfio.ByteRange{Offset: r.Offset - prefix, Size: r.Size + prefix}
}

func copyBaseSegment(seg jumbfio.Segment, src io.ReadSeeker, pw *jumbfio.ProcessingWriter, plan *jumbfio.UpdatePlan) error {
	excl := plan.Excludes(seg.Kind)
	pw.SetExclude(excl)
	defer pw.SetExclude(false)
	for _, r := range seg.Ranges {
		if err := jumbfio.CopyRange(src, r, pw, plan.ChunkSize); err != nil {
			return err
		}
	}
	return nil
}

func readRange(src io.ReadSeeker, r jumbfio.ByteRange) ([]byte, error) {
	if _, err := src.Seek(int64(r.Offset), io.SeekStart); err != nil {
		return nil, jumbfio.IOErr(err)
	}
	buf := make([]byte, r.Size)
	if _, err := io.ReadFull(src, buf); err != nil {
		return nil, jumbfio.IOErr(err)
	}
	return buf, nil
}

func be16(v uint16) []byte {
	b := make([]byte, 2)
	binary.BigEndian.PutUint16(b, v)
	return b
}

func be32(v uint32) []byte {
	b := make([]byte, 4)
	binary.BigEndian.PutUint32(b, v)
	return b
}

// writeXmpSegment writes the whole destination Xmp segment (dseg, one or
// more APP1 markers) to pw. srcSeg is the positionally corresponding
// source segment; it is nil except under MetaKeep.
func writeXmpSegment(dseg jumbfio.Segment, srcSeg *jumbfio.Segment, src io.ReadSeeker, pw *jumbfio.ProcessingWriter, plan *jumbfio.UpdatePlan) error {
	bodyExcl := plan.Excludes(jumbfio.KindXmp)
	frameExcl := bodyExcl && plan.ExclusionMode == jumbfio.EntireSegment

	switch plan.Xmp.Op {
	case jumbfio.MetaSet:
		if dseg.Meta != nil && dseg.Meta.ExtendedXmp != nil {
			ext := dseg.Meta.ExtendedXmp
			if err := writeXmpMain(pw, xmpStub(ext.GUID), frameExcl, bodyExcl); err != nil {
				return err
			}
			off := 0
			for i := 1; i < len(dseg.Ranges); i++ {
				n := int(dseg.Ranges[i].Size)
				chunk := plan.Xmp.Bytes[off : off+n]
				if err := writeXmpExtPart(pw, ext.GUID, ext.TotalSize, ext.ChunkOffsets[i-1], chunk, frameExcl, bodyExcl); err != nil {
					return err
				}
				off += n
			}
			return nil
		}
		return writeXmpMain(pw, plan.Xmp.Bytes, frameExcl, bodyExcl)

	case jumbfio.MetaKeep:
		if srcSeg == nil {
			return nil
		}
		if srcSeg.Meta != nil && srcSeg.Meta.ExtendedXmp != nil {
			ext := srcSeg.Meta.ExtendedXmp
			stub, err := readRange(src, srcSeg.Ranges[0])
			if err != nil {
				return err
			}
			if err := writeXmpMain(pw, stub, frameExcl, bodyExcl); err != nil {
				return err
			}
			for i := 1; i < len(srcSeg.Ranges); i++ {
				part, err := readRange(src, srcSeg.Ranges[i])
				if err != nil {
					return err
				}
				if err := writeXmpExtPart(pw, ext.GUID, ext.TotalSize, ext.ChunkOffsets[i-1], part, frameExcl, bodyExcl); err != nil {
					return err
				}
			}
			return nil
		}
		body, err := readRange(src, srcSeg.Ranges[0])
		if err != nil {
			return err
		}
		return writeXmpMain(pw, body, frameExcl, bodyExcl)
	}
	return nil
}

func writeXmpMain(pw *jumbfio.ProcessingWriter, body []byte, frameExcl, bodyExcl bool) error {
	length := 2 + len(xmpMainSig) + len(body)
	pw.SetExclude(frameExcl)
	if err := writeAll(pw, []byte{0xFF, markerAPP1}, be16(uint16(length)), []byte(xmpMainSig)); err != nil {
		return err
	}
	pw.SetExclude(bodyExcl)
	if err := pw.WriteAll(body); err != nil {
		return jumbfio.IOErr(err)
	}
	pw.SetExclude(false)
	return nil
}

func writeXmpExtPart(pw *jumbfio.ProcessingWriter, guid string, totalSize, chunkOffset uint32, body []byte, frameExcl, bodyExcl bool) error {
	length := 2 + len(xmpExtSig) + 32 + 4 + 4 + len(body)
	pw.SetExclude(frameExcl)
	if err := writeAll(pw, []byte{0xFF, markerAPP1}, be16(uint16(length)), []byte(xmpExtSig), []byte(guid), be32(totalSize), be32(chunkOffset)); err != nil {
		return err
	}
	pw.SetExclude(bodyExcl)
	if err := pw.WriteAll(body); err != nil {
		return jumbfio.IOErr(err)
	}
	pw.SetExclude(false)
	return nil
}

// writeJumbfSegment writes the whole destination Jumbf segment (dseg, one
// or more APP11 markers) to pw. srcSeg is the positionally corresponding
// source segment; it is nil except under MetaKeep. The logical content's
// first 8 bytes ARE the superbox's own LBox/TBox, so the first part
// carries them in its body; only continuation parts get the repeated
// LBox/TBox copy in their framing, and that copy is fully determined by
// the reassembled content (LBox = total logical length, TBox = "jumb").
func writeJumbfSegment(dseg jumbfio.Segment, srcSeg *jumbfio.Segment, src io.ReadSeeker, pw *jumbfio.ProcessingWriter, plan *jumbfio.UpdatePlan) error {
	bodyExcl := plan.Excludes(jumbfio.KindJumbf)
	frameExcl := bodyExcl && plan.ExclusionMode == jumbfio.EntireSegment

	switch plan.Jumbf.Op {
	case jumbfio.MetaSet:
		lbox := uint32(len(plan.Jumbf.Bytes))
		off := 0
		for i, r := range dseg.Ranges {
			n := int(r.Size)
			chunk := plan.Jumbf.Bytes[off : off+n]
			if err := writeJumbfPart(pw, uint32(i+1), lbox, chunk, frameExcl, bodyExcl); err != nil {
				return err
			}
			off += n
		}
		return nil

	case jumbfio.MetaKeep:
		if srcSeg == nil {
			return nil
		}
		var total uint32
		for _, r := range srcSeg.Ranges {
			total += uint32(r.Size)
		}
		for i, r := range srcSeg.Ranges {
			body, err := readRange(src, r)
			if err != nil {
				return err
			}
			if err := writeJumbfPart(pw, uint32(i+1), total, body, frameExcl, bodyExcl); err != nil {
				return err
			}
		}
		return nil
	}
	return nil
}

func writeJumbfPart(pw *jumbfio.ProcessingWriter, z, lbox uint32, body []byte, frameExcl, bodyExcl bool) error {
	length := 2 + 8 + len(body)
	if z > 1 {
		length += 8 // repeated LBox/TBox
	}
	pw.SetExclude(frameExcl)
	if err := writeAll(pw,
		[]byte{0xFF, markerAPP11},
		be16(uint16(length)),
		[]byte{'J', 'P'},
		be16(0), // instance (En): unused by this implementation
		be32(z),
	); err != nil {
		return err
	}
	if z > 1 {
		if err := writeAll(pw, be32(lbox), []byte("jumb")); err != nil {
			return err
		}
	}
	pw.SetExclude(bodyExcl)
	if err := pw.WriteAll(body); err != nil {
		return jumbfio.IOErr(err)
	}
	pw.SetExclude(false)
	return nil
}

func writeAll(pw *jumbfio.ProcessingWriter, chunks ...[]byte) error {
	for _, c := range chunks {
		if err := pw.WriteAll(c); err != nil {
			return jumbfio.IOErr(err)
		}
	}
	return nil
}
