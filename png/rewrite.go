package png

import (
	"hash/crc32"
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

// rewrite walks dest.Segments in order. Header/ImageData/Exif/Other
// segments stream verbatim from the correspondingly-ordered source
// segment (Calculate never reorders them); Xmp/Jumbf destination chunks
// are synthesized fresh, either from plan bytes (Set) or re-read from the
// positionally corresponding same-kind source segment's data range (Keep).
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
			if err := writeXmp(srcSeg, src, pw, plan); err != nil {
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
			if err := writeJumbf(srcSeg, src, pw, plan); err != nil {
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
// writing anywhere. The parser strips chunk framing out of Xmp/Jumbf/
// Exif/ImageData ranges, so exclusion spans are rebuilt here: DataOnly
// excludes the stored body plus the trailing CRC (its value depends on
// the body); EntireSegment additionally hides the length/type prefix.
func (Driver) ReadWithProcessing(source *jumbfio.Structure, src io.ReadSeeker, plan *jumbfio.UpdatePlan, processor func([]byte)) error {
	if plan == nil {
		plan = jumbfio.NewUpdatePlan()
	}
	var excluded []jumbfio.ByteRange
	for _, seg := range source.Segments {
		if !plan.Excludes(seg.Kind) {
			continue
		}
		for _, r := range seg.Ranges {
			prefix, bodyOnly := bodyPrefixFor(seg)
			if bodyOnly {
				r.Size += chunkCRCSize
				if plan.ExclusionMode == jumbfio.EntireSegment {
					if prefix > r.Offset {
						prefix = r.Offset
					}
					r.Offset -= prefix
					r.Size += prefix
				}
			}
			excluded = append(excluded, r)
		}
	}
	visible := jumbfio.MergedComplement(excluded, source.TotalSize)
	return jumbfio.StreamRanges(src, visible, plan.ChunkSize, processor)
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

// copyBaseSegment re-emits a source chunk with freshly computed framing
// (length field + CRC), rather than copying the original framing bytes
// verbatim — matching the rewriter's "canonical framing" contract for
// Keep segments. For well-formed input the recomputed CRC equals the
// original. Header and whole-chunk Other segments pass through verbatim.
func copyBaseSegment(srcSeg jumbfio.Segment, src io.ReadSeeker, pw *jumbfio.ProcessingWriter, plan *jumbfio.UpdatePlan) error {
	excl := plan.Excludes(srcSeg.Kind)

	switch srcSeg.Kind {
	case jumbfio.KindImageData:
		return streamChunkThrough(pw, chunkIDAT, srcSeg.Ranges[0], src, excl, plan)

	case jumbfio.KindExif:
		return streamChunkThrough(pw, chunkEXIf, srcSeg.Ranges[0], src, excl, plan)

	default: // Header (signature) and Other chunks store their full footprint
		pw.SetExclude(excl)
		defer pw.SetExclude(false)
		return jumbfio.CopyRange(src, srcSeg.Ranges[0], pw, plan.ChunkSize)
	}
}

// writeChunkThrough writes a full length+type+data+CRC chunk to pw,
// honoring exclusion: EntireSegment hides the whole chunk from the
// callback; DataOnly keeps the length/type field visible but hides the
// data and its CRC (the CRC's value depends on the body).
func writeChunkThrough(pw *jumbfio.ProcessingWriter, ctype string, data []byte, excl bool, mode jumbfio.ExclusionMode) error {
	frameExcl := excl && mode == jumbfio.EntireSegment
	pw.SetExclude(frameExcl)
	if err := pw.WriteAll(be32(uint32(len(data)))); err != nil {
		return jumbfio.IOErr(err)
	}
	if err := pw.WriteAll([]byte(ctype)); err != nil {
		return jumbfio.IOErr(err)
	}
	pw.SetExclude(excl)
	if len(data) > 0 {
		if err := pw.WriteAll(data); err != nil {
			return jumbfio.IOErr(err)
		}
	}
	crc := crc32ChecksumFor(ctype, data)
	if err := pw.WriteAll(be32(crc)); err != nil {
		return jumbfio.IOErr(err)
	}
	pw.SetExclude(false)
	return nil
}

// streamChunkThrough is writeChunkThrough for a body that still lives in
// the source: the data range is streamed in chunks while the CRC is
// accumulated incrementally, so a large IDAT run never has to fit in one
// allocation.
func streamChunkThrough(pw *jumbfio.ProcessingWriter, ctype string, r jumbfio.ByteRange, src io.ReadSeeker, excl bool, plan *jumbfio.UpdatePlan) error {
	frameExcl := excl && plan.ExclusionMode == jumbfio.EntireSegment
	pw.SetExclude(frameExcl)
	if err := pw.WriteAll(be32(uint32(r.Size))); err != nil {
		return jumbfio.IOErr(err)
	}
	if err := pw.WriteAll([]byte(ctype)); err != nil {
		return jumbfio.IOErr(err)
	}
	pw.SetExclude(excl)
	h := crc32.NewIEEE()
	h.Write([]byte(ctype))
	if err := jumbfio.CopyRange(src, r, io.MultiWriter(pw, h), plan.ChunkSize); err != nil {
		return err
	}
	if err := pw.WriteAll(be32(h.Sum32())); err != nil {
		return jumbfio.IOErr(err)
	}
	pw.SetExclude(false)
	return nil
}

func writeXmp(srcSeg *jumbfio.Segment, src io.ReadSeeker, pw *jumbfio.ProcessingWriter, plan *jumbfio.UpdatePlan) error {
	excl := plan.Excludes(jumbfio.KindXmp)
	switch plan.Xmp.Op {
	case jumbfio.MetaSet:
		return writeChunkThrough(pw, chunkITXT, iTXTXmpBody(plan.Xmp.Bytes), excl, plan.ExclusionMode)
	case jumbfio.MetaKeep:
		if srcSeg == nil {
			return nil
		}
		body, err := readRange(src, srcSeg.Ranges[0])
		if err != nil {
			return err
		}
		return writeChunkThrough(pw, chunkITXT, iTXTXmpBody(body), excl, plan.ExclusionMode)
	}
	return nil
}

func writeJumbf(srcSeg *jumbfio.Segment, src io.ReadSeeker, pw *jumbfio.ProcessingWriter, plan *jumbfio.UpdatePlan) error {
	excl := plan.Excludes(jumbfio.KindJumbf)
	switch plan.Jumbf.Op {
	case jumbfio.MetaSet:
		return writeChunkThrough(pw, chunkCaBX, plan.Jumbf.Bytes, excl, plan.ExclusionMode)
	case jumbfio.MetaKeep:
		if srcSeg == nil {
			return nil
		}
		body, err := readRange(src, srcSeg.Ranges[0])
		if err != nil {
			return err
		}
		return writeChunkThrough(pw, chunkCaBX, body, excl, plan.ExclusionMode)
	}
	return nil
}
