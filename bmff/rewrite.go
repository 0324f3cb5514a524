package bmff

import (
	"encoding/binary"
	"io"
	"strings"

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

// rewrite walks dest.Segments in order: passthrough top-level boxes are
// copied byte-for-byte from the correspondingly-ordered source box (their
// own size fields need no re-framing the way PNG's CRC does), Xmp/Jumbf
// uuid boxes are synthesized fresh from plan bytes (Set) or from the
// positionally corresponding same-kind source segment (Keep). The HEIF
// Exif item overlay contributes no bytes of its own — the copy of its
// containing top-level box already carries them. Per the documented
// limitation, stco/co64 sample-table offsets are not patched when uuid
// insertion shifts later boxes.
func rewrite(source, dest *jumbfio.Structure, src io.ReadSeeker, w io.Writer, plan *jumbfio.UpdatePlan, processor func([]byte)) error {
	if plan == nil {
		plan = jumbfio.NewUpdatePlan()
	}
	pw := jumbfio.NewProcessingWriter(w, processor)

	var sourceBase, sourceXmp, sourceJumbf []jumbfio.Segment
	for _, seg := range source.Segments {
		switch {
		case isExifOverlay(seg):
		case seg.Kind == jumbfio.KindXmp:
			sourceXmp = append(sourceXmp, seg)
		case seg.Kind == jumbfio.KindJumbf:
			sourceJumbf = append(sourceJumbf, seg)
		default:
			sourceBase = append(sourceBase, seg)
		}
	}

	baseCursor, xmpCursor, jumbfCursor := 0, 0, 0
	for _, dseg := range dest.Segments {
		switch {
		case isExifOverlay(dseg):

		case dseg.Kind == jumbfio.KindXmp:
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

		case dseg.Kind == jumbfio.KindJumbf:
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
// writing anywhere. Exclusion spans are rebuilt from the canonical uuid
// box framing: DataOnly excludes only the stored body range (the box
// header, uuid, version/flags, purpose string, and merkle offset stay
// visible, per the C2PA assertion hashing model); EntireSegment widens
// the span to the box's first byte.
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
			if plan.ExclusionMode == jumbfio.EntireSegment {
				prefix := framingPrefixFor(seg)
				if prefix > r.Offset {
					prefix = r.Offset
				}
				r.Offset -= prefix
				r.Size += prefix
			}
			excluded = append(excluded, r)
		}
	}
	visible := jumbfio.MergedComplement(excluded, source.TotalSize)
	return jumbfio.StreamRanges(src, visible, plan.ChunkSize, processor)
}

// framingPrefixFor reconstructs how many framing bytes precede a
// segment's stored body range within its uuid box. Passthrough segments
// (and the HEIF Exif item overlay) store the span the exclusion should
// cover already.
func framingPrefixFor(seg jumbfio.Segment) uint64 {
	switch {
	case seg.Kind == jumbfio.KindXmp:
		content := 16 + seg.Location().Size
		return boxHeaderLen(content) + 16
	case seg.Kind == jumbfio.KindJumbf:
		purpose := strings.TrimPrefix(seg.Path, "uuid/c2pa/")
		meta := uint64(16 + 4 + len(purpose) + 1 + 8)
		return boxHeaderLen(meta+seg.Location().Size) + meta
	default:
		return 0
	}
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

// copyBaseSegment streams a top-level box through unchanged: ftyp, mdat,
// moov, free, and any other passthrough box already carries its own
// valid size field.
func copyBaseSegment(srcSeg jumbfio.Segment, src io.ReadSeeker, pw *jumbfio.ProcessingWriter, plan *jumbfio.UpdatePlan) error {
	excl := plan.Excludes(srcSeg.Kind)
	pw.SetExclude(excl)
	defer pw.SetExclude(false)
	return jumbfio.CopyRange(src, srcSeg.Ranges[0], pw, plan.ChunkSize)
}

// writeBoxHeader writes the size+fourcc header for a box holding content
// bytes of payload, switching to the large-size form only when the total
// forces it, mirroring the reference writer's BoxHeaderLite::write.
func writeBoxHeader(pw *jumbfio.ProcessingWriter, fourcc string, content uint64) error {
	if headerSize+content > 0xFFFFFFFF {
		if err := pw.WriteAll(be32(1)); err != nil {
			return jumbfio.IOErr(err)
		}
		if err := pw.WriteAll([]byte(fourcc)); err != nil {
			return jumbfio.IOErr(err)
		}
		b := make([]byte, 8)
		binary.BigEndian.PutUint64(b, headerSizeLarge+content)
		if err := pw.WriteAll(b); err != nil {
			return jumbfio.IOErr(err)
		}
		return nil
	}
	if err := pw.WriteAll(be32(uint32(headerSize + content))); err != nil {
		return jumbfio.IOErr(err)
	}
	if err := pw.WriteAll([]byte(fourcc)); err != nil {
		return jumbfio.IOErr(err)
	}
	return nil
}

func be32(v uint32) []byte {
	b := make([]byte, 4)
	binary.BigEndian.PutUint32(b, v)
	return b
}

func writeXmp(srcSeg *jumbfio.Segment, src io.ReadSeeker, pw *jumbfio.ProcessingWriter, plan *jumbfio.UpdatePlan) error {
	var body []byte
	switch plan.Xmp.Op {
	case jumbfio.MetaSet:
		body = plan.Xmp.Bytes
	case jumbfio.MetaKeep:
		if srcSeg == nil {
			return nil
		}
		b, err := readRange(src, srcSeg.Ranges[0])
		if err != nil {
			return err
		}
		body = b
	default:
		return nil
	}

	excl := plan.Excludes(jumbfio.KindXmp)
	frameExcl := excl && plan.ExclusionMode == jumbfio.EntireSegment
	pw.SetExclude(frameExcl)
	if err := writeBoxHeader(pw, "uuid", 16+uint64(len(body))); err != nil {
		return err
	}
	if err := pw.WriteAll(xmpUUID); err != nil {
		return jumbfio.IOErr(err)
	}
	pw.SetExclude(excl)
	if err := pw.WriteAll(body); err != nil {
		return jumbfio.IOErr(err)
	}
	pw.SetExclude(false)
	return nil
}

func writeJumbf(srcSeg *jumbfio.Segment, src io.ReadSeeker, pw *jumbfio.ProcessingWriter, plan *jumbfio.UpdatePlan) error {
	var body []byte
	purpose := defaultPurpose
	switch plan.Jumbf.Op {
	case jumbfio.MetaSet:
		body = plan.Jumbf.Bytes
	case jumbfio.MetaKeep:
		if srcSeg == nil {
			return nil
		}
		b, err := readRange(src, srcSeg.Ranges[0])
		if err != nil {
			return err
		}
		body = b
		purpose = purposeFor(*srcSeg)
	default:
		return nil
	}

	meta := uint64(16 + 4 + len(purpose) + 1 + 8)
	excl := plan.Excludes(jumbfio.KindJumbf)
	frameExcl := excl && plan.ExclusionMode == jumbfio.EntireSegment

	pw.SetExclude(frameExcl)
	if err := writeBoxHeader(pw, "uuid", meta+uint64(len(body))); err != nil {
		return err
	}
	if err := pw.WriteAll(c2paUUID); err != nil {
		return jumbfio.IOErr(err)
	}
	if err := pw.WriteAll([]byte{0, 0, 0, 0}); err != nil { // version + flags
		return jumbfio.IOErr(err)
	}
	if err := pw.WriteAll([]byte(purpose)); err != nil {
		return jumbfio.IOErr(err)
	}
	if err := pw.WriteAll([]byte{0}); err != nil { // purpose null terminator
		return jumbfio.IOErr(err)
	}
	if err := pw.WriteAll(make([]byte, 8)); err != nil { // merkle offset, unused
		return jumbfio.IOErr(err)
	}
	// DataOnly excludes the body but keeps the uuid/purpose/merkle-offset
	// prefix visible to the callback, per the C2PA assertion hashing model.
	pw.SetExclude(excl)
	if err := pw.WriteAll(body); err != nil {
		return jumbfio.IOErr(err)
	}
	pw.SetExclude(false)
	return nil
}
