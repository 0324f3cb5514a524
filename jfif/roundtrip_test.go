package jfif

import (
	"bytes"
	"io"
	"testing"

	"github.com/jumbfio/jumbfio"
)

// memRWS is an in-memory io.ReadWriteSeeker (writes past the end grow the
// buffer), the same shape an
// os.File gives UpdateSegment against a real file.
type memRWS struct {
	buf []byte
	pos int64
}

func (m *memRWS) Read(p []byte) (int, error) {
	if m.pos >= int64(len(m.buf)) {
		return 0, io.EOF
	}
	n := copy(p, m.buf[m.pos:])
	m.pos += int64(n)
	return n, nil
}

func (m *memRWS) Write(p []byte) (int, error) {
	end := m.pos + int64(len(p))
	if end > int64(len(m.buf)) {
		grown := make([]byte, end)
		copy(grown, m.buf)
		m.buf = grown
	}
	n := copy(m.buf[m.pos:end], p)
	m.pos = end
	return n, nil
}

func (m *memRWS) Seek(offset int64, whence int) (int64, error) {
	switch whence {
	case io.SeekStart:
		m.pos = offset
	case io.SeekCurrent:
		m.pos += offset
	case io.SeekEnd:
		m.pos = int64(len(m.buf)) + offset
	}
	return m.pos, nil
}

func TestCalculateRewriteKeepIsIdentity(t *testing.T) {
	jumbfBody := []byte("manifest-bytes-for-keep-round-trip")
	xmpText := "<x:xmpmeta/>"
	raw := assembleJPEG([]segSpec{
		xmpMainSeg(xmpText),
		jumbfSeg(1, uint32(len(jumbfBody))+8, jumbfBody),
	}, []byte("ENTROPY"))

	d := Driver{}
	src, err := d.Parse(bytes.NewReader(raw))
	if err != nil {
		t.Fatalf("Parse: %v", err)
	}

	plan := jumbfio.NewUpdatePlan() // Keep, Keep
	dest, err := d.Calculate(src, plan)
	if err != nil {
		t.Fatalf("Calculate: %v", err)
	}

	var out bytes.Buffer
	if err := d.Rewrite(src, dest, bytes.NewReader(raw), &out, plan); err != nil {
		t.Fatalf("Rewrite: %v", err)
	}
	if !bytes.Equal(out.Bytes(), raw) {
		t.Errorf("Rewrite with Keep/Keep produced different bytes than the source\ngot  %x\nwant %x", out.Bytes(), raw)
	}

	// re-parsing the rewritten bytes must agree with dest's layout
	reparsed, err := d.Parse(bytes.NewReader(out.Bytes()))
	if err != nil {
		t.Fatalf("re-Parse: %v", err)
	}
	if reparsed.TotalSize != dest.TotalSize {
		t.Errorf("reparsed.TotalSize = %d, dest.TotalSize = %d", reparsed.TotalSize, dest.TotalSize)
	}
}

// TestCalculateRewriteKeepPreservesNonAdjacentXmpPosition guards against a
// calculator that relocates an existing Xmp/Jumbf segment to a fresh
// "first Other-APP1/before-ImageData" anchor instead of leaving it exactly
// where it already was: here the Exif segment sits between SOI and the
// existing Xmp segment, so a naive "first APP1-ish segment" anchor would
// place Xmp before Exif instead of after it.
func TestCalculateRewriteKeepPreservesNonAdjacentXmpPosition(t *testing.T) {
	jumbfBody := []byte("manifest-not-adjacent-to-anchor")
	raw := assembleJPEG([]segSpec{
		exifSeg(minimalTIFF()),
		xmpMainSeg("<x:xmpmeta/>"),
		jumbfSeg(1, uint32(len(jumbfBody))+8, jumbfBody),
	}, []byte("ENTROPY"))

	d := Driver{}
	src, err := d.Parse(bytes.NewReader(raw))
	if err != nil {
		t.Fatalf("Parse: %v", err)
	}

	plan := jumbfio.NewUpdatePlan() // Keep, Keep
	dest, err := d.Calculate(src, plan)
	if err != nil {
		t.Fatalf("Calculate: %v", err)
	}

	var out bytes.Buffer
	if err := d.Rewrite(src, dest, bytes.NewReader(raw), &out, plan); err != nil {
		t.Fatalf("Rewrite: %v", err)
	}
	if !bytes.Equal(out.Bytes(), raw) {
		t.Errorf("Rewrite with Keep/Keep moved a non-adjacent Xmp/Jumbf segment\ngot  %x\nwant %x", out.Bytes(), raw)
	}
}

func TestCalculateRewriteSetLargeXmpSplitsAndReassembles(t *testing.T) {
	raw := assembleJPEG(nil, []byte("ENTROPY"))
	d := Driver{}
	src, err := d.Parse(bytes.NewReader(raw))
	if err != nil {
		t.Fatalf("Parse: %v", err)
	}

	big := bytes.Repeat([]byte("0123456789"), 10000) // 100000 bytes, forces a split
	plan := jumbfio.NewUpdatePlan()
	plan.Xmp = jumbfio.Set(big)

	dest, err := d.Calculate(src, plan)
	if err != nil {
		t.Fatalf("Calculate: %v", err)
	}
	xmpSeg, ok := dest.XmpSegment()
	if !ok {
		t.Fatal("destination has no Xmp segment")
	}
	if len(xmpSeg.Ranges) < 2 {
		t.Fatalf("len(Ranges) = %d, want >= 2 (stub + extension parts) for a %d-byte XMP payload", len(xmpSeg.Ranges), len(big))
	}

	var out bytes.Buffer
	if err := d.Rewrite(src, dest, bytes.NewReader(raw), &out, plan); err != nil {
		t.Fatalf("Rewrite: %v", err)
	}

	reparsed, err := d.Parse(bytes.NewReader(out.Bytes()))
	if err != nil {
		t.Fatalf("re-Parse of rewritten file: %v", err)
	}
	got, err := d.ReadXMP(reparsed, bytes.NewReader(out.Bytes()))
	if err != nil {
		t.Fatalf("ReadXMP: %v", err)
	}
	if !bytes.Equal(got, big) {
		t.Errorf("ReadXMP after split round trip mismatches original %d-byte payload (got %d bytes)", len(big), len(got))
	}
}

func TestCalculateRewriteRemoveDropsSegments(t *testing.T) {
	// long enough for the 32-byte APP11 classification probe
	jumbfBody := []byte("to-be-removed-manifest-bytes")
	raw := assembleJPEG([]segSpec{
		xmpMainSeg("<x:xmpmeta/>"),
		jumbfSeg(1, uint32(len(jumbfBody))+8, jumbfBody),
	}, []byte("E"))

	d := Driver{}
	src, err := d.Parse(bytes.NewReader(raw))
	if err != nil {
		t.Fatalf("Parse: %v", err)
	}

	plan := jumbfio.NewUpdatePlan()
	plan.Xmp = jumbfio.Remove()
	plan.Jumbf = jumbfio.Remove()

	dest, err := d.Calculate(src, plan)
	if err != nil {
		t.Fatalf("Calculate: %v", err)
	}
	if dest.XmpIndex != -1 || dest.C2paJumbfIdx != -1 {
		t.Error("Remove/Remove plan should leave no Xmp/Jumbf segment in destination")
	}

	var out bytes.Buffer
	if err := d.Rewrite(src, dest, bytes.NewReader(raw), &out, plan); err != nil {
		t.Fatalf("Rewrite: %v", err)
	}
	reparsed, err := d.Parse(bytes.NewReader(out.Bytes()))
	if err != nil {
		t.Fatalf("re-Parse: %v", err)
	}
	if reparsed.XmpIndex != -1 || reparsed.C2paJumbfIdx != -1 {
		t.Error("rewritten file still contains Xmp/Jumbf after Remove/Remove")
	}
}

// TestCalculateRewriteTwoSeparateJumbfSegments covers a file carrying two
// independent JUMBF boxes (two APP11 runs that both open with sequence
// number 1): Keep must re-emit both in place, Remove must drop both.
func TestCalculateRewriteTwoSeparateJumbfSegments(t *testing.T) {
	bodyA := []byte("first-independent-superbox")
	bodyB := []byte("second-independent-superbox")
	raw := assembleJPEG([]segSpec{
		jumbfSeg(1, uint32(len(bodyA))+8, bodyA),
		jumbfSeg(1, uint32(len(bodyB))+8, bodyB),
	}, []byte("E"))

	d := Driver{}
	src, err := d.Parse(bytes.NewReader(raw))
	if err != nil {
		t.Fatalf("Parse: %v", err)
	}
	if len(src.JumbfIndices) != 2 {
		t.Fatalf("len(JumbfIndices) = %d, want 2", len(src.JumbfIndices))
	}

	keep := jumbfio.NewUpdatePlan()
	dest, err := d.Calculate(src, keep)
	if err != nil {
		t.Fatalf("Calculate(keep): %v", err)
	}
	var out bytes.Buffer
	if err := d.Rewrite(src, dest, bytes.NewReader(raw), &out, keep); err != nil {
		t.Fatalf("Rewrite(keep): %v", err)
	}
	if !bytes.Equal(out.Bytes(), raw) {
		t.Error("Keep/Keep over two separate JUMBF segments is not byte-identical")
	}
	got, err := d.ReadJUMBF(src, bytes.NewReader(raw))
	if err != nil {
		t.Fatalf("ReadJUMBF: %v", err)
	}
	want := append(jumbfSuperbox(bodyA), jumbfSuperbox(bodyB)...)
	if !bytes.Equal(got, want) {
		t.Errorf("ReadJUMBF = %q, want both superboxes concatenated", got)
	}

	remove := jumbfio.NewUpdatePlan()
	remove.Jumbf = jumbfio.Remove()
	dest, err = d.Calculate(src, remove)
	if err != nil {
		t.Fatalf("Calculate(remove): %v", err)
	}
	if len(dest.JumbfIndices) != 0 {
		t.Errorf("Remove left %d Jumbf segments in destination, want 0", len(dest.JumbfIndices))
	}
	out.Reset()
	if err := d.Rewrite(src, dest, bytes.NewReader(raw), &out, remove); err != nil {
		t.Fatalf("Rewrite(remove): %v", err)
	}
	reparsed, err := d.Parse(bytes.NewReader(out.Bytes()))
	if err != nil {
		t.Fatalf("re-Parse: %v", err)
	}
	if len(reparsed.JumbfIndices) != 0 {
		t.Error("rewritten file still carries a Jumbf segment after Remove")
	}
}

func TestReadWithProcessingNoExclusionStreamsWholeFile(t *testing.T) {
	jumbfBody := []byte("manifest-bytes")
	raw := assembleJPEG([]segSpec{
		xmpMainSeg("<x:xmpmeta/>"),
		jumbfSeg(1, uint32(len(jumbfBody))+8, jumbfBody),
	}, []byte("ENTROPY"))

	d := Driver{}
	st, err := d.Parse(bytes.NewReader(raw))
	if err != nil {
		t.Fatalf("Parse: %v", err)
	}
	var seen bytes.Buffer
	if err := d.ReadWithProcessing(st, bytes.NewReader(raw), jumbfio.NewUpdatePlan(), func(b []byte) { seen.Write(b) }); err != nil {
		t.Fatalf("ReadWithProcessing: %v", err)
	}
	if !bytes.Equal(seen.Bytes(), raw) {
		t.Error("with no exclusions the callback must receive every byte, framing included")
	}
}

func TestReadWithProcessingEntireSegmentHidesXmpFraming(t *testing.T) {
	raw := assembleJPEG([]segSpec{xmpMainSeg("<excluded/>")}, []byte("E"))
	d := Driver{}
	st, err := d.Parse(bytes.NewReader(raw))
	if err != nil {
		t.Fatalf("Parse: %v", err)
	}

	plan := jumbfio.NewUpdatePlan()
	plan.ExcludeKinds = map[jumbfio.SegmentKind]bool{jumbfio.KindXmp: true}
	plan.ExclusionMode = jumbfio.EntireSegment

	var seen bytes.Buffer
	if err := d.ReadWithProcessing(st, bytes.NewReader(raw), plan, func(b []byte) { seen.Write(b) }); err != nil {
		t.Fatalf("ReadWithProcessing: %v", err)
	}
	if bytes.Contains(seen.Bytes(), []byte(xmpMainSig)) {
		t.Error("EntireSegment exclusion let the callback see the Adobe XMP signature")
	}
	if bytes.Contains(seen.Bytes(), []byte("<excluded/>")) {
		t.Error("EntireSegment exclusion let the callback see the XMP body")
	}
	wantLen := len(raw) - (xmpMainOverhead + len("<excluded/>"))
	if seen.Len() != wantLen {
		t.Errorf("callback saw %d bytes, want %d (file minus the whole APP1 marker)", seen.Len(), wantLen)
	}
}

func TestUpdateSegmentInPlaceOverwritesJumbfBody(t *testing.T) {
	original := []byte("original-manifest-body-padded-to-fit")
	raw := assembleJPEG([]segSpec{
		jumbfSeg(1, uint32(len(original))+8, original),
	}, []byte("E"))

	rws := &memRWS{buf: append([]byte{}, raw...)}

	d := Driver{}
	dest, err := d.Parse(rws)
	if err != nil {
		t.Fatalf("Parse: %v", err)
	}

	// capacity spans the stored range, superbox header included; the
	// replacement is itself a complete (smaller) superbox
	capacity := len(original) + 8
	replacement := jumbfSuperbox([]byte("shorter-body"))
	n, err := d.UpdateSegment(dest, rws, jumbfio.KindJumbf, replacement)
	if err != nil {
		t.Fatalf("UpdateSegment: %v", err)
	}
	if n != int64(capacity) {
		t.Errorf("UpdateSegment capacity = %d, want %d", n, capacity)
	}

	rws.pos = 0
	updated, err := d.Parse(rws)
	if err != nil {
		t.Fatalf("re-Parse after update: %v", err)
	}
	got, err := d.ReadJUMBF(updated, rws)
	if err != nil {
		t.Fatalf("ReadJUMBF: %v", err)
	}
	padded := make([]byte, capacity)
	copy(padded, replacement)
	if !bytes.Equal(got, padded) {
		t.Errorf("ReadJUMBF after UpdateSegment = %q, want %q (zero-padded to original capacity)", got, padded)
	}
}

func TestUpdateSegmentRejectsOversizeReplacement(t *testing.T) {
	original := []byte("small-but-classifiable-content")
	raw := assembleJPEG([]segSpec{
		jumbfSeg(1, uint32(len(original))+8, original),
	}, []byte("E"))
	rws := &memRWS{buf: append([]byte{}, raw...)}

	d := Driver{}
	dest, err := d.Parse(rws)
	if err != nil {
		t.Fatalf("Parse: %v", err)
	}
	if dest.C2paJumbfIdx < 0 {
		t.Fatal("fixture error: jumbf segment not classified")
	}

	oversize := bytes.Repeat([]byte("x"), len(original)+16)
	_, err = d.UpdateSegment(dest, rws, jumbfio.KindJumbf, oversize)
	jerr, ok := err.(*jumbfio.Error)
	if !ok || jerr.Kind != jumbfio.ErrOversizeReplacement {
		t.Errorf("UpdateSegment with oversize replacement = %v, want *jumbfio.Error{Kind: ErrOversizeReplacement}", err)
	}
}

func TestRewriteWithProcessingDataOnlyKeepsFramingVisible(t *testing.T) {
	raw := assembleJPEG(nil, []byte("ENTROPY"))
	d := Driver{}
	src, err := d.Parse(bytes.NewReader(raw))
	if err != nil {
		t.Fatalf("Parse: %v", err)
	}

	body := jumbfSuperbox([]byte("jumbf-body-excluded-from-hash"))
	plan := jumbfio.NewUpdatePlan()
	plan.Jumbf = jumbfio.Set(body)
	plan.ExcludeKinds = map[jumbfio.SegmentKind]bool{jumbfio.KindJumbf: true}
	plan.ExclusionMode = jumbfio.DataOnly

	dest, err := d.Calculate(src, plan)
	if err != nil {
		t.Fatalf("Calculate: %v", err)
	}

	var out bytes.Buffer
	var seen bytes.Buffer
	if err := d.RewriteWithProcessing(src, dest, bytes.NewReader(raw), &out, plan, func(b []byte) { seen.Write(b) }); err != nil {
		t.Fatalf("RewriteWithProcessing: %v", err)
	}

	if bytes.Contains(seen.Bytes(), body) {
		t.Error("DataOnly exclusion still let the processor see the excluded JUMBF body")
	}
	if !bytes.Contains(seen.Bytes(), []byte{'J', 'P'}) {
		t.Error("DataOnly exclusion hid the JPEG-XT framing fields, which it should keep visible")
	}
}

func TestRewriteWithProcessingEntireSegmentHidesFraming(t *testing.T) {
	raw := assembleJPEG(nil, []byte("ENTROPY"))
	d := Driver{}
	src, err := d.Parse(bytes.NewReader(raw))
	if err != nil {
		t.Fatalf("Parse: %v", err)
	}

	body := jumbfSuperbox([]byte("jumbf-body-excluded-from-hash"))
	plan := jumbfio.NewUpdatePlan()
	plan.Jumbf = jumbfio.Set(body)
	plan.ExcludeKinds = map[jumbfio.SegmentKind]bool{jumbfio.KindJumbf: true}
	plan.ExclusionMode = jumbfio.EntireSegment

	dest, err := d.Calculate(src, plan)
	if err != nil {
		t.Fatalf("Calculate: %v", err)
	}

	var out bytes.Buffer
	var seen bytes.Buffer
	if err := d.RewriteWithProcessing(src, dest, bytes.NewReader(raw), &out, plan, func(b []byte) { seen.Write(b) }); err != nil {
		t.Fatalf("RewriteWithProcessing: %v", err)
	}
	if bytes.Contains(seen.Bytes(), []byte{'J', 'P'}) {
		t.Error("EntireSegment exclusion let the processor see the JUMBF framing")
	}
}
