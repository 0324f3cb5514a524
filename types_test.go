package jumbfio

import "testing"

func TestSegmentTotalSizeAndLocation(t *testing.T) {
	seg := NewSegmentRanges([]ByteRange{
		{Offset: 10, Size: 5},
		{Offset: 30, Size: 7},
	}, KindXmp, "test")

	if got := seg.TotalSize(); got != 12 {
		t.Errorf("TotalSize() = %d, want 12", got)
	}
	if loc := seg.Location(); loc != (ByteRange{Offset: 10, Size: 5}) {
		t.Errorf("Location() = %+v, want {10 5}", loc)
	}
	if !seg.IsXmp() {
		t.Error("IsXmp() = false, want true")
	}
	if seg.IsJumbf() || seg.IsImageData() || seg.IsExif() || seg.IsHeader() {
		t.Error("unexpected kind predicate true for a Xmp segment")
	}
}

func TestSegmentLocationEmpty(t *testing.T) {
	var seg Segment
	if loc := seg.Location(); loc != (ByteRange{}) {
		t.Errorf("Location() on empty segment = %+v, want zero value", loc)
	}
}

func TestByteRangeEnd(t *testing.T) {
	r := ByteRange{Offset: 100, Size: 50}
	if got := r.End(); got != 150 {
		t.Errorf("End() = %d, want 150", got)
	}
}

func TestSegmentKindString(t *testing.T) {
	cases := map[SegmentKind]string{
		KindHeader:    "Header",
		KindImageData: "ImageData",
		KindXmp:       "Xmp",
		KindJumbf:     "Jumbf",
		KindExif:      "Exif",
		KindOther:     "Other",
		SegmentKind(99): "SegmentKind(99)",
	}
	for k, want := range cases {
		if got := k.String(); got != want {
			t.Errorf("SegmentKind(%d).String() = %q, want %q", int(k), got, want)
		}
	}
}
