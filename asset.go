package jumbfio

import "io"

// Asset is the caller-facing handle returned by Open: a parsed Structure
// bound to the driver that produced it and the byte source it was
// parsed from. The byte source is owned by the caller; Asset holds onto
// it only to service later calls (ReadXMP, Write, ...) without asking
// the caller to pass it again each time.
type Asset struct {
	container Container
	source    io.ReadSeeker
	structure *Structure
}

// Open detects the container family from header bytes and parses source
// into a Structure.
func Open(source io.ReadSeeker) (*Asset, error) {
	header := make([]byte, 64)
	n, err := io.ReadFull(source, header)
	if err != nil && n == 0 {
		return nil, ioErr(err)
	}
	header = header[:n]
	if _, err := source.Seek(0, io.SeekStart); err != nil {
		return nil, ioErr(err)
	}

	d := detectContainer(header)
	if d == nil {
		return nil, unsupportedMediaType()
	}
	return openWithDriver(d, source)
}

// OpenWithMediaType skips header sniffing and parses source with the
// driver for mediaType's container family.
func OpenWithMediaType(source io.ReadSeeker, mediaType MediaType) (*Asset, error) {
	d := driverForKind(containerForMediaType(mediaType))
	if d == nil {
		return nil, unsupportedMediaType()
	}
	return openWithDriver(d, source)
}

func openWithDriver(d *Driver, source io.ReadSeeker) (*Asset, error) {
	c := d.New()
	st, err := c.Parse(source)
	if err != nil {
		return nil, err
	}
	if _, err := source.Seek(0, io.SeekStart); err != nil {
		return nil, ioErr(err)
	}
	return &Asset{container: c, source: source, structure: st}, nil
}

func containerForMediaType(m MediaType) ContainerKind {
	switch m {
	case MediaJpeg:
		return ContainerJfif
	case MediaPng:
		return ContainerPng
	default:
		return ContainerBmff
	}
}

// Structure returns the parsed source Structure.
func (a *Asset) Structure() *Structure { return a.structure }

// ReadXMP reassembles and returns the logical XMP bytes, or nil if the
// asset has no XMP segment.
func (a *Asset) ReadXMP() ([]byte, error) {
	if _, err := a.source.Seek(0, io.SeekStart); err != nil {
		return nil, ioErr(err)
	}
	return a.container.ReadXMP(a.structure, a.source)
}

// ReadJUMBF reassembles and returns the logical JUMBF bytes, or nil if
// the asset has no JUMBF segment.
func (a *Asset) ReadJUMBF() ([]byte, error) {
	if _, err := a.source.Seek(0, io.SeekStart); err != nil {
		return nil, ioErr(err)
	}
	return a.container.ReadJUMBF(a.structure, a.source)
}

// CalculateUpdatedStructure computes the destination Structure that Write
// would produce for source and plan, without performing any I/O. This is
// the "VirtualAsset" workflow: callers can learn destination offsets
// (e.g. for C2PA hashing) before writing the file.
func CalculateUpdatedStructure(container Container, source *Structure, plan *UpdatePlan) (*Structure, error) {
	if plan == nil {
		plan = NewUpdatePlan()
	}
	return container.Calculate(source, plan)
}

// Container exposes the driver bound to this asset, for callers that
// want to call CalculateUpdatedStructure directly on a source Structure
// they obtained elsewhere (e.g. a hypothetical future write).
func (a *Asset) Container() Container { return a.container }

// Write performs a streaming rewrite of the asset to output per plan.
func (a *Asset) Write(output io.Writer, plan *UpdatePlan) error {
	if plan == nil {
		plan = NewUpdatePlan()
	}
	dest, err := a.container.Calculate(a.structure, plan)
	if err != nil {
		return err
	}
	if _, err := a.source.Seek(0, io.SeekStart); err != nil {
		return ioErr(err)
	}
	return a.container.Rewrite(a.structure, dest, a.source, output, plan)
}

// WriteWithProcessing performs a streaming rewrite while invoking
// processor on every output byte not excluded by plan, and returns the
// destination Structure.
func (a *Asset) WriteWithProcessing(output io.Writer, plan *UpdatePlan, processor func([]byte)) (*Structure, error) {
	if plan == nil {
		plan = NewUpdatePlan()
	}
	dest, err := a.container.Calculate(a.structure, plan)
	if err != nil {
		return nil, err
	}
	if _, err := a.source.Seek(0, io.SeekStart); err != nil {
		return nil, ioErr(err)
	}
	if err := a.container.RewriteWithProcessing(a.structure, dest, a.source, output, plan, processor); err != nil {
		return nil, err
	}
	return dest, nil
}

// ReadWithProcessing streams the asset's existing bytes to processor,
// honoring plan's exclude_kinds/exclusion_mode, without producing output.
func (a *Asset) ReadWithProcessing(plan *UpdatePlan, processor func([]byte)) error {
	if plan == nil {
		plan = NewUpdatePlan()
	}
	if _, err := a.source.Seek(0, io.SeekStart); err != nil {
		return ioErr(err)
	}
	return a.container.ReadWithProcessing(a.structure, a.source, plan, processor)
}

// UpdateXMPInPlace overwrites the asset's XMP segment data in place. The
// asset's source must also be an io.WriteSeeker (the caller reopens the
// already-written output file read-write for this call).
func (a *Asset) UpdateXMPInPlace(newBytes []byte) (int64, error) {
	return a.updateInPlace(KindXmp, newBytes)
}

// UpdateJUMBFInPlace overwrites the asset's JUMBF segment data in place.
func (a *Asset) UpdateJUMBFInPlace(newBytes []byte) (int64, error) {
	return a.updateInPlace(KindJumbf, newBytes)
}

func (a *Asset) updateInPlace(kind SegmentKind, newBytes []byte) (int64, error) {
	w, ok := a.source.(io.WriteSeeker)
	if !ok {
		return 0, ioErr(errNotWritable)
	}
	n, err := a.container.UpdateSegment(a.structure, w, kind, newBytes)
	if err != nil {
		return n, err
	}
	if err := flushWriter(w); err != nil {
		return n, ioErr(err)
	}
	return n, nil
}

// flushWriter pushes buffered bytes through before the update call
// returns, for sinks that buffer (bufio-style Flush) or that want
// durability (os.File's Sync).
func flushWriter(w io.Writer) error {
	if f, ok := w.(interface{ Flush() error }); ok {
		return f.Flush()
	}
	if s, ok := w.(interface{ Sync() error }); ok {
		return s.Sync()
	}
	return nil
}

// XMPCapacity returns the destination XMP segment's total data size
// across every part, for caller pre-flight before an in-place update, or
// false if absent.
func (a *Asset) XMPCapacity() (uint64, bool) {
	seg, ok := a.structure.XmpSegment()
	if !ok {
		return 0, false
	}
	return seg.TotalSize(), true
}

// JUMBFCapacity returns the destination JUMBF segment's total data size
// across every part, for caller pre-flight before an in-place update, or
// false if absent.
func (a *Asset) JUMBFCapacity() (uint64, bool) {
	seg, ok := a.structure.JumbfSegment()
	if !ok {
		return 0, false
	}
	return seg.TotalSize(), true
}

type notWritableError struct{}

func (notWritableError) Error() string { return "jumbfio: asset source is not an io.WriteSeeker" }

var errNotWritable = notWritableError{}
