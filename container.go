package jumbfio

import "io"

// Container is the set of operations every container driver (JFIF, PNG,
// BMFF) implements identically. Dispatch is static per call site: Open
// picks one Container value and every later call on the Asset goes
// through it; there is no further dynamic dispatch inside a driver.
type Container interface {
	Kind() ContainerKind

	// Parse scans source front-to-back and returns a read-only Structure
	// covering every byte of the file.
	Parse(source io.ReadSeeker) (*Structure, error)

	// Calculate is a pure function: (parsed source, plan) -> destination
	// Structure, with final offsets, performing no I/O.
	Calculate(source *Structure, plan *UpdatePlan) (*Structure, error)

	// Rewrite executes plan against source in one sequential pass, driven
	// by dest (already produced by Calculate(source, plan)), writing
	// destination bytes to w.
	Rewrite(source, dest *Structure, src io.ReadSeeker, w io.Writer, plan *UpdatePlan) error

	// RewriteWithProcessing is Rewrite with a callback invoked on every
	// output byte not excluded by plan.ExcludeKinds/ExclusionMode.
	RewriteWithProcessing(source, dest *Structure, src io.ReadSeeker, w io.Writer, plan *UpdatePlan, processor func([]byte)) error

	// ReadWithProcessing streams source bytes to the callback, honoring
	// plan's exclusions, without producing any output.
	ReadWithProcessing(source *Structure, src io.ReadSeeker, plan *UpdatePlan, processor func([]byte)) error

	// UpdateSegment overwrites one already-written destination segment's
	// data in place, repairing container framing, and returns the number
	// of bytes written (the segment's capacity).
	UpdateSegment(dest *Structure, w io.WriteSeeker, kind SegmentKind, newBytes []byte) (int64, error)

	// ReadXMP reassembles the logical XMP byte sequence, or returns nil
	// if the structure has no XMP segment.
	ReadXMP(structure *Structure, src io.ReadSeeker) ([]byte, error)

	// ReadJUMBF reassembles the logical JUMBF byte sequence, or returns
	// nil if the structure has no JUMBF segment.
	ReadJUMBF(structure *Structure, src io.ReadSeeker) ([]byte, error)
}

// Driver is a registered container: a detector over header bytes plus a
// constructor. Realizes the "registry of container drivers, selected by
// header-byte detection at open time" design note.
type Driver struct {
	Kind   ContainerKind
	Detect func(header []byte) bool
	New    func() Container
}

var drivers []Driver

// RegisterContainer adds a container driver to the registry. Container
// packages call this from an init() function so that importing them for
// side effect (blank import) is enough to make Open recognize the format,
// the same pattern database/sql drivers use.
func RegisterContainer(d Driver) {
	drivers = append(drivers, d)
}

// detectContainer returns the first registered driver whose Detect
// function matches header, or nil.
func detectContainer(header []byte) *Driver {
	for i := range drivers {
		if drivers[i].Detect(header) {
			return &drivers[i]
		}
	}
	return nil
}

func driverForKind(kind ContainerKind) *Driver {
	for i := range drivers {
		if drivers[i].Kind == kind {
			return &drivers[i]
		}
	}
	return nil
}
