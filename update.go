package jumbfio

// MetadataUpdate describes what to do with one metadata kind (XMP or
// JUMBF) during a rewrite.
type MetadataUpdate struct {
	// Op selects Keep, Remove, or Set. Bytes is only meaningful when Op
	// is MetaSet.
	Op    MetadataOp
	Bytes []byte
}

// MetadataOp is the closed set of operations a MetadataUpdate can apply.
type MetadataOp int

const (
	MetaKeep MetadataOp = iota
	MetaRemove
	MetaSet
)

// Keep returns a MetadataUpdate that leaves the existing segment untouched.
func Keep() MetadataUpdate { return MetadataUpdate{Op: MetaKeep} }

// Remove returns a MetadataUpdate that deletes the segment from the
// destination.
func Remove() MetadataUpdate { return MetadataUpdate{Op: MetaRemove} }

// Set returns a MetadataUpdate that writes new bytes for the segment.
func Set(b []byte) MetadataUpdate { return MetadataUpdate{Op: MetaSet, Bytes: b} }

// ExclusionMode controls how much framing around an excluded segment the
// processor callback still sees.
type ExclusionMode int

const (
	// EntireSegment excludes the segment's framing and body both.
	EntireSegment ExclusionMode = iota
	// DataOnly includes framing bytes (length/type fields, and any value
	// that does not depend on body content) but excludes the body, and
	// any framing field whose value depends on the body (e.g. PNG CRC).
	DataOnly
)

// UpdatePlan (a.k.a. Updates) is the single argument that drives the
// destination-layout calculator, the streaming rewriter, and the
// processor callback's exclusion behavior.
type UpdatePlan struct {
	Xmp           MetadataUpdate
	Jumbf         MetadataUpdate
	ExcludeKinds  map[SegmentKind]bool
	ExclusionMode ExclusionMode
	ChunkSize     int // 0 means "use the container's default"
}

// NewUpdatePlan returns the default plan: Keep both metadata kinds,
// exclude nothing.
func NewUpdatePlan() *UpdatePlan {
	return &UpdatePlan{
		Xmp:   Keep(),
		Jumbf: Keep(),
	}
}

// Excludes reports whether kind is in the plan's exclusion set.
func (p *UpdatePlan) Excludes(kind SegmentKind) bool {
	if p == nil || p.ExcludeKinds == nil {
		return false
	}
	return p.ExcludeKinds[kind]
}

// DefaultChunkSize is used when a plan leaves ChunkSize unset. It is also
// the upper bound on the streaming rewriter's copy buffer.
const DefaultChunkSize = 8 << 20 // 8 MiB

// EffectiveChunkSize returns ChunkSize, or DefaultChunkSize when unset.
func (p *UpdatePlan) EffectiveChunkSize() int {
	if p == nil || p.ChunkSize <= 0 {
		return DefaultChunkSize
	}
	return p.ChunkSize
}
