package jumbfio

import (
	"errors"
	"io"
)

// ProcessingWriter is a write-through sink with one boolean state bit.
// The underlying writer receives every byte exactly once, in order; the
// callback is invoked with exactly the bytes written while excluding is
// false, in order, possibly split arbitrarily across calls. It is
// seekable iff the wrapped writer is seekable.
type ProcessingWriter struct {
	w         io.Writer
	processor func([]byte)
	excluding bool
}

// NewProcessingWriter wraps w, invoking processor on every byte written
// unless excluding has been toggled on.
func NewProcessingWriter(w io.Writer, processor func([]byte)) *ProcessingWriter {
	return &ProcessingWriter{w: w, processor: processor}
}

// Write forwards b to the underlying writer and, unless excluding, to
// the processor callback.
func (p *ProcessingWriter) Write(b []byte) (int, error) {
	n, err := p.w.Write(b)
	if n > 0 && !p.excluding && p.processor != nil {
		p.processor(b[:n])
	}
	return n, err
}

// WriteAll is Write, named to mirror the component design's write_all.
func (p *ProcessingWriter) WriteAll(b []byte) error {
	_, err := p.Write(b)
	return err
}

// SetExclude toggles whether subsequent Write calls invoke the callback.
func (p *ProcessingWriter) SetExclude(v bool) { p.excluding = v }

// IsExcluding reports the current exclude state.
func (p *ProcessingWriter) IsExcluding() bool { return p.excluding }

// Flush flushes the underlying writer if it exposes a Flush method.
func (p *ProcessingWriter) Flush() error {
	if f, ok := p.w.(interface{ Flush() error }); ok {
		return f.Flush()
	}
	return nil
}

// Seek passes through to the underlying writer if it is seekable.
func (p *ProcessingWriter) Seek(offset int64, whence int) (int64, error) {
	if s, ok := p.w.(io.Seeker); ok {
		return s.Seek(offset, whence)
	}
	return 0, errors.New("jumbfio: underlying writer is not seekable")
}
