package main

import (
	"encoding/json"
	"fmt"
	"os"

	"github.com/jumbfio/jumbfio"
)

// Printer handles all display output for the CLI.
type Printer struct {
	JSON    bool
	Verbose bool
	Writer  *os.File
}

// NewPrinter creates a default Printer writing to stdout.
func NewPrinter(jsonMode, verbose bool) *Printer {
	return &Printer{JSON: jsonMode, Verbose: verbose, Writer: os.Stdout}
}

// segmentView is the JSON/text projection of one jumbfio.Segment.
type segmentView struct {
	Index  int      `json:"index"`
	Kind   string   `json:"kind"`
	Path   string   `json:"path"`
	Ranges []string `json:"ranges"`
	Size   uint64   `json:"size"`
}

func segmentViews(st *jumbfio.Structure) []segmentView {
	views := make([]segmentView, len(st.Segments))
	for i, seg := range st.Segments {
		ranges := make([]string, len(seg.Ranges))
		for j, r := range seg.Ranges {
			ranges[j] = fmt.Sprintf("%d..%d", r.Offset, r.End())
		}
		views[i] = segmentView{
			Index:  i,
			Kind:   seg.Kind.String(),
			Path:   seg.Path,
			Ranges: ranges,
			Size:   seg.TotalSize(),
		}
	}
	return views
}

// inspectReport is everything PrintInspect renders, gathered up front so
// JSON and text mode share one source of truth.
type inspectReport struct {
	Path      string        `json:"file"`
	Container string        `json:"container"`
	MediaType string        `json:"mediaType"`
	TotalSize uint64        `json:"totalSize"`
	HasXMP    bool          `json:"hasXmp"`
	XMPSize   uint64        `json:"xmpSize,omitempty"`
	HasJUMBF  bool          `json:"hasJumbf"`
	JUMBFSize uint64        `json:"jumbfSize,omitempty"`
	Segments  []segmentView `json:"segments,omitempty"`
	EXIF      []string      `json:"exif,omitempty"`
}

// PrintInspect renders an inspectReport to the configured output.
func (p *Printer) PrintInspect(r *inspectReport) {
	if p.JSON {
		b, _ := json.MarshalIndent(r, "", "  ")
		fmt.Fprintln(p.Writer, string(b))
		return
	}

	fmt.Fprintf(p.Writer, "File     : %s\n", r.Path)
	fmt.Fprintf(p.Writer, "Container: %s\n", r.Container)
	fmt.Fprintf(p.Writer, "Media    : %s\n", r.MediaType)
	fmt.Fprintf(p.Writer, "Size     : %d bytes\n", r.TotalSize)
	if r.HasXMP {
		fmt.Fprintf(p.Writer, "XMP      : present, %d bytes\n", r.XMPSize)
	} else {
		fmt.Fprintln(p.Writer, "XMP      : absent")
	}
	if r.HasJUMBF {
		fmt.Fprintf(p.Writer, "JUMBF    : present, %d bytes\n", r.JUMBFSize)
	} else {
		fmt.Fprintln(p.Writer, "JUMBF    : absent")
	}

	if p.Verbose && len(r.Segments) > 0 {
		fmt.Fprintln(p.Writer)
		fmt.Fprintln(p.Writer, "Segments:")
		for _, s := range r.Segments {
			fmt.Fprintf(p.Writer, "  [%3d] %-10s %-20s %v (%d bytes)\n", s.Index, s.Kind, s.Path, s.Ranges, s.Size)
		}
	}

	if p.Verbose && len(r.EXIF) > 0 {
		fmt.Fprintln(p.Writer)
		fmt.Fprintln(p.Writer, "EXIF:")
		for _, line := range r.EXIF {
			fmt.Fprintf(p.Writer, "  %s\n", line)
		}
	}
}

// Report prints a one-line human-readable result. Suppressed in JSON
// mode, where the structured document is the whole output.
func (p *Printer) Report(format string, args ...interface{}) {
	if p.JSON {
		return
	}
	fmt.Fprintf(p.Writer, format+"\n", args...)
}
