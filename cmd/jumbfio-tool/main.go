// jumbfio-tool — command-line front end for the jumbfio library.
// Version: 0.1.0
//
// Usage:
//
//	jumbfio-tool <command> [flags] <file>
//
// Commands:
//
//	inspect       Show container structure, XMP/JUMBF presence, EXIF
//	rewrite       Rewrite a file, optionally setting/removing XMP or JUMBF
//	extract-xmp   Write a file's reassembled XMP packet to stdout or a file
//	extract-jumbf Write a file's reassembled JUMBF superbox to stdout or a file
//	update-xmp    Overwrite an existing XMP segment's bytes in place
//	update-jumbf  Overwrite an existing JUMBF segment's bytes in place
//	hash          Hash a file's bytes, optionally excluding XMP/JUMBF
//	version       Print version information
package main

import (
	"bytes"
	"crypto/sha256"
	"encoding/hex"
	"flag"
	"fmt"
	"io"
	"os"
	"strings"

	"github.com/jumbfio/jumbfio"
	_ "github.com/jumbfio/jumbfio/bmff"
	_ "github.com/jumbfio/jumbfio/jfif"
	_ "github.com/jumbfio/jumbfio/png"

	"github.com/rwcarlsen/goexif/exif"
	goexiftiff "github.com/rwcarlsen/goexif/tiff"
)

const Version = "0.1.0"

func main() {
	if len(os.Args) < 2 {
		printUsage()
		os.Exit(0)
	}

	cmd := os.Args[1]
	args := os.Args[2:]

	switch cmd {
	case "inspect":
		runInspect(args)
	case "rewrite":
		runRewrite(args)
	case "extract-xmp":
		runExtract(args, jumbfio.KindXmp)
	case "extract-jumbf":
		runExtract(args, jumbfio.KindJumbf)
	case "update-xmp":
		runUpdate(args, jumbfio.KindXmp)
	case "update-jumbf":
		runUpdate(args, jumbfio.KindJumbf)
	case "hash":
		runHash(args)
	case "version", "--version", "-v":
		fmt.Printf("jumbfio-tool v%s\n", Version)
	case "help", "--help", "-h":
		printUsage()
	default:
		fmt.Fprintf(os.Stderr, "Unknown command: %s\n\n", cmd)
		printUsage()
		os.Exit(1)
	}
}

func printUsage() {
	fmt.Printf(`jumbfio-tool v%s

USAGE
  jumbfio-tool <command> [flags] <file>

COMMANDS
  inspect       Show container structure, XMP/JUMBF presence, EXIF
  rewrite       Rewrite a file, optionally setting/removing XMP or JUMBF
  extract-xmp   Write a file's reassembled XMP packet to stdout or a file
  extract-jumbf Write a file's reassembled JUMBF superbox to stdout or a file
  update-xmp    Overwrite an existing XMP segment's bytes in place
  update-jumbf  Overwrite an existing JUMBF segment's bytes in place
  hash          Hash a file's bytes, optionally excluding XMP/JUMBF
  version       Print version information

QUICK EXAMPLES
  jumbfio-tool inspect --verbose photo.jpg
  jumbfio-tool rewrite --xmp remove --out stripped.jpg photo.jpg
  jumbfio-tool rewrite --jumbf set:manifest.jumbf --out signed.jpg photo.jpg
  jumbfio-tool extract-xmp photo.jpg > photo.xmp
  jumbfio-tool update-jumbf photo.jpg manifest.jumbf
  jumbfio-tool hash --exclude c2pa asset.heic

Run 'jumbfio-tool <command> --help' for command-specific help.
`, Version)
}

func openAsset(path string) (*jumbfio.Asset, *os.File, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, nil, err
	}
	a, err := jumbfio.Open(f)
	if err != nil {
		f.Close()
		return nil, nil, err
	}
	return a, f, nil
}

// fail reports a fatal error in the conventional tool-prefixed form and
// exits nonzero.
func fail(err error) {
	fmt.Fprintln(os.Stderr, "jumbfio-tool: "+err.Error())
	os.Exit(1)
}

func failf(format string, args ...interface{}) {
	fail(fmt.Errorf(format, args...))
}

// ────────────────────────────────────────────────────────────────────────
// inspect
// ────────────────────────────────────────────────────────────────────────

func runInspect(args []string) {
	fs := flag.NewFlagSet("inspect", flag.ExitOnError)
	jsonOut := fs.Bool("json", false, "Output as JSON")
	verbose := fs.Bool("verbose", false, "Include per-segment layout and EXIF fields")
	fs.Usage = func() {
		fmt.Println("Usage: jumbfio-tool inspect [--json] [--verbose] <file>")
	}
	fs.Parse(args)
	if fs.NArg() < 1 {
		fs.Usage()
		os.Exit(1)
	}
	path := fs.Arg(0)

	a, f, err := openAsset(path)
	if err != nil {
		fail(err)
	}
	defer f.Close()

	st := a.Structure()
	report := &inspectReport{
		Path:      path,
		Container: st.Container.String(),
		MediaType: st.MediaType.String(),
		TotalSize: st.TotalSize,
	}
	if n, ok := a.XMPCapacity(); ok {
		report.HasXMP = true
		report.XMPSize = n
	}
	if n, ok := a.JUMBFCapacity(); ok {
		report.HasJUMBF = true
		report.JUMBFSize = n
	}

	if *verbose {
		report.Segments = segmentViews(st)
		report.EXIF = exifLines(st, f)
	}

	p := NewPrinter(*jsonOut, *verbose)
	p.PrintInspect(report)
}

// exifLines decodes the asset's Exif segment (if any) with goexif and
// renders each field as one "Name: value" line. Returns nil if there is
// no Exif segment or it fails to decode — a file with bad EXIF can still
// be inspected for XMP/JUMBF.
func exifLines(st *jumbfio.Structure, src io.ReadSeeker) []string {
	for _, seg := range st.Segments {
		if seg.Kind != jumbfio.KindExif {
			continue
		}
		loc := seg.Location()
		if _, err := src.Seek(int64(loc.Offset), io.SeekStart); err != nil {
			return nil
		}
		buf := make([]byte, loc.Size)
		if _, err := io.ReadFull(src, buf); err != nil {
			return nil
		}
		body := stripExifFraming(st.Container, buf)
		if body == nil {
			return nil
		}
		x, err := exif.Decode(bytes.NewReader(body))
		if err != nil {
			return nil
		}
		var lines []string
		x.Walk(exifWalker{&lines})
		return lines
	}
	return nil
}

// stripExifFraming reduces an Exif segment's stored bytes to the bare
// TIFF stream goexif expects. What surrounds the TIFF differs per
// container: a JFIF Exif segment's range covers the whole APP1 marker
// (marker + length + "Exif\0\0" signature), a HEIF Exif item starts with
// a 4-byte TIFF-offset field, and a PNG eXIf chunk's data region is the
// TIFF directly.
func stripExifFraming(container jumbfio.ContainerKind, buf []byte) []byte {
	var framing int
	switch container {
	case jumbfio.ContainerJfif:
		framing = 2 + 2 + 6 // marker + length + "Exif\x00\x00"
	case jumbfio.ContainerBmff:
		framing = 4
	}
	if len(buf) <= framing {
		return nil
	}
	return buf[framing:]
}

type exifWalker struct {
	lines *[]string
}

func (w exifWalker) Walk(name exif.FieldName, tag *goexiftiff.Tag) error {
	*w.lines = append(*w.lines, fmt.Sprintf("%s: %v", name, tag))
	return nil
}

// ────────────────────────────────────────────────────────────────────────
// rewrite
// ────────────────────────────────────────────────────────────────────────

func runRewrite(args []string) {
	fs := flag.NewFlagSet("rewrite", flag.ExitOnError)
	outPath := fs.String("out", "", "Output file path (required)")
	xmpFlag := fs.String("xmp", "keep", "keep | remove | set:<path>")
	jumbfFlag := fs.String("jumbf", "keep", "keep | remove | set:<path>")
	fs.Usage = func() {
		fmt.Println("Usage: jumbfio-tool rewrite --out <file> [--xmp keep|remove|set:FILE] [--jumbf keep|remove|set:FILE] <file>")
	}
	fs.Parse(args)
	if fs.NArg() < 1 || *outPath == "" {
		fs.Usage()
		os.Exit(1)
	}
	path := fs.Arg(0)

	plan := jumbfio.NewUpdatePlan()
	var err error
	if plan.Xmp, err = parseMetadataFlag(*xmpFlag); err != nil {
		fail(err)
	}
	if plan.Jumbf, err = parseMetadataFlag(*jumbfFlag); err != nil {
		fail(err)
	}

	a, f, err := openAsset(path)
	if err != nil {
		fail(err)
	}
	defer f.Close()

	out, err := os.Create(*outPath)
	if err != nil {
		fail(err)
	}
	defer out.Close()

	if err := a.Write(out, plan); err != nil {
		fail(err)
	}
	NewPrinter(false, false).Report("wrote %s", *outPath)
}

func parseMetadataFlag(v string) (jumbfio.MetadataUpdate, error) {
	switch {
	case v == "keep":
		return jumbfio.Keep(), nil
	case v == "remove":
		return jumbfio.Remove(), nil
	case strings.HasPrefix(v, "set:"):
		path := strings.TrimPrefix(v, "set:")
		b, err := os.ReadFile(path)
		if err != nil {
			return jumbfio.MetadataUpdate{}, err
		}
		return jumbfio.Set(b), nil
	default:
		return jumbfio.MetadataUpdate{}, fmt.Errorf("invalid value %q — want keep, remove, or set:FILE", v)
	}
}

// ────────────────────────────────────────────────────────────────────────
// extract-xmp / extract-jumbf
// ────────────────────────────────────────────────────────────────────────

func runExtract(args []string, kind jumbfio.SegmentKind) {
	name := "extract-xmp"
	if kind == jumbfio.KindJumbf {
		name = "extract-jumbf"
	}
	fs := flag.NewFlagSet(name, flag.ExitOnError)
	outPath := fs.String("out", "", "Output file path (default: stdout)")
	fs.Usage = func() {
		fmt.Printf("Usage: jumbfio-tool %s [--out FILE] <file>\n", name)
	}
	fs.Parse(args)
	if fs.NArg() < 1 {
		fs.Usage()
		os.Exit(1)
	}
	path := fs.Arg(0)

	a, f, err := openAsset(path)
	if err != nil {
		fail(err)
	}
	defer f.Close()

	var data []byte
	if kind == jumbfio.KindXmp {
		data, err = a.ReadXMP()
	} else {
		data, err = a.ReadJUMBF()
	}
	if err != nil {
		fail(err)
	}
	if data == nil {
		failf("%s has no %s segment", path, kind)
	}

	if *outPath == "" {
		os.Stdout.Write(data)
		return
	}
	if err := os.WriteFile(*outPath, data, 0o644); err != nil {
		fail(err)
	}
	NewPrinter(false, false).Report("wrote %d bytes to %s", len(data), *outPath)
}

// ────────────────────────────────────────────────────────────────────────
// update-xmp / update-jumbf
// ────────────────────────────────────────────────────────────────────────

func runUpdate(args []string, kind jumbfio.SegmentKind) {
	name := "update-xmp"
	if kind == jumbfio.KindJumbf {
		name = "update-jumbf"
	}
	fs := flag.NewFlagSet(name, flag.ExitOnError)
	fs.Usage = func() {
		fmt.Printf("Usage: jumbfio-tool %s <file> <replacement-bytes-file>\n", name)
	}
	fs.Parse(args)
	if fs.NArg() < 2 {
		fs.Usage()
		os.Exit(1)
	}
	path, dataPath := fs.Arg(0), fs.Arg(1)

	newBytes, err := os.ReadFile(dataPath)
	if err != nil {
		fail(err)
	}

	f, err := os.OpenFile(path, os.O_RDWR, 0)
	if err != nil {
		fail(err)
	}
	defer f.Close()

	a, err := jumbfio.Open(f)
	if err != nil {
		fail(err)
	}

	var n int64
	if kind == jumbfio.KindXmp {
		n, err = a.UpdateXMPInPlace(newBytes)
	} else {
		n, err = a.UpdateJUMBFInPlace(newBytes)
	}
	if err != nil {
		fail(err)
	}
	NewPrinter(false, false).Report("wrote %d bytes into the %s segment (capacity %d)", len(newBytes), kind, n)
}

// ────────────────────────────────────────────────────────────────────────
// hash
// ────────────────────────────────────────────────────────────────────────

func runHash(args []string) {
	fs := flag.NewFlagSet("hash", flag.ExitOnError)
	exclude := fs.String("exclude", "", "comma-separated segment-path substrings to exclude (e.g. xmp,jumbf)")
	fs.Usage = func() {
		fmt.Println("Usage: jumbfio-tool hash [--exclude xmp,jumbf] <file>")
	}
	fs.Parse(args)
	if fs.NArg() < 1 {
		fs.Usage()
		os.Exit(1)
	}
	path := fs.Arg(0)

	a, f, err := openAsset(path)
	if err != nil {
		fail(err)
	}
	defer f.Close()

	var excludes []string
	if *exclude != "" {
		excludes = strings.Split(*exclude, ",")
	}

	st := a.Structure()
	h := sha256.New()
	for _, r := range st.HashableRanges(excludes) {
		if _, err := f.Seek(int64(r.Offset), io.SeekStart); err != nil {
			fail(err)
		}
		if _, err := io.CopyN(h, f, int64(r.Size)); err != nil {
			fail(err)
		}
	}
	fmt.Println(hex.EncodeToString(h.Sum(nil)))
}
