package ffff

import (
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"
)

// Redundancy describes how the two header copies relate, computed once
// after build or parse. Explode and map export branch on it instead of
// re-deriving header equality at every call site.
type Redundancy int

const (
	// Single means only header 0 exists; the image is degraded
	Single Redundancy = iota

	// DualDistinct means both headers exist but differ
	DualDistinct

	// DualIdentical means both headers are logically identical
	DualIdentical
)

// String returns the textual form of a redundancy state.
func (r Redundancy) String() string {
	switch r {
	case Single:
		return "single"
	case DualDistinct:
		return "dual-distinct"
	case DualIdentical:
		return "dual-identical"
	default:
		return fmt.Sprintf("unknown redundancy %d", int(r))
	}
}

// RomImage owns the full flash-image byte buffer and its two redundant
// headers: a primary at offset 0 and a secondary at the next
// header-block boundary. It is built fresh with New or parsed from an
// existing file with OpenFile, and is not safe for concurrent use.
type RomImage struct {
	// Name is the flash image name
	Name string

	// FlashCapacity is the size of the target flash part in bytes
	FlashCapacity uint32

	// EraseBlockSize is the flash erase block size in bytes
	EraseBlockSize uint32

	// HeaderSize is the size of each header in bytes
	HeaderSize uint32

	// ImageLength is the size of the image buffer in bytes
	ImageLength uint32

	// Generation is the header generation number
	Generation uint32

	buf        []byte
	header0    *Header
	header1    *Header
	locMin     uint32
	locMax     uint32
	redundancy Redundancy
	written    bool
	cfg        config
}

// New builds a fresh, empty image. Parameters are validated before any
// buffer is allocated: the header size must lie in
// [HeaderSizeMin, HeaderSizeMax], the erase block size must be a power
// of two, the image length must be a multiple of the erase block size,
// and the image must be long enough to hold both headers.
func New(name string, flashCapacity, eraseBlockSize, imageLength, generation, headerSize uint32, opts ...Option) (*RomImage, error) {
	if headerSize < HeaderSizeMin || headerSize > HeaderSizeMax {
		return nil, &ConfigError{Param: "header size", Value: headerSize,
			Reason: fmt.Sprintf("must lie in [%d, %d]", HeaderSizeMin, HeaderSizeMax)}
	}
	if !isPowerOfTwo(eraseBlockSize) {
		return nil, &ConfigError{Param: "erase block size", Value: eraseBlockSize,
			Reason: "must be a power of two"}
	}
	if imageLength%eraseBlockSize != 0 {
		return nil, &ConfigError{Param: "image length", Value: imageLength,
			Reason: "must be a multiple of the erase block size"}
	}

	cfg := defaultConfig()
	for _, opt := range opts {
		opt(&cfg)
	}

	// 2*blockSize can wrap in uint32 for huge erase blocks.
	blockSize := HeaderBlockSize(eraseBlockSize, headerSize)
	if uint64(imageLength) < 2*uint64(blockSize) {
		return nil, &ConfigError{Param: "image length", Value: imageLength,
			Reason: fmt.Sprintf("must hold both headers (at least %d bytes)", 2*blockSize)}
	}

	img := &RomImage{
		Name:           name,
		FlashCapacity:  flashCapacity,
		EraseBlockSize: eraseBlockSize,
		HeaderSize:     headerSize,
		ImageLength:    imageLength,
		Generation:     generation,
		buf:            make([]byte, imageLength),
		locMin:         2 * blockSize,
		locMax:         imageLength,
		redundancy:     DualIdentical,
		cfg:            cfg,
	}
	img.header0 = newHeader(img.buf, 0, name, flashCapacity, eraseBlockSize,
		imageLength, generation, headerSize, cfg.timestamp, cfg.log)
	img.header1 = newHeader(img.buf, blockSize, name, flashCapacity, eraseBlockSize,
		imageLength, generation, headerSize, cfg.timestamp, cfg.log)
	return img, nil
}

// OpenFile reads and parses an existing image. The literal path is
// tried first, then the path with the default extension appended.
// Header 0 must parse valid at offset 0; header 1 is located by a
// sentinel scan of doubling header-block offsets. An image whose second
// header cannot be found is returned in a degraded Single state: it can
// be inspected but never written.
func OpenFile(path string, opts ...Option) (*RomImage, error) {
	cfg := defaultConfig()
	for _, opt := range opts {
		opt(&cfg)
	}

	buf, err := os.ReadFile(path)
	if err != nil {
		var retryErr error
		buf, retryErr = os.ReadFile(path + FileExtension)
		if retryErr != nil {
			return nil, &IOError{Op: "open", Path: path, Err: err}
		}
	}

	img := &RomImage{buf: buf, cfg: cfg}

	// Header 0 is unconditional at offset 0 and must be valid; the
	// image's characteristics come straight from its fixed fields.
	header0, err := parseHeader(buf, 0, cfg.log)
	if err != nil {
		return nil, err
	}
	if header0.Validity != HeaderValid {
		return nil, &FormatError{Offset: 0,
			Reason: fmt.Sprintf("header 0 is %s", header0.Validity)}
	}
	img.header0 = header0
	img.Name = header0.Name
	img.FlashCapacity = header0.FlashCapacity
	img.EraseBlockSize = header0.EraseBlockSize
	img.HeaderSize = header0.HeaderSize
	img.ImageLength = header0.ImageLength
	img.Generation = header0.Generation

	if !isPowerOfTwo(img.EraseBlockSize) {
		return nil, &FormatError{Offset: HeaderOffEraseBlockSize,
			Reason: fmt.Sprintf("erase block size 0x%x is not a power of two", img.EraseBlockSize)}
	}
	if img.ImageLength%img.EraseBlockSize != 0 {
		return nil, &FormatError{Offset: HeaderOffImageLength,
			Reason: fmt.Sprintf("image length 0x%x is not a multiple of erase block size 0x%x",
				img.ImageLength, img.EraseBlockSize)}
	}

	blockSize := img.HeaderBlockSize()
	img.locMin = 2 * blockSize
	img.locMax = img.ImageLength

	// Locate header 1 by scanning candidate block boundaries. A
	// candidate is accepted only when both sentinels match exactly.
	for offset := blockSize; offset < MaxHeaderBlockOffset; offset <<= 1 {
		if !sentinelsAt(buf, offset, img.HeaderSize) {
			continue
		}
		header1, err := parseHeader(buf, offset, cfg.log)
		if err != nil {
			return nil, err
		}
		img.header1 = header1
		break
	}

	if img.header1 == nil {
		img.redundancy = Single
		cfg.log.Warn().Msg("second header not found; image is degraded")
	} else if img.header0.SameAs(img.header1) {
		img.redundancy = DualIdentical
	} else {
		img.redundancy = DualDistinct
	}

	img.Validate()
	return img, nil
}

// sentinelsAt reports whether both the nose and tail sentinels of a
// header of the given size are present at offset.
func sentinelsAt(buf []byte, offset, headerSize uint32) bool {
	nose := uint64(offset)
	tail := uint64(offset) + uint64(headerSize) - SentinelLength
	if tail+SentinelLength > uint64(len(buf)) {
		return false
	}
	return string(buf[nose:nose+SentinelLength]) == Sentinel &&
		string(buf[tail:tail+SentinelLength]) == Sentinel
}

// HeaderBlockSize returns the redundancy spacing for this image.
func (img *RomImage) HeaderBlockSize() uint32 {
	return HeaderBlockSize(img.EraseBlockSize, img.HeaderSize)
}

// Headers returns the two header copies. Header 1 is nil for a degraded
// image.
func (img *RomImage) Headers() (*Header, *Header) {
	return img.header0, img.header1
}

// Redundancy reports how the two header copies relate.
func (img *RomImage) Redundancy() Redundancy {
	return img.redundancy
}

// ElementLocationRange returns the legal address window for element
// payloads. Headers themselves are never addressable as elements.
func (img *RomImage) ElementLocationRange() (uint32, uint32) {
	return img.locMin, img.locMax
}

// AddElement appends the same logical element to both headers. Fails if
// either header rejects the append, or after the image has been written.
func (img *RomImage) AddElement(elementType ElementType, class, id, length, location, generation uint32, filename string) error {
	if img.written {
		return fmt.Errorf("image already written")
	}
	if img.header0 == nil || img.header1 == nil {
		return fmt.Errorf("no headers to add element to")
	}
	if err := img.header0.AddElement(elementType, class, id, length, location, generation, filename); err != nil {
		return fmt.Errorf("header 0: %w", err)
	}
	if err := img.header1.AddElement(elementType, class, id, length, location, generation, filename); err != nil {
		return fmt.Errorf("header 1: %w", err)
	}
	return nil
}

// FinalizeImage copies every element's payload bytes into the image
// buffer at its location. Headers built programmatically carry no
// payload bytes until this step.
func (img *RomImage) FinalizeImage() error {
	if img.written {
		return fmt.Errorf("image already written")
	}
	if img.header0 == nil || img.header1 == nil {
		return fmt.Errorf("no headers to finalize")
	}
	for _, h := range []*Header{img.header0, img.header1} {
		for _, e := range h.Elements {
			if e.blob == nil {
				continue
			}
			span := e.blob.Bytes()
			end := uint64(e.Location) + uint64(len(span))
			if end > uint64(len(img.buf)) {
				return &FormatError{Offset: e.Location,
					Reason: fmt.Sprintf("element %d payload extends past end of image", e.Index)}
			}
			copy(img.buf[e.Location:end], span)
		}
	}
	return nil
}

// Validate runs the full validation pass over both headers and returns
// the aggregate, or nil when everything checks out. Every element of
// every header is scanned; no failure short-circuits the pass.
func (img *RomImage) Validate() *ValidationError {
	var problems []Problem
	if img.header0 != nil {
		problems = append(problems, img.header0.Validate(0, img.locMin, img.locMax)...)
	}
	if img.header1 != nil {
		problems = append(problems, img.header1.Validate(1, img.locMin, img.locMax)...)
	}
	if len(problems) == 0 {
		return nil
	}
	return &ValidationError{Problems: problems}
}

// Write serializes both headers into the buffer and writes the whole
// image to path, appending the default extension when the path carries
// none. Write is the single enforcement gate: it refuses unless both
// headers independently validate, and the buffer is written in full or
// not at all. A successful write is terminal; further mutation is
// rejected.
func (img *RomImage) Write(path string) error {
	if img.written {
		return fmt.Errorf("image already written")
	}
	if img.header0 == nil || img.header1 == nil {
		return fmt.Errorf("image does not carry both headers")
	}

	img.header0.Pack()
	img.header1.Pack()

	if verr := img.Validate(); verr != nil {
		return verr
	}
	if img.header0.Validity != HeaderValid {
		return &FormatError{Offset: 0, Reason: fmt.Sprintf("header 0 is %s", img.header0.Validity)}
	}
	if img.header1.Validity != HeaderValid {
		return &FormatError{Offset: img.header1.offset,
			Reason: fmt.Sprintf("header 1 is %s", img.header1.Validity)}
	}

	if filepath.Ext(path) == "" {
		path += FileExtension
	}
	if err := os.WriteFile(path, img.buf, 0644); err != nil {
		return &IOError{Op: "write", Path: path, Err: err}
	}

	img.written = true
	if img.header0.SameAs(img.header1) {
		img.redundancy = DualIdentical
	} else {
		img.redundancy = DualDistinct
	}
	img.cfg.log.Info().Str("path", path).Int("size", len(img.buf)).Msg("wrote image")
	return nil
}

// Explode writes each element's payload span as an independent file
// under root. Identical headers are walked once under a shared root;
// distinct headers get a per-header root suffix.
func (img *RomImage) Explode(root string) error {
	if root == "" {
		root = "ffff"
	}
	if img.header0 == nil {
		return fmt.Errorf("no headers to explode")
	}
	switch img.redundancy {
	case DualIdentical, Single:
		return img.header0.WriteElements(root)
	default:
		if err := img.header0.WriteElements(root + "_0"); err != nil {
			return err
		}
		return img.header1.WriteElements(root + "_1")
	}
}

// WriteMap emits the field offsets of both headers and the payload
// locations of every element, shifted by baseOffset. Identical headers
// share one element walk. The map is a diagnostic export only and is
// never needed for round-trip correctness.
func (img *RomImage) WriteMap(w io.Writer, baseOffset uint32) error {
	if img.header0 == nil {
		return fmt.Errorf("no headers to map")
	}
	if err := img.header0.WriteMap(w, baseOffset, "ffff[0]"); err != nil {
		return err
	}
	if img.header1 != nil {
		if err := img.header1.WriteMap(w, baseOffset+img.HeaderBlockSize(), "ffff[1]"); err != nil {
			return err
		}
	}
	switch img.redundancy {
	case DualIdentical, Single:
		return img.header0.WriteMapElements(w, "ffff")
	default:
		if err := img.header0.WriteMapElements(w, "ffff[0]"); err != nil {
			return err
		}
		return img.header1.WriteMapElements(w, "ffff[1]")
	}
}

// CreateMapFile writes the map to baseName with its extension replaced
// by ".map".
func (img *RomImage) CreateMapFile(baseName string, baseOffset uint32) error {
	if ext := filepath.Ext(baseName); ext != "" {
		baseName = strings.TrimSuffix(baseName, ext)
	}
	path := baseName + ".map"
	f, err := os.Create(path)
	if err != nil {
		return &IOError{Op: "write", Path: path, Err: err}
	}
	defer func() { _ = f.Close() }()
	if err := img.WriteMap(f, baseOffset); err != nil {
		return err
	}
	img.cfg.log.Info().Str("path", path).Msg("wrote map file")
	return nil
}

// Display prints a human-readable dump of the image: its redundancy
// state and both headers with their element tables. Identical headers
// are annotated rather than dumped twice.
func (img *RomImage) Display(w io.Writer) error {
	if img.header0 == nil {
		return fmt.Errorf("no headers to display")
	}
	fmt.Fprintf(w, "image %q: %d bytes, redundancy %s\n", img.Name, len(img.buf), img.redundancy)
	img.header0.display(w, 0)
	switch img.redundancy {
	case Single:
		fmt.Fprintln(w, "header 1: absent")
	case DualIdentical:
		fmt.Fprintf(w, "header 1 at 0x%08x: identical to header 0\n", img.header1.offset)
	default:
		img.header1.display(w, 1)
	}
	return nil
}
