package ffff

import (
	"bytes"
	"encoding/binary"
	"fmt"
	"io"

	"github.com/rs/zerolog"
)

// Validity is the three-way acceptance classification of one header.
type Validity int

// Header validity states.
const (
	// HeaderValid means both sentinels and all fields check out
	HeaderValid Validity = iota

	// HeaderErased means the header block is blank flash (all 0xFF)
	HeaderErased

	// HeaderInvalid means a sentinel or field is corrupt, or an element
	// failed validation
	HeaderInvalid
)

// String returns the textual form of a validity state.
func (v Validity) String() string {
	switch v {
	case HeaderValid:
		return "valid"
	case HeaderErased:
		return "erased"
	case HeaderInvalid:
		return "invalid"
	default:
		return fmt.Sprintf("unknown validity %d", int(v))
	}
}

// Header is one physical FFFF header: sentinel framing, fixed metadata
// fields, the element table, and the tail sentinel. It packs and
// unpacks itself in place within the shared image buffer at its offset.
type Header struct {
	// Timestamp is the 16-byte build timestamp, NUL-trimmed
	Timestamp string

	// Name is the flash image name, NUL-trimmed
	Name string

	// FlashCapacity is the size of the target flash part in bytes
	FlashCapacity uint32

	// EraseBlockSize is the flash erase block size in bytes
	EraseBlockSize uint32

	// HeaderSize is this header's size in bytes
	HeaderSize uint32

	// ImageLength is the size of the flash image in bytes
	ImageLength uint32

	// Generation is the header generation number
	Generation uint32

	// Reserved holds the reserved words, preserved across round trips
	Reserved [ReservedWords]uint32

	// Elements is the table of real elements; the end-of-table marker
	// is implicit
	Elements []*Element

	// Validity is the header's acceptance classification
	Validity Validity

	offset uint32
	buf    []byte
	geom   Geometry
	log    zerolog.Logger
}

// newHeader constructs a header on the build path with an empty element
// table. The header is not serialized into the buffer until Pack.
func newHeader(buf []byte, offset uint32, name string,
	flashCapacity, eraseBlockSize, imageLength, generation, headerSize uint32,
	timestamp string, log zerolog.Logger) *Header {

	return &Header{
		Timestamp:      timestamp,
		Name:           name,
		FlashCapacity:  flashCapacity,
		EraseBlockSize: eraseBlockSize,
		HeaderSize:     headerSize,
		ImageLength:    imageLength,
		Generation:     generation,
		Validity:       HeaderValid,
		offset:         offset,
		buf:            buf,
		geom:           ComputeGeometry(headerSize),
		log:            log.With().Uint32("header_offset", offset).Logger(),
	}
}

// parseHeader unpacks a header from the image buffer at offset. A bad
// nose or tail sentinel, an out-of-range header size, or a truncated
// buffer is a fatal FormatError; a blank (all 0xFF) header block is
// classified Erased and returned without error for the caller to accept
// or reject.
func parseHeader(buf []byte, offset uint32, log zerolog.Logger) (*Header, error) {
	h := &Header{
		offset: offset,
		buf:    buf,
		log:    log.With().Uint32("header_offset", offset).Logger(),
	}
	if err := h.unpack(); err != nil {
		return nil, err
	}
	return h, nil
}

// unpack deserializes the fixed fields, re-derives the size-dependent
// geometry, verifies the tail sentinel, and walks the element table.
// Geometry must come from the on-disk header size before any table
// access: the table capacity and tail offset move with it.
func (h *Header) unpack() error {
	base := int(h.offset)
	if base+HeaderSizeMin > len(h.buf) {
		return &FormatError{Offset: h.offset, Reason: "buffer too small for a header"}
	}

	if erased(h.buf[base : base+HeaderSizeMin]) {
		h.Validity = HeaderErased
		return nil
	}

	if string(h.buf[base:base+SentinelLength]) != Sentinel {
		h.Validity = HeaderInvalid
		return &FormatError{Offset: h.offset, Reason: "invalid nose sentinel"}
	}

	h.Timestamp = trimField(h.buf[base+HeaderOffTimestamp : base+HeaderOffTimestamp+TimestampLength])
	h.Name = trimField(h.buf[base+HeaderOffImageName : base+HeaderOffImageName+ImageNameLength])
	h.FlashCapacity = binary.LittleEndian.Uint32(h.buf[base+HeaderOffFlashCapacity:])
	h.EraseBlockSize = binary.LittleEndian.Uint32(h.buf[base+HeaderOffEraseBlockSize:])
	h.HeaderSize = binary.LittleEndian.Uint32(h.buf[base+HeaderOffHeaderSize:])
	h.ImageLength = binary.LittleEndian.Uint32(h.buf[base+HeaderOffImageLength:])
	h.Generation = binary.LittleEndian.Uint32(h.buf[base+HeaderOffGeneration:])

	if h.HeaderSize < HeaderSizeMin || h.HeaderSize > HeaderSizeMax {
		h.Validity = HeaderInvalid
		return &FormatError{
			Offset: h.offset,
			Reason: fmt.Sprintf("header size %d outside [%d, %d]", h.HeaderSize, HeaderSizeMin, HeaderSizeMax),
		}
	}
	if base+int(h.HeaderSize) > len(h.buf) {
		h.Validity = HeaderInvalid
		return &FormatError{Offset: h.offset, Reason: "header extends past end of image"}
	}

	// Table capacity and tail offset depend on the size just read.
	h.geom = ComputeGeometry(h.HeaderSize)

	tail := base + h.geom.TailSentinelOffset
	if string(h.buf[tail:tail+SentinelLength]) != Sentinel {
		h.Validity = HeaderInvalid
		return &FormatError{Offset: uint32(tail), Reason: "invalid tail sentinel"}
	}

	for i := 0; i < ReservedWords; i++ {
		h.Reserved[i] = binary.LittleEndian.Uint32(h.buf[base+h.geom.ReservedOffset+i*ReservedWordSize:])
	}

	h.Elements = nil
	tableOffset := base + h.geom.TableOffset
	for i := 0; i < h.geom.ElementCapacity; i++ {
		e := newElement(i, h.buf, h.EraseBlockSize, 0, 0, 0, 0, 0, 0, "", h.log)
		if e.Unpack(h.buf, tableOffset+i*ElementLength) {
			break
		}
		h.Elements = append(h.Elements, e)
	}

	h.Validity = HeaderValid
	return nil
}

// Pack serializes the header into the image buffer at its offset: nose
// sentinel, fixed fields, element table, end-of-table marker, and tail
// sentinel.
func (h *Header) Pack() {
	base := int(h.offset)
	copy(h.buf[base:], Sentinel)
	copy(h.buf[base+HeaderOffTimestamp:base+HeaderOffTimestamp+TimestampLength], h.Timestamp)
	copy(h.buf[base+HeaderOffImageName:base+HeaderOffImageName+ImageNameLength], h.Name)
	binary.LittleEndian.PutUint32(h.buf[base+HeaderOffFlashCapacity:], h.FlashCapacity)
	binary.LittleEndian.PutUint32(h.buf[base+HeaderOffEraseBlockSize:], h.EraseBlockSize)
	binary.LittleEndian.PutUint32(h.buf[base+HeaderOffHeaderSize:], h.HeaderSize)
	binary.LittleEndian.PutUint32(h.buf[base+HeaderOffImageLength:], h.ImageLength)
	binary.LittleEndian.PutUint32(h.buf[base+HeaderOffGeneration:], h.Generation)
	for i := 0; i < ReservedWords; i++ {
		binary.LittleEndian.PutUint32(h.buf[base+h.geom.ReservedOffset+i*ReservedWordSize:], h.Reserved[i])
	}

	offset := base + h.geom.TableOffset
	for _, e := range h.Elements {
		offset = e.Pack(h.buf, offset)
	}
	if len(h.Elements) < h.geom.ElementCapacity {
		eot := newElement(len(h.Elements), h.buf, h.EraseBlockSize,
			ElementTypeEnd, 0, 0, 0, 0, 0, "", h.log)
		eot.Pack(h.buf, offset)
	}

	copy(h.buf[base+h.geom.TailSentinelOffset:], Sentinel)
}

// AddElement appends an element to the table. The element is finalized
// immediately: a supplied source file is loaded as a payload blob and
// the element takes its total size. Fails when the table is full
// (one slot is always kept for the end-of-table marker) or the blob is
// malformed.
func (h *Header) AddElement(elementType ElementType, class, id, length, location, generation uint32, filename string) error {
	if len(h.Elements) >= h.geom.ElementCapacity-1 {
		return fmt.Errorf("element table full: capacity %d", h.geom.ElementCapacity-1)
	}
	if class > MaxElementClass {
		return fmt.Errorf("element class 0x%x exceeds the 3-byte field (max 0x%x)", class, uint32(MaxElementClass))
	}
	e := newElement(len(h.Elements), h.buf, h.EraseBlockSize,
		elementType, class, id, length, location, generation, filename, h.log)
	if err := e.Finalize(); err != nil {
		return err
	}
	h.Elements = append(h.Elements, e)
	return nil
}

// Validate runs the full element validation pass: every element against
// the legal address window, and every ordered pair against each other.
// All problems are collected; none aborts the scan. A header with any
// failing element is demoted to Invalid.
func (h *Header) Validate(headerIndex int, rangeLow, rangeHigh uint32) []Problem {
	if h.Validity != HeaderValid && h.Validity != HeaderInvalid {
		return []Problem{{HeaderIndex: headerIndex, ElementIndex: HeaderCollision,
			Reason: fmt.Sprintf("header is %s", h.Validity)}}
	}

	ok := true
	for _, e := range h.Elements {
		e.Collisions = e.Collisions[:0]
		e.Duplicates = e.Duplicates[:0]
		if !e.Validate(rangeLow, rangeHigh) {
			ok = false
		}
	}
	for _, e := range h.Elements {
		for _, other := range h.Elements {
			if e.Index != other.Index {
				e.ValidateAgainst(other)
			}
		}
		if len(e.Collisions) > 0 || len(e.Duplicates) > 0 {
			ok = false
		}
	}

	var problems []Problem
	for _, e := range h.Elements {
		problems = append(problems, e.problems(headerIndex)...)
	}
	if ok {
		h.Validity = HeaderValid
	} else {
		h.Validity = HeaderInvalid
	}
	return problems
}

// SameAs reports whether two headers are logically identical: same
// metadata and element-for-element identical tables. Timestamps are not
// compared; redundancy cares about content, not when it was stamped.
func (h *Header) SameAs(other *Header) bool {
	if h.Name != other.Name ||
		h.FlashCapacity != other.FlashCapacity ||
		h.EraseBlockSize != other.EraseBlockSize ||
		h.HeaderSize != other.HeaderSize ||
		h.ImageLength != other.ImageLength ||
		h.Generation != other.Generation ||
		len(h.Elements) != len(other.Elements) {
		return false
	}
	for i, e := range h.Elements {
		if !e.SameAs(other.Elements[i]) {
			return false
		}
	}
	return true
}

// WriteElements exports every real element's payload span as an
// independent file named from root, the element index and its short
// type name.
func (h *Header) WriteElements(root string) error {
	for _, e := range h.Elements {
		path := fmt.Sprintf("%s.%d.%s.bin", root, e.Index, e.Type.ShortName())
		if err := e.WriteFile(path); err != nil {
			return err
		}
		h.log.Info().Str("path", path).Msg("wrote element")
	}
	return nil
}

// WriteMap emits the header's field offsets relative to base, one line
// per field, prefixed with name.
func (h *Header) WriteMap(w io.Writer, base uint32, name string) error {
	fields := []struct {
		field  string
		offset int
	}{
		{"sentinel", HeaderOffSentinel},
		{"timestamp", HeaderOffTimestamp},
		{"image_name", HeaderOffImageName},
		{"flash_capacity", HeaderOffFlashCapacity},
		{"erase_block_size", HeaderOffEraseBlockSize},
		{"header_size", HeaderOffHeaderSize},
		{"image_length", HeaderOffImageLength},
		{"generation", HeaderOffGeneration},
		{"reserved", h.geom.ReservedOffset},
		{"element_table", h.geom.TableOffset},
		{"tail_sentinel", h.geom.TailSentinelOffset},
	}
	for _, f := range fields {
		if _, err := fmt.Fprintf(w, "%s.%s  %08x\n", name, f.field, base+uint32(f.offset)); err != nil {
			return err
		}
	}
	return nil
}

// WriteMapElements emits the payload locations of every element,
// prefixed with prefix.
func (h *Header) WriteMapElements(w io.Writer, prefix string) error {
	for _, e := range h.Elements {
		if err := e.WriteMap(w, prefix+"."); err != nil {
			return err
		}
	}
	return nil
}

// display prints the header's metadata and element table.
func (h *Header) display(w io.Writer, index int) {
	fmt.Fprintf(w, "header %d at 0x%08x (%s):\n", index, h.offset, h.Validity)
	fmt.Fprintf(w, "  name:             %s\n", h.Name)
	fmt.Fprintf(w, "  timestamp:        %s\n", h.Timestamp)
	fmt.Fprintf(w, "  flash capacity:   0x%08x\n", h.FlashCapacity)
	fmt.Fprintf(w, "  erase block size: 0x%08x\n", h.EraseBlockSize)
	fmt.Fprintf(w, "  header size:      0x%08x\n", h.HeaderSize)
	fmt.Fprintf(w, "  image length:     0x%08x\n", h.ImageLength)
	fmt.Fprintf(w, "  generation:       %d\n", h.Generation)
	fmt.Fprintln(w, "  elements:")
	fmt.Fprintln(w, "   idx type class  id       length   location generation")
	for _, e := range h.Elements {
		e.display(w)
	}
}

// erased reports whether a byte span is blank flash.
func erased(span []byte) bool {
	for _, b := range span {
		if b != 0xff {
			return false
		}
	}
	return true
}

// trimField decodes a fixed-size NUL-padded text field.
func trimField(field []byte) string {
	return string(bytes.TrimRight(field, "\x00"))
}
