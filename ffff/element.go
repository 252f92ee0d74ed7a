package ffff

import (
	"encoding/binary"
	"fmt"
	"io"
	"os"

	"github.com/cespare/xxhash/v2"
	"github.com/rs/zerolog"

	"github.com/moffa90/go-ffff/tftf"
)

// Element is one element table record: the type, identity, location,
// length and generation of a single payload within the image.
//
// An element never outlives its owning header; cross-record findings
// (collisions, duplicates) reference sibling elements by table index,
// not by pointer.
type Element struct {
	// Index is the element's position in its header's table
	Index int

	// Type identifies the payload kind
	Type ElementType

	// Class is the 3-byte vendor-defined tag
	Class uint32

	// ID identifies the payload
	ID uint32

	// Length is the byte count of the payload span
	Length uint32

	// Location is the absolute byte offset of the payload in the image
	Location uint32

	// Generation is the monotonic version number
	Generation uint32

	// InRange, Aligned and ValidType record the outcome of Validate.
	// They are derived state, never persisted.
	InRange   bool
	Aligned   bool
	ValidType bool

	// Collisions holds the table indices of sibling elements whose
	// payload spans intersect this one's
	Collisions []int

	// Duplicates holds the table indices of sibling elements sharing
	// this element's (type, id, generation) triple
	Duplicates []int

	buf            []byte
	eraseBlockSize uint32
	filename       string
	blob           *tftf.Blob
	log            zerolog.Logger
}

// newElement constructs an element on the build path. No validation
// happens here; an end-of-table marker is pre-marked valid. The optional
// filename is only recorded and is loaded later by Finalize.
func newElement(index int, buf []byte, eraseBlockSize uint32,
	elementType ElementType, class, id, length, location, generation uint32,
	filename string, log zerolog.Logger) *Element {

	e := &Element{
		Index:          index,
		Type:           elementType,
		Class:          class,
		ID:             id,
		Length:         length,
		Location:       location,
		Generation:     generation,
		buf:            buf,
		eraseBlockSize: eraseBlockSize,
		filename:       filename,
		log:            log,
	}
	if elementType == ElementTypeEnd {
		e.InRange = true
		e.Aligned = true
		e.ValidType = true
	}
	return e
}

// Finalize loads the element's source file, if one was given, as a TFTF
// blob and sizes the element from it. The stored length is the blob's
// total on-disk size, never its expanded or load length: it must cover
// the full byte span copied into the image.
func (e *Element) Finalize() error {
	if e.filename == "" || e.blob != nil {
		return nil
	}
	blob, err := tftf.LoadFile(e.filename)
	if err != nil {
		return fmt.Errorf("element %d: %w", e.Index, err)
	}
	e.blob = blob
	e.Length = blob.TotalLength()
	return nil
}

// Unpack deserializes the element record at offset in buf and reports
// whether it is the end-of-table marker, which ends table iteration.
// For a real element it immediately tries to load the payload span as a
// TFTF blob; a malformed payload is a diagnostic, not a parse failure.
func (e *Element) Unpack(buf []byte, offset int) bool {
	typeClass := binary.LittleEndian.Uint32(buf[offset:])
	e.Type = ElementType(typeClass & 0xff)
	e.Class = typeClass >> 8
	e.ID = binary.LittleEndian.Uint32(buf[offset+4:])
	e.Length = binary.LittleEndian.Uint32(buf[offset+8:])
	e.Location = binary.LittleEndian.Uint32(buf[offset+12:])
	e.Generation = binary.LittleEndian.Uint32(buf[offset+16:])

	if e.Type == ElementTypeEnd {
		e.InRange = true
		e.Aligned = true
		e.ValidType = true
		return true
	}

	spanEnd := uint64(e.Location) + uint64(e.Length)
	if spanEnd > uint64(len(buf)) {
		e.log.Warn().
			Int("element", e.Index).
			Uint32("location", e.Location).
			Uint32("length", e.Length).
			Int("image_size", len(buf)).
			Msg("element span exceeds image, payload not loaded")
		return false
	}
	blob, err := tftf.LoadBuffer(buf[e.Location:spanEnd])
	if err != nil {
		e.log.Warn().
			Int("element", e.Index).
			Err(err).
			Msg("element payload is not a well-formed blob")
		return false
	}
	e.blob = blob
	return false
}

// Pack serializes the element record at offset in buf and returns the
// offset of the next record so callers can chain through the table.
func (e *Element) Pack(buf []byte, offset int) int {
	binary.LittleEndian.PutUint32(buf[offset:], e.Class<<8|uint32(e.Type))
	binary.LittleEndian.PutUint32(buf[offset+4:], e.ID)
	binary.LittleEndian.PutUint32(buf[offset+8:], e.Length)
	binary.LittleEndian.PutUint32(buf[offset+12:], e.Location)
	binary.LittleEndian.PutUint32(buf[offset+16:], e.Generation)
	return offset + ElementLength
}

// Validate checks the element against the legal payload address window
// [rangeLow, rangeHigh). The range, alignment and type checks are
// independent; every failure is reported and none aborts the table scan.
// The end-of-table marker always validates.
func (e *Element) Validate(rangeLow, rangeHigh uint32) bool {
	if e.Type == ElementTypeEnd {
		e.InRange = true
		e.Aligned = true
		e.ValidType = true
		return true
	}

	e.InRange = e.Location >= rangeLow && e.Location < rangeHigh
	if !e.InRange {
		e.log.Warn().
			Int("element", e.Index).
			Uint32("location", e.Location).
			Uint32("range_low", rangeLow).
			Uint32("range_high", rangeHigh).
			Msg("element location falls outside address range")
	}

	e.Aligned = blockAligned(e.Location, e.eraseBlockSize)
	if !e.Aligned {
		e.log.Warn().
			Int("element", e.Index).
			Uint32("location", e.Location).
			Uint32("erase_block_size", e.eraseBlockSize).
			Msg("element location unaligned to erase block size")
	}

	e.ValidType = e.Type >= ElementTypeStage2Firmware && e.Type <= ElementTypeData
	if !e.ValidType {
		e.log.Warn().
			Int("element", e.Index).
			Uint8("type", uint8(e.Type)).
			Msg("element type is reserved or invalid")
	}

	return e.InRange && e.Aligned && e.ValidType
}

// ValidateAgainst cross-checks this element with a sibling. The two
// checks are independent: payload spans that intersect record a
// collision, and matching (type, id, generation) triples record a
// duplicate. At most one table entry may carry a given triple; the
// violation is recorded for the caller to act on, never auto-rejected.
//
// Registration is per ordered pair: the caller runs every (i, j), i != j,
// so both members of a colliding or duplicate pair name each other.
func (e *Element) ValidateAgainst(other *Element) {
	if e.Length != 0 && other.Length != 0 {
		startA := uint64(e.Location)
		endA := startA + uint64(e.Length) - 1
		startB := uint64(other.Location)
		endB := startB + uint64(other.Length) - 1
		if endB >= startA && startB <= endA {
			e.Collisions = append(e.Collisions, other.Index)
		}
	}

	if e.Type == other.Type && e.ID == other.ID && e.Generation == other.Generation {
		e.Duplicates = append(e.Duplicates, other.Index)
	}
}

// SameAs reports structural equality across all six persisted fields.
func (e *Element) SameAs(other *Element) bool {
	return e.Type == other.Type &&
		e.Class == other.Class &&
		e.ID == other.ID &&
		e.Length == other.Length &&
		e.Location == other.Location &&
		e.Generation == other.Generation
}

// PayloadDigest returns the xxhash64 digest of the element's payload
// span. Diagnostic only; the format itself carries no digest.
func (e *Element) PayloadDigest() uint64 {
	spanEnd := uint64(e.Location) + uint64(e.Length)
	if spanEnd > uint64(len(e.buf)) {
		return 0
	}
	return xxhash.Sum64(e.buf[e.Location:spanEnd])
}

// WriteFile exports the element's payload span from the image buffer as
// an independent file.
func (e *Element) WriteFile(path string) error {
	spanEnd := uint64(e.Location) + uint64(e.Length)
	if spanEnd > uint64(len(e.buf)) {
		return &FormatError{
			Offset: e.Location,
			Reason: fmt.Sprintf("element %d span exceeds image", e.Index),
		}
	}
	if err := os.WriteFile(path, e.buf[e.Location:spanEnd], 0644); err != nil {
		return &IOError{Op: "write", Path: path, Err: err}
	}
	return nil
}

// WriteMap emits the element's payload location, one line per region,
// prefixed with its derived name. Elements carrying a parsed blob defer
// to the blob for its internal regions.
func (e *Element) WriteMap(w io.Writer, prefix string) error {
	if e.Type == ElementTypeEnd {
		return nil
	}
	name := fmt.Sprintf("%selement[%d].%s", prefix, e.Index, e.Type.ShortName())
	if e.blob != nil {
		if err := e.blob.WriteMap(w, e.Location, name); err != nil {
			return err
		}
		_, err := fmt.Fprintf(w, "%s.digest  xxh64:%016x\n", name, e.PayloadDigest())
		return err
	}
	_, err := fmt.Fprintf(w, "%s  %08x\n", name, e.Location)
	return err
}

// display prints one element table row, followed by any recorded
// collisions, duplicates or validation failures.
func (e *Element) display(w io.Writer) {
	fmt.Fprintf(w, "  %2d  %02x   %06x %08x %08x %08x %08x (%s)\n",
		e.Index, uint8(e.Type), e.Class, e.ID, e.Length, e.Location,
		e.Generation, e.Type)

	if len(e.Collisions) > 0 {
		fmt.Fprintf(w, "           collides with element(s):")
		for _, index := range e.Collisions {
			fmt.Fprintf(w, " %d", index)
		}
		fmt.Fprintln(w)
	}
	if len(e.Duplicates) > 0 {
		fmt.Fprintf(w, "           duplicates element(s):")
		for _, index := range e.Duplicates {
			fmt.Fprintf(w, " %d", index)
		}
		fmt.Fprintln(w)
	}

	flags := ""
	if !e.InRange {
		flags += "out-of-range "
	}
	if !e.Aligned {
		flags += "misaligned "
	}
	if !e.ValidType {
		flags += "invalid-type "
	}
	if flags != "" {
		fmt.Fprintf(w, "           errors: %s\n", flags)
	}
}

// problems collects the element's validation failures for aggregation
// into a ValidationError.
func (e *Element) problems(headerIndex int) []Problem {
	if e.Type == ElementTypeEnd {
		return nil
	}
	var out []Problem
	add := func(reason string) {
		out = append(out, Problem{HeaderIndex: headerIndex, ElementIndex: e.Index, Reason: reason})
	}
	if !e.InRange {
		add(fmt.Sprintf("location 0x%x out of range", e.Location))
	}
	if !e.Aligned {
		add(fmt.Sprintf("location 0x%x unaligned to erase block size 0x%x", e.Location, e.eraseBlockSize))
	}
	if !e.ValidType {
		add(fmt.Sprintf("invalid type 0x%02x", uint8(e.Type)))
	}
	for _, index := range e.Collisions {
		add(fmt.Sprintf("collides with element %d", index))
	}
	for _, index := range e.Duplicates {
		add(fmt.Sprintf("duplicates element %d", index))
	}
	return out
}
