package tftf

import (
	"bytes"
	"encoding/binary"
	"fmt"
	"io"
	"os"
)

// Constants for TFTF blob framing.
const (
	// Sentinel is the 4-byte magic at the start of every TFTF header
	Sentinel = "TFTF"

	// HeaderSize is the fixed size of the TFTF header in bytes
	HeaderSize = 512

	// timestampLength is the size of the build timestamp field
	timestampLength = 16

	// nameLength is the size of the firmware name field
	nameLength = 48
)

// Header field offsets.
const (
	offSentinel       = 0
	offHeaderSize     = 4
	offTimestamp      = 8
	offName           = offTimestamp + timestampLength
	offLoadLength     = offName + nameLength
	offExpandedLength = offLoadLength + 4
	offLoadBase       = offExpandedLength + 4
	offStartLocation  = offLoadBase + 4
)

// Blob is one parsed TFTF blob: the framing header plus a reference to
// the complete on-disk byte span (header included).
type Blob struct {
	// Name is the firmware name, NUL-trimmed
	Name string

	// Timestamp is the build timestamp, NUL-trimmed
	Timestamp string

	// LoadLength is the byte count of the payload following the header
	LoadLength uint32

	// ExpandedLength is the in-memory footprint after zero-fill;
	// always >= LoadLength
	ExpandedLength uint32

	// LoadBase is the address the payload is loaded at
	LoadBase uint32

	// StartLocation is the entry point within the loaded payload
	StartLocation uint32

	data []byte
}

// New builds a blob around a raw payload, for constructing images from
// scratch. The returned blob is well-formed by construction.
func New(name string, payload []byte, loadBase, startLocation uint32) *Blob {
	b := &Blob{
		Name:           name,
		LoadLength:     uint32(len(payload)),
		ExpandedLength: uint32(len(payload)),
		LoadBase:       loadBase,
		StartLocation:  startLocation,
	}
	b.data = make([]byte, HeaderSize+len(payload))
	b.packHeader(b.data)
	copy(b.data[HeaderSize:], payload)
	return b
}

// LoadBuffer parses a TFTF blob from a byte span, typically a view into
// an FFFF image buffer. The span must hold at least the complete blob;
// trailing padding is ignored.
func LoadBuffer(data []byte) (*Blob, error) {
	if len(data) < HeaderSize {
		return nil, fmt.Errorf("tftf: buffer of %d bytes is smaller than the %d byte header", len(data), HeaderSize)
	}
	if string(data[offSentinel:offSentinel+len(Sentinel)]) != Sentinel {
		return nil, fmt.Errorf("tftf: bad sentinel %q", data[offSentinel:offSentinel+len(Sentinel)])
	}
	headerSize := binary.LittleEndian.Uint32(data[offHeaderSize:])
	if headerSize != HeaderSize {
		return nil, fmt.Errorf("tftf: header size %d, expected %d", headerSize, HeaderSize)
	}

	b := &Blob{
		Timestamp:      trimField(data[offTimestamp : offTimestamp+timestampLength]),
		Name:           trimField(data[offName : offName+nameLength]),
		LoadLength:     binary.LittleEndian.Uint32(data[offLoadLength:]),
		ExpandedLength: binary.LittleEndian.Uint32(data[offExpandedLength:]),
		LoadBase:       binary.LittleEndian.Uint32(data[offLoadBase:]),
		StartLocation:  binary.LittleEndian.Uint32(data[offStartLocation:]),
	}
	total := uint64(HeaderSize) + uint64(b.LoadLength)
	if total > uint64(len(data)) {
		return nil, fmt.Errorf("tftf: load length %d exceeds the %d byte buffer", b.LoadLength, len(data))
	}
	if b.ExpandedLength < b.LoadLength {
		return nil, fmt.Errorf("tftf: expanded length %d is smaller than load length %d", b.ExpandedLength, b.LoadLength)
	}
	b.data = data[:total]
	return b, nil
}

// LoadFile reads and parses a TFTF blob from a file.
func LoadFile(path string) (*Blob, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("tftf: read %s: %w", path, err)
	}
	b, err := LoadBuffer(data)
	if err != nil {
		return nil, fmt.Errorf("tftf: %s: %w", path, err)
	}
	return b, nil
}

// TotalLength is the complete on-disk size of the blob: header plus
// payload. FFFF element lengths are always this value.
func (b *Blob) TotalLength() uint32 {
	return HeaderSize + b.LoadLength
}

// Bytes returns the complete blob span, header included. The slice
// aliases the source buffer; callers must not hold it past the buffer's
// lifetime.
func (b *Blob) Bytes() []byte {
	return b.data
}

// Payload returns the load payload without the framing header.
func (b *Blob) Payload() []byte {
	return b.data[HeaderSize:]
}

// packHeader serializes the framing header into buf.
func (b *Blob) packHeader(buf []byte) {
	copy(buf[offSentinel:], Sentinel)
	binary.LittleEndian.PutUint32(buf[offHeaderSize:], HeaderSize)
	copy(buf[offTimestamp:offTimestamp+timestampLength], b.Timestamp)
	copy(buf[offName:offName+nameLength], b.Name)
	binary.LittleEndian.PutUint32(buf[offLoadLength:], b.LoadLength)
	binary.LittleEndian.PutUint32(buf[offExpandedLength:], b.ExpandedLength)
	binary.LittleEndian.PutUint32(buf[offLoadBase:], b.LoadBase)
	binary.LittleEndian.PutUint32(buf[offStartLocation:], b.StartLocation)
}

// WriteFile writes the complete blob to a file.
func (b *Blob) WriteFile(path string) error {
	if err := os.WriteFile(path, b.data, 0644); err != nil {
		return fmt.Errorf("tftf: write %s: %w", path, err)
	}
	return nil
}

// WriteMap emits the blob's section offsets relative to base, one line
// per region, prefixed with name.
func (b *Blob) WriteMap(w io.Writer, base uint32, name string) error {
	if _, err := fmt.Fprintf(w, "%s.header  %08x\n", name, base); err != nil {
		return err
	}
	_, err := fmt.Fprintf(w, "%s.payload  %08x\n", name, base+HeaderSize)
	return err
}

// trimField decodes a fixed-size NUL-padded text field.
func trimField(field []byte) string {
	return string(bytes.TrimRight(field, "\x00"))
}
