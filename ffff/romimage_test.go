package ffff

import (
	"bytes"
	"errors"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/moffa90/go-ffff/tftf"
)

const (
	testCapacity   = 2 * 1024 * 1024
	testEraseBlock = 4096
	testImageLen   = 128 * 1024
	testHeaderSize = 4096
)

func testImage(t *testing.T) *RomImage {
	t.Helper()
	img, err := New("unit", testCapacity, testEraseBlock, testImageLen, 1, testHeaderSize)
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	return img
}

// writeBlobFile writes a TFTF blob to dir and returns its path and the
// blob itself.
func writeBlobFile(t *testing.T, dir, name string, payload []byte) (string, *tftf.Blob) {
	t.Helper()
	blob := tftf.New(name, payload, 0x10000000, 0x10000000)
	path := filepath.Join(dir, name+".tftf")
	if err := blob.WriteFile(path); err != nil {
		t.Fatalf("write blob: %v", err)
	}
	return path, blob
}

func TestNewRejectsBadParameters(t *testing.T) {
	tests := []struct {
		name           string
		capacity       uint32
		eraseBlockSize uint32
		imageLength    uint32
		headerSize     uint32
	}{
		{"header size too small", testCapacity, testEraseBlock, testImageLen, 256},
		{"header size too large", testCapacity, testEraseBlock, testImageLen, 65536},
		{"erase block not a power of two", testCapacity, 4095, testImageLen, testHeaderSize},
		{"image length misaligned", testCapacity, testEraseBlock, testImageLen + 1, testHeaderSize},
		{"image too short for both headers", testCapacity, testEraseBlock, testEraseBlock, testHeaderSize},
		// 2 GiB erase blocks: 2*blockSize wraps uint32, the dual-header
		// check must not.
		{"erase block too large for dual headers", testCapacity, 1 << 31, 1 << 31, testHeaderSize},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := New("unit", tt.capacity, tt.eraseBlockSize, tt.imageLength, 0, tt.headerSize)
			var cerr *ConfigError
			if !errors.As(err, &cerr) {
				t.Fatalf("New error = %v, want *ConfigError", err)
			}
		})
	}
}

func TestAddElementGoesToBothHeaders(t *testing.T) {
	img := testImage(t)
	if err := img.AddElement(ElementTypeData, 0, 1, 0x1000, 0x8000, 0, ""); err != nil {
		t.Fatalf("AddElement: %v", err)
	}
	h0, h1 := img.Headers()
	if len(h0.Elements) != 1 || len(h1.Elements) != 1 {
		t.Fatalf("element counts = %d/%d, want 1/1", len(h0.Elements), len(h1.Elements))
	}
	if !h0.Elements[0].SameAs(h1.Elements[0]) {
		t.Error("both headers must carry the same logical element")
	}
}

func TestElementLocationRange(t *testing.T) {
	img := testImage(t)
	lo, hi := img.ElementLocationRange()
	if lo != 2*img.HeaderBlockSize() {
		t.Errorf("range low = 0x%x, want 0x%x", lo, 2*img.HeaderBlockSize())
	}
	if hi != testImageLen {
		t.Errorf("range high = 0x%x, want 0x%x", hi, testImageLen)
	}
}

func TestWriteRefusesInvalidElements(t *testing.T) {
	dir := t.TempDir()

	tests := []struct {
		name     string
		location uint32
	}{
		{"unaligned location", 0x8004},
		{"location below headers", 0x1000},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			img := testImage(t)
			if err := img.AddElement(ElementTypeData, 0, 1, 0x100, tt.location, 0, ""); err != nil {
				t.Fatalf("AddElement: %v", err)
			}
			err := img.Write(filepath.Join(dir, "out"))
			var verr *ValidationError
			if !errors.As(err, &verr) {
				t.Fatalf("Write error = %v, want *ValidationError", err)
			}
			if len(verr.Problems) == 0 {
				t.Fatal("ValidationError carries no problems")
			}
		})
	}
}

func TestWriteRefusesDuplicateElements(t *testing.T) {
	img := testImage(t)
	// Same (type, id, generation), disjoint spans.
	if err := img.AddElement(ElementTypeData, 0, 1, 0x100, 0x8000, 0, ""); err != nil {
		t.Fatal(err)
	}
	if err := img.AddElement(ElementTypeData, 0, 1, 0x100, 0x9000, 0, ""); err != nil {
		t.Fatal(err)
	}
	err := img.Write(filepath.Join(t.TempDir(), "out"))
	var verr *ValidationError
	if !errors.As(err, &verr) {
		t.Fatalf("Write error = %v, want *ValidationError", err)
	}
}

func TestImageRoundTrip(t *testing.T) {
	dir := t.TempDir()
	blobPath, blob := writeBlobFile(t, dir, "boot", bytes.Repeat([]byte{0xa5}, 1000))

	img := testImage(t)
	err := img.AddElement(ElementTypeStage2Firmware, 0x10, 1, 0, 0x8000, 1, blobPath)
	if err != nil {
		t.Fatalf("AddElement: %v", err)
	}

	// The element must be sized from the blob's total on-disk length.
	h0, _ := img.Headers()
	if got := h0.Elements[0].Length; got != blob.TotalLength() {
		t.Fatalf("element length = %d, want blob total %d", got, blob.TotalLength())
	}

	if err := img.FinalizeImage(); err != nil {
		t.Fatalf("FinalizeImage: %v", err)
	}
	outPath := filepath.Join(dir, "unit") // no extension on purpose
	if err := img.Write(outPath); err != nil {
		t.Fatalf("Write: %v", err)
	}
	if _, err := os.Stat(outPath + FileExtension); err != nil {
		t.Fatalf("default extension not appended: %v", err)
	}

	// Re-open through the extension fallback.
	parsed, err := OpenFile(outPath)
	if err != nil {
		t.Fatalf("OpenFile: %v", err)
	}
	if parsed.Name != "unit" || parsed.FlashCapacity != testCapacity ||
		parsed.EraseBlockSize != testEraseBlock || parsed.HeaderSize != testHeaderSize ||
		parsed.ImageLength != testImageLen || parsed.Generation != 1 {
		t.Errorf("characteristics mismatch: %+v", parsed)
	}
	if parsed.Redundancy() != DualIdentical {
		t.Errorf("redundancy = %s, want dual-identical", parsed.Redundancy())
	}

	p0, p1 := parsed.Headers()
	if p1 == nil {
		t.Fatal("second header not located")
	}
	if len(p0.Elements) != 1 {
		t.Fatalf("parsed %d elements, want 1", len(p0.Elements))
	}
	e := p0.Elements[0]
	if !e.SameAs(h0.Elements[0]) {
		t.Errorf("element mismatch after round trip: %+v", e)
	}
	if e.PayloadDigest() != h0.Elements[0].PayloadDigest() {
		t.Error("payload digest changed across the round trip")
	}
	if verr := parsed.Validate(); verr != nil {
		t.Errorf("parsed image must validate: %v", verr)
	}
}

func TestWriteIsTerminal(t *testing.T) {
	dir := t.TempDir()
	img := testImage(t)
	if err := img.Write(filepath.Join(dir, "out")); err != nil {
		t.Fatalf("Write: %v", err)
	}
	if err := img.AddElement(ElementTypeData, 0, 1, 0x100, 0x8000, 0, ""); err == nil {
		t.Error("AddElement must be rejected after Write")
	}
	if err := img.FinalizeImage(); err == nil {
		t.Error("FinalizeImage must be rejected after Write")
	}
	if err := img.Write(filepath.Join(dir, "again")); err == nil {
		t.Error("a second Write must be rejected")
	}
}

func TestOpenFileMissing(t *testing.T) {
	_, err := OpenFile(filepath.Join(t.TempDir(), "nope"))
	var ioErr *IOError
	if !errors.As(err, &ioErr) {
		t.Fatalf("OpenFile error = %v, want *IOError", err)
	}
	if !errors.Is(err, os.ErrNotExist) {
		t.Error("IOError must wrap os.ErrNotExist")
	}
}

func TestOpenFileDegradedSecondHeader(t *testing.T) {
	dir := t.TempDir()
	img := testImage(t)
	path := filepath.Join(dir, "out.ffff")
	if err := img.Write(path); err != nil {
		t.Fatalf("Write: %v", err)
	}

	data, err := os.ReadFile(path)
	if err != nil {
		t.Fatal(err)
	}
	// Break header 1's nose sentinel so the scan finds no candidate.
	data[img.HeaderBlockSize()] ^= 0x01
	if err := os.WriteFile(path, data, 0644); err != nil {
		t.Fatal(err)
	}

	parsed, err := OpenFile(path)
	if err != nil {
		t.Fatalf("OpenFile: %v", err)
	}
	if parsed.Redundancy() != Single {
		t.Errorf("redundancy = %s, want single", parsed.Redundancy())
	}
	if _, h1 := parsed.Headers(); h1 != nil {
		t.Error("header 1 must be absent")
	}
	if err := parsed.Write(filepath.Join(dir, "rewrite")); err == nil {
		t.Error("a degraded image must never write")
	}
}

func TestOpenFileScansForRelocatedSecondHeader(t *testing.T) {
	dir := t.TempDir()
	img := testImage(t)
	path := filepath.Join(dir, "out.ffff")
	if err := img.Write(path); err != nil {
		t.Fatalf("Write: %v", err)
	}

	data, err := os.ReadFile(path)
	if err != nil {
		t.Fatal(err)
	}
	// Move header 1 one block boundary further out and blank its first
	// slot, as a partial flash erase would; the doubling scan has to
	// keep going past the miss.
	bs := img.HeaderBlockSize()
	copy(data[2*bs:2*bs+testHeaderSize], data[bs:bs+testHeaderSize])
	for i := bs; i < 2*bs; i++ {
		data[i] = 0xff
	}
	if err := os.WriteFile(path, data, 0644); err != nil {
		t.Fatal(err)
	}

	parsed, err := OpenFile(path)
	if err != nil {
		t.Fatalf("OpenFile: %v", err)
	}
	_, h1 := parsed.Headers()
	if h1 == nil {
		t.Fatal("scan did not locate the relocated second header")
	}
	if h1.offset != 2*bs {
		t.Errorf("header 1 offset = 0x%x, want 0x%x", h1.offset, 2*bs)
	}
	if parsed.Redundancy() != DualIdentical {
		t.Errorf("redundancy = %s, want dual-identical", parsed.Redundancy())
	}
}

func TestExplodeIdenticalHeadersOnce(t *testing.T) {
	dir := t.TempDir()
	blobPath, blob := writeBlobFile(t, dir, "app", bytes.Repeat([]byte{0x5a}, 600))

	img := testImage(t)
	if err := img.AddElement(ElementTypeStage3Firmware, 0, 1, 0, 0x8000, 0, blobPath); err != nil {
		t.Fatal(err)
	}
	if err := img.FinalizeImage(); err != nil {
		t.Fatal(err)
	}

	root := filepath.Join(dir, "exploded")
	if err := img.Explode(root); err != nil {
		t.Fatalf("Explode: %v", err)
	}

	shared := root + ".0.3fw.bin"
	payload, err := os.ReadFile(shared)
	if err != nil {
		t.Fatalf("shared element file missing: %v", err)
	}
	if len(payload) != int(blob.TotalLength()) {
		t.Errorf("exploded %d bytes, want %d", len(payload), blob.TotalLength())
	}
	if _, err := os.Stat(root + "_0.0.3fw.bin"); err == nil {
		t.Error("identical headers must not produce per-header file sets")
	}
}

func TestWriteMap(t *testing.T) {
	dir := t.TempDir()
	blobPath, _ := writeBlobFile(t, dir, "app", bytes.Repeat([]byte{0x77}, 100))

	img := testImage(t)
	if err := img.AddElement(ElementTypeData, 0, 1, 0, 0x8000, 0, blobPath); err != nil {
		t.Fatal(err)
	}
	if err := img.FinalizeImage(); err != nil {
		t.Fatal(err)
	}

	var buf bytes.Buffer
	if err := img.WriteMap(&buf, 0); err != nil {
		t.Fatalf("WriteMap: %v", err)
	}
	out := buf.String()

	wants := []string{
		"ffff[0].sentinel  00000000",
		"ffff[0].tail_sentinel  00000ff0",
		"ffff[1].sentinel  00001000",
		"ffff.element[0].data.header  00008000",
		"xxh64:",
	}
	for _, want := range wants {
		if !strings.Contains(out, want) {
			t.Errorf("map output missing %q:\n%s", want, out)
		}
	}
	// Identical headers share one element walk.
	if strings.Contains(out, "ffff[0].element[") {
		t.Error("identical headers must not be walked twice for elements")
	}
}

func TestDisplay(t *testing.T) {
	img := testImage(t)
	if err := img.AddElement(ElementTypeData, 0, 1, 0x100, 0x8000, 0, ""); err != nil {
		t.Fatal(err)
	}
	img.Validate()

	var buf bytes.Buffer
	if err := img.Display(&buf); err != nil {
		t.Fatalf("Display: %v", err)
	}
	out := buf.String()
	for _, want := range []string{"dual-identical", "header 0", "identical to header 0", "(data)"} {
		if !strings.Contains(out, want) {
			t.Errorf("display output missing %q:\n%s", want, out)
		}
	}
}
