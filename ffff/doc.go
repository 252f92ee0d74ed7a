// Package ffff implements the Flash Format for Firmware (FFFF) container.
//
// # FFFF Image Layout
//
// An FFFF image covers an entire flash device. It begins with two
// redundant headers, each on its own header-block boundary, followed by
// the element payloads (typically TFTF blobs) they describe:
//
//	+--------------------+ 0
//	| header 0           |
//	+--------------------+ header block size
//	| header 1           |
//	+--------------------+ 2 x header block size
//	| element payloads   |
//	+--------------------+ image length
//
// The header block size is the smallest power-of-two multiple of the
// erase block size that can hold one header. Element payloads may never
// live below 2 x header block size.
//
// # Header Layout
//
// Each header is framed by a 16-byte sentinel at both ends:
//
//	[Sentinel(16)][Timestamp(16)][Name(48)][FlashCapacity(4)]
//	[EraseBlockSize(4)][HeaderSize(4)][ImageLength(4)][Generation(4)]
//	[Reserved(4x4)][ElementTable(Nx20)]...[TailSentinel(16)]
//
// The header size is variable (512 to 32768 bytes), so the element table
// capacity and the tail sentinel offset must be recomputed from the
// on-disk header size before the table is touched; see ComputeGeometry.
//
// Each 20-byte element record locates one payload:
//
//	[TypeClass(4)][ID(4)][Length(4)][Location(4)][Generation(4)]
//
// all little-endian, with the element type in the low byte of the first
// word and the vendor class in its upper three bytes. A record with type
// 0xFE terminates the table.
//
// # Usage
//
// Build a fresh image:
//
//	img, err := ffff.New("spiral2", 0x200000, 4096, 0x80000, 0, 4096)
//	if err != nil {
//	    log.Fatal(err)
//	}
//	err = img.AddElement(ffff.ElementTypeStage2Firmware, 0, 1, 0, 0x8000, 0, "boot.tftf")
//	err = img.FinalizeImage()
//	err = img.Write("spiral2.ffff")
//
// Parse and inspect an existing image:
//
//	img, err := ffff.OpenFile("spiral2.ffff")
//	if err != nil {
//	    log.Fatal(err)
//	}
//	img.Display(os.Stdout)
//
// # Error Handling
//
// Construction-time parameter problems are reported as *ConfigError,
// structural problems found while parsing as *FormatError, and file
// problems as *IOError. Per-element validation failures are cumulative:
// the whole table is always scanned, every problem is reported, and the
// aggregate is returned as *ValidationError only when Write refuses an
// invalid image.
package ffff
