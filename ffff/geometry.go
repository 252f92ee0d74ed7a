package ffff

// Geometry holds every header offset that depends on the header size.
// The format allows header sizes from 512 to 32768 bytes, so these
// values must be re-derived whenever the size changes (on creation, or
// after a parse discovers the true on-disk size) and never cached
// outside the owning header.
type Geometry struct {
	// ElementCapacity is the number of 20-byte records the table holds,
	// including the end-of-table terminator slot
	ElementCapacity int

	// ReservedOffset is the offset of the reserved words
	ReservedOffset int

	// TableOffset is the offset of the element table
	TableOffset int

	// TailSentinelOffset is the offset of the tail sentinel
	TailSentinelOffset int
}

// ComputeGeometry derives the table capacity and field offsets for a
// header of the given size. It is a pure function of the header size.
func ComputeGeometry(headerSize uint32) Geometry {
	return Geometry{
		ElementCapacity:    (int(headerSize) - FixedPartLength) / ElementLength,
		ReservedOffset:     HeaderOffReserved,
		TableOffset:        HeaderOffElementTable,
		TailSentinelOffset: int(headerSize) - SentinelLength,
	}
}

// HeaderBlockSize returns the smallest power-of-two multiple of the
// erase block size that is >= headerSize. This is the unit of redundancy
// spacing: both headers start on a header-block boundary.
func HeaderBlockSize(eraseBlockSize, headerSize uint32) uint32 {
	blockSize := eraseBlockSize
	for blockSize < headerSize {
		blockSize <<= 1
	}
	return blockSize
}

// isPowerOfTwo reports whether v is a positive power of two.
func isPowerOfTwo(v uint32) bool {
	return v != 0 && v&(v-1) == 0
}

// blockAligned reports whether location sits on an erase block boundary.
func blockAligned(location, eraseBlockSize uint32) bool {
	return eraseBlockSize != 0 && location%eraseBlockSize == 0
}
