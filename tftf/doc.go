// Package tftf provides framing support for Trusted Firmware Transfer
// Format (TFTF) blobs, the payload format referenced by FFFF element
// records.
//
// # TFTF Framing
//
// A TFTF blob is a fixed 512-byte header followed by the load payload:
//
//	[Sentinel(4)="TFTF"][HeaderSize(4)][Timestamp(16)][Name(48)]
//	[LoadLength(4)][ExpandedLength(4)][LoadBase(4)][StartLocation(4)]
//	[padding to HeaderSize]
//	[payload(LoadLength)]
//
// all little-endian. The total on-disk size of a blob is
// HeaderSize + LoadLength; the expanded length is the blob's in-memory
// footprint after any zero-fill and is always >= LoadLength. Container
// code must size elements from TotalLength, never from the expanded or
// load lengths.
//
// Only the framing is implemented here: sentinel and length consistency
// checks, total size, and span export. Section tables and signature
// blocks inside the payload are opaque to this package.
package tftf
