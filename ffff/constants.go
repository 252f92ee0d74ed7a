package ffff

// Sentinel is the 16-byte magic string framing every FFFF header,
// present at both the nose and the tail.
const Sentinel = "FlashFormatForFW"

// FileExtension is appended to image file names that carry no extension.
const FileExtension = ".ffff"

// Header size bounds. The header occupies a power-of-two multiple of the
// erase block size within these limits.
const (
	// HeaderSizeMin is the smallest legal header size in bytes
	HeaderSizeMin = 512

	// HeaderSizeMax is the largest legal header size in bytes
	HeaderSizeMax = 32768

	// HeaderSizeDefault is the header size used when none is requested
	HeaderSizeDefault = 4096
)

// Redundancy scan limits.
const (
	// MaxHeaderBlockSize is the largest possible header block size
	MaxHeaderBlockSize = 64 * 1024

	// MaxHeaderBlockOffset is the ceiling for the second-header scan:
	// candidate offsets double from one header block size up to here
	MaxHeaderBlockOffset = 512 * 1024
)

// Header field sizes in bytes.
const (
	// SentinelLength is the size of the nose and tail sentinels
	SentinelLength = 16

	// TimestampLength is the size of the build timestamp field
	TimestampLength = 16

	// ImageNameLength is the size of the flash image name field
	ImageNameLength = 48

	// ReservedWords is the number of reserved 4-byte words
	ReservedWords = 4

	// ReservedWordSize is the size of each reserved word
	ReservedWordSize = 4
)

// Header field offsets relative to the start of the header. Fields up to
// and including the element table sit at fixed offsets; only the tail
// sentinel moves with the header size.
const (
	HeaderOffSentinel       = 0
	HeaderOffTimestamp      = HeaderOffSentinel + SentinelLength
	HeaderOffImageName      = HeaderOffTimestamp + TimestampLength
	HeaderOffFlashCapacity  = HeaderOffImageName + ImageNameLength
	HeaderOffEraseBlockSize = HeaderOffFlashCapacity + 4
	HeaderOffHeaderSize     = HeaderOffEraseBlockSize + 4
	HeaderOffImageLength    = HeaderOffHeaderSize + 4
	HeaderOffGeneration     = HeaderOffImageLength + 4
	HeaderOffReserved       = HeaderOffGeneration + 4
	HeaderOffElementTable   = HeaderOffReserved + ReservedWords*ReservedWordSize
)

// FixedPartLength is the size of everything in a header that is not the
// element table: the fixed fields plus both sentinels.
const FixedPartLength = HeaderOffElementTable + SentinelLength

// ElementLength is the size of one element table record in bytes.
const ElementLength = 20

// MaxElementClass is the largest value the 3-byte element class field
// can carry; larger classes would be truncated by Pack.
const MaxElementClass = 0xffffff

// HeaderCollision is the pseudo element index reported when an element
// span intrudes on the header region itself.
const HeaderCollision = -1

// ElementType identifies what kind of payload an element describes.
type ElementType byte

// Element types. Values between ElementTypeData and ElementTypeEnd are
// reserved and fail type validation.
const (
	// ElementTypeStage2Firmware is a stage 2 firmware package
	ElementTypeStage2Firmware ElementType = 0x01

	// ElementTypeStage3Firmware is a stage 3 firmware package
	ElementTypeStage3Firmware ElementType = 0x02

	// ElementTypeIMSCertificate is an IMS certificate
	ElementTypeIMSCertificate ElementType = 0x03

	// ElementTypeCMSCertificate is a CMS certificate
	ElementTypeCMSCertificate ElementType = 0x04

	// ElementTypeData is opaque data
	ElementTypeData ElementType = 0x05

	// ElementTypeEnd terminates the element table
	ElementTypeEnd ElementType = 0xfe
)

var elementNames = map[ElementType]string{
	ElementTypeStage2Firmware: "stage 2 firmware",
	ElementTypeStage3Firmware: "stage 3 firmware",
	ElementTypeIMSCertificate: "IMS certificate",
	ElementTypeCMSCertificate: "CMS certificate",
	ElementTypeData:           "data",
	ElementTypeEnd:            "end of elements",
}

var elementShortNames = map[ElementType]string{
	ElementTypeStage2Firmware: "2fw",
	ElementTypeStage3Firmware: "3fw",
	ElementTypeIMSCertificate: "ims_cert",
	ElementTypeCMSCertificate: "cms_cert",
	ElementTypeData:           "data",
	ElementTypeEnd:            "eot",
}

// String returns the long textual form of an element type.
func (t ElementType) String() string {
	if name, ok := elementNames[t]; ok {
		return name
	}
	return "?"
}

// ShortName returns the abbreviated form of an element type, used in
// exploded file names and map lines.
func (t ElementType) ShortName() string {
	if name, ok := elementShortNames[t]; ok {
		return name
	}
	return "unk"
}
