// Package manifest loads TOML build manifests describing an FFFF flash
// image and the elements it carries, and turns them into ready-to-write
// images.
//
// Example manifest:
//
//	name = "spiral2"
//	flash_capacity = 2097152
//	erase_block_size = 4096
//	image_length = 524288
//	generation = 1
//	header_size = 4096
//
//	[[elements]]
//	type = "2fw"
//	id = 1
//	location = 32768
//	generation = 1
//	file = "boot.tftf"
package manifest

import (
	"fmt"
	"path/filepath"

	"github.com/BurntSushi/toml"

	"github.com/moffa90/go-ffff/ffff"
)

// Manifest describes one flash image build.
type Manifest struct {
	// Name is the flash image name
	Name string `toml:"name"`

	// FlashCapacity is the target flash part size in bytes
	FlashCapacity uint32 `toml:"flash_capacity"`

	// EraseBlockSize is the flash erase block size in bytes
	EraseBlockSize uint32 `toml:"erase_block_size"`

	// ImageLength is the image size in bytes
	ImageLength uint32 `toml:"image_length"`

	// Generation is the header generation number
	Generation uint32 `toml:"generation"`

	// HeaderSize is the per-header size in bytes; defaults to 4096
	HeaderSize uint32 `toml:"header_size"`

	// Elements lists the payloads to place in the image
	Elements []ElementSpec `toml:"elements"`

	dir string
}

// ElementSpec describes one element of the image.
type ElementSpec struct {
	// Type is the element type, by short or long name ("2fw", "3fw",
	// "ims_cert", "cms_cert", "data")
	Type string `toml:"type"`

	// Class is the vendor-defined class tag
	Class uint32 `toml:"class"`

	// ID identifies the payload
	ID uint32 `toml:"id"`

	// Length is the payload span size; ignored when File is set, since
	// the element is then sized from the blob
	Length uint32 `toml:"length"`

	// Location is the absolute byte offset of the payload
	Location uint32 `toml:"location"`

	// Generation is the element generation number
	Generation uint32 `toml:"generation"`

	// File is the TFTF blob to load, relative to the manifest
	File string `toml:"file"`
}

var elementTypes = map[string]ffff.ElementType{
	"2fw":      ffff.ElementTypeStage2Firmware,
	"3fw":      ffff.ElementTypeStage3Firmware,
	"ims_cert": ffff.ElementTypeIMSCertificate,
	"cms_cert": ffff.ElementTypeCMSCertificate,
	"data":     ffff.ElementTypeData,
	"stage2":   ffff.ElementTypeStage2Firmware,
	"stage3":   ffff.ElementTypeStage3Firmware,
}

// Load reads, defaults and validates a manifest file. Element file
// paths are later resolved relative to the manifest's directory.
func Load(path string) (*Manifest, error) {
	var m Manifest
	if _, err := toml.DecodeFile(path, &m); err != nil {
		return nil, fmt.Errorf("manifest %s: %w", path, err)
	}
	m.dir = filepath.Dir(path)
	if m.HeaderSize == 0 {
		m.HeaderSize = ffff.HeaderSizeDefault
	}
	if err := m.validate(); err != nil {
		return nil, fmt.Errorf("manifest %s: %w", path, err)
	}
	return &m, nil
}

// validate rejects manifests the image constructor would reject anyway,
// plus element types it cannot express.
func (m *Manifest) validate() error {
	if m.Name == "" {
		return fmt.Errorf("name is required")
	}
	if m.EraseBlockSize == 0 {
		return fmt.Errorf("erase_block_size is required")
	}
	if m.ImageLength == 0 {
		return fmt.Errorf("image_length is required")
	}
	for i, spec := range m.Elements {
		if _, ok := elementTypes[spec.Type]; !ok {
			return fmt.Errorf("element %d: unknown type %q", i, spec.Type)
		}
		if spec.File == "" && spec.Length == 0 {
			return fmt.Errorf("element %d: needs a file or an explicit length", i)
		}
	}
	return nil
}

// Build constructs the image the manifest describes: a fresh RomImage
// with every element added to both headers and all payloads copied into
// the buffer. The result still has to pass Write's validity gate.
func (m *Manifest) Build(opts ...ffff.Option) (*ffff.RomImage, error) {
	img, err := ffff.New(m.Name, m.FlashCapacity, m.EraseBlockSize,
		m.ImageLength, m.Generation, m.HeaderSize, opts...)
	if err != nil {
		return nil, err
	}
	for i, spec := range m.Elements {
		file := spec.File
		if file != "" && !filepath.IsAbs(file) {
			file = filepath.Join(m.dir, file)
		}
		err := img.AddElement(elementTypes[spec.Type], spec.Class, spec.ID,
			spec.Length, spec.Location, spec.Generation, file)
		if err != nil {
			return nil, fmt.Errorf("element %d: %w", i, err)
		}
	}
	if err := img.FinalizeImage(); err != nil {
		return nil, err
	}
	return img, nil
}
