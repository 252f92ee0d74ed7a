package ffff

import (
	"fmt"
	"strings"
)

// ConfigError indicates that an image construction parameter is illegal.
// It is returned before any buffer is allocated.
type ConfigError struct {
	// Param is the name of the offending parameter
	Param string

	// Value is the rejected value
	Value uint32

	// Reason describes the violated constraint
	Reason string
}

func (e *ConfigError) Error() string {
	return fmt.Sprintf("invalid %s 0x%X: %s", e.Param, e.Value, e.Reason)
}

// FormatError indicates that an image being parsed is structurally
// corrupt: a bad sentinel, an out-of-bounds header, or an unreadable
// record. Format errors abort the parse.
type FormatError struct {
	// Offset is the byte offset of the problem within the image
	Offset uint32

	// Reason describes what was malformed
	Reason string
}

func (e *FormatError) Error() string {
	return fmt.Sprintf("malformed image at offset 0x%X: %s", e.Offset, e.Reason)
}

// Problem is a single element validation failure, recorded while the
// table scan continues.
type Problem struct {
	// HeaderIndex is the header (0 or 1) owning the element
	HeaderIndex int

	// ElementIndex is the element's position in the table
	ElementIndex int

	// Reason describes the violated constraint
	Reason string
}

func (p Problem) String() string {
	return fmt.Sprintf("header %d element %d: %s", p.HeaderIndex, p.ElementIndex, p.Reason)
}

// ValidationError aggregates every element validation failure found in
// an image. Individual failures are non-fatal and cumulative; the
// aggregate only becomes an error when Write refuses the image.
type ValidationError struct {
	Problems []Problem
}

func (e *ValidationError) Error() string {
	if len(e.Problems) == 1 {
		return "validation failed: " + e.Problems[0].String()
	}
	var b strings.Builder
	fmt.Fprintf(&b, "validation failed with %d problems:", len(e.Problems))
	for _, p := range e.Problems {
		b.WriteString("\n  ")
		b.WriteString(p.String())
	}
	return b.String()
}

// IOError indicates that an image or element file could not be read or
// written. It wraps the underlying error from the os package.
type IOError struct {
	// Op is the failed operation ("open", "read", "write")
	Op string

	// Path is the file involved
	Path string

	// Err is the underlying error
	Err error
}

func (e *IOError) Error() string {
	return fmt.Sprintf("%s %s: %v", e.Op, e.Path, e.Err)
}

// Unwrap returns the underlying os error so callers can test it with
// errors.Is.
func (e *IOError) Unwrap() error {
	return e.Err
}
