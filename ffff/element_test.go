package ffff

import (
	"testing"

	"github.com/rs/zerolog"
)

func testElement(index int, elementType ElementType, class, id, length, location, generation uint32) *Element {
	return newElement(index, make([]byte, 64*1024), 4096,
		elementType, class, id, length, location, generation, "", zerolog.Nop())
}

func TestElementPackUnpackRoundTrip(t *testing.T) {
	tests := []struct {
		name string
		elem *Element
	}{
		{
			name: "stage 2 firmware",
			elem: testElement(0, ElementTypeStage2Firmware, 0x123456, 0xdeadbeef, 0x1000, 0x8000, 7),
		},
		{
			name: "data with maximal class",
			elem: testElement(3, ElementTypeData, 0xffffff, 1, 42, 0x10000, 0),
		},
		{
			name: "zeroed identity",
			elem: testElement(1, ElementTypeIMSCertificate, 0, 0, 0, 0x9000, 0),
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			buf := make([]byte, 64)
			next := tt.elem.Pack(buf, 4)
			if next != 4+ElementLength {
				t.Errorf("Pack returned %d, want %d", next, 4+ElementLength)
			}

			out := newElement(tt.elem.Index, nil, 4096, 0, 0, 0, 0, 0, 0, "", zerolog.Nop())
			eot := out.Unpack(buf, 4)
			if eot {
				t.Fatal("Unpack reported end-of-table for a real element")
			}
			if !out.SameAs(tt.elem) {
				t.Errorf("round trip mismatch: got %+v, want %+v", out, tt.elem)
			}
		})
	}
}

func TestElementUnpackEndOfTable(t *testing.T) {
	buf := make([]byte, ElementLength)
	eot := testElement(0, ElementTypeEnd, 0, 0, 0, 0, 0)
	eot.Pack(buf, 0)

	out := newElement(0, nil, 4096, 0, 0, 0, 0, 0, 0, "", zerolog.Nop())
	if !out.Unpack(buf, 0) {
		t.Fatal("Unpack did not report end-of-table")
	}
	if !out.InRange || !out.Aligned || !out.ValidType {
		t.Error("end-of-table marker must be pre-marked valid")
	}
}

func TestElementValidate(t *testing.T) {
	const lo, hi = 0x8000, 0x20000

	tests := []struct {
		name      string
		elem      *Element
		want      bool
		inRange   bool
		aligned   bool
		validType bool
	}{
		{
			name:      "valid element",
			elem:      testElement(0, ElementTypeStage2Firmware, 0, 1, 0x1000, 0x8000, 0),
			want:      true,
			inRange:   true,
			aligned:   true,
			validType: true,
		},
		{
			name:      "below range",
			elem:      testElement(0, ElementTypeData, 0, 1, 0x1000, 0x7000, 0),
			want:      false,
			inRange:   false,
			aligned:   true,
			validType: true,
		},
		{
			name:      "at range end",
			elem:      testElement(0, ElementTypeData, 0, 1, 0x1000, 0x20000, 0),
			want:      false,
			inRange:   false,
			aligned:   true,
			validType: true,
		},
		{
			name:      "unaligned",
			elem:      testElement(0, ElementTypeData, 0, 1, 0x1000, 0x8008, 0),
			want:      false,
			inRange:   true,
			aligned:   false,
			validType: true,
		},
		{
			name:      "reserved type",
			elem:      testElement(0, ElementType(0x06), 0, 1, 0x1000, 0x8000, 0),
			want:      false,
			inRange:   true,
			aligned:   true,
			validType: false,
		},
		{
			name:      "every check fails independently",
			elem:      testElement(0, ElementType(0xfd), 0, 1, 0x1000, 0x7001, 0),
			want:      false,
			inRange:   false,
			aligned:   false,
			validType: false,
		},
		{
			name:      "end-of-table always valid",
			elem:      testElement(0, ElementTypeEnd, 0, 0, 0, 0xffffffff, 0),
			want:      true,
			inRange:   true,
			aligned:   true,
			validType: true,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := tt.elem.Validate(lo, hi); got != tt.want {
				t.Errorf("Validate() = %v, want %v", got, tt.want)
			}
			if tt.elem.InRange != tt.inRange {
				t.Errorf("InRange = %v, want %v", tt.elem.InRange, tt.inRange)
			}
			if tt.elem.Aligned != tt.aligned {
				t.Errorf("Aligned = %v, want %v", tt.elem.Aligned, tt.aligned)
			}
			if tt.elem.ValidType != tt.validType {
				t.Errorf("ValidType = %v, want %v", tt.elem.ValidType, tt.validType)
			}
		})
	}
}

func TestElementValidateAgainstCollision(t *testing.T) {
	tests := []struct {
		name    string
		spanA   [2]uint32 // location, length
		spanB   [2]uint32
		collide bool
	}{
		{"overlapping spans", [2]uint32{10, 10}, [2]uint32{15, 10}, true},
		{"adjacent spans", [2]uint32{10, 10}, [2]uint32{20, 10}, false},
		{"identical spans", [2]uint32{4096, 512}, [2]uint32{4096, 512}, true},
		{"contained span", [2]uint32{4096, 4096}, [2]uint32{5120, 512}, true},
		{"disjoint spans", [2]uint32{4096, 512}, [2]uint32{8192, 512}, false},
		{"zero-length span never collides", [2]uint32{10, 0}, [2]uint32{10, 10}, false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			a := testElement(0, ElementTypeData, 0, 1, tt.spanA[1], tt.spanA[0], 0)
			b := testElement(1, ElementTypeData, 0, 2, tt.spanB[1], tt.spanB[0], 0)

			// Run both directions, as the table scan does.
			a.ValidateAgainst(b)
			b.ValidateAgainst(a)

			if got := len(a.Collisions) > 0; got != tt.collide {
				t.Errorf("a collisions = %v, want collide=%v", a.Collisions, tt.collide)
			}
			if got := len(b.Collisions) > 0; got != tt.collide {
				t.Errorf("b collisions = %v, want collide=%v", b.Collisions, tt.collide)
			}
			if tt.collide {
				if a.Collisions[0] != b.Index || b.Collisions[0] != a.Index {
					t.Error("collision lists must reference the sibling index on both sides")
				}
			}
		})
	}
}

func TestElementValidateAgainstDuplicate(t *testing.T) {
	// Identical (type, id, generation) at different locations is a
	// duplicate regardless of overlap.
	a := testElement(0, ElementTypeStage3Firmware, 0, 7, 0x1000, 0x8000, 3)
	b := testElement(1, ElementTypeStage3Firmware, 0, 7, 0x1000, 0x10000, 3)

	a.ValidateAgainst(b)
	b.ValidateAgainst(a)

	if len(a.Collisions) != 0 || len(b.Collisions) != 0 {
		t.Error("disjoint spans must not collide")
	}
	if len(a.Duplicates) != 1 || a.Duplicates[0] != 1 {
		t.Errorf("a duplicates = %v, want [1]", a.Duplicates)
	}
	if len(b.Duplicates) != 1 || b.Duplicates[0] != 0 {
		t.Errorf("b duplicates = %v, want [0]", b.Duplicates)
	}

	// A differing generation breaks the triple.
	c := testElement(2, ElementTypeStage3Firmware, 0, 7, 0x1000, 0x12000, 4)
	a.Duplicates = nil
	a.ValidateAgainst(c)
	if len(a.Duplicates) != 0 {
		t.Errorf("different generation flagged duplicate: %v", a.Duplicates)
	}
}

func TestElementSameAs(t *testing.T) {
	base := testElement(0, ElementTypeData, 0x10, 5, 0x800, 0x8000, 2)

	same := testElement(9, ElementTypeData, 0x10, 5, 0x800, 0x8000, 2)
	if !base.SameAs(same) {
		t.Error("elements with identical fields must compare same (index is not persisted)")
	}

	fields := []*Element{
		testElement(0, ElementTypeStage2Firmware, 0x10, 5, 0x800, 0x8000, 2),
		testElement(0, ElementTypeData, 0x11, 5, 0x800, 0x8000, 2),
		testElement(0, ElementTypeData, 0x10, 6, 0x800, 0x8000, 2),
		testElement(0, ElementTypeData, 0x10, 5, 0x801, 0x8000, 2),
		testElement(0, ElementTypeData, 0x10, 5, 0x800, 0x9000, 2),
		testElement(0, ElementTypeData, 0x10, 5, 0x800, 0x8000, 3),
	}
	for i, other := range fields {
		if base.SameAs(other) {
			t.Errorf("variant %d must not compare same", i)
		}
	}
}

func BenchmarkElementPack(b *testing.B) {
	e := testElement(0, ElementTypeStage2Firmware, 0x123456, 1, 0x1000, 0x8000, 1)
	buf := make([]byte, ElementLength)
	b.ResetTimer()
	for i := 0; i < b.N; i++ {
		e.Pack(buf, 0)
	}
}
