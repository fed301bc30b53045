package tensor

import (
	"errors"
	"fmt"

	"github.com/tuneinsight/lattigo/v5/core/rlwe"
)

// Error kinds surfaced by tensors and kernels. Callers match with errors.Is.
var (
	// ErrUnsupportedType reports an element type outside {f32, f64, i32, i64}.
	ErrUnsupportedType = errors.New("unsupported element type")

	// ErrTypeTagMismatch reports operands whose complex packing disagrees.
	ErrTypeTagMismatch = errors.New("complex packing mismatch")

	// ErrShapeMismatch reports kernel inputs violating expected dimensions.
	ErrShapeMismatch = errors.New("shape mismatch")
)

// PlainVector is an ordered batch of reals. Size 0 is the additive
// identity; size 1 broadcasts as a scalar against larger operands.
type PlainVector []float64

// IsAdditiveIdentity reports whether adding the vector is a no-op.
func (v PlainVector) IsAdditiveIdentity() bool {
	return len(v) == 0 || (len(v) == 1 && v[0] == 0)
}

// Clone returns an independent copy.
func (v PlainVector) Clone() PlainVector {
	return append(PlainVector(nil), v...)
}

// Tag discriminates the two HEType variants.
type Tag uint8

const (
	// PlainTag marks a slot holding a plaintext batch vector.
	PlainTag Tag = iota
	// CipherTag marks a slot holding a ciphertext handle.
	CipherTag
)

// HEType is the per-slot tagged union: a plaintext batch vector or a
// ciphertext handle, plus the complex-packing bit. The accessors enforce
// the tag; the zero value is an empty plaintext.
type HEType struct {
	tag            Tag
	plain          PlainVector
	cipher         *rlwe.Ciphertext
	complexPacking bool
}

// NewPlain builds a plaintext slot.
func NewPlain(v PlainVector, complexPacking bool) HEType {
	return HEType{tag: PlainTag, plain: v, complexPacking: complexPacking}
}

// NewCipher builds a ciphertext slot taking exclusive ownership of ct.
func NewCipher(ct *rlwe.Ciphertext, complexPacking bool) HEType {
	return HEType{tag: CipherTag, cipher: ct, complexPacking: complexPacking}
}

// IsPlain reports whether the slot holds a plaintext vector.
func (s HEType) IsPlain() bool { return s.tag == PlainTag }

// IsCipher reports whether the slot holds a ciphertext.
func (s HEType) IsCipher() bool { return s.tag == CipherTag }

// ComplexPacking returns the slot's complex-packing bit.
func (s HEType) ComplexPacking() bool { return s.complexPacking }

// Plain returns the plaintext vector. Panics on a ciphertext slot.
func (s HEType) Plain() PlainVector {
	if s.tag != PlainTag {
		panic("Plain: slot holds a ciphertext")
	}
	return s.plain
}

// Cipher returns the ciphertext handle. Panics on a plaintext slot.
func (s HEType) Cipher() *rlwe.Ciphertext {
	if s.tag != CipherTag {
		panic("Cipher: slot holds a plaintext")
	}
	return s.cipher
}

// Clone deep-copies the slot. Ciphertext storage is never shared between
// two slots; sharing must go through this explicit copy.
func (s HEType) Clone() HEType {
	out := s
	switch s.tag {
	case PlainTag:
		out.plain = s.plain.Clone()
	case CipherTag:
		if s.cipher != nil {
			out.cipher = s.cipher.CopyNew()
		}
	}
	return out
}

// CheckPacking verifies both operands carry the same complex-packing bit.
func CheckPacking(a, b HEType) error {
	if a.complexPacking != b.complexPacking {
		return fmt.Errorf("%w: %t vs %t", ErrTypeTagMismatch, a.complexPacking, b.complexPacking)
	}
	return nil
}
