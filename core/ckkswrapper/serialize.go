package ckkswrapper

import (
	"bytes"
	"encoding/binary"
	"fmt"
	"io"
	"math"

	"github.com/tuneinsight/lattigo/v5/core/rlwe"
	"github.com/tuneinsight/lattigo/v5/he/hefloat"
)

// SaveCiphertext serializes a ciphertext to its native binary form.
func SaveCiphertext(ct *rlwe.Ciphertext) ([]byte, error) {
	return ct.MarshalBinary()
}

// LoadCiphertext deserializes a ciphertext from its native binary form.
func LoadCiphertext(data []byte) (*rlwe.Ciphertext, error) {
	ct := new(rlwe.Ciphertext)
	if err := ct.UnmarshalBinary(data); err != nil {
		return nil, err
	}
	return ct, nil
}

// SavePlaintext serializes an encoded plaintext.
func SavePlaintext(pt *rlwe.Plaintext) ([]byte, error) {
	return pt.MarshalBinary()
}

// LoadPlaintext deserializes an encoded plaintext.
func LoadPlaintext(data []byte) (*rlwe.Plaintext, error) {
	pt := new(rlwe.Plaintext)
	if err := pt.UnmarshalBinary(data); err != nil {
		return nil, err
	}
	return pt, nil
}

// SaveParameters writes the parameter file form:
// scale:f64 || complex_packing:u8 || security_level:u64 || native blob.
func (h *HeContext) SaveParameters(w io.Writer) error {
	if err := binary.Write(w, binary.LittleEndian, h.Meta.Scale); err != nil {
		return err
	}
	var complexByte uint8
	if h.Meta.ComplexPacking {
		complexByte = 1
	}
	if err := binary.Write(w, binary.LittleEndian, complexByte); err != nil {
		return err
	}
	if err := binary.Write(w, binary.LittleEndian, uint64(h.Meta.SecurityLevel)); err != nil {
		return err
	}
	blob, err := h.Params.MarshalBinary()
	if err != nil {
		return err
	}
	_, err = w.Write(blob)
	return err
}

// LoadParameters reads the parameter file form back into a descriptor the
// context constructors accept.
func LoadParameters(r io.Reader) (EncryptionParameters, error) {
	meta := EncryptionParameters{SchemeName: SchemeName}
	if err := binary.Read(r, binary.LittleEndian, &meta.Scale); err != nil {
		return meta, fmt.Errorf("%w: %v", ErrInvalidParameters, err)
	}
	var complexByte uint8
	if err := binary.Read(r, binary.LittleEndian, &complexByte); err != nil {
		return meta, fmt.Errorf("%w: %v", ErrInvalidParameters, err)
	}
	meta.ComplexPacking = complexByte != 0
	var security uint64
	if err := binary.Read(r, binary.LittleEndian, &security); err != nil {
		return meta, fmt.Errorf("%w: %v", ErrInvalidParameters, err)
	}
	meta.SecurityLevel = int(security)

	blob := new(bytes.Buffer)
	if _, err := io.Copy(blob, r); err != nil {
		return meta, fmt.Errorf("%w: %v", ErrInvalidParameters, err)
	}
	var params hefloat.Parameters
	if err := params.UnmarshalBinary(blob.Bytes()); err != nil {
		return meta, fmt.Errorf("%w: %v", ErrInvalidParameters, err)
	}
	meta.PolyModulusDegree = uint64(params.N())
	for _, q := range params.Q() {
		meta.CoeffModulusBits = append(meta.CoeffModulusBits, int(math.Round(math.Log2(float64(q)))))
	}
	for _, p := range params.P() {
		meta.CoeffModulusBits = append(meta.CoeffModulusBits, int(math.Round(math.Log2(float64(p)))))
	}
	if meta.Scale == 0 {
		meta.Scale = math.Exp2(float64(params.LogDefaultScale()))
	}
	return meta, nil
}

// SameContext reports whether two parameter sets describe the same CKKS
// context. Security level, scale and complex packing are intentionally
// ignored; only the ring geometry matters for operand compatibility.
func SameContext(a, b EncryptionParameters) bool {
	if a.PolyModulusDegree != b.PolyModulusDegree {
		return false
	}
	if len(a.CoeffModulusBits) != len(b.CoeffModulusBits) {
		return false
	}
	for i := range a.CoeffModulusBits {
		if a.CoeffModulusBits[i] != b.CoeffModulusBits[i] {
			return false
		}
	}
	return true
}
