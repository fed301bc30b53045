package kernel

import (
	"fmt"
	"math"

	"hegraph/tensor"
	"hegraph/utils"

	"github.com/tuneinsight/lattigo/v5/core/rlwe"
)

// combinePlain applies f pairwise over two plaintext batches. A size-1
// operand broadcasts as a scalar against the other.
func combinePlain(a, b tensor.PlainVector, f func(x, y float64) float64) tensor.PlainVector {
	switch {
	case len(a) == 1 && len(b) > 1:
		out := make(tensor.PlainVector, len(b))
		for i, y := range b {
			out[i] = f(a[0], y)
		}
		return out
	case len(b) == 1 && len(a) > 1:
		out := make(tensor.PlainVector, len(a))
		for i, x := range a {
			out[i] = f(x, b[0])
		}
		return out
	default:
		n := len(a)
		if len(b) < n {
			n = len(b)
		}
		out := make(tensor.PlainVector, n)
		for i := range out {
			out[i] = f(a[i], b[i])
		}
		return out
	}
}

// expandPlain stretches a scalar batch to n values; larger batches pass
// through untouched.
func expandPlain(v tensor.PlainVector, n int) []float64 {
	if len(v) == 1 && n > 1 {
		out := make([]float64, n)
		for i := range out {
			out[i] = v[0]
		}
		return out
	}
	return v
}

// encodeAt encodes a plaintext batch at the given level and scale,
// expanding scalars over the batch width.
func (e *Env) encodeAt(v tensor.PlainVector, batch int, level int, scale rlwe.Scale) (*rlwe.Plaintext, error) {
	return e.H.Encode(expandPlain(v, batch), level, scale)
}

func addSlot(e *Env, a, b tensor.HEType, batch int) (tensor.HEType, error) {
	if err := tensor.CheckPacking(a, b); err != nil {
		return tensor.HEType{}, err
	}
	switch {
	case a.IsPlain() && b.IsPlain():
		return tensor.NewPlain(combinePlain(a.Plain(), b.Plain(), func(x, y float64) float64 { return x + y }), a.ComplexPacking()), nil
	case a.IsCipher() && b.IsCipher():
		x, y := a.Cipher().CopyNew(), b.Cipher().CopyNew()
		if err := e.Eval.MatchModulusAndScale(x, y); err != nil {
			return tensor.HEType{}, err
		}
		ct, err := e.Eval.AddNew(x, y)
		if err != nil {
			return tensor.HEType{}, err
		}
		return tensor.NewCipher(ct, a.ComplexPacking()), nil
	case a.IsCipher():
		return e.cipherPlainAdd(a.Cipher(), b.Plain(), batch, false, a.ComplexPacking())
	default:
		return e.cipherPlainAdd(b.Cipher(), a.Plain(), batch, false, b.ComplexPacking())
	}
}

func subSlot(e *Env, a, b tensor.HEType, batch int) (tensor.HEType, error) {
	if err := tensor.CheckPacking(a, b); err != nil {
		return tensor.HEType{}, err
	}
	switch {
	case a.IsPlain() && b.IsPlain():
		return tensor.NewPlain(combinePlain(a.Plain(), b.Plain(), func(x, y float64) float64 { return x - y }), a.ComplexPacking()), nil
	case a.IsCipher() && b.IsCipher():
		x, y := a.Cipher().CopyNew(), b.Cipher().CopyNew()
		if err := e.Eval.MatchModulusAndScale(x, y); err != nil {
			return tensor.HEType{}, err
		}
		ct, err := e.Eval.SubNew(x, y)
		if err != nil {
			return tensor.HEType{}, err
		}
		return tensor.NewCipher(ct, a.ComplexPacking()), nil
	case a.IsCipher():
		return e.cipherPlainAdd(a.Cipher(), b.Plain(), batch, true, a.ComplexPacking())
	default:
		// plain - cipher: negate the ciphertext, then add the plaintext.
		neg, err := negCipher(e, b.Cipher())
		if err != nil {
			return tensor.HEType{}, err
		}
		return e.cipherPlainAdd(neg, a.Plain(), batch, false, b.ComplexPacking())
	}
}

// cipherPlainAdd adds (or subtracts) a plaintext batch onto a copy of ct.
// Identity plaintexts short-circuit to a plain copy.
func (e *Env) cipherPlainAdd(ct *rlwe.Ciphertext, v tensor.PlainVector, batch int, sub bool, complexPacking bool) (tensor.HEType, error) {
	if v.IsAdditiveIdentity() {
		return tensor.NewCipher(ct.CopyNew(), complexPacking), nil
	}
	if len(v) == 1 && !complexPacking {
		s := v[0]
		if sub {
			s = -s
		}
		out, err := e.Eval.AddNew(ct, s)
		if err != nil {
			return tensor.HEType{}, err
		}
		return tensor.NewCipher(out, complexPacking), nil
	}
	pt, err := e.encodeAt(v, batch, ct.Level(), ct.Scale)
	if err != nil {
		return tensor.HEType{}, err
	}
	var out *rlwe.Ciphertext
	if sub {
		out, err = e.Eval.SubNew(ct, pt)
	} else {
		out, err = e.Eval.AddNew(ct, pt)
	}
	if err != nil {
		return tensor.HEType{}, err
	}
	return tensor.NewCipher(out, complexPacking), nil
}

func negCipher(e *Env, ct *rlwe.Ciphertext) (*rlwe.Ciphertext, error) {
	// Integer scalars multiply without consuming scale, so no rescale.
	return e.Eval.MulNew(ct, -1)
}

// rawMulSlot multiplies without the trailing rescale; accumulation chains
// rescale once after summing.
func rawMulSlot(e *Env, a, b tensor.HEType, batch int) (tensor.HEType, error) {
	if err := tensor.CheckPacking(a, b); err != nil {
		return tensor.HEType{}, err
	}
	switch {
	case a.IsPlain() && b.IsPlain():
		return tensor.NewPlain(combinePlain(a.Plain(), b.Plain(), func(x, y float64) float64 { return x * y }), a.ComplexPacking()), nil
	case a.IsCipher() && b.IsCipher():
		x, y := a.Cipher().CopyNew(), b.Cipher().CopyNew()
		if err := e.Eval.MatchModulusAndScale(x, y); err != nil {
			return tensor.HEType{}, err
		}
		ct, err := e.Eval.MulRelinNew(x, y)
		if err != nil {
			return tensor.HEType{}, err
		}
		return tensor.NewCipher(ct, a.ComplexPacking()), nil
	case a.IsCipher():
		return e.cipherPlainMul(a.Cipher(), b.Plain(), batch, a.ComplexPacking())
	default:
		return e.cipherPlainMul(b.Cipher(), a.Plain(), batch, b.ComplexPacking())
	}
}

// cipherPlainMul multiplies a ciphertext by a plaintext batch. Unit and
// sign-flip scalars short-circuit without consuming a modulus.
func (e *Env) cipherPlainMul(ct *rlwe.Ciphertext, v tensor.PlainVector, batch int, complexPacking bool) (tensor.HEType, error) {
	if len(v) == 1 {
		switch v[0] {
		case 1:
			return tensor.NewCipher(ct.CopyNew(), complexPacking), nil
		case -1:
			out, err := negCipher(e, ct)
			if err != nil {
				return tensor.HEType{}, err
			}
			return tensor.NewCipher(out, complexPacking), nil
		case 0:
			return tensor.NewPlain(tensor.PlainVector{0}, complexPacking), nil
		}
	}
	pt, err := e.encodeAt(v, batch, ct.Level(), rlwe.NewScale(e.H.Meta.Scale))
	if err != nil {
		return tensor.HEType{}, err
	}
	out, err := e.Eval.MulNew(ct, pt)
	if err != nil {
		return tensor.HEType{}, err
	}
	return tensor.NewCipher(out, complexPacking), nil
}

func mulSlot(e *Env, a, b tensor.HEType, batch int) (tensor.HEType, error) {
	s, err := rawMulSlot(e, a, b, batch)
	if err != nil {
		return tensor.HEType{}, err
	}
	if s.IsCipher() && needsRescale(s.Cipher(), e) {
		if err := e.Eval.Rescale(s.Cipher()); err != nil {
			return tensor.HEType{}, err
		}
	}
	return s, nil
}

// needsRescale reports whether the ciphertext scale grew past the default,
// which happens after every true multiply but not after the scalar
// short-circuits.
func needsRescale(ct *rlwe.Ciphertext, e *Env) bool {
	return math.Log2(ct.Scale.Float64()) > math.Log2(e.H.Meta.Scale)+1
}

func divSlot(e *Env, a, b tensor.HEType, batch int) (tensor.HEType, error) {
	if err := tensor.CheckPacking(a, b); err != nil {
		return tensor.HEType{}, err
	}
	if b.IsCipher() {
		return tensor.HEType{}, fmt.Errorf("%w: encrypted divisor", tensor.ErrUnsupportedType)
	}
	if a.IsPlain() {
		return tensor.NewPlain(combinePlain(a.Plain(), b.Plain(), func(x, y float64) float64 { return x / y }), a.ComplexPacking()), nil
	}
	recip := make(tensor.PlainVector, len(b.Plain()))
	for i, y := range b.Plain() {
		recip[i] = 1 / y
	}
	return mulSlot(e, a, tensor.NewPlain(recip, b.ComplexPacking()), batch)
}

func minSlot(e *Env, a, b tensor.HEType, batch int) (tensor.HEType, error) {
	if err := tensor.CheckPacking(a, b); err != nil {
		return tensor.HEType{}, err
	}
	if a.IsCipher() || b.IsCipher() {
		return tensor.HEType{}, fmt.Errorf("%w: Minimum over ciphertexts", tensor.ErrUnsupportedType)
	}
	return tensor.NewPlain(combinePlain(a.Plain(), b.Plain(), math.Min), a.ComplexPacking()), nil
}

func negSlot(e *Env, a tensor.HEType, batch int) (tensor.HEType, error) {
	if a.IsPlain() {
		v := a.Plain()
		out := make(tensor.PlainVector, len(v))
		for i, x := range v {
			out[i] = -x
		}
		return tensor.NewPlain(out, a.ComplexPacking()), nil
	}
	ct, err := negCipher(e, a.Cipher())
	if err != nil {
		return tensor.HEType{}, err
	}
	return tensor.NewCipher(ct, a.ComplexPacking()), nil
}

func expSlot(e *Env, a tensor.HEType, batch int) (tensor.HEType, error) {
	return e.hostUnary("Exp", a, batch, math.Exp)
}

func powSlot(e *Env, a, b tensor.HEType, batch int) (tensor.HEType, error) {
	if a.IsPlain() && b.IsPlain() {
		return tensor.NewPlain(combinePlain(a.Plain(), b.Plain(), math.Pow), a.ComplexPacking()), nil
	}
	return e.hostBinary("Power", a, b, batch, math.Pow)
}

// hostUnary applies a host function to a slot. Ciphertext slots round-trip
// through the secret key, which only the combined server+client context
// holds; a keyless server reports the capability gap instead.
func (e *Env) hostUnary(name string, a tensor.HEType, batch int, f func(float64) float64) (tensor.HEType, error) {
	if a.IsPlain() {
		v := a.Plain()
		out := make(tensor.PlainVector, len(v))
		for i, x := range v {
			out[i] = f(x)
		}
		return tensor.NewPlain(out, a.ComplexPacking()), nil
	}
	values, err := e.hostValues(name, a, batch)
	if err != nil {
		return tensor.HEType{}, err
	}
	for i, x := range values {
		values[i] = f(x)
	}
	ct, err := e.H.EncryptValues(values)
	if err != nil {
		return tensor.HEType{}, err
	}
	return tensor.NewCipher(ct, a.ComplexPacking()), nil
}

func (e *Env) hostBinary(name string, a, b tensor.HEType, batch int, f func(x, y float64) float64) (tensor.HEType, error) {
	if err := tensor.CheckPacking(a, b); err != nil {
		return tensor.HEType{}, err
	}
	x, err := e.hostValues(name, a, batch)
	if err != nil {
		return tensor.HEType{}, err
	}
	y, err := e.hostValues(name, b, batch)
	if err != nil {
		return tensor.HEType{}, err
	}
	out := combinePlain(x, y, f)
	ct, err := e.H.EncryptValues(out)
	if err != nil {
		return tensor.HEType{}, err
	}
	return tensor.NewCipher(ct, a.ComplexPacking()), nil
}

// hostValues materializes a slot as a host batch, decrypting if needed.
func (e *Env) hostValues(name string, s tensor.HEType, batch int) ([]float64, error) {
	if s.IsPlain() {
		return expandPlain(s.Plain(), batch), nil
	}
	if e.H.Decryptor == nil {
		return nil, fmt.Errorf("%s on ciphertext requires the secret key", name)
	}
	utils.Logf(1, "WARNING: %s not supported under encryption, processing on the host", name)
	return e.H.DecryptValues(s.Cipher(), batch)
}
