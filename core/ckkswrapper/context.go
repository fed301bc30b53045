// Package ckkswrapper adapts the lattigo CKKS primitives behind the narrow
// surface the graph executor needs: encode/decode, encrypt/decrypt, the
// arithmetic primitives, modulus-chain management and serialization.
package ckkswrapper

import (
	"fmt"

	"github.com/tuneinsight/lattigo/v5/core/rlwe"
	"github.com/tuneinsight/lattigo/v5/he/hefloat"
)

// HeContext bundles the CKKS parameters, keys and primitive handles.
//
// Evaluator and Encoder are safe for concurrent read; goroutines that run
// primitives in parallel must each use a ShallowCopy of the context.
type HeContext struct {
	Meta   EncryptionParameters
	Params hefloat.Parameters

	Sk  *rlwe.SecretKey // key holder only, never present on the server
	Pk  *rlwe.PublicKey
	Rlk *rlwe.RelinearizationKey

	Encoder   *hefloat.Encoder
	Encryptor *rlwe.Encryptor
	Decryptor *rlwe.Decryptor
	Evaluator *hefloat.Evaluator
}

// NewHeContext creates a full context with freshly generated keys. This is
// the key holder's constructor; the server receives its keys over the wire.
func NewHeContext(meta EncryptionParameters) (*HeContext, error) {
	h, err := NewServerContext(meta)
	if err != nil {
		return nil, err
	}
	kgen := rlwe.NewKeyGenerator(h.Params)
	h.Sk, h.Pk = kgen.GenKeyPairNew()
	if h.Params.MaxLevel() > 0 {
		h.Rlk = kgen.GenRelinearizationKeyNew(h.Sk)
	}
	h.Decryptor = rlwe.NewDecryptor(h.Params, h.Sk)
	h.attachKeys()
	return h, nil
}

// NewServerContext creates a keyless context: parameters and encoder only.
// Evaluation requires SetKeys once the client's keys arrive.
func NewServerContext(meta EncryptionParameters) (*HeContext, error) {
	if err := meta.validateFields(); err != nil {
		return nil, err
	}
	params, err := hefloat.NewParametersFromLiteral(meta.literal())
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrInvalidParameters, err)
	}
	if meta.Scale == 0 {
		meta.Scale = chooseScale(append(params.Q(), params.P()...))
	}
	return &HeContext{
		Meta:    meta,
		Params:  params,
		Encoder: hefloat.NewEncoder(params),
	}, nil
}

// SetKeys installs the public and relinearization keys received from the
// key holder and builds the encryptor and evaluator around them.
func (h *HeContext) SetKeys(pk *rlwe.PublicKey, rlk *rlwe.RelinearizationKey) {
	h.Pk = pk
	h.Rlk = rlk
	h.attachKeys()
}

func (h *HeContext) attachKeys() {
	if h.Pk != nil {
		h.Encryptor = rlwe.NewEncryptor(h.Params, h.Pk)
	}
	if h.Rlk != nil {
		h.Evaluator = hefloat.NewEvaluator(h.Params, rlwe.NewMemEvaluationKeySet(h.Rlk))
	} else {
		h.Evaluator = hefloat.NewEvaluator(h.Params, nil)
	}
}

// ShallowCopy returns a context sharing keys and parameters but with
// fresh evaluator/encoder/encryptor buffers, for use by one goroutine.
func (h *HeContext) ShallowCopy() *HeContext {
	cp := *h
	cp.Encoder = h.Encoder.ShallowCopy()
	if h.Evaluator != nil {
		cp.Evaluator = h.Evaluator.ShallowCopy()
	}
	if h.Encryptor != nil {
		cp.Encryptor = h.Encryptor.ShallowCopy()
	}
	if h.Decryptor != nil {
		cp.Decryptor = h.Decryptor.ShallowCopy()
	}
	return &cp
}

// SlotCount returns the number of complex SIMD slots per plaintext.
func (h *HeContext) SlotCount() int {
	return h.Params.MaxSlots()
}

// BatchCapacity returns the number of real values one plaintext can carry,
// doubled under complex packing.
func (h *HeContext) BatchCapacity() int {
	if h.Meta.ComplexPacking {
		return 2 * h.Params.MaxSlots()
	}
	return h.Params.MaxSlots()
}

// ChainIndex returns the ciphertext's position in the modulus chain.
func ChainIndex(ct *rlwe.Ciphertext) int {
	return ct.Level()
}

// Encode encodes a batch of reals at the given level and scale. Under
// complex packing, consecutive pairs fold into one complex slot.
func (h *HeContext) Encode(values []float64, level int, scale rlwe.Scale) (*rlwe.Plaintext, error) {
	if level < 0 || level > h.Params.MaxLevel() {
		return nil, fmt.Errorf("%w: encode at level %d of %d", ErrChainExhausted, level, h.Params.MaxLevel())
	}
	pt := hefloat.NewPlaintext(h.Params, level)
	pt.Scale = scale
	var err error
	if h.Meta.ComplexPacking {
		err = h.Encoder.Encode(foldComplex(values), pt)
	} else {
		err = h.Encoder.Encode(values, pt)
	}
	if err != nil {
		return nil, err
	}
	return pt, nil
}

// Decode decodes the first n reals from a plaintext, unfolding complex
// slots back into consecutive pairs when complex packing is on.
func (h *HeContext) Decode(pt *rlwe.Plaintext, n int) ([]float64, error) {
	if h.Meta.ComplexPacking {
		folded := make([]complex128, h.Params.MaxSlots())
		if err := h.Encoder.Decode(pt, folded); err != nil {
			return nil, err
		}
		return unfoldComplex(folded, n), nil
	}
	values := make([]float64, h.Params.MaxSlots())
	if err := h.Encoder.Decode(pt, values); err != nil {
		return nil, err
	}
	if n < len(values) {
		values = values[:n]
	}
	return values, nil
}

// Encrypt encrypts an encoded plaintext.
func (h *HeContext) Encrypt(pt *rlwe.Plaintext) (*rlwe.Ciphertext, error) {
	if h.Encryptor == nil {
		return nil, fmt.Errorf("no public key loaded")
	}
	return h.Encryptor.EncryptNew(pt)
}

// EncryptValues encodes and encrypts a batch of reals at top level with the
// context's default scale.
func (h *HeContext) EncryptValues(values []float64) (*rlwe.Ciphertext, error) {
	pt, err := h.Encode(values, h.Params.MaxLevel(), rlwe.NewScale(h.Meta.Scale))
	if err != nil {
		return nil, err
	}
	return h.Encrypt(pt)
}

// Decrypt decrypts a ciphertext. Key holder only.
func (h *HeContext) Decrypt(ct *rlwe.Ciphertext) (*rlwe.Plaintext, error) {
	if h.Decryptor == nil {
		return nil, fmt.Errorf("no secret key in this context")
	}
	return h.Decryptor.DecryptNew(ct), nil
}

// DecryptValues decrypts and decodes the first n reals of a ciphertext.
func (h *HeContext) DecryptValues(ct *rlwe.Ciphertext, n int) ([]float64, error) {
	pt, err := h.Decrypt(ct)
	if err != nil {
		return nil, err
	}
	return h.Decode(pt, n)
}

// DropToLevel mod-switches a ciphertext down to the target chain index.
func (h *HeContext) DropToLevel(ct *rlwe.Ciphertext, level int) error {
	if level < 0 {
		return fmt.Errorf("%w: target level %d", ErrChainExhausted, level)
	}
	if ct.Level() < level {
		return fmt.Errorf("%w: ciphertext at level %d cannot reach %d", ErrChainExhausted, ct.Level(), level)
	}
	if ct.Level() > level {
		h.Evaluator.DropLevel(ct, ct.Level()-level)
	}
	return nil
}

func foldComplex(values []float64) []complex128 {
	folded := make([]complex128, (len(values)+1)/2)
	for j := range folded {
		re := values[2*j]
		im := 0.0
		if 2*j+1 < len(values) {
			im = values[2*j+1]
		}
		folded[j] = complex(re, im)
	}
	return folded
}

func unfoldComplex(folded []complex128, n int) []float64 {
	values := make([]float64, 0, n)
	for _, c := range folded {
		values = append(values, real(c))
		if len(values) == n {
			break
		}
		values = append(values, imag(c))
		if len(values) == n {
			break
		}
	}
	return values
}
