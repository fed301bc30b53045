package ckkswrapper

import (
	"github.com/tuneinsight/lattigo/v5/core/rlwe"
	"github.com/tuneinsight/lattigo/v5/he/hefloat"
)

// CheatBootstrap refreshes a ciphertext's level by decrypting and
// re-encrypting. Key holder only - the client uses this when answering
// offloaded nonlinear requests, which return fresh top-level ciphertexts.
//
// The refreshed ciphertext carries the maximum level and nominal scale.
func (h *HeContext) CheatBootstrap(ct *rlwe.Ciphertext) (*rlwe.Ciphertext, error) {
	pt, err := h.Decrypt(ct)
	if err != nil {
		return nil, err
	}
	values := make([]complex128, h.Params.MaxSlots())
	if err := h.Encoder.Decode(pt, values); err != nil {
		return nil, err
	}
	newPt := hefloat.NewPlaintext(h.Params, h.Params.MaxLevel())
	newPt.Scale = rlwe.NewScale(h.Meta.Scale)
	if err := h.Encoder.Encode(values, newPt); err != nil {
		return nil, err
	}
	return h.Encrypt(newPt)
}

// NeedsBootstrap returns true if the ciphertext level is at or below the
// threshold. Default threshold is 1 level remaining.
func NeedsBootstrap(ct *rlwe.Ciphertext, threshold int) bool {
	if threshold <= 0 {
		threshold = 1
	}
	return ct.Level() <= threshold
}
