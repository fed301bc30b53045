package ckkswrapper

import (
	"fmt"
	"math"

	"github.com/tuneinsight/lattigo/v5/core/rlwe"
)

// scaleDriftEps bounds the log2 drift treated as floating-point noise
// rather than a genuine scale mismatch.
const scaleDriftEps = 1e-6

// snapEps bounds how far a rescaled scale may sit from the nominal scale
// and still be snapped back to it.
const snapEps = 0.1

// MatchModulusAndScale aligns two ciphertexts for addition: mod-switches
// the higher operand down to the lower chain index, snaps infinitesimal
// scale drift, and rescales one step when the scales differ by a chain
// prime (to within snapEps in log2). Anything else is a scale mismatch.
func (h *HeContext) MatchModulusAndScale(a, b *rlwe.Ciphertext) error {
	if err := h.matchLevel(a, b); err != nil {
		return err
	}

	la := math.Log2(a.Scale.Float64())
	lb := math.Log2(b.Scale.Float64())
	if la == lb {
		return nil
	}
	if math.Abs(la-lb) < scaleDriftEps {
		a.Scale = b.Scale
		return nil
	}

	// A one-prime gap means the larger operand missed a rescale.
	hi, lo := a, b
	if lb > la {
		hi, lo = b, a
	}
	gap := math.Abs(la - lb)
	for _, q := range h.Params.Q()[:hi.Level()+1] {
		if math.Abs(gap-math.Log2(float64(q))) < snapEps {
			if err := h.Rescale(hi); err != nil {
				return err
			}
			if err := h.matchLevel(a, b); err != nil {
				return err
			}
			if math.Abs(math.Log2(hi.Scale.Float64())-math.Log2(lo.Scale.Float64())) < snapEps {
				hi.Scale = lo.Scale
			}
			return nil
		}
	}
	return fmt.Errorf("%w: scales 2^%.3f and 2^%.3f differ by neither drift nor a chain prime",
		ErrScaleMismatch, la, lb)
}

func (h *HeContext) matchLevel(a, b *rlwe.Ciphertext) error {
	switch {
	case a.Level() > b.Level():
		return h.DropToLevel(a, b.Level())
	case b.Level() > a.Level():
		return h.DropToLevel(b, a.Level())
	}
	return nil
}

// MatchToSmallestChainIndex mod-switches every ciphertext down to the
// smallest chain index present and returns that index. Returns MaxInt
// when the slice holds no ciphertexts.
func (h *HeContext) MatchToSmallestChainIndex(cts []*rlwe.Ciphertext) (int, error) {
	smallest := math.MaxInt
	for _, ct := range cts {
		if ct != nil && ct.Level() < smallest {
			smallest = ct.Level()
		}
	}
	if smallest == math.MaxInt {
		return smallest, nil
	}
	for _, ct := range cts {
		if ct == nil {
			continue
		}
		if err := h.DropToLevel(ct, smallest); err != nil {
			return smallest, err
		}
	}
	return smallest, nil
}

// Rescale divides the ciphertext by the current chain prime and snaps the
// resulting scale to the nominal encoding scale when within tolerance.
func (h *HeContext) Rescale(ct *rlwe.Ciphertext) error {
	if ct.Level() == 0 {
		return fmt.Errorf("%w: rescale at level 0", ErrChainExhausted)
	}
	if err := h.Evaluator.Rescale(ct, ct); err != nil {
		return err
	}
	nominal := math.Log2(h.Meta.Scale)
	if got := math.Log2(ct.Scale.Float64()); math.Abs(got-nominal) < snapEps {
		ct.Scale = rlwe.NewScale(h.Meta.Scale)
	}
	return nil
}
