package ckkswrapper

import (
	"fmt"
	"math"
	"math/bits"

	"hegraph/utils"

	"github.com/tuneinsight/lattigo/v5/core/rlwe"
)

// LazyAdd adds b's coefficient limbs into a without modular reduction.
// Both operands must sit at the same chain index with equal degree; the
// caller is responsible for matching them first. A consuming ModReduce,
// multiply or rescale restores canonical form.
func LazyAdd(a, b *rlwe.Ciphertext) error {
	if a.Level() != b.Level() {
		return fmt.Errorf("lazy add across levels %d and %d", a.Level(), b.Level())
	}
	if a.Degree() != b.Degree() {
		return fmt.Errorf("lazy add across degrees %d and %d", a.Degree(), b.Degree())
	}
	limbs := a.Level() + 1
	for i := range a.Value {
		for j := 0; j < limbs; j++ {
			pa := a.Value[i].Coeffs[j]
			pb := b.Value[i].Coeffs[j]
			for k := range pa {
				pa[k] += pb[k]
			}
		}
	}
	return nil
}

// ModReduce restores the canonical residue form of a ciphertext whose
// limbs were accumulated lazily.
func (h *HeContext) ModReduce(ct *rlwe.Ciphertext) {
	r := h.Params.RingQ().AtLevel(ct.Level())
	for i := range ct.Value {
		r.Reduce(ct.Value[i], ct.Value[i])
	}
}

// LazyAddBudget returns the number of lazy accumulations that fit in the
// 64-bit headroom above the widest chain prime.
func (h *HeContext) LazyAddBudget() int {
	maxBits := 0
	for _, q := range h.Params.Q() {
		if n := bits.Len64(q); n > maxBits {
			maxBits = n
		}
	}
	headroom := 64 - maxBits
	if headroom >= 31 {
		return math.MaxInt32
	}
	return 1 << headroom
}

// LazyAccumulator folds ciphertexts into a running sum with deferred
// modular reduction, reducing only when the headroom budget is spent.
type LazyAccumulator struct {
	h       *HeContext
	sum     *rlwe.Ciphertext
	pending int
	budget  int
}

// NewLazyAccumulator starts an accumulation owning ct as the running sum.
func (h *HeContext) NewLazyAccumulator(ct *rlwe.Ciphertext) *LazyAccumulator {
	return &LazyAccumulator{h: h, sum: ct, budget: h.LazyAddBudget()}
}

// Add folds one ciphertext into the sum. Past the safe bound the sum is
// force-reduced and the overflow is logged as recovered.
func (acc *LazyAccumulator) Add(ct *rlwe.Ciphertext) error {
	if acc.pending+1 >= acc.budget {
		utils.Logf(0, "OverflowWarning: lazy accumulation bound %d reached, forcing reduction", acc.budget)
		acc.h.ModReduce(acc.sum)
		acc.pending = 0
	}
	if err := LazyAdd(acc.sum, ct); err != nil {
		return err
	}
	acc.pending++
	return nil
}

// Finish reduces the sum to canonical form and returns it.
func (acc *LazyAccumulator) Finish() *rlwe.Ciphertext {
	if acc.pending > 0 {
		acc.h.ModReduce(acc.sum)
		acc.pending = 0
	}
	return acc.sum
}
