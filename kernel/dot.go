package kernel

import (
	"fmt"

	"hegraph/graph"
	"hegraph/tensor"
)

// DotKernel contracts the trailing reduction axes of the first input
// against the leading axes of the second. Row-major layout makes both
// operand indices affine in the outer and reduction counters, so no
// coordinate walk is needed.
func DotKernel(e *Env, n *graph.Node, inputs []*tensor.HETensor, out *tensor.HETensor) error {
	if len(inputs) != 2 {
		return fmt.Errorf("%w: Dot wants 2 inputs, got %d", tensor.ErrShapeMismatch, len(inputs))
	}
	a, b := inputs[0], inputs[1]
	as, bs := slotShape(a), slotShape(b)
	r := n.Attrs.ReductionAxesCount
	if r > len(as) || r > len(bs) {
		return fmt.Errorf("%w: Dot contracting %d axes of %v and %v", tensor.ErrShapeMismatch, r, as, bs)
	}
	red := as[len(as)-r:]
	if !equalShape(red, bs[:r]) {
		return fmt.Errorf("%w: Dot reduction axes %v vs %v", tensor.ErrShapeMismatch, red, bs[:r])
	}
	redSize := tensor.ShapeSize(red)
	bOuter := tensor.ShapeSize(bs[r:])
	aOuter := tensor.ShapeSize(as[:len(as)-r])
	if len(out.Slots) != aOuter*bOuter {
		return fmt.Errorf("%w: Dot output %d slots, expected %d", tensor.ErrShapeMismatch, len(out.Slots), aOuter*bOuter)
	}
	return e.parallelFor(len(out.Slots), func(e *Env, idx int) error {
		i, j := idx/bOuter, idx%bOuter
		acc := newSlotAccum(e, out.BatchSize(), out.ComplexPacking())
		for k := 0; k < redSize; k++ {
			p, err := rawMulSlot(e, a.Slots[i*redSize+k], b.Slots[k*bOuter+j], out.BatchSize())
			if err != nil {
				return fmt.Errorf("Dot slot %d term %d: %w", idx, k, err)
			}
			if err := acc.add(p); err != nil {
				return err
			}
		}
		s, err := acc.finish()
		if err != nil {
			return fmt.Errorf("Dot slot %d: %w", idx, err)
		}
		out.Slots[idx] = s
		return nil
	})
}
