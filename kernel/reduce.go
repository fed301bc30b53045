package kernel

import (
	"fmt"
	"math"

	"hegraph/graph"
	"hegraph/tensor"
)

// reduction precomputes the axis split of a reduce kernel: kept axes index
// the output, reduced axes span the per-cell walk.
type reduction struct {
	is       []int
	iStr     []int
	keep     []int
	redAxes  []int
	redShape []int
	outShape []int
}

func newReduction(is []int, axes []int) (reduction, error) {
	r := reduction{is: is}
	reduced := make([]bool, len(is))
	for _, a := range axes {
		if a < 0 || a >= len(is) {
			return reduction{}, fmt.Errorf("%w: axis %d of %v", tensor.ErrShapeMismatch, a, is)
		}
		reduced[a] = true
	}
	for d := range is {
		if reduced[d] {
			r.redAxes = append(r.redAxes, d)
			r.redShape = append(r.redShape, is[d])
		} else {
			r.keep = append(r.keep, d)
			r.outShape = append(r.outShape, is[d])
		}
	}
	r.iStr = rowStrides(is)
	return r, nil
}

func reduceGeometry(n *graph.Node, in, out *tensor.HETensor) (reduction, error) {
	axes, err := slotAxes(n.Attrs.Axes, in.Packed())
	if err != nil {
		return reduction{}, fmt.Errorf("%s: %w", n.Op, err)
	}
	r, err := newReduction(slotShape(in), axes)
	if err != nil {
		return reduction{}, fmt.Errorf("%s: %w", n.Op, err)
	}
	if len(out.Slots) != tensor.ShapeSize(r.outShape) {
		return reduction{}, fmt.Errorf("%w: %s output %d slots, expected %d", tensor.ErrShapeMismatch, n.Op, len(out.Slots), tensor.ShapeSize(r.outShape))
	}
	return r, nil
}

// forEach visits every input slot folded into output cell idx.
func (r reduction) forEach(idx int, visit func(slotIdx int) error) error {
	oc := make([]int, len(r.outShape))
	coordOf(idx, r.outShape, oc)
	ic := make([]int, len(r.is))
	for i, d := range r.keep {
		ic[d] = oc[i]
	}
	rc := make([]int, len(r.redShape))
	for {
		for i, d := range r.redAxes {
			ic[d] = rc[i]
		}
		if err := visit(flatIndex(ic, r.iStr)); err != nil {
			return err
		}
		if !nextCoord(rc, r.redShape) {
			return nil
		}
	}
}

// SumKernel adds every input slot along the reduction axes into its output
// cell.
func SumKernel(e *Env, n *graph.Node, inputs []*tensor.HETensor, out *tensor.HETensor) error {
	if len(inputs) != 1 {
		return fmt.Errorf("%w: Sum wants 1 input, got %d", tensor.ErrShapeMismatch, len(inputs))
	}
	in := inputs[0]
	r, err := reduceGeometry(n, in, out)
	if err != nil {
		return err
	}
	return e.parallelFor(len(out.Slots), func(e *Env, idx int) error {
		acc := newSlotAccum(e, out.BatchSize(), out.ComplexPacking())
		if err := r.forEach(idx, func(k int) error {
			return acc.add(in.Slots[k])
		}); err != nil {
			return fmt.Errorf("Sum slot %d: %w", idx, err)
		}
		s, err := acc.finish()
		if err != nil {
			return fmt.Errorf("Sum slot %d: %w", idx, err)
		}
		out.Slots[idx] = s
		return nil
	})
}

// MaxKernel reduces with elementwise max. Comparisons have no homomorphic
// circuit here, so encrypted cells round-trip through the host.
func MaxKernel(e *Env, n *graph.Node, inputs []*tensor.HETensor, out *tensor.HETensor) error {
	if len(inputs) != 1 {
		return fmt.Errorf("%w: Max wants 1 input, got %d", tensor.ErrShapeMismatch, len(inputs))
	}
	in := inputs[0]
	r, err := reduceGeometry(n, in, out)
	if err != nil {
		return err
	}
	batch := out.BatchSize()
	return e.parallelFor(len(out.Slots), func(e *Env, idx int) error {
		encrypted := false
		if err := r.forEach(idx, func(k int) error {
			if in.Slots[k].IsCipher() {
				encrypted = true
			}
			return nil
		}); err != nil {
			return err
		}

		var best tensor.PlainVector
		if err := r.forEach(idx, func(k int) error {
			v, err := e.hostValues("Max", in.Slots[k], batch)
			if err != nil {
				return err
			}
			if best == nil {
				best = append(tensor.PlainVector(nil), v...)
				return nil
			}
			best = combinePlain(best, v, math.Max)
			return nil
		}); err != nil {
			return fmt.Errorf("Max slot %d: %w", idx, err)
		}
		if best == nil {
			best = tensor.PlainVector{math.Inf(-1)}
		}
		if !encrypted {
			out.Slots[idx] = tensor.NewPlain(best, out.ComplexPacking())
			return nil
		}
		ct, err := e.H.EncryptValues(best)
		if err != nil {
			return fmt.Errorf("Max slot %d: %w", idx, err)
		}
		out.Slots[idx] = tensor.NewCipher(ct, out.ComplexPacking())
		return nil
	})
}
