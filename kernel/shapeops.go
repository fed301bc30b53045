package kernel

import (
	"fmt"

	"hegraph/graph"
	"hegraph/tensor"
)

// BroadcastKernel replicates the input across the new axes named by the
// node. Output coordinates with the broadcast axes removed index the input.
func BroadcastKernel(e *Env, n *graph.Node, inputs []*tensor.HETensor, out *tensor.HETensor) error {
	if len(inputs) != 1 {
		return fmt.Errorf("%w: Broadcast wants 1 input, got %d", tensor.ErrShapeMismatch, len(inputs))
	}
	in := inputs[0]
	axes, err := slotAxes(n.Attrs.Axes, out.Packed())
	if err != nil {
		return fmt.Errorf("Broadcast: %w", err)
	}
	is, os := slotShape(in), slotShape(out)
	bcast := make([]bool, len(os))
	for _, a := range axes {
		if a < 0 || a >= len(os) {
			return fmt.Errorf("%w: Broadcast axis %d of %v", tensor.ErrShapeMismatch, a, os)
		}
		bcast[a] = true
	}
	var kept []int
	for d := range os {
		if !bcast[d] {
			kept = append(kept, d)
		}
	}
	if len(kept) != len(is) {
		return fmt.Errorf("%w: Broadcast %v into %v over axes %v", tensor.ErrShapeMismatch, is, os, axes)
	}
	iStr := rowStrides(is)

	return e.parallelFor(len(out.Slots), func(e *Env, idx int) error {
		oc := make([]int, len(os))
		coordOf(idx, os, oc)
		ic := make([]int, len(is))
		for i, d := range kept {
			ic[i] = oc[d]
		}
		out.Slots[idx] = in.Slots[flatIndex(ic, iStr)].Clone()
		return nil
	})
}

// ConcatKernel stitches the inputs along one axis by block-copying each
// input's slots at its running offset.
func ConcatKernel(e *Env, n *graph.Node, inputs []*tensor.HETensor, out *tensor.HETensor) error {
	if len(inputs) == 0 {
		return fmt.Errorf("%w: Concat wants at least 1 input", tensor.ErrShapeMismatch)
	}
	axes, err := slotAxes([]int{n.Attrs.Axis}, out.Packed())
	if err != nil {
		return fmt.Errorf("Concat: %w", err)
	}
	axis := axes[0]
	os := slotShape(out)
	if axis < 0 || axis >= len(os) {
		return fmt.Errorf("%w: Concat axis %d of %v", tensor.ErrShapeMismatch, axis, os)
	}
	oStr := rowStrides(os)

	offset := 0
	for _, in := range inputs {
		is := slotShape(in)
		if len(is) != len(os) {
			return fmt.Errorf("%w: Concat input %v into %v", tensor.ErrShapeMismatch, is, os)
		}
		ic := make([]int, len(is))
		for idx := range in.Slots {
			coordOf(idx, is, ic)
			ic[axis] += offset
			out.Slots[flatIndex(ic, oStr)] = in.Slots[idx].Clone()
			ic[axis] -= offset
		}
		offset += is[axis]
	}
	if offset != os[axis] {
		return fmt.Errorf("%w: Concat covers %d of %d along axis %d", tensor.ErrShapeMismatch, offset, os[axis], axis)
	}
	return nil
}

// ReshapeKernel permutes the input axes by the node's input order, then
// reinterprets the permuted layout under the output shape.
func ReshapeKernel(e *Env, n *graph.Node, inputs []*tensor.HETensor, out *tensor.HETensor) error {
	if len(inputs) != 1 {
		return fmt.Errorf("%w: Reshape wants 1 input, got %d", tensor.ErrShapeMismatch, len(inputs))
	}
	in := inputs[0]
	is, os := slotShape(in), slotShape(out)
	if tensor.ShapeSize(is) != tensor.ShapeSize(os) {
		return fmt.Errorf("%w: Reshape %v into %v", tensor.ErrShapeMismatch, is, os)
	}
	order := n.Attrs.InputOrder
	if len(order) == 0 {
		order = make([]int, len(in.Shape()))
		for i := range order {
			order[i] = i
		}
	}
	if len(order) != len(in.Shape()) {
		return fmt.Errorf("%w: Reshape order %v over %v", tensor.ErrShapeMismatch, order, in.Shape())
	}
	if in.Packed() {
		if order[0] != 0 {
			return fmt.Errorf("%w: Reshape cannot move the folded batch axis", tensor.ErrShapeMismatch)
		}
		adj := make([]int, 0, len(order)-1)
		for _, a := range order[1:] {
			adj = append(adj, a-1)
		}
		order = adj
	}

	permShape := make([]int, len(order))
	for i, a := range order {
		permShape[i] = is[a]
	}
	iStr := rowStrides(is)

	return e.parallelFor(len(out.Slots), func(e *Env, idx int) error {
		pc := make([]int, len(permShape))
		coordOf(idx, permShape, pc)
		ic := make([]int, len(is))
		for i, a := range order {
			ic[a] = pc[i]
		}
		out.Slots[idx] = in.Slots[flatIndex(ic, iStr)].Clone()
		return nil
	})
}

// ReverseKernel flips the input along the named axes.
func ReverseKernel(e *Env, n *graph.Node, inputs []*tensor.HETensor, out *tensor.HETensor) error {
	if len(inputs) != 1 {
		return fmt.Errorf("%w: Reverse wants 1 input, got %d", tensor.ErrShapeMismatch, len(inputs))
	}
	in := inputs[0]
	axes, err := slotAxes(n.Attrs.Axes, in.Packed())
	if err != nil {
		return fmt.Errorf("Reverse: %w", err)
	}
	is := slotShape(in)
	flip := make([]bool, len(is))
	for _, a := range axes {
		if a < 0 || a >= len(is) {
			return fmt.Errorf("%w: Reverse axis %d of %v", tensor.ErrShapeMismatch, a, is)
		}
		flip[a] = true
	}
	if len(out.Slots) != len(in.Slots) {
		return fmt.Errorf("%w: Reverse over %d/%d slots", tensor.ErrShapeMismatch, len(in.Slots), len(out.Slots))
	}
	iStr := rowStrides(is)

	return e.parallelFor(len(out.Slots), func(e *Env, idx int) error {
		ic := make([]int, len(is))
		coordOf(idx, is, ic)
		for d := range ic {
			if flip[d] {
				ic[d] = is[d] - 1 - ic[d]
			}
		}
		out.Slots[idx] = in.Slots[flatIndex(ic, iStr)].Clone()
		return nil
	})
}

// SliceKernel extracts the strided hyper-rectangle between the node's
// bounds. The folded batch axis can only be taken whole.
func SliceKernel(e *Env, n *graph.Node, inputs []*tensor.HETensor, out *tensor.HETensor) error {
	if len(inputs) != 1 {
		return fmt.Errorf("%w: Slice wants 1 input, got %d", tensor.ErrShapeMismatch, len(inputs))
	}
	in := inputs[0]
	shape := in.Shape()
	lower, upper, strides := n.Attrs.LowerBounds, n.Attrs.UpperBounds, n.Attrs.Strides
	if len(lower) != len(shape) || len(upper) != len(shape) {
		return fmt.Errorf("%w: Slice bounds %v/%v over %v", tensor.ErrShapeMismatch, lower, upper, shape)
	}
	if len(strides) == 0 {
		strides = make([]int, len(shape))
		for i := range strides {
			strides[i] = 1
		}
	}
	if in.Packed() {
		if lower[0] != 0 || upper[0] != shape[0] || strides[0] != 1 {
			return fmt.Errorf("%w: Slice cannot cut the folded batch axis", tensor.ErrShapeMismatch)
		}
		lower, upper, strides = lower[1:], upper[1:], strides[1:]
	}
	is, os := slotShape(in), slotShape(out)
	iStr := rowStrides(is)

	return e.parallelFor(len(out.Slots), func(e *Env, idx int) error {
		oc := make([]int, len(os))
		coordOf(idx, os, oc)
		ic := make([]int, len(is))
		for d := range ic {
			ic[d] = lower[d] + oc[d]*strides[d]
			if ic[d] >= upper[d] || ic[d] >= is[d] {
				return fmt.Errorf("%w: Slice reads %v outside %v", tensor.ErrShapeMismatch, ic, is)
			}
		}
		out.Slots[idx] = in.Slots[flatIndex(ic, iStr)].Clone()
		return nil
	})
}

// PadKernel grows the input by the node's padding, filling either with the
// scalar pad value or by clamping to the nearest edge.
func PadKernel(e *Env, n *graph.Node, inputs []*tensor.HETensor, out *tensor.HETensor) error {
	if len(inputs) != 2 {
		return fmt.Errorf("%w: Pad wants 2 inputs, got %d", tensor.ErrShapeMismatch, len(inputs))
	}
	in, pad := inputs[0], inputs[1]
	if len(pad.Slots) != 1 {
		return fmt.Errorf("%w: Pad value must be a scalar", tensor.ErrShapeMismatch)
	}
	mode := n.Attrs.PadMode
	if mode == "" {
		mode = "constant"
	}
	if mode != "constant" && mode != "edge" {
		return fmt.Errorf("%w: Pad mode %q", graph.ErrUnsupportedOp, mode)
	}
	below, above := n.Attrs.PaddingBelow, n.Attrs.PaddingAbove
	shape := in.Shape()
	if len(below) != len(shape) || len(above) != len(shape) {
		return fmt.Errorf("%w: Pad %v/%v over %v", tensor.ErrShapeMismatch, below, above, shape)
	}
	if in.Packed() {
		if below[0] != 0 || above[0] != 0 {
			return fmt.Errorf("%w: Pad cannot grow the folded batch axis", tensor.ErrShapeMismatch)
		}
		below = below[1:]
	}
	is, os := slotShape(in), slotShape(out)
	iStr := rowStrides(is)

	return e.parallelFor(len(out.Slots), func(e *Env, idx int) error {
		oc := make([]int, len(os))
		coordOf(idx, os, oc)
		ic := make([]int, len(is))
		inside := true
		for d := range ic {
			ic[d] = oc[d] - below[d]
			if ic[d] < 0 || ic[d] >= is[d] {
				inside = false
				if mode == "edge" {
					if ic[d] < 0 {
						ic[d] = 0
					} else {
						ic[d] = is[d] - 1
					}
				}
			}
		}
		switch {
		case inside || mode == "edge":
			out.Slots[idx] = in.Slots[flatIndex(ic, iStr)].Clone()
		default:
			out.Slots[idx] = pad.Slots[0].Clone()
		}
		return nil
	})
}
