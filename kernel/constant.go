package kernel

import (
	"fmt"

	"hegraph/graph"
	"hegraph/tensor"
)

// ConstantKernel materializes the node's payload into plaintext slots.
// A single value fills the whole output shape.
func ConstantKernel(e *Env, n *graph.Node, inputs []*tensor.HETensor, out *tensor.HETensor) error {
	if len(inputs) != 0 {
		return fmt.Errorf("%w: Constant wants no inputs, got %d", tensor.ErrShapeMismatch, len(inputs))
	}
	values := n.Attrs.Values
	size := tensor.ShapeSize(out.Shape())
	if len(values) == 1 && size > 1 {
		fill := make([]float64, size)
		for i := range fill {
			fill[i] = values[0]
		}
		values = fill
	}
	return out.WriteValues(values)
}

// ResultKernel copies the produced tensor into the result binding.
func ResultKernel(e *Env, n *graph.Node, inputs []*tensor.HETensor, out *tensor.HETensor) error {
	if len(inputs) != 1 {
		return fmt.Errorf("%w: Result wants 1 input, got %d", tensor.ErrShapeMismatch, len(inputs))
	}
	in := inputs[0]
	if len(in.Slots) != len(out.Slots) {
		return fmt.Errorf("%w: Result over %d/%d slots", tensor.ErrShapeMismatch, len(in.Slots), len(out.Slots))
	}
	for i, s := range in.Slots {
		out.Slots[i] = s.Clone()
	}
	return nil
}
