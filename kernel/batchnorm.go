package kernel

import (
	"fmt"
	"math"

	"hegraph/graph"
	"hegraph/tensor"
)

// BatchNormKernel applies inference-mode batch normalization. The
// statistics fold into one plaintext scale and shift per channel, so each
// slot costs one plaintext multiply and one addition.
func BatchNormKernel(e *Env, n *graph.Node, inputs []*tensor.HETensor, out *tensor.HETensor) error {
	if len(inputs) != 5 {
		return fmt.Errorf("%w: BatchNormInference wants 5 inputs, got %d", tensor.ErrShapeMismatch, len(inputs))
	}
	gamma, beta, in, mean, variance := inputs[0], inputs[1], inputs[2], inputs[3], inputs[4]

	stats := make([][]float64, 4)
	for i, t := range []*tensor.HETensor{gamma, beta, mean, variance} {
		if t.AnyEncrypted() {
			return fmt.Errorf("%w: BatchNormInference statistics must be plaintext", tensor.ErrUnsupportedType)
		}
		v, err := t.ReadValues()
		if err != nil {
			return err
		}
		stats[i] = v
	}
	cAxis := 1
	if in.Packed() {
		cAxis = 0
	}
	is := slotShape(in)
	if cAxis >= len(is) {
		return fmt.Errorf("%w: BatchNormInference input %v has no channel axis", tensor.ErrShapeMismatch, is)
	}
	channels := is[cAxis]
	for i, v := range stats {
		if len(v) != channels {
			return fmt.Errorf("%w: BatchNormInference statistic %d has %d values for %d channels", tensor.ErrShapeMismatch, i, len(v), channels)
		}
	}
	if len(out.Slots) != len(in.Slots) {
		return fmt.Errorf("%w: BatchNormInference over %d/%d slots", tensor.ErrShapeMismatch, len(in.Slots), len(out.Slots))
	}

	scale := make([]float64, channels)
	shift := make([]float64, channels)
	for c := 0; c < channels; c++ {
		scale[c] = stats[0][c] / math.Sqrt(stats[3][c]+n.Attrs.Eps)
		shift[c] = stats[1][c] - stats[2][c]*scale[c]
	}

	batch := out.BatchSize()
	return e.parallelFor(len(out.Slots), func(e *Env, idx int) error {
		ic := make([]int, len(is))
		coordOf(idx, is, ic)
		c := ic[cAxis]
		s, err := mulSlot(e, in.Slots[idx], tensor.NewPlain(tensor.PlainVector{scale[c]}, out.ComplexPacking()), batch)
		if err != nil {
			return fmt.Errorf("BatchNormInference slot %d: %w", idx, err)
		}
		s, err = addSlot(e, s, tensor.NewPlain(tensor.PlainVector{shift[c]}, out.ComplexPacking()), batch)
		if err != nil {
			return fmt.Errorf("BatchNormInference slot %d: %w", idx, err)
		}
		out.Slots[idx] = s
		return nil
	})
}
