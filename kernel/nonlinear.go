package kernel

import (
	"fmt"
	"math"

	"hegraph/graph"
	"hegraph/tensor"

	"github.com/tuneinsight/lattigo/v5/core/rlwe"
)

func reluOf(attrs graph.Attrs, bounded bool) func(float64) float64 {
	if bounded {
		bound := attrs.Alpha
		return func(x float64) float64 {
			return math.Min(bound, math.Max(0, x))
		}
	}
	return func(x float64) float64 {
		return math.Max(0, x)
	}
}

// ReluKernel rectifies each slot. Plaintext slots compute locally;
// ciphertext slots ship to the offloader in one positional batch, or
// round-trip through the secret key when no offloader is wired.
func ReluKernel(e *Env, n *graph.Node, inputs []*tensor.HETensor, out *tensor.HETensor) error {
	if len(inputs) != 1 {
		return fmt.Errorf("%w: %s wants 1 input, got %d", tensor.ErrShapeMismatch, n.Op, len(inputs))
	}
	in := inputs[0]
	if len(in.Slots) != len(out.Slots) {
		return fmt.Errorf("%w: %s over %d/%d slots", tensor.ErrShapeMismatch, n.Op, len(in.Slots), len(out.Slots))
	}
	f := reluOf(n.Attrs, n.Op == graph.BoundedRelu)

	var cipherIdx []int
	for i, s := range in.Slots {
		if s.IsCipher() {
			cipherIdx = append(cipherIdx, i)
			continue
		}
		v := in.Slots[i].Plain()
		mapped := make(tensor.PlainVector, len(v))
		for j, x := range v {
			mapped[j] = f(x)
		}
		out.Slots[i] = tensor.NewPlain(mapped, out.ComplexPacking())
	}
	if len(cipherIdx) == 0 {
		return nil
	}

	if e.Offloader != nil {
		cts := make([]*rlwe.Ciphertext, len(cipherIdx))
		for i, k := range cipherIdx {
			cts[i] = in.Slots[k].Cipher()
		}
		res, err := e.Offloader.OffloadUnary(n.Op, n.Attrs, cts)
		if err != nil {
			return err
		}
		if len(res) != len(cipherIdx) {
			return fmt.Errorf("%w: %s offload returned %d of %d slots", tensor.ErrShapeMismatch, n.Op, len(res), len(cipherIdx))
		}
		for i, k := range cipherIdx {
			out.Slots[k] = tensor.NewCipher(res[i], out.ComplexPacking())
		}
		return nil
	}

	return e.parallelFor(len(cipherIdx), func(e *Env, i int) error {
		k := cipherIdx[i]
		s, err := e.hostUnary(n.Op.String(), in.Slots[k], out.BatchSize(), f)
		if err != nil {
			return fmt.Errorf("%s slot %d: %w", n.Op, k, err)
		}
		out.Slots[k] = s
		return nil
	})
}

// SoftmaxKernel normalizes along the node's axes per batch lane. The
// exponential has no homomorphic circuit here, so encrypted inputs
// round-trip through the host and come back re-encrypted.
func SoftmaxKernel(e *Env, n *graph.Node, inputs []*tensor.HETensor, out *tensor.HETensor) error {
	if len(inputs) != 1 {
		return fmt.Errorf("%w: Softmax wants 1 input, got %d", tensor.ErrShapeMismatch, len(inputs))
	}
	in := inputs[0]
	if len(in.Slots) != len(out.Slots) {
		return fmt.Errorf("%w: Softmax over %d/%d slots", tensor.ErrShapeMismatch, len(in.Slots), len(out.Slots))
	}
	axes, err := slotAxes(n.Attrs.Axes, in.Packed())
	if err != nil {
		return fmt.Errorf("Softmax: %w", err)
	}
	r, err := newReduction(slotShape(in), axes)
	if err != nil {
		return fmt.Errorf("Softmax: %w", err)
	}
	batch := out.BatchSize()
	encrypted := in.AnyEncrypted()
	cells := tensor.ShapeSize(r.outShape)

	return e.parallelFor(cells, func(e *Env, cell int) error {
		var idxs []int
		if err := r.forEach(cell, func(k int) error {
			idxs = append(idxs, k)
			return nil
		}); err != nil {
			return err
		}
		vals := make([][]float64, len(idxs))
		for i, k := range idxs {
			v, err := e.hostValues("Softmax", in.Slots[k], batch)
			if err != nil {
				return fmt.Errorf("Softmax slot %d: %w", k, err)
			}
			vals[i] = expandPlain(v, batch)
		}
		for l := 0; l < batch; l++ {
			m := math.Inf(-1)
			for _, v := range vals {
				if v[l] > m {
					m = v[l]
				}
			}
			sum := 0.0
			for _, v := range vals {
				v[l] = math.Exp(v[l] - m)
				sum += v[l]
			}
			for _, v := range vals {
				v[l] /= sum
			}
		}
		for i, k := range idxs {
			if !encrypted {
				out.Slots[k] = tensor.NewPlain(vals[i], out.ComplexPacking())
				continue
			}
			ct, err := e.H.EncryptValues(vals[i])
			if err != nil {
				return fmt.Errorf("Softmax slot %d: %w", k, err)
			}
			out.Slots[k] = tensor.NewCipher(ct, out.ComplexPacking())
		}
		return nil
	})
}
