package kernel

import (
	"fmt"
	"math"

	"hegraph/graph"
	"hegraph/tensor"

	"github.com/tuneinsight/lattigo/v5/core/rlwe"
)

// poolGeometry resolves the shared sliding-window layout of the pooling
// kernels: leading pass-through axes followed by pooled spatial axes.
func poolGeometry(n *graph.Node, in, out *tensor.HETensor) (is, os []int, lead int, w window, err error) {
	is, os = slotShape(in), slotShape(out)
	spatial := len(n.Attrs.WindowShape)
	lead = len(is) - spatial
	if spatial == 0 || lead < 0 || len(os) != len(is) {
		return nil, nil, 0, window{}, fmt.Errorf("%w: %s window %v over %v", tensor.ErrShapeMismatch, n.Op, n.Attrs.WindowShape, is)
	}
	w = windowOf(n.Attrs, spatial)
	w.shape = n.Attrs.WindowShape
	return is, os, lead, w, nil
}

// windowSlots gathers the input slot indices one output cell reads.
func windowSlots(is, oc []int, lead int, w window, iStr []int) []int {
	spatial := len(w.shape)
	ic := make([]int, len(is))
	copy(ic, oc[:lead])
	win := make([]int, spatial)
	var idxs []int
	for {
		ok := true
		for d := 0; d < spatial; d++ {
			in, valid := w.source(is[lead+d], d, oc[lead+d], win[d])
			if !valid {
				ok = false
				break
			}
			ic[lead+d] = in
		}
		if ok {
			idxs = append(idxs, flatIndex(ic, iStr))
		}
		if !nextCoord(win, w.shape) {
			break
		}
	}
	return idxs
}

// AvgPoolKernel averages each window. The divisor counts every window cell
// when padding is included, otherwise only the cells inside the data.
func AvgPoolKernel(e *Env, n *graph.Node, inputs []*tensor.HETensor, out *tensor.HETensor) error {
	if len(inputs) != 1 {
		return fmt.Errorf("%w: AvgPool wants 1 input, got %d", tensor.ErrShapeMismatch, len(inputs))
	}
	in := inputs[0]
	is, os, lead, w, err := poolGeometry(n, in, out)
	if err != nil {
		return err
	}
	iStr := rowStrides(is)
	winSize := tensor.ShapeSize(w.shape)

	return e.parallelFor(len(out.Slots), func(e *Env, idx int) error {
		oc := make([]int, len(os))
		coordOf(idx, os, oc)
		idxs := windowSlots(is, oc, lead, w, iStr)

		div := len(idxs)
		if n.Attrs.IncludePadding {
			div = winSize
		}
		if div == 0 {
			return fmt.Errorf("AvgPool slot %d: empty window", idx)
		}
		acc := newSlotAccum(e, out.BatchSize(), out.ComplexPacking())
		for _, k := range idxs {
			if err := acc.add(in.Slots[k]); err != nil {
				return fmt.Errorf("AvgPool slot %d: %w", idx, err)
			}
		}
		sum, err := acc.finish()
		if err != nil {
			return fmt.Errorf("AvgPool slot %d: %w", idx, err)
		}
		s, err := mulSlot(e, sum, tensor.NewPlain(tensor.PlainVector{1 / float64(div)}, out.ComplexPacking()), out.BatchSize())
		if err != nil {
			return fmt.Errorf("AvgPool slot %d: %w", idx, err)
		}
		out.Slots[idx] = s
		return nil
	})
}

// MaxPoolKernel maximizes each window. An all-plaintext input reduces
// locally. Once any slot is encrypted, every window (plaintext members
// encrypted first) goes to the offloader as a per-cell maximize list, or
// round-trips through the secret key when no offloader is wired.
func MaxPoolKernel(e *Env, n *graph.Node, inputs []*tensor.HETensor, out *tensor.HETensor) error {
	if len(inputs) != 1 {
		return fmt.Errorf("%w: MaxPool wants 1 input, got %d", tensor.ErrShapeMismatch, len(inputs))
	}
	in := inputs[0]
	is, os, lead, w, err := poolGeometry(n, in, out)
	if err != nil {
		return err
	}
	iStr := rowStrides(is)
	batch := out.BatchSize()

	windows := make([][]int, len(out.Slots))
	oc := make([]int, len(os))
	for idx := range out.Slots {
		coordOf(idx, os, oc)
		windows[idx] = windowSlots(is, oc, lead, w, iStr)
		if len(windows[idx]) == 0 {
			return fmt.Errorf("MaxPool slot %d: empty window", idx)
		}
	}

	if !in.AnyEncrypted() {
		for idx, idxs := range windows {
			best := in.Slots[idxs[0]].Plain().Clone()
			for _, k := range idxs[1:] {
				best = combinePlain(best, in.Slots[k].Plain(), math.Max)
			}
			out.Slots[idx] = tensor.NewPlain(best, out.ComplexPacking())
		}
		return nil
	}

	if e.Offloader != nil {
		lists := make([][]*rlwe.Ciphertext, len(windows))
		for idx, idxs := range windows {
			lists[idx] = make([]*rlwe.Ciphertext, len(idxs))
			for i, k := range idxs {
				s := in.Slots[k]
				if s.IsCipher() {
					lists[idx][i] = s.Cipher()
					continue
				}
				ct, err := e.H.EncryptValues(expandPlain(s.Plain(), batch))
				if err != nil {
					return fmt.Errorf("MaxPool slot %d: %w", idx, err)
				}
				lists[idx][i] = ct
			}
		}
		maxed, err := e.Offloader.OffloadMaxPool(lists)
		if err != nil {
			return err
		}
		if len(maxed) != len(out.Slots) {
			return fmt.Errorf("%w: MaxPool offload returned %d of %d cells", tensor.ErrShapeMismatch, len(maxed), len(out.Slots))
		}
		for idx, ct := range maxed {
			out.Slots[idx] = tensor.NewCipher(ct, out.ComplexPacking())
		}
		return nil
	}

	return e.parallelFor(len(out.Slots), func(e *Env, idx int) error {
		idxs := windows[idx]
		best, err := e.hostValues("MaxPool", in.Slots[idxs[0]], batch)
		if err != nil {
			return err
		}
		for _, k := range idxs[1:] {
			v, err := e.hostValues("MaxPool", in.Slots[k], batch)
			if err != nil {
				return err
			}
			best = combinePlain(best, v, math.Max)
		}
		ct, err := e.H.EncryptValues(best)
		if err != nil {
			return err
		}
		out.Slots[idx] = tensor.NewCipher(ct, out.ComplexPacking())
		return nil
	})
}
