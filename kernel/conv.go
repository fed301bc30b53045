package kernel

import (
	"fmt"

	"hegraph/graph"
	"hegraph/tensor"
)

// ConvolutionKernel slides an unpacked filter bank over the data tensor's
// spatial axes. The data layout is channels-first with the batch axis
// either folded into the slots or leading the slot shape.
func ConvolutionKernel(e *Env, n *graph.Node, inputs []*tensor.HETensor, out *tensor.HETensor) error {
	if len(inputs) != 2 {
		return fmt.Errorf("%w: Convolution wants 2 inputs, got %d", tensor.ErrShapeMismatch, len(inputs))
	}
	data, filter := inputs[0], inputs[1]
	if filter.Packed() {
		return fmt.Errorf("%w: Convolution filter must be unpacked", tensor.ErrShapeMismatch)
	}
	ds := slotShape(data)
	os := slotShape(out)
	fs := filter.Shape()
	if len(fs) < 2 {
		return fmt.Errorf("%w: Convolution filter shape %v", tensor.ErrShapeMismatch, fs)
	}
	spatial := len(fs) - 2
	lead := len(ds) - 1 - spatial // 0 when packed, 1 when the batch axis leads
	if lead < 0 || len(os) != len(ds) {
		return fmt.Errorf("%w: Convolution over data %v filter %v output %v", tensor.ErrShapeMismatch, ds, fs, os)
	}
	cin, cout := fs[1], fs[0]
	if ds[lead] != cin || os[lead] != cout {
		return fmt.Errorf("%w: Convolution channels %d/%d vs filter %v", tensor.ErrShapeMismatch, ds[lead], os[lead], fs)
	}
	w := windowOf(n.Attrs, spatial)
	w.shape = fs[2:]
	dStr, fStr := rowStrides(ds), rowStrides(fs)

	return e.parallelFor(len(out.Slots), func(e *Env, idx int) error {
		oc := make([]int, len(os))
		coordOf(idx, os, oc)
		co := oc[lead]
		dc := make([]int, len(ds))
		for i := 0; i < lead; i++ {
			dc[i] = oc[i]
		}
		fc := make([]int, len(fs))
		fc[0] = co
		win := make([]int, spatial)

		acc := newSlotAccum(e, out.BatchSize(), out.ComplexPacking())
		for ci := 0; ci < cin; ci++ {
			dc[lead] = ci
			fc[1] = ci
			for i := range win {
				win[i] = 0
			}
			for {
				ok := true
				for d := 0; d < spatial; d++ {
					in, valid := w.source(ds[lead+1+d], d, oc[lead+1+d], win[d])
					if !valid {
						ok = false
						break
					}
					dc[lead+1+d] = in
				}
				if ok {
					copy(fc[2:], win)
					p, err := rawMulSlot(e, data.Slots[flatIndex(dc, dStr)], filter.Slots[flatIndex(fc, fStr)], out.BatchSize())
					if err != nil {
						return fmt.Errorf("Convolution slot %d: %w", idx, err)
					}
					if err := acc.add(p); err != nil {
						return err
					}
				}
				if !nextCoord(win, w.shape) {
					break
				}
			}
		}
		s, err := acc.finish()
		if err != nil {
			return fmt.Errorf("Convolution slot %d: %w", idx, err)
		}
		out.Slots[idx] = s
		return nil
	})
}
