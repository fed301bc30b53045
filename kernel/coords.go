package kernel

import (
	"fmt"

	"hegraph/graph"
	"hegraph/tensor"
)

// slotShape returns the shape the slot axis is indexed by: the logical
// shape with the folded batch axis dropped when the tensor is packed.
func slotShape(t *tensor.HETensor) []int {
	if t.Packed() {
		return tensor.PackShape(t.Shape())
	}
	return t.Shape()
}

// slotAxes remaps logical axis indices onto the slot shape. Referencing
// the folded batch axis of a packed tensor is rejected; the batch lanes
// of one slot cannot be addressed individually.
func slotAxes(axes []int, packed bool) ([]int, error) {
	if !packed {
		return axes, nil
	}
	out := make([]int, 0, len(axes))
	for _, a := range axes {
		if a == 0 {
			return nil, fmt.Errorf("%w: axis 0 is the folded batch axis", tensor.ErrShapeMismatch)
		}
		out = append(out, a-1)
	}
	return out, nil
}

func equalShape(a, b []int) bool {
	if len(a) != len(b) {
		return false
	}
	for i := range a {
		if a[i] != b[i] {
			return false
		}
	}
	return true
}

// rowStrides returns the row-major strides of a shape.
func rowStrides(shape []int) []int {
	strides := make([]int, len(shape))
	acc := 1
	for i := len(shape) - 1; i >= 0; i-- {
		strides[i] = acc
		acc *= shape[i]
	}
	return strides
}

func flatIndex(coord, strides []int) int {
	idx := 0
	for i, c := range coord {
		idx += c * strides[i]
	}
	return idx
}

// coordOf decomposes a flat row-major index into coord, which must be
// pre-sized to len(shape).
func coordOf(idx int, shape, coord []int) {
	for i := len(shape) - 1; i >= 0; i-- {
		if shape[i] == 0 {
			coord[i] = 0
			continue
		}
		coord[i] = idx % shape[i]
		idx /= shape[i]
	}
}

// nextCoord advances coord one step in row-major order, reporting false
// after the last coordinate wraps around.
func nextCoord(coord, shape []int) bool {
	for i := len(shape) - 1; i >= 0; i-- {
		coord[i]++
		if coord[i] < shape[i] {
			return true
		}
		coord[i] = 0
	}
	return false
}

// window carries the resolved sliding-window attributes, one entry per
// spatial dimension with defaults filled in.
type window struct {
	shape        []int
	strides      []int
	dilation     []int
	dataDilation []int
	below        []int
	above        []int
}

func windowOf(attrs graph.Attrs, spatial int) window {
	fill := func(v []int, def int) []int {
		if len(v) == spatial {
			return v
		}
		out := make([]int, spatial)
		for i := range out {
			out[i] = def
		}
		return out
	}
	return window{
		shape:        fill(attrs.WindowShape, 1),
		strides:      fill(attrs.WindowStrides, 1),
		dilation:     fill(attrs.WindowDilation, 1),
		dataDilation: fill(attrs.DataDilation, 1),
		below:        fill(attrs.PaddingBelow, 0),
		above:        fill(attrs.PaddingAbove, 0),
	}
}

// source maps an output spatial coordinate and window offset back onto the
// input spatial coordinate, accounting for stride, window dilation, padding
// and data dilation. ok is false for positions landing in padding or
// between dilated data points.
func (w window) source(dim, d, outPos, winPos int) (int, bool) {
	in := outPos*w.strides[d] + winPos*w.dilation[d] - w.below[d]
	if dd := w.dataDilation[d]; dd > 1 {
		if in%dd != 0 {
			return 0, false
		}
		in /= dd
	}
	if in < 0 || in >= dim {
		return 0, false
	}
	return in, true
}
