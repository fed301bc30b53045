package graph

import (
	"encoding/json"
	"fmt"

	"hegraph/tensor"
)

// Attrs carries the per-operation parameters. Only the fields relevant to
// a node's op are populated.
type Attrs struct {
	WindowShape    []int `json:"window_shape,omitempty"`
	WindowStrides  []int `json:"window_strides,omitempty"`
	WindowDilation []int `json:"window_dilation,omitempty"`
	DataDilation   []int `json:"data_dilation,omitempty"`
	PaddingBelow   []int `json:"padding_below,omitempty"`
	PaddingAbove   []int `json:"padding_above,omitempty"`

	// AvgPool: whether padded cells count toward the divisor.
	IncludePadding bool `json:"include_padding,omitempty"`

	// Dot: number of trailing/leading axes contracted.
	ReductionAxesCount int `json:"reduction_axes_count,omitempty"`

	// Sum, Softmax, Reverse, Broadcast.
	Axes []int `json:"axes,omitempty"`

	// Concat.
	Axis int `json:"axis,omitempty"`

	// BatchNormInference.
	Eps float64 `json:"eps,omitempty"`

	// BoundedRelu clamp bound.
	Alpha float64 `json:"alpha,omitempty"`

	// Pad: "constant" or "edge".
	PadMode string `json:"pad_mode,omitempty"`

	// Reshape input axis order.
	InputOrder []int `json:"input_order,omitempty"`

	// Slice.
	LowerBounds []int `json:"lower_bounds,omitempty"`
	UpperBounds []int `json:"upper_bounds,omitempty"`
	Strides     []int `json:"strides,omitempty"`

	// Constant payload, row-major over the output shape.
	Values []float64 `json:"values,omitempty"`
}

// Node is one operation in a compiled function. Each node produces one
// output tensor named by Output.
type Node struct {
	ID          int      `json:"id"`
	Op          Op       `json:"op"`
	Inputs      []string `json:"inputs,omitempty"`
	Output      string   `json:"output"`
	OutputShape []int    `json:"output_shape,omitempty"`
	Attrs       Attrs    `json:"attrs,omitempty"`

	// FreeList names tensors no later node reads; the executor drops
	// them from the slot map after this node completes.
	FreeList []string `json:"free_list,omitempty"`
}

// Function is a compiled graph: nodes in topological order, with the
// parameter and result tensor names called out.
type Function struct {
	Name       string   `json:"name"`
	ElemType   string   `json:"element_type"`
	Parameters []string `json:"parameters"`
	Results    []string `json:"results"`
	Nodes      []Node   `json:"nodes"`

	// ParameterShapes records the logical shape of each parameter tensor;
	// the inference-shape request is built from it.
	ParameterShapes map[string][]int `json:"parameter_shapes,omitempty"`
}

// ParseFunction decodes a JSON function descriptor and validates it.
func ParseFunction(data []byte) (*Function, error) {
	f := new(Function)
	if err := json.Unmarshal(data, f); err != nil {
		return nil, err
	}
	if err := f.Validate(); err != nil {
		return nil, err
	}
	return f, nil
}

// JSON encodes the function through the plain struct encoding.
func (f *Function) JSON() ([]byte, error) {
	return json.Marshal(f)
}

// Validate performs the compile-time checks: operator ids inside the
// closed set, a supported element type, topological input availability,
// and liveness safety.
func (f *Function) Validate() error {
	if f.ElemType != "" {
		if _, err := tensor.ParseElemType(f.ElemType); err != nil {
			return err
		}
	}
	available := make(map[string]bool, len(f.Parameters)+len(f.Nodes))
	for _, p := range f.Parameters {
		available[p] = true
	}
	freed := make(map[string]int)
	for i, n := range f.Nodes {
		if n.Op >= opCount {
			return fmt.Errorf("%w: node %d", ErrUnsupportedOp, n.ID)
		}
		for _, in := range n.Inputs {
			if !available[in] {
				return fmt.Errorf("node %d (%s) reads %q before it is produced", n.ID, n.Op, in)
			}
			if at, ok := freed[in]; ok {
				return fmt.Errorf("node %d (%s) reads %q freed after node index %d", n.ID, n.Op, in, at)
			}
		}
		if n.Output == "" {
			return fmt.Errorf("node %d (%s) has no output tensor", n.ID, n.Op)
		}
		available[n.Output] = true
		for _, dead := range n.FreeList {
			freed[dead] = i
		}
	}
	for _, r := range f.Results {
		if !available[r] {
			return fmt.Errorf("result %q is never produced", r)
		}
	}
	return nil
}

// NodeByOutput returns the node producing the named tensor, or nil for
// parameters.
func (f *Function) NodeByOutput(name string) *Node {
	for i := range f.Nodes {
		if f.Nodes[i].Output == name {
			return &f.Nodes[i]
		}
	}
	return nil
}
