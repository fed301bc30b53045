// Package graph models the static computation graph the executor runs:
// a closed operator set, topologically ordered nodes with liveness free
// lists, and the representation annotations flowed from parameters.
package graph

import (
	"errors"
	"fmt"
)

// ErrUnsupportedOp reports an operator id outside the supported set.
// Surfaced at compile, before any kernel runs.
var ErrUnsupportedOp = errors.New("unsupported operation")

// Op identifies one supported graph operation.
type Op uint8

const (
	Add Op = iota
	AvgPool
	BatchNormInference
	BoundedRelu
	Broadcast
	Concat
	Constant
	Convolution
	Divide
	Dot
	Exp
	Max
	MaxPool
	Minimum
	Multiply
	Negative
	Pad
	Parameter
	Power
	Relu
	Reshape
	Result
	Reverse
	Slice
	Softmax
	Subtract
	Sum

	opCount
)

var opNames = [opCount]string{
	Add:                "Add",
	AvgPool:            "AvgPool",
	BatchNormInference: "BatchNormInference",
	BoundedRelu:        "BoundedRelu",
	Broadcast:          "Broadcast",
	Concat:             "Concat",
	Constant:           "Constant",
	Convolution:        "Convolution",
	Divide:             "Divide",
	Dot:                "Dot",
	Exp:                "Exp",
	Max:                "Max",
	MaxPool:            "MaxPool",
	Minimum:            "Minimum",
	Multiply:           "Multiply",
	Negative:           "Negative",
	Pad:                "Pad",
	Parameter:          "Parameter",
	Power:              "Power",
	Relu:               "Relu",
	Reshape:            "Reshape",
	Result:             "Result",
	Reverse:            "Reverse",
	Slice:              "Slice",
	Softmax:            "Softmax",
	Subtract:           "Subtract",
	Sum:                "Sum",
}

var opsByName = func() map[string]Op {
	m := make(map[string]Op, opCount)
	for op, name := range opNames {
		m[name] = Op(op)
	}
	return m
}()

// String returns the operator name.
func (op Op) String() string {
	if op < opCount {
		return opNames[op]
	}
	return fmt.Sprintf("Op(%d)", uint8(op))
}

// ParseOp maps an operator name onto the closed set.
func ParseOp(name string) (Op, error) {
	if op, ok := opsByName[name]; ok {
		return op, nil
	}
	return 0, fmt.Errorf("%w: %q", ErrUnsupportedOp, name)
}

// MarshalText implements encoding.TextMarshaler for JSON graph descriptors.
func (op Op) MarshalText() ([]byte, error) {
	if op >= opCount {
		return nil, fmt.Errorf("%w: Op(%d)", ErrUnsupportedOp, uint8(op))
	}
	return []byte(op.String()), nil
}

// UnmarshalText implements encoding.TextUnmarshaler.
func (op *Op) UnmarshalText(text []byte) error {
	parsed, err := ParseOp(string(text))
	if err != nil {
		return err
	}
	*op = parsed
	return nil
}
