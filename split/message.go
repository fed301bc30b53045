// Package split implements the server-client session: framed messages,
// key and parameter exchange, and the request/response rendezvous for
// offloaded nonlinear operations.
package split

import (
	"encoding/json"
	"errors"
	"fmt"

	"hegraph/tensor"
)

// Session-level error kinds. Callers match with errors.Is.
var (
	// ErrClientProtocol reports a malformed message, an unknown function
	// name or a tensor the receiver does not expect.
	ErrClientProtocol = errors.New("client protocol error")

	// ErrClientAborted reports a session torn down while an offloaded
	// operation was still pending.
	ErrClientAborted = errors.New("client aborted")
)

// MessageType tags the direction-independent message kind.
type MessageType int

const (
	MsgUnknown MessageType = iota
	MsgRequest
	MsgResponse
)

// Message is one framed protocol unit. Only the fields relevant to a
// given exchange are populated.
type Message struct {
	Type MessageType

	// EncryptionParameters is the serialized parameter blob, sent by the
	// server immediately after accept.
	EncryptionParameters []byte

	// PublicKey and RelinKey are the client's serialized keys.
	PublicKey []byte
	RelinKey  []byte

	// Function is a JSON function descriptor.
	Function []byte

	// Tensors carries wire tensors, slot-aligned with the paired message.
	Tensors []tensor.WireTensor
}

// FunctionSpec is the JSON function descriptor attached to requests.
type FunctionSpec struct {
	Function string  `json:"function"`
	Bound    float64 `json:"bound,omitempty"`
}

// EncodeFunction serializes a function descriptor.
func EncodeFunction(spec FunctionSpec) []byte {
	data, _ := json.Marshal(spec)
	return data
}

// DecodeFunction parses a function descriptor off a message.
func DecodeFunction(data []byte) (FunctionSpec, error) {
	var spec FunctionSpec
	if err := json.Unmarshal(data, &spec); err != nil {
		return FunctionSpec{}, fmt.Errorf("%w: %v", ErrClientProtocol, err)
	}
	if spec.Function == "" {
		return FunctionSpec{}, fmt.Errorf("%w: empty function descriptor", ErrClientProtocol)
	}
	return spec, nil
}
