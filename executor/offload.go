package executor

import (
	"fmt"

	"hegraph/core/ckkswrapper"
	"hegraph/graph"
	"hegraph/split"
	"hegraph/tensor"

	"github.com/tuneinsight/lattigo/v5/core/rlwe"
)

// MaxBatch caps the number of ciphertexts per offload request so a
// single frame stays well under the frame limit.
const MaxBatch = 1000

// OffloadUnary ships ciphertext slots to the client, which applies the
// named function under the secret key and returns fresh encryptions.
// Slots align positionally with the request window.
func (x *Executable) OffloadUnary(op graph.Op, attrs graph.Attrs, cts []*rlwe.Ciphertext) ([]*rlwe.Ciphertext, error) {
	if x.session == nil {
		return nil, fmt.Errorf("%w: no client session", split.ErrClientAborted)
	}
	if _, err := x.H.MatchToSmallestChainIndex(cts); err != nil {
		return nil, err
	}
	spec := split.FunctionSpec{Function: op.String()}
	if op == graph.BoundedRelu {
		spec.Bound = attrs.Alpha
	}
	fn := split.EncodeFunction(spec)
	out := make([]*rlwe.Ciphertext, len(cts))
	var err error
	for offset := 0; offset < len(cts); offset += MaxBatch {
		end := offset + MaxBatch
		if end > len(cts) {
			end = len(cts)
		}
		data := make([][]byte, end-offset)
		for i, ct := range cts[offset:end] {
			if data[i], err = ckkswrapper.SaveCiphertext(ct); err != nil {
				return nil, err
			}
		}
		w := tensor.WireTensor{
			Name:   fmt.Sprintf("%s_offload", op),
			Shape:  []uint64{uint64(len(cts))},
			Offset: uint64(offset),
			Data:   data,
		}
		resp, err := x.session.Request(&split.Message{Function: fn, Tensors: []tensor.WireTensor{w}})
		if err != nil {
			return nil, err
		}
		if len(resp.Tensors) != 1 || len(resp.Tensors[0].Data) != end-offset {
			return nil, fmt.Errorf("%w: %s response shape mismatch", split.ErrClientProtocol, op)
		}
		for i, blob := range resp.Tensors[0].Data {
			if out[offset+i], err = ckkswrapper.LoadCiphertext(blob); err != nil {
				return nil, err
			}
		}
	}
	return out, nil
}

// OffloadMaxPool sends one request per output cell carrying that cell's
// maximize list; the client answers with the slotwise maximum.
func (x *Executable) OffloadMaxPool(lists [][]*rlwe.Ciphertext) ([]*rlwe.Ciphertext, error) {
	if x.session == nil {
		return nil, fmt.Errorf("%w: no client session", split.ErrClientAborted)
	}
	fn := split.EncodeFunction(split.FunctionSpec{Function: "MaxPool"})
	out := make([]*rlwe.Ciphertext, len(lists))
	var err error
	for cell, list := range lists {
		if _, err := x.H.MatchToSmallestChainIndex(list); err != nil {
			return nil, err
		}
		data := make([][]byte, len(list))
		for i, ct := range list {
			if data[i], err = ckkswrapper.SaveCiphertext(ct); err != nil {
				return nil, err
			}
		}
		w := tensor.WireTensor{
			Name:  fmt.Sprintf("maxpool_cell_%d", cell),
			Shape: []uint64{uint64(len(list))},
			Data:  data,
		}
		resp, err := x.session.Request(&split.Message{Function: fn, Tensors: []tensor.WireTensor{w}})
		if err != nil {
			return nil, err
		}
		if len(resp.Tensors) != 1 || len(resp.Tensors[0].Data) != 1 {
			return nil, fmt.Errorf("%w: MaxPool response needs one ciphertext", split.ErrClientProtocol)
		}
		if out[cell], err = ckkswrapper.LoadCiphertext(resp.Tensors[0].Data[0]); err != nil {
			return nil, err
		}
	}
	return out, nil
}
