package executor

import (
	"bytes"
	"fmt"

	"hegraph/split"
	"hegraph/tensor"
	"hegraph/utils"

	"github.com/tuneinsight/lattigo/v5/core/rlwe"
)

// serverSetup brings the client session up: accept one connection, send
// the encryption parameters, install the client's keys, request the
// inference-shaped parameters and collect the input tensors.
func (x *Executable) serverSetup() error {
	port := x.Cfg.Port
	if port == 0 {
		port = utils.DefaultPort
	}
	ln, err := split.Listen(port)
	if err != nil {
		return err
	}
	x.listener = ln
	session, err := ln.Accept()
	if err != nil {
		return err
	}
	x.session = session

	var params bytes.Buffer
	if err := x.H.SaveParameters(&params); err != nil {
		return err
	}
	if err := session.Send(&split.Message{Type: split.MsgResponse, EncryptionParameters: params.Bytes()}); err != nil {
		return err
	}
	if err := x.receiveKeys(); err != nil {
		return err
	}
	return x.receiveClientInputs()
}

func (x *Executable) receiveKeys() error {
	msg, err := x.session.Recv()
	if err != nil {
		return err
	}
	if len(msg.PublicKey) == 0 {
		return fmt.Errorf("%w: expected public key", split.ErrClientProtocol)
	}
	pk := new(rlwe.PublicKey)
	if err := pk.UnmarshalBinary(msg.PublicKey); err != nil {
		return fmt.Errorf("%w: %v", split.ErrClientProtocol, err)
	}
	msg, err = x.session.Recv()
	if err != nil {
		return err
	}
	var rlk *rlwe.RelinearizationKey
	if len(msg.RelinKey) > 0 {
		rlk = new(rlwe.RelinearizationKey)
		if err := rlk.UnmarshalBinary(msg.RelinKey); err != nil {
			return fmt.Errorf("%w: %v", split.ErrClientProtocol, err)
		}
	}
	x.H.SetKeys(pk, rlk)
	utils.Logf(1, "client keys installed")
	return nil
}

// receiveClientInputs asks for every from_client parameter by shape and
// blocks until all of them are fully received. Chunked sends fill the
// tensors window by window.
func (x *Executable) receiveClientInputs() error {
	req := &split.Message{
		Type:     split.MsgRequest,
		Function: split.EncodeFunction(split.FunctionSpec{Function: "Parameter"}),
	}
	want := make(map[string]*tensor.HETensor)
	pending := make(map[string]int)
	for _, p := range x.F.Parameters {
		a := x.ann[p]
		if !a.FromClient {
			continue
		}
		shape, ok := x.F.ParameterShapes[p]
		if !ok {
			return fmt.Errorf("parameter %q has no declared shape", p)
		}
		t, err := tensor.NewHETensor(shape, x.etype, a.Packed, x.H.Meta.ComplexPacking, x.H.SlotCount())
		if err != nil {
			return err
		}
		want[p] = t
		pending[p] = len(t.Slots)
		var wireShape []uint64
		for _, d := range shape {
			wireShape = append(wireShape, uint64(d))
		}
		req.Tensors = append(req.Tensors, tensor.WireTensor{Name: p, Shape: wireShape, Packed: a.Packed})
	}
	if len(want) == 0 {
		return nil
	}
	if err := x.session.Send(req); err != nil {
		return err
	}

	for len(pending) > 0 {
		msg, err := x.session.Recv()
		if err != nil {
			return err
		}
		for _, w := range msg.Tensors {
			t, ok := want[w.Name]
			if !ok {
				return fmt.Errorf("%w: unexpected tensor %q", split.ErrClientProtocol, w.Name)
			}
			if err := t.FromWire(w); err != nil {
				return err
			}
			pending[w.Name] -= len(w.Data)
			if pending[w.Name] <= 0 {
				delete(pending, w.Name)
				utils.Logf(1, "received client tensor %q", w.Name)
			}
		}
	}
	x.clientInputs = want
	return nil
}

// sendResults ships the result tensors back and ends the session.
func (x *Executable) sendResults(results map[string]*tensor.HETensor) error {
	msg := &split.Message{Type: split.MsgResponse}
	for _, r := range x.F.Results {
		t := results[r]
		w, err := t.ToWire(r, 0, len(t.Slots), x.H)
		if err != nil {
			return err
		}
		msg.Tensors = append(msg.Tensors, w)
	}
	if err := x.session.Send(msg); err != nil {
		return err
	}
	utils.Logf(1, "results sent to client")
	return nil
}

// Close releases the session and listener.
func (x *Executable) Close() error {
	var first error
	if x.session != nil {
		first = x.session.Close()
		x.session = nil
	}
	if x.listener != nil {
		if err := x.listener.Close(); err != nil && first == nil {
			first = err
		}
		x.listener = nil
	}
	return first
}
