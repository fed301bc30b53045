package split

import (
	"bytes"
	"fmt"
	"math"

	"hegraph/core/ckkswrapper"
	"hegraph/tensor"
	"hegraph/utils"
)

// Client is the key holder: it generates the keys over the server's
// parameters, feeds encrypted inputs, answers offloaded nonlinear
// requests, and decrypts the final results.
type Client struct {
	session *Session
	H       *ckkswrapper.HeContext

	// SyntheticInputs, when set, supplies values for requested tensors
	// missing from the Run input map instead of failing the session.
	SyntheticInputs func(name string, size int) []float64
}

// NewClient dials the server and completes the key exchange: receive
// encryption parameters, generate a fresh key set, return the public and
// relinearization keys.
func NewClient(addr string) (*Client, error) {
	session, err := Dial(addr)
	if err != nil {
		return nil, err
	}
	msg, err := session.Recv()
	if err != nil {
		return nil, err
	}
	if len(msg.EncryptionParameters) == 0 {
		return nil, fmt.Errorf("%w: expected encryption parameters", ErrClientProtocol)
	}
	meta, err := ckkswrapper.LoadParameters(bytes.NewReader(msg.EncryptionParameters))
	if err != nil {
		return nil, err
	}
	h, err := ckkswrapper.NewHeContext(meta)
	if err != nil {
		return nil, err
	}
	pk, err := h.Pk.MarshalBinary()
	if err != nil {
		return nil, err
	}
	if err := session.Send(&Message{Type: MsgResponse, PublicKey: pk}); err != nil {
		return nil, err
	}
	var rlk []byte
	if h.Rlk != nil {
		if rlk, err = h.Rlk.MarshalBinary(); err != nil {
			return nil, err
		}
	}
	if err := session.Send(&Message{Type: MsgResponse, RelinKey: rlk}); err != nil {
		return nil, err
	}
	utils.Logf(1, "client keys sent")
	return &Client{session: session, H: h}, nil
}

// Run drives one inference: wait for the parameter shape request, send
// the encrypted inputs it names, serve nonlinear requests until the
// result tensors arrive, and return them decrypted.
func (c *Client) Run(inputs map[string][]float64) (map[string][]float64, error) {
	if err := c.sendInputs(inputs); err != nil {
		return nil, err
	}
	for {
		msg, err := c.session.Recv()
		if err != nil {
			return nil, err
		}
		switch msg.Type {
		case MsgRequest:
			if err := c.serve(msg); err != nil {
				return nil, err
			}
		case MsgResponse:
			return c.decodeResults(msg)
		default:
			return nil, fmt.Errorf("%w: message type %d", ErrClientProtocol, msg.Type)
		}
	}
}

// Close tears down the session.
func (c *Client) Close() error {
	return c.session.Close()
}

func (c *Client) sendInputs(inputs map[string][]float64) error {
	msg, err := c.session.Recv()
	if err != nil {
		return err
	}
	spec, err := DecodeFunction(msg.Function)
	if err != nil {
		return err
	}
	if spec.Function != "Parameter" {
		return fmt.Errorf("%w: expected parameter request, got %q", ErrClientProtocol, spec.Function)
	}
	out := &Message{Type: MsgRequest}
	for _, w := range msg.Tensors {
		values, ok := inputs[w.Name]
		if !ok {
			if c.SyntheticInputs == nil {
				return fmt.Errorf("%w: no input for tensor %q", ErrClientProtocol, w.Name)
			}
			size := 1
			for _, d := range w.Shape {
				size *= int(d)
			}
			values = c.SyntheticInputs(w.Name, size)
		}
		t, err := tensor.NewHETensor(tensor.WireShape(w.Shape), tensor.F64, w.Packed, c.H.Meta.ComplexPacking, c.H.SlotCount())
		if err != nil {
			return err
		}
		if err := t.WriteValues(values); err != nil {
			return err
		}
		wire, err := t.ToWire(w.Name, 0, len(t.Slots), c.H)
		if err != nil {
			return err
		}
		out.Tensors = append(out.Tensors, wire)
		utils.Logf(1, "client sends %q shape %v (%d slots)", w.Name, tensor.WireShape(w.Shape), len(t.Slots))
	}
	return c.session.Send(out)
}

// serve answers one offloaded nonlinear request.
func (c *Client) serve(msg *Message) error {
	spec, err := DecodeFunction(msg.Function)
	if err != nil {
		return err
	}
	utils.Logf(1, "client serves %s over %d tensors", spec.Function, len(msg.Tensors))
	var f func(float64) float64
	switch spec.Function {
	case "Relu":
		f = func(x float64) float64 { return math.Max(0, x) }
	case "BoundedRelu":
		bound := spec.Bound
		f = func(x float64) float64 { return math.Min(bound, math.Max(0, x)) }
	case "MaxPool":
		return c.serveMaxPool(msg)
	default:
		return fmt.Errorf("%w: function %q", ErrClientProtocol, spec.Function)
	}

	resp := &Message{Type: MsgResponse, Function: msg.Function}
	for _, w := range msg.Tensors {
		out := w
		out.Data = make([][]byte, len(w.Data))
		for i, blob := range w.Data {
			mapped, err := c.applyHost(blob, f)
			if err != nil {
				return err
			}
			out.Data[i] = mapped
		}
		resp.Tensors = append(resp.Tensors, out)
	}
	return c.session.Send(resp)
}

// serveMaxPool maximizes one output cell's list of ciphertexts.
func (c *Client) serveMaxPool(msg *Message) error {
	if len(msg.Tensors) != 1 || len(msg.Tensors[0].Data) == 0 {
		return fmt.Errorf("%w: MaxPool request needs one maximize list", ErrClientProtocol)
	}
	w := msg.Tensors[0]
	n := c.H.BatchCapacity()
	best := make([]float64, n)
	for i := range best {
		best[i] = math.Inf(-1)
	}
	for _, blob := range w.Data {
		ct, err := ckkswrapper.LoadCiphertext(blob)
		if err != nil {
			return err
		}
		values, err := c.H.DecryptValues(ct, n)
		if err != nil {
			return err
		}
		for i, v := range values {
			if v > best[i] {
				best[i] = v
			}
		}
	}
	ct, err := c.H.EncryptValues(best)
	if err != nil {
		return err
	}
	blob, err := ckkswrapper.SaveCiphertext(ct)
	if err != nil {
		return err
	}
	out := w
	out.Data = [][]byte{blob}
	return c.session.Send(&Message{Type: MsgResponse, Function: msg.Function, Tensors: []tensor.WireTensor{out}})
}

func (c *Client) applyHost(blob []byte, f func(float64) float64) ([]byte, error) {
	ct, err := ckkswrapper.LoadCiphertext(blob)
	if err != nil {
		return nil, err
	}
	values, err := c.H.DecryptValues(ct, c.H.BatchCapacity())
	if err != nil {
		return nil, err
	}
	for i, x := range values {
		values[i] = f(x)
	}
	mapped, err := c.H.EncryptValues(values)
	if err != nil {
		return nil, err
	}
	return ckkswrapper.SaveCiphertext(mapped)
}

func (c *Client) decodeResults(msg *Message) (map[string][]float64, error) {
	results := make(map[string][]float64, len(msg.Tensors))
	for _, w := range msg.Tensors {
		t, err := tensor.NewHETensor(tensor.WireShape(w.Shape), tensor.F64, w.Packed, c.H.Meta.ComplexPacking, c.H.SlotCount())
		if err != nil {
			return nil, err
		}
		if err := t.FromWire(w); err != nil {
			return nil, err
		}
		for i, s := range t.Slots {
			values, err := c.H.DecryptValues(s.Cipher(), t.BatchSize())
			if err != nil {
				return nil, err
			}
			t.Slots[i] = tensor.NewPlain(values, t.ComplexPacking())
		}
		values, err := t.ReadValues()
		if err != nil {
			return nil, err
		}
		results[w.Name] = values
		utils.Logf(1, "client received result %q shape %v", w.Name, tensor.WireShape(w.Shape))
	}
	return results, nil
}
