// Package executor runs a compiled function over homomorphic tensors:
// topologically ordered kernel dispatch, liveness-driven slot frees,
// per-node timing, and the client-aided offload rendezvous.
package executor

import (
	"fmt"

	"hegraph/core/ckkswrapper"
	"hegraph/graph"
	"hegraph/kernel"
	"hegraph/split"
	"hegraph/tensor"
	"hegraph/utils"
)

// State tracks an executable through its lifecycle.
type State int

const (
	Built State = iota
	ServerSetup
	Running
	Done
)

// Executable binds one compiled function to a context and drives calls
// over it.
type Executable struct {
	F   *graph.Function
	H   *ckkswrapper.HeContext
	Cfg *utils.Config

	Timers *utils.OpTimer

	env      *kernel.Env
	etype    tensor.ElemType
	ann      map[string]graph.Annotation
	state    State
	lazyMod  bool
	listener *split.Listener
	session  *split.Session

	clientInputs map[string]*tensor.HETensor
}

// NewExecutable validates the function and propagates the configured
// tensor annotations through it.
func NewExecutable(f *graph.Function, h *ckkswrapper.HeContext, cfg *utils.Config) (*Executable, error) {
	if err := f.Validate(); err != nil {
		return nil, err
	}
	if cfg == nil {
		cfg = &utils.Config{}
	}
	etype := tensor.F64
	if f.ElemType != "" {
		var err error
		if etype, err = tensor.ParseElemType(f.ElemType); err != nil {
			return nil, err
		}
	}
	params := make(map[string]graph.Annotation, len(cfg.Tensors))
	for name, tc := range cfg.Tensors {
		params[name] = graph.Annotation{
			Encrypted:  tc.Encrypt || tc.ClientInput,
			Packed:     tc.Packed,
			FromClient: tc.ClientInput,
		}
	}
	x := &Executable{
		F:       f,
		H:       h,
		Cfg:     cfg,
		Timers:  utils.NewOpTimer(),
		etype:   etype,
		ann:     graph.Propagate(f, params),
		state:   Built,
		lazyMod: utils.LazyModFromEnv(),
	}
	x.env = kernel.NewEnv(h)
	if cfg.EnableClient {
		x.env.Offloader = x
	}
	return x, nil
}

// Annotations exposes the propagated per-tensor representation bits.
func (x *Executable) Annotations() map[string]graph.Annotation { return x.ann }

// Call runs one inference. Server-provided tensors bind the parameters
// not configured as client inputs; the returned map holds the result
// tensors by name.
func (x *Executable) Call(serverInputs map[string]*tensor.HETensor) (map[string]*tensor.HETensor, error) {
	if x.state == Running {
		return nil, fmt.Errorf("call already in progress")
	}
	if x.Cfg.EnableClient && x.session == nil {
		x.state = ServerSetup
		if err := x.serverSetup(); err != nil {
			return nil, err
		}
	}
	x.state = Running
	defer func() { x.state = Done }()

	slots := make(map[string]*tensor.HETensor, len(x.F.Parameters)+len(x.F.Nodes))
	for _, p := range x.F.Parameters {
		t, err := x.bindParameter(p, serverInputs)
		if err != nil {
			return nil, err
		}
		slots[p] = t
	}

	for i := range x.F.Nodes {
		n := &x.F.Nodes[i]
		if n.Op == graph.Parameter {
			continue
		}
		if err := x.dispatch(n, slots); err != nil {
			return nil, fmt.Errorf("node %d (%s): %w", n.ID, n.Op, err)
		}
		for _, dead := range n.FreeList {
			delete(slots, dead)
		}
	}

	results := make(map[string]*tensor.HETensor, len(x.F.Results))
	for _, r := range x.F.Results {
		t, ok := slots[r]
		if !ok {
			return nil, fmt.Errorf("result %q was freed before completion", r)
		}
		results[r] = t
	}
	if x.Cfg.EnablePerformanceCollection {
		x.env.Eval.PrintCounters(x.F.Name)
	}
	x.Timers.PrintSummaries()

	if x.Cfg.EnableClient {
		if err := x.sendResults(results); err != nil {
			return nil, err
		}
	}
	return results, nil
}

func (x *Executable) dispatch(n *graph.Node, slots map[string]*tensor.HETensor) error {
	inputs := make([]*tensor.HETensor, len(n.Inputs))
	for i, name := range n.Inputs {
		t, ok := slots[name]
		if !ok {
			return fmt.Errorf("input %q is not live", name)
		}
		inputs[i] = t
	}
	out, err := x.allocOutput(n)
	if err != nil {
		return err
	}
	k, err := kernel.Lookup(n.Op)
	if err != nil {
		return err
	}
	// Amortized reduction only pays inside accumulation chains; isolated
	// adds and multiplies run with canonical reductions.
	switch n.Op {
	case graph.Dot, graph.Convolution, graph.Sum, graph.AvgPool:
		x.env.LazyMod = x.lazyMod
	default:
		x.env.LazyMod = false
	}
	if err := x.Timers.Time(n.Op.String(), func() error {
		return k(x.env, n, inputs, out)
	}); err != nil {
		return err
	}
	if utils.VerboseOp(n.Op.String()) {
		x.env.Eval.PrintCounters(fmt.Sprintf("%s (node %d)", n.Op, n.ID))
	}
	slots[n.Output] = out
	return nil
}

func (x *Executable) allocOutput(n *graph.Node) (*tensor.HETensor, error) {
	a := x.ann[n.Output]
	return tensor.NewHETensor(n.OutputShape, x.etype, a.Packed, x.H.Meta.ComplexPacking, x.H.SlotCount())
}

// bindParameter resolves one parameter to its client- or server-provided
// tensor, encrypting it in place when the annotation demands ciphertext.
func (x *Executable) bindParameter(name string, serverInputs map[string]*tensor.HETensor) (*tensor.HETensor, error) {
	a := x.ann[name]
	var t *tensor.HETensor
	if a.FromClient {
		t = x.clientInputs[name]
		if t == nil {
			return nil, fmt.Errorf("%w: client never sent tensor %q", split.ErrClientProtocol, name)
		}
	} else {
		t = serverInputs[name]
		if t == nil {
			return nil, fmt.Errorf("no tensor bound for parameter %q", name)
		}
	}
	if a.Encrypted && !t.AnyEncrypted() {
		if err := x.encryptTensor(t); err != nil {
			return nil, err
		}
	}
	return t, nil
}

func (x *Executable) encryptTensor(t *tensor.HETensor) error {
	if x.H.Encryptor == nil {
		return fmt.Errorf("no public key loaded for encryption")
	}
	batch := t.BatchSize()
	for i, s := range t.Slots {
		if s.IsCipher() {
			continue
		}
		v := s.Plain()
		if len(v) == 1 && batch > 1 {
			expanded := make([]float64, batch)
			for j := range expanded {
				expanded[j] = v[0]
			}
			v = expanded
		}
		ct, err := x.H.EncryptValues(v)
		if err != nil {
			return err
		}
		t.Slots[i] = tensor.NewCipher(ct, t.ComplexPacking())
	}
	return nil
}
