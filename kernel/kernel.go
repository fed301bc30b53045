// Package kernel implements one kernel per supported graph operation.
// Kernels run over the batched-element slot axis, dispatch on the
// cipher/plain tag cross-product per slot, and leave operands untouched.
package kernel

import (
	"fmt"
	"runtime"
	"sync"

	"hegraph/core/ckkswrapper"
	"hegraph/graph"
	"hegraph/tensor"

	"github.com/tuneinsight/lattigo/v5/core/rlwe"
)

// NonlinearOffloader ships ciphertext slots to the key-holding client.
// The executor implements it; kernels fall back to the local
// decrypt-compute-reencrypt path when it is absent.
type NonlinearOffloader interface {
	// OffloadUnary sends one batched request per MAX_BATCH window of
	// ciphertext slots and returns the answers positionally.
	OffloadUnary(op graph.Op, attrs graph.Attrs, cts []*rlwe.Ciphertext) ([]*rlwe.Ciphertext, error)

	// OffloadMaxPool sends one request per output cell carrying that
	// cell's maximize list and returns one ciphertext per cell.
	OffloadMaxPool(lists [][]*rlwe.Ciphertext) ([]*rlwe.Ciphertext, error)
}

// Env is the execution context handed to every kernel.
type Env struct {
	H    *ckkswrapper.HeContext
	Eval *ckkswrapper.CountingEvaluator

	// LazyMod defers modular reductions inside accumulation chains.
	// The executor clears it around isolated Add/Multiply nodes.
	LazyMod bool

	Offloader NonlinearOffloader
}

// NewEnv builds a kernel environment over a context.
func NewEnv(h *ckkswrapper.HeContext) *Env {
	return &Env{H: h, Eval: ckkswrapper.NewCountingEvaluator(h)}
}

func (e *Env) fork() *Env {
	cp := *e
	cp.Eval = e.Eval.ShallowCopy()
	cp.H = cp.Eval.H
	return &cp
}

// Func is the kernel signature: inputs resolved by the executor, output
// tensor pre-allocated from the propagated annotations.
type Func func(e *Env, n *graph.Node, inputs []*tensor.HETensor, out *tensor.HETensor) error

var kernels = map[graph.Op]Func{
	graph.Add:                Elementwise(addSlot),
	graph.Subtract:           Elementwise(subSlot),
	graph.Multiply:           Elementwise(mulSlot),
	graph.Divide:             Elementwise(divSlot),
	graph.Minimum:            Elementwise(minSlot),
	graph.Negative:           Unary(negSlot),
	graph.Exp:                Unary(expSlot),
	graph.Power:              Elementwise(powSlot),
	graph.Dot:                DotKernel,
	graph.Convolution:        ConvolutionKernel,
	graph.AvgPool:            AvgPoolKernel,
	graph.MaxPool:            MaxPoolKernel,
	graph.Sum:                SumKernel,
	graph.BatchNormInference: BatchNormKernel,
	graph.Broadcast:          BroadcastKernel,
	graph.Concat:             ConcatKernel,
	graph.Reshape:            ReshapeKernel,
	graph.Reverse:            ReverseKernel,
	graph.Slice:              SliceKernel,
	graph.Pad:                PadKernel,
	graph.Softmax:            SoftmaxKernel,
	graph.Relu:               ReluKernel,
	graph.BoundedRelu:        ReluKernel,
	graph.Max:                MaxKernel,
	graph.Constant:           ConstantKernel,
	graph.Result:             ResultKernel,
}

// Lookup resolves the kernel for an operator id.
func Lookup(op graph.Op) (Func, error) {
	k, ok := kernels[op]
	if !ok {
		return nil, fmt.Errorf("%w: no kernel for %s", graph.ErrUnsupportedOp, op)
	}
	return k, nil
}

// parallelFor runs fn over [0,n) with fork-join goroutines, each holding
// its own forked Env. Iterations must not share mutable state.
func (e *Env) parallelFor(n int, fn func(e *Env, i int) error) error {
	workers := runtime.NumCPU()
	if workers > n {
		workers = n
	}
	if workers <= 1 {
		for i := 0; i < n; i++ {
			if err := fn(e, i); err != nil {
				return err
			}
		}
		return nil
	}

	var wg sync.WaitGroup
	errs := make([]error, workers)
	for w := 0; w < workers; w++ {
		wg.Add(1)
		go func(w int) {
			defer wg.Done()
			local := e.fork()
			for i := w; i < n; i += workers {
				if err := fn(local, i); err != nil {
					errs[w] = err
					return
				}
			}
		}(w)
	}
	wg.Wait()
	for _, err := range errs {
		if err != nil {
			return err
		}
	}
	return nil
}

// Elementwise lifts a binary slot routine over the batched-element axis.
func Elementwise(slot func(e *Env, a, b tensor.HEType, batch int) (tensor.HEType, error)) Func {
	return func(e *Env, n *graph.Node, inputs []*tensor.HETensor, out *tensor.HETensor) error {
		if len(inputs) != 2 {
			return fmt.Errorf("%w: %s wants 2 inputs, got %d", tensor.ErrShapeMismatch, n.Op, len(inputs))
		}
		a, b := inputs[0], inputs[1]
		if len(a.Slots) != len(b.Slots) || len(a.Slots) != len(out.Slots) {
			return fmt.Errorf("%w: %s over %d/%d/%d slots", tensor.ErrShapeMismatch, n.Op, len(a.Slots), len(b.Slots), len(out.Slots))
		}
		return e.parallelFor(len(out.Slots), func(e *Env, i int) error {
			s, err := slot(e, a.Slots[i], b.Slots[i], out.BatchSize())
			if err != nil {
				return fmt.Errorf("%s slot %d: %w", n.Op, i, err)
			}
			out.Slots[i] = s
			return nil
		})
	}
}

// Unary lifts a unary slot routine over the batched-element axis.
func Unary(slot func(e *Env, a tensor.HEType, batch int) (tensor.HEType, error)) Func {
	return func(e *Env, n *graph.Node, inputs []*tensor.HETensor, out *tensor.HETensor) error {
		if len(inputs) != 1 {
			return fmt.Errorf("%w: %s wants 1 input, got %d", tensor.ErrShapeMismatch, n.Op, len(inputs))
		}
		a := inputs[0]
		if len(a.Slots) != len(out.Slots) {
			return fmt.Errorf("%w: %s over %d/%d slots", tensor.ErrShapeMismatch, n.Op, len(a.Slots), len(out.Slots))
		}
		return e.parallelFor(len(out.Slots), func(e *Env, i int) error {
			s, err := slot(e, a.Slots[i], out.BatchSize())
			if err != nil {
				return fmt.Errorf("%s slot %d: %w", n.Op, i, err)
			}
			out.Slots[i] = s
			return nil
		})
	}
}
