package kernel

import (
	"math"
	"testing"

	"hegraph/core/ckkswrapper"
	"hegraph/graph"
	"hegraph/tensor"

	"github.com/google/go-cmp/cmp"
	"github.com/google/go-cmp/cmp/cmpopts"
	"github.com/stretchr/testify/require"
	"github.com/tuneinsight/lattigo/v5/core/rlwe"
	"gonum.org/v1/gonum/mat"
)

func testEnv(t *testing.T) *Env {
	t.Helper()
	h, err := ckkswrapper.NewHeContext(ckkswrapper.DefaultParameters())
	require.NoError(t, err)
	return NewEnv(h)
}

func plainTensor(t *testing.T, shape []int, values []float64) *tensor.HETensor {
	t.Helper()
	tt, err := tensor.NewHETensor(shape, tensor.F64, false, false, 0)
	require.NoError(t, err)
	require.NoError(t, tt.WriteValues(values))
	return tt
}

func encryptSlots(t *testing.T, e *Env, tt *tensor.HETensor, idxs ...int) *tensor.HETensor {
	t.Helper()
	if len(idxs) == 0 {
		idxs = make([]int, len(tt.Slots))
		for i := range idxs {
			idxs[i] = i
		}
	}
	for _, i := range idxs {
		ct, err := e.H.EncryptValues(expandPlain(tt.Slots[i].Plain(), tt.BatchSize()))
		require.NoError(t, err)
		tt.Slots[i] = tensor.NewCipher(ct, tt.ComplexPacking())
	}
	return tt
}

func readBack(t *testing.T, e *Env, tt *tensor.HETensor) []float64 {
	t.Helper()
	for i, s := range tt.Slots {
		if !s.IsCipher() {
			continue
		}
		v, err := e.H.DecryptValues(s.Cipher(), tt.BatchSize())
		require.NoError(t, err)
		tt.Slots[i] = tensor.NewPlain(v, tt.ComplexPacking())
	}
	values, err := tt.ReadValues()
	require.NoError(t, err)
	return values
}

func runKernel(t *testing.T, e *Env, n *graph.Node, inputs []*tensor.HETensor, outShape []int) *tensor.HETensor {
	t.Helper()
	out, err := tensor.NewHETensor(outShape, tensor.F64, false, false, 0)
	require.NoError(t, err)
	k, err := Lookup(n.Op)
	require.NoError(t, err)
	require.NoError(t, k(e, n, inputs, out))
	return out
}

func requireApprox(t *testing.T, want, got []float64, tol float64) {
	t.Helper()
	if diff := cmp.Diff(want, got, cmpopts.EquateApprox(0, tol)); diff != "" {
		t.Fatalf("values mismatch (-want +got):\n%s", diff)
	}
}

func TestLookupClosedSet(t *testing.T) {
	_, err := Lookup(graph.Add)
	require.NoError(t, err)
	_, err = Lookup(graph.Parameter)
	require.ErrorIs(t, err, graph.ErrUnsupportedOp)
}

func TestAddDomainGrid(t *testing.T) {
	e := testEnv(t)
	av := []float64{1, 2, 3, 4}
	bv := []float64{5, -6, 7, -8}
	want := []float64{6, -4, 10, -4}
	n := &graph.Node{Op: graph.Add}

	cases := []struct{ encA, encB bool }{
		{false, false}, {true, true}, {true, false}, {false, true},
	}
	for _, tc := range cases {
		a := plainTensor(t, []int{2, 2}, av)
		b := plainTensor(t, []int{2, 2}, bv)
		if tc.encA {
			encryptSlots(t, e, a)
		}
		if tc.encB {
			encryptSlots(t, e, b)
		}
		out := runKernel(t, e, n, []*tensor.HETensor{a, b}, []int{2, 2})
		requireApprox(t, want, readBack(t, e, out), 1e-2)
	}
}

func TestSubtractPlainMinusCipher(t *testing.T) {
	e := testEnv(t)
	a := plainTensor(t, []int{3}, []float64{10, 20, 30})
	b := encryptSlots(t, e, plainTensor(t, []int{3}, []float64{1, 2, 3}))
	out := runKernel(t, e, &graph.Node{Op: graph.Subtract}, []*tensor.HETensor{a, b}, []int{3})
	require.True(t, out.AnyEncrypted())
	requireApprox(t, []float64{9, 18, 27}, readBack(t, e, out), 1e-2)
}

func TestMultiplyRescalesProduct(t *testing.T) {
	e := testEnv(t)
	a := encryptSlots(t, e, plainTensor(t, []int{2}, []float64{3, -2}))
	b := encryptSlots(t, e, plainTensor(t, []int{2}, []float64{4, 5}))
	out := runKernel(t, e, &graph.Node{Op: graph.Multiply}, []*tensor.HETensor{a, b}, []int{2})
	for _, s := range out.Slots {
		require.True(t, s.IsCipher())
		require.Equal(t, e.H.Meta.Scale, s.Cipher().Scale.Float64())
	}
	requireApprox(t, []float64{12, -10}, readBack(t, e, out), 1e-2)
}

func TestMultiplyScalarShortCircuits(t *testing.T) {
	e := testEnv(t)
	a := encryptSlots(t, e, plainTensor(t, []int{4}, []float64{2, 3, 4, 5}))
	level := a.Slots[0].Cipher().Level()
	b := plainTensor(t, []int{4}, []float64{1, -1, 0, 2})
	out := runKernel(t, e, &graph.Node{Op: graph.Multiply}, []*tensor.HETensor{a, b}, []int{4})

	// Unit and sign-flip factors keep the level; a zero factor collapses
	// to a plaintext slot.
	require.True(t, out.Slots[0].IsCipher())
	require.Equal(t, level, out.Slots[0].Cipher().Level())
	require.True(t, out.Slots[1].IsCipher())
	require.Equal(t, level, out.Slots[1].Cipher().Level())
	require.True(t, out.Slots[2].IsPlain())
	requireApprox(t, []float64{2, -3, 0, 10}, readBack(t, e, out), 1e-2)
}

func TestDivide(t *testing.T) {
	e := testEnv(t)
	n := &graph.Node{Op: graph.Divide}

	a := plainTensor(t, []int{2}, []float64{6, 9})
	b := plainTensor(t, []int{2}, []float64{2, 3})
	out := runKernel(t, e, n, []*tensor.HETensor{a, b}, []int{2})
	requireApprox(t, []float64{3, 3}, readBack(t, e, out), 1e-9)

	ca := encryptSlots(t, e, plainTensor(t, []int{2}, []float64{6, 9}))
	out = runKernel(t, e, n, []*tensor.HETensor{ca, b}, []int{2})
	requireApprox(t, []float64{3, 3}, readBack(t, e, out), 1e-2)

	cb := encryptSlots(t, e, plainTensor(t, []int{2}, []float64{2, 3}))
	k, err := Lookup(graph.Divide)
	require.NoError(t, err)
	dst, err := tensor.NewHETensor([]int{2}, tensor.F64, false, false, 0)
	require.NoError(t, err)
	err = k(e, n, []*tensor.HETensor{a, cb}, dst)
	require.ErrorIs(t, err, tensor.ErrUnsupportedType)
}

func TestMinimum(t *testing.T) {
	e := testEnv(t)
	n := &graph.Node{Op: graph.Minimum}
	a := plainTensor(t, []int{3}, []float64{1, 5, -2})
	b := plainTensor(t, []int{3}, []float64{4, 2, -7})
	out := runKernel(t, e, n, []*tensor.HETensor{a, b}, []int{3})
	requireApprox(t, []float64{1, 2, -7}, readBack(t, e, out), 1e-9)

	ca := encryptSlots(t, e, plainTensor(t, []int{3}, []float64{1, 5, -2}))
	k, err := Lookup(graph.Minimum)
	require.NoError(t, err)
	dst, err := tensor.NewHETensor([]int{3}, tensor.F64, false, false, 0)
	require.NoError(t, err)
	err = k(e, n, []*tensor.HETensor{ca, b}, dst)
	require.ErrorIs(t, err, tensor.ErrUnsupportedType)
}

func TestNegativeCipher(t *testing.T) {
	e := testEnv(t)
	a := encryptSlots(t, e, plainTensor(t, []int{3}, []float64{1.5, -2, 0}))
	out := runKernel(t, e, &graph.Node{Op: graph.Negative}, []*tensor.HETensor{a}, []int{3})
	requireApprox(t, []float64{-1.5, 2, 0}, readBack(t, e, out), 1e-2)
}

func TestExpHostRoundTrip(t *testing.T) {
	e := testEnv(t)
	a := encryptSlots(t, e, plainTensor(t, []int{2}, []float64{0, 1}))
	out := runKernel(t, e, &graph.Node{Op: graph.Exp}, []*tensor.HETensor{a}, []int{2})
	require.True(t, out.AnyEncrypted())
	requireApprox(t, []float64{1, math.E}, readBack(t, e, out), 1e-2)
}

func TestExpWithoutSecretKeyFails(t *testing.T) {
	e := testEnv(t)
	a := encryptSlots(t, e, plainTensor(t, []int{1}, []float64{1}))

	server, err := ckkswrapper.NewServerContext(e.H.Meta)
	require.NoError(t, err)
	server.SetKeys(e.H.Pk, e.H.Rlk)
	se := NewEnv(server)

	k, err := Lookup(graph.Exp)
	require.NoError(t, err)
	dst, err := tensor.NewHETensor([]int{1}, tensor.F64, false, false, 0)
	require.NoError(t, err)
	err = k(se, &graph.Node{Op: graph.Exp}, []*tensor.HETensor{a}, dst)
	require.ErrorContains(t, err, "secret key")
}

func TestPower(t *testing.T) {
	e := testEnv(t)
	a := plainTensor(t, []int{2}, []float64{2, 3})
	b := plainTensor(t, []int{2}, []float64{3, 2})
	out := runKernel(t, e, &graph.Node{Op: graph.Power}, []*tensor.HETensor{a, b}, []int{2})
	requireApprox(t, []float64{8, 9}, readBack(t, e, out), 1e-9)

	ca := encryptSlots(t, e, plainTensor(t, []int{2}, []float64{2, 3}))
	out = runKernel(t, e, &graph.Node{Op: graph.Power}, []*tensor.HETensor{ca, b}, []int{2})
	require.True(t, out.AnyEncrypted())
	requireApprox(t, []float64{8, 9}, readBack(t, e, out), 1e-2)
}

func dotReference(av, bv []float64, m, k, n int) []float64 {
	var c mat.Dense
	c.Mul(mat.NewDense(m, k, av), mat.NewDense(k, n, bv))
	return append([]float64(nil), c.RawMatrix().Data...)
}

func TestDotMatchesReference(t *testing.T) {
	e := testEnv(t)
	av := []float64{1, 2, 3, 4, 5, 6}
	bv := []float64{0.5, -1, 2, 1.5, -0.25, 3}
	want := dotReference(av, bv, 2, 3, 2)
	n := &graph.Node{Op: graph.Dot, Attrs: graph.Attrs{ReductionAxesCount: 1}}

	a := plainTensor(t, []int{2, 3}, av)
	b := plainTensor(t, []int{3, 2}, bv)
	out := runKernel(t, e, n, []*tensor.HETensor{a, b}, []int{2, 2})
	requireApprox(t, want, readBack(t, e, out), 1e-9)

	ca := encryptSlots(t, e, plainTensor(t, []int{2, 3}, av))
	out = runKernel(t, e, n, []*tensor.HETensor{ca, b}, []int{2, 2})
	require.True(t, out.AnyEncrypted())
	requireApprox(t, want, readBack(t, e, out), 1e-2)
}

func TestDotLazyMatchesStrict(t *testing.T) {
	e := testEnv(t)
	av := []float64{1, -2, 3, 4, 5, -6, 7, 8}
	bv := []float64{2, 0.5, -1, 3, 1, 1, -0.5, 2}
	n := &graph.Node{Op: graph.Dot, Attrs: graph.Attrs{ReductionAxesCount: 1}}

	run := func(lazy bool) []float64 {
		a := encryptSlots(t, e, plainTensor(t, []int{2, 4}, av))
		b := encryptSlots(t, e, plainTensor(t, []int{4, 2}, bv))
		e.LazyMod = lazy
		defer func() { e.LazyMod = false }()
		out := runKernel(t, e, n, []*tensor.HETensor{a, b}, []int{2, 2})
		return readBack(t, e, out)
	}
	strict := run(false)
	lazy := run(true)
	requireApprox(t, strict, lazy, 1e-2)
	requireApprox(t, dotReference(av, bv, 2, 4, 2), lazy, 5e-2)
}

func TestConvolution(t *testing.T) {
	e := testEnv(t)
	data := encryptSlots(t, e, plainTensor(t, []int{1, 1, 3, 3}, []float64{1, 2, 3, 4, 5, 6, 7, 8, 9}))
	filter := plainTensor(t, []int{1, 1, 2, 2}, []float64{1, 0, 0, 1})
	n := &graph.Node{Op: graph.Convolution}
	out := runKernel(t, e, n, []*tensor.HETensor{data, filter}, []int{1, 1, 2, 2})
	requireApprox(t, []float64{6, 8, 12, 14}, readBack(t, e, out), 1e-2)
}

func TestConvolutionChannelMismatch(t *testing.T) {
	e := testEnv(t)
	data := plainTensor(t, []int{1, 2, 3, 3}, make([]float64, 18))
	filter := plainTensor(t, []int{1, 1, 2, 2}, []float64{1, 0, 0, 1})
	k, err := Lookup(graph.Convolution)
	require.NoError(t, err)
	dst, err := tensor.NewHETensor([]int{1, 1, 2, 2}, tensor.F64, false, false, 0)
	require.NoError(t, err)
	err = k(e, &graph.Node{Op: graph.Convolution}, []*tensor.HETensor{data, filter}, dst)
	require.ErrorIs(t, err, tensor.ErrShapeMismatch)
}

func TestAvgPool(t *testing.T) {
	e := testEnv(t)
	in := plainTensor(t, []int{1, 1, 3, 3}, []float64{1, 2, 3, 4, 5, 6, 7, 8, 9})
	n := &graph.Node{Op: graph.AvgPool, Attrs: graph.Attrs{WindowShape: []int{2, 2}}}
	out := runKernel(t, e, n, []*tensor.HETensor{in}, []int{1, 1, 2, 2})
	requireApprox(t, []float64{3, 4, 6, 7}, readBack(t, e, out), 1e-9)
}

func TestAvgPoolPaddingDivisor(t *testing.T) {
	e := testEnv(t)
	values := []float64{1, 2, 3, 4, 5, 6, 7, 8, 9}
	attrs := graph.Attrs{
		WindowShape:  []int{2, 2},
		PaddingBelow: []int{1, 1},
	}

	// The corner window holds one data cell; the divisor is the data
	// count unless padding is included.
	in := plainTensor(t, []int{1, 1, 3, 3}, values)
	out := runKernel(t, e, &graph.Node{Op: graph.AvgPool, Attrs: attrs}, []*tensor.HETensor{in}, []int{1, 1, 3, 3})
	got := readBack(t, e, out)
	require.InDelta(t, 1.0, got[0], 1e-9)

	attrs.IncludePadding = true
	in = plainTensor(t, []int{1, 1, 3, 3}, values)
	out = runKernel(t, e, &graph.Node{Op: graph.AvgPool, Attrs: attrs}, []*tensor.HETensor{in}, []int{1, 1, 3, 3})
	got = readBack(t, e, out)
	require.InDelta(t, 0.25, got[0], 1e-9)
}

func TestMaxPoolPlain(t *testing.T) {
	e := testEnv(t)
	in := plainTensor(t, []int{1, 1, 3, 3}, []float64{1, 2, 3, 4, 5, 6, 7, 8, 9})
	n := &graph.Node{Op: graph.MaxPool, Attrs: graph.Attrs{WindowShape: []int{2, 2}}}
	out := runKernel(t, e, n, []*tensor.HETensor{in}, []int{1, 1, 2, 2})
	require.False(t, out.AnyEncrypted())
	requireApprox(t, []float64{5, 6, 8, 9}, readBack(t, e, out), 1e-9)
}

func TestMaxPoolCipherHostFallback(t *testing.T) {
	e := testEnv(t)
	in := encryptSlots(t, e, plainTensor(t, []int{1, 1, 3, 3}, []float64{1, 2, 3, 4, 5, 6, 7, 8, 9}))
	n := &graph.Node{Op: graph.MaxPool, Attrs: graph.Attrs{WindowShape: []int{2, 2}}}
	out := runKernel(t, e, n, []*tensor.HETensor{in}, []int{1, 1, 2, 2})
	require.True(t, out.AnyEncrypted())
	requireApprox(t, []float64{5, 6, 8, 9}, readBack(t, e, out), 1e-2)
}

// hostOffloader answers offload requests locally with the secret key,
// standing in for the remote client.
type hostOffloader struct {
	h     *ckkswrapper.HeContext
	calls int
}

func (o *hostOffloader) OffloadUnary(op graph.Op, attrs graph.Attrs, cts []*rlwe.Ciphertext) ([]*rlwe.Ciphertext, error) {
	o.calls++
	f := reluOf(attrs, op == graph.BoundedRelu)
	out := make([]*rlwe.Ciphertext, len(cts))
	for i, ct := range cts {
		v, err := o.h.DecryptValues(ct, 1)
		if err != nil {
			return nil, err
		}
		for j := range v {
			v[j] = f(v[j])
		}
		if out[i], err = o.h.EncryptValues(v); err != nil {
			return nil, err
		}
	}
	return out, nil
}

func (o *hostOffloader) OffloadMaxPool(lists [][]*rlwe.Ciphertext) ([]*rlwe.Ciphertext, error) {
	o.calls++
	out := make([]*rlwe.Ciphertext, len(lists))
	for i, list := range lists {
		best := math.Inf(-1)
		for _, ct := range list {
			v, err := o.h.DecryptValues(ct, 1)
			if err != nil {
				return nil, err
			}
			if v[0] > best {
				best = v[0]
			}
		}
		var err error
		if out[i], err = o.h.EncryptValues([]float64{best}); err != nil {
			return nil, err
		}
	}
	return out, nil
}

func TestMaxPoolOffloaded(t *testing.T) {
	e := testEnv(t)
	off := &hostOffloader{h: e.H}
	e.Offloader = off
	in := encryptSlots(t, e, plainTensor(t, []int{1, 1, 3, 3}, []float64{1, 2, 3, 4, 5, 6, 7, 8, 9}))
	n := &graph.Node{Op: graph.MaxPool, Attrs: graph.Attrs{WindowShape: []int{2, 2}}}
	out := runKernel(t, e, n, []*tensor.HETensor{in}, []int{1, 1, 2, 2})
	require.Equal(t, 1, off.calls)
	requireApprox(t, []float64{5, 6, 8, 9}, readBack(t, e, out), 1e-2)
}

func TestSum(t *testing.T) {
	e := testEnv(t)
	n := &graph.Node{Op: graph.Sum, Attrs: graph.Attrs{Axes: []int{1}}}

	in := plainTensor(t, []int{2, 3}, []float64{1, 2, 3, 4, 5, 6})
	out := runKernel(t, e, n, []*tensor.HETensor{in}, []int{2})
	requireApprox(t, []float64{6, 15}, readBack(t, e, out), 1e-9)

	enc := encryptSlots(t, e, plainTensor(t, []int{2, 3}, []float64{1, 2, 3, 4, 5, 6}))
	out = runKernel(t, e, n, []*tensor.HETensor{enc}, []int{2})
	require.True(t, out.AnyEncrypted())
	requireApprox(t, []float64{6, 15}, readBack(t, e, out), 1e-2)
}

func TestSumRejectsFoldedBatchAxis(t *testing.T) {
	e := testEnv(t)
	in, err := tensor.NewHETensor([]int{2, 3}, tensor.F64, true, false, e.H.SlotCount())
	require.NoError(t, err)
	require.NoError(t, in.WriteValues([]float64{1, 2, 3, 4, 5, 6}))

	k, err := Lookup(graph.Sum)
	require.NoError(t, err)
	dst, err := tensor.NewHETensor([]int{2, 3}, tensor.F64, true, false, e.H.SlotCount())
	require.NoError(t, err)
	err = k(e, &graph.Node{Op: graph.Sum, Attrs: graph.Attrs{Axes: []int{0}}}, []*tensor.HETensor{in}, dst)
	require.ErrorIs(t, err, tensor.ErrShapeMismatch)
}

func TestMaxReduce(t *testing.T) {
	e := testEnv(t)
	in := plainTensor(t, []int{2, 3}, []float64{1, 5, 3, 4, 2, 6})
	n := &graph.Node{Op: graph.Max, Attrs: graph.Attrs{Axes: []int{0}}}
	out := runKernel(t, e, n, []*tensor.HETensor{in}, []int{3})
	require.False(t, out.AnyEncrypted())
	requireApprox(t, []float64{4, 5, 6}, readBack(t, e, out), 1e-9)
}

func TestBatchNorm(t *testing.T) {
	e := testEnv(t)
	gamma := plainTensor(t, []int{2}, []float64{1, 2})
	beta := plainTensor(t, []int{2}, []float64{0, 1})
	mean := plainTensor(t, []int{2}, []float64{1, 2})
	variance := plainTensor(t, []int{2}, []float64{4, 9})
	in := encryptSlots(t, e, plainTensor(t, []int{1, 2, 2}, []float64{1, 2, 3, 4}))

	n := &graph.Node{Op: graph.BatchNormInference}
	out := runKernel(t, e, n, []*tensor.HETensor{gamma, beta, in, mean, variance}, []int{1, 2, 2})
	want := []float64{0, 0.5, 2*3.0/3 - 1.0/3, 2*4.0/3 - 1.0/3}
	requireApprox(t, want, readBack(t, e, out), 1e-2)
}

func TestBatchNormRejectsEncryptedStats(t *testing.T) {
	e := testEnv(t)
	gamma := encryptSlots(t, e, plainTensor(t, []int{2}, []float64{1, 2}))
	beta := plainTensor(t, []int{2}, []float64{0, 0})
	mean := plainTensor(t, []int{2}, []float64{0, 0})
	variance := plainTensor(t, []int{2}, []float64{1, 1})
	in := plainTensor(t, []int{1, 2, 2}, []float64{1, 2, 3, 4})

	k, err := Lookup(graph.BatchNormInference)
	require.NoError(t, err)
	dst, err := tensor.NewHETensor([]int{1, 2, 2}, tensor.F64, false, false, 0)
	require.NoError(t, err)
	err = k(e, &graph.Node{Op: graph.BatchNormInference}, []*tensor.HETensor{gamma, beta, in, mean, variance}, dst)
	require.ErrorIs(t, err, tensor.ErrUnsupportedType)
}

func TestBroadcast(t *testing.T) {
	e := testEnv(t)
	in := plainTensor(t, []int{2}, []float64{1, 2})
	n := &graph.Node{Op: graph.Broadcast, Attrs: graph.Attrs{Axes: []int{1}}}
	out := runKernel(t, e, n, []*tensor.HETensor{in}, []int{2, 3})
	requireApprox(t, []float64{1, 1, 1, 2, 2, 2}, readBack(t, e, out), 1e-9)
}

func TestConcat(t *testing.T) {
	e := testEnv(t)
	a := plainTensor(t, []int{2, 2}, []float64{1, 2, 3, 4})
	b := plainTensor(t, []int{2, 2}, []float64{5, 6, 7, 8})
	n := &graph.Node{Op: graph.Concat, Attrs: graph.Attrs{Axis: 1}}
	out := runKernel(t, e, n, []*tensor.HETensor{a, b}, []int{2, 4})
	requireApprox(t, []float64{1, 2, 5, 6, 3, 4, 7, 8}, readBack(t, e, out), 1e-9)
}

func TestConcatCoverage(t *testing.T) {
	e := testEnv(t)
	a := plainTensor(t, []int{2, 2}, []float64{1, 2, 3, 4})
	k, err := Lookup(graph.Concat)
	require.NoError(t, err)
	dst, err := tensor.NewHETensor([]int{2, 3}, tensor.F64, false, false, 0)
	require.NoError(t, err)
	err = k(e, &graph.Node{Op: graph.Concat, Attrs: graph.Attrs{Axis: 1}}, []*tensor.HETensor{a}, dst)
	require.ErrorIs(t, err, tensor.ErrShapeMismatch)
}

func TestReshapeTranspose(t *testing.T) {
	e := testEnv(t)
	in := plainTensor(t, []int{2, 3}, []float64{1, 2, 3, 4, 5, 6})
	n := &graph.Node{Op: graph.Reshape, Attrs: graph.Attrs{InputOrder: []int{1, 0}}}
	out := runKernel(t, e, n, []*tensor.HETensor{in}, []int{3, 2})
	requireApprox(t, []float64{1, 4, 2, 5, 3, 6}, readBack(t, e, out), 1e-9)
}

func TestReshapeFlatten(t *testing.T) {
	e := testEnv(t)
	in := plainTensor(t, []int{2, 3}, []float64{1, 2, 3, 4, 5, 6})
	n := &graph.Node{Op: graph.Reshape}
	out := runKernel(t, e, n, []*tensor.HETensor{in}, []int{6})
	requireApprox(t, []float64{1, 2, 3, 4, 5, 6}, readBack(t, e, out), 1e-9)
}

func TestReverse(t *testing.T) {
	e := testEnv(t)
	in := plainTensor(t, []int{2, 3}, []float64{1, 2, 3, 4, 5, 6})
	n := &graph.Node{Op: graph.Reverse, Attrs: graph.Attrs{Axes: []int{1}}}
	out := runKernel(t, e, n, []*tensor.HETensor{in}, []int{2, 3})
	requireApprox(t, []float64{3, 2, 1, 6, 5, 4}, readBack(t, e, out), 1e-9)
}

func TestSlice(t *testing.T) {
	e := testEnv(t)
	values := []float64{1, 2, 3, 4, 5, 6, 7, 8, 9}

	in := plainTensor(t, []int{3, 3}, values)
	n := &graph.Node{Op: graph.Slice, Attrs: graph.Attrs{
		LowerBounds: []int{0, 1}, UpperBounds: []int{3, 3},
	}}
	out := runKernel(t, e, n, []*tensor.HETensor{in}, []int{3, 2})
	requireApprox(t, []float64{2, 3, 5, 6, 8, 9}, readBack(t, e, out), 1e-9)

	in = plainTensor(t, []int{3, 3}, values)
	n = &graph.Node{Op: graph.Slice, Attrs: graph.Attrs{
		LowerBounds: []int{0, 0}, UpperBounds: []int{3, 3}, Strides: []int{2, 2},
	}}
	out = runKernel(t, e, n, []*tensor.HETensor{in}, []int{2, 2})
	requireApprox(t, []float64{1, 3, 7, 9}, readBack(t, e, out), 1e-9)
}

func TestPadConstantAndEdge(t *testing.T) {
	e := testEnv(t)
	pad := plainTensor(t, []int{1}, []float64{9})
	attrs := graph.Attrs{PaddingBelow: []int{1, 1}, PaddingAbove: []int{0, 0}}

	in := plainTensor(t, []int{2, 2}, []float64{1, 2, 3, 4})
	n := &graph.Node{Op: graph.Pad, Attrs: attrs}
	out := runKernel(t, e, n, []*tensor.HETensor{in, pad}, []int{3, 3})
	requireApprox(t, []float64{9, 9, 9, 9, 1, 2, 9, 3, 4}, readBack(t, e, out), 1e-9)

	attrs.PadMode = "edge"
	in = plainTensor(t, []int{2, 2}, []float64{1, 2, 3, 4})
	n = &graph.Node{Op: graph.Pad, Attrs: attrs}
	out = runKernel(t, e, n, []*tensor.HETensor{in, pad}, []int{3, 3})
	requireApprox(t, []float64{1, 1, 2, 1, 1, 2, 3, 3, 4}, readBack(t, e, out), 1e-9)
}

func TestPadRejections(t *testing.T) {
	e := testEnv(t)
	in := plainTensor(t, []int{2, 2}, []float64{1, 2, 3, 4})
	k, err := Lookup(graph.Pad)
	require.NoError(t, err)
	dst, err := tensor.NewHETensor([]int{3, 3}, tensor.F64, false, false, 0)
	require.NoError(t, err)

	wide := plainTensor(t, []int{2}, []float64{9, 9})
	err = k(e, &graph.Node{Op: graph.Pad, Attrs: graph.Attrs{PaddingBelow: []int{1, 1}, PaddingAbove: []int{0, 0}}}, []*tensor.HETensor{in, wide}, dst)
	require.ErrorIs(t, err, tensor.ErrShapeMismatch)

	pad := plainTensor(t, []int{1}, []float64{9})
	err = k(e, &graph.Node{Op: graph.Pad, Attrs: graph.Attrs{PadMode: "reflect", PaddingBelow: []int{1, 1}, PaddingAbove: []int{0, 0}}}, []*tensor.HETensor{in, pad}, dst)
	require.ErrorIs(t, err, graph.ErrUnsupportedOp)
}

func TestSoftmax(t *testing.T) {
	e := testEnv(t)
	values := []float64{1, 2, 3}
	var want []float64
	sum := 0.0
	for _, x := range values {
		sum += math.Exp(x - 3)
	}
	for _, x := range values {
		want = append(want, math.Exp(x-3)/sum)
	}
	n := &graph.Node{Op: graph.Softmax, Attrs: graph.Attrs{Axes: []int{1}}}

	in := plainTensor(t, []int{1, 3}, values)
	out := runKernel(t, e, n, []*tensor.HETensor{in}, []int{1, 3})
	require.False(t, out.AnyEncrypted())
	requireApprox(t, want, readBack(t, e, out), 1e-9)

	enc := encryptSlots(t, e, plainTensor(t, []int{1, 3}, values))
	out = runKernel(t, e, n, []*tensor.HETensor{enc}, []int{1, 3})
	require.True(t, out.AnyEncrypted())
	requireApprox(t, want, readBack(t, e, out), 1e-2)
}

func TestReluMixedSlots(t *testing.T) {
	e := testEnv(t)
	in := plainTensor(t, []int{4}, []float64{-1, 2, -3, 4})
	encryptSlots(t, e, in, 1, 2)
	n := &graph.Node{Op: graph.Relu}
	out := runKernel(t, e, n, []*tensor.HETensor{in}, []int{4})
	require.True(t, out.Slots[0].IsPlain())
	require.True(t, out.Slots[1].IsCipher())
	requireApprox(t, []float64{0, 2, 0, 4}, readBack(t, e, out), 1e-2)
}

func TestBoundedRelu(t *testing.T) {
	e := testEnv(t)
	in := encryptSlots(t, e, plainTensor(t, []int{3}, []float64{-1, 0.5, 2}))
	n := &graph.Node{Op: graph.BoundedRelu, Attrs: graph.Attrs{Alpha: 1}}
	out := runKernel(t, e, n, []*tensor.HETensor{in}, []int{3})
	requireApprox(t, []float64{0, 0.5, 1}, readBack(t, e, out), 1e-2)
}

func TestReluOffloaded(t *testing.T) {
	e := testEnv(t)
	off := &hostOffloader{h: e.H}
	e.Offloader = off
	in := encryptSlots(t, e, plainTensor(t, []int{4}, []float64{-1, 2, -3, 4}))
	n := &graph.Node{Op: graph.Relu}
	out := runKernel(t, e, n, []*tensor.HETensor{in}, []int{4})
	require.Equal(t, 1, off.calls)
	requireApprox(t, []float64{0, 2, 0, 4}, readBack(t, e, out), 1e-2)
}

func TestConstantFill(t *testing.T) {
	e := testEnv(t)
	n := &graph.Node{Op: graph.Constant, Attrs: graph.Attrs{Values: []float64{7}}}
	out := runKernel(t, e, n, nil, []int{2, 2})
	requireApprox(t, []float64{7, 7, 7, 7}, readBack(t, e, out), 1e-9)

	n = &graph.Node{Op: graph.Constant, Attrs: graph.Attrs{Values: []float64{1, 2, 3, 4}}}
	out = runKernel(t, e, n, nil, []int{2, 2})
	requireApprox(t, []float64{1, 2, 3, 4}, readBack(t, e, out), 1e-9)
}

func TestResultCopies(t *testing.T) {
	e := testEnv(t)
	in := plainTensor(t, []int{2}, []float64{1, 2})
	n := &graph.Node{Op: graph.Result}
	out := runKernel(t, e, n, []*tensor.HETensor{in}, []int{2})
	in.Slots[0].Plain()[0] = 99
	requireApprox(t, []float64{1, 2}, readBack(t, e, out), 1e-9)
}

func TestAddPackedLanes(t *testing.T) {
	e := testEnv(t)
	mk := func(values []float64) *tensor.HETensor {
		tt, err := tensor.NewHETensor([]int{2, 2}, tensor.F64, true, false, e.H.SlotCount())
		require.NoError(t, err)
		require.NoError(t, tt.WriteValues(values))
		return tt
	}
	a := mk([]float64{1, 2, 3, 4})
	b := mk([]float64{10, 20, 30, 40})
	out, err := tensor.NewHETensor([]int{2, 2}, tensor.F64, true, false, e.H.SlotCount())
	require.NoError(t, err)
	k, err := Lookup(graph.Add)
	require.NoError(t, err)
	require.NoError(t, k(e, &graph.Node{Op: graph.Add}, []*tensor.HETensor{a, b}, out))
	require.Equal(t, 2, len(out.Slots))
	requireApprox(t, []float64{11, 22, 33, 44}, readBack(t, e, out), 1e-9)
}
