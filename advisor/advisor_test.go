package advisor

import (
	"testing"

	"hegraph/core/ckkswrapper"
	"hegraph/graph"

	"github.com/stretchr/testify/require"
)

func addFunction() *graph.Function {
	return &graph.Function{
		Name:       "add",
		ElemType:   "f64",
		Parameters: []string{"a", "b"},
		Results:    []string{"sum"},
		ParameterShapes: map[string][]int{
			"a": {2, 2},
			"b": {2, 2},
		},
		Nodes: []graph.Node{
			{ID: 0, Op: graph.Parameter, Output: "a", OutputShape: []int{2, 2}},
			{ID: 1, Op: graph.Parameter, Output: "b", OutputShape: []int{2, 2}},
			{ID: 2, Op: graph.Add, Inputs: []string{"a", "b"}, Output: "sum", OutputShape: []int{2, 2}},
		},
	}
}

func dotMulFunction() *graph.Function {
	return &graph.Function{
		Name:       "dotmul",
		ElemType:   "f64",
		Parameters: []string{"x", "w"},
		Results:    []string{"z"},
		ParameterShapes: map[string][]int{
			"x": {1, 2},
			"w": {2, 2},
		},
		Nodes: []graph.Node{
			{ID: 0, Op: graph.Parameter, Output: "x", OutputShape: []int{1, 2}},
			{ID: 1, Op: graph.Parameter, Output: "w", OutputShape: []int{2, 2}},
			{ID: 2, Op: graph.Dot, Inputs: []string{"x", "w"}, Output: "y", OutputShape: []int{1, 2},
				Attrs: graph.Attrs{ReductionAxesCount: 1}},
			{ID: 3, Op: graph.Multiply, Inputs: []string{"y", "y"}, Output: "z", OutputShape: []int{1, 2}},
		},
	}
}

func TestDepthsElementwiseStaysFlat(t *testing.T) {
	f := addFunction()
	require.NoError(t, f.Validate())
	d := Depths(f)
	require.Equal(t, 0, d["a"])
	require.Equal(t, 0, d["sum"])
	require.Equal(t, 0, MaxDepth(f))
}

func TestDepthsAccumulateThroughProducts(t *testing.T) {
	f := dotMulFunction()
	require.NoError(t, f.Validate())
	d := Depths(f)
	require.Equal(t, 1, d["y"])
	require.Equal(t, 2, d["z"])
	require.Equal(t, 2, MaxDepth(f))
}

func TestDepthsResetAtHostEvaluation(t *testing.T) {
	f := &graph.Function{
		Name:       "mlp",
		ElemType:   "f64",
		Parameters: []string{"x", "w1", "w2"},
		Results:    []string{"out"},
		ParameterShapes: map[string][]int{
			"x":  {1, 2},
			"w1": {2, 2},
			"w2": {2, 2},
		},
		Nodes: []graph.Node{
			{ID: 0, Op: graph.Parameter, Output: "x", OutputShape: []int{1, 2}},
			{ID: 1, Op: graph.Parameter, Output: "w1", OutputShape: []int{2, 2}},
			{ID: 2, Op: graph.Parameter, Output: "w2", OutputShape: []int{2, 2}},
			{ID: 3, Op: graph.Dot, Inputs: []string{"x", "w1"}, Output: "h", OutputShape: []int{1, 2},
				Attrs: graph.Attrs{ReductionAxesCount: 1}},
			{ID: 4, Op: graph.Relu, Inputs: []string{"h"}, Output: "a", OutputShape: []int{1, 2}},
			{ID: 5, Op: graph.Dot, Inputs: []string{"a", "w2"}, Output: "out", OutputShape: []int{1, 2},
				Attrs: graph.Attrs{ReductionAxesCount: 1}},
		},
	}
	require.NoError(t, f.Validate())
	d := Depths(f)
	require.Equal(t, 1, d["h"])
	require.Equal(t, 0, d["a"])
	require.Equal(t, 1, d["out"])
	require.Equal(t, 1, MaxDepth(f))
}

func TestRecommendCoversDepth(t *testing.T) {
	f := dotMulFunction()
	params, err := Recommend(f, 128, false)
	require.NoError(t, err)
	require.Len(t, params.CoeffModulusBits, 4)

	total := 0
	for _, bits := range params.CoeffModulusBits {
		total += bits
	}
	budget, ok := ckkswrapper.ModulusBudget(params.PolyModulusDegree, 128)
	require.True(t, ok)
	require.LessOrEqual(t, total, budget)

	h, err := ckkswrapper.NewHeContext(params)
	require.NoError(t, err)
	require.NotNil(t, h)
}

func TestRecommendPicksSmallestDegree(t *testing.T) {
	f := addFunction()
	params, err := Recommend(f, 128, true)
	require.NoError(t, err)
	// Two 30-bit primes need 60 bits; 4096 is the first degree over that.
	require.Equal(t, uint64(4096), params.PolyModulusDegree)
	require.True(t, params.ComplexPacking)
}

func TestRecommendRejectsUnpayableDepth(t *testing.T) {
	f := &graph.Function{
		Name:       "deep",
		ElemType:   "f64",
		Parameters: []string{"x"},
		Results:    []string{"t14"},
		ParameterShapes: map[string][]int{
			"x": {2},
		},
		Nodes: []graph.Node{
			{ID: 0, Op: graph.Parameter, Output: "x", OutputShape: []int{2}},
		},
	}
	prev := "x"
	for i := 1; i <= 14; i++ {
		out := "t" + string(rune('0'+i/10)) + string(rune('0'+i%10))
		f.Nodes = append(f.Nodes, graph.Node{
			ID: i, Op: graph.Multiply, Inputs: []string{prev, prev}, Output: out, OutputShape: []int{2},
		})
		prev = out
	}
	f.Results = []string{prev}
	require.NoError(t, f.Validate())
	require.Equal(t, 14, MaxDepth(f))

	// Sixteen 30-bit primes overrun even the largest degree at 256-bit
	// security.
	_, err := Recommend(f, 256, false)
	require.ErrorIs(t, err, ErrDepthExceedsBudget)

	params, err := Recommend(f, 128, false)
	require.NoError(t, err)
	require.Equal(t, uint64(32768), params.PolyModulusDegree)
}

func TestRecommendSecurityZeroStillSizesChain(t *testing.T) {
	f := dotMulFunction()
	params, err := Recommend(f, 0, false)
	require.NoError(t, err)
	require.Equal(t, 0, params.SecurityLevel)
	require.Equal(t, uint64(8192), params.PolyModulusDegree)
}
