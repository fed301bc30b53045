// Package advisor estimates the multiplicative depth a compiled function
// consumes and recommends encryption parameters whose modulus chain covers
// it at the requested security level.
package advisor

import (
	"errors"
	"fmt"

	"hegraph/core/ckkswrapper"
	"hegraph/graph"
)

// ErrDepthExceedsBudget reports that no supported polynomial degree can
// carry the modulus chain the function needs at the requested security.
var ErrDepthExceedsBudget = errors.New("multiplicative depth exceeds the modulus budget")

// scaledBits is the per-level prime size the recommendation builds the
// chain from. Matches the default parameter chain.
const scaledBits = 30

// consumesLevel holds the operations whose kernels rescale their output,
// dropping one modulus below the deepest input.
var consumesLevel = map[graph.Op]bool{
	graph.Multiply:           true,
	graph.Divide:             true,
	graph.Dot:                true,
	graph.Convolution:        true,
	graph.AvgPool:            true,
	graph.BatchNormInference: true,
}

// refreshesLevel holds the operations evaluated outside the ciphertext
// domain. Their outputs come back freshly encrypted at the top of the
// chain.
var refreshesLevel = map[graph.Op]bool{
	graph.Relu:        true,
	graph.BoundedRelu: true,
	graph.MaxPool:     true,
	graph.Softmax:     true,
	graph.Exp:         true,
	graph.Power:       true,
	graph.Max:         true,
}

// Depths returns the multiplicative depth at which each tensor of the
// function is produced. Parameters and constants sit at depth zero.
func Depths(f *graph.Function) map[string]int {
	depths := make(map[string]int, len(f.Parameters)+len(f.Nodes))
	for _, p := range f.Parameters {
		depths[p] = 0
	}
	for _, n := range f.Nodes {
		switch {
		case n.Op == graph.Parameter || n.Op == graph.Constant:
			depths[n.Output] = 0
		case refreshesLevel[n.Op]:
			depths[n.Output] = 0
		default:
			d := 0
			for _, in := range n.Inputs {
				if depths[in] > d {
					d = depths[in]
				}
			}
			if consumesLevel[n.Op] {
				d++
			}
			depths[n.Output] = d
		}
	}
	return depths
}

// MaxDepth returns the deepest point of the function, over every tensor
// it produces. Intermediate tensors count: the chain has to carry them
// even when a later refresh resets the depth.
func MaxDepth(f *graph.Function) int {
	max := 0
	for _, d := range Depths(f) {
		if d > max {
			max = d
		}
	}
	return max
}

// Recommend builds encryption parameters covering the function's depth:
// one 30-bit modulus per level plus the level-zero prime and a
// key-switching prime, on the smallest polynomial degree whose budget
// holds the chain at the requested security level. Security zero sizes
// the degree against the 128-bit bound and keeps SecurityLevel zero in
// the result.
func Recommend(f *graph.Function, security int, complexPacking bool) (ckkswrapper.EncryptionParameters, error) {
	depth := MaxDepth(f)
	chain := make([]int, depth+2)
	for i := range chain {
		chain[i] = scaledBits
	}
	total := scaledBits * len(chain)

	effective := security
	if effective == 0 {
		effective = 128
	}
	var degree uint64
	for _, d := range ckkswrapper.SupportedDegrees() {
		budget, ok := ckkswrapper.ModulusBudget(d, effective)
		if ok && total <= budget {
			degree = d
			break
		}
	}
	if degree == 0 {
		return ckkswrapper.EncryptionParameters{}, fmt.Errorf(
			"%w: depth %d needs %d modulus bits, over the %d-bit bound at every supported degree",
			ErrDepthExceedsBudget, depth, total, effective)
	}
	return ckkswrapper.EncryptionParameters{
		SchemeName:        ckkswrapper.SchemeName,
		PolyModulusDegree: degree,
		SecurityLevel:     security,
		CoeffModulusBits:  chain,
		Scale:             float64(uint64(1) << scaledBits),
		ComplexPacking:    complexPacking,
	}, nil
}
