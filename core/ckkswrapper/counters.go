package ckkswrapper

import (
	"fmt"
	"sync/atomic"

	"hegraph/utils"

	"github.com/tuneinsight/lattigo/v5/core/rlwe"
)

// OpCounts accumulates primitive-operation counts. Atomic so the kernel
// parallel-for can share one instance across goroutines.
type OpCounts struct {
	Add     atomic.Int64
	Mul     atomic.Int64
	Relin   atomic.Int64
	Rescale atomic.Int64
	Switch  atomic.Int64
}

// CountingEvaluator routes primitive calls through the context while
// counting them. ShallowCopy shares the counters but forks the context
// buffers, one copy per goroutine.
type CountingEvaluator struct {
	H      *HeContext
	counts *OpCounts
}

// NewCountingEvaluator creates a counting evaluator over the context.
func NewCountingEvaluator(h *HeContext) *CountingEvaluator {
	return &CountingEvaluator{H: h, counts: &OpCounts{}}
}

// ShallowCopy forks the context buffers for one goroutine; the counters
// stay shared.
func (c *CountingEvaluator) ShallowCopy() *CountingEvaluator {
	return &CountingEvaluator{H: c.H.ShallowCopy(), counts: c.counts}
}

// Counts exposes the shared counters.
func (c *CountingEvaluator) Counts() *OpCounts {
	return c.counts
}

// ResetCounters resets all operation counters to zero.
func (c *CountingEvaluator) ResetCounters() {
	c.counts.Add.Store(0)
	c.counts.Mul.Store(0)
	c.counts.Relin.Store(0)
	c.counts.Rescale.Store(0)
	c.counts.Switch.Store(0)
}

// PrintCounters prints the current operation counts.
// Respects utils.Verbose flag - does nothing if Verbose is false.
func (c *CountingEvaluator) PrintCounters(phaseName string) {
	if !utils.Verbose {
		return
	}
	fmt.Fprintf(utils.Output, "=== Phase: %s ===\n", phaseName)
	fmt.Fprintf(utils.Output, "Adds: %d, Muls: %d, Relins: %d, Rescales: %d, ModSwitches: %d\n",
		c.counts.Add.Load(), c.counts.Mul.Load(), c.counts.Relin.Load(),
		c.counts.Rescale.Load(), c.counts.Switch.Load())
}

// AddNew wraps Evaluator.AddNew and counts the addition.
func (c *CountingEvaluator) AddNew(op0 *rlwe.Ciphertext, op1 rlwe.Operand) (*rlwe.Ciphertext, error) {
	c.counts.Add.Add(1)
	return c.H.Evaluator.AddNew(op0, op1)
}

// SubNew wraps Evaluator.SubNew and counts as addition.
func (c *CountingEvaluator) SubNew(op0 *rlwe.Ciphertext, op1 rlwe.Operand) (*rlwe.Ciphertext, error) {
	c.counts.Add.Add(1)
	return c.H.Evaluator.SubNew(op0, op1)
}

// MulRelinNew wraps Evaluator.MulRelinNew and counts a multiply plus a
// relinearization.
func (c *CountingEvaluator) MulRelinNew(op0 *rlwe.Ciphertext, op1 rlwe.Operand) (*rlwe.Ciphertext, error) {
	c.counts.Mul.Add(1)
	c.counts.Relin.Add(1)
	return c.H.Evaluator.MulRelinNew(op0, op1)
}

// MulNew wraps Evaluator.MulNew (no relinearization) and counts the multiply.
func (c *CountingEvaluator) MulNew(op0 *rlwe.Ciphertext, op1 rlwe.Operand) (*rlwe.Ciphertext, error) {
	c.counts.Mul.Add(1)
	return c.H.Evaluator.MulNew(op0, op1)
}

// Rescale wraps the snapping rescale and counts it.
func (c *CountingEvaluator) Rescale(ct *rlwe.Ciphertext) error {
	c.counts.Rescale.Add(1)
	return c.H.Rescale(ct)
}

// DropToLevel wraps the context mod-switch and counts it.
func (c *CountingEvaluator) DropToLevel(ct *rlwe.Ciphertext, level int) error {
	c.counts.Switch.Add(1)
	return c.H.DropToLevel(ct, level)
}

// MatchModulusAndScale wraps the context operand matching and counts the
// switches it performs.
func (c *CountingEvaluator) MatchModulusAndScale(a, b *rlwe.Ciphertext) error {
	if a.Level() != b.Level() {
		c.counts.Switch.Add(1)
	}
	return c.H.MatchModulusAndScale(a, b)
}
