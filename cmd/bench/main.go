// hegraph-bench: microbenchmark the homomorphic primitives under a
// parameter set before committing a deployment to it.
package main

import (
	"flag"
	"fmt"
	"os"

	"hegraph/core/ckkswrapper"
	"hegraph/utils"

	"github.com/tuneinsight/lattigo/v5/core/rlwe"
	"gonum.org/v1/gonum/stat/distuv"
)

var (
	paramsSpec = flag.String("params", "", "Encryption parameters (JSON string or file path)")
	iterations = flag.Int("n", 20, "Samples per primitive")
	verbose    = flag.Bool("verbose", true, "Verbose output")
)

func main() {
	flag.Parse()
	utils.Verbose = *verbose

	if err := run(); err != nil {
		fmt.Fprintf(os.Stderr, "hegraph-bench: %v\n", err)
		os.Exit(1)
	}
}

func run() error {
	meta := ckkswrapper.DefaultParameters()
	if *paramsSpec != "" {
		var err error
		if meta, err = ckkswrapper.ParseParameters(*paramsSpec); err != nil {
			return err
		}
	}
	meta.Print()

	h, err := ckkswrapper.NewHeContext(meta)
	if err != nil {
		return err
	}
	eval := ckkswrapper.NewCountingEvaluator(h)
	timer := utils.NewOpTimer()

	dist := distuv.Uniform{Min: -1, Max: 1}
	values := make([]float64, h.BatchCapacity())
	for i := range values {
		values[i] = dist.Rand()
	}

	for i := 0; i < *iterations; i++ {
		var a, b *rlwe.Ciphertext
		if err := timer.Time("Encrypt", func() error {
			var err error
			a, err = h.EncryptValues(values)
			return err
		}); err != nil {
			return err
		}
		if b, err = h.EncryptValues(values); err != nil {
			return err
		}

		if err := timer.Time("Add", func() error {
			_, err := eval.AddNew(a, b)
			return err
		}); err != nil {
			return err
		}

		var prod *rlwe.Ciphertext
		if err := timer.Time("MulRelin", func() error {
			var err error
			prod, err = eval.MulRelinNew(a, b)
			return err
		}); err != nil {
			return err
		}
		if err := timer.Time("Rescale", func() error {
			return eval.Rescale(prod)
		}); err != nil {
			return err
		}
		if err := timer.Time("MatchModulusAndScale", func() error {
			return eval.MatchModulusAndScale(b, prod)
		}); err != nil {
			return err
		}

		var fresh *rlwe.Ciphertext
		if err := timer.Time("CheatBootstrap", func() error {
			var err error
			fresh, err = h.CheatBootstrap(prod)
			return err
		}); err != nil {
			return err
		}
		if err := timer.Time("Decrypt", func() error {
			_, err := h.DecryptValues(fresh, len(values))
			return err
		}); err != nil {
			return err
		}
	}

	timer.PrintSummaries()
	eval.PrintCounters("microbench")
	return nil
}
