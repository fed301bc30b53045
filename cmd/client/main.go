// hegraph-client: key-holding client driving one inference against a
// running server.
package main

import (
	"flag"
	"fmt"
	"math/rand"
	"os"
	"time"

	"hegraph/split"
	"hegraph/utils"
)

var (
	addr       = flag.String("addr", fmt.Sprintf("localhost:%d", utils.DefaultPort), "Server address")
	valuesPath = flag.String("values", "", "Path to a model values JSON bundle with the client inputs")
	seed       = flag.Int64("seed", 42, "Seed for synthetic inputs when no bundle is given")
	verbose    = flag.Bool("verbose", true, "Verbose output")
)

func main() {
	flag.Parse()
	utils.Verbose = *verbose

	if err := run(); err != nil {
		fmt.Fprintf(os.Stderr, "hegraph-client: %v\n", err)
		os.Exit(1)
	}
}

func run() error {
	inputs := make(map[string][]float64)
	if *valuesPath != "" {
		bundle, err := utils.LoadValues(*valuesPath)
		if err != nil {
			return err
		}
		for name, tv := range bundle.Tensors {
			inputs[name] = tv.Data
		}
	}

	c, err := split.NewClient(*addr)
	if err != nil {
		return err
	}
	defer c.Close()

	// With no bundle the client answers shape requests with synthetic
	// normal data, which exercises the full protocol end to end.
	if *valuesPath == "" {
		rng := rand.New(rand.NewSource(*seed))
		c.SyntheticInputs = func(name string, size int) []float64 {
			utils.Logf(0, "no bundle value for %q, sending synthetic input", name)
			data := make([]float64, size)
			for i := range data {
				data[i] = rng.NormFloat64()
			}
			return data
		}
	}

	start := time.Now()
	results, err := c.Run(inputs)
	if err != nil {
		return err
	}
	utils.Logf(0, "inference complete (%.2fs)", time.Since(start).Seconds())

	for name, values := range results {
		fmt.Fprintf(utils.Output, "result %q: %v\n", name, values)
	}
	return nil
}
