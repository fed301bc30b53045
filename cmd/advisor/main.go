// hegraph-advisor: recommend encryption parameters for a compiled function.
package main

import (
	"encoding/json"
	"flag"
	"fmt"
	"os"

	"hegraph/advisor"
	"hegraph/graph"
	"hegraph/utils"
)

var (
	graphPath = flag.String("graph", "", "Path to the compiled function JSON")
	security  = flag.Int("security", 128, "Security level (0, 128, 192, 256)")
	complexP  = flag.Bool("complex", false, "Recommend complex packing")
	verbose   = flag.Bool("verbose", true, "Verbose output")
)

func main() {
	flag.Parse()
	utils.Verbose = *verbose

	if *graphPath == "" {
		fmt.Fprintln(os.Stderr, "missing -graph")
		os.Exit(2)
	}
	if err := run(); err != nil {
		fmt.Fprintf(os.Stderr, "hegraph-advisor: %v\n", err)
		os.Exit(1)
	}
}

func run() error {
	data, err := os.ReadFile(*graphPath)
	if err != nil {
		return err
	}
	f, err := graph.ParseFunction(data)
	if err != nil {
		return err
	}

	depths := advisor.Depths(f)
	utils.Logf(0, "function %q: %d nodes, multiplicative depth %d", f.Name, len(f.Nodes), advisor.MaxDepth(f))
	for _, r := range f.Results {
		utils.Logf(0, "result %q produced at depth %d", r, depths[r])
	}

	params, err := advisor.Recommend(f, *security, *complexP)
	if err != nil {
		return err
	}
	params.Print()

	encoded, err := json.Marshal(params)
	if err != nil {
		return err
	}
	fmt.Fprintln(utils.Output, string(encoded))
	return nil
}
