// hegraph-server: serve a compiled function over homomorphic tensors.
package main

import (
	"flag"
	"fmt"
	"math"
	"os"
	"strings"

	"hegraph/core/ckkswrapper"
	"hegraph/executor"
	"hegraph/graph"
	"hegraph/tensor"
	"hegraph/utils"

	"gonum.org/v1/gonum/stat/distuv"
)

var (
	graphPath    = flag.String("graph", "", "Path to the compiled function JSON")
	paramsSpec   = flag.String("params", "", "Encryption parameters (JSON string or file path)")
	valuesPath   = flag.String("values", "", "Path to a model values JSON bundle for server-bound parameters")
	port         = flag.Int("port", utils.DefaultPort, "Rendezvous port for client-aided mode")
	enableClient = flag.Bool("enable-client", false, "Wait for a key-holding client")
	verbose      = flag.Bool("verbose", true, "Verbose output")
)

// tensorOpts collects repeated -tensor name=attrs flags into the backend
// option map.
type tensorOpts map[string]string

func (o tensorOpts) String() string { return "" }

func (o tensorOpts) Set(v string) error {
	name, attrs, ok := strings.Cut(v, "=")
	if !ok {
		return fmt.Errorf("want name=attrs, got %q", v)
	}
	o[name] = attrs
	return nil
}

func main() {
	opts := make(tensorOpts)
	flag.Var(opts, "tensor", "Tensor attributes as name=attr[,attr...] (client_input, encrypt, packed); repeatable")
	flag.Parse()
	utils.Verbose = *verbose

	if *graphPath == "" {
		fmt.Fprintln(os.Stderr, "missing -graph")
		os.Exit(2)
	}
	if err := run(opts); err != nil {
		fmt.Fprintf(os.Stderr, "hegraph-server: %v\n", err)
		os.Exit(1)
	}
}

func run(opts tensorOpts) error {
	data, err := os.ReadFile(*graphPath)
	if err != nil {
		return err
	}
	f, err := graph.ParseFunction(data)
	if err != nil {
		return err
	}
	utils.Logf(0, "function %q: %d nodes, %d parameters, %d results", f.Name, len(f.Nodes), len(f.Parameters), len(f.Results))

	options := map[string]string{
		"port": fmt.Sprintf("%d", *port),
	}
	if *enableClient {
		options["enable_client"] = "true"
	}
	for name, attrs := range opts {
		options[name] = attrs
	}
	cfg, err := utils.ParseConfig(options)
	if err != nil {
		return err
	}
	if err := cfg.Validate(); err != nil {
		return err
	}

	meta := ckkswrapper.DefaultParameters()
	if *paramsSpec != "" {
		if meta, err = ckkswrapper.ParseParameters(*paramsSpec); err != nil {
			return err
		}
	}
	meta.Print()

	var h *ckkswrapper.HeContext
	if cfg.EnableClient {
		h, err = ckkswrapper.NewServerContext(meta)
	} else {
		h, err = ckkswrapper.NewHeContext(meta)
	}
	if err != nil {
		return err
	}

	x, err := executor.NewExecutable(f, h, cfg)
	if err != nil {
		return err
	}
	defer x.Close()

	serverInputs, err := bindServerInputs(f, x, h)
	if err != nil {
		return err
	}

	results, err := x.Call(serverInputs)
	if err != nil {
		return err
	}
	if cfg.EnableClient {
		utils.Logf(0, "results delivered to client")
		return nil
	}
	return printResults(f, results, h)
}

// bindServerInputs builds the tensors for every parameter the client does
// not provide: values from the bundle when named there, random uniform
// otherwise.
func bindServerInputs(f *graph.Function, x *executor.Executable, h *ckkswrapper.HeContext) (map[string]*tensor.HETensor, error) {
	var bundle *utils.ModelValues
	if *valuesPath != "" {
		var err error
		if bundle, err = utils.LoadValues(*valuesPath); err != nil {
			return nil, err
		}
	}
	ann := x.Annotations()
	inputs := make(map[string]*tensor.HETensor)
	for _, p := range f.Parameters {
		if ann[p].FromClient {
			continue
		}
		shape, ok := f.ParameterShapes[p]
		if !ok {
			return nil, fmt.Errorf("parameter %q has no declared shape", p)
		}
		t, err := tensor.NewHETensor(shape, tensor.F64, ann[p].Packed, h.Meta.ComplexPacking, h.SlotCount())
		if err != nil {
			return nil, err
		}
		size := 1
		for _, d := range shape {
			size *= d
		}
		var values []float64
		if bundle != nil {
			if tv, ok := bundle.Tensors[p]; ok {
				values = tv.Data
			}
		}
		if values == nil {
			values = randomValues(size, float64(size))
			utils.Logf(0, "parameter %q not in values bundle, random init", p)
		}
		if err := t.WriteValues(values); err != nil {
			return nil, err
		}
		inputs[p] = t
	}
	return inputs, nil
}

// randomValues samples uniformly from (-1/sqrt(v), 1/sqrt(v)).
func randomValues(size int, v float64) []float64 {
	dist := distuv.Uniform{
		Min: -1 / math.Sqrt(v),
		Max: 1 / math.Sqrt(v),
	}
	data := make([]float64, size)
	for i := range data {
		data[i] = dist.Rand()
	}
	return data
}

func printResults(f *graph.Function, results map[string]*tensor.HETensor, h *ckkswrapper.HeContext) error {
	for _, r := range f.Results {
		t := results[r]
		for i, s := range t.Slots {
			if !s.IsCipher() {
				continue
			}
			values, err := h.DecryptValues(s.Cipher(), t.BatchSize())
			if err != nil {
				return err
			}
			t.Slots[i] = tensor.NewPlain(values, t.ComplexPacking())
		}
		values, err := t.ReadValues()
		if err != nil {
			return err
		}
		fmt.Fprintf(utils.Output, "result %q shape %v: %v\n", r, t.Shape(), values)
	}
	return nil
}
