package graph

// Annotation captures the representation bits flowed from parameters to
// every tensor before execution.
type Annotation struct {
	Encrypted  bool
	Packed     bool
	FromClient bool
}

// Propagate flows parameter annotations through the graph. Encrypted
// spreads to the output of any node reading an encrypted input; packed
// spreads when the consuming node preserves the batch axis. The pass is
// idempotent: re-running it over its own output changes nothing.
func Propagate(f *Function, params map[string]Annotation) map[string]Annotation {
	ann := make(map[string]Annotation, len(params)+len(f.Nodes))
	for name, a := range params {
		ann[name] = a
	}
	for _, n := range f.Nodes {
		out := ann[n.Output]
		batch := 0
		for _, in := range n.Inputs {
			a := ann[in]
			if a.Encrypted {
				out.Encrypted = true
			}
			if a.Packed && batch == 0 {
				batch = packedBatch(f, in)
			}
		}
		if batch > 0 && preservesBatchAxis(n, batch) {
			out.Packed = true
		}
		ann[n.Output] = out
	}
	return ann
}

func packedBatch(f *Function, name string) int {
	if n := f.NodeByOutput(name); n != nil && len(n.OutputShape) > 0 {
		return n.OutputShape[0]
	}
	if shape, ok := f.ParameterShapes[name]; ok && len(shape) > 0 {
		return shape[0]
	}
	return -1
}

// preservesBatchAxis reports whether a node keeps the folded batch axis
// intact, so packing may carry to its output.
func preservesBatchAxis(n Node, batch int) bool {
	switch n.Op {
	case Dot, Sum, Broadcast:
		// These may contract or reorder the leading axis; packing carries
		// only when the output still leads with the batch axis.
		return len(n.OutputShape) > 0 && n.OutputShape[0] == batch
	case Concat:
		return n.Attrs.Axis != 0
	case Reshape:
		return len(n.OutputShape) > 0 && n.OutputShape[0] == batch &&
			(len(n.Attrs.InputOrder) == 0 || n.Attrs.InputOrder[0] == 0)
	default:
		if batch < 0 {
			// Unknown producer shape: fall back to the output shape alone.
			return len(n.OutputShape) > 0
		}
		return len(n.OutputShape) == 0 || n.OutputShape[0] == batch
	}
}
