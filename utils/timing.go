package utils

import (
	"fmt"
	"sort"
	"time"

	"github.com/montanaflynn/stats"
)

// OpTimer accumulates wall-clock samples per operation name.
type OpTimer struct {
	samples map[string][]time.Duration
}

// NewOpTimer creates an empty timer map.
func NewOpTimer() *OpTimer {
	return &OpTimer{samples: make(map[string][]time.Duration)}
}

// Record adds one sample for the named operation.
func (t *OpTimer) Record(name string, d time.Duration) {
	t.samples[name] = append(t.samples[name], d)
}

// Time runs fn and records its duration under name.
func (t *OpTimer) Time(name string, fn func() error) error {
	start := time.Now()
	err := fn()
	t.Record(name, time.Since(start))
	return err
}

// Samples returns the recorded samples for the named operation.
func (t *OpTimer) Samples(name string) []time.Duration {
	return t.samples[name]
}

// Reset drops all recorded samples.
func (t *OpTimer) Reset() {
	t.samples = make(map[string][]time.Duration)
}

// TimingSummary holds aggregate statistics for one operation.
type TimingSummary struct {
	Name     string
	Count    int
	Total    time.Duration
	MeanUS   float64
	MedianUS float64
	StdDevUS float64
}

// Summaries computes per-op statistics, ordered by descending total time.
func (t *OpTimer) Summaries() []TimingSummary {
	out := make([]TimingSummary, 0, len(t.samples))
	for name, ds := range t.samples {
		us := make([]float64, len(ds))
		var total time.Duration
		for i, d := range ds {
			us[i] = DurationUS(d)
			total += d
		}
		mean, _ := stats.Mean(us)
		median, _ := stats.Median(us)
		stddev, _ := stats.StandardDeviation(us)
		out = append(out, TimingSummary{
			Name:     name,
			Count:    len(ds),
			Total:    total,
			MeanUS:   mean,
			MedianUS: median,
			StdDevUS: stddev,
		})
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Total > out[j].Total })
	return out
}

// PrintSummaries prints per-op timing statistics.
// Respects the Verbose flag - does nothing if Verbose is false.
func (t *OpTimer) PrintSummaries() {
	if !Verbose {
		return
	}
	fmt.Fprintln(Output, "\n=== TIMING STATISTICS ===")
	for _, s := range t.Summaries() {
		fmt.Fprintf(Output, "  %-22s count=%-5d total=%-12v mean=%.1fus median=%.1fus stddev=%.1fus\n",
			s.Name, s.Count, s.Total, s.MeanUS, s.MedianUS, s.StdDevUS)
	}
}

// DurationUS converts any time.Duration to micro-seconds as float64
func DurationUS(d time.Duration) float64 {
	return float64(d.Nanoseconds()) / 1_000.0
}
