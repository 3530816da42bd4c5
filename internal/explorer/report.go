package explorer

import (
	"fmt"
	"io"
	"time"

	"github.com/c2h5oh/datasize"
	"github.com/jedib0t/go-pretty/v6/table"
)

// RunResult is one timed query execution.
type RunResult struct {
	TestNum      int
	RunNum       int
	Predicate    string
	Matched      int64
	Elapsed      time.Duration
	Consistent   bool
	ResultBlocks int
}

// Report collects run results and renders the human-readable experiment
// summary.
type Report struct {
	cfg          *Config
	LoadDuration time.Duration
	NumBlocks    int
	Results      []RunResult
}

// NewReport creates an empty report for a configuration.
func NewReport(cfg *Config) *Report {
	return &Report{cfg: cfg}
}

// Append records one run.
func (r *Report) Append(result RunResult) {
	r.Results = append(r.Results, result)
}

// Render writes the report to w.
func (r *Report) Render(w io.Writer) {
	layout := r.cfg.LayoutType
	if r.cfg.UseCompression {
		layout = "compressed " + layout
	}
	if r.cfg.UseBlocks {
		blockSize := datasize.ByteSize(uint64(r.cfg.BlockSizeMB) * uint64(datasize.MB))
		fmt.Fprintf(w, "table=%s layout=%s blocks=%d block_size=%s tuples=%d threads=%d\n",
			r.cfg.Table, layout, r.NumBlocks, blockSize.HumanReadable(), r.cfg.NumTuples, r.cfg.NumThreads)
	} else {
		fmt.Fprintf(w, "table=%s layout=%s (flat) tuples=%d threads=%d\n",
			r.cfg.Table, layout, r.cfg.NumTuples, r.cfg.NumThreads)
	}
	fmt.Fprintf(w, "load time: %s\n", r.LoadDuration)
	if r.cfg.MeasureCacheMisses {
		fmt.Fprintln(w, "cache-miss measurement is not supported in this build; timings only")
	}

	t := table.NewWriter()
	t.SetOutputMirror(w)
	t.AppendHeader(table.Row{"Test", "Run", "Predicate", "Matches", "Elapsed", "Result Blocks", "Status"})
	for _, result := range r.Results {
		status := "ok"
		if !result.Consistent {
			status = "result blocks had inconsistent indexes"
		}
		t.AppendRow(table.Row{
			result.TestNum,
			result.RunNum,
			result.Predicate,
			result.Matched,
			result.Elapsed.Round(time.Microsecond),
			result.ResultBlocks,
			status,
		})
	}
	t.Render()

	// Per-test aggregates over runs.
	t2 := table.NewWriter()
	t2.SetOutputMirror(w)
	t2.AppendHeader(table.Row{"Test", "Runs", "Mean", "Min"})
	for testNum := range r.cfg.Tests {
		var total time.Duration
		min := time.Duration(0)
		count := 0
		for _, result := range r.Results {
			if result.TestNum != testNum {
				continue
			}
			total += result.Elapsed
			if count == 0 || result.Elapsed < min {
				min = result.Elapsed
			}
			count++
		}
		if count == 0 {
			continue
		}
		t2.AppendRow(table.Row{
			testNum,
			count,
			(total / time.Duration(count)).Round(time.Microsecond),
			min.Round(time.Microsecond),
		})
	}
	t2.Render()
}
