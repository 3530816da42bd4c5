package explorer

import (
	"bytes"
	"strings"
	"testing"
)

func smokeConfig(useBlocks bool, layoutType string, compression bool) *Config {
	sortColumn := 0
	cfg := &Config{
		UseBlocks:      useBlocks,
		Table:          TableNarrowE,
		NumTuples:      2000,
		LayoutType:     layoutType,
		UseCompression: compression,
		NumRuns:        2,
		NumThreads:     2,
		BlockSizeMB:    1,
		Tests: []TestConfig{
			{PredicateColumn: 3, Selectivity: 0.5, ProjectionWidth: 0},
			{PredicateColumn: 3, Selectivity: 0.2, ProjectionWidth: 3},
		},
	}
	if layoutType == "columnstore" {
		cfg.SortColumn = &sortColumn
	}
	return cfg
}

func TestRunnerEndToEnd(t *testing.T) {
	tests := []struct {
		name string
		cfg  *Config
	}{
		{name: "block row store", cfg: smokeConfig(true, "rowstore", false)},
		{name: "block column store", cfg: smokeConfig(true, "columnstore", false)},
		{name: "block compressed row store", cfg: smokeConfig(true, "rowstore", true)},
		{name: "block compressed column store", cfg: smokeConfig(true, "columnstore", true)},
		{name: "flat row store", cfg: smokeConfig(false, "rowstore", false)},
		{name: "flat column store", cfg: smokeConfig(false, "columnstore", false)},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if err := tt.cfg.Validate(); err != nil {
				t.Fatalf("Validate() error = %v", err)
			}
			report, err := NewRunner(tt.cfg, nil).Run()
			if err != nil {
				t.Fatalf("Run() error = %v", err)
			}

			wantResults := len(tt.cfg.Tests) * tt.cfg.NumRuns
			if len(report.Results) != wantResults {
				t.Fatalf("got %d results, want %d", len(report.Results), wantResults)
			}

			// Repeated runs of the same test see the same match count, and
			// the ~0.5 selectivity test lands near half the tuples.
			for run := 1; run < tt.cfg.NumRuns; run++ {
				if report.Results[run].Matched != report.Results[0].Matched {
					t.Errorf("run %d matched %d, run 0 matched %d",
						run, report.Results[run].Matched, report.Results[0].Matched)
				}
			}
			ratio := float64(report.Results[0].Matched) / float64(tt.cfg.NumTuples)
			if ratio < 0.35 || ratio > 0.65 {
				t.Errorf("test 0 matched ratio = %g, want ~0.5", ratio)
			}

			var buf bytes.Buffer
			report.Render(&buf)
			if !strings.Contains(buf.String(), "load time") {
				t.Error("report missing load time")
			}
		})
	}
}

func TestRunnerWithIndexAndBloom(t *testing.T) {
	indexColumn := 3
	cfg := smokeConfig(true, "rowstore", false)
	cfg.IndexColumn = &indexColumn
	cfg.Tests = []TestConfig{
		{PredicateColumn: 3, UseIndex: true, SortMatchesBeforeProjection: true, Selectivity: 0.3, ProjectionWidth: 2},
	}
	if err := cfg.Validate(); err != nil {
		t.Fatalf("Validate() error = %v", err)
	}

	report, err := NewRunner(cfg, nil).Run()
	if err != nil {
		t.Fatalf("Run() error = %v", err)
	}
	if len(report.Results) != cfg.NumRuns {
		t.Fatalf("got %d results, want %d", len(report.Results), cfg.NumRuns)
	}
	if report.Results[0].Matched == 0 {
		t.Error("indexed scan matched nothing")
	}
}
