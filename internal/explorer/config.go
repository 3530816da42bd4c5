// Package explorer drives storage-layout experiments: it parses a JSON
// experiment configuration, generates synthetic relations, bulk loads them
// into block-backed or flat tuple stores, and times predicate-evaluation and
// selection queries across worker pools.
package explorer

import (
	"fmt"
	"os"

	"github.com/c2h5oh/datasize"
	"github.com/goccy/go-json"
)

// TableChoice selects one of the four synthetic schemas.
type TableChoice string

const (
	// TableNarrowE is ten int columns with exponentially growing domains.
	TableNarrowE TableChoice = "narrow_e"
	// TableNarrowU is ten int columns with a uniform 100M domain.
	TableNarrowU TableChoice = "narrow_u"
	// TableWideE is fifty int columns with exponentially growing domains.
	TableWideE TableChoice = "wide_e"
	// TableStrings is ten char(20) columns of random five-char words.
	TableStrings TableChoice = "strings"
)

// arity returns the number of columns in the chosen table.
func (t TableChoice) arity() int {
	if t == TableWideE {
		return 50
	}
	return 10
}

// TestConfig describes one query experiment within a run.
type TestConfig struct {
	PredicateColumn             int     `json:"predicate_column"`
	UseIndex                    bool    `json:"use_index"`
	SortMatchesBeforeProjection bool    `json:"sort_matches_before_projection"`
	Selectivity                 float64 `json:"selectivity"`
	ProjectionWidth             int     `json:"projection_width"`
}

// Config is the experiment configuration the engine reads. Unknown fields
// are ignored.
type Config struct {
	UseBlocks          bool         `json:"use_blocks"`
	Table              TableChoice  `json:"table"`
	NumTuples          int          `json:"num_tuples"`
	LayoutType         string       `json:"layout_type"`
	SortColumn         *int         `json:"sort_column"`
	UseCompression     bool         `json:"use_compression"`
	UseBloomFilter     *bool        `json:"use_bloom_filter"`
	IndexColumn        *int         `json:"index_column"`
	NumRuns            int          `json:"num_runs"`
	NumThreads         int          `json:"num_threads"`
	ThreadAffinities   []int        `json:"thread_affinities"`
	MeasureCacheMisses bool         `json:"measure_cache_misses"`
	BlockSizeMB        int          `json:"block_size_mb"`
	Tests              []TestConfig `json:"tests"`
}

// LoadConfig reads and validates a configuration file.
func LoadConfig(path string) (*Config, error) {
	raw, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("reading config: %w", err)
	}
	cfg := &Config{}
	if err := json.Unmarshal(raw, cfg); err != nil {
		return nil, fmt.Errorf("parsing config: %w", err)
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// UseColumnStore reports whether the layout_type picks a column store.
func (c *Config) UseColumnStore() bool { return c.LayoutType == "columnstore" }

// BloomFilterEnabled resolves the use_bloom_filter default (true).
func (c *Config) BloomFilterEnabled() bool {
	return c.UseBloomFilter == nil || *c.UseBloomFilter
}

// UseIndex reports whether an index column was configured.
func (c *Config) UseIndex() bool { return c.IndexColumn != nil }

// Validate checks every field the engine reads, mirroring the failure modes
// of the configuration contract.
func (c *Config) Validate() error {
	switch c.Table {
	case TableNarrowE, TableNarrowU, TableWideE, TableStrings:
	default:
		return fmt.Errorf(`"table" must be one of ["narrow_e", "narrow_u", "wide_e", "strings"], got %q`, c.Table)
	}
	if c.NumTuples < 1 {
		return fmt.Errorf(`"num_tuples" must be positive, got %d`, c.NumTuples)
	}
	switch c.LayoutType {
	case "rowstore":
	case "columnstore":
		if c.SortColumn == nil {
			return fmt.Errorf(`"layout_type" of "columnstore" requires "sort_column"`)
		}
		if *c.SortColumn < 0 || *c.SortColumn >= c.Table.arity() {
			return fmt.Errorf(`"sort_column" must be in the range 0-%d for table %q, got %d`,
				c.Table.arity()-1, c.Table, *c.SortColumn)
		}
	default:
		return fmt.Errorf(`"layout_type" must be one of ["rowstore", "columnstore"], got %q`, c.LayoutType)
	}
	if c.IndexColumn != nil {
		if *c.IndexColumn < 0 || *c.IndexColumn >= c.Table.arity() {
			return fmt.Errorf(`"index_column" must be in the range 0-%d for table %q, got %d`,
				c.Table.arity()-1, c.Table, *c.IndexColumn)
		}
	}
	if c.NumRuns < 1 {
		return fmt.Errorf(`"num_runs" must be positive, got %d`, c.NumRuns)
	}
	if c.NumThreads < 1 {
		return fmt.Errorf(`"num_threads" must be positive, got %d`, c.NumThreads)
	}
	if len(c.ThreadAffinities) != 0 && len(c.ThreadAffinities) != c.NumThreads {
		return fmt.Errorf(`"thread_affinities" has %d entries for %d threads`,
			len(c.ThreadAffinities), c.NumThreads)
	}
	if c.UseBlocks {
		if c.BlockSizeMB < 1 {
			return fmt.Errorf(`"block_size_mb" must be positive, got %d`, c.BlockSizeMB)
		}
		maxMB := int(datasize.ByteSize(maxBlockSizeBytes()) / datasize.MB)
		if c.BlockSizeMB > maxMB {
			return fmt.Errorf(`"block_size_mb" of %d exceeds the maximum block size of %d MB`,
				c.BlockSizeMB, maxMB)
		}
	}
	if len(c.Tests) == 0 {
		return fmt.Errorf(`"tests" must name at least one experiment`)
	}
	for i, t := range c.Tests {
		if t.PredicateColumn < 0 || t.PredicateColumn >= c.Table.arity() {
			return fmt.Errorf(`test %d: "predicate_column" must be in the range 0-%d for table %q`,
				i, c.Table.arity()-1, c.Table)
		}
		if t.UseIndex && c.IndexColumn == nil {
			return fmt.Errorf(`test %d: "use_index" requires a configured "index_column"`, i)
		}
		if t.UseIndex && *c.IndexColumn != t.PredicateColumn {
			return fmt.Errorf(`test %d: "use_index" requires the predicate column %d to be the indexed column %d`,
				i, t.PredicateColumn, *c.IndexColumn)
		}
		if t.Selectivity <= 0 || t.Selectivity > 1 {
			return fmt.Errorf(`test %d: "selectivity" must be in (0,1], got %g`, i, t.Selectivity)
		}
		if t.ProjectionWidth < 0 || t.ProjectionWidth > c.Table.arity() {
			return fmt.Errorf(`test %d: "projection_width" must be in the range 0-%d`, i, c.Table.arity())
		}
	}
	return nil
}
