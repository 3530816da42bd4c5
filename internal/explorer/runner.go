package explorer

import (
	"errors"
	"fmt"
	"math/rand"
	"sort"
	"time"

	pkgerrors "github.com/pkg/errors"
	"go.uber.org/zap"

	"github.com/fenilsonani/stratab/internal/catalog"
	"github.com/fenilsonani/stratab/internal/storage"
	"github.com/fenilsonani/stratab/internal/types"
)

// maxBlockSizeBytes is the largest block a single allocator chunk can hold.
func maxBlockSizeBytes() int {
	return storage.ChunkSizeSlots * storage.SlotSizeBytes
}

// Runner owns one experiment: data generation, loading, query execution and
// timing across the configured number of runs.
type Runner struct {
	cfg    *Config
	logger *zap.Logger
	rng    *rand.Rand
}

// NewRunner builds a runner for a validated configuration.
func NewRunner(cfg *Config, logger *zap.Logger) *Runner {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Runner{
		cfg:    cfg,
		logger: logger,
		rng:    rand.New(rand.NewSource(dataGeneratorSeed)),
	}
}

// Run executes the configured experiment and returns its report.
func (r *Runner) Run() (*Report, error) {
	if r.cfg.UseBlocks {
		return r.runBlockBased()
	}
	return r.runFlat()
}

// chooseProjection picks the attributes a selection test projects: the
// predicate column first, then randomly chosen others, in ascending order.
func (r *Runner) chooseProjection(relation *catalog.Relation, predicateColumn catalog.AttributeID, width int) []catalog.AttributeID {
	projection := []catalog.AttributeID{predicateColumn}
	if width > 1 {
		var others []catalog.AttributeID
		for _, attr := range relation.Attributes() {
			if attr.ID() != predicateColumn {
				others = append(others, attr.ID())
			}
		}
		r.rng.Shuffle(len(others), func(i, j int) {
			others[i], others[j] = others[j], others[i]
		})
		projection = append(projection, others[:width-1]...)
		sort.Slice(projection, func(i, j int) bool { return projection[i] < projection[j] })
	}
	return projection
}

// runBlockBased loads the generated relation into storage blocks and scans
// them with the parallel block executor.
func (r *Runner) runBlockBased() (*Report, error) {
	generator := NewDataGenerator(r.cfg.Table)
	relation := generator.GenerateRelation()

	layout := storage.NewLayout(relation, LayoutDescriptionForConfig(r.cfg, relation))
	if err := layout.Finalize(); err != nil {
		return nil, pkgerrors.Wrap(err, "finalizing layout")
	}

	allocator := storage.NewSlabAllocator(false)
	manager := storage.NewBlockManager(allocator, r.logger)

	loadStart := time.Now()
	if err := r.loadBlocks(manager, relation, layout, generator); err != nil {
		return nil, pkgerrors.Wrap(err, "loading blocks")
	}
	report := NewReport(r.cfg)
	report.LoadDuration = time.Since(loadStart)
	report.NumBlocks = len(relation.BlockIDs())
	r.logger.Info("bulk load finished",
		zap.Int("tuples", r.cfg.NumTuples),
		zap.Int("blocks", report.NumBlocks),
		zap.Duration("elapsed", report.LoadDuration))

	for testNum, test := range r.cfg.Tests {
		predicate := generator.GeneratePredicate(relation, catalog.AttributeID(test.PredicateColumn), test.Selectivity)
		opts := ScanOptions{
			Predicate:        predicate,
			UseIndex:         test.UseIndex,
			IndexNum:         0,
			SortMatches:      test.SortMatchesBeforeProjection,
			NumThreads:       r.cfg.NumThreads,
			ThreadAffinities: r.cfg.ThreadAffinities,
		}
		selection := test.ProjectionWidth > 0
		var projection []catalog.AttributeID
		if selection {
			projection = r.chooseProjection(relation, catalog.AttributeID(test.PredicateColumn), test.ProjectionWidth)
		}

		for runNum := 0; runNum < r.cfg.NumRuns; runNum++ {
			runOpts := opts
			var resultRelation *catalog.Relation
			var destination *storage.BlockPoolInsertDestination
			if selection {
				resultRelation = catalog.NewRelation(relation.Name() + "_result")
				for _, attr := range projection {
					original := relation.Attribute(attr)
					resultRelation.AddAttribute(original.Name(), original.Type())
				}
				resultLayout, err := storage.DefaultLayoutWithSlots(resultRelation, r.cfg.BlockSizeMB)
				if err != nil {
					return nil, pkgerrors.Wrap(err, "finalizing result layout")
				}
				destination = storage.NewBlockPoolInsertDestination(manager, resultRelation, resultLayout)
				runOpts.Projection = projection
				runOpts.Destination = destination
			}

			executor := NewBlockScanExecutor(manager, relation.BlockIDs(), runOpts, r.logger)
			start := time.Now()
			result, err := executor.Run()
			elapsed := time.Since(start)
			if err != nil {
				return nil, pkgerrors.Wrapf(err, "test %d run %d", testNum, runNum)
			}
			report.Append(RunResult{
				TestNum:     testNum,
				RunNum:      runNum,
				Predicate:   predicate.String(),
				Matched:     result.MatchedTuples,
				Elapsed:     elapsed,
				Consistent:  result.AllRebuildsSucceeded,
				ResultBlocks: func() int {
					if destination == nil {
						return 0
					}
					return len(destination.TouchedBlocks())
				}(),
			})

			// The temporary result relation lives only for this run.
			if destination != nil {
				for _, id := range destination.TouchedBlocks() {
					manager.Evict(id)
					resultRelation.RemoveBlock(id)
				}
			}
		}
	}
	return report, nil
}

// loadBlocks batch-inserts every generated tuple through a pooled insert
// destination, rebuilding each block as it fills.
func (r *Runner) loadBlocks(manager *storage.BlockManager, relation *catalog.Relation, layout *storage.Layout, generator DataGenerator) error {
	destination := storage.NewBlockPoolInsertDestination(manager, relation, layout)
	block, err := destination.GetBlockForInsertion()
	if err != nil {
		return err
	}
	for i := 0; i < r.cfg.NumTuples; i++ {
		tuple := generator.GenerateTuple(r.rng)
		for {
			insertErr := block.InsertTupleInBatch(tuple, types.ConvertNone)
			if insertErr == nil {
				break
			}
			if errors.Is(insertErr, storage.ErrTupleTooLarge) {
				destination.ReturnBlock(block, false)
				return insertErr
			}
			if rebuildErr := block.Rebuild(); rebuildErr != nil {
				r.logger.Warn("loaded block has inconsistent indexes", zap.Uint64("block_id", block.ID()))
			}
			destination.ReturnBlock(block, true)
			if block, err = destination.GetBlockForInsertion(); err != nil {
				return err
			}
		}
	}
	if rebuildErr := block.Rebuild(); rebuildErr != nil {
		r.logger.Warn("loaded block has inconsistent indexes", zap.Uint64("block_id", block.ID()))
	}
	destination.ReturnBlock(block, false)
	return nil
}

// runFlat loads per-thread flat tuple stores and scans them with one worker
// per partition.
func (r *Runner) runFlat() (*Report, error) {
	generator := NewDataGenerator(r.cfg.Table)
	relation := generator.GenerateRelation()

	report := NewReport(r.cfg)
	numPartitions := r.cfg.NumThreads
	tuplesPerPartition := (r.cfg.NumTuples + numPartitions - 1) / numPartitions

	// Size each partition generously: the flat layouts carry compression
	// metadata and stripe padding on top of the raw tuple bytes.
	partitionBytes := tuplesPerPartition*relation.FixedByteLength() + tuplesPerPartition/2*relation.FixedByteLength() + 4096

	desc := LayoutDescriptionForConfig(r.cfg, relation).TupleStore
	partitionColumn := catalog.AttributeID(r.cfg.Tests[0].PredicateColumn)

	loadStart := time.Now()
	partitions := make([]FlatPartition, numPartitions)
	remaining := r.cfg.NumTuples
	for p := 0; p < numPartitions; p++ {
		store, err := storage.NewTupleStore(relation, &desc, true, make([]byte, partitionBytes))
		if err != nil {
			return nil, pkgerrors.Wrap(err, "creating flat tuple store")
		}
		count := tuplesPerPartition
		if count > remaining {
			count = remaining
		}
		remaining -= count
		for i := 0; i < count; i++ {
			tuple := generator.GenerateTupleForPartition(r.rng, partitionColumn, p, numPartitions)
			if !store.InsertInBatch(tuple, types.ConvertNone) {
				return nil, fmt.Errorf("flat partition %d overflowed at tuple %d", p, i)
			}
		}
		store.Rebuild()
		partitions[p] = FlatPartition{Store: store}

		if r.cfg.IndexColumn != nil {
			indexDesc := &storage.IndexDescription{
				Kind:               storage.CSBTreeIndexKind,
				IndexedAttributeID: catalog.AttributeID(*r.cfg.IndexColumn),
			}
			keyWidth := relation.Attribute(indexDesc.IndexedAttributeID).Type().MaxByteLength()
			indexBytes := 4 + (count+1)*(keyWidth+4)
			index, err := storage.NewCSBTreeIndex(store, relation, indexDesc, true, make([]byte, indexBytes))
			if err != nil {
				return nil, pkgerrors.Wrap(err, "creating flat index")
			}
			if !index.Rebuild() {
				return nil, fmt.Errorf("flat index for partition %d could not hold its entries", p)
			}
			partitions[p].Index = index
		}
	}
	report.LoadDuration = time.Since(loadStart)
	r.logger.Info("flat load finished",
		zap.Int("tuples", r.cfg.NumTuples),
		zap.Int("partitions", numPartitions),
		zap.Duration("elapsed", report.LoadDuration))

	for testNum, test := range r.cfg.Tests {
		predicate := generator.GeneratePredicate(relation, catalog.AttributeID(test.PredicateColumn), test.Selectivity)
		opts := ScanOptions{
			Predicate:        predicate,
			UseIndex:         test.UseIndex,
			SortMatches:      test.SortMatchesBeforeProjection,
			NumThreads:       r.cfg.NumThreads,
			ThreadAffinities: r.cfg.ThreadAffinities,
		}
		if test.ProjectionWidth > 0 {
			opts.Projection = r.chooseProjection(relation, catalog.AttributeID(test.PredicateColumn), test.ProjectionWidth)
		}
		resultBufferBytes := tuplesPerPartition*relation.FixedByteLength() + 4096

		for runNum := 0; runNum < r.cfg.NumRuns; runNum++ {
			executor := NewFlatScanExecutor(relation, partitions, resultBufferBytes, opts, r.logger)
			start := time.Now()
			result, err := executor.Run()
			elapsed := time.Since(start)
			if err != nil {
				return nil, pkgerrors.Wrapf(err, "test %d run %d", testNum, runNum)
			}
			report.Append(RunResult{
				TestNum:    testNum,
				RunNum:     runNum,
				Predicate:  predicate.String(),
				Matched:    result.MatchedTuples,
				Elapsed:    elapsed,
				Consistent: result.AllRebuildsSucceeded,
			})
		}
	}
	return report, nil
}
