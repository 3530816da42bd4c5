package explorer

import (
	"errors"
	"runtime"
	"sync"
	"sync/atomic"

	"github.com/fenilsonani/stratab/internal/catalog"
	"github.com/fenilsonani/stratab/internal/expr"
	"github.com/fenilsonani/stratab/internal/storage"
	"github.com/fenilsonani/stratab/internal/types"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"
)

// errResultBufferFull reports that a flat selection's private result buffer
// could not hold every projected match.
var errResultBufferFull = errors.New("explorer: result buffer too small for projected matches")

// ScanOptions configures one query execution across a worker pool.
type ScanOptions struct {
	// Predicate to evaluate; trivial-true and trivial-false short-circuit.
	Predicate *expr.Predicate

	// UseIndex evaluates the predicate through index IndexNum instead of
	// the tuple store.
	UseIndex bool
	IndexNum int

	// SortMatches calls Sort on each block's match set before projection.
	// Match sets already iterate in ascending tuple-id order, index matches
	// included, so the call leaves them unchanged.
	SortMatches bool

	// Projection, when non-empty, turns the scan into a selection that
	// writes projected tuples into Destination.
	Projection  []catalog.AttributeID
	Destination storage.InsertDestination

	// NumThreads is the worker pool size; ThreadAffinities, when set,
	// carries one CPU id per worker.
	NumThreads       int
	ThreadAffinities []int
}

// ScanResult aggregates a scan's outcome across workers.
type ScanResult struct {
	// MatchedTuples counts predicate matches across all source blocks.
	MatchedTuples int64

	// AllRebuildsSucceeded is false when any result block was returned
	// with inconsistent indexes.
	AllRebuildsSucceeded bool
}

// BlockScanExecutor distributes block ids to a fixed pool of workers. The
// id cursor is the only shared state between workers besides the insert
// destination; both are mutex-guarded and each worker holds the cursor
// mutex only long enough to take one id.
type BlockScanExecutor struct {
	manager  *storage.BlockManager
	blockIDs []storage.BlockID
	opts     ScanOptions
	logger   *zap.Logger

	mu     sync.Mutex
	cursor int
}

// NewBlockScanExecutor builds an executor over the given block ids, which
// may be a relation's full set or a caller-supplied partition.
func NewBlockScanExecutor(manager *storage.BlockManager, blockIDs []storage.BlockID, opts ScanOptions, logger *zap.Logger) *BlockScanExecutor {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &BlockScanExecutor{
		manager:  manager,
		blockIDs: blockIDs,
		opts:     opts,
		logger:   logger,
	}
}

// nextBlockID takes one id from the shared cursor; ok is false once the
// cursor is exhausted.
func (e *BlockScanExecutor) nextBlockID() (storage.BlockID, bool) {
	e.mu.Lock()
	defer e.mu.Unlock()
	if e.cursor >= len(e.blockIDs) {
		return 0, false
	}
	id := e.blockIDs[e.cursor]
	e.cursor++
	return id, true
}

// evaluateOnBlock produces the block's match set, honouring the trivial
// predicates without touching sub-blocks.
func (e *BlockScanExecutor) evaluateOnBlock(block *storage.Block) *storage.TupleIDSequence {
	if e.opts.Predicate != nil {
		switch e.opts.Predicate.Kind() {
		case expr.PredicateTrue:
			return block.Matches(nil)
		case expr.PredicateFalse:
			return storage.NewTupleIDSequence()
		}
	}
	if e.opts.UseIndex {
		matches := block.MatchesWithIndex(e.opts.IndexNum, e.opts.Predicate)
		if e.opts.SortMatches {
			matches.Sort()
		}
		return matches
	}
	return block.Matches(e.opts.Predicate)
}

// Run executes the scan and blocks until every worker has drained the
// cursor.
func (e *BlockScanExecutor) Run() (*ScanResult, error) {
	e.mu.Lock()
	e.cursor = 0
	e.mu.Unlock()

	var matched atomic.Int64
	var rebuildFailures atomic.Int64

	var g errgroup.Group
	for workerNum := 0; workerNum < e.opts.NumThreads; workerNum++ {
		cpu := -1
		if len(e.opts.ThreadAffinities) > 0 {
			cpu = e.opts.ThreadAffinities[workerNum]
		}
		g.Go(func() error {
			if cpu >= 0 {
				runtime.LockOSThread()
				defer runtime.UnlockOSThread()
				if err := bindThisThreadToCPU(cpu); err != nil {
					e.logger.Warn("cpu binding unavailable", zap.Int("cpu", cpu), zap.Error(err))
				}
			}
			for {
				id, ok := e.nextBlockID()
				if !ok {
					return nil
				}
				block := e.manager.Get(id)
				matches := e.evaluateOnBlock(block)
				matched.Add(int64(matches.Size()))
				if len(e.opts.Projection) == 0 {
					continue
				}
				rebuilt, err := block.SelectSimpleWithMatches(matches, e.opts.Projection, e.opts.Destination)
				if err != nil {
					return err
				}
				if !rebuilt {
					rebuildFailures.Add(1)
				}
			}
		})
	}
	if err := g.Wait(); err != nil {
		return nil, err
	}
	return &ScanResult{
		MatchedTuples:        matched.Load(),
		AllRebuildsSucceeded: rebuildFailures.Load() == 0,
	}, nil
}

// FlatPartition is one thread's slice of a flat (non-block) experiment: a
// tuple store over a plain buffer plus its optional index.
type FlatPartition struct {
	Store storage.TupleStore
	Index storage.Index
}

// FlatScanExecutor runs one worker per partition over flat tuple stores,
// the non-block arm of the experiment. Selections project matches into a
// per-worker packed-row result store.
type FlatScanExecutor struct {
	relation   *catalog.Relation
	partitions []FlatPartition
	opts       ScanOptions
	logger     *zap.Logger

	// resultBufferBytes sizes each worker's private result store.
	resultBufferBytes int
}

// NewFlatScanExecutor builds an executor over per-thread partitions.
func NewFlatScanExecutor(relation *catalog.Relation, partitions []FlatPartition, resultBufferBytes int, opts ScanOptions, logger *zap.Logger) *FlatScanExecutor {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &FlatScanExecutor{
		relation:          relation,
		partitions:        partitions,
		opts:              opts,
		logger:            logger,
		resultBufferBytes: resultBufferBytes,
	}
}

func (e *FlatScanExecutor) evaluateOnPartition(p FlatPartition) *storage.TupleIDSequence {
	if e.opts.Predicate != nil {
		switch e.opts.Predicate.Kind() {
		case expr.PredicateTrue:
			return p.Store.Matches(nil)
		case expr.PredicateFalse:
			return storage.NewTupleIDSequence()
		}
	}
	if e.opts.UseIndex && p.Index != nil {
		result := p.Index.Matches(e.opts.Predicate)
		matches := result.Sequence
		if result.IsSuperset {
			filtered := storage.NewTupleIDSequence()
			for _, tid := range matches.IDs() {
				if e.opts.Predicate.Matches(func(attr catalog.AttributeID) types.Value {
					return p.Store.AttributeValue(tid, attr)
				}) {
					filtered.Append(tid)
				}
			}
			matches = filtered
		}
		if e.opts.SortMatches {
			matches.Sort()
		}
		return matches
	}
	return p.Store.Matches(e.opts.Predicate)
}

// Run executes the scan, one worker per partition.
func (e *FlatScanExecutor) Run() (*ScanResult, error) {
	var matched atomic.Int64

	var g errgroup.Group
	for partitionNum := range e.partitions {
		partition := e.partitions[partitionNum]
		cpu := -1
		if len(e.opts.ThreadAffinities) > 0 {
			cpu = e.opts.ThreadAffinities[partitionNum%len(e.opts.ThreadAffinities)]
		}
		g.Go(func() error {
			if cpu >= 0 {
				runtime.LockOSThread()
				defer runtime.UnlockOSThread()
				if err := bindThisThreadToCPU(cpu); err != nil {
					e.logger.Warn("cpu binding unavailable", zap.Int("cpu", cpu), zap.Error(err))
				}
			}
			matches := e.evaluateOnPartition(partition)
			matched.Add(int64(matches.Size()))
			if len(e.opts.Projection) == 0 || matches.Size() == 0 {
				return nil
			}
			return e.projectPartitionMatches(partition, matches)
		})
	}
	if err := g.Wait(); err != nil {
		return nil, err
	}
	return &ScanResult{MatchedTuples: matched.Load(), AllRebuildsSucceeded: true}, nil
}

// projectPartitionMatches materialises the projection into a worker-private
// packed row store, mirroring what a downstream operator would consume.
func (e *FlatScanExecutor) projectPartitionMatches(p FlatPartition, matches *storage.TupleIDSequence) error {
	resultRelation := catalog.NewRelation(e.relation.Name() + "_result")
	for _, attr := range e.opts.Projection {
		original := e.relation.Attribute(attr)
		resultRelation.AddAttribute(original.Name(), original.Type())
	}
	desc := &storage.TupleStoreDescription{Kind: storage.PackedRowStore}
	resultStore, err := storage.NewTupleStore(resultRelation, desc, true, make([]byte, e.resultBufferBytes))
	if err != nil {
		return err
	}
	for _, tid := range matches.IDs() {
		tuple := types.NewTuple()
		for _, attr := range e.opts.Projection {
			tuple.Append(p.Store.AttributeValue(tid, attr))
		}
		if !resultStore.InsertInBatch(tuple, types.ConvertNone) {
			return errResultBufferFull
		}
	}
	resultStore.Rebuild()
	return nil
}
