package explorer

import (
	"fmt"
	"math/rand"
	"testing"

	"github.com/fenilsonani/stratab/internal/catalog"
	"github.com/fenilsonani/stratab/internal/storage"
	"github.com/fenilsonani/stratab/internal/types"
)

// buildScanFixture loads a multi-block relation and returns everything a
// scan needs. Block capacity is kept tiny via the layout's slot count so a
// modest tuple count spans several blocks.
type scanFixture struct {
	manager   *storage.BlockManager
	relation  *catalog.Relation
	generator DataGenerator
	layout    *storage.Layout
	cfg       *Config
}

func buildScanFixture(t *testing.T, numTuples int) *scanFixture {
	t.Helper()
	cfg := &Config{
		UseBlocks:   true,
		Table:       TableNarrowU,
		NumTuples:   numTuples,
		LayoutType:  "rowstore",
		NumRuns:     1,
		NumThreads:  1,
		BlockSizeMB: 1,
		Tests:       []TestConfig{{PredicateColumn: 0, Selectivity: 0.2, ProjectionWidth: 2}},
	}
	if err := cfg.Validate(); err != nil {
		t.Fatalf("Validate() error = %v", err)
	}

	generator := NewDataGenerator(cfg.Table)
	relation := generator.GenerateRelation()
	layout := storage.NewLayout(relation, LayoutDescriptionForConfig(cfg, relation))
	if err := layout.Finalize(); err != nil {
		t.Fatalf("Finalize() error = %v", err)
	}

	manager := storage.NewBlockManager(storage.NewSlabAllocator(false), nil)
	runner := NewRunner(cfg, nil)
	if err := runner.loadBlocks(manager, relation, layout, generator); err != nil {
		t.Fatalf("loadBlocks() error = %v", err)
	}
	return &scanFixture{
		manager:   manager,
		relation:  relation,
		generator: generator,
		layout:    layout,
		cfg:       cfg,
	}
}

// tupleKey fingerprints a projected tuple for multiset comparison.
func tupleKey(store storage.TupleStore, tid storage.TupleID, arity int) string {
	key := ""
	for attr := 0; attr < arity; attr++ {
		key += fmt.Sprintf("%d|", store.AttributeValue(tid, catalog.AttributeID(attr)).Int())
	}
	return key
}

func collectResults(t *testing.T, manager *storage.BlockManager, destination storage.InsertDestination, arity int) map[string]int {
	t.Helper()
	multiset := make(map[string]int)
	for _, id := range destination.TouchedBlocks() {
		store := manager.Get(id).TupleStore()
		for tid := storage.TupleID(0); int(tid) < store.NumTuples(); tid++ {
			multiset[tupleKey(store, tid, arity)]++
		}
	}
	return multiset
}

func TestParallelScanMultisetIsThreadCountIndependent(t *testing.T) {
	fixture := buildScanFixture(t, 60000)
	predicate := fixture.generator.GeneratePredicate(fixture.relation, 0, 0.2)
	projection := []catalog.AttributeID{0, 5}

	runWithThreads := func(threads int) (map[string]int, int64) {
		resultRelation := catalog.NewRelation("result")
		resultRelation.AddAttribute("intcol0", types.Int())
		resultRelation.AddAttribute("intcol5", types.Int())
		resultLayout, err := storage.DefaultLayoutWithSlots(resultRelation, 1)
		if err != nil {
			t.Fatalf("DefaultLayoutWithSlots() error = %v", err)
		}
		destination := storage.NewBlockPoolInsertDestination(fixture.manager, resultRelation, resultLayout)

		executor := NewBlockScanExecutor(fixture.manager, fixture.relation.BlockIDs(), ScanOptions{
			Predicate:   predicate,
			Projection:  projection,
			Destination: destination,
			NumThreads:  threads,
		}, nil)
		result, err := executor.Run()
		if err != nil {
			t.Fatalf("Run() error = %v", err)
		}
		multiset := collectResults(t, fixture.manager, destination, 2)
		for _, id := range destination.TouchedBlocks() {
			fixture.manager.Evict(id)
			resultRelation.RemoveBlock(id)
		}
		return multiset, result.MatchedTuples
	}

	baseline, baselineMatched := runWithThreads(1)
	if baselineMatched == 0 {
		t.Fatal("baseline scan matched nothing")
	}
	total := 0
	for _, count := range baseline {
		total += count
	}
	if int64(total) != baselineMatched {
		t.Fatalf("baseline projected %d tuples but matched %d", total, baselineMatched)
	}

	for _, threads := range []int{2, 4, 8} {
		multiset, matched := runWithThreads(threads)
		if matched != baselineMatched {
			t.Errorf("%d threads matched %d tuples, single-threaded matched %d", threads, matched, baselineMatched)
		}
		if len(multiset) != len(baseline) {
			t.Errorf("%d threads produced %d distinct tuples, want %d", threads, len(multiset), len(baseline))
		}
		for key, count := range baseline {
			if multiset[key] != count {
				t.Errorf("%d threads: tuple %q count = %d, want %d", threads, key, multiset[key], count)
			}
		}
	}
}

func TestBlockScanPredicateEvaluationOnly(t *testing.T) {
	fixture := buildScanFixture(t, 5000)
	predicate := fixture.generator.GeneratePredicate(fixture.relation, 0, 0.5)

	executor := NewBlockScanExecutor(fixture.manager, fixture.relation.BlockIDs(), ScanOptions{
		Predicate:  predicate,
		NumThreads: 3,
	}, nil)
	result, err := executor.Run()
	if err != nil {
		t.Fatalf("Run() error = %v", err)
	}
	ratio := float64(result.MatchedTuples) / 5000
	if ratio < 0.4 || ratio > 0.6 {
		t.Errorf("matched ratio = %g, want ~0.5", ratio)
	}
}

func TestBlockScanPartition(t *testing.T) {
	fixture := buildScanFixture(t, 60000)
	ids := fixture.relation.BlockIDs()
	if len(ids) < 2 {
		t.Skip("fixture fits one block; partition scan needs at least two")
	}

	// Scanning a partition of the id set only touches those blocks.
	executor := NewBlockScanExecutor(fixture.manager, ids[:1], ScanOptions{
		Predicate:  fixture.generator.GeneratePredicate(fixture.relation, 0, 1),
		NumThreads: 2,
	}, nil)
	result, err := executor.Run()
	if err != nil {
		t.Fatalf("Run() error = %v", err)
	}
	want := fixture.manager.Get(ids[0]).TupleStore().NumTuples()
	if result.MatchedTuples != int64(want) {
		t.Errorf("partition scan matched %d, want %d", result.MatchedTuples, want)
	}
}

func TestFlatScanExecutor(t *testing.T) {
	relation := NewDataGenerator(TableNarrowU).GenerateRelation()
	generator := NewDataGenerator(TableNarrowU)

	const perPartition = 2000
	desc := &storage.TupleStoreDescription{Kind: storage.PackedRowStore}
	partitions := make([]FlatPartition, 2)
	rng := rand.New(rand.NewSource(dataGeneratorSeed))
	for p := range partitions {
		store, err := storage.NewTupleStore(relation, desc, true, make([]byte, perPartition*relation.FixedByteLength()+64))
		if err != nil {
			t.Fatalf("NewTupleStore() error = %v", err)
		}
		for i := 0; i < perPartition; i++ {
			if !store.InsertInBatch(generator.GenerateTupleForPartition(rng, 0, p, len(partitions)), types.ConvertNone) {
				t.Fatalf("partition %d insert %d failed", p, i)
			}
		}
		store.Rebuild()
		partitions[p] = FlatPartition{Store: store}
	}

	predicate := generator.GeneratePredicate(relation, 1, 0.3)
	executor := NewFlatScanExecutor(relation, partitions, perPartition*relation.FixedByteLength()+64, ScanOptions{
		Predicate:  predicate,
		NumThreads: 2,
		Projection: []catalog.AttributeID{1, 2},
	}, nil)
	result, err := executor.Run()
	if err != nil {
		t.Fatalf("Run() error = %v", err)
	}
	ratio := float64(result.MatchedTuples) / (2 * perPartition)
	if ratio < 0.25 || ratio > 0.35 {
		t.Errorf("matched ratio = %g, want ~0.3", ratio)
	}
}
