package engine

import (
	"context"
	"fmt"
	"sort"
	"sync"

	"github.com/chainforge/indexengine/blockcache"
	"github.com/chainforge/indexengine/datasource"
	"github.com/chainforge/indexengine/indexctx"
	"github.com/chainforge/indexengine/model"
)

func newTestBlockCache() *blockcache.Cache {
	return blockcache.New(0)
}

// fakeDatasource is a hand-written Datasource double in the teacher's
// test_backend.go idiom: enough behavior to drive synchronize/process
// end to end, nothing more.
type fakeDatasource struct {
	name string

	mu        sync.Mutex
	syncLevel int64
	syncKnown bool

	blocks     map[int64]model.BlockHeader
	migrations []model.OperationData

	contractSummaries   map[string]datasource.ContractSummary
	originatedContracts map[string][]string
	similarContracts    map[string][]string

	opBatches     map[int64][]model.OperationData
	bigMapBatches map[int64][]model.BigMapData
}

func newFakeDatasource(name string) *fakeDatasource {
	return &fakeDatasource{
		name:                name,
		blocks:              map[int64]model.BlockHeader{},
		contractSummaries:   map[string]datasource.ContractSummary{},
		originatedContracts: map[string][]string{},
		similarContracts:    map[string][]string{},
		opBatches:           map[int64][]model.OperationData{},
		bigMapBatches:       map[int64][]model.BigMapData{},
	}
}

func (f *fakeDatasource) Name() string { return f.name }

func (f *fakeDatasource) setSyncLevel(level int64) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.syncLevel = level
	f.syncKnown = true
}

func (f *fakeDatasource) SyncLevel(ctx context.Context) (int64, bool, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.syncLevel, f.syncKnown, nil
}

func (f *fakeDatasource) GetBlock(ctx context.Context, level int64) (model.BlockHeader, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	hdr, ok := f.blocks[level]
	if !ok {
		return model.BlockHeader{}, fmt.Errorf("fake datasource: no block at level %d", level)
	}
	return hdr, nil
}

func (f *fakeDatasource) GetMigrationOriginations(ctx context.Context, level int64) ([]model.OperationData, error) {
	return f.migrations, nil
}

func (f *fakeDatasource) GetContractSummary(ctx context.Context, address string) (datasource.ContractSummary, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.contractSummaries[address], nil
}

func (f *fakeDatasource) GetOriginatedContracts(ctx context.Context, address string) ([]string, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.originatedContracts[address], nil
}

func (f *fakeDatasource) GetSimilarContracts(ctx context.Context, address string, strict bool) ([]string, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.similarContracts[address], nil
}

func (f *fakeDatasource) NewOperationFetcher(params datasource.OperationFetcherParams) datasource.OperationFetcher {
	f.mu.Lock()
	defer f.mu.Unlock()

	var levels []int64
	for level := range f.opBatches {
		if level >= params.FirstLevel && level <= params.LastLevel {
			levels = append(levels, level)
		}
	}
	sort.Slice(levels, func(i, j int) bool { return levels[i] < levels[j] })

	batches := make([][]model.OperationData, len(levels))
	for i, level := range levels {
		batches[i] = f.opBatches[level]
	}
	return &fakeOperationFetcher{levels: levels, batches: batches}
}

func (f *fakeDatasource) NewBigMapFetcher(params datasource.BigMapFetcherParams) datasource.BigMapFetcher {
	f.mu.Lock()
	defer f.mu.Unlock()

	var levels []int64
	for level := range f.bigMapBatches {
		if level >= params.FirstLevel && level <= params.LastLevel {
			levels = append(levels, level)
		}
	}
	sort.Slice(levels, func(i, j int) bool { return levels[i] < levels[j] })

	batches := make([][]model.BigMapData, len(levels))
	for i, level := range levels {
		batches[i] = f.bigMapBatches[level]
	}
	return &fakeBigMapFetcher{levels: levels, batches: batches}
}

type fakeOperationFetcher struct {
	levels  []int64
	batches [][]model.OperationData
	idx     int
}

func (f *fakeOperationFetcher) Next(ctx context.Context) (int64, []model.OperationData, bool, error) {
	if f.idx >= len(f.levels) {
		return 0, nil, false, nil
	}
	level, batch := f.levels[f.idx], f.batches[f.idx]
	f.idx++
	return level, batch, true, nil
}

type fakeBigMapFetcher struct {
	levels  []int64
	batches [][]model.BigMapData
	idx     int
}

func (f *fakeBigMapFetcher) Next(ctx context.Context) (int64, []model.BigMapData, bool, error) {
	if f.idx >= len(f.levels) {
		return 0, nil, false, nil
	}
	level, batch := f.levels[f.idx], f.batches[f.idx]
	f.idx++
	return level, batch, true, nil
}

// fakeCtx is a hand-written indexctx.Context double recording every
// fired callback and optionally failing or triggering a reindex.
type fakeCtx struct {
	mu          sync.Mutex
	fired       []string
	failOn      map[string]error
	reindexes   []string
	reindexFail error
}

func newFakeCtx() *fakeCtx {
	return &fakeCtx{failOn: map[string]error{}}
}

func (f *fakeCtx) FireHandler(ctx context.Context, callback, parentIndex, logPrefix string, args ...any) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.fired = append(f.fired, callback)
	if err, ok := f.failOn[callback]; ok {
		return err
	}
	return nil
}

func (f *fakeCtx) Reindex(ctx context.Context, reason indexctx.ReindexReason) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.reindexes = append(f.reindexes, string(reason))
	return f.reindexFail
}

func (f *fakeCtx) firedCallbacks() []string {
	f.mu.Lock()
	defer f.mu.Unlock()
	out := make([]string, len(f.fired))
	copy(out, f.fired)
	return out
}
