package engine

import (
	"context"
	"fmt"

	mapset "github.com/deckarep/golang-set/v2"
	"golang.org/x/exp/slices"

	"github.com/chainforge/indexengine/datasource"
	"github.com/chainforge/indexengine/indexctx"
	"github.com/chainforge/indexengine/internal/digest"
	"github.com/chainforge/indexengine/matcher"
	"github.com/chainforge/indexengine/model"
	"github.com/chainforge/indexengine/patternconfig"
	"github.com/chainforge/indexengine/queue"
)

// OperationIndexConfig is the declarative config for an OperationIndex:
// which operation types it consumes, which contract addresses it
// watches for plain transactions, and the ordered handler patterns to
// match subgroups against.
type OperationIndexConfig struct {
	Types             []model.OperationType
	ContractAddresses []string
	Handlers          []patternconfig.OperationHandlerConfig
	FirstLevel        int64
	// LastLevel non-nil puts the index in one-shot mode (spec.md §4.1).
	LastLevel *int64
}

func (c OperationIndexConfig) hasType(t model.OperationType) bool {
	for _, want := range c.Types {
		if want == t {
			return true
		}
	}
	return false
}

// operationQueueItem is the OperationIndex queue item: either a
// same-level batch of operations, or a single-level rollback marker
// (spec.md §3).
type operationQueueItem struct {
	ops           []model.OperationData
	rollbackLevel *int64
}

// OperationIndex matches operation subgroups against declarative handler
// patterns and fires handlers inside one transaction per level
// (spec.md §4.2).
type OperationIndex struct {
	base

	config   OperationIndexConfig
	queue    *queue.Queue[operationQueueItem]
	resolver *cachingHashResolver

	headHashes    mapset.Set[string]
	rollbackLevel *int64
}

// NewOperationIndex constructs an OperationIndex. Call InitializeState
// before the first Process.
func NewOperationIndex(deps Deps, config OperationIndexConfig) (*OperationIndex, error) {
	hash, err := digest.Config(config)
	if err != nil {
		return nil, fmt.Errorf("operation index %q: config digest: %w", deps.Name, err)
	}
	return &OperationIndex{
		base:       newBase(deps, model.KindOperation, hash, config.FirstLevel),
		config:     config,
		queue:      queue.New[operationQueueItem](),
		resolver:   newCachingHashResolver(deps.Datasource, 256),
		headHashes: mapset.NewThreadUnsafeSet[string](),
	}, nil
}

// InitializeState loads or creates the index row and verifies startup
// chain continuity.
func (oi *OperationIndex) InitializeState(ctx context.Context) error {
	return oi.initializeState(ctx)
}

// PushOperations enqueues a same-level batch of operations. Non-blocking.
func (oi *OperationIndex) PushOperations(ops []model.OperationData) {
	oi.queue.Push(operationQueueItem{ops: ops})
	oi.updateQueueGauge()
}

// PushRollback enqueues a single-level rollback marker. Non-blocking.
func (oi *OperationIndex) PushRollback(level int64) {
	lvl := level
	oi.queue.Push(operationQueueItem{rollbackLevel: &lvl})
	oi.updateQueueGauge()
}

func (oi *OperationIndex) updateQueueGauge() {
	if oi.queueGauge != nil {
		oi.queueGauge.Update(int64(oi.queue.Len()))
	}
}

// Process is the per-tick driver (spec.md §4.1).
func (oi *OperationIndex) Process(ctx context.Context) error {
	if !oi.initialized {
		return runtimeErrorf("operation index %q: process called before initialize_state", oi.name)
	}

	if oi.config.LastLevel != nil {
		if err := oi.synchronize(ctx, *oi.config.LastLevel, true); err != nil {
			return err
		}
		return oi.markOneshot(ctx, *oi.config.LastLevel)
	}

	syncLevel, known, err := oi.datasource.SyncLevel(ctx)
	if err != nil {
		return fmt.Errorf("operation index %q: sync_level: %w", oi.name, err)
	}
	if !known {
		return runtimeErrorf("operation index %q: datasource sync_level is not known yet", oi.name)
	}
	if oi.state.Level < syncLevel {
		oi.queue.Clear()
		return oi.synchronize(ctx, syncLevel, false)
	}
	return oi.processQueue(ctx)
}

// synchronize drives the historical fetch-then-exit-sync path
// (spec.md §4.2).
func (oi *OperationIndex) synchronize(ctx context.Context, lastLevel int64, cache bool) error {
	skip, err := oi.enterSyncState(ctx, lastLevel)
	if err != nil {
		return err
	}
	if skip {
		return nil
	}
	oi.logSyncProgress(lastLevel)

	txAddrs := oi.transactionAddresses()
	origAddrs, err := oi.originationAddresses(ctx)
	if err != nil {
		return err
	}

	includeMigrations := oi.config.hasType(model.OpMigration)
	if includeMigrations && oi.state.Level < oi.firstLevel {
		migrations, err := oi.datasource.GetMigrationOriginations(ctx, oi.firstLevel)
		if err != nil {
			return fmt.Errorf("operation index %q: migration originations: %w", oi.name, err)
		}
		for i := range migrations {
			codeHash, typeHash, err := oi.resolver.Resolve(ctx, migrations[i].OriginatedContractAddress)
			if err != nil {
				return err
			}
			migrations[i].OriginatedContractCodeHash = codeHash
			migrations[i].OriginatedContractTypeHash = typeHash
		}
		if len(migrations) > 0 {
			if err := oi.processLevelOperations(ctx, migrations); err != nil {
				return err
			}
		}
	}

	fetcher := oi.datasource.NewOperationFetcher(datasource.OperationFetcherParams{
		FirstLevel:           oi.state.Level + 1,
		LastLevel:            lastLevel,
		TransactionAddresses: txAddrs,
		OriginationAddresses: origAddrs,
		IncludeMigrations:    includeMigrations,
		Cache:                cache,
	})
	for {
		_, ops, ok, err := fetcher.Next(ctx)
		if err != nil {
			return fmt.Errorf("operation index %q: fetch: %w", oi.name, err)
		}
		if !ok {
			break
		}
		if err := oi.processLevelOperations(ctx, ops); err != nil {
			return err
		}
	}
	return oi.exitSyncState(ctx, lastLevel)
}

func (oi *OperationIndex) transactionAddresses() []string {
	if !oi.config.hasType(model.OpTransaction) {
		return nil
	}
	return oi.config.ContractAddresses
}

func (oi *OperationIndex) originationAddresses(ctx context.Context) ([]string, error) {
	set := mapset.NewThreadUnsafeSet[string]()
	for _, h := range oi.config.Handlers {
		for _, slot := range h.Pattern {
			os, ok := slot.(patternconfig.OriginationSlot)
			if !ok {
				continue
			}
			if os.OriginatedContract != "" {
				set.Add(os.OriginatedContract)
			}
			if os.Source != "" {
				addrs, err := oi.datasource.GetOriginatedContracts(ctx, os.Source)
				if err != nil {
					return nil, fmt.Errorf("operation index %q: originated contracts of %q: %w", oi.name, os.Source, err)
				}
				for _, a := range addrs {
					set.Add(a)
				}
			}
			if os.SimilarTo != "" {
				addrs, err := oi.datasource.GetSimilarContracts(ctx, os.SimilarTo, os.Strict)
				if err != nil {
					return nil, fmt.Errorf("operation index %q: similar contracts of %q: %w", oi.name, os.SimilarTo, err)
				}
				for _, a := range addrs {
					set.Add(a)
				}
			}
		}
	}
	// set.ToSlice() order is map-iteration order; sort so two identical
	// configs always request the same fetcher params (spec.md §5's
	// determinism guarantee extends to what we ask the datasource for).
	addrs := set.ToSlice()
	slices.Sort(addrs)
	return addrs, nil
}

// processQueue drains whatever is currently queued without blocking
// (spec.md §4.1's _process_queue).
func (oi *OperationIndex) processQueue(ctx context.Context) error {
	for {
		item, ok := oi.queue.TryPop()
		if !ok {
			return nil
		}
		oi.updateQueueGauge()

		if item.rollbackLevel != nil {
			if err := oi.singleLevelRollback(ctx, *item.rollbackLevel); err != nil {
				return err
			}
			continue
		}
		if err := oi.processLevelOperations(ctx, item.ops); err != nil {
			return err
		}
	}
}

// singleLevelRollback arms or rejects a single-level rollback
// (spec.md §4.2).
func (oi *OperationIndex) singleLevelRollback(ctx context.Context, level int64) error {
	if oi.state.Level < level {
		return nil
	}
	if oi.state.Level == level {
		if oi.rollbackLevel != nil {
			return runtimeErrorf("operation index %q: rollback already armed at level %d", oi.name, *oi.rollbackLevel)
		}
		lvl := level
		oi.rollbackLevel = &lvl
		return nil
	}
	return runtimeErrorf("operation index %q: rollback at level %d is below current state level %d", oi.name, level, oi.state.Level)
}

// processLevelOperations is the atomic per-level step
// (spec.md §4.2's _process_level_operations).
func (oi *OperationIndex) processLevelOperations(ctx context.Context, opsFull []model.OperationData) error {
	if len(opsFull) == 0 {
		return nil
	}

	levels := make([]int64, len(opsFull))
	for i, op := range opsFull {
		levels[i] = op.Level
	}
	level, err := extractLevel(levels)
	if err != nil {
		return err
	}

	ops := opsFull
	if oi.rollbackLevel != nil {
		if level != *oi.rollbackLevel || level != oi.state.Level {
			return runtimeErrorf("operation index %q: rollback armed at level %d but batch is at level %d (state level %d)", oi.name, *oi.rollbackLevel, level, oi.state.Level)
		}

		batchSet := mapset.NewThreadUnsafeSet[string]()
		for _, op := range opsFull {
			batchSet.Add(op.Hash)
		}
		if missing := oi.headHashes.Difference(batchSet); missing.Cardinality() > 0 {
			oi.rollbackLevel = nil
			return oi.reindex(ctx, indexctx.ReasonRollback)
		}

		newHashes := batchSet.Difference(oi.headHashes)
		kept := make([]model.OperationData, 0, newHashes.Cardinality())
		for _, op := range opsFull {
			if newHashes.Contains(op.Hash) {
				kept = append(kept, op)
			}
		}
		ops = kept
		oi.rollbackLevel = nil
	} else if level <= oi.state.Level {
		return runtimeErrorf("operation index %q: level %d must be greater than current state level %d", oi.name, level, oi.state.Level)
	}

	matches, _, err := matcher.MatchOperations(ctx, ops, oi.config.Handlers, oi.resolver)
	if err != nil {
		return err
	}

	recordObservedHashes := func() {
		observed := mapset.NewThreadUnsafeSet[string]()
		for _, op := range opsFull {
			observed.Add(op.Hash)
		}
		oi.headHashes = observed
	}

	if len(matches) == 0 {
		if err := oi.bumpLevel(ctx, level); err != nil {
			return err
		}
		recordObservedHashes()
		return nil
	}

	lvl := level
	err = oi.storage.InGlobalTransaction(ctx, func(txCtx context.Context) error {
		for _, m := range matches {
			if m.Handler.Parent == "" {
				return &indexctx.ConfigInitializationError{Callback: m.Handler.Callback}
			}
			prefix := fmt.Sprintf("%s: {}", m.Subgroup.Key.Hash)
			if err := oi.ctx.FireHandler(txCtx, m.Handler.Callback, m.Handler.Parent, prefix, m.Args...); err != nil {
				return err
			}
			if oi.firesCounter != nil {
				oi.firesCounter.Inc(1)
			}
		}
		return oi.storage.UpdateStatus(txCtx, oi.state, nil, &lvl)
	})
	if err != nil {
		return err
	}
	recordObservedHashes()
	oi.updateMetrics()
	oi.sendLevel(LevelProcessed{Index: oi.name, Level: level})
	return nil
}
