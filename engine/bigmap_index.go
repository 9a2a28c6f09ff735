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

// BigMapIndexConfig is the declarative config for a BigMapIndex.
type BigMapIndexConfig struct {
	Handlers   []patternconfig.BigMapHandlerConfig
	FirstLevel int64
	LastLevel  *int64
}

// BigMapIndex matches big-map diffs against handlers by contract address
// and storage path (spec.md §4.3).
type BigMapIndex struct {
	base

	config BigMapIndexConfig
	queue  *queue.Queue[[]model.BigMapData]
}

// NewBigMapIndex constructs a BigMapIndex. Call InitializeState before
// the first Process.
func NewBigMapIndex(deps Deps, config BigMapIndexConfig) (*BigMapIndex, error) {
	hash, err := digest.Config(config)
	if err != nil {
		return nil, fmt.Errorf("big-map index %q: config digest: %w", deps.Name, err)
	}
	return &BigMapIndex{
		base:   newBase(deps, model.KindBigMap, hash, config.FirstLevel),
		config: config,
		queue:  queue.New[[]model.BigMapData](),
	}, nil
}

func (bi *BigMapIndex) InitializeState(ctx context.Context) error {
	return bi.initializeState(ctx)
}

// PushBigMaps enqueues a same-level batch of big-map diffs.
func (bi *BigMapIndex) PushBigMaps(diffs []model.BigMapData) {
	bi.queue.Push(diffs)
	bi.updateQueueGauge()
}

func (bi *BigMapIndex) updateQueueGauge() {
	if bi.queueGauge != nil {
		bi.queueGauge.Update(int64(bi.queue.Len()))
	}
}

func (bi *BigMapIndex) Process(ctx context.Context) error {
	if !bi.initialized {
		return runtimeErrorf("big-map index %q: process called before initialize_state", bi.name)
	}

	if bi.config.LastLevel != nil {
		if err := bi.synchronize(ctx, *bi.config.LastLevel); err != nil {
			return err
		}
		return bi.markOneshot(ctx, *bi.config.LastLevel)
	}

	syncLevel, known, err := bi.datasource.SyncLevel(ctx)
	if err != nil {
		return fmt.Errorf("big-map index %q: sync_level: %w", bi.name, err)
	}
	if !known {
		return runtimeErrorf("big-map index %q: datasource sync_level is not known yet", bi.name)
	}
	if bi.state.Level < syncLevel {
		bi.queue.Clear()
		return bi.synchronize(ctx, syncLevel)
	}
	return bi.processQueue(ctx)
}

func (bi *BigMapIndex) synchronize(ctx context.Context, lastLevel int64) error {
	skip, err := bi.enterSyncState(ctx, lastLevel)
	if err != nil {
		return err
	}
	if skip {
		return nil
	}
	bi.logSyncProgress(lastLevel)

	addrSet := mapset.NewThreadUnsafeSet[string]()
	pathSet := mapset.NewThreadUnsafeSet[string]()
	for _, h := range bi.config.Handlers {
		addrSet.Add(h.ContractAddress)
		pathSet.Add(h.Path)
	}

	addrs, paths := addrSet.ToSlice(), pathSet.ToSlice()
	slices.Sort(addrs)
	slices.Sort(paths)
	fetcher := bi.datasource.NewBigMapFetcher(datasource.BigMapFetcherParams{
		FirstLevel: bi.state.Level + 1,
		LastLevel:  lastLevel,
		Addresses:  addrs,
		Paths:      paths,
	})
	for {
		_, diffs, ok, err := fetcher.Next(ctx)
		if err != nil {
			return fmt.Errorf("big-map index %q: fetch: %w", bi.name, err)
		}
		if !ok {
			break
		}
		if err := bi.processLevelBigMaps(ctx, diffs); err != nil {
			return err
		}
	}
	return bi.exitSyncState(ctx, lastLevel)
}

func (bi *BigMapIndex) processQueue(ctx context.Context) error {
	for {
		diffs, ok := bi.queue.TryPop()
		if !ok {
			return nil
		}
		bi.updateQueueGauge()
		if err := bi.processLevelBigMaps(ctx, diffs); err != nil {
			return err
		}
	}
}

// processLevelBigMaps is spec.md §4.3's _process_level_big_maps. Unlike
// OperationIndex there is no single-level rollback reconciliation here:
// equality with the current state level is fatal, not tolerated.
func (bi *BigMapIndex) processLevelBigMaps(ctx context.Context, diffs []model.BigMapData) error {
	if len(diffs) == 0 {
		return nil
	}

	levels := make([]int64, len(diffs))
	for i, d := range diffs {
		levels[i] = d.Level
	}
	level, err := extractLevel(levels)
	if err != nil {
		return err
	}
	if level <= bi.state.Level {
		return runtimeErrorf("big-map index %q: level %d must be greater than current state level %d", bi.name, level, bi.state.Level)
	}

	matches, err := matcher.MatchBigMaps(diffs, bi.config.Handlers)
	if err != nil {
		return err
	}

	if len(matches) == 0 {
		if err := bi.bumpLevel(ctx, level); err != nil {
			return err
		}
		return nil
	}

	lvl := level
	err = bi.storage.InGlobalTransaction(ctx, func(txCtx context.Context) error {
		for _, m := range matches {
			if m.Handler.Parent == "" {
				return &indexctx.ConfigInitializationError{Callback: m.Handler.Callback}
			}
			arg := model.BigMapDiff{Data: m.Diff, Action: m.Diff.Action, Key: m.Key, Value: m.Value}
			prefix := fmt.Sprintf("%s: {}", m.Diff.OperationID)
			if err := bi.ctx.FireHandler(txCtx, m.Handler.Callback, m.Handler.Parent, prefix, arg); err != nil {
				return err
			}
			if bi.firesCounter != nil {
				bi.firesCounter.Inc(1)
			}
		}
		return bi.storage.UpdateStatus(txCtx, bi.state, nil, &lvl)
	})
	if err != nil {
		return err
	}
	bi.updateMetrics()
	bi.sendLevel(LevelProcessed{Index: bi.name, Level: level})
	return nil
}
