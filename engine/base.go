// Package engine implements the index engine: the sync/realtime state
// machine shared by all three index variants (OperationIndex,
// BigMapIndex, HeadIndex), each variant's synchronize/process-queue
// logic, and the rollback controller for OperationIndex.
package engine

import (
	"context"
	"fmt"

	gethlog "github.com/ethereum/go-ethereum/log"
	"github.com/ethereum/go-ethereum/metrics"

	"github.com/chainforge/indexengine/blockcache"
	"github.com/chainforge/indexengine/datasource"
	"github.com/chainforge/indexengine/indexctx"
	"github.com/chainforge/indexengine/model"
	"github.com/chainforge/indexengine/storage"
)

// Deps bundles the external collaborators every index variant needs.
// Datasource, Storage and Ctx are interfaces this core treats as
// out-of-scope collaborators (spec.md §1/§6); BlockCache is the one
// process-wide resource owned outside any single index.
type Deps struct {
	Name       string
	Datasource datasource.Datasource
	Storage    storage.Storage
	Ctx        indexctx.Context
	BlockCache *blockcache.Cache
	Logger     gethlog.Logger
	Metrics    metrics.Registry // nil disables metrics

	// Template and TemplateValues record the template an index was
	// instantiated from, if any (spec.md §3's Index State fields).
	// Both are empty for a non-templated index.
	Template       string
	TemplateValues map[string]string
}

// base holds the fields and methods shared by all three index variants:
// the Index State Record, the sync/realtime state machine, and the
// startup continuity check (spec.md §4.1).
type base struct {
	feeds

	name           string
	kind           model.IndexKind
	configHash     string
	template       string
	templateValues map[string]string
	firstLevel     int64

	datasource datasource.Datasource
	storage    storage.Storage
	ctx        indexctx.Context
	blockCache *blockcache.Cache
	logger     gethlog.Logger

	levelGauge   metrics.Gauge
	queueGauge   metrics.Gauge
	firesCounter metrics.Counter

	state       *model.IndexState
	initialized bool

	// syncTarget is the level the most recent synchronize() pass worked
	// toward. Zero before the first pass; it is not cleared when a pass
	// ends.
	syncTarget int64
}

func newBase(deps Deps, kind model.IndexKind, configHash string, firstLevel int64) base {
	logger := deps.Logger
	if logger == nil {
		logger = gethlog.New()
	}
	logger = logger.With("index", deps.Name, "kind", string(kind))

	b := base{
		name:           deps.Name,
		kind:           kind,
		configHash:     configHash,
		template:       deps.Template,
		templateValues: deps.TemplateValues,
		firstLevel:     firstLevel,
		datasource:     deps.Datasource,
		storage:        deps.Storage,
		ctx:            deps.Ctx,
		blockCache:     deps.BlockCache,
		logger:         logger,
	}
	if deps.Metrics != nil {
		b.levelGauge = metrics.NewRegisteredGauge(fmt.Sprintf("index/%s/level", deps.Name), deps.Metrics)
		b.queueGauge = metrics.NewRegisteredGauge(fmt.Sprintf("index/%s/queue_depth", deps.Name), deps.Metrics)
		b.firesCounter = metrics.NewRegisteredCounter(fmt.Sprintf("index/%s/handler_fires", deps.Name), deps.Metrics)
	}
	return b
}

// Name returns the index's configured name.
func (b *base) Name() string { return b.name }

// State returns the current persisted state snapshot. Callers must not
// retain it across a process() call; the engine is the only writer.
func (b *base) State() model.IndexState {
	if b.state == nil {
		return model.IndexState{Name: b.name, Kind: b.kind, Status: model.StatusNew, Level: b.firstLevel}
	}
	return *b.state
}

// initializeState loads or creates the Index State row and, on restart
// with existing progress, verifies chain continuity against the Block
// Cache (spec.md §4.1). Calling it twice is a RuntimeError.
func (b *base) initializeState(ctx context.Context) error {
	if b.initialized {
		return runtimeErrorf("initialize_state called twice for index %q", b.name)
	}

	defaults := model.IndexState{
		Name:           b.name,
		Kind:           b.kind,
		ConfigHash:     b.configHash,
		Template:       b.template,
		TemplateValues: b.templateValues,
		Level:          b.firstLevel,
		Status:         model.StatusNew,
	}
	state, created, err := b.storage.GetOrCreate(ctx, b.name, b.kind, defaults)
	if err != nil {
		return fmt.Errorf("index %q: get_or_create: %w", b.name, err)
	}
	b.state = state

	if !created && state.Level > 0 {
		if err := b.verifyContinuity(ctx); err != nil {
			return err
		}
	}

	b.initialized = true
	b.updateMetrics()
	return nil
}

// verifyContinuity implements the startup hash-mismatch check
// (spec.md §4.1, tested by scenario S6).
func (b *base) verifyContinuity(ctx context.Context) error {
	head, err := b.storage.Latest(ctx, b.datasource.Name())
	if err != nil {
		return fmt.Errorf("index %q: head lookup: %w", b.name, err)
	}
	if head == nil {
		return nil
	}

	hdr, err := b.blockCache.Get(ctx, head.Level, b.datasource.GetBlock)
	if err != nil {
		return fmt.Errorf("index %q: fetch block %d: %w", b.name, head.Level, err)
	}
	if hdr.Hash != head.Hash {
		b.logger.Warn("block hash mismatch on startup, reindexing",
			"level", head.Level, "stored", head.Hash, "chain", hdr.Hash)
		return b.reindex(ctx, indexctx.ReasonBlockHashMismatch)
	}
	return nil
}

// reindex sends the Reindexed event and delegates to the Context. Per
// spec.md §9, the call site never continues past this: the engine
// returns the Context's error, or a *ReindexError when the Context
// returns nil, straight to its own caller.
func (b *base) reindex(ctx context.Context, reason indexctx.ReindexReason) error {
	b.sendReindex(Reindexed{Index: b.name, Reason: reason})
	if err := b.ctx.Reindex(ctx, reason); err != nil {
		return err
	}
	return &indexctx.ReindexError{Reason: reason}
}

// enterSyncState gates the SYNCING transition (spec.md §4.1). skip=true
// means there is nothing to do — already at lastLevel, or already
// ONESHOT — and the caller must not run its fetch loop. It is a
// RuntimeError if the index is somehow ahead of lastLevel already.
func (b *base) enterSyncState(ctx context.Context, lastLevel int64) (skip bool, err error) {
	if b.state.Status == model.StatusOneshot {
		return true, nil
	}
	if b.state.Level == lastLevel {
		// early_realtime: already caught up at restart, nothing to
		// synchronize. Still observable on the LevelProcessed feed.
		b.sendLevel(LevelProcessed{Index: b.name, Level: lastLevel})
		return true, nil
	}
	if b.state.Level > lastLevel {
		return false, runtimeErrorf("index %q: cannot sync to level %d below current level %d", b.name, lastLevel, b.state.Level)
	}
	status := model.StatusSyncing
	if err := b.storage.UpdateStatus(ctx, b.state, &status, nil); err != nil {
		return false, fmt.Errorf("index %q: enter sync state: %w", b.name, err)
	}
	return false, nil
}

// exitSyncState transitions to REALTIME at lastLevel.
func (b *base) exitSyncState(ctx context.Context, lastLevel int64) error {
	status := model.StatusRealtime
	if err := b.storage.UpdateStatus(ctx, b.state, &status, &lastLevel); err != nil {
		return fmt.Errorf("index %q: exit sync state: %w", b.name, err)
	}
	b.updateMetrics()
	b.sendLevel(LevelProcessed{Index: b.name, Level: lastLevel})
	return nil
}

// markOneshot transitions to ONESHOT at the given level.
func (b *base) markOneshot(ctx context.Context, level int64) error {
	status := model.StatusOneshot
	if err := b.storage.UpdateStatus(ctx, b.state, &status, &level); err != nil {
		return fmt.Errorf("index %q: mark oneshot: %w", b.name, err)
	}
	b.updateMetrics()
	return nil
}

// bumpLevel advances state.Level without a status change, used for
// levels whose batch matched no handler and that still need state.Level
// to move forward outside of a handler transaction.
func (b *base) bumpLevel(ctx context.Context, level int64) error {
	if err := b.storage.UpdateStatus(ctx, b.state, nil, &level); err != nil {
		return fmt.Errorf("index %q: bump level: %w", b.name, err)
	}
	b.updateMetrics()
	b.sendLevel(LevelProcessed{Index: b.name, Level: level})
	return nil
}

func (b *base) updateMetrics() {
	if b.levelGauge != nil {
		b.levelGauge.Update(b.state.Level)
	}
}

// Progress reports the current state level and the level a historical
// sync pass is working toward. Once the state level has reached the most
// recent sync target, last equals current.
func (b *base) Progress() (current, last int64) {
	if b.syncTarget > b.state.Level {
		return b.state.Level, b.syncTarget
	}
	return b.state.Level, b.state.Level
}

// logSyncProgress emits the "X/Y levels left" style progress line the
// original logged at the start of each synchronize pass.
func (b *base) logSyncProgress(lastLevel int64) {
	b.syncTarget = lastLevel
	b.logger.Info("sync progress", "current", b.state.Level, "target", lastLevel, "levels_left", lastLevel-b.state.Level)
}

// extractLevel returns the single level every item in levels shares,
// failing fatally if they differ (spec.md §4.1's _extract_level,
// testable property 3). Callers must check for an empty slice first;
// an empty batch is a no-op, not an error.
func extractLevel(levels []int64) (int64, error) {
	first := levels[0]
	for _, l := range levels[1:] {
		if l != first {
			return 0, runtimeErrorf("batch contains mixed levels: %d and %d", first, l)
		}
	}
	return first, nil
}
