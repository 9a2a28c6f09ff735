package engine

import (
	"context"
	"fmt"

	"github.com/chainforge/indexengine/indexctx"
	"github.com/chainforge/indexengine/internal/digest"
	"github.com/chainforge/indexengine/matcher"
	"github.com/chainforge/indexengine/model"
	"github.com/chainforge/indexengine/patternconfig"
	"github.com/chainforge/indexengine/queue"
)

// HeadIndexConfig is the declarative config for a HeadIndex.
type HeadIndexConfig struct {
	Handlers []patternconfig.HeadHandlerConfig
}

// HeadIndex is the trivial pass-through index variant: every queued head
// fires every configured handler (spec.md §4.4).
type HeadIndex struct {
	base

	config HeadIndexConfig
	queue  *queue.Queue[model.HeadBlockData]
}

// NewHeadIndex constructs a HeadIndex. Call InitializeState before the
// first Process.
func NewHeadIndex(deps Deps, config HeadIndexConfig) (*HeadIndex, error) {
	hash, err := digest.Config(config)
	if err != nil {
		return nil, fmt.Errorf("head index %q: config digest: %w", deps.Name, err)
	}
	return &HeadIndex{
		base:   newBase(deps, model.KindHead, hash, 0),
		config: config,
		queue:  queue.New[model.HeadBlockData](),
	}, nil
}

func (hi *HeadIndex) InitializeState(ctx context.Context) error {
	return hi.initializeState(ctx)
}

// PushHead enqueues a new head block.
func (hi *HeadIndex) PushHead(head model.HeadBlockData) {
	hi.queue.Push(head)
	hi.updateQueueGauge()
}

func (hi *HeadIndex) updateQueueGauge() {
	if hi.queueGauge != nil {
		hi.queueGauge.Update(int64(hi.queue.Len()))
	}
}

// Process synchronizes trivially (just reaches REALTIME, no historical
// fetch) then drains the queue (spec.md §4.4).
func (hi *HeadIndex) Process(ctx context.Context) error {
	if !hi.initialized {
		return runtimeErrorf("head index %q: process called before initialize_state", hi.name)
	}

	syncLevel, known, err := hi.datasource.SyncLevel(ctx)
	if err != nil {
		return fmt.Errorf("head index %q: sync_level: %w", hi.name, err)
	}
	if known {
		skip, err := hi.enterSyncState(ctx, syncLevel)
		if err != nil {
			return err
		}
		if !skip {
			hi.queue.Clear()
			if err := hi.exitSyncState(ctx, syncLevel); err != nil {
				return err
			}
		}
	}
	return hi.processQueue(ctx)
}

func (hi *HeadIndex) processQueue(ctx context.Context) error {
	for {
		head, ok := hi.queue.TryPop()
		if !ok {
			return nil
		}
		hi.updateQueueGauge()
		if err := hi.processHead(ctx, head); err != nil {
			return err
		}
	}
}

// processHead is spec.md §4.4's _process_queue body.
func (hi *HeadIndex) processHead(ctx context.Context, head model.HeadBlockData) error {
	if head.Level <= hi.state.Level {
		return runtimeErrorf("head index %q: level %d must be greater than current state level %d", hi.name, head.Level, hi.state.Level)
	}

	matches := matcher.MatchHead(head, hi.config.Handlers)

	lvl := head.Level
	err := hi.storage.InGlobalTransaction(ctx, func(txCtx context.Context) error {
		for _, m := range matches {
			if m.Handler.Parent == "" {
				return &indexctx.ConfigInitializationError{Callback: m.Handler.Callback}
			}
			if err := hi.ctx.FireHandler(txCtx, m.Handler.Callback, m.Handler.Parent, head.Hash, head); err != nil {
				return err
			}
			if hi.firesCounter != nil {
				hi.firesCounter.Inc(1)
			}
		}
		return hi.storage.UpdateStatus(txCtx, hi.state, nil, &lvl)
	})
	if err != nil {
		return err
	}
	hi.updateMetrics()
	hi.sendLevel(LevelProcessed{Index: hi.name, Level: head.Level})
	return nil
}
