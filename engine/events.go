package engine

import (
	"github.com/ethereum/go-ethereum/event"

	"github.com/chainforge/indexengine/indexctx"
)

// LevelProcessed is sent on an index's feed each time it commits a level
// (including levels where no handler matched), additive observability the teacher's
// event.Feed/event.Subscription idiom provides for free
// (event/feed_test.go).
type LevelProcessed struct {
	Index string
	Level int64
}

// Reindexed is sent just before an index propagates a ReindexError.
type Reindexed struct {
	Index  string
	Reason indexctx.ReindexReason
}

// feeds bundles the two observability feeds every engine variant
// exposes. It is deliberately not part of the synchronous handler
// contract: subscribers observe, they never gate processing.
type feeds struct {
	level   event.Feed
	reindex event.Feed
}

func (f *feeds) sendLevel(v LevelProcessed) { f.level.Send(v) }
func (f *feeds) sendReindex(v Reindexed)    { f.reindex.Send(v) }

// SubscribeLevelProcessed registers ch to receive LevelProcessed events.
func (f *feeds) SubscribeLevelProcessed(ch chan<- LevelProcessed) event.Subscription {
	return f.level.Subscribe(ch)
}

// SubscribeReindexed registers ch to receive Reindexed events.
func (f *feeds) SubscribeReindexed(ch chan<- Reindexed) event.Subscription {
	return f.reindex.Subscribe(ch)
}
