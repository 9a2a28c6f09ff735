package matcher

import (
	"github.com/chainforge/indexengine/model"
	"github.com/chainforge/indexengine/patternconfig"
)

// HeadMatch pairs a head block with a configured head handler. Head
// matching is a trivial pass-through: every configured handler fires for
// every head (spec.md §2's Head Matcher component).
type HeadMatch struct {
	Head    model.HeadBlockData
	Handler patternconfig.HeadHandlerConfig
}

// MatchHead pairs head against every configured handler, in configured
// order.
func MatchHead(head model.HeadBlockData, handlers []patternconfig.HeadHandlerConfig) []HeadMatch {
	out := make([]HeadMatch, len(handlers))
	for i, h := range handlers {
		out[i] = HeadMatch{Head: head, Handler: h}
	}
	return out
}
