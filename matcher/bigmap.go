package matcher

import (
	"github.com/chainforge/indexengine/model"
	"github.com/chainforge/indexengine/patternconfig"
	"github.com/chainforge/indexengine/schema"
)

// BigMapMatch is one matched big-map diff/handler pair with decoded key
// and value arguments.
type BigMapMatch struct {
	Diff    model.BigMapData
	Handler patternconfig.BigMapHandlerConfig
	Key     any
	Value   any
}

// MatchBigMaps matches every diff against every configured handler. A
// diff matches a handler iff the path and contract address both equal
// (spec.md §4.3); there is no optional-slot or repeated-match structure
// here, unlike operation patterns.
func MatchBigMaps(diffs []model.BigMapData, handlers []patternconfig.BigMapHandlerConfig) ([]BigMapMatch, error) {
	var out []BigMapMatch
	for _, diff := range diffs {
		for _, h := range handlers {
			if !matchBigMap(h, diff) {
				continue
			}
			key, value, err := prepareBigMapArgs(h, diff)
			if err != nil {
				return nil, err
			}
			out = append(out, BigMapMatch{Diff: diff, Handler: h, Key: key, Value: value})
		}
	}
	return out, nil
}

func matchBigMap(h patternconfig.BigMapHandlerConfig, diff model.BigMapData) bool {
	return h.Path == diff.Path && h.ContractAddress == diff.ContractAddress
}

func prepareBigMapArgs(h patternconfig.BigMapHandlerConfig, diff model.BigMapData) (key, value any, err error) {
	if diff.Action.HasKey() {
		key, err = h.Key.Decode(diff.Key)
		if err != nil {
			return nil, nil, schema.WithSource(err, diff)
		}
	}
	if diff.Action.HasValue() {
		value, err = h.Value.Decode(diff.Value)
		if err != nil {
			return nil, nil, schema.WithSource(err, diff)
		}
	}
	return key, value, nil
}
