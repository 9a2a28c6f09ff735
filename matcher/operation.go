// Package matcher implements the declarative pattern matchers: the
// operation-subgroup matcher (with optional slots, repeated matches, and
// origination de-duplication), the big-map matcher, and the trivial head
// matcher.
package matcher

import (
	"context"
	"fmt"

	"github.com/chainforge/indexengine/model"
	"github.com/chainforge/indexengine/patternconfig"
	"github.com/chainforge/indexengine/schema"
)

// ContractHashResolver resolves a contract's (code hash, type hash) pair,
// used to evaluate similar_to discriminators on origination slots. The
// engine supplies an implementation that memoizes datasource lookups
// (see engine.cachingHashResolver).
type ContractHashResolver interface {
	Resolve(ctx context.Context, address string) (codeHash, typeHash int64, err error)
}

// OperationMatch is one matched (subgroup, handler) pair together with
// the decoded handler arguments, in the order they should fire.
type OperationMatch struct {
	Subgroup model.Subgroup
	Handler  patternconfig.OperationHandlerConfig
	Args     []any
}

// MatchOperations matches every subgroup in ops against every handler's
// pattern, in subgroup-insertion order outer, configured-handler order
// inner (spec.md §5's determinism guarantee), and returns the ordered
// list of matches to fire. It also returns the set of hashes of the
// operations it was given. OperationIndex does not use that set: it
// records the hashes of the full, unreduced batch itself as its rollback
// reconciliation reference.
func MatchOperations(ctx context.Context, ops []model.OperationData, handlers []patternconfig.OperationHandlerConfig, resolver ContractHashResolver) (matches []OperationMatch, observedHashes map[string]struct{}, err error) {
	observedHashes = make(map[string]struct{}, len(ops))
	for _, op := range ops {
		observedHashes[op.Hash] = struct{}{}
	}

	subgroups := model.GroupBySubgroup(ops)
	for _, sg := range subgroups {
		for _, h := range handlers {
			walkMatches, err := matchSubgroupAgainstHandler(ctx, sg, h, resolver)
			if err != nil {
				return nil, nil, err
			}
			matches = append(matches, walkMatches...)
		}
	}
	return matches, observedHashes, nil
}

// matchSubgroupAgainstHandler runs the two-cursor walk described in
// spec.md §4.2 for one (subgroup, handler) pair, including repeated
// matches of the same handler within the subgroup. The origination
// de-dup memo is scoped to this single call (a map local to the call,
// not the handler config) per the Design Notes correction of the
// source's per-config memory smell.
func matchSubgroupAgainstHandler(ctx context.Context, sg model.Subgroup, h patternconfig.OperationHandlerConfig, resolver ContractHashResolver) ([]OperationMatch, error) {
	pattern := h.Pattern
	ops := sg.Operations

	var out []OperationMatch
	originationSeen := make(map[int]map[string]bool)

	var matched []*model.OperationData
	patIdx, opIdx := 0, 0

	emit := func() error {
		args, err := prepareHandlerArgs(pattern, matched)
		if err != nil {
			return err
		}
		out = append(out, OperationMatch{Subgroup: sg, Handler: h, Args: args})
		return nil
	}

	for opIdx < len(ops) && patIdx < len(pattern) {
		slot := pattern[patIdx]
		op := ops[opIdx]

		ok, err := matchOperation(ctx, slot, op, resolver)
		if err != nil {
			return nil, err
		}
		if ok {
			if _, isOrig := slot.(patternconfig.OriginationSlot); isOrig {
				seen := originationSeen[patIdx]
				if seen == nil {
					seen = make(map[string]bool)
					originationSeen[patIdx] = seen
				}
				if seen[op.OriginatedContractAddress] {
					ok = false
				} else {
					seen[op.OriginatedContractAddress] = true
				}
			}
		}

		if ok {
			opCopy := op
			matched = append(matched, &opCopy)
			patIdx++
			opIdx++
		} else if slot.Optional() {
			matched = append(matched, nil)
			patIdx++
		} else {
			opIdx++
		}

		if patIdx == len(pattern) {
			if err := emit(); err != nil {
				return nil, err
			}
			matched = nil
			patIdx = 0
		}
	}

	// Partial walk at subgroup exhaustion: emit once, only if progress
	// was made (patIdx > 0) and every remaining slot is optional. A
	// freshly-reset walk (patIdx == 0) never reaches here as a second
	// emission for the same completed pattern (Open Question fix).
	if patIdx > 0 && pattern[patIdx:].RequiredCount() == 0 {
		for patIdx < len(pattern) {
			matched = append(matched, nil)
			patIdx++
		}
		if err := emit(); err != nil {
			return nil, err
		}
	}

	return out, nil
}

func matchOperation(ctx context.Context, slot patternconfig.Slot, op model.OperationData, resolver ContractHashResolver) (bool, error) {
	switch s := slot.(type) {
	case patternconfig.TransactionSlot:
		if op.Type != model.OpTransaction {
			return false, nil
		}
		if s.Entrypoint != "" && s.Entrypoint != op.Entrypoint {
			return false, nil
		}
		if s.Destination != "" && s.Destination != op.Target {
			return false, nil
		}
		if s.Source != "" && s.Source != op.Sender {
			return false, nil
		}
		return true, nil

	case patternconfig.OriginationSlot:
		if op.Type != model.OpOrigination && op.Type != model.OpMigration {
			return false, nil
		}
		if s.Source != "" && s.Source != op.Sender {
			return false, nil
		}
		if s.OriginatedContract != "" && s.OriginatedContract != op.OriginatedContractAddress {
			return false, nil
		}
		if s.SimilarTo != "" {
			codeHash, typeHash, err := resolver.Resolve(ctx, s.SimilarTo)
			if err != nil {
				return false, err
			}
			if s.Strict {
				if codeHash != op.OriginatedContractCodeHash {
					return false, nil
				}
			} else if typeHash != op.OriginatedContractTypeHash {
				return false, nil
			}
		}
		return true, nil

	default:
		return false, fmt.Errorf("matcher: unknown slot type %T", slot)
	}
}

// prepareHandlerArgs decodes each matched slot/operation pair into the
// handler argument the callback receives (spec.md §4.2's
// _prepare_handler_args). A slot that declares no Parameter or Storage
// schema leaves the corresponding field of its argument nil.
func prepareHandlerArgs(pattern patternconfig.Pattern, matched []*model.OperationData) ([]any, error) {
	args := make([]any, len(pattern))
	for i, slot := range pattern {
		op := matched[i]
		if op == nil {
			args[i] = nil
			continue
		}

		switch s := slot.(type) {
		case patternconfig.TransactionSlot:
			if s.Entrypoint == "" {
				args[i] = *op
				continue
			}
			var param, stor any
			var err error
			if s.Parameter != nil {
				if param, err = s.Parameter.Decode(op.ParameterJSON); err != nil {
					return nil, schema.WithSource(err, *op)
				}
			}
			if s.Storage != nil {
				if stor, err = s.Storage.Decode(op.StorageJSON); err != nil {
					return nil, schema.WithSource(err, *op)
				}
			}
			args[i] = model.Transaction{Data: *op, Parameter: param, Storage: stor}

		case patternconfig.OriginationSlot:
			var stor any
			if s.Storage != nil {
				var err error
				if stor, err = s.Storage.Decode(op.StorageJSON); err != nil {
					return nil, schema.WithSource(err, *op)
				}
			}
			args[i] = model.Origination{Data: *op, Storage: stor}

		default:
			return nil, fmt.Errorf("matcher: unknown slot type %T", slot)
		}
	}
	return args, nil
}
