package model

import "encoding/json"

// OperationData is one chain operation within a block. Operations sharing
// (Hash, Counter) form an OperationSubgroup, the unit the operation
// matcher walks.
type OperationData struct {
	Level      int64
	Hash       string
	Counter    int64
	Type       OperationType
	Sender     string
	Target     string
	Entrypoint string

	ParameterJSON json.RawMessage
	StorageJSON   json.RawMessage

	OriginatedContractAddress  string
	OriginatedContractCodeHash int64
	OriginatedContractTypeHash int64
}

// SubgroupKey is the (hash, counter) tuple identifying an operation's
// subgroup.
type SubgroupKey struct {
	Hash    string
	Counter int64
}

// Key returns op's subgroup key.
func (op OperationData) Key() SubgroupKey {
	return SubgroupKey{Hash: op.Hash, Counter: op.Counter}
}

// Subgroup is an ordered run of operations sharing one SubgroupKey.
type Subgroup struct {
	Key        SubgroupKey
	Operations []OperationData
}

// GroupBySubgroup buckets operations into subgroups, preserving both the
// intra-subgroup order of operations and the insertion order of
// subgroups (first operation observed for a given key determines its
// position), per spec.md's ordering guarantee.
func GroupBySubgroup(ops []OperationData) []Subgroup {
	index := make(map[SubgroupKey]int, len(ops))
	var groups []Subgroup
	for _, op := range ops {
		key := op.Key()
		if i, ok := index[key]; ok {
			groups[i].Operations = append(groups[i].Operations, op)
			continue
		}
		index[key] = len(groups)
		groups = append(groups, Subgroup{Key: key, Operations: []OperationData{op}})
	}
	return groups
}
