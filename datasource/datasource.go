// Package datasource defines the upstream data-source collaborator: the
// thing that delivers ordered historical batches and answers point
// queries about contracts and blocks. The real implementation (RPC
// client, indexer feed, etc.) is out of scope for this core (spec.md
// §1); only the contract the engine depends on lives here.
package datasource

import (
	"context"

	"github.com/chainforge/indexengine/model"
)

// ContractSummary is the result of a contract metadata lookup, used to
// resolve similar_to discriminators on origination slots.
type ContractSummary struct {
	CodeHash int64
	TypeHash int64
}

// Datasource is the upstream event and metadata source for one chain
// endpoint.
type Datasource interface {
	// Name is a stable identifier used as the Head record key.
	Name() string

	// SyncLevel returns the current realtime head level, and false
	// until the realtime handshake has completed.
	SyncLevel(ctx context.Context) (level int64, known bool, err error)

	GetBlock(ctx context.Context, level int64) (model.BlockHeader, error)
	GetMigrationOriginations(ctx context.Context, level int64) ([]model.OperationData, error)
	GetContractSummary(ctx context.Context, address string) (ContractSummary, error)
	GetOriginatedContracts(ctx context.Context, address string) ([]string, error)
	GetSimilarContracts(ctx context.Context, address string, strict bool) ([]string, error)

	NewOperationFetcher(params OperationFetcherParams) OperationFetcher
	NewBigMapFetcher(params BigMapFetcherParams) BigMapFetcher
}

// OperationFetcherParams seeds a historical operation fetch.
type OperationFetcherParams struct {
	FirstLevel           int64
	LastLevel            int64
	TransactionAddresses []string
	OriginationAddresses []string
	IncludeMigrations    bool
	// Cache mirrors spec.md §4.2's _synchronize(last_level, cache) flag:
	// true for the one-shot fast path, letting the fetcher reuse a
	// warm cache across a single bounded run.
	Cache bool
}

// OperationFetcher lazily yields historical operations in strictly
// ascending level order, one non-empty batch per level, modeled after
// database/sql's Rows.Next cursor idiom rather than a channel so the
// synchronize loop can plainly `for fetcher.Next(ctx)`.
type OperationFetcher interface {
	// Next advances to the next batch. It returns ok=false once
	// exhausted; err is non-nil only on a fetch failure.
	Next(ctx context.Context) (level int64, ops []model.OperationData, ok bool, err error)
}

// BigMapFetcherParams seeds a historical big-map diff fetch.
type BigMapFetcherParams struct {
	FirstLevel int64
	LastLevel  int64
	Addresses  []string
	Paths      []string
}

// BigMapFetcher lazily yields historical big-map diffs in strictly
// ascending level order.
type BigMapFetcher interface {
	Next(ctx context.Context) (level int64, diffs []model.BigMapData, ok bool, err error)
}
