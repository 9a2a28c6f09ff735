package engine

import (
	"context"
	"encoding/json"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/chainforge/indexengine/model"
	"github.com/chainforge/indexengine/patternconfig"
	"github.com/chainforge/indexengine/schema"
	"github.com/chainforge/indexengine/storage"
)

type ledgerValue struct {
	Balance int64 `json:"balance"`
}

func newTestBigMapIndex(t *testing.T, ds *fakeDatasource, mem *storage.Memory, fctx *fakeCtx, config BigMapIndexConfig) *BigMapIndex {
	t.Helper()
	bi, err := NewBigMapIndex(Deps{
		Name:       "ledger",
		Datasource: ds,
		Storage:    mem,
		Ctx:        fctx,
		BlockCache: newTestBlockCache(),
	}, config)
	require.NoError(t, err)
	require.NoError(t, bi.InitializeState(context.Background()))
	return bi
}

func TestBigMapIndexMatchesAndAdvances(t *testing.T) {
	ds := newFakeDatasource("ds")
	mem := storage.NewMemory()
	fctx := newFakeCtx()

	config := BigMapIndexConfig{
		FirstLevel: 0,
		Handlers: []patternconfig.BigMapHandlerConfig{
			{
				Parent:          "ledger",
				Callback:        "on_ledger_update",
				ContractAddress: "KT1contract",
				Path:            "ledger",
				Key:             schema.For[map[string]any]("Key"),
				Value:           schema.For[ledgerValue]("LedgerValue"),
			},
		},
	}
	bi := newTestBigMapIndex(t, ds, mem, fctx, config)

	ds.bigMapBatches[50] = []model.BigMapData{
		{
			Level: 50, ContractAddress: "KT1contract", Path: "ledger",
			Action: model.BigMapAddKey,
			Key:    json.RawMessage(`{"owner":"tz1abc"}`),
			Value:  json.RawMessage(`{"balance":10}`),
		},
	}
	ds.setSyncLevel(50)

	require.NoError(t, bi.Process(context.Background()))
	assert.Equal(t, []string{"on_ledger_update"}, fctx.firedCallbacks())
	assert.Equal(t, int64(50), bi.State().Level)
}

func TestBigMapIndexEqualLevelIsAlwaysFatal(t *testing.T) {
	ds := newFakeDatasource("ds")
	mem := storage.NewMemory()
	fctx := newFakeCtx()
	bi := newTestBigMapIndex(t, ds, mem, fctx, BigMapIndexConfig{FirstLevel: 20})

	err := bi.processLevelBigMaps(context.Background(), []model.BigMapData{
		{Level: 20, ContractAddress: "KT1x", Path: "p"},
	})
	require.Error(t, err)
	var re *RuntimeError
	assert.ErrorAs(t, err, &re)
}

func TestBigMapIndexEmptyBatchIsNoOp(t *testing.T) {
	ds := newFakeDatasource("ds")
	mem := storage.NewMemory()
	fctx := newFakeCtx()
	bi := newTestBigMapIndex(t, ds, mem, fctx, BigMapIndexConfig{FirstLevel: 0})

	require.NoError(t, bi.processLevelBigMaps(context.Background(), nil))
	assert.Equal(t, int64(0), bi.State().Level)
}

func TestBigMapIndexNoMatchStillBumpsLevel(t *testing.T) {
	ds := newFakeDatasource("ds")
	mem := storage.NewMemory()
	fctx := newFakeCtx()
	bi := newTestBigMapIndex(t, ds, mem, fctx, BigMapIndexConfig{
		FirstLevel: 0,
		Handlers: []patternconfig.BigMapHandlerConfig{
			{Parent: "ledger", Callback: "on_ledger", ContractAddress: "KT1other", Path: "ledger"},
		},
	})

	require.NoError(t, bi.processLevelBigMaps(context.Background(), []model.BigMapData{
		{Level: 5, ContractAddress: "KT1contract", Path: "ledger", Action: model.BigMapRemove},
	}))
	assert.Equal(t, int64(5), bi.State().Level)
	assert.Empty(t, fctx.firedCallbacks())
}
