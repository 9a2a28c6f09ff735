package storage

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/chainforge/indexengine/model"
)

func TestMemoryGetOrCreate(t *testing.T) {
	m := NewMemory()
	defaults := model.IndexState{Level: 5, Status: model.StatusNew}

	state, created, err := m.GetOrCreate(context.Background(), "idx", model.KindOperation, defaults)
	require.NoError(t, err)
	assert.True(t, created)
	assert.Equal(t, int64(5), state.Level)

	again, created, err := m.GetOrCreate(context.Background(), "idx", model.KindOperation, defaults)
	require.NoError(t, err)
	assert.False(t, created)
	assert.Same(t, state, again)
}

func TestMemoryUpdateStatusPartialUpdate(t *testing.T) {
	m := NewMemory()
	state, _, err := m.GetOrCreate(context.Background(), "idx", model.KindOperation, model.IndexState{Level: 0, Status: model.StatusNew})
	require.NoError(t, err)

	status := model.StatusSyncing
	require.NoError(t, m.UpdateStatus(context.Background(), state, &status, nil))
	assert.Equal(t, model.StatusSyncing, state.Status)
	assert.Equal(t, int64(0), state.Level, "level untouched when nil")

	lvl := int64(42)
	require.NoError(t, m.UpdateStatus(context.Background(), state, nil, &lvl))
	assert.Equal(t, model.StatusSyncing, state.Status, "status untouched when nil")
	assert.Equal(t, int64(42), state.Level)
}

func TestMemoryLatestReturnsHighestLevel(t *testing.T) {
	m := NewMemory()
	_, err := m.Latest(context.Background(), "ds")
	require.NoError(t, err)

	m.PutHead("ds", model.HeadRecord{Level: 3, Hash: "a"})
	m.PutHead("ds", model.HeadRecord{Level: 9, Hash: "b"})
	m.PutHead("ds", model.HeadRecord{Level: 5, Hash: "c"})

	latest, err := m.Latest(context.Background(), "ds")
	require.NoError(t, err)
	require.NotNil(t, latest)
	assert.Equal(t, int64(9), latest.Level)
	assert.Equal(t, "b", latest.Hash)
}

func TestMemoryLatestNoneYet(t *testing.T) {
	m := NewMemory()
	latest, err := m.Latest(context.Background(), "unknown")
	require.NoError(t, err)
	assert.Nil(t, latest)
}

func TestMemoryRejectsNestedTransaction(t *testing.T) {
	m := NewMemory()
	err := m.InGlobalTransaction(context.Background(), func(ctx context.Context) error {
		return m.InGlobalTransaction(ctx, func(ctx context.Context) error { return nil })
	})
	require.Error(t, err)
}

func TestMemoryTransactionRunsAndClearsFlag(t *testing.T) {
	m := NewMemory()
	ran := false
	err := m.InGlobalTransaction(context.Background(), func(ctx context.Context) error {
		ran = true
		return nil
	})
	require.NoError(t, err)
	assert.True(t, ran)

	// a second, non-nested transaction must succeed.
	err = m.InGlobalTransaction(context.Background(), func(ctx context.Context) error { return nil })
	require.NoError(t, err)
}
