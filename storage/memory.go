package storage

import (
	"context"
	"fmt"
	"sync"

	"github.com/chainforge/indexengine/model"
)

// Memory is an in-memory Storage, the test-double analog of the
// teacher's *_test_backend.go fakes: enough behavior to drive the engine
// end to end in tests without a real relational store.
type Memory struct {
	mu      sync.Mutex
	indexes map[string]*model.IndexState
	heads   map[string][]model.HeadRecord
	inTx    bool
}

// NewMemory returns an empty Memory store.
func NewMemory() *Memory {
	return &Memory{
		indexes: make(map[string]*model.IndexState),
		heads:   make(map[string][]model.HeadRecord),
	}
}

func (m *Memory) GetOrCreate(ctx context.Context, name string, kind model.IndexKind, defaults model.IndexState) (*model.IndexState, bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if s, ok := m.indexes[name]; ok {
		return s, false, nil
	}
	state := defaults
	state.Name = name
	state.Kind = kind
	m.indexes[name] = &state
	return &state, true, nil
}

func (m *Memory) UpdateStatus(ctx context.Context, state *model.IndexState, status *model.IndexStatus, level *int64) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if status != nil {
		state.Status = *status
	}
	if level != nil {
		state.Level = *level
	}
	return nil
}

// PutHead appends a head record for name, used by tests to seed startup
// continuity checks.
func (m *Memory) PutHead(name string, rec model.HeadRecord) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.heads[name] = append(m.heads[name], rec)
}

func (m *Memory) Latest(ctx context.Context, name string) (*model.HeadRecord, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	recs := m.heads[name]
	if len(recs) == 0 {
		return nil, nil
	}
	best := recs[0]
	for _, r := range recs[1:] {
		if r.Level > best.Level {
			best = r
		}
	}
	out := best
	return &out, nil
}

func (m *Memory) InGlobalTransaction(ctx context.Context, fn func(ctx context.Context) error) error {
	m.mu.Lock()
	if m.inTx {
		m.mu.Unlock()
		return fmt.Errorf("storage: nested global transaction")
	}
	m.inTx = true
	m.mu.Unlock()

	defer func() {
		m.mu.Lock()
		m.inTx = false
		m.mu.Unlock()
	}()

	return fn(ctx)
}
