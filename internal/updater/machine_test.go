package updater

import (
	"context"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type memStore struct {
	mu    sync.Mutex
	saved *State
}

func (m *memStore) Load(_ context.Context) (*State, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.saved == nil {
		return nil, nil
	}
	return m.saved.Clone(), nil
}

func (m *memStore) Save(_ context.Context, state *State) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.saved = state.Clone()
	return nil
}

func TestNewMachine_StartsFreshWhenStoreEmpty(t *testing.T) {
	machine, err := NewMachine(context.Background(), &memStore{})
	require.NoError(t, err)

	snap := machine.Snapshot()
	assert.Equal(t, SlotA, *snap.Active)
}

func TestMachine_StagePersists(t *testing.T) {
	store := &memStore{}
	machine, err := NewMachine(context.Background(), store)
	require.NoError(t, err)

	slot, err := machine.Stage(context.Background(), "artifact:v1", nil)
	require.NoError(t, err)
	assert.Equal(t, SlotB, slot)

	require.NotNil(t, store.saved)
	require.NotNil(t, store.saved.Staging)
	assert.Equal(t, SlotB, *store.saved.Staging)
}

func TestMachine_FullLifecycle(t *testing.T) {
	store := &memStore{}
	machine, err := NewMachine(context.Background(), store)
	require.NoError(t, err)
	ctx := context.Background()

	_, err = machine.Stage(ctx, "artifact:v1", nil)
	require.NoError(t, err)
	slot, err := machine.BeginCommit(ctx)
	require.NoError(t, err)
	require.NoError(t, machine.FinalizeCommit(ctx, slot))

	snap := machine.Snapshot()
	assert.Equal(t, SlotB, *snap.Active)
	assert.Equal(t, SlotA, *snap.PreviousActive)

	_, err = machine.Rollback(ctx)
	require.Error(t, err, "rollback requires a recorded failure")
}

func TestMachine_ConcurrentStageSerializesThroughMutex(t *testing.T) {
	store := &memStore{}
	machine, err := NewMachine(context.Background(), store)
	require.NoError(t, err)
	ctx := context.Background()

	var wg sync.WaitGroup
	results := make([]error, 20)
	for i := 0; i < 20; i++ {
		wg.Add(1)
		go func(idx int) {
			defer wg.Done()
			_, results[idx] = machine.Stage(ctx, "artifact:v1", nil)
		}(i)
	}
	wg.Wait()

	succeeded := 0
	for _, err := range results {
		if err == nil {
			succeeded++
		}
	}
	assert.Equal(t, 20, succeeded, "idempotent re-stage of the same artifact always succeeds")

	snap := machine.Snapshot()
	assert.NotNil(t, snap.Staging)
}

func TestMachine_StagingSlot(t *testing.T) {
	store := &memStore{}
	machine, err := NewMachine(context.Background(), store)
	require.NoError(t, err)

	assert.Nil(t, machine.StagingSlot())

	_, err = machine.Stage(context.Background(), "artifact:v1", nil)
	require.NoError(t, err)

	slot := machine.StagingSlot()
	require.NotNil(t, slot)
	assert.Equal(t, SlotB, *slot)
}
