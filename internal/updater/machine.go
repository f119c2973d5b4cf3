package updater

import (
	"context"
	"sync"

	"github.com/lokanos/hub/internal/apperrors"
)

// Store is the durable persistence contract for updater state (C4).
type Store interface {
	Load(ctx context.Context) (*State, error)
	Save(ctx context.Context, state *State) error
}

// Machine guards State behind a mutex and persists after every mutation, so
// that in-memory state is never visibly ahead of durable state.
type Machine struct {
	mu    sync.Mutex
	state *State
	store Store
}

// NewMachine loads state from store (or starts fresh) and returns a Machine.
func NewMachine(ctx context.Context, store Store) (*Machine, error) {
	state, err := store.Load(ctx)
	if err != nil {
		return nil, apperrors.Internal("load updater state", err)
	}
	if state == nil {
		state = NewState()
	}
	return &Machine{state: state, store: store}, nil
}

// Snapshot returns a deep copy of the current state for read-only callers.
func (m *Machine) Snapshot() *State {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.state.Clone()
}

func (m *Machine) commit(ctx context.Context) error {
	if err := m.store.Save(ctx, m.state); err != nil {
		return apperrors.Internal("persist updater state", err)
	}
	return nil
}

// Stage verifies target availability and stages artifact, persisting on success.
func (m *Machine) Stage(ctx context.Context, artifact string, target *Slot) (Slot, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	slot, err := m.state.Stage(artifact, target)
	if err != nil {
		return "", err
	}
	if err := m.commit(ctx); err != nil {
		return "", err
	}
	return slot, nil
}

// BeginCommit transitions the staging slot to Booting, persisting on success.
func (m *Machine) BeginCommit(ctx context.Context) (Slot, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	slot, err := m.state.BeginCommit()
	if err != nil {
		return "", err
	}
	if err := m.commit(ctx); err != nil {
		return "", err
	}
	return slot, nil
}

// FinalizeCommit marks slot Active, persisting the transition.
func (m *Machine) FinalizeCommit(ctx context.Context, slot Slot) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	m.state.FinalizeCommit(slot)
	return m.commit(ctx)
}

// FailCommit marks slot Bad, persisting the transition.
func (m *Machine) FailCommit(ctx context.Context, slot Slot) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	m.state.FailCommit(slot)
	return m.commit(ctx)
}

// MarkActiveBad demotes the active slot, persisting the transition.
func (m *Machine) MarkActiveBad(ctx context.Context) (*Slot, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	slot := m.state.MarkActiveBad()
	if slot == nil {
		return nil, nil
	}
	if err := m.commit(ctx); err != nil {
		return nil, err
	}
	return slot, nil
}

// Rollback restores the previous active slot, persisting the transition.
func (m *Machine) Rollback(ctx context.Context) (Slot, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	slot, err := m.state.Rollback()
	if err != nil {
		return "", err
	}
	if err := m.commit(ctx); err != nil {
		return "", err
	}
	return slot, nil
}

// StagingSlot returns the currently staging slot, if any.
func (m *Machine) StagingSlot() *Slot {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.state.Staging == nil {
		return nil
	}
	slot := *m.state.Staging
	return &slot
}
