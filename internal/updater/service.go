package updater

import (
	"context"
	"time"

	"github.com/lokanos/hub/internal/apperrors"
)

// Verifier validates a staged bundle directory and reports its declared
// target slot, fulfilling C2.
type Verifier interface {
	Verify(bundlePath string) (Metadata, error)
}

// Metadata is the subset of a verified bundle's manifest the updater cares
// about when staging.
type Metadata interface {
	TargetSlot() Slot
}

// Gate awaits a health quorum across endpoints before a commit finalizes,
// fulfilling C3.
type Gate interface {
	WaitForQuorum(ctx context.Context, endpoints []string, deadline time.Duration, quorum int) (bool, error)
}

// CommitConfig parameterizes the health gate that Commit consults after the
// staging slot has moved to Booting.
type CommitConfig struct {
	HealthEndpoints []string
	HealthDeadline  time.Duration
	HealthQuorum    int
}

// Service orchestrates the C1-C4 pipeline: verify a bundle, stage it, and
// gate a commit on endpoint health before finalizing or marking it bad.
type Service struct {
	machine  *Machine
	verifier Verifier
	gate     Gate
	commit   CommitConfig
}

// NewService builds a Service from machine, verifier, gate and commit.
func NewService(machine *Machine, verifier Verifier, gate Gate, commit CommitConfig) *Service {
	return &Service{machine: machine, verifier: verifier, gate: gate, commit: commit}
}

// StageBundle verifies bundlePath and stages it onto the slot its manifest
// declares (or target, when explicitly requested).
func (s *Service) StageBundle(ctx context.Context, bundlePath, artifact string, target *Slot) (Slot, error) {
	metadata, err := s.verifier.Verify(bundlePath)
	if err != nil {
		return "", apperrors.BundleInvalid(err.Error())
	}
	if target == nil {
		slot := metadata.TargetSlot()
		target = &slot
	}
	return s.machine.Stage(ctx, artifact, target)
}

// Commit transitions the staging slot to Booting, waits for the configured
// health quorum, and finalizes or marks the slot bad accordingly.
func (s *Service) Commit(ctx context.Context) (Slot, bool, error) {
	slot, err := s.machine.BeginCommit(ctx)
	if err != nil {
		return "", false, err
	}

	healthy, err := s.gate.WaitForQuorum(ctx, s.commit.HealthEndpoints, s.commit.HealthDeadline, s.commit.HealthQuorum)
	if err != nil {
		return slot, false, apperrors.Upstream("health gate", err)
	}

	if healthy {
		if err := s.machine.FinalizeCommit(ctx, slot); err != nil {
			return slot, false, err
		}
		return slot, true, nil
	}

	if err := s.machine.FailCommit(ctx, slot); err != nil {
		return slot, false, err
	}
	return slot, false, nil
}

// Rollback restores the previous active slot.
func (s *Service) Rollback(ctx context.Context) (Slot, error) {
	return s.machine.Rollback(ctx)
}

// Snapshot returns the current updater state.
func (s *Service) Snapshot() *State {
	return s.machine.Snapshot()
}
