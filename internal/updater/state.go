// Package updater implements the A/B slot state machine driving staged
// bundle deployment, health-quorum commit, and bounded rollback.
package updater

import (
	"github.com/lokanos/hub/internal/apperrors"
)

// Slot identifies one of the two interchangeable deployment regions.
type Slot string

const (
	SlotA Slot = "A"
	SlotB Slot = "B"
)

// Other returns the slot's counterpart.
func (s Slot) Other() Slot {
	if s == SlotA {
		return SlotB
	}
	return SlotA
}

var allSlots = [2]Slot{SlotA, SlotB}

// SlotState is the lifecycle stage of a single slot.
type SlotState string

const (
	StateInactive SlotState = "INACTIVE"
	StateStaged   SlotState = "STAGED"
	StateBooting  SlotState = "BOOTING"
	StateActive   SlotState = "ACTIVE"
	StateBad      SlotState = "BAD"
)

// SlotInfo captures a slot's lifecycle state and deployed artifact.
type SlotInfo struct {
	State      SlotState `json:"state"`
	Artifact   string    `json:"artifact,omitempty"`
	Generation uint64    `json:"generation"`
}

// State is the full updater state, persisted after every mutation.
type State struct {
	Generation     uint64              `json:"generation"`
	Active         *Slot               `json:"active"`
	PreviousActive *Slot               `json:"previous_active"`
	Staging        *Slot               `json:"staging"`
	LastFailed     *Slot               `json:"last_failed"`
	Slots          map[Slot]*SlotInfo  `json:"slots"`
}

// NewState returns the initial state: A active, B inactive.
func NewState() *State {
	active := SlotA
	return &State{
		Generation: 0,
		Active:     &active,
		Slots: map[Slot]*SlotInfo{
			SlotA: {State: StateActive},
			SlotB: {State: StateInactive},
		},
	}
}

func slotEq(a, b *Slot) bool {
	if a == nil || b == nil {
		return a == b
	}
	return *a == *b
}

func ptr(s Slot) *Slot { return &s }

// Stage places artifact into a free slot (or the already-staging slot),
// bumping the generation counter unless the request is an idempotent repeat.
func (s *State) Stage(artifact string, target *Slot) (Slot, error) {
	if s.Staging != nil {
		slot := *s.Staging
		if target != nil && *target != slot {
			return "", apperrors.Conflict("staged slot does not match requested target").
				WithDetails("staged_slot", string(slot)).
				WithDetails("requested_slot", string(*target))
		}
		info := s.Slots[slot]
		if info.State == StateBooting {
			return "", apperrors.Conflict("slot is currently booting and cannot be restaged")
		}
		if info.State == StateStaged && info.Artifact == artifact {
			return slot, nil
		}
		info.State = StateStaged
		info.Artifact = artifact
		s.Generation++
		info.Generation = s.Generation
		return slot, nil
	}

	var candidate Slot
	if target != nil {
		if !s.isAvailableForStage(*target) {
			return "", apperrors.Conflict("target slot is not available for staging").
				WithDetails("slot", string(*target))
		}
		candidate = *target
	} else {
		found := false
		for _, slot := range allSlots {
			if s.isAvailableForStage(slot) {
				candidate = slot
				found = true
				break
			}
		}
		if !found {
			return "", apperrors.Conflict("no slot available for staging")
		}
	}

	info := s.Slots[candidate]
	info.State = StateStaged
	info.Artifact = artifact
	s.Generation++
	info.Generation = s.Generation
	s.Staging = ptr(candidate)

	return candidate, nil
}

func (s *State) isAvailableForStage(slot Slot) bool {
	info := s.Slots[slot]
	if slotEq(s.Active, &slot) && info.State == StateActive {
		return false
	}
	switch info.State {
	case StateInactive, StateBad, StateStaged:
		return true
	default:
		return false
	}
}

// BeginCommit transitions the staging slot from Staged to Booting.
func (s *State) BeginCommit() (Slot, error) {
	if s.Staging == nil {
		return "", apperrors.Conflict("no artifact is staged for commit")
	}
	slot := *s.Staging
	info := s.Slots[slot]
	switch info.State {
	case StateStaged:
		info.State = StateBooting
		return slot, nil
	case StateBooting:
		return slot, nil
	default:
		return "", apperrors.Conflict("staging slot is not ready for commit")
	}
}

// FinalizeCommit makes slot the new active slot and retires the old one.
func (s *State) FinalizeCommit(slot Slot) {
	previousActive := s.Active
	if previousActive != nil && *previousActive != slot {
		if info, ok := s.Slots[*previousActive]; ok {
			info.State = StateInactive
		}
	}
	if info, ok := s.Slots[slot]; ok {
		info.State = StateActive
	}

	if previousActive != nil && *previousActive == slot {
		s.PreviousActive = nil
	} else {
		s.PreviousActive = previousActive
	}
	s.Active = ptr(slot)
	s.Staging = nil
	s.LastFailed = nil
}

// FailCommit marks slot Bad and records it as the last failure.
func (s *State) FailCommit(slot Slot) {
	if info, ok := s.Slots[slot]; ok {
		info.State = StateBad
	}
	s.LastFailed = ptr(slot)
	s.Staging = nil
}

// MarkActiveBad demotes the current active slot to Bad, if one is active.
func (s *State) MarkActiveBad() *Slot {
	if s.Active == nil {
		return nil
	}
	active := *s.Active
	info := s.Slots[active]
	if info.State != StateActive {
		return nil
	}
	info.State = StateBad
	s.Active = nil
	s.LastFailed = ptr(active)
	return &active
}

// Rollback restores PreviousActive to Active, demoting the failed slot.
func (s *State) Rollback() (Slot, error) {
	if s.PreviousActive == nil {
		return "", apperrors.Conflict("no previous active slot recorded for rollback")
	}
	if s.LastFailed == nil {
		return "", apperrors.Conflict("no failed slot recorded for rollback")
	}
	previousActive := *s.PreviousActive
	failed := *s.LastFailed

	if info, ok := s.Slots[previousActive]; ok {
		info.State = StateActive
	}
	if info, ok := s.Slots[failed]; ok && info.State == StateBad {
		info.State = StateInactive
	}

	s.Active = ptr(previousActive)
	s.PreviousActive = nil
	s.LastFailed = nil
	s.Staging = nil

	return previousActive, nil
}

// Clone returns a deep copy suitable for safe hand-off outside the mutex.
func (s *State) Clone() *State {
	out := &State{
		Generation: s.Generation,
		Slots:      make(map[Slot]*SlotInfo, len(s.Slots)),
	}
	if s.Active != nil {
		out.Active = ptr(*s.Active)
	}
	if s.PreviousActive != nil {
		out.PreviousActive = ptr(*s.PreviousActive)
	}
	if s.Staging != nil {
		out.Staging = ptr(*s.Staging)
	}
	if s.LastFailed != nil {
		out.LastFailed = ptr(*s.LastFailed)
	}
	for slot, info := range s.Slots {
		copied := *info
		out.Slots[slot] = &copied
	}
	return out
}
