package updater

import (
	"bytes"
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type fakeMetadata struct{ slot Slot }

func (f fakeMetadata) TargetSlot() Slot { return f.slot }

type fakeVerifier struct {
	metadata Metadata
	err      error
}

func (f fakeVerifier) Verify(string) (Metadata, error) { return f.metadata, f.err }

type fakeGate struct {
	healthy bool
	err     error
}

func (f fakeGate) WaitForQuorum(context.Context, []string, time.Duration, int) (bool, error) {
	return f.healthy, f.err
}

func newTestService(t *testing.T, verifier Verifier, gate Gate) *Service {
	t.Helper()
	machine, err := NewMachine(context.Background(), NewMemoryStore())
	require.NoError(t, err)
	return NewService(machine, verifier, gate, CommitConfig{HealthQuorum: 1, HealthDeadline: time.Millisecond})
}

func TestStageHandler_AcceptsValidBundle(t *testing.T) {
	svc := newTestService(t, fakeVerifier{metadata: fakeMetadata{slot: SlotB}}, fakeGate{healthy: true})
	handlers := NewHandlers(svc, nil)

	body, err := json.Marshal(stageRequest{BundlePath: "/bundles/1", Artifact: "hub-v2"})
	require.NoError(t, err)

	req := httptest.NewRequest(http.MethodPost, "/v1/update/stage", bytes.NewReader(body))
	rec := httptest.NewRecorder()
	handlers.Stage(rec, req)

	assert.Equal(t, http.StatusAccepted, rec.Code)

	var resp slotResponse
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &resp))
	assert.Equal(t, SlotB, resp.Slot)
}

func TestStageHandler_RejectsMissingBundlePath(t *testing.T) {
	svc := newTestService(t, fakeVerifier{}, fakeGate{healthy: true})
	handlers := NewHandlers(svc, nil)

	body, err := json.Marshal(stageRequest{Artifact: "hub-v2"})
	require.NoError(t, err)

	req := httptest.NewRequest(http.MethodPost, "/v1/update/stage", bytes.NewReader(body))
	rec := httptest.NewRecorder()
	handlers.Stage(rec, req)

	assert.Equal(t, http.StatusBadRequest, rec.Code)
}

func TestStageHandler_PropagatesVerificationFailureAsBundleInvalid(t *testing.T) {
	svc := newTestService(t, fakeVerifier{err: assert.AnError}, fakeGate{healthy: true})
	handlers := NewHandlers(svc, nil)

	body, err := json.Marshal(stageRequest{BundlePath: "/bundles/bad", Artifact: "hub-v2"})
	require.NoError(t, err)

	req := httptest.NewRequest(http.MethodPost, "/v1/update/stage", bytes.NewReader(body))
	rec := httptest.NewRecorder()
	handlers.Stage(rec, req)

	assert.Equal(t, http.StatusBadRequest, rec.Code)
}

func TestCommitHandler_FinalizesWhenHealthQuorumMet(t *testing.T) {
	svc := newTestService(t, fakeVerifier{metadata: fakeMetadata{slot: SlotB}}, fakeGate{healthy: true})
	handlers := NewHandlers(svc, nil)

	_, err := svc.StageBundle(context.Background(), "/bundles/1", "hub-v2", nil)
	require.NoError(t, err)

	req := httptest.NewRequest(http.MethodPost, "/v1/update/commit", nil)
	rec := httptest.NewRecorder()
	handlers.Commit(rec, req)

	assert.Equal(t, http.StatusOK, rec.Code)

	var resp commitResponse
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &resp))
	assert.True(t, resp.Healthy)
	assert.Equal(t, SlotB, resp.Slot)
}

func TestCommitHandler_MarksSlotBadWhenHealthQuorumNotMet(t *testing.T) {
	svc := newTestService(t, fakeVerifier{metadata: fakeMetadata{slot: SlotB}}, fakeGate{healthy: false})
	handlers := NewHandlers(svc, nil)

	_, err := svc.StageBundle(context.Background(), "/bundles/1", "hub-v2", nil)
	require.NoError(t, err)

	req := httptest.NewRequest(http.MethodPost, "/v1/update/commit", nil)
	rec := httptest.NewRecorder()
	handlers.Commit(rec, req)

	assert.Equal(t, http.StatusOK, rec.Code)

	var resp commitResponse
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &resp))
	assert.False(t, resp.Healthy)

	snap := svc.Snapshot()
	assert.Equal(t, StateBad, snap.Slots[SlotB].State)
}

func TestStatusHandler_ReturnsSnapshot(t *testing.T) {
	svc := newTestService(t, fakeVerifier{}, fakeGate{healthy: true})
	handlers := NewHandlers(svc, nil)

	req := httptest.NewRequest(http.MethodGet, "/v1/update/status", nil)
	rec := httptest.NewRecorder()
	handlers.Status(rec, req)

	assert.Equal(t, http.StatusOK, rec.Code)
}
