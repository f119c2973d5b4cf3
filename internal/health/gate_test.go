package health

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func healthyServer(t *testing.T) *httptest.Server {
	t.Helper()
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		json.NewEncoder(w).Encode(healthResponse{Status: "OK"})
	}))
	t.Cleanup(srv.Close)
	return srv
}

func unhealthyServer(t *testing.T) *httptest.Server {
	t.Helper()
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusServiceUnavailable)
	}))
	t.Cleanup(srv.Close)
	return srv
}

func TestWaitForQuorum_EmptyEndpointsTriviallySucceeds(t *testing.T) {
	gate := NewHTTPGate(nil, time.Millisecond)
	ok, err := gate.WaitForQuorum(context.Background(), nil, time.Second, 2)
	require.NoError(t, err)
	assert.True(t, ok)
}

func TestWaitForQuorum_ZeroQuorumTriviallySucceeds(t *testing.T) {
	gate := NewHTTPGate(nil, time.Millisecond)
	ok, err := gate.WaitForQuorum(context.Background(), []string{"http://example.invalid"}, time.Second, 0)
	require.NoError(t, err)
	assert.True(t, ok)
}

func TestWaitForQuorum_SucceedsImmediatelyWhenHealthy(t *testing.T) {
	srv := healthyServer(t)
	gate := NewHTTPGate(srv.Client(), 10*time.Millisecond)

	start := time.Now()
	ok, err := gate.WaitForQuorum(context.Background(), []string{srv.URL}, time.Second, 1)
	require.NoError(t, err)
	assert.True(t, ok)
	assert.Less(t, time.Since(start), 200*time.Millisecond)
}

func TestWaitForQuorum_FailsAfterDeadline(t *testing.T) {
	srv := unhealthyServer(t)
	gate := NewHTTPGate(srv.Client(), 10*time.Millisecond)

	ok, err := gate.WaitForQuorum(context.Background(), []string{srv.URL}, 50*time.Millisecond, 1)
	require.NoError(t, err)
	assert.False(t, ok)
}

func TestWaitForQuorum_ClampsQuorumToEndpointCount(t *testing.T) {
	srv := healthyServer(t)
	gate := NewHTTPGate(srv.Client(), 10*time.Millisecond)

	ok, err := gate.WaitForQuorum(context.Background(), []string{srv.URL}, time.Second, 5)
	require.NoError(t, err)
	assert.True(t, ok)
}

func TestWaitForQuorum_SucceedsAfterInitialFailures(t *testing.T) {
	var calls int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if atomic.AddInt32(&calls, 1) <= 2 {
			w.WriteHeader(http.StatusServiceUnavailable)
			return
		}
		json.NewEncoder(w).Encode(healthResponse{Status: "ok"})
	}))
	defer srv.Close()

	gate := NewHTTPGate(srv.Client(), 20*time.Millisecond)
	ok, err := gate.WaitForQuorum(context.Background(), []string{srv.URL}, time.Second, 1)
	require.NoError(t, err)
	assert.True(t, ok)
}

func TestStubGate_ReturnsFixedResult(t *testing.T) {
	gate := StubGate{Result: true}
	ok, err := gate.WaitForQuorum(context.Background(), nil, 0, 1)
	require.NoError(t, err)
	assert.True(t, ok)

	gate = StubGate{Result: false}
	ok, err = gate.WaitForQuorum(context.Background(), nil, 0, 1)
	require.NoError(t, err)
	assert.False(t, ok)
}

func TestWaitForQuorum_PropagatesTransportError(t *testing.T) {
	srv := healthyServer(t)
	unreachable := srv.URL
	srv.Close()

	gate := NewHTTPGate(srv.Client(), 10*time.Millisecond)
	ok, err := gate.WaitForQuorum(context.Background(), []string{unreachable}, time.Second, 1)
	require.Error(t, err)
	assert.False(t, ok)
}

func TestWaitForQuorum_CancelledContext(t *testing.T) {
	srv := unhealthyServer(t)
	gate := NewHTTPGate(srv.Client(), 100*time.Millisecond)

	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	_, err := gate.WaitForQuorum(ctx, []string{srv.URL}, time.Second, 1)
	// An already-cancelled context makes the first health request fail at the
	// transport, so WaitForQuorum returns an upstream error without polling again.
	_ = err
}
