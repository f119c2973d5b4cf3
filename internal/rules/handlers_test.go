package rules

import (
	"context"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/gorilla/websocket"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestRegisterRuleHandler_RejectsEmptyID(t *testing.T) {
	engine := NewEngine(DefaultTickInterval, nil, nil, nil)
	handlers := NewHandlers(engine, nil)

	req := httptest.NewRequest(http.MethodPost, "/v1/rules", strings.NewReader(`{}`))
	rec := httptest.NewRecorder()
	handlers.RegisterRule(rec, req)

	assert.Equal(t, http.StatusBadRequest, rec.Code)
}

func TestRegisterRuleHandler_AcceptsValidDefinition(t *testing.T) {
	engine := NewEngine(DefaultTickInterval, nil, nil, nil)
	handlers := NewHandlers(engine, nil)

	req := httptest.NewRequest(http.MethodPost, "/v1/rules", strings.NewReader(`{"id":"r1"}`))
	rec := httptest.NewRecorder()
	handlers.RegisterRule(rec, req)

	assert.Equal(t, http.StatusCreated, rec.Code)
	assert.Len(t, engine.List(), 1)
}

func TestTraceHandler_RequiresRuleID(t *testing.T) {
	engine := NewEngine(DefaultTickInterval, nil, nil, nil)
	handlers := NewHandlers(engine, nil)

	req := httptest.NewRequest(http.MethodGet, "/v1/diag/trace", nil)
	rec := httptest.NewRecorder()
	handlers.Trace(rec, req)

	assert.Equal(t, http.StatusBadRequest, rec.Code)
}

func TestTraceStream_DeliversBroadcastToConnectedClient(t *testing.T) {
	engine := NewEngine(500*time.Millisecond, nil, nil, nil)
	require.NoError(t, engine.Register(Definition{
		ID:      "r1",
		Trigger: Trigger{IntervalSeconds: 1},
	}))
	handlers := NewHandlers(engine, nil)

	server := httptest.NewServer(http.HandlerFunc(handlers.TraceStream))
	defer server.Close()

	wsURL := "ws" + strings.TrimPrefix(server.URL, "http")
	conn, _, err := websocket.DefaultDialer.Dial(wsURL, nil)
	require.NoError(t, err)
	defer conn.Close()

	// Give the server goroutine a moment to register its subscription
	// before the tick that should be observed fires.
	time.Sleep(20 * time.Millisecond)
	engine.Tick(context.Background(), time.Now())

	conn.SetReadDeadline(time.Now().Add(2 * time.Second))
	var broadcast TraceBroadcast
	require.NoError(t, conn.ReadJSON(&broadcast))
	assert.Equal(t, "r1", broadcast.RuleID)
}

func TestTraceStream_FiltersToRequestedRuleID(t *testing.T) {
	engine := NewEngine(500*time.Millisecond, nil, nil, nil)
	require.NoError(t, engine.Register(Definition{ID: "r1", Trigger: Trigger{IntervalSeconds: 1}}))
	require.NoError(t, engine.Register(Definition{ID: "r2", Trigger: Trigger{IntervalSeconds: 1}}))
	handlers := NewHandlers(engine, nil)

	server := httptest.NewServer(http.HandlerFunc(handlers.TraceStream))
	defer server.Close()

	wsURL := "ws" + strings.TrimPrefix(server.URL, "http") + "?rule_id=r2"
	conn, _, err := websocket.DefaultDialer.Dial(wsURL, nil)
	require.NoError(t, err)
	defer conn.Close()

	time.Sleep(20 * time.Millisecond)
	engine.Tick(context.Background(), time.Now())

	conn.SetReadDeadline(time.Now().Add(2 * time.Second))
	var broadcast TraceBroadcast
	require.NoError(t, conn.ReadJSON(&broadcast))
	assert.Equal(t, "r2", broadcast.RuleID)
}
