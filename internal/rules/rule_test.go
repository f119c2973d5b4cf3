package rules

import (
	"encoding/json"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func literal(t *testing.T, v interface{}) ValueRef {
	t.Helper()
	b, err := json.Marshal(v)
	require.NoError(t, err)
	return ValueRef{Literal: b}
}

func path(p string) ValueRef { return ValueRef{Path: p} }

func TestIntervalTicks_ClampsToAtLeastOne(t *testing.T) {
	assert.Equal(t, uint64(1), intervalTicks(0, 500*time.Millisecond))
}

func TestIntervalTicks_RoundsUp(t *testing.T) {
	// 1 second at 500ms cadence is exactly 2 ticks.
	assert.Equal(t, uint64(2), intervalTicks(1, 500*time.Millisecond))
	// 1 second at 300ms cadence rounds up from 3.33 to 4.
	assert.Equal(t, uint64(4), intervalTicks(1, 300*time.Millisecond))
}

func TestNewInstance_EventTriggerNeverFiresOnTickPath(t *testing.T) {
	def := Definition{ID: "r1", Trigger: Trigger{EventSubject: "device.motion"}}
	inst, err := NewInstance(def, DefaultTickInterval, time.Now())
	require.NoError(t, err)
	assert.Equal(t, uint64(neverFires), inst.Schedule.IntervalTicks)
}

func TestNewInstance_CronTriggerResolvesIntervalFromFirstTwoOccurrences(t *testing.T) {
	def := Definition{ID: "r-cron", Trigger: Trigger{CronExpr: "*/5 * * * *"}}
	inst, err := NewInstance(def, time.Minute, time.Now())
	require.NoError(t, err)
	assert.Equal(t, uint64(5), inst.Schedule.IntervalTicks)
	assert.NotEqual(t, uint64(neverFires), inst.Schedule.IntervalTicks)
}

func TestNewInstance_RejectsInvalidCronExpression(t *testing.T) {
	def := Definition{ID: "r-bad-cron", Trigger: Trigger{CronExpr: "not a cron expression"}}
	_, err := NewInstance(def, DefaultTickInterval, time.Now())
	assert.Error(t, err)
}

func TestEvaluate_EqualsConditionHoldsFiresRule(t *testing.T) {
	def := Definition{
		ID: "hvac",
		Conditions: []Condition{
			{Left: path("context.temperature"), Operator: OpEquals, Right: literal(t, 72)},
		},
	}
	ctx := Context{Now: time.Now(), Values: map[string]interface{}{"temperature": float64(72)}}
	fired, trace := Evaluate(def, ctx)
	assert.True(t, fired)
	assert.Len(t, trace, 1)
}

func TestEvaluate_EqualsConditionFailsSkipsRule(t *testing.T) {
	def := Definition{
		ID: "hvac",
		Conditions: []Condition{
			{Left: path("context.temperature"), Operator: OpEquals, Right: literal(t, 72)},
		},
	}
	ctx := Context{Now: time.Now(), Values: map[string]interface{}{"temperature": float64(68)}}
	fired, _ := Evaluate(def, ctx)
	assert.False(t, fired)
}

func TestEvaluate_ShortCircuitsOnFirstFailingCondition(t *testing.T) {
	def := Definition{
		Conditions: []Condition{
			{Left: literal(t, 1), Operator: OpEquals, Right: literal(t, 2)},
			{Left: literal(t, 1), Operator: OpEquals, Right: literal(t, 1)},
		},
	}
	fired, trace := Evaluate(def, Context{Now: time.Now()})
	assert.False(t, fired)
	assert.Len(t, trace, 1)
}

func TestEvaluate_GreaterThanAndLessThan(t *testing.T) {
	greater := Definition{Conditions: []Condition{{Left: literal(t, 10), Operator: OpGreaterThan, Right: literal(t, 5)}}}
	fired, _ := Evaluate(greater, Context{Now: time.Now()})
	assert.True(t, fired)

	less := Definition{Conditions: []Condition{{Left: literal(t, 3), Operator: OpLessThan, Right: literal(t, 5)}}}
	fired, _ = Evaluate(less, Context{Now: time.Now()})
	assert.True(t, fired)
}

func TestEvaluate_UnresolvablePathFailsCondition(t *testing.T) {
	def := Definition{Conditions: []Condition{{Left: path("context.missing"), Operator: OpEquals, Right: literal(t, 1)}}}
	fired, trace := Evaluate(def, Context{Now: time.Now(), Values: map[string]interface{}{}})
	assert.False(t, fired)
	assert.Contains(t, trace[0], "failed")
}

func TestEvaluate_ResolvesNestedDottedPath(t *testing.T) {
	def := Definition{
		Conditions: []Condition{
			{Left: path("context.sensor.reading"), Operator: OpEquals, Right: literal(t, 42)},
		},
	}
	ctx := Context{Now: time.Now(), Values: map[string]interface{}{
		"sensor": map[string]interface{}{"reading": float64(42)},
	}}
	fired, _ := Evaluate(def, ctx)
	assert.True(t, fired)
}

func TestEvaluate_NowDefaultsToCurrentTimeWhenAbsentFromContext(t *testing.T) {
	now := time.Date(2026, 8, 1, 12, 0, 0, 0, time.UTC)
	def := Definition{Conditions: []Condition{{Left: path("now"), Operator: OpEquals, Right: literal(t, now.Format(time.RFC3339))}}}
	fired, _ := Evaluate(def, Context{Now: now})
	assert.True(t, fired)
}

func TestEvaluate_NoConditionsAlwaysFires(t *testing.T) {
	fired, trace := Evaluate(Definition{}, Context{Now: time.Now()})
	assert.True(t, fired)
	assert.Empty(t, trace)
}

func TestEvaluate_IsDeterministicAcrossRepeatedCalls(t *testing.T) {
	def := Definition{
		Conditions: []Condition{{Left: path("context.temperature"), Operator: OpEquals, Right: literal(t, 72)}},
	}
	now := time.Date(2026, 8, 1, 0, 0, 0, 0, time.UTC)
	ctx := Context{Now: now, Tick: 5, Values: map[string]interface{}{"temperature": float64(72)}}

	fired1, trace1 := Evaluate(def, ctx)
	fired2, trace2 := Evaluate(def, ctx)

	assert.Equal(t, fired1, fired2)
	assert.Equal(t, trace1, trace2)
}
