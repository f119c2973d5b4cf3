// Package rules implements the tick-driven rule engine: declarative
// predicates evaluated against a tick context, with per-rule trace history.
package rules

import (
	"encoding/json"
	"fmt"
	"math"
	"strconv"
	"strings"
	"time"

	"github.com/lokanos/hub/internal/apperrors"
	"github.com/robfig/cron/v3"
	"github.com/tidwall/gjson"
)

// Operator is a condition comparator.
type Operator string

const (
	OpEquals      Operator = "equals"
	OpGreaterThan Operator = "greater_than"
	OpLessThan    Operator = "less_than"
)

// ValueRef is either a literal JSON value or a dotted path into the
// evaluation context ("context.temperature", or bare "now").
type ValueRef struct {
	Literal json.RawMessage `json:"literal,omitempty"`
	Path    string          `json:"path,omitempty"`
}

// Condition compares two ValueRefs with Operator.
type Condition struct {
	Left     ValueRef `json:"left"`
	Operator Operator `json:"operator"`
	Right    ValueRef `json:"right"`
}

// ActionKind identifies what an Action does when a rule fires.
type ActionKind string

const (
	ActionEmitEvent      ActionKind = "emit_event"
	ActionSetDeviceState ActionKind = "set_device_state"
	ActionRunScript      ActionKind = "run_script"
)

// Action is recorded in the trace; execution is delegated to a collaborator.
type Action struct {
	Kind     ActionKind      `json:"kind"`
	Subject  string          `json:"subject,omitempty"`
	Payload  json.RawMessage `json:"payload,omitempty"`
	DeviceID string          `json:"deviceId,omitempty"`
	State    json.RawMessage `json:"state,omitempty"`
	Script   string          `json:"script,omitempty"`
}

// Trigger selects when a rule participates in the tick loop.
type Trigger struct {
	IntervalSeconds int    `json:"intervalSeconds,omitempty"`
	EventSubject    string `json:"eventSubject,omitempty"`
	CronExpr        string `json:"cron,omitempty"`
}

// IsInterval reports whether this trigger fires on the periodic tick path.
func (t Trigger) IsInterval() bool {
	return t.IntervalSeconds > 0
}

// IsCron reports whether this trigger is driven by a standard five-field
// cron expression rather than a fixed interval.
func (t Trigger) IsCron() bool {
	return t.CronExpr != ""
}

// Definition is a rule's static declaration.
type Definition struct {
	ID         string      `json:"id"`
	Name       string      `json:"name,omitempty"`
	Trigger    Trigger     `json:"trigger"`
	Conditions []Condition `json:"conditions"`
	Actions    []Action    `json:"actions"`
}

// Schedule tracks when a rule next fires on the tick path.
type Schedule struct {
	NextTick      uint64
	IntervalTicks uint64
}

// neverFires marks an event-triggered rule's periodic schedule as inert.
const neverFires = math.MaxUint64

// Instance pairs a definition with its live schedule.
type Instance struct {
	Definition Definition
	Schedule   Schedule
}

// NewInstance builds an Instance, computing interval ticks from the
// definition's trigger and the engine's tick interval. now anchors a cron
// trigger's first two fire times; it is unused for interval/event triggers.
func NewInstance(def Definition, tickInterval time.Duration, now time.Time) (Instance, error) {
	schedule := Schedule{NextTick: 0}
	switch {
	case def.Trigger.IsInterval():
		schedule.IntervalTicks = intervalTicks(def.Trigger.IntervalSeconds, tickInterval)
	case def.Trigger.IsCron():
		resolved, err := cronSchedule(def.Trigger.CronExpr, tickInterval, now)
		if err != nil {
			return Instance{}, err
		}
		schedule = resolved
	default:
		schedule.IntervalTicks = neverFires
	}
	return Instance{Definition: def, Schedule: schedule}, nil
}

// cronSchedule resolves a standard five-field cron expression into a tick
// schedule by computing the gap between its first two fire times after now.
// This approximates non-uniform cron schedules (e.g. month-boundary crossing)
// as a fixed tick interval from the first occurrence onward, which is exact
// for the common fixed-cadence expressions this hub's automations use
// ("every N minutes/hours", "daily at HH:MM") and only drifts for schedules
// whose gap between occurrences varies.
func cronSchedule(expr string, tickInterval time.Duration, now time.Time) (Schedule, error) {
	parsed, err := cron.ParseStandard(expr)
	if err != nil {
		return Schedule{}, apperrors.Validation("invalid cron expression").WithDetails("cron", expr)
	}
	first := parsed.Next(now)
	second := parsed.Next(first)
	return Schedule{
		NextTick:      ticksUntil(now, first, tickInterval),
		IntervalTicks: ticksUntil(first, second, tickInterval),
	}, nil
}

func ticksUntil(from, to time.Time, tickInterval time.Duration) uint64 {
	return intervalTicks(int(to.Sub(from).Seconds()), tickInterval)
}

// intervalTicks computes ceil(seconds*1000/T_ms) clamped to at least 1.
func intervalTicks(seconds int, tickInterval time.Duration) uint64 {
	tMs := tickInterval.Milliseconds()
	if tMs <= 0 {
		tMs = 1
	}
	totalMs := int64(seconds) * 1000
	ticks := (totalMs + tMs - 1) / tMs
	if ticks < 1 {
		ticks = 1
	}
	return uint64(ticks)
}

// ActionStatus records whether an action ran when its rule was evaluated.
type ActionStatus string

const (
	ActionExecuted ActionStatus = "Executed"
	ActionSkipped  ActionStatus = "Skipped"
)

// TracedAction is one action's outcome in a trace entry.
type TracedAction struct {
	Action Action       `json:"action"`
	Status ActionStatus `json:"status"`
}

// Context is the evaluation environment for a tick: the current timestamp
// plus tick count, and any caller-supplied values a condition may reference.
type Context struct {
	Now    time.Time
	Tick   uint64
	Values map[string]interface{}
}

func (c Context) resolve(path string) (interface{}, bool) {
	if path == "" {
		return nil, false
	}
	if path == "now" {
		if v, ok := c.Values["now"]; ok {
			return v, true
		}
		return c.Now.Format(time.RFC3339), true
	}
	if path == "tick" {
		return c.Tick, true
	}

	body, err := json.Marshal(c.Values)
	if err != nil {
		return nil, false
	}
	result := gjson.GetBytes(body, strings.TrimPrefix(path, "context."))
	if !result.Exists() {
		return nil, false
	}
	return result.Value(), true
}

func (ref ValueRef) resolve(ctx Context) (interface{}, bool) {
	if ref.Path != "" {
		return ctx.resolve(ref.Path)
	}
	if len(ref.Literal) == 0 {
		return nil, false
	}
	var v interface{}
	if err := json.Unmarshal(ref.Literal, &v); err != nil {
		return nil, false
	}
	return v, true
}

// Evaluate resolves each condition against ctx in order, short-circuiting on
// the first failure. It returns whether every condition held and a
// human-readable trace line per condition.
func Evaluate(def Definition, ctx Context) (fired bool, trace []string) {
	fired = true
	for i, cond := range def.Conditions {
		ok, line := evaluateCondition(i, cond, ctx)
		trace = append(trace, line)
		if !ok {
			fired = false
			break
		}
	}
	return fired, trace
}

func evaluateCondition(index int, cond Condition, ctx Context) (bool, string) {
	left, leftOK := cond.Left.resolve(ctx)
	right, rightOK := cond.Right.resolve(ctx)
	if !leftOK || !rightOK {
		return false, fmt.Sprintf("condition[%d]: could not resolve operand, failed", index)
	}

	result := compare(left, cond.Operator, right)
	status := "failed"
	if result {
		status = "passed"
	}
	return result, fmt.Sprintf("condition[%d]: %v %s %v, %s", index, left, cond.Operator, right, status)
}

func compare(left interface{}, op Operator, right interface{}) bool {
	switch op {
	case OpEquals:
		return valuesEqual(left, right)
	case OpGreaterThan:
		lf, lok := asFloat(left)
		rf, rok := asFloat(right)
		return lok && rok && lf > rf
	case OpLessThan:
		lf, lok := asFloat(left)
		rf, rok := asFloat(right)
		return lok && rok && lf < rf
	default:
		return false
	}
}

func valuesEqual(a, b interface{}) bool {
	af, aok := asFloat(a)
	bf, bok := asFloat(b)
	if aok && bok {
		return af == bf
	}
	return fmt.Sprintf("%v", a) == fmt.Sprintf("%v", b)
}

func asFloat(v interface{}) (float64, bool) {
	switch n := v.(type) {
	case float64:
		return n, true
	case int:
		return float64(n), true
	case uint64:
		return float64(n), true
	case string:
		f, err := strconv.ParseFloat(n, 64)
		if err != nil {
			return 0, false
		}
		return f, true
	default:
		return 0, false
	}
}
