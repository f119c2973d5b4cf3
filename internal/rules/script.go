package rules

import (
	"encoding/json"
	"fmt"

	"github.com/dop251/goja"
)

// scriptResult is what a run_script action's entry point must return: either
// a bus event (subject/payload) or a device state mutation (deviceId/state).
type scriptResult struct {
	Subject  string          `json:"subject,omitempty"`
	Payload  json.RawMessage `json:"payload,omitempty"`
	DeviceID string          `json:"deviceId,omitempty"`
	State    json.RawMessage `json:"state,omitempty"`
}

// runScript evaluates script in a fresh goja runtime, calling its "handle"
// entry point with input bound as the sole argument. Each invocation gets an
// isolated VM so rules can't leak state between ticks.
func runScript(script string, input map[string]interface{}) (scriptResult, error) {
	vm := goja.New()

	if _, err := vm.RunString(script); err != nil {
		return scriptResult{}, fmt.Errorf("compile rule script: %w", err)
	}

	handle, ok := goja.AssertFunction(vm.Get("handle"))
	if !ok {
		return scriptResult{}, fmt.Errorf("rule script has no handle function")
	}

	resultVal, err := handle(goja.Undefined(), vm.ToValue(input))
	if err != nil {
		return scriptResult{}, fmt.Errorf("run rule script: %w", err)
	}

	exported, err := json.Marshal(resultVal.Export())
	if err != nil {
		return scriptResult{}, fmt.Errorf("encode rule script result: %w", err)
	}

	var result scriptResult
	if err := json.Unmarshal(exported, &result); err != nil {
		return scriptResult{}, fmt.Errorf("decode rule script result: %w", err)
	}
	return result, nil
}
