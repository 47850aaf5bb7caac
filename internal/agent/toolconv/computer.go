// Package toolconv converts agent tool declarations to provider tool formats.
package toolconv

import (
	"encoding/json"
	"sync"

	"github.com/invopop/jsonschema"
)

// ComputerArguments describes the computer tool input for providers that
// only support plain function calling.
type ComputerArguments struct {
	Action          string   `json:"action" jsonschema:"enum=key,enum=type,enum=mouse_move,enum=left_click,enum=left_click_drag,enum=right_click,enum=middle_click,enum=double_click,enum=triple_click,enum=scroll,enum=wait,enum=cursor_position,enum=hold_key,enum=left_mouse_down,enum=left_mouse_up,enum=screenshot" jsonschema_description:"Computer action to execute."`
	Coordinate      []int    `json:"coordinate,omitempty" jsonschema_description:"Target [x, y] in pixels of the declared display."`
	StartCoordinate []int    `json:"start_coordinate,omitempty" jsonschema_description:"Drag start [x, y]. Defaults to the current pointer position."`
	Text            string   `json:"text,omitempty" jsonschema_description:"Key chord for key and hold_key, literal text for type, modifier for clicks."`
	ScrollDirection string   `json:"scroll_direction,omitempty" jsonschema:"enum=up,enum=down,enum=left,enum=right"`
	ScrollAmount    int      `json:"scroll_amount,omitempty" jsonschema:"minimum=0" jsonschema_description:"Scroll amount in wheel ticks."`
	Duration        *float64 `json:"duration,omitempty" jsonschema:"minimum=0" jsonschema_description:"Seconds to wait or hold a key."`
}

var computerSchema struct {
	once sync.Once
	raw  map[string]any
}

// ComputerSchema returns the reflected computer argument schema as a map.
// Callers get a fresh copy.
func ComputerSchema() map[string]any {
	computerSchema.once.Do(func() {
		r := &jsonschema.Reflector{
			DoNotReference:            true,
			ExpandedStruct:            true,
			AllowAdditionalProperties: false,
		}
		payload, err := json.Marshal(r.Reflect(&ComputerArguments{}))
		if err != nil {
			return
		}
		var raw map[string]any
		if err := json.Unmarshal(payload, &raw); err != nil {
			return
		}
		delete(raw, "$schema")
		delete(raw, "$id")
		computerSchema.raw = raw
	})
	return cloneMap(computerSchema.raw)
}

func cloneMap(in map[string]any) map[string]any {
	if in == nil {
		return map[string]any{"type": "object", "properties": map[string]any{}}
	}
	payload, err := json.Marshal(in)
	if err != nil {
		return map[string]any{"type": "object", "properties": map[string]any{}}
	}
	var out map[string]any
	if err := json.Unmarshal(payload, &out); err != nil {
		return map[string]any{"type": "object", "properties": map[string]any{}}
	}
	return out
}
