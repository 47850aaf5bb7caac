package computer

import (
	"encoding/json"
	"fmt"
	"strings"
	"sync"

	"github.com/santhosh-tekuri/jsonschema/v5"
)

// SchemaJSON defines the JSON schema for computer actions. Range and
// combination rules are checked by Decode so the model gets a message
// naming the violated constraint.
const SchemaJSON = `{
  "type": "object",
  "properties": {
    "action": {
      "type": "string",
      "description": "Computer action to execute.",
      "enum": [
        "key",
        "type",
        "mouse_move",
        "left_click",
        "left_click_drag",
        "right_click",
        "middle_click",
        "double_click",
        "triple_click",
        "scroll",
        "wait",
        "cursor_position",
        "hold_key",
        "left_mouse_down",
        "left_mouse_up",
        "screenshot"
      ]
    },
    "coordinate": {
      "type": ["array", "null"],
      "items": {"type": "integer"},
      "description": "Target coordinate [x, y] in pixels of the declared display."
    },
    "start_coordinate": {
      "type": ["array", "null"],
      "items": {"type": "integer"},
      "description": "Drag start coordinate [x, y]. Defaults to the current pointer position."
    },
    "text": {
      "type": ["string", "null"],
      "description": "Key chord for key/hold_key, literal text for type, modifier for clicks."
    },
    "key": {
      "type": ["string", "null"],
      "description": "Modifier key held during a click or scroll."
    },
    "scroll_direction": {
      "type": ["string", "null"],
      "description": "One of up, down, left, right."
    },
    "scroll_amount": {
      "type": ["integer", "null"],
      "description": "Scroll amount in wheel ticks."
    },
    "duration": {
      "type": ["number", "null"],
      "description": "Duration in seconds for wait and hold_key."
    }
  },
  "required": ["action"]
}`

var actionSchema struct {
	once     sync.Once
	compiled *jsonschema.Schema
	err      error
}

func compiledSchema() (*jsonschema.Schema, error) {
	actionSchema.once.Do(func() {
		actionSchema.compiled, actionSchema.err = jsonschema.CompileString("computer_action.json", SchemaJSON)
	})
	return actionSchema.compiled, actionSchema.err
}

// validateSchema checks raw input against SchemaJSON.
func validateSchema(raw json.RawMessage) error {
	schema, err := compiledSchema()
	if err != nil {
		return fmt.Errorf("compile computer schema: %w", err)
	}

	var payload any
	if err := json.Unmarshal(raw, &payload); err != nil {
		return &ToolError{Message: fmt.Sprintf("invalid input: %v", err), Cause: err}
	}
	if err := schema.Validate(payload); err != nil {
		return &ToolError{Message: schemaMessage(err), Cause: err}
	}
	return nil
}

// schemaMessage flattens a validation error to its leaf causes.
func schemaMessage(err error) string {
	verr, ok := err.(*jsonschema.ValidationError)
	if !ok {
		return err.Error()
	}
	var leaves []string
	var walk func(*jsonschema.ValidationError)
	walk = func(e *jsonschema.ValidationError) {
		if len(e.Causes) == 0 {
			loc := strings.TrimPrefix(e.InstanceLocation, "/")
			if loc == "" {
				leaves = append(leaves, e.Message)
			} else {
				leaves = append(leaves, loc+": "+e.Message)
			}
			return
		}
		for _, cause := range e.Causes {
			walk(cause)
		}
	}
	walk(verr)
	return "invalid input: " + strings.Join(leaves, "; ")
}
