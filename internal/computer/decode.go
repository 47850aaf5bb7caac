package computer

import (
	"encoding/json"
	"math"
	"strings"
	"time"

	"github.com/haasonsaas/operator/internal/display"
)

// Limits bounds action parameters.
type Limits struct {
	// MaxDuration caps hold_key and wait.
	MaxDuration time.Duration
}

// DefaultLimits matches the computer_20250124 tool contract.
var DefaultLimits = Limits{MaxDuration: 100 * time.Second}

type actionInput struct {
	Action          string   `json:"action"`
	Coordinate      []int    `json:"coordinate"`
	StartCoordinate []int    `json:"start_coordinate"`
	Text            *string  `json:"text"`
	Key             *string  `json:"key"`
	ScrollDirection *string  `json:"scroll_direction"`
	ScrollAmount    *int     `json:"scroll_amount"`
	Duration        *float64 `json:"duration"`
}

// Decode validates raw tool input with DefaultLimits.
func Decode(raw json.RawMessage) (Action, error) {
	return DefaultLimits.Decode(raw)
}

// Decode validates raw tool input and returns the typed action. Input that
// names a "type" instead of an "action" uses the operator vocabulary.
// Parameter violations are *ToolError; malformed coordinates are
// *display.CoordinateError.
func (l Limits) Decode(raw json.RawMessage) (Action, error) {
	if len(strings.TrimSpace(string(raw))) == 0 {
		return nil, NewToolError("action is required")
	}

	var head struct {
		Action string `json:"action"`
		Type   string `json:"type"`
	}
	if err := json.Unmarshal(raw, &head); err != nil {
		return nil, &ToolError{Message: "invalid input: " + err.Error(), Cause: err}
	}
	if head.Action == "" && head.Type != "" {
		return l.DecodeOperator(raw)
	}
	kind := Kind(head.Action)
	if kind == "" {
		return nil, NewToolError("action is required")
	}
	if !kind.Valid() {
		return nil, NewToolError("Invalid action: %s", head.Action)
	}

	if err := validateSchema(raw); err != nil {
		return nil, err
	}
	var in actionInput
	if err := json.Unmarshal(raw, &in); err != nil {
		return nil, &ToolError{Message: "invalid input: " + err.Error(), Cause: err}
	}

	switch kind {
	case KindMouseMove, KindLeftClickDrag:
		if in.Coordinate == nil {
			return nil, NewToolError("coordinate is required for %s", kind)
		}
		if in.Text != nil {
			return nil, NewToolError("text is not accepted for %s", kind)
		}
		to, err := display.ParseCoordinate(in.Coordinate)
		if err != nil {
			return nil, err
		}
		if kind == KindMouseMove {
			return MouseMove{To: to}, nil
		}
		drag := Drag{To: to}
		if in.StartCoordinate != nil {
			from, err := display.ParseCoordinate(in.StartCoordinate)
			if err != nil {
				return nil, err
			}
			drag.From = &from
		}
		return drag, nil

	case KindKey, KindType:
		if in.Text == nil {
			return nil, NewToolError("text is required for %s", kind)
		}
		if in.Coordinate != nil {
			return nil, NewToolError("coordinate is not accepted for %s", kind)
		}
		if kind == KindKey {
			if strings.TrimSpace(*in.Text) == "" {
				return nil, NewToolError("text is required for %s", kind)
			}
			return Key{Keys: *in.Text}, nil
		}
		return Type{Text: *in.Text}, nil

	case KindLeftMouseDown, KindLeftMouseUp:
		if in.Coordinate != nil {
			return nil, NewToolError("%s does not accept coordinates", kind)
		}
		if in.Text != nil {
			return nil, NewToolError("text is not accepted for %s", kind)
		}
		return MouseButton{Down: kind == KindLeftMouseDown}, nil

	case KindLeftClick, KindRightClick, KindMiddleClick, KindDoubleClick, KindTripleClick:
		click := Click{Variant: kind, Button: ButtonLeft, Count: 1, Modifier: modifier(in)}
		switch kind {
		case KindRightClick:
			click.Button = ButtonRight
		case KindMiddleClick:
			click.Button = ButtonMiddle
		case KindDoubleClick:
			click.Count = 2
		case KindTripleClick:
			click.Count = 3
		}
		if in.Coordinate != nil {
			at, err := display.ParseCoordinate(in.Coordinate)
			if err != nil {
				return nil, err
			}
			click.At = &at
		}
		return click, nil

	case KindScroll:
		direction := ScrollDirection("")
		if in.ScrollDirection != nil {
			direction = ScrollDirection(*in.ScrollDirection)
		}
		if !direction.valid() {
			return nil, NewToolError("scroll_direction %q must be 'up', 'down', 'left', or 'right'", direction)
		}
		if in.ScrollAmount == nil || *in.ScrollAmount < 0 {
			return nil, NewToolError("scroll_amount must be a non-negative integer")
		}
		scroll := Scroll{Direction: direction, Amount: *in.ScrollAmount, Modifier: modifier(in)}
		if in.Coordinate != nil {
			at, err := display.ParseCoordinate(in.Coordinate)
			if err != nil {
				return nil, err
			}
			scroll.At = &at
		}
		return scroll, nil

	case KindHoldKey, KindWait:
		duration, err := l.duration(in.Duration)
		if err != nil {
			return nil, err
		}
		if kind == KindWait {
			return Wait{Duration: duration}, nil
		}
		if in.Text == nil || strings.TrimSpace(*in.Text) == "" {
			return nil, NewToolError("hold_key requires text")
		}
		return HoldKey{Keys: *in.Text, Duration: duration}, nil

	case KindScreenshot, KindCursorPosition:
		if in.Text != nil {
			return nil, NewToolError("text is not accepted for %s", kind)
		}
		if in.Coordinate != nil {
			return nil, NewToolError("coordinate is not accepted for %s", kind)
		}
		if kind == KindScreenshot {
			return Screenshot{}, nil
		}
		return CursorPosition{}, nil
	}

	return nil, NewToolError("Invalid action: %s", kind)
}

func (l Limits) duration(seconds *float64) (time.Duration, error) {
	if seconds == nil || math.IsNaN(*seconds) || math.IsInf(*seconds, 0) {
		return 0, NewToolError("duration must be a number")
	}
	if *seconds < 0 {
		return 0, NewToolError("duration %v must be non-negative", *seconds)
	}
	ceiling := l.MaxDuration
	if ceiling <= 0 {
		ceiling = DefaultLimits.MaxDuration
	}
	if *seconds > ceiling.Seconds() {
		return 0, NewToolError("duration %v is too long (max %v)", *seconds, ceiling.Seconds())
	}
	return time.Duration(*seconds * float64(time.Second)), nil
}

func modifier(in actionInput) string {
	if in.Key != nil && strings.TrimSpace(*in.Key) != "" {
		return strings.TrimSpace(*in.Key)
	}
	if in.Text != nil {
		return strings.TrimSpace(*in.Text)
	}
	return ""
}
