package computer

import (
	"encoding/json"
	"strings"
	"time"
	"unicode/utf8"

	"github.com/haasonsaas/operator/internal/display"
)

// ScrollPixelsPerTick converts operator pixel scroll deltas to wheel ticks.
const ScrollPixelsPerTick = 100

// DefaultOperatorWait is used when a wait action names no duration.
const DefaultOperatorWait = time.Second

type operatorPoint struct {
	X *int `json:"x"`
	Y *int `json:"y"`
}

func (p operatorPoint) coordinate(kind string) (display.Coordinate, error) {
	if p.X == nil || p.Y == nil {
		return display.Coordinate{}, NewToolError("x and y are required for %s", kind)
	}
	return display.ParseCoordinate([]int{*p.X, *p.Y})
}

type operatorInput struct {
	Type    string          `json:"type"`
	X       *int            `json:"x"`
	Y       *int            `json:"y"`
	Button  string          `json:"button"`
	ScrollX int             `json:"scroll_x"`
	ScrollY int             `json:"scroll_y"`
	Keys    []string        `json:"keys"`
	Text    *string         `json:"text"`
	Path    []operatorPoint `json:"path"`
	Ms      *float64        `json:"ms"`
}

// DecodeOperator decodes an OpenAI computer_use_preview action such as
// {"type":"click","x":10,"y":20,"button":"left"} with DefaultLimits.
func DecodeOperator(raw json.RawMessage) (Action, error) {
	return DefaultLimits.DecodeOperator(raw)
}

// DecodeOperator maps the operator vocabulary onto the desktop action types.
// Coordinates are in model pixels, as with Decode.
func (l Limits) DecodeOperator(raw json.RawMessage) (Action, error) {
	var in operatorInput
	if err := json.Unmarshal(raw, &in); err != nil {
		return nil, &ToolError{Message: "invalid input: " + err.Error(), Cause: err}
	}
	kind := in.Type
	if kind == "" {
		return nil, NewToolError("type is required")
	}
	point := operatorPoint{X: in.X, Y: in.Y}

	switch Kind(kind) {
	case KindClick, KindDoubleClick:
		at, err := point.coordinate(kind)
		if err != nil {
			return nil, err
		}
		click := Click{Variant: Kind(kind), Button: ButtonLeft, Count: 1, At: &at}
		if Kind(kind) == KindDoubleClick {
			click.Count = 2
			return click, nil
		}
		switch in.Button {
		case "", "left":
		case "right":
			click.Button = ButtonRight
		case "wheel", "middle":
			click.Button = ButtonMiddle
		default:
			return nil, NewToolError("button %q is not supported", in.Button)
		}
		return click, nil

	case KindMove:
		to, err := point.coordinate(kind)
		if err != nil {
			return nil, err
		}
		return MouseMove{Variant: KindMove, To: to}, nil

	case KindScroll:
		at, err := point.coordinate(kind)
		if err != nil {
			return nil, err
		}
		return operatorScroll(at, in.ScrollX, in.ScrollY), nil

	case KindKeypress:
		if len(in.Keys) == 0 {
			return nil, NewToolError("keys is required for keypress")
		}
		names := make([]string, 0, len(in.Keys))
		for _, k := range in.Keys {
			name := operatorKeyName(k)
			if name == "" {
				return nil, NewToolError("empty key in keypress")
			}
			names = append(names, name)
		}
		return Key{Variant: KindKeypress, Keys: strings.Join(names, "+")}, nil

	case KindType:
		if in.Text == nil {
			return nil, NewToolError("text is required for type")
		}
		return Type{Text: *in.Text}, nil

	case KindDrag:
		if len(in.Path) < 2 {
			return nil, NewToolError("drag path needs at least two points")
		}
		points := make([]display.Coordinate, 0, len(in.Path))
		for _, p := range in.Path {
			c, err := p.coordinate(kind)
			if err != nil {
				return nil, err
			}
			points = append(points, c)
		}
		return Drag{
			Variant: KindDrag,
			From:    &points[0],
			Via:     points[1 : len(points)-1],
			To:      points[len(points)-1],
		}, nil

	case KindWait:
		if in.Ms == nil {
			return Wait{Duration: DefaultOperatorWait}, nil
		}
		seconds := *in.Ms / 1000
		d, err := l.duration(&seconds)
		if err != nil {
			return nil, err
		}
		return Wait{Duration: d}, nil

	case KindScreenshot:
		return Screenshot{}, nil
	}

	return nil, NewToolError("Invalid action: %s", kind)
}

// operatorScroll keeps the dominant axis. Positive scroll_y is down and
// positive scroll_x is right.
func operatorScroll(at display.Coordinate, dx, dy int) Scroll {
	scroll := Scroll{At: &at, Direction: ScrollDown}
	delta := dy
	switch {
	case abs(dx) > abs(dy):
		delta = dx
		scroll.Direction = ScrollRight
		if dx < 0 {
			scroll.Direction = ScrollLeft
		}
	case dy < 0:
		scroll.Direction = ScrollUp
	}
	if delta != 0 {
		scroll.Amount = (abs(delta) + ScrollPixelsPerTick - 1) / ScrollPixelsPerTick
	}
	return scroll
}

func abs(n int) int {
	if n < 0 {
		return -n
	}
	return n
}

var operatorKeys = map[string]string{
	"enter":      "Return",
	"return":     "Return",
	"esc":        "Escape",
	"escape":     "Escape",
	"tab":        "Tab",
	"space":      "space",
	"backspace":  "BackSpace",
	"delete":     "Delete",
	"del":        "Delete",
	"insert":     "Insert",
	"home":       "Home",
	"end":        "End",
	"pageup":     "Prior",
	"page_up":    "Prior",
	"pagedown":   "Next",
	"page_down":  "Next",
	"arrowup":    "Up",
	"arrowdown":  "Down",
	"arrowleft":  "Left",
	"arrowright": "Right",
	"up":         "Up",
	"down":       "Down",
	"left":       "Left",
	"right":      "Right",
	"ctrl":       "ctrl",
	"control":    "ctrl",
	"alt":        "alt",
	"option":     "alt",
	"shift":      "shift",
	"cmd":        "super",
	"command":    "super",
	"meta":       "super",
	"super":      "super",
	"win":        "super",
	"capslock":   "Caps_Lock",
}

// operatorKeyName converts an operator key such as "ENTER" or "CTRL" to the
// xdotool name the backends expect.
func operatorKeyName(key string) string {
	key = strings.TrimSpace(key)
	if key == "" {
		return ""
	}
	lower := strings.ToLower(key)
	if name, ok := operatorKeys[lower]; ok {
		return name
	}
	if utf8.RuneCountInString(key) == 1 {
		return lower
	}
	if len(lower) >= 2 && lower[0] == 'f' && strings.Trim(lower[1:], "0123456789") == "" {
		return "F" + lower[1:]
	}
	return key
}
