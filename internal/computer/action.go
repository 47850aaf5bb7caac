// Package computer decodes model-issued computer actions into typed values
// and executes them against a desktop or browser backend.
package computer

import (
	"time"

	"github.com/haasonsaas/operator/internal/display"
)

// Kind identifies a computer action.
type Kind string

const (
	KindKey            Kind = "key"
	KindType           Kind = "type"
	KindMouseMove      Kind = "mouse_move"
	KindLeftClick      Kind = "left_click"
	KindLeftClickDrag  Kind = "left_click_drag"
	KindRightClick     Kind = "right_click"
	KindMiddleClick    Kind = "middle_click"
	KindDoubleClick    Kind = "double_click"
	KindTripleClick    Kind = "triple_click"
	KindScroll         Kind = "scroll"
	KindWait           Kind = "wait"
	KindCursorPosition Kind = "cursor_position"
	KindHoldKey        Kind = "hold_key"
	KindLeftMouseDown  Kind = "left_mouse_down"
	KindLeftMouseUp    Kind = "left_mouse_up"
	KindScreenshot     Kind = "screenshot"
)

// Kinds lists every supported action in declaration order.
var Kinds = []Kind{
	KindKey, KindType, KindMouseMove, KindLeftClick, KindLeftClickDrag,
	KindRightClick, KindMiddleClick, KindDoubleClick, KindTripleClick,
	KindScroll, KindWait, KindCursorPosition, KindHoldKey,
	KindLeftMouseDown, KindLeftMouseUp, KindScreenshot,
}

// Kinds named by the OpenAI computer_use_preview tool. They share the
// action types above and are only produced by DecodeOperator.
const (
	KindClick    Kind = "click"
	KindKeypress Kind = "keypress"
	KindDrag     Kind = "drag"
	KindMove     Kind = "move"
)

// Valid reports whether k is a known action.
func (k Kind) Valid() bool {
	for _, known := range Kinds {
		if k == known {
			return true
		}
	}
	return false
}

// Billable reports whether the action counts against the session budget.
func (k Kind) Billable() bool {
	return Billable(string(k))
}

// billableActions covers both the desktop vocabulary and the browser
// vocabulary used by OpenAI-style computer agents.
var billableActions = map[string]bool{
	"left_click":      true,
	"right_click":     true,
	"middle_click":    true,
	"double_click":    true,
	"triple_click":    true,
	"key":             true,
	"type":            true,
	"hold_key":        true,
	"left_click_drag": true,
	"scroll":          true,
	"click":           true,
	"keypress":        true,
	"drag":            true,
}

// Billable reports whether an action name counts against the budget.
// Observation actions never do.
func Billable(action string) bool {
	return billableActions[action]
}

// Action is a decoded, validated computer action.
type Action interface {
	Kind() Kind
	Billable() bool
}

// Button is a mouse button.
type Button string

const (
	ButtonLeft   Button = "left"
	ButtonRight  Button = "right"
	ButtonMiddle Button = "middle"
)

// ScrollDirection is the direction of a scroll action.
type ScrollDirection string

const (
	ScrollUp    ScrollDirection = "up"
	ScrollDown  ScrollDirection = "down"
	ScrollLeft  ScrollDirection = "left"
	ScrollRight ScrollDirection = "right"
)

func (d ScrollDirection) valid() bool {
	switch d {
	case ScrollUp, ScrollDown, ScrollLeft, ScrollRight:
		return true
	}
	return false
}

// MouseMove moves the pointer.
type MouseMove struct {
	Variant Kind
	To      display.Coordinate
}

func (a MouseMove) Kind() Kind {
	if a.Variant != "" {
		return a.Variant
	}
	return KindMouseMove
}

func (a MouseMove) Billable() bool { return a.Kind().Billable() }

// Click presses a button one or more times, optionally after moving the
// pointer and while holding a modifier.
type Click struct {
	Variant  Kind
	Button   Button
	Count    int
	At       *display.Coordinate
	Modifier string
}

func (a Click) Kind() Kind     { return a.Variant }
func (a Click) Billable() bool { return a.Kind().Billable() }

// Drag holds the left button from From (or the current position) through
// Via to To.
type Drag struct {
	Variant Kind
	From    *display.Coordinate
	Via     []display.Coordinate
	To      display.Coordinate
}

func (a Drag) Kind() Kind {
	if a.Variant != "" {
		return a.Variant
	}
	return KindLeftClickDrag
}

func (a Drag) Billable() bool { return a.Kind().Billable() }

// MouseButton presses or releases the left button without moving.
type MouseButton struct {
	Down bool
}

func (a MouseButton) Kind() Kind {
	if a.Down {
		return KindLeftMouseDown
	}
	return KindLeftMouseUp
}

func (a MouseButton) Billable() bool { return a.Kind().Billable() }

// Key presses a key or chord such as "ctrl+s".
type Key struct {
	Variant Kind
	Keys    string
}

func (a Key) Kind() Kind {
	if a.Variant != "" {
		return a.Variant
	}
	return KindKey
}

func (a Key) Billable() bool { return a.Kind().Billable() }

// Type types literal text.
type Type struct {
	Text string
}

func (Type) Kind() Kind       { return KindType }
func (a Type) Billable() bool { return a.Kind().Billable() }

// HoldKey holds a key down for a duration.
type HoldKey struct {
	Keys     string
	Duration time.Duration
}

func (HoldKey) Kind() Kind       { return KindHoldKey }
func (a HoldKey) Billable() bool { return a.Kind().Billable() }

// Scroll scrolls by Amount wheel ticks, optionally at a coordinate.
type Scroll struct {
	Direction ScrollDirection
	Amount    int
	At        *display.Coordinate
	Modifier  string
}

func (Scroll) Kind() Kind       { return KindScroll }
func (a Scroll) Billable() bool { return a.Kind().Billable() }

// Clicks returns the signed tick count: down and right are negative.
func (a Scroll) Clicks() int {
	if a.Direction == ScrollDown || a.Direction == ScrollRight {
		return -a.Amount
	}
	return a.Amount
}

// Horizontal reports whether the scroll is along the x axis.
func (a Scroll) Horizontal() bool {
	return a.Direction == ScrollLeft || a.Direction == ScrollRight
}

// Wait pauses before the next screenshot.
type Wait struct {
	Duration time.Duration
}

func (Wait) Kind() Kind       { return KindWait }
func (a Wait) Billable() bool { return a.Kind().Billable() }

// Screenshot captures the screen.
type Screenshot struct{}

func (Screenshot) Kind() Kind       { return KindScreenshot }
func (a Screenshot) Billable() bool { return a.Kind().Billable() }

// CursorPosition reports the pointer position in model coordinates.
type CursorPosition struct{}

func (CursorPosition) Kind() Kind       { return KindCursorPosition }
func (a CursorPosition) Billable() bool { return a.Kind().Billable() }
