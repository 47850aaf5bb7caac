package computer

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"image"
	"os"
	"os/exec"
	"path/filepath"
	"runtime"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
)

// DefaultTypingDelay is the per-keystroke delay used when typing text.
const DefaultTypingDelay = 12 * time.Millisecond

// runner executes an external command with extra environment entries.
type runner func(ctx context.Context, env []string, stdin []byte, name string, args ...string) ([]byte, error)

func execRunner(ctx context.Context, env []string, stdin []byte, name string, args ...string) ([]byte, error) {
	cmd := exec.CommandContext(ctx, name, args...)
	if len(env) > 0 {
		cmd.Env = append(os.Environ(), env...)
	}
	if stdin != nil {
		cmd.Stdin = bytes.NewReader(stdin)
	}
	output, err := cmd.CombinedOutput()
	if err != nil {
		return output, fmt.Errorf("%s failed: %v: %s", name, err, strings.TrimSpace(string(output)))
	}
	return output, nil
}

// Desktop drives the local screen: xdotool on Linux (X11) and a Swift
// helper posting CGEvents on macOS.
type Desktop struct {
	displayNumber int
	typingDelay   time.Duration
	goos          string
	run           runner
	lookPath      func(string) (string, error)
}

// DesktopOptions configures NewDesktop.
type DesktopOptions struct {
	DisplayNumber int
	TypingDelay   time.Duration
}

// NewDesktop returns a backend for the local display. It fails with
// ErrBackendUnavailable when the platform's input tool is missing.
func NewDesktop(opts DesktopOptions) (*Desktop, error) {
	d := &Desktop{
		displayNumber: opts.DisplayNumber,
		typingDelay:   opts.TypingDelay,
		goos:          runtime.GOOS,
		run:           execRunner,
		lookPath:      exec.LookPath,
	}
	if d.typingDelay <= 0 {
		d.typingDelay = DefaultTypingDelay
	}
	switch d.goos {
	case "linux":
		if _, err := d.lookPath("xdotool"); err != nil {
			return nil, fmt.Errorf("%w: desktop control on Linux requires xdotool (apt install xdotool)", ErrBackendUnavailable)
		}
	case "darwin":
		if _, err := d.lookPath("swift"); err != nil {
			return nil, fmt.Errorf("%w: desktop control on macOS requires swift (Xcode Command Line Tools)", ErrBackendUnavailable)
		}
	default:
		return nil, fmt.Errorf("%w: desktop control not supported on %s", ErrBackendUnavailable, d.goos)
	}
	return d, nil
}

func (d *Desktop) Name() string { return "desktop" }

func (d *Desktop) env() []string {
	if d.goos == "linux" {
		return []string{fmt.Sprintf("DISPLAY=:%d", d.displayNumber)}
	}
	return []string{fmt.Sprintf("OPERATOR_DISPLAY_NUMBER=%d", d.displayNumber)}
}

func (d *Desktop) xdotool(ctx context.Context, args ...string) ([]byte, error) {
	return d.run(ctx, d.env(), nil, "xdotool", args...)
}

func (d *Desktop) MoveMouse(ctx context.Context, x, y int) error {
	if d.goos == "darwin" {
		return d.mac(ctx, macInput{Op: "move", X: x, Y: y})
	}
	_, err := d.xdotool(ctx, "mousemove", "--sync", strconv.Itoa(x), strconv.Itoa(y))
	return err
}

func (d *Desktop) Click(ctx context.Context, button Button, count int) error {
	if count < 1 {
		count = 1
	}
	if d.goos == "darwin" {
		return d.mac(ctx, macInput{Op: "click", Button: string(button), Count: count})
	}
	_, err := d.xdotool(ctx, "click", "--repeat", strconv.Itoa(count), xButton(button))
	return err
}

func (d *Desktop) MouseDown(ctx context.Context, button Button) error {
	if d.goos == "darwin" {
		return d.mac(ctx, macInput{Op: "mouse_down", Button: string(button)})
	}
	_, err := d.xdotool(ctx, "mousedown", xButton(button))
	return err
}

func (d *Desktop) MouseUp(ctx context.Context, button Button) error {
	if d.goos == "darwin" {
		return d.mac(ctx, macInput{Op: "mouse_up", Button: string(button)})
	}
	_, err := d.xdotool(ctx, "mouseup", xButton(button))
	return err
}

func (d *Desktop) Key(ctx context.Context, keys string) error {
	if d.goos == "darwin" {
		return d.mac(ctx, macInput{Op: "key", Text: keys})
	}
	_, err := d.xdotool(ctx, "key", "--", keys)
	return err
}

func (d *Desktop) KeyDown(ctx context.Context, keys string) error {
	if d.goos == "darwin" {
		return d.mac(ctx, macInput{Op: "key_down", Text: keys})
	}
	_, err := d.xdotool(ctx, "keydown", "--", keys)
	return err
}

func (d *Desktop) KeyUp(ctx context.Context, keys string) error {
	if d.goos == "darwin" {
		return d.mac(ctx, macInput{Op: "key_up", Text: keys})
	}
	_, err := d.xdotool(ctx, "keyup", "--", keys)
	return err
}

func (d *Desktop) Type(ctx context.Context, text string) error {
	if d.goos == "darwin" {
		return d.mac(ctx, macInput{Op: "type", Text: text, DelayMs: int(d.typingDelay / time.Millisecond)})
	}
	delay := strconv.Itoa(int(d.typingDelay / time.Millisecond))
	_, err := d.xdotool(ctx, "type", "--delay", delay, "--", text)
	return err
}

func (d *Desktop) Scroll(ctx context.Context, horizontal bool, clicks int) error {
	if clicks == 0 {
		return nil
	}
	if d.goos == "darwin" {
		in := macInput{Op: "scroll"}
		if horizontal {
			in.DX = clicks
		} else {
			in.DY = clicks
		}
		return d.mac(ctx, in)
	}
	_, err := d.xdotool(ctx, "click", "--repeat", strconv.Itoa(absInt(clicks)), xScrollButton(horizontal, clicks))
	return err
}

func (d *Desktop) CursorPosition(ctx context.Context) (int, int, error) {
	if d.goos == "darwin" {
		output, err := d.runMac(ctx, macInput{Op: "cursor_position"})
		if err != nil {
			return 0, 0, err
		}
		var pos struct {
			X float64 `json:"x"`
			Y float64 `json:"y"`
		}
		if err := json.Unmarshal(bytes.TrimSpace(output), &pos); err != nil {
			return 0, 0, fmt.Errorf("parse cursor position: %w", err)
		}
		return int(pos.X), int(pos.Y), nil
	}
	output, err := d.xdotool(ctx, "getmouselocation", "--shell")
	if err != nil {
		return 0, 0, err
	}
	return parseMouseLocation(output)
}

func (d *Desktop) Screenshot(ctx context.Context) (image.Image, error) {
	path := filepath.Join(os.TempDir(), fmt.Sprintf("operator_screen_%s.png", uuid.NewString()[:8]))
	defer os.Remove(path)

	name, args, err := d.captureCommand(path)
	if err != nil {
		return nil, err
	}
	if _, err := d.run(ctx, d.env(), nil, name, args...); err != nil {
		return nil, err
	}
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read screenshot: %w", err)
	}
	return DecodeImage(data)
}

func (d *Desktop) captureCommand(path string) (string, []string, error) {
	switch d.goos {
	case "darwin":
		args := []string{"-x"}
		if d.displayNumber > 0 {
			args = append(args, "-D", strconv.Itoa(d.displayNumber+1))
		}
		return "screencapture", append(args, path), nil
	case "linux":
		if _, err := d.lookPath("scrot"); err == nil {
			return "scrot", []string{"--overwrite", path}, nil
		}
		if _, err := d.lookPath("gnome-screenshot"); err == nil {
			return "gnome-screenshot", []string{"-f", path}, nil
		}
		if _, err := d.lookPath("import"); err == nil {
			return "import", []string{"-window", "root", path}, nil
		}
		return "", nil, fmt.Errorf("%w: screenshot requires scrot, gnome-screenshot or imagemagick", ErrBackendUnavailable)
	}
	return "", nil, fmt.Errorf("%w: screenshot not supported on %s", ErrBackendUnavailable, d.goos)
}

func xButton(button Button) string {
	switch button {
	case ButtonMiddle:
		return "2"
	case ButtonRight:
		return "3"
	default:
		return "1"
	}
}

// xScrollButton maps a signed scroll to X11 wheel buttons 4-7.
func xScrollButton(horizontal bool, clicks int) string {
	switch {
	case !horizontal && clicks > 0:
		return "4"
	case !horizontal:
		return "5"
	case clicks > 0:
		return "6"
	default:
		return "7"
	}
}

func parseMouseLocation(output []byte) (int, int, error) {
	values := make(map[string]int)
	for _, line := range strings.Split(string(output), "\n") {
		key, value, ok := strings.Cut(line, "=")
		if !ok {
			continue
		}
		n, err := strconv.Atoi(strings.TrimSpace(value))
		if err != nil {
			continue
		}
		values[strings.ToUpper(strings.TrimSpace(key))] = n
	}
	x, okX := values["X"]
	y, okY := values["Y"]
	if !okX || !okY {
		return 0, 0, fmt.Errorf("unexpected getmouselocation output: %q", strings.TrimSpace(string(output)))
	}
	return x, y, nil
}

func absInt(v int) int {
	if v < 0 {
		return -v
	}
	return v
}

type macInput struct {
	Op      string `json:"op"`
	X       int    `json:"x,omitempty"`
	Y       int    `json:"y,omitempty"`
	DX      int    `json:"dx,omitempty"`
	DY      int    `json:"dy,omitempty"`
	Button  string `json:"button,omitempty"`
	Count   int    `json:"count,omitempty"`
	Text    string `json:"text,omitempty"`
	DelayMs int    `json:"delay_ms,omitempty"`
}

var macHelper struct {
	once sync.Once
	path string
	err  error
}

func (d *Desktop) mac(ctx context.Context, in macInput) error {
	_, err := d.runMac(ctx, in)
	return err
}

func (d *Desktop) runMac(ctx context.Context, in macInput) ([]byte, error) {
	data, err := json.Marshal(in)
	if err != nil {
		return nil, fmt.Errorf("encode input: %w", err)
	}
	macHelper.once.Do(func() {
		path := filepath.Join(os.TempDir(), "operator_desktop.swift")
		if writeErr := os.WriteFile(path, []byte(macDesktopScript), 0o600); writeErr != nil {
			macHelper.err = fmt.Errorf("write swift helper: %w", writeErr)
			return
		}
		macHelper.path = path
	})
	if macHelper.err != nil {
		return nil, macHelper.err
	}
	return d.run(ctx, d.env(), data, "swift", macHelper.path)
}

// macDesktopScript reads one operation as JSON on stdin. Coordinates are in
// points relative to the selected screen's top-left corner.
const macDesktopScript = `
import AppKit
import ApplicationServices
import Foundation

struct Input: Decodable {
    let op: String
    let x: Int?
    let y: Int?
    let dx: Int?
    let dy: Int?
    let button: String?
    let count: Int?
    let text: String?
    let delay_ms: Int?
}

let screens = NSScreen.screens
let displayNumber = ProcessInfo.processInfo.environment["OPERATOR_DISPLAY_NUMBER"].flatMap { Int($0) } ?? 0
let screen = (displayNumber >= 0 && displayNumber < screens.count) ? screens[displayNumber] : (NSScreen.main ?? screens.first!)
let frame = screen.frame
let primaryHeight = screens.first!.frame.height

func toGlobal(_ x: Int, _ y: Int) -> CGPoint {
    return CGPoint(x: frame.minX + CGFloat(x), y: primaryHeight - frame.maxY + CGFloat(y))
}

func currentPoint() -> CGPoint {
    return CGEvent(source: nil)?.location ?? CGPoint.zero
}

func mouseButton(_ name: String?) -> CGMouseButton {
    switch name {
    case "right": return .right
    case "middle": return .center
    default: return .left
    }
}

func mouseTypes(_ button: CGMouseButton) -> (CGEventType, CGEventType) {
    switch button {
    case .right: return (.rightMouseDown, .rightMouseUp)
    case .center: return (.otherMouseDown, .otherMouseUp)
    default: return (.leftMouseDown, .leftMouseUp)
    }
}

let keyCodes: [String: CGKeyCode] = [
    "a": 0, "s": 1, "d": 2, "f": 3, "h": 4, "g": 5, "z": 6, "x": 7, "c": 8, "v": 9,
    "b": 11, "q": 12, "w": 13, "e": 14, "r": 15, "y": 16, "t": 17,
    "1": 18, "2": 19, "3": 20, "4": 21, "6": 22, "5": 23, "=": 24, "9": 25, "7": 26,
    "-": 27, "8": 28, "0": 29, "]": 30, "o": 31, "u": 32, "[": 33, "i": 34, "p": 35,
    "l": 37, "j": 38, "'": 39, "k": 40, ";": 41, ",": 43, "/": 44, "n": 45,
    "m": 46, ".": 47, "tab": 48, "space": 49, "return": 36, "enter": 36, "escape": 53,
    "esc": 53, "backspace": 51, "delete": 117,
    "left": 123, "right": 124, "down": 125, "up": 126,
    "home": 115, "end": 119, "page_up": 116, "page_down": 121, "prior": 116, "next": 121,
    "f1": 122, "f2": 120, "f3": 99, "f4": 118, "f5": 96, "f6": 97,
    "f7": 98, "f8": 100, "f9": 101, "f10": 109, "f11": 103, "f12": 111,
    "shift": 56, "ctrl": 59, "control": 59, "alt": 58, "option": 58, "cmd": 55, "super": 55
]

func parseChord(_ text: String) -> (CGKeyCode, CGEventFlags)? {
    var flags = CGEventFlags()
    var key = ""
    let parts = text.lowercased().split(separator: "+").map { String($0) }
    for (i, part) in parts.enumerated() {
        if i == parts.count - 1 {
            key = part
            break
        }
        switch part {
        case "cmd", "command", "super", "meta": flags.insert(.maskCommand)
        case "ctrl", "control": flags.insert(.maskControl)
        case "alt", "option": flags.insert(.maskAlternate)
        case "shift": flags.insert(.maskShift)
        default: break
        }
    }
    guard let code = keyCodes[key] else { return nil }
    return (code, flags)
}

func postKey(_ text: String, down: Bool?) -> Bool {
    guard let (code, flags) = parseChord(text) else { return false }
    let phases: [Bool] = down.map { [$0] } ?? [true, false]
    for phase in phases {
        let event = CGEvent(keyboardEventSource: nil, virtualKey: code, keyDown: phase)
        event?.flags = flags
        event?.post(tap: .cghidEventTap)
    }
    return true
}

let input = try JSONDecoder().decode(Input.self, from: FileHandle.standardInput.readDataToEndOfFile())

if input.op != "cursor_position" && !AXIsProcessTrusted() {
    fputs("accessibility permission required\n", stderr)
    exit(2)
}

switch input.op {
case "move":
    let event = CGEvent(mouseEventSource: nil, mouseType: .mouseMoved, mouseCursorPosition: toGlobal(input.x ?? 0, input.y ?? 0), mouseButton: .left)
    event?.post(tap: .cghidEventTap)
case "click":
    let button = mouseButton(input.button)
    let (downType, upType) = mouseTypes(button)
    let point = currentPoint()
    for i in 1...max(1, input.count ?? 1) {
        for type in [downType, upType] {
            let event = CGEvent(mouseEventSource: nil, mouseType: type, mouseCursorPosition: point, mouseButton: button)
            event?.setIntegerValueField(.mouseEventClickState, value: Int64(i))
            event?.post(tap: .cghidEventTap)
        }
    }
case "mouse_down", "mouse_up":
    let button = mouseButton(input.button)
    let (downType, upType) = mouseTypes(button)
    let event = CGEvent(mouseEventSource: nil, mouseType: input.op == "mouse_down" ? downType : upType, mouseCursorPosition: currentPoint(), mouseButton: button)
    event?.post(tap: .cghidEventTap)
case "key", "key_down", "key_up":
    let down: Bool? = input.op == "key" ? nil : input.op == "key_down"
    if !postKey(input.text ?? "", down: down) {
        fputs("unknown key: \(input.text ?? "")\n", stderr)
        exit(1)
    }
case "type":
    let delay = useconds_t(max(0, input.delay_ms ?? 12) * 1000)
    for scalar in (input.text ?? "").utf16 {
        var chars = [scalar]
        for phase in [true, false] {
            let event = CGEvent(keyboardEventSource: nil, virtualKey: 0, keyDown: phase)
            event?.keyboardSetUnicodeString(stringLength: 1, unicodeString: &chars)
            event?.post(tap: .cghidEventTap)
        }
        usleep(delay)
    }
case "scroll":
    let event = CGEvent(scrollWheelEvent2Source: nil, units: .line, wheelCount: 2, wheel1: Int32(input.dy ?? 0), wheel2: Int32(input.dx ?? 0), wheel3: 0)
    event?.post(tap: .cghidEventTap)
case "cursor_position":
    let p = currentPoint()
    let payload: [String: Double] = ["x": Double(p.x - frame.minX), "y": Double(p.y - (primaryHeight - frame.maxY))]
    let data = try JSONSerialization.data(withJSONObject: payload, options: [])
    print(String(data: data, encoding: .utf8)!)
    exit(0)
default:
    fputs("unsupported op\n", stderr)
    exit(1)
}
`
