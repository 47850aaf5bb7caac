package display

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"os/exec"
	"regexp"
	"runtime"
	"strconv"
)

// Info describes the real display the session drives.
type Info struct {
	Width  int     `json:"width"`
	Height int     `json:"height"`
	Number int     `json:"number"`
	Scale  float64 `json:"scale,omitempty"`
	Source string  `json:"source"`
}

// Overrides pin display values that would otherwise be detected.
// Zero values mean "detect".
type Overrides struct {
	Width       int
	Height      int
	Number      int
	HighDensity *bool
}

// ErrDetectUnsupported is returned when no detection exists for the platform.
var ErrDetectUnsupported = errors.New("display detection not supported on this platform")

// commandOutput runs an external command. Tests replace it.
var commandOutput = func(ctx context.Context, name string, args ...string) ([]byte, error) {
	return exec.CommandContext(ctx, name, args...).CombinedOutput()
}

var dimensionsPattern = regexp.MustCompile(`dimensions:\s+(\d+)x(\d+)\s+pixels`)

// Detect resolves the screen size once at process start. Explicit
// overrides win; otherwise xdpyinfo (Linux) or the AppKit helper (macOS)
// is queried.
func Detect(ctx context.Context, o Overrides) (Info, error) {
	if o.Width > 0 && o.Height > 0 {
		return Info{Width: o.Width, Height: o.Height, Number: o.Number, Source: "config"}, nil
	}

	var (
		info Info
		err  error
	)
	switch runtime.GOOS {
	case "linux":
		info, err = detectX11(ctx, o.Number)
	case "darwin":
		info, err = detectMac(ctx)
	default:
		err = fmt.Errorf("%w: %s", ErrDetectUnsupported, runtime.GOOS)
	}
	if err != nil {
		return Info{}, err
	}
	if o.Number > 0 {
		info.Number = o.Number
	}
	return info, nil
}

// Profile builds the scaling profile for the detected display.
func (i Info) Profile(o Overrides) ScalingProfile {
	highDensity := DetectHighDensity(i.Width, i.Height, i.Scale)
	if o.HighDensity != nil {
		highDensity = *o.HighDensity
	}
	return NewScalingProfile(i.Width, i.Height, highDensity)
}

func detectX11(ctx context.Context, number int) (Info, error) {
	if _, err := exec.LookPath("xdpyinfo"); err != nil {
		return Info{}, fmt.Errorf("display detection requires xdpyinfo (apt install x11-utils) or WIDTH/HEIGHT")
	}
	output, err := commandOutput(ctx, "xdpyinfo", "-display", fmt.Sprintf(":%d", number))
	if err != nil {
		return Info{}, fmt.Errorf("xdpyinfo failed: %v\n%s", err, string(output))
	}
	width, height, err := parseDimensions(output)
	if err != nil {
		return Info{}, err
	}
	return Info{Width: width, Height: height, Number: number, Source: "xdpyinfo"}, nil
}

func parseDimensions(output []byte) (int, int, error) {
	match := dimensionsPattern.FindSubmatch(output)
	if match == nil {
		return 0, 0, errors.New("xdpyinfo output has no dimensions line")
	}
	width, err := strconv.Atoi(string(match[1]))
	if err != nil {
		return 0, 0, fmt.Errorf("parse width: %w", err)
	}
	height, err := strconv.Atoi(string(match[2]))
	if err != nil {
		return 0, 0, fmt.Errorf("parse height: %w", err)
	}
	return width, height, nil
}

type macScreenInfo struct {
	Width  int     `json:"width"`
	Height int     `json:"height"`
	Scale  float64 `json:"scale"`
}

func detectMac(ctx context.Context) (Info, error) {
	if _, err := exec.LookPath("swift"); err != nil {
		return Info{}, fmt.Errorf("swift unavailable: %w", err)
	}
	output, err := commandOutput(ctx, "swift", "-e", macScreenScript)
	if err != nil {
		return Info{}, fmt.Errorf("screen info failed: %v\n%s", err, string(output))
	}
	return parseMacScreen(output)
}

func parseMacScreen(output []byte) (Info, error) {
	var screen macScreenInfo
	if err := json.Unmarshal(output, &screen); err != nil {
		return Info{}, fmt.Errorf("parse screen info: %w", err)
	}
	if screen.Width == 0 || screen.Height == 0 {
		return Info{}, errors.New("screen info unavailable")
	}
	return Info{Width: screen.Width, Height: screen.Height, Scale: screen.Scale, Source: "appkit"}, nil
}

// macScreenScript reports the main screen in points, which is the space
// CGEvent coordinates use.
const macScreenScript = `
import AppKit
import Foundation

let screen = NSScreen.main ?? NSScreen.screens.first!
let payload: [String: Any] = [
    "width": Int(screen.frame.width),
    "height": Int(screen.frame.height),
    "scale": screen.backingScaleFactor
]
let data = try JSONSerialization.data(withJSONObject: payload, options: [])
print(String(data: data, encoding: .utf8)!)
`
