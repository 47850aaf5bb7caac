// Package display maps coordinates between the model's reference resolution
// and the real screen.
//
// Vision models are trained on a handful of fixed resolutions. A
// ScalingProfile picks the one matching the real screen's aspect ratio and
// converts coordinates in both directions:
//
//	profile := display.NewScalingProfile(1920, 1200, false) // targets 1280x800
//	x, y, err := profile.ToScreen(640, 400)                   // 960, 600
//	ax, ay := profile.ToAPI(960, 600)                         // 640, 400
package display

import (
	"fmt"
	"math"
)

// Resolution is a width/height pair in pixels.
type Resolution struct {
	Name   string
	Width  int
	Height int
}

// Ratio returns width divided by height.
func (r Resolution) Ratio() float64 {
	if r.Height == 0 {
		return 0
	}
	return float64(r.Width) / float64(r.Height)
}

func (r Resolution) String() string {
	return fmt.Sprintf("%dx%d", r.Width, r.Height)
}

// Target resolutions in selection order.
var (
	XGA   = Resolution{Name: "XGA", Width: 1024, Height: 768}
	WXGA  = Resolution{Name: "WXGA", Width: 1280, Height: 800}
	FWXGA = Resolution{Name: "FWXGA", Width: 1366, Height: 768}

	Targets = []Resolution{XGA, WXGA, FWXGA}
)

const (
	// RatioTolerance is the maximum aspect ratio difference for a target to match.
	RatioTolerance = 0.02

	// highDensityRatio is the aspect ratio of a 14" Retina panel at its
	// default scaled resolution (1512x982).
	highDensityRatio     = 1512.0 / 982.0
	highDensityTolerance = 0.05
)

// ScalingProfile holds the coordinate transform for one session.
// The zero value is not usable; build one with NewScalingProfile.
type ScalingProfile struct {
	ScreenWidth  int  `json:"screen_width"`
	ScreenHeight int  `json:"screen_height"`
	TargetWidth  int  `json:"target_width"`
	TargetHeight int  `json:"target_height"`
	HighDensity  bool `json:"high_density"`
}

// NewScalingProfile selects the target resolution for a screen.
//
// High-density screens are forced to WXGA. Otherwise the first target whose
// aspect ratio is within RatioTolerance of the screen's and whose width is
// strictly smaller than the screen's is used. When nothing matches the
// profile is the identity transform. The target is never larger than the
// screen.
func NewScalingProfile(width, height int, highDensity bool) ScalingProfile {
	p := ScalingProfile{
		ScreenWidth:  width,
		ScreenHeight: height,
		TargetWidth:  width,
		TargetHeight: height,
		HighDensity:  highDensity,
	}
	if width <= 0 || height <= 0 {
		return p
	}

	if highDensity {
		if WXGA.Width < width && WXGA.Height <= height {
			p.TargetWidth, p.TargetHeight = WXGA.Width, WXGA.Height
		}
		return p
	}

	ratio := float64(width) / float64(height)
	for _, target := range Targets {
		if math.Abs(target.Ratio()-ratio) < RatioTolerance && target.Width < width {
			p.TargetWidth, p.TargetHeight = target.Width, target.Height
			break
		}
	}
	return p
}

// Active reports whether the profile rescales coordinates.
func (p ScalingProfile) Active() bool {
	return p.TargetWidth != p.ScreenWidth || p.TargetHeight != p.ScreenHeight
}

// Target returns the resolution the model sees.
func (p ScalingProfile) Target() Resolution {
	return Resolution{Width: p.TargetWidth, Height: p.TargetHeight}
}

// Screen returns the real screen resolution.
func (p ScalingProfile) Screen() Resolution {
	return Resolution{Width: p.ScreenWidth, Height: p.ScreenHeight}
}

// ToScreen converts model coordinates to real screen coordinates.
// Coordinates outside the target area are a *CoordinateError.
func (p ScalingProfile) ToScreen(x, y int) (int, int, error) {
	if x < 0 || y < 0 || x > p.TargetWidth || y > p.TargetHeight {
		return 0, 0, &CoordinateError{X: x, Y: y, Reason: ReasonOutOfBounds}
	}
	if !p.Active() {
		return x, y, nil
	}
	sx := float64(p.ScreenWidth) / float64(p.TargetWidth)
	sy := float64(p.ScreenHeight) / float64(p.TargetHeight)
	return round(float64(x) * sx), round(float64(y) * sy), nil
}

// ToAPI converts real screen coordinates to model coordinates.
func (p ScalingProfile) ToAPI(x, y int) (int, int) {
	if !p.Active() {
		return x, y
	}
	sx := float64(p.TargetWidth) / float64(p.ScreenWidth)
	sy := float64(p.TargetHeight) / float64(p.ScreenHeight)
	return round(float64(x) * sx), round(float64(y) * sy)
}

// Point converts a validated model coordinate to the screen.
func (p ScalingProfile) Point(c Coordinate) (int, int, error) {
	return p.ToScreen(c.X, c.Y)
}

func (p ScalingProfile) String() string {
	if !p.Active() {
		return fmt.Sprintf("%dx%d (unscaled)", p.ScreenWidth, p.ScreenHeight)
	}
	return fmt.Sprintf("%dx%d -> %dx%d", p.ScreenWidth, p.ScreenHeight, p.TargetWidth, p.TargetHeight)
}

// DetectHighDensity reports whether a display should be treated as high
// pixel density. A known backing scale above 1 decides directly; otherwise
// the screen is compared against the Retina default aspect ratio.
func DetectHighDensity(width, height int, backingScale float64) bool {
	if backingScale > 0 {
		return backingScale > 1
	}
	if width <= 0 || height <= 0 {
		return false
	}
	ratio := float64(width) / float64(height)
	return math.Abs(ratio-highDensityRatio) < highDensityTolerance
}

func round(v float64) int {
	return int(math.Round(v))
}
