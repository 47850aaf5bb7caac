package computer

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"time"

	"github.com/haasonsaas/operator/internal/display"
	"github.com/haasonsaas/operator/pkg/models"
)

const (
	// DefaultSettleDelay is how long the screen gets to settle before a
	// screenshot is taken.
	DefaultSettleDelay = 500 * time.Millisecond

	// TypingChunkSize is the number of characters sent per type call.
	TypingChunkSize = 50
)

// Options configures a Tool.
type Options struct {
	Profile       display.ScalingProfile
	DisplayNumber int
	SettleDelay   time.Duration
	Limits        Limits
	// Overlay, when set, returns a label drawn onto every screenshot.
	Overlay func() string
	Logger  *slog.Logger
}

// Tool executes computer actions against a backend in model coordinates.
type Tool struct {
	backend       Backend
	profile       display.ScalingProfile
	displayNumber int
	settle        time.Duration
	limits        Limits
	overlay       func() string
	logger        *slog.Logger
	sleep         func(context.Context, time.Duration) error
}

// NewTool creates a computer tool bound to one session's scaling profile.
func NewTool(backend Backend, opts Options) *Tool {
	settle := opts.SettleDelay
	if settle < 0 {
		settle = 0
	}
	limits := opts.Limits
	if limits.MaxDuration <= 0 {
		limits = DefaultLimits
	}
	logger := opts.Logger
	if logger == nil {
		logger = slog.New(slog.NewTextHandler(io.Discard, nil))
	}
	return &Tool{
		backend:       backend,
		profile:       opts.Profile,
		displayNumber: opts.DisplayNumber,
		settle:        settle,
		limits:        limits,
		overlay:       opts.Overlay,
		logger:        logger,
		sleep:         sleepContext,
	}
}

func (t *Tool) Name() string { return "computer" }

// Profile returns the session's scaling profile.
func (t *Tool) Profile() display.ScalingProfile { return t.profile }

// DisplayNumber returns the X display index declared to the model.
func (t *Tool) DisplayNumber() int { return t.displayNumber }

// Backend returns the underlying backend.
func (t *Tool) Backend() Backend { return t.backend }

// Limits returns the parameter limits used to decode actions.
func (t *Tool) Limits() Limits { return t.limits }

// SetOverlay replaces the screenshot label function.
func (t *Tool) SetOverlay(fn func() string) { t.overlay = fn }

// Execute runs one action. Per-call failures are *ToolError or
// *display.CoordinateError; any other error is a backend fault.
func (t *Tool) Execute(ctx context.Context, action Action) (models.ToolResult, error) {
	if err := ctx.Err(); err != nil {
		return models.ToolResult{}, err
	}
	t.logger.Debug("computer action", "action", string(action.Kind()), "backend", t.backend.Name())

	switch a := action.(type) {
	case MouseMove:
		x, y, err := t.profile.Point(a.To)
		if err != nil {
			return models.ToolResult{}, err
		}
		if err := t.backend.MoveMouse(ctx, x, y); err != nil {
			return models.ToolResult{}, t.backendError(action, err)
		}
		return t.observe(ctx)

	case Click:
		if a.At != nil {
			x, y, err := t.profile.Point(*a.At)
			if err != nil {
				return models.ToolResult{}, err
			}
			if err := t.backend.MoveMouse(ctx, x, y); err != nil {
				return models.ToolResult{}, t.backendError(action, err)
			}
		}
		err := t.withModifier(ctx, a.Modifier, func() error {
			return t.backend.Click(ctx, a.Button, a.Count)
		})
		if err != nil {
			return models.ToolResult{}, t.backendError(action, err)
		}
		return t.observe(ctx)

	case Drag:
		var fromX, fromY int
		if a.From != nil {
			var err error
			if fromX, fromY, err = t.profile.Point(*a.From); err != nil {
				return models.ToolResult{}, err
			}
		}
		path := make([][2]int, 0, len(a.Via)+1)
		for _, c := range append(append([]display.Coordinate(nil), a.Via...), a.To) {
			x, y, err := t.profile.Point(c)
			if err != nil {
				return models.ToolResult{}, err
			}
			path = append(path, [2]int{x, y})
		}
		if a.From != nil {
			if err := t.backend.MoveMouse(ctx, fromX, fromY); err != nil {
				return models.ToolResult{}, t.backendError(action, err)
			}
		}
		if err := t.drag(ctx, path); err != nil {
			return models.ToolResult{}, t.backendError(action, err)
		}
		return t.observe(ctx)

	case MouseButton:
		var err error
		if a.Down {
			err = t.backend.MouseDown(ctx, ButtonLeft)
		} else {
			err = t.backend.MouseUp(ctx, ButtonLeft)
		}
		if err != nil {
			return models.ToolResult{}, t.backendError(action, err)
		}
		return t.observe(ctx)

	case Key:
		if err := t.backend.Key(ctx, a.Keys); err != nil {
			return models.ToolResult{}, t.backendError(action, err)
		}
		return t.observe(ctx)

	case Type:
		for _, chunk := range chunks(a.Text, TypingChunkSize) {
			if err := t.backend.Type(ctx, chunk); err != nil {
				return models.ToolResult{}, t.backendError(action, err)
			}
		}
		return t.observe(ctx)

	case HoldKey:
		if err := t.backend.KeyDown(ctx, a.Keys); err != nil {
			return models.ToolResult{}, t.backendError(action, err)
		}
		sleepErr := t.sleep(ctx, a.Duration)
		// Release even when the hold was interrupted.
		if err := t.backend.KeyUp(context.WithoutCancel(ctx), a.Keys); err != nil {
			return models.ToolResult{}, t.backendError(action, err)
		}
		if sleepErr != nil {
			return models.ToolResult{}, sleepErr
		}
		return t.observe(ctx)

	case Scroll:
		if a.At != nil {
			x, y, err := t.profile.Point(*a.At)
			if err != nil {
				return models.ToolResult{}, err
			}
			if err := t.backend.MoveMouse(ctx, x, y); err != nil {
				return models.ToolResult{}, t.backendError(action, err)
			}
		}
		err := t.withModifier(ctx, a.Modifier, func() error {
			return t.backend.Scroll(ctx, a.Horizontal(), a.Clicks())
		})
		if err != nil {
			return models.ToolResult{}, t.backendError(action, err)
		}
		return t.observe(ctx)

	case Wait:
		if err := t.sleep(ctx, a.Duration); err != nil {
			return models.ToolResult{}, err
		}
		return t.observe(ctx)

	case Screenshot:
		return t.observe(ctx)

	case CursorPosition:
		x, y, err := t.backend.CursorPosition(ctx)
		if err != nil {
			return models.ToolResult{}, t.backendError(action, err)
		}
		ax, ay := t.profile.ToAPI(x, y)
		return models.ToolResult{Output: fmt.Sprintf("X=%d,Y=%d", ax, ay)}, nil
	}

	return models.ToolResult{}, NewToolError("Invalid action: %s", action.Kind())
}

func (t *Tool) drag(ctx context.Context, path [][2]int) error {
	if err := t.backend.MouseDown(ctx, ButtonLeft); err != nil {
		return err
	}
	var moveErr error
	for _, p := range path {
		if moveErr = t.backend.MoveMouse(ctx, p[0], p[1]); moveErr != nil {
			break
		}
	}
	if err := t.backend.MouseUp(context.WithoutCancel(ctx), ButtonLeft); err != nil {
		return err
	}
	return moveErr
}

func (t *Tool) withModifier(ctx context.Context, modifier string, fn func() error) error {
	if modifier == "" {
		return fn()
	}
	if err := t.backend.KeyDown(ctx, modifier); err != nil {
		return err
	}
	fnErr := fn()
	if err := t.backend.KeyUp(context.WithoutCancel(ctx), modifier); err != nil {
		return err
	}
	return fnErr
}

// observe waits for the screen to settle and returns a screenshot at the
// target resolution.
func (t *Tool) observe(ctx context.Context) (models.ToolResult, error) {
	if err := t.sleep(ctx, t.settle); err != nil {
		return models.ToolResult{}, err
	}
	img, err := t.backend.Screenshot(ctx)
	if err != nil {
		return models.ToolResult{}, t.backendError(Screenshot{}, err)
	}

	target := t.profile.Target()
	if target.Width > 0 && target.Height > 0 {
		img = Resize(img, target.Width, target.Height)
	}
	if t.overlay != nil {
		if label := t.overlay(); label != "" {
			img = DrawLabel(img, label)
		}
	}

	encoded, err := EncodePNG(img)
	if err != nil {
		return models.ToolResult{}, fmt.Errorf("encode screenshot: %w", err)
	}
	bounds := img.Bounds()
	return models.ToolResult{
		Image: &models.Image{
			MediaType: "image/png",
			Data:      encoded,
			Width:     bounds.Dx(),
			Height:    bounds.Dy(),
		},
	}, nil
}

// backendError turns a failed backend call into a per-call ToolError unless
// the backend is missing entirely or the context ended.
func (t *Tool) backendError(action Action, err error) error {
	if errors.Is(err, ErrBackendUnavailable) || errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
		return err
	}
	t.logger.Warn("computer action failed", "action", string(action.Kind()), "error", err)
	return &ToolError{Message: fmt.Sprintf("%s failed: %v", action.Kind(), err), Cause: err}
}

func chunks(s string, size int) []string {
	runes := []rune(s)
	if len(runes) == 0 {
		return nil
	}
	out := make([]string, 0, (len(runes)+size-1)/size)
	for start := 0; start < len(runes); start += size {
		end := start + size
		if end > len(runes) {
			end = len(runes)
		}
		out = append(out, string(runes[start:end]))
	}
	return out
}

func sleepContext(ctx context.Context, d time.Duration) error {
	if d <= 0 {
		return ctx.Err()
	}
	timer := time.NewTimer(d)
	defer timer.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-timer.C:
		return nil
	}
}
