package computer

import (
	"context"
	"image"

	"github.com/haasonsaas/operator/pkg/models"
)

// Backend drives a real input/output surface. Coordinates are real
// screen pixels; normalization happens in Tool before a backend is called.
type Backend interface {
	Name() string
	MoveMouse(ctx context.Context, x, y int) error
	Click(ctx context.Context, button Button, count int) error
	MouseDown(ctx context.Context, button Button) error
	MouseUp(ctx context.Context, button Button) error
	Key(ctx context.Context, keys string) error
	KeyDown(ctx context.Context, keys string) error
	KeyUp(ctx context.Context, keys string) error
	Type(ctx context.Context, text string) error
	// Scroll moves the wheel by clicks ticks. Positive is up (or left when
	// horizontal), negative is down (or right).
	Scroll(ctx context.Context, horizontal bool, clicks int) error
	CursorPosition(ctx context.Context) (int, int, error)
	Screenshot(ctx context.Context) (image.Image, error)
}

// SafetyInspector is implemented by backends that can flag an action as
// needing acknowledgment before it runs, for example a browser on a
// blocked domain.
type SafetyInspector interface {
	Inspect(ctx context.Context, action Action) ([]models.SafetyCheck, error)
}

// Closer is implemented by backends that hold external resources.
type Closer interface {
	Close() error
}
