package computer

import (
	"context"
	"errors"
	"fmt"
	"image"
	"image/color"
	"strings"
	"testing"
	"time"

	"github.com/haasonsaas/operator/internal/display"
)

type fakeBackend struct {
	width, height int
	calls         []string
	cursorX       int
	cursorY       int
	failOn        string
	failErr       error
}

func newFakeBackend(width, height int) *fakeBackend {
	return &fakeBackend{width: width, height: height}
}

func (f *fakeBackend) record(call string) error {
	f.calls = append(f.calls, call)
	if f.failOn != "" && strings.HasPrefix(call, f.failOn) {
		if f.failErr != nil {
			return f.failErr
		}
		return errors.New("boom")
	}
	return nil
}

func (f *fakeBackend) Name() string { return "fake" }
func (f *fakeBackend) MoveMouse(_ context.Context, x, y int) error {
	f.cursorX, f.cursorY = x, y
	return f.record(fmt.Sprintf("move %d,%d", x, y))
}
func (f *fakeBackend) Click(_ context.Context, b Button, n int) error {
	return f.record(fmt.Sprintf("click %s x%d", b, n))
}
func (f *fakeBackend) MouseDown(_ context.Context, b Button) error {
	return f.record("down " + string(b))
}
func (f *fakeBackend) MouseUp(_ context.Context, b Button) error { return f.record("up " + string(b)) }
func (f *fakeBackend) Key(_ context.Context, k string) error     { return f.record("key " + k) }
func (f *fakeBackend) KeyDown(_ context.Context, k string) error { return f.record("keydown " + k) }
func (f *fakeBackend) KeyUp(_ context.Context, k string) error   { return f.record("keyup " + k) }
func (f *fakeBackend) Type(_ context.Context, s string) error    { return f.record("type " + s) }
func (f *fakeBackend) Scroll(_ context.Context, h bool, n int) error {
	return f.record(fmt.Sprintf("scroll h=%v %d", h, n))
}
func (f *fakeBackend) CursorPosition(context.Context) (int, int, error) {
	return f.cursorX, f.cursorY, f.record("cursor")
}
func (f *fakeBackend) Screenshot(context.Context) (image.Image, error) {
	if err := f.record("screenshot"); err != nil {
		return nil, err
	}
	img := image.NewRGBA(image.Rect(0, 0, f.width, f.height))
	img.Set(0, 0, color.White)
	return img, nil
}

func newTestTool(backend *fakeBackend) *Tool {
	tool := NewTool(backend, Options{Profile: display.NewScalingProfile(backend.width, backend.height, false)})
	tool.sleep = func(ctx context.Context, _ time.Duration) error { return ctx.Err() }
	return tool
}

func TestExecuteScalesCoordinates(t *testing.T) {
	backend := newFakeBackend(1920, 1200)
	tool := newTestTool(backend)

	result, err := tool.Execute(context.Background(), Click{Variant: KindLeftClick, Button: ButtonLeft, Count: 1, At: &display.Coordinate{X: 640, Y: 400}})
	if err != nil {
		t.Fatalf("Execute() error = %v", err)
	}
	want := []string{"move 960,600", "click left x1", "screenshot"}
	if strings.Join(backend.calls, "|") != strings.Join(want, "|") {
		t.Fatalf("calls = %v, want %v", backend.calls, want)
	}
	if result.Image == nil {
		t.Fatal("expected screenshot")
	}
	if result.Image.Width != 1280 || result.Image.Height != 800 {
		t.Fatalf("screenshot size = %dx%d, want 1280x800", result.Image.Width, result.Image.Height)
	}
	if result.Image.MediaType != "image/png" || len(result.Image.Data) == 0 {
		t.Fatalf("bad image: %+v", result.Image.MediaType)
	}
}

func TestExecuteOutOfBoundsDoesNotTouchBackend(t *testing.T) {
	backend := newFakeBackend(1920, 1200)
	tool := newTestTool(backend)

	_, err := tool.Execute(context.Background(), MouseMove{To: display.Coordinate{X: 2000, Y: 10}})
	if !display.IsCoordinateError(err) {
		t.Fatalf("error = %v, want CoordinateError", err)
	}
	if len(backend.calls) != 0 {
		t.Fatalf("backend called: %v", backend.calls)
	}
}

func TestExecuteSequences(t *testing.T) {
	tests := []struct {
		name   string
		action Action
		want   []string
	}{
		{
			name:   "scroll at coordinate with modifier",
			action: Scroll{Direction: ScrollDown, Amount: 3, At: &display.Coordinate{X: 10, Y: 10}, Modifier: "ctrl"},
			want:   []string{"move 10,10", "keydown ctrl", "scroll h=false -3", "keyup ctrl", "screenshot"},
		},
		{
			name:   "scroll left",
			action: Scroll{Direction: ScrollLeft, Amount: 2},
			want:   []string{"scroll h=true 2", "screenshot"},
		},
		{
			name:   "drag from start",
			action: Drag{From: &display.Coordinate{X: 1, Y: 1}, To: display.Coordinate{X: 5, Y: 5}},
			want:   []string{"move 1,1", "down left", "move 5,5", "up left", "screenshot"},
		},
		{
			name: "drag along path",
			action: Drag{
				Variant: KindDrag,
				From:    &display.Coordinate{X: 1, Y: 1},
				Via:     []display.Coordinate{{X: 3, Y: 2}},
				To:      display.Coordinate{X: 5, Y: 5},
			},
			want: []string{"move 1,1", "down left", "move 3,2", "move 5,5", "up left", "screenshot"},
		},
		{
			name:   "hold key",
			action: HoldKey{Keys: "shift", Duration: time.Second},
			want:   []string{"keydown shift", "keyup shift", "screenshot"},
		},
		{
			name:   "wait",
			action: Wait{Duration: time.Second},
			want:   []string{"screenshot"},
		},
		{
			name:   "key",
			action: Key{Keys: "ctrl+s"},
			want:   []string{"key ctrl+s", "screenshot"},
		},
		{
			name:   "mouse up",
			action: MouseButton{Down: false},
			want:   []string{"up left", "screenshot"},
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			backend := newFakeBackend(1024, 768)
			tool := newTestTool(backend)
			if _, err := tool.Execute(context.Background(), tt.action); err != nil {
				t.Fatalf("Execute() error = %v", err)
			}
			if strings.Join(backend.calls, "|") != strings.Join(tt.want, "|") {
				t.Fatalf("calls = %v, want %v", backend.calls, tt.want)
			}
		})
	}
}

func TestExecuteTypeChunks(t *testing.T) {
	backend := newFakeBackend(1024, 768)
	tool := newTestTool(backend)
	text := strings.Repeat("a", 120)
	if _, err := tool.Execute(context.Background(), Type{Text: text}); err != nil {
		t.Fatal(err)
	}
	var typed []string
	for _, call := range backend.calls {
		if strings.HasPrefix(call, "type ") {
			typed = append(typed, strings.TrimPrefix(call, "type "))
		}
	}
	if len(typed) != 3 || len(typed[0]) != 50 || len(typed[2]) != 20 {
		t.Fatalf("typed chunks = %d %v", len(typed), typed)
	}
	if strings.Join(typed, "") != text {
		t.Fatal("chunks lost text")
	}
}

func TestExecuteCursorPositionScalesBack(t *testing.T) {
	backend := newFakeBackend(1920, 1200)
	backend.cursorX, backend.cursorY = 960, 600
	tool := newTestTool(backend)

	result, err := tool.Execute(context.Background(), CursorPosition{})
	if err != nil {
		t.Fatal(err)
	}
	if result.Output != "X=640,Y=400" {
		t.Fatalf("Output = %q", result.Output)
	}
	if result.Image != nil {
		t.Fatal("cursor position should not screenshot")
	}
}

func TestExecuteBackendFailureIsToolError(t *testing.T) {
	backend := newFakeBackend(1024, 768)
	backend.failOn = "key"
	tool := newTestTool(backend)

	_, err := tool.Execute(context.Background(), Key{Keys: "Return"})
	if !IsToolError(err) {
		t.Fatalf("error = %v, want ToolError", err)
	}

	backend = newFakeBackend(1024, 768)
	backend.failOn = "key"
	backend.failErr = ErrBackendUnavailable
	tool = newTestTool(backend)
	_, err = tool.Execute(context.Background(), Key{Keys: "Return"})
	if !errors.Is(err, ErrBackendUnavailable) || IsToolError(err) {
		t.Fatalf("error = %v, want ErrBackendUnavailable", err)
	}
}

func TestExecuteReleasesModifierOnFailure(t *testing.T) {
	backend := newFakeBackend(1024, 768)
	backend.failOn = "click"
	tool := newTestTool(backend)

	_, err := tool.Execute(context.Background(), Click{Variant: KindLeftClick, Button: ButtonLeft, Count: 1, Modifier: "shift"})
	if !IsToolError(err) {
		t.Fatalf("error = %v", err)
	}
	if backend.calls[len(backend.calls)-1] != "keyup shift" {
		t.Fatalf("modifier not released: %v", backend.calls)
	}
}

func TestExecuteCancelledContext(t *testing.T) {
	backend := newFakeBackend(1024, 768)
	tool := newTestTool(backend)
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	if _, err := tool.Execute(ctx, Screenshot{}); !errors.Is(err, context.Canceled) {
		t.Fatalf("error = %v, want context.Canceled", err)
	}
	if len(backend.calls) != 0 {
		t.Fatalf("backend called: %v", backend.calls)
	}
}

func TestOverlayLabel(t *testing.T) {
	backend := newFakeBackend(200, 100)
	tool := newTestTool(backend)
	calls := 0
	tool.SetOverlay(func() string {
		calls++
		return "Actions: 1/10"
	})
	result, err := tool.Execute(context.Background(), Screenshot{})
	if err != nil {
		t.Fatal(err)
	}
	if calls != 1 || result.Image == nil {
		t.Fatalf("overlay calls = %d", calls)
	}
}

func TestChunks(t *testing.T) {
	if got := chunks("", 50); len(got) != 0 {
		t.Fatalf("chunks(empty) = %v", got)
	}
	got := chunks("héllo", 2)
	if strings.Join(got, "|") != "hé|ll|o" {
		t.Fatalf("chunks = %v", got)
	}
}
