package computer

import (
	"context"
	"fmt"
	"image"
	"net/url"
	"strings"
	"sync"

	"github.com/chromedp/cdproto/input"
	"github.com/chromedp/chromedp"
	"github.com/chromedp/chromedp/kb"

	"github.com/haasonsaas/operator/pkg/models"
)

// DefaultBlockedDomains are never driven without acknowledgment.
var DefaultBlockedDomains = []string{
	"maliciousbook.com",
	"evilvideos.com",
	"darkwebforum.com",
	"shadytok.com",
	"suspiciouspins.com",
}

// BrowserOptions configures NewBrowser.
type BrowserOptions struct {
	// DebugURL attaches to a running Chrome (--remote-debugging-port).
	// Empty launches a local Chrome.
	DebugURL       string
	StartURL       string
	Width          int
	Height         int
	Headless       bool
	BlockedDomains []string
}

// Browser drives one Chrome tab over the DevTools protocol. Mouse input is
// synthesized at page coordinates, so the viewport is the "screen".
type Browser struct {
	mu          sync.Mutex
	ctx         context.Context
	allocCancel context.CancelFunc
	taskCancel  context.CancelFunc
	width       int
	height      int
	x, y        int
	pressed     input.MouseButton
	modifiers   input.Modifier
	blocked     []string
}

// NewBrowser starts or attaches to Chrome and sizes the viewport.
func NewBrowser(ctx context.Context, opts BrowserOptions) (*Browser, error) {
	if opts.Width <= 0 || opts.Height <= 0 {
		opts.Width, opts.Height = 1280, 800
	}

	var allocCtx context.Context
	var allocCancel context.CancelFunc
	if opts.DebugURL != "" {
		allocCtx, allocCancel = chromedp.NewRemoteAllocator(ctx, opts.DebugURL)
	} else {
		allocOpts := append(chromedp.DefaultExecAllocatorOptions[:],
			chromedp.WindowSize(opts.Width, opts.Height),
			chromedp.Flag("headless", opts.Headless),
		)
		allocCtx, allocCancel = chromedp.NewExecAllocator(ctx, allocOpts...)
	}
	taskCtx, taskCancel := chromedp.NewContext(allocCtx)

	actions := []chromedp.Action{chromedp.EmulateViewport(int64(opts.Width), int64(opts.Height))}
	if opts.StartURL != "" {
		actions = append(actions, chromedp.Navigate(opts.StartURL))
	}
	if err := chromedp.Run(taskCtx, actions...); err != nil {
		taskCancel()
		allocCancel()
		return nil, fmt.Errorf("%w: start browser: %v", ErrBackendUnavailable, err)
	}

	blocked := opts.BlockedDomains
	if blocked == nil {
		blocked = DefaultBlockedDomains
	}
	return &Browser{
		ctx:         taskCtx,
		allocCancel: allocCancel,
		taskCancel:  taskCancel,
		width:       opts.Width,
		height:      opts.Height,
		pressed:     input.None,
		blocked:     blocked,
	}, nil
}

func (b *Browser) Name() string { return "browser" }

// Size returns the viewport size, which is the screen size for scaling.
func (b *Browser) Size() (int, int) { return b.width, b.height }

// Close detaches from the tab and releases the allocator.
func (b *Browser) Close() error {
	b.taskCancel()
	b.allocCancel()
	return nil
}

// run executes actions on the tab, stopping early if ctx ends.
func (b *Browser) run(ctx context.Context, actions ...chromedp.Action) error {
	runCtx, cancel := context.WithCancel(b.ctx)
	defer cancel()
	stop := context.AfterFunc(ctx, cancel)
	defer stop()
	return chromedp.Run(runCtx, actions...)
}

func (b *Browser) mouse(ctx context.Context, typ input.MouseType, button input.MouseButton, clicks int64) error {
	b.mu.Lock()
	params := input.DispatchMouseEvent(typ, float64(b.x), float64(b.y)).
		WithButton(button).
		WithModifiers(b.modifiers)
	b.mu.Unlock()
	if clicks > 0 {
		params = params.WithClickCount(clicks)
	}
	return b.run(ctx, params)
}

func (b *Browser) MoveMouse(ctx context.Context, x, y int) error {
	b.mu.Lock()
	b.x, b.y = x, y
	pressed := b.pressed
	b.mu.Unlock()
	return b.mouse(ctx, input.MouseMoved, pressed, 0)
}

func (b *Browser) Click(ctx context.Context, button Button, count int) error {
	cdpButton := cdpMouseButton(button)
	for i := 1; i <= max(count, 1); i++ {
		if err := b.mouse(ctx, input.MousePressed, cdpButton, int64(i)); err != nil {
			return err
		}
		if err := b.mouse(ctx, input.MouseReleased, cdpButton, int64(i)); err != nil {
			return err
		}
	}
	return nil
}

func (b *Browser) MouseDown(ctx context.Context, button Button) error {
	b.mu.Lock()
	b.pressed = cdpMouseButton(button)
	b.mu.Unlock()
	return b.mouse(ctx, input.MousePressed, cdpMouseButton(button), 1)
}

func (b *Browser) MouseUp(ctx context.Context, button Button) error {
	b.mu.Lock()
	b.pressed = input.None
	b.mu.Unlock()
	return b.mouse(ctx, input.MouseReleased, cdpMouseButton(button), 1)
}

func (b *Browser) Key(ctx context.Context, keys string) error {
	parsed := parseChord(keys)
	b.mu.Lock()
	modifiers := b.modifiers | parsed.modifiers
	b.mu.Unlock()
	if parsed.key == "" {
		return fmt.Errorf("no key in %q", keys)
	}
	return b.run(ctx, chromedp.KeyEvent(parsed.key, chromedp.KeyModifiers(modifiers)))
}

func (b *Browser) KeyDown(ctx context.Context, keys string) error {
	return b.keyPhase(ctx, keys, true)
}

func (b *Browser) KeyUp(ctx context.Context, keys string) error {
	return b.keyPhase(ctx, keys, false)
}

// keyPhase holds or releases a chord. Modifiers are tracked and applied to
// later mouse and key events; other keys dispatch their raw down or up
// events.
func (b *Browser) keyPhase(ctx context.Context, keys string, down bool) error {
	parsed := parseChord(keys)
	b.mu.Lock()
	if down {
		b.modifiers |= parsed.modifiers
	} else {
		b.modifiers &^= parsed.modifiers
	}
	modifiers := b.modifiers
	b.mu.Unlock()
	if parsed.key == "" {
		return nil
	}

	var actions []chromedp.Action
	for _, r := range parsed.key {
		for _, event := range kb.Encode(r) {
			isDown := event.Type == input.KeyDown || event.Type == input.KeyRawDown || event.Type == input.KeyChar
			if isDown == down {
				actions = append(actions, event.WithModifiers(modifiers))
			}
		}
	}
	return b.run(ctx, actions...)
}

func (b *Browser) Type(ctx context.Context, text string) error {
	return b.run(ctx, input.InsertText(text))
}

func (b *Browser) Scroll(ctx context.Context, horizontal bool, clicks int) error {
	const pixelsPerTick = 100
	b.mu.Lock()
	params := input.DispatchMouseEvent(input.MouseWheel, float64(b.x), float64(b.y)).
		WithModifiers(b.modifiers)
	b.mu.Unlock()
	delta := float64(-clicks * pixelsPerTick)
	if horizontal {
		params = params.WithDeltaX(delta).WithDeltaY(0)
	} else {
		params = params.WithDeltaX(0).WithDeltaY(delta)
	}
	return b.run(ctx, params)
}

func (b *Browser) CursorPosition(ctx context.Context) (int, int, error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.x, b.y, nil
}

func (b *Browser) Screenshot(ctx context.Context) (image.Image, error) {
	var buf []byte
	if err := b.run(ctx, chromedp.CaptureScreenshot(&buf)); err != nil {
		return nil, fmt.Errorf("capture screenshot: %w", err)
	}
	return DecodeImage(buf)
}

// CurrentURL returns the tab's location.
func (b *Browser) CurrentURL(ctx context.Context) (string, error) {
	var location string
	if err := b.run(ctx, chromedp.Location(&location)); err != nil {
		return "", err
	}
	return location, nil
}

// Inspect flags billable actions taken while the tab is on a blocked domain.
func (b *Browser) Inspect(ctx context.Context, action Action) ([]models.SafetyCheck, error) {
	if !action.Billable() {
		return nil, nil
	}
	location, err := b.CurrentURL(ctx)
	if err != nil {
		return nil, err
	}
	if domain, ok := blockedDomain(location, b.blocked); ok {
		return []models.SafetyCheck{{
			ID:      "blocked_domain:" + domain,
			Code:    "blocked_domain",
			Message: fmt.Sprintf("The current page %s is on the blocked domain %s", location, domain),
		}}, nil
	}
	return nil, nil
}

func blockedDomain(location string, blocked []string) (string, bool) {
	parsed, err := url.Parse(location)
	if err != nil || parsed.Hostname() == "" {
		return "", false
	}
	host := strings.ToLower(parsed.Hostname())
	for _, domain := range blocked {
		domain = strings.ToLower(strings.TrimSpace(domain))
		if domain == "" {
			continue
		}
		if host == domain || strings.HasSuffix(host, "."+domain) {
			return domain, true
		}
	}
	return "", false
}

func cdpMouseButton(button Button) input.MouseButton {
	switch button {
	case ButtonRight:
		return input.Right
	case ButtonMiddle:
		return input.Middle
	default:
		return input.Left
	}
}

type chord struct {
	modifiers input.Modifier
	key       string
}

// keyNames maps xdotool keysym names to the DevTools key strings.
var keyNames = map[string]string{
	"return":    kb.Enter,
	"enter":     kb.Enter,
	"tab":       kb.Tab,
	"escape":    kb.Escape,
	"esc":       kb.Escape,
	"backspace": kb.Backspace,
	"delete":    kb.Delete,
	"up":        kb.ArrowUp,
	"down":      kb.ArrowDown,
	"left":      kb.ArrowLeft,
	"right":     kb.ArrowRight,
	"home":      kb.Home,
	"end":       kb.End,
	"page_up":   kb.PageUp,
	"prior":     kb.PageUp,
	"page_down": kb.PageDown,
	"next":      kb.PageDown,
	"space":     " ",
}

// parseChord splits "ctrl+shift+t" into modifiers and the final key.
func parseChord(keys string) chord {
	var c chord
	parts := strings.Split(keys, "+")
	for i, part := range parts {
		name := strings.ToLower(strings.TrimSpace(part))
		if mod, ok := modifierFor(name); ok {
			c.modifiers |= mod
			continue
		}
		if i != len(parts)-1 {
			continue
		}
		if mapped, ok := keyNames[name]; ok {
			c.key = mapped
		} else {
			c.key = strings.TrimSpace(part)
		}
	}
	return c
}

func modifierFor(name string) (input.Modifier, bool) {
	switch name {
	case "alt", "option":
		return input.ModifierAlt, true
	case "ctrl", "control":
		return input.ModifierCtrl, true
	case "cmd", "command", "super", "meta":
		return input.ModifierMeta, true
	case "shift":
		return input.ModifierShift, true
	}
	return 0, false
}
