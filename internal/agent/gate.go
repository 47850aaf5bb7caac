package agent

import (
	"context"
	"fmt"
	"io"
	"os"
	"regexp"
	"strings"

	"golang.org/x/term"

	"github.com/haasonsaas/operator/internal/observability"
	"github.com/haasonsaas/operator/pkg/models"
)

// Acknowledger decides whether a pending safety check may proceed.
type Acknowledger interface {
	Acknowledge(ctx context.Context, check models.SafetyCheck) (bool, error)
}

// StaticAcknowledger answers every check the same way.
type StaticAcknowledger struct {
	Allow bool
}

func (a StaticAcknowledger) Acknowledge(ctx context.Context, _ models.SafetyCheck) (bool, error) {
	if err := ctx.Err(); err != nil {
		return false, err
	}
	return a.Allow, nil
}

// TerminalAcknowledger asks the operator on an interactive terminal. It
// refuses to guess when In is not a TTY.
type TerminalAcknowledger struct {
	In  *os.File
	Out io.Writer
}

// NewTerminalAcknowledger prompts on stdin/stdout.
func NewTerminalAcknowledger() *TerminalAcknowledger {
	return &TerminalAcknowledger{In: os.Stdin, Out: os.Stdout}
}

func (a *TerminalAcknowledger) Acknowledge(ctx context.Context, check models.SafetyCheck) (bool, error) {
	if err := ctx.Err(); err != nil {
		return false, err
	}
	if a.In == nil || !term.IsTerminal(int(a.In.Fd())) {
		return false, ErrNoTerminal
	}
	out := a.Out
	if out == nil {
		out = os.Stdout
	}

	fd := int(a.In.Fd())
	state, err := term.MakeRaw(fd)
	if err != nil {
		return false, fmt.Errorf("enter raw mode: %w", err)
	}
	defer term.Restore(fd, state)

	screen := term.NewTerminal(struct {
		io.Reader
		io.Writer
	}{a.In, out}, "Continue? (y/n) ")
	fmt.Fprintf(screen, "Safety check: %s\r\n", check.Message)
	line, err := screen.ReadLine()
	if err != nil {
		return false, fmt.Errorf("read acknowledgment: %w", err)
	}
	switch strings.ToLower(strings.TrimSpace(line)) {
	case "y", "yes":
		return true, nil
	}
	return false, nil
}

// SafetyRule flags tool calls that need acknowledgment before they run.
// Empty Tool or Actions match everything; Pattern, when set, must match the
// raw call input.
type SafetyRule struct {
	Tool    string
	Actions []string
	Pattern *regexp.Regexp
	Code    string
	Message string
}

func (r SafetyRule) matches(call models.ToolCall) bool {
	if r.Tool != "" && r.Tool != call.Name {
		return false
	}
	if len(r.Actions) > 0 {
		action := call.Action()
		found := false
		for _, candidate := range r.Actions {
			if candidate == action {
				found = true
				break
			}
		}
		if !found {
			return false
		}
	}
	if r.Pattern != nil && !r.Pattern.Match(call.Input) {
		return false
	}
	return true
}

// SafetyPolicy is an ordered list of rules.
type SafetyPolicy struct {
	Rules []SafetyRule
}

// Checks returns one safety check per matching rule.
func (p *SafetyPolicy) Checks(call models.ToolCall) []models.SafetyCheck {
	if p == nil {
		return nil
	}
	var checks []models.SafetyCheck
	for i, rule := range p.Rules {
		if !rule.matches(call) {
			continue
		}
		message := rule.Message
		if message == "" {
			message = fmt.Sprintf("%s call requires acknowledgment", call.Name)
		}
		checks = append(checks, models.SafetyCheck{
			ID:      fmt.Sprintf("%s-policy-%d", call.ID, i),
			Code:    rule.Code,
			Message: message,
		})
	}
	return checks
}

// SafetyGate requires every pending check on a tool call to be acknowledged.
type SafetyGate struct {
	policy  *SafetyPolicy
	ack     Acknowledger
	metrics *observability.Metrics
	logger  *observability.Logger
}

// NewSafetyGate creates a gate. A nil acknowledger refuses every check.
func NewSafetyGate(policy *SafetyPolicy, ack Acknowledger, metrics *observability.Metrics, logger *observability.Logger) *SafetyGate {
	if logger == nil {
		logger = observability.NopLogger()
	}
	return &SafetyGate{policy: policy, ack: ack, metrics: metrics, logger: logger}
}

// Authorize gathers the call's own checks, policy checks and extra (for
// example from the backend) and asks for each in order. The first refusal
// or acknowledger failure returns a *SafetyAbort.
func (g *SafetyGate) Authorize(ctx context.Context, call models.ToolCall, extra []models.SafetyCheck) error {
	checks := make([]models.SafetyCheck, 0, len(call.SafetyChecks)+len(extra))
	checks = append(checks, call.SafetyChecks...)
	if g != nil {
		checks = append(checks, g.policy.Checks(call)...)
	}
	checks = append(checks, extra...)
	if len(checks) == 0 {
		return nil
	}
	if g == nil || g.ack == nil {
		return &SafetyAbort{Check: checks[0]}
	}

	for _, check := range checks {
		ok, err := g.ack.Acknowledge(ctx, check)
		g.metrics.RecordSafetyCheck(ok && err == nil)
		if err != nil {
			g.logger.Warn(ctx, "safety acknowledgment failed", "check", check.Message, "error", err)
			return &SafetyAbort{Check: check, Cause: err}
		}
		if !ok {
			g.logger.Warn(ctx, "safety check refused", "check", check.Message, "tool", call.Name)
			return &SafetyAbort{Check: check}
		}
		g.logger.Info(ctx, "safety check acknowledged", "check", check.Message, "tool", call.Name)
	}
	return nil
}
