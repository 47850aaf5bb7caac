package agent

import (
	"github.com/google/uuid"

	"github.com/haasonsaas/operator/internal/display"
	"github.com/haasonsaas/operator/internal/observability"
	"github.com/haasonsaas/operator/pkg/models"
)

// State is the controller state of one session.
type State string

const (
	StateInit           State = "init"
	StateRunning        State = "running"
	StateCompleted      State = "completed"
	StateBudgetExceeded State = "budget_exceeded"
	// StateExhausted means the iteration cap ran out without completion. It
	// is terminal but not an error.
	StateExhausted State = "exhausted"
	StateFailed    State = "failed"
)

// RunParams are the immutable parameters of one session.
type RunParams struct {
	// Provider names the model provider for metrics and traces.
	Provider string

	// Model is the provider model id.
	Model string

	// TaskName names the task; it picks the transcript directory.
	TaskName string

	// MaxIterations caps model calls. Default: 10
	MaxIterations int

	// MaxActions caps billable actions. Zero or less means unlimited.
	MaxActions int

	// ImageWindow is how many recent screenshots are sent to the model.
	// Zero sends none and negative disables trimming. DefaultRunParams uses 3.
	ImageWindow int

	// MaxTokens limits each response. Default: 4096
	MaxTokens int

	// ThinkingBudget enables extended thinking when positive.
	ThinkingBudget int

	// CompletionPhrases end the session when seen. Default: DefaultCompletionPhrases
	CompletionPhrases []string

	// CompletionWindow is how many trailing entries are scanned. Default: 3
	CompletionWindow int

	// ContinuePrompt is sent when the model answers without a tool call.
	// Default: "Continue."
	ContinuePrompt string
}

// DefaultRunParams returns the default session parameters.
func DefaultRunParams() RunParams {
	return RunParams{
		MaxIterations:     10,
		MaxActions:        100,
		ImageWindow:       3,
		MaxTokens:         4096,
		CompletionPhrases: DefaultCompletionPhrases,
		CompletionWindow:  DefaultCompletionWindow,
		ContinuePrompt:    "Continue.",
	}
}

func sanitizeRunParams(p RunParams) RunParams {
	defaults := DefaultRunParams()
	if p.MaxIterations <= 0 {
		p.MaxIterations = defaults.MaxIterations
	}
	if p.MaxTokens <= 0 {
		p.MaxTokens = defaults.MaxTokens
	}
	if p.CompletionPhrases == nil {
		p.CompletionPhrases = defaults.CompletionPhrases
	}
	if p.CompletionWindow <= 0 {
		p.CompletionWindow = defaults.CompletionWindow
	}
	if p.ContinuePrompt == "" {
		p.ContinuePrompt = defaults.ContinuePrompt
	}
	return p
}

// Session is the mutable state of one controller run. It is owned by a
// single Run call and never shared.
type Session struct {
	ID         string
	Messages   []models.Message
	History    []string
	Budget     *Budget
	Profile    display.ScalingProfile
	Params     RunParams
	State      State
	Iterations int

	transcript *Transcript
	log        *observability.Logger
}

func newSession(params RunParams, profile display.ScalingProfile, transcript *Transcript) *Session {
	return &Session{
		ID:         uuid.NewString(),
		Budget:     NewBudget(params.MaxActions),
		Profile:    profile,
		Params:     params,
		State:      StateInit,
		transcript: transcript,
		log:        observability.NopLogger(),
	}
}

// record appends a history entry and mirrors it to the transcript.
func (s *Session) record(entry string) {
	s.History = append(s.History, entry)
	s.transcript.Append(entry)
}

func (s *Session) append(msg models.Message) {
	s.Messages = append(s.Messages, msg)
}

// Outcome is the result of a controller run. History is always complete,
// including for failed sessions.
type Outcome struct {
	SessionID  string
	State      State
	Iterations int
	Actions    int
	Limit      int
	History    []string
	Messages   []models.Message
	Transcript string

	err error
}

// Err returns why the session ended abnormally: ErrBudgetExceeded, a
// *LoopError, or nil for Completed and Exhausted.
func (o *Outcome) Err() error {
	if o == nil {
		return nil
	}
	return o.err
}

func (s *Session) outcome(err error) *Outcome {
	return &Outcome{
		SessionID:  s.ID,
		State:      s.State,
		Iterations: s.Iterations,
		Actions:    s.Budget.Count(),
		Limit:      s.Budget.Limit(),
		History:    s.History,
		Messages:   s.Messages,
		Transcript: s.transcript.Path(),
		err:        err,
	}
}
