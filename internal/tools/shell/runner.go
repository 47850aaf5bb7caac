package shell

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"os/exec"
	"strconv"
	"strings"
	"sync"
	"syscall"
	"time"

	"github.com/google/uuid"
)

const (
	// DefaultTimeout bounds a single command.
	DefaultTimeout = 120 * time.Second

	// DefaultGracePeriod is how long an interrupted command may take to exit
	// before its process group is killed.
	DefaultGracePeriod = 3 * time.Second

	// MaxOutput is the per-stream byte limit before output is clipped.
	MaxOutput = 16000
)

const (
	// drainDelay bounds how long output is collected after the shell exits;
	// background children may hold the pipes open indefinitely.
	drainDelay = 100 * time.Millisecond

	// tailKeep is the trailing window kept past the clip limit so the end
	// marker is still found in long output.
	tailKeep = 256

	readChunk = 4096
)

// TruncatedMessage is appended to clipped output.
const TruncatedMessage = "<response clipped><NOTE>To save on context only part of this file has been shown to you. You should retry this tool after you have searched inside the file with `grep -n` in order to find the line numbers of what you are looking for.</NOTE>"

// TimeoutError reports a command that did not finish in time. The session
// continues; the model sees the message.
type TimeoutError struct {
	Command string
	Timeout time.Duration
}

func (e *TimeoutError) Error() string {
	return fmt.Sprintf("Command '%s' timed out after %s seconds", e.Command, formatSeconds(e.Timeout))
}

func formatSeconds(d time.Duration) string {
	s := d.Seconds()
	if s == float64(int64(s)) {
		return fmt.Sprintf("%d", int64(s))
	}
	return fmt.Sprintf("%g", s)
}

// Result is the outcome of one command.
type Result struct {
	Command  string        `json:"command"`
	Dir      string        `json:"dir,omitempty"`
	Stdout   string        `json:"stdout"`
	Stderr   string        `json:"stderr"`
	ExitCode int           `json:"exit_code"`
	Duration time.Duration `json:"duration"`
}

// Runner keeps one /bin/sh alive across commands, so the working directory,
// exported variables and background jobs carry over between calls. The shell
// runs in its own process group and is started lazily. A Runner is safe for
// sequential use from multiple goroutines.
type Runner struct {
	Dir         string
	Env         map[string]string
	Timeout     time.Duration
	GracePeriod time.Duration
	MaxOutput   int

	mu   sync.Mutex
	proc *process
}

// Run executes command in the session shell. The command is complete when the
// shell reaches the end marker written after it, not when every process holding
// its output exits, so `cmd &` returns at once and the job keeps running.
//
// Exceeding the timeout interrupts the whole process group, waits the grace
// period, then kills it; a *TimeoutError is returned only after every process in
// the group is gone. The next call starts a fresh shell.
func (r *Runner) Run(ctx context.Context, command string) (Result, error) {
	if strings.TrimSpace(command) == "" {
		return Result{}, errors.New("command is required")
	}
	timeout := r.Timeout
	if timeout <= 0 {
		timeout = DefaultTimeout
	}

	r.mu.Lock()
	defer r.mu.Unlock()

	if err := ctx.Err(); err != nil {
		return Result{}, err
	}
	p, err := r.ensure()
	if err != nil {
		return Result{}, err
	}
	p.stdout.reset()
	p.stderr.reset()

	start := time.Now()
	if _, err := io.WriteString(p.stdin, p.script(command)); err != nil {
		r.discard(p)
		return Result{}, fmt.Errorf("write command: %w", err)
	}

	timer := time.NewTimer(timeout)
	defer timer.Stop()

	for {
		if result, ok := p.collect(r.limit()); ok {
			result.Command = command
			result.Dir = r.Dir
			result.Duration = time.Since(start)
			return result, nil
		}
		select {
		case <-p.stdout.wake:
		case <-p.stderr.wake:
		case <-p.exited:
			// exit, a syntax error or a signal ended the shell itself
			p.drain(drainDelay)
			r.discard(p)
			return Result{
				Command:  command,
				Dir:      r.Dir,
				Stdout:   p.stdout.text(r.limit()),
				Stderr:   p.stderr.text(r.limit()),
				ExitCode: exitCode(p.waitErr),
				Duration: time.Since(start),
			}, nil
		case <-timer.C:
			r.stop(p)
			return Result{}, &TimeoutError{Command: command, Timeout: timeout}
		case <-ctx.Done():
			r.stop(p)
			return Result{}, ctx.Err()
		}
	}
}

// Restart replaces the session shell. Variables and the working directory
// return to their initial values.
func (r *Runner) Restart() error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.proc == nil {
		return nil
	}
	p := r.proc
	r.proc = nil
	return r.closeProcess(p)
}

// Close ends the session shell. Background jobs it started are left running.
func (r *Runner) Close() error {
	return r.Restart()
}

func (r *Runner) limit() int {
	if r.MaxOutput <= 0 {
		return MaxOutput
	}
	return r.MaxOutput
}

func (r *Runner) grace() time.Duration {
	if r.GracePeriod <= 0 {
		return DefaultGracePeriod
	}
	return r.GracePeriod
}

func (r *Runner) ensure() (*process, error) {
	if r.proc != nil {
		select {
		case <-r.proc.exited:
			r.discard(r.proc)
		default:
			return r.proc, nil
		}
	}
	p, err := startProcess(r.Dir, r.Env, r.limit())
	if err != nil {
		return nil, err
	}
	r.proc = p
	return p, nil
}

// stop interrupts the process group, waits the grace period, then kills the
// group so no child outlives the call.
func (r *Runner) stop(p *process) {
	pid := p.cmd.Process.Pid
	_ = syscall.Kill(-pid, syscall.SIGINT)
	select {
	case <-p.exited:
	case <-time.After(r.grace()):
	}
	_ = syscall.Kill(-pid, syscall.SIGKILL)
	<-p.exited
	r.discard(p)
}

// closeProcess lets an idle shell exit at end of input, killing only the
// shell itself if it does not.
func (r *Runner) closeProcess(p *process) error {
	_ = p.stdin.Close()
	select {
	case <-p.exited:
		return nil
	case <-time.After(r.grace()):
	}
	if err := p.cmd.Process.Kill(); err != nil && !errors.Is(err, os.ErrProcessDone) {
		return fmt.Errorf("kill shell: %w", err)
	}
	<-p.exited
	return nil
}

func (r *Runner) discard(p *process) {
	_ = p.stdin.Close()
	if r.proc == p {
		r.proc = nil
	}
}

type process struct {
	cmd     *exec.Cmd
	stdin   *os.File
	stdout  *collector
	stderr  *collector
	marker  string
	exited  chan struct{}
	waitErr error
}

func startProcess(dir string, env map[string]string, limit int) (*process, error) {
	inR, inW, err := os.Pipe()
	if err != nil {
		return nil, fmt.Errorf("stdin pipe: %w", err)
	}
	outR, outW, err := os.Pipe()
	if err != nil {
		closeAll(inR, inW)
		return nil, fmt.Errorf("stdout pipe: %w", err)
	}
	errR, errW, err := os.Pipe()
	if err != nil {
		closeAll(inR, inW, outR, outW)
		return nil, fmt.Errorf("stderr pipe: %w", err)
	}

	cmd := exec.Command("/bin/sh")
	cmd.Dir = dir
	cmd.Stdin = inR
	cmd.Stdout = outW
	cmd.Stderr = errW
	cmd.SysProcAttr = &syscall.SysProcAttr{Setpgid: true}
	if len(env) > 0 {
		merged := os.Environ()
		for k, v := range env {
			merged = append(merged, k+"="+v)
		}
		cmd.Env = merged
	}
	if err := cmd.Start(); err != nil {
		closeAll(inR, inW, outR, outW, errR, errW)
		return nil, fmt.Errorf("start shell: %w", err)
	}
	// The shell and its children hold the only remaining write ends.
	closeAll(inR, outW, errW)

	p := &process{
		cmd:    cmd,
		stdin:  inW,
		stdout: newCollector(limit),
		stderr: newCollector(limit),
		marker: "__operator_done_" + strings.ReplaceAll(uuid.NewString(), "-", ""),
		exited: make(chan struct{}),
	}
	go p.stdout.readFrom(outR)
	go p.stderr.readFrom(errR)
	go func() {
		p.waitErr = cmd.Wait()
		close(p.exited)
	}()
	return p, nil
}

// script appends the end markers after command. The exit status rides on the
// stdout marker line.
func (p *process) script(command string) string {
	return fmt.Sprintf("%s\n__operator_rc=$?; printf '\\n%s %%d\\n' \"$__operator_rc\"; printf '\\n%s\\n' >&2\n",
		command, p.marker, p.marker)
}

func (p *process) collect(limit int) (Result, bool) {
	stdout, status, ok := p.stdout.until(p.marker, limit)
	if !ok {
		return Result{}, false
	}
	stderr, _, ok := p.stderr.until(p.marker, limit)
	if !ok {
		return Result{}, false
	}
	code, err := strconv.Atoi(strings.TrimSpace(status))
	if err != nil {
		code = -1
	}
	return Result{Stdout: stdout, Stderr: stderr, ExitCode: code}, true
}

// drain waits for both streams to reach EOF, at most d.
func (p *process) drain(d time.Duration) {
	deadline := time.NewTimer(d)
	defer deadline.Stop()
	for !p.stdout.closed() || !p.stderr.closed() {
		select {
		case <-p.stdout.wake:
		case <-p.stderr.wake:
		case <-deadline.C:
			return
		}
	}
}

// collector accumulates one output stream. Past the clip limit only a short
// tail is kept.
type collector struct {
	mu      sync.Mutex
	buf     []byte
	limit   int
	dropped bool
	eof     bool
	wake    chan struct{}
}

func newCollector(limit int) *collector {
	return &collector{limit: limit, wake: make(chan struct{}, 1)}
}

func (c *collector) readFrom(f *os.File) {
	defer f.Close()
	chunk := make([]byte, readChunk)
	for {
		n, err := f.Read(chunk)
		if n > 0 {
			c.append(chunk[:n])
		}
		if err != nil {
			c.mu.Lock()
			c.eof = true
			c.mu.Unlock()
			c.notify()
			return
		}
	}
}

func (c *collector) append(p []byte) {
	c.mu.Lock()
	c.buf = append(c.buf, p...)
	if len(c.buf) > c.limit+tailKeep {
		c.compact()
	}
	c.mu.Unlock()
	c.notify()
}

// compact keeps the first limit bytes and the last tailKeep bytes.
func (c *collector) compact() {
	tail := append([]byte(nil), c.buf[len(c.buf)-tailKeep:]...)
	c.buf = append(c.buf[:c.limit], tail...)
	c.dropped = true
}

func (c *collector) notify() {
	select {
	case c.wake <- struct{}{}:
	default:
	}
}

func (c *collector) reset() {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.buf = c.buf[:0]
	c.dropped = false
}

func (c *collector) closed() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.eof
}

// until returns the output before marker and the rest of the marker line once
// the whole line has arrived.
func (c *collector) until(marker string, limit int) (string, string, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()
	idx := bytes.Index(c.buf, []byte(marker))
	if idx < 0 {
		return "", "", false
	}
	rest := c.buf[idx+len(marker):]
	end := bytes.IndexByte(rest, '\n')
	if end < 0 {
		return "", "", false
	}
	out := bytes.TrimSuffix(c.buf[:idx], []byte("\n"))
	return clip(out, limit, c.dropped), string(rest[:end]), true
}

func (c *collector) text(limit int) string {
	c.mu.Lock()
	defer c.mu.Unlock()
	return clip(c.buf, limit, c.dropped)
}

func clip(out []byte, limit int, dropped bool) string {
	if !dropped && len(out) <= limit {
		return string(out)
	}
	if len(out) > limit {
		out = out[:limit]
	}
	return strings.ToValidUTF8(string(out), "") + TruncatedMessage
}

func closeAll(files ...*os.File) {
	for _, f := range files {
		_ = f.Close()
	}
}

func exitCode(err error) int {
	if err == nil {
		return 0
	}
	var exitErr *exec.ExitError
	if errors.As(err, &exitErr) {
		return exitErr.ExitCode()
	}
	return -1
}
