package tool

import (
	"context"
	"fmt"
	"log/slog"
	"os/exec"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/zen-systems/sentinel/pkg/registry"
)

// State is a step of the execution state machine.
type State string

const (
	StateIdle       State = "idle"
	StateValidating State = "validating"
	StateConfirming State = "confirming"
	StateExecuting  State = "executing"
	StateCompleted  State = "completed"
	StateFailed     State = "failed"
	StateTimedOut   State = "timed_out"
)

// Invocation is a request to run one tool.
type Invocation struct {
	Tool string
	Args map[string]any

	// Source is the backend whose answer proposed the call. Nil means the
	// operator invoked the tool directly.
	Source *registry.Descriptor

	// Mode overrides the tool's declared isolation mode when set.
	Mode Mode

	// Privileged is the caller's privilege grant.
	Privileged bool

	// Confirmed pre-approves tools that require confirmation.
	Confirmed bool

	// RequireConfirmation suspends the call even when the tool itself does
	// not ask for confirmation.
	RequireConfirmation bool

	// OnComplete is called when a background execution finishes.
	OnComplete func(*Result, error)
}

// Result is the outcome of an invocation at the state it stopped in.
type Result struct {
	Tool        string         `json:"tool"`
	Mode        Mode           `json:"mode"`
	State       State          `json:"state"`
	Args        map[string]any `json:"args,omitempty"`
	Command     string         `json:"command,omitempty"`
	Stdout      string         `json:"stdout,omitempty"`
	Stderr      string         `json:"stderr,omitempty"`
	ExitCode    int            `json:"exit_code"`
	Duration    time.Duration  `json:"duration"`
	Interrupted bool           `json:"interrupted,omitempty"`
	Pending     *Pending       `json:"pending,omitempty"`
	Task        *Task          `json:"task,omitempty"`
}

// Succeeded reports whether the tool ran to a zero exit status.
func (r *Result) Succeeded() bool {
	return r != nil && r.State == StateCompleted
}

// Pending is a suspended invocation awaiting confirmation.
type Pending struct {
	ID        string         `json:"id"`
	Tool      string         `json:"tool"`
	Args      map[string]any `json:"args,omitempty"`
	Command   string         `json:"command"`
	Mode      Mode           `json:"mode"`
	ExpiresAt time.Time      `json:"expires_at"`

	job job
}

// Executor validates and runs tool invocations.
type Executor struct {
	registry   *Registry
	logger     *slog.Logger
	pendingTTL time.Duration
	lookPath   func(string) (string, error)
	sandboxDir string
	now        func() time.Time

	mu      sync.Mutex
	pending map[string]*Pending
	tasks   *taskSet
}

// Option configures an Executor.
type Option func(*Executor)

// WithLogger sets the logger.
func WithLogger(logger *slog.Logger) Option {
	return func(e *Executor) {
		if logger != nil {
			e.logger = logger
		}
	}
}

// WithPendingTTL sets how long a confirmation stays open.
func WithPendingTTL(d time.Duration) Option {
	return func(e *Executor) {
		if d > 0 {
			e.pendingTTL = d
		}
	}
}

// WithLookPath replaces the binary lookup used to find the sandbox.
func WithLookPath(fn func(string) (string, error)) Option {
	return func(e *Executor) {
		if fn != nil {
			e.lookPath = fn
		}
	}
}

// WithSandboxDir sets the private tmp directory for sandboxed runs.
func WithSandboxDir(dir string) Option {
	return func(e *Executor) {
		e.sandboxDir = dir
	}
}

// NewExecutor creates an executor over a tool registry.
func NewExecutor(reg *Registry, opts ...Option) *Executor {
	e := &Executor{
		registry:   reg,
		logger:     slog.Default(),
		pendingTTL: 5 * time.Minute,
		lookPath:   exec.LookPath,
		now:        time.Now,
		pending:    make(map[string]*Pending),
		tasks:      newTaskSet(),
	}
	for _, opt := range opts {
		opt(e)
	}
	return e
}

// Registry returns the tool catalogue.
func (e *Executor) Registry() *Registry {
	return e.registry
}

// Execute validates an invocation and runs it. A tool that requires
// confirmation stops in StateConfirming with a Pending continuation and a
// nil error; call Resume to finish it. A background tool returns in
// StateExecuting with a Task handle. Every failure returns the Result at
// the state it stopped in together with the error.
func (e *Executor) Execute(ctx context.Context, inv Invocation) (*Result, error) {
	res := &Result{Tool: inv.Tool, State: StateIdle, Args: inv.Args}

	if inv.Source != nil && !inv.Source.ToolEligible() {
		res.State = StateFailed
		e.logger.Warn("rejected tool call from untrusted backend", "tool", inv.Tool, "backend", inv.Source.ID)
		return res, fmt.Errorf("%w: %s may not source %s", ErrUntrustedToolCall, inv.Source.ID, inv.Tool)
	}

	tool, ok := e.registry.Get(inv.Tool)
	if !ok {
		res.State = StateFailed
		return res, fmt.Errorf("%w: %s", ErrUnknownTool, inv.Tool)
	}

	res.State = StateValidating
	mode := inv.Mode
	if mode == "" {
		mode = tool.Mode
	}
	res.Mode = mode
	if weakens(tool.Mode, mode) {
		res.State = StateFailed
		return res, fmt.Errorf("%w: tool %s is declared %s and cannot run %s", ErrPermissionDenied, tool.ID, tool.Mode, mode)
	}

	args, err := tool.Schema.Validate(inv.Args)
	if err != nil {
		res.State = StateFailed
		return res, fmt.Errorf("tool %s: %w", tool.ID, err)
	}
	res.Args = args

	if mode == ModePrivileged && !tool.RequiresPrivilege {
		res.State = StateFailed
		return res, fmt.Errorf("%w: tool %s does not support privileged execution", ErrPermissionDenied, tool.ID)
	}
	if (tool.RequiresPrivilege || mode == ModePrivileged) && !inv.Privileged {
		res.State = StateFailed
		return res, fmt.Errorf("%w: tool %s requires elevated privileges", ErrPermissionDenied, tool.ID)
	}

	j := job{
		tool:       tool,
		args:       args,
		command:    substitute(tool.Command, args),
		mode:       mode,
		timeout:    time.Duration(tool.TimeoutSeconds) * time.Second,
		onComplete: inv.OnComplete,
	}
	res.Command = j.command

	if (tool.RequiresConfirmation || inv.RequireConfirmation) && !inv.Confirmed {
		p := e.suspend(j)
		res.State = StateConfirming
		res.Pending = p
		e.logger.Info("tool awaiting confirmation", "tool", tool.ID, "pending", p.ID)
		return res, nil
	}

	return e.run(ctx, j)
}

// Resume completes a suspended invocation. Declining fails it without any
// side effect.
func (e *Executor) Resume(ctx context.Context, id string, accept bool) (*Result, error) {
	e.mu.Lock()
	e.pruneLocked()
	p, ok := e.pending[id]
	delete(e.pending, id)
	e.mu.Unlock()

	if !ok {
		return &Result{State: StateFailed}, fmt.Errorf("%w: %s", ErrPendingNotFound, id)
	}
	if !accept {
		res := p.job.result()
		res.State = StateFailed
		e.logger.Info("tool execution declined", "tool", p.Tool, "pending", id)
		return res, fmt.Errorf("%w: %s", ErrConfirmationDeclined, p.Tool)
	}
	return e.run(ctx, p.job)
}

// Pending returns an open confirmation.
func (e *Executor) Pending(id string) (*Pending, bool) {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.pruneLocked()
	p, ok := e.pending[id]
	return p, ok
}

// Task returns a running background task.
func (e *Executor) Task(id string) (*Task, bool) {
	return e.tasks.get(id)
}

func (e *Executor) suspend(j job) *Pending {
	p := &Pending{
		ID:        uuid.NewString(),
		Tool:      j.tool.ID,
		Args:      j.args,
		Command:   j.command,
		Mode:      j.mode,
		ExpiresAt: e.now().Add(e.pendingTTL),
		job:       j,
	}
	e.mu.Lock()
	defer e.mu.Unlock()
	e.pruneLocked()
	e.pending[p.ID] = p
	return p
}

func (e *Executor) pruneLocked() {
	now := e.now()
	for id, p := range e.pending {
		if now.After(p.ExpiresAt) {
			delete(e.pending, id)
		}
	}
}

func (e *Executor) run(ctx context.Context, j job) (*Result, error) {
	e.logger.Debug("executing tool", "tool", j.tool.ID, "mode", j.mode, "command", j.command)
	res, err := e.runnerFor(j.mode).run(ctx, j)
	if err != nil {
		e.logger.Warn("tool execution failed", "tool", j.tool.ID, "mode", j.mode, "state", res.State, "error", err)
	}
	return res, err
}

func (e *Executor) runnerFor(mode Mode) runner {
	switch mode {
	case ModePrivileged:
		return privilegedRunner{logger: e.logger}
	case ModeBackground:
		return backgroundRunner{logger: e.logger, tasks: e.tasks}
	case ModeSandboxed:
		return sandboxRunner{lookPath: e.lookPath, dir: e.sandboxDir}
	default:
		return safeRunner{}
	}
}

// weakens reports whether running a tool under the requested mode drops
// the isolation its declared mode provides. Sandboxed tools only run sandboxed, and
// privileged tools may not fall back to an ordinary process.
func weakens(declared, requested Mode) bool {
	switch declared {
	case ModeSandboxed:
		return requested != ModeSandboxed
	case ModePrivileged:
		return requested == ModeSafe || requested == ModeBackground
	}
	return false
}
