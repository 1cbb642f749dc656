package tool

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"time"

	"github.com/google/uuid"
)

// job is a validated, confirmed invocation ready to spawn.
type job struct {
	tool       *Descriptor
	args       map[string]any
	command    string
	mode       Mode
	timeout    time.Duration
	onComplete func(*Result, error)
}

func (j job) result() *Result {
	return &Result{Tool: j.tool.ID, Mode: j.mode, Args: j.args, Command: j.command}
}

type runner interface {
	run(ctx context.Context, j job) (*Result, error)
}

// finish maps a process outcome onto a terminal state.
func finish(res *Result, pr processResult) (*Result, error) {
	res.Stdout = pr.Stdout
	res.Stderr = pr.Stderr
	res.ExitCode = pr.ExitCode
	res.Duration = pr.Duration
	res.Interrupted = pr.Interrupted

	switch {
	case pr.StartErr != nil:
		res.State = StateFailed
		return res, &ProcessError{Tool: res.Tool, ExitCode: pr.ExitCode, Err: pr.StartErr}
	case pr.TimedOut:
		res.State = StateTimedOut
		return res, fmt.Errorf("%w: %s after %s", ErrExecutionTimeout, res.Tool, pr.Duration.Round(time.Millisecond))
	case pr.Interrupted:
		res.State = StateFailed
		return res, &ProcessError{Tool: res.Tool, ExitCode: pr.ExitCode, Stderr: pr.Stderr, Err: context.Canceled}
	case pr.ExitCode != 0:
		res.State = StateFailed
		return res, &ProcessError{Tool: res.Tool, ExitCode: pr.ExitCode, Stderr: pr.Stderr}
	}
	res.State = StateCompleted
	return res, nil
}

// safeRunner executes the escaped command through sh.
type safeRunner struct{}

func (safeRunner) run(ctx context.Context, j job) (*Result, error) {
	return finish(j.result(), runProcess(ctx, []string{"sh", "-c", j.command}, j.timeout))
}

// privilegedRunner executes a tool whose privilege grant was checked
// before spawn. It runs with the caller's own credentials.
type privilegedRunner struct {
	logger *slog.Logger
}

func (r privilegedRunner) run(ctx context.Context, j job) (*Result, error) {
	r.logger.Warn("executing privileged tool", "tool", j.tool.ID, "command", j.command, "euid", os.Geteuid())
	return finish(j.result(), runProcess(ctx, []string{"sh", "-c", j.command}, j.timeout))
}

// sandboxRunner executes under firejail with a private filesystem view and
// no network. It fails closed when firejail is missing.
type sandboxRunner struct {
	lookPath func(string) (string, error)
	dir      string
}

func (r sandboxRunner) run(ctx context.Context, j job) (*Result, error) {
	res := j.result()
	firejail, err := r.lookPath("firejail")
	if err != nil {
		res.State = StateFailed
		return res, fmt.Errorf("%w: firejail not found: %v", ErrSandboxUnavailable, err)
	}

	dir := r.dir
	if dir == "" {
		dir, err = os.MkdirTemp("", "sentinel-sandbox-")
		if err != nil {
			res.State = StateFailed
			return res, fmt.Errorf("%w: %v", ErrSandboxUnavailable, err)
		}
		defer os.RemoveAll(dir)
	}

	argv := []string{firejail, "--quiet", "--private", "--private-tmp=" + dir, "--net=none", "sh", "-c", j.command}
	return finish(res, runProcess(ctx, argv, j.timeout))
}

// backgroundRunner starts the command detached from the request and
// returns a task handle at once.
type backgroundRunner struct {
	logger *slog.Logger
	tasks  *taskSet
}

func (r backgroundRunner) run(ctx context.Context, j job) (*Result, error) {
	task := &Task{
		ID:      uuid.NewString(),
		Tool:    j.tool.ID,
		Started: time.Now().UTC(),
		done:    make(chan struct{}),
	}
	r.tasks.add(task)

	detached := context.WithoutCancel(ctx)
	go func() {
		res, err := finish(j.result(), runProcess(detached, []string{"sh", "-c", j.command}, j.timeout))
		task.complete(res, err)
		r.tasks.remove(task.ID)
		if err != nil {
			r.logger.Warn("background tool failed", "tool", j.tool.ID, "task", task.ID, "error", err)
		} else {
			r.logger.Info("background tool completed", "tool", j.tool.ID, "task", task.ID, "duration", res.Duration)
		}
		if j.onComplete != nil {
			j.onComplete(res, err)
		}
	}()

	res := j.result()
	res.State = StateExecuting
	res.Task = task
	return res, nil
}

