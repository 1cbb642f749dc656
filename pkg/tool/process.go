package tool

import (
	"bytes"
	"context"
	"errors"
	"os/exec"
	"time"
)

// maxOutput bounds the captured stdout and stderr of one process.
const maxOutput = 256 << 10

// killGrace is how long a timed-out process gets between SIGTERM and SIGKILL.
const killGrace = 100 * time.Millisecond

// processResult is the raw outcome of one spawned command.
type processResult struct {
	Stdout      string
	Stderr      string
	ExitCode    int
	Duration    time.Duration
	Interrupted bool
	TimedOut    bool
	StartErr    error
}

type cappedBuffer struct {
	buf       bytes.Buffer
	truncated bool
}

func (b *cappedBuffer) Write(p []byte) (int, error) {
	if room := maxOutput - b.buf.Len(); room < len(p) {
		if room > 0 {
			b.buf.Write(p[:room])
		}
		b.truncated = true
		return len(p), nil
	}
	return b.buf.Write(p)
}

func (b *cappedBuffer) String() string {
	if b.truncated {
		return b.buf.String() + "\n[output truncated]"
	}
	return b.buf.String()
}

// runProcess runs argv in its own process group. When timeout expires or
// ctx ends the group gets SIGTERM, then SIGKILL after killGrace.
func runProcess(ctx context.Context, argv []string, timeout time.Duration) processResult {
	cmd := exec.Command(argv[0], argv[1:]...)
	setProcessGroup(cmd)

	var stdout, stderr cappedBuffer
	cmd.Stdout = &stdout
	cmd.Stderr = &stderr

	start := time.Now()
	if err := cmd.Start(); err != nil {
		return processResult{ExitCode: -1, StartErr: err}
	}

	done := make(chan error, 1)
	go func() { done <- cmd.Wait() }()

	var timer <-chan time.Time
	if timeout > 0 {
		t := time.NewTimer(timeout)
		defer t.Stop()
		timer = t.C
	}

	res := processResult{}
	var err error
	select {
	case err = <-done:
	case <-timer:
		res.TimedOut = true
		err = terminate(cmd, done)
	case <-ctx.Done():
		res.Interrupted = true
		err = terminate(cmd, done)
	}
	res.Duration = time.Since(start)
	res.Stdout = stdout.String()
	res.Stderr = stderr.String()

	if res.TimedOut || res.Interrupted {
		res.Interrupted = true
		res.ExitCode = -1
		return res
	}

	var exitErr *exec.ExitError
	switch {
	case err == nil:
	case errors.As(err, &exitErr):
		res.ExitCode = exitErr.ExitCode()
	default:
		res.ExitCode = -1
		res.StartErr = err
	}
	return res
}

func terminate(cmd *exec.Cmd, done <-chan error) error {
	signalGroup(cmd, false)
	grace := time.NewTimer(killGrace)
	defer grace.Stop()
	select {
	case err := <-done:
		return err
	case <-grace.C:
		signalGroup(cmd, true)
		return <-done
	}
}
