// Package reward turns operator feedback or an auto-evaluation policy into
// the scalar attached to a trace record.
package reward

import (
	"bufio"
	"context"
	"errors"
	"fmt"
	"io"
	"strings"
	"time"
)

// Feedback is an interactive operator signal.
type Feedback int

const (
	// NoFeedback means none was given; the auto policy applies.
	NoFeedback Feedback = iota
	Positive
	Negative
	// Skip declines to rate and leaves the reward untouched.
	Skip
)

func (f Feedback) String() string {
	switch f {
	case Positive:
		return "positive"
	case Negative:
		return "negative"
	case Skip:
		return "skip"
	default:
		return "none"
	}
}

// ErrInvalidFeedback reports an unrecognised feedback token.
var ErrInvalidFeedback = errors.New("invalid feedback")

// ParseFeedback maps y/yes, n/no and s/skip. An empty token is NoFeedback.
func ParseFeedback(s string) (Feedback, error) {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "":
		return NoFeedback, nil
	case "y", "yes":
		return Positive, nil
	case "n", "no":
		return Negative, nil
	case "s", "skip":
		return Skip, nil
	default:
		return NoFeedback, fmt.Errorf("%w: %q (want y, n or s)", ErrInvalidFeedback, s)
	}
}

// Value returns the scalar for interactive feedback. ok is false for Skip
// and NoFeedback.
func (f Feedback) Value() (float64, bool) {
	switch f {
	case Positive:
		return 1.0, true
	case Negative:
		return -1.0, true
	default:
		return 0, false
	}
}

// AwaitFeedback reads one line from r, giving up after window. Timeouts,
// EOF and unrecognised input all yield NoFeedback. Pass the same
// *bufio.Reader used for earlier prompts so buffered input is not lost.
func AwaitFeedback(ctx context.Context, r io.Reader, window time.Duration) Feedback {
	lines := make(chan string, 1)
	go func() {
		line, err := bufio.NewReader(r).ReadString('\n')
		if err != nil && line == "" {
			close(lines)
			return
		}
		lines <- line
	}()

	timer := time.NewTimer(window)
	defer timer.Stop()

	select {
	case <-ctx.Done():
		return NoFeedback
	case <-timer.C:
		return NoFeedback
	case line, ok := <-lines:
		if !ok {
			return NoFeedback
		}
		fb, err := ParseFeedback(line)
		if err != nil {
			return NoFeedback
		}
		return fb
	}
}
