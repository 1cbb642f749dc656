package router

import (
	"errors"
	"fmt"
	"strings"
)

var (
	// ErrNoEligibleBackend means the filter pipeline removed every candidate.
	ErrNoEligibleBackend = errors.New("no eligible backend")

	// ErrAllBackendsUnavailable means every candidate and the offline chain
	// failed. Callers degrade rather than fail the request.
	ErrAllBackendsUnavailable = errors.New("all backends unavailable")

	// ErrOverloaded means admission control refused the request.
	ErrOverloaded = errors.New("router overloaded")
)

// Attempt records one call to one backend.
type Attempt struct {
	Backend  string `json:"backend"`
	Try      int    `json:"try"`
	Offline  bool   `json:"offline_chain,omitempty"`
	Duration int64  `json:"duration_ms"`
	Error    string `json:"error,omitempty"`
}

// UnavailableError carries the attempts made before giving up.
type UnavailableError struct {
	Attempts     []Attempt
	OfflineTried bool
}

func (e *UnavailableError) Error() string {
	var names []string
	seen := make(map[string]bool)
	for _, a := range e.Attempts {
		if !seen[a.Backend] {
			seen[a.Backend] = true
			names = append(names, a.Backend)
		}
	}
	return fmt.Sprintf("%s after %d attempts (%s)", ErrAllBackendsUnavailable, len(e.Attempts), strings.Join(names, ", "))
}

func (e *UnavailableError) Unwrap() error {
	return ErrAllBackendsUnavailable
}
