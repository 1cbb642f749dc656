package trace

import (
	"fmt"
	"os"
)

// fileLock is an advisory lock on a sidecar file. It serializes writers in
// different processes; the ledger itself cannot carry the lock because
// UpdateReward replaces its inode.
type fileLock struct {
	f *os.File
}

func acquire(path string) (*fileLock, error) {
	f, err := os.OpenFile(path, os.O_CREATE|os.O_RDWR, 0o644)
	if err != nil {
		return nil, fmt.Errorf("open lock: %w", err)
	}
	if err := lockFile(f); err != nil {
		f.Close()
		return nil, fmt.Errorf("lock %s: %w", path, err)
	}
	return &fileLock{f: f}, nil
}

func (l *fileLock) release() {
	unlockFile(l.f)
	l.f.Close()
}
