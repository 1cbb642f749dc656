//go:build !unix && !windows

package trace

import "os"

// Platforms without advisory locks fall back to the in-process mutex.
func lockFile(*os.File) error { return nil }

func unlockFile(*os.File) {}
