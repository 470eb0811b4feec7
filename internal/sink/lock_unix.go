//go:build unix

package sink

import (
	"os"

	"golang.org/x/sys/unix"
)

func lockFile(f *os.File) error {
	return unix.Flock(int(f.Fd()), unix.LOCK_EX)
}

func unlockFile(f *os.File) {
	// Best effort; the lock dies with the descriptor anyway.
	_ = unix.Flock(int(f.Fd()), unix.LOCK_UN)
}
