//go:build freebsd

package tracer

import "golang.org/x/sys/unix"

// benignWakeSignal on FreeBSD is SIGSTOP rather than SIGWINCH, matching
// the original implementation this design is carried over from.
const benignWakeSignal = unix.SIGSTOP
