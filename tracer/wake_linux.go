//go:build linux

package tracer

import "golang.org/x/sys/unix"

// benignWakeSignal is the signal the watchdog sends to rouse a tracee
// stuck in userspace so the monitor re-enters the kernel and its time
// counters get refreshed. The monitor loop swallows it rather than
// re-injecting it into the tracee.
const benignWakeSignal = unix.SIGWINCH
