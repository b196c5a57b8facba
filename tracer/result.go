package tracer

import (
	"time"

	"github.com/dmoj-sandbox/cptrace/debugger"
)

// ResultSnapshot is the immutable view of a tracee's outcome, available
// once Supervisor.Wait returns. Every field is stable the instant it's
// handed to the caller: the monitor goroutine that wrote it has already
// exited.
type ResultSnapshot struct {
	// ReturnCode is the child's exit code, or the negative signal number
	// if it died by signal (including a watchdog/policy kill).
	ReturnCode int

	// WasInitialized is true once the child executed at least one
	// instruction past its final execve.
	WasInitialized bool

	ExecutionTime time.Duration // CPU time (user + sys)
	WallClockTime time.Duration
	MaxMemory     int64 // peak RSS, KiB

	IsTLE bool // time limit exceeded (CPU or wall)
	IsMLE bool // memory limit exceeded
	IsOLE bool // output limit exceeded
	// IsRTE is a runtime error: a negative ReturnCode or a recorded
	// ProtectionFault. A tracee whose exit was never observed (wait4
	// failed) keeps ReturnCode 0 and is not flagged.
	IsRTE bool
	IsIR  bool // invalid return: positive ReturnCode

	// ProtectionFault is non-nil iff the policy denied a syscall, or a
	// ptrace register read failed outright.
	ProtectionFault *debugger.Fault
}
