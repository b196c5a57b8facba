package tracer

import (
	"errors"
	"syscall"
	"time"

	"github.com/sirupsen/logrus"
	"golang.org/x/sys/unix"

	"github.com/dmoj-sandbox/cptrace/debugger"
)

// monitorLoop is the sole owner of the tracee's ptrace session: it is the
// only goroutine that ever calls unix.Wait4, reads/writes registers, or
// issues PtraceCont/PtraceSyscall for this pid. It runs until the tracee
// exits or dies by signal, then publishes the final counters and unblocks
// Wait, which derives the snapshot from them.
func (s *Supervisor) monitorLoop() {
	defer s.finish()

	dbg := debugger.New(s.pid)
	legacyMode := s.table == nil || s.cfg.AvoidSeccomp
	atSyscallEntry := false

	for {
		var ws unix.WaitStatus
		var ru unix.Rusage
		_, err := unix.Wait4(s.pid, &ws, 0, &ru)
		if err != nil {
			if err == unix.EINTR {
				continue
			}
			logrus.WithError(err).WithField("pid", s.pid).Warn("tracer: wait4 failed, treating tracee as dead")
			return
		}

		switch {
		case ws.Exited():
			code := ws.ExitStatus()
			if s.table == nil {
				// Without tracing there was no initial stop at which the
				// spawn sequence could report a failed setup step, so the
				// reserved exit-code range is mapped here instead. A
				// target program choosing these codes for itself is
				// outside the contract.
				if code >= exitNoNewPrivs && code <= exitExecve {
					s.spawnErr = spawnErrorFromExitCode(code)
				}
			}
			s.mu.Lock()
			s.returnCode = code
			s.mu.Unlock()
			s.publishRusage(&ru)
			return

		case ws.Signaled():
			s.mu.Lock()
			s.returnCode = -int(ws.Signal())
			s.mu.Unlock()
			s.publishRusage(&ru)
			return

		case ws.Stopped():
			s.handleStop(ws, dbg, legacyMode, &atSyscallEntry)

		default:
			logrus.WithField("pid", s.pid).Warn("tracer: unrecognized wait status, treating tracee as dead")
			return
		}
	}
}

// handleStop classifies one ptrace-stop and either renders a policy
// verdict, swallows/reinjects the stopping signal, or records a
// watchdog-relevant event, then re-arms the tracee with continueTracee.
func (s *Supervisor) handleStop(ws unix.WaitStatus, dbg *debugger.Debugger, legacyMode bool, atSyscallEntry *bool) {
	sig := ws.StopSignal()

	switch {
	case !legacyMode && sig == unix.SIGTRAP && ws.TrapCause() == unix.PTRACE_EVENT_SECCOMP:
		s.handleSyscallStop(dbg)
		return

	case legacyMode && sig == (unix.SIGTRAP|0x80):
		*atSyscallEntry = !*atSyscallEntry
		if *atSyscallEntry {
			s.handleSyscallStop(dbg)
		} else {
			s.refreshCounters()
			s.continueTracee(0)
		}
		return

	case sig == unix.SIGXCPU:
		// The kernel's RLIMIT_CPU signal, raised at the cap buildRlimits
		// sets five seconds above the watchdog's deadline: the verdict is
		// TLE and the tracee is killed now.
		s.mu.Lock()
		s.isTLE = true
		s.mu.Unlock()
		_ = s.Kill()
		s.continueTracee(0)
		return

	case sig == benignWakeSignal:
		// The watchdog's keep-alive poke: swallow it so it never reaches
		// the tracee, and take the opportunity to refresh the counters it
		// was sent to unstick.
		s.refreshCounters()
		s.continueTracee(0)
		return

	default:
		// Any other signal-delivery stop (SIGSEGV, SIGFPE, a contestant's
		// own SIGALRM, ...): let it through unmodified so the tracee's own
		// handler, or lack of one, decides its fate.
		s.continueTracee(int(sig))
		return
	}
}

// handleSyscallStop renders the policy verdict for a syscall-entry stop
// (either a seccomp-trace trap or the entry half of a legacy
// PTRACE_SYSCALL toggle) and kills the tracee on denial.
func (s *Supervisor) handleSyscallStop(dbg *debugger.Debugger) {
	if err := dbg.Refresh(); err != nil {
		s.recordPtraceFailure(err)
		return
	}

	allowed := true
	if s.table != nil {
		allowed = s.table.OnSyscall(dbg.ABI(), dbg.Syscall(), dbg)
	}

	if !allowed {
		fault := debugger.NewEntryFault(dbg)
		s.mu.Lock()
		s.fault = &fault
		s.mu.Unlock()
		// Kill rather than deny-with-errno: a submission that probes for
		// which syscalls are blocked by checking errno is itself a policy
		// bypass risk. A denied syscall always ends the run.
		_ = s.Kill()
		s.continueTracee(0)
		return
	}

	s.refreshCounters()
	s.continueTracee(0)
}

// recordPtraceFailure handles the case where the tracee's registers could
// not be read at all: an unrecoverable condition (the thread may already
// be gone, or ptrace access was revoked mid-session) that forces a kill
// rather than a best-effort continue.
func (s *Supervisor) recordPtraceFailure(err error) {
	errno := -1
	var e syscall.Errno
	if errors.As(err, &e) {
		errno = int(e)
	}
	fault := debugger.ProtectionFaultPtraceFail(errno)
	s.mu.Lock()
	s.fault = &fault
	s.mu.Unlock()
	_ = s.Kill()
}

// continueTracee resumes the tracee, delivering sig (0 for none) back to
// it. In legacy mode every syscall boundary must be observed, so
// PtraceSyscall re-arms the per-instruction trap; otherwise PtraceCont
// lets seccomp's fast path run until the next denied/traced syscall.
func (s *Supervisor) continueTracee(sig int) {
	var err error
	if s.table == nil || s.cfg.AvoidSeccomp {
		err = unix.PtraceSyscall(s.pid, sig)
	} else {
		err = unix.PtraceCont(s.pid, sig)
	}
	if err != nil {
		logrus.WithError(err).WithField("pid", s.pid).Debug("tracer: ptrace resume failed")
	}
}

// publishRusage stores the final counters from the terminal wait4: once
// the child has been reaped its procfs entry is gone, so the kernel's
// own accounting is both the last and the most precise word.
func (s *Supervisor) publishRusage(ru *unix.Rusage) {
	cpu := time.Duration(ru.Utime.Nano() + ru.Stime.Nano())
	rss := ru.Maxrss // KiB on Linux

	s.mu.Lock()
	if cpu > s.executionTime {
		s.executionTime = cpu
	}
	if rss > s.maxMemory {
		s.maxMemory = rss
	}
	s.mu.Unlock()
}

// refreshCounters polls procfs for the tracee's live CPU time and peak
// RSS. Called at every syscall stop (cheap relative to the ptrace round
// trip already paid); the terminal values come from wait4's rusage
// instead, since the procfs entry disappears at reap time.
func (s *Supervisor) refreshCounters() {
	if cpu, err := readProcCPUTime(s.pid); err == nil {
		s.mu.Lock()
		s.executionTime = cpu
		s.mu.Unlock()
	}
	if rss, err := readProcPeakRSS(s.pid); err == nil {
		s.mu.Lock()
		if rss > s.maxMemory {
			s.maxMemory = rss
		}
		s.mu.Unlock()
	}
}

// finish runs once, after the tracee has died: it freezes the wall
// clock, stops the watchdog (a no-op if none was started) and publishes
// the one-shot death event.
func (s *Supervisor) finish() {
	s.mu.Lock()
	s.wallClock = time.Since(s.startedAt)
	s.mu.Unlock()
	if s.wd != nil {
		s.wd.Stop()
	}
	close(s.died)
}

// snapshot derives the final, immutable ResultSnapshot from the counters
// the monitor published. Only called after died is closed, so no lock is
// strictly required, but Wait may race a concurrent MarkOLE from the
// caller's own stdio-watching goroutine.
func (s *Supervisor) snapshot() *ResultSnapshot {
	s.mu.Lock()
	defer s.mu.Unlock()

	isMLE := s.cfg.Limits.Memory > 0 && s.maxMemory > s.cfg.Limits.Memory
	isRTE := s.returnCode < 0 || s.fault != nil
	isIR := !isRTE && s.returnCode > 0

	return &ResultSnapshot{
		ReturnCode:      s.returnCode,
		WasInitialized:  s.wasInitialized,
		ExecutionTime:   s.executionTime,
		WallClockTime:   s.wallClock,
		MaxMemory:       s.maxMemory,
		IsTLE:           s.isTLE,
		IsMLE:           isMLE,
		IsOLE:           s.isOLE,
		IsRTE:           isRTE,
		IsIR:            isIR,
		ProtectionFault: s.fault,
	}
}
