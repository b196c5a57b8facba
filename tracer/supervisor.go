package tracer

import (
	"encoding/json"
	"os"
	"os/exec"
	"runtime"
	"sync"
	"syscall"
	"time"

	"github.com/pkg/errors"
	"github.com/sirupsen/logrus"
	"golang.org/x/sys/unix"

	"github.com/dmoj-sandbox/cptrace/debugger"
	"github.com/dmoj-sandbox/cptrace/policy"
	"github.com/dmoj-sandbox/cptrace/watchdog"
)

// Supervisor owns one traced child for its entire lifetime: the spawn
// sequence, the monitor loop that consumes its ptrace stops, and the
// watchdog that enforces time limits concurrently with both. Exactly
// three goroutines ever touch a Supervisor's state: the caller (blocked
// in Wait), the monitor (the sole reader/writer of the tracee's registers
// and memory, and the sole writer of the counters below), and the
// watchdog (a read-only observer of the counters that may issue at most
// one kill).
type Supervisor struct {
	cfg   Config
	table *policy.Table // nil when cfg.Security == nil: tracing is off

	pid  int
	pgid int

	spawnedOrErrored chan struct{}
	died             chan struct{}

	spawnErr error

	startedAt time.Time

	mu             sync.Mutex
	returnCode     int
	wasInitialized bool
	executionTime  time.Duration
	wallClock      time.Duration
	maxMemory      int64
	isTLE          bool
	isOLE          bool
	fault          *debugger.Fault

	wd *watchdog.Watchdog
}

// New constructs a Supervisor and blocks until the spawn attempt has
// concluded: by the time New returns, spawned_or_errored has been set,
// and any error the spawn sequence produced is both stored and returned
// (so a stored spawn failure is re-raised on the caller's own goroutine,
// not lost inside the monitor). On success the monitor and, if
// configured, the watchdog are already running in the background;
// callers get the final outcome from Wait.
func New(cfg Config) (*Supervisor, error) {
	s := &Supervisor{
		cfg:              cfg,
		spawnedOrErrored: make(chan struct{}),
		died:             make(chan struct{}),
	}
	if cfg.Security != nil {
		s.table = policy.New(cfg.Security)
	}

	go s.run()
	<-s.spawnedOrErrored
	return s, s.spawnErr
}

// run is the monitor goroutine. It performs the spawn itself, rather
// than the caller: every ptrace request against the tracee must come
// from the OS thread that became its tracer at fork time, so the thread
// is locked first and both the spawn's ptrace calls and the whole
// monitor loop stay on it.
func (s *Supervisor) run() {
	runtime.LockOSThread()
	defer runtime.UnlockOSThread()

	if err := s.spawn(); err != nil {
		// A spawn can fail with the helper already running (wait4 or
		// setoptions error); don't leak it.
		_ = s.Kill()
		s.spawnErr = err
		close(s.spawnedOrErrored)
		close(s.died)
		return
	}
	s.startedAt = time.Now()
	close(s.spawnedOrErrored)

	if s.cfg.Limits.CPUTime > 0 {
		s.wd = watchdog.New(s, s.cfg.Limits.CPUTime, s.cfg.Limits.WallTime, s.wake)
		go s.wd.Run()
	}

	s.monitorLoop()
}

// Wait blocks until the tracee has died and returns its final result.
// Safe to call from any goroutine; safe to call more than once.
func (s *Supervisor) Wait() (*ResultSnapshot, error) {
	<-s.died
	if s.spawnErr != nil {
		return nil, s.spawnErr
	}
	return s.snapshot(), nil
}

// Died exposes the one-shot death event, e.g. for a caller that wants to
// select on it alongside other signals instead of blocking in Wait.
func (s *Supervisor) Died() <-chan struct{} { return s.died }

// Kill signals the tracee's entire process group with SIGKILL. Safe to
// call from any thread at any time, including before spawn completes or
// after the tracee has already died. This can race with the tracee's
// natural exit under pid reuse (the process group id could in principle
// have been recycled to an unrelated process by the time the signal is
// delivered); an accepted, documented limitation, not something this
// package tries to fix.
func (s *Supervisor) Kill() error {
	if s.pgid == 0 {
		return nil
	}
	return unix.Kill(-s.pgid, unix.SIGKILL)
}

// MarkOLE records that the caller's own stdout/stderr plumbing detected
// an output-limit violation. Streaming and bounding the tracee's output
// is explicitly the caller's responsibility (outside this package's
// scope); this is the hook that lets that caller's verdict show up in
// ResultSnapshot.IsOLE.
func (s *Supervisor) MarkOLE() {
	s.mu.Lock()
	s.isOLE = true
	s.mu.Unlock()
}

// --- watchdog.Counters ---

// Elapsed returns the CPU time the monitor has most recently published
// and the wall-clock time computed live from the spawn timestamp.
// Staleness of up to one watchdog wake interval is tolerable by design.
func (s *Supervisor) Elapsed() (cpu, wall time.Duration) {
	s.mu.Lock()
	cpu = s.executionTime
	s.mu.Unlock()
	return cpu, time.Since(s.startedAt)
}

func (s *Supervisor) MarkTLE() {
	s.mu.Lock()
	s.isTLE = true
	s.mu.Unlock()
}

func (s *Supervisor) KillGroup() error {
	return s.Kill()
}

func (s *Supervisor) wake() error {
	return unix.Kill(-s.pgid, benignWakeSignal)
}

// --- spawn sequence ---

// spawn re-execs this binary as the init helper, hands it a childConfig
// over a pipe, and blocks for the helper's very first ptrace stop (either
// the SIGTRAP delivered at the moment it successfully execve's the real
// target under PTRACE_TRACEME, or an early exit carrying one of the
// reserved spawn-failure codes).
func (s *Supervisor) spawn() error {
	self, err := os.Executable()
	if err != nil {
		return errors.Wrap(err, "resolve own executable path")
	}

	r, w, err := os.Pipe()
	if err != nil {
		return errors.Wrap(err, "create childconfig pipe")
	}

	cmd := exec.Command(self, InitCommand)
	cmd.Stdin = fileOrInherit(s.cfg.Stdin, os.Stdin)
	cmd.Stdout = fileOrInherit(s.cfg.Stdout, os.Stdout)
	cmd.Stderr = fileOrInherit(s.cfg.Stderr, os.Stderr)
	cmd.ExtraFiles = []*os.File{r}
	// Setpgid gives the tracee (and anything it forks) its own process
	// group, so Kill/the watchdog's wake signal can target the whole
	// group with one killpg-style call instead of chasing descendants.
	cmd.SysProcAttr = &syscall.SysProcAttr{Setpgid: true}

	cc, err := s.buildChildConfig()
	if err != nil {
		r.Close()
		w.Close()
		return errors.Wrap(err, "build child config")
	}

	if err := cmd.Start(); err != nil {
		r.Close()
		w.Close()
		return errors.Wrap(err, "start init helper")
	}
	r.Close()

	encErr := json.NewEncoder(w).Encode(cc)
	w.Close()
	if encErr != nil {
		_ = cmd.Process.Kill()
		return errors.Wrap(encErr, "send child config")
	}

	s.pid = cmd.Process.Pid
	s.pgid = s.pid

	if s.table == nil {
		// Tracing disabled: the child never calls PTRACE_TRACEME, so
		// there is no initial stop to consume. The monitor just waits
		// for it to exit; a spawn-stage failure surfaces there through
		// the reserved exit-code range.
		s.mu.Lock()
		s.wasInitialized = true
		s.mu.Unlock()
		adjustOOMScore(s.pid)
		return nil
	}

	var ws unix.WaitStatus
	if _, err := unix.Wait4(s.pid, &ws, 0, nil); err != nil {
		return errors.Wrap(err, "wait4 initial stop")
	}

	if ws.Exited() {
		return spawnErrorFromExitCode(ws.ExitStatus())
	}
	if !ws.Stopped() {
		return errors.Errorf("init helper reported unexpected initial wait status 0x%x", ws)
	}

	// EXITKILL ties the tracee's fate to the tracer's: a crashed tracer
	// can't leak an untrusted process. The stop-reporting option depends
	// on the interception mode: seccomp traps arrive as
	// PTRACE_EVENT_SECCOMP stops, while the every-syscall fallback needs
	// TRACESYSGOOD to distinguish its SIGTRAP|0x80 stops from real
	// SIGTRAPs.
	opts := unix.PTRACE_O_EXITKILL
	if s.cfg.AvoidSeccomp {
		opts |= unix.PTRACE_O_TRACESYSGOOD
	} else {
		opts |= unix.PTRACE_O_TRACESECCOMP
	}
	if err := unix.PtraceSetOptions(s.pid, opts); err != nil {
		return errors.Wrap(err, "ptrace setoptions")
	}

	s.mu.Lock()
	s.wasInitialized = true
	s.mu.Unlock()

	adjustOOMScore(s.pid)

	s.continueTracee(0)
	return nil
}

// buildChildConfig lowers Config into the wire-format childConfig the
// init helper understands, resolving Argv[0]/PATH and the precomputed
// seccomp whitelist here in the parent, where the full policy.Table
// (with its Go-closure callbacks) is available.
func (s *Supervisor) buildChildConfig() (childConfig, error) {
	cc := childConfig{
		Argv:           s.cfg.Argv,
		Executable:     s.cfg.Executable,
		Cwd:            s.cfg.Cwd,
		Personality:    s.cfg.Personality,
		Trace:          s.cfg.Security != nil,
		InstallSeccomp: s.cfg.Security != nil && !s.cfg.AvoidSeccomp,
	}
	if len(cc.Argv) == 0 {
		return cc, errors.New("argv must not be empty")
	}
	if cc.Executable == "" {
		if resolved, err := exec.LookPath(cc.Argv[0]); err == nil {
			cc.Executable = resolved
		} else {
			cc.Executable = cc.Argv[0]
		}
	}
	cc.Env = resolveEnv(s.cfg.Env)
	cc.Rlimits = buildRlimits(s.cfg.Limits)
	if s.table != nil {
		cc.Whitelist = s.table.SeccompWhitelist()
	}
	return cc, nil
}

// fileOrInherit maps a nil stream in Config to the supervisor's own
// descriptor, so "unset" means inherit rather than /dev/null.
func fileOrInherit(f, inherit *os.File) *os.File {
	if f != nil {
		return f
	}
	return inherit
}

func resolveEnv(env map[string]*string) []string {
	if env == nil {
		return os.Environ()
	}
	out := make([]string, 0, len(env))
	for k, v := range env {
		if v == nil {
			continue
		}
		out = append(out, k+"="+*v)
	}
	return out
}

func buildRlimits(l Limits) []rlimitSpec {
	var specs []rlimitSpec
	add := func(resource int, cur, max uint64) {
		specs = append(specs, rlimitSpec{Resource: resource, Cur: cur, Max: max})
	}

	if l.Memory > 0 {
		asBytes := uint64(l.Memory+l.AddressGrace) * 1024
		add(unix.RLIMIT_AS, asBytes, asBytes)
		dataBytes := uint64(l.Memory+l.DataGrace) * 1024
		add(unix.RLIMIT_DATA, dataBytes, dataBytes)
	}
	add(unix.RLIMIT_CORE, 0, 0)
	if l.NProc > 0 {
		add(unix.RLIMIT_NPROC, l.NProc, l.NProc)
	}
	if l.FSize > 0 {
		fsBytes := l.FSize * 1024
		add(unix.RLIMIT_FSIZE, fsBytes, fsBytes)
	}
	if l.CPUTime > 0 {
		// The kernel-enforced hard cap is intentionally looser than the
		// watchdog's own deadline: it exists so a misbehaving supervisor
		// (wedged watchdog goroutine, killed tracer process) still can't
		// let a tracee spin forever.
		hard := uint64(l.CPUTime/time.Second) + 5
		add(unix.RLIMIT_CPU, hard, hard)
	}
	return specs
}

// adjustOOMScore nudges the tracee to the most-killable end of the OOM
// scorer. Best-effort and Linux-only in effect (the write simply fails
// silently on FreeBSD, where there is no such file).
func adjustOOMScore(pid int) {
	const oomScoreAdjMax = "1000"
	path := "/proc/" + itoa(pid) + "/oom_score_adj"
	if err := os.WriteFile(path, []byte(oomScoreAdjMax), 0644); err != nil {
		logrus.WithError(err).WithField("pid", pid).Debug("tracer: oom_score_adj write failed")
	}
}

func itoa(n int) string {
	if n == 0 {
		return "0"
	}
	neg := n < 0
	if neg {
		n = -n
	}
	var buf [20]byte
	i := len(buf)
	for n > 0 {
		i--
		buf[i] = byte('0' + n%10)
		n /= 10
	}
	if neg {
		i--
		buf[i] = '-'
	}
	return string(buf[i:])
}
