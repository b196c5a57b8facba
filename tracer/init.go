package tracer

import (
	"encoding/json"
	"fmt"
	"os"
	"syscall"

	"golang.org/x/sys/unix"
)

// InitCommand is the hidden subcommand name cmd/cptraced wires up to
// call RunInit. The supervisor re-execs its own binary with this single
// argument rather than the forked child it actually wants to run: a
// freshly fork()ed Go process cannot safely call back into the runtime to
// do personality/rlimit/seccomp/traceme work (no safe post-fork,
// pre-exec hook exists in os/exec), but a child that has already execve'd
// this same binary has the full runtime back and can do all of that
// before replacing itself with the real target.
const InitCommand = "__cptrace_init"

// childConfigFd is the file descriptor the init helper reads its
// childConfig from. The supervisor passes it via Cmd.ExtraFiles[0], which
// os/exec places at fd 3 (0, 1, 2 are already stdin/stdout/stderr).
const childConfigFd = 3

// RunInit is cmd/cptraced's hidden init subcommand: that subcommand's
// action, selected when os.Args[1] == InitCommand, calls it. Nothing it
// does is meaningful in a normal cptraced invocation. It never returns: it either replaces itself
// via execve or os.Exits with one of the reserved spawn-failure codes.
func RunInit() {
	cfg, err := readChildConfig()
	if err != nil {
		fmt.Fprintf(os.Stderr, "cptrace-init: %v\n", err)
		os.Exit(1)
	}

	applyPersonality(cfg.Personality)

	for _, rl := range cfg.Rlimits {
		lim := unix.Rlimit{Cur: rl.Cur, Max: rl.Max}
		if err := unix.Setrlimit(rl.Resource, &lim); err != nil {
			fmt.Fprintf(os.Stderr, "cptrace-init: setrlimit(%d): %v\n", rl.Resource, err)
			os.Exit(1)
		}
	}

	// Stdin/stdout/stderr are already the caller's requested descriptors:
	// os/exec dup2'd them into place for this process before the outer
	// execve that brought the init helper to life.

	if cfg.Cwd != "" {
		if err := unix.Chdir(cfg.Cwd); err != nil {
			fmt.Fprintf(os.Stderr, "cptrace-init: chdir(%q): %v\n", cfg.Cwd, err)
			os.Exit(1)
		}
	}

	if err := unix.Prctl(unix.PR_SET_NO_NEW_PRIVS, 1, 0, 0, 0); err != nil {
		os.Exit(exitNoNewPrivs)
	}

	if cfg.InstallSeccomp {
		if err := installSeccompFilter(cfg.Whitelist); err != nil {
			os.Exit(exitSeccomp)
		}
	}

	if cfg.Trace {
		if err := unix.PtraceTraceme(); err != nil {
			os.Exit(exitTraceme)
		}
	}

	// On success this never returns: the process image becomes the
	// target program, and, because of PtraceTraceme above, the kernel
	// delivers the supervisor a SIGTRAP stop right here, before the
	// target's entry point runs.
	syscall.Exec(cfg.Executable, cfg.Argv, cfg.Env)
	os.Exit(exitExecve)
}

func readChildConfig() (*childConfig, error) {
	f := os.NewFile(childConfigFd, "cptrace-childconfig")
	if f == nil {
		return nil, fmt.Errorf("childconfig pipe (fd %d) not inherited", childConfigFd)
	}
	defer f.Close()

	var cfg childConfig
	if err := json.NewDecoder(f).Decode(&cfg); err != nil {
		return nil, fmt.Errorf("decode childconfig: %w", err)
	}
	return &cfg, nil
}

// applyPersonality sets raw personality(2) bits (e.g. ADDR_NO_RANDOMIZE).
// Best-effort: a failure here means the running kernel doesn't recognize
// the bit mask, which is not a condition the spawn-failure exit codes
// model or that the tracee's policy should react to.
func applyPersonality(bits uint) {
	if bits == 0 {
		return
	}
	unix.Syscall(unix.SYS_PERSONALITY, uintptr(bits), 0, 0)
}
