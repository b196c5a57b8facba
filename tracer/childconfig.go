package tracer

// childConfig is the wire format passed from the supervisor to the init
// helper over an ExtraFiles pipe (see supervisor.go/init.go). It deliberately
// carries none of Config's Handler callbacks: those are Go closures that
// cannot cross a process boundary, and the init helper never needs them:
// it only needs the precomputed seccomp whitelist the supervisor derived
// from the policy table before forking.
type childConfig struct {
	Argv        []string
	Executable  string
	Env         []string
	Cwd         string
	Personality uint
	Rlimits     []rlimitSpec

	// Trace requests PTRACE_TRACEME before execve. False reproduces
	// Config.Security == nil: tracing is disabled entirely.
	Trace bool

	// InstallSeccomp requests a seccomp filter built from Whitelist before
	// execve. False when Config.AvoidSeccomp forces every syscall through
	// ptrace instead.
	InstallSeccomp bool

	// Whitelist is the native-ABI seccomp allow vector (see
	// policy.Table.SeccompWhitelist). Only meaningful when InstallSeccomp.
	Whitelist []bool
}

type rlimitSpec struct {
	Resource int
	Cur, Max uint64
}
