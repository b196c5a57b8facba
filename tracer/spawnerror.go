package tracer

import "github.com/pkg/errors"

// SpawnCode identifies which step of the child's pre-execve setup failed.
// The init helper (see init.go) maps each of these to a reserved exit
// code in the 200-203 range, since a Unix child's exit status is an
// unsigned byte and cannot carry the negative sentinels callers expect.
type SpawnCode int

const (
	SpawnFailNoNewPrivs SpawnCode = iota + 1
	SpawnFailSeccomp
	SpawnFailTraceme
	SpawnFailExecve
)

// Exit codes the init helper uses to report a failed setup step to the
// parent, before it has anything resembling a normal process identity.
const (
	exitNoNewPrivs = 200
	exitSeccomp    = 201
	exitTraceme    = 202
	exitExecve     = 203
)

// SpawnError is returned from New/Wait when the child never reached the
// target program. Callers can switch on Code rather than parse text.
type SpawnError struct {
	Code SpawnCode
}

func (e *SpawnError) Error() string {
	switch e.Code {
	case SpawnFailNoNewPrivs:
		return "cptrace: child failed to set PR_SET_NO_NEW_PRIVS"
	case SpawnFailSeccomp:
		return "cptrace: child failed to install its seccomp filter"
	case SpawnFailTraceme:
		return "cptrace: child failed PTRACE_TRACEME; check Yama ptrace_scope " +
			"(/proc/sys/kernel/yama/ptrace_scope) and, if running inside a " +
			"container, that SYS_PTRACE is in the container's capability set"
	case SpawnFailExecve:
		return "cptrace: child failed to execve the target program"
	default:
		return "cptrace: child failed during spawn setup"
	}
}

// spawnErrorFromExitCode maps the init helper's exit status to a
// SpawnError, or a generic wrapped error if the helper exited with
// something outside the reserved taxonomy (e.g. it panicked).
func spawnErrorFromExitCode(code int) error {
	switch code {
	case exitNoNewPrivs:
		return &SpawnError{Code: SpawnFailNoNewPrivs}
	case exitSeccomp:
		return &SpawnError{Code: SpawnFailSeccomp}
	case exitTraceme:
		return &SpawnError{Code: SpawnFailTraceme}
	case exitExecve:
		return &SpawnError{Code: SpawnFailExecve}
	default:
		return errors.Errorf("cptrace: init helper exited %d before reaching the target program", code)
	}
}
