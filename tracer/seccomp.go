package tracer

import (
	libseccomp "github.com/seccomp/libseccomp-golang"
)

// seccompTraceData is the 16-bit tag attached to SECCOMP_RET_TRACE,
// retrievable by the tracer via PTRACE_GETEVENTMSG. The monitor loop
// doesn't currently need to disambiguate multiple trace reasons, but
// carrying a recognizable tag here costs nothing and helps anyone
// attaching strace -f alongside the tracer to tell our stops apart from
// PTRACE_O_TRACEEXEC/CLONE noise.
const seccompTraceData = 0x5213

// installSeccompFilter builds and loads the classic allow-list seccomp
// program: every syscall not in whitelist traps to the ptrace tracer
// (SECCOMP_RET_TRACE, observed as a PTRACE_EVENT_SECCOMP stop once
// PTRACE_O_TRACESECCOMP is set), and every syscall in whitelist runs
// straight through with no stop at all. whitelist is indexed by native
// syscall number on the host's own ABI; see
// policy.Table.SeccompWhitelist.
func installSeccompFilter(whitelist []bool) error {
	defaultAction := libseccomp.ActTrace.SetReturnCode(seccompTraceData)

	filter, err := libseccomp.NewFilter(defaultAction)
	if err != nil {
		return err
	}
	defer filter.Release()

	native, err := libseccomp.GetNativeArch()
	if err != nil {
		return err
	}
	if err := filter.AddArch(native); err != nil {
		return err
	}

	for n, allowed := range whitelist {
		if !allowed {
			continue
		}
		// A syscall number with no native meaning on this arch/kernel
		// combination is simply skipped rather than failing the whole
		// filter: the translation table is intentionally broader than
		// any single kernel's actual syscall surface.
		if err := filter.AddRuleExact(libseccomp.ScmpSyscall(n), libseccomp.ActAllow); err != nil {
			continue
		}
	}

	return filter.Load()
}
