//
// Copyright 2019-2020 Nestybox, Inc.
//
// Licensed under the Apache License, Version 2.0 (the "License");
// you may not use this file except in compliance with the License.
// You may obtain a copy of the License at
//
//    https://www.apache.org/licenses/LICENSE-2.0
//
// Unless required by applicable law or agreed to in writing, software
// distributed under the License is distributed on an "AS IS" BASIS,
// WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
// See the License for the specific language governing permissions and
// limitations under the License.
//

// Package tracer is the process supervisor: it spawns an untrusted child
// under ptrace, installs the seccomp fast path derived from a policy
// table, runs the monitor loop that turns the raw ptrace stop stream into
// a disciplined state machine, and publishes a ResultSnapshot once the
// tracee dies.
package tracer

import (
	"os"
	"time"

	"github.com/dmoj-sandbox/cptrace/abi"
	"github.com/dmoj-sandbox/cptrace/policy"
)

// Limits bundles the resource ceilings enforced on the tracee, both via
// the kernel (rlimits) and cooperatively (the watchdog's wall/CPU checks).
type Limits struct {
	// CPUTime is the soft CPU deadline the watchdog enforces. Zero or
	// negative disables the watchdog entirely: no deadline is checked and
	// no wake signal is ever sent.
	CPUTime time.Duration

	// WallTime is the soft wall-clock deadline. Zero defaults to 3x
	// CPUTime once the watchdog starts.
	WallTime time.Duration

	// Memory is the RLIMIT_AS/RLIMIT_DATA baseline, in KiB. Zero disables
	// the address-space and data rlimits (and MLE derivation).
	Memory int64

	// AddressGrace and DataGrace pad Memory before it becomes the
	// RLIMIT_AS/RLIMIT_DATA ceiling, in KiB. Real submissions need
	// headroom above their reported working set for the loader, libc,
	// and thread stacks.
	AddressGrace int64
	DataGrace    int64

	// NProc and FSize are RLIMIT_NPROC and RLIMIT_FSIZE (FSize in KiB).
	// Zero leaves the corresponding rlimit unset.
	NProc uint64
	FSize uint64
}

// Config is everything the supervisor needs to spawn and police one
// tracee.
type Config struct {
	// Argv is the command and its arguments. Argv[0] is also used to
	// resolve Executable via PATH when Executable is empty.
	Argv []string

	// Executable overrides Argv[0] as the path execve'd. Empty means
	// resolve Argv[0] through PATH.
	Executable string

	// Env maps name to value for the child's environment. A non-nil map
	// replaces the caller's environment as a whole, and a nil value drops
	// that name from it. A nil map means "inherit the caller's environment
	// unchanged".
	Env map[string]*string

	// Cwd is the directory to chdir into before execve. Empty means no
	// chdir.
	Cwd string

	Limits Limits

	// Personality holds raw personality(2) bits, e.g. ADDR_NO_RANDOMIZE.
	Personality uint

	// Security is the sparse {canonical syscall: handler} policy map. A
	// nil map disables tracing entirely: the child runs free (modulo
	// rlimits), no ptrace attach happens, and ProtectionFault is always
	// nil.
	Security map[abi.Syscall]policy.Handler

	// AvoidSeccomp forces every syscall through a ptrace stop even when
	// the policy would otherwise allow the seccomp fast path. Useful for
	// callbacks that need to observe every syscall for logging/auditing,
	// at a throughput cost.
	AvoidSeccomp bool

	// Stdin, Stdout, Stderr are the tracee's standard streams. nil means
	// inherit the caller's.
	Stdin, Stdout, Stderr *os.File
}
