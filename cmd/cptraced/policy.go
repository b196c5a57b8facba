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

package main

import (
	"fmt"

	"github.com/dmoj-sandbox/cptrace/abi"
	"github.com/dmoj-sandbox/cptrace/policy"
)

// defaultAllowed is the syscall surface a single-threaded compiled
// submission needs for startup, stdio, memory management and teardown.
// Everything absent from the policy map is denied, so process-control
// (fork/clone/execve/ptrace), filesystem mutation (mount/chown) and the
// like need no explicit entry.
var defaultAllowed = []abi.Syscall{
	abi.Read,
	abi.Write,
	abi.Close,
	abi.Fstat,
	abi.Lseek,
	abi.Mmap,
	abi.Mprotect,
	abi.Munmap,
	abi.Brk,
	abi.RtSigaction,
	abi.RtSigprocmask,
	abi.RtSigreturn,
	abi.Ioctl,
	abi.Access,
	abi.Pipe,
	abi.Dup,
	abi.Dup2,
	abi.Pause,
	abi.Nanosleep,
	abi.Getpid,
	abi.Uname,
	abi.ArchPrctl,
	abi.SetTidAddress,
	abi.Futex,
	abi.Exit,
	abi.ExitGroup,
	abi.Getrandom,
	abi.Prlimit64,
	abi.Readlink,
	abi.Fcntl,
	abi.Gettimeofday,
	abi.ClockGettime,
}

// presetPolicy maps the --policy flag to a security map for
// tracer.Config. nil (preset "none") disables tracing entirely.
func presetPolicy(name string) (map[abi.Syscall]policy.Handler, error) {
	switch name {
	case "none":
		return nil, nil

	case "permissive":
		sec := make(map[abi.Syscall]policy.Handler, abi.SyscallCount())
		for _, id := range abi.All() {
			sec[id] = policy.Allow
		}
		return sec, nil

	case "default":
		sec := make(map[abi.Syscall]policy.Handler, len(defaultAllowed)+2)
		for _, id := range defaultAllowed {
			sec[id] = policy.Allow
		}
		// open/openat get a callback rather than plain allow: reading is
		// fine, but the registers must be inspected to refuse writable
		// modes. O_ACCMODE&flags == O_RDONLY keeps the check portable
		// across the ABIs the table models.
		sec[abi.Open] = policy.Callback(func(dbg policy.Debugger) bool {
			return dbg.Uarg(1)&0x3 == 0
		})
		sec[abi.Openat] = policy.Callback(func(dbg policy.Debugger) bool {
			return dbg.Uarg(2)&0x3 == 0
		})
		return sec, nil

	default:
		return nil, fmt.Errorf("policy preset %q not recognized; allowed values are \"default\", \"permissive\" and \"none\"", name)
	}
}
