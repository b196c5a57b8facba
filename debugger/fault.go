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

package debugger

// Fault is the record of one policy-denied or unreadable syscall: enough
// detail for a caller to explain to a contestant why their submission was
// killed. IsUpdate distinguishes a deny observed on syscall entry (errno
// not yet meaningful) from one observed on exit (errno relevant).
type Fault struct {
	SyscallNumber int
	SyscallName   string
	Args          [6]uint64
	Errno         int
	HasErrno      bool
	IsUpdate      bool
}

// NewEntryFault builds the fault record recorded when a syscall is denied
// at entry, before the kernel has assigned it an errno.
func NewEntryFault(dbg *Debugger) Fault {
	return Fault{
		SyscallNumber: dbg.Syscall(),
		SyscallName:   dbg.SyscallName(),
		Args:          dbg.Uargs(),
	}
}

// ProtectionFaultPtraceFail is the fixed record for an unrecoverable
// ptrace register read failure; the monitor loop must kill the tracee
// rather than continue a syscall it could not inspect.
func ProtectionFaultPtraceFail(errno int) Fault {
	return Fault{
		SyscallNumber: -1,
		SyscallName:   "ptrace fail",
		Errno:         errno,
		HasErrno:      true,
		IsUpdate:      true,
	}
}
