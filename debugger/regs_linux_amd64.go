//go:build linux && amd64

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

import (
	"golang.org/x/sys/unix"

	"github.com/dmoj-sandbox/cptrace/abi"
)

// x32SyscallBit marks an x32-ABI syscall number inside the 64-bit syscall
// table (__X32_SYSCALL_BIT).
const x32SyscallBit = 0x40000000

// userCS64 is the %cs selector value the kernel loads for 64-bit user
// code; 32-bit compat tasks (plain ia32 or x32) load 0x23 instead. x32 is
// then told apart from plain ia32 by the high bit of the syscall number.
const userCS64 = 0x33

// nativeRegs is the register layout PTRACE_GETREGS reports on an amd64
// host, valid for a tracee running as x86_64, ia32-compat, or x32.
type nativeRegs unix.PtraceRegs

func ptraceGetRegs(pid int) (nativeRegs, error) {
	var r unix.PtraceRegs
	err := unix.PtraceGetRegs(pid, &r)
	return nativeRegs(r), err
}

func ptraceSetRegs(pid int, r nativeRegs) error {
	rr := unix.PtraceRegs(r)
	return unix.PtraceSetRegs(pid, &rr)
}

func decode(r nativeRegs) (abi.ABI, int, [6]uint64, uint64) {
	args := [6]uint64{r.Rdi, r.Rsi, r.Rdx, r.R10, r.R8, r.R9}

	var a abi.ABI
	switch {
	case r.Cs == userCS64:
		a = abi.X86_64
	case r.Orig_rax&x32SyscallBit != 0:
		a = abi.X32
	default:
		a = abi.X86
	}
	return a, int(int64(r.Orig_rax)), args, r.Rip
}

func encodeSyscallNum(r *nativeRegs, n int) {
	r.Orig_rax = uint64(int64(n))
	r.Rax = r.Orig_rax
}
