//go:build linux && arm64

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
	"unsafe"

	"golang.org/x/sys/unix"

	"github.com/dmoj-sandbox/cptrace/abi"
)

// ntPrstatus is NT_PRSTATUS, the regset PTRACE_GETREGSET/SETREGSET use for
// general-purpose registers.
const ntPrstatus = 1

// nativeRegs holds whichever of the two register shapes PTRACE_GETREGSET
// reports: the full AArch64 set for a native tracee, or the 32-bit AArch32
// compat set for a tracee running under the ARM personality. The kernel
// tells these apart by how much it writes back into the iovec (a compat
// task's regset is smaller than the native one), so a get always probes
// with a buffer sized for the larger struct and inspects the returned
// length.
type nativeRegs struct {
	compat bool
	a64    unix.PtraceRegsArm64
	a32    unix.PtraceRegsArm
}

func ptraceGetRegs(pid int) (nativeRegs, error) {
	var wide unix.PtraceRegsArm64
	wideLen := unsafe.Sizeof(wide)
	buf := unsafe.Slice((*byte)(unsafe.Pointer(&wide)), wideLen)
	iov := unix.Iovec{Base: &buf[0], Len: uint64(wideLen)}

	_, _, errno := unix.Syscall6(unix.SYS_PTRACE, uintptr(unix.PTRACE_GETREGSET), uintptr(pid), uintptr(ntPrstatus), uintptr(unsafe.Pointer(&iov)), 0, 0)
	if errno != 0 {
		return nativeRegs{}, errno
	}
	if iov.Len == uint64(wideLen) {
		return nativeRegs{a64: wide}, nil
	}

	var narrow unix.PtraceRegsArm
	narrowBuf := unsafe.Slice((*byte)(unsafe.Pointer(&narrow)), unsafe.Sizeof(narrow))
	copy(narrowBuf, buf[:iov.Len])
	return nativeRegs{compat: true, a32: narrow}, nil
}

func ptraceSetRegs(pid int, r nativeRegs) error {
	if r.compat {
		buf := unsafe.Slice((*byte)(unsafe.Pointer(&r.a32)), unsafe.Sizeof(r.a32))
		iov := unix.Iovec{Base: &buf[0], Len: uint64(len(buf))}
		_, _, errno := unix.Syscall6(unix.SYS_PTRACE, uintptr(unix.PTRACE_SETREGSET), uintptr(pid), uintptr(ntPrstatus), uintptr(unsafe.Pointer(&iov)), 0, 0)
		if errno != 0 {
			return errno
		}
		return nil
	}
	buf := unsafe.Slice((*byte)(unsafe.Pointer(&r.a64)), unsafe.Sizeof(r.a64))
	iov := unix.Iovec{Base: &buf[0], Len: uint64(len(buf))}
	_, _, errno := unix.Syscall6(unix.SYS_PTRACE, uintptr(unix.PTRACE_SETREGSET), uintptr(pid), uintptr(ntPrstatus), uintptr(unsafe.Pointer(&iov)), 0, 0)
	if errno != 0 {
		return errno
	}
	return nil
}

func decode(r nativeRegs) (abi.ABI, int, [6]uint64, uint64) {
	if r.compat {
		args := [6]uint64{
			uint64(r.a32.Uregs[0]), uint64(r.a32.Uregs[1]), uint64(r.a32.Uregs[2]),
			uint64(r.a32.Uregs[3]), uint64(r.a32.Uregs[4]), uint64(r.a32.Uregs[5]),
		}
		return abi.ARM, int(int32(r.a32.Uregs[7])), args, uint64(r.a32.Uregs[15])
	}
	args := [6]uint64{r.a64.Regs[0], r.a64.Regs[1], r.a64.Regs[2], r.a64.Regs[3], r.a64.Regs[4], r.a64.Regs[5]}
	return abi.ARM64, int(int64(r.a64.Regs[8])), args, r.a64.Pc
}

func encodeSyscallNum(r *nativeRegs, n int) {
	if r.compat {
		r.a32.Uregs[7] = uint32(n)
		return
	}
	r.a64.Regs[8] = uint64(n)
}
