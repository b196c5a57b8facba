//go:build freebsd && amd64

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

// nativeRegs is FreeBSD's struct reg for amd64; this repository only
// supports the FreeBSDX64 ABI on this platform, there is no 32-bit compat
// path to detect.
type nativeRegs unix.Reg

func ptraceGetRegs(pid int) (nativeRegs, error) {
	var r unix.Reg
	err := unix.PtraceGetRegs(pid, &r)
	return nativeRegs(r), err
}

func ptraceSetRegs(pid int, r nativeRegs) error {
	rr := unix.Reg(r)
	return unix.PtraceSetRegs(pid, &rr)
}

func decode(r nativeRegs) (abi.ABI, int, [6]uint64, uint64) {
	args := [6]uint64{uint64(r.Rdi), uint64(r.Rsi), uint64(r.Rdx), uint64(r.R10), uint64(r.R8), uint64(r.R9)}
	return abi.FreeBSDX64, int(r.Rax), args, uint64(r.Rip)
}

func encodeSyscallNum(r *nativeRegs, n int) {
	r.Rax = int64(n)
}
