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

// Package debugger is the façade a policy callback uses to inspect (and
// occasionally rewrite) a tracee stopped at a syscall boundary: its ABI,
// the pending syscall and its arguments, and its memory. Every operation
// here is only meaningful while the tracee is actually ptrace-stopped;
// callers (the tracer's monitor loop) are responsible for that invariant.
package debugger

import (
	"github.com/pkg/errors"

	"github.com/dmoj-sandbox/cptrace/abi"
)

// Debugger wraps one tracee's register state as observed at its most
// recent ptrace stop. A fresh Refresh is required after every stop; the
// cached values are stale the instant the tracee is continued.
type Debugger struct {
	pid int

	raw     nativeRegs
	loaded  bool
	abiVal  abi.ABI
	nr      int
	args    [6]uint64
}

// New wraps pid, the tracee's OS thread id, as seen by ptrace. Refresh
// must be called before any other method is meaningful.
func New(pid int) *Debugger {
	return &Debugger{pid: pid}
}

// Pid returns the tracee thread id this façade was constructed for.
func (d *Debugger) Pid() int { return d.pid }

// Refresh reads the tracee's current registers and decodes its ABI,
// pending syscall number, and arguments. Must be called at every
// syscall-entry stop before consulting ABI/Syscall/Uarg.
func (d *Debugger) Refresh() error {
	raw, err := ptraceGetRegs(d.pid)
	if err != nil {
		return errors.Wrap(err, "ptrace getregs")
	}
	d.raw = raw
	d.abiVal, d.nr, d.args, _ = decode(raw)
	d.loaded = true
	return nil
}

// ABI is the tracee's instruction-set ABI as of the last Refresh.
func (d *Debugger) ABI() abi.ABI {
	return d.abiVal
}

// Syscall is the pending native syscall number, or -1 if registers have
// never been successfully read.
func (d *Debugger) Syscall() int {
	if !d.loaded {
		return -1
	}
	return d.nr
}

// SyscallName resolves the pending syscall to its canonical name via abi.
func (d *Debugger) SyscallName() string {
	if !d.loaded {
		return "unknown"
	}
	return abi.NameOf(d.abiVal, d.nr)
}

// Uarg returns syscall argument n (0..5), masked to 32 bits when the
// tracee's ABI has a 32-bit address space.
func (d *Debugger) Uarg(n int) uint64 {
	if n < 0 || n > 5 || !d.loaded {
		return 0
	}
	v := d.args[n]
	if d.abiVal.AddressBits() == 32 {
		v &= 0xFFFFFFFF
	}
	return v
}

// Uargs returns all six syscall arguments, for protection-fault recording.
func (d *Debugger) Uargs() [6]uint64 {
	var out [6]uint64
	for i := range out {
		out[i] = d.Uarg(i)
	}
	return out
}

// NoopSyscallID returns a syscall number the kernel accepts but whose
// effect is trivial for the current ABI (getpid), for callbacks that want
// to neutralize a denied call by rewriting its number instead of killing
// the tracee.
func (d *Debugger) NoopSyscallID() int {
	natives := abi.NativeFor(abi.Getpid, d.abiVal)
	if len(natives) == 0 {
		return -1
	}
	return natives[0]
}

// RewriteSyscall replaces the pending syscall number in the cached
// register image with native. The caller must still call WriteRegisters
// to commit the change to the tracee before it's continued.
func (d *Debugger) RewriteSyscall(native int) {
	encodeSyscallNum(&d.raw, native)
	d.nr = native
}

// WriteRegisters commits the cached register image (including any
// RewriteSyscall) back to the tracee.
func (d *Debugger) WriteRegisters() error {
	return errors.Wrap(ptraceSetRegs(d.pid, d.raw), "ptrace setregs")
}
