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

// Package policy holds the per-(ABI, native syscall) dispatch table: the
// decision of whether a traced process may proceed past a given syscall,
// and the derived seccomp allow-list used to shortcut the common case
// without a ptrace stop.
package policy

import (
	"github.com/dmoj-sandbox/cptrace/abi"
)

// Debugger is the façade a policy callback renders its verdict through:
// the stopped tracee's ABI and pending syscall, its arguments, string
// reads from its memory, and, for callbacks that neutralize a call
// instead of denying it, syscall-number rewriting. tracer's monitor
// loop passes its concrete debugger here; nothing in this package
// imports the debugger package (policy is the lower layer).
type Debugger interface {
	ABI() abi.ABI
	Syscall() int
	SyscallName() string
	Uarg(n int) uint64
	ReadString(address uint64, maxSize int) ([]byte, error)
	NoopSyscallID() int
	RewriteSyscall(native int)
	WriteRegisters() error
}

// CallbackFunc renders a verdict for a syscall-entry stop. true allows the
// call to proceed, false denies it.
type CallbackFunc func(dbg Debugger) bool

type handlerKind int

const (
	kindDeny handlerKind = iota
	kindAllow
	kindCallback
)

// Handler is the tagged allow/deny/callback union attached to one
// canonical syscall in a security policy map.
type Handler struct {
	kind handlerKind
	fn   CallbackFunc
}

// Allow unconditionally permits the syscall; eligible for the seccomp
// fast path.
var Allow = Handler{kind: kindAllow}

// Deny unconditionally refuses the syscall, producing a protection fault.
var Deny = Handler{kind: kindDeny}

// Callback defers the verdict to fn, which runs with the tracee stopped
// at syscall entry. This always forces a ptrace stop: the seccomp filter
// cannot see register contents.
func Callback(fn CallbackFunc) Handler {
	return Handler{kind: kindCallback, fn: fn}
}

// IsAllow reports whether this handler is the plain, unconditional Allow,
// the only kind eligible for the seccomp whitelist.
func (h Handler) IsAllow() bool {
	return h.kind == kindAllow
}

// invoke renders this handler's verdict. Deny and the zero Handler both
// deny, matching the "absent entries default to Deny" rule.
func (h Handler) invoke(dbg Debugger) bool {
	switch h.kind {
	case kindAllow:
		return true
	case kindCallback:
		return h.fn(dbg)
	default:
		return false
	}
}
