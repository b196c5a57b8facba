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

package policy

import (
	"github.com/dmoj-sandbox/cptrace/abi"
)

// tableMargin pads every dense per-ABI table past the highest native
// number the translation table assigns, so a policy still rejects (rather
// than index-panics on) a syscall number just past the known range.
const tableMargin = 64

// Table is the dense [abi][native_syscall_number] -> Handler lookup.
// Built once from a sparse {canonical: Handler} map; absent canonicals
// default every one of their native numbers to Deny.
type Table struct {
	dense     [abi.NumABI][]Handler
	whitelist []bool
}

// New expands policy (nil means tracing is fully disabled by the caller;
// callers of this package should not construct a Table at all in that
// case) into the dense per-ABI tables and the native-ABI seccomp
// whitelist.
func New(security map[abi.Syscall]Handler) *Table {
	t := &Table{}
	for _, a := range []abi.ABI{abi.X86, abi.X86_64, abi.X32, abi.ARM, abi.ARM64, abi.FreeBSDX64} {
		size := abi.MaxNative(a) + tableMargin + 1
		row := make([]Handler, size)
		for id, h := range security {
			for _, n := range abi.NativeFor(id, a) {
				idx := abi.TableNumber(a, n)
				if idx >= 0 && idx < size {
					row[idx] = h
				}
			}
		}
		t.dense[a.Index()] = row
	}
	t.whitelist = buildWhitelist(security)
	return t
}

// OnSyscall is the hot-loop dispatch operation: look up the handler for
// (abi, native) and invoke it. Out-of-range native numbers deny, except
// inside the ARM-private window, which is always allowed.
func (t *Table) OnSyscall(a abi.ABI, native int, dbg Debugger) bool {
	if abi.IsARMPrivate(a, native) {
		return true
	}
	if !a.Valid() {
		return false
	}
	row := t.dense[a.Index()]
	idx := abi.TableNumber(a, native)
	if idx < 0 || idx >= len(row) {
		return false
	}
	return row[idx].invoke(dbg)
}

// SeccompWhitelist returns the boolean vector, indexed by native syscall
// number on this host's ABI, used to build the seccomp filter installed
// in the child before execve. exit and exit_group are always false so the
// tracer is guaranteed to observe termination via a ptrace stop rather
// than seccomp silently allowing it straight through.
func (t *Table) SeccompWhitelist() []bool {
	return t.whitelist
}

func buildWhitelist(security map[abi.Syscall]Handler) []bool {
	native := abi.Native()
	size := abi.MaxNative(native) + tableMargin + 1
	wl := make([]bool, size)
	for id, h := range security {
		if !h.IsAllow() {
			continue
		}
		for _, n := range abi.NativeFor(id, native) {
			if n >= 0 && n < size {
				wl[n] = true
			}
		}
	}
	for _, n := range abi.NativeFor(abi.Exit, native) {
		if n >= 0 && n < size {
			wl[n] = false
		}
	}
	for _, n := range abi.NativeFor(abi.ExitGroup, native) {
		if n >= 0 && n < size {
			wl[n] = false
		}
	}
	return wl
}
