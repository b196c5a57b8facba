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

package abi

import "sync"

// armPrivateLow and armPrivateHigh bound the ARM kernel-helper syscall
// window (__ARM_NR_cmpxchg and friends); both bounds are exclusive.
const (
	armPrivateLow  = 0xF0000
	armPrivateHigh = 0xF0006
)

// IsARMPrivate reports whether a native syscall number on ARM falls in the
// kernel-private helper window, which policy must allow unconditionally
// regardless of the configured table.
func IsARMPrivate(abiVal ABI, native int) bool {
	return abiVal == ARM && native > armPrivateLow && native < armPrivateHigh
}

// NativeFor returns the set of native syscall numbers a canonical syscall
// maps to under the given ABI. The returned slice is empty (not nil-panic)
// when the ABI doesn't implement that syscall.
func NativeFor(id Syscall, abiVal ABI) []int {
	if id < 0 || int(id) >= int(syscallCount) || !abiVal.Valid() {
		return nil
	}
	return translator[id].natives[abiVal.Index()]
}

// CanonicalOf resolves a native (abi, syscall-number) pair back to a
// canonical id. It is the left inverse of NativeFor: for any id and abi
// where NativeFor(id, abi) is non-empty and contains n,
// CanonicalOf(abi, n) returns id. Returns (0, false) when no canonical
// syscall claims this native number under this ABI. An unknown native
// number is not an error, callers fall back to the raw number for policy
// lookup and logging.
func CanonicalOf(abiVal ABI, native int) (Syscall, bool) {
	if IsARMPrivate(abiVal, native) {
		return ARMPrivate, true
	}
	if !abiVal.Valid() {
		return 0, false
	}
	idx := abiVal.Index()
	for id := Syscall(0); int(id) < int(syscallCount); id++ {
		for _, n := range translator[id].natives[idx] {
			if n == native {
				return id, true
			}
		}
	}
	return 0, false
}

// TableNumber normalizes a native syscall number for dense-table
// indexing. x32 numbers carry __X32_SYSCALL_BIT, which would make any
// dense [native]->handler array gigabytes wide; the bit is stripped for
// indexing since it carries no information beyond "this is x32", which
// the ABI dimension already encodes.
func TableNumber(a ABI, native int) int {
	if a == X32 {
		return native &^ x32Bit
	}
	return native
}

var (
	maxNativeOnce  sync.Once
	maxNativeCache [NumABI]int
)

// MaxNative returns the highest dense-table index (see TableNumber) this
// table assigns to any canonical syscall under the given ABI. Callers
// size dense per-ABI lookup tables off this (see policy.Table).
func MaxNative(a ABI) int {
	if !a.Valid() {
		return 0
	}
	maxNativeOnce.Do(func() {
		for id := Syscall(0); int(id) < int(syscallCount); id++ {
			for idx := 0; idx < NumABI; idx++ {
				for _, n := range translator[id].natives[idx] {
					if idx == idxX32 {
						n &^= x32Bit
					}
					if n > maxNativeCache[idx] {
						maxNativeCache[idx] = n
					}
				}
			}
		}
	})
	return maxNativeCache[a.Index()]
}

// NameOf returns the canonical name for a native syscall number under the
// given ABI, falling back to "unknown" when the table has no entry. This
// is a display aid (logging, policy debugging), never used for dispatch
// decisions.
func NameOf(abiVal ABI, native int) string {
	if IsARMPrivate(abiVal, native) {
		return "ARM-private"
	}
	if id, ok := CanonicalOf(abiVal, native); ok {
		return ByID(id)
	}
	return "unknown"
}
