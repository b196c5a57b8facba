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
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/dmoj-sandbox/cptrace/abi"
)

// stubDebugger satisfies Debugger without a live tracee; tests only need
// the table's dispatch decision, not real register state.
type stubDebugger struct {
	abiVal abi.ABI
}

func (s stubDebugger) ABI() abi.ABI                         { return s.abiVal }
func (s stubDebugger) Syscall() int                         { return 0 }
func (s stubDebugger) SyscallName() string                  { return "" }
func (s stubDebugger) Uarg(n int) uint64                    { return 0 }
func (s stubDebugger) ReadString(uint64, int) ([]byte, error) { return nil, nil }
func (s stubDebugger) NoopSyscallID() int                   { return -1 }
func (s stubDebugger) RewriteSyscall(int)                   {}
func (s stubDebugger) WriteRegisters() error                { return nil }

func TestAbsentCanonicalDefaultsToDeny(t *testing.T) {
	tbl := New(map[abi.Syscall]Handler{})
	for _, n := range abi.NativeFor(abi.Open, abi.X86_64) {
		assert.False(t, tbl.OnSyscall(abi.X86_64, n, stubDebugger{abiVal: abi.X86_64}))
	}
}

func TestAllowHandler(t *testing.T) {
	tbl := New(map[abi.Syscall]Handler{abi.Getpid: Allow})
	natives := abi.NativeFor(abi.Getpid, abi.X86_64)
	require.NotEmpty(t, natives)
	assert.True(t, tbl.OnSyscall(abi.X86_64, natives[0], stubDebugger{abiVal: abi.X86_64}))
}

func TestCallbackHandlerInvoked(t *testing.T) {
	called := false
	h := Callback(func(dbg Debugger) bool {
		called = true
		return true
	})
	tbl := New(map[abi.Syscall]Handler{abi.Open: h})
	natives := abi.NativeFor(abi.Open, abi.X86_64)
	require.NotEmpty(t, natives)
	assert.True(t, tbl.OnSyscall(abi.X86_64, natives[0], stubDebugger{abiVal: abi.X86_64}))
	assert.True(t, called)
}

func TestX32DispatchStripsSyscallBit(t *testing.T) {
	tbl := New(map[abi.Syscall]Handler{abi.Read: Allow})
	natives := abi.NativeFor(abi.Read, abi.X32)
	require.NotEmpty(t, natives)
	assert.True(t, tbl.OnSyscall(abi.X32, natives[0], stubDebugger{abiVal: abi.X32}))

	// The same number under x86_64 is out of table range, not a panic.
	assert.False(t, tbl.OnSyscall(abi.X86_64, natives[0], stubDebugger{abiVal: abi.X86_64}))
}

func TestARMPrivateWindowAlwaysAllowed(t *testing.T) {
	tbl := New(map[abi.Syscall]Handler{})
	assert.True(t, tbl.OnSyscall(abi.ARM, 0xF0002, stubDebugger{abiVal: abi.ARM}))
}

func TestExitAndExitGroupNeverWhitelisted(t *testing.T) {
	tbl := New(map[abi.Syscall]Handler{
		abi.Exit:      Allow,
		abi.ExitGroup: Allow,
	})
	wl := tbl.SeccompWhitelist()
	for _, n := range abi.NativeFor(abi.Exit, abi.Native()) {
		assert.False(t, wl[n])
	}
	for _, n := range abi.NativeFor(abi.ExitGroup, abi.Native()) {
		assert.False(t, wl[n])
	}
}

func TestWhitelistTracksAllowOnly(t *testing.T) {
	tbl := New(map[abi.Syscall]Handler{
		abi.Getpid: Allow,
		abi.Open:   Callback(func(Debugger) bool { return true }),
	})
	wl := tbl.SeccompWhitelist()
	for _, n := range abi.NativeFor(abi.Getpid, abi.Native()) {
		assert.True(t, wl[n])
	}
	for _, n := range abi.NativeFor(abi.Open, abi.Native()) {
		assert.False(t, wl[n], "callback handlers force a ptrace stop, never the seccomp fast path")
	}
}
