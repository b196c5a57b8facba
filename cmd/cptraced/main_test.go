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
	"io/ioutil"
	"testing"

	"github.com/sirupsen/logrus"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/dmoj-sandbox/cptrace/abi"
	"github.com/dmoj-sandbox/cptrace/policy"
)

func TestMain(m *testing.M) {

	// Disable log generation during UT.
	logrus.SetOutput(ioutil.Discard)

	m.Run()
}

func TestPresetNone(t *testing.T) {
	sec, err := presetPolicy("none")
	require.NoError(t, err)
	assert.Nil(t, sec)
}

func TestPresetPermissiveCoversAllCanonicals(t *testing.T) {
	sec, err := presetPolicy("permissive")
	require.NoError(t, err)
	require.Len(t, sec, abi.SyscallCount())
	for _, id := range abi.All() {
		h, ok := sec[id]
		require.True(t, ok, "canonical %s missing", abi.ByID(id))
		assert.True(t, h.IsAllow())
	}
}

func TestPresetDefaultDeniesProcessControl(t *testing.T) {
	sec, err := presetPolicy("default")
	require.NoError(t, err)

	for _, id := range []abi.Syscall{abi.Fork, abi.Clone, abi.Execve, abi.Ptrace, abi.Mount, abi.Kill} {
		_, ok := sec[id]
		assert.False(t, ok, "%s should be absent (deny-by-default)", abi.ByID(id))
	}
	assert.True(t, sec[abi.Read].IsAllow())
	assert.True(t, sec[abi.Exit].IsAllow())
	assert.True(t, sec[abi.ExitGroup].IsAllow())
}

type openArgs struct {
	args [6]uint64
}

func (s openArgs) ABI() abi.ABI                         { return abi.X86_64 }
func (s openArgs) Syscall() int                         { return 2 }
func (s openArgs) SyscallName() string                  { return "open" }
func (s openArgs) Uarg(n int) uint64                    { return s.args[n] }
func (s openArgs) ReadString(uint64, int) ([]byte, error) { return nil, nil }
func (s openArgs) NoopSyscallID() int                   { return 39 }
func (s openArgs) RewriteSyscall(int)                   {}
func (s openArgs) WriteRegisters() error                { return nil }

func TestPresetDefaultOpenCallback(t *testing.T) {
	sec, err := presetPolicy("default")
	require.NoError(t, err)

	tbl := policy.New(sec)
	openNr := abi.NativeFor(abi.Open, abi.X86_64)[0]

	const oWronly, oRdwr = 1, 2
	assert.True(t, tbl.OnSyscall(abi.X86_64, openNr, openArgs{}))
	assert.False(t, tbl.OnSyscall(abi.X86_64, openNr, openArgs{args: [6]uint64{0, oWronly}}))
	assert.False(t, tbl.OnSyscall(abi.X86_64, openNr, openArgs{args: [6]uint64{0, oRdwr}}))
}

func TestPresetUnknown(t *testing.T) {
	_, err := presetPolicy("paranoid")
	assert.Error(t, err)
}

func TestParseEnv(t *testing.T) {
	env, err := parseEnv(nil)
	require.NoError(t, err)
	assert.Nil(t, env, "no --env entries means inherit the caller environment")

	env, err = parseEnv([]string{"PATH=/usr/bin", "LANG=", "TERM"})
	require.NoError(t, err)
	require.Len(t, env, 3)
	require.NotNil(t, env["PATH"])
	assert.Equal(t, "/usr/bin", *env["PATH"])
	require.NotNil(t, env["LANG"])
	assert.Equal(t, "", *env["LANG"])
	assert.Nil(t, env["TERM"], "bare NAME drops the variable")

	_, err = parseEnv([]string{"=oops"})
	assert.Error(t, err)
}
