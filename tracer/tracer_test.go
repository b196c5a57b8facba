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

package tracer

import (
	"io/ioutil"
	"os"
	"strings"
	"testing"
	"time"

	"github.com/sirupsen/logrus"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"golang.org/x/sys/unix"

	"github.com/dmoj-sandbox/cptrace/debugger"
)

func TestMain(m *testing.M) {

	// Disable log generation during UT.
	logrus.SetOutput(ioutil.Discard)

	m.Run()
}

func TestSpawnErrorFromExitCode(t *testing.T) {
	tests := []struct {
		code int
		want SpawnCode
	}{
		{exitNoNewPrivs, SpawnFailNoNewPrivs},
		{exitSeccomp, SpawnFailSeccomp},
		{exitTraceme, SpawnFailTraceme},
		{exitExecve, SpawnFailExecve},
	}
	for _, tt := range tests {
		err := spawnErrorFromExitCode(tt.code)
		var se *SpawnError
		require.ErrorAs(t, err, &se, "exit code %d", tt.code)
		assert.Equal(t, tt.want, se.Code)
	}

	// Anything outside the reserved taxonomy is a generic error, not a
	// SpawnError.
	_, ok := spawnErrorFromExitCode(42).(*SpawnError)
	assert.False(t, ok)
}

func TestSpawnErrorMessages(t *testing.T) {
	assert.Contains(t, (&SpawnError{Code: SpawnFailExecve}).Error(), "execve")
	assert.Contains(t, (&SpawnError{Code: SpawnFailSeccomp}).Error(), "seccomp")

	// The traceme failure must carry actionable guidance.
	msg := (&SpawnError{Code: SpawnFailTraceme}).Error()
	assert.Contains(t, msg, "ptrace_scope")
	assert.Contains(t, msg, "SYS_PTRACE")
}

func TestBuildRlimits(t *testing.T) {
	specs := buildRlimits(Limits{
		Memory:       65536,
		AddressGrace: 4096,
		DataGrace:    1024,
		NProc:        8,
		FSize:        2048,
		CPUTime:      2 * time.Second,
	})

	byResource := map[int]rlimitSpec{}
	for _, s := range specs {
		byResource[s.Resource] = s
	}

	as, ok := byResource[unix.RLIMIT_AS]
	require.True(t, ok)
	assert.Equal(t, uint64((65536+4096)*1024), as.Cur)

	data, ok := byResource[unix.RLIMIT_DATA]
	require.True(t, ok)
	assert.Equal(t, uint64((65536+1024)*1024), data.Cur)

	core, ok := byResource[unix.RLIMIT_CORE]
	require.True(t, ok)
	assert.Equal(t, uint64(0), core.Cur)
	assert.Equal(t, uint64(0), core.Max)

	nproc, ok := byResource[unix.RLIMIT_NPROC]
	require.True(t, ok)
	assert.Equal(t, uint64(8), nproc.Cur)

	fsize, ok := byResource[unix.RLIMIT_FSIZE]
	require.True(t, ok)
	assert.Equal(t, uint64(2048*1024), fsize.Cur)

	// The kernel-side CPU hard cap sits 5 seconds above the watchdog's
	// own deadline.
	cpu, ok := byResource[unix.RLIMIT_CPU]
	require.True(t, ok)
	assert.Equal(t, uint64(7), cpu.Cur)
}

func TestBuildRlimitsZeroLimits(t *testing.T) {
	specs := buildRlimits(Limits{})

	byResource := map[int]rlimitSpec{}
	for _, s := range specs {
		byResource[s.Resource] = s
	}

	// Core is clamped to zero unconditionally; everything else is absent.
	_, ok := byResource[unix.RLIMIT_CORE]
	assert.True(t, ok)
	_, ok = byResource[unix.RLIMIT_AS]
	assert.False(t, ok)
	_, ok = byResource[unix.RLIMIT_CPU]
	assert.False(t, ok)
	_, ok = byResource[unix.RLIMIT_NPROC]
	assert.False(t, ok)
}

func TestResolveEnv(t *testing.T) {
	// nil map inherits the caller environment.
	inherited := resolveEnv(nil)
	assert.Equal(t, os.Environ(), inherited)

	val := "bar"
	env := resolveEnv(map[string]*string{
		"FOO":     &val,
		"DROPPED": nil,
	})
	require.Len(t, env, 1)
	assert.Equal(t, "FOO=bar", env[0])
}

func TestItoa(t *testing.T) {
	assert.Equal(t, "0", itoa(0))
	assert.Equal(t, "12345", itoa(12345))
	assert.Equal(t, "-7", itoa(-7))
}

func TestReadProcCPUTimeSelf(t *testing.T) {
	cpu, err := readProcCPUTime(os.Getpid())
	require.NoError(t, err)
	assert.GreaterOrEqual(t, cpu, time.Duration(0))
	// Sanity bound: this test process hasn't burned an hour of CPU.
	assert.Less(t, cpu, time.Hour)
}

func TestReadProcCPUTimeGone(t *testing.T) {
	// pid 0 has no /proc entry.
	_, err := readProcCPUTime(0)
	assert.Error(t, err)
}

func TestReadProcPeakRSSSelf(t *testing.T) {
	rss, err := readProcPeakRSS(os.Getpid())
	require.NoError(t, err)
	assert.Greater(t, rss, int64(0))
}

func newDeadSupervisor(cfg Config) *Supervisor {
	s := &Supervisor{
		cfg:              cfg,
		spawnedOrErrored: make(chan struct{}),
		died:             make(chan struct{}),
		startedAt:        time.Now(),
	}
	close(s.spawnedOrErrored)
	close(s.died)
	return s
}

func TestSnapshotVerdictDerivation(t *testing.T) {
	tests := []struct {
		name       string
		returnCode int
		maxMemory  int64
		memLimit   int64
		fault      bool
		wantRTE    bool
		wantIR     bool
		wantMLE    bool
	}{
		{name: "clean exit", returnCode: 0},
		{name: "killed by signal", returnCode: -9, wantRTE: true},
		{name: "nonzero exit", returnCode: 1, wantIR: true},
		{name: "protection fault", returnCode: -9, fault: true, wantRTE: true},
		{name: "over memory", maxMemory: 70000, memLimit: 65536, wantMLE: true},
		{name: "under memory", maxMemory: 1000, memLimit: 65536},
		{name: "no memory limit", maxMemory: 70000},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			s := newDeadSupervisor(Config{Limits: Limits{Memory: tt.memLimit}})
			s.returnCode = tt.returnCode
			s.maxMemory = tt.maxMemory
			if tt.fault {
				f := debugger.ProtectionFaultPtraceFail(int(unix.ESRCH))
				s.fault = &f
			}

			res := s.snapshot()
			assert.Equal(t, tt.wantRTE, res.IsRTE)
			assert.Equal(t, tt.wantIR, res.IsIR)
			assert.Equal(t, tt.wantMLE, res.IsMLE)
			assert.Equal(t, tt.returnCode, res.ReturnCode)
		})
	}
}

func TestWaitReturnsStoredSpawnError(t *testing.T) {
	s := newDeadSupervisor(Config{})
	s.spawnErr = &SpawnError{Code: SpawnFailExecve}

	res, err := s.Wait()
	assert.Nil(t, res)
	var se *SpawnError
	require.ErrorAs(t, err, &se)
	assert.Equal(t, SpawnFailExecve, se.Code)

	// Wait is level-triggered: a second call observes the same outcome.
	_, err2 := s.Wait()
	assert.Equal(t, err, err2)
}

func TestMarkOLE(t *testing.T) {
	s := newDeadSupervisor(Config{})
	s.MarkOLE()
	res, err := s.Wait()
	require.NoError(t, err)
	assert.True(t, res.IsOLE)
}

func TestKillBeforeSpawnIsNoop(t *testing.T) {
	s := &Supervisor{}
	assert.NoError(t, s.Kill())
}

func TestBuildChildConfigResolvesExecutable(t *testing.T) {
	s := &Supervisor{cfg: Config{Argv: []string{"sh", "-c", "true"}}}
	cc, err := s.buildChildConfig()
	require.NoError(t, err)
	assert.True(t, strings.HasSuffix(cc.Executable, "/sh"), "got %q", cc.Executable)
	assert.False(t, cc.Trace, "nil Security disables tracing")
	assert.False(t, cc.InstallSeccomp)
	assert.Empty(t, cc.Whitelist)
}

func TestBuildChildConfigEmptyArgv(t *testing.T) {
	s := &Supervisor{}
	_, err := s.buildChildConfig()
	assert.Error(t, err)
}
