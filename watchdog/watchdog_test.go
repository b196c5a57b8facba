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

package watchdog

import (
	"io/ioutil"
	"sync"
	"testing"
	"time"

	"github.com/sirupsen/logrus"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestMain(m *testing.M) {
	logrus.SetOutput(ioutil.Discard)
	m.Run()
}

type fakeCounters struct {
	mu     sync.Mutex
	cpu    time.Duration
	wall   time.Duration
	tle    bool
	killed int
}

func (f *fakeCounters) Elapsed() (time.Duration, time.Duration) {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.cpu, f.wall
}

func (f *fakeCounters) MarkTLE() {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.tle = true
}

func (f *fakeCounters) KillGroup() error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.killed++
	return nil
}

func (f *fakeCounters) state() (bool, int) {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.tle, f.killed
}

func TestWallLimitDefaultsToTripleCPU(t *testing.T) {
	w := New(&fakeCounters{}, 2*time.Second, 0, func() error { return nil })
	assert.Equal(t, 6*time.Second, w.wallLimit)

	w = New(&fakeCounters{}, 2*time.Second, 10*time.Second, func() error { return nil })
	assert.Equal(t, 10*time.Second, w.wallLimit)
}

func TestCheckWakesUnderLimit(t *testing.T) {
	c := &fakeCounters{cpu: 500 * time.Millisecond, wall: time.Second}
	woken := 0
	w := New(c, time.Second, 3*time.Second, func() error { woken++; return nil })

	require.False(t, w.check())
	assert.Equal(t, 1, woken)
	tle, killed := c.state()
	assert.False(t, tle)
	assert.Equal(t, 0, killed)
}

func TestCheckKillsOnCPUDeadline(t *testing.T) {
	c := &fakeCounters{cpu: 1500 * time.Millisecond, wall: 2 * time.Second}
	w := New(c, time.Second, 0, func() error { return nil })

	require.True(t, w.check())
	tle, killed := c.state()
	assert.True(t, tle)
	assert.Equal(t, 1, killed)
}

func TestCheckKillsOnWallDeadline(t *testing.T) {
	// CPU well under its limit: a sleeping tracee accrues wall time only.
	c := &fakeCounters{cpu: 100 * time.Millisecond, wall: 7 * time.Second}
	w := New(c, 2*time.Second, 0, func() error { return nil })

	require.True(t, w.check())
	tle, killed := c.state()
	assert.True(t, tle)
	assert.Equal(t, 1, killed)
}

func TestWakeErrorIsSwallowed(t *testing.T) {
	c := &fakeCounters{}
	w := New(c, time.Second, 0, func() error { return assert.AnError })

	assert.NotPanics(t, func() { w.check() })
	tle, killed := c.state()
	assert.False(t, tle)
	assert.Equal(t, 0, killed)
}

func TestRunStops(t *testing.T) {
	c := &fakeCounters{}
	w := New(c, time.Second, 0, func() error { return nil })
	w.interval = 10 * time.Millisecond

	done := make(chan struct{})
	go func() {
		w.Run()
		close(done)
	}()

	w.Stop()
	select {
	case <-done:
	case <-time.After(time.Second):
		t.Fatal("watchdog did not stop")
	}

	// Stop is idempotent, including after Run has returned.
	assert.NotPanics(t, w.Stop)
}

func TestRunKillsEventually(t *testing.T) {
	c := &fakeCounters{cpu: 2 * time.Second}
	w := New(c, time.Second, 0, func() error { return nil })
	w.interval = 10 * time.Millisecond

	done := make(chan struct{})
	go func() {
		w.Run()
		close(done)
	}()

	select {
	case <-done:
	case <-time.After(time.Second):
		t.Fatal("watchdog never fired")
	}
	tle, killed := c.state()
	assert.True(t, tle)
	assert.Equal(t, 1, killed)
}
