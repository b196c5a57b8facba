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

// Package watchdog enforces the soft CPU and wall-clock deadlines on a
// traced process. It runs as a single worker alongside the tracer's
// monitor loop, waking once a second to compare the monitor's published
// time counters against the configured limits. Between checks it pokes
// the tracee's process group with a benign signal: a tracee spinning
// purely in userspace never re-enters the kernel on its own, so without
// the poke the monitor would never get a stop at which to refresh its
// CPU counter, and the deadline would never be seen to expire.
package watchdog

import (
	"sync"
	"time"

	"github.com/sirupsen/logrus"
)

// Counters is the supervisor surface the watchdog observes and acts on.
// Elapsed reads are relaxed: values up to one wake interval stale are
// fine, the kernel-side RLIMIT_CPU hard cap backstops any drift.
type Counters interface {
	Elapsed() (cpu, wall time.Duration)
	MarkTLE()
	KillGroup() error
}

// Watchdog is the "shocker" worker: it periodically shocks the tracee
// awake and escalates to a group kill once a deadline passes. One
// watchdog serves exactly one traced process; it is not restartable.
type Watchdog struct {
	counters  Counters
	cpuLimit  time.Duration
	wallLimit time.Duration
	wake      func() error

	interval time.Duration

	stopOnce sync.Once
	stop     chan struct{}
}

// New builds a watchdog for one tracee. cpuLimit must be positive
// (callers with no CPU limit never start a watchdog). A zero wallLimit
// defaults to 3x cpuLimit, enough headroom for a tracee that spends its
// time blocked on I/O rather than burning CPU.
func New(c Counters, cpuLimit, wallLimit time.Duration, wake func() error) *Watchdog {
	if wallLimit <= 0 {
		wallLimit = 3 * cpuLimit
	}
	return &Watchdog{
		counters:  c,
		cpuLimit:  cpuLimit,
		wallLimit: wallLimit,
		wake:      wake,
		interval:  time.Second,
		stop:      make(chan struct{}),
	}
}

// Run loops until the tracee dies (Stop) or a deadline fires. Runs on
// its own goroutine; returns after at most one kill.
func (w *Watchdog) Run() {
	ticker := time.NewTicker(w.interval)
	defer ticker.Stop()

	for {
		select {
		case <-w.stop:
			return
		case <-ticker.C:
			if w.check() {
				return
			}
		}
	}
}

// check performs one wake cycle. Returns true when the watchdog's job is
// done (a deadline fired and the kill was issued).
func (w *Watchdog) check() bool {
	cpu, wall := w.counters.Elapsed()

	if cpu > w.cpuLimit || wall > w.wallLimit {
		logrus.WithFields(logrus.Fields{
			"cpu":       cpu,
			"wall":      wall,
			"cpuLimit":  w.cpuLimit,
			"wallLimit": w.wallLimit,
		}).Info("watchdog: time limit exceeded, killing process group")
		w.counters.MarkTLE()
		if err := w.counters.KillGroup(); err != nil {
			// The tracee may have exited between the deadline check and
			// the kill; pid reuse aside, this is a benign race.
			logrus.WithError(err).Warn("watchdog: group kill failed")
		}
		return true
	}

	if err := w.wake(); err != nil {
		// Same race as above: the group may be gone already. The monitor
		// observing the death is what actually ends this worker.
		logrus.WithError(err).Debug("watchdog: wake signal not delivered")
	}
	return false
}

// Stop ends the watchdog without a kill, used by the monitor once it has
// observed the tracee's death. Idempotent; safe to call concurrently
// with Run returning on its own.
func (w *Watchdog) Stop() {
	w.stopOnce.Do(func() { close(w.stop) })
}
