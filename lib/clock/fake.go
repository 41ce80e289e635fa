// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

package clock

import (
	"slices"
	"sync"
	"time"
)

// FakeClock is a Clock whose time moves only when Advance is called.
// It is safe for concurrent use.
type FakeClock struct {
	mutex   sync.Mutex
	changed *sync.Cond
	now     time.Time
	waiters []*fakeWaiter
}

type fakeWaiter struct {
	deadline time.Time
	channel  chan time.Time
	// period is zero for one-shot waiters created by After.
	period  time.Duration
	stopped bool
}

// Fake returns a FakeClock reading initial.
func Fake(initial time.Time) *FakeClock {
	fake := &FakeClock{now: initial}
	fake.changed = sync.NewCond(&fake.mutex)
	return fake
}

// Now returns the fake time.
func (fake *FakeClock) Now() time.Time {
	fake.mutex.Lock()
	defer fake.mutex.Unlock()
	return fake.now
}

// After registers a one-shot waiter that fires when the clock is
// advanced to or past now+d.
func (fake *FakeClock) After(d time.Duration) <-chan time.Time {
	fake.mutex.Lock()
	defer fake.mutex.Unlock()

	channel := make(chan time.Time, 1)
	if d <= 0 {
		channel <- fake.now
		return channel
	}
	fake.addLocked(&fakeWaiter{deadline: fake.now.Add(d), channel: channel})
	return channel
}

// NewTicker registers a periodic waiter.
func (fake *FakeClock) NewTicker(d time.Duration) *Ticker {
	if d <= 0 {
		panic("clock: non-positive ticker period")
	}
	fake.mutex.Lock()
	defer fake.mutex.Unlock()

	channel := make(chan time.Time, 1)
	waiter := &fakeWaiter{deadline: fake.now.Add(d), channel: channel, period: d}
	fake.addLocked(waiter)
	return &Ticker{C: channel, stop: func() {
		fake.mutex.Lock()
		defer fake.mutex.Unlock()
		waiter.stopped = true
		fake.changed.Broadcast()
	}}
}

// Advance moves the clock forward by d and fires every waiter whose
// deadline has been reached, earliest first. A ticker whose period
// elapsed several times fires once per period, subject to the
// capacity-1 drop rule.
func (fake *FakeClock) Advance(d time.Duration) {
	fake.mutex.Lock()
	defer fake.mutex.Unlock()

	fake.now = fake.now.Add(d)
	for {
		due := fake.nextDueLocked()
		if due == nil {
			break
		}
		select {
		case due.channel <- due.deadline:
		default:
		}
		if due.period > 0 {
			due.deadline = due.deadline.Add(due.period)
		} else {
			due.stopped = true
		}
	}
	fake.waiters = slices.DeleteFunc(fake.waiters, func(waiter *fakeWaiter) bool {
		return waiter.stopped
	})
	fake.changed.Broadcast()
}

// WaitForTimers blocks until at least n waiters are pending. Call it
// before Advance to be sure the goroutine under test has reached its
// wait.
func (fake *FakeClock) WaitForTimers(n int) {
	fake.mutex.Lock()
	defer fake.mutex.Unlock()
	for fake.pendingLocked() < n {
		fake.changed.Wait()
	}
}

// PendingCount returns the number of waiters not yet fired or stopped.
func (fake *FakeClock) PendingCount() int {
	fake.mutex.Lock()
	defer fake.mutex.Unlock()
	return fake.pendingLocked()
}

func (fake *FakeClock) addLocked(waiter *fakeWaiter) {
	fake.waiters = append(fake.waiters, waiter)
	fake.changed.Broadcast()
}

func (fake *FakeClock) nextDueLocked() *fakeWaiter {
	var earliest *fakeWaiter
	for _, waiter := range fake.waiters {
		if waiter.stopped || waiter.deadline.After(fake.now) {
			continue
		}
		if earliest == nil || waiter.deadline.Before(earliest.deadline) {
			earliest = waiter
		}
	}
	return earliest
}

func (fake *FakeClock) pendingLocked() int {
	count := 0
	for _, waiter := range fake.waiters {
		if !waiter.stopped {
			count++
		}
	}
	return count
}
