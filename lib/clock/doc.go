// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

// Package clock lets time-dependent code run against a fake clock in
// tests.
//
// Components that wait (the report publisher's refresh ticker, the
// rate-limit back-off, the supervisor's stop grace period) take a
// Clock instead of calling the time package. Production passes Real();
// tests pass Fake() and step time forward with Advance:
//
//	fake := clock.Fake(time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC))
//	go publisher.Run(ctx)
//	fake.WaitForTimers(1)       // the publisher's ticker is registered
//	fake.Advance(5 * time.Second)
package clock
