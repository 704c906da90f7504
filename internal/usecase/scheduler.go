// Package usecase contains application business logic.
package usecase

import "time"

// Scheduler arms deferred and periodic callbacks. Callbacks are delivered
// on the runtime event loop, so usecase code never sees concurrent calls.
// The returned cancel funcs are idempotent.
type Scheduler interface {
	// AfterFunc runs fn once after d.
	AfterFunc(d time.Duration, fn func()) (cancel func())

	// Every runs fn repeatedly every d until cancelled.
	Every(d time.Duration, fn func()) (cancel func())
}

// Clock returns the current wall-clock time. Injected so tests control it.
type Clock func() time.Time
