// detector.go — The `waitUntil: "idle"` readiness detector (spec §4.4): four
// independent booleans collapsed to one idle condition, with support for
// multiple concurrent waiters per tab. Grounded on the teacher's general
// "suspend a handler on a completion, resume on a signal" shape
// (internal/bridge's request/response correlation), generalized here from
// correlating JSON-RPC ids to correlating page-lifecycle signals.
package readiness

import (
	"context"
	"sync"
	"time"

	"github.com/brennhill/aslan-browser/internal/rpcerr"
	"github.com/brennhill/aslan-browser/internal/webview"
)

// Detector tracks the four idle signals for one tab and wakes waiters when
// all become true. Not safe to share across tabs; one Detector per tab.
type Detector struct {
	mu sync.Mutex

	didFinishNavigation bool
	domStable           bool
	networkIdle         bool
	readyStateComplete  bool

	waiters map[int]chan error
	nextID  int
}

// New returns a Detector in its post-navigate-reset state.
func New() *Detector {
	d := &Detector{waiters: make(map[int]chan error)}
	d.Reset()
	return d
}

// Reset re-arms all four signals for a new navigation (spec §4.4: "On
// navigate, reset all signals to their start values"). Waiters already
// registered stay pending — they are waiting for the next idle, not the one
// that just passed.
func (d *Detector) Reset() {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.didFinishNavigation = false
	d.domStable = false
	d.networkIdle = true
	d.readyStateComplete = false
}

// HandleEvent updates the relevant signal for a bridge/engine event and
// wakes any now-satisfied waiters.
func (d *Detector) HandleEvent(kind webview.EventKind) {
	d.mu.Lock()
	switch kind {
	case webview.EventNavigationFinished:
		d.didFinishNavigation = true
		d.readyStateComplete = true
	case webview.EventDOMStable:
		d.domStable = true
	case webview.EventNetworkBusy:
		d.networkIdle = false
	case webview.EventNetworkIdle:
		d.networkIdle = true
	default:
		d.mu.Unlock()
		return
	}
	idle := d.isIdle()
	var wake []chan error
	if idle {
		wake = make([]chan error, 0, len(d.waiters))
		for id, ch := range d.waiters {
			wake = append(wake, ch)
			delete(d.waiters, id)
		}
	}
	d.mu.Unlock()

	for _, ch := range wake {
		ch <- nil
	}
}

func (d *Detector) isIdle() bool {
	return d.didFinishNavigation && d.domStable && d.networkIdle && d.readyStateComplete
}

// IsIdle reports the current idle state without registering a waiter.
func (d *Detector) IsIdle() bool {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.isIdle()
}

// Wait suspends until idle becomes true or timeout elapses, whichever is
// first (spec §4.4 "a per-wait timeout task runs concurrently; on fire, it
// removes its waiter and resumes it with -32003").
func (d *Detector) Wait(ctx context.Context, timeout time.Duration) error {
	d.mu.Lock()
	if d.isIdle() {
		d.mu.Unlock()
		return nil
	}
	id := d.nextID
	d.nextID++
	ch := make(chan error, 1)
	d.waiters[id] = ch
	d.mu.Unlock()

	timer := time.NewTimer(timeout)
	defer timer.Stop()

	select {
	case err := <-ch:
		return err
	case <-timer.C:
		d.mu.Lock()
		delete(d.waiters, id)
		d.mu.Unlock()
		return rpcerr.Timeout("wait_for_idle")
	case <-ctx.Done():
		d.mu.Lock()
		delete(d.waiters, id)
		d.mu.Unlock()
		return ctx.Err()
	}
}

// CancelAll wakes every pending waiter with a cancellation error, used on
// tab teardown (spec §4.3 Teardown: "Readiness continuations pending on
// this tab must resolve with a cancellation error").
func (d *Detector) CancelAll() {
	d.mu.Lock()
	waiters := d.waiters
	d.waiters = make(map[int]chan error)
	d.mu.Unlock()
	cancelErr := rpcerr.New(rpcerr.KindTimeout, "tab closed while waiting for idle")
	for _, ch := range waiters {
		ch <- cancelErr
	}
}
