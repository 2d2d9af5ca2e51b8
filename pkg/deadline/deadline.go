// Package deadline runs operations under a time budget that can be paused
// while they wait on a human.
package deadline

import (
	"context"
	"math"
	"sync"
	"time"

	"drivegate/pkg/errs"
)

// Unlimited is reported by Remaining when no deadline applies.
const Unlimited = time.Duration(math.MaxInt64)

// Deadline is a pausable countdown. Pauses nest: the clock only runs again
// once every Pause has been matched by a Resume.
//
// All methods are safe on a nil *Deadline and do nothing.
type Deadline struct {
	clock Clock

	mu        sync.Mutex
	unlimited bool
	remaining time.Duration // budget left as of started
	started   time.Time
	paused    int
	timer     Timer
	gen       uint64
	expired   chan struct{}
	fired     bool
	stopped   bool
	checkin   string
}

// New creates a stopped deadline with the given budget. A zero or negative
// timeout never expires.
func New(clock Clock, timeout time.Duration) *Deadline {
	if clock == nil {
		clock = RealClock()
	}
	return &Deadline{
		clock:     clock,
		unlimited: timeout <= 0,
		remaining: timeout,
		expired:   make(chan struct{}),
	}
}

// Start begins the countdown.
func (d *Deadline) Start() {
	if d == nil {
		return
	}
	d.mu.Lock()
	defer d.mu.Unlock()
	d.started = d.clock.Now()
	d.arm()
}

// arm schedules expiry for the remaining budget. Caller holds d.mu.
func (d *Deadline) arm() {
	if d.unlimited || d.fired || d.stopped {
		return
	}
	d.gen++
	gen := d.gen
	if d.remaining <= 0 {
		d.expire()
		return
	}
	d.timer = d.clock.AfterFunc(d.remaining, func() {
		d.mu.Lock()
		defer d.mu.Unlock()
		if gen != d.gen || d.paused > 0 || d.stopped {
			return
		}
		d.remaining = 0
		d.expire()
	})
}

// disarm cancels the pending expiry and banks the elapsed time. Caller holds d.mu.
func (d *Deadline) disarm() {
	if d.unlimited || d.fired {
		return
	}
	d.gen++
	if d.timer != nil {
		d.timer.Stop()
		d.timer = nil
	}
	d.remaining -= d.clock.Now().Sub(d.started)
}

func (d *Deadline) expire() {
	if d.fired {
		return
	}
	d.fired = true
	close(d.expired)
}

// Pause stops the clock.
func (d *Deadline) Pause() {
	if d == nil {
		return
	}
	d.mu.Lock()
	defer d.mu.Unlock()
	d.paused++
	if d.paused == 1 {
		d.disarm()
	}
}

// Resume restarts the clock from where Pause left it.
func (d *Deadline) Resume() {
	if d == nil {
		return
	}
	d.mu.Lock()
	defer d.mu.Unlock()
	if d.paused == 0 {
		return
	}
	d.paused--
	if d.paused == 0 {
		d.started = d.clock.Now()
		d.arm()
	}
}

// Paused reports whether at least one Pause is outstanding.
func (d *Deadline) Paused() bool {
	if d == nil {
		return false
	}
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.paused > 0
}

// Remaining returns the unspent budget, or Unlimited.
func (d *Deadline) Remaining() time.Duration {
	if d == nil {
		return Unlimited
	}
	d.mu.Lock()
	defer d.mu.Unlock()
	if d.unlimited {
		return Unlimited
	}
	if d.fired {
		return 0
	}
	left := d.remaining
	if d.paused == 0 && !d.stopped {
		left -= d.clock.Now().Sub(d.started)
	}
	if left < 0 {
		return 0
	}
	return left
}

// Checkin records a progress label. It has no effect on the budget.
func (d *Deadline) Checkin(label string) {
	if d == nil {
		return
	}
	d.mu.Lock()
	defer d.mu.Unlock()
	d.checkin = label
}

// LastCheckin returns the most recent Checkin label.
func (d *Deadline) LastCheckin() string {
	if d == nil {
		return ""
	}
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.checkin
}

// Expired is closed when the budget runs out.
func (d *Deadline) Expired() <-chan struct{} {
	if d == nil {
		return nil
	}
	return d.expired
}

// Stop releases the timer. A stopped deadline never expires.
func (d *Deadline) Stop() {
	if d == nil {
		return
	}
	d.mu.Lock()
	defer d.mu.Unlock()
	if d.paused == 0 {
		d.disarm()
	}
	d.stopped = true
}

type contextKey struct{}

// NewContext returns a context carrying d.
func NewContext(ctx context.Context, d *Deadline) context.Context {
	return context.WithValue(ctx, contextKey{}, d)
}

// FromContext returns the Deadline carried by ctx, or nil.
func FromContext(ctx context.Context) *Deadline {
	d, _ := ctx.Value(contextKey{}).(*Deadline)
	return d
}

// Run executes op with the real clock. See RunWithClock.
func Run[T any](ctx context.Context, timeout time.Duration, op func(context.Context) (T, error)) (T, error) {
	return RunWithClock(ctx, RealClock(), timeout, op)
}

// RunWithClock executes op under a fresh Deadline carried in its context.
// When the budget runs out while not paused, RunWithClock returns a Timeout
// error naming the last checkin and cancels op's context. op keeps running
// until it observes the cancellation; its eventual result is discarded.
func RunWithClock[T any](ctx context.Context, clock Clock, timeout time.Duration, op func(context.Context) (T, error)) (T, error) {
	var zero T

	d := New(clock, timeout)
	opCtx, cancel := context.WithCancelCause(NewContext(ctx, d))
	defer cancel(nil)

	type result struct {
		value T
		err   error
	}
	done := make(chan result, 1)

	d.Start()
	defer d.Stop()

	go func() {
		v, err := op(opCtx)
		done <- result{value: v, err: err}
	}()

	select {
	case r := <-done:
		return r.value, r.err
	case <-d.Expired():
		err := timeoutError(timeout, d.LastCheckin())
		cancel(err)
		return zero, err
	case <-ctx.Done():
		return zero, context.Cause(ctx)
	}
}

func timeoutError(timeout time.Duration, checkin string) error {
	if checkin == "" {
		return errs.Timeout("timed out after %s", timeout)
	}
	return errs.Timeout("timed out after %s (last checkin: %s)", timeout, checkin)
}
