// Package fence orders CPU work against GPU completion.
//
// Blocking keeps exactly one unit of GPU work outstanding: every
// SignalAndWait returns only after the GPU reached the signaled value.
// Ring keeps up to N frames in flight and only blocks when a frame slot is
// reused. Both satisfy Pacer so the frame loop can switch between them.
package fence

import (
	"errors"
	"fmt"
	"log/slog"
	"math"
	"time"

	"github.com/gogpu/raytrace/hal"
	"github.com/gogpu/raytrace/internal/rtlog"
)

// Errors reported by the synchronizers.
var (
	// ErrNotMonotonic is returned when a value does not exceed the last
	// signaled value.
	ErrNotMonotonic = errors.New("fence: value must increase")

	// ErrDeviceLost is returned when the fence jumped to its removal value.
	ErrDeviceLost = errors.New("fence: device lost while waiting")
)

func slogger() *slog.Logger { return rtlog.Logger() }

// Blocking is a fence plus a waitable event.
type Blocking struct {
	dev     hal.Device
	fence   hal.Fence
	event   hal.Event
	timeout time.Duration
	last    uint64
}

// NewBlocking creates a fence at zero and its completion event.
// A negative timeout waits forever.
func NewBlocking(dev hal.Device, timeout time.Duration) (*Blocking, error) {
	f, err := dev.CreateFence(0)
	if err != nil {
		return nil, fmt.Errorf("fence: create fence: %w", err)
	}
	e, err := dev.CreateEvent()
	if err != nil {
		f.Destroy()
		return nil, fmt.Errorf("fence: create event: %w", err)
	}
	return &Blocking{dev: dev, fence: f, event: e, timeout: timeout}, nil
}

// SignalAndWait signals value on q, blocks until the fence reaches it and
// returns value+1.
func (b *Blocking) SignalAndWait(q hal.Queue, value uint64) (uint64, error) {
	if err := b.Signal(q, value); err != nil {
		return value, err
	}
	if err := b.Wait(value); err != nil {
		return value, err
	}
	return value + 1, nil
}

// Signal enqueues value on q without waiting.
func (b *Blocking) Signal(q hal.Queue, value uint64) error {
	if value <= b.last {
		return fmt.Errorf("%w: %d after %d", ErrNotMonotonic, value, b.last)
	}
	if err := q.Signal(b.fence, value); err != nil {
		if errors.Is(err, hal.ErrDeviceRemoved) {
			return fmt.Errorf("%w: %w", ErrDeviceLost, err)
		}
		return fmt.Errorf("fence: signal %d: %w", value, err)
	}
	b.last = value
	return nil
}

// Wait blocks until the fence reaches value. A wake-up that leaves the
// fence short of value re-arms the event; the timeout bounds the whole wait.
func (b *Blocking) Wait(value uint64) error {
	var deadline time.Time
	if b.timeout >= 0 {
		deadline = time.Now().Add(b.timeout)
	}
	completed := b.fence.CompletedValue()
	for completed < value {
		timeout := b.timeout
		if !deadline.IsZero() {
			if timeout = time.Until(deadline); timeout <= 0 {
				return fmt.Errorf("fence: wait for %d: %w", value, hal.ErrTimeout)
			}
		}
		if err := b.fence.SetEventOnCompletion(value, b.event); err != nil {
			return fmt.Errorf("fence: arm event for %d: %w", value, err)
		}
		if err := b.event.Wait(timeout); err != nil {
			return fmt.Errorf("fence: wait for %d: %w", value, err)
		}
		completed = b.fence.CompletedValue()
	}
	if completed == math.MaxUint64 {
		if reason := b.dev.RemovedReason(); reason != nil {
			return fmt.Errorf("%w: %w", ErrDeviceLost, reason)
		}
		return ErrDeviceLost
	}
	slogger().Debug("fence: reached", "value", value, "completed", completed)
	return nil
}

// Completed returns the fence's completed value.
func (b *Blocking) Completed() uint64 { return b.fence.CompletedValue() }

// LastSignaled returns the last value passed to Signal.
func (b *Blocking) LastSignaled() uint64 { return b.last }

// Destroy releases the fence and event.
func (b *Blocking) Destroy() {
	b.event.Destroy()
	b.fence.Destroy()
}
