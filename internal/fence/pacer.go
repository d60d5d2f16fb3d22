package fence

import (
	"fmt"

	"github.com/gogpu/raytrace/hal"
)

// Pacer decides when the CPU may reuse the resources of a frame slot.
type Pacer interface {
	// BeginFrame blocks until the previous work of slot has completed.
	BeginFrame(slot int) error

	// EndFrame signals after the work submitted for slot and returns the
	// signaled value.
	EndFrame(q hal.Queue, slot int) (uint64, error)

	// Flush blocks until all submitted work has completed.
	Flush(q hal.Queue) (uint64, error)

	// Next returns the value the next signal will use.
	Next() uint64

	// Completed returns the fence's completed value.
	Completed() uint64

	Destroy()
}

// Serial is a Pacer with one unit of GPU work outstanding at most.
type Serial struct {
	sync *Blocking
	next uint64
}

// NewSerial paces frames with b. The first signaled value is 1.
func NewSerial(b *Blocking) *Serial {
	return &Serial{sync: b, next: 1}
}

// BeginFrame returns immediately: EndFrame already waited.
func (s *Serial) BeginFrame(int) error { return nil }

// EndFrame signals and waits for the frame.
func (s *Serial) EndFrame(q hal.Queue, _ int) (uint64, error) {
	return s.Flush(q)
}

// Flush signals the next value and waits for it.
func (s *Serial) Flush(q hal.Queue) (uint64, error) {
	value := s.next
	next, err := s.sync.SignalAndWait(q, value)
	if err != nil {
		return value, err
	}
	s.next = next
	return value, nil
}

// Next returns the value the next signal will use.
func (s *Serial) Next() uint64 { return s.next }

// Completed returns the fence's completed value.
func (s *Serial) Completed() uint64 { return s.sync.Completed() }

// Destroy releases the fence.
func (s *Serial) Destroy() { s.sync.Destroy() }

// Ring is a Pacer with one checkpoint per frame slot.
type Ring struct {
	sync  *Blocking
	next  uint64
	depth uint64
	slots []uint64
}

// NewRing paces frames with b over the given number of slots, with at most
// depth frames outstanding.
func NewRing(b *Blocking, slots, depth int) (*Ring, error) {
	if slots < 1 {
		return nil, fmt.Errorf("fence: ring needs at least one slot, got %d", slots)
	}
	if depth < 1 || depth > slots {
		return nil, fmt.Errorf("fence: depth %d outside [1, %d]", depth, slots)
	}
	return &Ring{sync: b, next: 1, depth: uint64(depth), slots: make([]uint64, slots)}, nil
}

// BeginFrame waits for the checkpoint recorded for slot and for the frame
// depth signals ago.
func (r *Ring) BeginFrame(slot int) error {
	if err := r.checkSlot(slot); err != nil {
		return err
	}
	wait := r.slots[slot]
	if r.next > r.depth {
		wait = max(wait, r.next-r.depth)
	}
	if wait != 0 {
		return r.sync.Wait(wait)
	}
	return nil
}

// EndFrame signals a checkpoint for slot without waiting.
func (r *Ring) EndFrame(q hal.Queue, slot int) (uint64, error) {
	if err := r.checkSlot(slot); err != nil {
		return 0, err
	}
	value := r.next
	if err := r.sync.Signal(q, value); err != nil {
		return value, err
	}
	r.slots[slot] = value
	r.next++
	return value, nil
}

// Flush signals the next value and waits for it.
func (r *Ring) Flush(q hal.Queue) (uint64, error) {
	value := r.next
	next, err := r.sync.SignalAndWait(q, value)
	if err != nil {
		return value, err
	}
	r.next = next
	return value, nil
}

// Next returns the value the next signal will use.
func (r *Ring) Next() uint64 { return r.next }

// Completed returns the fence's completed value.
func (r *Ring) Completed() uint64 { return r.sync.Completed() }

// Destroy releases the fence.
func (r *Ring) Destroy() { r.sync.Destroy() }

func (r *Ring) checkSlot(slot int) error {
	if slot < 0 || slot >= len(r.slots) {
		return fmt.Errorf("fence: slot %d outside ring of %d", slot, len(r.slots))
	}
	return nil
}
