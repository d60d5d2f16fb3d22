package soft

import (
	"fmt"
	"sync"
	"time"

	"github.com/gogpu/raytrace/hal"
)

// work is one unit on the queue timeline.
type work struct {
	lists  [][]op
	labels []string
	fence  *Fence
	value  uint64
	task   func() error
}

// Queue executes submitted work in order on its own goroutine.
type Queue struct {
	dev  *Device
	typ  hal.CommandListType
	work chan work
	done chan struct{}

	mu     sync.Mutex
	closed bool
	once   sync.Once
}

// CreateCommandQueue starts a queue goroutine.
func (d *Device) CreateCommandQueue(t hal.CommandListType) (hal.Queue, error) {
	if err := d.checkAlive(); err != nil {
		return nil, err
	}
	q := &Queue{
		dev:  d,
		typ:  t,
		work: make(chan work, 64),
		done: make(chan struct{}),
	}
	d.mu.Lock()
	d.queues = append(d.queues, q)
	d.mu.Unlock()
	go q.run()
	return q, nil
}

func (q *Queue) run() {
	defer close(q.done)
	for w := range q.work {
		q.execute(w)
	}
}

func (q *Queue) execute(w work) {
	if q.dev.RemovedReason() != nil {
		return
	}
	for i, ops := range w.lists {
		x := newExecutor(q.dev)
		for _, o := range ops {
			if err := o(x); err != nil {
				q.dev.remove(fmt.Errorf("command list %q: %w", w.labels[i], err))
				return
			}
		}
	}
	if w.task != nil {
		if err := w.task(); err != nil {
			q.dev.remove(err)
			return
		}
	}
	if w.fence != nil {
		w.fence.complete(w.value)
	}
}

func (q *Queue) submit(w work) error {
	q.mu.Lock()
	defer q.mu.Unlock()
	if q.closed {
		return fmt.Errorf("%w: queue destroyed", hal.ErrInvalidCall)
	}
	q.work <- w
	return nil
}

// ExecuteCommandLists submits closed lists.
func (q *Queue) ExecuteCommandLists(lists ...hal.CommandList) {
	w := work{}
	for _, l := range lists {
		cl, ok := l.(*CommandList)
		if !ok || cl.dev != q.dev {
			q.dev.remove(fmt.Errorf("%w: foreign command list %T", hal.ErrInvalidCall, l))
			return
		}
		if cl.recording {
			q.dev.remove(fmt.Errorf("%w: command list %q executed while recording", hal.ErrInvalidCall, cl.label))
			return
		}
		if cl.typ != q.typ {
			q.dev.remove(fmt.Errorf("%w: list type %d on queue type %d", hal.ErrInvalidCall, cl.typ, q.typ))
			return
		}
		w.lists = append(w.lists, append([]op(nil), cl.ops...))
		w.labels = append(w.labels, cl.label)
	}
	if err := q.submit(w); err != nil {
		q.dev.remove(err)
	}
}

// Signal sets f to value after all previously submitted work.
func (q *Queue) Signal(f hal.Fence, value uint64) error {
	if err := q.dev.checkAlive(); err != nil {
		return err
	}
	sf, ok := f.(*Fence)
	if !ok || sf.dev != q.dev {
		return fmt.Errorf("%w: foreign fence %T", hal.ErrInvalidCall, f)
	}
	return q.submit(work{fence: sf, value: value})
}

// enqueue runs task on the queue timeline.
func (q *Queue) enqueue(task func() error) error {
	return q.submit(work{task: task})
}

// Destroy drains pending work and stops the goroutine.
func (q *Queue) Destroy() {
	q.once.Do(func() {
		q.mu.Lock()
		q.closed = true
		close(q.work)
		q.mu.Unlock()
		<-q.done
	})
}

type waiter struct {
	value uint64
	event *Event
}

// Fence is a counter completed by the queue goroutine.
type Fence struct {
	dev *Device

	mu      sync.Mutex
	value   uint64
	waiters []waiter
}

// CreateFence creates a fence at initial.
func (d *Device) CreateFence(initial uint64) (hal.Fence, error) {
	if err := d.checkAlive(); err != nil {
		return nil, err
	}
	f := &Fence{dev: d, value: initial}
	d.mu.Lock()
	d.fences = append(d.fences, f)
	d.mu.Unlock()
	return f, nil
}

// CompletedValue returns the last completed value.
func (f *Fence) CompletedValue() uint64 {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.value
}

// SetEventOnCompletion fires e once the fence reaches value.
func (f *Fence) SetEventOnCompletion(value uint64, e hal.Event) error {
	se, ok := e.(*Event)
	if !ok || se == nil {
		return fmt.Errorf("%w: foreign event %T", hal.ErrInvalidCall, e)
	}
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.value >= value {
		se.fire()
		return nil
	}
	f.waiters = append(f.waiters, waiter{value: value, event: se})
	return nil
}

func (f *Fence) complete(value uint64) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.value = max(f.value, value)
	kept := f.waiters[:0]
	for _, w := range f.waiters {
		if w.value <= f.value {
			w.event.fire()
		} else {
			kept = append(kept, w)
		}
	}
	f.waiters = kept
}

// Destroy drops pending waiters.
func (f *Fence) Destroy() {
	f.mu.Lock()
	f.waiters = nil
	f.mu.Unlock()
}

// Event is an auto-reset event.
type Event struct {
	ch chan struct{}
}

// CreateEvent creates an unsignaled event.
func (d *Device) CreateEvent() (hal.Event, error) {
	return &Event{ch: make(chan struct{}, 1)}, nil
}

func (e *Event) fire() {
	select {
	case e.ch <- struct{}{}:
	default:
	}
}

// Wait blocks until the event fires. A negative timeout waits forever.
func (e *Event) Wait(timeout time.Duration) error {
	if timeout < 0 {
		<-e.ch
		return nil
	}
	t := time.NewTimer(timeout)
	defer t.Stop()
	select {
	case <-e.ch:
		return nil
	case <-t.C:
		return hal.ErrTimeout
	}
}

// Destroy is a no-op.
func (e *Event) Destroy() {}

// CommandAllocator tracks the lists recorded from it.
type CommandAllocator struct {
	dev *Device
	typ hal.CommandListType

	mu   sync.Mutex
	open *CommandList
}

// CreateCommandAllocator creates an allocator.
func (d *Device) CreateCommandAllocator(t hal.CommandListType) (hal.CommandAllocator, error) {
	if err := d.checkAlive(); err != nil {
		return nil, err
	}
	return &CommandAllocator{dev: d, typ: t}, nil
}

// Reset fails while a list recorded from a is still open.
func (a *CommandAllocator) Reset() error {
	a.mu.Lock()
	defer a.mu.Unlock()
	if a.open != nil && a.open.recording {
		return fmt.Errorf("%w: allocator reset while %q is recording", hal.ErrInvalidCall, a.open.label)
	}
	return nil
}

// Destroy is a no-op.
func (a *CommandAllocator) Destroy() {}
