// Package soft implements the HAL on the CPU.
//
// The device keeps every resource in host memory at a virtual GPU address,
// runs submitted command lists on a queue goroutine and validates them the
// way a native debug layer does: a barrier whose before-state does not match
// the resource, a build into an undersized buffer or a dispatch against
// wrongly bound root parameters removes the device.
//
// Ray tracing is real. Bottom-level builds produce a BVH over the triangles
// of the vertex buffer, top-level builds resolve instance descriptors, and
// DispatchRays traces one ray per pixel using the shaders named by a
// Library.
package soft

import (
	"fmt"
	"log/slog"
	"math"
	"sort"
	"sync"
	"sync/atomic"

	"github.com/gogpu/raytrace/hal"
	"github.com/gogpu/raytrace/internal/parallel"
	"github.com/gogpu/raytrace/internal/rtlog"
)

func init() {
	hal.Register(hal.BackendSoft, func() hal.Backend { return NewBackend() })
}

// BarrierEvent reports one executed transition barrier.
type BarrierEvent struct {
	Resource string
	Before   hal.ResourceState
	After    hal.ResourceState
}

// Option configures a software backend.
type Option func(*options)

type options struct {
	sink     Sink
	observer func(BarrierEvent)
	tier     hal.RaytracingTier
	workers  int
}

// WithSink forwards every presented back buffer to s.
func WithSink(s Sink) Option {
	return func(o *options) { o.sink = s }
}

// WithBarrierObserver calls fn on the queue goroutine for every executed
// transition barrier.
func WithBarrierObserver(fn func(BarrierEvent)) Option {
	return func(o *options) { o.observer = fn }
}

// WithRaytracingTier overrides the reported ray-tracing tier.
func WithRaytracingTier(t hal.RaytracingTier) Option {
	return func(o *options) { o.tier = t }
}

// WithWorkers sets how many goroutines trace rays. Zero means GOMAXPROCS.
func WithWorkers(n int) Option {
	return func(o *options) { o.workers = n }
}

// Backend opens software devices.
type Backend struct {
	opts []Option
}

// NewBackend returns a software backend.
func NewBackend(opts ...Option) *Backend {
	return &Backend{opts: opts}
}

// Name returns hal.BackendSoft.
func (*Backend) Name() string { return hal.BackendSoft }

// Open creates a device.
func (b *Backend) Open(o hal.OpenOptions) (hal.Device, error) {
	if o.Adapter != 0 {
		return nil, fmt.Errorf("%w: software adapter %d", hal.ErrNoDevice, o.Adapter)
	}
	return NewDevice(o.Debug, b.opts...), nil
}

const (
	// addressBase keeps zero an invalid address.
	addressBase = 1 << 32
	// addressGuard separates neighbouring buffers.
	addressGuard = 64 << 10
)

// Device is a software device.
type Device struct {
	opts  options
	debug bool
	id    uint64

	mu       sync.Mutex
	nextAddr uint64
	buffers  []*Resource // sorted by address
	heaps    []*DescriptorHeap
	fences   []*Fence
	queues   []*Queue
	removed  error
	pool     *parallel.Pool

	nextObject atomic.Uint64
}

var deviceIDs atomic.Uint64

// NewDevice creates a device. Debug logs every executed command.
func NewDevice(debug bool, opts ...Option) *Device {
	d := &Device{
		opts:     options{tier: hal.RaytracingTier1_1},
		debug:    debug,
		id:       deviceIDs.Add(1),
		nextAddr: addressBase,
	}
	for _, opt := range opts {
		opt(&d.opts)
	}
	d.pool = parallel.New(d.opts.workers)
	slogger().Info("soft: device created",
		"tier", d.opts.tier.String(),
		"debug", debug,
		"workers", d.pool.Workers())
	return d
}

func slogger() *slog.Logger { return rtlog.Logger() }

// Features reports the emulated capabilities.
func (d *Device) Features() hal.Features {
	return hal.Features{AdapterName: "Software Rasterizer (gogpu)", RaytracingTier: d.opts.tier}
}

// RemovedReason returns the validation error that removed the device.
func (d *Device) RemovedReason() error {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.removed
}

// remove marks the device lost and releases every fence waiter.
func (d *Device) remove(reason error) {
	d.mu.Lock()
	if d.removed != nil {
		d.mu.Unlock()
		return
	}
	d.removed = fmt.Errorf("%w: %w", hal.ErrDeviceRemoved, reason)
	fences := append([]*Fence(nil), d.fences...)
	d.mu.Unlock()

	slogger().Error("soft: device removed", "reason", reason)
	for _, f := range fences {
		f.complete(math.MaxUint64)
	}
}

func (d *Device) checkAlive() error {
	if err := d.RemovedReason(); err != nil {
		return err
	}
	return nil
}

// Destroy stops every queue goroutine and the tracing workers.
func (d *Device) Destroy() {
	d.mu.Lock()
	queues := d.queues
	d.queues = nil
	d.mu.Unlock()
	for _, q := range queues {
		q.Destroy()
	}
	d.pool.Close()
}

// allocate reserves an aligned address range.
func (d *Device) allocate(r *Resource) {
	d.mu.Lock()
	defer d.mu.Unlock()
	r.addr = hal.GPUAddress(d.nextAddr)
	d.nextAddr = hal.AlignUp(d.nextAddr+uint64(len(r.data))+addressGuard, addressGuard)
	d.buffers = append(d.buffers, r)
}

func (d *Device) release(r *Resource) {
	d.mu.Lock()
	defer d.mu.Unlock()
	i := sort.Search(len(d.buffers), func(i int) bool { return d.buffers[i].addr >= r.addr })
	if i < len(d.buffers) && d.buffers[i] == r {
		d.buffers = append(d.buffers[:i], d.buffers[i+1:]...)
	}
}

// resolve finds the buffer containing [addr, addr+size).
func (d *Device) resolve(addr hal.GPUAddress, size uint64) (*Resource, []byte, error) {
	d.mu.Lock()
	defer d.mu.Unlock()
	i := sort.Search(len(d.buffers), func(i int) bool { return d.buffers[i].addr > addr }) - 1
	if i < 0 {
		return nil, nil, fmt.Errorf("address %#x is not mapped", uint64(addr))
	}
	r := d.buffers[i]
	off := uint64(addr - r.addr)
	if off >= uint64(len(r.data)) && !(off == uint64(len(r.data)) && size == 0) {
		return nil, nil, fmt.Errorf("address %#x is not mapped", uint64(addr))
	}
	if off+size > uint64(len(r.data)) {
		return nil, nil, fmt.Errorf("range %#x+%d overruns buffer %q (%d bytes)", uint64(addr), size, r.Name(), len(r.data))
	}
	return r, r.data[off:], nil
}

func (d *Device) objectID() uint64 { return d.nextObject.Add(1) }

func (d *Device) own(r hal.Resource) (*Resource, error) {
	sr, ok := r.(*Resource)
	if !ok || sr == nil || sr.dev != d {
		return nil, fmt.Errorf("%w: resource %T does not belong to this device", hal.ErrInvalidCall, r)
	}
	return sr, nil
}
