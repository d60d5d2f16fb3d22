package soft

import (
	"fmt"
	"image"
	"sync"

	"github.com/gogpu/gputypes"

	"github.com/gogpu/raytrace/hal"
)

// Sink receives presented frames on the queue goroutine.
// The image is only valid for the duration of the call.
type Sink interface {
	Present(img *image.RGBA, index uint32) error
}

// SwapChain is a ring of back buffers presented to a Sink.
type SwapChain struct {
	dev     *Device
	queue   *Queue
	desc    hal.SwapChainDesc
	buffers []*Resource

	mu      sync.Mutex
	current uint32
}

// CreateSwapChain creates BufferCount back buffers in StatePresent.
func (d *Device) CreateSwapChain(q hal.Queue, desc *hal.SwapChainDesc) (hal.SwapChain, error) {
	if err := d.checkAlive(); err != nil {
		return nil, err
	}
	sq, ok := q.(*Queue)
	if !ok || sq.dev != d {
		return nil, fmt.Errorf("%w: foreign queue %T", hal.ErrInvalidCall, q)
	}
	if sq.typ != hal.CommandListDirect {
		return nil, fmt.Errorf("%w: swap chains need a direct queue", hal.ErrInvalidCall)
	}
	if desc == nil || desc.BufferCount < 2 || desc.BufferCount > 16 {
		return nil, fmt.Errorf("%w: flip-model swap chains need 2 to 16 buffers", hal.ErrInvalidCall)
	}
	sc := &SwapChain{dev: d, queue: sq, desc: *desc}
	for i := range desc.BufferCount {
		rd := hal.Texture2DDesc(fmt.Sprintf("backbuffer[%d]", i), desc.Format, desc.Width, desc.Height, hal.ResourceFlagAllowRenderTarget)
		r, err := d.CreateCommittedResource(hal.HeapDefault, &rd, hal.StatePresent)
		if err != nil {
			return nil, err
		}
		sc.buffers = append(sc.buffers, r.(*Resource))
	}
	return sc, nil
}

// Desc returns the creation description.
func (sc *SwapChain) Desc() hal.SwapChainDesc { return sc.desc }

// Buffer returns back buffer i.
func (sc *SwapChain) Buffer(i uint32) (hal.Resource, error) {
	if int(i) >= len(sc.buffers) {
		return nil, fmt.Errorf("%w: back buffer %d of %d", hal.ErrInvalidCall, i, len(sc.buffers))
	}
	return sc.buffers[i], nil
}

// CurrentBackBufferIndex returns the buffer to render next.
func (sc *SwapChain) CurrentBackBufferIndex() uint32 {
	sc.mu.Lock()
	defer sc.mu.Unlock()
	return sc.current
}

// Present queues the current buffer and advances the ring.
func (sc *SwapChain) Present(syncInterval uint32) error {
	if syncInterval > 4 {
		return fmt.Errorf("%w: sync interval %d", hal.ErrInvalidCall, syncInterval)
	}
	if err := sc.dev.checkAlive(); err != nil {
		return err
	}
	sc.mu.Lock()
	index := sc.current
	sc.current = (sc.current + 1) % uint32(len(sc.buffers))
	sc.mu.Unlock()

	buf := sc.buffers[index]
	sink := sc.dev.opts.sink
	return sc.queue.enqueue(func() error {
		if buf.state != hal.StatePresent {
			return fmt.Errorf("Present: %q is in %v, want PRESENT", buf.Name(), buf.state)
		}
		if sink == nil {
			return nil
		}
		if err := sink.Present(sc.image(buf), index); err != nil {
			slogger().Warn("soft: sink present failed", "index", index, "err", err)
		}
		return nil
	})
}

// image converts buf to an RGBA image.
func (sc *SwapChain) image(buf *Resource) *image.RGBA {
	w, h := int(sc.desc.Width), int(sc.desc.Height)
	img := image.NewRGBA(image.Rect(0, 0, w, h))
	copy(img.Pix, buf.data)
	if sc.desc.Format == gputypes.TextureFormatBGRA8Unorm {
		for i := 0; i+3 < len(img.Pix); i += 4 {
			img.Pix[i], img.Pix[i+2] = img.Pix[i+2], img.Pix[i]
		}
	}
	return img
}

// Destroy releases the back buffers.
func (sc *SwapChain) Destroy() {
	for _, b := range sc.buffers {
		b.Destroy()
	}
}

// Recorder is a Sink that keeps the last presented frame.
type Recorder struct {
	mu      sync.Mutex
	last    *image.RGBA
	indices []uint32
}

// Present stores a copy of img.
func (r *Recorder) Present(img *image.RGBA, index uint32) error {
	cp := image.NewRGBA(img.Rect)
	copy(cp.Pix, img.Pix)
	r.mu.Lock()
	r.last = cp
	r.indices = append(r.indices, index)
	r.mu.Unlock()
	return nil
}

// Last returns the most recent frame, or nil.
func (r *Recorder) Last() *image.RGBA {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.last
}

// Indices returns the back-buffer index of every presented frame.
func (r *Recorder) Indices() []uint32 {
	r.mu.Lock()
	defer r.mu.Unlock()
	return append([]uint32(nil), r.indices...)
}
