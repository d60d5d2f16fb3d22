// Package wgpusink presents frames from the software ray-tracing backend
// onto a WebGPU device.
//
// Each presented back buffer is uploaded into a texture owned by the sink
// with Queue.WriteTexture. A host application samples that texture when it
// composes its own frame. Readback copies the texture into a staging buffer
// and returns it as an image, which is mostly useful in tests.
package wgpusink

import (
	"errors"
	"fmt"
	"image"
	"sync"
	"time"

	"github.com/gogpu/gpucontext"
	"github.com/gogpu/gputypes"
	"github.com/gogpu/wgpu/hal"

	"github.com/gogpu/raytrace/internal/rtlog"
)

// Errors.
var (
	// ErrClosed is returned after Close.
	ErrClosed = errors.New("wgpusink: closed")

	// ErrSizeMismatch is returned when a frame does not match the texture.
	ErrSizeMismatch = errors.New("wgpusink: frame size mismatch")

	// ErrUnsupportedFormat is returned for formats other than RGBA8/BGRA8.
	ErrUnsupportedFormat = errors.New("wgpusink: unsupported format")

	// ErrNoHAL is returned by FromProvider when the provider does not
	// expose its HAL device and queue.
	ErrNoHAL = errors.New("wgpusink: provider does not expose HAL types")
)

// readbackTimeout bounds the fence wait in Readback.
const readbackTimeout = 5 * time.Second

// copyPitchAlignment is the row pitch alignment of texture-to-buffer copies.
const copyPitchAlignment = 256

// Sink uploads presented frames into a hal.Texture.
// It is safe for concurrent use.
type Sink struct {
	mu     sync.Mutex
	device hal.Device
	queue  hal.Queue
	tex    hal.Texture
	width  uint32
	height uint32
	format gputypes.TextureFormat

	staging []byte
	frames  uint64
	last    uint32
	closed  bool
}

// New creates a sink with a width×height texture of the given format on
// device.
func New(device hal.Device, queue hal.Queue, width, height uint32, format gputypes.TextureFormat) (*Sink, error) {
	if device == nil || queue == nil {
		return nil, errors.New("wgpusink: nil device or queue")
	}
	if width == 0 || height == 0 {
		return nil, fmt.Errorf("wgpusink: invalid size %dx%d", width, height)
	}
	switch format {
	case gputypes.TextureFormatRGBA8Unorm, gputypes.TextureFormatBGRA8Unorm:
	default:
		return nil, fmt.Errorf("%w: %v", ErrUnsupportedFormat, format)
	}

	tex, err := device.CreateTexture(&hal.TextureDescriptor{
		Label:         "wgpusink_frame",
		Size:          hal.Extent3D{Width: width, Height: height, DepthOrArrayLayers: 1},
		MipLevelCount: 1,
		SampleCount:   1,
		Dimension:     gputypes.TextureDimension2D,
		Format:        format,
		Usage:         gputypes.TextureUsageCopyDst | gputypes.TextureUsageCopySrc | gputypes.TextureUsageTextureBinding,
	})
	if err != nil {
		return nil, fmt.Errorf("wgpusink: create texture: %w", err)
	}
	rtlog.Logger().Debug("wgpusink: created", "width", width, "height", height, "format", format)
	return &Sink{
		device:  device,
		queue:   queue,
		tex:     tex,
		width:   width,
		height:  height,
		format:  format,
		staging: make([]byte, int(width)*int(height)*4),
	}, nil
}

// FromProvider creates a sink on the device of a gpucontext provider, in
// the provider's surface format. The provider must also implement
// HalDevice() any and HalQueue() any.
func FromProvider(provider gpucontext.DeviceProvider, width, height uint32) (*Sink, error) {
	type halProvider interface {
		HalDevice() any
		HalQueue() any
	}
	hp, ok := provider.(halProvider)
	if !ok {
		return nil, ErrNoHAL
	}
	device, ok := hp.HalDevice().(hal.Device)
	if !ok || device == nil {
		return nil, fmt.Errorf("%w: HalDevice is not hal.Device", ErrNoHAL)
	}
	queue, ok := hp.HalQueue().(hal.Queue)
	if !ok || queue == nil {
		return nil, fmt.Errorf("%w: HalQueue is not hal.Queue", ErrNoHAL)
	}
	format := provider.SurfaceFormat()
	if format == gputypes.TextureFormatUndefined {
		format = gputypes.TextureFormatBGRA8Unorm
	}
	return New(device, queue, width, height, format)
}

// Texture returns the texture frames are uploaded into.
func (s *Sink) Texture() hal.Texture { return s.tex }

// Format returns the texture format.
func (s *Sink) Format() gputypes.TextureFormat { return s.format }

// Size returns the texture size.
func (s *Sink) Size() (width, height uint32) { return s.width, s.height }

// Frames returns how many frames were presented and the back-buffer index
// of the last one.
func (s *Sink) Frames() (n uint64, lastIndex uint32) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.frames, s.last
}

// Present uploads img into the sink texture.
func (s *Sink) Present(img *image.RGBA, index uint32) error {
	b := img.Bounds()
	if uint32(b.Dx()) != s.width || uint32(b.Dy()) != s.height {
		return fmt.Errorf("%w: got %dx%d, want %dx%d", ErrSizeMismatch, b.Dx(), b.Dy(), s.width, s.height)
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return ErrClosed
	}

	rowBytes := int(s.width) * 4
	for y := range int(s.height) {
		src := img.Pix[y*img.Stride : y*img.Stride+rowBytes]
		copy(s.staging[y*rowBytes:], src)
	}
	if s.format == gputypes.TextureFormatBGRA8Unorm {
		swapRedBlue(s.staging)
	}

	s.queue.WriteTexture(&hal.ImageCopyTexture{
		Texture:  s.tex,
		MipLevel: 0,
		Origin:   hal.Origin3D{},
		Aspect:   gputypes.TextureAspectAll,
	}, s.staging, &hal.ImageDataLayout{
		Offset:       0,
		BytesPerRow:  uint32(rowBytes),
		RowsPerImage: s.height,
	}, &hal.Extent3D{Width: s.width, Height: s.height, DepthOrArrayLayers: 1})

	s.frames++
	s.last = index
	return nil
}

// Readback copies the sink texture back to the CPU.
func (s *Sink) Readback() (*image.RGBA, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return nil, ErrClosed
	}

	w, h := s.width, s.height
	bytesPerRow := w * 4
	aligned := (bytesPerRow + copyPitchAlignment - 1) &^ (copyPitchAlignment - 1)
	size := uint64(aligned) * uint64(h)

	buf, err := s.device.CreateBuffer(&hal.BufferDescriptor{
		Label: "wgpusink_readback",
		Size:  size,
		Usage: gputypes.BufferUsageMapRead | gputypes.BufferUsageCopyDst,
	})
	if err != nil {
		return nil, fmt.Errorf("wgpusink: create staging buffer: %w", err)
	}
	defer s.device.DestroyBuffer(buf)

	encoder, err := s.device.CreateCommandEncoder(&hal.CommandEncoderDescriptor{Label: "wgpusink_readback"})
	if err != nil {
		return nil, fmt.Errorf("wgpusink: create command encoder: %w", err)
	}
	if err := encoder.BeginEncoding("wgpusink_readback"); err != nil {
		return nil, fmt.Errorf("wgpusink: begin encoding: %w", err)
	}
	encoder.CopyTextureToBuffer(s.tex, buf, []hal.BufferTextureCopy{{
		BufferLayout: hal.ImageDataLayout{Offset: 0, BytesPerRow: aligned, RowsPerImage: h},
		TextureBase:  hal.ImageCopyTexture{Texture: s.tex, MipLevel: 0},
		Size:         hal.Extent3D{Width: w, Height: h, DepthOrArrayLayers: 1},
	}})
	cmdBuf, err := encoder.EndEncoding()
	if err != nil {
		return nil, fmt.Errorf("wgpusink: end encoding: %w", err)
	}
	defer s.device.FreeCommandBuffer(cmdBuf)

	fence, err := s.device.CreateFence()
	if err != nil {
		return nil, fmt.Errorf("wgpusink: create fence: %w", err)
	}
	defer s.device.DestroyFence(fence)

	if err := s.queue.Submit([]hal.CommandBuffer{cmdBuf}, fence, 1); err != nil {
		return nil, fmt.Errorf("wgpusink: submit: %w", err)
	}
	ok, err := s.device.Wait(fence, 1, readbackTimeout)
	if err != nil || !ok {
		return nil, fmt.Errorf("wgpusink: wait for GPU: ok=%v err=%w", ok, err)
	}

	raw := make([]byte, size)
	if err := s.queue.ReadBuffer(buf, 0, raw); err != nil {
		return nil, fmt.Errorf("wgpusink: read buffer: %w", err)
	}

	img := image.NewRGBA(image.Rect(0, 0, int(w), int(h)))
	for y := range int(h) {
		copy(img.Pix[y*img.Stride:], raw[y*int(aligned):y*int(aligned)+int(bytesPerRow)])
	}
	if s.format == gputypes.TextureFormatBGRA8Unorm {
		swapRedBlue(img.Pix)
	}
	return img, nil
}

// Close destroys the texture. Close is idempotent.
func (s *Sink) Close() {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return
	}
	s.closed = true
	s.device.DestroyTexture(s.tex)
	s.tex = nil
}

// swapRedBlue converts between RGBA and BGRA in place.
func swapRedBlue(pix []byte) {
	for i := 0; i+3 < len(pix); i += 4 {
		pix[i], pix[i+2] = pix[i+2], pix[i]
	}
}
