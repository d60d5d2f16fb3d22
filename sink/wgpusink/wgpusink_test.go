package wgpusink

import (
	"errors"
	"image"
	"image/color"
	"testing"

	"github.com/gogpu/gpucontext"
	"github.com/gogpu/gputypes"
	"github.com/gogpu/wgpu/hal"
	"github.com/gogpu/wgpu/hal/noop"

	"github.com/gogpu/raytrace"
	"github.com/gogpu/raytrace/hal/soft"
)

// createNoopDevice creates a noop device and queue for testing.
func createNoopDevice(t *testing.T) (hal.Device, hal.Queue) {
	t.Helper()
	api := noop.API{}
	instance, err := api.CreateInstance(nil)
	if err != nil {
		t.Fatalf("CreateInstance failed: %v", err)
	}
	adapters := instance.EnumerateAdapters(nil)
	openDev, err := adapters[0].Adapter.Open(0, gputypes.DefaultLimits())
	if err != nil {
		instance.Destroy()
		t.Fatalf("Open failed: %v", err)
	}
	t.Cleanup(func() {
		openDev.Device.Destroy()
		instance.Destroy()
	})
	return openDev.Device, openDev.Queue
}

func newSink(t *testing.T, w, h uint32, format gputypes.TextureFormat) *Sink {
	t.Helper()
	device, queue := createNoopDevice(t)
	s, err := New(device, queue, w, h, format)
	if err != nil {
		t.Fatalf("New() error = %v", err)
	}
	t.Cleanup(s.Close)
	return s
}

func TestNew(t *testing.T) {
	s := newSink(t, 64, 32, gputypes.TextureFormatBGRA8Unorm)
	if s.Texture() == nil {
		t.Error("Texture() = nil")
	}
	if w, h := s.Size(); w != 64 || h != 32 {
		t.Errorf("Size() = %dx%d", w, h)
	}
	if s.Format() != gputypes.TextureFormatBGRA8Unorm {
		t.Errorf("Format() = %v", s.Format())
	}
}

func TestNewRejects(t *testing.T) {
	device, queue := createNoopDevice(t)
	tests := []struct {
		name   string
		w, h   uint32
		format gputypes.TextureFormat
		want   error
	}{
		{"zero width", 0, 4, gputypes.TextureFormatRGBA8Unorm, nil},
		{"float format", 4, 4, gputypes.TextureFormatRGBA16Float, ErrUnsupportedFormat},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			s, err := New(device, queue, tt.w, tt.h, tt.format)
			if err == nil {
				s.Close()
				t.Fatal("New() should fail")
			}
			if tt.want != nil && !errors.Is(err, tt.want) {
				t.Errorf("New() error = %v, want %v", err, tt.want)
			}
		})
	}
	if _, err := New(nil, nil, 4, 4, gputypes.TextureFormatRGBA8Unorm); err == nil {
		t.Error("New(nil, nil) should fail")
	}
}

func TestPresent(t *testing.T) {
	s := newSink(t, 8, 4, gputypes.TextureFormatRGBA8Unorm)
	img := image.NewRGBA(image.Rect(0, 0, 8, 4))
	img.Set(1, 1, color.RGBA{R: 255, A: 255})

	for i := range uint32(3) {
		if err := s.Present(img, i%2); err != nil {
			t.Fatalf("Present() #%d error = %v", i, err)
		}
	}
	if n, last := s.Frames(); n != 3 || last != 0 {
		t.Errorf("Frames() = %d, %d; want 3, 0", n, last)
	}
	if got := s.staging[(1*8+1)*4]; got != 255 {
		t.Errorf("staged red = %d, want 255", got)
	}
}

func TestPresentSwizzlesBGRA(t *testing.T) {
	s := newSink(t, 2, 1, gputypes.TextureFormatBGRA8Unorm)
	img := image.NewRGBA(image.Rect(0, 0, 2, 1))
	img.SetRGBA(0, 0, color.RGBA{R: 10, G: 20, B: 30, A: 255})
	if err := s.Present(img, 0); err != nil {
		t.Fatal(err)
	}
	if got := s.staging[:4]; got[0] != 30 || got[1] != 20 || got[2] != 10 || got[3] != 255 {
		t.Errorf("staged pixel = %v, want BGRA", got)
	}
	if img.Pix[0] != 10 {
		t.Error("Present modified the caller's image")
	}
}

func TestPresentErrors(t *testing.T) {
	s := newSink(t, 8, 8, gputypes.TextureFormatRGBA8Unorm)
	if err := s.Present(image.NewRGBA(image.Rect(0, 0, 4, 4)), 0); !errors.Is(err, ErrSizeMismatch) {
		t.Errorf("Present(4x4) error = %v, want ErrSizeMismatch", err)
	}
	s.Close()
	s.Close()
	if err := s.Present(image.NewRGBA(image.Rect(0, 0, 8, 8)), 0); !errors.Is(err, ErrClosed) {
		t.Errorf("Present() after Close error = %v, want ErrClosed", err)
	}
	if _, err := s.Readback(); !errors.Is(err, ErrClosed) {
		t.Errorf("Readback() after Close error = %v, want ErrClosed", err)
	}
}

func TestReadback(t *testing.T) {
	s := newSink(t, 100, 3, gputypes.TextureFormatBGRA8Unorm)
	img, err := s.Readback()
	if err != nil {
		t.Fatalf("Readback() error = %v", err)
	}
	if img.Bounds() != image.Rect(0, 0, 100, 3) {
		t.Errorf("Readback() bounds = %v", img.Bounds())
	}
}

// mockDevice implements gpucontext.Device for testing.
type mockDevice struct{}

func (m *mockDevice) Poll(wait bool) {}
func (m *mockDevice) Destroy()       {}

type mockQueue struct{}

type mockAdapter struct{}

// mockProvider implements gpucontext.DeviceProvider and exposes HAL types.
type mockProvider struct {
	halDevice any
	halQueue  any
	format    gputypes.TextureFormat
}

func (m *mockProvider) Device() gpucontext.Device             { return &mockDevice{} }
func (m *mockProvider) Queue() gpucontext.Queue               { return &mockQueue{} }
func (m *mockProvider) Adapter() gpucontext.Adapter           { return &mockAdapter{} }
func (m *mockProvider) SurfaceFormat() gputypes.TextureFormat { return m.format }
func (m *mockProvider) HalDevice() any                        { return m.halDevice }
func (m *mockProvider) HalQueue() any                         { return m.halQueue }

// plainProvider has no HAL accessors.
type plainProvider struct{}

func (plainProvider) Device() gpucontext.Device             { return &mockDevice{} }
func (plainProvider) Queue() gpucontext.Queue               { return &mockQueue{} }
func (plainProvider) Adapter() gpucontext.Adapter           { return &mockAdapter{} }
func (plainProvider) SurfaceFormat() gputypes.TextureFormat { return gputypes.TextureFormatBGRA8Unorm }

func TestFromProvider(t *testing.T) {
	device, queue := createNoopDevice(t)

	s, err := FromProvider(&mockProvider{halDevice: device, halQueue: queue}, 16, 16)
	if err != nil {
		t.Fatalf("FromProvider() error = %v", err)
	}
	defer s.Close()
	if s.Format() != gputypes.TextureFormatBGRA8Unorm {
		t.Errorf("undefined surface format resolved to %v, want BGRA8Unorm", s.Format())
	}

	s2, err := FromProvider(&mockProvider{halDevice: device, halQueue: queue, format: gputypes.TextureFormatRGBA8Unorm}, 16, 16)
	if err != nil {
		t.Fatal(err)
	}
	defer s2.Close()
	if s2.Format() != gputypes.TextureFormatRGBA8Unorm {
		t.Errorf("Format() = %v, want provider format", s2.Format())
	}

	if _, err := FromProvider(&mockProvider{halDevice: "nope", halQueue: queue}, 16, 16); !errors.Is(err, ErrNoHAL) {
		t.Errorf("FromProvider(bad device) error = %v, want ErrNoHAL", err)
	}
	if _, err := FromProvider(plainProvider{}, 16, 16); !errors.Is(err, ErrNoHAL) {
		t.Errorf("FromProvider(no HAL) error = %v, want ErrNoHAL", err)
	}
}

func TestRendererPresentsIntoSink(t *testing.T) {
	s := newSink(t, 32, 16, gputypes.TextureFormatRGBA8Unorm)

	dev := soft.NewDevice(false, soft.WithSink(s))
	defer dev.Destroy()
	r, err := raytrace.New(dev, 0,
		raytrace.WithShaderLibrary(soft.DefaultLibrary().Encode()),
		raytrace.WithViewport(32, 16))
	if err != nil {
		t.Fatalf("raytrace.New() error = %v", err)
	}
	defer r.Close()

	for range 3 {
		if err := r.Render(); err != nil {
			t.Fatal(err)
		}
	}
	if err := r.WaitIdle(); err != nil {
		t.Fatal(err)
	}
	if n, last := s.Frames(); n != 3 || last != 0 {
		t.Errorf("Frames() = %d, %d; want 3, 0", n, last)
	}
}
