package raytrace

import (
	"errors"
	"fmt"
	"time"

	"github.com/gogpu/gputypes"

	"github.com/gogpu/raytrace/hal"
	"github.com/gogpu/raytrace/internal/pipeline"
)

// Option configures a Renderer during creation.
//
// Example:
//
//	r, err := raytrace.New(dev, hwnd,
//	    raytrace.WithViewport(1280, 720),
//	    raytrace.WithShaderPath("shaders/ray_shader.cso"))
type Option func(*options)

// Symbols are the export names shared by the shader library, the state
// object and the shader table.
type Symbols struct {
	RayGen     string
	Miss       string
	ClosestHit string
	HitGroup   string
}

// Default configuration values.
const (
	DefaultFrameCount   = 2
	DefaultWidth        = 640
	DefaultHeight       = 480
	DefaultShaderPath   = "shaders/ray_shader.cso"
	DefaultPayloadSize  = 12
	DefaultAttrSize     = 8
	DefaultMaxRecursion = 1
	DefaultSyncInterval = 1
)

// DefaultSymbols returns MainRayGen, MainMiss, MainClosestHit and
// DefaultHitGroup.
func DefaultSymbols() Symbols {
	s := pipeline.DefaultSymbols()
	return Symbols{
		RayGen:     s.RayGen,
		Miss:       s.Miss,
		ClosestHit: s.ClosestHit,
		HitGroup:   s.HitGroup,
	}
}

func (s Symbols) toPipeline() pipeline.Symbols {
	return pipeline.Symbols{
		RayGen:     s.RayGen,
		Miss:       s.Miss,
		ClosestHit: s.ClosestHit,
		HitGroup:   s.HitGroup,
	}
}

// Config is the resolved, immutable configuration of a Renderer.
type Config struct {
	FrameCount     int
	InFlightFrames int
	Width          uint32
	Height         uint32
	Format         gputypes.TextureFormat

	// ShaderPath is read when no library bytes were supplied.
	ShaderPath    string
	Symbols       Symbols
	PayloadSize   uint32
	AttributeSize uint32
	MaxRecursion  uint32

	Geometry     []Vertex
	SyncInterval uint32
	FenceTimeout time.Duration
	DebugLayer   bool
}

type options struct {
	cfg     Config
	library []byte
}

func defaultOptions() options {
	return options{cfg: Config{
		FrameCount:     DefaultFrameCount,
		InFlightFrames: 1,
		Width:          DefaultWidth,
		Height:         DefaultHeight,
		Format:         gputypes.TextureFormatRGBA8Unorm,
		ShaderPath:     DefaultShaderPath,
		Symbols:        DefaultSymbols(),
		PayloadSize:    DefaultPayloadSize,
		AttributeSize:  DefaultAttrSize,
		MaxRecursion:   DefaultMaxRecursion,
		Geometry:       DefaultTriangle(),
		SyncInterval:   DefaultSyncInterval,
		FenceTimeout:   hal.Infinite,
	}}
}

// WithFrameCount sets the number of swap-chain buffers and per-frame
// command lists.
func WithFrameCount(n int) Option {
	return func(o *options) { o.cfg.FrameCount = n }
}

// WithInFlightFrames lets up to n frames run on the GPU at once. The
// default of 1 waits for each frame before the next is recorded.
func WithInFlightFrames(n int) Option {
	return func(o *options) { o.cfg.InFlightFrames = n }
}

// WithViewport sets the output size in pixels.
func WithViewport(width, height uint32) Option {
	return func(o *options) {
		o.cfg.Width = width
		o.cfg.Height = height
	}
}

// WithFormat sets the swap-chain and output image format.
func WithFormat(f gputypes.TextureFormat) Option {
	return func(o *options) { o.cfg.Format = f }
}

// WithShaderLibrary supplies the compiled shader library directly.
func WithShaderLibrary(b []byte) Option {
	return func(o *options) { o.library = b }
}

// WithShaderPath sets the file the shader library is read from.
func WithShaderPath(path string) Option {
	return func(o *options) { o.cfg.ShaderPath = path }
}

// WithSymbols overrides the export names.
func WithSymbols(s Symbols) Option {
	return func(o *options) { o.cfg.Symbols = s }
}

// WithShaderConfig sets the payload and attribute sizes and the maximum
// recursion depth.
func WithShaderConfig(payload, attributes, recursion uint32) Option {
	return func(o *options) {
		o.cfg.PayloadSize = payload
		o.cfg.AttributeSize = attributes
		o.cfg.MaxRecursion = recursion
	}
}

// WithGeometry replaces the default triangle.
func WithGeometry(v []Vertex) Option {
	return func(o *options) { o.cfg.Geometry = v }
}

// WithSyncInterval sets the present sync interval, 0 through 4.
func WithSyncInterval(n uint32) Option {
	return func(o *options) { o.cfg.SyncInterval = n }
}

// WithFenceTimeout bounds every fence wait. Negative waits forever.
func WithFenceTimeout(d time.Duration) Option {
	return func(o *options) { o.cfg.FenceTimeout = d }
}

// WithDebugLayer makes OpenDevice enable the backend's validation layer.
func WithDebugLayer(on bool) Option {
	return func(o *options) { o.cfg.DebugLayer = on }
}

func (c *Config) validate() error {
	if c.FrameCount < 2 || c.FrameCount > 16 {
		return fmt.Errorf("frame count %d outside [2, 16]", c.FrameCount)
	}
	if c.InFlightFrames < 1 || c.InFlightFrames > c.FrameCount {
		return fmt.Errorf("in-flight frames %d outside [1, %d]", c.InFlightFrames, c.FrameCount)
	}
	if c.Width == 0 || c.Height == 0 {
		return fmt.Errorf("empty viewport %dx%d", c.Width, c.Height)
	}
	if hal.BytesPerPixel(c.Format) == 0 {
		return fmt.Errorf("unsupported format %v", c.Format)
	}
	if len(c.Geometry) == 0 || len(c.Geometry)%3 != 0 {
		return fmt.Errorf("geometry needs whole triangles, got %d vertices", len(c.Geometry))
	}
	if c.SyncInterval > 4 {
		return fmt.Errorf("sync interval %d exceeds 4", c.SyncInterval)
	}
	if c.MaxRecursion < 1 {
		return errors.New("recursion depth must be at least 1")
	}
	return nil
}
