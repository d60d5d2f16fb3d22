package raytrace

import (
	"errors"
	"fmt"

	"github.com/gogpu/raytrace/hal"
	"github.com/gogpu/raytrace/internal/device"
	"github.com/gogpu/raytrace/internal/fence"
)

// Error classes. Every error returned by New, Render, WaitIdle and Close
// wraps exactly one of them and the underlying cause.
var (
	// ErrInit reports a failure to create the device-level objects, the
	// swap chain or the pipeline.
	ErrInit = errors.New("raytrace: initialization failed")

	// ErrResource reports a failure to create or fill a GPU resource.
	ErrResource = errors.New("raytrace: resource creation failed")

	// ErrSync reports a failed or timed-out fence wait.
	ErrSync = errors.New("raytrace: synchronization failed")

	// ErrRaytracingNotSupported is returned by New when the device has no
	// ray-tracing tier.
	ErrRaytracingNotSupported = device.ErrRaytracingNotSupported

	// ErrFatal wraps the failure of a frame. The renderer cannot render
	// again and must be closed.
	ErrFatal = errors.New("raytrace: frame failed")

	// ErrClosed is returned after Close.
	ErrClosed = errors.New("raytrace: renderer closed")
)

// isSync reports whether err came from waiting on the GPU.
func isSync(err error) bool {
	return errors.Is(err, fence.ErrDeviceLost) ||
		errors.Is(err, hal.ErrDeviceRemoved) ||
		errors.Is(err, hal.ErrTimeout)
}

// classify wraps err in class, or in ErrSync when the cause is a wait.
func classify(class error, stage string, err error) error {
	if errors.Is(err, ErrRaytracingNotSupported) {
		return err
	}
	if isSync(err) {
		class = ErrSync
	}
	return fmt.Errorf("%w: %s: %w", class, stage, err)
}
