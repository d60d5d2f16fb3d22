// Package hal defines the hardware abstraction layer used by the ray-tracing
// core.
//
// The interfaces mirror the Direct3D 12 ray-tracing object model closely
// (devices, direct queues, command allocators and lists, fences, committed
// resources, descriptor heaps, root signatures, state objects and swap
// chains) so that a native backend can implement them with a thin binding,
// while a software backend can execute the same command stream on the CPU.
//
// Backends register themselves from init functions:
//
//	func init() {
//	    hal.Register(hal.BackendSoft, func() hal.Backend { return soft.NewBackend() })
//	}
//
// and callers pick one by name or by priority:
//
//	b := hal.Default()
//	dev, err := b.Open(hal.OpenOptions{})
package hal

import (
	"errors"
	"fmt"
	"sync"
)

// Backend names.
const (
	// BackendD3D12 is the native Direct3D 12 backend (Windows only).
	BackendD3D12 = "d3d12"

	// BackendSoft is the pure Go software backend.
	BackendSoft = "soft"
)

// HAL errors.
var (
	// ErrNotInstalled means that a platform library required by the backend
	// is not present in the system.
	ErrNotInstalled = errors.New("hal: missing required library")

	// ErrNoDevice means that no suitable device could be found.
	ErrNoDevice = errors.New("hal: no suitable device found")

	// ErrOutOfMemory is returned when a heap allocation fails.
	ErrOutOfMemory = errors.New("hal: out of device memory")

	// ErrDeviceRemoved means the device is in an unrecoverable state.
	// Every object created from it must be destroyed.
	ErrDeviceRemoved = errors.New("hal: device removed")

	// ErrInvalidCall is returned when an API call violates its contract.
	ErrInvalidCall = errors.New("hal: invalid call")

	// ErrNotMappable is returned when mapping a resource that lives in a
	// GPU-exclusive heap.
	ErrNotMappable = errors.New("hal: resource is not CPU mappable")

	// ErrTimeout is returned when an event wait expires.
	ErrTimeout = errors.New("hal: wait timed out")
)

// HRESULTError reports a failing native call.
type HRESULTError struct {
	Call string
	Code uint32
}

func (e HRESULTError) Error() string {
	return fmt.Sprintf("hal: %s failed: HRESULT 0x%08X", e.Call, e.Code)
}

// OpenOptions configures device creation.
type OpenOptions struct {
	// Debug enables the backend's validation layer when available.
	Debug bool

	// Adapter selects an adapter by enumeration index. Zero picks the
	// default adapter.
	Adapter int
}

// Backend opens devices.
type Backend interface {
	// Name returns the registered backend name.
	Name() string

	// Open creates a logical device.
	Open(opts OpenOptions) (Device, error)
}

// BackendFactory creates a new backend instance.
type BackendFactory func() Backend

var (
	registryMu sync.RWMutex
	backends   = make(map[string]BackendFactory)
	// Priority order for backend selection (first available wins).
	backendPriority = []string{BackendD3D12, BackendSoft}
)

// Register registers a backend factory with the given name.
// If a backend with the same name is already registered, it is replaced.
func Register(name string, factory BackendFactory) {
	registryMu.Lock()
	defer registryMu.Unlock()
	backends[name] = factory
}

// Unregister removes a backend from the registry.
func Unregister(name string) {
	registryMu.Lock()
	defer registryMu.Unlock()
	delete(backends, name)
}

// IsRegistered checks if a backend with the given name is registered.
func IsRegistered(name string) bool {
	registryMu.RLock()
	defer registryMu.RUnlock()
	_, ok := backends[name]
	return ok
}

// Available returns the registered backend names in priority order,
// followed by any other registered names.
func Available() []string {
	registryMu.RLock()
	defer registryMu.RUnlock()

	names := make([]string, 0, len(backends))
	seen := make(map[string]bool, len(backends))
	for _, name := range backendPriority {
		if _, ok := backends[name]; ok {
			names = append(names, name)
			seen[name] = true
		}
	}
	for name := range backends {
		if !seen[name] {
			names = append(names, name)
		}
	}
	return names
}

// Get returns a backend instance by name, or nil if it is not registered.
func Get(name string) Backend {
	registryMu.RLock()
	defer registryMu.RUnlock()

	factory, ok := backends[name]
	if !ok {
		return nil
	}
	return factory()
}

// Default returns the best available backend based on priority.
// Returns nil if no backends are registered.
func Default() Backend {
	for _, name := range Available() {
		if b := Get(name); b != nil {
			return b
		}
	}
	return nil
}
