// Package raytrace drives a hardware ray-tracing pipeline on a D3D12-style
// device.
//
// # Overview
//
// A Renderer owns everything between the device and the presented image:
// the direct queue and per-frame command lists, the vertex buffer, the
// bottom- and top-level acceleration structures, the global root signature
// and ray-tracing state object, the shader table and the output image.
// Render records one frame, waits for it on the fence and presents it.
//
// # Quick Start
//
//	import (
//	    "github.com/gogpu/raytrace"
//	    _ "github.com/gogpu/raytrace/hal/soft" // software device
//	)
//
//	opts := []raytrace.Option{raytrace.WithShaderLibrary(lib)}
//	dev, err := raytrace.OpenDevice("", opts...)
//	if err != nil {
//	    log.Fatal(err)
//	}
//	r, err := raytrace.New(dev, 0, opts...)
//	if err != nil {
//	    log.Fatal(err)
//	}
//	defer r.Close()
//	for running {
//	    if err := r.Render(); err != nil {
//	        log.Fatal(err)
//	    }
//	}
//
// # Backends
//
// Devices come from the hal registry. The d3d12 backend (Windows) calls
// Direct3D 12 and DXGI through COM. The soft backend runs everything on the
// CPU, including a BVH ray tracer and a validation layer, and is what the
// tests and the demo use elsewhere.
//
// # Initialization Order
//
// New performs the stages strictly in order: device objects, vertex
// buffer, bottom-level build (waited on), top-level build (waited on),
// root signature and state object, shader table, output image and
// descriptors. A failure at any stage releases what was created and is
// reported as ErrInit, ErrResource, ErrSync or ErrRaytracingNotSupported.
//
// # Synchronization
//
// One thread records, submits and presents. The fence is the only
// happens-before edge with the GPU: by default Render waits for each frame
// before returning, so at most one unit of GPU work is outstanding.
// WithInFlightFrames keeps more frames in flight with one checkpoint per
// frame slot.
package raytrace
