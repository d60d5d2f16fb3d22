// Copyright 2026 The gogpu Authors
// SPDX-License-Identifier: MIT

//go:build windows

package d3d12

import (
	"fmt"
	"unsafe"

	"github.com/gogpu/raytrace/hal"
)

// SwapChain is a flip-discard IDXGISwapChain3.
type SwapChain struct {
	sc      com
	desc    hal.SwapChainDesc
	buffers []*Resource
}

func newSwapChain(d *Device, q *Queue, desc *hal.SwapChainDesc) (*SwapChain, error) {
	format := TextureFormat(desc.Format)
	if format == dxgiFormatUnknown {
		return nil, fmt.Errorf("%w: swap chain format %v", hal.ErrInvalidCall, desc.Format)
	}
	if desc.Window == 0 {
		return nil, fmt.Errorf("%w: swap chain needs a window", hal.ErrInvalidCall)
	}
	nd := swapChainDesc1{
		Width:       desc.Width,
		Height:      desc.Height,
		Format:      format,
		SampleDesc:  sampleDesc{Count: 1},
		BufferUsage: dxgiUsageRenderTargetOutput,
		BufferCount: desc.BufferCount,
		SwapEffect:  dxgiSwapEffectFlipDiscard,
	}
	var sc1 com
	err := d.factory.hr("CreateSwapChainForHwnd", slotFactoryCreateSwapChainForHwnd,
		uintptr(q.q), desc.Window, uintptr(unsafe.Pointer(&nd)), 0, 0, uintptr(unsafe.Pointer(&sc1)))
	if err != nil {
		return nil, err
	}
	sc3, err := sc1.query(&iidIDXGISwapChain3)
	sc1.release()
	if err != nil {
		return nil, err
	}

	s := &SwapChain{sc: sc3, desc: *desc}
	for i := range desc.BufferCount {
		var res com
		err := sc3.hr("GetBuffer", slotSwapChainGetBuffer, uintptr(i),
			uintptr(unsafe.Pointer(&iidID3D12Resource)), uintptr(unsafe.Pointer(&res)))
		if err != nil {
			s.Destroy()
			return nil, err
		}
		s.buffers = append(s.buffers, &Resource{
			res:      res,
			desc:     hal.Texture2DDesc(fmt.Sprintf("backbuffer[%d]", i), desc.Format, desc.Width, desc.Height, hal.ResourceFlagAllowRenderTarget),
			heap:     hal.HeapDefault,
			borrowed: true,
		})
	}
	return s, nil
}

// Desc returns the creation description.
func (s *SwapChain) Desc() hal.SwapChainDesc { return s.desc }

// Buffer returns back buffer i.
func (s *SwapChain) Buffer(i uint32) (hal.Resource, error) {
	if int(i) >= len(s.buffers) {
		return nil, fmt.Errorf("%w: back buffer %d of %d", hal.ErrInvalidCall, i, len(s.buffers))
	}
	return s.buffers[i], nil
}

// CurrentBackBufferIndex returns the buffer to render next.
func (s *SwapChain) CurrentBackBufferIndex() uint32 {
	return uint32(s.sc.call(slotSwapChainGetCurrentBackBufferIndex))
}

// Present presents the current back buffer.
func (s *SwapChain) Present(syncInterval uint32) error {
	return s.sc.hr("Present", slotSwapChainPresent, uintptr(syncInterval), 0)
}

// Destroy releases the back buffers and the swap chain.
func (s *SwapChain) Destroy() {
	for _, b := range s.buffers {
		b.res.release()
		b.res = 0
	}
	s.buffers = nil
	s.sc.release()
	s.sc = 0
}
