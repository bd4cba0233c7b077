// Copyright (c) 2019 devblok
//
// This software is released under the MIT License.
// https://opensource.org/licenses/MIT

package gfx

import (
	"github.com/cockroachdb/errors"
	"github.com/devblok/koru-rt/resource"
)

// DefaultMipLevels is the amount of levels a backend produces
// when asked to generate the mip chain itself.
const DefaultMipLevels = 7

// TextureDesc describes a 2D texture for a backend to create.
type TextureDesc struct {
	Width     uint32
	Height    uint32
	Channels  uint32
	Format    Format
	ArraySize uint32

	// MipLevels is the amount of levels the GPU resource holds.
	MipLevels uint32

	RenderTarget bool
	DepthStencil bool
}

// RowPitch returns the byte size of one row of the given mip level.
func (d TextureDesc) RowPitch(level int) int {
	w, _ := MipExtent(d.Width, d.Height, level)
	return int(w) * d.Format.BytesPerPixel()
}

// CheckLevel verifies that data holds at least the texels of the given
// mip level. Backends call it before handing CPU data to the device.
func CheckLevel(desc TextureDesc, level int, data []byte) error {
	if len(data) == 0 {
		return errors.Wrapf(ErrEmptyData, "mip level %d", level)
	}
	w, h := MipExtent(desc.Width, desc.Height, level)
	if expected := int(w) * int(h) * desc.Format.BytesPerPixel(); len(data) < expected {
		return errors.Wrapf(ErrTextureCreation, "mip level %d holds %d bytes, %d expected", level, len(data), expected)
	}
	return nil
}

// MipExtent returns width and height of the given mip level.
func MipExtent(width, height uint32, level int) (uint32, uint32) {
	w, h := width>>uint(level), height>>uint(level)
	if w == 0 {
		w = 1
	}
	if h == 0 {
		h = 1
	}
	return w, h
}

// ShaderResource is the GPU side of a texture, a handle that
// allows sampling or rendering into it.
type ShaderResource interface {
	resource.Releasable

	// MipLevels returns the amount of mip levels the GPU resource holds.
	MipLevels() int

	// MemoryUsage returns the amount of CPU bytes uploaded to create it.
	MemoryUsage() uint64
}

// TextureBackend turns texture descriptions into GPU resources.
// Implementations exist per graphics API and are picked at startup.
// Returned errors are marked with one of the package errors,
// and no resource is returned along with an error.
type TextureBackend interface {

	// Name returns the name the backend is configured by.
	Name() string

	// Valid reports whether the underlying device is live.
	Valid() bool

	// CreateImmutable uploads every supplied level as is,
	// len(levels) must equal desc.MipLevels.
	CreateImmutable(desc TextureDesc, levels [][]byte) (ShaderResource, error)

	// CreateGenerated uploads the base level and generates
	// the rest of desc.MipLevels on the device.
	CreateGenerated(desc TextureDesc, base []byte) (ShaderResource, error)

	// CreateTarget allocates storage usable as a render target
	// or depth stencil buffer, without any CPU data.
	CreateTarget(desc TextureDesc) (ShaderResource, error)
}
