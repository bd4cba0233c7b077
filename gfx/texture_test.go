// Copyright (c) 2019 devblok
//
// This software is released under the MIT License.
// https://opensource.org/licenses/MIT

package gfx_test

import (
	"testing"

	"github.com/cockroachdb/errors"
	"github.com/devblok/koru-rt/gfx"
	"github.com/devblok/koru-rt/gfx/soft"
	"github.com/devblok/koru-rt/resource"
	qt "github.com/frankban/quicktest"
)

// failingBackend fails at a configured stage.
type failingBackend struct {
	fail  error
	calls int
}

func (f *failingBackend) Name() string { return "failing" }
func (f *failingBackend) Valid() bool  { return true }

func (f *failingBackend) CreateImmutable(gfx.TextureDesc, [][]byte) (gfx.ShaderResource, error) {
	f.calls++
	return nil, errors.Mark(errors.New("E_INVALIDARG"), f.fail)
}

func (f *failingBackend) CreateGenerated(gfx.TextureDesc, []byte) (gfx.ShaderResource, error) {
	f.calls++
	return nil, errors.Mark(errors.New("E_INVALIDARG"), f.fail)
}

func (f *failingBackend) CreateTarget(gfx.TextureDesc) (gfx.ShaderResource, error) {
	f.calls++
	return nil, errors.Mark(errors.New("E_INVALIDARG"), f.fail)
}

func rgba(width, height int) []byte {
	return make([]byte, width*height*4)
}

func TestGeneratedMipLevels(t *testing.T) {
	c := qt.New(t)

	for _, size := range []uint32{1, 4, 64, 1024} {
		backend := soft.New(soft.Configuration{})
		tex, err := gfx.NewTexture2DWithMips(backend, size, size, 4, gfx.FormatR8G8B8A8Unorm, [][]byte{rgba(int(size), int(size))})
		c.Assert(err, qt.IsNil)
		c.Assert(tex.MipLevels(), qt.Equals, gfx.DefaultMipLevels, qt.Commentf("size %d", size))
		c.Assert(backend.Stats().GeneratePasses, qt.Equals, 1)
	}
}

func TestFullChainUploadsDirectly(t *testing.T) {
	c := qt.New(t)
	backend := soft.New(soft.Configuration{})

	mips := [][]byte{rgba(8, 8), rgba(4, 4), rgba(2, 2), rgba(1, 1)}
	tex, err := gfx.NewTexture2DWithMips(backend, 8, 8, 4, gfx.FormatR8G8B8A8Unorm, mips)
	c.Assert(err, qt.IsNil)
	c.Assert(tex.MipLevels(), qt.Equals, 4)
	c.Assert(backend.Stats().LevelsUploaded, qt.Equals, 4)
	c.Assert(backend.Stats().GeneratePasses, qt.Equals, 0)
	c.Assert(tex.MemoryUsage(), qt.Equals, uint64((64+16+4+1)*4))
}

func TestMemoryUsageSingleLevel(t *testing.T) {
	c := qt.New(t)
	backend := soft.New(soft.Configuration{})

	tex, err := gfx.NewTexture2DFromData(backend, 4, 4, 4, gfx.FormatR8G8B8A8Unorm, rgba(4, 4))
	c.Assert(err, qt.IsNil)
	c.Assert(tex.MemoryUsage(), qt.Equals, uint64(64))
	c.Assert(tex.MipLevels(), qt.Equals, 1)
	c.Assert(tex.HasMipmaps(), qt.Equals, false)

	generated, err := gfx.NewTexture2DWithMips(backend, 4, 4, 4, gfx.FormatR8G8B8A8Unorm, [][]byte{rgba(4, 4)})
	c.Assert(err, qt.IsNil)
	c.Assert(generated.MemoryUsage(), qt.Equals, uint64(64))

	tex.Release()
	c.Assert(tex.MemoryUsage(), qt.Equals, uint64(0))
	c.Assert(tex.View(), qt.IsNil)
}

func TestDeferredTexture(t *testing.T) {
	c := qt.New(t)
	backend := soft.New(soft.Configuration{})

	tex := gfx.NewTexture2D(backend, true)
	c.Assert(tex.View(), qt.IsNil)
	c.Assert(backend.Stats().Textures, qt.Equals, 0)

	tex.SetData(2, 2, 4, gfx.FormatR8G8B8A8Unorm, [][]byte{rgba(2, 2), rgba(1, 1)})
	c.Assert(tex.CreateResourceGpu(), qt.IsNil)
	c.Assert(tex.MipLevels(), qt.Equals, 2)
	c.Assert(tex.Type(), qt.Equals, resource.TypeTexture2D)
	c.Assert(tex.ID(), qt.Not(qt.Equals), "")

	// realizing again replaces the previous resource
	c.Assert(tex.CreateResourceGpu(), qt.IsNil)
	c.Assert(backend.GpuMemoryUsed(), qt.Equals, uint64(0))
	c.Assert(backend.Stats().Textures, qt.Equals, 2)
}

func TestRenderTarget(t *testing.T) {
	c := qt.New(t)
	backend := soft.New(soft.Configuration{})

	rt, err := gfx.NewRenderTarget2D(backend, 16, 16, gfx.FormatR16G16B16A16Float, true, false, 0)
	c.Assert(err, qt.IsNil)
	c.Assert(rt.IsRenderTarget(), qt.Equals, true)
	c.Assert(rt.ArraySize(), qt.Equals, uint32(1))
	c.Assert(rt.MemoryUsage(), qt.Equals, uint64(0))

	depth, err := gfx.NewRenderTarget2D(backend, 16, 16, gfx.FormatD32Float, false, true, 1)
	c.Assert(err, qt.IsNil)
	c.Assert(depth.IsDepthStencil(), qt.Equals, true)
	c.Assert(backend.Stats().Targets, qt.Equals, 2)
}

func TestInvalidDevice(t *testing.T) {
	c := qt.New(t)
	backend := soft.New(soft.Configuration{})
	backend.Destroy()

	tex, err := gfx.NewTexture2DFromData(backend, 4, 4, 4, gfx.FormatR8G8B8A8Unorm, rgba(4, 4))
	c.Assert(tex, qt.IsNil)
	c.Assert(errors.Is(err, gfx.ErrInvalidDevice), qt.Equals, true)
	c.Assert(gfx.Stage(err), qt.Equals, "device")

	_, err = gfx.NewTexture2DFromData(nil, 4, 4, 4, gfx.FormatR8G8B8A8Unorm, rgba(4, 4))
	c.Assert(errors.Is(err, gfx.ErrInvalidDevice), qt.Equals, true)
}

func TestEmptyData(t *testing.T) {
	c := qt.New(t)
	backend := &failingBackend{fail: gfx.ErrTextureCreation}

	_, err := gfx.NewTexture2DFromData(backend, 4, 4, 4, gfx.FormatR8G8B8A8Unorm, nil)
	c.Assert(errors.Is(err, gfx.ErrEmptyData), qt.Equals, true)

	_, err = gfx.NewTexture2DWithMips(backend, 4, 4, 4, gfx.FormatR8G8B8A8Unorm, [][]byte{rgba(4, 4), {}})
	c.Assert(errors.Is(err, gfx.ErrEmptyData), qt.Equals, true)
	c.Assert(backend.calls, qt.Equals, 0)
}

func TestBackendFailureStages(t *testing.T) {
	c := qt.New(t)

	for stage, mark := range map[string]error{
		"texture": gfx.ErrTextureCreation,
		"view":    gfx.ErrViewCreation,
	} {
		backend := &failingBackend{fail: mark}

		tex := gfx.NewTexture2D(backend, true)
		tex.SetData(4, 4, 4, gfx.FormatR8G8B8A8Unorm, [][]byte{rgba(4, 4)})
		err := tex.CreateResourceGpu()
		c.Assert(gfx.Stage(err), qt.Equals, stage)
		c.Assert(tex.View(), qt.IsNil)
		c.Assert(tex.MipLevels(), qt.Equals, 0)
		c.Assert(backend.calls, qt.Equals, 1)
	}
}

func TestInvalidDescription(t *testing.T) {
	c := qt.New(t)
	backend := soft.New(soft.Configuration{})

	_, err := gfx.NewTexture2DFromData(backend, 0, 4, 4, gfx.FormatR8G8B8A8Unorm, rgba(4, 4))
	c.Assert(errors.Is(err, gfx.ErrTextureCreation), qt.Equals, true)

	_, err = gfx.NewTexture2DFromData(backend, 4, 4, 4, gfx.Format(-1), rgba(4, 4))
	c.Assert(errors.Is(err, gfx.ErrFormatUnsupported), qt.Equals, true)
}

func TestFormat(t *testing.T) {
	c := qt.New(t)
	c.Assert(gfx.FormatR8G8B8A8Unorm.BytesPerPixel(), qt.Equals, 4)
	c.Assert(gfx.FormatR32G32B32Float.BytesPerPixel(), qt.Equals, 12)
	c.Assert(gfx.FormatR16G16B16A16Float.String(), qt.Equals, "R16G16B16A16_Float")
	c.Assert(gfx.FormatCount.Valid(), qt.Equals, false)
	c.Assert(gfx.FormatCount.BytesPerPixel(), qt.Equals, 0)
}

func TestMipExtent(t *testing.T) {
	c := qt.New(t)
	w, h := gfx.MipExtent(16, 4, 3)
	c.Assert(w, qt.Equals, uint32(2))
	c.Assert(h, qt.Equals, uint32(1))

	desc := gfx.TextureDesc{Width: 16, Height: 4, Format: gfx.FormatR8G8B8A8Unorm}
	c.Assert(desc.RowPitch(1), qt.Equals, 32)
}

func TestCheckLevel(t *testing.T) {
	c := qt.New(t)
	desc := gfx.TextureDesc{Width: 8, Height: 8, Format: gfx.FormatR8G8B8A8Unorm}

	c.Assert(gfx.CheckLevel(desc, 0, make([]byte, 256)), qt.IsNil)
	c.Assert(gfx.CheckLevel(desc, 1, make([]byte, 64)), qt.IsNil)

	err := gfx.CheckLevel(desc, 0, make([]byte, 64))
	c.Assert(errors.Is(err, gfx.ErrTextureCreation), qt.Equals, true)
	c.Assert(err, qt.ErrorMatches, `mip level 0 holds 64 bytes, 256 expected.*`)

	err = gfx.CheckLevel(desc, 2, nil)
	c.Assert(errors.Is(err, gfx.ErrEmptyData), qt.Equals, true)
}
