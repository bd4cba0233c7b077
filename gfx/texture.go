// Copyright (c) 2019 devblok
//
// This software is released under the MIT License.
// https://opensource.org/licenses/MIT

package gfx

import (
	"github.com/cockroachdb/errors"
	"github.com/devblok/koru-rt/resource"
	"github.com/google/uuid"
	log "github.com/sirupsen/logrus"
)

// NewTexture2D creates an empty texture intended for deferred loading,
// no GPU resources are created until data is set and CreateResourceGpu is called.
func NewTexture2D(backend TextureBackend, generateMips bool) *Texture2D {
	return &Texture2D{
		id:         uuid.New().String(),
		backend:    backend,
		hasMipmaps: generateMips,
		arraySize:  1,
	}
}

// NewTexture2DWithMips creates a texture with mipmaps. If only the first
// level is supplied, the rest will be generated by the backend.
func NewTexture2DWithMips(backend TextureBackend, width, height, channels uint32, format Format, mips [][]byte) (*Texture2D, error) {
	t := NewTexture2D(backend, true)
	t.SetData(width, height, channels, format, mips)
	if err := t.CreateResourceGpu(); err != nil {
		return nil, err
	}
	return t, nil
}

// NewTexture2DFromData creates a texture without any mipmaps.
func NewTexture2DFromData(backend TextureBackend, width, height, channels uint32, format Format, data []byte) (*Texture2D, error) {
	t := NewTexture2D(backend, false)
	t.SetData(width, height, channels, format, [][]byte{data})
	if err := t.CreateResourceGpu(); err != nil {
		return nil, err
	}
	return t, nil
}

// NewRenderTarget2D creates a texture without any data, intended for
// usage as a render target or a depth stencil buffer.
func NewRenderTarget2D(backend TextureBackend, width, height uint32, format Format, isRenderTarget, isDepthStencil bool, arraySize uint32) (*Texture2D, error) {
	if arraySize == 0 {
		arraySize = 1
	}
	t := &Texture2D{
		id:             uuid.New().String(),
		backend:        backend,
		width:          width,
		height:         height,
		format:         format,
		isRenderTarget: isRenderTarget,
		isDepthStencil: isDepthStencil,
		arraySize:      arraySize,
	}
	if err := t.CreateResourceGpu(); err != nil {
		return nil, err
	}
	return t, nil
}

// Texture2D is a backend agnostic 2D texture. It owns its CPU side
// mip chain, the GPU side is owned by the ShaderResource the backend
// created for it and is released together with the texture.
type Texture2D struct {
	id      string
	name    string
	backend TextureBackend

	width     uint32
	height    uint32
	channels  uint32
	format    Format
	arraySize uint32

	// data holds one buffer per mip level, full resolution first
	data [][]byte

	hasMipmaps     bool
	isRenderTarget bool
	isDepthStencil bool

	view ShaderResource
}

// SetData sets the description and CPU data of the texture,
// any GPU resource is kept until CreateResourceGpu is called again.
func (t *Texture2D) SetData(width, height, channels uint32, format Format, mips [][]byte) {
	t.width = width
	t.height = height
	t.channels = channels
	t.format = format
	t.data = mips
}

// CreateResourceGpu realizes the texture on the backend.
// On failure the stage that failed is logged and View stays nil.
func (t *Texture2D) CreateResourceGpu() error {
	t.releaseView()

	view, err := t.createResourceGpu()
	if err != nil {
		log.WithFields(log.Fields{
			"texture": t.displayName(),
			"backend": t.backendName(),
			"stage":   Stage(err),
		}).Error("gfx.Texture2D.CreateResourceGpu(): " + err.Error())
		return err
	}

	t.view = view
	return nil
}

func (t *Texture2D) createResourceGpu() (ShaderResource, error) {
	if t.backend == nil || !t.backend.Valid() {
		return nil, ErrInvalidDevice
	}
	if !t.format.Valid() {
		return nil, errors.Wrapf(ErrFormatUnsupported, "format %d", t.format)
	}
	if t.width == 0 || t.height == 0 {
		return nil, errors.Wrapf(ErrTextureCreation, "invalid extent %dx%d", t.width, t.height)
	}

	desc := TextureDesc{
		Width:        t.width,
		Height:       t.height,
		Channels:     t.channels,
		Format:       t.format,
		ArraySize:    t.arraySize,
		MipLevels:    1,
		RenderTarget: t.isRenderTarget,
		DepthStencil: t.isDepthStencil,
	}

	if t.isRenderTarget || t.isDepthStencil {
		return t.backend.CreateTarget(desc)
	}

	if len(t.data) == 0 {
		return nil, ErrEmptyData
	}
	for idx, level := range t.data {
		if len(level) == 0 {
			return nil, errors.Wrapf(ErrEmptyData, "mip level %d", idx)
		}
	}

	switch {
	case !t.hasMipmaps:
		return t.backend.CreateImmutable(desc, t.data[:1])
	case len(t.data) == 1:
		desc.MipLevels = DefaultMipLevels
		return t.backend.CreateGenerated(desc, t.data[0])
	default:
		desc.MipLevels = uint32(len(t.data))
		return t.backend.CreateImmutable(desc, t.data)
	}
}

func (t *Texture2D) releaseView() {
	if t.view != nil {
		t.view.Release()
		t.view = nil
	}
}

func (t *Texture2D) displayName() string {
	if t.name != "" {
		return t.name
	}
	return t.id
}

func (t *Texture2D) backendName() string {
	if t.backend == nil {
		return ""
	}
	return t.backend.Name()
}

// ID implements resource.Resource
func (t *Texture2D) ID() string {
	return t.id
}

// Type implements resource.Resource
func (t *Texture2D) Type() resource.Type {
	return resource.TypeTexture2D
}

// MemoryUsage returns the CPU bytes uploaded across all mip levels.
func (t *Texture2D) MemoryUsage() uint64 {
	if t.view == nil {
		return 0
	}
	return t.view.MemoryUsage()
}

// Release frees the GPU resource, it is safe to call more than once.
func (t *Texture2D) Release() {
	t.releaseView()
}

// Name returns the name given to the texture.
func (t *Texture2D) Name() string {
	return t.name
}

// SetName names the texture, the name is used in logs and archives.
func (t *Texture2D) SetName(name string) {
	t.name = name
}

// View returns the GPU resource, nil if not realized.
func (t *Texture2D) View() ShaderResource {
	return t.view
}

// MipLevels returns the amount of levels held by the GPU resource,
// 0 if it is not realized.
func (t *Texture2D) MipLevels() int {
	if t.view == nil {
		return 0
	}
	return t.view.MipLevels()
}

// Data returns the CPU side mip chain.
func (t *Texture2D) Data() [][]byte {
	return t.data
}

// Width returns the width of the first mip level.
func (t *Texture2D) Width() uint32 {
	return t.width
}

// Height returns the height of the first mip level.
func (t *Texture2D) Height() uint32 {
	return t.height
}

// Channels returns the amount of channels per pixel.
func (t *Texture2D) Channels() uint32 {
	return t.channels
}

// Format returns the engine format of the texture.
func (t *Texture2D) Format() Format {
	return t.format
}

// ArraySize returns the amount of array layers.
func (t *Texture2D) ArraySize() uint32 {
	return t.arraySize
}

// HasMipmaps reports whether the texture is meant to be mipmapped.
func (t *Texture2D) HasMipmaps() bool {
	return t.hasMipmaps
}

// IsRenderTarget reports whether the texture can be drawn into.
func (t *Texture2D) IsRenderTarget() bool {
	return t.isRenderTarget
}

// IsDepthStencil reports whether the texture is a depth stencil buffer.
func (t *Texture2D) IsDepthStencil() bool {
	return t.isDepthStencil
}
