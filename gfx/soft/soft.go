// Copyright (c) 2019 devblok
//
// This software is released under the MIT License.
// https://opensource.org/licenses/MIT

// Package soft implements a software texture backend. It keeps
// the "GPU" copies in system memory and is used for headless runs,
// tooling and as the reference implementation for other backends.
package soft

import (
	"time"

	"github.com/cockroachdb/errors"
	"github.com/devblok/koru-rt/gfx"
	"github.com/loov/hrtime"
)

// Name is the configuration name of the backend.
const Name = "software"

// Configuration describes the software backend.
type Configuration struct {
	// MemoryBudgetMB is reported as available device memory.
	MemoryBudgetMB uint64

	// AdapterName is reported as the GPU name.
	AdapterName string
}

// Stats counts the work the backend did since creation.
type Stats struct {
	Textures       int
	Targets        int
	LevelsUploaded int
	GeneratePasses int
}

// New creates a ready to use software backend.
func New(cfg Configuration) *Backend {
	if cfg.AdapterName == "" {
		cfg.AdapterName = "Software Rasterizer"
	}
	return &Backend{
		configuration: cfg,
		valid:         true,
	}
}

// Backend is a software gfx.TextureBackend. It also implements
// the profiler GPU timer, timing regions with the CPU clock.
type Backend struct {
	configuration Configuration

	valid       bool
	stats       Stats
	deviceBytes uint64

	queries []query
}

type query struct {
	start, end time.Duration
	ended      bool
}

// Name implements gfx.TextureBackend
func (b *Backend) Name() string {
	return Name
}

// Valid implements gfx.TextureBackend
func (b *Backend) Valid() bool {
	return b != nil && b.valid
}

// Stats returns the work counters of the backend.
func (b *Backend) Stats() Stats {
	return b.stats
}

// Destroy invalidates the device, textures created after
// this will fail.
func (b *Backend) Destroy() {
	b.valid = false
	b.queries = nil
}

// CreateImmutable implements gfx.TextureBackend
func (b *Backend) CreateImmutable(desc gfx.TextureDesc, levels [][]byte) (gfx.ShaderResource, error) {
	if !b.Valid() {
		return nil, gfx.ErrInvalidDevice
	}
	if len(levels) == 0 || int(desc.MipLevels) != len(levels) {
		return nil, errors.Wrapf(gfx.ErrTextureCreation, "%d levels supplied for %d mip levels", len(levels), desc.MipLevels)
	}

	stored := make([][]byte, len(levels))
	var uploaded uint64
	for idx, level := range levels {
		if err := gfx.CheckLevel(desc, idx, level); err != nil {
			return nil, err
		}
		stored[idx] = append([]byte(nil), level...)
		uploaded += uint64(len(level))
	}

	b.stats.Textures++
	b.stats.LevelsUploaded += len(levels)
	return b.newTexture(desc, stored, uploaded), nil
}

// CreateGenerated implements gfx.TextureBackend
func (b *Backend) CreateGenerated(desc gfx.TextureDesc, base []byte) (gfx.ShaderResource, error) {
	if !b.Valid() {
		return nil, gfx.ErrInvalidDevice
	}
	if err := gfx.CheckLevel(desc, 0, base); err != nil {
		return nil, err
	}

	levels := int(desc.MipLevels)
	if levels < 1 {
		levels = 1
	}

	chain, err := GenerateMips(desc, append([]byte(nil), base...), levels)
	if err != nil {
		return nil, errors.Mark(err, gfx.ErrViewCreation)
	}

	b.stats.Textures++
	b.stats.LevelsUploaded++
	b.stats.GeneratePasses++
	return b.newTexture(desc, chain, uint64(len(base))), nil
}

// CreateTarget implements gfx.TextureBackend
func (b *Backend) CreateTarget(desc gfx.TextureDesc) (gfx.ShaderResource, error) {
	if !b.Valid() {
		return nil, gfx.ErrInvalidDevice
	}
	if !desc.RenderTarget && !desc.DepthStencil {
		return nil, errors.Wrap(gfx.ErrTextureCreation, "target has neither render target nor depth stencil usage")
	}
	if desc.DepthStencil && desc.Format != gfx.FormatD32Float && desc.Format != gfx.FormatR32FloatTypeless {
		return nil, errors.Wrapf(gfx.ErrFormatUnsupported, "depth stencil with %s", desc.Format)
	}

	b.stats.Targets++
	return b.newTexture(desc, [][]byte{make([]byte, targetSize(desc))}, 0), nil
}

// targetSize is the byte size of every layer of a render target.
func targetSize(desc gfx.TextureDesc) int {
	layers := desc.ArraySize
	if layers == 0 {
		layers = 1
	}
	return int(desc.Width) * int(desc.Height) * int(layers) * desc.Format.BytesPerPixel()
}

func (b *Backend) newTexture(desc gfx.TextureDesc, levels [][]byte, uploaded uint64) *Texture {
	var device uint64
	for _, l := range levels {
		device += uint64(len(l))
	}
	b.deviceBytes += device

	return &Texture{
		backend:     b,
		desc:        desc,
		levels:      levels,
		memoryUsage: uploaded,
		deviceBytes: device,
	}
}

// Texture is a texture living in system memory.
type Texture struct {
	backend *Backend
	desc    gfx.TextureDesc
	levels  [][]byte

	memoryUsage uint64
	deviceBytes uint64
}

// MipLevels implements gfx.ShaderResource
func (t *Texture) MipLevels() int {
	return len(t.levels)
}

// MemoryUsage implements gfx.ShaderResource
func (t *Texture) MemoryUsage() uint64 {
	return t.memoryUsage
}

// Level returns the texels of a mip level.
func (t *Texture) Level(idx int) []byte {
	if idx < 0 || idx >= len(t.levels) {
		return nil
	}
	return t.levels[idx]
}

// Desc returns the description the texture was created with.
func (t *Texture) Desc() gfx.TextureDesc {
	return t.desc
}

// Release implements gfx.ShaderResource
func (t *Texture) Release() {
	if t.levels == nil {
		return
	}
	t.backend.deviceBytes -= t.deviceBytes
	t.levels = nil
}

// CreateQuery creates a timing query slot.
func (b *Backend) CreateQuery() (uint32, error) {
	if !b.Valid() {
		return 0, gfx.ErrInvalidDevice
	}
	b.queries = append(b.queries, query{})
	return uint32(len(b.queries) - 1), nil
}

// QueryStart marks the start of a timed region.
func (b *Backend) QueryStart(q uint32) {
	if int(q) < len(b.queries) {
		b.queries[q] = query{start: hrtime.Now()}
	}
}

// QueryEnd marks the end of a timed region.
func (b *Backend) QueryEnd(q uint32) {
	if int(q) < len(b.queries) {
		b.queries[q].end = hrtime.Now()
		b.queries[q].ended = true
	}
}

// QueryDuration returns the duration of a finished region.
func (b *Backend) QueryDuration(q uint32) (time.Duration, bool) {
	if int(q) >= len(b.queries) || !b.queries[q].ended {
		return 0, false
	}
	return b.queries[q].end - b.queries[q].start, true
}

// GpuMemoryUsed returns megabytes held by live textures.
func (b *Backend) GpuMemoryUsed() uint64 {
	return b.deviceBytes / (1024 * 1024)
}

// GpuMemoryAvailable returns the configured budget in megabytes.
func (b *Backend) GpuMemoryAvailable() uint64 {
	return b.configuration.MemoryBudgetMB
}

// AdapterName returns the configured adapter name.
func (b *Backend) AdapterName() string {
	return b.configuration.AdapterName
}
