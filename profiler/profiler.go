// Copyright (c) 2019 devblok
//
// This software is released under the MIT License.
// https://opensource.org/licenses/MIT

// Package profiler measures nested CPU and GPU regions of a frame
// and republishes aggregated metrics once per sampling interval.
package profiler

import (
	"time"

	"github.com/devblok/koru-rt/resource"
	"github.com/go-gl/mathgl/mgl32"
	"github.com/loov/hrtime"
	log "github.com/sirupsen/logrus"
)

const (
	// DefaultCapacity is the amount of time blocks allocated up front.
	DefaultCapacity = 100

	// DefaultIntervalSec is the default sampling interval.
	DefaultIntervalSec = 0.2

	growStep  = 100
	fpsWindow = 1.0
)

// Configuration configures the profiler.
type Configuration struct {
	ProfileCPU        bool    `toml:"profile_cpu"`
	ProfileGPU        bool    `toml:"profile_gpu"`
	TimeBlockCapacity int     `toml:"time_block_capacity"`
	IntervalSec       float64 `toml:"interval_sec"`
}

// DefaultConfiguration profiles both CPU and GPU.
func DefaultConfiguration() Configuration {
	return Configuration{
		ProfileCPU:        true,
		ProfileGPU:        true,
		TimeBlockCapacity: DefaultCapacity,
		IntervalSec:       DefaultIntervalSec,
	}
}

// Timer provides the frame delta time.
type Timer interface {
	// DeltaTimeSec returns the duration of the last frame in seconds
	DeltaTimeSec() float64
}

// GpuTimer is implemented by texture backends that can time GPU work
// and report on device memory.
type GpuTimer interface {
	// CreateQuery reserves a timing query
	CreateQuery() (uint32, error)

	// QueryStart marks the start of a timed region
	QueryStart(uint32)

	// QueryEnd marks the end of a timed region
	QueryEnd(uint32)

	// QueryDuration resolves a finished query, false if no result is available
	QueryDuration(uint32) (time.Duration, bool)

	// GpuMemoryUsed returns used device memory in megabytes
	GpuMemoryUsed() uint64

	// GpuMemoryAvailable returns total device memory in megabytes
	GpuMemoryAvailable() uint64

	// AdapterName returns the name of the device
	AdapterName() string
}

// Renderer describes what the profiler reads from the renderer.
type Renderer interface {
	// Resolution returns the render resolution in pixels
	Resolution() mgl32.Vec2

	// ShowPerformanceMetrics is true when the metrics overlay is visible
	ShowPerformanceMetrics() bool
}

// ResourceCounter counts loaded resources.
type ResourceCounter interface {
	CountByType(resource.Type) int
}

// Dependencies are the collaborators of the profiler. Only Timer is
// required, GpuTimer may be nil to disable GPU profiling.
type Dependencies struct {
	Timer     Timer
	GpuTimer  GpuTimer
	Renderer  Renderer
	Resources ResourceCounter

	// Clock returns a monotonic timestamp, defaults to hrtime.Now.
	Clock func() time.Duration
}

// Counters are the RHI binding counts of the last rendered frame.
type Counters struct {
	MeshesRendered         int
	DrawCalls              int
	IndexBufferBindings    int
	VertexBufferBindings   int
	ConstantBufferBindings int
	SamplerBindings        int
	TextureBindings        int
	VertexShaderBindings   int
	PixelShaderBindings    int
	RenderTargetBindings   int
}

// New creates a profiler with pre-sized time block storage.
func New(cfg Configuration, deps Dependencies) *Profiler {
	if cfg.TimeBlockCapacity <= 0 {
		cfg.TimeBlockCapacity = DefaultCapacity
	}
	if cfg.IntervalSec <= 0 {
		cfg.IntervalSec = DefaultIntervalSec
	}
	if deps.Clock == nil {
		deps.Clock = hrtime.Now
	}

	p := &Profiler{
		configuration: cfg,
		deps:          deps,
		blocks:        make([]TimeBlock, cfg.TimeBlockCapacity),
		metrics:       "N/A",
	}
	for i := range p.blocks {
		p.blocks[i].parent = noParent
	}

	if deps.GpuTimer != nil {
		p.gpuName = deps.GpuTimer.AdapterName()
		p.gpuMemoryAvailable = deps.GpuTimer.GpuMemoryAvailable()
	}
	return p
}

// Profiler owns a pool of time blocks reused every sampling window.
// It is not safe for concurrent use, calls belong on the render thread.
type Profiler struct {
	configuration Configuration
	deps          Dependencies

	blocks     []TimeBlock
	blockCount int

	shouldUpdate bool
	hasNewData   bool
	sinceUpdate  float64

	frameCount int
	timePassed float64
	fps        float64

	timeFrameMs float64
	timeCPUMs   float64
	timeGPUMs   float64

	gpuName            string
	gpuMemoryUsed      uint64
	gpuMemoryAvailable uint64

	counters Counters
	metrics  string
	report   []BlockReport
}

// TimeBlockStart opens a named region. Returns false outside of a sampling
// frame or when neither of the requested timers could be started, in which
// case no matching TimeBlockEnd must be called.
func (p *Profiler) TimeBlockStart(name string, profileCPU, profileGPU bool) bool {
	if !p.shouldUpdate {
		return false
	}

	canCPU := profileCPU && p.configuration.ProfileCPU
	canGPU := profileGPU && p.configuration.ProfileGPU && p.deps.GpuTimer != nil
	if !canCPU && !canGPU {
		return false
	}

	idx := p.nextTimeBlock()
	parent := p.secondLastIncomplete()
	if !p.blocks[idx].start(name, canCPU, canGPU, parent, p.deps.Clock, p.deps.GpuTimer) {
		p.blockCount--
		return false
	}
	return true
}

// TimeBlockEnd closes the most recently opened region that is still open.
func (p *Profiler) TimeBlockEnd() bool {
	if !p.shouldUpdate || p.blockCount == 0 {
		return false
	}

	idx := p.lastIncomplete()
	if idx == noParent {
		return false
	}
	p.blocks[idx].end(p.deps.Clock, p.deps.GpuTimer)
	return true
}

// OnFrameStart is called by the frame loop before anything is rendered.
func (p *Profiler) OnFrameStart() {
	p.hasNewData = false
	delta := p.deps.Timer.DeltaTimeSec()
	p.computeFPS(delta)

	p.sinceUpdate += delta
	if p.sinceUpdate < p.configuration.IntervalSec {
		return
	}

	if p.deps.GpuTimer != nil {
		p.gpuMemoryUsed = p.deps.GpuTimer.GpuMemoryUsed()
	}

	root := &p.blocks[0]
	p.timeCPUMs = root.DurationCPU()
	p.timeGPUMs = root.DurationGPU()
	p.timeFrameMs = p.timeCPUMs + p.timeGPUMs

	if p.deps.Renderer != nil && p.deps.Renderer.ShowPerformanceMetrics() {
		p.metrics = p.formatMetrics()
	}
	p.buildReport()

	for i := 0; i < p.blockCount; i++ {
		b := &p.blocks[i]
		if !b.Complete() {
			log.WithField("block", b.Name()).Warn("profiler: ensure that TimeBlockEnd() is called")
		}
		b.clear()
	}

	p.sinceUpdate = 0
	p.shouldUpdate = true
	p.blockCount = 0

	p.TimeBlockStart("Frame", true, true)
}

// OnFrameEnd is called by the frame loop once the frame was submitted.
func (p *Profiler) OnFrameEnd() {
	if !p.shouldUpdate {
		return
	}

	p.TimeBlockEnd()

	for i := 0; i < p.blockCount; i++ {
		if p.blocks[i].IsProfilingGPU() {
			p.blocks[i].resolveGpu(p.deps.GpuTimer)
		}
	}

	p.shouldUpdate = false
	p.hasNewData = true
}

// SetCounters publishes RHI binding counts for the metrics string.
func (p *Profiler) SetCounters(c Counters) {
	p.counters = c
}

func (p *Profiler) nextTimeBlock() int {
	if p.blockCount >= len(p.blocks) {
		grown := make([]TimeBlock, p.blockCount+growStep)
		copy(grown, p.blocks)
		for i := len(p.blocks); i < len(grown); i++ {
			grown[i].parent = noParent
		}
		p.blocks = grown
		log.WithField("blocks", p.blockCount+1).Warn("profiler: time block list has grown, consider making the capacity larger to avoid re-allocations")
	}

	p.blockCount++
	return p.blockCount - 1
}

func (p *Profiler) lastIncomplete() int {
	for i := p.blockCount - 1; i >= 0; i-- {
		if !p.blocks[i].Complete() {
			return i
		}
	}
	return noParent
}

// secondLastIncomplete skips the most recent open block, which is the
// one being started.
func (p *Profiler) secondLastIncomplete() int {
	found := false
	for i := p.blockCount - 1; i >= 0; i-- {
		if p.blocks[i].Complete() {
			continue
		}
		if found {
			return i
		}
		found = true
	}
	return noParent
}

func (p *Profiler) computeFPS(delta float64) {
	p.frameCount++
	p.timePassed += delta

	if p.timePassed >= fpsWindow {
		p.fps = float64(p.frameCount) / (p.timePassed / fpsWindow)
		p.frameCount = 0
		p.timePassed = 0
	}
}

// FPS computed over the last full second.
func (p *Profiler) FPS() float64 {
	return p.fps
}

// TimeFrameMs is the CPU plus GPU time of the last sampled frame.
func (p *Profiler) TimeFrameMs() float64 {
	return p.timeFrameMs
}

// TimeCPUMs is the CPU time of the last sampled frame.
func (p *Profiler) TimeCPUMs() float64 {
	return p.timeCPUMs
}

// TimeGPUMs is the GPU time of the last sampled frame.
func (p *Profiler) TimeGPUMs() float64 {
	return p.timeGPUMs
}

// GpuMemoryUsed in megabytes, sampled once per interval.
func (p *Profiler) GpuMemoryUsed() uint64 {
	return p.gpuMemoryUsed
}

// GpuMemoryAvailable in megabytes.
func (p *Profiler) GpuMemoryAvailable() uint64 {
	return p.gpuMemoryAvailable
}

// GpuName is the adapter name reported by the GPU timer.
func (p *Profiler) GpuName() string {
	return p.gpuName
}

// Metrics returns the last formatted metrics string.
func (p *Profiler) Metrics() string {
	return p.metrics
}

// HasNewData is true right after a sampling frame ended.
func (p *Profiler) HasNewData() bool {
	return p.hasNewData
}

// TimeBlocks returns the blocks used in the current window. The
// slice is only valid until the next OnFrameStart.
func (p *Profiler) TimeBlocks() []TimeBlock {
	return p.blocks[:p.blockCount]
}

// BlockCount returns the number of blocks used in the current window.
func (p *Profiler) BlockCount() int {
	return p.blockCount
}

// Capacity returns the number of allocated block slots.
func (p *Profiler) Capacity() int {
	return len(p.blocks)
}
