// Copyright (c) 2019 devblok
//
// This software is released under the MIT License.
// https://opensource.org/licenses/MIT

package profiler_test

import (
	"fmt"
	"testing"
	"time"

	"github.com/cockroachdb/errors"
	"github.com/devblok/koru-rt/gfx"
	"github.com/devblok/koru-rt/gfx/soft"
	"github.com/devblok/koru-rt/profiler"
	"github.com/devblok/koru-rt/resource"
	qt "github.com/frankban/quicktest"
	"github.com/go-gl/mathgl/mgl32"
	log "github.com/sirupsen/logrus"
	"github.com/sirupsen/logrus/hooks/test"
)

type fixedTimer float64

func (t fixedTimer) DeltaTimeSec() float64 { return float64(t) }

type stepTimer struct {
	deltas []float64
	idx    int
}

func (t *stepTimer) DeltaTimeSec() float64 {
	d := t.deltas[t.idx%len(t.deltas)]
	t.idx++
	return d
}

// tickClock advances one millisecond on every read.
type tickClock struct {
	now time.Duration
}

func (c *tickClock) Now() time.Duration {
	c.now += time.Millisecond
	return c.now
}

type fakeRenderer struct {
	show bool
}

func (r fakeRenderer) Resolution() mgl32.Vec2       { return mgl32.Vec2{1280, 720} }
func (r fakeRenderer) ShowPerformanceMetrics() bool { return r.show }

// exhaustedGpuTimer has no queries left to hand out.
type exhaustedGpuTimer struct{}

func (exhaustedGpuTimer) CreateQuery() (uint32, error) {
	return 0, errors.New("query pool exhausted")
}
func (exhaustedGpuTimer) QueryStart(uint32)                         {}
func (exhaustedGpuTimer) QueryEnd(uint32)                           {}
func (exhaustedGpuTimer) QueryDuration(uint32) (time.Duration, bool) { return 0, false }
func (exhaustedGpuTimer) GpuMemoryUsed() uint64                      { return 0 }
func (exhaustedGpuTimer) GpuMemoryAvailable() uint64                 { return 0 }
func (exhaustedGpuTimer) AdapterName() string                        { return "exhausted" }

func newProfiler(cfg profiler.Configuration) *profiler.Profiler {
	clock := &tickClock{}
	return profiler.New(cfg, profiler.Dependencies{
		Timer: fixedTimer(profiler.DefaultIntervalSec),
		Clock: clock.Now,
	})
}

func TestNestedParents(t *testing.T) {
	c := qt.New(t)
	p := newProfiler(profiler.DefaultConfiguration())

	p.OnFrameStart()
	c.Assert(p.BlockCount(), qt.Equals, 1)

	c.Assert(p.TimeBlockStart("Scene", true, false), qt.Equals, true)
	c.Assert(p.TimeBlockStart("Shadows", true, false), qt.Equals, true)
	c.Assert(p.TimeBlockEnd(), qt.Equals, true)
	c.Assert(p.TimeBlockStart("Lights", true, false), qt.Equals, true)
	c.Assert(p.TimeBlockEnd(), qt.Equals, true)
	c.Assert(p.TimeBlockEnd(), qt.Equals, true)
	c.Assert(p.TimeBlockStart("Post", true, false), qt.Equals, true)
	c.Assert(p.TimeBlockEnd(), qt.Equals, true)

	blocks := p.TimeBlocks()
	c.Assert(blocks, qt.HasLen, 5)

	want := []struct {
		name   string
		parent int
	}{
		{"Frame", -1},
		{"Scene", 0},
		{"Shadows", 1},
		{"Lights", 1},
		{"Post", 0},
	}
	for i, w := range want {
		c.Assert(blocks[i].Name(), qt.Equals, w.name)
		c.Assert(blocks[i].Parent(), qt.Equals, w.parent, qt.Commentf("block %s", w.name))
		c.Assert(blocks[i].Parent(), qt.Not(qt.Equals), i)
	}
	c.Assert(blocks[0].Complete(), qt.Equals, false)
}

func TestEndOrderIsLIFO(t *testing.T) {
	c := qt.New(t)
	p := newProfiler(profiler.DefaultConfiguration())
	p.OnFrameStart()

	p.TimeBlockStart("Outer", true, false)
	p.TimeBlockStart("Inner", true, false)
	blocks := p.TimeBlocks()

	c.Assert(p.TimeBlockEnd(), qt.Equals, true)
	c.Assert(blocks[2].Complete(), qt.Equals, true)
	c.Assert(blocks[1].Complete(), qt.Equals, false)

	c.Assert(p.TimeBlockEnd(), qt.Equals, true)
	c.Assert(blocks[1].Complete(), qt.Equals, true)
	c.Assert(blocks[0].Complete(), qt.Equals, false)

	// outer started first and ended last
	c.Assert(blocks[1].DurationCPU() > blocks[2].DurationCPU(), qt.Equals, true)
}

func TestTimeBlockEndWithoutBlocks(t *testing.T) {
	c := qt.New(t)

	p := newProfiler(profiler.DefaultConfiguration())
	c.Assert(p.TimeBlockEnd(), qt.Equals, false)
	c.Assert(p.TimeBlockStart("Early", true, true), qt.Equals, false)

	disabled := newProfiler(profiler.Configuration{})
	disabled.OnFrameStart()
	c.Assert(disabled.BlockCount(), qt.Equals, 0)
	c.Assert(disabled.TimeBlockEnd(), qt.Equals, false)
	c.Assert(disabled.TimeBlockStart("Cpu", true, false), qt.Equals, false)
}

func TestTimeBlockEndWithAllBlocksClosed(t *testing.T) {
	c := qt.New(t)
	p := newProfiler(profiler.DefaultConfiguration())
	p.OnFrameStart()

	c.Assert(p.TimeBlockEnd(), qt.Equals, true)
	c.Assert(p.TimeBlockEnd(), qt.Equals, false)
}

func TestGpuProfilingNeedsTimer(t *testing.T) {
	c := qt.New(t)
	p := newProfiler(profiler.DefaultConfiguration())
	p.OnFrameStart()

	c.Assert(p.TimeBlockStart("Gpu", false, true), qt.Equals, false)
	c.Assert(p.TimeBlocks()[0].IsProfilingGPU(), qt.Equals, false)
}

func TestGpuOnlyBlockWithoutQueries(t *testing.T) {
	c := qt.New(t)
	clock := &tickClock{}
	p := profiler.New(profiler.DefaultConfiguration(), profiler.Dependencies{
		Timer:    fixedTimer(profiler.DefaultIntervalSec),
		GpuTimer: exhaustedGpuTimer{},
		Clock:    clock.Now,
	})
	p.OnFrameStart()
	c.Assert(p.TimeBlocks()[0].IsProfilingCPU(), qt.Equals, true)
	c.Assert(p.TimeBlocks()[0].IsProfilingGPU(), qt.Equals, false)

	c.Assert(p.TimeBlockStart("Outer", true, false), qt.Equals, true)
	c.Assert(p.TimeBlockStart("GpuOnly", false, true), qt.Equals, false)
	c.Assert(p.BlockCount(), qt.Equals, 2)

	// a mixed block keeps its CPU timer
	c.Assert(p.TimeBlockStart("Mixed", true, true), qt.Equals, true)
	c.Assert(p.TimeBlockEnd(), qt.Equals, true)

	blocks := p.TimeBlocks()
	c.Assert(blocks, qt.HasLen, 3)
	c.Assert(blocks[2].Name(), qt.Equals, "Mixed")
	c.Assert(blocks[2].Parent(), qt.Equals, 1)
	c.Assert(blocks[1].Complete(), qt.Equals, false)

	c.Assert(p.TimeBlockEnd(), qt.Equals, true)
	c.Assert(blocks[1].Complete(), qt.Equals, true)
	c.Assert(blocks[0].Complete(), qt.Equals, false)
}

func TestBlocksReportPerWindow(t *testing.T) {
	c := qt.New(t)
	p := newProfiler(profiler.DefaultConfiguration())

	p.OnFrameStart()
	p.TimeBlockStart("Scene", true, false)
	p.TimeBlockEnd()
	p.OnFrameEnd()

	p.OnFrameStart()
	c.Assert(p.Blocks(), qt.HasLen, 2)
	c.Assert(p.Blocks()[1].Name, qt.Equals, "Scene")
	c.Assert(p.Blocks()[1].Depth, qt.Equals, 1)
	p.OnFrameEnd()

	p.OnFrameStart()
	c.Assert(p.Blocks(), qt.HasLen, 1)
	c.Assert(p.Blocks()[0].Name, qt.Equals, "Frame")
	c.Assert(p.Blocks()[0].Closed, qt.Equals, true)
}

func TestCapacityGrowth(t *testing.T) {
	c := qt.New(t)
	hook := test.NewGlobal()
	defer hook.Reset()

	p := newProfiler(profiler.DefaultConfiguration())
	p.OnFrameStart()
	c.Assert(p.Capacity(), qt.Equals, profiler.DefaultCapacity)

	for i := 0; i < profiler.DefaultCapacity; i++ {
		c.Assert(p.TimeBlockStart(fmt.Sprintf("block-%d", i), true, false), qt.Equals, true)
		c.Assert(p.TimeBlockEnd(), qt.Equals, true)
	}

	c.Assert(p.BlockCount(), qt.Equals, profiler.DefaultCapacity+1)
	c.Assert(p.Capacity(), qt.Equals, 2*profiler.DefaultCapacity)

	blocks := p.TimeBlocks()
	c.Assert(blocks[0].Name(), qt.Equals, "Frame")
	for i := 1; i < len(blocks); i++ {
		c.Assert(blocks[i].Name(), qt.Equals, fmt.Sprintf("block-%d", i-1))
		c.Assert(blocks[i].Complete(), qt.Equals, true)
		c.Assert(blocks[i].Parent(), qt.Equals, 0)
	}

	var warnings int
	for _, e := range hook.AllEntries() {
		if e.Level == log.WarnLevel {
			warnings++
		}
	}
	c.Assert(warnings, qt.Equals, 1)
}

func TestFPS(t *testing.T) {
	c := qt.New(t)
	timer := &stepTimer{deltas: []float64{0.25}}
	p := profiler.New(profiler.DefaultConfiguration(), profiler.Dependencies{Timer: timer})

	for i := 0; i < 3; i++ {
		p.OnFrameStart()
		p.OnFrameEnd()
	}
	c.Assert(p.FPS(), qt.Equals, 0.0)

	p.OnFrameStart()
	p.OnFrameEnd()
	c.Assert(p.FPS(), qt.Equals, 4.0)

	// the accumulator restarted, two more frames take half a window
	timer.deltas = []float64{0.5}
	p.OnFrameStart()
	c.Assert(p.FPS(), qt.Equals, 4.0)
	p.OnFrameStart()
	c.Assert(p.FPS(), qt.Equals, 2.0)
}

func TestSamplingInterval(t *testing.T) {
	c := qt.New(t)
	p := profiler.New(profiler.DefaultConfiguration(), profiler.Dependencies{
		Timer: fixedTimer(0.0625),
	})

	for i := 0; i < 3; i++ {
		p.OnFrameStart()
		c.Assert(p.TimeBlockStart("Scene", true, false), qt.Equals, false)
		p.OnFrameEnd()
		c.Assert(p.HasNewData(), qt.Equals, false)
	}

	p.OnFrameStart()
	c.Assert(p.TimeBlockStart("Scene", true, false), qt.Equals, true)
	c.Assert(p.TimeBlockEnd(), qt.Equals, true)
	p.OnFrameEnd()
	c.Assert(p.HasNewData(), qt.Equals, true)

	// outside of the window again
	p.OnFrameStart()
	c.Assert(p.HasNewData(), qt.Equals, false)
	c.Assert(p.TimeBlockStart("Scene", true, false), qt.Equals, false)
}

func TestFrameTimings(t *testing.T) {
	c := qt.New(t)
	p := newProfiler(profiler.DefaultConfiguration())

	p.OnFrameStart()
	p.TimeBlockStart("Scene", true, false)
	p.TimeBlockEnd()
	p.OnFrameEnd()

	p.OnFrameStart()
	// frame block read the clock at start, scene start, scene end and frame end
	c.Assert(p.TimeCPUMs(), qt.Equals, 3.0)
	c.Assert(p.TimeGPUMs(), qt.Equals, 0.0)
	c.Assert(p.TimeFrameMs(), qt.Equals, 3.0)

	c.Assert(p.Blocks(), qt.DeepEquals, []profiler.BlockReport{
		{Name: "Frame", Depth: 0, CPUMs: 3, Closed: true},
		{Name: "Scene", Depth: 1, CPUMs: 1, Closed: true},
	})
	c.Assert(p.Report(), qt.Equals, "Frame cpu 3.000ms gpu 0.000ms\n  Scene cpu 1.000ms gpu 0.000ms\n")
}

func TestIncompleteBlockWarnsNextWindow(t *testing.T) {
	c := qt.New(t)
	hook := test.NewGlobal()
	defer hook.Reset()

	p := newProfiler(profiler.DefaultConfiguration())
	p.OnFrameStart()
	p.TimeBlockStart("Forgotten", true, false)
	p.TimeBlockStart("Closed", true, false)
	p.TimeBlockEnd()
	p.OnFrameEnd()
	c.Assert(hook.AllEntries(), qt.HasLen, 0)

	// frame end closed the innermost open block, which was the forgotten one
	blocks := p.TimeBlocks()
	c.Assert(blocks[1].Complete(), qt.Equals, true)
	c.Assert(blocks[0].Complete(), qt.Equals, false)

	p.OnFrameStart()
	entries := hook.AllEntries()
	c.Assert(entries, qt.HasLen, 1)
	c.Assert(entries[0].Level, qt.Equals, log.WarnLevel)
	c.Assert(entries[0].Data["block"], qt.Equals, "Frame")

	c.Assert(p.BlockCount(), qt.Equals, 1)
	c.Assert(p.TimeBlocks()[0].Complete(), qt.Equals, false)
}

func TestGpuTiming(t *testing.T) {
	c := qt.New(t)
	backend := soft.New(soft.Configuration{MemoryBudgetMB: 512, AdapterName: "Test Adapter"})
	p := profiler.New(profiler.DefaultConfiguration(), profiler.Dependencies{
		Timer:    fixedTimer(profiler.DefaultIntervalSec),
		GpuTimer: backend,
	})
	c.Assert(p.GpuName(), qt.Equals, "Test Adapter")
	c.Assert(p.GpuMemoryAvailable(), qt.Equals, uint64(512))

	_, err := gfx.NewTexture2DFromData(backend, 1024, 1024, 4, gfx.FormatR8G8B8A8Unorm, make([]byte, 1024*1024*4))
	c.Assert(err, qt.IsNil)

	for frame := 0; frame < 3; frame++ {
		p.OnFrameStart()
		c.Assert(p.TimeBlockStart("Upload", false, true), qt.Equals, true)
		c.Assert(p.TimeBlockEnd(), qt.Equals, true)
		p.OnFrameEnd()

		for _, b := range p.TimeBlocks() {
			c.Assert(b.IsProfilingGPU(), qt.Equals, true)
			c.Assert(b.Complete(), qt.Equals, true)
			c.Assert(b.DurationGPU() >= 0, qt.Equals, true)
		}
	}
	c.Assert(p.GpuMemoryUsed(), qt.Equals, uint64(4))
}

func TestMetrics(t *testing.T) {
	c := qt.New(t)

	cache := resource.NewCache()
	backend := soft.New(soft.Configuration{AdapterName: "Software Rasterizer"})
	for i := 0; i < 2; i++ {
		tex, err := gfx.NewTexture2DFromData(backend, 2, 2, 4, gfx.FormatR8G8B8A8Unorm, make([]byte, 16))
		c.Assert(err, qt.IsNil)
		cache.Add(tex)
	}

	renderer := &fakeRenderer{}
	p := profiler.New(profiler.DefaultConfiguration(), profiler.Dependencies{
		Timer:     fixedTimer(profiler.DefaultIntervalSec),
		GpuTimer:  backend,
		Renderer:  renderer,
		Resources: cache,
	})
	p.SetCounters(profiler.Counters{DrawCalls: 12, TextureBindings: 7})

	p.OnFrameStart()
	p.OnFrameEnd()
	c.Assert(p.Metrics(), qt.Equals, "N/A")

	renderer.show = true
	p.OnFrameStart()
	m := p.Metrics()
	c.Assert(m, qt.Matches, `(?s)FPS: +0\.00\n.*`)
	c.Assert(m, qt.Matches, `(?s).*GPU: +Software Rasterizer\n.*`)
	c.Assert(m, qt.Matches, `(?s).*Resolution: +1280x720\n.*`)
	c.Assert(m, qt.Matches, `(?s).*Textures: +2\n.*`)
	c.Assert(m, qt.Matches, `(?s).*RHI Draw calls: +12\n.*`)
	c.Assert(m, qt.Matches, `(?s).*RHI Texture bindings: +7\n.*`)
	c.Assert(m, qt.Matches, `(?s).*RHI Render Target bindings: +0`)
}

func BenchmarkTimeBlocks(b *testing.B) {
	p := profiler.New(profiler.DefaultConfiguration(), profiler.Dependencies{
		Timer: fixedTimer(profiler.DefaultIntervalSec),
	})
	for i := 0; i < b.N; i++ {
		p.OnFrameStart()
		for j := 0; j < 50; j++ {
			p.TimeBlockStart("Block", true, false)
			p.TimeBlockEnd()
		}
		p.OnFrameEnd()
	}
}
