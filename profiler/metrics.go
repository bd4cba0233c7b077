// Copyright (c) 2019 devblok
//
// This software is released under the MIT License.
// https://opensource.org/licenses/MIT

package profiler

import (
	"bytes"
	"fmt"
	"strings"
	"text/tabwriter"

	"github.com/devblok/koru-rt/resource"
)

// BlockReport is a finished time block of the last sampling window.
type BlockReport struct {
	Name   string
	Depth  int
	CPUMs  float64
	GPUMs  float64
	Closed bool
}

func (p *Profiler) formatMetrics() string {
	var (
		textures, materials, shaders int
		width, height                int
	)
	if p.deps.Resources != nil {
		textures = p.deps.Resources.CountByType(resource.TypeTexture2D)
		materials = p.deps.Resources.CountByType(resource.TypeMaterial)
		shaders = p.deps.Resources.CountByType(resource.TypeShader)
	}
	if p.deps.Renderer != nil {
		res := p.deps.Renderer.Resolution()
		width, height = int(res.X()), int(res.Y())
	}

	var buf bytes.Buffer
	w := tabwriter.NewWriter(&buf, 0, 4, 1, ' ', 0)
	c := p.counters

	// Performance
	fmt.Fprintf(w, "FPS:\t%.2f\n", p.fps)
	fmt.Fprintf(w, "Frame time:\t%.2f\n", p.timeFrameMs)
	fmt.Fprintf(w, "CPU time:\t%.2f\n", p.timeCPUMs)
	fmt.Fprintf(w, "GPU time:\t%.2f\n", p.timeGPUMs)
	fmt.Fprintf(w, "GPU:\t%s\n", p.gpuName)
	fmt.Fprintf(w, "VRAM:\t%d/%d MB\n", p.gpuMemoryUsed, p.gpuMemoryAvailable)
	// Renderer
	fmt.Fprintf(w, "Resolution:\t%dx%d\n", width, height)
	fmt.Fprintf(w, "Meshes rendered:\t%d\n", c.MeshesRendered)
	fmt.Fprintf(w, "Textures:\t%d\n", textures)
	fmt.Fprintf(w, "Materials:\t%d\n", materials)
	fmt.Fprintf(w, "Shaders:\t%d\n", shaders)
	// RHI
	fmt.Fprintf(w, "RHI Draw calls:\t%d\n", c.DrawCalls)
	fmt.Fprintf(w, "RHI Index buffer bindings:\t%d\n", c.IndexBufferBindings)
	fmt.Fprintf(w, "RHI Vertex buffer bindings:\t%d\n", c.VertexBufferBindings)
	fmt.Fprintf(w, "RHI Constant buffer bindings:\t%d\n", c.ConstantBufferBindings)
	fmt.Fprintf(w, "RHI Sampler bindings:\t%d\n", c.SamplerBindings)
	fmt.Fprintf(w, "RHI Texture bindings:\t%d\n", c.TextureBindings)
	fmt.Fprintf(w, "RHI Vertex Shader bindings:\t%d\n", c.VertexShaderBindings)
	fmt.Fprintf(w, "RHI Pixel Shader bindings:\t%d\n", c.PixelShaderBindings)
	fmt.Fprintf(w, "RHI Render Target bindings:\t%d\n", c.RenderTargetBindings)
	w.Flush()

	return strings.TrimSuffix(buf.String(), "\n")
}

func (p *Profiler) depth(idx int) int {
	var d int
	for parent := p.blocks[idx].parent; parent != noParent && d < p.blockCount; parent = p.blocks[parent].parent {
		d++
	}
	return d
}

// buildReport reuses the report storage of the previous window.
func (p *Profiler) buildReport() {
	p.report = p.report[:0]
	for i := 0; i < p.blockCount; i++ {
		b := &p.blocks[i]
		p.report = append(p.report, BlockReport{
			Name:   b.Name(),
			Depth:  p.depth(i),
			CPUMs:  b.DurationCPU(),
			GPUMs:  b.DurationGPU(),
			Closed: b.Complete(),
		})
	}
}

// Blocks returns the block tree of the last completed sampling window.
// The slice is overwritten at the next sampling frame start.
func (p *Profiler) Blocks() []BlockReport {
	return p.report
}

// Report renders the block tree of the last completed sampling window.
func (p *Profiler) Report() string {
	var sb strings.Builder
	for _, b := range p.report {
		sb.WriteString(strings.Repeat("  ", b.Depth))
		fmt.Fprintf(&sb, "%s cpu %.3fms gpu %.3fms", b.Name, b.CPUMs, b.GPUMs)
		if !b.Closed {
			sb.WriteString(" (open)")
		}
		sb.WriteByte('\n')
	}
	return sb.String()
}
