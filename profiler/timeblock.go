// Copyright (c) 2019 devblok
//
// This software is released under the MIT License.
// https://opensource.org/licenses/MIT

package profiler

import (
	"time"

	log "github.com/sirupsen/logrus"
)

// noParent marks a root time block.
const noParent = -1

// TimeBlock is a single named measurement of CPU and/or GPU time.
// Slots are reused in place every frame and must not be held past it.
type TimeBlock struct {
	name   string
	parent int

	profileCPU bool
	profileGPU bool

	started  bool
	cpuEnded bool
	gpuEnded bool

	cpuStart time.Duration
	cpuEnd   time.Duration

	query    uint32
	hasQuery bool
	gpu      time.Duration
}

// start returns false when neither timer could be started, the slot is
// left cleared in that case.
func (b *TimeBlock) start(name string, cpu, gpu bool, parent int, clock func() time.Duration, gt GpuTimer) bool {
	b.name = name
	b.parent = parent
	b.profileCPU = cpu
	b.profileGPU = gpu && gt != nil
	b.started = true

	if b.profileGPU && !b.hasQuery {
		q, err := gt.CreateQuery()
		if err != nil {
			log.WithFields(log.Fields{
				"block": name,
				"error": err,
			}).Debug("profiler: gpu query unavailable")
			b.profileGPU = false
		} else {
			b.query = q
			b.hasQuery = true
		}
	}

	if !b.profileCPU && !b.profileGPU {
		b.clear()
		return false
	}

	if b.profileCPU {
		b.cpuStart = clock()
	}
	if b.profileGPU {
		gt.QueryStart(b.query)
	}
	return true
}

func (b *TimeBlock) end(clock func() time.Duration, gt GpuTimer) {
	if b.profileCPU {
		b.cpuEnd = clock()
		b.cpuEnded = true
	}
	if b.profileGPU {
		gt.QueryEnd(b.query)
		b.gpuEnded = true
	}
}

func (b *TimeBlock) resolveGpu(gt GpuTimer) {
	if !b.gpuEnded {
		return
	}
	if d, ok := gt.QueryDuration(b.query); ok {
		b.gpu = d
	}
}

func (b *TimeBlock) clear() {
	query, hasQuery := b.query, b.hasQuery
	*b = TimeBlock{
		parent:   noParent,
		query:    query,
		hasQuery: hasQuery,
	}
}

// Complete reports whether every requested timer recorded an end.
func (b *TimeBlock) Complete() bool {
	if !b.started {
		return false
	}
	return (!b.profileCPU || b.cpuEnded) && (!b.profileGPU || b.gpuEnded)
}

// Name of the profiled region.
func (b *TimeBlock) Name() string {
	return b.name
}

// Parent returns the index of the enclosing block, -1 for root blocks.
func (b *TimeBlock) Parent() int {
	return b.parent
}

// DurationCPU in milliseconds.
func (b *TimeBlock) DurationCPU() float64 {
	if !b.cpuEnded {
		return 0
	}
	return ms(b.cpuEnd - b.cpuStart)
}

// DurationGPU in milliseconds, available after the frame end.
func (b *TimeBlock) DurationGPU() float64 {
	return ms(b.gpu)
}

// IsProfilingCPU is true if CPU time is measured.
func (b *TimeBlock) IsProfilingCPU() bool {
	return b.profileCPU
}

// IsProfilingGPU is true if GPU time is measured.
func (b *TimeBlock) IsProfilingGPU() bool {
	return b.profileGPU
}

func ms(d time.Duration) float64 {
	return float64(d) / float64(time.Millisecond)
}
