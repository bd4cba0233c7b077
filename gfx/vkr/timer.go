// Copyright (c) 2019 devblok
//
// This software is released under the MIT License.
// https://opensource.org/licenses/MIT

package vkr

import (
	"time"
	"unsafe"

	"github.com/cockroachdb/errors"
	"github.com/devblok/koru-rt/gfx"
	vk "github.com/devblok/vulkan"
)

const megabyte = 1024 * 1024

// timer hands out pairs of timestamp queries. Query handle q owns
// slots 2q and 2q+1 of the pool. Timestamps are recorded into a frame
// command buffer that is submitted when results are first requested.
type timer struct {
	device *Device

	pool     vk.QueryPool
	capacity uint32
	next     uint32
	period   float32

	frame     vk.CommandBuffer
	recording bool
	ended     []bool
}

func newTimer(d *Device, capacity uint32, period float32) (*timer, error) {
	qpci := vk.QueryPoolCreateInfo{
		SType:      vk.StructureTypeQueryPoolCreateInfo,
		QueryType:  vk.QueryTypeTimestamp,
		QueryCount: capacity * 2,
	}

	var pool vk.QueryPool
	if err := vk.Error(vk.CreateQueryPool(d.logicalDevice, &qpci, nil, &pool)); err != nil {
		return nil, errors.Wrap(err, "vk.CreateQueryPool()")
	}

	cbai := vk.CommandBufferAllocateInfo{
		SType:              vk.StructureTypeCommandBufferAllocateInfo,
		Level:              vk.CommandBufferLevelPrimary,
		CommandPool:        d.commandPool,
		CommandBufferCount: 1,
	}

	commandBuffers := make([]vk.CommandBuffer, 1)
	if err := vk.Error(vk.AllocateCommandBuffers(d.logicalDevice, &cbai, commandBuffers)); err != nil {
		vk.DestroyQueryPool(d.logicalDevice, pool, nil)
		return nil, errors.Wrap(err, "vk.AllocateCommandBuffers()")
	}

	return &timer{
		device:   d,
		pool:     pool,
		capacity: capacity,
		period:   period,
		frame:    commandBuffers[0],
		ended:    make([]bool, capacity),
	}, nil
}

func (t *timer) begin() error {
	if t.recording {
		return nil
	}
	if err := vk.Error(vk.ResetCommandBuffer(t.frame, 0)); err != nil {
		return errors.Wrap(err, "vk.ResetCommandBuffer()")
	}
	cbbi := vk.CommandBufferBeginInfo{
		SType: vk.StructureTypeCommandBufferBeginInfo,
		Flags: vk.CommandBufferUsageFlags(vk.CommandBufferUsageOneTimeSubmitBit),
	}
	if err := vk.Error(vk.BeginCommandBuffer(t.frame, &cbbi)); err != nil {
		return errors.Wrap(err, "vk.BeginCommandBuffer()")
	}
	t.recording = true
	return nil
}

func (t *timer) flush() error {
	if !t.recording {
		return nil
	}
	t.recording = false

	if err := vk.Error(vk.EndCommandBuffer(t.frame)); err != nil {
		return errors.Wrap(err, "vk.EndCommandBuffer()")
	}

	si := vk.SubmitInfo{
		SType:              vk.StructureTypeSubmitInfo,
		CommandBufferCount: 1,
		PCommandBuffers:    []vk.CommandBuffer{t.frame},
	}
	if err := vk.Error(vk.QueueSubmit(t.device.deviceQueue, 1, []vk.SubmitInfo{si}, nil)); err != nil {
		return errors.Wrap(err, "vk.QueueSubmit()")
	}
	if err := vk.Error(vk.QueueWaitIdle(t.device.deviceQueue)); err != nil {
		return errors.Wrap(err, "vk.QueueWaitIdle()")
	}
	return nil
}

func (t *timer) destroy() {
	vk.FreeCommandBuffers(t.device.logicalDevice, t.device.commandPool, 1, []vk.CommandBuffer{t.frame})
	vk.DestroyQueryPool(t.device.logicalDevice, t.pool, nil)
}

// CreateQuery reserves a start/end timestamp pair.
func (d *Device) CreateQuery() (uint32, error) {
	if !d.Valid() {
		return 0, gfx.ErrInvalidDevice
	}
	t := d.timer
	if t.next >= t.capacity {
		return 0, errors.Newf("query capacity of %d exhausted", t.capacity)
	}
	q := t.next
	t.next++
	return q, nil
}

// QueryStart records the start timestamp of q.
func (d *Device) QueryStart(q uint32) {
	t := d.timer
	if q >= t.next || t.begin() != nil {
		return
	}
	t.ended[q] = false
	vk.CmdResetQueryPool(t.frame, t.pool, q*2, 2)
	vk.CmdWriteTimestamp(t.frame, vk.PipelineStageTopOfPipeBit, t.pool, q*2)
}

// QueryEnd records the end timestamp of q.
func (d *Device) QueryEnd(q uint32) {
	t := d.timer
	if q >= t.next || !t.recording {
		return
	}
	vk.CmdWriteTimestamp(t.frame, vk.PipelineStageBottomOfPipeBit, t.pool, q*2+1)
	t.ended[q] = true
}

// QueryDuration waits for the recorded timestamps of q and
// returns the time between them.
func (d *Device) QueryDuration(q uint32) (time.Duration, bool) {
	t := d.timer
	if q >= t.next || !t.ended[q] {
		return 0, false
	}
	if err := t.flush(); err != nil {
		return 0, false
	}

	var stamps [2]uint64
	res := vk.GetQueryPoolResults(d.logicalDevice, t.pool, q*2, 2,
		uint(unsafe.Sizeof(stamps)), unsafe.Pointer(&stamps[0]), vk.DeviceSize(unsafe.Sizeof(stamps[0])),
		vk.QueryResultFlags(vk.QueryResult64Bit|vk.QueryResultWaitBit))
	if vk.Error(res) != nil || stamps[1] < stamps[0] {
		return 0, false
	}

	ticks := float64(stamps[1] - stamps[0])
	return time.Duration(ticks * float64(t.period)), true
}

// GpuMemoryUsed returns megabytes allocated through the device allocator.
func (d *Device) GpuMemoryUsed() uint64 {
	return d.allocator.Allocated() / megabyte
}

// GpuMemoryAvailable returns megabytes of device local memory.
func (d *Device) GpuMemoryAvailable() uint64 {
	return d.allocator.DeviceLocal() / megabyte
}
