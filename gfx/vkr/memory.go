// Copyright (c) 2019 devblok
//
// This software is released under the MIT License.
// https://opensource.org/licenses/MIT

package vkr

import (
	"sync/atomic"
	"unsafe"

	"github.com/cockroachdb/errors"
	vk "github.com/devblok/vulkan"
)

// Memory defines a usable memory region.
type Memory struct {
	mapped    bool
	len       uint64
	device    vk.Device
	memory    vk.DeviceMemory
	allocator *MemoryAllocator
}

// Len returns the length of assigned memory.
func (m *Memory) Len() uint64 {
	return m.len
}

// Get returns the vulkan memory handle.
func (m *Memory) Get() vk.DeviceMemory {
	return m.memory
}

// Map maps the entire available memory region and
// returns a pointer to the mapped area.
func (m *Memory) Map() (unsafe.Pointer, error) {
	var memMapped unsafe.Pointer
	if err := vk.Error(vk.MapMemory(m.device, m.memory, 0, vk.DeviceSize(m.len), 0, &memMapped)); err != nil {
		return nil, errors.Wrap(err, "vk.MapMemory()")
	}
	m.mapped = true
	return memMapped, nil
}

// Unmap removes the memory mapping if it was mapped.
func (m *Memory) Unmap() {
	if m.mapped {
		vk.UnmapMemory(m.device, m.memory)
		m.mapped = false
	}
}

// Release frees memory after unmapping it if previously mapped.
func (m *Memory) Release() {
	if m.memory == nil {
		return
	}
	m.Unmap()
	vk.FreeMemory(m.device, m.memory, nil)
	m.allocator.free(m.len)
	m.memory = nil
}

// NewMemoryAllocator creates a new memory allocator. Allocates for the logical device,
// reads memory properties of the physical device to influence allocation.
func NewMemoryAllocator(device vk.Device, phyDevice vk.PhysicalDevice) (*MemoryAllocator, error) {
	var memProperties vk.PhysicalDeviceMemoryProperties
	vk.GetPhysicalDeviceMemoryProperties(phyDevice, &memProperties)
	memProperties.Deref()

	var deviceLocal uint64
	for idx := uint32(0); idx < memProperties.MemoryHeapCount; idx++ {
		memProperties.MemoryHeaps[idx].Deref()
		if memProperties.MemoryHeaps[idx].Flags&vk.MemoryHeapFlags(vk.MemoryHeapDeviceLocalBit) != 0 {
			deviceLocal += uint64(memProperties.MemoryHeaps[idx].Size)
		}
	}

	return &MemoryAllocator{
		device:        device,
		memProperties: memProperties,
		deviceLocal:   deviceLocal,
	}, nil
}

// MemoryAllocator is responsible returning usable memory for any
// resources that may need it. Keeps count of allocated bytes.
type MemoryAllocator struct {
	device        vk.Device
	memProperties vk.PhysicalDeviceMemoryProperties

	deviceLocal uint64
	allocated   uint64
}

// Malloc returns a usable memory chunk ready for use.
func (ma *MemoryAllocator) Malloc(req vk.MemoryRequirements, prop vk.MemoryPropertyFlagBits) (Memory, error) {
	memTypeIdx, err := ma.findMemoryType(req.MemoryTypeBits, vk.MemoryPropertyFlags(prop))
	if err != nil {
		return Memory{}, err
	}

	mai := vk.MemoryAllocateInfo{
		SType:           vk.StructureTypeMemoryAllocateInfo,
		AllocationSize:  req.Size,
		MemoryTypeIndex: memTypeIdx,
	}

	var memory vk.DeviceMemory
	if err := vk.Error(vk.AllocateMemory(ma.device, &mai, nil, &memory)); err != nil {
		return Memory{}, errors.Wrap(err, "vk.AllocateMemory()")
	}
	atomic.AddUint64(&ma.allocated, uint64(req.Size))

	return Memory{
		len:       uint64(req.Size),
		device:    ma.device,
		memory:    memory,
		allocator: ma,
	}, nil
}

// Allocated returns the amount of bytes currently allocated.
func (ma *MemoryAllocator) Allocated() uint64 {
	return atomic.LoadUint64(&ma.allocated)
}

// DeviceLocal returns the size of all device local heaps in bytes.
func (ma *MemoryAllocator) DeviceLocal() uint64 {
	return ma.deviceLocal
}

func (ma *MemoryAllocator) free(size uint64) {
	atomic.AddUint64(&ma.allocated, ^(size - 1))
}

func (ma *MemoryAllocator) findMemoryType(filter uint32, prop vk.MemoryPropertyFlags) (uint32, error) {
	for idx := uint32(0); idx < ma.memProperties.MemoryTypeCount; idx++ {
		ma.memProperties.MemoryTypes[idx].Deref()
		if filter&(1<<idx) != 0 && (ma.memProperties.MemoryTypes[idx].PropertyFlags&prop) == prop {
			return idx, nil
		}
	}
	return 0, errors.New("suitable memory type not found")
}
