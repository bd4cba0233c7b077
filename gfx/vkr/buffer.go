// Copyright (c) 2019 devblok
//
// This software is released under the MIT License.
// https://opensource.org/licenses/MIT

package vkr

import (
	"unsafe"

	"github.com/cockroachdb/errors"
	vk "github.com/devblok/vulkan"
)

// NewBuffer creates, configures, allocates and binds a new host visible buffer.
func NewBuffer(dev vk.Device, size uint64, usage vk.BufferUsageFlagBits, mode vk.SharingMode, ma *MemoryAllocator) (*Buffer, error) {
	createInfo := vk.BufferCreateInfo{
		SType:       vk.StructureTypeBufferCreateInfo,
		Size:        vk.DeviceSize(size),
		Usage:       vk.BufferUsageFlags(usage),
		SharingMode: mode,
	}
	var buffer vk.Buffer
	if err := vk.Error(vk.CreateBuffer(dev, &createInfo, nil, &buffer)); err != nil {
		return nil, errors.Wrap(err, "vk.CreateBuffer()")
	}

	var req vk.MemoryRequirements
	vk.GetBufferMemoryRequirements(dev, buffer, &req)
	req.Deref()

	memory, err := ma.Malloc(req, vk.MemoryPropertyHostVisibleBit|vk.MemoryPropertyHostCoherentBit)
	if err != nil {
		vk.DestroyBuffer(dev, buffer, nil)
		return nil, err
	}

	if err := vk.Error(vk.BindBufferMemory(dev, buffer, memory.Get(), 0)); err != nil {
		vk.DestroyBuffer(dev, buffer, nil)
		memory.Release()
		return nil, errors.Wrap(err, "vk.BindBufferMemory()")
	}

	return &Buffer{
		device: dev,
		buffer: buffer,
		size:   size,
		memory: memory,
	}, nil
}

// Buffer implements a generic vulkan buffer.
type Buffer struct {
	device vk.Device
	buffer vk.Buffer
	size   uint64

	memory Memory
}

// Get returns the vulkan Buffer handle.
func (b *Buffer) Get() vk.Buffer {
	return b.buffer
}

// Write copies the chunks back to back from the start of the buffer.
func (b *Buffer) Write(chunks ...[]byte) error {
	var total uint64
	for _, c := range chunks {
		total += uint64(len(c))
	}
	if total > b.size {
		return errors.Newf("%d bytes do not fit a %d byte buffer", total, b.size)
	}

	ptr, err := b.memory.Map()
	if err != nil {
		return err
	}
	defer b.memory.Unmap()

	var offset uintptr
	for _, c := range chunks {
		vk.Memcopy(unsafe.Pointer(uintptr(ptr)+offset), c)
		offset += uintptr(len(c))
	}
	return nil
}

// Release destroys the buffer and memory associated with it.
func (b *Buffer) Release() {
	if b.buffer != nil {
		vk.DestroyBuffer(b.device, b.buffer, nil)
		b.buffer = nil
	}
	b.memory.Release()
}
