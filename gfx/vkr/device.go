// Copyright (c) 2019 devblok
//
// This software is released under the MIT License.
// https://opensource.org/licenses/MIT

// Package vkr implements the vulkan texture backend and GPU timer.
package vkr

import (
	"fmt"
	"unsafe"

	"github.com/cockroachdb/errors"
	vk "github.com/devblok/vulkan"
	log "github.com/sirupsen/logrus"
)

// Name is the configuration name of the backend.
const Name = "vulkan"

// DefaultApplicationInfo describes the engine to the Vulkan instance.
var DefaultApplicationInfo = &vk.ApplicationInfo{
	SType:              vk.StructureTypeApplicationInfo,
	ApiVersion:         vk.MakeVersion(1, 0, 0),
	ApplicationVersion: vk.MakeVersion(1, 0, 0),
	PApplicationName:   safeString("Koru3D"),
	PEngineName:        safeString("Koru3D"),
}

// Configuration describes the Vulkan device.
type Configuration struct {
	DebugMode bool

	// Extensions are instance extensions, usually requested by the window system.
	Extensions []string
	Layers     []string

	// DeviceIndex selects the physical device to use.
	DeviceIndex int

	// QueryCapacity is the amount of timing queries the device can hand out.
	QueryCapacity uint32
}

// PhysicalDeviceInfo describes available physical properties of a rendering device
type PhysicalDeviceInfo struct {
	ID            int
	VendorID      int
	DriverVersion int
	Name          string
	Invalid       bool
	Extensions    []string
	Layers        []string
	Memory        uint
}

// NewDevice creates a Vulkan instance and a logical device on the configured
// physical device. procAddr may be nil, in which case the default loader is used.
func NewDevice(procAddr unsafe.Pointer, cfg Configuration) (*Device, error) {
	if cfg.DebugMode {
		cfg.Layers = append(cfg.Layers, "VK_LAYER_LUNARG_standard_validation")
		cfg.Extensions = append(cfg.Extensions, "VK_EXT_debug_report")
	}
	if cfg.QueryCapacity == 0 {
		cfg.QueryCapacity = 256
	}

	if procAddr == nil {
		if err := vk.SetDefaultGetInstanceProcAddr(); err != nil {
			return nil, errors.Wrap(err, "vk.SetDefaultGetInstanceProcAddr()")
		}
	} else {
		vk.SetGetInstanceProcAddr(procAddr)
	}

	if err := vk.Init(); err != nil {
		return nil, errors.Wrap(err, "vk.Init()")
	}

	instanceInfo := vk.InstanceCreateInfo{
		SType:                   vk.StructureTypeInstanceCreateInfo,
		PApplicationInfo:        DefaultApplicationInfo,
		EnabledExtensionCount:   uint32(len(cfg.Extensions)),
		PpEnabledExtensionNames: safeStrings(cfg.Extensions),
		EnabledLayerCount:       uint32(len(cfg.Layers)),
		PpEnabledLayerNames:     safeStrings(cfg.Layers),
	}

	var instance vk.Instance
	if err := vk.Error(vk.CreateInstance(&instanceInfo, nil, &instance)); err != nil {
		return nil, errors.Wrap(err, "vk.CreateInstance()")
	}
	vk.InitInstance(instance)

	d := &Device{
		configuration: cfg,
		instance:      instance,
	}

	if err := d.initialise(); err != nil {
		d.Destroy()
		return nil, err
	}
	return d, nil
}

// Device is a Vulkan logical device along with everything the texture
// backend and timer need: a graphics queue, a command pool, a frame
// command buffer for timestamps and a memory allocator.
type Device struct {
	configuration Configuration

	instance         vk.Instance
	availableDevices []vk.PhysicalDevice
	physicalDevice   vk.PhysicalDevice
	logicalDevice    vk.Device

	graphicsQueueIndex uint32
	deviceQueue        vk.Queue
	commandPool        vk.CommandPool

	allocator *MemoryAllocator
	timer     *timer

	adapterName string
}

func (d *Device) initialise() error {
	if err := d.enumerateDevices(); err != nil {
		return err
	}
	if d.configuration.DeviceIndex < 0 || d.configuration.DeviceIndex >= len(d.availableDevices) {
		return errors.Newf("no physical device with index %d, %d available", d.configuration.DeviceIndex, len(d.availableDevices))
	}
	d.physicalDevice = d.availableDevices[d.configuration.DeviceIndex]

	var properties vk.PhysicalDeviceProperties
	vk.GetPhysicalDeviceProperties(d.physicalDevice, &properties)
	properties.Deref()
	properties.Limits.Deref()
	d.adapterName = vk.ToString(properties.DeviceName[:])

	if err := d.findGraphicsQueue(); err != nil {
		return err
	}

	queueInfos := []vk.DeviceQueueCreateInfo{{
		SType:            vk.StructureTypeDeviceQueueCreateInfo,
		QueueFamilyIndex: d.graphicsQueueIndex,
		QueueCount:       1,
		PQueuePriorities: []float32{1.0},
	}}

	dci := vk.DeviceCreateInfo{
		SType:                vk.StructureTypeDeviceCreateInfo,
		QueueCreateInfoCount: uint32(len(queueInfos)),
		PQueueCreateInfos:    queueInfos,
	}

	var device vk.Device
	if err := vk.Error(vk.CreateDevice(d.physicalDevice, &dci, nil, &device)); err != nil {
		return errors.Wrap(err, "vk.CreateDevice()")
	}
	d.logicalDevice = device

	var queue vk.Queue
	vk.GetDeviceQueue(d.logicalDevice, d.graphicsQueueIndex, 0, &queue)
	d.deviceQueue = queue

	cpci := vk.CommandPoolCreateInfo{
		SType:            vk.StructureTypeCommandPoolCreateInfo,
		Flags:            vk.CommandPoolCreateFlags(vk.CommandPoolCreateResetCommandBufferBit),
		QueueFamilyIndex: d.graphicsQueueIndex,
	}

	var commandPool vk.CommandPool
	if err := vk.Error(vk.CreateCommandPool(d.logicalDevice, &cpci, nil, &commandPool)); err != nil {
		return errors.Wrap(err, "vk.CreateCommandPool()")
	}
	d.commandPool = commandPool

	allocator, err := NewMemoryAllocator(d.logicalDevice, d.physicalDevice)
	if err != nil {
		return err
	}
	d.allocator = allocator

	t, err := newTimer(d, d.configuration.QueryCapacity, properties.Limits.TimestampPeriod)
	if err != nil {
		return err
	}
	d.timer = t

	log.WithFields(log.Fields{
		"adapter": d.adapterName,
		"queue":   d.graphicsQueueIndex,
	}).Info("vulkan device created")

	return nil
}

func (d *Device) enumerateDevices() error {
	var deviceCount uint32
	if err := vk.Error(vk.EnumeratePhysicalDevices(d.instance, &deviceCount, nil)); err != nil {
		return fmt.Errorf("vulkan physical device enumeration failed: %s", err)
	}
	d.availableDevices = make([]vk.PhysicalDevice, deviceCount)
	if err := vk.Error(vk.EnumeratePhysicalDevices(d.instance, &deviceCount, d.availableDevices)); err != nil {
		return fmt.Errorf("vulkan physical device enumeration failed: %s", err)
	}
	return nil
}

func (d *Device) findGraphicsQueue() error {
	var queueFamilyCount uint32
	vk.GetPhysicalDeviceQueueFamilyProperties(d.physicalDevice, &queueFamilyCount, nil)
	if queueFamilyCount == 0 {
		return errors.New("vk.GetPhysicalDeviceQueueFamilyProperties(): no queuefamilies on GPU")
	}

	queueFamilies := make([]vk.QueueFamilyProperties, queueFamilyCount)
	vk.GetPhysicalDeviceQueueFamilyProperties(d.physicalDevice, &queueFamilyCount, queueFamilies)

	for idx := uint32(0); idx < queueFamilyCount; idx++ {
		queueFamilies[idx].Deref()
		if queueFamilies[idx].QueueFlags&vk.QueueFlags(vk.QueueGraphicsBit) != 0 {
			d.graphicsQueueIndex = idx
			return nil
		}
	}
	return errors.New("vulkan error: could not find a graphics queue family")
}

// PhysicalDevicesInfo returns a struct for each physical device
// along with info about those devices.
func (d *Device) PhysicalDevicesInfo() []PhysicalDeviceInfo {
	pdi := make([]PhysicalDeviceInfo, len(d.availableDevices))
	for i := 0; i < len(d.availableDevices); i++ {
		var numDeviceExtensions uint32
		if err := vk.Error(vk.EnumerateDeviceExtensionProperties(d.availableDevices[i], "", &numDeviceExtensions, nil)); err != nil {
			pdi[i].Invalid = true
		}
		deviceExt := make([]vk.ExtensionProperties, numDeviceExtensions)
		if err := vk.Error(vk.EnumerateDeviceExtensionProperties(d.availableDevices[i], "", &numDeviceExtensions, deviceExt)); err != nil {
			pdi[i].Invalid = true
		}
		for _, ext := range deviceExt {
			ext.Deref()
			pdi[i].Extensions = append(pdi[i].Extensions, vk.ToString(ext.ExtensionName[:]))
		}

		var numDeviceLayers uint32
		if err := vk.Error(vk.EnumerateDeviceLayerProperties(d.availableDevices[i], &numDeviceLayers, nil)); err != nil {
			pdi[i].Invalid = true
		}
		deviceLayers := make([]vk.LayerProperties, numDeviceLayers)
		if err := vk.Error(vk.EnumerateDeviceLayerProperties(d.availableDevices[i], &numDeviceLayers, deviceLayers)); err != nil {
			pdi[i].Invalid = true
		}
		for _, layer := range deviceLayers {
			layer.Deref()
			pdi[i].Layers = append(pdi[i].Layers, vk.ToString(layer.LayerName[:]))
		}

		var memoryProperties vk.PhysicalDeviceMemoryProperties
		vk.GetPhysicalDeviceMemoryProperties(d.availableDevices[i], &memoryProperties)
		memoryProperties.Deref()
		for iMem := uint32(0); iMem < memoryProperties.MemoryHeapCount; iMem++ {
			memoryProperties.MemoryHeaps[iMem].Deref()
			pdi[i].Memory += uint(memoryProperties.MemoryHeaps[iMem].Size)
		}

		var physicalDeviceProperties vk.PhysicalDeviceProperties
		vk.GetPhysicalDeviceProperties(d.availableDevices[i], &physicalDeviceProperties)
		physicalDeviceProperties.Deref()
		pdi[i].ID = int(physicalDeviceProperties.DeviceID)
		pdi[i].VendorID = int(physicalDeviceProperties.VendorID)
		pdi[i].Name = vk.ToString(physicalDeviceProperties.DeviceName[:])
		pdi[i].DriverVersion = int(physicalDeviceProperties.DriverVersion)
	}
	return pdi
}

// Name implements gfx.TextureBackend
func (d *Device) Name() string {
	return Name
}

// Valid implements gfx.TextureBackend
func (d *Device) Valid() bool {
	return d != nil && d.logicalDevice != nil
}

// AdapterName returns the name of the physical device in use.
func (d *Device) AdapterName() string {
	return d.adapterName
}

func (d *Device) beginSingleTimeCommands() (vk.CommandBuffer, error) {
	cbai := vk.CommandBufferAllocateInfo{
		SType:              vk.StructureTypeCommandBufferAllocateInfo,
		Level:              vk.CommandBufferLevelPrimary,
		CommandPool:        d.commandPool,
		CommandBufferCount: 1,
	}

	commandBuffers := make([]vk.CommandBuffer, 1)
	if err := vk.Error(vk.AllocateCommandBuffers(d.logicalDevice, &cbai, commandBuffers)); err != nil {
		return nil, errors.Wrap(err, "vk.AllocateCommandBuffers()")
	}
	commandBuffer := commandBuffers[0]

	cbbi := vk.CommandBufferBeginInfo{
		SType: vk.StructureTypeCommandBufferBeginInfo,
		Flags: vk.CommandBufferUsageFlags(vk.CommandBufferUsageOneTimeSubmitBit),
	}

	if err := vk.Error(vk.BeginCommandBuffer(commandBuffer, &cbbi)); err != nil {
		vk.FreeCommandBuffers(d.logicalDevice, d.commandPool, 1, commandBuffers)
		return nil, errors.Wrap(err, "vk.BeginCommandBuffer()")
	}

	return commandBuffer, nil
}

func (d *Device) endSingleTimeCommands(commandBuffer vk.CommandBuffer) error {
	defer vk.FreeCommandBuffers(d.logicalDevice, d.commandPool, 1, []vk.CommandBuffer{commandBuffer})

	if err := vk.Error(vk.EndCommandBuffer(commandBuffer)); err != nil {
		return errors.Wrap(err, "vk.EndCommandBuffer()")
	}

	si := vk.SubmitInfo{
		SType:              vk.StructureTypeSubmitInfo,
		CommandBufferCount: 1,
		PCommandBuffers:    []vk.CommandBuffer{commandBuffer},
	}

	if err := vk.Error(vk.QueueSubmit(d.deviceQueue, 1, []vk.SubmitInfo{si}, nil)); err != nil {
		return errors.Wrap(err, "vk.QueueSubmit()")
	}

	if err := vk.Error(vk.QueueWaitIdle(d.deviceQueue)); err != nil {
		return errors.Wrap(err, "vk.QueueWaitIdle()")
	}
	return nil
}

// Destroy destroys the device and instance, textures created
// on the device must be released before.
func (d *Device) Destroy() {
	if d == nil {
		return
	}
	if d.logicalDevice != nil {
		vk.DeviceWaitIdle(d.logicalDevice)
		if d.timer != nil {
			d.timer.destroy()
		}
		if d.commandPool != nil {
			vk.DestroyCommandPool(d.logicalDevice, d.commandPool, nil)
		}
		vk.DestroyDevice(d.logicalDevice, nil)
		d.logicalDevice = nil
	}
	d.availableDevices = nil
	vk.DestroyInstance(d.instance, nil)
}

func safeString(s string) string {
	return fmt.Sprintf("%s\x00", s)
}

func safeStrings(sgs []string) []string {
	safe := []string{}
	for _, s := range sgs {
		safe = append(safe, safeString(s))
	}
	return safe
}
