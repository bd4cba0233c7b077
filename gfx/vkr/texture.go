// Copyright (c) 2019 devblok
//
// This software is released under the MIT License.
// https://opensource.org/licenses/MIT

package vkr

import (
	"math/bits"

	"github.com/cockroachdb/errors"
	"github.com/devblok/koru-rt/gfx"
	vk "github.com/devblok/vulkan"
	log "github.com/sirupsen/logrus"
)

// Texture is a sampled Vulkan image along with its view and memory.
type Texture struct {
	device *Device

	image  vk.Image
	view   vk.ImageView
	memory Memory

	mipLevels   int
	memoryUsage uint64
}

// MipLevels implements gfx.ShaderResource
func (t *Texture) MipLevels() int {
	return t.mipLevels
}

// MemoryUsage implements gfx.ShaderResource
func (t *Texture) MemoryUsage() uint64 {
	return t.memoryUsage
}

// View returns the image view to bind in descriptor sets.
func (t *Texture) View() vk.ImageView {
	return t.view
}

// Release implements gfx.ShaderResource
func (t *Texture) Release() {
	if t.device == nil || !t.device.Valid() {
		return
	}
	if t.view != nil {
		vk.DestroyImageView(t.device.logicalDevice, t.view, nil)
		t.view = nil
	}
	if t.image != nil {
		vk.DestroyImage(t.device.logicalDevice, t.image, nil)
		t.image = nil
	}
	t.memory.Release()
}

// CreateImmutable implements gfx.TextureBackend
func (d *Device) CreateImmutable(desc gfx.TextureDesc, levels [][]byte) (gfx.ShaderResource, error) {
	if !d.Valid() {
		return nil, gfx.ErrInvalidDevice
	}
	if err := checkLevels(desc, levels); err != nil {
		return nil, err
	}

	format, ok := vkFormat(desc.Format)
	if !ok {
		return nil, errors.Wrapf(gfx.ErrFormatUnsupported, "format %d", desc.Format)
	}

	tex, err := d.createImage(desc, format, vk.ImageUsageTransferDstBit|vk.ImageUsageSampledBit)
	if err != nil {
		return nil, err
	}

	if err := d.upload(tex, desc, levels, vk.ImageLayoutShaderReadOnlyOptimal); err != nil {
		tex.Release()
		return nil, errors.Mark(err, gfx.ErrTextureCreation)
	}

	if err := d.createView(tex, desc, format, vk.ImageAspectColorBit); err != nil {
		tex.Release()
		return nil, err
	}

	for _, level := range levels {
		tex.memoryUsage += uint64(len(level))
	}
	return tex, nil
}

// CreateGenerated implements gfx.TextureBackend. Vulkan rejects chains longer
// than the extent allows, so the level count is clamped to the full chain.
func (d *Device) CreateGenerated(desc gfx.TextureDesc, base []byte) (gfx.ShaderResource, error) {
	if !d.Valid() {
		return nil, gfx.ErrInvalidDevice
	}
	if err := gfx.CheckLevel(desc, 0, base); err != nil {
		return nil, err
	}

	format, ok := vkFormat(desc.Format)
	if !ok {
		return nil, errors.Wrapf(gfx.ErrFormatUnsupported, "format %d", desc.Format)
	}

	var formatProperties vk.FormatProperties
	vk.GetPhysicalDeviceFormatProperties(d.physicalDevice, format, &formatProperties)
	formatProperties.Deref()
	if formatProperties.OptimalTilingFeatures&vk.FormatFeatureFlags(vk.FormatFeatureSampledImageFilterLinearBit) == 0 {
		return nil, errors.Wrapf(gfx.ErrFormatUnsupported, "%s does not support linear blitting", desc.Format)
	}

	if limit := fullChainLength(desc.Width, desc.Height); desc.MipLevels > limit {
		log.WithFields(log.Fields{
			"requested": desc.MipLevels,
			"used":      limit,
		}).Debug("vkr: mip chain clamped to texture extent")
		desc.MipLevels = limit
	}

	tex, err := d.createImage(desc, format, vk.ImageUsageTransferSrcBit|vk.ImageUsageTransferDstBit|vk.ImageUsageSampledBit)
	if err != nil {
		return nil, err
	}

	if err := d.upload(tex, desc, [][]byte{base}, vk.ImageLayoutTransferDstOptimal); err != nil {
		tex.Release()
		return nil, errors.Mark(err, gfx.ErrTextureCreation)
	}

	if err := d.createView(tex, desc, format, vk.ImageAspectColorBit); err != nil {
		tex.Release()
		return nil, err
	}

	if err := d.generateMipmaps(tex, desc); err != nil {
		tex.Release()
		return nil, errors.Mark(err, gfx.ErrViewCreation)
	}

	tex.memoryUsage = uint64(len(base))
	return tex, nil
}

// CreateTarget implements gfx.TextureBackend
func (d *Device) CreateTarget(desc gfx.TextureDesc) (gfx.ShaderResource, error) {
	if !d.Valid() {
		return nil, gfx.ErrInvalidDevice
	}

	format, usage, aspect, err := targetFormat(desc)
	if err != nil {
		return nil, err
	}

	desc.MipLevels = 1
	tex, err := d.createImage(desc, format, usage)
	if err != nil {
		return nil, err
	}

	if err := d.createView(tex, desc, format, aspect); err != nil {
		tex.Release()
		return nil, err
	}
	return tex, nil
}

// checkLevels verifies an immutable chain before it is staged, short
// levels would make the copy read past the staging buffer.
func checkLevels(desc gfx.TextureDesc, levels [][]byte) error {
	if len(levels) == 0 || int(desc.MipLevels) != len(levels) {
		return errors.Wrapf(gfx.ErrTextureCreation, "%d levels supplied for %d mip levels", len(levels), desc.MipLevels)
	}
	for idx, level := range levels {
		if err := gfx.CheckLevel(desc, idx, level); err != nil {
			return err
		}
	}
	return nil
}

// targetFormat picks format, usage and view aspect of a render target.
// Typeless depth storage is created as D32.
func targetFormat(desc gfx.TextureDesc) (vk.Format, vk.ImageUsageFlagBits, vk.ImageAspectFlagBits, error) {
	switch {
	case desc.DepthStencil:
		if desc.Format != gfx.FormatD32Float && desc.Format != gfx.FormatR32FloatTypeless {
			return vk.FormatUndefined, 0, 0, errors.Wrapf(gfx.ErrFormatUnsupported, "depth stencil with %s", desc.Format)
		}
		return vk.FormatD32Sfloat, vk.ImageUsageDepthStencilAttachmentBit | vk.ImageUsageSampledBit, vk.ImageAspectDepthBit, nil
	case desc.RenderTarget:
		format, ok := vkFormat(desc.Format)
		if !ok {
			return vk.FormatUndefined, 0, 0, errors.Wrapf(gfx.ErrFormatUnsupported, "format %d", desc.Format)
		}
		return format, vk.ImageUsageColorAttachmentBit | vk.ImageUsageSampledBit, vk.ImageAspectColorBit, nil
	}
	return vk.FormatUndefined, 0, 0, errors.Wrap(gfx.ErrTextureCreation, "target has neither render target nor depth stencil usage")
}

func fullChainLength(width, height uint32) uint32 {
	max := width
	if height > max {
		max = height
	}
	return uint32(bits.Len32(max))
}

func arrayLayers(desc gfx.TextureDesc) uint32 {
	if desc.ArraySize == 0 {
		return 1
	}
	return desc.ArraySize
}

func (d *Device) createImage(desc gfx.TextureDesc, format vk.Format, usage vk.ImageUsageFlagBits) (*Texture, error) {
	ici := vk.ImageCreateInfo{
		SType:     vk.StructureTypeImageCreateInfo,
		ImageType: vk.ImageType2d,
		Extent: vk.Extent3D{
			Width:  desc.Width,
			Height: desc.Height,
			Depth:  1,
		},
		MipLevels:     desc.MipLevels,
		ArrayLayers:   arrayLayers(desc),
		Format:        format,
		Tiling:        vk.ImageTilingOptimal,
		InitialLayout: vk.ImageLayoutUndefined,
		Usage:         vk.ImageUsageFlags(usage),
		SharingMode:   vk.SharingModeExclusive,
		Samples:       vk.SampleCount1Bit,
	}

	var image vk.Image
	if err := vk.Error(vk.CreateImage(d.logicalDevice, &ici, nil, &image)); err != nil {
		return nil, errors.Mark(errors.Wrap(err, "vk.CreateImage()"), gfx.ErrTextureCreation)
	}

	var memRequirements vk.MemoryRequirements
	vk.GetImageMemoryRequirements(d.logicalDevice, image, &memRequirements)
	memRequirements.Deref()

	memory, err := d.allocator.Malloc(memRequirements, vk.MemoryPropertyDeviceLocalBit)
	if err != nil {
		vk.DestroyImage(d.logicalDevice, image, nil)
		return nil, errors.Mark(err, gfx.ErrTextureCreation)
	}

	if err := vk.Error(vk.BindImageMemory(d.logicalDevice, image, memory.Get(), 0)); err != nil {
		vk.DestroyImage(d.logicalDevice, image, nil)
		memory.Release()
		return nil, errors.Mark(errors.Wrap(err, "vk.BindImageMemory()"), gfx.ErrTextureCreation)
	}

	return &Texture{
		device:    d,
		image:     image,
		memory:    memory,
		mipLevels: int(desc.MipLevels),
	}, nil
}

func (d *Device) createView(tex *Texture, desc gfx.TextureDesc, format vk.Format, aspect vk.ImageAspectFlagBits) error {
	viewType := vk.ImageViewType2d
	if arrayLayers(desc) > 1 {
		viewType = vk.ImageViewType2dArray
	}

	ivci := vk.ImageViewCreateInfo{
		SType:    vk.StructureTypeImageViewCreateInfo,
		Image:    tex.image,
		ViewType: viewType,
		Format:   format,
		SubresourceRange: vk.ImageSubresourceRange{
			AspectMask:     vk.ImageAspectFlags(aspect),
			BaseMipLevel:   0,
			LevelCount:     desc.MipLevels,
			BaseArrayLayer: 0,
			LayerCount:     arrayLayers(desc),
		},
	}

	var view vk.ImageView
	if err := vk.Error(vk.CreateImageView(d.logicalDevice, &ivci, nil, &view)); err != nil {
		return errors.Mark(errors.Wrap(err, "vk.CreateImageView()"), gfx.ErrViewCreation)
	}
	tex.view = view
	return nil
}

// upload copies the levels through a staging buffer into the image,
// leaving the uploaded levels in the final layout.
func (d *Device) upload(tex *Texture, desc gfx.TextureDesc, levels [][]byte, final vk.ImageLayout) error {
	var size int
	for _, level := range levels {
		size += len(level)
	}

	staging, err := NewBuffer(d.logicalDevice, uint64(size), vk.BufferUsageTransferSrcBit, vk.SharingModeExclusive, d.allocator)
	if err != nil {
		return err
	}
	defer staging.Release()

	if err := staging.Write(levels...); err != nil {
		return err
	}

	regions := make([]vk.BufferImageCopy, 0, len(levels))
	var offset int
	for idx, level := range levels {
		w, h := gfx.MipExtent(desc.Width, desc.Height, idx)
		regions = append(regions, vk.BufferImageCopy{
			BufferOffset: vk.DeviceSize(offset),
			ImageSubresource: vk.ImageSubresourceLayers{
				AspectMask:     vk.ImageAspectFlags(vk.ImageAspectColorBit),
				MipLevel:       uint32(idx),
				BaseArrayLayer: 0,
				LayerCount:     1,
			},
			ImageOffset: vk.Offset3D{},
			ImageExtent: vk.Extent3D{
				Width:  w,
				Height: h,
				Depth:  1,
			},
		})
		offset += len(level)
	}

	cmd, err := d.beginSingleTimeCommands()
	if err != nil {
		return err
	}

	imageBarrier(cmd, tex.image, 0, desc.MipLevels,
		vk.ImageLayoutUndefined, vk.ImageLayoutTransferDstOptimal,
		0, vk.AccessTransferWriteBit,
		vk.PipelineStageTopOfPipeBit, vk.PipelineStageTransferBit)

	vk.CmdCopyBufferToImage(cmd, staging.Get(), tex.image, vk.ImageLayoutTransferDstOptimal, uint32(len(regions)), regions)

	if final != vk.ImageLayoutTransferDstOptimal {
		imageBarrier(cmd, tex.image, 0, desc.MipLevels,
			vk.ImageLayoutTransferDstOptimal, final,
			vk.AccessTransferWriteBit, vk.AccessShaderReadBit,
			vk.PipelineStageTransferBit, vk.PipelineStageFragmentShaderBit)
	}

	return d.endSingleTimeCommands(cmd)
}

// generateMipmaps blits every level from the previous one. All levels
// are expected in transfer destination layout and end up shader readable.
func (d *Device) generateMipmaps(tex *Texture, desc gfx.TextureDesc) error {
	cmd, err := d.beginSingleTimeCommands()
	if err != nil {
		return err
	}

	for level := uint32(1); level < desc.MipLevels; level++ {
		imageBarrier(cmd, tex.image, level-1, 1,
			vk.ImageLayoutTransferDstOptimal, vk.ImageLayoutTransferSrcOptimal,
			vk.AccessTransferWriteBit, vk.AccessTransferReadBit,
			vk.PipelineStageTransferBit, vk.PipelineStageTransferBit)

		sw, sh := gfx.MipExtent(desc.Width, desc.Height, int(level-1))
		dw, dh := gfx.MipExtent(desc.Width, desc.Height, int(level))
		blit := vk.ImageBlit{
			SrcSubresource: vk.ImageSubresourceLayers{
				AspectMask: vk.ImageAspectFlags(vk.ImageAspectColorBit),
				MipLevel:   level - 1,
				LayerCount: 1,
			},
			SrcOffsets: [2]vk.Offset3D{{}, {X: int32(sw), Y: int32(sh), Z: 1}},
			DstSubresource: vk.ImageSubresourceLayers{
				AspectMask: vk.ImageAspectFlags(vk.ImageAspectColorBit),
				MipLevel:   level,
				LayerCount: 1,
			},
			DstOffsets: [2]vk.Offset3D{{}, {X: int32(dw), Y: int32(dh), Z: 1}},
		}
		vk.CmdBlitImage(cmd,
			tex.image, vk.ImageLayoutTransferSrcOptimal,
			tex.image, vk.ImageLayoutTransferDstOptimal,
			1, []vk.ImageBlit{blit}, vk.FilterLinear)

		imageBarrier(cmd, tex.image, level-1, 1,
			vk.ImageLayoutTransferSrcOptimal, vk.ImageLayoutShaderReadOnlyOptimal,
			vk.AccessTransferReadBit, vk.AccessShaderReadBit,
			vk.PipelineStageTransferBit, vk.PipelineStageFragmentShaderBit)
	}

	imageBarrier(cmd, tex.image, desc.MipLevels-1, 1,
		vk.ImageLayoutTransferDstOptimal, vk.ImageLayoutShaderReadOnlyOptimal,
		vk.AccessTransferWriteBit, vk.AccessShaderReadBit,
		vk.PipelineStageTransferBit, vk.PipelineStageFragmentShaderBit)

	return d.endSingleTimeCommands(cmd)
}

func imageBarrier(cmd vk.CommandBuffer, image vk.Image, baseLevel, levelCount uint32,
	old, new vk.ImageLayout, srcAccess, dstAccess vk.AccessFlagBits, srcStage, dstStage vk.PipelineStageFlagBits) {
	barrier := vk.ImageMemoryBarrier{
		SType:               vk.StructureTypeImageMemoryBarrier,
		OldLayout:           old,
		NewLayout:           new,
		SrcAccessMask:       vk.AccessFlags(srcAccess),
		DstAccessMask:       vk.AccessFlags(dstAccess),
		SrcQueueFamilyIndex: vk.QueueFamilyIgnored,
		DstQueueFamilyIndex: vk.QueueFamilyIgnored,
		Image:               image,
		SubresourceRange: vk.ImageSubresourceRange{
			AspectMask:     vk.ImageAspectFlags(vk.ImageAspectColorBit),
			BaseMipLevel:   baseLevel,
			LevelCount:     levelCount,
			BaseArrayLayer: 0,
			LayerCount:     1,
		},
	}
	vk.CmdPipelineBarrier(cmd, vk.PipelineStageFlags(srcStage), vk.PipelineStageFlags(dstStage), 0, 0, nil, 0, nil, 1, []vk.ImageMemoryBarrier{barrier})
}
