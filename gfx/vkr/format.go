// Copyright (c) 2019 devblok
//
// This software is released under the MIT License.
// https://opensource.org/licenses/MIT

package vkr

import (
	"github.com/devblok/koru-rt/gfx"
	vk "github.com/devblok/vulkan"
)

// vkFormats maps engine formats to Vulkan formats.
var vkFormats = [gfx.FormatCount]vk.Format{
	gfx.FormatR8Unorm:           vk.FormatR8Unorm,
	gfx.FormatR16Uint:           vk.FormatR16Uint,
	gfx.FormatR16Float:          vk.FormatR16Sfloat,
	gfx.FormatR32Uint:           vk.FormatR32Uint,
	gfx.FormatR32Float:          vk.FormatR32Sfloat,
	gfx.FormatD32Float:          vk.FormatD32Sfloat,
	gfx.FormatR32FloatTypeless:  vk.FormatR32Sfloat,
	gfx.FormatR8G8Unorm:         vk.FormatR8g8Unorm,
	gfx.FormatR16G16Float:       vk.FormatR16g16Sfloat,
	gfx.FormatR32G32Float:       vk.FormatR32g32Sfloat,
	gfx.FormatR32G32B32Float:    vk.FormatR32g32b32Sfloat,
	gfx.FormatR8G8B8A8Unorm:     vk.FormatR8g8b8a8Unorm,
	gfx.FormatR16G16B16A16Float: vk.FormatR16g16b16a16Sfloat,
	gfx.FormatR32G32B32A32Float: vk.FormatR32g32b32a32Sfloat,
}

func vkFormat(f gfx.Format) (vk.Format, bool) {
	if !f.Valid() {
		return vk.FormatUndefined, false
	}
	return vkFormats[f], true
}
