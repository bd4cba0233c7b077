// Copyright (c) 2019 devblok
//
// This software is released under the MIT License.
// https://opensource.org/licenses/MIT

package soft

import "github.com/devblok/koru-rt/gfx"

type texelKind int

const (
	kindUnorm8 texelKind = iota
	kindUint16
	kindFloat16
	kindUint32
	kindFloat32
)

type pixelLayout struct {
	kind     texelKind
	channels int
	size     int
}

// pixelLayouts maps engine formats to the layout of texels in memory.
var pixelLayouts = [gfx.FormatCount]pixelLayout{
	gfx.FormatR8Unorm:           {kindUnorm8, 1, 1},
	gfx.FormatR16Uint:           {kindUint16, 1, 2},
	gfx.FormatR16Float:          {kindFloat16, 1, 2},
	gfx.FormatR32Uint:           {kindUint32, 1, 4},
	gfx.FormatR32Float:          {kindFloat32, 1, 4},
	gfx.FormatD32Float:          {kindFloat32, 1, 4},
	gfx.FormatR32FloatTypeless:  {kindFloat32, 1, 4},
	gfx.FormatR8G8Unorm:         {kindUnorm8, 2, 2},
	gfx.FormatR16G16Float:       {kindFloat16, 2, 4},
	gfx.FormatR32G32Float:       {kindFloat32, 2, 8},
	gfx.FormatR32G32B32Float:    {kindFloat32, 3, 12},
	gfx.FormatR8G8B8A8Unorm:     {kindUnorm8, 4, 4},
	gfx.FormatR16G16B16A16Float: {kindFloat16, 4, 8},
	gfx.FormatR32G32B32A32Float: {kindFloat32, 4, 16},
}

func layoutOf(f gfx.Format) (pixelLayout, bool) {
	if !f.Valid() {
		return pixelLayout{}, false
	}
	return pixelLayouts[f], true
}
