// Copyright (c) 2019 devblok
//
// This software is released under the MIT License.
// https://opensource.org/licenses/MIT

package gfx

// Format is the engine pixel format. Every backend maps it
// to a native format with a static table, adding a format
// here means extending those tables as well.
type Format int

// Supported engine formats
const (
	FormatR8Unorm Format = iota
	FormatR16Uint
	FormatR16Float
	FormatR32Uint
	FormatR32Float
	FormatD32Float
	FormatR32FloatTypeless
	FormatR8G8Unorm
	FormatR16G16Float
	FormatR32G32Float
	FormatR32G32B32Float
	FormatR8G8B8A8Unorm
	FormatR16G16B16A16Float
	FormatR32G32B32A32Float

	FormatCount
)

var formatInfo = [FormatCount]struct {
	name string
	size int
}{
	FormatR8Unorm:           {"R8_Unorm", 1},
	FormatR16Uint:           {"R16_Uint", 2},
	FormatR16Float:          {"R16_Float", 2},
	FormatR32Uint:           {"R32_Uint", 4},
	FormatR32Float:          {"R32_Float", 4},
	FormatD32Float:          {"D32_Float", 4},
	FormatR32FloatTypeless:  {"R32_Float_Typeless", 4},
	FormatR8G8Unorm:         {"R8G8_Unorm", 2},
	FormatR16G16Float:       {"R16G16_Float", 4},
	FormatR32G32Float:       {"R32G32_Float", 8},
	FormatR32G32B32Float:    {"R32G32B32_Float", 12},
	FormatR8G8B8A8Unorm:     {"R8G8B8A8_Unorm", 4},
	FormatR16G16B16A16Float: {"R16G16B16A16_Float", 8},
	FormatR32G32B32A32Float: {"R32G32B32A32_Float", 16},
}

// Valid reports whether f is a known format.
func (f Format) Valid() bool {
	return f >= 0 && f < FormatCount
}

// BytesPerPixel returns the size of a single pixel, 0 for unknown formats.
func (f Format) BytesPerPixel() int {
	if !f.Valid() {
		return 0
	}
	return formatInfo[f].size
}

func (f Format) String() string {
	if !f.Valid() {
		return "Unknown"
	}
	return formatInfo[f].name
}
