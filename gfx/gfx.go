// Copyright (c) 2019 devblok
//
// This software is released under the MIT License.
// https://opensource.org/licenses/MIT

// Package gfx defines rendering related features that renderers must implement.
// Textures are described here in a backend agnostic way and realized on the
// GPU by a TextureBackend, one implementation per graphics API.
package gfx

import (
	"github.com/cockroachdb/errors"
)

// package errors
var (
	ErrInvalidDevice     = errors.New("invalid device")
	ErrEmptyData         = errors.New("provided texture data is empty")
	ErrTextureCreation   = errors.New("texture creation failed")
	ErrViewCreation      = errors.New("shader resource view creation failed")
	ErrFormatUnsupported = errors.New("format is not supported by the backend")
)

// Stage returns the creation stage an error belongs to,
// suitable for use as a log field.
func Stage(err error) string {
	switch {
	case err == nil:
		return ""
	case errors.Is(err, ErrInvalidDevice):
		return "device"
	case errors.Is(err, ErrEmptyData):
		return "data"
	case errors.Is(err, ErrFormatUnsupported):
		return "format"
	case errors.Is(err, ErrViewCreation):
		return "view"
	case errors.Is(err, ErrTextureCreation):
		return "texture"
	default:
		return "unknown"
	}
}
