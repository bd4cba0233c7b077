// Copyright (c) 2019 devblok
//
// This software is released under the MIT License.
// https://opensource.org/licenses/MIT

// Package asset persists textures in kar archives. A texture named n is
// stored as a descriptor entry "n/texture" and one entry per mip level
// "n/mip/00", "n/mip/01" and so on.
package asset

import (
	"bytes"
	"encoding/gob"
	"fmt"
	"image"
	"math/bits"

	"github.com/cockroachdb/errors"
	"github.com/devblok/koru-rt/core"
	"github.com/devblok/koru-rt/gfx"
	"github.com/devblok/koru-rt/gfx/soft"
	"github.com/devblok/koru-rt/utility/kar"
	log "github.com/sirupsen/logrus"
	"golang.org/x/sync/errgroup"
)

// ErrCorrupted is returned when stored texture data does not match its descriptor.
var ErrCorrupted = errors.New("corrupted texture asset")

// TextureHeader describes a stored texture.
type TextureHeader struct {
	Width      uint32
	Height     uint32
	Channels   uint32
	Format     gfx.Format
	HasMipmaps bool
	Levels     int
}

// DescriptorName returns the archive entry of a texture descriptor.
func DescriptorName(name string) string {
	return name + "/texture"
}

// LevelName returns the archive entry of a mip level.
func LevelName(name string, level int) string {
	return fmt.Sprintf("%s/mip/%02d", name, level)
}

// SaveTexture adds the texture's CPU mip chain to the builder.
// Levels are compressed concurrently.
func SaveTexture(b *kar.Builder, name string, tex *gfx.Texture2D) error {
	data := tex.Data()
	if len(data) == 0 {
		return errors.Wrap(gfx.ErrEmptyData, name)
	}

	header := TextureHeader{
		Width:      tex.Width(),
		Height:     tex.Height(),
		Channels:   tex.Channels(),
		Format:     tex.Format(),
		HasMipmaps: tex.HasMipmaps(),
		Levels:     len(data),
	}

	var buf bytes.Buffer
	if err := gob.NewEncoder(&buf).Encode(header); err != nil {
		return errors.Wrapf(err, "encoding %s", name)
	}

	var g errgroup.Group
	g.Go(func() error {
		return b.Add(DescriptorName(name), &buf)
	})
	for idx, level := range data {
		idx, level := idx, level
		g.Go(func() error {
			return b.Add(LevelName(name, idx), bytes.NewReader(level))
		})
	}
	return g.Wait()
}

// ReadHeader reads the descriptor of a stored texture.
func ReadHeader(ar *kar.Archive, name string) (TextureHeader, error) {
	var header TextureHeader
	r, err := ar.Open(DescriptorName(name))
	if err != nil {
		return header, err
	}
	if err := gob.NewDecoder(r).Decode(&header); err != nil {
		return header, errors.Mark(errors.Wrapf(err, "decoding %s", name), ErrCorrupted)
	}
	if header.Levels <= 0 || header.Levels > maxLevels(header.Width, header.Height) || !header.Format.Valid() {
		return header, errors.Wrapf(ErrCorrupted, "%s: %d levels of format %s", name, header.Levels, header.Format)
	}
	return header, nil
}

// maxLevels is the longest chain a texture of the extent can store,
// never less than the amount of levels backends generate.
func maxLevels(width, height uint32) int {
	max := width
	if height > max {
		max = height
	}
	if n := bits.Len32(max); n > gfx.DefaultMipLevels {
		return n
	}
	return gfx.DefaultMipLevels
}

// LoadTexture reads a stored texture into a deferred texture and
// realizes it on its backend.
func LoadTexture(ar *kar.Archive, name string, tex *gfx.Texture2D) error {
	header, err := ReadHeader(ar, name)
	if err != nil {
		return err
	}

	levels := make([][]byte, header.Levels)
	var g errgroup.Group
	for idx := range levels {
		idx := idx
		g.Go(func() error {
			data, err := ar.ReadAll(LevelName(name, idx))
			if err != nil {
				return err
			}
			w, h := gfx.MipExtent(header.Width, header.Height, idx)
			if expected := int(w*h) * header.Format.BytesPerPixel(); len(data) < expected {
				return errors.Wrapf(ErrCorrupted, "%s level %d: %d bytes, %d expected", name, idx, len(data), expected)
			}
			levels[idx] = data
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return err
	}

	if header.HasMipmaps != tex.HasMipmaps() {
		log.WithFields(log.Fields{
			"texture": name,
			"stored":  header.HasMipmaps,
		}).Debug("asset: mipmap flag differs from the stored texture")
	}

	tex.SetName(name)
	tex.SetData(header.Width, header.Height, header.Channels, header.Format, levels)
	return tex.CreateResourceGpu()
}

// ImportImage converts an image into a deferred RGBA8 texture. With
// fullChain the mip chain is built on the CPU, otherwise only the base
// level is stored and generateMips leaves generation to the backend.
func ImportImage(backend gfx.TextureBackend, img image.Image, generateMips, fullChain bool) (*gfx.Texture2D, error) {
	bounds := img.Bounds()
	if bounds.Empty() {
		return nil, errors.Wrap(gfx.ErrEmptyData, "empty image")
	}

	width, height := uint32(bounds.Dx()), uint32(bounds.Dy())
	levels := [][]byte{core.GetPixels(img, 0)}

	if generateMips && fullChain {
		max := width
		if height > max {
			max = height
		}
		desc := gfx.TextureDesc{Width: width, Height: height, Channels: 4, Format: gfx.FormatR8G8B8A8Unorm}
		chain, err := soft.GenerateMips(desc, levels[0], bits.Len32(max))
		if err != nil {
			return nil, err
		}
		levels = chain
	}

	tex := gfx.NewTexture2D(backend, generateMips)
	tex.SetData(width, height, 4, gfx.FormatR8G8B8A8Unorm, levels)
	return tex, nil
}
