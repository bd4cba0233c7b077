// Copyright (c) 2019 devblok
//
// This software is released under the MIT License.
// https://opensource.org/licenses/MIT

package soft

import (
	"encoding/binary"
	"image"
	"math"

	"github.com/cockroachdb/errors"
	"github.com/devblok/koru-rt/gfx"
	glm "github.com/go-gl/mathgl/mgl32"
	"github.com/x448/float16"
	"golang.org/x/image/draw"
)

// GenerateMips builds a mip chain of the given amount of levels
// out of the base level. Levels below 1x1 stay at 1x1. Integer
// formats cannot be filtered and are rejected.
func GenerateMips(desc gfx.TextureDesc, base []byte, levels int) ([][]byte, error) {
	layout, ok := layoutOf(desc.Format)
	if !ok {
		return nil, errors.Wrapf(gfx.ErrFormatUnsupported, "format %d", desc.Format)
	}

	chain := make([][]byte, 0, levels)
	chain = append(chain, base)
	for level := 1; level < levels; level++ {
		sw, sh := gfx.MipExtent(desc.Width, desc.Height, level-1)
		dw, dh := gfx.MipExtent(desc.Width, desc.Height, level)

		var (
			next []byte
			err  error
		)
		switch layout.kind {
		case kindUnorm8:
			next, err = downsampleUnorm8(chain[level-1], layout, int(sw), int(sh), int(dw), int(dh))
		case kindFloat16, kindFloat32:
			next = downsampleFloat(chain[level-1], layout, int(sw), int(sh), int(dw), int(dh))
		default:
			err = errors.Wrapf(gfx.ErrFormatUnsupported, "mip generation for %s", desc.Format)
		}
		if err != nil {
			return nil, err
		}
		chain = append(chain, next)
	}
	return chain, nil
}

func downsampleUnorm8(src []byte, layout pixelLayout, sw, sh, dw, dh int) ([]byte, error) {
	var srcImg, dstImg draw.Image
	switch layout.channels {
	case 1:
		srcImg = &image.Gray{Pix: src, Stride: sw, Rect: image.Rect(0, 0, sw, sh)}
		dstImg = image.NewGray(image.Rect(0, 0, dw, dh))
	case 4:
		srcImg = &image.NRGBA{Pix: src, Stride: sw * 4, Rect: image.Rect(0, 0, sw, sh)}
		dstImg = image.NewNRGBA(image.Rect(0, 0, dw, dh))
	default:
		return boxFilterBytes(src, layout.channels, sw, sh, dw, dh), nil
	}

	if sw == dw && sh == dh {
		draw.Copy(dstImg, image.Point{}, srcImg, srcImg.Bounds(), draw.Src, nil)
	} else {
		draw.BiLinear.Scale(dstImg, dstImg.Bounds(), srcImg, srcImg.Bounds(), draw.Src, nil)
	}

	switch img := dstImg.(type) {
	case *image.Gray:
		return img.Pix, nil
	case *image.NRGBA:
		return img.Pix, nil
	}
	return nil, errors.Wrap(gfx.ErrTextureCreation, "unexpected image type")
}

// boxFilterBytes averages 2x2 texel blocks per channel.
func boxFilterBytes(src []byte, channels, sw, sh, dw, dh int) []byte {
	dst := make([]byte, dw*dh*channels)
	for y := 0; y < dh; y++ {
		for x := 0; x < dw; x++ {
			for c := 0; c < channels; c++ {
				var sum, n int
				for _, p := range footprint(x, y, sw, sh) {
					sum += int(src[(p.Y*sw+p.X)*channels+c])
					n++
				}
				dst[(y*dw+x)*channels+c] = byte(sum / n)
			}
		}
	}
	return dst
}

// downsampleFloat box filters float texels, half floats are filtered
// at single precision.
func downsampleFloat(src []byte, layout pixelLayout, sw, sh, dw, dh int) []byte {
	dst := make([]byte, dw*dh*layout.size)
	for y := 0; y < dh; y++ {
		for x := 0; x < dw; x++ {
			var sum glm.Vec4
			points := footprint(x, y, sw, sh)
			for _, p := range points {
				sum = sum.Add(readTexel(src, (p.Y*sw+p.X)*layout.size, layout))
			}
			writeTexel(dst, (y*dw+x)*layout.size, layout, sum.Mul(1/float32(len(points))))
		}
	}
	return dst
}

// footprint returns the source texels covered by destination texel x, y.
func footprint(x, y, sw, sh int) []image.Point {
	points := make([]image.Point, 0, 4)
	for dy := 0; dy < 2; dy++ {
		for dx := 0; dx < 2; dx++ {
			sx, sy := x*2+dx, y*2+dy
			if sx >= sw {
				sx = sw - 1
			}
			if sy >= sh {
				sy = sh - 1
			}
			points = append(points, image.Point{X: sx, Y: sy})
		}
	}
	return points
}

func readTexel(src []byte, offset int, layout pixelLayout) glm.Vec4 {
	var v glm.Vec4
	for c := 0; c < layout.channels; c++ {
		if layout.kind == kindFloat16 {
			v[c] = float16.Frombits(binary.LittleEndian.Uint16(src[offset+c*2:])).Float32()
			continue
		}
		v[c] = math.Float32frombits(binary.LittleEndian.Uint32(src[offset+c*4:]))
	}
	return v
}

func writeTexel(dst []byte, offset int, layout pixelLayout, v glm.Vec4) {
	for c := 0; c < layout.channels; c++ {
		if layout.kind == kindFloat16 {
			binary.LittleEndian.PutUint16(dst[offset+c*2:], float16.Fromfloat32(v[c]).Bits())
			continue
		}
		binary.LittleEndian.PutUint32(dst[offset+c*4:], math.Float32bits(v[c]))
	}
}
