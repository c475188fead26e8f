// Copyright (c) 2019 devblok
//
// This software is released under the MIT License.
// https://opensource.org/licenses/MIT

package asset

import (
	"bytes"
	"image"
	_ "image/gif"  // gif textures
	_ "image/jpeg" // jpeg textures
	_ "image/png"  // png textures
	"io"

	"github.com/pkg/errors"
	_ "golang.org/x/image/bmp"  // bmp textures
	"golang.org/x/image/draw"
	_ "golang.org/x/image/tiff" // tiff textures
	_ "golang.org/x/image/webp" // webp textures
)

// Texture is decoded RGBA8 image data, bottom row first.
type Texture struct {
	Width, Height uint32
	Pixels        []byte
}

// DecodeTexture decodes any registered image format into RGBA8 and flips
// it vertically.
func DecodeTexture(r io.Reader) (*Texture, error) {
	img, format, err := image.Decode(r)
	if err != nil {
		return nil, errors.Wrap(err, "decode texture")
	}

	bounds := img.Bounds()
	if bounds.Empty() {
		return nil, errors.Errorf("%s texture is empty", format)
	}

	rgba := image.NewRGBA(image.Rect(0, 0, bounds.Dx(), bounds.Dy()))
	draw.Draw(rgba, rgba.Bounds(), img, bounds.Min, draw.Src)
	flip(rgba)

	return &Texture{
		Width:  uint32(bounds.Dx()),
		Height: uint32(bounds.Dy()),
		Pixels: rgba.Pix,
	}, nil
}

func flip(img *image.RGBA) {
	height := img.Bounds().Dy()
	row := make([]byte, img.Stride)
	for y := 0; y < height/2; y++ {
		top := img.Pix[y*img.Stride : (y+1)*img.Stride]
		bottom := img.Pix[(height-1-y)*img.Stride : (height-y)*img.Stride]
		copy(row, top)
		copy(top, bottom)
		copy(bottom, row)
	}
}

// LoadTexture reads and decodes a texture from the source.
func LoadTexture(src Source, name string) (*Texture, error) {
	data, err := src.ReadFile(name)
	if err != nil {
		return nil, err
	}
	t, err := DecodeTexture(bytes.NewReader(data))
	if err != nil {
		return nil, errors.Wrap(err, name)
	}
	return t, nil
}
