// Copyright 2025 Antfly, Inc.
//
// Licensed under the Apache License, Version 2.0 (the "License");
// you may not use this file except in compliance with the License.
// You may obtain a copy of the License at
//
//     http://www.apache.org/licenses/LICENSE-2.0
//
// Unless required by applicable law or agreed to in writing, software
// distributed under the License is distributed on an "AS IS" BASIS,
// WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
// See the License for the specific language governing permissions and
// limitations under the License.

// Package preprocess decodes uploaded images and normalizes them before they
// are handed to the recognition model: colour modes that the model cannot
// consume are converted to RGB and EXIF orientation is applied so the pixel
// data matches the intended display orientation.
package preprocess

import (
	"bytes"
	"errors"
	"fmt"
	"image"
	"image/color"
	"image/draw"
	_ "image/gif"
	_ "image/jpeg"
	_ "image/png"

	_ "golang.org/x/image/bmp"
	_ "golang.org/x/image/tiff"
	_ "golang.org/x/image/webp"
)

// ErrUnsupportedImage is returned when the uploaded bytes are not a decodable image.
var ErrUnsupportedImage = errors.New("unsupported or corrupt image")

// ColorMode names the pixel layout of an image, using the conventional
// single-token names (RGB, RGBA, L, LA, P, CMYK).
type ColorMode string

const (
	ModeRGB   ColorMode = "RGB"
	ModeRGBA  ColorMode = "RGBA"
	ModeL     ColorMode = "L"
	ModeLA    ColorMode = "LA"
	ModeP     ColorMode = "P"
	ModeCMYK  ColorMode = "CMYK"
	ModeI16   ColorMode = "I;16"
	ModeRGB48 ColorMode = "RGBA;16"
)

// Source is an uploaded image as decoded from the wire.
type Source struct {
	// Image is the decoded bitmap, before any normalization.
	Image image.Image

	// Format is the name reported by the image decoder ("png", "jpeg", "webp", ...).
	Format string

	// Orientation is the EXIF orientation tag (1 when absent or unreadable).
	Orientation Orientation
}

// Decode reads an uploaded image and its EXIF orientation.
func Decode(data []byte) (*Source, error) {
	if len(data) == 0 {
		return nil, fmt.Errorf("%w: empty upload", ErrUnsupportedImage)
	}

	img, format, err := image.Decode(bytes.NewReader(data))
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrUnsupportedImage, err)
	}

	return &Source{
		Image:       img,
		Format:      format,
		Orientation: ReadOrientation(data),
	}, nil
}

// FromImage wraps an already-decoded bitmap with no orientation metadata.
func FromImage(img image.Image) *Source {
	if img == nil {
		return nil
	}
	return &Source{Image: img, Format: "raw", Orientation: OrientationNormal}
}

// RGB is an opaque 8-bit RGB image. The alpha byte of every pixel is 0xff.
type RGB struct {
	*image.NRGBA
}

// ModeOf reports the colour mode of img.
//
// Gray+alpha has no dedicated Go type; decoders produce NRGBA for it, so
// LA is only reported for the Alpha types.
func ModeOf(img image.Image) ColorMode {
	switch m := img.(type) {
	case *RGB, RGB:
		return ModeRGB
	case *image.YCbCr:
		// JPEG baseline decodes to YCbCr, which is RGB without alpha.
		return ModeRGB
	case *image.Gray:
		return ModeL
	case *image.Gray16:
		return ModeI16
	case *image.Alpha, *image.Alpha16:
		return ModeLA
	case *image.Paletted:
		return ModeP
	case *image.CMYK:
		return ModeCMYK
	case *image.RGBA64, *image.NRGBA64:
		return ModeRGB48
	case *image.RGBA, *image.NRGBA, *image.NYCbCrA:
		return ModeRGBA
	default:
		if m.ColorModel() == color.GrayModel {
			return ModeL
		}
		return ModeRGBA
	}
}

// IsRGBCompatible reports whether a mode can be handed to the model as is.
func IsRGBCompatible(mode ColorMode) bool {
	return mode == ModeRGB || mode == ModeL
}

// ToRGB converts img to an opaque RGB image. Alpha is discarded without
// compositing, matching a plain mode conversion: a transparent pixel keeps
// its colour channels.
func ToRGB(img image.Image) *RGB {
	if rgb, ok := img.(*RGB); ok {
		return rgb
	}

	b := img.Bounds()
	dst := image.NewNRGBA(image.Rect(0, 0, b.Dx(), b.Dy()))

	switch src := img.(type) {
	case *image.NRGBA:
		for y := 0; y < b.Dy(); y++ {
			off := src.PixOffset(b.Min.X, b.Min.Y+y)
			copy(dst.Pix[y*dst.Stride:y*dst.Stride+b.Dx()*4], src.Pix[off:off+b.Dx()*4])
		}
	case *image.Paletted:
		for y := b.Min.Y; y < b.Max.Y; y++ {
			for x := b.Min.X; x < b.Max.X; x++ {
				c := color.NRGBAModel.Convert(src.Palette[src.ColorIndexAt(x, y)]).(color.NRGBA)
				dst.SetNRGBA(x-b.Min.X, y-b.Min.Y, c)
			}
		}
	default:
		// NRGBA conversion un-premultiplies, so colour channels survive
		// even where alpha is low.
		draw.Draw(dst, dst.Bounds(), img, b.Min, draw.Src)
	}

	for i := 3; i < len(dst.Pix); i += 4 {
		dst.Pix[i] = 0xff
	}
	return &RGB{NRGBA: dst}
}

// Normalize returns the bitmap that is handed to the model: the EXIF
// orientation is applied and any colour mode that is not RGB-compatible is
// converted to RGB.
func Normalize(src *Source) image.Image {
	if src == nil || src.Image == nil {
		return nil
	}

	img := src.Image
	if !IsRGBCompatible(ModeOf(img)) {
		img = ToRGB(img)
	}

	oriented, changed := ApplyOrientation(img, src.Orientation)
	if changed {
		// Orientation transforms produce NRGBA; the pixels are already
		// opaque, keep the mode RGB.
		return ToRGB(oriented)
	}
	return img
}
