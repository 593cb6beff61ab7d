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

package preprocess

import (
	"bytes"
	"image"
	"image/color"
	"image/jpeg"
	"image/png"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestModeOf(t *testing.T) {
	rect := image.Rect(0, 0, 2, 2)
	tests := []struct {
		name     string
		img      image.Image
		expected ColorMode
	}{
		{"nrgba", image.NewNRGBA(rect), ModeRGBA},
		{"rgba", image.NewRGBA(rect), ModeRGBA},
		{"gray", image.NewGray(rect), ModeL},
		{"alpha", image.NewAlpha(rect), ModeLA},
		{"paletted", image.NewPaletted(rect, color.Palette{color.Black, color.White}), ModeP},
		{"ycbcr", image.NewYCbCr(rect, image.YCbCrSubsampleRatio420), ModeRGB},
		{"cmyk", image.NewCMYK(rect), ModeCMYK},
		{"rgb", ToRGB(image.NewNRGBA(rect)), ModeRGB},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.expected, ModeOf(tt.img))
		})
	}
}

func TestNormalize_ConvertsToRGB(t *testing.T) {
	rect := image.Rect(0, 0, 4, 3)

	rgba := image.NewNRGBA(rect)
	rgba.SetNRGBA(1, 1, color.NRGBA{R: 200, G: 10, B: 30, A: 0})

	la := image.NewAlpha(rect)
	la.SetAlpha(2, 2, color.Alpha{A: 128})

	pal := image.NewPaletted(rect, color.Palette{
		color.NRGBA{R: 0, G: 0, B: 0, A: 0},
		color.NRGBA{R: 10, G: 200, B: 90, A: 255},
	})
	pal.SetColorIndex(3, 0, 1)

	for _, img := range []image.Image{rgba, la, pal} {
		mode := ModeOf(img)
		t.Run(string(mode), func(t *testing.T) {
			out := Normalize(FromImage(img))
			require.NotNil(t, out)
			assert.Equal(t, ModeRGB, ModeOf(out))
			assert.Equal(t, rect.Dx(), out.Bounds().Dx())
			assert.Equal(t, rect.Dy(), out.Bounds().Dy())

			_, _, _, a := out.At(0, 0).RGBA()
			assert.Equal(t, uint32(0xffff), a, "alpha must be opaque")
		})
	}
}

func TestToRGB_KeepsColourOfTransparentPixels(t *testing.T) {
	src := image.NewNRGBA(image.Rect(0, 0, 2, 1))
	src.SetNRGBA(0, 0, color.NRGBA{R: 200, G: 10, B: 30, A: 0})
	src.SetNRGBA(1, 0, color.NRGBA{R: 1, G: 2, B: 3, A: 255})

	out := ToRGB(src)
	assert.Equal(t, color.NRGBA{R: 200, G: 10, B: 30, A: 255}, out.NRGBAAt(0, 0))
	assert.Equal(t, color.NRGBA{R: 1, G: 2, B: 3, A: 255}, out.NRGBAAt(1, 0))
}

func TestToRGB_Paletted(t *testing.T) {
	pal := image.NewPaletted(image.Rect(0, 0, 1, 1), color.Palette{
		color.NRGBA{R: 10, G: 200, B: 90, A: 255},
	})
	out := ToRGB(pal)
	assert.Equal(t, color.NRGBA{R: 10, G: 200, B: 90, A: 255}, out.NRGBAAt(0, 0))
}

func TestNormalize_KeepsRGBCompatibleModes(t *testing.T) {
	rect := image.Rect(0, 0, 3, 3)

	gray := image.NewGray(rect)
	assert.Same(t, gray, Normalize(FromImage(gray)))

	ycc := image.NewYCbCr(rect, image.YCbCrSubsampleRatio444)
	assert.Same(t, ycc, Normalize(FromImage(ycc)))
}

func TestNormalize_NilSource(t *testing.T) {
	assert.Nil(t, Normalize(nil))
	assert.Nil(t, FromImage(nil))
}

func TestDecode_PNG(t *testing.T) {
	var buf bytes.Buffer
	require.NoError(t, png.Encode(&buf, image.NewNRGBA(image.Rect(0, 0, 5, 7))))

	src, err := Decode(buf.Bytes())
	require.NoError(t, err)
	assert.Equal(t, "png", src.Format)
	assert.Equal(t, OrientationNormal, src.Orientation)
	assert.Equal(t, 5, src.Image.Bounds().Dx())
}

func TestDecode_Invalid(t *testing.T) {
	_, err := Decode([]byte("definitely not an image"))
	assert.ErrorIs(t, err, ErrUnsupportedImage)

	_, err = Decode(nil)
	assert.ErrorIs(t, err, ErrUnsupportedImage)
}

func TestDecode_EXIFOrientation(t *testing.T) {
	// 16x8, left half red, right half blue.
	img := image.NewRGBA(image.Rect(0, 0, 16, 8))
	for y := 0; y < 8; y++ {
		for x := 0; x < 16; x++ {
			c := color.RGBA{R: 255, A: 255}
			if x >= 8 {
				c = color.RGBA{B: 255, A: 255}
			}
			img.SetRGBA(x, y, c)
		}
	}
	var buf bytes.Buffer
	require.NoError(t, jpeg.Encode(&buf, img, &jpeg.Options{Quality: 100}))

	data := withEXIFOrientation(buf.Bytes(), uint16(OrientationRotate270))

	src, err := Decode(data)
	require.NoError(t, err)
	assert.Equal(t, OrientationRotate270, src.Orientation)

	out := Normalize(src)
	assert.Equal(t, ModeRGB, ModeOf(out))
	assert.Equal(t, 8, out.Bounds().Dx())
	assert.Equal(t, 16, out.Bounds().Dy())

	// Rotating clockwise moves the left (red) half to the top.
	r, _, b, _ := out.At(4, 3).RGBA()
	assert.Greater(t, r, b, "top half should be red")
	r, _, b, _ = out.At(4, 12).RGBA()
	assert.Greater(t, b, r, "bottom half should be blue")
}

func TestReadOrientation_NoEXIF(t *testing.T) {
	assert.Equal(t, OrientationNormal, ReadOrientation([]byte{0x89, 'P', 'N', 'G'}))
}

func TestApplyOrientation(t *testing.T) {
	img := image.NewNRGBA(image.Rect(0, 0, 4, 2))

	tests := []struct {
		o       Orientation
		w, h    int
		changed bool
	}{
		{OrientationNormal, 4, 2, false},
		{OrientationFlipH, 4, 2, true},
		{OrientationRotate180, 4, 2, true},
		{OrientationFlipV, 4, 2, true},
		{OrientationTranspose, 2, 4, true},
		{OrientationRotate270, 2, 4, true},
		{OrientationTransverse, 2, 4, true},
		{OrientationRotate90, 2, 4, true},
		{Orientation(0), 4, 2, false},
	}

	for _, tt := range tests {
		out, changed := ApplyOrientation(img, tt.o)
		assert.Equal(t, tt.changed, changed, "orientation %d", tt.o)
		assert.Equal(t, tt.w, out.Bounds().Dx(), "orientation %d", tt.o)
		assert.Equal(t, tt.h, out.Bounds().Dy(), "orientation %d", tt.o)
	}
}

// withEXIFOrientation inserts a minimal big-endian EXIF APP1 segment holding
// only the Orientation tag right after the JPEG SOI marker.
func withEXIFOrientation(jpegData []byte, o uint16) []byte {
	tiff := []byte{
		'M', 'M', 0x00, 0x2A, // byte order + magic
		0x00, 0x00, 0x00, 0x08, // IFD0 offset
		0x00, 0x01, // one entry
		0x01, 0x12, // Orientation
		0x00, 0x03, // SHORT
		0x00, 0x00, 0x00, 0x01, // count
		byte(o >> 8), byte(o), 0x00, 0x00, // value
		0x00, 0x00, 0x00, 0x00, // no next IFD
	}
	payload := append([]byte("Exif\x00\x00"), tiff...)
	segLen := len(payload) + 2

	out := make([]byte, 0, len(jpegData)+segLen+2)
	out = append(out, jpegData[:2]...)
	out = append(out, 0xFF, 0xE1, byte(segLen>>8), byte(segLen))
	out = append(out, payload...)
	out = append(out, jpegData[2:]...)
	return out
}
