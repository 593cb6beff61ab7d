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

	"github.com/disintegration/imaging"
	"github.com/rwcarlsen/goexif/exif"
)

// Orientation is the value of the EXIF Orientation tag (0x0112).
type Orientation int

const (
	OrientationNormal     Orientation = 1
	OrientationFlipH      Orientation = 2
	OrientationRotate180  Orientation = 3
	OrientationFlipV      Orientation = 4
	OrientationTranspose  Orientation = 5
	OrientationRotate270  Orientation = 6
	OrientationTransverse Orientation = 7
	OrientationRotate90   Orientation = 8
)

// ReadOrientation extracts the EXIF orientation from raw image bytes.
// Images without EXIF data, or with a value outside 1..8, are reported as
// OrientationNormal.
func ReadOrientation(data []byte) Orientation {
	x, err := exif.Decode(bytes.NewReader(data))
	if err != nil {
		return OrientationNormal
	}
	tag, err := x.Get(exif.Orientation)
	if err != nil {
		return OrientationNormal
	}
	v, err := tag.Int(0)
	if err != nil || v < int(OrientationNormal) || v > int(OrientationRotate90) {
		return OrientationNormal
	}
	return Orientation(v)
}

// ApplyOrientation transposes img so that it is displayed upright.
// The boolean result is false when no transform was needed.
func ApplyOrientation(img image.Image, o Orientation) (image.Image, bool) {
	switch o {
	case OrientationFlipH:
		return imaging.FlipH(img), true
	case OrientationRotate180:
		return imaging.Rotate180(img), true
	case OrientationFlipV:
		return imaging.FlipV(img), true
	case OrientationTranspose:
		return imaging.Transpose(img), true
	case OrientationRotate270:
		// Tag 6: the camera was rotated clockwise, undo with a 270° turn.
		return imaging.Rotate270(img), true
	case OrientationTransverse:
		return imaging.Transverse(img), true
	case OrientationRotate90:
		return imaging.Rotate90(img), true
	default:
		return img, false
	}
}
