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

package recognition

import (
	"errors"
	"fmt"
	"image"
	"image/png"
	"io/fs"
	"os"
)

// tempImagePattern names the per-request handoff files.
const tempImagePattern = "glmocr-*.png"

// writeTempImage encodes img as PNG into a new file under dir (os.TempDir
// when empty). The returned release func removes the file and is safe to
// call more than once; callers defer it right after a successful return.
func writeTempImage(dir string, img image.Image) (path string, release func() error, err error) {
	f, err := os.CreateTemp(dir, tempImagePattern)
	if err != nil {
		return "", nil, fmt.Errorf("creating temp image: %w", err)
	}
	path = f.Name()
	release = func() error {
		if err := os.Remove(path); err != nil && !errors.Is(err, fs.ErrNotExist) {
			return err
		}
		return nil
	}

	if err := png.Encode(f, img); err != nil {
		_ = f.Close()
		_ = release()
		return "", nil, fmt.Errorf("encoding temp image: %w", err)
	}
	if err := f.Close(); err != nil {
		_ = release()
		return "", nil, fmt.Errorf("closing temp image: %w", err)
	}
	return path, release, nil
}
