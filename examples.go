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

package glmocr

import (
	"errors"
	"fmt"
	"io/fs"
	"net/http"
	"net/url"
	"os"
	"path/filepath"
	"slices"
	"strings"

	"go.uber.org/zap"
)

// exampleExtensions are the files picked up from the examples directory.
var exampleExtensions = []string{".jpg", ".jpeg", ".png", ".webp", ".gif", ".bmp", ".tif", ".tiff"}

// Example is one image of the bundled gallery.
type Example struct {
	Name string `json:"name"`
	URL  string `json:"url"`
	path string
}

// Gallery is the ordered set of bundled example images.
type Gallery struct {
	examples []Example
	byName   map[string]Example
}

// LoadGallery lists the example images under dir. Names in order come first,
// in that order, when the file exists; remaining images follow
// alphabetically. A missing directory yields an empty gallery.
func LoadGallery(dir string, order []string, logger *zap.Logger) (*Gallery, error) {
	if logger == nil {
		logger = zap.NewNop()
	}
	g := &Gallery{byName: make(map[string]Example)}
	if dir == "" {
		return g, nil
	}

	// Check if directory exists
	if _, err := os.Stat(dir); errors.Is(err, fs.ErrNotExist) {
		logger.Warn("Examples directory does not exist, gallery disabled",
			zap.String("dir", dir))
		return g, nil
	}

	// Scan directory for images
	entries, err := os.ReadDir(dir)
	if err != nil {
		return nil, fmt.Errorf("reading examples directory: %w", err)
	}

	available := make(map[string]bool, len(entries))
	var rest []string
	for _, entry := range entries {
		if entry.IsDir() || !slices.Contains(exampleExtensions, strings.ToLower(filepath.Ext(entry.Name()))) {
			continue
		}
		available[entry.Name()] = true
		rest = append(rest, entry.Name())
	}

	// First add examples in configured order
	seen := make(map[string]bool, len(available))
	for _, name := range order {
		if !available[name] {
			logger.Debug("Configured example not found", zap.String("name", name))
			continue
		}
		if !seen[name] {
			g.add(dir, name)
			seen[name] = true
		}
	}

	// Then add any remaining images alphabetically
	slices.Sort(rest)
	for _, name := range rest {
		if !seen[name] {
			g.add(dir, name)
		}
	}

	logger.Info("Loaded example gallery",
		zap.String("dir", dir),
		zap.Int("count", len(g.examples)))
	return g, nil
}

func (g *Gallery) add(dir, name string) {
	ex := Example{
		Name: name,
		URL:  "/examples/" + url.PathEscape(name),
		path: filepath.Join(dir, name),
	}
	g.examples = append(g.examples, ex)
	g.byName[name] = ex
}

// List returns the examples in gallery order.
func (g *Gallery) List() []Example {
	return slices.Clone(g.examples)
}

// Read returns the bytes of a gallery image.
func (g *Gallery) Read(name string) ([]byte, error) {
	ex, ok := g.byName[name]
	if !ok {
		return nil, fmt.Errorf("unknown example %q", name)
	}
	return os.ReadFile(ex.path)
}

// ServeHTTP serves GET /examples/{name}. Only gallery entries are reachable.
func (g *Gallery) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	ex, ok := g.byName[r.PathValue("name")]
	if !ok {
		http.NotFound(w, r)
		return
	}
	w.Header().Set("Cache-Control", "public, max-age=3600")
	http.ServeFile(w, r, ex.path)
}
