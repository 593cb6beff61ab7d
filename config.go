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
	"fmt"
	"time"

	"github.com/antflydb/glmocr/lib/model"
)

// DefaultExamples is the gallery order of the bundled example images.
var DefaultExamples = []string{"1.jpg", "4.jpg", "5.webp", "2.jpg", "3.jpg"}

const (
	// DefaultAPIURL is the address the demo page is served on.
	DefaultAPIURL = "http://localhost:7860"

	// DefaultModelURL is the OpenAI-compatible endpoint of the model service.
	DefaultModelURL = "http://localhost:8000/v1"

	// DefaultMaxQueueSize is the number of submissions allowed to wait for the model.
	DefaultMaxQueueSize = 50

	// DefaultMaxUploadBytes bounds the multipart body of one submission.
	DefaultMaxUploadBytes = 20 << 20

	// DefaultCacheTTL is how long a recognition result is reused.
	DefaultCacheTTL = 5 * time.Minute

	// DefaultModelTimeout bounds one generation call.
	DefaultModelTimeout = 10 * time.Minute
)

// ModelConfig locates the model service.
type ModelConfig struct {
	URL          string
	Name         string
	APIKey       string
	MaxNewTokens int
	Timeout      string

	// TokenizerRepo is a hub repository whose tokenizer_config.json lists the
	// special tokens to strip. Empty uses the built-in list.
	TokenizerRepo string
	HFToken       string
}

// Config is the server configuration.
type Config struct {
	ApiUrl string

	Model ModelConfig

	MaxConcurrentRequests int
	MaxQueueSize          int
	RequestTimeout        string

	// CacheTTL of "0" disables result caching.
	CacheTTL string

	MaxUploadBytes int64

	ExamplesDir string
	Examples    []string

	TempDir string

	// AllowHTML passes raw HTML in model output (tables) through to the
	// markdown view.
	AllowHTML bool
}

// DefaultConfig returns the configuration the demo runs with out of the box.
func DefaultConfig() Config {
	return Config{
		ApiUrl: DefaultAPIURL,
		Model: ModelConfig{
			URL:          DefaultModelURL,
			Name:         model.DefaultModelName,
			MaxNewTokens: model.DefaultMaxNewTokens,
			Timeout:      DefaultModelTimeout.String(),
		},
		MaxConcurrentRequests: 1,
		MaxQueueSize:          DefaultMaxQueueSize,
		CacheTTL:              DefaultCacheTTL.String(),
		MaxUploadBytes:        DefaultMaxUploadBytes,
		ExamplesDir:           "examples",
		Examples:              DefaultExamples,
		AllowHTML:             true,
	}
}

// parseDuration treats "" and "0" as zero.
func parseDuration(key, value string) (time.Duration, error) {
	if value == "" || value == "0" {
		return 0, nil
	}
	d, err := time.ParseDuration(value)
	if err != nil {
		return 0, fmt.Errorf("invalid %s duration %q: %w", key, value, err)
	}
	return d, nil
}
