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

package cmd

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestConfigFromViper_TempDirFromEnv(t *testing.T) {
	dir := t.TempDir()
	t.Setenv("GLMOCR_TEMP_DIR", dir)
	initConfig()

	assert.Equal(t, dir, configFromViper().TempDir)
}

func TestConfigFromViper_Defaults(t *testing.T) {
	t.Setenv("GLMOCR_TMPDIR", t.TempDir())
	initConfig()

	cfg := configFromViper()
	assert.Empty(t, cfg.TempDir)
	assert.Equal(t, "zai-org/GLM-OCR", cfg.Model.Name)
	assert.Equal(t, 50, cfg.MaxQueueSize)
	assert.Equal(t, []string{"1.jpg", "4.jpg", "5.webp", "2.jpg", "3.jpg"}, cfg.Examples)
	assert.True(t, cfg.AllowHTML)
}
