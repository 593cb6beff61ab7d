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

// Package recognition turns an uploaded image and a task label into the
// text the recognition model reads from it.
package recognition

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/antflydb/glmocr/lib/model"
	"github.com/antflydb/glmocr/lib/preprocess"
	"go.uber.org/zap"
)

// Config configures a Recognizer.
type Config struct {
	// Model is the process-wide model handle. Required.
	Model model.Model

	// MaxNewTokens is the generation budget (0 = model.DefaultMaxNewTokens).
	MaxNewTokens int

	// TempDir holds the per-request image files (empty = os.TempDir()).
	TempDir string

	// Logger for logging. If nil, uses a no-op logger.
	Logger *zap.Logger
}

// Recognizer is the inference handler. It holds no per-request state and is
// safe for concurrent use.
type Recognizer struct {
	model        model.Model
	maxNewTokens int
	tempDir      string
	logger       *zap.Logger
}

// NewRecognizer creates a Recognizer around an already initialised model.
func NewRecognizer(cfg Config) (*Recognizer, error) {
	if cfg.Model == nil {
		return nil, errors.New("recognition model is required")
	}
	logger := cfg.Logger
	if logger == nil {
		logger = zap.NewNop()
	}
	maxNewTokens := cfg.MaxNewTokens
	if maxNewTokens <= 0 {
		maxNewTokens = model.DefaultMaxNewTokens
	}
	return &Recognizer{
		model:        cfg.Model,
		maxNewTokens: maxNewTokens,
		tempDir:      cfg.TempDir,
		logger:       logger,
	}, nil
}

// Recognize reads the text of src for the given task label.
//
// A nil src (or one without pixels) yields NoImageMessage without touching
// the model. Unknown task labels use the default instruction. The image is
// normalised to RGB with its EXIF orientation applied, handed to the model
// through a temporary PNG file, and that file is removed before Recognize
// returns, whatever the outcome.
func (r *Recognizer) Recognize(ctx context.Context, src *preprocess.Source, task string) (string, error) {
	if src == nil || src.Image == nil {
		return NoImageMessage, nil
	}

	img := preprocess.Normalize(src)
	prompt := PromptFor(task)

	path, release, err := writeTempImage(r.tempDir, img)
	if err != nil {
		return "", err
	}
	defer func() {
		if err := release(); err != nil {
			r.logger.Warn("Failed to remove temp image",
				zap.String("path", path),
				zap.Error(err))
		}
	}()

	start := time.Now()
	result, err := r.model.Generate(ctx, []model.Message{model.UserTurn(path, prompt)}, model.GenerateOptions{
		MaxNewTokens: r.maxNewTokens,
	})
	if err != nil {
		r.logger.Error("Recognition failed",
			zap.String("task", task),
			zap.String("prompt", prompt),
			zap.Duration("duration", time.Since(start)),
			zap.Error(err))
		return "", fmt.Errorf("running %s: %w", r.model.Name(), err)
	}

	r.logger.Debug("Recognition completed",
		zap.String("prompt", prompt),
		zap.Int("width", img.Bounds().Dx()),
		zap.Int("height", img.Bounds().Dy()),
		zap.Int("tokens", result.TokensUsed),
		zap.String("finish_reason", result.FinishReason),
		zap.Duration("duration", time.Since(start)))

	return strings.TrimSpace(result.Text), nil
}
