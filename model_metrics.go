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
	"context"
	"time"

	"github.com/antflydb/glmocr/lib/model"
)

// meteredModel records call durations and generated token counts.
type meteredModel struct {
	model.Model
}

func (m meteredModel) Generate(ctx context.Context, messages []model.Message, opts model.GenerateOptions) (*model.GenerateResult, error) {
	start := time.Now()
	result, err := m.Model.Generate(ctx, messages, opts)
	if err != nil {
		RecordModelCall(m.Name(), "error", time.Since(start).Seconds())
		return nil, err
	}
	RecordModelCall(m.Name(), result.FinishReason, time.Since(start).Seconds())
	RecordTokenGeneration(m.Name(), result.TokensUsed)
	return result, nil
}
