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
	"bytes"
	"context"
	"errors"
	"image"
	"image/color"
	"image/png"
	"os"
	"sync"
	"sync/atomic"
	"testing"

	"github.com/antflydb/glmocr/lib/model"
	"github.com/antflydb/glmocr/lib/preprocess"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap/zaptest"
)

// mockModel records every call and inspects the temp file while it exists.
type mockModel struct {
	mu        sync.Mutex
	calls     atomic.Int32
	paths     []string
	prompts   []string
	budgets   []int
	pngTypes  []byte
	sizes     []image.Point
	reply     string
	err       error
	readFiles bool
}

func (m *mockModel) Generate(ctx context.Context, messages []model.Message, opts model.GenerateOptions) (*model.GenerateResult, error) {
	m.calls.Add(1)
	m.mu.Lock()
	defer m.mu.Unlock()

	msg := messages[0]
	path := msg.Content[0].URL
	m.paths = append(m.paths, path)
	m.prompts = append(m.prompts, msg.Content[1].Text)
	m.budgets = append(m.budgets, opts.MaxNewTokens)

	if m.readFiles {
		data, err := os.ReadFile(path)
		if err != nil {
			return nil, err
		}
		img, err := png.Decode(bytes.NewReader(data))
		if err != nil {
			return nil, err
		}
		// IHDR colour type: 2 is truecolour without alpha.
		m.pngTypes = append(m.pngTypes, data[25])
		m.sizes = append(m.sizes, img.Bounds().Size())
	}

	if m.err != nil {
		return nil, m.err
	}
	return &model.GenerateResult{Text: m.reply, TokensUsed: 3, FinishReason: "stop"}, nil
}

func (m *mockModel) Name() string { return "mock/ocr" }

func (m *mockModel) Ping(ctx context.Context) error { return nil }

func (m *mockModel) Close() error { return nil }

func newTestRecognizer(t *testing.T, m *mockModel) *Recognizer {
	t.Helper()
	r, err := NewRecognizer(Config{
		Model:   m,
		TempDir: t.TempDir(),
		Logger:  zaptest.NewLogger(t),
	})
	require.NoError(t, err)
	return r
}

func testSource(w, h int) *preprocess.Source {
	img := image.NewRGBA(image.Rect(0, 0, w, h))
	for y := range h {
		for x := range w {
			img.Set(x, y, color.RGBA{R: uint8(x * 10), G: 0x80, B: uint8(y * 10), A: 0xc0})
		}
	}
	return preprocess.FromImage(img)
}

func TestPromptFor(t *testing.T) {
	tests := []struct {
		task string
		want string
	}{
		{"Text", "Text Recognition:"},
		{"Formula", "Formula Recognition:"},
		{"Table", "Table Recognition:"},
		{"formula", "Formula Recognition:"},
		{"table", "Table Recognition:"},
		{"", "Text Recognition:"},
		{"Handwriting", "Text Recognition:"},
		{"FORMULA", "Text Recognition:"},
		{" Table", "Text Recognition:"},
	}

	for _, tt := range tests {
		t.Run(tt.task, func(t *testing.T) {
			assert.Equal(t, tt.want, PromptFor(tt.task))
		})
	}
	assert.Equal(t, "Text Recognition:", DefaultPrompt)
	assert.Equal(t, "Text Recognition:", Task("bogus").Prompt())
}

func TestTasks(t *testing.T) {
	assert.Equal(t, []Task{TaskText, TaskFormula, TaskTable}, Tasks())
	assert.Equal(t, TaskText, DefaultTask)

	task, err := ParseTask("table")
	require.NoError(t, err)
	assert.Equal(t, TaskTable, task)
	assert.Equal(t, "table", task.ID())

	_, err = ParseTask("chart")
	assert.Error(t, err)
	assert.Equal(t, TaskText, Resolve("chart"))
}

func TestRecognize_NoImage(t *testing.T) {
	m := &mockModel{reply: "unused"}
	r := newTestRecognizer(t, m)

	for _, src := range []*preprocess.Source{nil, {}} {
		text, err := r.Recognize(context.Background(), src, "Formula")
		require.NoError(t, err)
		assert.Equal(t, NoImageMessage, text)
	}
	assert.Equal(t, int32(0), m.calls.Load())
}

func TestRecognize_Success(t *testing.T) {
	m := &mockModel{reply: "  \\frac{a}{b}\n\n", readFiles: true}
	r := newTestRecognizer(t, m)

	text, err := r.Recognize(context.Background(), testSource(6, 4), "Formula")
	require.NoError(t, err)
	assert.Equal(t, "\\frac{a}{b}", text)

	require.Equal(t, int32(1), m.calls.Load())
	assert.Equal(t, []string{"Formula Recognition:"}, m.prompts)
	assert.Equal(t, []int{model.DefaultMaxNewTokens}, m.budgets)
	assert.Equal(t, []byte{2}, m.pngTypes)
	assert.Equal(t, []image.Point{{X: 6, Y: 4}}, m.sizes)

	_, statErr := os.Stat(m.paths[0])
	assert.True(t, os.IsNotExist(statErr), "temp image should be removed after success")
}

func TestRecognize_UnknownTaskUsesDefault(t *testing.T) {
	m := &mockModel{reply: "hello"}
	r := newTestRecognizer(t, m)

	_, err := r.Recognize(context.Background(), testSource(2, 2), "Chart")
	require.NoError(t, err)
	assert.Equal(t, []string{"Text Recognition:"}, m.prompts)
}

func TestRecognize_ModelErrorRemovesTempFile(t *testing.T) {
	boom := errors.New("device unavailable")
	m := &mockModel{err: boom}
	r := newTestRecognizer(t, m)

	_, err := r.Recognize(context.Background(), testSource(3, 3), "Table")
	require.ErrorIs(t, err, boom)
	assert.Contains(t, err.Error(), "mock/ocr")

	require.Len(t, m.paths, 1)
	_, statErr := os.Stat(m.paths[0])
	assert.True(t, os.IsNotExist(statErr), "temp image should be removed after failure")
}

func TestRecognize_NoLeftoverFiles(t *testing.T) {
	dir := t.TempDir()
	m := &mockModel{reply: "x"}
	r, err := NewRecognizer(Config{Model: m, TempDir: dir, MaxNewTokens: 16})
	require.NoError(t, err)

	var wg sync.WaitGroup
	for range 8 {
		wg.Add(1)
		go func() {
			defer wg.Done()
			_, _ = r.Recognize(context.Background(), testSource(4, 4), "Text")
		}()
	}
	wg.Wait()

	entries, err := os.ReadDir(dir)
	require.NoError(t, err)
	assert.Empty(t, entries)
	assert.Equal(t, int32(8), m.calls.Load())
	assert.Equal(t, 16, m.budgets[0])
}

func TestNewRecognizer_RequiresModel(t *testing.T) {
	_, err := NewRecognizer(Config{})
	assert.Error(t, err)
}

func TestWriteTempImage(t *testing.T) {
	dir := t.TempDir()
	path, release, err := writeTempImage(dir, image.NewGray(image.Rect(0, 0, 2, 2)))
	require.NoError(t, err)

	_, err = os.Stat(path)
	require.NoError(t, err)

	require.NoError(t, release())
	require.NoError(t, release())
	_, err = os.Stat(path)
	assert.True(t, os.IsNotExist(err))

	_, _, err = writeTempImage(dir+"/missing", image.NewGray(image.Rect(0, 0, 1, 1)))
	assert.Error(t, err)
}
