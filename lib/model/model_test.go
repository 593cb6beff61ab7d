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

package model

import (
	"bytes"
	"context"
	"encoding/base64"
	"encoding/json"
	"image"
	"image/color"
	"image/png"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"strings"
	"sync/atomic"
	"testing"

	"github.com/sashabaranov/go-openai"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap/zaptest"
)

func writeTestPNG(t *testing.T) string {
	t.Helper()
	img := image.NewNRGBA(image.Rect(0, 0, 4, 4))
	for i := range img.Pix {
		img.Pix[i] = 0xff
	}
	img.Set(1, 1, color.NRGBA{R: 0x10, A: 0xff})

	var buf bytes.Buffer
	require.NoError(t, png.Encode(&buf, img))

	path := filepath.Join(t.TempDir(), "page.png")
	require.NoError(t, os.WriteFile(path, buf.Bytes(), 0o600))
	return path
}

func TestUserTurn(t *testing.T) {
	msg := UserTurn("/tmp/x.png", "Text Recognition:")

	assert.Equal(t, RoleUser, msg.Role)
	require.Len(t, msg.Content, 2)
	assert.Equal(t, ContentPart{Type: PartImage, URL: "/tmp/x.png"}, msg.Content[0])
	assert.Equal(t, ContentPart{Type: PartText, Text: "Text Recognition:"}, msg.Content[1])
}

func TestFormatChat_InlinesLocalImage(t *testing.T) {
	path := writeTestPNG(t)

	for _, ref := range []string{path, "file://" + path} {
		t.Run(ref, func(t *testing.T) {
			wire, err := FormatChat([]Message{UserTurn(ref, "Table Recognition:")})
			require.NoError(t, err)
			require.Len(t, wire, 1)

			assert.Equal(t, openai.ChatMessageRoleUser, wire[0].Role)
			assert.Empty(t, wire[0].Content)
			require.Len(t, wire[0].MultiContent, 2)

			img := wire[0].MultiContent[0]
			assert.Equal(t, openai.ChatMessagePartTypeImageURL, img.Type)
			require.NotNil(t, img.ImageURL)
			require.True(t, strings.HasPrefix(img.ImageURL.URL, "data:image/png;base64,"))

			raw, err := base64.StdEncoding.DecodeString(strings.TrimPrefix(img.ImageURL.URL, "data:image/png;base64,"))
			require.NoError(t, err)
			onDisk, err := os.ReadFile(path)
			require.NoError(t, err)
			assert.Equal(t, onDisk, raw)

			text := wire[0].MultiContent[1]
			assert.Equal(t, openai.ChatMessagePartTypeText, text.Type)
			assert.Equal(t, "Table Recognition:", text.Text)
		})
	}
}

func TestFormatChat_RemoteReferencesPassThrough(t *testing.T) {
	for _, ref := range []string{
		"https://example.com/page.png",
		"data:image/png;base64,AAAA",
	} {
		wire, err := FormatChat([]Message{UserTurn(ref, "Text Recognition:")})
		require.NoError(t, err)
		assert.Equal(t, ref, wire[0].MultiContent[0].ImageURL.URL)
	}
}

func TestFormatChat_Errors(t *testing.T) {
	notImage := filepath.Join(t.TempDir(), "notes.txt")
	require.NoError(t, os.WriteFile(notImage, []byte("plain text, not pixels"), 0o600))

	tests := []struct {
		name     string
		messages []Message
		errMsg   string
	}{
		{name: "no messages", messages: nil, errMsg: "no messages"},
		{name: "missing file", messages: []Message{UserTurn(filepath.Join(t.TempDir(), "gone.png"), "x")}, errMsg: "reading image"},
		{name: "not an image", messages: []Message{UserTurn(notImage, "x")}, errMsg: "is not an image"},
		{name: "empty url", messages: []Message{UserTurn("", "x")}, errMsg: "without url"},
		{
			name:     "unknown part",
			messages: []Message{{Role: RoleUser, Content: []ContentPart{{Type: "audio"}}}},
			errMsg:   "unknown content type",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := FormatChat(tt.messages)
			require.Error(t, err)
			assert.Contains(t, err.Error(), tt.errMsg)
		})
	}
}

func TestCleanOutput(t *testing.T) {
	tests := []struct {
		name string
		in   string
		want string
	}{
		{name: "plain", in: "  hello world \n", want: "hello world"},
		{name: "eos", in: "E = mc^2<|endoftext|>", want: "E = mc^2"},
		{name: "role markers", in: "<|assistant|>\n| a | b |\n<|user|>", want: "| a | b |"},
		{name: "glm markers", in: "[gMASK]<sop>text<eop>", want: "text"},
		{name: "unlisted pipe token", in: "abc<|custom_marker|>", want: "abc"},
		{name: "keeps markdown", in: "**bold** <b>", want: "**bold** <b>"},
		{name: "empty", in: "<|endoftext|>", want: ""},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, CleanOutput(tt.in, nil))
		})
	}
}

func TestNewSpecialTokens_LongestFirst(t *testing.T) {
	special := NewSpecialTokens([]string{"<a>", "<a><b>", "", "<a>"})
	assert.Equal(t, []string{"<a><b>", "<a>"}, special.Tokens())
	assert.Equal(t, "xy", CleanOutput("x<a><b>y", special))
}

func TestParseTokenizerConfig(t *testing.T) {
	data := []byte(`{
		"added_tokens_decoder": {
			"151329": {"content": "<|endoftext|>", "special": true},
			"151330": {"content": "[MASK]", "special": true},
			"151400": {"content": "hello", "special": false}
		},
		"additional_special_tokens": ["<|begin_of_image|>", {"content": "<|end_of_image|>"}],
		"eos_token": "<|endoftext|>",
		"pad_token": {"content": "<|pad|>", "lstrip": false},
		"unk_token": null
	}`)

	tokens, err := ParseTokenizerConfig(data)
	require.NoError(t, err)

	assert.ElementsMatch(t, []string{
		"<|endoftext|>",
		"[MASK]",
		"<|begin_of_image|>",
		"<|end_of_image|>",
		"<|endoftext|>",
		"<|pad|>",
	}, tokens)
	assert.NotContains(t, tokens, "hello")

	_, err = ParseTokenizerConfig([]byte("{not json"))
	assert.Error(t, err)
}

// fakeBackend is an OpenAI-compatible chat-completions server.
type fakeBackend struct {
	calls   atomic.Int32
	lastReq openai.ChatCompletionRequest
	reply   string
	choices bool
}

func (f *fakeBackend) handler(t *testing.T) http.Handler {
	mux := http.NewServeMux()
	mux.HandleFunc("POST /v1/chat/completions", func(w http.ResponseWriter, r *http.Request) {
		f.calls.Add(1)
		assert.Equal(t, "Bearer test-key", r.Header.Get("Authorization"))
		require.NoError(t, json.NewDecoder(r.Body).Decode(&f.lastReq))

		resp := openai.ChatCompletionResponse{
			ID:    "chatcmpl-1",
			Model: f.lastReq.Model,
			Usage: openai.Usage{PromptTokens: 300, CompletionTokens: 7, TotalTokens: 307},
		}
		if f.choices {
			resp.Choices = []openai.ChatCompletionChoice{{
				Message:      openai.ChatCompletionMessage{Role: openai.ChatMessageRoleAssistant, Content: f.reply},
				FinishReason: openai.FinishReasonStop,
			}}
		}
		w.Header().Set("Content-Type", "application/json")
		_ = json.NewEncoder(w).Encode(resp)
	})
	mux.HandleFunc("GET /v1/models", func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		_ = json.NewEncoder(w).Encode(openai.ModelsList{Models: []openai.Model{{ID: DefaultModelName}}})
	})
	return mux
}

func newTestModel(t *testing.T, backend *fakeBackend, name string) *OpenAIModel {
	t.Helper()
	srv := httptest.NewServer(backend.handler(t))
	t.Cleanup(srv.Close)

	m, err := NewOpenAIModel(OpenAIConfig{
		BaseURL: srv.URL + "/v1/",
		APIKey:  "test-key",
		Model:   name,
		Logger:  zaptest.NewLogger(t),
	})
	require.NoError(t, err)
	return m
}

func TestOpenAIModel_Generate(t *testing.T) {
	backend := &fakeBackend{reply: "  Hello **world**<|endoftext|>\n", choices: true}
	m := newTestModel(t, backend, "")
	path := writeTestPNG(t)

	result, err := m.Generate(context.Background(), []Message{UserTurn(path, "Text Recognition:")}, GenerateOptions{})
	require.NoError(t, err)

	assert.Equal(t, "Hello **world**", result.Text)
	assert.Equal(t, 7, result.TokensUsed)
	assert.Equal(t, "stop", result.FinishReason)

	assert.Equal(t, int32(1), backend.calls.Load())
	assert.Equal(t, DefaultModelName, backend.lastReq.Model)
	assert.Equal(t, DefaultMaxNewTokens, backend.lastReq.MaxTokens)
	require.Len(t, backend.lastReq.Messages, 1)
	require.Len(t, backend.lastReq.Messages[0].MultiContent, 2)
	assert.True(t, strings.HasPrefix(backend.lastReq.Messages[0].MultiContent[0].ImageURL.URL, "data:image/png;base64,"))
	assert.Equal(t, "Text Recognition:", backend.lastReq.Messages[0].MultiContent[1].Text)
}

func TestOpenAIModel_GenerateCustomBudget(t *testing.T) {
	backend := &fakeBackend{reply: "x", choices: true}
	m := newTestModel(t, backend, "custom/ocr")

	_, err := m.Generate(context.Background(), []Message{UserTurn(writeTestPNG(t), "Formula Recognition:")}, GenerateOptions{MaxNewTokens: 64})
	require.NoError(t, err)
	assert.Equal(t, 64, backend.lastReq.MaxTokens)
	assert.Equal(t, "custom/ocr", backend.lastReq.Model)
	assert.Equal(t, "custom/ocr", m.Name())
}

func TestOpenAIModel_EmptyResponse(t *testing.T) {
	backend := &fakeBackend{choices: false}
	m := newTestModel(t, backend, "")

	_, err := m.Generate(context.Background(), []Message{UserTurn(writeTestPNG(t), "Text Recognition:")}, GenerateOptions{})
	assert.ErrorIs(t, err, ErrEmptyResponse)
}

func TestOpenAIModel_FormatErrorSkipsRequest(t *testing.T) {
	backend := &fakeBackend{choices: true}
	m := newTestModel(t, backend, "")

	_, err := m.Generate(context.Background(), []Message{UserTurn(filepath.Join(t.TempDir(), "gone.png"), "x")}, GenerateOptions{})
	require.Error(t, err)
	assert.Equal(t, int32(0), backend.calls.Load())
}

func TestOpenAIModel_Ping(t *testing.T) {
	backend := &fakeBackend{}

	require.NoError(t, newTestModel(t, backend, "").Ping(context.Background()))

	err := newTestModel(t, backend, "other/model").Ping(context.Background())
	require.Error(t, err)
	assert.Contains(t, err.Error(), "not served")
}

func TestNewOpenAIModel_RequiresURL(t *testing.T) {
	_, err := NewOpenAIModel(OpenAIConfig{})
	assert.Error(t, err)
}
