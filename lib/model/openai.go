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
	"context"
	"fmt"
	"net"
	"net/http"
	"strings"
	"time"

	"github.com/sashabaranov/go-openai"
	"go.uber.org/zap"
)

// Ensure OpenAIModel implements the Model interface
var _ Model = (*OpenAIModel)(nil)

// OpenAIConfig holds configuration for an OpenAI-compatible backend such as
// vLLM or SGLang serving the recognition checkpoint.
type OpenAIConfig struct {
	// BaseURL is the API root, e.g. "http://localhost:8000/v1".
	BaseURL string

	// APIKey is sent as a bearer token. Local servers usually accept any value.
	APIKey string

	// Model is the served model identifier (DefaultModelName if empty).
	Model string

	// Timeout bounds a whole generation request (0 = no client-side timeout).
	Timeout time.Duration

	// HTTPClient overrides the default transport.
	HTTPClient *http.Client

	// SpecialTokens are stripped from decoded text (built-in GLM set if nil).
	SpecialTokens *SpecialTokens

	// Logger for logging. If nil, uses a no-op logger.
	Logger *zap.Logger
}

// OpenAIModel talks to an OpenAI-compatible chat-completions endpoint.
type OpenAIModel struct {
	client  *openai.Client
	name    string
	special *SpecialTokens
	logger  *zap.Logger
}

// NewOpenAIModel creates the model handle. No request is made; use Ping to
// check connectivity.
func NewOpenAIModel(cfg OpenAIConfig) (*OpenAIModel, error) {
	if cfg.BaseURL == "" {
		return nil, fmt.Errorf("model base url is required")
	}

	logger := cfg.Logger
	if logger == nil {
		logger = zap.NewNop()
	}

	name := cfg.Model
	if name == "" {
		name = DefaultModelName
	}

	special := cfg.SpecialTokens
	if special == nil {
		special = DefaultSpecialTokens()
	}

	httpClient := cfg.HTTPClient
	if httpClient == nil {
		tr := &http.Transport{
			Proxy: http.ProxyFromEnvironment,
			DialContext: (&net.Dialer{
				Timeout:   10 * time.Second,
				KeepAlive: 30 * time.Second,
			}).DialContext,
			TLSHandshakeTimeout: 10 * time.Second,
			IdleConnTimeout:     90 * time.Second,
			MaxIdleConns:        100,
			MaxIdleConnsPerHost: 10,
		}
		httpClient = &http.Client{
			Timeout:   cfg.Timeout,
			Transport: tr,
		}
	}

	clientCfg := openai.DefaultConfig(cfg.APIKey)
	clientCfg.BaseURL = strings.TrimSuffix(cfg.BaseURL, "/")
	clientCfg.HTTPClient = httpClient

	logger.Info("Created OpenAI-compatible model client",
		zap.String("base_url", clientCfg.BaseURL),
		zap.String("model", name),
		zap.Int("special_tokens", len(special.tokens)))

	return &OpenAIModel{
		client:  openai.NewClientWithConfig(clientCfg),
		name:    name,
		special: special,
		logger:  logger,
	}, nil
}

// Generate sends the conversation as one chat-completion request. The service
// applies the checkpoint's chat template and returns only the completion, so
// the prompt tokens never reach the decoded text.
func (m *OpenAIModel) Generate(ctx context.Context, messages []Message, opts GenerateOptions) (*GenerateResult, error) {
	wire, err := FormatChat(messages)
	if err != nil {
		return nil, fmt.Errorf("formatting chat: %w", err)
	}

	maxTokens := opts.MaxNewTokens
	if maxTokens <= 0 {
		maxTokens = DefaultMaxNewTokens
	}

	start := time.Now()
	resp, err := m.client.CreateChatCompletion(ctx, openai.ChatCompletionRequest{
		Model:     m.name,
		Messages:  wire,
		MaxTokens: maxTokens,
	})
	if err != nil {
		return nil, fmt.Errorf("chat completion: %w", err)
	}
	if len(resp.Choices) == 0 {
		return nil, ErrEmptyResponse
	}

	choice := resp.Choices[0]
	result := &GenerateResult{
		Text:         CleanOutput(choice.Message.Content, m.special),
		TokensUsed:   resp.Usage.CompletionTokens,
		FinishReason: string(choice.FinishReason),
	}

	m.logger.Debug("Generation completed",
		zap.String("model", m.name),
		zap.Int("max_tokens", maxTokens),
		zap.Int("tokens", result.TokensUsed),
		zap.String("finish_reason", result.FinishReason),
		zap.Duration("duration", time.Since(start)))

	return result, nil
}

// Name returns the served model identifier.
func (m *OpenAIModel) Name() string {
	return m.name
}

// Ping lists the served models and checks that ours is among them.
func (m *OpenAIModel) Ping(ctx context.Context) error {
	list, err := m.client.ListModels(ctx)
	if err != nil {
		return fmt.Errorf("listing models: %w", err)
	}
	for _, served := range list.Models {
		if served.ID == m.name {
			return nil
		}
	}
	return fmt.Errorf("model %s is not served by the backend", m.name)
}

// Close is a no-op; the HTTP transport is shared for the process lifetime.
func (m *OpenAIModel) Close() error {
	return nil
}
