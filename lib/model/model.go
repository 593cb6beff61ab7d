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

// Package model is the boundary to the pretrained vision-language model.
//
// The model itself (weights, tokenizer, decoding loop) lives behind an
// external inference service; this package only formats a conversational
// turn, performs one generation call and cleans the decoded text.
package model

import (
	"context"
	"errors"
)

// DefaultMaxNewTokens is the generation token budget for one request.
const DefaultMaxNewTokens = 8192

// DefaultModelName is the hub checkpoint served by the inference backend.
const DefaultModelName = "zai-org/GLM-OCR"

// ErrEmptyResponse is returned when the service answers without any choice.
var ErrEmptyResponse = errors.New("model returned no completion")

// Role is the author of a chat message.
type Role string

// RoleUser authors every recognition request.
const RoleUser Role = "user"

// PartType discriminates the content parts of a message.
type PartType string

const (
	PartImage PartType = "image"
	PartText  PartType = "text"
)

// ContentPart is one element of a multimodal message.
type ContentPart struct {
	Type PartType `json:"type"`
	// URL locates the image for PartImage: a local file path, a file:// URL,
	// an http(s) URL or a data: URI.
	URL  string `json:"url,omitempty"`
	Text string `json:"text,omitempty"`
}

// Message is a single conversational turn.
type Message struct {
	Role    Role          `json:"role"`
	Content []ContentPart `json:"content"`
}

// UserTurn builds the single user message sent for a recognition request:
// the image first, then the instruction.
func UserTurn(imageURL, instruction string) Message {
	return Message{
		Role: RoleUser,
		Content: []ContentPart{
			{Type: PartImage, URL: imageURL},
			{Type: PartText, Text: instruction},
		},
	}
}

// GenerateOptions configures one generation call.
type GenerateOptions struct {
	// MaxNewTokens bounds the number of generated tokens (0 uses DefaultMaxNewTokens).
	MaxNewTokens int
}

// GenerateResult is the decoded completion.
type GenerateResult struct {
	// Text holds only the newly generated tokens, special markers removed.
	Text string
	// TokensUsed is the number of completion tokens reported by the service.
	TokensUsed int
	// FinishReason is "stop" or "length".
	FinishReason string
}

// Model is the process-wide handle to the recognition model. Implementations
// must be safe for concurrent use; callers never mutate them.
type Model interface {
	// Generate runs one generation for the given conversation.
	Generate(ctx context.Context, messages []Message, opts GenerateOptions) (*GenerateResult, error)

	// Name returns the served model identifier.
	Name() string

	// Ping checks that the service is reachable.
	Ping(ctx context.Context) error

	// Close releases resources held by the handle.
	Close() error
}
