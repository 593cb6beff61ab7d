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
	"encoding/base64"
	"fmt"
	"net/http"
	"net/url"
	"os"
	"strings"

	"github.com/sashabaranov/go-openai"
)

// FormatChat converts a conversation into the wire format of an
// OpenAI-compatible chat-completions service. Local image references are
// read and inlined as base64 data URIs, since the service cannot see the
// caller's filesystem.
func FormatChat(messages []Message) ([]openai.ChatCompletionMessage, error) {
	if len(messages) == 0 {
		return nil, fmt.Errorf("no messages provided")
	}

	out := make([]openai.ChatCompletionMessage, 0, len(messages))
	for i, msg := range messages {
		parts := make([]openai.ChatMessagePart, 0, len(msg.Content))
		for j, part := range msg.Content {
			switch part.Type {
			case PartText:
				parts = append(parts, openai.ChatMessagePart{
					Type: openai.ChatMessagePartTypeText,
					Text: part.Text,
				})
			case PartImage:
				uri, err := imageDataURI(part.URL)
				if err != nil {
					return nil, fmt.Errorf("message %d part %d: %w", i, j, err)
				}
				parts = append(parts, openai.ChatMessagePart{
					Type: openai.ChatMessagePartTypeImageURL,
					ImageURL: &openai.ChatMessageImageURL{
						URL:    uri,
						Detail: openai.ImageURLDetailHigh,
					},
				})
			default:
				return nil, fmt.Errorf("message %d part %d: unknown content type %q", i, j, part.Type)
			}
		}
		out = append(out, openai.ChatCompletionMessage{
			Role:         string(msg.Role),
			MultiContent: parts,
		})
	}
	return out, nil
}

// imageDataURI resolves an image reference into something the remote
// service can fetch. Remote and inline references pass through unchanged.
func imageDataURI(ref string) (string, error) {
	switch {
	case ref == "":
		return "", fmt.Errorf("image part without url")
	case strings.HasPrefix(ref, "data:"),
		strings.HasPrefix(ref, "http://"),
		strings.HasPrefix(ref, "https://"):
		return ref, nil
	}

	path := ref
	if strings.HasPrefix(ref, "file://") {
		u, err := url.Parse(ref)
		if err != nil {
			return "", fmt.Errorf("parsing image url: %w", err)
		}
		path = u.Path
	}

	data, err := os.ReadFile(path)
	if err != nil {
		return "", fmt.Errorf("reading image: %w", err)
	}
	mime := http.DetectContentType(data)
	if !strings.HasPrefix(mime, "image/") {
		return "", fmt.Errorf("file %s is not an image (%s)", path, mime)
	}
	return "data:" + mime + ";base64," + base64.StdEncoding.EncodeToString(data), nil
}
