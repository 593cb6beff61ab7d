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
	"fmt"
	"os"

	"github.com/bytedance/sonic"
	"github.com/gomlx/go-huggingface/hub"
)

// tokenizerConfigFile is the HuggingFace file listing added/special tokens.
const tokenizerConfigFile = "tokenizer_config.json"

// tokenizerConfig is the subset of tokenizer_config.json we read.
type tokenizerConfig struct {
	AddedTokensDecoder map[string]struct {
		Content string `json:"content"`
		Special bool   `json:"special"`
	} `json:"added_tokens_decoder"`
	AdditionalSpecialTokens []any `json:"additional_special_tokens"`
	EOSToken                any   `json:"eos_token"`
	PadToken                any   `json:"pad_token"`
	BOSToken                any   `json:"bos_token"`
	UnkToken                any   `json:"unk_token"`
}

// LoadSpecialTokens downloads tokenizer_config.json from a HuggingFace hub
// repository and returns its special tokens merged with the built-in set.
func LoadSpecialTokens(repoID, hfToken string) (*SpecialTokens, error) {
	repo := hub.New(repoID)
	if hfToken != "" {
		repo = repo.WithAuth(hfToken)
	}

	localPath, err := repo.DownloadFile(tokenizerConfigFile)
	if err != nil {
		return nil, fmt.Errorf("downloading %s from %s: %w", tokenizerConfigFile, repoID, err)
	}

	data, err := os.ReadFile(localPath)
	if err != nil {
		return nil, fmt.Errorf("reading %s: %w", localPath, err)
	}

	tokens, err := ParseTokenizerConfig(data)
	if err != nil {
		return nil, err
	}
	return NewSpecialTokens(append(tokens, defaultSpecialTokens...)), nil
}

// ParseTokenizerConfig extracts the special tokens from the contents of a
// tokenizer_config.json file.
func ParseTokenizerConfig(data []byte) ([]string, error) {
	var cfg tokenizerConfig
	if err := sonic.Unmarshal(data, &cfg); err != nil {
		return nil, fmt.Errorf("parsing tokenizer config: %w", err)
	}

	var tokens []string
	for _, added := range cfg.AddedTokensDecoder {
		if added.Special {
			tokens = append(tokens, added.Content)
		}
	}
	for _, v := range cfg.AdditionalSpecialTokens {
		if s := tokenContent(v); s != "" {
			tokens = append(tokens, s)
		}
	}
	for _, v := range []any{cfg.EOSToken, cfg.PadToken, cfg.BOSToken, cfg.UnkToken} {
		if s := tokenContent(v); s != "" {
			tokens = append(tokens, s)
		}
	}
	return tokens, nil
}

// tokenContent accepts both the plain-string and the AddedToken object form.
func tokenContent(v any) string {
	switch t := v.(type) {
	case string:
		return t
	case map[string]any:
		if s, ok := t["content"].(string); ok {
			return s
		}
	}
	return ""
}
