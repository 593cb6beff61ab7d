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
	"regexp"
	"slices"
	"strings"
)

// defaultSpecialTokens are the control tokens of the GLM tokenizer family.
var defaultSpecialTokens = []string{
	"<|endoftext|>",
	"[MASK]",
	"[gMASK]",
	"[sMASK]",
	"<sop>",
	"<eop>",
	"<|system|>",
	"<|user|>",
	"<|assistant|>",
	"<|observation|>",
	"<|begin_of_image|>",
	"<|end_of_image|>",
	"<|begin_of_video|>",
	"<|end_of_video|>",
	"<|image|>",
}

// pipeTokenRe matches any <|name|> marker, including ones missing from the
// configured list.
var pipeTokenRe = regexp.MustCompile(`<\|[A-Za-z0-9_:\-]+\|>`)

// SpecialTokens is the set of markers removed from decoded text.
type SpecialTokens struct {
	tokens []string
}

// DefaultSpecialTokens returns the built-in GLM marker set.
func DefaultSpecialTokens() *SpecialTokens {
	return NewSpecialTokens(defaultSpecialTokens)
}

// NewSpecialTokens builds a marker set. Longer tokens are stripped first so
// that a token containing another one is removed whole.
func NewSpecialTokens(tokens []string) *SpecialTokens {
	uniq := make([]string, 0, len(tokens))
	for _, tok := range tokens {
		if tok != "" && !slices.Contains(uniq, tok) {
			uniq = append(uniq, tok)
		}
	}
	slices.SortFunc(uniq, func(a, b string) int { return len(b) - len(a) })
	return &SpecialTokens{tokens: uniq}
}

// Tokens returns the markers in stripping order.
func (s *SpecialTokens) Tokens() []string {
	return slices.Clone(s.tokens)
}

// CleanOutput removes special markers from decoded text and trims
// surrounding whitespace.
func CleanOutput(text string, special *SpecialTokens) string {
	if special == nil {
		special = DefaultSpecialTokens()
	}
	for _, tok := range special.tokens {
		text = strings.ReplaceAll(text, tok, "")
	}
	text = pipeTokenRe.ReplaceAllString(text, "")
	return strings.TrimSpace(text)
}
