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
	"bytes"
	"html/template"
	"net/http"
	"strconv"
	"time"

	"github.com/antflydb/glmocr/lib/recognition"
	"go.uber.org/zap"
)

// FormState is the view model of the result area. Both views always show
// the same string.
type FormState struct {
	Task     recognition.Task
	Text     string
	Markdown string
}

// NewFormState returns the initial state: default task, empty outputs.
func NewFormState() FormState {
	return FormState{Task: recognition.DefaultTask}
}

// ImageChanged clears both output views.
func (s *FormState) ImageChanged() {
	s.Text = ""
	s.Markdown = ""
}

// SelectTask switches the recognition mode. Outputs are kept.
func (s *FormState) SelectTask(name string) {
	s.Task = recognition.Resolve(name)
}

// Completed writes the returned string into both views.
func (s *FormState) Completed(result string) {
	s.Text = result
	s.Markdown = result
}

// taskOption is one radio button of the task selector.
type taskOption struct {
	Label    string
	Selected bool
}

// pageData feeds ui/index.html.
type pageData struct {
	Title     string
	ModelName string
	ModelURL  string
	Version   string

	Tasks    []taskOption
	Examples []Example

	State        FormState
	MarkdownHTML template.HTML
	Error        string
}

func (n *OCRNode) newPageData(state FormState) pageData {
	tasks := recognition.Tasks()
	opts := make([]taskOption, len(tasks))
	for i, t := range tasks {
		opts[i] = taskOption{Label: t.String(), Selected: t == state.Task}
	}
	return pageData{
		Title:     "GLM-OCR",
		ModelName: n.model.Name(),
		ModelURL:  "https://huggingface.co/" + n.model.Name(),
		Version:   Version,
		Tasks:     opts,
		Examples:  n.gallery.List(),
		State:     state,
	}
}

// handlePage handles GET /: an empty form.
func (n *OCRNode) handlePage(w http.ResponseWriter, r *http.Request) {
	n.renderPage(w, http.StatusOK, n.newPageData(NewFormState()))
}

// handlePageSubmit handles POST /: the form submitted without JavaScript.
// A new submission is a new image, so previous output is never carried over.
func (n *OCRNode) handlePageSubmit(w http.ResponseWriter, r *http.Request) {
	defer func() { _ = r.Body.Close() }()
	start := time.Now()

	state := NewFormState()

	sub, err := n.readSubmission(w, r)
	if err != nil {
		status := statusFor(err)
		RecordRequestDuration("page", "", strconv.Itoa(status), time.Since(start).Seconds())
		data := n.newPageData(state)
		data.Error = err.Error()
		n.renderPage(w, status, data)
		return
	}
	state.SelectTask(sub.task)

	text, err := n.recognize(r.Context(), sub.source, sub.task)
	if err != nil {
		status := statusFor(err)
		RecordRequestDuration("page", state.Task.ID(), strconv.Itoa(status), time.Since(start).Seconds())
		n.logger.Error("Recognition request failed",
			zap.String("task", state.Task.String()),
			zap.Error(err))
		if status == http.StatusServiceUnavailable {
			w.Header().Set("Retry-After", strconv.Itoa(int(queueRetryAfter.Seconds())))
		}
		data := n.newPageData(state)
		data.Error = err.Error()
		n.renderPage(w, status, data)
		return
	}

	state.Completed(text)
	data := n.newPageData(state)
	html, err := n.markdown.Render(state.Markdown)
	if err != nil {
		n.logger.Warn("Rendering markdown view failed", zap.Error(err))
	}
	// Rendered by goldmark and sanitised; raw HTML passes only when allow_html is set.
	data.MarkdownHTML = template.HTML(html) //nolint:gosec

	RecordRequestDuration("page", state.Task.ID(), "200", time.Since(start).Seconds())
	n.renderPage(w, http.StatusOK, data)
}

func (n *OCRNode) renderPage(w http.ResponseWriter, status int, data pageData) {
	var buf bytes.Buffer
	if err := n.page.Execute(&buf, data); err != nil {
		n.logger.Error("rendering page", zap.Error(err))
		http.Error(w, err.Error(), http.StatusInternalServerError)
		return
	}
	w.Header().Set("Content-Type", "text/html; charset=utf-8")
	w.WriteHeader(status)
	_, _ = buf.WriteTo(w)
}
