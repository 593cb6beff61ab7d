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
	"errors"
	"fmt"
	"io"
	"net/http"
	"runtime"
	"strconv"
	"time"

	"github.com/antflydb/glmocr/lib/preprocess"
	"github.com/antflydb/glmocr/lib/recognition"
	"github.com/bytedance/sonic/encoder"
	"go.uber.org/zap"
)

// multipartMemory is the part of an upload kept in memory before spilling
// to disk.
const multipartMemory = 8 << 20

// queueRetryAfter is the Retry-After hint sent with 503 responses.
const queueRetryAfter = 5 * time.Second

// ErrUploadTooLarge is returned when a submission exceeds max_upload_bytes.
var ErrUploadTooLarge = errors.New("upload too large")

// RecognizeResponse is the response of POST /api/recognize. Text and
// Markdown always carry the same string; HTML is Markdown rendered.
type RecognizeResponse struct {
	Task     string `json:"task"`
	Text     string `json:"text"`
	Markdown string `json:"markdown"`
	HTML     string `json:"html"`
}

// TaskInfo describes one selectable task.
type TaskInfo struct {
	Name   string `json:"name"`
	ID     string `json:"id"`
	Prompt string `json:"prompt"`
}

// VersionResponse is the response of GET /api/version.
type VersionResponse struct {
	Version   string `json:"version"`
	GitCommit string `json:"git_commit"`
	BuildTime string `json:"build_time"`
	GoVersion string `json:"go_version"`
	Model     string `json:"model"`
}

// ErrorResponse is the body of every JSON error.
type ErrorResponse struct {
	Error string `json:"error"`
}

// submission is a parsed form or API upload.
type submission struct {
	source *preprocess.Source
	task   string
}

// readSubmission parses the multipart fields "image" (file), "example"
// (gallery name, wins over "image") and "task". An absent image is not an
// error.
func (n *OCRNode) readSubmission(w http.ResponseWriter, r *http.Request) (*submission, error) {
	r.Body = http.MaxBytesReader(w, r.Body, n.maxUploadBytes)
	if err := r.ParseMultipartForm(multipartMemory); err != nil && !errors.Is(err, http.ErrNotMultipart) {
		var tooLarge *http.MaxBytesError
		if errors.As(err, &tooLarge) {
			return nil, fmt.Errorf("%w: limit is %d bytes", ErrUploadTooLarge, tooLarge.Limit)
		}
		return nil, fmt.Errorf("parsing form: %w", err)
	}
	if r.MultipartForm != nil {
		defer func() { _ = r.MultipartForm.RemoveAll() }()
	}

	sub := &submission{task: r.FormValue("task")}

	var data []byte
	if name := r.FormValue("example"); name != "" {
		var err error
		data, err = n.gallery.Read(name)
		if err != nil {
			return nil, fmt.Errorf("%w: %v", preprocess.ErrUnsupportedImage, err)
		}
	} else if file, _, err := r.FormFile("image"); err == nil {
		data, err = io.ReadAll(file)
		_ = file.Close()
		if err != nil {
			return nil, fmt.Errorf("reading upload: %w", err)
		}
	} else if !errors.Is(err, http.ErrMissingFile) && !errors.Is(err, http.ErrNotMultipart) {
		return nil, fmt.Errorf("reading upload: %w", err)
	}

	if len(data) == 0 {
		return sub, nil
	}
	src, err := preprocess.Decode(data)
	if err != nil {
		return nil, err
	}
	sub.source = src
	return sub, nil
}

// statusFor maps a pipeline error to an HTTP status.
func statusFor(err error) int {
	switch {
	case errors.Is(err, ErrUploadTooLarge):
		return http.StatusRequestEntityTooLarge
	case errors.Is(err, preprocess.ErrUnsupportedImage):
		return http.StatusBadRequest
	case errors.Is(err, ErrQueueFull):
		return http.StatusServiceUnavailable
	case errors.Is(err, ErrRequestTimeout):
		return http.StatusGatewayTimeout
	case errors.Is(err, context.Canceled):
		return http.StatusRequestTimeout
	default:
		return http.StatusBadGateway
	}
}

// handleApiRecognize handles POST /api/recognize
func (n *OCRNode) handleApiRecognize(w http.ResponseWriter, r *http.Request) {
	defer func() { _ = r.Body.Close() }()
	start := time.Now()

	sub, err := n.readSubmission(w, r)
	if err != nil {
		status := statusFor(err)
		RecordRequestDuration("recognize", "", strconv.Itoa(status), time.Since(start).Seconds())
		writeJSONError(w, status, err.Error())
		return
	}
	task := recognition.Resolve(sub.task)

	text, err := n.recognize(r.Context(), sub.source, sub.task)
	if err != nil {
		status := statusFor(err)
		RecordRequestDuration("recognize", task.ID(), strconv.Itoa(status), time.Since(start).Seconds())
		switch status {
		case http.StatusServiceUnavailable:
			WriteQueueFullResponse(w, queueRetryAfter)
		case http.StatusGatewayTimeout:
			WriteTimeoutResponse(w)
		default:
			n.logger.Error("Recognition request failed",
				zap.String("task", task.String()),
				zap.Error(err))
			writeJSONError(w, status, err.Error())
		}
		return
	}

	html, err := n.markdown.Render(text)
	if err != nil {
		n.logger.Warn("Rendering markdown view failed", zap.Error(err))
	}

	RecordRequestDuration("recognize", task.ID(), "200", time.Since(start).Seconds())
	writeJSON(w, n.logger, http.StatusOK, RecognizeResponse{
		Task:     task.String(),
		Text:     text,
		Markdown: text,
		HTML:     html,
	})
}

// handleApiTasks handles GET /api/tasks
func (n *OCRNode) handleApiTasks(w http.ResponseWriter, r *http.Request) {
	tasks := recognition.Tasks()
	resp := make([]TaskInfo, len(tasks))
	for i, t := range tasks {
		resp[i] = TaskInfo{Name: t.String(), ID: t.ID(), Prompt: t.Prompt()}
	}
	writeJSON(w, n.logger, http.StatusOK, resp)
}

// handleApiExamples handles GET /api/examples
func (n *OCRNode) handleApiExamples(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, n.logger, http.StatusOK, n.gallery.List())
}

// handleApiVersion handles GET /api/version
func (n *OCRNode) handleApiVersion(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, n.logger, http.StatusOK, VersionResponse{
		Version:   Version,
		GitCommit: GitCommit,
		BuildTime: BuildTime,
		GoVersion: runtime.Version(),
		Model:     n.model.Name(),
	})
}

func writeJSON(w http.ResponseWriter, logger *zap.Logger, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := encoder.NewStreamEncoder(w).Encode(v); err != nil {
		logger.Error("encoding response", zap.Error(err))
	}
}

func writeJSONError(w http.ResponseWriter, status int, msg string) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = encoder.NewStreamEncoder(w).Encode(ErrorResponse{Error: msg})
}
